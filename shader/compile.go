// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package shader

import (
	"bytes"
	"io/ioutil"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/devblok/vkplayground/core"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Compiler turns the source of a single stage into SPIR-V.
type Compiler interface {
	Compile(stage Stage, name, source string) ([]uint32, error)
}

// GLSLC compiles GLSL with the glslc tool from the Vulkan SDK.
type GLSLC struct {
	// Path of the glslc executable, looked up in PATH when empty.
	Path string
}

// Compile writes the source to a temporary file and runs glslc on it.
func (c GLSLC) Compile(stage Stage, name, source string) ([]uint32, error) {
	tool := c.Path
	if tool == "" {
		tool = "glslc"
	}

	dir, err := ioutil.TempDir("", "shader")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, name+"."+stage.Extension())
	out := in + ".spv"
	if err := ioutil.WriteFile(in, []byte(source), 0644); err != nil {
		return nil, err
	}

	var stderr bytes.Buffer
	cmd := exec.Command(tool, "-fshader-stage="+stage.Extension(), "-o", out, in)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, errors.Wrapf(err, "glslc %s %s: %s", name, stage, stderr.String())
	}

	data, err := ioutil.ReadFile(out)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"shader": name,
		"stage":  stage.String(),
		"bytes":  len(data),
	}).Debug("shader stage compiled")
	return core.SliceUint32(data), nil
}
