// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package shader splits stage-annotated shader sources, loads their
// compiled SPIR-V modules and reflects the resources they bind.
package shader

import (
	"bufio"
	"bytes"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/devblok/vkplayground/core"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrUnknownStage is returned for a stage marker naming no known stage.
	ErrUnknownStage = errors.New("unknown shader stage")

	// ErrInvalidSPIRV is returned for code that is not a SPIR-V module.
	ErrInvalidSPIRV = errors.New("invalid SPIR-V module")
)

// Marker starts a stage block in a shader source file.
const Marker = "#Shader"

// Stage is a programmable pipeline stage.
type Stage int

// Stages in pipeline order.
const (
	Vertex Stage = iota
	Fragment
	Compute
)

// String returns the name used in stage markers.
func (s Stage) String() string {
	switch s {
	case Vertex:
		return "Vertex"
	case Fragment:
		return "Fragment"
	case Compute:
		return "Compute"
	default:
		return "Unknown"
	}
}

// Extension returns the file extension of compiled modules of the stage.
func (s Stage) Extension() string {
	switch s {
	case Vertex:
		return "vert"
	case Fragment:
		return "frag"
	default:
		return "comp"
	}
}

// ParseStage parses a stage name as written after a marker.
func ParseStage(name string) (Stage, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "vertex":
		return Vertex, nil
	case "fragment", "pixel":
		return Fragment, nil
	case "compute":
		return Compute, nil
	}
	return 0, errors.Wrapf(ErrUnknownStage, "%q", name)
}

// Split separates a source file into per stage sources. Every line holding
// a marker starts a new block, lines before the first marker are dropped.
func Split(r io.Reader) (map[Stage]string, error) {
	sources := make(map[Stage]string)
	var (
		current *Stage
		block   strings.Builder
	)

	flush := func() {
		if current != nil {
			sources[*current] += block.String()
		}
		block.Reset()
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if idx := strings.Index(line, Marker); idx >= 0 {
			stage, err := ParseStage(line[idx+len(Marker):])
			if err != nil {
				return nil, err
			}
			if _, ok := sources[stage]; ok {
				return nil, errors.Errorf("stage %s defined twice", stage)
			}
			flush()
			current = &stage
			sources[stage] = ""
			continue
		}
		block.WriteString(line)
		block.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	flush()
	return sources, nil
}

// Module is the compiled code of a single stage.
type Module struct {
	Stage Stage
	Code  []uint32
}

// Program is a shader loaded from a source file along with its compiled
// modules and the resources they bind.
type Program struct {
	Name           string
	Path           string
	Sources        map[Stage]string
	Modules        []Module
	UniformBuffers []UniformBufferDescription
	Resources      []ResourceDescription
}

// ModulePath returns where the compiled module of a stage is
// expected for the source file at p.
func ModulePath(p string, stage Stage) string {
	base := strings.TrimSuffix(p, path.Ext(p))
	return base + "." + stage.Extension() + ".spv"
}

// FileReader reads named files, such as an asset source.
type FileReader interface {
	ReadFile(name string) ([]byte, error)
}

// Load reads the source at p, then the compiled module of every stage it
// defines and reflects them. A stage with no compiled module is compiled
// from its source when compiler is not nil.
func Load(files FileReader, p string, compiler Compiler) (*Program, error) {
	src, err := files.ReadFile(p)
	if err != nil {
		return nil, errors.Wrapf(err, "shader %s", p)
	}

	sources, err := Split(bytes.NewReader(src))
	if err != nil {
		return nil, errors.Wrapf(err, "shader %s", p)
	}
	if len(sources) == 0 {
		return nil, errors.Errorf("shader %s defines no stages", p)
	}

	stages := make([]Stage, 0, len(sources))
	for stage := range sources {
		stages = append(stages, stage)
	}
	sort.Slice(stages, func(i, j int) bool { return stages[i] < stages[j] })

	name := strings.TrimSuffix(path.Base(p), path.Ext(p))
	modules := make([]Module, 0, len(stages))
	for _, stage := range stages {
		code, err := loadModule(files, p, name, stage, sources[stage], compiler)
		if err != nil {
			return nil, errors.Wrapf(err, "shader %s stage %s", p, stage)
		}
		modules = append(modules, Module{Stage: stage, Code: code})
	}

	program, err := NewProgram(name, modules)
	if err != nil {
		return nil, errors.Wrapf(err, "shader %s", p)
	}
	program.Path = p
	program.Sources = sources

	log.WithFields(log.Fields{
		"shader":         p,
		"stages":         len(modules),
		"uniformBuffers": len(program.UniformBuffers),
		"resources":      len(program.Resources),
	}).Info("shader loaded")
	return program, nil
}

func loadModule(files FileReader, p, name string, stage Stage, source string, compiler Compiler) ([]uint32, error) {
	data, err := files.ReadFile(ModulePath(p, stage))
	if err != nil {
		if compiler == nil {
			return nil, err
		}
		return compiler.Compile(stage, name, source)
	}
	code := core.SliceUint32(append([]byte(nil), data...))
	if len(data)%4 != 0 || code == nil {
		return nil, ErrInvalidSPIRV
	}
	return code, nil
}

// NewProgram reflects compiled modules into a program. Bindings used by
// more than one stage are reported once.
func NewProgram(name string, modules []Module) (*Program, error) {
	var reflections []Reflection
	for _, m := range modules {
		r, err := Reflect(m.Code)
		if err != nil {
			return nil, errors.Wrapf(err, "stage %s", m.Stage)
		}
		reflections = append(reflections, r)
	}

	merged := Merge(reflections...)
	return &Program{
		Name:           name,
		Modules:        modules,
		UniformBuffers: merged.UniformBuffers,
		Resources:      merged.Resources,
	}, nil
}
