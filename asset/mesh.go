// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package asset

import (
	"bytes"
	"path"
	"strings"

	"github.com/devblok/vkplayground/model"
	"github.com/pkg/errors"
)

// LoadMesh reads a mesh from the source, picking the importer from the
// file extension.
func LoadMesh(src Source, name string) (*model.MeshData, error) {
	data, err := src.ReadFile(name)
	if err != nil {
		return nil, err
	}

	var mesh *model.MeshData
	switch ext := strings.ToLower(path.Ext(name)); ext {
	case ".dae":
		mesh, err = model.ImportCollada(bytes.NewReader(data))
	default:
		return nil, errors.Errorf("mesh %s: unsupported format %q", name, ext)
	}
	if err != nil {
		return nil, errors.Wrap(err, name)
	}
	if mesh.Name == "" {
		mesh.Name = strings.TrimSuffix(path.Base(name), path.Ext(name))
	}
	return mesh, nil
}
