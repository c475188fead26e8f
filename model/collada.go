// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package model

import (
	"io"
	"math"

	"github.com/devblok/vkplayground/util/collada"
	glm "github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
)

// ErrTooManyVertices is returned for a geometry that can not be indexed
// with 16 bit indices.
var ErrTooManyVertices = errors.New("geometry has more than 65536 unique vertices")

type triangleInputs struct {
	stride int

	position, normal, texCoord         *collada.Source
	positionOff, normalOff, texCoordOff int
}

type vertexKey [3]int

// ImportCollada reads a Collada document into indexed mesh data, one
// sub-mesh per geometry.
func ImportCollada(r io.Reader) (*MeshData, error) {
	doc, err := collada.Decode(r)
	if err != nil {
		return nil, errors.Wrap(err, "collada")
	}
	if len(doc.Geometries) == 0 {
		return nil, errors.New("collada: no geometries")
	}

	data := &MeshData{Name: doc.Geometries[0].Name}
	for idx := range doc.Geometries {
		if err := importGeometry(data, &doc.Geometries[idx]); err != nil {
			return nil, errors.Wrapf(err, "collada geometry %s", doc.Geometries[idx].ID)
		}
	}
	return data, nil
}

func importGeometry(data *MeshData, g *collada.Geometry) error {
	sub := SubMesh{
		VertexOffset: uint32(len(data.Vertices)),
		IndexOffset:  uint32(len(data.Indices)),
	}
	unique := make(map[vertexKey]uint16)
	var hasTexCoords bool

	for t := range g.Mesh.Triangles {
		tris := &g.Mesh.Triangles[t]
		inputs, err := resolveInputs(&g.Mesh, tris)
		if err != nil {
			return err
		}
		hasTexCoords = hasTexCoords || inputs.texCoord != nil

		for v := 0; v+inputs.stride <= len(tris.Index); v += inputs.stride {
			p := tris.Index[v : v+inputs.stride]
			key := vertexKey{p[inputs.positionOff], -1, -1}
			if inputs.normal != nil {
				key[1] = p[inputs.normalOff]
			}
			if inputs.texCoord != nil {
				key[2] = p[inputs.texCoordOff]
			}

			index, ok := unique[key]
			if !ok {
				if len(unique) > math.MaxUint16 {
					return ErrTooManyVertices
				}
				var vert Vertex
				if e := inputs.position.Element(key[0]); len(e) >= 3 {
					vert.Position = glm.Vec3{e[0], e[1], e[2]}
				} else {
					return errors.Errorf("position %d out of range", key[0])
				}
				if inputs.normal != nil {
					if e := inputs.normal.Element(key[1]); len(e) >= 3 {
						vert.Normal = glm.Vec3{e[0], e[1], e[2]}
					}
				}
				if inputs.texCoord != nil {
					if e := inputs.texCoord.Element(key[2]); len(e) >= 2 {
						vert.TexCoord = glm.Vec2{e[0], e[1]}
					}
				}
				index = uint16(len(unique))
				unique[key] = index
				data.Vertices = append(data.Vertices, vert)
			}
			data.Indices = append(data.Indices, index)
		}
	}

	sub.IndexCount = uint32(len(data.Indices)) - sub.IndexOffset
	if hasTexCoords {
		computeTangents(data.Vertices[sub.VertexOffset:], data.Indices[sub.IndexOffset:])
	}
	for idx := range data.Vertices[sub.VertexOffset:] {
		v := &data.Vertices[int(sub.VertexOffset)+idx]
		v.Tangent = orthogonalize(v.Normal, v.Tangent)
	}
	data.SubMeshes = append(data.SubMeshes, sub)
	return nil
}

func resolveInputs(mesh *collada.Mesh, tris *collada.Triangles) (triangleInputs, error) {
	inputs := triangleInputs{stride: tris.Stride()}
	if inputs.stride == 0 {
		return inputs, errors.New("triangles without inputs")
	}

	for _, input := range tris.Inputs {
		switch input.Semantic {
		case "VERTEX":
			inputs.positionOff = int(input.Offset)
			for _, vin := range mesh.Vertices.Inputs {
				source, ok := mesh.FindSource(vin.Source)
				if !ok {
					continue
				}
				switch vin.Semantic {
				case "POSITION":
					inputs.position = source
				case "NORMAL":
					inputs.normal = source
					inputs.normalOff = int(input.Offset)
				}
			}
			if inputs.position == nil {
				if source, ok := mesh.FindSource(input.Source); ok {
					inputs.position = source
				}
			}
		case "NORMAL":
			if source, ok := mesh.FindSource(input.Source); ok {
				inputs.normal = source
				inputs.normalOff = int(input.Offset)
			}
		case "TEXCOORD":
			if input.Set != 0 {
				continue
			}
			if source, ok := mesh.FindSource(input.Source); ok {
				inputs.texCoord = source
				inputs.texCoordOff = int(input.Offset)
			}
		}
	}

	if inputs.position == nil {
		return inputs, errors.New("triangles without positions")
	}
	return inputs, nil
}

// computeTangents accumulates per triangle tangents derived from texture
// coordinates into the vertices they reference.
func computeTangents(vertices []Vertex, indices []uint16) {
	for idx := 0; idx+2 < len(indices); idx += 3 {
		v0 := &vertices[indices[idx]]
		v1 := &vertices[indices[idx+1]]
		v2 := &vertices[indices[idx+2]]

		e1 := v1.Position.Sub(v0.Position)
		e2 := v2.Position.Sub(v0.Position)
		d1 := v1.TexCoord.Sub(v0.TexCoord)
		d2 := v2.TexCoord.Sub(v0.TexCoord)

		det := d1[0]*d2[1] - d2[0]*d1[1]
		if det == 0 {
			continue
		}
		tangent := e1.Mul(d2[1]).Sub(e2.Mul(d1[1])).Mul(1 / det)

		v0.Tangent = v0.Tangent.Add(tangent)
		v1.Tangent = v1.Tangent.Add(tangent)
		v2.Tangent = v2.Tangent.Add(tangent)
	}
}

// orthogonalize returns a unit tangent perpendicular to the normal.
// Any perpendicular is picked when the tangent is degenerate.
func orthogonalize(normal, tangent glm.Vec3) glm.Vec3 {
	if normal.Len() == 0 {
		if tangent.Len() == 0 {
			return tangent
		}
		return tangent.Normalize()
	}
	n := normal.Normalize()
	t := tangent.Sub(n.Mul(n.Dot(tangent)))
	if t.Len() < 1e-6 {
		axis := glm.Vec3{1, 0, 0}
		if math.Abs(float64(n[0])) > 0.9 {
			axis = glm.Vec3{0, 1, 0}
		}
		t = axis.Sub(n.Mul(n.Dot(axis)))
	}
	return t.Normalize()
}
