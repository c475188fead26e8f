// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package model holds CPU side mesh data and its vertex layout.
package model

import (
	"unsafe"

	"github.com/devblok/vkplayground/core"
	glm "github.com/go-gl/mathgl/mgl32"
	vk "github.com/vulkan-go/vulkan"
)

// Vertex is a model vertex
type Vertex struct {
	Position glm.Vec3
	Normal   glm.Vec3
	Tangent  glm.Vec3
	TexCoord glm.Vec2
}

// VertexSize is the stride of Vertex in a vertex buffer.
const VertexSize = int(unsafe.Sizeof(Vertex{}))

// CameraUniform is the camera block read by the vertex stage.
type CameraUniform struct {
	ViewProjection        glm.Mat4
	InverseViewProjection glm.Mat4
}

// CameraUniformSize is the size of CameraUniform in a uniform buffer.
const CameraUniformSize = int(unsafe.Sizeof(CameraUniform{}))

// Bytes returns the raw bytes of the block.
func (c *CameraUniform) Bytes() []byte {
	return core.Bytes(unsafe.Pointer(c), 1, CameraUniformSize)
}

// SubMesh is a range of a mesh drawn with a single indexed draw.
// Indices of a sub-mesh are relative to its VertexOffset.
type SubMesh struct {
	VertexOffset uint32
	IndexOffset  uint32
	IndexCount   uint32
}

// MeshData is an indexed mesh ready to be uploaded.
type MeshData struct {
	Name      string
	Vertices  []Vertex
	Indices   []uint16
	SubMeshes []SubMesh
}

// VertexBytes returns the vertices as vertex buffer contents.
func (m *MeshData) VertexBytes() []byte {
	if len(m.Vertices) == 0 {
		return nil
	}
	return core.Bytes(unsafe.Pointer(&m.Vertices[0]), len(m.Vertices), VertexSize)
}

// VertexBindingDescriptions return Vulkan Vertex descriptors
func VertexBindingDescriptions() []vk.VertexInputBindingDescription {
	return []vk.VertexInputBindingDescription{{
		Binding:   0,
		Stride:    uint32(VertexSize),
		InputRate: vk.VertexInputRateVertex,
	}}
}

// VertexAttributeDescriptions return Vulkan attribute descriptors
func VertexAttributeDescriptions() []vk.VertexInputAttributeDescription {
	return []vk.VertexInputAttributeDescription{
		{
			Binding:  0,
			Location: 0,
			Format:   vk.FormatR32g32b32Sfloat,
			Offset:   uint32(unsafe.Offsetof(Vertex{}.Position)),
		},
		{
			Binding:  0,
			Location: 1,
			Format:   vk.FormatR32g32b32Sfloat,
			Offset:   uint32(unsafe.Offsetof(Vertex{}.Normal)),
		},
		{
			Binding:  0,
			Location: 2,
			Format:   vk.FormatR32g32b32Sfloat,
			Offset:   uint32(unsafe.Offsetof(Vertex{}.Tangent)),
		},
		{
			Binding:  0,
			Location: 3,
			Format:   vk.FormatR32g32Sfloat,
			Offset:   uint32(unsafe.Offsetof(Vertex{}.TexCoord)),
		},
	}
}
