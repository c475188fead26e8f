// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"github.com/devblok/vkplayground/device"
	"github.com/devblok/vkplayground/model"
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// NewMesh uploads mesh data into a vertex and an index buffer.
func NewMesh(a *Allocator, data *model.MeshData) (*Mesh, error) {
	if len(data.Vertices) == 0 || len(data.Indices) == 0 {
		return nil, errors.Errorf("mesh %s is empty", data.Name)
	}

	vertices, err := NewVertexBuffer(a, data.VertexBytes())
	if err != nil {
		return nil, errors.Wrapf(err, "mesh %s", data.Name)
	}
	indices, err := NewIndexBuffer(a, data.Indices)
	if err != nil {
		vertices.Release()
		return nil, errors.Wrapf(err, "mesh %s", data.Name)
	}

	subMeshes := data.SubMeshes
	if len(subMeshes) == 0 {
		subMeshes = []model.SubMesh{{IndexCount: uint32(len(data.Indices))}}
	}

	return &Mesh{
		name:      data.Name,
		vertices:  vertices,
		indices:   indices,
		subMeshes: append([]model.SubMesh(nil), subMeshes...),
	}, nil
}

// Mesh is mesh data uploaded to the GPU.
type Mesh struct {
	name      string
	vertices  *VertexBuffer
	indices   *IndexBuffer
	subMeshes []model.SubMesh
}

// Name returns the name of the mesh data.
func (m *Mesh) Name() string {
	return m.name
}

// VertexBuffer returns the buffer holding the vertices of all sub-meshes.
func (m *Mesh) VertexBuffer() *VertexBuffer {
	return m.vertices
}

// IndexBuffer returns the buffer holding the indices of all sub-meshes.
func (m *Mesh) IndexBuffer() *IndexBuffer {
	return m.indices
}

// SubMeshes returns the ranges drawn for the mesh.
func (m *Mesh) SubMeshes() []model.SubMesh {
	return m.subMeshes
}

// Release destroys the buffers.
func (m *Mesh) Release() {
	m.vertices.Release()
	m.indices.Release()
}

// TextureFormat is the format decoded textures are uploaded in.
const TextureFormat = vk.FormatR8g8b8a8Unorm

// NewTexture2D uploads RGBA8 pixels into a sampled image.
func NewTexture2D(dev *device.Device, a *Allocator, width, height uint32, pixels []byte) (*Texture2D, error) {
	image, err := NewImage(dev, a, ImageSpecification{
		Data:   pixels,
		Width:  width,
		Height: height,
		Format: TextureFormat,
		Tag:    "Texture2D",
	})
	if err != nil {
		return nil, err
	}
	return &Texture2D{image: image}, nil
}

// Texture2D is a sampled 2D image.
type Texture2D struct {
	image *Image
}

// Image returns the underlying image.
func (t *Texture2D) Image() *Image {
	return t.image
}

// Width returns the width in texels.
func (t *Texture2D) Width() uint32 {
	return t.image.Specification().Width
}

// Height returns the height in texels.
func (t *Texture2D) Height() uint32 {
	return t.image.Specification().Height
}

// DescriptorInfo returns the descriptor info to bind the texture with.
func (t *Texture2D) DescriptorInfo() vk.DescriptorImageInfo {
	return t.image.DescriptorInfo()
}

// Release destroys the image.
func (t *Texture2D) Release() {
	t.image.Release()
}
