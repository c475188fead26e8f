// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"unsafe"

	"github.com/devblok/vkplayground/core"
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// NewBuffer creates, allocates and binds a new buffer of size bytes.
// If data is given it is copied to the start of the buffer.
func NewBuffer(a *Allocator, tag string, size int, usage vk.BufferUsageFlagBits, memUsage MemoryUsage, data []byte) (Buffer, error) {
	if size <= 0 {
		return Buffer{}, errors.Errorf("%s: buffer size must be positive, got %d", tag, size)
	}
	if len(data) > size {
		return Buffer{}, errors.Errorf("%s: %d bytes do not fit a buffer of %d", tag, len(data), size)
	}

	buffer, memory, err := a.AllocateBuffer(tag, &vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       vk.BufferUsageFlags(usage),
		SharingMode: vk.SharingModeExclusive,
	}, memUsage)
	if err != nil {
		return Buffer{}, err
	}

	b := Buffer{
		allocator: a,
		buffer:    buffer,
		memory:    memory,
		size:      vk.DeviceSize(size),
	}
	if len(data) > 0 {
		if err := memory.Write(data); err != nil {
			b.Release()
			return Buffer{}, err
		}
	}
	return b, nil
}

// Buffer implements a generic vulkan buffer.
type Buffer struct {
	allocator *Allocator
	buffer    vk.Buffer
	memory    *Allocation
	size      vk.DeviceSize
}

// Get returns the vulkan Buffer handle.
func (b *Buffer) Get() vk.Buffer {
	return b.buffer
}

// Mem returns the allocation the buffer is based on.
func (b *Buffer) Mem() *Allocation {
	return b.memory
}

// Size returns the size of the buffer in bytes.
func (b *Buffer) Size() vk.DeviceSize {
	return b.size
}

// Release destroys the buffer and memory asociated with it.
func (b *Buffer) Release() {
	if b.buffer == nil {
		return
	}
	b.allocator.DestroyBuffer(b.buffer, b.memory)
	b.buffer = nil
	b.memory = nil
}

// NewVertexBuffer uploads vertex data into a new vertex buffer.
func NewVertexBuffer(a *Allocator, data []byte) (*VertexBuffer, error) {
	b, err := NewBuffer(a, "VertexBuffer", len(data), vk.BufferUsageVertexBufferBit, CPUToGPU, data)
	if err != nil {
		return nil, err
	}
	return &VertexBuffer{Buffer: b}, nil
}

// VertexBuffer holds vertices of one or more meshes.
type VertexBuffer struct {
	Buffer
}

// NewIndexBuffer uploads 16 bit indices into a new index buffer.
func NewIndexBuffer(a *Allocator, indices []uint16) (*IndexBuffer, error) {
	var data []byte
	if len(indices) > 0 {
		data = core.Bytes(unsafe.Pointer(&indices[0]), len(indices), 2)
	}
	b, err := NewBuffer(a, "IndexBuffer", len(data), vk.BufferUsageIndexBufferBit, CPUToGPU, data)
	if err != nil {
		return nil, err
	}
	return &IndexBuffer{Buffer: b, count: uint32(len(indices))}, nil
}

// IndexBuffer holds 16 bit indices.
type IndexBuffer struct {
	Buffer
	count uint32
}

// Count returns the number of indices.
func (b *IndexBuffer) Count() uint32 {
	return b.count
}

// IndexType returns the index type to bind the buffer with.
func (b *IndexBuffer) IndexType() vk.IndexType {
	return vk.IndexTypeUint16
}

// NewUniformBuffer creates a uniform buffer of size bytes, initialized
// with data if any is given.
func NewUniformBuffer(a *Allocator, size int, data []byte) (*UniformBuffer, error) {
	b, err := NewBuffer(a, "UniformBuffer", size, vk.BufferUsageUniformBufferBit, CPUToGPU, data)
	if err != nil {
		return nil, err
	}
	return &UniformBuffer{
		Buffer: b,
		descriptor: vk.DescriptorBufferInfo{
			Buffer: b.buffer,
			Offset: 0,
			Range:  vk.DeviceSize(vk.WholeSize),
		},
	}, nil
}

// UniformBuffer is a buffer read by shaders through a descriptor.
type UniformBuffer struct {
	Buffer
	descriptor vk.DescriptorBufferInfo
}

// Update overwrites the content of the buffer. It must not be called
// while the GPU reads from it.
func (b *UniformBuffer) Update(data []byte) error {
	if vk.DeviceSize(len(data)) != b.size {
		return errors.Errorf("uniform buffer update of %d bytes, buffer has %d", len(data), b.size)
	}
	return b.memory.Write(data)
}

// DescriptorInfo returns the descriptor info covering the whole buffer.
func (b *UniformBuffer) DescriptorInfo() vk.DescriptorBufferInfo {
	return b.descriptor
}

// NewStagingBuffer creates a host only transfer source holding data.
func NewStagingBuffer(a *Allocator, data []byte) (*StagingBuffer, error) {
	b, err := NewBuffer(a, "StagingBuffer", len(data), vk.BufferUsageTransferSrcBit, CPUOnly, data)
	if err != nil {
		return nil, err
	}
	return &StagingBuffer{Buffer: b}, nil
}

// StagingBuffer is used to copy data to device local memory.
type StagingBuffer struct {
	Buffer
}
