// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package device

import (
	"math"

	"github.com/devblok/vkplayground/driver"
	vk "github.com/vulkan-go/vulkan"
)

// New wraps a logical device, fetches its queues and creates the command
// pool used for one-shot command buffers.
func New(gpu driver.GPU, name string, indices QueueFamilyIndices) (*Device, error) {
	pool, err := gpu.CreateCommandPool(&vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
		QueueFamilyIndex: uint32(indices.Graphics),
	})
	if err != nil {
		return nil, err
	}

	return &Device{
		gpu:           gpu,
		name:          name,
		indices:       indices,
		graphicsQueue: gpu.Queue(uint32(indices.Graphics), 0),
		presentQueue:  gpu.Queue(uint32(indices.Present), 0),
		transferQueue: gpu.Queue(indices.TransferFamily(), 0),
		commandPool:   pool,
	}, nil
}

// Device is the logical device along with its queues. It is not safe
// for concurrent use.
type Device struct {
	gpu     driver.GPU
	name    string
	indices QueueFamilyIndices

	graphicsQueue vk.Queue
	presentQueue  vk.Queue
	transferQueue vk.Queue

	commandPool vk.CommandPool
}

// GPU returns the device command surface.
func (d *Device) GPU() driver.GPU {
	return d.gpu
}

// Name returns the name of the physical device.
func (d *Device) Name() string {
	return d.name
}

// QueueFamilyIndices returns the queue families in use.
func (d *Device) QueueFamilyIndices() QueueFamilyIndices {
	return d.indices
}

// GraphicsQueue returns the graphics queue.
func (d *Device) GraphicsQueue() vk.Queue {
	return d.graphicsQueue
}

// PresentQueue returns the present queue.
func (d *Device) PresentQueue() vk.Queue {
	return d.presentQueue
}

// TransferQueue returns the dedicated transfer queue, or the graphics one.
func (d *Device) TransferQueue() vk.Queue {
	return d.transferQueue
}

// CreateCommandBuffer allocates a command buffer from the device pool and,
// if begin is set, opens it for one-time-submit recording.
func (d *Device) CreateCommandBuffer(level vk.CommandBufferLevel, begin bool) (vk.CommandBuffer, error) {
	buffers, err := d.gpu.AllocateCommandBuffers(&vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        d.commandPool,
		Level:              level,
		CommandBufferCount: 1,
	})
	if err != nil {
		return nil, err
	}

	if begin {
		if err := d.gpu.BeginCommandBuffer(buffers[0], &vk.CommandBufferBeginInfo{
			SType: vk.StructureTypeCommandBufferBeginInfo,
			Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
		}); err != nil {
			d.gpu.FreeCommandBuffers(d.commandPool, buffers)
			return nil, err
		}
	}
	return buffers[0], nil
}

// FlushCommandBuffer ends recording, submits to the graphics queue and
// blocks until the work completes. The buffer is freed if free is set,
// also when it fails to end or submit.
func (d *Device) FlushCommandBuffer(cmd vk.CommandBuffer, free bool) error {
	release := func() {
		if free {
			d.gpu.FreeCommandBuffers(d.commandPool, []vk.CommandBuffer{cmd})
		}
	}

	if err := d.gpu.EndCommandBuffer(cmd); err != nil {
		release()
		return err
	}

	fence, err := d.gpu.CreateFence(false)
	if err != nil {
		release()
		return err
	}
	defer d.gpu.DestroyFence(fence)

	submit := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{cmd},
	}
	if err := d.gpu.QueueSubmit(d.graphicsQueue, []vk.SubmitInfo{submit}, fence); err != nil {
		release()
		return err
	}
	// A buffer whose fence never signaled may still execute, it is kept.
	if err := d.gpu.WaitForFences([]vk.Fence{fence}, math.MaxUint64); err != nil {
		return err
	}

	release()
	return nil
}

// WaitIdle blocks until the device has no work left.
func (d *Device) WaitIdle() error {
	return d.gpu.DeviceWaitIdle()
}

// Destroy destroys the command pool and the logical device. It must be
// called after every object created from the device is destroyed.
func (d *Device) Destroy() {
	d.gpu.DestroyCommandPool(d.commandPool)
	d.gpu.Destroy()
}
