// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"fmt"
	"sort"
	"strings"
	"unsafe"

	"github.com/devblok/vkplayground/driver"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	vk "github.com/vulkan-go/vulkan"
)

// MemoryUsage is a hint for where an allocation should live.
type MemoryUsage int

const (
	// GPUOnly memory is device local and never mapped.
	GPUOnly MemoryUsage = iota

	// CPUToGPU memory is host visible and preferably device local.
	CPUToGPU

	// CPUOnly memory is host visible, used for staging.
	CPUOnly
)

func (u MemoryUsage) String() string {
	switch u {
	case GPUOnly:
		return "gpu-only"
	case CPUToGPU:
		return "cpu-to-gpu"
	case CPUOnly:
		return "cpu-only"
	default:
		return "unknown"
	}
}

func (u MemoryUsage) properties() (required, preferred vk.MemoryPropertyFlags) {
	hostVisible := vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)
	deviceLocal := vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
	switch u {
	case GPUOnly:
		return deviceLocal, 0
	case CPUToGPU:
		return hostVisible, deviceLocal
	default:
		return hostVisible, 0
	}
}

// Allocation is a block of device memory backing a single buffer or image.
type Allocation struct {
	gpu    driver.GPU
	tag    string
	kind   string
	usage  MemoryUsage
	memory vk.DeviceMemory
	size   vk.DeviceSize
	mapped bool
}

// Tag returns the diagnostic tag the allocation was made with.
func (a *Allocation) Tag() string {
	return a.tag
}

// Size returns the allocated size in bytes.
func (a *Allocation) Size() vk.DeviceSize {
	return a.size
}

// Memory returns the vulkan memory handle.
func (a *Allocation) Memory() vk.DeviceMemory {
	return a.memory
}

// Map maps the whole allocation and returns a pointer to it. The caller
// must Unmap before the memory is used by the GPU.
func (a *Allocation) Map() (unsafe.Pointer, error) {
	if a.usage == GPUOnly {
		return nil, errors.Errorf("allocation %q is not host visible", a.tag)
	}
	if a.mapped {
		return nil, errors.Errorf("allocation %q is already mapped", a.tag)
	}
	ptr, err := a.gpu.MapMemory(a.memory, 0, a.size)
	if err != nil {
		return nil, err
	}
	a.mapped = true
	return ptr, nil
}

// Unmap removes the memory mapping if it was mapped.
func (a *Allocation) Unmap() {
	if a.mapped {
		a.gpu.UnmapMemory(a.memory)
		a.mapped = false
	}
}

// Write maps the allocation, copies data to its start and unmaps it again.
func (a *Allocation) Write(data []byte) error {
	if vk.DeviceSize(len(data)) > a.size {
		return errors.Errorf("write of %d bytes into allocation %q of %d bytes", len(data), a.tag, a.size)
	}
	ptr, err := a.Map()
	if err != nil {
		return err
	}
	defer a.Unmap()
	vk.Memcopy(ptr, data)
	return nil
}

// TagStats holds the live allocations of a single tag.
type TagStats struct {
	Allocations int
	Bytes       vk.DeviceSize
}

// NewAllocator creates an allocator for the device. It must outlive every
// object allocated from it and be shut down before the device is destroyed.
func NewAllocator(gpu driver.GPU) *Allocator {
	return &Allocator{
		gpu:        gpu,
		properties: gpu.MemoryProperties(),
		live:       make(map[*Allocation]struct{}),
	}
}

// Allocator hands out device memory for buffers and images, keeping
// count per tag. It is not safe for concurrent use.
type Allocator struct {
	gpu        driver.GPU
	properties vk.PhysicalDeviceMemoryProperties
	live       map[*Allocation]struct{}
	closed     bool
}

// GPU returns the device the allocator allocates from.
func (a *Allocator) GPU() driver.GPU {
	return a.gpu
}

// AllocateBuffer creates a buffer and binds freshly allocated memory to it.
func (a *Allocator) AllocateBuffer(tag string, info *vk.BufferCreateInfo, usage MemoryUsage) (vk.Buffer, *Allocation, error) {
	if a.closed {
		return nil, nil, errors.New("allocator is shut down")
	}
	buffer, err := a.gpu.CreateBuffer(info)
	if err != nil {
		return nil, nil, err
	}

	alloc, err := a.malloc(tag, "buffer", a.gpu.BufferMemoryRequirements(buffer), usage)
	if err != nil {
		a.gpu.DestroyBuffer(buffer)
		return nil, nil, err
	}

	if err := a.gpu.BindBufferMemory(buffer, alloc.memory, 0); err != nil {
		a.free(alloc)
		a.gpu.DestroyBuffer(buffer)
		return nil, nil, err
	}
	return buffer, alloc, nil
}

// AllocateImage creates an image and binds freshly allocated memory to it.
func (a *Allocator) AllocateImage(tag string, info *vk.ImageCreateInfo, usage MemoryUsage) (vk.Image, *Allocation, error) {
	if a.closed {
		return nil, nil, errors.New("allocator is shut down")
	}
	image, err := a.gpu.CreateImage(info)
	if err != nil {
		return nil, nil, err
	}

	alloc, err := a.malloc(tag, "image", a.gpu.ImageMemoryRequirements(image), usage)
	if err != nil {
		a.gpu.DestroyImage(image)
		return nil, nil, err
	}

	if err := a.gpu.BindImageMemory(image, alloc.memory, 0); err != nil {
		a.free(alloc)
		a.gpu.DestroyImage(image)
		return nil, nil, err
	}
	return image, alloc, nil
}

// DestroyBuffer destroys the buffer and frees its memory. The GPU must
// no longer use the buffer.
func (a *Allocator) DestroyBuffer(buffer vk.Buffer, alloc *Allocation) {
	a.gpu.DestroyBuffer(buffer)
	a.free(alloc)
}

// DestroyImage destroys the image and frees its memory. The GPU must
// no longer use the image.
func (a *Allocator) DestroyImage(image vk.Image, alloc *Allocation) {
	a.gpu.DestroyImage(image)
	a.free(alloc)
}

// Stats returns the live allocations grouped by tag.
func (a *Allocator) Stats() map[string]TagStats {
	stats := make(map[string]TagStats)
	for alloc := range a.live {
		s := stats[alloc.tag]
		s.Allocations++
		s.Bytes += alloc.size
		stats[alloc.tag] = s
	}
	return stats
}

// Shutdown closes the allocator. It fails if any allocation is still
// alive, naming the tags of the leaked allocations.
func (a *Allocator) Shutdown() error {
	a.closed = true
	if len(a.live) == 0 {
		return nil
	}

	stats := a.Stats()
	tags := make([]string, 0, len(stats))
	for tag, s := range stats {
		log.WithFields(log.Fields{
			"tag":         tag,
			"allocations": s.Allocations,
			"size":        s.Bytes,
		}).Warn("allocation leaked")
		tags = append(tags, fmt.Sprintf("%s (%d)", tag, s.Allocations))
	}
	sort.Strings(tags)
	return errors.Errorf("%d allocations leaked: %s", len(a.live), strings.Join(tags, ", "))
}

func (a *Allocator) malloc(tag, kind string, req vk.MemoryRequirements, usage MemoryUsage) (*Allocation, error) {
	required, preferred := usage.properties()
	memTypeIdx, err := a.findMemoryType(req.MemoryTypeBits, required|preferred)
	if err != nil && preferred != 0 {
		memTypeIdx, err = a.findMemoryType(req.MemoryTypeBits, required)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "allocation %q", tag)
	}

	memory, err := a.gpu.AllocateMemory(&vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  req.Size,
		MemoryTypeIndex: memTypeIdx,
	})
	if err != nil {
		return nil, err
	}

	alloc := &Allocation{
		gpu:    a.gpu,
		tag:    tag,
		kind:   kind,
		usage:  usage,
		memory: memory,
		size:   req.Size,
	}
	a.live[alloc] = struct{}{}

	log.WithFields(log.Fields{
		"tag":  tag,
		"size": req.Size,
		"kind": kind,
	}).Debug("allocated")
	return alloc, nil
}

func (a *Allocator) free(alloc *Allocation) {
	if alloc == nil {
		return
	}
	alloc.Unmap()
	a.gpu.FreeMemory(alloc.memory)
	delete(a.live, alloc)
}

func (a *Allocator) findMemoryType(filter uint32, prop vk.MemoryPropertyFlags) (uint32, error) {
	for idx := uint32(0); idx < a.properties.MemoryTypeCount; idx++ {
		a.properties.MemoryTypes[idx].Deref()
		if filter&(1<<idx) != 0 && (a.properties.MemoryTypes[idx].PropertyFlags&prop) == prop {
			return idx, nil
		}
	}
	return 0, errors.New("suitable memory type not found")
}
