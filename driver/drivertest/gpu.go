// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package drivertest provides a recording driver.GPU for tests.
//
// The fake GPU executes recorded transfer commands at submission time and
// tracks the CPU/GPU hand-off of fences, semaphores, command buffers and
// descriptor pools. Any misuse that a real device would turn into undefined
// behavior, such as resetting a descriptor pool that pending work still
// references, is recorded as a violation instead.
//
// Handles are distinct Go allocations converted to Vulkan handle types,
// which requires handles to be pointer sized.
package drivertest

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/devblok/vkplayground/driver"
	vk "github.com/vulkan-go/vulkan"
)

// Call is a single recorded GPU call.
type Call struct {
	Op   string
	Args []interface{}
}

// Draw is a recorded indexed draw.
type Draw struct {
	Cmd          vk.CommandBuffer
	IndexCount   uint32
	FirstIndex   uint32
	VertexOffset int32
	Push         []byte
	Sets         []vk.DescriptorSet
}

type fenceState struct {
	signaled bool
	pending  bool
}

type bufferState struct {
	size   vk.DeviceSize
	memory vk.DeviceMemory
	offset vk.DeviceSize
}

type imageState struct {
	info   vk.ImageCreateInfo
	layout vk.ImageLayout
	data   []byte
}

type swapchainState struct {
	images []vk.Image
	next   uint32
}

type submission struct {
	fence vk.Fence
	done  bool
}

type recorder struct {
	commands []func(g *GPU)
	sets     []vk.DescriptorSet
	open     bool
	work     *submission

	push     []byte
	boundSet []vk.DescriptorSet
}

// New creates a fake GPU exposing one device-local and one host-visible
// memory type, a surface of 1280x720 with FIFO and mailbox present modes.
func New() *GPU {
	g := &GPU{
		Capabilities: vk.SurfaceCapabilities{
			MinImageCount:           2,
			MaxImageCount:           8,
			CurrentExtent:           vk.Extent2D{Width: 1280, Height: 720},
			MinImageExtent:          vk.Extent2D{Width: 1, Height: 1},
			MaxImageExtent:          vk.Extent2D{Width: 4096, Height: 4096},
			MaxImageArrayLayers:     1,
			SupportedTransforms:     vk.SurfaceTransformFlags(vk.SurfaceTransformIdentityBit),
			CurrentTransform:        vk.SurfaceTransformIdentityBit,
			SupportedCompositeAlpha: vk.CompositeAlphaFlags(vk.CompositeAlphaOpaqueBit),
			SupportedUsageFlags:     vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		},
		Formats: []vk.SurfaceFormat{
			{Format: vk.FormatB8g8r8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear},
		},
		PresentModes: []vk.PresentMode{vk.PresentModeFifo, vk.PresentModeMailbox},

		physical:    vk.PhysicalDevice(handle()),
		device:      vk.Device(handle()),
		live:        make(map[string]int),
		fences:      make(map[vk.Fence]*fenceState),
		semaphores:  make(map[vk.Semaphore]bool),
		memories:    make(map[vk.DeviceMemory][]byte),
		mapped:      make(map[vk.DeviceMemory]bool),
		buffers:     make(map[vk.Buffer]*bufferState),
		images:      make(map[vk.Image]*imageState),
		swapchains:  make(map[vk.Swapchain]*swapchainState),
		recorders:   make(map[vk.CommandBuffer]*recorder),
		setPools:    make(map[vk.DescriptorSet]vk.DescriptorPool),
		poolWork:    make(map[vk.DescriptorPool][]*submission),
		queues:      make(map[[2]uint32]vk.Queue),
		pipelineLay: make(map[vk.PipelineLayout]vk.PipelineLayoutCreateInfo),
	}
	g.Memory.MemoryTypeCount = 2
	g.Memory.MemoryTypes[0] = vk.MemoryType{
		PropertyFlags: vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit),
		HeapIndex:     0,
	}
	g.Memory.MemoryTypes[1] = vk.MemoryType{
		PropertyFlags: vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit),
		HeapIndex:     1,
	}
	g.Memory.MemoryHeapCount = 2
	g.Memory.MemoryHeaps[0] = vk.MemoryHeap{Size: 1 << 30}
	g.Memory.MemoryHeaps[1] = vk.MemoryHeap{Size: 1 << 28}
	return g
}

var _ driver.GPU = (*GPU)(nil)

func handle() unsafe.Pointer {
	return unsafe.Pointer(new(uint64))
}

// GPU is a fake driver.GPU. Exported fields configure the surface and
// scripted results and may be modified between frames.
type GPU struct {
	Capabilities vk.SurfaceCapabilities
	Formats      []vk.SurfaceFormat
	PresentModes []vk.PresentMode
	Memory       vk.PhysicalDeviceMemoryProperties

	// AcquireResults and PresentResults are consumed one per call,
	// Success is returned once they run out.
	AcquireResults []vk.Result
	PresentResults []vk.Result

	mutex sync.Mutex

	physical vk.PhysicalDevice
	device   vk.Device

	calls      []Call
	draws      []Draw
	violations []string
	live       map[string]int

	fences      map[vk.Fence]*fenceState
	semaphores  map[vk.Semaphore]bool
	memories    map[vk.DeviceMemory][]byte
	mapped      map[vk.DeviceMemory]bool
	buffers     map[vk.Buffer]*bufferState
	images      map[vk.Image]*imageState
	swapchains  map[vk.Swapchain]*swapchainState
	recorders   map[vk.CommandBuffer]*recorder
	setPools    map[vk.DescriptorSet]vk.DescriptorPool
	poolWork    map[vk.DescriptorPool][]*submission
	queues      map[[2]uint32]vk.Queue
	pipelineLay map[vk.PipelineLayout]vk.PipelineLayoutCreateInfo
	pending     []*submission
}

func (g *GPU) record(op string, args ...interface{}) {
	g.calls = append(g.calls, Call{Op: op, Args: args})
}

func (g *GPU) violate(format string, args ...interface{}) {
	g.violations = append(g.violations, fmt.Sprintf(format, args...))
}

// Calls returns every call recorded so far.
func (g *GPU) Calls() []Call {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return append([]Call(nil), g.calls...)
}

// Count returns how many times op was called.
func (g *GPU) Count(op string) int {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	var n int
	for _, c := range g.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Draws returns every recorded indexed draw.
func (g *GPU) Draws() []Draw {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return append([]Draw(nil), g.draws...)
}

// Violations returns the synchronization and usage errors detected so far.
func (g *GPU) Violations() []string {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return append([]string(nil), g.violations...)
}

// Live returns the number of live objects of a kind, for example "buffer".
func (g *GPU) Live(kind string) int {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return g.live[kind]
}

// ImageContents returns a copy of the data transferred into an image.
func (g *GPU) ImageContents(image vk.Image) []byte {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	if s, ok := g.images[image]; ok {
		return append([]byte(nil), s.data...)
	}
	return nil
}

// ImageLayout returns the layout an image was last transitioned to.
func (g *GPU) ImageLayout(image vk.Image) vk.ImageLayout {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	if s, ok := g.images[image]; ok {
		return s.layout
	}
	return vk.ImageLayoutUndefined
}

// ImageInfo returns the create info an image was made with.
func (g *GPU) ImageInfo(image vk.Image) vk.ImageCreateInfo {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	if s, ok := g.images[image]; ok {
		return s.info
	}
	return vk.ImageCreateInfo{}
}

// FenceSignaled reports whether a fence is in the signaled state.
func (g *GPU) FenceSignaled(fence vk.Fence) bool {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	if f, ok := g.fences[fence]; ok {
		return f.signaled
	}
	return false
}

func (g *GPU) Inner() interface{} {
	return g.device
}

func (g *GPU) PhysicalDevice() vk.PhysicalDevice {
	return g.physical
}

func (g *GPU) MemoryProperties() vk.PhysicalDeviceMemoryProperties {
	return g.Memory
}

func (g *GPU) Queue(family, index uint32) vk.Queue {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	key := [2]uint32{family, index}
	if q, ok := g.queues[key]; ok {
		return q
	}
	q := vk.Queue(handle())
	g.queues[key] = q
	return q
}

func (g *GPU) QueueSubmit(queue vk.Queue, submits []vk.SubmitInfo, fence vk.Fence) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.record("QueueSubmit", queue, fence)

	work := &submission{fence: fence}
	if fence != nil {
		f, ok := g.fences[fence]
		if !ok {
			return fmt.Errorf("vk.QueueSubmit(): unknown fence")
		}
		if f.signaled || f.pending {
			g.violate("submit with fence that is not reset")
		}
		f.pending = true
	}
	for _, si := range submits {
		for _, sem := range si.PWaitSemaphores {
			if !g.semaphores[sem] {
				g.violate("submit waits on unsignaled semaphore")
			}
			g.semaphores[sem] = false
		}
		for _, cmd := range si.PCommandBuffers {
			rec, ok := g.recorders[cmd]
			if !ok {
				return fmt.Errorf("vk.QueueSubmit(): unknown command buffer")
			}
			if rec.open {
				g.violate("submit of command buffer still recording")
			}
			if rec.work != nil && !rec.work.done {
				g.violate("command buffer submitted while pending")
			}
			rec.work = work
			for _, c := range rec.commands {
				c(g)
			}
			for _, set := range rec.sets {
				pool := g.setPools[set]
				g.poolWork[pool] = append(g.poolWork[pool], work)
			}
		}
		for _, sem := range si.PSignalSemaphores {
			if g.semaphores[sem] {
				g.violate("submit signals semaphore that is already signaled")
			}
			g.semaphores[sem] = true
		}
	}
	g.pending = append(g.pending, work)
	return nil
}

func (g *GPU) QueuePresent(queue vk.Queue, info *vk.PresentInfo) vk.Result {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.record("QueuePresent", queue, info.PImageIndices)

	result := vk.Success
	if len(g.PresentResults) > 0 {
		result = g.PresentResults[0]
		g.PresentResults = g.PresentResults[1:]
	}
	for _, sem := range info.PWaitSemaphores {
		if !g.semaphores[sem] {
			g.violate("present waits on unsignaled semaphore")
		}
		g.semaphores[sem] = false
	}
	return result
}

func (g *GPU) complete(work *submission) {
	if work.done {
		return
	}
	work.done = true
	if work.fence != nil {
		if f, ok := g.fences[work.fence]; ok {
			f.pending = false
			f.signaled = true
		}
	}
}

func (g *GPU) completeAll() {
	for _, w := range g.pending {
		g.complete(w)
	}
	g.pending = nil
}

func (g *GPU) QueueWaitIdle(queue vk.Queue) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.record("QueueWaitIdle", queue)
	g.completeAll()
	return nil
}

func (g *GPU) DeviceWaitIdle() error {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.record("DeviceWaitIdle")
	g.completeAll()
	return nil
}

func (g *GPU) CreateCommandPool(info *vk.CommandPoolCreateInfo) (vk.CommandPool, error) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	pool := vk.CommandPool(handle())
	g.record("CreateCommandPool", pool, info.Flags)
	g.live["commandpool"]++
	return pool, nil
}

func (g *GPU) DestroyCommandPool(pool vk.CommandPool) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.record("DestroyCommandPool", pool)
	g.live["commandpool"]--
}

func (g *GPU) AllocateCommandBuffers(info *vk.CommandBufferAllocateInfo) ([]vk.CommandBuffer, error) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	buffers := make([]vk.CommandBuffer, info.CommandBufferCount)
	for idx := range buffers {
		buffers[idx] = vk.CommandBuffer(handle())
		g.recorders[buffers[idx]] = &recorder{}
	}
	g.record("AllocateCommandBuffers", info.CommandPool, len(buffers))
	g.live["commandbuffer"] += len(buffers)
	return buffers, nil
}

func (g *GPU) FreeCommandBuffers(pool vk.CommandPool, buffers []vk.CommandBuffer) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.record("FreeCommandBuffers", pool, len(buffers))
	for _, cmd := range buffers {
		if rec, ok := g.recorders[cmd]; ok && rec.work != nil && !rec.work.done {
			g.violate("free of pending command buffer")
		}
		delete(g.recorders, cmd)
	}
	g.live["commandbuffer"] -= len(buffers)
}

func (g *GPU) BeginCommandBuffer(cmd vk.CommandBuffer, info *vk.CommandBufferBeginInfo) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.record("BeginCommandBuffer", cmd)
	rec, ok := g.recorders[cmd]
	if !ok {
		return fmt.Errorf("vk.BeginCommandBuffer(): unknown command buffer")
	}
	if rec.work != nil && !rec.work.done {
		g.violate("command buffer re-recorded while pending")
	}
	rec.commands = nil
	rec.sets = nil
	rec.push = nil
	rec.boundSet = nil
	rec.open = true
	return nil
}

func (g *GPU) EndCommandBuffer(cmd vk.CommandBuffer) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.record("EndCommandBuffer", cmd)
	rec, ok := g.recorders[cmd]
	if !ok || !rec.open {
		return fmt.Errorf("vk.EndCommandBuffer(): command buffer is not recording")
	}
	rec.open = false
	return nil
}

func (g *GPU) ResetCommandBuffer(cmd vk.CommandBuffer) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.record("ResetCommandBuffer", cmd)
	rec, ok := g.recorders[cmd]
	if !ok {
		return fmt.Errorf("vk.ResetCommandBuffer(): unknown command buffer")
	}
	if rec.work != nil && !rec.work.done {
		g.violate("reset of pending command buffer")
	}
	rec.commands = nil
	rec.sets = nil
	rec.open = false
	return nil
}

func (g *GPU) CreateFence(signaled bool) (vk.Fence, error) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	fence := vk.Fence(handle())
	g.fences[fence] = &fenceState{signaled: signaled}
	g.record("CreateFence", fence, signaled)
	g.live["fence"]++
	return fence, nil
}

func (g *GPU) DestroyFence(fence vk.Fence) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.record("DestroyFence", fence)
	if f, ok := g.fences[fence]; ok && f.pending {
		g.violate("destroy of pending fence")
	}
	delete(g.fences, fence)
	g.live["fence"]--
}

func (g *GPU) WaitForFences(fences []vk.Fence, timeout uint64) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.record("WaitForFences", fences)
	for _, fence := range fences {
		f, ok := g.fences[fence]
		if !ok {
			return fmt.Errorf("vk.WaitForFences(): unknown fence")
		}
		if f.signaled {
			continue
		}
		if !f.pending {
			// A real device would block forever.
			g.violate("wait on fence with no pending work")
			return fmt.Errorf("vk.WaitForFences(): %s", "VK_TIMEOUT")
		}
		for _, w := range g.pending {
			if w.fence == fence {
				g.complete(w)
			}
		}
	}
	return nil
}

func (g *GPU) ResetFences(fences []vk.Fence) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.record("ResetFences", fences)
	for _, fence := range fences {
		f, ok := g.fences[fence]
		if !ok {
			return fmt.Errorf("vk.ResetFences(): unknown fence")
		}
		if f.pending {
			g.violate("reset of pending fence")
		}
		f.signaled = false
	}
	return nil
}

func (g *GPU) CreateSemaphore() (vk.Semaphore, error) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	semaphore := vk.Semaphore(handle())
	g.semaphores[semaphore] = false
	g.record("CreateSemaphore", semaphore)
	g.live["semaphore"]++
	return semaphore, nil
}

func (g *GPU) DestroySemaphore(semaphore vk.Semaphore) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.record("DestroySemaphore", semaphore)
	delete(g.semaphores, semaphore)
	g.live["semaphore"]--
}

func (g *GPU) CreateBuffer(info *vk.BufferCreateInfo) (vk.Buffer, error) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	buffer := vk.Buffer(handle())
	g.buffers[buffer] = &bufferState{size: info.Size}
	g.record("CreateBuffer", buffer, info.Size, info.Usage)
	g.live["buffer"]++
	return buffer, nil
}

func (g *GPU) DestroyBuffer(buffer vk.Buffer) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.record("DestroyBuffer", buffer)
	delete(g.buffers, buffer)
	g.live["buffer"]--
}

func (g *GPU) allTypes() uint32 {
	return uint32(1)<<g.Memory.MemoryTypeCount - 1
}

func (g *GPU) BufferMemoryRequirements(buffer vk.Buffer) vk.MemoryRequirements {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	var size vk.DeviceSize
	if b, ok := g.buffers[buffer]; ok {
		size = b.size
	}
	return vk.MemoryRequirements{Size: size, Alignment: 16, MemoryTypeBits: g.allTypes()}
}

func (g *GPU) BindBufferMemory(buffer vk.Buffer, memory vk.DeviceMemory, offset vk.DeviceSize) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.record("BindBufferMemory", buffer, memory)
	b, ok := g.buffers[buffer]
	if !ok {
		return fmt.Errorf("vk.BindBufferMemory(): unknown buffer")
	}
	if _, ok := g.memories[memory]; !ok {
		return fmt.Errorf("vk.BindBufferMemory(): unknown memory")
	}
	b.memory = memory
	b.offset = offset
	return nil
}

// FormatSize returns the texel size in bytes the fake assumes for a format.
func FormatSize(format vk.Format) int {
	switch format {
	case vk.FormatR8Unorm, vk.FormatS8Uint:
		return 1
	case vk.FormatD16Unorm:
		return 2
	case vk.FormatR16g16b16a16Sfloat, vk.FormatD32SfloatS8Uint:
		return 8
	case vk.FormatR32g32b32a32Sfloat:
		return 16
	default:
		return 4
	}
}

func (g *GPU) CreateImage(info *vk.ImageCreateInfo) (vk.Image, error) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	if info.Extent.Width == 0 || info.Extent.Height == 0 {
		return nil, fmt.Errorf("vk.CreateImage(): zero extent")
	}
	image := vk.Image(handle())
	g.images[image] = &imageState{info: *info, layout: info.InitialLayout}
	g.record("CreateImage", image, info.Extent, info.Format, info.Usage)
	g.live["image"]++
	return image, nil
}

func (g *GPU) DestroyImage(image vk.Image) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.record("DestroyImage", image)
	delete(g.images, image)
	g.live["image"]--
}

func (g *GPU) ImageMemoryRequirements(image vk.Image) vk.MemoryRequirements {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	var size vk.DeviceSize
	if s, ok := g.images[image]; ok {
		size = vk.DeviceSize(int(s.info.Extent.Width) * int(s.info.Extent.Height) *
			int(s.info.ArrayLayers) * FormatSize(s.info.Format))
	}
	return vk.MemoryRequirements{Size: size, Alignment: 256, MemoryTypeBits: g.allTypes()}
}

func (g *GPU) BindImageMemory(image vk.Image, memory vk.DeviceMemory, offset vk.DeviceSize) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.record("BindImageMemory", image, memory)
	if _, ok := g.images[image]; !ok {
		return fmt.Errorf("vk.BindImageMemory(): unknown image")
	}
	if _, ok := g.memories[memory]; !ok {
		return fmt.Errorf("vk.BindImageMemory(): unknown memory")
	}
	return nil
}

func (g *GPU) AllocateMemory(info *vk.MemoryAllocateInfo) (vk.DeviceMemory, error) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	if info.MemoryTypeIndex >= g.Memory.MemoryTypeCount {
		return nil, fmt.Errorf("vk.AllocateMemory(): memory type %d out of range", info.MemoryTypeIndex)
	}
	memory := vk.DeviceMemory(handle())
	g.memories[memory] = make([]byte, info.AllocationSize)
	g.record("AllocateMemory", memory, info.AllocationSize, info.MemoryTypeIndex)
	g.live["memory"]++
	return memory, nil
}

func (g *GPU) FreeMemory(memory vk.DeviceMemory) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.record("FreeMemory", memory)
	if g.mapped[memory] {
		g.violate("free of mapped memory")
	}
	delete(g.memories, memory)
	delete(g.mapped, memory)
	g.live["memory"]--
}

func (g *GPU) MapMemory(memory vk.DeviceMemory, offset, size vk.DeviceSize) (unsafe.Pointer, error) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.record("MapMemory", memory, offset, size)
	data, ok := g.memories[memory]
	if !ok {
		return nil, fmt.Errorf("vk.MapMemory(): unknown memory")
	}
	if g.mapped[memory] {
		g.violate("memory mapped twice")
	}
	if int(offset) >= len(data) {
		return nil, fmt.Errorf("vk.MapMemory(): offset out of range")
	}
	g.mapped[memory] = true
	return unsafe.Pointer(&data[offset]), nil
}

func (g *GPU) UnmapMemory(memory vk.DeviceMemory) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.record("UnmapMemory", memory)
	if !g.mapped[memory] {
		g.violate("unmap of memory that is not mapped")
	}
	g.mapped[memory] = false
}

// Mapped reports whether memory is currently mapped.
func (g *GPU) Mapped(memory vk.DeviceMemory) bool {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return g.mapped[memory]
}

// BufferContents returns a copy of the memory bound to a buffer.
func (g *GPU) BufferContents(buffer vk.Buffer) []byte {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	b, ok := g.buffers[buffer]
	if !ok || b.memory == nil {
		return nil
	}
	data := g.memories[b.memory]
	end := b.offset + b.size
	if int(end) > len(data) {
		end = vk.DeviceSize(len(data))
	}
	return append([]byte(nil), data[b.offset:end]...)
}

func (g *GPU) create(kind, op string, args ...interface{}) unsafe.Pointer {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	h := handle()
	g.record(op, append([]interface{}{h}, args...)...)
	g.live[kind]++
	return h
}

func (g *GPU) destroy(kind, op string, h interface{}) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.record(op, h)
	g.live[kind]--
}

func (g *GPU) CreateImageView(info *vk.ImageViewCreateInfo) (vk.ImageView, error) {
	return vk.ImageView(g.create("imageview", "CreateImageView", info.Image, info.Format, info.SubresourceRange.AspectMask)), nil
}

func (g *GPU) DestroyImageView(view vk.ImageView) {
	g.destroy("imageview", "DestroyImageView", view)
}

func (g *GPU) CreateSampler(info *vk.SamplerCreateInfo) (vk.Sampler, error) {
	return vk.Sampler(g.create("sampler", "CreateSampler", *info)), nil
}

func (g *GPU) DestroySampler(sampler vk.Sampler) {
	g.destroy("sampler", "DestroySampler", sampler)
}

func (g *GPU) CreateRenderPass(info *vk.RenderPassCreateInfo) (vk.RenderPass, error) {
	attachments := append([]vk.AttachmentDescription(nil), info.PAttachments...)
	subpasses := append([]vk.SubpassDescription(nil), info.PSubpasses...)
	dependencies := append([]vk.SubpassDependency(nil), info.PDependencies...)
	return vk.RenderPass(g.create("renderpass", "CreateRenderPass", attachments, subpasses, dependencies)), nil
}

func (g *GPU) DestroyRenderPass(pass vk.RenderPass) {
	g.destroy("renderpass", "DestroyRenderPass", pass)
}

func (g *GPU) CreateFramebuffer(info *vk.FramebufferCreateInfo) (vk.Framebuffer, error) {
	if info.Width == 0 || info.Height == 0 {
		return nil, fmt.Errorf("vk.CreateFramebuffer(): zero extent")
	}
	return vk.Framebuffer(g.create("framebuffer", "CreateFramebuffer",
		info.RenderPass, info.Width, info.Height, info.Layers, len(info.PAttachments))), nil
}

func (g *GPU) DestroyFramebuffer(framebuffer vk.Framebuffer) {
	g.destroy("framebuffer", "DestroyFramebuffer", framebuffer)
}

func (g *GPU) SurfaceCapabilities(surface vk.Surface) (vk.SurfaceCapabilities, error) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.record("SurfaceCapabilities", surface)
	return g.Capabilities, nil
}

func (g *GPU) SurfaceFormats(surface vk.Surface) ([]vk.SurfaceFormat, error) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return append([]vk.SurfaceFormat(nil), g.Formats...), nil
}

func (g *GPU) SurfacePresentModes(surface vk.Surface) ([]vk.PresentMode, error) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return append([]vk.PresentMode(nil), g.PresentModes...), nil
}

func (g *GPU) CreateSwapchain(info *vk.SwapchainCreateInfo) (vk.Swapchain, error) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	if info.ImageExtent.Width == 0 || info.ImageExtent.Height == 0 {
		return vk.NullSwapchain, fmt.Errorf("vk.CreateSwapchain(): zero extent")
	}
	swapchain := vk.Swapchain(handle())
	state := &swapchainState{}
	for idx := uint32(0); idx < info.MinImageCount; idx++ {
		image := vk.Image(handle())
		g.images[image] = &imageState{info: vk.ImageCreateInfo{
			Format:      info.ImageFormat,
			Extent:      vk.Extent3D{Width: info.ImageExtent.Width, Height: info.ImageExtent.Height, Depth: 1},
			ArrayLayers: 1,
		}}
		state.images = append(state.images, image)
	}
	g.swapchains[swapchain] = state
	g.record("CreateSwapchain", swapchain, *info)
	g.live["swapchain"]++
	return swapchain, nil
}

func (g *GPU) DestroySwapchain(swapchain vk.Swapchain) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.record("DestroySwapchain", swapchain)
	if s, ok := g.swapchains[swapchain]; ok {
		for _, image := range s.images {
			delete(g.images, image)
		}
	}
	delete(g.swapchains, swapchain)
	g.live["swapchain"]--
}

func (g *GPU) SwapchainImages(swapchain vk.Swapchain) ([]vk.Image, error) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	s, ok := g.swapchains[swapchain]
	if !ok {
		return nil, fmt.Errorf("vk.GetSwapchainImages(): unknown swapchain")
	}
	return append([]vk.Image(nil), s.images...), nil
}

func (g *GPU) AcquireNextImage(swapchain vk.Swapchain, timeout uint64, semaphore vk.Semaphore, fence vk.Fence) (uint32, vk.Result) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.record("AcquireNextImage", swapchain, semaphore)

	result := vk.Success
	if len(g.AcquireResults) > 0 {
		result = g.AcquireResults[0]
		g.AcquireResults = g.AcquireResults[1:]
	}
	if result != vk.Success && result != vk.Suboptimal {
		return 0, result
	}
	s, ok := g.swapchains[swapchain]
	if !ok {
		return 0, vk.ErrorSurfaceLost
	}
	if g.semaphores[semaphore] {
		g.violate("acquire signals semaphore that is already signaled")
	}
	g.semaphores[semaphore] = true
	index := s.next % uint32(len(s.images))
	s.next++
	return index, result
}

func (g *GPU) CreateDescriptorPool(info *vk.DescriptorPoolCreateInfo) (vk.DescriptorPool, error) {
	sizes := append([]vk.DescriptorPoolSize(nil), info.PPoolSizes...)
	return vk.DescriptorPool(g.create("descriptorpool", "CreateDescriptorPool", info.MaxSets, sizes)), nil
}

func (g *GPU) DestroyDescriptorPool(pool vk.DescriptorPool) {
	g.destroy("descriptorpool", "DestroyDescriptorPool", pool)
}

func (g *GPU) poolPending(pool vk.DescriptorPool) bool {
	for _, w := range g.poolWork[pool] {
		if !w.done {
			return true
		}
	}
	return false
}

func (g *GPU) ResetDescriptorPool(pool vk.DescriptorPool) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.record("ResetDescriptorPool", pool)
	if g.poolPending(pool) {
		g.violate("descriptor pool reset while referenced by pending work")
	}
	delete(g.poolWork, pool)
	for set, p := range g.setPools {
		if p == pool {
			delete(g.setPools, set)
		}
	}
	return nil
}

func (g *GPU) CreateDescriptorSetLayout(info *vk.DescriptorSetLayoutCreateInfo) (vk.DescriptorSetLayout, error) {
	bindings := append([]vk.DescriptorSetLayoutBinding(nil), info.PBindings...)
	return vk.DescriptorSetLayout(g.create("setlayout", "CreateDescriptorSetLayout", bindings)), nil
}

func (g *GPU) DestroyDescriptorSetLayout(layout vk.DescriptorSetLayout) {
	g.destroy("setlayout", "DestroyDescriptorSetLayout", layout)
}

func (g *GPU) AllocateDescriptorSets(pool vk.DescriptorPool, layouts []vk.DescriptorSetLayout) ([]vk.DescriptorSet, error) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.record("AllocateDescriptorSets", pool, len(layouts))
	if g.poolPending(pool) {
		g.violate("descriptor sets allocated from pool referenced by pending work")
	}
	sets := make([]vk.DescriptorSet, len(layouts))
	for idx := range sets {
		sets[idx] = vk.DescriptorSet(handle())
		g.setPools[sets[idx]] = pool
	}
	return sets, nil
}

func (g *GPU) UpdateDescriptorSets(writes []vk.WriteDescriptorSet) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	for _, w := range writes {
		if _, ok := g.setPools[w.DstSet]; !ok {
			g.violate("descriptor write to a set that is not allocated")
		}
		g.record("UpdateDescriptorSets", w.DstSet, w.DstBinding, w.DescriptorType)
	}
}

func (g *GPU) CreateShaderModule(code []uint32) (vk.ShaderModule, error) {
	if len(code) == 0 {
		return nil, fmt.Errorf("vk.CreateShaderModule(): empty code")
	}
	return vk.ShaderModule(g.create("shadermodule", "CreateShaderModule", len(code))), nil
}

func (g *GPU) DestroyShaderModule(module vk.ShaderModule) {
	g.destroy("shadermodule", "DestroyShaderModule", module)
}

func (g *GPU) CreatePipelineLayout(info *vk.PipelineLayoutCreateInfo) (vk.PipelineLayout, error) {
	layout := vk.PipelineLayout(g.create("pipelinelayout", "CreatePipelineLayout",
		len(info.PSetLayouts), append([]vk.PushConstantRange(nil), info.PPushConstantRanges...)))
	g.mutex.Lock()
	g.pipelineLay[layout] = *info
	g.mutex.Unlock()
	return layout, nil
}

func (g *GPU) DestroyPipelineLayout(layout vk.PipelineLayout) {
	g.destroy("pipelinelayout", "DestroyPipelineLayout", layout)
}

func (g *GPU) CreateGraphicsPipeline(info *vk.GraphicsPipelineCreateInfo) (vk.Pipeline, error) {
	return vk.Pipeline(g.create("pipeline", "CreateGraphicsPipeline", info.RenderPass, info.Layout)), nil
}

func (g *GPU) DestroyPipeline(pipeline vk.Pipeline) {
	g.destroy("pipeline", "DestroyPipeline", pipeline)
}

func (g *GPU) recording(op string, cmd vk.CommandBuffer) *recorder {
	rec, ok := g.recorders[cmd]
	if !ok || !rec.open {
		g.violate("%s on command buffer that is not recording", op)
		return &recorder{}
	}
	return rec
}

func (g *GPU) CmdPipelineBarrier(cmd vk.CommandBuffer, src, dst vk.PipelineStageFlags, barriers []vk.ImageMemoryBarrier) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.record("CmdPipelineBarrier", cmd, src, dst, append([]vk.ImageMemoryBarrier(nil), barriers...))
	rec := g.recording("CmdPipelineBarrier", cmd)
	for _, b := range barriers {
		barrier := b
		rec.commands = append(rec.commands, func(g *GPU) {
			s, ok := g.images[barrier.Image]
			if !ok {
				g.violate("barrier on unknown image")
				return
			}
			if barrier.OldLayout != vk.ImageLayoutUndefined && barrier.OldLayout != s.layout {
				g.violate("barrier from layout %d but image is in %d", barrier.OldLayout, s.layout)
			}
			s.layout = barrier.NewLayout
		})
	}
}

func (g *GPU) CmdCopyBufferToImage(cmd vk.CommandBuffer, buffer vk.Buffer, image vk.Image, layout vk.ImageLayout, regions []vk.BufferImageCopy) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.record("CmdCopyBufferToImage", cmd, buffer, image)
	rec := g.recording("CmdCopyBufferToImage", cmd)
	rec.commands = append(rec.commands, func(g *GPU) {
		b, okb := g.buffers[buffer]
		s, oki := g.images[image]
		if !okb || !oki {
			g.violate("copy between unknown objects")
			return
		}
		if s.layout != vk.ImageLayoutTransferDstOptimal || layout != vk.ImageLayoutTransferDstOptimal {
			g.violate("copy into image not in transfer destination layout")
		}
		src := g.memories[b.memory][b.offset : b.offset+b.size]
		for _, r := range regions {
			n := int(r.ImageExtent.Width) * int(r.ImageExtent.Height) *
				int(r.ImageSubresource.LayerCount) * FormatSize(s.info.Format)
			off := int(r.BufferOffset)
			if off+n > len(src) {
				g.violate("copy reads past the end of the source buffer")
				return
			}
			s.data = append(s.data[:0], src[off:off+n]...)
		}
	})
}

func (g *GPU) CmdBeginRenderPass(cmd vk.CommandBuffer, info *vk.RenderPassBeginInfo) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.record("CmdBeginRenderPass", cmd, info.RenderPass, info.Framebuffer, info.RenderArea.Extent, len(info.PClearValues))
	g.recording("CmdBeginRenderPass", cmd)
}

func (g *GPU) CmdEndRenderPass(cmd vk.CommandBuffer) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.record("CmdEndRenderPass", cmd)
	g.recording("CmdEndRenderPass", cmd)
}

func (g *GPU) CmdSetViewport(cmd vk.CommandBuffer, viewport vk.Viewport) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.record("CmdSetViewport", cmd, viewport)
	g.recording("CmdSetViewport", cmd)
}

func (g *GPU) CmdSetScissor(cmd vk.CommandBuffer, scissor vk.Rect2D) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.record("CmdSetScissor", cmd, scissor)
	g.recording("CmdSetScissor", cmd)
}

func (g *GPU) CmdBindPipeline(cmd vk.CommandBuffer, pipeline vk.Pipeline) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.record("CmdBindPipeline", cmd, pipeline)
	g.recording("CmdBindPipeline", cmd)
}

func (g *GPU) CmdBindVertexBuffer(cmd vk.CommandBuffer, buffer vk.Buffer, offset vk.DeviceSize) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.record("CmdBindVertexBuffer", cmd, buffer, offset)
	g.recording("CmdBindVertexBuffer", cmd)
}

func (g *GPU) CmdBindIndexBuffer(cmd vk.CommandBuffer, buffer vk.Buffer, offset vk.DeviceSize, indexType vk.IndexType) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.record("CmdBindIndexBuffer", cmd, buffer, offset, indexType)
	g.recording("CmdBindIndexBuffer", cmd)
}

func (g *GPU) CmdBindDescriptorSets(cmd vk.CommandBuffer, layout vk.PipelineLayout, sets []vk.DescriptorSet) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.record("CmdBindDescriptorSets", cmd, layout, len(sets))
	rec := g.recording("CmdBindDescriptorSets", cmd)
	for _, set := range sets {
		if _, ok := g.setPools[set]; !ok {
			g.violate("bind of descriptor set that is not allocated")
		}
	}
	rec.sets = append(rec.sets, sets...)
	rec.boundSet = append([]vk.DescriptorSet(nil), sets...)
}

func (g *GPU) CmdPushConstants(cmd vk.CommandBuffer, layout vk.PipelineLayout, stages vk.ShaderStageFlags, offset uint32, data []byte) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.record("CmdPushConstants", cmd, layout, stages, offset, len(data))
	rec := g.recording("CmdPushConstants", cmd)
	info, ok := g.pipelineLay[layout]
	if !ok {
		g.violate("push constants with unknown pipeline layout")
	} else {
		var covered bool
		for _, r := range info.PPushConstantRanges {
			if r.StageFlags&stages == stages && offset >= r.Offset && offset+uint32(len(data)) <= r.Offset+r.Size {
				covered = true
			}
		}
		if !covered {
			g.violate("push constants outside of the layout ranges")
		}
	}
	rec.push = append([]byte(nil), data...)
}

func (g *GPU) CmdDrawIndexed(cmd vk.CommandBuffer, indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.record("CmdDrawIndexed", cmd, indexCount, firstIndex, vertexOffset)
	rec := g.recording("CmdDrawIndexed", cmd)
	g.draws = append(g.draws, Draw{
		Cmd:          cmd,
		IndexCount:   indexCount,
		FirstIndex:   firstIndex,
		VertexOffset: vertexOffset,
		Push:         rec.push,
		Sets:         rec.boundSet,
	})
}

func (g *GPU) Destroy() {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.record("DestroyDevice")
}
