// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"github.com/devblok/vkplayground/device"
	"github.com/devblok/vkplayground/driver"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	vk "github.com/vulkan-go/vulkan"
)

// State is the frame pacing state of a SwapChain.
type State int

const (
	// Idle is the state between frames.
	Idle State = iota

	// ImageAcquired follows a successful BeginFrame.
	ImageAcquired

	// Recording is entered once the frame command buffer is opened.
	Recording

	// Submitted means the command buffer was handed to the GPU.
	Submitted

	// Presented means the image was queued for presentation.
	Presented
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ImageAcquired:
		return "image-acquired"
	case Recording:
		return "recording"
	case Submitted:
		return "submitted"
	case Presented:
		return "presented"
	default:
		return "unknown"
	}
}

// maxAcquireAttempts bounds how often an out of date acquire is retried.
const maxAcquireAttempts = 3

// ChooseSurfaceFormat prefers 8 bit sRGB BGRA, otherwise the first format.
func ChooseSurfaceFormat(formats []vk.SurfaceFormat) vk.SurfaceFormat {
	for _, f := range formats {
		if f.Format == vk.FormatB8g8r8a8Srgb && f.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			return f
		}
	}
	return formats[0]
}

// ChoosePresentMode prefers mailbox unless vsync is requested. FIFO is
// the fallback that is always available.
func ChoosePresentMode(modes []vk.PresentMode, vsync bool) vk.PresentMode {
	if !vsync {
		for _, m := range modes {
			if m == vk.PresentModeMailbox {
				return m
			}
		}
	}
	return vk.PresentModeFifo
}

// ChooseExtent returns the surface extent, or the drawable size clamped to
// the surface limits when the surface leaves the choice to the application.
func ChooseExtent(caps vk.SurfaceCapabilities, drawable vk.Extent2D) vk.Extent2D {
	if caps.CurrentExtent.Width != vk.MaxUint32 {
		return caps.CurrentExtent
	}
	return vk.Extent2D{
		Width:  clamp(drawable.Width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width),
		Height: clamp(drawable.Height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height),
	}
}

func clamp(v, min, max uint32) uint32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// ChooseImageCount asks for one image over the minimum, within the maximum.
// A maximum of zero means there is no limit.
func ChooseImageCount(caps vk.SurfaceCapabilities) uint32 {
	count := caps.MinImageCount + 1
	if caps.MaxImageCount > 0 && count > caps.MaxImageCount {
		count = caps.MaxImageCount
	}
	return count
}

// SwapChainImage is a presentable image with its view. The image memory
// belongs to the presentation engine.
type SwapChainImage struct {
	Image vk.Image
	View  vk.ImageView
}

// NewSwapChain creates the swapchain for the surface along with its render
// pass, framebuffers, command buffers and synchronization objects.
// drawable returns the window framebuffer size, it is consulted when the
// surface does not report its extent.
func NewSwapChain(dev *device.Device, surface vk.Surface, drawable func() vk.Extent2D, vsync bool) (*SwapChain, error) {
	gpu := dev.GPU()
	sc := &SwapChain{
		dev:      dev,
		gpu:      gpu,
		surface:  surface,
		drawable: drawable,
		vsync:    vsync,
	}

	var err error
	if sc.commandPool, err = gpu.CreateCommandPool(&vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateTransientBit | vk.CommandPoolCreateResetCommandBufferBit),
		QueueFamilyIndex: uint32(dev.QueueFamilyIndices().Graphics),
	}); err != nil {
		return nil, err
	}

	for slot := 0; slot < FramesInFlight; slot++ {
		if sc.presentComplete[slot], err = gpu.CreateSemaphore(); err != nil {
			sc.Release()
			return nil, err
		}
		if sc.waitFences[slot], err = gpu.CreateFence(true); err != nil {
			sc.Release()
			return nil, err
		}
	}

	if err := sc.create(vk.NullSwapchain); err != nil {
		sc.Release()
		return nil, err
	}
	return sc, nil
}

// SwapChain owns the presentable images and paces frames. At most
// FramesInFlight frames are recorded ahead of the GPU. It is not safe
// for concurrent use.
type SwapChain struct {
	dev      *device.Device
	gpu      driver.GPU
	surface  vk.Surface
	drawable func() vk.Extent2D
	vsync    bool

	swapchain    vk.Swapchain
	format       vk.SurfaceFormat
	presentMode  vk.PresentMode
	extent       vk.Extent2D
	images       []SwapChainImage
	renderPass   vk.RenderPass
	framebuffers []vk.Framebuffer

	commandPool    vk.CommandPool
	commandBuffers []vk.CommandBuffer

	presentComplete [FramesInFlight]vk.Semaphore
	waitFences      [FramesInFlight]vk.Fence
	renderComplete  []vk.Semaphore

	frame     Frame
	state     State
	recording bool
	listeners []func(vk.Extent2D)
}

func (sc *SwapChain) create(old vk.Swapchain) error {
	caps, err := sc.gpu.SurfaceCapabilities(sc.surface)
	if err != nil {
		return err
	}
	formats, err := sc.gpu.SurfaceFormats(sc.surface)
	if err != nil {
		return err
	}
	if len(formats) == 0 {
		return errors.New("surface reports no formats")
	}
	modes, err := sc.gpu.SurfacePresentModes(sc.surface)
	if err != nil {
		return err
	}

	var drawable vk.Extent2D
	if sc.drawable != nil {
		drawable = sc.drawable()
	}

	sc.format = ChooseSurfaceFormat(formats)
	sc.presentMode = ChoosePresentMode(modes, sc.vsync)
	sc.extent = ChooseExtent(caps, drawable)
	if sc.extent.Width == 0 || sc.extent.Height == 0 {
		if old != vk.NullSwapchain {
			sc.gpu.DestroySwapchain(old)
		}
		sc.swapchain = vk.NullSwapchain
		return ErrZeroExtent
	}

	preTransform := caps.CurrentTransform
	if vk.SurfaceTransformFlagBits(caps.SupportedTransforms)&vk.SurfaceTransformIdentityBit != 0 {
		preTransform = vk.SurfaceTransformIdentityBit
	}

	compositeAlpha := vk.CompositeAlphaOpaqueBit
	for _, flag := range []vk.CompositeAlphaFlagBits{
		vk.CompositeAlphaOpaqueBit,
		vk.CompositeAlphaPreMultipliedBit,
		vk.CompositeAlphaPostMultipliedBit,
		vk.CompositeAlphaInheritBit,
	} {
		if vk.CompositeAlphaFlagBits(caps.SupportedCompositeAlpha)&flag != 0 {
			compositeAlpha = flag
			break
		}
	}

	indices := sc.dev.QueueFamilyIndices()
	sharingMode := vk.SharingModeExclusive
	var queueFamilies []uint32
	if indices.Graphics != indices.Present {
		sharingMode = vk.SharingModeConcurrent
		queueFamilies = []uint32{uint32(indices.Graphics), uint32(indices.Present)}
	}

	swapchain, err := sc.gpu.CreateSwapchain(&vk.SwapchainCreateInfo{
		SType:                 vk.StructureTypeSwapchainCreateInfo,
		Surface:               sc.surface,
		MinImageCount:         ChooseImageCount(caps),
		ImageFormat:           sc.format.Format,
		ImageColorSpace:       sc.format.ColorSpace,
		ImageExtent:           sc.extent,
		ImageArrayLayers:      1,
		ImageUsage:            vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		ImageSharingMode:      sharingMode,
		QueueFamilyIndexCount: uint32(len(queueFamilies)),
		PQueueFamilyIndices:   queueFamilies,
		PreTransform:          preTransform,
		CompositeAlpha:        compositeAlpha,
		PresentMode:           sc.presentMode,
		Clipped:               vk.True,
		OldSwapchain:          old,
	})
	if old != vk.NullSwapchain {
		sc.gpu.DestroySwapchain(old)
	}
	if err != nil {
		sc.swapchain = vk.NullSwapchain
		return err
	}
	sc.swapchain = swapchain

	images, err := sc.gpu.SwapchainImages(swapchain)
	if err != nil {
		return err
	}
	for _, image := range images {
		view, err := sc.gpu.CreateImageView(&vk.ImageViewCreateInfo{
			SType:    vk.StructureTypeImageViewCreateInfo,
			Image:    image,
			ViewType: vk.ImageViewType2d,
			Format:   sc.format.Format,
			Components: vk.ComponentMapping{
				R: vk.ComponentSwizzleR,
				G: vk.ComponentSwizzleG,
				B: vk.ComponentSwizzleB,
				A: vk.ComponentSwizzleA,
			},
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
				LevelCount: 1,
				LayerCount: 1,
			},
		})
		if err != nil {
			return err
		}
		sc.images = append(sc.images, SwapChainImage{Image: image, View: view})
	}

	if err := sc.createRenderPass(); err != nil {
		return err
	}

	for _, image := range sc.images {
		framebuffer, err := sc.gpu.CreateFramebuffer(&vk.FramebufferCreateInfo{
			SType:           vk.StructureTypeFramebufferCreateInfo,
			RenderPass:      sc.renderPass,
			AttachmentCount: 1,
			PAttachments:    []vk.ImageView{image.View},
			Width:           sc.extent.Width,
			Height:          sc.extent.Height,
			Layers:          1,
		})
		if err != nil {
			return err
		}
		sc.framebuffers = append(sc.framebuffers, framebuffer)
	}

	count := len(sc.images)
	if count < FramesInFlight {
		count = FramesInFlight
	}
	if sc.commandBuffers, err = sc.gpu.AllocateCommandBuffers(&vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        sc.commandPool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: uint32(count),
	}); err != nil {
		return err
	}

	for range sc.images {
		semaphore, err := sc.gpu.CreateSemaphore()
		if err != nil {
			return err
		}
		sc.renderComplete = append(sc.renderComplete, semaphore)
	}

	log.WithFields(log.Fields{
		"width":       sc.extent.Width,
		"height":      sc.extent.Height,
		"images":      len(sc.images),
		"presentMode": presentModeName(sc.presentMode),
		"format":      sc.format.Format,
	}).Info("swapchain created")
	return nil
}

func (sc *SwapChain) createRenderPass() error {
	var err error
	sc.renderPass, err = sc.gpu.CreateRenderPass(&vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: 1,
		PAttachments: []vk.AttachmentDescription{{
			Format:         sc.format.Format,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpClear,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
			FinalLayout:    vk.ImageLayoutPresentSrc,
		}},
		SubpassCount: 1,
		PSubpasses: []vk.SubpassDescription{{
			PipelineBindPoint:    vk.PipelineBindPointGraphics,
			ColorAttachmentCount: 1,
			PColorAttachments: []vk.AttachmentReference{{
				Attachment: 0,
				Layout:     vk.ImageLayoutColorAttachmentOptimal,
			}},
		}},
		DependencyCount: 1,
		PDependencies: []vk.SubpassDependency{{
			SrcSubpass:    vk.SubpassExternal,
			DstSubpass:    0,
			SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
			DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
			SrcAccessMask: 0,
			DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit),
		}},
	})
	return err
}

// destroy releases everything create made except the swapchain itself,
// which is handed to the next create as the old swapchain.
func (sc *SwapChain) destroy() {
	for _, semaphore := range sc.renderComplete {
		sc.gpu.DestroySemaphore(semaphore)
	}
	sc.renderComplete = nil

	if len(sc.commandBuffers) > 0 {
		sc.gpu.FreeCommandBuffers(sc.commandPool, sc.commandBuffers)
		sc.commandBuffers = nil
	}

	for _, framebuffer := range sc.framebuffers {
		sc.gpu.DestroyFramebuffer(framebuffer)
	}
	sc.framebuffers = nil

	if sc.renderPass != nil {
		sc.gpu.DestroyRenderPass(sc.renderPass)
		sc.renderPass = nil
	}

	for _, image := range sc.images {
		sc.gpu.DestroyImageView(image.View)
	}
	sc.images = nil
}

// Resize drains the device and rebuilds the swapchain and everything that
// depends on it for the current surface size. Resize listeners are called
// with the new extent. It may only be called between frames.
func (sc *SwapChain) Resize() error {
	if sc.state != Idle {
		return errors.Wrapf(ErrInvalidState, "resize while %s", sc.state)
	}
	return sc.resize()
}

func (sc *SwapChain) resize() error {
	if err := sc.gpu.DeviceWaitIdle(); err != nil {
		return err
	}

	sc.destroy()
	if err := sc.create(sc.swapchain); err != nil {
		return err
	}
	sc.frame = Frame{}

	for _, fn := range sc.listeners {
		fn(sc.extent)
	}
	return nil
}

// OnResize registers fn to be called after every rebuild.
func (sc *SwapChain) OnResize(fn func(extent vk.Extent2D)) {
	sc.listeners = append(sc.listeners, fn)
}

// BeginFrame acquires the next presentable image. It returns ErrZeroExtent
// without changing state while the surface has no drawable area.
func (sc *SwapChain) BeginFrame() (Frame, error) {
	if sc.state != Idle {
		return sc.frame, errors.Wrapf(ErrInvalidState, "begin frame while %s", sc.state)
	}

	if sc.swapchain == vk.NullSwapchain {
		if err := sc.resize(); err != nil {
			return sc.frame, err
		}
	}

	for attempt := 0; ; attempt++ {
		index, result := sc.gpu.AcquireNextImage(sc.swapchain, vk.MaxUint64, sc.presentComplete[sc.frame.Slot], vk.NullFence)
		switch result {
		case vk.Success, vk.Suboptimal:
			sc.frame.Image = ImageIndex(index)
			sc.state = ImageAcquired
			return sc.frame, nil
		case vk.ErrorOutOfDate:
			if attempt+1 >= maxAcquireAttempts {
				return sc.frame, driver.Check("vk.AcquireNextImage()", result)
			}
			log.WithField("attempt", attempt+1).Warn("swapchain out of date on acquire, rebuilding")
			if err := sc.resize(); err != nil {
				return sc.frame, err
			}
		default:
			return sc.frame, driver.Check("vk.AcquireNextImage()", result)
		}
	}
}

// BeginCommands opens the command buffer of the current frame slot.
func (sc *SwapChain) BeginCommands() (vk.CommandBuffer, error) {
	if sc.state != ImageAcquired {
		return nil, errors.Wrapf(ErrInvalidState, "begin commands while %s", sc.state)
	}
	cmd := sc.commandBuffers[sc.frame.Slot]
	if err := sc.gpu.BeginCommandBuffer(cmd, &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
	}); err != nil {
		return nil, err
	}
	sc.state = Recording
	sc.recording = true
	return cmd, nil
}

// EndCommands closes the command buffer of the current frame slot.
func (sc *SwapChain) EndCommands() error {
	if sc.state != Recording || !sc.recording {
		return errors.Wrapf(ErrInvalidState, "end commands while %s", sc.state)
	}
	if err := sc.gpu.EndCommandBuffer(sc.commandBuffers[sc.frame.Slot]); err != nil {
		return err
	}
	sc.recording = false
	return nil
}

// Present submits the recorded frame, queues the acquired image for
// presentation and advances the frame slot. A stale surface rebuilds the
// swapchain. It returns once the next frame slot is free for reuse.
func (sc *SwapChain) Present() error {
	if sc.state != Recording || sc.recording {
		return errors.Wrapf(ErrInvalidState, "present while %s", sc.state)
	}

	slot, image := sc.frame.Slot, sc.frame.Image
	fence := sc.waitFences[slot]

	if err := sc.gpu.ResetFences([]vk.Fence{fence}); err != nil {
		return err
	}
	if err := sc.gpu.QueueSubmit(sc.dev.GraphicsQueue(), []vk.SubmitInfo{{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   1,
		PWaitSemaphores:      []vk.Semaphore{sc.presentComplete[slot]},
		PWaitDstStageMask:    []vk.PipelineStageFlags{vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)},
		CommandBufferCount:   1,
		PCommandBuffers:      []vk.CommandBuffer{sc.commandBuffers[slot]},
		SignalSemaphoreCount: 1,
		PSignalSemaphores:    []vk.Semaphore{sc.renderComplete[image]},
	}}, fence); err != nil {
		return err
	}
	sc.state = Submitted

	result := sc.gpu.QueuePresent(sc.dev.PresentQueue(), &vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{sc.renderComplete[image]},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{sc.swapchain},
		PImageIndices:      []uint32{uint32(image)},
	})
	sc.state = Presented

	switch result {
	case vk.Success:
	case vk.Suboptimal, vk.ErrorOutOfDate:
		log.WithField("result", result).Warn("swapchain stale on present, rebuilding")
		sc.state = Idle
		if err := sc.resize(); err != nil {
			return err
		}
		return nil
	default:
		sc.state = Idle
		return driver.Check("vk.QueuePresent()", result)
	}

	sc.frame.Slot = (sc.frame.Slot + 1) % FramesInFlight
	sc.state = Idle
	return sc.gpu.WaitForFences([]vk.Fence{sc.waitFences[sc.frame.Slot]}, vk.MaxUint64)
}

// State returns the current frame pacing state.
func (sc *SwapChain) State() State {
	return sc.state
}

// Frame returns the current frame slot and acquired image.
func (sc *SwapChain) Frame() Frame {
	return sc.frame
}

// CommandBuffer returns the command buffer of the current frame slot.
func (sc *SwapChain) CommandBuffer() vk.CommandBuffer {
	return sc.commandBuffers[sc.frame.Slot]
}

// Framebuffer returns the framebuffer of the acquired image.
func (sc *SwapChain) Framebuffer() vk.Framebuffer {
	return sc.framebuffers[sc.frame.Image]
}

// RenderPass returns the render pass targeting the presentable images.
func (sc *SwapChain) RenderPass() vk.RenderPass {
	return sc.renderPass
}

// Extent returns the size of the presentable images.
func (sc *SwapChain) Extent() vk.Extent2D {
	return sc.extent
}

// Format returns the surface format in use.
func (sc *SwapChain) Format() vk.SurfaceFormat {
	return sc.format
}

// PresentMode returns the present mode in use.
func (sc *SwapChain) PresentMode() vk.PresentMode {
	return sc.presentMode
}

// Images returns the presentable images.
func (sc *SwapChain) Images() []SwapChainImage {
	return sc.images
}

// ImageCount returns the number of presentable images.
func (sc *SwapChain) ImageCount() int {
	return len(sc.images)
}

// Release drains the device and destroys the swapchain and everything it owns.
func (sc *SwapChain) Release() {
	sc.gpu.DeviceWaitIdle()

	sc.destroy()
	if sc.swapchain != vk.NullSwapchain {
		sc.gpu.DestroySwapchain(sc.swapchain)
		sc.swapchain = vk.NullSwapchain
	}
	for slot := 0; slot < FramesInFlight; slot++ {
		if sc.presentComplete[slot] != nil {
			sc.gpu.DestroySemaphore(sc.presentComplete[slot])
			sc.presentComplete[slot] = nil
		}
		if sc.waitFences[slot] != nil {
			sc.gpu.DestroyFence(sc.waitFences[slot])
			sc.waitFences[slot] = nil
		}
	}
	if sc.commandPool != nil {
		sc.gpu.DestroyCommandPool(sc.commandPool)
		sc.commandPool = nil
	}
}

func presentModeName(mode vk.PresentMode) string {
	switch mode {
	case vk.PresentModeImmediate:
		return "immediate"
	case vk.PresentModeMailbox:
		return "mailbox"
	case vk.PresentModeFifo:
		return "fifo"
	case vk.PresentModeFifoRelaxed:
		return "fifo-relaxed"
	default:
		return "unknown"
	}
}
