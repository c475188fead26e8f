// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"github.com/devblok/vkplayground/device"
	"github.com/devblok/vkplayground/driver"
	vk "github.com/vulkan-go/vulkan"
)

// FramebufferSpecification describes an off-screen render target.
type FramebufferSpecification struct {
	Width, Height uint32

	// Scale multiplies the size given at creation and on Resize, defaults to 1.
	Scale float32

	// AttachmentFormats defines the attachments in attachment index order.
	AttachmentFormats []vk.Format

	ClearColor [4]float32
}

// FramebufferAttachment is an attachment image with its description.
type FramebufferAttachment struct {
	Image       *Image
	Description vk.AttachmentDescription
}

// NewFramebuffer creates the attachments, render pass and framebuffer
// of the specification.
func NewFramebuffer(dev *device.Device, a *Allocator, spec FramebufferSpecification) (*Framebuffer, error) {
	if spec.Scale == 0 {
		spec.Scale = 1
	}

	var depth int
	for _, format := range spec.AttachmentFormats {
		if IsDepthFormat(format) || IsStencilFormat(format) {
			depth++
		}
	}
	if depth > 1 {
		return nil, ErrMultipleDepthAttachments
	}

	f := &Framebuffer{
		dev:       dev,
		gpu:       dev.GPU(),
		allocator: a,
		spec:      spec,
	}
	if err := f.Resize(spec.Width, spec.Height); err != nil {
		f.Release()
		return nil, err
	}
	return f, nil
}

// Framebuffer is a single subpass render target with its own render pass.
type Framebuffer struct {
	dev       *device.Device
	gpu       driver.GPU
	allocator *Allocator
	spec      FramebufferSpecification

	width, height uint32
	attachments   []FramebufferAttachment

	renderPass  vk.RenderPass
	framebuffer vk.Framebuffer
}

// Resize recreates the attachments, render pass and framebuffer for the
// scaled size. Nothing happens if the scaled size did not change.
func (f *Framebuffer) Resize(width, height uint32) error {
	width = uint32(float32(width) * f.spec.Scale)
	height = uint32(float32(height) * f.spec.Scale)

	if f.width == width && f.height == height && f.framebuffer != nil {
		return nil
	}
	if width == 0 || height == 0 {
		return ErrZeroExtent
	}

	attachments := make([]FramebufferAttachment, 0, len(f.spec.AttachmentFormats))
	for _, format := range f.spec.AttachmentFormats {
		attachment, err := f.newAttachment(format, width, height)
		if err != nil {
			for _, a := range attachments {
				a.Image.Release()
			}
			// The next Resize must rebuild even for the same size.
			f.releasePass()
			f.width, f.height = 0, 0
			return err
		}
		attachments = append(attachments, attachment)
	}

	f.releaseAttachments()
	f.attachments = attachments
	f.width = width
	f.height = height

	return f.Invalidate()
}

func (f *Framebuffer) newAttachment(format vk.Format, width, height uint32) (FramebufferAttachment, error) {
	depth := IsDepthFormat(format) || IsStencilFormat(format)

	usage := vk.ImageUsageColorAttachmentBit
	if depth {
		usage = vk.ImageUsageDepthStencilAttachmentBit
	}

	image, err := NewImage(f.dev, f.allocator, ImageSpecification{
		Width:  width,
		Height: height,
		Format: format,
		Usage:  usage,
		Tag:    "FramebufferAttachment",
	})
	if err != nil {
		return FramebufferAttachment{}, err
	}

	description := vk.AttachmentDescription{
		Format:         format,
		Samples:        vk.SampleCount1Bit,
		LoadOp:         vk.AttachmentLoadOpClear,
		StoreOp:        vk.AttachmentStoreOpStore,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  vk.ImageLayoutUndefined,
		FinalLayout:    vk.ImageLayoutShaderReadOnlyOptimal,
	}
	if IsStencilFormat(format) {
		description.StencilLoadOp = vk.AttachmentLoadOpClear
		description.StencilStoreOp = vk.AttachmentStoreOpStore
	}
	if depth {
		description.FinalLayout = vk.ImageLayoutDepthStencilReadOnlyOptimal
	}

	return FramebufferAttachment{
		Image:       image,
		Description: description,
	}, nil
}

// Invalidate rebuilds the render pass and framebuffer from the attachments.
func (f *Framebuffer) Invalidate() error {
	f.releasePass()

	descriptions := make([]vk.AttachmentDescription, 0, len(f.attachments))
	views := make([]vk.ImageView, 0, len(f.attachments))

	var colorReferences []vk.AttachmentReference
	var depthReference *vk.AttachmentReference
	var layers uint32

	for idx, attachment := range f.attachments {
		descriptions = append(descriptions, attachment.Description)
		views = append(views, attachment.Image.View())

		format := attachment.Description.Format
		if IsDepthFormat(format) || IsStencilFormat(format) {
			if depthReference != nil {
				return ErrMultipleDepthAttachments
			}
			depthReference = &vk.AttachmentReference{
				Attachment: uint32(idx),
				Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
			}
		} else {
			colorReferences = append(colorReferences, vk.AttachmentReference{
				Attachment: uint32(idx),
				Layout:     vk.ImageLayoutColorAttachmentOptimal,
			})
		}

		if l := attachment.Image.Specification().LayerCount; l > layers {
			layers = l
		}
	}

	subpass := vk.SubpassDescription{
		PipelineBindPoint:       vk.PipelineBindPointGraphics,
		ColorAttachmentCount:    uint32(len(colorReferences)),
		PColorAttachments:       colorReferences,
		PDepthStencilAttachment: depthReference,
	}

	colorAccess := vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit)
	dependencies := []vk.SubpassDependency{
		{
			SrcSubpass:      vk.SubpassExternal,
			DstSubpass:      0,
			SrcStageMask:    vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit),
			DstStageMask:    vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
			SrcAccessMask:   0,
			DstAccessMask:   colorAccess,
			DependencyFlags: vk.DependencyFlags(vk.DependencyByRegionBit),
		},
		{
			SrcSubpass:      0,
			DstSubpass:      vk.SubpassExternal,
			SrcStageMask:    vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
			DstStageMask:    vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit),
			SrcAccessMask:   colorAccess,
			DstAccessMask:   vk.AccessFlags(vk.AccessMemoryReadBit),
			DependencyFlags: vk.DependencyFlags(vk.DependencyByRegionBit),
		},
	}

	var err error
	if f.renderPass, err = f.gpu.CreateRenderPass(&vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(descriptions)),
		PAttachments:    descriptions,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: uint32(len(dependencies)),
		PDependencies:   dependencies,
	}); err != nil {
		return err
	}

	f.framebuffer, err = f.gpu.CreateFramebuffer(&vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      f.renderPass,
		AttachmentCount: uint32(len(views)),
		PAttachments:    views,
		Width:           f.width,
		Height:          f.height,
		Layers:          layers,
	})
	return err
}

// RenderPass returns the render pass compatible with the framebuffer.
func (f *Framebuffer) RenderPass() vk.RenderPass {
	return f.renderPass
}

// Get returns the vulkan framebuffer handle.
func (f *Framebuffer) Get() vk.Framebuffer {
	return f.framebuffer
}

// Width returns the scaled width.
func (f *Framebuffer) Width() uint32 {
	return f.width
}

// Height returns the scaled height.
func (f *Framebuffer) Height() uint32 {
	return f.height
}

// Extent returns the scaled size.
func (f *Framebuffer) Extent() vk.Extent2D {
	return vk.Extent2D{Width: f.width, Height: f.height}
}

// Specification returns what the framebuffer was created with.
func (f *Framebuffer) Specification() FramebufferSpecification {
	return f.spec
}

// Attachments returns the attachments in attachment index order.
func (f *Framebuffer) Attachments() []FramebufferAttachment {
	return f.attachments
}

// Image returns the image of the attachment at idx.
func (f *Framebuffer) Image(idx int) *Image {
	return f.attachments[idx].Image
}

// HasDepth reports whether one of the attachments is a depth attachment.
func (f *Framebuffer) HasDepth() bool {
	for _, attachment := range f.attachments {
		format := attachment.Description.Format
		if IsDepthFormat(format) || IsStencilFormat(format) {
			return true
		}
	}
	return false
}

// ClearValues returns one clear value per attachment.
func (f *Framebuffer) ClearValues() []vk.ClearValue {
	values := make([]vk.ClearValue, len(f.attachments))
	for idx, attachment := range f.attachments {
		format := attachment.Description.Format
		if IsDepthFormat(format) || IsStencilFormat(format) {
			values[idx].SetDepthStencil(1, 0)
		} else {
			values[idx].SetColor(f.spec.ClearColor[:])
		}
	}
	return values
}

func (f *Framebuffer) releasePass() {
	if f.framebuffer != nil {
		f.gpu.DestroyFramebuffer(f.framebuffer)
		f.framebuffer = nil
	}
	if f.renderPass != nil {
		f.gpu.DestroyRenderPass(f.renderPass)
		f.renderPass = nil
	}
}

func (f *Framebuffer) releaseAttachments() {
	for _, attachment := range f.attachments {
		attachment.Image.Release()
	}
	f.attachments = nil
}

// Release destroys the framebuffer, render pass and attachment images.
func (f *Framebuffer) Release() {
	f.releasePass()
	f.releaseAttachments()
}
