// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr_test

import (
	"testing"

	"github.com/devblok/vkplayground/gfx/vkr"
	vk "github.com/vulkan-go/vulkan"
)

func TestFramebufferAttachmentOrder(t *testing.T) {
	gpu, dev := newDevice(t)
	defer dev.Destroy()
	a := vkr.NewAllocator(gpu)

	formats := []vk.Format{vk.FormatR8g8b8a8Unorm, vk.FormatD24UnormS8Uint, vk.FormatR16g16b16a16Sfloat}
	fb, err := vkr.NewFramebuffer(dev, a, vkr.FramebufferSpecification{
		Width:             320,
		Height:            200,
		AttachmentFormats: formats,
		ClearColor:        [4]float32{0, 0, 0, 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer fb.Release()

	attachments := fb.Attachments()
	if len(attachments) != len(formats) {
		t.Fatalf("expected %d attachments, got %d", len(formats), len(attachments))
	}
	var depth int
	for idx, attachment := range attachments {
		if attachment.Description.Format != formats[idx] {
			t.Errorf("attachment %d has format %d", idx, attachment.Description.Format)
		}
		if vkr.IsDepthFormat(attachment.Description.Format) {
			depth++
			if attachment.Description.FinalLayout != vk.ImageLayoutDepthStencilReadOnlyOptimal {
				t.Errorf("unexpected depth final layout %d", attachment.Description.FinalLayout)
			}
		} else if attachment.Description.FinalLayout != vk.ImageLayoutShaderReadOnlyOptimal {
			t.Errorf("unexpected color final layout %d", attachment.Description.FinalLayout)
		}
	}
	if depth != 1 || !fb.HasDepth() {
		t.Errorf("expected a single depth attachment, got %d", depth)
	}
	if n := len(fb.ClearValues()); n != 3 {
		t.Errorf("expected a clear value per attachment, got %d", n)
	}

	for _, c := range gpu.Calls() {
		if c.Op != "CreateRenderPass" {
			continue
		}
		subpasses := c.Args[2].([]vk.SubpassDescription)
		if len(subpasses) != 1 || subpasses[0].ColorAttachmentCount != 2 || subpasses[0].PDepthStencilAttachment == nil {
			t.Fatalf("unexpected subpass %+v", subpasses)
		}
		if ref := subpasses[0].PDepthStencilAttachment; ref.Attachment != 1 {
			t.Errorf("depth reference points at %d", ref.Attachment)
		}
		if dependencies := c.Args[3].([]vk.SubpassDependency); len(dependencies) != 2 {
			t.Errorf("expected two dependencies, got %d", len(dependencies))
		}
	}
	checkViolations(t, gpu)
}

func TestFramebufferTwoDepthAttachments(t *testing.T) {
	gpu, dev := newDevice(t)
	defer dev.Destroy()
	a := vkr.NewAllocator(gpu)

	_, err := vkr.NewFramebuffer(dev, a, vkr.FramebufferSpecification{
		Width:             64,
		Height:            64,
		AttachmentFormats: []vk.Format{vk.FormatD32Sfloat, vk.FormatD24UnormS8Uint},
	})
	if err != vkr.ErrMultipleDepthAttachments {
		t.Errorf("expected ErrMultipleDepthAttachments, got %v", err)
	}
	if gpu.Live("image") != 0 {
		t.Error("no attachment should be created")
	}
}

func TestFramebufferResizeIdempotent(t *testing.T) {
	gpu, dev := newDevice(t)
	defer dev.Destroy()
	a := vkr.NewAllocator(gpu)

	fb, err := vkr.NewFramebuffer(dev, a, vkr.FramebufferSpecification{
		Width:             100,
		Height:            100,
		AttachmentFormats: []vk.Format{vk.FormatR8g8b8a8Unorm, vk.FormatD32Sfloat},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer fb.Release()

	if err := fb.Resize(640, 480); err != nil {
		t.Fatal(err)
	}
	passes := gpu.Count("CreateRenderPass")
	images := gpu.Count("CreateImage")
	if err := fb.Resize(640, 480); err != nil {
		t.Fatal(err)
	}
	if n := gpu.Count("CreateRenderPass"); n != passes {
		t.Errorf("second resize rebuilt the render pass, %d -> %d", passes, n)
	}
	if n := gpu.Count("CreateImage"); n != images {
		t.Errorf("second resize recreated attachments, %d -> %d", images, n)
	}

	info := gpu.ImageInfo(fb.Image(0).Get())
	if info.Extent.Width != 640 || info.Extent.Height != 480 {
		t.Errorf("attachments must follow the new size, got %+v", info.Extent)
	}
	if gpu.Live("image") != 2 || gpu.Live("framebuffer") != 1 || gpu.Live("renderpass") != 1 {
		t.Error("old attachments and passes must be released")
	}
}

func TestFramebufferScale(t *testing.T) {
	gpu, dev := newDevice(t)
	defer dev.Destroy()
	a := vkr.NewAllocator(gpu)

	fb, err := vkr.NewFramebuffer(dev, a, vkr.FramebufferSpecification{
		Width:             200,
		Height:            100,
		Scale:             0.5,
		AttachmentFormats: []vk.Format{vk.FormatR8g8b8a8Unorm},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer fb.Release()

	if e := fb.Extent(); e.Width != 100 || e.Height != 50 {
		t.Errorf("unexpected scaled extent %+v", e)
	}
	if fb.HasDepth() {
		t.Error("no depth attachment was requested")
	}
	if err := fb.Resize(0, 10); err != vkr.ErrZeroExtent {
		t.Errorf("expected ErrZeroExtent, got %v", err)
	}
}

func TestFramebufferResizeRecovers(t *testing.T) {
	gpu, dev := newFaultyDevice(t)
	defer dev.Destroy()
	a := vkr.NewAllocator(gpu)

	fb, err := vkr.NewFramebuffer(dev, a, vkr.FramebufferSpecification{
		Width:             800,
		Height:            600,
		AttachmentFormats: []vk.Format{vk.FormatR8g8b8a8Unorm, vk.FormatD24UnormS8Uint},
	})
	if err != nil {
		t.Fatal(err)
	}

	gpu.failImage = gpu.images + 2
	if err := fb.Resize(1024, 768); err == nil {
		t.Fatal("expected the depth attachment to fail")
	}
	if fb.Get() != nil || fb.RenderPass() != nil {
		t.Error("a failed resize must not keep the old framebuffer")
	}
	if n := gpu.Live("image"); n != 2 {
		t.Errorf("partial attachments must be released, %d images alive", n)
	}

	if err := fb.Resize(1024, 768); err != nil {
		t.Fatal(err)
	}
	if fb.Get() == nil {
		t.Fatal("retry must rebuild the framebuffer")
	}
	info := gpu.ImageInfo(fb.Image(0).Get())
	if info.Extent.Width != 1024 || info.Extent.Height != 768 {
		t.Errorf("attachments must follow the new size, got %+v", info.Extent)
	}
	if gpu.Live("image") != 2 || gpu.Live("framebuffer") != 1 || gpu.Live("renderpass") != 1 {
		t.Error("old attachments and passes must be released")
	}

	fb.Release()
	if err := a.Shutdown(); err != nil {
		t.Error(err)
	}
	checkViolations(t, gpu.GPU)
}
