// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr_test

import (
	"bytes"
	"testing"

	"github.com/devblok/vkplayground/gfx/vkr"
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

func solid(width, height int, color [4]byte) []byte {
	data := make([]byte, 0, width*height*4)
	for i := 0; i < width*height; i++ {
		data = append(data, color[:]...)
	}
	return data
}

func TestImageUpload(t *testing.T) {
	gpu, dev := newDevice(t)
	defer dev.Destroy()
	a := vkr.NewAllocator(gpu)

	color := [4]byte{0xff, 0x80, 0x10, 0xff}
	data := solid(16, 8, color)
	img, err := vkr.NewImage(dev, a, vkr.ImageSpecification{
		Data:   data,
		Width:  16,
		Height: 8,
		Format: vk.FormatR8g8b8a8Unorm,
	})
	if err != nil {
		t.Fatal(err)
	}

	contents := gpu.ImageContents(img.Get())
	if len(contents) != len(data) {
		t.Fatalf("expected %d bytes, got %d", len(data), len(contents))
	}
	for texel := 0; texel < len(contents); texel += 4 {
		if !bytes.Equal(contents[texel:texel+4], color[:]) {
			t.Fatalf("texel %d has color % x", texel/4, contents[texel:texel+4])
		}
	}
	if layout := gpu.ImageLayout(img.Get()); layout != vk.ImageLayoutShaderReadOnlyOptimal {
		t.Errorf("unexpected final layout %d", layout)
	}
	if info := img.DescriptorInfo(); info.ImageLayout != vk.ImageLayoutShaderReadOnlyOptimal || info.Sampler == nil {
		t.Errorf("unexpected descriptor info %+v", info)
	}
	if stats := a.Stats(); stats["StagingBuffer"].Allocations != 0 || stats["Texture2D"].Allocations != 1 {
		t.Errorf("staging memory must be released after upload, got %v", stats)
	}

	img.Release()
	if err := a.Shutdown(); err != nil {
		t.Error(err)
	}
	if gpu.Live("image") != 0 || gpu.Live("imageview") != 0 || gpu.Live("sampler") != 0 {
		t.Error("image objects must be destroyed")
	}
	checkViolations(t, gpu)
}

func TestImageErrors(t *testing.T) {
	gpu, dev := newDevice(t)
	defer dev.Destroy()
	a := vkr.NewAllocator(gpu)

	_, err := vkr.NewImage(dev, a, vkr.ImageSpecification{Format: vk.FormatR8g8b8a8Unorm})
	if errors.Cause(err) != vkr.ErrZeroExtent {
		t.Errorf("expected zero extent, got %v", err)
	}

	_, err = vkr.NewImage(dev, a, vkr.ImageSpecification{
		Data:   make([]byte, 3),
		Width:  2,
		Height: 2,
		Format: vk.FormatR8g8b8a8Unorm,
	})
	if err == nil {
		t.Error("short data must fail")
	}

	_, err = vkr.NewImage(dev, a, vkr.ImageSpecification{
		Data:   make([]byte, 2*2*4),
		Width:  2,
		Height: 2,
		Format: vk.FormatD24UnormS8Uint,
		Usage:  vk.ImageUsageDepthStencilAttachmentBit,
	})
	if errors.Cause(err) != vkr.ErrDepthUpload {
		t.Errorf("expected ErrDepthUpload, got %v", err)
	}
	if n := gpu.Count("CmdCopyBufferToImage"); n != 0 {
		t.Errorf("no copy may be recorded for rejected data, got %d", n)
	}
	if gpu.Live("image") != 0 {
		t.Error("rejected images must not be created")
	}
	if len(a.Stats()) != 0 {
		t.Errorf("failed images must not leak, got %v", a.Stats())
	}
}

func TestImageUploadSubmitFailure(t *testing.T) {
	gpu, dev := newFaultyDevice(t)
	defer dev.Destroy()
	a := vkr.NewAllocator(gpu)

	gpu.failSubmit = true
	_, err := vkr.NewImage(dev, a, vkr.ImageSpecification{
		Data:   solid(4, 4, [4]byte{1, 2, 3, 4}),
		Width:  4,
		Height: 4,
		Format: vk.FormatR8g8b8a8Unorm,
	})
	if err == nil {
		t.Fatal("expected the upload to fail")
	}
	if n := gpu.Live("commandbuffer"); n != 0 {
		t.Errorf("upload command buffer must be freed, %d alive", n)
	}
	if len(a.Stats()) != 0 || gpu.Live("image") != 0 {
		t.Errorf("failed images must not leak, got %v", a.Stats())
	}
	checkViolations(t, gpu.GPU)
}

func TestDepthImageAspect(t *testing.T) {
	gpu, dev := newDevice(t)
	defer dev.Destroy()
	a := vkr.NewAllocator(gpu)

	img, err := vkr.NewImage(dev, a, vkr.ImageSpecification{
		Width:  4,
		Height: 4,
		Format: vk.FormatD24UnormS8Uint,
		Usage:  vk.ImageUsageDepthStencilAttachmentBit,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer img.Release()

	var aspect vk.ImageAspectFlags
	for _, c := range gpu.Calls() {
		if c.Op == "CreateImageView" && c.Args[1] == img.Get() {
			aspect = c.Args[3].(vk.ImageAspectFlags)
		}
	}
	if aspect != vk.ImageAspectFlags(vk.ImageAspectDepthBit|vk.ImageAspectStencilBit) {
		t.Errorf("unexpected aspect %d", aspect)
	}
	if info := img.DescriptorInfo(); info.ImageLayout != vk.ImageLayoutDepthStencilReadOnlyOptimal {
		t.Errorf("unexpected sampled layout %d", info.ImageLayout)
	}
}

func TestFormatClassification(t *testing.T) {
	if !vkr.IsDepthFormat(vk.FormatD32Sfloat) || vkr.IsStencilFormat(vk.FormatD32Sfloat) {
		t.Error("D32 is depth only")
	}
	if !vkr.IsStencilFormat(vk.FormatD24UnormS8Uint) {
		t.Error("D24S8 has stencil")
	}
	if vkr.IsDepthFormat(vk.FormatR8g8b8a8Unorm) {
		t.Error("RGBA8 is a color format")
	}
	if vkr.BytesPerPixel(vk.FormatR8g8b8a8Unorm) != 4 {
		t.Error("RGBA8 is 4 bytes per pixel")
	}
}
