// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package vkr implements the vulkan renderer.
package vkr

import (
	"github.com/pkg/errors"
)

// FramesInFlight is how many frames the CPU may record ahead of the GPU.
const FramesInFlight = 2

var (
	// ErrInvalidState is returned when a frame operation is called out of order.
	ErrInvalidState = errors.New("operation not allowed in the current frame state")

	// ErrMultipleDepthAttachments is returned for a framebuffer with more
	// than one depth or stencil attachment.
	ErrMultipleDepthAttachments = errors.New("only one depth attachment is allowed")

	// ErrZeroExtent is returned while the surface has no drawable area,
	// for example when the window is minimized.
	ErrZeroExtent = errors.New("surface extent is zero")

	// ErrDepthUpload is returned for data given to a depth or stencil image.
	ErrDepthUpload = errors.New("depth and stencil images cannot be uploaded to")
)

// FrameSlot identifies the per-frame resources in [0, FramesInFlight).
type FrameSlot uint32

// ImageIndex identifies an acquired swapchain image in [0, image count).
type ImageIndex uint32

// Frame is the pair of indices valid between BeginFrame and Present.
type Frame struct {
	Slot  FrameSlot
	Image ImageIndex
}
