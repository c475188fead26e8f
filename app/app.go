// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package app drives a stack of layers over the renderer, one frame at
// a time.
package app

import (
	"time"

	"github.com/devblok/vkplayground/asset"
	"github.com/devblok/vkplayground/device"
	"github.com/devblok/vkplayground/gfx/vkr"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Specification is everything an Application runs on. UI is optional.
type Specification struct {
	Device    *device.Device
	Allocator *vkr.Allocator
	SwapChain *vkr.SwapChain
	Renderer  *vkr.Renderer
	Assets    asset.Source
	UI        vkr.UIBackend
}

// New creates an application with an empty layer stack.
func New(spec Specification) *Application {
	return &Application{
		dev:       spec.Device,
		allocator: spec.Allocator,
		swapChain: spec.SwapChain,
		renderer:  spec.Renderer,
		assets:    spec.Assets,
		ui:        spec.UI,
	}
}

// Application owns the layer stack and records frames for it. It is not
// safe for concurrent use.
type Application struct {
	dev       *device.Device
	allocator *vkr.Allocator
	swapChain *vkr.SwapChain
	renderer  *vkr.Renderer
	assets    asset.Source
	ui        vkr.UIBackend

	stack   Stack
	frames  uint64
	skipped uint64
}

// Device returns the logical device.
func (a *Application) Device() *device.Device {
	return a.dev
}

// Allocator returns the allocator resources are created with.
func (a *Application) Allocator() *vkr.Allocator {
	return a.allocator
}

// SwapChain returns the swapchain frames are presented to.
func (a *Application) SwapChain() *vkr.SwapChain {
	return a.swapChain
}

// Renderer returns the renderer.
func (a *Application) Renderer() *vkr.Renderer {
	return a.renderer
}

// Assets returns where layers load their assets from.
func (a *Application) Assets() asset.Source {
	return a.assets
}

// Layers returns the stack, bottom to top.
func (a *Application) Layers() []Layer {
	return a.stack.Layers()
}

// Frames returns how many frames were presented.
func (a *Application) Frames() uint64 {
	return a.frames
}

// Skipped returns how many frames were skipped for lack of a drawable
// surface.
func (a *Application) Skipped() uint64 {
	return a.skipped
}

// PushLayer attaches l and puts it on top of the stack. A layer that
// fails to attach is not pushed.
func (a *Application) PushLayer(l Layer) error {
	if at, ok := l.(Attacher); ok {
		if err := at.OnAttach(a); err != nil {
			return errors.Wrapf(err, "attach layer %s", l.Name())
		}
	}
	a.stack.Push(l)
	log.WithField("layer", l.Name()).Info("layer attached")
	return nil
}

// PopLayer removes the topmost layer called name and detaches it once
// the device is idle.
func (a *Application) PopLayer(name string) (Layer, error) {
	l, ok := a.stack.Pop(name)
	if !ok {
		return nil, errors.Errorf("no layer %s", name)
	}
	if err := a.dev.WaitIdle(); err != nil {
		return l, err
	}
	detach(l)
	return l, nil
}

func detach(l Layer) {
	if d, ok := l.(Detacher); ok {
		d.OnDetach()
	}
	log.WithField("layer", l.Name()).Info("layer detached")
}

// Frame updates the layers and records and presents one frame:
// scene renderers first, then the UI renderers and the UI backend inside
// the swapchain render pass. A frame is skipped while the surface has no
// drawable area.
func (a *Application) Frame(dt time.Duration) error {
	a.stack.Update(dt)

	if _, err := a.swapChain.BeginFrame(); err != nil {
		if errors.Cause(err) == vkr.ErrZeroExtent {
			a.skipped++
			log.Debug("frame skipped, surface has no drawable area")
			return nil
		}
		return err
	}
	if err := a.renderer.BeginFrame(); err != nil {
		return err
	}

	if err := a.stack.Render(a.renderer); err != nil {
		return err
	}

	if err := a.renderer.BeginRenderPass(nil); err != nil {
		return err
	}
	if err := a.stack.RenderUI(a.renderer); err != nil {
		return err
	}
	if err := a.renderer.RenderUI(a.ui); err != nil {
		return err
	}
	if err := a.renderer.EndRenderPass(); err != nil {
		return err
	}

	a.renderer.EndScene()
	if err := a.renderer.EndFrame(); err != nil {
		return err
	}
	if err := a.swapChain.Present(); err != nil {
		if errors.Cause(err) == vkr.ErrZeroExtent {
			a.skipped++
			log.Debug("surface lost its drawable area on present")
			return nil
		}
		return err
	}
	a.frames++
	return nil
}

// Close detaches every layer, top first.
func (a *Application) Close() error {
	err := a.dev.WaitIdle()
	layers := a.stack.Layers()
	for i := len(layers) - 1; i >= 0; i-- {
		detach(layers[i])
	}
	a.stack = Stack{}
	return err
}
