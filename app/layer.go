// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package app

import (
	"time"

	"github.com/devblok/vkplayground/gfx/vkr"
	"github.com/pkg/errors"
)

// Layer is a named part of the application. What a layer takes part in
// is decided by which of the capability interfaces below it implements.
type Layer interface {
	Name() string
}

// Attacher sets up a layer when it is pushed.
type Attacher interface {
	OnAttach(app *Application) error
}

// Detacher releases what a layer owns when it is popped. The device is
// idle when OnDetach is called.
type Detacher interface {
	OnDetach()
}

// Updater advances a layer once per frame, before anything is recorded.
type Updater interface {
	OnUpdate(dt time.Duration)
}

// SceneRenderer records the scene of a layer. It is called once the frame
// has begun and is expected to begin the scene and finish its own
// off-screen passes.
type SceneRenderer interface {
	OnRender(r *vkr.Renderer) error
}

// UIRenderer records into the render pass of the swapchain image.
type UIRenderer interface {
	OnUIRender(r *vkr.Renderer) error
}

// Stack holds layers in push order, which is also the order they are
// dispatched in.
type Stack struct {
	layers []Layer
}

// Push appends l on top of the stack.
func (s *Stack) Push(l Layer) {
	s.layers = append(s.layers, l)
}

// Pop removes the topmost layer called name.
func (s *Stack) Pop(name string) (Layer, bool) {
	for i := len(s.layers) - 1; i >= 0; i-- {
		if l := s.layers[i]; l.Name() == name {
			s.layers = append(s.layers[:i], s.layers[i+1:]...)
			return l, true
		}
	}
	return nil, false
}

// Layers returns the layers bottom to top.
func (s *Stack) Layers() []Layer {
	return s.layers
}

// Len returns the number of layers.
func (s *Stack) Len() int {
	return len(s.layers)
}

// Update calls every Updater.
func (s *Stack) Update(dt time.Duration) {
	for _, l := range s.layers {
		if u, ok := l.(Updater); ok {
			u.OnUpdate(dt)
		}
	}
}

// Render calls every SceneRenderer and stops at the first error.
func (s *Stack) Render(r *vkr.Renderer) error {
	for _, l := range s.layers {
		if sr, ok := l.(SceneRenderer); ok {
			if err := sr.OnRender(r); err != nil {
				return errors.Wrapf(err, "layer %s", l.Name())
			}
		}
	}
	return nil
}

// RenderUI calls every UIRenderer and stops at the first error.
func (s *Stack) RenderUI(r *vkr.Renderer) error {
	for _, l := range s.layers {
		if ur, ok := l.(UIRenderer); ok {
			if err := ur.OnUIRender(r); err != nil {
				return errors.Wrapf(err, "layer %s", l.Name())
			}
		}
	}
	return nil
}
