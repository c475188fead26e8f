// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package gfx_test

import (
	"testing"

	"github.com/devblok/vkplayground/gfx"
	"github.com/go-gl/mathgl/mgl32"
)

func TestPerspectiveCamera(t *testing.T) {
	c := gfx.NewPerspectiveCamera(45, 16.0/9.0, 0.1, 100)

	if !c.View().ApproxEqual(mgl32.Ident4()) {
		t.Errorf("camera at origin looking down -Z should have identity view, got %v", c.View())
	}

	expected := mgl32.Perspective(mgl32.DegToRad(45), 16.0/9.0, 0.1, 100)
	if !c.Projection().ApproxEqual(expected) {
		t.Errorf("unexpected projection %v", c.Projection())
	}

	c.SetAspect(1)
	if c.Projection().ApproxEqual(expected) {
		t.Error("projection should change with aspect")
	}
}

func TestViewProjection(t *testing.T) {
	c := gfx.NewPerspectiveCamera(45, 1, 0.1, 100)
	c.LookAt(mgl32.Vec3{0, 0, 5}, mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 1, 0})

	vp := gfx.ViewProjection(c)
	if !vp.ApproxEqual(c.Projection().Mul4(c.View())) {
		t.Error("view projection should apply the view first")
	}

	// the point the camera looks at lands in the middle of the clip space
	clip := vp.Mul4x1(mgl32.Vec4{0, 0, 0, 1})
	if !mgl32.FloatEqual(clip.X(), 0) || !mgl32.FloatEqual(clip.Y(), 0) {
		t.Errorf("target should project to the center, got %v", clip)
	}
}
