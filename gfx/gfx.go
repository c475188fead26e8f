// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package gfx defines rendering related features that renderers must implement.
package gfx

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Releasable defines any memory-occupying item that can be freed.
type Releasable interface {

	// Release releases memory occupied by the implementing structure.
	Release()
}

// Camera provides the matrices a scene is viewed through.
type Camera interface {

	// Projection returns the projection matrix.
	Projection() mgl32.Mat4

	// View returns the view matrix.
	View() mgl32.Mat4
}

// ViewProjection combines the camera matrices, projection applied last.
func ViewProjection(c Camera) mgl32.Mat4 {
	return c.Projection().Mul4(c.View())
}

// NewPerspectiveCamera creates a camera at the origin looking down -Z.
// fov is the vertical field of view in degrees.
func NewPerspectiveCamera(fov, aspect, near, far float32) *PerspectiveCamera {
	c := &PerspectiveCamera{
		fov:    fov,
		aspect: aspect,
		near:   near,
		far:    far,
		eye:    mgl32.Vec3{0, 0, 0},
		center: mgl32.Vec3{0, 0, -1},
		up:     mgl32.Vec3{0, 1, 0},
	}
	c.Update()
	return c
}

// PerspectiveCamera is a Camera with a perspective projection.
type PerspectiveCamera struct {
	fov, aspect, near, far float32

	eye, center, up mgl32.Vec3

	projection mgl32.Mat4
	view       mgl32.Mat4
}

// SetAspect changes the aspect ratio, usually after the target was resized.
func (c *PerspectiveCamera) SetAspect(aspect float32) {
	c.aspect = aspect
	c.Update()
}

// LookAt places the camera at eye, facing center.
func (c *PerspectiveCamera) LookAt(eye, center, up mgl32.Vec3) {
	c.eye, c.center, c.up = eye, center, up
	c.Update()
}

// Position returns the camera position.
func (c *PerspectiveCamera) Position() mgl32.Vec3 {
	return c.eye
}

// Update recomputes both matrices.
func (c *PerspectiveCamera) Update() {
	c.projection = mgl32.Perspective(mgl32.DegToRad(c.fov), c.aspect, c.near, c.far)
	c.view = mgl32.LookAtV(c.eye, c.center, c.up)
}

// Projection implements Camera.
func (c *PerspectiveCamera) Projection() mgl32.Mat4 {
	return c.projection
}

// View implements Camera.
func (c *PerspectiveCamera) View() mgl32.Mat4 {
	return c.view
}
