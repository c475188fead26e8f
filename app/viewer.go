// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package app

import (
	"math"
	"time"

	"github.com/devblok/vkplayground/asset"
	"github.com/devblok/vkplayground/gfx"
	"github.com/devblok/vkplayground/gfx/vkr"
	"github.com/go-gl/mathgl/mgl32"
	log "github.com/sirupsen/logrus"
	vk "github.com/vulkan-go/vulkan"
)

// Viewer camera defaults.
const (
	ViewerFieldOfView = 45
	ViewerNear        = 0.1
	ViewerFar         = 100
)

// ViewerSpecification names the assets the viewer shows. Texture may be
// empty.
type ViewerSpecification struct {
	Mesh    string
	Texture string

	// OrbitSpeed turns the camera around the scene, in radians per second.
	OrbitSpeed float32
}

// NewViewerLayer creates a layer that shows one mesh twice, once where it
// is and once moved three units along Z.
func NewViewerLayer(spec ViewerSpecification) *ViewerLayer {
	return &ViewerLayer{
		spec:   spec,
		camera: gfx.NewPerspectiveCamera(ViewerFieldOfView, 1, ViewerNear, ViewerFar),
		eye:    mgl32.Vec3{6, 4, 8},
		center: mgl32.Vec3{0, 0, 1.5},
	}
}

// ViewerLayer renders its mesh off-screen and again into the swapchain
// image.
type ViewerLayer struct {
	spec   ViewerSpecification
	camera *gfx.PerspectiveCamera

	mesh    *vkr.Mesh
	texture *vkr.Texture2D
	r       *vkr.Renderer

	eye, center mgl32.Vec3
	angle       float32
}

// Name implements Layer.
func (v *ViewerLayer) Name() string {
	return "viewer"
}

// Camera returns the camera the scene is seen through.
func (v *ViewerLayer) Camera() *gfx.PerspectiveCamera {
	return v.camera
}

// Mesh returns the mesh uploaded on attach.
func (v *ViewerLayer) Mesh() *vkr.Mesh {
	return v.mesh
}

// OnAttach implements Attacher. It uploads the mesh and the texture and
// follows the swapchain size with the camera aspect.
func (v *ViewerLayer) OnAttach(a *Application) error {
	data, err := asset.LoadMesh(a.Assets(), v.spec.Mesh)
	if err != nil {
		return err
	}
	mesh, err := vkr.NewMesh(a.Allocator(), data)
	if err != nil {
		return err
	}

	if v.spec.Texture != "" {
		tex, err := asset.LoadTexture(a.Assets(), v.spec.Texture)
		if err != nil {
			mesh.Release()
			return err
		}
		if v.texture, err = vkr.NewTexture2D(a.Device(), a.Allocator(), tex.Width, tex.Height, tex.Pixels); err != nil {
			mesh.Release()
			return err
		}
		a.Renderer().SetTexture(v.texture)
	}

	v.mesh = mesh
	v.r = a.Renderer()
	v.camera.SetAspect(aspect(a.SwapChain().Extent()))
	v.camera.LookAt(v.eye, v.center, mgl32.Vec3{0, 1, 0})
	a.SwapChain().OnResize(func(extent vk.Extent2D) {
		v.camera.SetAspect(aspect(extent))
	})

	log.WithFields(log.Fields{
		"mesh":      data.Name,
		"vertices":  len(data.Vertices),
		"subMeshes": len(data.SubMeshes),
		"texture":   v.spec.Texture,
	}).Info("viewer assets loaded")
	return nil
}

func aspect(extent vk.Extent2D) float32 {
	if extent.Width == 0 || extent.Height == 0 {
		return 1
	}
	return float32(extent.Width) / float32(extent.Height)
}

// OnUpdate implements Updater.
func (v *ViewerLayer) OnUpdate(dt time.Duration) {
	if v.spec.OrbitSpeed == 0 {
		return
	}
	v.angle += v.spec.OrbitSpeed * float32(dt.Seconds())
	v.angle = float32(math.Mod(float64(v.angle), 2*math.Pi))

	offset := v.eye.Sub(v.center)
	eye := v.center.Add(mgl32.Rotate3DY(v.angle).Mul3x1(offset))
	v.camera.LookAt(eye, v.center, mgl32.Vec3{0, 1, 0})
}

// OnRender implements SceneRenderer.
func (v *ViewerLayer) OnRender(r *vkr.Renderer) error {
	if err := r.BeginScene(v.camera); err != nil {
		return err
	}
	r.SubmitMesh(v.mesh, mgl32.Ident4())
	r.SubmitMesh(v.mesh, mgl32.Translate3D(0, 0, 3))

	if err := r.BeginRenderPass(r.Framebuffer()); err != nil {
		return err
	}
	if err := r.Render(); err != nil {
		return err
	}
	return r.EndRenderPass()
}

// OnUIRender implements UIRenderer by drawing the queued scene onto the
// swapchain image.
func (v *ViewerLayer) OnUIRender(r *vkr.Renderer) error {
	return r.Render()
}

// OnDetach implements Detacher.
func (v *ViewerLayer) OnDetach() {
	if v.texture != nil {
		v.r.SetTexture(nil)
		v.texture.Release()
		v.texture = nil
	}
	if v.mesh != nil {
		v.mesh.Release()
		v.mesh = nil
	}
}
