// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package app_test

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/devblok/vkplayground/app"
	"github.com/devblok/vkplayground/asset"
	"github.com/devblok/vkplayground/device"
	"github.com/devblok/vkplayground/driver/drivertest"
	"github.com/devblok/vkplayground/gfx/vkr"
	"github.com/devblok/vkplayground/shader"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/gobuffalo/packd"
	vk "github.com/vulkan-go/vulkan"
)

const triangle = `<?xml version="1.0" encoding="utf-8"?>
<COLLADA xmlns="http://www.collada.org/2005/11/COLLADASchema" version="1.4.1">
  <library_geometries>
    <geometry id="Tri-mesh" name="Tri">
      <mesh>
        <source id="Tri-mesh-positions">
          <float_array id="Tri-mesh-positions-array" count="9">0 0 0 1 0 0 0 1 0</float_array>
          <technique_common><accessor source="#Tri-mesh-positions-array" count="3" stride="3"/></technique_common>
        </source>
        <vertices id="Tri-mesh-vertices">
          <input semantic="POSITION" source="#Tri-mesh-positions"/>
        </vertices>
        <triangles count="1">
          <input semantic="VERTEX" source="#Tri-mesh-vertices" offset="0"/>
          <p>0 1 2</p>
        </triangles>
      </mesh>
    </geometry>
  </library_geometries>
</COLLADA>`

type fixture struct {
	gpu      *drivertest.GPU
	dev      *device.Device
	a        *vkr.Allocator
	sc       *vkr.SwapChain
	renderer *vkr.Renderer
	ui       *recordingUI
	app      *app.Application
}

type recordingUI struct {
	calls int
}

func (u *recordingUI) RenderDrawData(cmd vk.CommandBuffer) error {
	u.calls++
	return nil
}

func assets(t testing.TB) asset.Source {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for i := 0; i < 16; i++ {
		img.Set(i%4, i/4, color.NRGBA{R: uint8(i * 16), A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}

	box := packd.NewMemoryBox()
	if err := box.AddString("models/tri.dae", triangle); err != nil {
		t.Fatal(err)
	}
	if err := box.AddBytes("textures/grad.png", buf.Bytes()); err != nil {
		t.Fatal(err)
	}
	return asset.Box{Finder: box}
}

func program() *shader.Program {
	return &shader.Program{
		Name: "viewer",
		Modules: []shader.Module{
			{Stage: shader.Vertex, Code: []uint32{shader.Magic, 0x00010000, 0, 1, 0}},
			{Stage: shader.Fragment, Code: []uint32{shader.Magic, 0x00010000, 0, 1, 0}},
		},
		UniformBuffers: []shader.UniformBufferDescription{{
			Name: "Camera", Size: 128, Binding: 0, Set: 0, Index: 0,
		}},
		Resources: []shader.ResourceDescription{{
			Name: "u_Texture", Binding: 0, Set: 1, Dimension: 1, Type: shader.Texture2D, Index: 1,
		}},
	}
}

func newFixture(t testing.TB) *fixture {
	t.Helper()
	gpu := drivertest.New()
	dev, err := device.New(gpu, "fake", device.QueueFamilyIndices{Graphics: 0, Present: 0, Transfer: -1})
	if err != nil {
		t.Fatal(err)
	}
	a := vkr.NewAllocator(gpu)
	sc, err := vkr.NewSwapChain(dev, vk.NullSurface, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	r, err := vkr.NewRenderer(dev, a, sc, vkr.RendererSpecification{
		Program:           program(),
		ResizeFramebuffer: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	ui := &recordingUI{}
	return &fixture{
		gpu:      gpu,
		dev:      dev,
		a:        a,
		sc:       sc,
		renderer: r,
		ui:       ui,
		app: app.New(app.Specification{
			Device:    dev,
			Allocator: a,
			SwapChain: sc,
			Renderer:  r,
			Assets:    assets(t),
			UI:        ui,
		}),
	}
}

func (f *fixture) release(t *testing.T) {
	t.Helper()
	if err := f.app.Close(); err != nil {
		t.Error(err)
	}
	f.renderer.Release()
	f.sc.Release()
	if err := f.a.Shutdown(); err != nil {
		t.Error(err)
	}
	f.dev.Destroy()
	for _, kind := range []string{"pipeline", "descriptorpool", "buffer", "image", "imageview", "sampler", "memory"} {
		if n := f.gpu.Live(kind); n != 0 {
			t.Errorf("%d %s objects left alive", n, kind)
		}
	}
	for _, v := range f.gpu.Violations() {
		t.Errorf("violation: %s", v)
	}
}

func viewer() *app.ViewerLayer {
	return app.NewViewerLayer(app.ViewerSpecification{
		Mesh:    "models/tri.dae",
		Texture: "textures/grad.png",
	})
}

type tracer struct {
	name string
	log  *[]string
}

func (l tracer) Name() string { return l.name }

func (l tracer) OnUpdate(dt time.Duration) { *l.log = append(*l.log, l.name+".update") }

func (l tracer) OnRender(r *vkr.Renderer) error {
	*l.log = append(*l.log, l.name+".render")
	return nil
}

func (l tracer) OnUIRender(r *vkr.Renderer) error {
	*l.log = append(*l.log, l.name+".ui")
	return nil
}

type named string

func (n named) Name() string { return string(n) }

func TestStackDispatch(t *testing.T) {
	var log []string
	var s app.Stack
	s.Push(tracer{"a", &log})
	s.Push(named("plain"))
	s.Push(tracer{"b", &log})

	s.Update(time.Millisecond)
	if err := s.Render(nil); err != nil {
		t.Fatal(err)
	}
	if err := s.RenderUI(nil); err != nil {
		t.Fatal(err)
	}

	want := "a.update b.update a.render b.render a.ui b.ui"
	if got := strings.Join(log, " "); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}

	if _, ok := s.Pop("missing"); ok {
		t.Error("popped a layer that was never pushed")
	}
	if l, ok := s.Pop("plain"); !ok || l.Name() != "plain" {
		t.Errorf("unexpected pop %v %v", l, ok)
	}
	if s.Len() != 2 || s.Layers()[1].Name() != "b" {
		t.Errorf("unexpected stack %v", s.Layers())
	}
}

func TestApplicationFrame(t *testing.T) {
	f := newFixture(t)
	defer f.release(t)

	v := viewer()
	if err := f.app.PushLayer(v); err != nil {
		t.Fatal(err)
	}

	const frames = 3
	for i := 0; i < frames; i++ {
		if err := f.app.Frame(16 * time.Millisecond); err != nil {
			t.Fatal(err)
		}
	}
	if f.app.Frames() != frames {
		t.Errorf("expected %d frames, got %d", frames, f.app.Frames())
	}
	if f.ui.calls != frames {
		t.Errorf("expected the ui once per frame, got %d", f.ui.calls)
	}
	if n := len(f.gpu.Draws()); n != 4*frames {
		t.Errorf("expected both transforms in both passes, got %d draws", n)
	}

	var clears []int
	for _, c := range f.gpu.Calls() {
		if c.Op == "CmdBeginRenderPass" {
			clears = append(clears, c.Args[4].(int))
		}
	}
	if len(clears) != 2*frames {
		t.Fatalf("expected two passes per frame, got %d", len(clears))
	}
	for i := 0; i < len(clears); i += 2 {
		if clears[i] != 2 || clears[i+1] != 1 {
			t.Errorf("off-screen pass must precede the swapchain pass, got %v", clears[i:i+2])
		}
	}
	if len(f.renderer.Queue()) != 0 {
		t.Error("the scene must end with the frame")
	}
}

func TestApplicationZeroExtent(t *testing.T) {
	f := newFixture(t)
	defer f.release(t)

	v := viewer()
	if err := f.app.PushLayer(v); err != nil {
		t.Fatal(err)
	}
	if err := f.app.Frame(0); err != nil {
		t.Fatal(err)
	}

	f.gpu.Capabilities.CurrentExtent = vk.Extent2D{}
	f.gpu.PresentResults = []vk.Result{vk.ErrorOutOfDate}
	for i := 0; i < 2; i++ {
		if err := f.app.Frame(0); err != nil {
			t.Fatal(err)
		}
	}
	if f.app.Skipped() != 2 || f.app.Frames() != 1 {
		t.Errorf("expected 1 frame and 2 skipped, got %d and %d", f.app.Frames(), f.app.Skipped())
	}

	f.gpu.Capabilities.CurrentExtent = vk.Extent2D{Width: 640, Height: 480}
	if err := f.app.Frame(0); err != nil {
		t.Fatal(err)
	}
	if f.app.Frames() != 2 {
		t.Errorf("expected frames to resume, got %d", f.app.Frames())
	}
	if e := f.renderer.Framebuffer().Extent(); e.Width != 640 || e.Height != 480 {
		t.Errorf("framebuffer must follow the surface, got %+v", e)
	}
	want := mgl32.Perspective(mgl32.DegToRad(app.ViewerFieldOfView), 640.0/480.0, app.ViewerNear, app.ViewerFar)
	if !v.Camera().Projection().ApproxEqual(want) {
		t.Error("camera aspect must follow the surface")
	}
}

func TestPushLayerAttachFailure(t *testing.T) {
	f := newFixture(t)
	defer f.release(t)

	err := f.app.PushLayer(app.NewViewerLayer(app.ViewerSpecification{Mesh: "models/missing.dae"}))
	if err == nil {
		t.Fatal("missing mesh must fail to attach")
	}
	if len(f.app.Layers()) != 0 {
		t.Error("a layer that failed to attach must not be pushed")
	}
}

func TestPopLayer(t *testing.T) {
	f := newFixture(t)
	defer f.release(t)

	v := viewer()
	if err := f.app.PushLayer(v); err != nil {
		t.Fatal(err)
	}
	if err := f.app.Frame(0); err != nil {
		t.Fatal(err)
	}
	if _, err := f.app.PopLayer("nothing"); err == nil {
		t.Error("expected an error for an unknown layer")
	}
	if _, err := f.app.PopLayer(v.Name()); err != nil {
		t.Fatal(err)
	}
	if v.Mesh() != nil {
		t.Error("detached viewer must release its mesh")
	}

	if err := f.app.Frame(0); err != nil {
		t.Fatal(err)
	}
	if n := len(f.gpu.Draws()); n != 4 {
		t.Errorf("nothing may be drawn without the viewer, got %d draws", n)
	}
}

func TestViewerOrbit(t *testing.T) {
	v := app.NewViewerLayer(app.ViewerSpecification{OrbitSpeed: math.Pi / 2})
	v.OnUpdate(time.Second)

	want := mgl32.Vec3{6.5, 4, -4.5}
	if got := v.Camera().Position(); !got.ApproxEqualThreshold(want, 1e-4) {
		t.Errorf("expected the camera at %v, got %v", want, got)
	}
}

func BenchmarkApplicationFrame(b *testing.B) {
	f := newFixture(b)
	if err := f.app.PushLayer(viewer()); err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := f.app.Frame(time.Millisecond); err != nil {
			b.Fatal(err)
		}
	}
}
