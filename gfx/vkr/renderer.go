// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"unsafe"

	"github.com/devblok/vkplayground/core"
	"github.com/devblok/vkplayground/device"
	"github.com/devblok/vkplayground/driver"
	"github.com/devblok/vkplayground/gfx"
	"github.com/devblok/vkplayground/model"
	"github.com/devblok/vkplayground/shader"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	vk "github.com/vulkan-go/vulkan"
)

const (
	maxDescriptorSets   = 1000
	descriptorsPerType  = 10
	transformPushOffset = 0
)

// DefaultClearColor is used when a specification leaves the color unset.
var DefaultClearColor = [4]float32{0.1, 0.1, 0.1, 1}

// UIBackend records user interface draw data into the bound render pass.
type UIBackend interface {
	RenderDrawData(cmd vk.CommandBuffer) error
}

// DrawCommand is a sub-mesh queued for drawing with a transform.
type DrawCommand struct {
	Mesh      *Mesh
	SubMesh   model.SubMesh
	Transform mgl32.Mat4
}

// RenderStats counts the work recorded in the current frame.
type RenderStats struct {
	DrawCalls    int
	Meshes       int
	RenderPasses int
}

// RendererSpecification describes what NewRenderer sets up.
type RendererSpecification struct {
	Program *shader.Program

	// Framebuffer is the off-screen target, a color and a depth
	// attachment at 1280x720 when AttachmentFormats is empty.
	Framebuffer FramebufferSpecification

	// ResizeFramebuffer makes the off-screen target follow the swapchain size.
	ResizeFramebuffer bool
}

// NewRenderer creates the off-screen framebuffer, the pipeline of the
// program and the per frame slot descriptor pools and camera buffers.
func NewRenderer(dev *device.Device, a *Allocator, sc *SwapChain, spec RendererSpecification) (*Renderer, error) {
	if spec.Program == nil {
		return nil, errors.New("renderer needs a shader program")
	}
	fbSpec := spec.Framebuffer
	if len(fbSpec.AttachmentFormats) == 0 {
		fbSpec.AttachmentFormats = []vk.Format{vk.FormatR8g8b8a8Unorm, vk.FormatD24UnormS8Uint}
	}
	if fbSpec.Width == 0 || fbSpec.Height == 0 {
		fbSpec.Width, fbSpec.Height = 1280, 720
	}
	if fbSpec.ClearColor == [4]float32{} {
		fbSpec.ClearColor = DefaultClearColor
	}

	r := &Renderer{
		dev:       dev,
		gpu:       dev.GPU(),
		allocator: a,
		swapChain: sc,
	}

	var err error
	if r.framebuffer, err = NewFramebuffer(dev, a, fbSpec); err != nil {
		return nil, err
	}

	for slot := 0; slot < FramesInFlight; slot++ {
		if r.pools[slot], err = r.gpu.CreateDescriptorPool(&vk.DescriptorPoolCreateInfo{
			SType:         vk.StructureTypeDescriptorPoolCreateInfo,
			MaxSets:       maxDescriptorSets,
			PoolSizeCount: 2,
			PPoolSizes: []vk.DescriptorPoolSize{
				{Type: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: descriptorsPerType},
				{Type: vk.DescriptorTypeUniformBuffer, DescriptorCount: descriptorsPerType},
			},
		}); err != nil {
			r.Release()
			return nil, err
		}
		if r.cameras[slot], err = NewUniformBuffer(a, model.CameraUniformSize, nil); err != nil {
			r.Release()
			return nil, err
		}
	}

	if err := r.SetProgram(spec.Program); err != nil {
		r.Release()
		return nil, err
	}

	sc.OnResize(func(extent vk.Extent2D) {
		if r.swapPipeline != nil {
			r.swapPipeline.Release()
			r.swapPipeline = nil
		}
		if !spec.ResizeFramebuffer {
			return
		}
		if err := r.framebuffer.Resize(extent.Width, extent.Height); err != nil {
			log.WithError(err).Error("framebuffer resize failed")
		}
	})

	return r, nil
}

// Renderer records scenes into the command buffer of the current frame.
type Renderer struct {
	dev       *device.Device
	gpu       driver.GPU
	allocator *Allocator
	swapChain *SwapChain

	framebuffer  *Framebuffer
	shader       *Shader
	pipeline     *Pipeline
	swapPipeline *Pipeline

	pools   [FramesInFlight]vk.DescriptorPool
	cameras [FramesInFlight]*UniformBuffer
	texture *Texture2D

	cmd    vk.CommandBuffer
	slot   FrameSlot
	sets   []vk.DescriptorSet
	frame  bool
	target *Framebuffer
	inPass bool

	camera gfx.Camera
	draws  []DrawCommand
	stats  RenderStats
}

// SetProgram rebuilds the shader objects and pipelines from program. It
// drains the device and must be called between frames.
func (r *Renderer) SetProgram(program *shader.Program) error {
	if r.frame {
		return errors.Wrap(ErrInvalidState, "program change inside a frame")
	}

	s, err := NewShader(r.gpu, program)
	if err != nil {
		return err
	}
	p, err := NewPipeline(r.gpu, PipelineSpecification{
		Shader:     s,
		RenderPass: r.framebuffer.RenderPass(),
		DepthTest:  r.framebuffer.HasDepth(),
	})
	if err != nil {
		s.Release()
		return err
	}

	if r.shader != nil {
		if err := r.dev.WaitIdle(); err != nil {
			p.Release()
			s.Release()
			return err
		}
		r.releasePipelines()
	}
	r.shader = s
	r.pipeline = p

	log.WithFields(log.Fields{
		"shader":         program.Name,
		"descriptorSets": len(s.DescriptorSetLayouts()),
	}).Info("renderer pipeline built")
	return nil
}

// SetTexture sets the texture bound as the first sampled image.
func (r *Renderer) SetTexture(t *Texture2D) {
	r.texture = t
}

// BeginFrame resets the descriptor pool of the current frame slot,
// allocates the descriptor sets of the shader and opens the command
// buffer. The swapchain must have acquired an image.
func (r *Renderer) BeginFrame() error {
	if r.frame {
		return errors.Wrap(ErrInvalidState, "frame already begun")
	}
	if r.swapChain.State() != ImageAcquired {
		return errors.Wrapf(ErrInvalidState, "begin frame while swapchain is %s", r.swapChain.State())
	}

	r.slot = r.swapChain.Frame().Slot
	pool := r.pools[r.slot]
	if err := r.gpu.ResetDescriptorPool(pool); err != nil {
		return err
	}

	r.sets = nil
	if layouts := r.shader.DescriptorSetLayouts(); len(layouts) > 0 {
		sets, err := r.gpu.AllocateDescriptorSets(pool, layouts)
		if err != nil {
			return err
		}
		r.sets = sets
	}

	cmd, err := r.swapChain.BeginCommands()
	if err != nil {
		return err
	}
	r.cmd = cmd
	r.frame = true
	r.stats = RenderStats{}

	if r.texture != nil {
		r.WriteTexture(0, r.texture)
	}
	return nil
}

// AllocateDescriptorSet allocates a set from the pool of the current frame
// slot. The set is valid until the slot is reused.
func (r *Renderer) AllocateDescriptorSet(layout vk.DescriptorSetLayout) (vk.DescriptorSet, error) {
	if !r.frame {
		return nil, errors.Wrap(ErrInvalidState, "descriptor set allocation outside a frame")
	}
	sets, err := r.gpu.AllocateDescriptorSets(r.pools[r.slot], []vk.DescriptorSetLayout{layout})
	if err != nil {
		return nil, err
	}
	return sets[0], nil
}

// WriteTexture binds a texture to the sampled image at reflection index idx.
func (r *Renderer) WriteTexture(idx int, t *Texture2D) bool {
	res, ok := r.shader.Resource(idx)
	if !ok || int(res.Index) >= len(r.sets) {
		return false
	}
	r.gpu.UpdateDescriptorSets([]vk.WriteDescriptorSet{{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          r.sets[res.Index],
		DstBinding:      res.Binding,
		DescriptorCount: 1,
		DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
		PImageInfo:      []vk.DescriptorImageInfo{t.DescriptorInfo()},
	}})
	return true
}

// BeginScene writes the camera matrices into the camera buffer of the
// frame slot and binds it to the first uniform buffer of the shader.
func (r *Renderer) BeginScene(camera gfx.Camera) error {
	if !r.frame {
		return errors.Wrap(ErrInvalidState, "scene outside a frame")
	}
	r.camera = camera

	vp := gfx.ViewProjection(camera)
	block := model.CameraUniform{
		ViewProjection:        vp,
		InverseViewProjection: vp.Inv(),
	}
	buffer := r.cameras[r.slot]
	if err := buffer.Update(block.Bytes()); err != nil {
		return err
	}

	desc, ok := r.shader.UniformBuffer(0)
	if !ok || int(desc.Index) >= len(r.sets) {
		return nil
	}
	r.gpu.UpdateDescriptorSets([]vk.WriteDescriptorSet{{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          r.sets[desc.Index],
		DstBinding:      desc.Binding,
		DescriptorCount: 1,
		DescriptorType:  vk.DescriptorTypeUniformBuffer,
		PBufferInfo:     []vk.DescriptorBufferInfo{buffer.DescriptorInfo()},
	}})
	return nil
}

// BeginRenderPass targets fb, or the acquired swapchain image when fb is
// nil. The swapchain viewport is flipped vertically.
func (r *Renderer) BeginRenderPass(fb *Framebuffer) error {
	if !r.frame || r.inPass {
		return errors.Wrap(ErrInvalidState, "render pass begin")
	}

	var (
		pass        vk.RenderPass
		framebuffer vk.Framebuffer
		extent      vk.Extent2D
		clear       []vk.ClearValue
		viewport    vk.Viewport
	)
	if fb != nil {
		pass, framebuffer, extent = fb.RenderPass(), fb.Get(), fb.Extent()
		clear = fb.ClearValues()
		viewport = vk.Viewport{
			Width:    float32(extent.Width),
			Height:   float32(extent.Height),
			MinDepth: 0,
			MaxDepth: 1,
		}
	} else {
		pass, framebuffer, extent = r.swapChain.RenderPass(), r.swapChain.Framebuffer(), r.swapChain.Extent()
		clear = make([]vk.ClearValue, 1)
		clear[0].SetColor(DefaultClearColor[:])
		viewport = vk.Viewport{
			Y:        float32(extent.Height),
			Width:    float32(extent.Width),
			Height:   -float32(extent.Height),
			MinDepth: 0,
			MaxDepth: 1,
		}
	}

	r.gpu.CmdBeginRenderPass(r.cmd, &vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  pass,
		Framebuffer: framebuffer,
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: extent,
		},
		ClearValueCount: uint32(len(clear)),
		PClearValues:    clear,
	})
	r.gpu.CmdSetViewport(r.cmd, viewport)
	r.gpu.CmdSetScissor(r.cmd, vk.Rect2D{Extent: extent})

	r.target = fb
	r.inPass = true
	r.stats.RenderPasses++
	return nil
}

// SubmitMesh queues a draw per sub-mesh of mesh sharing the transform.
func (r *Renderer) SubmitMesh(mesh *Mesh, transform mgl32.Mat4) {
	for _, sub := range mesh.SubMeshes() {
		r.draws = append(r.draws, DrawCommand{
			Mesh:      mesh,
			SubMesh:   sub,
			Transform: transform,
		})
	}
	r.stats.Meshes++
}

// Queue returns the draws submitted since BeginScene.
func (r *Renderer) Queue() []DrawCommand {
	return r.draws
}

func (r *Renderer) pipelineFor(target *Framebuffer) (*Pipeline, error) {
	if target != nil {
		return r.pipeline, nil
	}
	if r.swapPipeline == nil {
		p, err := NewPipeline(r.gpu, PipelineSpecification{
			Shader:     r.shader,
			RenderPass: r.swapChain.RenderPass(),
		})
		if err != nil {
			return nil, err
		}
		r.swapPipeline = p
	}
	return r.swapPipeline, nil
}

// Render records the queued draws into the bound render pass.
func (r *Renderer) Render() error {
	if !r.inPass {
		return errors.Wrap(ErrInvalidState, "render outside a render pass")
	}
	if len(r.draws) == 0 {
		return nil
	}

	p, err := r.pipelineFor(r.target)
	if err != nil {
		return err
	}
	r.gpu.CmdBindPipeline(r.cmd, p.Get())

	for idx := range r.draws {
		draw := &r.draws[idx]
		vertices, indices := draw.Mesh.VertexBuffer(), draw.Mesh.IndexBuffer()

		r.gpu.CmdBindVertexBuffer(r.cmd, vertices.Get(), 0)
		r.gpu.CmdBindIndexBuffer(r.cmd, indices.Get(), 0, indices.IndexType())
		r.gpu.CmdPushConstants(r.cmd, p.Layout(), vk.ShaderStageFlags(vk.ShaderStageVertexBit),
			transformPushOffset, core.Bytes(unsafe.Pointer(&draw.Transform), 1, int(unsafe.Sizeof(draw.Transform))))
		if len(r.sets) > 0 {
			r.gpu.CmdBindDescriptorSets(r.cmd, p.Layout(), r.sets)
		}
		r.gpu.CmdDrawIndexed(r.cmd, draw.SubMesh.IndexCount, 1, draw.SubMesh.IndexOffset, int32(draw.SubMesh.VertexOffset), 0)
		r.stats.DrawCalls++
	}
	return nil
}

// RenderUI records the draw data of ui into the bound render pass.
func (r *Renderer) RenderUI(ui UIBackend) error {
	if !r.inPass {
		return errors.Wrap(ErrInvalidState, "ui outside a render pass")
	}
	if ui == nil {
		return nil
	}
	return ui.RenderDrawData(r.cmd)
}

// EndRenderPass closes the bound render pass.
func (r *Renderer) EndRenderPass() error {
	if !r.inPass {
		return errors.Wrap(ErrInvalidState, "render pass end")
	}
	r.gpu.CmdEndRenderPass(r.cmd)
	r.inPass = false
	r.target = nil
	return nil
}

// EndScene drops the camera and the queued draws.
func (r *Renderer) EndScene() {
	r.camera = nil
	r.draws = r.draws[:0]
}

// EndFrame closes the command buffer, the swapchain presents it next.
func (r *Renderer) EndFrame() error {
	if !r.frame || r.inPass {
		return errors.Wrap(ErrInvalidState, "frame end")
	}
	if err := r.swapChain.EndCommands(); err != nil {
		return err
	}
	r.frame = false
	r.cmd = nil
	return nil
}

// Framebuffer returns the off-screen target.
func (r *Renderer) Framebuffer() *Framebuffer {
	return r.framebuffer
}

// Shader returns the shader objects in use.
func (r *Renderer) Shader() *Shader {
	return r.shader
}

// Pipeline returns the pipeline targeting the off-screen framebuffer.
func (r *Renderer) Pipeline() *Pipeline {
	return r.pipeline
}

// DescriptorSets returns the sets allocated for the current frame.
func (r *Renderer) DescriptorSets() []vk.DescriptorSet {
	return r.sets
}

// Stats returns what was recorded in the current or last frame.
func (r *Renderer) Stats() RenderStats {
	return r.stats
}

func (r *Renderer) releasePipelines() {
	if r.swapPipeline != nil {
		r.swapPipeline.Release()
		r.swapPipeline = nil
	}
	if r.pipeline != nil {
		r.pipeline.Release()
		r.pipeline = nil
	}
	if r.shader != nil {
		r.shader.Release()
		r.shader = nil
	}
}

// Release drains the device and destroys what the renderer owns.
func (r *Renderer) Release() {
	r.dev.WaitIdle()

	r.releasePipelines()
	for slot := 0; slot < FramesInFlight; slot++ {
		if r.pools[slot] != nil {
			r.gpu.DestroyDescriptorPool(r.pools[slot])
			r.pools[slot] = nil
		}
		if r.cameras[slot] != nil {
			r.cameras[slot].Release()
			r.cameras[slot] = nil
		}
	}
	if r.framebuffer != nil {
		r.framebuffer.Release()
		r.framebuffer = nil
	}
}
