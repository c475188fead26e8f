// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"github.com/devblok/vkplayground/driver"
	"github.com/devblok/vkplayground/model"
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// PushConstantSize is the size of the vertex stage push constant range.
const PushConstantSize = 128

// PipelineSpecification describes a graphics pipeline.
type PipelineSpecification struct {
	Shader     *Shader
	RenderPass vk.RenderPass

	// DepthTest enables depth testing and writes, the render pass must
	// have a depth attachment.
	DepthTest bool
}

// NewPipeline creates the pipeline layout and graphics pipeline.
func NewPipeline(gpu driver.GPU, spec PipelineSpecification) (*Pipeline, error) {
	if spec.Shader == nil || spec.RenderPass == nil {
		return nil, errors.New("pipeline needs a shader and a render pass")
	}

	p := &Pipeline{
		gpu:  gpu,
		spec: spec,
	}

	setLayouts := spec.Shader.DescriptorSetLayouts()
	pushConstants := []vk.PushConstantRange{{
		StageFlags: vk.ShaderStageFlags(vk.ShaderStageVertexBit),
		Offset:     0,
		Size:       PushConstantSize,
	}}

	var err error
	if p.layout, err = gpu.CreatePipelineLayout(&vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         uint32(len(setLayouts)),
		PSetLayouts:            setLayouts,
		PushConstantRangeCount: uint32(len(pushConstants)),
		PPushConstantRanges:    pushConstants,
	}); err != nil {
		return nil, err
	}

	bindings := model.VertexBindingDescriptions()
	attributes := model.VertexAttributeDescriptions()
	stages := spec.Shader.Stages()

	depthTest := vk.Bool32(vk.False)
	if spec.DepthTest {
		depthTest = vk.True
	}

	if p.pipeline, err = gpu.CreateGraphicsPipeline(&vk.GraphicsPipelineCreateInfo{
		SType:      vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount: uint32(len(stages)),
		PStages:    stages,
		PVertexInputState: &vk.PipelineVertexInputStateCreateInfo{
			SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
			VertexBindingDescriptionCount:   uint32(len(bindings)),
			PVertexBindingDescriptions:      bindings,
			VertexAttributeDescriptionCount: uint32(len(attributes)),
			PVertexAttributeDescriptions:    attributes,
		},
		PInputAssemblyState: &vk.PipelineInputAssemblyStateCreateInfo{
			SType:    vk.StructureTypePipelineInputAssemblyStateCreateInfo,
			Topology: vk.PrimitiveTopologyTriangleList,
		},
		PViewportState: &vk.PipelineViewportStateCreateInfo{
			SType:         vk.StructureTypePipelineViewportStateCreateInfo,
			ViewportCount: 1,
			ScissorCount:  1,
		},
		PRasterizationState: &vk.PipelineRasterizationStateCreateInfo{
			SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
			PolygonMode: vk.PolygonModeFill,
			CullMode:    vk.CullModeFlags(vk.CullModeNone),
			FrontFace:   vk.FrontFaceClockwise,
			LineWidth:   1.0,
		},
		PDepthStencilState: &vk.PipelineDepthStencilStateCreateInfo{
			SType:                 vk.StructureTypePipelineDepthStencilStateCreateInfo,
			DepthTestEnable:       depthTest,
			DepthWriteEnable:      depthTest,
			DepthCompareOp:        vk.CompareOpLessOrEqual,
			DepthBoundsTestEnable: vk.False,
			Back: vk.StencilOpState{
				FailOp:    vk.StencilOpKeep,
				PassOp:    vk.StencilOpKeep,
				CompareOp: vk.CompareOpAlways,
			},
			StencilTestEnable: vk.False,
			Front: vk.StencilOpState{
				FailOp:    vk.StencilOpKeep,
				PassOp:    vk.StencilOpKeep,
				CompareOp: vk.CompareOpAlways,
			},
		},
		PMultisampleState: &vk.PipelineMultisampleStateCreateInfo{
			SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
			RasterizationSamples: vk.SampleCount1Bit,
		},
		PColorBlendState: &vk.PipelineColorBlendStateCreateInfo{
			SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
			AttachmentCount: 1,
			PAttachments: []vk.PipelineColorBlendAttachmentState{{
				ColorWriteMask:      0xF,
				BlendEnable:         vk.True,
				SrcColorBlendFactor: vk.BlendFactorSrcAlpha,
				DstColorBlendFactor: vk.BlendFactorOneMinusSrcAlpha,
				ColorBlendOp:        vk.BlendOpAdd,
				SrcAlphaBlendFactor: vk.BlendFactorOne,
				DstAlphaBlendFactor: vk.BlendFactorZero,
				AlphaBlendOp:        vk.BlendOpAdd,
			}},
		},
		PDynamicState: &vk.PipelineDynamicStateCreateInfo{
			SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
			DynamicStateCount: 2,
			PDynamicStates: []vk.DynamicState{
				vk.DynamicStateViewport,
				vk.DynamicStateScissor,
			},
		},
		Layout:     p.layout,
		RenderPass: spec.RenderPass,
	}); err != nil {
		gpu.DestroyPipelineLayout(p.layout)
		return nil, err
	}

	return p, nil
}

// Pipeline is a graphics pipeline with its layout.
type Pipeline struct {
	gpu  driver.GPU
	spec PipelineSpecification

	layout   vk.PipelineLayout
	pipeline vk.Pipeline
}

// Get returns the vulkan pipeline handle.
func (p *Pipeline) Get() vk.Pipeline {
	return p.pipeline
}

// Layout returns the pipeline layout.
func (p *Pipeline) Layout() vk.PipelineLayout {
	return p.layout
}

// Specification returns what the pipeline was created with.
func (p *Pipeline) Specification() PipelineSpecification {
	return p.spec
}

// Release destroys the pipeline and its layout.
func (p *Pipeline) Release() {
	if p.pipeline != nil {
		p.gpu.DestroyPipeline(p.pipeline)
		p.pipeline = nil
	}
	if p.layout != nil {
		p.gpu.DestroyPipelineLayout(p.layout)
		p.layout = nil
	}
}
