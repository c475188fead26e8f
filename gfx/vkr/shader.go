// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"sort"

	"github.com/devblok/vkplayground/driver"
	"github.com/devblok/vkplayground/shader"
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

func shaderStage(stage shader.Stage) (vk.ShaderStageFlagBits, error) {
	switch stage {
	case shader.Vertex:
		return vk.ShaderStageVertexBit, nil
	case shader.Fragment:
		return vk.ShaderStageFragmentBit, nil
	case shader.Compute:
		return vk.ShaderStageComputeBit, nil
	}
	return 0, errors.Wrapf(shader.ErrUnknownStage, "%d", stage)
}

// NewShader creates the shader modules of a program and the descriptor
// set layouts of the resources it binds, one layout per set in ascending
// set order.
func NewShader(gpu driver.GPU, program *shader.Program) (*Shader, error) {
	s := &Shader{
		gpu:     gpu,
		program: program,
	}

	for _, m := range program.Modules {
		stage, err := shaderStage(m.Stage)
		if err != nil {
			s.Release()
			return nil, err
		}
		module, err := gpu.CreateShaderModule(m.Code)
		if err != nil {
			s.Release()
			return nil, errors.Wrapf(err, "shader %s stage %s", program.Name, m.Stage)
		}
		s.modules = append(s.modules, module)
		s.stages = append(s.stages, vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  stage,
			Module: module,
			PName:  "main\x00",
		})
	}

	bindings := make(map[uint32][]vk.DescriptorSetLayoutBinding)
	for _, ub := range program.UniformBuffers {
		bindings[ub.Set] = append(bindings[ub.Set], vk.DescriptorSetLayoutBinding{
			Binding:         ub.Binding,
			DescriptorType:  vk.DescriptorTypeUniformBuffer,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageAll),
		})
	}
	for _, res := range program.Resources {
		bindings[res.Set] = append(bindings[res.Set], vk.DescriptorSetLayoutBinding{
			Binding:         res.Binding,
			DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageAll),
		})
	}

	// Sets the program skips get empty layouts so set numbers stay valid
	// pipeline layout positions.
	var count uint32
	for set := range bindings {
		if set+1 > count {
			count = set + 1
		}
	}
	for set := uint32(0); set < count; set++ {
		s.sets = append(s.sets, set)
	}

	for _, set := range s.sets {
		b := bindings[set]
		sort.Slice(b, func(i, j int) bool { return b[i].Binding < b[j].Binding })
		layout, err := gpu.CreateDescriptorSetLayout(&vk.DescriptorSetLayoutCreateInfo{
			SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
			BindingCount: uint32(len(b)),
			PBindings:    b,
		})
		if err != nil {
			s.Release()
			return nil, errors.Wrapf(err, "shader %s set %d", program.Name, set)
		}
		s.layouts = append(s.layouts, layout)
	}

	return s, nil
}

// Shader is a program turned into device objects.
type Shader struct {
	gpu     driver.GPU
	program *shader.Program

	modules []vk.ShaderModule
	stages  []vk.PipelineShaderStageCreateInfo
	sets    []uint32
	layouts []vk.DescriptorSetLayout
}

// Program returns the reflected program.
func (s *Shader) Program() *shader.Program {
	return s.program
}

// Stages returns the stage create infos for pipeline creation.
func (s *Shader) Stages() []vk.PipelineShaderStageCreateInfo {
	return s.stages
}

// DescriptorSetLayouts returns a layout per descriptor set from set 0 up
// to the highest set the program binds.
func (s *Shader) DescriptorSetLayouts() []vk.DescriptorSetLayout {
	return s.layouts
}

// Sets returns the set numbers the layouts were made for, including the
// empty ones.
func (s *Shader) Sets() []uint32 {
	return s.sets
}

// UniformBuffer returns the reflected uniform buffer at idx.
func (s *Shader) UniformBuffer(idx int) (shader.UniformBufferDescription, bool) {
	if idx < 0 || idx >= len(s.program.UniformBuffers) {
		return shader.UniformBufferDescription{}, false
	}
	return s.program.UniformBuffers[idx], true
}

// Resource returns the reflected sampled image at idx.
func (s *Shader) Resource(idx int) (shader.ResourceDescription, bool) {
	if idx < 0 || idx >= len(s.program.Resources) {
		return shader.ResourceDescription{}, false
	}
	return s.program.Resources[idx], true
}

// Release destroys the modules and layouts.
func (s *Shader) Release() {
	for _, layout := range s.layouts {
		s.gpu.DestroyDescriptorSetLayout(layout)
	}
	for _, module := range s.modules {
		s.gpu.DestroyShaderModule(module)
	}
	s.layouts = nil
	s.modules = nil
	s.stages = nil
}
