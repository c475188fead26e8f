// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package driver

import (
	"unsafe"

	vk "github.com/vulkan-go/vulkan"
)

// NewVulkanGPU wraps an already created logical device.
func NewVulkanGPU(physical vk.PhysicalDevice, device vk.Device) GPU {
	var memProperties vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(physical, &memProperties)
	memProperties.Deref()
	for idx := uint32(0); idx < memProperties.MemoryTypeCount; idx++ {
		memProperties.MemoryTypes[idx].Deref()
	}
	for idx := uint32(0); idx < memProperties.MemoryHeapCount; idx++ {
		memProperties.MemoryHeaps[idx].Deref()
	}

	return &vulkanGPU{
		physical:      physical,
		device:        device,
		memProperties: memProperties,
	}
}

type vulkanGPU struct {
	physical      vk.PhysicalDevice
	device        vk.Device
	memProperties vk.PhysicalDeviceMemoryProperties
}

func (v *vulkanGPU) Inner() interface{} {
	return v.device
}

func (v *vulkanGPU) PhysicalDevice() vk.PhysicalDevice {
	return v.physical
}

func (v *vulkanGPU) MemoryProperties() vk.PhysicalDeviceMemoryProperties {
	return v.memProperties
}

func (v *vulkanGPU) Queue(family, index uint32) vk.Queue {
	var queue vk.Queue
	vk.GetDeviceQueue(v.device, family, index, &queue)
	return queue
}

func (v *vulkanGPU) QueueSubmit(queue vk.Queue, submits []vk.SubmitInfo, fence vk.Fence) error {
	return Check("vk.QueueSubmit()", vk.QueueSubmit(queue, uint32(len(submits)), submits, fence))
}

func (v *vulkanGPU) QueuePresent(queue vk.Queue, info *vk.PresentInfo) vk.Result {
	return vk.QueuePresent(queue, info)
}

func (v *vulkanGPU) QueueWaitIdle(queue vk.Queue) error {
	return Check("vk.QueueWaitIdle()", vk.QueueWaitIdle(queue))
}

func (v *vulkanGPU) DeviceWaitIdle() error {
	return Check("vk.DeviceWaitIdle()", vk.DeviceWaitIdle(v.device))
}

func (v *vulkanGPU) CreateCommandPool(info *vk.CommandPoolCreateInfo) (vk.CommandPool, error) {
	var pool vk.CommandPool
	if err := Check("vk.CreateCommandPool()", vk.CreateCommandPool(v.device, info, nil, &pool)); err != nil {
		return nil, err
	}
	return pool, nil
}

func (v *vulkanGPU) DestroyCommandPool(pool vk.CommandPool) {
	vk.DestroyCommandPool(v.device, pool, nil)
}

func (v *vulkanGPU) AllocateCommandBuffers(info *vk.CommandBufferAllocateInfo) ([]vk.CommandBuffer, error) {
	buffers := make([]vk.CommandBuffer, info.CommandBufferCount)
	if err := Check("vk.AllocateCommandBuffers()", vk.AllocateCommandBuffers(v.device, info, buffers)); err != nil {
		return nil, err
	}
	return buffers, nil
}

func (v *vulkanGPU) FreeCommandBuffers(pool vk.CommandPool, buffers []vk.CommandBuffer) {
	vk.FreeCommandBuffers(v.device, pool, uint32(len(buffers)), buffers)
}

func (v *vulkanGPU) BeginCommandBuffer(cmd vk.CommandBuffer, info *vk.CommandBufferBeginInfo) error {
	return Check("vk.BeginCommandBuffer()", vk.BeginCommandBuffer(cmd, info))
}

func (v *vulkanGPU) EndCommandBuffer(cmd vk.CommandBuffer) error {
	return Check("vk.EndCommandBuffer()", vk.EndCommandBuffer(cmd))
}

func (v *vulkanGPU) ResetCommandBuffer(cmd vk.CommandBuffer) error {
	return Check("vk.ResetCommandBuffer()", vk.ResetCommandBuffer(cmd, 0))
}

func (v *vulkanGPU) CreateFence(signaled bool) (vk.Fence, error) {
	fci := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if signaled {
		fci.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var fence vk.Fence
	if err := Check("vk.CreateFence()", vk.CreateFence(v.device, &fci, nil, &fence)); err != nil {
		return nil, err
	}
	return fence, nil
}

func (v *vulkanGPU) DestroyFence(fence vk.Fence) {
	vk.DestroyFence(v.device, fence, nil)
}

func (v *vulkanGPU) WaitForFences(fences []vk.Fence, timeout uint64) error {
	return Check("vk.WaitForFences()", vk.WaitForFences(v.device, uint32(len(fences)), fences, vk.True, timeout))
}

func (v *vulkanGPU) ResetFences(fences []vk.Fence) error {
	return Check("vk.ResetFences()", vk.ResetFences(v.device, uint32(len(fences)), fences))
}

func (v *vulkanGPU) CreateSemaphore() (vk.Semaphore, error) {
	sci := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	var semaphore vk.Semaphore
	if err := Check("vk.CreateSemaphore()", vk.CreateSemaphore(v.device, &sci, nil, &semaphore)); err != nil {
		return nil, err
	}
	return semaphore, nil
}

func (v *vulkanGPU) DestroySemaphore(semaphore vk.Semaphore) {
	vk.DestroySemaphore(v.device, semaphore, nil)
}

func (v *vulkanGPU) CreateBuffer(info *vk.BufferCreateInfo) (vk.Buffer, error) {
	var buffer vk.Buffer
	if err := Check("vk.CreateBuffer()", vk.CreateBuffer(v.device, info, nil, &buffer)); err != nil {
		return nil, err
	}
	return buffer, nil
}

func (v *vulkanGPU) DestroyBuffer(buffer vk.Buffer) {
	vk.DestroyBuffer(v.device, buffer, nil)
}

func (v *vulkanGPU) BufferMemoryRequirements(buffer vk.Buffer) vk.MemoryRequirements {
	var req vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(v.device, buffer, &req)
	req.Deref()
	return req
}

func (v *vulkanGPU) BindBufferMemory(buffer vk.Buffer, memory vk.DeviceMemory, offset vk.DeviceSize) error {
	return Check("vk.BindBufferMemory()", vk.BindBufferMemory(v.device, buffer, memory, offset))
}

func (v *vulkanGPU) CreateImage(info *vk.ImageCreateInfo) (vk.Image, error) {
	var image vk.Image
	if err := Check("vk.CreateImage()", vk.CreateImage(v.device, info, nil, &image)); err != nil {
		return nil, err
	}
	return image, nil
}

func (v *vulkanGPU) DestroyImage(image vk.Image) {
	vk.DestroyImage(v.device, image, nil)
}

func (v *vulkanGPU) ImageMemoryRequirements(image vk.Image) vk.MemoryRequirements {
	var req vk.MemoryRequirements
	vk.GetImageMemoryRequirements(v.device, image, &req)
	req.Deref()
	return req
}

func (v *vulkanGPU) BindImageMemory(image vk.Image, memory vk.DeviceMemory, offset vk.DeviceSize) error {
	return Check("vk.BindImageMemory()", vk.BindImageMemory(v.device, image, memory, offset))
}

func (v *vulkanGPU) AllocateMemory(info *vk.MemoryAllocateInfo) (vk.DeviceMemory, error) {
	var memory vk.DeviceMemory
	if err := Check("vk.AllocateMemory()", vk.AllocateMemory(v.device, info, nil, &memory)); err != nil {
		return nil, err
	}
	return memory, nil
}

func (v *vulkanGPU) FreeMemory(memory vk.DeviceMemory) {
	vk.FreeMemory(v.device, memory, nil)
}

func (v *vulkanGPU) MapMemory(memory vk.DeviceMemory, offset, size vk.DeviceSize) (unsafe.Pointer, error) {
	var data unsafe.Pointer
	if err := Check("vk.MapMemory()", vk.MapMemory(v.device, memory, offset, size, 0, &data)); err != nil {
		return nil, err
	}
	return data, nil
}

func (v *vulkanGPU) UnmapMemory(memory vk.DeviceMemory) {
	vk.UnmapMemory(v.device, memory)
}

func (v *vulkanGPU) CreateImageView(info *vk.ImageViewCreateInfo) (vk.ImageView, error) {
	var view vk.ImageView
	if err := Check("vk.CreateImageView()", vk.CreateImageView(v.device, info, nil, &view)); err != nil {
		return nil, err
	}
	return view, nil
}

func (v *vulkanGPU) DestroyImageView(view vk.ImageView) {
	vk.DestroyImageView(v.device, view, nil)
}

func (v *vulkanGPU) CreateSampler(info *vk.SamplerCreateInfo) (vk.Sampler, error) {
	var sampler vk.Sampler
	if err := Check("vk.CreateSampler()", vk.CreateSampler(v.device, info, nil, &sampler)); err != nil {
		return nil, err
	}
	return sampler, nil
}

func (v *vulkanGPU) DestroySampler(sampler vk.Sampler) {
	vk.DestroySampler(v.device, sampler, nil)
}

func (v *vulkanGPU) CreateRenderPass(info *vk.RenderPassCreateInfo) (vk.RenderPass, error) {
	var pass vk.RenderPass
	if err := Check("vk.CreateRenderPass()", vk.CreateRenderPass(v.device, info, nil, &pass)); err != nil {
		return nil, err
	}
	return pass, nil
}

func (v *vulkanGPU) DestroyRenderPass(pass vk.RenderPass) {
	vk.DestroyRenderPass(v.device, pass, nil)
}

func (v *vulkanGPU) CreateFramebuffer(info *vk.FramebufferCreateInfo) (vk.Framebuffer, error) {
	var framebuffer vk.Framebuffer
	if err := Check("vk.CreateFramebuffer()", vk.CreateFramebuffer(v.device, info, nil, &framebuffer)); err != nil {
		return nil, err
	}
	return framebuffer, nil
}

func (v *vulkanGPU) DestroyFramebuffer(framebuffer vk.Framebuffer) {
	vk.DestroyFramebuffer(v.device, framebuffer, nil)
}

func (v *vulkanGPU) SurfaceCapabilities(surface vk.Surface) (vk.SurfaceCapabilities, error) {
	var capabilities vk.SurfaceCapabilities
	if err := Check("vk.GetPhysicalDeviceSurfaceCapabilities()",
		vk.GetPhysicalDeviceSurfaceCapabilities(v.physical, surface, &capabilities)); err != nil {
		return capabilities, err
	}
	capabilities.Deref()
	capabilities.CurrentExtent.Deref()
	capabilities.MinImageExtent.Deref()
	capabilities.MaxImageExtent.Deref()
	return capabilities, nil
}

func (v *vulkanGPU) SurfaceFormats(surface vk.Surface) ([]vk.SurfaceFormat, error) {
	return SurfaceFormats(v.physical, surface)
}

func (v *vulkanGPU) SurfacePresentModes(surface vk.Surface) ([]vk.PresentMode, error) {
	return SurfacePresentModes(v.physical, surface)
}

// SurfaceFormats lists the formats a physical device supports for the surface.
func SurfaceFormats(physical vk.PhysicalDevice, surface vk.Surface) ([]vk.SurfaceFormat, error) {
	var count uint32
	if err := Check("vk.GetPhysicalDeviceSurfaceFormats()",
		vk.GetPhysicalDeviceSurfaceFormats(physical, surface, &count, nil)); err != nil {
		return nil, err
	}
	formats := make([]vk.SurfaceFormat, count)
	if err := Check("vk.GetPhysicalDeviceSurfaceFormats()",
		vk.GetPhysicalDeviceSurfaceFormats(physical, surface, &count, formats)); err != nil {
		return nil, err
	}
	for idx := range formats {
		formats[idx].Deref()
	}
	return formats, nil
}

// SurfacePresentModes lists the present modes a physical device supports for the surface.
func SurfacePresentModes(physical vk.PhysicalDevice, surface vk.Surface) ([]vk.PresentMode, error) {
	var count uint32
	if err := Check("vk.GetPhysicalDeviceSurfacePresentModes()",
		vk.GetPhysicalDeviceSurfacePresentModes(physical, surface, &count, nil)); err != nil {
		return nil, err
	}
	modes := make([]vk.PresentMode, count)
	if err := Check("vk.GetPhysicalDeviceSurfacePresentModes()",
		vk.GetPhysicalDeviceSurfacePresentModes(physical, surface, &count, modes)); err != nil {
		return nil, err
	}
	return modes, nil
}

func (v *vulkanGPU) CreateSwapchain(info *vk.SwapchainCreateInfo) (vk.Swapchain, error) {
	var swapchain vk.Swapchain
	if err := Check("vk.CreateSwapchain()", vk.CreateSwapchain(v.device, info, nil, &swapchain)); err != nil {
		return vk.NullSwapchain, err
	}
	return swapchain, nil
}

func (v *vulkanGPU) DestroySwapchain(swapchain vk.Swapchain) {
	vk.DestroySwapchain(v.device, swapchain, nil)
}

func (v *vulkanGPU) SwapchainImages(swapchain vk.Swapchain) ([]vk.Image, error) {
	var count uint32
	if err := Check("vk.GetSwapchainImages(num)", vk.GetSwapchainImages(v.device, swapchain, &count, nil)); err != nil {
		return nil, err
	}
	images := make([]vk.Image, count)
	if err := Check("vk.GetSwapchainImages()", vk.GetSwapchainImages(v.device, swapchain, &count, images)); err != nil {
		return nil, err
	}
	return images, nil
}

func (v *vulkanGPU) AcquireNextImage(swapchain vk.Swapchain, timeout uint64, semaphore vk.Semaphore, fence vk.Fence) (uint32, vk.Result) {
	var index uint32
	result := vk.AcquireNextImage(v.device, swapchain, timeout, semaphore, fence, &index)
	return index, result
}

func (v *vulkanGPU) CreateDescriptorPool(info *vk.DescriptorPoolCreateInfo) (vk.DescriptorPool, error) {
	var pool vk.DescriptorPool
	if err := Check("vk.CreateDescriptorPool()", vk.CreateDescriptorPool(v.device, info, nil, &pool)); err != nil {
		return nil, err
	}
	return pool, nil
}

func (v *vulkanGPU) DestroyDescriptorPool(pool vk.DescriptorPool) {
	vk.DestroyDescriptorPool(v.device, pool, nil)
}

func (v *vulkanGPU) ResetDescriptorPool(pool vk.DescriptorPool) error {
	return Check("vk.ResetDescriptorPool()", vk.ResetDescriptorPool(v.device, pool, 0))
}

func (v *vulkanGPU) CreateDescriptorSetLayout(info *vk.DescriptorSetLayoutCreateInfo) (vk.DescriptorSetLayout, error) {
	var layout vk.DescriptorSetLayout
	if err := Check("vk.CreateDescriptorSetLayout()", vk.CreateDescriptorSetLayout(v.device, info, nil, &layout)); err != nil {
		return nil, err
	}
	return layout, nil
}

func (v *vulkanGPU) DestroyDescriptorSetLayout(layout vk.DescriptorSetLayout) {
	vk.DestroyDescriptorSetLayout(v.device, layout, nil)
}

func (v *vulkanGPU) AllocateDescriptorSets(pool vk.DescriptorPool, layouts []vk.DescriptorSetLayout) ([]vk.DescriptorSet, error) {
	if len(layouts) == 0 {
		return nil, nil
	}
	dsai := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     pool,
		DescriptorSetCount: uint32(len(layouts)),
		PSetLayouts:        layouts,
	}
	sets := make([]vk.DescriptorSet, len(layouts))
	if err := Check("vk.AllocateDescriptorSets()", vk.AllocateDescriptorSets(v.device, &dsai, &sets[0])); err != nil {
		return nil, err
	}
	return sets, nil
}

func (v *vulkanGPU) UpdateDescriptorSets(writes []vk.WriteDescriptorSet) {
	vk.UpdateDescriptorSets(v.device, uint32(len(writes)), writes, 0, nil)
}

func (v *vulkanGPU) CreateShaderModule(code []uint32) (vk.ShaderModule, error) {
	smci := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code) * 4),
		PCode:    code,
	}
	var module vk.ShaderModule
	if err := Check("vk.CreateShaderModule()", vk.CreateShaderModule(v.device, &smci, nil, &module)); err != nil {
		return nil, err
	}
	return module, nil
}

func (v *vulkanGPU) DestroyShaderModule(module vk.ShaderModule) {
	vk.DestroyShaderModule(v.device, module, nil)
}

func (v *vulkanGPU) CreatePipelineLayout(info *vk.PipelineLayoutCreateInfo) (vk.PipelineLayout, error) {
	var layout vk.PipelineLayout
	if err := Check("vk.CreatePipelineLayout()", vk.CreatePipelineLayout(v.device, info, nil, &layout)); err != nil {
		return nil, err
	}
	return layout, nil
}

func (v *vulkanGPU) DestroyPipelineLayout(layout vk.PipelineLayout) {
	vk.DestroyPipelineLayout(v.device, layout, nil)
}

func (v *vulkanGPU) CreateGraphicsPipeline(info *vk.GraphicsPipelineCreateInfo) (vk.Pipeline, error) {
	pipelines := make([]vk.Pipeline, 1)
	if err := Check("vk.CreateGraphicsPipelines()", vk.CreateGraphicsPipelines(v.device,
		vk.PipelineCache(vk.NullHandle), 1, []vk.GraphicsPipelineCreateInfo{*info}, nil, pipelines)); err != nil {
		return nil, err
	}
	return pipelines[0], nil
}

func (v *vulkanGPU) DestroyPipeline(pipeline vk.Pipeline) {
	vk.DestroyPipeline(v.device, pipeline, nil)
}

func (v *vulkanGPU) CmdPipelineBarrier(cmd vk.CommandBuffer, src, dst vk.PipelineStageFlags, barriers []vk.ImageMemoryBarrier) {
	vk.CmdPipelineBarrier(cmd, src, dst, 0, 0, nil, 0, nil, uint32(len(barriers)), barriers)
}

func (v *vulkanGPU) CmdCopyBufferToImage(cmd vk.CommandBuffer, buffer vk.Buffer, image vk.Image, layout vk.ImageLayout, regions []vk.BufferImageCopy) {
	vk.CmdCopyBufferToImage(cmd, buffer, image, layout, uint32(len(regions)), regions)
}

func (v *vulkanGPU) CmdBeginRenderPass(cmd vk.CommandBuffer, info *vk.RenderPassBeginInfo) {
	vk.CmdBeginRenderPass(cmd, info, vk.SubpassContentsInline)
}

func (v *vulkanGPU) CmdEndRenderPass(cmd vk.CommandBuffer) {
	vk.CmdEndRenderPass(cmd)
}

func (v *vulkanGPU) CmdSetViewport(cmd vk.CommandBuffer, viewport vk.Viewport) {
	vk.CmdSetViewport(cmd, 0, 1, []vk.Viewport{viewport})
}

func (v *vulkanGPU) CmdSetScissor(cmd vk.CommandBuffer, scissor vk.Rect2D) {
	vk.CmdSetScissor(cmd, 0, 1, []vk.Rect2D{scissor})
}

func (v *vulkanGPU) CmdBindPipeline(cmd vk.CommandBuffer, pipeline vk.Pipeline) {
	vk.CmdBindPipeline(cmd, vk.PipelineBindPointGraphics, pipeline)
}

func (v *vulkanGPU) CmdBindVertexBuffer(cmd vk.CommandBuffer, buffer vk.Buffer, offset vk.DeviceSize) {
	vk.CmdBindVertexBuffers(cmd, 0, 1, []vk.Buffer{buffer}, []vk.DeviceSize{offset})
}

func (v *vulkanGPU) CmdBindIndexBuffer(cmd vk.CommandBuffer, buffer vk.Buffer, offset vk.DeviceSize, indexType vk.IndexType) {
	vk.CmdBindIndexBuffer(cmd, buffer, offset, indexType)
}

func (v *vulkanGPU) CmdBindDescriptorSets(cmd vk.CommandBuffer, layout vk.PipelineLayout, sets []vk.DescriptorSet) {
	vk.CmdBindDescriptorSets(cmd, vk.PipelineBindPointGraphics, layout, 0, uint32(len(sets)), sets, 0, nil)
}

func (v *vulkanGPU) CmdPushConstants(cmd vk.CommandBuffer, layout vk.PipelineLayout, stages vk.ShaderStageFlags, offset uint32, data []byte) {
	if len(data) == 0 {
		return
	}
	vk.CmdPushConstants(cmd, layout, stages, offset, uint32(len(data)), unsafe.Pointer(&data[0]))
}

func (v *vulkanGPU) CmdDrawIndexed(cmd vk.CommandBuffer, indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	vk.CmdDrawIndexed(cmd, indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
}

func (v *vulkanGPU) Destroy() {
	vk.DestroyDevice(v.device, nil)
}
