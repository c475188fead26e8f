// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"github.com/devblok/vkplayground/device"
	"github.com/devblok/vkplayground/driver"
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// IsDepthFormat reports whether the format has a depth component.
func IsDepthFormat(format vk.Format) bool {
	switch format {
	case vk.FormatD16Unorm,
		vk.FormatX8D24UnormPack32,
		vk.FormatD32Sfloat,
		vk.FormatD16UnormS8Uint,
		vk.FormatD24UnormS8Uint,
		vk.FormatD32SfloatS8Uint:
		return true
	}
	return false
}

// IsStencilFormat reports whether the format has a stencil component.
func IsStencilFormat(format vk.Format) bool {
	switch format {
	case vk.FormatS8Uint,
		vk.FormatD16UnormS8Uint,
		vk.FormatD24UnormS8Uint,
		vk.FormatD32SfloatS8Uint:
		return true
	}
	return false
}

// BytesPerPixel returns the size of a texel of the uploadable formats.
func BytesPerPixel(format vk.Format) int {
	switch format {
	case vk.FormatR8Unorm, vk.FormatS8Uint:
		return 1
	case vk.FormatD16Unorm:
		return 2
	case vk.FormatR16g16b16a16Sfloat, vk.FormatD32SfloatS8Uint:
		return 8
	case vk.FormatR32g32b32a32Sfloat:
		return 16
	default:
		return 4
	}
}

func aspectMask(format vk.Format) vk.ImageAspectFlags {
	var mask vk.ImageAspectFlagBits
	if IsDepthFormat(format) {
		mask |= vk.ImageAspectDepthBit
	}
	if IsStencilFormat(format) {
		mask |= vk.ImageAspectStencilBit
	}
	if mask == 0 {
		mask = vk.ImageAspectColorBit
	}
	return vk.ImageAspectFlags(mask)
}

// ImageSpecification describes an image to be created.
type ImageSpecification struct {

	// Data is uploaded into the image if set, its length must cover
	// Width * Height * LayerCount texels. Only color formats take data.
	Data []byte

	Width, Height uint32
	Format        vk.Format
	Usage         vk.ImageUsageFlagBits

	// LayerCount defaults to 1.
	LayerCount uint32

	// Tag names the allocation, defaults to Texture2D.
	Tag string
}

// NewImage creates a device local image with its view and sampler.
// Data of the specification is uploaded through a staging buffer and the
// image is left in the shader read only layout.
func NewImage(dev *device.Device, a *Allocator, spec ImageSpecification) (*Image, error) {
	if spec.LayerCount == 0 {
		spec.LayerCount = 1
	}
	if spec.Tag == "" {
		spec.Tag = "Texture2D"
	}
	if spec.Width == 0 || spec.Height == 0 {
		return nil, errors.Wrapf(ErrZeroExtent, "image %s", spec.Tag)
	}

	depth := IsDepthFormat(spec.Format) || IsStencilFormat(spec.Format)
	if spec.Data != nil && depth {
		return nil, errors.Wrapf(ErrDepthUpload, "image %s", spec.Tag)
	}

	size := int(spec.Width) * int(spec.Height) * int(spec.LayerCount) * BytesPerPixel(spec.Format)
	if spec.Data != nil && len(spec.Data) < size {
		return nil, errors.Errorf("image %s needs %d bytes of data, got %d", spec.Tag, size, len(spec.Data))
	}

	gpu := dev.GPU()
	img := &Image{
		gpu:           gpu,
		allocator:     a,
		spec:          spec,
		aspect:        aspectMask(spec.Format),
		sampledLayout: vk.ImageLayoutShaderReadOnlyOptimal,
	}
	if depth {
		img.sampledLayout = vk.ImageLayoutDepthStencilReadOnlyOptimal
	}

	var err error
	img.image, img.memory, err = a.AllocateImage(spec.Tag, &vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    spec.Format,
		Extent: vk.Extent3D{
			Width:  spec.Width,
			Height: spec.Height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   spec.LayerCount,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         vk.ImageUsageFlags(spec.Usage | vk.ImageUsageSampledBit | vk.ImageUsageTransferDstBit),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}, GPUOnly)
	if err != nil {
		return nil, err
	}

	if spec.Data != nil {
		if err := img.upload(dev, spec.Data[:size]); err != nil {
			img.Release()
			return nil, err
		}
	}

	if img.view, err = gpu.CreateImageView(&vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    img.image,
		ViewType: vk.ImageViewType2d,
		Format:   spec.Format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     img.aspect,
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     spec.LayerCount,
		},
	}); err != nil {
		img.Release()
		return nil, err
	}

	if img.sampler, err = gpu.CreateSampler(&vk.SamplerCreateInfo{
		SType:            vk.StructureTypeSamplerCreateInfo,
		MagFilter:        vk.FilterLinear,
		MinFilter:        vk.FilterLinear,
		MipmapMode:       vk.SamplerMipmapModeLinear,
		AddressModeU:     vk.SamplerAddressModeRepeat,
		AddressModeV:     vk.SamplerAddressModeRepeat,
		AddressModeW:     vk.SamplerAddressModeRepeat,
		MipLodBias:       0,
		AnisotropyEnable: vk.False,
		MaxAnisotropy:    1,
		MinLod:           0,
		MaxLod:           20,
		BorderColor:      vk.BorderColorIntOpaqueWhite,
	}); err != nil {
		img.Release()
		return nil, err
	}

	return img, nil
}

// Image implements and abstracts vulkan image primitive along with
// its view and sampler.
type Image struct {
	gpu       driver.GPU
	allocator *Allocator
	spec      ImageSpecification
	aspect    vk.ImageAspectFlags

	image   vk.Image
	memory  *Allocation
	view    vk.ImageView
	sampler vk.Sampler

	sampledLayout vk.ImageLayout
}

func (i *Image) upload(dev *device.Device, data []byte) error {
	staging, err := NewStagingBuffer(i.allocator, data)
	if err != nil {
		return err
	}
	defer staging.Release()

	gpu := dev.GPU()
	cmd, err := dev.CreateCommandBuffer(vk.CommandBufferLevelPrimary, true)
	if err != nil {
		return err
	}

	subresource := vk.ImageSubresourceRange{
		AspectMask:     i.aspect,
		BaseMipLevel:   0,
		LevelCount:     1,
		BaseArrayLayer: 0,
		LayerCount:     i.spec.LayerCount,
	}

	gpu.CmdPipelineBarrier(cmd,
		vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit),
		vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		[]vk.ImageMemoryBarrier{{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       0,
			DstAccessMask:       vk.AccessFlags(vk.AccessTransferWriteBit),
			OldLayout:           vk.ImageLayoutUndefined,
			NewLayout:           vk.ImageLayoutTransferDstOptimal,
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               i.image,
			SubresourceRange:    subresource,
		}})

	gpu.CmdCopyBufferToImage(cmd, staging.Get(), i.image, vk.ImageLayoutTransferDstOptimal,
		[]vk.BufferImageCopy{{
			BufferOffset: 0,
			ImageSubresource: vk.ImageSubresourceLayers{
				AspectMask:     i.aspect,
				MipLevel:       0,
				BaseArrayLayer: 0,
				LayerCount:     i.spec.LayerCount,
			},
			ImageExtent: vk.Extent3D{
				Width:  i.spec.Width,
				Height: i.spec.Height,
				Depth:  1,
			},
		}})

	gpu.CmdPipelineBarrier(cmd,
		vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
		[]vk.ImageMemoryBarrier{{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       vk.AccessFlags(vk.AccessTransferWriteBit),
			DstAccessMask:       vk.AccessFlags(vk.AccessShaderReadBit),
			OldLayout:           vk.ImageLayoutTransferDstOptimal,
			NewLayout:           vk.ImageLayoutShaderReadOnlyOptimal,
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               i.image,
			SubresourceRange:    subresource,
		}})

	return dev.FlushCommandBuffer(cmd, true)
}

// Get returns the vulkan image handle.
func (i *Image) Get() vk.Image {
	return i.image
}

// View returns the image view.
func (i *Image) View() vk.ImageView {
	return i.view
}

// Sampler returns the image sampler.
func (i *Image) Sampler() vk.Sampler {
	return i.sampler
}

// Specification returns what the image was created with.
func (i *Image) Specification() ImageSpecification {
	return i.spec
}

// DescriptorInfo returns the info to bind the image as a combined image sampler.
func (i *Image) DescriptorInfo() vk.DescriptorImageInfo {
	return vk.DescriptorImageInfo{
		Sampler:     i.sampler,
		ImageView:   i.view,
		ImageLayout: i.sampledLayout,
	}
}

// Release destroys the sampler, view and image. The GPU must no longer use it.
func (i *Image) Release() {
	if i.sampler != nil {
		i.gpu.DestroySampler(i.sampler)
		i.sampler = nil
	}
	if i.view != nil {
		i.gpu.DestroyImageView(i.view)
		i.view = nil
	}
	if i.image != nil {
		i.allocator.DestroyImage(i.image, i.memory)
		i.image = nil
		i.memory = nil
	}
}
