// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr_test

import (
	"testing"

	"github.com/devblok/vkplayground/device"
	"github.com/devblok/vkplayground/driver"
	"github.com/devblok/vkplayground/driver/drivertest"
	"github.com/devblok/vkplayground/gfx/vkr"
	"github.com/devblok/vkplayground/shader"
	vk "github.com/vulkan-go/vulkan"
)

func newDevice(t testing.TB) (*drivertest.GPU, *device.Device) {
	gpu := drivertest.New()
	dev, err := device.New(gpu, "fake", device.QueueFamilyIndices{Graphics: 0, Present: 0, Transfer: -1})
	if err != nil {
		t.Fatal(err)
	}
	return gpu, dev
}

// faultyGPU fails the CreateImage call numbered failImage, counting from
// one, and every QueueSubmit while failSubmit is set.
type faultyGPU struct {
	*drivertest.GPU
	images     int
	failImage  int
	failSubmit bool
}

func (g *faultyGPU) CreateImage(info *vk.ImageCreateInfo) (vk.Image, error) {
	g.images++
	if g.images == g.failImage {
		return nil, driver.Check("vk.CreateImage()", vk.ErrorOutOfDeviceMemory)
	}
	return g.GPU.CreateImage(info)
}

func (g *faultyGPU) QueueSubmit(queue vk.Queue, submits []vk.SubmitInfo, fence vk.Fence) error {
	if g.failSubmit {
		return driver.Check("vk.QueueSubmit()", vk.ErrorDeviceLost)
	}
	return g.GPU.QueueSubmit(queue, submits, fence)
}

func newFaultyDevice(t testing.TB) (*faultyGPU, *device.Device) {
	gpu := &faultyGPU{GPU: drivertest.New()}
	dev, err := device.New(gpu, "faulty", device.QueueFamilyIndices{Graphics: 0, Present: 0, Transfer: -1})
	if err != nil {
		t.Fatal(err)
	}
	return gpu, dev
}

func newSwapChain(t testing.TB, dev *device.Device, vsync bool) *vkr.SwapChain {
	sc, err := vkr.NewSwapChain(dev, vk.NullSurface, func() vk.Extent2D {
		return vk.Extent2D{Width: 1280, Height: 720}
	}, vsync)
	if err != nil {
		t.Fatal(err)
	}
	return sc
}

func checkViolations(t testing.TB, gpu *drivertest.GPU) {
	t.Helper()
	for _, v := range gpu.Violations() {
		t.Errorf("violation: %s", v)
	}
}

// testProgram binds a camera block in set 0 and a texture in set 1.
func testProgram() *shader.Program {
	return &shader.Program{
		Name: "test",
		Modules: []shader.Module{
			{Stage: shader.Vertex, Code: []uint32{shader.Magic, 0x00010000, 0, 1, 0}},
			{Stage: shader.Fragment, Code: []uint32{shader.Magic, 0x00010000, 0, 1, 0}},
		},
		UniformBuffers: []shader.UniformBufferDescription{{
			Name:    "Camera",
			Size:    128,
			Binding: 0,
			Set:     0,
			Index:   0,
		}},
		Resources: []shader.ResourceDescription{{
			Name:      "u_Texture",
			Binding:   0,
			Set:       1,
			Dimension: 1,
			Type:      shader.Texture2D,
			Index:     1,
		}},
	}
}
