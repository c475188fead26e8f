// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package device_test

import (
	"testing"

	"github.com/devblok/vkplayground/device"
	"github.com/devblok/vkplayground/driver/drivertest"
	vk "github.com/vulkan-go/vulkan"
)

func family(flags vk.QueueFlagBits) vk.QueueFamilyProperties {
	return vk.QueueFamilyProperties{QueueFlags: vk.QueueFlags(flags), QueueCount: 1}
}

func candidate(name string, t vk.PhysicalDeviceType) device.Candidate {
	return device.Candidate{
		Info: device.PhysicalDeviceInfo{
			Name:       name,
			Extensions: []string{device.SwapchainExtension},
		},
		Type: t,
		QueueFamilies: []vk.QueueFamilyProperties{
			family(vk.QueueGraphicsBit | vk.QueueComputeBit | vk.QueueTransferBit),
			family(vk.QueueTransferBit),
		},
		PresentSupport: []bool{true, false},
		Support: device.SwapchainSupport{
			Formats:      []vk.SurfaceFormat{{Format: vk.FormatB8g8r8a8Unorm}},
			PresentModes: []vk.PresentMode{vk.PresentModeFifo},
		},
	}
}

func TestFindQueueFamilies(t *testing.T) {
	families := []vk.QueueFamilyProperties{
		family(vk.QueueComputeBit | vk.QueueTransferBit),
		family(vk.QueueGraphicsBit | vk.QueueComputeBit | vk.QueueTransferBit),
		family(vk.QueueGraphicsBit),
		family(vk.QueueTransferBit),
		family(vk.QueueTransferBit),
	}
	indices := device.FindQueueFamilies(families, []bool{false, false, true, true, false})

	if indices.Graphics != 1 {
		t.Errorf("expected first graphics family 1, got %d", indices.Graphics)
	}
	if indices.Present != 2 {
		t.Errorf("expected first present family 2, got %d", indices.Present)
	}
	if indices.Transfer != 3 {
		t.Errorf("expected dedicated transfer family 3, got %d", indices.Transfer)
	}
	if !indices.Complete() {
		t.Error("indices should be complete")
	}
	if u := indices.Unique(); len(u) != 3 {
		t.Errorf("expected 3 unique families, got %v", u)
	}
}

func TestTransferFallsBackToGraphics(t *testing.T) {
	indices := device.FindQueueFamilies([]vk.QueueFamilyProperties{
		family(vk.QueueGraphicsBit | vk.QueueTransferBit),
	}, []bool{true})
	if indices.Transfer != -1 {
		t.Errorf("no dedicated transfer family expected, got %d", indices.Transfer)
	}
	if indices.TransferFamily() != 0 {
		t.Errorf("transfer should fall back to graphics family")
	}
	if u := indices.Unique(); len(u) != 1 {
		t.Errorf("expected a single unique family, got %v", u)
	}
}

func TestSuitable(t *testing.T) {
	required := []string{device.SwapchainExtension}

	if ok, reason := candidate("gpu", vk.PhysicalDeviceTypeDiscreteGpu).Suitable(required); !ok {
		t.Errorf("discrete candidate should be suitable: %s", reason)
	}

	cases := map[string]func(c *device.Candidate){
		"integrated":     func(c *device.Candidate) { c.Type = vk.PhysicalDeviceTypeIntegratedGpu },
		"no present":     func(c *device.Candidate) { c.PresentSupport = []bool{false, false} },
		"no extension":   func(c *device.Candidate) { c.Info.Extensions = nil },
		"no formats":     func(c *device.Candidate) { c.Support.Formats = nil },
		"no modes":       func(c *device.Candidate) { c.Support.PresentModes = nil },
		"invalid device": func(c *device.Candidate) { c.Info.Invalid = true },
	}
	for name, modify := range cases {
		c := candidate("gpu", vk.PhysicalDeviceTypeDiscreteGpu)
		modify(&c)
		if ok, _ := c.Suitable(required); ok {
			t.Errorf("%s: candidate should not be suitable", name)
		}
	}
}

func TestSelectFirstSuitable(t *testing.T) {
	candidates := []device.Candidate{
		candidate("integrated", vk.PhysicalDeviceTypeIntegratedGpu),
		candidate("first", vk.PhysicalDeviceTypeDiscreteGpu),
		candidate("second", vk.PhysicalDeviceTypeDiscreteGpu),
	}
	idx, err := device.Select(candidates, []string{device.SwapchainExtension})
	if err != nil {
		t.Fatal(err)
	}
	if candidates[idx].Info.Name != "first" {
		t.Errorf("expected the first suitable device, got %s", candidates[idx].Info.Name)
	}

	if _, err := device.Select(candidates[:1], nil); err != device.ErrNoSuitableDevice {
		t.Errorf("expected ErrNoSuitableDevice, got %v", err)
	}
}

func TestFlushCommandBuffer(t *testing.T) {
	gpu := drivertest.New()
	dev, err := device.New(gpu, "fake", device.QueueFamilyIndices{Graphics: 0, Present: 0, Transfer: -1})
	if err != nil {
		t.Fatal(err)
	}

	cmd, err := dev.CreateCommandBuffer(vk.CommandBufferLevelPrimary, true)
	if err != nil {
		t.Fatal(err)
	}
	if err := dev.FlushCommandBuffer(cmd, true); err != nil {
		t.Fatal(err)
	}

	if n := gpu.Count("QueueSubmit"); n != 1 {
		t.Errorf("expected one submission, got %d", n)
	}
	if n := gpu.Count("WaitForFences"); n != 1 {
		t.Errorf("flush must block on its fence, got %d waits", n)
	}
	if gpu.Live("fence") != 0 {
		t.Error("flush fence should be destroyed")
	}
	if gpu.Live("commandbuffer") != 0 {
		t.Error("command buffer should be freed")
	}
	if v := gpu.Violations(); len(v) != 0 {
		t.Errorf("unexpected violations: %v", v)
	}

	if dev.TransferQueue() != dev.GraphicsQueue() {
		t.Error("transfer queue should fall back to the graphics queue")
	}

	dev.Destroy()
	if gpu.Live("commandpool") != 0 {
		t.Error("command pool should be destroyed")
	}
}

func TestFlushKeepsBuffer(t *testing.T) {
	gpu := drivertest.New()
	dev, err := device.New(gpu, "fake", device.QueueFamilyIndices{Graphics: 0, Present: 0, Transfer: -1})
	if err != nil {
		t.Fatal(err)
	}
	defer dev.Destroy()

	cmd, err := dev.CreateCommandBuffer(vk.CommandBufferLevelPrimary, true)
	if err != nil {
		t.Fatal(err)
	}
	if err := dev.FlushCommandBuffer(cmd, false); err != nil {
		t.Fatal(err)
	}
	if gpu.Live("commandbuffer") != 1 {
		t.Error("command buffer should survive a flush without free")
	}
}

func TestFlushFailureFreesBuffer(t *testing.T) {
	gpu := drivertest.New()
	dev, err := device.New(gpu, "fake", device.QueueFamilyIndices{Graphics: 0, Present: 0, Transfer: -1})
	if err != nil {
		t.Fatal(err)
	}
	defer dev.Destroy()

	cmd, err := dev.CreateCommandBuffer(vk.CommandBufferLevelPrimary, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := dev.FlushCommandBuffer(cmd, true); err == nil {
		t.Fatal("ending a buffer that never began must fail")
	}
	if n := gpu.Count("QueueSubmit"); n != 0 {
		t.Errorf("nothing may be submitted, got %d", n)
	}
	if gpu.Live("commandbuffer") != 0 {
		t.Error("command buffer should be freed on failure")
	}
}
