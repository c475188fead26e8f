// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package device selects a physical GPU, creates the logical device
// and offers blocking one-shot command buffer execution.
package device

import (
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	vk "github.com/vulkan-go/vulkan"
)

// ErrNoSuitableDevice is returned when no physical device meets the requirements.
var ErrNoSuitableDevice = errors.New("no suitable physical device found")

// SwapchainExtension is the device extension every candidate must support.
const SwapchainExtension = "VK_KHR_swapchain"

// PhysicalDeviceInfo describes available physical properties of a rendering device
type PhysicalDeviceInfo struct {
	ID            int
	VendorID      int
	DriverVersion int
	Name          string
	Type          string
	Invalid       bool
	Extensions    []string
	Layers        []string
	Memory        vk.DeviceSize
}

// QueueFamilyIndices holds the selected queue family per role, -1 when none was found.
type QueueFamilyIndices struct {
	Graphics int
	Present  int
	Transfer int
}

// Complete reports whether graphics and present families were found.
// A dedicated transfer family is optional.
func (q QueueFamilyIndices) Complete() bool {
	return q.Graphics >= 0 && q.Present >= 0
}

// TransferFamily returns the dedicated transfer family or the graphics one.
func (q QueueFamilyIndices) TransferFamily() uint32 {
	if q.Transfer >= 0 {
		return uint32(q.Transfer)
	}
	return uint32(q.Graphics)
}

// Unique returns the distinct families in graphics, present, transfer order.
func (q QueueFamilyIndices) Unique() []uint32 {
	var unique []uint32
	seen := make(map[int]bool)
	for _, idx := range []int{q.Graphics, q.Present, q.Transfer} {
		if idx < 0 || seen[idx] {
			continue
		}
		seen[idx] = true
		unique = append(unique, uint32(idx))
	}
	return unique
}

// FindQueueFamilies picks the first family with graphics, the first that
// can present and the first transfer family that supports neither graphics
// nor compute.
func FindQueueFamilies(families []vk.QueueFamilyProperties, presentSupport []bool) QueueFamilyIndices {
	indices := QueueFamilyIndices{Graphics: -1, Present: -1, Transfer: -1}
	for i, family := range families {
		if family.QueueCount == 0 {
			continue
		}
		flags := vk.QueueFlagBits(family.QueueFlags)
		if indices.Graphics < 0 && flags&vk.QueueGraphicsBit != 0 {
			indices.Graphics = i
		}
		if indices.Present < 0 && i < len(presentSupport) && presentSupport[i] {
			indices.Present = i
		}
		if indices.Transfer < 0 && flags&vk.QueueTransferBit != 0 &&
			flags&(vk.QueueGraphicsBit|vk.QueueComputeBit) == 0 {
			indices.Transfer = i
		}
	}
	return indices
}

// SwapchainSupport is what a surface supports on a physical device.
type SwapchainSupport struct {
	Capabilities vk.SurfaceCapabilities
	Formats      []vk.SurfaceFormat
	PresentModes []vk.PresentMode
}

// Candidate is a physical device with everything selection needs to know about it.
type Candidate struct {
	Handle         vk.PhysicalDevice
	Info           PhysicalDeviceInfo
	Type           vk.PhysicalDeviceType
	QueueFamilies  []vk.QueueFamilyProperties
	PresentSupport []bool
	Support        SwapchainSupport
}

// Indices computes the queue family indices of the candidate.
func (c Candidate) Indices() QueueFamilyIndices {
	return FindQueueFamilies(c.QueueFamilies, c.PresentSupport)
}

// Suitable checks if the device given is suitable for rendering
// to the surface. If not suitable string contains the reason.
func (c Candidate) Suitable(required []string) (bool, string) {
	if c.Info.Invalid {
		return false, "device properties could not be queried"
	}
	if c.Type != vk.PhysicalDeviceTypeDiscreteGpu {
		return false, "not a discrete GPU"
	}
	if !c.Indices().Complete() {
		return false, "missing graphics or present queue family"
	}
	available := make(map[string]bool, len(c.Info.Extensions))
	for _, ext := range c.Info.Extensions {
		available[ext] = true
	}
	for _, ext := range required {
		if !available[ext] {
			return false, fmt.Sprintf("missing device extension %s", ext)
		}
	}
	if len(c.Support.Formats) == 0 {
		return false, "surface reports no formats"
	}
	if len(c.Support.PresentModes) == 0 {
		return false, "surface reports no present modes"
	}
	return true, ""
}

// Select returns the index of the first suitable candidate.
func Select(candidates []Candidate, required []string) (int, error) {
	for idx, c := range candidates {
		if ok, reason := c.Suitable(required); !ok {
			log.WithFields(log.Fields{
				"device": c.Info.Name,
				"reason": reason,
			}).Debug("physical device rejected")
			continue
		}
		log.WithField("device", c.Info.Name).Info("physical device selected")
		return idx, nil
	}
	return -1, ErrNoSuitableDevice
}

// TypeName returns a readable name of a physical device type.
func TypeName(t vk.PhysicalDeviceType) string {
	switch t {
	case vk.PhysicalDeviceTypeDiscreteGpu:
		return "discrete"
	case vk.PhysicalDeviceTypeIntegratedGpu:
		return "integrated"
	case vk.PhysicalDeviceTypeVirtualGpu:
		return "virtual"
	case vk.PhysicalDeviceTypeCpu:
		return "cpu"
	default:
		return "other"
	}
}
