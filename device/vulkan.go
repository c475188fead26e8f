// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package device

import (
	"github.com/devblok/vkplayground/core"
	"github.com/devblok/vkplayground/driver"
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// PhysicalDevicesInfo returns a struct for each Physical Device
// along with info about those devices
func PhysicalDevicesInfo(devices []vk.PhysicalDevice) []PhysicalDeviceInfo {
	pdi := make([]PhysicalDeviceInfo, len(devices))
	for i := 0; i < len(devices); i++ {
		// Get extension info
		var numDeviceExtensions uint32
		if err := vk.Error(vk.EnumerateDeviceExtensionProperties(devices[i], "", &numDeviceExtensions, nil)); err != nil {
			pdi[i].Invalid = true
		}
		deviceExt := make([]vk.ExtensionProperties, numDeviceExtensions)
		if err := vk.Error(vk.EnumerateDeviceExtensionProperties(devices[i], "", &numDeviceExtensions, deviceExt)); err != nil {
			pdi[i].Invalid = true
		}
		for _, ext := range deviceExt {
			ext.Deref()
			pdi[i].Extensions = append(pdi[i].Extensions, vk.ToString(ext.ExtensionName[:]))
		}

		// Get layers info
		var numDeviceLayers uint32
		if err := vk.Error(vk.EnumerateDeviceLayerProperties(devices[i], &numDeviceLayers, nil)); err != nil {
			pdi[i].Invalid = true
		}
		deviceLayers := make([]vk.LayerProperties, numDeviceLayers)
		if err := vk.Error(vk.EnumerateDeviceLayerProperties(devices[i], &numDeviceLayers, deviceLayers)); err != nil {
			pdi[i].Invalid = true
		}
		for _, layer := range deviceLayers {
			layer.Deref()
			pdi[i].Layers = append(pdi[i].Layers, vk.ToString(layer.LayerName[:]))
		}

		// Get memory info
		var memoryProperties vk.PhysicalDeviceMemoryProperties
		vk.GetPhysicalDeviceMemoryProperties(devices[i], &memoryProperties)
		memoryProperties.Deref()
		for iMem := uint32(0); iMem < memoryProperties.MemoryHeapCount; iMem++ {
			memoryProperties.MemoryHeaps[iMem].Deref()
			pdi[i].Memory += memoryProperties.MemoryHeaps[iMem].Size
		}

		// Get general device info
		var physicalDeviceProperties vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(devices[i], &physicalDeviceProperties)
		physicalDeviceProperties.Deref()
		pdi[i].ID = int(physicalDeviceProperties.DeviceID)
		pdi[i].VendorID = int(physicalDeviceProperties.VendorID)
		pdi[i].Name = vk.ToString(physicalDeviceProperties.DeviceName[:])
		pdi[i].DriverVersion = int(physicalDeviceProperties.DriverVersion)
		pdi[i].Type = TypeName(physicalDeviceProperties.DeviceType)
	}
	return pdi
}

// Enumerate describes every physical device of the instance in relation to its surface.
func Enumerate(instance core.Instance) ([]Candidate, error) {
	devices := instance.AvailableDevices()
	infos := PhysicalDevicesInfo(devices)
	surface := instance.Surface()

	candidates := make([]Candidate, len(devices))
	for i, pd := range devices {
		var properties vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(pd, &properties)
		properties.Deref()

		var familyCount uint32
		vk.GetPhysicalDeviceQueueFamilyProperties(pd, &familyCount, nil)
		families := make([]vk.QueueFamilyProperties, familyCount)
		vk.GetPhysicalDeviceQueueFamilyProperties(pd, &familyCount, families)

		present := make([]bool, familyCount)
		for f := range families {
			families[f].Deref()
			var supported vk.Bool32
			if err := vk.Error(vk.GetPhysicalDeviceSurfaceSupport(pd, uint32(f), surface, &supported)); err != nil {
				return nil, errors.Wrap(err, "vk.GetPhysicalDeviceSurfaceSupport()")
			}
			present[f] = supported.B()
		}

		candidates[i] = Candidate{
			Handle:         pd,
			Info:           infos[i],
			Type:           properties.DeviceType,
			QueueFamilies:  families,
			PresentSupport: present,
		}

		if formats, err := driver.SurfaceFormats(pd, surface); err == nil {
			candidates[i].Support.Formats = formats
		}
		if modes, err := driver.SurfacePresentModes(pd, surface); err == nil {
			candidates[i].Support.PresentModes = modes
		}
	}
	return candidates, nil
}

// Open selects the first suitable physical device of the instance and creates
// a logical device with one queue per distinct family.
func Open(instance core.Instance, extensions []string) (*Device, error) {
	candidates, err := Enumerate(instance)
	if err != nil {
		return nil, err
	}

	selected, err := Select(candidates, extensions)
	if err != nil {
		return nil, err
	}
	candidate := candidates[selected]
	indices := candidate.Indices()

	var queueInfos []vk.DeviceQueueCreateInfo
	for _, family := range indices.Unique() {
		queueInfos = append(queueInfos, vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: family,
			QueueCount:       1,
			PQueuePriorities: []float32{1},
		})
	}

	dci := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: core.SafeStrings(extensions),
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{{}},
	}

	var vkDevice vk.Device
	if err := vk.Error(vk.CreateDevice(candidate.Handle, &dci, nil, &vkDevice)); err != nil {
		return nil, errors.Wrap(err, "vk.CreateDevice()")
	}

	dev, err := New(driver.NewVulkanGPU(candidate.Handle, vkDevice), candidate.Info.Name, indices)
	if err != nil {
		vk.DestroyDevice(vkDevice, nil)
		return nil, err
	}
	return dev, nil
}
