// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"runtime"

	"github.com/devblok/vkplayground/core"
	"github.com/devblok/vkplayground/device"
	log "github.com/sirupsen/logrus"
	"github.com/veandco/go-sdl2/sdl"
)

func init() {
	runtime.LockOSThread()
}

var (
	surface = flag.Bool("surface", true, "Check suitability against a hidden window surface")
	debug   = flag.Bool("debug", false, "Enable the validation layer")
	indent  = flag.Bool("indent", false, "Indent the JSON output")
)

type report struct {
	device.PhysicalDeviceInfo
	Suitable      bool
	Reason        string `json:",omitempty"`
	QueueFamilies *device.QueueFamilyIndices `json:",omitempty"`
	Formats       int
	PresentModes  int
}

func main() {
	flag.Parse()
	log.SetLevel(log.WarnLevel)

	var reports interface{}
	if *surface {
		reports = withSurface()
	} else {
		reports = withoutSurface()
	}

	var (
		bytes []byte
		err   error
	)
	if *indent {
		bytes, err = json.MarshalIndent(reports, "", "  ")
	} else {
		bytes, err = json.Marshal(reports)
	}
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%s\n", bytes)
}

func withoutSurface() []device.PhysicalDeviceInfo {
	instance, err := core.NewVulkanInstance(core.DefaultVulkanApplicationInfo, nil, core.InstanceConfiguration{
		DebugMode: *debug,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer instance.Destroy()
	return device.PhysicalDevicesInfo(instance.AvailableDevices())
}

func withSurface() []report {
	if err := sdl.Init(sdl.INIT_VIDEO); err != nil {
		log.Fatal(err)
	}
	defer sdl.Quit()
	if err := sdl.VulkanLoadLibrary(""); err != nil {
		log.Fatal(err)
	}
	defer sdl.VulkanUnloadLibrary()

	window, err := sdl.CreateWindow("vkinfo", sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED,
		64, 64, sdl.WINDOW_VULKAN|sdl.WINDOW_HIDDEN)
	if err != nil {
		log.Fatal(err)
	}
	defer window.Destroy()

	instance, err := core.NewVulkanInstance(core.DefaultVulkanApplicationInfo, sdl.VulkanGetVkGetInstanceProcAddr(), core.InstanceConfiguration{
		DebugMode:  *debug,
		Extensions: window.VulkanGetInstanceExtensions(),
	})
	if err != nil {
		log.Fatal(err)
	}
	defer instance.Destroy()

	srf, err := window.VulkanCreateSurface(instance.Inner())
	if err != nil {
		log.Fatal(err)
	}
	instance.SetSurface(srf)

	candidates, err := device.Enumerate(instance)
	if err != nil {
		log.Fatal(err)
	}

	required := []string{device.SwapchainExtension}
	reports := make([]report, len(candidates))
	for i, c := range candidates {
		suitable, reason := c.Suitable(required)
		reports[i] = report{
			PhysicalDeviceInfo: c.Info,
			Suitable:           suitable,
			Reason:             reason,
			Formats:            len(c.Support.Formats),
			PresentModes:       len(c.Support.PresentModes),
		}
		if indices := c.Indices(); indices.Complete() {
			reports[i].QueueFamilies = &indices
		}
	}
	return reports
}
