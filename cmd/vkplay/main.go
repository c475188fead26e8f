// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"flag"
	"os"
	"runtime"
	"runtime/pprof"

	"github.com/devblok/vkplayground/app"
	"github.com/devblok/vkplayground/asset"
	"github.com/devblok/vkplayground/core"
	"github.com/devblok/vkplayground/device"
	"github.com/devblok/vkplayground/gfx/vkr"
	"github.com/devblok/vkplayground/shader"
	"github.com/gobuffalo/packr"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/veandco/go-sdl2/sdl"
	vk "github.com/vulkan-go/vulkan"
)

func init() {
	runtime.LockOSThread()
}

var (
	configFile = flag.String("config", "vkplay.toml", "Configuration file")
	envFile    = flag.String("env", ".env", "Environment file")
	assetsPath = flag.String("assets", "", "Asset directory or .kar archive, overrides the configuration")
	cpuProfile = flag.String("cpuprofile", "", "Write a CPU profile to the file given")
	orbit      = flag.Float64("orbit", 0.3, "Camera orbit speed in radians per second")
)

func newWindow(cfg core.WindowConfiguration) *sdl.Window {
	window, err := sdl.CreateWindow(cfg.Title,
		sdl.WINDOWPOS_UNDEFINED,
		sdl.WINDOWPOS_UNDEFINED,
		int32(cfg.Width),
		int32(cfg.Height),
		sdl.WINDOW_VULKAN|sdl.WINDOW_RESIZABLE|sdl.WINDOW_ALLOW_HIGHDPI)
	if err != nil {
		log.Fatal(errors.Wrap(err, "window"))
	}
	return window
}

// openAssets falls back to the assets built into the binary.
func openAssets(p string) asset.Source {
	src, err := asset.Open(p)
	if err == nil {
		return src
	}
	log.WithError(err).WithField("path", p).Warn("falling back to built-in assets")
	return asset.Box{Finder: packr.NewBox("../../assets")}
}

func main() {
	flag.Parse()

	cfg, err := core.LoadConfiguration(*configFile, *envFile)
	if err != nil {
		log.Fatal(err)
	}
	if *assetsPath != "" {
		cfg.Assets.Path = *assetsPath
	}
	if err := core.ConfigureLogging(cfg.Log); err != nil {
		log.Fatal(err)
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal(err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal(err)
		}
		defer pprof.StopCPUProfile()
	}

	if err := sdl.Init(sdl.INIT_VIDEO | sdl.INIT_EVENTS); err != nil {
		log.Fatal(err)
	}
	defer sdl.Quit()

	if err := sdl.VulkanLoadLibrary(""); err != nil {
		log.Fatal(err)
	}
	defer sdl.VulkanUnloadLibrary()

	window := newWindow(cfg.Window)
	defer window.Destroy()

	instanceCfg := cfg.Instance
	instanceCfg.Extensions = append(instanceCfg.Extensions, window.VulkanGetInstanceExtensions()...)
	instance, err := core.NewVulkanInstance(core.DefaultVulkanApplicationInfo, sdl.VulkanGetVkGetInstanceProcAddr(), instanceCfg)
	if err != nil {
		log.Fatal(err)
	}
	defer instance.Destroy()

	surface, err := window.VulkanCreateSurface(instance.Inner())
	if err != nil {
		log.Fatal(errors.Wrap(err, "surface"))
	}
	instance.SetSurface(surface)

	dev, err := device.Open(instance, cfg.Renderer.DeviceExtensions)
	if err != nil {
		log.Fatal(err)
	}
	defer dev.Destroy()

	allocator := vkr.NewAllocator(dev.GPU())
	defer func() {
		if err := allocator.Shutdown(); err != nil {
			log.WithError(err).Warn("allocator shutdown")
		}
	}()

	swapChain, err := vkr.NewSwapChain(dev, instance.Surface(), func() vk.Extent2D {
		w, h := window.VulkanGetDrawableSize()
		return vk.Extent2D{Width: uint32(w), Height: uint32(h)}
	}, cfg.Renderer.VSync)
	if err != nil {
		log.Fatal(err)
	}
	defer swapChain.Release()

	assets := openAssets(cfg.Assets.Path)
	defer assets.Close()

	program, err := shader.Load(assets, cfg.Renderer.Shader, shader.GLSLC{})
	if err != nil {
		log.Fatal(err)
	}

	renderer, err := vkr.NewRenderer(dev, allocator, swapChain, vkr.RendererSpecification{
		Program: program,
		Framebuffer: vkr.FramebufferSpecification{
			Width:      swapChain.Extent().Width,
			Height:     swapChain.Extent().Height,
			Scale:      cfg.Renderer.Scale,
			ClearColor: cfg.Renderer.ClearColor,
		},
		ResizeFramebuffer: true,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer renderer.Release()

	application := app.New(app.Specification{
		Device:    dev,
		Allocator: allocator,
		SwapChain: swapChain,
		Renderer:  renderer,
		Assets:    assets,
	})
	defer application.Close()

	if err := application.PushLayer(app.NewViewerLayer(app.ViewerSpecification{
		Mesh:       cfg.Assets.Mesh,
		Texture:    cfg.Assets.Texture,
		OrbitSpeed: float32(*orbit),
	})); err != nil {
		log.Fatal(err)
	}

	var changes <-chan string
	if dir, ok := assets.(asset.Dir); ok {
		watcher, err := shader.NewWatcher()
		if err != nil {
			log.Fatal(err)
		}
		defer watcher.Close()
		if err := watcher.Watch(cfg.Renderer.Shader, dir.Path(cfg.Renderer.Shader)); err != nil {
			log.Fatal(err)
		}
		changes = watcher.Changes()
	}

	time := core.NewTime(cfg.Time)
	defer time.Stop()

EventLoop:
	for {
		select {
		case <-time.EventTicker().C:
			for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
				switch et := event.(type) {
				case *sdl.KeyboardEvent:
					if et.Keysym.Sym == sdl.K_ESCAPE {
						break EventLoop
					}
				case *sdl.WindowEvent:
					if et.Event == sdl.WINDOWEVENT_SIZE_CHANGED {
						if err := swapChain.Resize(); err != nil && errors.Cause(err) != vkr.ErrZeroExtent {
							log.Fatal(err)
						}
					}
				case *sdl.QuitEvent:
					break EventLoop
				}
			}
		case name := <-changes:
			reloaded, err := shader.Load(assets, name, shader.GLSLC{})
			if err != nil {
				log.WithError(err).WithField("shader", name).Error("shader reload failed")
				continue
			}
			if err := renderer.SetProgram(reloaded); err != nil {
				log.WithError(err).WithField("shader", name).Error("pipeline rebuild failed")
			}
		case <-time.FpsTicker().C:
			if err := application.Frame(time.Tick()); err != nil {
				log.Fatal(err)
			}
		}
	}

	log.WithField("frames", application.Frames()).Info("event loop exited")
}
