// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"io/ioutil"
	"os"
	"strconv"
	"strings"

	"github.com/gobuffalo/envy"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

// Environment variables read by LoadConfiguration
const (
	EnvFramesPerSecond = "VKPLAY_FPS"
	EnvEventPollDelay  = "VKPLAY_EVENT_POLL_DELAY"
	EnvWidth           = "VKPLAY_WIDTH"
	EnvHeight          = "VKPLAY_HEIGHT"
	EnvVSync           = "VKPLAY_VSYNC"
	EnvDebug           = "VKPLAY_DEBUG"
	EnvAssets          = "VKPLAY_ASSETS"
	EnvLogLevel        = "VKPLAY_LOG_LEVEL"
	EnvLogFormat       = "VKPLAY_LOG_FORMAT"
)

// Configuration defines a global engine configuration setting
type Configuration struct {
	Time     TimeConfiguration     `toml:"time"`
	Window   WindowConfiguration   `toml:"window"`
	Instance InstanceConfiguration `toml:"instance"`
	Renderer RendererConfiguration `toml:"renderer"`
	Assets   AssetsConfiguration   `toml:"assets"`
	Log      LogConfiguration      `toml:"log"`
}

// TimeConfiguration is used to configure time services
type TimeConfiguration struct {
	// FramesPerSecond caps frames per second that is put out
	// To unlimit, set to 0
	FramesPerSecond int `toml:"fps"`

	// EventPollDelay is the delay between window event polls in milliseconds
	EventPollDelay int `toml:"event_poll_delay"`
}

// WindowConfiguration describes the application window
type WindowConfiguration struct {
	Title  string `toml:"title"`
	Width  uint32 `toml:"width"`
	Height uint32 `toml:"height"`
}

// InstanceConfiguration is used to create the Vulkan instance
type InstanceConfiguration struct {
	DebugMode  bool     `toml:"debug"`
	Extensions []string `toml:"extensions"`
	Layers     []string `toml:"layers"`
}

// RendererConfiguration is used to configure the renderer
type RendererConfiguration struct {
	DeviceExtensions []string `toml:"device_extensions"`

	// VSync restricts presentation to the FIFO mode
	VSync bool `toml:"vsync"`

	// Scale is the resolution scale of the off-screen framebuffer
	Scale      float32    `toml:"scale"`
	ClearColor [4]float32 `toml:"clear_color"`

	// Shader is the asset name of the .shader file used by the renderer
	Shader string `toml:"shader"`
}

// AssetsConfiguration tells where assets are loaded from
type AssetsConfiguration struct {
	// Path is a directory or a .kar archive
	Path    string `toml:"path"`
	Mesh    string `toml:"mesh"`
	Texture string `toml:"texture"`
}

// LogConfiguration configures the logger
type LogConfiguration struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultConfiguration returns the configuration used when nothing overrides it.
func DefaultConfiguration() Configuration {
	return Configuration{
		Time: TimeConfiguration{
			FramesPerSecond: 60,
			EventPollDelay:  10,
		},
		Window: WindowConfiguration{
			Title:  "VulkanPlayground",
			Width:  1280,
			Height: 720,
		},
		Renderer: RendererConfiguration{
			DeviceExtensions: []string{"VK_KHR_swapchain"},
			Scale:            1,
			ClearColor:       [4]float32{0.1, 0.1, 0.1, 1},
			Shader:           "shaders/test.shader",
		},
		Assets: AssetsConfiguration{
			Path:    "assets",
			Mesh:    "models/cube.dae",
			Texture: "textures/checker.png",
		},
		Log: LogConfiguration{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfiguration builds the configuration from defaults, then the TOML
// file at path if it exists, then the given .env files and finally the
// process environment.
func LoadConfiguration(path string, envFiles ...string) (Configuration, error) {
	cfg := DefaultConfiguration()

	if path != "" {
		contents, err := ioutil.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return cfg, errors.Wrap(err, "read configuration")
		default:
			if err := toml.Unmarshal(contents, &cfg); err != nil {
				return cfg, errors.Wrapf(err, "parse %s", path)
			}
		}
	}

	var existing []string
	for _, f := range envFiles {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) > 0 {
		if err := godotenv.Load(existing...); err != nil {
			return cfg, errors.Wrap(err, "load env files")
		}
		envy.Reload()
	}

	if err := applyEnvironment(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvironment(cfg *Configuration) error {
	var err error
	if cfg.Time.FramesPerSecond, err = envInt(EnvFramesPerSecond, cfg.Time.FramesPerSecond); err != nil {
		return err
	}
	if cfg.Time.EventPollDelay, err = envInt(EnvEventPollDelay, cfg.Time.EventPollDelay); err != nil {
		return err
	}
	width, err := envInt(EnvWidth, int(cfg.Window.Width))
	if err != nil {
		return err
	}
	height, err := envInt(EnvHeight, int(cfg.Window.Height))
	if err != nil {
		return err
	}
	cfg.Window.Width, cfg.Window.Height = uint32(width), uint32(height)

	if cfg.Renderer.VSync, err = envBool(EnvVSync, cfg.Renderer.VSync); err != nil {
		return err
	}
	if cfg.Instance.DebugMode, err = envBool(EnvDebug, cfg.Instance.DebugMode); err != nil {
		return err
	}
	cfg.Assets.Path = envy.Get(EnvAssets, cfg.Assets.Path)
	cfg.Log.Level = envy.Get(EnvLogLevel, cfg.Log.Level)
	cfg.Log.Format = envy.Get(EnvLogFormat, cfg.Log.Format)
	return nil
}

func envInt(key string, value int) (int, error) {
	raw := strings.TrimSpace(envy.Get(key, ""))
	if raw == "" {
		return value, nil
	}
	num, err := strconv.Atoi(raw)
	if err != nil {
		return value, errors.Wrapf(err, "%s", key)
	}
	return num, nil
}

func envBool(key string, value bool) (bool, error) {
	raw := strings.TrimSpace(envy.Get(key, ""))
	if raw == "" {
		return value, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return value, errors.Wrapf(err, "%s", key)
	}
	return b, nil
}
