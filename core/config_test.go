// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core_test

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/devblok/vkplayground/core"
	"github.com/gobuffalo/envy"
)

func TestDefaultConfiguration(t *testing.T) {
	cfg, err := core.LoadConfiguration("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Window.Width != 1280 || cfg.Window.Height != 720 {
		t.Errorf("unexpected window size %dx%d", cfg.Window.Width, cfg.Window.Height)
	}
	if len(cfg.Renderer.DeviceExtensions) != 1 || cfg.Renderer.DeviceExtensions[0] != "VK_KHR_swapchain" {
		t.Errorf("unexpected device extensions: %v", cfg.Renderer.DeviceExtensions)
	}
}

func TestConfigurationFileAndEnvironment(t *testing.T) {
	dir, err := ioutil.TempDir("", "vkplay-config")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	file := filepath.Join(dir, "vkplay.toml")
	contents := `
[window]
title = "test"
width = 800
height = 600

[time]
fps = 30
`
	if err := ioutil.WriteFile(file, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}

	envy.Temp(func() {
		envy.Set(core.EnvHeight, "480")
		envy.Set(core.EnvVSync, "true")

		cfg, err := core.LoadConfiguration(file)
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Window.Title != "test" || cfg.Window.Width != 800 {
			t.Errorf("file values not applied: %+v", cfg.Window)
		}
		if cfg.Window.Height != 480 {
			t.Errorf("environment should override height, got %d", cfg.Window.Height)
		}
		if cfg.Time.FramesPerSecond != 30 {
			t.Errorf("unexpected fps %d", cfg.Time.FramesPerSecond)
		}
		if !cfg.Renderer.VSync {
			t.Error("vsync should be enabled")
		}
		if cfg.Renderer.Scale != 1 {
			t.Errorf("defaults should survive partial files, scale %f", cfg.Renderer.Scale)
		}
	})
}

func TestConfigurationBadEnvironment(t *testing.T) {
	envy.Temp(func() {
		envy.Set(core.EnvFramesPerSecond, "fast")
		if _, err := core.LoadConfiguration(""); err == nil {
			t.Error("expected an error for a non numeric fps")
		}
	})
}

func TestConfigurationEnvFile(t *testing.T) {
	dir, err := ioutil.TempDir("", "vkplay-env")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	file := filepath.Join(dir, ".env")
	if err := ioutil.WriteFile(file, []byte("VKPLAY_LOG_LEVEL=debug\n"), 0644); err != nil {
		t.Fatal(err)
	}
	defer func() {
		os.Unsetenv(core.EnvLogLevel)
		envy.Reload()
	}()

	cfg, err := core.LoadConfiguration("", file, filepath.Join(dir, "missing.env"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected debug level from env file, got %s", cfg.Log.Level)
	}
}

func TestConfigureLogging(t *testing.T) {
	if err := core.ConfigureLogging(core.LogConfiguration{Level: "warn", Format: "json"}); err != nil {
		t.Error(err)
	}
	if err := core.ConfigureLogging(core.LogConfiguration{Level: "loud"}); err == nil {
		t.Error("expected an error for an unknown level")
	}
	if err := core.ConfigureLogging(core.LogConfiguration{Level: "info", Format: "xml"}); err == nil {
		t.Error("expected an error for an unknown format")
	}
	core.ConfigureLogging(core.LogConfiguration{Level: "info"})
}
