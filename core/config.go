// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/devblok/koru-rt/profiler"
	"github.com/gobuffalo/envy"
	"github.com/gobuffalo/packr"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// Environment variables that override the configuration
const (
	EnvBackend     = "KORU_BACKEND"
	EnvShowMetrics = "KORU_SHOW_METRICS"
	EnvProfileGPU  = "KORU_PROFILE_GPU"
)

// Backend names accepted in RendererConfiguration.Backend
const (
	BackendVulkan   = "vulkan"
	BackendSoftware = "software"
)

var defaultsBox = packr.NewBox("./defaults")

// Configuration defines a global engine configuration setting
type Configuration struct {
	Time     TimeConfiguration      `toml:"time"`
	Renderer RendererConfiguration  `toml:"renderer"`
	Profiler profiler.Configuration `toml:"profiler"`
}

// TimeConfiguration is used to configure time services
type TimeConfiguration struct {
	// FramesPerSecond caps frames per second that is put out
	// To unlimit, set to 0
	FramesPerSecond int `toml:"frames_per_second"`
}

// RendererConfiguration is used to configure the renderer
type RendererConfiguration struct {
	// Backend is either "vulkan" or "software"
	Backend string `toml:"backend"`

	ScreenWidth  uint32 `toml:"screen_width"`
	ScreenHeight uint32 `toml:"screen_height"`

	Debug       bool `toml:"debug"`
	DeviceIndex int  `toml:"device_index"`

	// ShowMetrics enables the performance metrics overlay
	ShowMetrics bool `toml:"show_metrics"`

	// SoftwareMemoryMB is the memory budget reported by the software backend
	SoftwareMemoryMB uint64 `toml:"software_memory_mb"`
}

// DefaultConfiguration returns the configuration shipped with the engine.
func DefaultConfiguration() (Configuration, error) {
	raw, err := defaultsBox.Find("koru.toml")
	if err != nil {
		return Configuration{}, errors.Wrap(err, "default configuration missing")
	}

	var cfg Configuration
	if _, err := toml.Decode(string(raw), &cfg); err != nil {
		return Configuration{}, errors.Wrap(err, "decoding default configuration")
	}
	return cfg, nil
}

// LoadConfiguration reads the defaults, overlays the file at path and then
// the environment. Both path and envFile are optional, a missing file is
// not an error.
func LoadConfiguration(path, envFile string) (Configuration, error) {
	cfg, err := DefaultConfiguration()
	if err != nil {
		return cfg, err
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return cfg, errors.Wrapf(err, "decoding %s", path)
			}
			log.WithField("path", path).Debug("configuration loaded")
		} else if !os.IsNotExist(err) {
			return cfg, errors.Wrapf(err, "reading %s", path)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(errors.UnwrapAll(err)) {
			return cfg, errors.Wrapf(err, "loading %s", envFile)
		}
		envy.Reload()
	}

	if err := applyEnvironment(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func applyEnvironment(cfg *Configuration) error {
	cfg.Renderer.Backend = envy.Get(EnvBackend, cfg.Renderer.Backend)

	if v := envy.Get(EnvShowMetrics, ""); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrapf(err, "%s", EnvShowMetrics)
		}
		cfg.Renderer.ShowMetrics = b
	}

	if v := envy.Get(EnvProfileGPU, ""); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrapf(err, "%s", EnvProfileGPU)
		}
		cfg.Profiler.ProfileGPU = b
	}
	return nil
}

// Validate checks values that cannot be defaulted.
func (c Configuration) Validate() error {
	switch c.Renderer.Backend {
	case BackendVulkan, BackendSoftware:
	default:
		return errors.Newf("unknown renderer backend %q", c.Renderer.Backend)
	}
	if c.Renderer.ScreenWidth == 0 || c.Renderer.ScreenHeight == 0 {
		return errors.Newf("invalid screen size %dx%d", c.Renderer.ScreenWidth, c.Renderer.ScreenHeight)
	}
	if c.Time.FramesPerSecond < 0 {
		return errors.Newf("negative frames per second %d", c.Time.FramesPerSecond)
	}
	return nil
}
