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

	"github.com/devblok/koru-rt/core"
	"github.com/devblok/koru-rt/profiler"
	qt "github.com/frankban/quicktest"
	"github.com/gobuffalo/envy"
)

func tempDir(c *qt.C) (string, func()) {
	dir, err := ioutil.TempDir("", "korucfg")
	c.Assert(err, qt.IsNil)
	return dir, func() { os.RemoveAll(dir) }
}

func TestDefaultConfiguration(t *testing.T) {
	c := qt.New(t)

	cfg, err := core.DefaultConfiguration()
	c.Assert(err, qt.IsNil)
	c.Assert(cfg.Time.FramesPerSecond, qt.Equals, 60)
	c.Assert(cfg.Renderer.Backend, qt.Equals, core.BackendVulkan)
	c.Assert(cfg.Renderer.ScreenWidth, qt.Equals, uint32(800))
	c.Assert(cfg.Renderer.ScreenHeight, qt.Equals, uint32(600))
	c.Assert(cfg.Renderer.SoftwareMemoryMB, qt.Equals, uint64(512))
	c.Assert(cfg.Profiler, qt.DeepEquals, profiler.DefaultConfiguration())
	c.Assert(cfg.Validate(), qt.IsNil)
}

func TestLoadConfigurationFile(t *testing.T) {
	c := qt.New(t)
	dir, cleanup := tempDir(c)
	defer cleanup()

	path := filepath.Join(dir, "koru.toml")
	c.Assert(ioutil.WriteFile(path, []byte(`
[renderer]
backend = "software"
screen_width = 1280
screen_height = 720

[profiler]
time_block_capacity = 250
`), 0644), qt.IsNil)

	envy.Temp(func() {
		cfg, err := core.LoadConfiguration(path, "")
		c.Assert(err, qt.IsNil)
		c.Assert(cfg.Renderer.Backend, qt.Equals, core.BackendSoftware)
		c.Assert(cfg.Renderer.ScreenWidth, qt.Equals, uint32(1280))
		c.Assert(cfg.Profiler.TimeBlockCapacity, qt.Equals, 250)
		// untouched keys keep their defaults
		c.Assert(cfg.Profiler.IntervalSec, qt.Equals, profiler.DefaultIntervalSec)
		c.Assert(cfg.Time.FramesPerSecond, qt.Equals, 60)
	})
}

func TestLoadConfigurationMissingFile(t *testing.T) {
	c := qt.New(t)
	dir, cleanup := tempDir(c)
	defer cleanup()

	envy.Temp(func() {
		cfg, err := core.LoadConfiguration(filepath.Join(dir, "missing.toml"), filepath.Join(dir, ".env"))
		c.Assert(err, qt.IsNil)
		c.Assert(cfg.Renderer.Backend, qt.Equals, core.BackendVulkan)
	})
}

func TestEnvironmentOverrides(t *testing.T) {
	c := qt.New(t)

	envy.Temp(func() {
		envy.Set(core.EnvBackend, core.BackendSoftware)
		envy.Set(core.EnvShowMetrics, "true")
		envy.Set(core.EnvProfileGPU, "false")

		cfg, err := core.LoadConfiguration("", "")
		c.Assert(err, qt.IsNil)
		c.Assert(cfg.Renderer.Backend, qt.Equals, core.BackendSoftware)
		c.Assert(cfg.Renderer.ShowMetrics, qt.Equals, true)
		c.Assert(cfg.Profiler.ProfileGPU, qt.Equals, false)
	})

	envy.Temp(func() {
		envy.Set(core.EnvShowMetrics, "sometimes")
		_, err := core.LoadConfiguration("", "")
		c.Assert(err, qt.Not(qt.IsNil))
	})
}

func TestDotEnvFile(t *testing.T) {
	c := qt.New(t)
	dir, cleanup := tempDir(c)
	defer cleanup()

	envFile := filepath.Join(dir, ".env")
	c.Assert(ioutil.WriteFile(envFile, []byte(core.EnvBackend+"=software\n"), 0644), qt.IsNil)
	defer func() {
		os.Unsetenv(core.EnvBackend)
		envy.Reload()
	}()

	cfg, err := core.LoadConfiguration("", envFile)
	c.Assert(err, qt.IsNil)
	c.Assert(cfg.Renderer.Backend, qt.Equals, core.BackendSoftware)
}

func TestValidate(t *testing.T) {
	c := qt.New(t)

	cfg, err := core.DefaultConfiguration()
	c.Assert(err, qt.IsNil)

	cfg.Renderer.Backend = "directx"
	c.Assert(cfg.Validate(), qt.ErrorMatches, `unknown renderer backend "directx"`)

	cfg.Renderer.Backend = core.BackendSoftware
	cfg.Renderer.ScreenWidth = 0
	c.Assert(cfg.Validate(), qt.ErrorMatches, `invalid screen size 0x600`)
}
