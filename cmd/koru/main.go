// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"strings"
	"time"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/devblok/koru-rt/asset"
	"github.com/devblok/koru-rt/core"
	"github.com/devblok/koru-rt/gfx"
	"github.com/devblok/koru-rt/gfx/soft"
	"github.com/devblok/koru-rt/gfx/vkr"
	"github.com/devblok/koru-rt/profiler"
	"github.com/devblok/koru-rt/resource"
	"github.com/devblok/koru-rt/utility/kar"
	"github.com/go-gl/mathgl/mgl32"
	log "github.com/sirupsen/logrus"
	"github.com/veandco/go-sdl2/sdl"
	"golang.org/x/exp/mmap"
)

func init() {
	runtime.LockOSThread()
}

var (
	configPath  = flag.String("config", "koru.toml", "Configuration file, defaults are used when missing")
	envPath     = flag.String("env", ".env", "Environment file with configuration overrides")
	archivePath = flag.String("archive", "", "Texture archive to load at startup")
	adapters    = flag.Bool("adapters", false, "Print the available Vulkan adapters as JSON and exit")
	cpuProfile  = flag.String("cpuprof", "", "Profile CPU usage to file")
	verbose     = flag.Bool("v", false, "Verbose logging")
)

// backend is what the frame loop needs from a graphics device.
type backend interface {
	gfx.TextureBackend
	profiler.GpuTimer
	Destroy()
}

// window is the SDL window the engine presents to.
type window struct {
	sdlWindow   *sdl.Window
	showMetrics bool
}

// Resolution implements profiler.Renderer
func (w *window) Resolution() mgl32.Vec2 {
	width, height := w.sdlWindow.GetSize()
	return mgl32.Vec2{float32(width), float32(height)}
}

// ShowPerformanceMetrics implements profiler.Renderer
func (w *window) ShowPerformanceMetrics() bool {
	return w.showMetrics
}

func main() {
	flag.Parse()
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	if *adapters {
		if err := printAdapters(); err != nil {
			log.WithError(err).Fatal("koru: listing adapters")
		}
		return
	}

	cfg, err := core.LoadConfiguration(*configPath, *envPath)
	if err != nil {
		log.WithError(err).Fatal("koru: configuration")
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.WithError(err).Fatal("koru: cpu profile")
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.WithError(err).Fatal("koru: cpu profile")
		}
		defer pprof.StopCPUProfile()
	}

	if err := run(cfg); err != nil {
		log.WithError(err).Error("koru: exited with error")
		os.Exit(1)
	}
}

func printAdapters() error {
	dev, err := vkr.NewDevice(nil, vkr.Configuration{})
	if err != nil {
		return err
	}
	defer dev.Destroy()

	bytes, err := json.MarshalIndent(dev.PhysicalDevicesInfo(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Printf("%s\n", bytes)
	return nil
}

func run(cfg core.Configuration) error {
	if err := sdl.Init(sdl.INIT_VIDEO | sdl.INIT_EVENTS); err != nil {
		return errors.Wrap(err, "sdl.Init()")
	}
	defer sdl.Quit()

	useVulkan := cfg.Renderer.Backend == core.BackendVulkan
	flags := uint32(sdl.WINDOW_RESIZABLE)
	if useVulkan {
		if err := sdl.VulkanLoadLibrary(""); err != nil {
			return errors.Wrap(err, "sdl.VulkanLoadLibrary()")
		}
		defer sdl.VulkanUnloadLibrary()
		flags |= sdl.WINDOW_VULKAN
	}

	sdlWindow, err := sdl.CreateWindow("Koru3D",
		sdl.WINDOWPOS_UNDEFINED,
		sdl.WINDOWPOS_UNDEFINED,
		int32(cfg.Renderer.ScreenWidth),
		int32(cfg.Renderer.ScreenHeight),
		flags)
	if err != nil {
		return errors.Wrap(err, "sdl.CreateWindow()")
	}
	defer sdlWindow.Destroy()
	win := &window{sdlWindow: sdlWindow, showMetrics: cfg.Renderer.ShowMetrics}

	dev, err := newBackend(cfg, sdlWindow)
	if err != nil {
		return err
	}
	defer dev.Destroy()
	log.WithFields(log.Fields{
		"backend": dev.Name(),
		"adapter": dev.AdapterName(),
	}).Info("koru: device ready")

	cache := resource.NewCache()
	defer cache.Release()
	if *archivePath != "" {
		if err := loadArchive(*archivePath, dev, cache); err != nil {
			return err
		}
	}

	timer := core.NewTimer(cfg.Time)
	defer timer.Stop()

	prof := profiler.New(cfg.Profiler, profiler.Dependencies{
		Timer:     timer,
		GpuTimer:  dev,
		Renderer:  win,
		Resources: cache,
	})

	report := time.NewTicker(time.Second)
	defer report.Stop()

	for running := true; running; {
		<-timer.FpsTicker().C
		timer.Tick()
		running = frame(prof, cache, func() bool {
			return pollEvents(win)
		})

		select {
		case <-report.C:
			if win.ShowPerformanceMetrics() {
				log.Info("\n" + prof.Metrics())
				log.Debug("\n" + prof.Report())
			}
		default:
		}
	}
	return nil
}

// frame runs one profiled frame, the profiler opens the root block
// itself so only the stages below it are timed here.
func frame(prof *profiler.Profiler, cache *resource.Cache, events func() bool) bool {
	prof.OnFrameStart()

	timed := prof.TimeBlockStart("Events", true, false)
	running := events()
	if timed {
		prof.TimeBlockEnd()
	}

	prof.SetCounters(profiler.Counters{
		TextureBindings: cache.CountByType(resource.TypeTexture2D),
	})
	prof.OnFrameEnd()
	return running
}

func newBackend(cfg core.Configuration, sdlWindow *sdl.Window) (backend, error) {
	if cfg.Renderer.Backend == core.BackendSoftware {
		return soft.New(soft.Configuration{MemoryBudgetMB: cfg.Renderer.SoftwareMemoryMB}), nil
	}

	dev, err := vkr.NewDevice(unsafe.Pointer(sdl.VulkanGetVkGetInstanceProcAddr()), vkr.Configuration{
		DebugMode:   cfg.Renderer.Debug,
		Extensions:  sdlWindow.VulkanGetInstanceExtensions(),
		DeviceIndex: cfg.Renderer.DeviceIndex,
	})
	if err != nil {
		return nil, err
	}
	return dev, nil
}

// loadArchive loads every texture stored in the archive into the cache.
func loadArchive(path string, backend gfx.TextureBackend, cache *resource.Cache) error {
	reader, err := mmap.Open(path)
	if err != nil {
		return errors.Wrapf(err, "opening %s", path)
	}
	defer reader.Close()

	ar, err := kar.Open(reader)
	if err != nil {
		return errors.Wrapf(err, "reading %s", path)
	}

	for _, entry := range ar.Names() {
		if !strings.HasSuffix(entry, "/texture") {
			continue
		}
		name := strings.TrimSuffix(entry, "/texture")
		tex := gfx.NewTexture2D(backend, true)
		if err := asset.LoadTexture(ar, name, tex); err != nil {
			log.WithError(err).WithField("texture", name).Warn("koru: skipping texture")
			continue
		}
		cache.Add(tex)
	}

	log.WithFields(log.Fields{
		"archive":  path,
		"author":   ar.Header().Author,
		"textures": cache.CountByType(resource.TypeTexture2D),
		"bytes":    cache.MemoryUsage(resource.TypeTexture2D),
	}).Info("koru: archive loaded")
	return nil
}

// pollEvents drains the SDL event queue, false once the window should close.
func pollEvents(win *window) bool {
	for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
		switch et := event.(type) {
		case *sdl.KeyboardEvent:
			if et.Type != sdl.KEYDOWN {
				continue
			}
			switch et.Keysym.Sym {
			case sdl.K_ESCAPE:
				return false
			case sdl.K_F1:
				win.showMetrics = !win.showMetrics
			}
		case *sdl.QuitEvent:
			return false
		}
	}
	return true
}
