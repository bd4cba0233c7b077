// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"time"

	"github.com/loov/hrtime"
)

// NewTimer creates a new time service
func NewTimer(cfg TimeConfiguration) *Timer {
	return newTimer(cfg, hrtime.Now)
}

func newTimer(cfg TimeConfiguration, now func() time.Duration) *Timer {
	var interval time.Duration
	if cfg.FramesPerSecond == 0 {
		interval = time.Nanosecond
	} else {
		interval = time.Second / (time.Duration)(cfg.FramesPerSecond)
	}

	return &Timer{
		fps:       cfg.FramesPerSecond,
		fpsTicker: time.NewTicker(interval),
		now:       now,
	}
}

// Timer contains the frame ticker and measures time between frames
type Timer struct {
	fps       int
	fpsTicker *time.Ticker

	now   func() time.Duration
	last  time.Duration
	delta time.Duration
}

// Tick marks the start of a new frame. The first tick yields
// a zero delta time.
func (t *Timer) Tick() {
	current := t.now()
	if t.last != 0 {
		t.delta = current - t.last
	}
	t.last = current
}

// DeltaTime returns the duration of the last frame
func (t *Timer) DeltaTime() time.Duration {
	return t.delta
}

// DeltaTimeSec returns the duration of the last frame in seconds
func (t *Timer) DeltaTimeSec() float64 {
	return t.delta.Seconds()
}

// Fps gets the set frames per second
func (t *Timer) Fps() int {
	return t.fps
}

// FpsTicker gets the initialized fps ticker
func (t *Timer) FpsTicker() *time.Ticker {
	return t.fpsTicker
}

// Stop stops the tickers
func (t *Timer) Stop() {
	t.fpsTicker.Stop()
}
