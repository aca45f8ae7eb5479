// SPDX-License-Identifier: MIT
package config

import (
	"time"

	applog "paulring/internal/log"
	"paulring/pkg/bitint"
)

// minWindowSize is the smallest grain window_seconds can select.
const minWindowSize = 16

// Resolve fills the settings derived from others. window_seconds selects the
// next power of two grain at the configured rate and widens the callback to
// at least half a grain; fft_size is rounded up to a power of two. It is
// idempotent and runs again after command line overrides.
func (c *Config) Resolve() {
	s := &c.Stretch
	if s.WindowSeconds > 0 {
		size := bitint.NextPowerOfTwo(max(minWindowSize, int(s.WindowSeconds*c.Audio.SampleRate)))
		if size != s.WindowSize {
			applog.Debugf("configuration: window_seconds %v selects a %d sample window", s.WindowSeconds, size)
		}
		s.WindowSize = size
		s.MaxWindowSize = max(s.MaxWindowSize, size)
		if half := size / 2; c.Audio.FramesPerBuffer < half || c.Audio.FramesPerBuffer%half != 0 {
			applog.Infof("configuration: frames_per_buffer %d raised to %d for the %d sample window",
				c.Audio.FramesPerBuffer, half, size)
			c.Audio.FramesPerBuffer = half
		}
	}
	if t := &c.Transport; t.FFTSize > 0 && !bitint.IsPowerOfTwo(t.FFTSize) {
		size := bitint.NextPowerOfTwo(t.FFTSize)
		applog.Infof("configuration: fft_size %d rounded up to %d", t.FFTSize, size)
		t.FFTSize = size
	}
}

// RingLength returns the input ring capacity in samples.
func (c *Config) RingLength() int {
	return c.Buffer.BlockSize * c.Buffer.NumBlocks
}

// RingDuration returns how much input the ring holds at the configured rate.
func (c *Config) RingDuration() time.Duration {
	return time.Duration(float64(c.RingLength()) / c.Audio.SampleRate * float64(time.Second))
}

// CallbackDuration returns the time budget of one audio callback.
func (c *Config) CallbackDuration() time.Duration {
	return time.Duration(float64(c.Audio.FramesPerBuffer) / c.Audio.SampleRate * float64(time.Second))
}

// EffectiveLogLevel returns "debug" when Debug is set, else LogLevel.
func (c *Config) EffectiveLogLevel() string {
	if c.Debug {
		return "debug"
	}
	if c.LogLevel == "" {
		return "info"
	}
	return c.LogLevel
}
