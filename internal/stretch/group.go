// SPDX-License-Identifier: MIT
package stretch

import (
	"errors"
	"fmt"
	"math"

	"paulring/internal/ring"
)

// Reporter receives per-voice status from Group.Step. Implementations are
// called on the audio thread and must not block.
type Reporter interface {
	Level(voice int, level float64)
	Indicator(voice int, on bool)
}

type nopReporter struct{}

func (nopReporter) Level(int, float64)  {}
func (nopReporter) Indicator(int, bool) {}

// GroupOptions configures a Group.
type GroupOptions struct {
	Voices     int // Size of the voice pool.
	WindowSize int // Grain size used by every voice.
	Preroll    int // Samples to back up from a transient when cueing.
	Stretcher  Options
	Reporter   Reporter
}

// Group is a fixed pool of voices, each a Stretcher on its own tap of a
// shared AnnotatedRing. A voice is active exactly when its tap is.
type Group struct {
	ring     *ring.AnnotatedRing
	cache    *WindowCache
	voices   []*Stretcher
	taps     []*ring.AnnotatedTap
	pan      [][2]float64
	reporter Reporter

	windowSize int
	preroll    int

	mix      [][2]float64
	voiceBuf []float64
	fade     []float64
}

// NewGroup creates opts.Voices inactive voices on fresh taps of r.
func NewGroup(r *ring.AnnotatedRing, cache *WindowCache, opts GroupOptions) (*Group, error) {
	if opts.Voices < 1 {
		return nil, fmt.Errorf("%w: a group needs at least one voice, got %d", ring.ErrConfiguration, opts.Voices)
	}
	if opts.WindowSize == 0 {
		opts.WindowSize = opts.Stretcher.WindowSize
	}
	if opts.WindowSize == 0 {
		opts.WindowSize = DefaultMaxWindowSize
	}
	if opts.WindowSize > r.Len() {
		return nil, fmt.Errorf("%w: window size %d exceeds ring length %d", ring.ErrConfiguration, opts.WindowSize, r.Len())
	}
	if opts.Reporter == nil {
		opts.Reporter = nopReporter{}
	}
	opts.Stretcher.WindowSize = opts.WindowSize

	g := &Group{
		ring:       r,
		cache:      cache,
		voices:     make([]*Stretcher, opts.Voices),
		taps:       make([]*ring.AnnotatedTap, opts.Voices),
		pan:        panning(opts.Voices),
		reporter:   opts.Reporter,
		windowSize: opts.WindowSize,
		preroll:    opts.Preroll,
	}
	seed := opts.Stretcher.Seed
	for i := range g.voices {
		tap := r.CreateTap()
		if err := tap.Deactivate(); err != nil {
			return nil, err
		}
		so := opts.Stretcher
		if seed != 0 {
			so.Seed = seed + uint64(i)
		}
		s, err := NewStretcher(tap.Tap, cache, so)
		if err != nil {
			return nil, fmt.Errorf("voice %d: %w", i, err)
		}
		g.voices[i] = s
		g.taps[i] = tap
	}
	return g, nil
}

// panning returns the static bus assignment: the first voice on the left,
// the last on the right, anything between on both at -3 dB. A lone voice
// plays on both channels.
func panning(n int) [][2]float64 {
	pan := make([][2]float64, n)
	if n == 1 {
		pan[0] = [2]float64{1, 1}
		return pan
	}
	for i := range pan {
		switch i {
		case 0:
			pan[i] = [2]float64{1, 0}
		case n - 1:
			pan[i] = [2]float64{0, 1}
		default:
			pan[i] = [2]float64{math.Sqrt2 / 2, math.Sqrt2 / 2}
		}
	}
	return pan
}

// WindowSize returns the grain size used by every voice.
func (g *Group) WindowSize() int { return g.windowSize }

// Voices returns the voice pool in index order.
func (g *Group) Voices() []*Stretcher { return g.voices }

// Voice returns voice i.
func (g *Group) Voice(i int) *Stretcher { return g.voices[i] }

// VoiceTap returns the annotated tap of voice i.
func (g *Group) VoiceTap(i int) *ring.AnnotatedTap { return g.taps[i] }

// Pan returns the left and right gains of voice i.
func (g *Group) Pan(i int) (left, right float64) { return g.pan[i][0], g.pan[i][1] }

// ActiveCount returns the number of active voices.
func (g *Group) ActiveCount() int {
	n := 0
	for _, tap := range g.taps {
		if tap.Active() {
			n++
		}
	}
	return n
}

// GetInactiveStretcher returns an inactive voice, or false if every voice
// is active.
func (g *Group) GetInactiveStretcher() (*Stretcher, bool) {
	i, ok := g.inactive()
	if !ok {
		return nil, false
	}
	return g.voices[i], true
}

func (g *Group) inactive() (int, bool) {
	for i, tap := range g.taps {
		if !tap.Active() {
			return i, true
		}
	}
	return 0, false
}

// ActivateAt seeks voice i to an absolute ring slot and activates it.
func (g *Group) ActivateAt(i, slot int) error {
	if i < 0 || i >= len(g.voices) {
		return fmt.Errorf("%w: voice %d of %d", ring.ErrRange, i, len(g.voices))
	}
	if err := g.taps[i].SetIndex(mod(slot, g.ring.Len())); err != nil {
		return err
	}
	if err := g.voices[i].Activate(); err != nil {
		return err
	}
	g.reporter.Indicator(i, true)
	return nil
}

// Cue activates an inactive voice Preroll samples ahead of slot, typically
// the start of a transient block. It returns the voice index, or false when
// the pool is fully active.
func (g *Group) Cue(slot int) (int, bool) {
	i, ok := g.inactive()
	if !ok {
		return 0, false
	}
	if err := g.ActivateAt(i, slot-g.preroll); err != nil {
		return 0, false
	}
	return i, true
}

// Step renders numSamples stereo frames from every active voice. A voice
// that fails is silenced for the rest of the call, deactivated and reported
// in the returned error; the other voices and the buffer are unaffected. The
// returned buffer is reused by the next call.
func (g *Group) Step(numSamples int) ([][2]float64, error) {
	half := g.windowSize / 2
	if numSamples <= 0 || numSamples%half != 0 {
		return nil, fmt.Errorf("%w: %d samples is not a multiple of %d", ring.ErrRange, numSamples, half)
	}
	g.grow(numSamples)
	out := g.mix[:numSamples]
	clear(out)

	var errs error
	for i, s := range g.voices {
		tap := g.taps[i]
		if !tap.Active() {
			continue
		}
		buf := g.voiceBuf[:numSamples]
		if err := g.render(s, buf); err != nil {
			_ = s.Deactivate()
			s.fadingOut = false
			g.reporter.Level(i, 0)
			g.reporter.Indicator(i, false)
			errs = errors.Join(errs, fmt.Errorf("voice %d: %w", i, err))
		} else if s.fadingOut {
			env := g.fadeOut(numSamples)
			for k := range buf {
				buf[k] *= env[k]
			}
			_ = s.Deactivate()
			s.fadingOut = false
			g.reporter.Indicator(i, false)
		} else {
			level, _ := tap.EnergyUnit()
			g.reporter.Level(i, level)
		}

		left, right := g.pan[i][0], g.pan[i][1]
		for k, x := range buf {
			out[k][0] += x * left
			out[k][1] += x * right
		}
	}
	return out, errs
}

// render fills buf with consecutive half grains. On failure the remainder of
// buf is zeroed.
func (g *Group) render(s *Stretcher, buf []float64) error {
	half := g.windowSize / 2
	if !s.tap.Valid() {
		clear(buf)
		return fmt.Errorf("%w: %s", ring.ErrTapInvalidated, s.tap.Name())
	}
	for off := 0; off < len(buf); off += half {
		chunk, err := s.Step(g.windowSize, s.amount)
		if chunk == nil {
			clear(buf[off:])
			return err
		}
		copy(buf[off:], chunk)
		if err != nil {
			clear(buf[off+half:])
			return err
		}
	}
	return nil
}

func (g *Group) fadeOut(n int) []float64 {
	if len(g.fade) != n {
		g.fade = g.cache.FadeOut(n)
	}
	return g.fade
}

// Reserve sizes the mix buffers for blocks of up to n samples so that Step
// does not allocate on the audio thread.
func (g *Group) Reserve(n int) {
	g.grow(n)
}

func (g *Group) grow(n int) {
	if cap(g.mix) < n {
		g.mix = make([][2]float64, n)
		g.voiceBuf = make([]float64, n)
	}
}

func mod(a, n int) int {
	m := a % n
	if m < 0 {
		m += n
	}
	return m
}
