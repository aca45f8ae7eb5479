// SPDX-License-Identifier: MIT
/*
Package audio runs the stretch engine inside a duplex audio callback:
- The first input channel is appended to an annotated ring
- Control intents are applied at the top of each callback
- Transients optionally cue an idle voice
- The voice group renders a stereo mix that is written, recorded and analysed

Thread Safety:
- Process runs on the audio thread and does not allocate in steady state
- Control reaches the audio thread only through the intent queue
- Voice status leaves it through atomics and the non-blocking outbox
*/
package audio

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"paulring/internal/analysis"
	"paulring/internal/config"
	"paulring/internal/control"
	applog "paulring/internal/log"
	"paulring/internal/metrics"
	"paulring/internal/ring"
	"paulring/internal/stretch"
)

// errorLogInterval bounds how often the callback logs.
const errorLogInterval = time.Second

// EngineOptions carries the collaborators of an Engine. Every field is
// optional.
type EngineOptions struct {
	Queue    *control.Queue          // Intents from the control surface and the monitor.
	Reporter stretch.Reporter        // Receives voice levels and indicators, typically a control.Outbox.
	Metrics  *metrics.EngineMetrics  // Callback and voice metrics.
	Analyzer analysis.AudioProcessor // Fed the mono output mix.
}

// VoiceStatus is a snapshot of one voice for display.
type VoiceStatus struct {
	Name    string
	Active  bool
	Level   float64 // 0..1
	Stretch float64
}

type voiceState struct {
	active  atomic.Bool
	level   atomic.Uint64 // float64 bits
	stretch atomic.Uint64 // float64 bits
}

// Engine owns the input ring and the voice group and implements the body of
// the audio callback.
type Engine struct {
	config *config.Config

	ring  *ring.AnnotatedRing
	cache *stretch.WindowCache
	group *stretch.Group

	queue    *control.Queue
	reporter stretch.Reporter
	metrics  *metrics.EngineMetrics
	analyzer analysis.AudioProcessor
	stretch  control.StretchRange

	frames         int // Largest block Process accepts.
	inputChannels  int
	outputChannels int
	autoCue        bool

	// Pre-allocated buffers.
	mono    []float64 // Downmixed input.
	monoMix []float64 // Output mix for analysis.

	// Audio thread state.
	callbacks  uint64
	pendingCue int
	hasCue     bool

	// Noise gate in front of the analyser.
	gateEnabled   bool
	gateThreshold float64

	recorder atomic.Pointer[Recorder]
	voices   []voiceState
	names    []string

	processed atomic.Uint64
	failures  atomic.Uint64
	dropped   atomic.Uint64
	xruns     atomic.Uint64
	lastLog   time.Time
	muted     int // Messages suppressed since lastLog.
}

// NewEngine builds the ring and the voice group described by cfg.
func NewEngine(cfg *config.Config, opts EngineOptions) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r, err := ring.NewAnnotated(cfg.Buffer.NumBlocks, cfg.Buffer.BlockSize, cfg.Buffer.TransientThresholdDb)
	if err != nil {
		return nil, fmt.Errorf("input ring: %w", err)
	}

	e := &Engine{
		config:         cfg,
		ring:           r,
		cache:          stretch.NewWindowCache(),
		queue:          opts.Queue,
		metrics:        opts.Metrics,
		analyzer:       opts.Analyzer,
		stretch:        control.StretchRange{Min: cfg.Stretch.MinAmount, Max: cfg.Stretch.MaxAmount},
		frames:         cfg.Audio.FramesPerBuffer,
		inputChannels:  cfg.Audio.InputChannels,
		outputChannels: cfg.Audio.OutputChannels,
		autoCue:        cfg.Stretch.AutoCue,
		mono:           make([]float64, cfg.Audio.FramesPerBuffer),
		monoMix:        make([]float64, cfg.Audio.FramesPerBuffer),
		voices:         make([]voiceState, cfg.Stretch.Voices),
		names:          make([]string, cfg.Stretch.Voices),
		reporter:       opts.Reporter,
		gateEnabled:    true,
		gateThreshold:  cfg.Transport.GateThreshold,
	}

	e.group, err = stretch.NewGroup(r, e.cache, stretch.GroupOptions{
		Voices:     cfg.Stretch.Voices,
		WindowSize: cfg.Stretch.WindowSize,
		Preroll:    cfg.Stretch.Preroll,
		Reporter:   e,
		Stretcher: stretch.Options{
			MaxWindowSize: cfg.Stretch.MaxWindowSize,
			StretchAmount: cfg.Stretch.Amount,
			Gain:          cfg.Stretch.Gain,
			Seed:          cfg.Stretch.Seed,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("voice group: %w", err)
	}
	e.group.Reserve(e.frames)

	for i, s := range e.group.Voices() {
		e.names[i] = s.Tap().Name()
		e.voices[i].stretch.Store(math.Float64bits(s.StretchAmount()))
		if e.metrics != nil {
			e.metrics.SetVoiceStretch(i, s.StretchAmount())
		}
	}

	applog.Infof("Engine: %d voices, window %d, ring %d samples (%s), %d frames per callback",
		cfg.Stretch.Voices, cfg.Stretch.WindowSize, r.Len(), cfg.RingDuration().Round(time.Second), e.frames)
	return e, nil
}

// Ring returns the input ring.
func (e *Engine) Ring() *ring.AnnotatedRing { return e.ring }

// Group returns the voice group. It must only be used from the audio thread.
func (e *Engine) Group() *stretch.Group { return e.group }

// Frames returns the block size Process was sized for.
func (e *Engine) Frames() int { return e.frames }

// Callbacks returns the number of Process calls.
func (e *Engine) Callbacks() uint64 { return e.processed.Load() }

// Failures returns the number of callbacks that wrote silence after an error.
func (e *Engine) Failures() uint64 { return e.failures.Load() }

// VoiceFailures returns how many voices were dropped from the mix because
// their step failed. The remaining voices keep playing.
func (e *Engine) VoiceFailures() uint64 { return e.dropped.Load() }

// Xruns returns the number of callbacks the backend flagged as under- or overflowed.
func (e *Engine) Xruns() uint64 { return e.xruns.Load() }

// Process is the audio callback body. in holds frames interleaved frames of
// the input channels, out receives frames interleaved frames of the output
// channels. Errors and panics are logged and counted and leave out silent.
func (e *Engine) Process(in, out []float32, frames int) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			clear(out)
			e.fail(fmt.Errorf("panic in audio callback: %v", r))
		}
		e.processed.Add(1)
		if e.metrics != nil {
			e.metrics.ObserveCallback(time.Since(start))
		}
	}()

	if err := e.process(in, out, frames); err != nil {
		clear(out)
		e.fail(err)
	}
}

func (e *Engine) process(in, out []float32, frames int) error {
	if frames <= 0 || frames > e.frames {
		return fmt.Errorf("%w: callback of %d frames, engine sized for %d", ring.ErrRange, frames, e.frames)
	}
	if len(in) < frames*e.inputChannels || len(out) < frames*e.outputChannels {
		return fmt.Errorf("%w: buffers of %d/%d samples for %d frames", ring.ErrRange, len(in), len(out), frames)
	}

	e.drainIntents(frames)

	mono := e.mono[:frames]
	for i := range mono {
		mono[i] = float64(in[i*e.inputChannels])
	}

	crossed, err := e.ring.Append(mono)
	if err != nil {
		if !errors.Is(err, ring.ErrTapInvalidated) {
			return err
		}
		e.invalidated(err)
	}

	if crossed > 0 {
		e.transients(crossed)
	}
	if e.hasCue {
		e.cue(frames)
	}
	e.callbacks++

	// A non-nil mix with an error means the group dropped failing voices.
	mix, err := e.group.Step(frames)
	if mix == nil {
		return err
	}
	if err != nil {
		e.voicesFailed(err)
	}
	e.write(out, mix)

	if rec := e.recorder.Load(); rec != nil {
		rec.Write(mix)
	}
	if e.analyzer != nil {
		monoMix := e.monoMix[:frames]
		for k, fr := range mix {
			monoMix[k] = (fr[0] + fr[1]) / 2
		}
		if e.gateOpen(monoMix) {
			e.analyzer.Process(monoMix)
		}
	}
	return nil
}

// write interleaves the stereo mix into out. Channels beyond two alternate
// left and right; a mono output takes the left bus.
func (e *Engine) write(out []float32, mix [][2]float64) {
	ch := e.outputChannels
	for k, fr := range mix {
		base := k * ch
		for c := range ch {
			out[base+c] = float32(fr[c&1])
		}
	}
}

func (e *Engine) drainIntents(frames int) {
	if e.queue == nil {
		return
	}
	for {
		in, ok := e.queue.Poll()
		if !ok {
			return
		}
		if err := e.apply(in, frames); err != nil {
			if e.metrics != nil {
				e.metrics.IntentsRejected.Inc()
			}
			e.logf("Engine: Rejected %s: %v", in, err)
			continue
		}
		if e.metrics != nil {
			e.metrics.IntentsApplied.Inc()
		}
	}
}

// apply performs one intent on the audio thread. Activation seeks the voice
// one callback behind the write head, so it starts on the newest input.
func (e *Engine) apply(in control.Intent, frames int) error {
	if in.Voice < 0 || in.Voice >= len(e.voices) {
		return fmt.Errorf("%w: voice %d of %d", ring.ErrRange, in.Voice, len(e.voices))
	}
	s := e.group.Voice(in.Voice)
	kind := in.Kind
	if kind == control.Toggle {
		kind = control.Activate
		if s.Tap().Active() && !s.FadingOut() {
			kind = control.FadeOut
		}
	}

	switch kind {
	case control.Activate:
		return e.group.ActivateAt(in.Voice, e.ring.Index()-frames)
	case control.FadeOut:
		if s.Tap().Active() {
			s.FadeOut()
		}
		return nil
	case control.SetStretch:
		if err := s.SetStretchAmount(in.Value); err != nil {
			return err
		}
		e.voices[in.Voice].stretch.Store(math.Float64bits(in.Value))
		if e.metrics != nil {
			e.metrics.SetVoiceStretch(in.Voice, in.Value)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown intent kind %d", ring.ErrRange, in.Kind)
	}
}

// transients counts the transient blocks completed by the last append and
// remembers the first one for cueing. The first callback is ignored: its
// blocks are measured against the silence the ring starts with.
func (e *Engine) transients(crossed int) {
	if e.callbacks == 0 {
		return
	}
	last := e.ring.PreviousUpdatedBlockIndex()
	n := min(crossed, e.ring.NumBlocks())
	found := 0
	for i := range n {
		if e.ring.IsTransient(last - n + 1 + i) {
			found++
		}
	}
	if found == 0 {
		return
	}
	if e.metrics != nil {
		e.metrics.Transients.Add(float64(found))
	}
	if !e.autoCue || e.hasCue {
		return
	}
	block, _ := e.ring.FirstRecentTransient(crossed)
	e.pendingCue = block * e.ring.BlockSize()
	e.hasCue = true
}

// cue starts an idle voice at the pending transient once enough input has
// arrived behind it to render a whole callback.
func (e *Engine) cue(frames int) {
	start := e.pendingCue - e.config.Stretch.Preroll
	behind := e.ring.Index() - start
	behind = ((behind % e.ring.Len()) + e.ring.Len()) % e.ring.Len()
	if behind < frames+e.group.WindowSize()/2 {
		return
	}
	e.hasCue = false
	if i, ok := e.group.Cue(e.pendingCue); ok {
		if e.metrics != nil {
			e.metrics.Cues.Inc()
		}
		applog.Debugf("Engine: Cued voice %d at sample %d", i, e.pendingCue)
	}
}

func (e *Engine) invalidated(err error) {
	var inv *ring.InvalidationError
	if !errors.As(err, &inv) {
		return
	}
	if e.metrics != nil {
		e.metrics.TapInvalidations.Add(float64(len(inv.Taps)))
	}
	e.logf("Engine: %v", err)
}

func (e *Engine) voicesFailed(err error) {
	n := 1
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		n = len(joined.Unwrap())
	}
	e.dropped.Add(uint64(n))
	if e.metrics != nil {
		e.metrics.VoiceFailures.Add(float64(n))
	}
	e.logf("Engine: Dropped from the mix: %v", err)
}

// Xrun records a callback the backend flagged as under- or overflowed.
func (e *Engine) Xrun() {
	e.xruns.Add(1)
	if e.metrics != nil {
		e.metrics.Xruns.Inc()
	}
}

func (e *Engine) fail(err error) {
	e.failures.Add(1)
	if e.metrics != nil {
		e.metrics.CallbackErrors.Inc()
	}
	e.logf("Engine: Callback produced silence: %v", err)
}

// logf logs from the audio thread at most once per errorLogInterval.
func (e *Engine) logf(format string, args ...any) {
	now := time.Now()
	if now.Sub(e.lastLog) < errorLogInterval {
		e.muted++
		return
	}
	if e.muted > 0 {
		applog.Warnf("Engine: %d messages suppressed", e.muted)
		e.muted = 0
	}
	e.lastLog = now
	applog.Warnf(format, args...)
}

// Level implements stretch.Reporter.
func (e *Engine) Level(voice int, level float64) {
	e.voices[voice].level.Store(math.Float64bits(level))
	if e.metrics != nil {
		e.metrics.SetVoiceLevel(voice, level)
	}
	if e.reporter != nil {
		e.reporter.Level(voice, level)
	}
}

// Indicator implements stretch.Reporter.
func (e *Engine) Indicator(voice int, on bool) {
	e.voices[voice].active.Store(on)
	if !on {
		e.voices[voice].level.Store(0)
		if e.metrics != nil {
			e.metrics.SetVoiceLevel(voice, 0)
		}
	}
	if e.metrics != nil {
		n := 0
		for i := range e.voices {
			if e.voices[i].active.Load() {
				n++
			}
		}
		e.metrics.ActiveVoices.Set(float64(n))
	}
	if e.reporter != nil {
		e.reporter.Indicator(voice, on)
	}
}

// Snapshot appends the status of every voice to dst. It is safe to call from
// any goroutine.
func (e *Engine) Snapshot(dst []VoiceStatus) []VoiceStatus {
	for i := range e.voices {
		v := &e.voices[i]
		dst = append(dst, VoiceStatus{
			Name:    e.names[i],
			Active:  v.active.Load(),
			Level:   math.Float64frombits(v.level.Load()),
			Stretch: math.Float64frombits(v.stretch.Load()),
		})
	}
	return dst
}

// StretchRange returns the fader mapping of the stretch amount.
func (e *Engine) StretchRange() control.StretchRange { return e.stretch }

// Close stops any recording and releases the ring.
func (e *Engine) Close() error {
	err := e.StopRecording()
	e.ring.Close()
	return err
}

var _ stretch.Reporter = (*Engine)(nil)
