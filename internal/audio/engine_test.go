// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"testing"

	"paulring/internal/config"
	"paulring/internal/control"
	"paulring/internal/metrics"
	"paulring/pkg/utils"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type engineFixture struct {
	engine  *Engine
	queue   *control.Queue
	metrics *metrics.EngineMetrics
	in      []float32
	out     []float32
}

func newEngineFixture(t testing.TB, cfg *config.Config, opts EngineOptions) *engineFixture {
	t.Helper()
	f := &engineFixture{queue: control.NewQueue(16)}
	m, err := metrics.NewEngineMetrics(prometheus.NewRegistry(), cfg.Stretch.Voices)
	if err != nil {
		t.Fatal(err)
	}
	f.metrics = m
	opts.Queue = f.queue
	opts.Metrics = m
	f.engine, err = NewEngine(cfg, opts)
	if err != nil {
		t.Fatal(err)
	}
	f.in = make([]float32, testFrameSize*cfg.Audio.InputChannels)
	f.out = make([]float32, testFrameSize*cfg.Audio.OutputChannels)
	return f
}

// feed runs one callback with a mono signal copied to every input channel.
func (f *engineFixture) feed(mono []float64) {
	ch := f.engine.inputChannels
	for i, x := range mono {
		for c := range ch {
			f.in[i*ch+c] = float32(x)
		}
	}
	f.engine.Process(f.in, f.out, len(mono))
}

func (f *engineFixture) push(t testing.TB, in control.Intent) {
	t.Helper()
	if err := f.queue.Push(in); err != nil {
		t.Fatal(err)
	}
}

func channelEnergy(out []float32, channels, c int) float64 {
	var e float64
	for i := c; i < len(out); i += channels {
		e += float64(out[i]) * float64(out[i])
	}
	return e
}

func TestNewEngineRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Stretch.WindowSize = 1000
	if _, err := NewEngine(cfg, EngineOptions{}); err == nil {
		t.Error("expected error for a window that is not a power of two")
	}
}

func TestProcessSilenceWithoutVoices(t *testing.T) {
	f := newEngineFixture(t, testConfig(), EngineOptions{})
	for i := range f.out {
		f.out[i] = 1
	}
	f.feed(testBuffer)

	for i, x := range f.out {
		if x != 0 {
			t.Fatalf("out[%d] = %v with no active voice", i, x)
		}
	}
	if f.engine.Callbacks() != 1 || f.engine.Failures() != 0 {
		t.Errorf("callbacks = %d, failures = %d", f.engine.Callbacks(), f.engine.Failures())
	}
	if got := testutil.ToFloat64(f.metrics.Callbacks); got != 1 {
		t.Errorf("callbacks metric = %v, want 1", got)
	}
}

func TestProcessActivateThenFadeOut(t *testing.T) {
	f := newEngineFixture(t, testConfig(), EngineOptions{})
	f.push(t, control.Intent{Kind: control.Activate, Voice: 0})
	f.feed(testBuffer)

	status := f.engine.Snapshot(nil)
	if !status[0].Active || status[1].Active {
		t.Fatalf("after activation status = %+v", status)
	}
	// Two voices: the first plays on the left bus only.
	if channelEnergy(f.out, 2, 0) == 0 {
		t.Error("left channel is silent with voice 0 active")
	}
	if channelEnergy(f.out, 2, 1) != 0 {
		t.Error("right channel carries voice 0")
	}

	f.push(t, control.Intent{Kind: control.FadeOut, Voice: 0})
	f.feed(testBuffer)
	if f.engine.Snapshot(nil)[0].Active {
		t.Error("voice 0 still active after fading out")
	}
	if got := testutil.ToFloat64(f.metrics.ActiveVoices); got != 0 {
		t.Errorf("active voices metric = %v, want 0", got)
	}

	f.feed(testBuffer)
	if channelEnergy(f.out, 2, 0) != 0 {
		t.Error("output not silent after the fade completed")
	}
	if got := testutil.ToFloat64(f.metrics.IntentsApplied); got != 2 {
		t.Errorf("intents applied = %v, want 2", got)
	}
}

func TestProcessToggle(t *testing.T) {
	f := newEngineFixture(t, testConfig(), EngineOptions{})
	f.push(t, control.Intent{Kind: control.Toggle, Voice: 1})
	f.feed(testBuffer)
	if !f.engine.Snapshot(nil)[1].Active {
		t.Fatal("toggle did not start voice 1")
	}
	f.push(t, control.Intent{Kind: control.Toggle, Voice: 1})
	f.feed(testBuffer)
	if f.engine.Snapshot(nil)[1].Active {
		t.Error("second toggle did not stop voice 1")
	}
}

func TestProcessRejectsBadIntents(t *testing.T) {
	f := newEngineFixture(t, testConfig(), EngineOptions{})
	f.push(t, control.Intent{Kind: control.SetStretch, Voice: 0, Value: -1})
	f.push(t, control.Intent{Kind: control.Activate, Voice: 7})
	f.push(t, control.Intent{Kind: control.SetStretch, Voice: 1, Value: 6})
	f.feed(testBuffer)

	if got := testutil.ToFloat64(f.metrics.IntentsRejected); got != 2 {
		t.Errorf("intents rejected = %v, want 2", got)
	}
	status := f.engine.Snapshot(nil)
	if status[0].Stretch != 2 || status[1].Stretch != 6 {
		t.Errorf("stretch amounts = %v, %v, want 2, 6", status[0].Stretch, status[1].Stretch)
	}
	if f.engine.Group().Voice(1).StretchAmount() != 6 {
		t.Error("stretch intent did not reach the voice")
	}
}

func TestProcessWritesSilenceOnError(t *testing.T) {
	f := newEngineFixture(t, testConfig(), EngineOptions{})
	f.push(t, control.Intent{Kind: control.Activate, Voice: 0})
	f.feed(testBuffer)

	tests := []struct {
		name   string
		frames int
	}{
		{"not a multiple of half the window", 100},
		{"larger than the engine", 2 * testFrameSize},
		{"empty", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := f.engine.Failures()
			for i := range f.out {
				f.out[i] = 1
			}
			f.engine.Process(f.in, f.out, tt.frames)
			for i, x := range f.out {
				if x != 0 {
					t.Fatalf("out[%d] = %v after a failed callback", i, x)
				}
			}
			if f.engine.Failures() != before+1 {
				t.Errorf("failures = %d, want %d", f.engine.Failures(), before+1)
			}
		})
	}
	if got := testutil.ToFloat64(f.metrics.CallbackErrors); got != float64(len(tests)) {
		t.Errorf("callback errors metric = %v, want %d", got, len(tests))
	}
}

type panickingAnalyzer struct{}

func (panickingAnalyzer) Process([]float64) { panic(errors.New("analyser exploded")) }

func TestProcessRecoversPanic(t *testing.T) {
	f := newEngineFixture(t, testConfig(), EngineOptions{Analyzer: panickingAnalyzer{}})
	f.engine.DisableGate()
	for i := range f.out {
		f.out[i] = 1
	}
	f.feed(testBuffer)

	if f.engine.Failures() != 1 {
		t.Errorf("failures = %d, want 1", f.engine.Failures())
	}
	for i, x := range f.out {
		if x != 0 {
			t.Fatalf("out[%d] = %v after a panic", i, x)
		}
	}
	if f.engine.Callbacks() != 1 {
		t.Errorf("callbacks = %d, want 1", f.engine.Callbacks())
	}
}

type blockCounter struct{ blocks, samples int }

func (c *blockCounter) Process(block []float64) {
	c.blocks++
	c.samples = len(block)
}

func TestProcessFeedsAnalyzerThroughGate(t *testing.T) {
	counter := &blockCounter{}
	f := newEngineFixture(t, testConfig(), EngineOptions{Analyzer: counter})
	f.feed(testBuffer)
	if counter.blocks != 0 {
		t.Error("silent mix passed the gate")
	}
	f.push(t, control.Intent{Kind: control.Activate, Voice: 0})
	f.feed(testBuffer)
	if counter.blocks != 1 || counter.samples != testFrameSize {
		t.Errorf("analyser saw %d blocks of %d samples", counter.blocks, counter.samples)
	}
}

func TestProcessAutoCue(t *testing.T) {
	cfg := testConfig()
	cfg.Stretch.AutoCue = true
	f := newEngineFixture(t, cfg, EngineOptions{})
	silence := make([]float64, testFrameSize)
	burst := utils.GenerateSineWave(testFrameSize, testSampleRate, 440, 0.5)

	f.feed(silence)
	f.feed(silence)
	f.feed(burst) // The transient block completes here.
	if f.engine.Snapshot(nil)[0].Active {
		t.Fatal("voice cued before a callback of input followed the transient")
	}
	if got := testutil.ToFloat64(f.metrics.Transients); got < 1 {
		t.Errorf("transients metric = %v, want at least 1", got)
	}

	f.feed(burst)
	if !f.engine.Snapshot(nil)[0].Active {
		t.Fatal("no voice cued at the transient")
	}
	if got := testutil.ToFloat64(f.metrics.Cues); got != 1 {
		t.Errorf("cues metric = %v, want 1", got)
	}
	// Slot 512 minus the 64 sample preroll.
	if idx := f.engine.Group().VoiceTap(0).Index(); idx != 448+128 {
		t.Errorf("cued tap index = %d, want %d after one hop", idx, 448+128)
	}
}

func TestProcessIgnoresTransientsInFirstCallback(t *testing.T) {
	cfg := testConfig()
	cfg.Stretch.AutoCue = true
	f := newEngineFixture(t, cfg, EngineOptions{})
	f.feed(testBuffer)
	f.feed(testBuffer)
	if got := testutil.ToFloat64(f.metrics.Transients); got != 0 {
		t.Errorf("transients metric = %v, want 0 for a steady signal", got)
	}
}

func TestProcessDuplicatesOutputChannels(t *testing.T) {
	cfg := testConfig()
	cfg.Audio.InputChannels = 2
	cfg.Audio.OutputChannels = 4
	cfg.Stretch.Voices = 1
	f := newEngineFixture(t, cfg, EngineOptions{})
	f.push(t, control.Intent{Kind: control.Activate, Voice: 0})
	f.engine.Process(utils.Interleave(testBuffer, 2), f.out, testFrameSize)

	for k := range testFrameSize {
		fr := f.out[4*k : 4*k+4]
		if fr[0] != fr[2] || fr[1] != fr[3] || fr[0] != fr[1] {
			t.Fatalf("frame %d = %v, want one voice on every channel", k, fr)
		}
	}
	if channelEnergy(f.out, 4, 0) == 0 {
		t.Error("output is silent")
	}
}

func TestProcessCountsTapInvalidation(t *testing.T) {
	cfg := testConfig()
	cfg.Stretch.MinAmount = 1
	cfg.Stretch.MaxAmount = 20
	cfg.Stretch.Amount = 20
	f := newEngineFixture(t, cfg, EngineOptions{})
	f.push(t, control.Intent{Kind: control.Activate, Voice: 0})

	// At 20x the voice reads 12 samples per callback and the 4096 sample
	// ring overtakes it within 20 callbacks.
	for range 20 {
		f.feed(testBuffer)
	}
	if got := testutil.ToFloat64(f.metrics.TapInvalidations); got < 1 {
		t.Errorf("tap invalidations = %v, want at least 1", got)
	}
	if f.engine.Snapshot(nil)[0].Active {
		t.Error("invalidated voice still active")
	}
}

func TestOverrunVoiceLeavesOthersPlaying(t *testing.T) {
	cfg := testConfig()
	cfg.Stretch.Amount = 1
	f := newEngineFixture(t, cfg, EngineOptions{})
	f.push(t, control.Intent{Kind: control.Activate, Voice: 0})
	f.push(t, control.Intent{Kind: control.SetStretch, Voice: 0, Value: 20})
	f.push(t, control.Intent{Kind: control.Activate, Voice: 1})

	// Voice 0 falls behind at 20x and is overrun; voice 1 keeps pace.
	for n := range 40 {
		f.feed(testBuffer)
		if f.engine.VoiceFailures() == 0 {
			continue
		}
		if got := channelEnergy(f.out, 2, 1); got == 0 {
			t.Fatalf("callback %d: right bus silent while voice 1 plays", n)
		}
		if got := channelEnergy(f.out, 2, 0); got != 0 {
			t.Errorf("callback %d: left bus energy = %v after voice 0 was dropped", n, got)
		}
		if f.engine.Failures() != 0 {
			t.Errorf("failures = %d, want 0", f.engine.Failures())
		}
		if got := testutil.ToFloat64(f.metrics.VoiceFailures); got != 1 {
			t.Errorf("voice failures metric = %v, want 1", got)
		}
		snap := f.engine.Snapshot(nil)
		if snap[0].Active || !snap[1].Active {
			t.Errorf("active = %v, %v, want false, true", snap[0].Active, snap[1].Active)
		}
		return
	}
	t.Fatal("voice 0 was never overrun")
}

func TestXrunCounting(t *testing.T) {
	f := newEngineFixture(t, testConfig(), EngineOptions{})
	f.engine.Xrun()
	f.engine.Xrun()
	if f.engine.Xruns() != 2 {
		t.Errorf("Xruns() = %d, want 2", f.engine.Xruns())
	}
	if got := testutil.ToFloat64(f.metrics.Xruns); got != 2 {
		t.Errorf("xruns metric = %v, want 2", got)
	}
}

func TestProcessDoesNotAllocate(t *testing.T) {
	cfg := testConfig()
	cfg.Stretch.Amount = 1 // The voice keeps pace with the input.
	f := newEngineFixture(t, cfg, EngineOptions{Analyzer: &blockCounter{}})
	f.push(t, control.Intent{Kind: control.Activate, Voice: 0})
	for range 4 {
		f.feed(testBuffer)
	}

	allocs := testing.AllocsPerRun(50, func() {
		f.engine.Process(f.in, f.out, testFrameSize)
	})
	if allocs > 0 {
		t.Errorf("Process allocated %.1f times per callback, want 0", allocs)
	}
	if f.engine.Failures() != 0 {
		t.Errorf("failures = %d during steady state", f.engine.Failures())
	}
}

func BenchmarkProcess(b *testing.B) {
	cfg := testConfig()
	cfg.Stretch.Amount = 1
	f := newEngineFixture(b, cfg, EngineOptions{})
	f.push(b, control.Intent{Kind: control.Activate, Voice: 0})
	f.push(b, control.Intent{Kind: control.Activate, Voice: 1})
	f.feed(testBuffer)

	b.ReportAllocs()
	for b.Loop() {
		f.engine.Process(f.in, f.out, testFrameSize)
	}
}
