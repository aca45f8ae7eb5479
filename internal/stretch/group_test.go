// SPDX-License-Identifier: MIT
package stretch

import (
	"errors"
	"math"
	"testing"

	"paulring/internal/ring"
)

type recordingReporter struct {
	levels     map[int]float64
	indicators map[int]bool
}

func newRecordingReporter() *recordingReporter {
	return &recordingReporter{levels: map[int]float64{}, indicators: map[int]bool{}}
}

func (r *recordingReporter) Level(voice int, level float64) { r.levels[voice] = level }
func (r *recordingReporter) Indicator(voice int, on bool)   { r.indicators[voice] = on }

// newTestGroup returns a group of 16-sample grains over a 128-sample ring
// filled with a sine.
func newTestGroup(t testing.TB, voices int, rep Reporter) (*ring.AnnotatedRing, *Group) {
	t.Helper()
	r, err := ring.NewAnnotated(16, 8, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Append(sine(128, 0.5)); err != nil {
		t.Fatal(err)
	}
	g, err := NewGroup(r, NewWindowCache(), GroupOptions{
		Voices:     voices,
		WindowSize: 16,
		Preroll:    8,
		Stretcher:  Options{MaxWindowSize: 16, StretchAmount: 2, Seed: 42},
		Reporter:   rep,
	})
	if err != nil {
		t.Fatal(err)
	}
	return r, g
}

func TestNewGroupValidation(t *testing.T) {
	r, _ := ring.NewAnnotated(4, 4, 0)
	cache := NewWindowCache()
	if _, err := NewGroup(r, cache, GroupOptions{Voices: 0, WindowSize: 8}); !errors.Is(err, ring.ErrConfiguration) {
		t.Errorf("zero voices error = %v", err)
	}
	if _, err := NewGroup(r, cache, GroupOptions{Voices: 1, WindowSize: 32}); !errors.Is(err, ring.ErrConfiguration) {
		t.Errorf("window larger than ring error = %v", err)
	}
}

func TestNewGroupStartsInactive(t *testing.T) {
	r, g := newTestGroup(t, 3, nil)
	if g.ActiveCount() != 0 {
		t.Errorf("ActiveCount = %d, want 0", g.ActiveCount())
	}
	if len(r.InactiveTaps()) != 3 || len(r.ActiveTaps()) != 0 {
		t.Errorf("partition = %d active, %d inactive", len(r.ActiveTaps()), len(r.InactiveTaps()))
	}
}

func TestGroupStepShape(t *testing.T) {
	_, g := newTestGroup(t, 2, nil)
	for _, n := range []int{8, 16, 64} {
		out, err := g.Step(n)
		if err != nil {
			t.Fatal(err)
		}
		if len(out) != n {
			t.Errorf("Step(%d) returned %d frames", n, len(out))
		}
		for k, frame := range out {
			if frame != [2]float64{} {
				t.Fatalf("frame %d = %v with no active voices", k, frame)
			}
		}
	}
	for _, n := range []int{0, -8, 4, 12} {
		if _, err := g.Step(n); !errors.Is(err, ring.ErrRange) {
			t.Errorf("Step(%d) error = %v, want ErrRange", n, err)
		}
	}
}

func TestPanning(t *testing.T) {
	third := math.Sqrt2 / 2
	tests := []struct {
		voices int
		want   [][2]float64
	}{
		{1, [][2]float64{{1, 1}}},
		{2, [][2]float64{{1, 0}, {0, 1}}},
		{4, [][2]float64{{1, 0}, {third, third}, {third, third}, {0, 1}}},
	}
	for _, tt := range tests {
		got := panning(tt.voices)
		for i := range tt.want {
			if got[i] != tt.want[i] {
				t.Errorf("panning(%d)[%d] = %v, want %v", tt.voices, i, got[i], tt.want[i])
			}
		}
	}
}

func TestGroupBusAssignment(t *testing.T) {
	rep := newRecordingReporter()
	r, g := newTestGroup(t, 2, rep)
	if err := g.ActivateAt(0, r.Index()-64); err != nil {
		t.Fatal(err)
	}

	out, err := g.Step(16)
	if err != nil {
		t.Fatal(err)
	}
	var left, right float64
	for _, frame := range out {
		left += math.Abs(frame[0])
		right += math.Abs(frame[1])
	}
	if left == 0 {
		t.Error("voice 0 produced no output on the left bus")
	}
	if right != 0 {
		t.Errorf("voice 0 leaked %v onto the right bus", right)
	}
	if !rep.indicators[0] {
		t.Error("activation indicator not reported")
	}
	if level, ok := rep.levels[0]; !ok || level <= 0 || level > 1 {
		t.Errorf("level = %v, %v", level, ok)
	}
}

func TestGetInactiveStretcher(t *testing.T) {
	r, g := newTestGroup(t, 3, nil)
	for i := range 3 {
		s, ok := g.GetInactiveStretcher()
		if !ok {
			t.Fatalf("no inactive voice with %d active", i)
		}
		if err := s.Tap().SetIndex(r.IndexOf(-32)); err != nil {
			t.Fatal(err)
		}
		if err := s.Activate(); err != nil {
			t.Fatal(err)
		}
	}
	if _, ok := g.GetInactiveStretcher(); ok {
		t.Error("found an inactive voice in a fully active pool")
	}
	if g.ActiveCount() != 3 {
		t.Errorf("ActiveCount = %d, want 3", g.ActiveCount())
	}

	g.Voice(1).FadeOut()
	if _, err := g.Step(8); err != nil {
		t.Fatal(err)
	}
	s, ok := g.GetInactiveStretcher()
	if !ok || s != g.Voice(1) {
		t.Errorf("GetInactiveStretcher = %p, %v, want voice 1", s, ok)
	}
}

func TestGroupFadeOut(t *testing.T) {
	rep := newRecordingReporter()
	r, g := newTestGroup(t, 1, rep)
	if err := g.ActivateAt(0, r.Index()-64); err != nil {
		t.Fatal(err)
	}
	g.Voice(0).FadeOut()

	out, err := g.Step(16)
	if err != nil {
		t.Fatal(err)
	}
	if last := out[len(out)-1]; last != [2]float64{} {
		t.Errorf("last frame = %v, want silence", last)
	}
	if g.VoiceTap(0).Active() || g.Voice(0).FadingOut() {
		t.Error("voice still active or fading after its fade-out block")
	}
	if rep.indicators[0] {
		t.Error("fade-out indicator not cleared")
	}

	out, _ = g.Step(16)
	for k, frame := range out {
		if frame != [2]float64{} {
			t.Fatalf("frame %d = %v after fade-out", k, frame)
		}
	}
}

func TestGroupSilencesFailingVoice(t *testing.T) {
	rep := newRecordingReporter()
	r, g := newTestGroup(t, 2, rep)
	if err := g.ActivateAt(0, r.Index()-64); err != nil {
		t.Fatal(err)
	}
	// Four readable samples cannot feed a 16-sample grain.
	if err := g.ActivateAt(1, r.Index()-4); err != nil {
		t.Fatal(err)
	}

	out, err := g.Step(16)
	if !errors.Is(err, ring.ErrRange) {
		t.Fatalf("error = %v, want ErrRange", err)
	}
	if out == nil || len(out) != 16 {
		t.Fatalf("output dropped with a failing voice: %d frames", len(out))
	}
	var left, right float64
	for _, frame := range out {
		left += math.Abs(frame[0])
		right += math.Abs(frame[1])
	}
	if left == 0 || right != 0 {
		t.Errorf("left=%v right=%v, want only the healthy voice", left, right)
	}
	if g.VoiceTap(1).Active() {
		t.Error("failing voice left active")
	}
	if rep.indicators[1] {
		t.Error("failing voice indicator still on")
	}
	if !g.VoiceTap(0).Active() {
		t.Error("healthy voice deactivated")
	}
}

func TestGroupReportsInvalidatedTap(t *testing.T) {
	r, g := newTestGroup(t, 1, nil)
	if err := g.ActivateAt(0, r.Index()-64); err != nil {
		t.Fatal(err)
	}
	// Overrun the voice's unread region.
	if _, err := r.Append(make([]float64, 100)); !errors.Is(err, ring.ErrTapInvalidated) {
		t.Fatalf("append error = %v, want ErrTapInvalidated", err)
	}
	if _, err := g.Step(8); !errors.Is(err, ring.ErrTapInvalidated) {
		t.Errorf("step error = %v, want ErrTapInvalidated", err)
	}
	if g.ActiveCount() != 0 {
		t.Error("invalidated voice left active")
	}
}

func TestCue(t *testing.T) {
	r, g := newTestGroup(t, 2, nil)
	// Transient at block 12 of 16, 32 samples behind the write head.
	slot := 12 * 8
	i, ok := g.Cue(slot)
	if !ok {
		t.Fatal("Cue failed on an idle pool")
	}
	if got := g.VoiceTap(i).Index(); got != slot-8 {
		t.Errorf("cued at %d, want %d", got, slot-8)
	}
	if _, ok := g.Cue(slot); !ok {
		t.Fatal("second Cue failed")
	}
	if _, ok := g.Cue(slot); ok {
		t.Error("Cue succeeded on a full pool")
	}
	if r.Len() != 128 {
		t.Fatal("ring length changed")
	}

	// Cue wraps below slot zero.
	_, g = newTestGroup(t, 1, nil)
	i, _ = g.Cue(4)
	if got := g.VoiceTap(i).Index(); got != 124 {
		t.Errorf("wrapped cue at %d, want 124", got)
	}
}

func TestGroupStepDoesNotAllocate(t *testing.T) {
	r, g := newTestGroup(t, 3, nil)
	g.Reserve(16)
	for i := range 3 {
		if err := g.ActivateAt(i, r.Index()-64); err != nil {
			t.Fatal(err)
		}
	}
	allocs := testing.AllocsPerRun(50, func() {
		for i := range 3 {
			_ = g.VoiceTap(i).SetIndex(r.IndexOf(-63))
		}
		if _, err := g.Step(16); err != nil {
			t.Fatal(err)
		}
	})
	if allocs != 0 {
		t.Errorf("Step allocated %v times per run, want 0", allocs)
	}
}
