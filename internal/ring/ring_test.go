// SPDX-License-Identifier: MIT
package ring

import (
	"errors"
	"runtime"
	"slices"
	"testing"
)

func arange(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i)
	}
	return out
}

func mustRing(t testing.TB, n int) *Ring {
	t.Helper()
	r, err := New(n)
	if err != nil {
		t.Fatalf("New(%d): %v", n, err)
	}
	return r
}

func mustAppend(t testing.TB, r *Ring, items []float64) {
	t.Helper()
	if err := r.Append(items); err != nil {
		t.Fatalf("Append(%v): %v", items, err)
	}
}

func TestNewRejectsNonPositiveLength(t *testing.T) {
	for _, n := range []int{0, -1} {
		if _, err := New(n); !errors.Is(err, ErrConfiguration) {
			t.Errorf("New(%d) error = %v, want ErrConfiguration", n, err)
		}
	}
}

func TestAppendWraps(t *testing.T) {
	r := mustRing(t, 4)

	steps := []struct {
		items []float64
		want  []float64
	}{
		{[]float64{1, 2}, []float64{1, 2, 0, 0}},
		{[]float64{3, 4}, []float64{1, 2, 3, 4}},
		{[]float64{5}, []float64{5, 2, 3, 4}},
		{[]float64{6, 7}, []float64{5, 6, 7, 4}},
		{[]float64{8, 9}, []float64{9, 6, 7, 8}},
		{[]float64{10, 11}, []float64{9, 10, 11, 8}},
	}
	for i, step := range steps {
		mustAppend(t, r, step.items)
		if !slices.Equal(r.Raw(), step.want) {
			t.Fatalf("step %d: raw = %v, want %v", i, r.Raw(), step.want)
		}
	}
}

func TestAppendCapacity(t *testing.T) {
	r := mustRing(t, 4)
	mustAppend(t, r, []float64{1})
	if err := r.Append(arange(5)); !errors.Is(err, ErrCapacity) {
		t.Fatalf("Append(5) error = %v, want ErrCapacity", err)
	}
	if r.Index() != 1 || r.Raw()[1] != 0 {
		t.Errorf("oversized append modified the ring: index=%d raw=%v", r.Index(), r.Raw())
	}
}

func TestIndexOfAndAt(t *testing.T) {
	r := mustRing(t, 4)
	mustAppend(t, r, []float64{0, 1, 2, 3})
	if r.At(0) != 3 || r.At(-1) != 2 {
		t.Errorf("At(0), At(-1) = %v, %v, want 3, 2", r.At(0), r.At(-1))
	}
	mustAppend(t, r, []float64{4})
	if !slices.Equal(r.Raw(), []float64{4, 1, 2, 3}) {
		t.Errorf("raw = %v", r.Raw())
	}
	if r.At(0) != 4 || r.At(-1) != 3 {
		t.Errorf("At(0), At(-1) = %v, %v, want 4, 3", r.At(0), r.At(-1))
	}
	if got := r.IndexOf(0); got != 0 {
		t.Errorf("IndexOf(0) = %d, want 0", got)
	}
	if got := r.IndexOf(-1); got != 3 {
		t.Errorf("IndexOf(-1) = %d, want 3", got)
	}
}

func TestRecent(t *testing.T) {
	r := mustRing(t, 4)
	mustAppend(t, r, []float64{0, 1, 2, 3})
	mustAppend(t, r, []float64{4})

	tests := []struct {
		size int
		want []float64
	}{
		{0, []float64{}},
		{1, []float64{4}},
		{2, []float64{3, 4}},
		{4, []float64{1, 2, 3, 4}},
	}
	for _, tt := range tests {
		got, err := r.Recent(tt.size)
		if err != nil {
			t.Fatalf("Recent(%d): %v", tt.size, err)
		}
		if !slices.Equal(got, tt.want) {
			t.Errorf("Recent(%d) = %v, want %v", tt.size, got, tt.want)
		}
	}

	mustAppend(t, r, []float64{5})
	got, _ := r.Recent(3)
	if !slices.Equal(got, []float64{3, 4, 5}) {
		t.Errorf("Recent(3) after wrap = %v, want [3 4 5]", got)
	}
	if _, err := r.Recent(5); !errors.Is(err, ErrRange) {
		t.Errorf("Recent(5) error = %v, want ErrRange", err)
	}
}

func TestRecentReturnsLastSamplesWithoutWrap(t *testing.T) {
	const n = 64
	for total := 1; total <= n; total += 7 {
		r := mustRing(t, n)
		data := arange(total)
		for start := 0; start < total; start += 5 {
			mustAppend(t, r, data[start:min(start+5, total)])
		}
		for k := 0; k <= total; k++ {
			got, err := r.Recent(k)
			if err != nil {
				t.Fatalf("Recent(%d): %v", k, err)
			}
			if !slices.Equal(got, data[total-k:]) {
				t.Fatalf("total=%d Recent(%d) = %v, want %v", total, k, got, data[total-k:])
			}
		}
	}
}

func TestRewind(t *testing.T) {
	r := mustRing(t, 5)
	mustAppend(t, r, arange(2))
	if r.Index() != 2 {
		t.Fatalf("index = %d, want 2", r.Index())
	}
	r.Rewind(1)
	if r.Index() != 1 {
		t.Errorf("after Rewind(1) index = %d, want 1", r.Index())
	}
	r.Rewind(3)
	if r.Index() != 3 {
		t.Errorf("after Rewind(3) index = %d, want 3", r.Index())
	}
	if !slices.Equal(r.Raw(), []float64{0, 1, 0, 0, 0}) {
		t.Errorf("rewind changed content: %v", r.Raw())
	}
}

func TestTapFollowsRing(t *testing.T) {
	r := mustRing(t, 8)
	p := r.CreateTap()

	if got := p.ValidBufferLength(); got != 1 {
		t.Fatalf("fresh tap valid buffer length = %d, want 1", got)
	}
	mustAppend(t, r, arange(4))
	if got := p.ValidBufferLength(); got != 5 {
		t.Fatalf("valid buffer length = %d, want 5", got)
	}
	if err := p.Advance(1); err != nil {
		t.Fatal(err)
	}
	if got := p.ValidBufferLength(); got != 4 {
		t.Fatalf("valid buffer length = %d, want 4", got)
	}
	if p.Index() != 0 {
		t.Fatalf("index = %d, want 0", p.Index())
	}

	got, err := p.GetSamples(4)
	if err != nil || !slices.Equal(got, []float64{0, 1, 2, 3}) {
		t.Fatalf("GetSamples(4) = %v, %v", got, err)
	}
	if err := p.Advance(2); err != nil {
		t.Fatal(err)
	}
	got, _ = p.GetSamples(2)
	if !slices.Equal(got, []float64{2, 3}) {
		t.Fatalf("GetSamples(2) = %v, want [2 3]", got)
	}

	mustAppend(t, r, []float64{4, 5, 6, 7, 8})
	if err := p.Advance(4); err != nil {
		t.Fatal(err)
	}
	got, _ = p.GetSamples(2)
	if !slices.Equal(got, []float64{6, 7}) {
		t.Fatalf("GetSamples(2) = %v, want [6 7]", got)
	}
	got, _ = p.GetSamples(3)
	if !slices.Equal(got, []float64{6, 7, 8}) {
		t.Fatalf("GetSamples(3) across the wrap = %v, want [6 7 8]", got)
	}
	if err := p.Advance(2); err != nil {
		t.Fatal(err)
	}
	if !p.Valid() || r.Raw()[p.Index()] != 8 {
		t.Errorf("valid=%v raw[index]=%v, want true, 8", p.Valid(), r.Raw()[p.Index()])
	}
	if p.SamplesElapsed() != 9 {
		t.Errorf("samples elapsed = %d, want 9", p.SamplesElapsed())
	}
}

func TestTapInvalidatedByAppend(t *testing.T) {
	r := mustRing(t, 8)
	mustAppend(t, r, arange(8))
	p := r.CreateTap()
	if got, _ := p.GetSamples(1); got[0] != 7 {
		t.Fatalf("tap reads %v, want 7", got)
	}

	// Exactly exhausts the margin.
	mustAppend(t, r, arange(7))
	if !p.Valid() {
		t.Fatal("tap invalidated while margin remained")
	}

	err := r.Append([]float64{99})
	var inv *InvalidationError
	if !errors.As(err, &inv) || !errors.Is(err, ErrTapInvalidated) {
		t.Fatalf("Append error = %v, want InvalidationError", err)
	}
	if !slices.Equal(inv.Taps, []string{p.Name()}) {
		t.Errorf("invalidated taps = %v, want [%s]", inv.Taps, p.Name())
	}
	if p.Valid() {
		t.Error("tap still valid after overrun")
	}
	if r.At(0) != 99 {
		t.Errorf("append did not complete: last sample = %v", r.At(0))
	}

	// An invalid tap is reported once.
	if err := r.Append([]float64{100}); err != nil {
		t.Errorf("second append error = %v, want nil", err)
	}
}

func TestInvalidationIsPerTap(t *testing.T) {
	r := mustRing(t, 8)
	mustAppend(t, r, arange(8))
	stale := r.CreateTap()
	fresh := r.CreateTap()
	mustAppend(t, r, arange(4))
	if err := fresh.SetIndex(r.IndexOf(0)); err != nil {
		t.Fatal(err)
	}

	err := r.Append(arange(4))
	var inv *InvalidationError
	if !errors.As(err, &inv) {
		t.Fatalf("Append error = %v, want InvalidationError", err)
	}
	if !slices.Equal(inv.Taps, []string{stale.Name()}) {
		t.Errorf("invalidated = %v, want only %s", inv.Taps, stale.Name())
	}
	if !fresh.Valid() {
		t.Error("unaffected tap was invalidated")
	}
}

func TestInactiveTapsAreNotChecked(t *testing.T) {
	r := mustRing(t, 4)
	p := r.CreateTap()
	if err := p.Deactivate(); err != nil {
		t.Fatal(err)
	}
	if len(r.ActiveTaps()) != 0 || len(r.InactiveTaps()) != 1 {
		t.Fatalf("partition = %d active, %d inactive", len(r.ActiveTaps()), len(r.InactiveTaps()))
	}
	if err := r.Append(arange(4)); err != nil {
		t.Fatalf("append with inactive tap: %v", err)
	}
	if !p.Valid() {
		t.Error("inactive tap was invalidated")
	}
	if err := p.Activate(); err != nil {
		t.Fatal(err)
	}
	if err := p.Activate(); err != nil {
		t.Fatal(err)
	}
	if len(r.ActiveTaps()) != 1 || len(r.InactiveTaps()) != 0 {
		t.Errorf("partition after activate = %d active, %d inactive", len(r.ActiveTaps()), len(r.InactiveTaps()))
	}
}

func TestAdvancePastWriteHeadInvalidates(t *testing.T) {
	r := mustRing(t, 8)
	p := r.CreateTap()
	if err := p.Advance(2); !errors.Is(err, ErrRange) {
		t.Fatalf("Advance(2) error = %v, want ErrRange", err)
	}
	if p.Valid() {
		t.Error("tap valid after advancing past the write head")
	}

	q := r.CreateTap()
	if err := q.Advance(9); !errors.Is(err, ErrRange) || q.Valid() {
		t.Errorf("Advance(9) error = %v valid=%v, want ErrRange and invalid", err, q.Valid())
	}
}

func TestNegativeAdvanceIsRejected(t *testing.T) {
	r := mustRing(t, 8)
	mustAppend(t, r, arange(8))
	p := r.CreateTap()
	if err := p.SetIndex(3); err != nil {
		t.Fatal(err)
	}
	if err := p.Advance(-5); !errors.Is(err, ErrRange) {
		t.Fatalf("Advance(-5) error = %v, want ErrRange", err)
	}
	if p.Index() != 3 || !p.Valid() {
		t.Errorf("after Advance(-5): index %d valid %v, want 3 and valid", p.Index(), p.Valid())
	}
	if _, err := p.GetSamples(p.ValidBufferLength()); err != nil {
		t.Errorf("GetSamples after a rejected advance: %v", err)
	}
}

func TestValidBufferLengthTracksAdvanceAndAppend(t *testing.T) {
	r := mustRing(t, 32)
	p := r.CreateTap()
	mustAppend(t, r, arange(20))

	before := p.ValidBufferLength()
	for _, amount := range []int{3, 5, 1} {
		if err := p.Advance(amount); err != nil {
			t.Fatal(err)
		}
		if got := p.ValidBufferLength(); got != before-amount {
			t.Fatalf("after Advance(%d) vbl = %d, want %d", amount, got, before-amount)
		}
		before -= amount
	}
	for _, count := range []int{4, 7, 2} {
		mustAppend(t, r, arange(count))
		if got := p.ValidBufferLength(); got != before+count {
			t.Fatalf("after Append(%d) vbl = %d, want %d", count, got, before+count)
		}
		before += count
	}
	if got := p.ValidRingSpace(); got != r.Len()-before {
		t.Errorf("valid ring space = %d, want %d", got, r.Len()-before)
	}
}

func TestGetSamplesRange(t *testing.T) {
	r := mustRing(t, 8)
	p := r.CreateTap()
	mustAppend(t, r, arange(3))
	if _, err := p.GetSamples(5); !errors.Is(err, ErrRange) {
		t.Errorf("GetSamples(5) error = %v, want ErrRange", err)
	}
	if _, err := p.GetSamples(-1); !errors.Is(err, ErrRange) {
		t.Errorf("GetSamples(-1) error = %v, want ErrRange", err)
	}
}

func TestSetIndexRevalidates(t *testing.T) {
	r := mustRing(t, 8)
	p := r.CreateTap()
	_ = p.Advance(5)
	if p.Valid() {
		t.Fatal("expected invalid tap")
	}
	if err := p.SetIndex(3); err != nil {
		t.Fatal(err)
	}
	if !p.Valid() || p.Index() != 3 || p.SamplesElapsed() != 0 {
		t.Errorf("after SetIndex: valid=%v index=%d elapsed=%d", p.Valid(), p.Index(), p.SamplesElapsed())
	}
	if err := p.SetIndex(8); !errors.Is(err, ErrRange) {
		t.Errorf("SetIndex(8) error = %v, want ErrRange", err)
	}
}

func TestTapNamesAreUnique(t *testing.T) {
	r := mustRing(t, 8)
	seen := map[string]bool{}
	for range 5 {
		name := r.CreateTap().Name()
		if seen[name] {
			t.Fatalf("duplicate tap name %q", name)
		}
		seen[name] = true
	}
}

func TestClosedOwner(t *testing.T) {
	r := mustRing(t, 8)
	p := r.CreateTap()
	r.Close()

	if _, err := p.GetSamples(1); !errors.Is(err, ErrOwnerGone) {
		t.Errorf("GetSamples error = %v, want ErrOwnerGone", err)
	}
	if err := p.Advance(0); !errors.Is(err, ErrOwnerGone) {
		t.Errorf("Advance error = %v, want ErrOwnerGone", err)
	}
	if err := p.SetIndex(0); !errors.Is(err, ErrOwnerGone) {
		t.Errorf("SetIndex error = %v, want ErrOwnerGone", err)
	}
	if err := p.Activate(); !errors.Is(err, ErrOwnerGone) {
		t.Errorf("Activate error = %v, want ErrOwnerGone", err)
	}
}

func TestCollectedOwner(t *testing.T) {
	p := func() *Tap {
		r := mustRing(t, 1024)
		return r.CreateTap()
	}()
	runtime.GC()

	if _, err := p.GetSamples(1); !errors.Is(err, ErrOwnerGone) {
		t.Errorf("GetSamples after collection error = %v, want ErrOwnerGone", err)
	}
}

// TestAppendHotPath verifies Append and tap reads do not allocate while no
// tap is invalidated.
func TestAppendHotPath(t *testing.T) {
	r := mustRing(t, 4096)
	p := r.CreateTap()
	block := arange(256)
	dst := make([]float64, 128)

	allocs := testing.AllocsPerRun(100, func() {
		_ = r.Append(block)
		_ = p.GetSamplesInto(dst)
		_ = p.Advance(256)
		_ = r.RecentInto(dst)
	})
	if allocs > 0 {
		t.Errorf("Expected zero allocations in ring hot path, got %.1f", allocs)
	}
}

func BenchmarkAppend(b *testing.B) {
	r := mustRing(b, 1<<20)
	for range 4 {
		r.CreateTap()
	}
	block := arange(8192)

	b.ReportAllocs()
	for b.Loop() {
		_ = r.Append(block)
	}
}
