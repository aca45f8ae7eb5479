// SPDX-License-Identifier: MIT
package ring

import (
	"fmt"
	"weak"
)

// Tap is an independent read cursor into a Ring. It tracks how much of the
// ring it may still read before reaching stale data, and it is invalidated
// when the writer overruns it.
type Tap struct {
	owner weak.Pointer[Ring]

	index          int // Absolute slot of the next sample to read.
	valid          bool
	active         bool
	name           string
	samplesElapsed int
}

// ring resolves the owner, failing once the ring is closed or collected.
func (t *Tap) ring() (*Ring, error) {
	r := t.owner.Value()
	if r == nil || r.closed {
		return nil, fmt.Errorf("%w: %s", ErrOwnerGone, t.name)
	}
	return r, nil
}

// Name returns the tap name, unique within its ring.
func (t *Tap) Name() string {
	return t.name
}

// Index returns the absolute slot of the cursor.
func (t *Tap) Index() int {
	return t.index
}

// Valid reports whether the tap still points at unoverwritten data.
func (t *Tap) Valid() bool {
	return t.valid
}

// Active reports whether the ring checks this tap on append.
func (t *Tap) Active() bool {
	return t.active
}

// SamplesElapsed returns the samples advanced since the last SetIndex.
func (t *Tap) SamplesElapsed() int {
	return t.samplesElapsed
}

// SetIndex repositions the cursor to an absolute slot and revalidates the
// tap. This is the re-cue mechanism.
func (t *Tap) SetIndex(i int) error {
	r, err := t.ring()
	if err != nil {
		return err
	}
	if i < 0 || i >= r.length {
		return fmt.Errorf("%w: index %d outside ring of length %d", ErrRange, i, r.length)
	}
	t.index = i
	t.valid = true
	t.samplesElapsed = 0
	return nil
}

// Advance moves the cursor forward by amount samples. Advancing by more than
// the ring length, or onto or past the write head, invalidates the tap.
func (t *Tap) Advance(amount int) error {
	r, err := t.ring()
	if err != nil {
		return err
	}
	if amount < 0 {
		return fmt.Errorf("%w: %s cannot advance by %d", ErrRange, t.name, amount)
	}
	if amount > r.length {
		t.valid = false
		return fmt.Errorf("%w: %s advance %d larger than ring length %d", ErrRange, t.name, amount, r.length)
	}
	if vbl := t.validBufferLength(r); amount >= vbl {
		t.valid = false
		return fmt.Errorf("%w: %s advance %d exceeds valid buffer length %d", ErrRange, t.name, amount, vbl)
	}
	t.index = mod(t.index+amount, r.length)
	t.samplesElapsed += amount
	return nil
}

// ValidBufferLength returns how many samples from the cursor are safe to
// read. A dead owner reports zero.
func (t *Tap) ValidBufferLength() int {
	r, err := t.ring()
	if err != nil {
		return 0
	}
	return t.validBufferLength(r)
}

func (t *Tap) validBufferLength(r *Ring) int {
	last := r.IndexOf(0)
	if t.index <= last {
		return last - t.index + 1
	}
	return last + r.length - t.index + 1
}

// ValidRingSpace returns how many samples may be appended to the ring
// without invalidating this tap.
func (t *Tap) ValidRingSpace() int {
	r, err := t.ring()
	if err != nil {
		return 0
	}
	return r.length - t.validBufferLength(r)
}

// GetSamples returns a copy of n consecutive samples from the cursor.
func (t *Tap) GetSamples(n int) ([]float64, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: %s get_samples(%d)", ErrRange, t.name, n)
	}
	dst := make([]float64, n)
	if err := t.GetSamplesInto(dst); err != nil {
		return nil, err
	}
	return dst, nil
}

// GetSamplesInto fills dst with len(dst) consecutive samples from the
// cursor, concatenating across the wrap boundary.
func (t *Tap) GetSamplesInto(dst []float64) error {
	r, err := t.ring()
	if err != nil {
		return err
	}
	n := len(dst)
	if vbl := t.validBufferLength(r); n > vbl {
		return fmt.Errorf("%w: %s get_samples(%d) exceeds valid buffer length %d", ErrRange, t.name, n, vbl)
	}
	copied := copy(dst, r.content[t.index:])
	if copied < n {
		copy(dst[copied:], r.content[:n-copied])
	}
	return nil
}

// Activate moves the tap into the ring's active partition.
func (t *Tap) Activate() error {
	r, err := t.ring()
	if err != nil {
		return err
	}
	r.setActive(t, true)
	return nil
}

// Deactivate moves the tap into the inactive partition. Inactive taps are
// not checked on append.
func (t *Tap) Deactivate() error {
	r, err := t.ring()
	if err != nil {
		return err
	}
	r.setActive(t, false)
	return nil
}
