// SPDX-License-Identifier: MIT
/*
Package ring implements the bounded circular sample buffer used by the
stretch engine, together with the read cursors (taps) that follow it.

Ownership:
- A Ring exclusively owns its sample content and is written by one goroutine.
- A Tap holds a weak reference to its Ring and never keeps it alive.
- Every tap operation checks the owner first and fails with ErrOwnerGone.

Real-Time Safety:
- Append, Recent(Into), Tap.Advance and Tap.GetSamplesInto are O(1) in the
  buffer length (plus O(taps) for the invalidation scan) and do not allocate
  unless a tap is invalidated.
- There are no locks. All mutation happens on the audio thread.
*/
package ring

import (
	"fmt"
	"strconv"
	"weak"
)

// Ring is a fixed-capacity circular buffer of samples with a single writer.
type Ring struct {
	content []float64
	length  int
	index   int // Next slot to be written, not the last written slot.

	active   []*Tap
	inactive []*Tap
	nextTap  int
	closed   bool

	self   weak.Pointer[Ring]
	broken []*Tap // Scratch for the invalidation scan.
}

// New creates a ring of the given length. The length must be positive.
func New(length int) (*Ring, error) {
	if length <= 0 {
		return nil, fmt.Errorf("%w: ring length must be positive, got %d", ErrConfiguration, length)
	}
	r := &Ring{
		content: make([]float64, length),
		length:  length,
	}
	r.self = weak.Make(r)
	return r, nil
}

// Len returns the capacity of the ring, fixed for its lifetime.
func (r *Ring) Len() int {
	return r.length
}

// Index returns the slot the next sample will be written to.
func (r *Ring) Index() int {
	return r.index
}

// Raw returns the underlying content. Callers must treat it as read-only.
func (r *Ring) Raw() []float64 {
	return r.content
}

// IndexOf returns the absolute slot of a sample relative to the most
// recently appended one: 0 is the last sample, -1 the one before it.
func (r *Ring) IndexOf(i int) int {
	return mod(r.index+i-1, r.length)
}

// At returns the sample at IndexOf(i).
func (r *Ring) At(i int) float64 {
	return r.content[r.IndexOf(i)]
}

// Recent returns a copy of the size most recently appended samples in
// chronological order.
func (r *Ring) Recent(size int) ([]float64, error) {
	if size < 0 || size > r.length {
		return nil, fmt.Errorf("%w: recent(%d) on ring of length %d", ErrRange, size, r.length)
	}
	dst := make([]float64, size)
	r.recentInto(dst)
	return dst, nil
}

// RecentInto fills dst with the len(dst) most recent samples in
// chronological order without allocating.
func (r *Ring) RecentInto(dst []float64) error {
	if len(dst) > r.length {
		return fmt.Errorf("%w: recent(%d) on ring of length %d", ErrRange, len(dst), r.length)
	}
	r.recentInto(dst)
	return nil
}

func (r *Ring) recentInto(dst []float64) {
	size := len(dst)
	if size <= r.index {
		copy(dst, r.content[r.index-size:r.index])
		return
	}
	// Wraps: the oldest part sits at the end of the content.
	head := size - r.index
	copy(dst, r.content[r.length-head:])
	copy(dst[head:], r.content[:r.index])
}

// Append writes items at the write cursor, wrapping at the end of the
// content. Active taps whose unread region would be overwritten are marked
// invalid and reported through an *InvalidationError, but the write always
// completes. Appending more than Len samples fails with ErrCapacity and
// writes nothing.
func (r *Ring) Append(items []float64) error {
	count := len(items)
	if count > r.length {
		return fmt.Errorf("%w: cannot append %d samples to ring of length %d", ErrCapacity, count, r.length)
	}

	// Margins are measured against the pre-append cursor.
	r.broken = r.broken[:0]
	for _, tap := range r.active {
		if tap.valid && tap.ValidRingSpace() < count {
			r.broken = append(r.broken, tap)
		}
	}

	r.write(items)

	if len(r.broken) == 0 {
		return nil
	}
	names := make([]string, len(r.broken))
	for i, tap := range r.broken {
		tap.valid = false
		names[i] = tap.name
	}
	return &InvalidationError{Taps: names}
}

func (r *Ring) write(items []float64) {
	count := len(items)
	if r.index+count <= r.length {
		copy(r.content[r.index:], items)
	} else {
		// Space remaining before the end of the content.
		first := r.length - r.index
		copy(r.content[r.index:], items[:first])
		copy(r.content, items[first:])
	}
	r.index = (r.index + count) % r.length
}

// Rewind moves the write cursor back without erasing content, reopening the
// tail for in-place correction before the next append.
func (r *Ring) Rewind(amount int) {
	r.index = mod(r.index-amount, r.length)
}

// Clear zeroes the content and leaves the cursor where it is.
func (r *Ring) Clear() {
	clear(r.content)
}

// CreateTap seeds a tap at the last written slot and registers it active.
func (r *Ring) CreateTap() *Tap {
	t := &Tap{
		owner:  r.self,
		index:  r.IndexOf(0),
		valid:  true,
		active: true,
		name:   "tap" + strconv.Itoa(r.nextTap),
	}
	r.nextTap++
	// Reserve room so that activation never reallocates on the audio thread.
	r.active = reserve(r.active, r.nextTap)
	r.inactive = reserve(r.inactive, r.nextTap)
	r.broken = reserve(r.broken, r.nextTap)
	r.active = append(r.active, t)
	return t
}

// ActiveTaps returns the taps checked on every append.
func (r *Ring) ActiveTaps() []*Tap {
	return r.active
}

// InactiveTaps returns the taps ignored by the append check.
func (r *Ring) InactiveTaps() []*Tap {
	return r.inactive
}

// Close detaches the ring from its taps. Later tap operations fail with
// ErrOwnerGone.
func (r *Ring) Close() {
	r.closed = true
}

func (r *Ring) setActive(t *Tap, active bool) {
	if t.active == active {
		return
	}
	if active {
		r.inactive = remove(r.inactive, t)
		r.active = append(r.active, t)
	} else {
		r.active = remove(r.active, t)
		r.inactive = append(r.inactive, t)
	}
	t.active = active
}

func reserve(taps []*Tap, n int) []*Tap {
	if cap(taps) >= n {
		return taps
	}
	grown := make([]*Tap, len(taps), n*2)
	copy(grown, taps)
	return grown
}

func remove(taps []*Tap, t *Tap) []*Tap {
	for i, candidate := range taps {
		if candidate == t {
			copy(taps[i:], taps[i+1:])
			taps[len(taps)-1] = nil
			return taps[:len(taps)-1]
		}
	}
	return taps
}

// mod is the non-negative remainder.
func mod(a, n int) int {
	m := a % n
	if m < 0 {
		m += n
	}
	return m
}
