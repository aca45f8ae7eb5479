// SPDX-License-Identifier: MIT
package ring

import (
	"errors"
	"strings"
)

var (
	// ErrConfiguration reports an invalid buffer length, block layout or window size.
	ErrConfiguration = errors.New("ring: invalid configuration")

	// ErrRange reports an out-of-range index, an oversized read or an advance past the write head.
	ErrRange = errors.New("ring: out of range")

	// ErrCapacity reports an append larger than the ring. Nothing is written.
	ErrCapacity = errors.New("ring: append exceeds capacity")

	// ErrTapInvalidated reports an active tap whose unread samples were overwritten.
	ErrTapInvalidated = errors.New("ring: tap invalidated")

	// ErrOwnerGone reports a tap used after its ring was closed or collected.
	ErrOwnerGone = errors.New("ring: owner gone")
)

// InvalidationError is returned by Append when the write overran one or more
// active taps. The append itself has completed.
type InvalidationError struct {
	Taps []string
}

func (e *InvalidationError) Error() string {
	return "ring: tap invalidated: " + strings.Join(e.Taps, ", ")
}

// Is lets errors.Is(err, ErrTapInvalidated) match.
func (e *InvalidationError) Is(target error) bool {
	return target == ErrTapInvalidated
}
