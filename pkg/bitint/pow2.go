// SPDX-License-Identifier: MIT
//
// Package bitint holds the power-of-two helpers used to size grains, FFTs
// and buffers. Every function is allocation free and safe on the audio
// thread.
package bitint

import "math/bits"

// NextPowerOfTwo returns the smallest power of two >= size, and 1 for
// size <= 0. Subtracting one first keeps exact powers of two unchanged:
// bits.Len(7) is 3 and 1<<3 is 8, where bits.Len(8) would give 16.
//
//	Input  Output
//	4      4
//	5      8
//	0      1
func NextPowerOfTwo(size int) int {
	if size <= 0 {
		return 1
	}
	return 1 << bits.Len(uint(size-1))
}

// IsPowerOfTwo reports whether n is a positive power of two. A power of two
// has one bit set, so clearing its lowest set bit with n&(n-1) leaves zero.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
