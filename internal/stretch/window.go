// SPDX-License-Identifier: MIT
/*
Package stretch implements Paulstretch-style time stretching on top of the
ring package: each voice pulls a window of samples from a tap, randomizes
the phase of its spectrum and overlap-adds the resulting grain into a
private scratch ring.

Real-Time Safety:
- Stretcher.Step and Group.Step do not allocate once the window size and
  block size have been seen (workspaces are created at construction for the
  configured window size).
- Nothing here locks, except the WindowCache on a miss.
*/
package stretch

import (
	"fmt"
	"math"

	"paulring/internal/ring"
	"paulring/pkg/bitint"

	"gonum.org/v1/gonum/dsp/window"
)

// hinv is the tremolo compensation midpoint from paulstretch.
var hinv = (1 + math.Sqrt(0.5)) * 0.5

// Window holds the precomputed curves for one grain size. It is immutable
// after construction and safe to share between voices.
type Window struct {
	size int
	half int

	hann          []float64 // Raised cosine over the full grain.
	tremolo       []float64 // Half-length compensation curve.
	open          []float64 // Rising half of hann, then ones.
	close         []float64 // Falling half of hann.
	doubleTremolo []float64 // tremolo twice over.
}

// NewWindow precomputes the curves for a grain of size samples. The size
// must be a power of two no smaller than 2.
func NewWindow(size int) (*Window, error) {
	if size < 2 || !bitint.IsPowerOfTwo(size) {
		return nil, fmt.Errorf("%w: window size must be a power of two >= 2, got %d", ring.ErrConfiguration, size)
	}
	half := size / 2

	hann := make([]float64, size)
	for i := range hann {
		hann[i] = 1
	}
	window.Hann(hann)

	tremolo := make([]float64, half)
	for i := range tremolo {
		tremolo[i] = hinv - (1-hinv)*math.Cos(2*math.Pi*float64(i)/float64(half))
	}

	open := make([]float64, size)
	copy(open, hann[:half])
	for i := half; i < size; i++ {
		open[i] = 1
	}

	closing := make([]float64, half)
	copy(closing, hann[half:])

	double := make([]float64, size)
	copy(double, tremolo)
	copy(double[half:], tremolo)

	return &Window{
		size:          size,
		half:          half,
		hann:          hann,
		tremolo:       tremolo,
		open:          open,
		close:         closing,
		doubleTremolo: double,
	}, nil
}

// Size returns the grain length.
func (w *Window) Size() int { return w.size }

// Half returns the number of output samples one step produces.
func (w *Window) Half() int { return w.half }

// Hann returns the analysis window. Callers must not modify it.
func (w *Window) Hann() []float64 { return w.hann }

// Tremolo returns the half-length compensation curve.
func (w *Window) Tremolo() []float64 { return w.tremolo }

// Open returns the window applied to a fresh grain.
func (w *Window) Open() []float64 { return w.open }

// Close returns the window applied to the previous grain's open tail.
func (w *Window) Close() []float64 { return w.close }

// DoubleTremolo returns the compensation curve repeated over the grain.
func (w *Window) DoubleTremolo() []float64 { return w.doubleTremolo }

// Hopsize returns how far the input tap moves per grain for a stretch
// amount: floor(size*0.5/amount).
func (w *Window) Hopsize(amount float64) int {
	return int(math.Floor(float64(w.size) * 0.5 / amount))
}
