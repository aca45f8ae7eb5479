// SPDX-License-Identifier: MIT

// Package analysis computes the spectrum of the stretched output for the
// network publishers.
package analysis

import (
	"fmt"
	"math/cmplx"
	"strings"
	"sync"
	"sync/atomic"

	applog "paulring/internal/log"
	"paulring/pkg/bitint"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// WindowFunc selects the taper applied before each transform.
type WindowFunc int

const (
	BartlettHann WindowFunc = iota
	Blackman
	BlackmanNuttall
	Hann
	Hamming
	Lanczos
	Nuttall
)

// tapers is indexed by WindowFunc. The gonum functions scale in place.
var tapers = [...]struct {
	name  string
	apply func([]float64) []float64
}{
	BartlettHann:    {"BartlettHann", window.BartlettHann},
	Blackman:        {"Blackman", window.Blackman},
	BlackmanNuttall: {"BlackmanNuttall", window.BlackmanNuttall},
	Hann:            {"Hann", window.Hann},
	Hamming:         {"Hamming", window.Hamming},
	Lanczos:         {"Lanczos", window.Lanczos},
	Nuttall:         {"Nuttall", window.Nuttall},
}

func (w WindowFunc) valid() bool { return w >= 0 && int(w) < len(tapers) }

func (w WindowFunc) String() string {
	if !w.valid() {
		return fmt.Sprintf("WindowFunc(%d)", int(w))
	}
	return tapers[w].name
}

// ParseWindowFunc looks a window up by name, ignoring case. Unknown names
// return Hann together with an error.
func ParseWindowFunc(name string) (WindowFunc, error) {
	if strings.EqualFold(name, "hanning") {
		return Hann, nil
	}
	for w, t := range tapers {
		if strings.EqualFold(name, t.name) {
			return WindowFunc(w), nil
		}
	}
	return Hann, fmt.Errorf("unknown FFT window function %q", name)
}

// taper returns n coefficients of w, falling back to Hann.
func taper(n int, w WindowFunc) []float64 {
	if !w.valid() {
		applog.Warnf("Analysis: Unknown window function %v, using Hann", w)
		w = Hann
	}
	coeffs := make([]float64, n)
	for i := range coeffs {
		coeffs[i] = 1
	}
	return tapers[w].apply(coeffs)
}

// FFTProcessor analyses the output mix on the audio thread and serves the
// latest magnitudes to readers on other goroutines.
//
// Thread Safety:
// - Process only try-locks; a block is skipped while a reader holds the lock
// - Readers copy out under a read lock
type FFTProcessor struct {
	fft        *fourier.FFT
	size       int
	sampleRate float64
	skipped    atomic.Uint64

	mu       sync.RWMutex // Guards mags; Process also holds it while using frame and spectrum.
	coeffs   []float64
	frame    []float64
	spectrum []complex128
	mags     []float64
}

var (
	_ AudioProcessor    = (*FFTProcessor)(nil)
	_ FFTResultProvider = (*FFTProcessor)(nil)
	_ ClosableProcessor = (*FFTProcessor)(nil)
)

// NewFFTProcessor creates a processor for size points (a power of two) at
// the given sample rate.
func NewFFTProcessor(size int, sampleRate float64, w WindowFunc) (*FFTProcessor, error) {
	if !bitint.IsPowerOfTwo(size) {
		return nil, fmt.Errorf("analysis: fft size %d is not a power of two", size)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("analysis: sample rate %v is not positive", sampleRate)
	}
	applog.Infof("Analysis: FFTProcessor size %d at %.1f Hz, %v window", size, sampleRate, w)

	bins := size/2 + 1
	return &FFTProcessor{
		fft:        fourier.NewFFT(size),
		size:       size,
		sampleRate: sampleRate,
		coeffs:     taper(size, w),
		frame:      make([]float64, size),
		spectrum:   make([]complex128, bins),
		mags:       make([]float64, bins),
	}, nil
}

// Process tapers the newest size samples of block, zero-padding a shorter
// block, and replaces the magnitudes.
func (p *FFTProcessor) Process(block []float64) {
	if !p.mu.TryLock() {
		p.skipped.Add(1)
		return
	}
	defer p.mu.Unlock()

	if len(block) > p.size {
		block = block[len(block)-p.size:]
	}
	clear(p.frame[copy(p.frame, block):])
	for i, c := range p.coeffs {
		p.frame[i] *= c
	}
	p.fft.Coefficients(p.spectrum, p.frame)
	for i, c := range p.spectrum {
		p.mags[i] = cmplx.Abs(c)
	}
}

// Skipped returns how many blocks were dropped under reader contention.
func (p *FFTProcessor) Skipped() uint64 { return p.skipped.Load() }

// GetMagnitudes returns a fresh copy of the latest magnitudes.
func (p *FFTProcessor) GetMagnitudes() []float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]float64(nil), p.mags...)
}

// GetMagnitudesInto copies the latest magnitudes into dest, which must hold
// exactly size/2 + 1 values.
func (p *FFTProcessor) GetMagnitudesInto(dest []float64) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(dest) != len(p.mags) {
		return fmt.Errorf("analysis: destination holds %d bins, need %d", len(dest), len(p.mags))
	}
	copy(dest, p.mags)
	return nil
}

// GetFrequencyForBin returns the centre frequency of bin in Hz, or 0 when
// bin is out of range.
func (p *FFTProcessor) GetFrequencyForBin(bin int) float64 {
	if bin < 0 || bin >= len(p.mags) {
		return 0
	}
	return float64(bin) * p.sampleRate / float64(p.size)
}

func (p *FFTProcessor) GetFFTSize() int { return p.size }

func (p *FFTProcessor) GetSampleRate() float64 { return p.sampleRate }

func (p *FFTProcessor) Close() error {
	applog.Debugf("Analysis: FFTProcessor closed, %d blocks skipped", p.skipped.Load())
	return nil
}
