// SPDX-License-Identifier: MIT
package stretch

import (
	"fmt"
	"math"
	"math/cmplx"
	"math/rand/v2"

	"paulring/internal/ring"
	"paulring/pkg/bitint"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	// DefaultStretchAmount is the stretch factor of a new voice.
	DefaultStretchAmount = 4.0

	// DefaultMaxWindowSize bounds the grain size a Stretcher accepts.
	DefaultMaxWindowSize = 1 << 15
)

// Options configures a Stretcher. Zero values select the defaults.
type Options struct {
	WindowSize    int     // Grain size to preallocate a workspace for.
	MaxWindowSize int     // Largest grain size Step accepts.
	StretchAmount float64 // Initial stretch factor.
	Gain          float64 // Output gain applied before clipping.
	Seed          uint64  // Phase randomizer seed; zero picks a random seed.

	keepPhase bool // Skip phase randomization.
}

func (o Options) withDefaults() Options {
	if o.MaxWindowSize == 0 {
		o.MaxWindowSize = DefaultMaxWindowSize
	}
	if o.WindowSize == 0 {
		o.WindowSize = o.MaxWindowSize
	}
	if o.StretchAmount == 0 {
		o.StretchAmount = DefaultStretchAmount
	}
	if o.Gain == 0 {
		o.Gain = 1
	}
	if o.Seed == 0 {
		o.Seed = rand.Uint64()
	}
	return o
}

// Pre-allocated buffers for one grain size.
type workspace struct {
	fft    *fourier.FFT
	input  []float64    // Windowed input samples.
	coeffs []complex128 // Spectrum, size/2 + 1 bins.
	grain  []float64    // Resynthesized grain.
	tail   []float64    // Open tail of the previous grain.
}

func newWorkspace(size int) *workspace {
	return &workspace{
		fft:    fourier.NewFFT(size),
		input:  make([]float64, size),
		coeffs: make([]complex128, size/2+1),
		grain:  make([]float64, size),
		tail:   make([]float64, size/2),
	}
}

// Stretcher produces a time-stretched signal from one input tap. Each Step
// emits half a grain and moves the tap forward by the hop size, so the tap
// advances slower than the output by the stretch amount.
type Stretcher struct {
	tap     *ring.Tap
	cache   *WindowCache
	scratch *ring.Ring // Overlap-add buffer, twice the largest grain.

	maxWindow int
	amount    float64
	gain      float64
	fadingOut bool
	keepPhase bool
	rng       *rand.Rand

	last       *Window
	workspaces map[int]*workspace
	out        []float64
}

// NewStretcher binds a Stretcher to tap. Curves come from cache.
func NewStretcher(tap *ring.Tap, cache *WindowCache, opts Options) (*Stretcher, error) {
	opts = opts.withDefaults()
	if !bitint.IsPowerOfTwo(opts.MaxWindowSize) {
		return nil, fmt.Errorf("%w: max window size must be a power of two, got %d", ring.ErrConfiguration, opts.MaxWindowSize)
	}
	if opts.WindowSize > opts.MaxWindowSize {
		return nil, fmt.Errorf("%w: window size %d exceeds max %d", ring.ErrConfiguration, opts.WindowSize, opts.MaxWindowSize)
	}
	if opts.StretchAmount < 0 {
		return nil, fmt.Errorf("%w: stretch amount must be positive, got %v", ring.ErrConfiguration, opts.StretchAmount)
	}
	w, err := cache.Window(opts.WindowSize)
	if err != nil {
		return nil, err
	}
	scratch, err := ring.New(2 * opts.MaxWindowSize)
	if err != nil {
		return nil, err
	}
	return &Stretcher{
		tap:        tap,
		cache:      cache,
		scratch:    scratch,
		maxWindow:  opts.MaxWindowSize,
		amount:     opts.StretchAmount,
		gain:       opts.Gain,
		keepPhase:  opts.keepPhase,
		rng:        rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
		last:       w,
		workspaces: map[int]*workspace{w.size: newWorkspace(w.size)},
		out:        make([]float64, opts.MaxWindowSize/2),
	}, nil
}

// Tap returns the input tap.
func (s *Stretcher) Tap() *ring.Tap { return s.tap }

// StretchAmount returns the current stretch factor.
func (s *Stretcher) StretchAmount() float64 { return s.amount }

// SetStretchAmount changes the stretch factor used by Group.Step.
func (s *Stretcher) SetStretchAmount(amount float64) error {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return fmt.Errorf("%w: stretch amount must be positive and finite, got %v", ring.ErrRange, amount)
	}
	s.amount = amount
	return nil
}

// Gain returns the output gain.
func (s *Stretcher) Gain() float64 { return s.gain }

// SetGain changes the output gain.
func (s *Stretcher) SetGain(gain float64) { s.gain = gain }

// FadingOut reports whether a fade-out is armed.
func (s *Stretcher) FadingOut() bool { return s.fadingOut }

// FadeOut arms a one-shot fade consumed by the owning Group.
func (s *Stretcher) FadeOut() { s.fadingOut = true }

// Activate clears any pending fade and puts the tap back in the active set.
func (s *Stretcher) Activate() error {
	s.fadingOut = false
	return s.tap.Activate()
}

// Deactivate zeroes the overlap-add buffer and parks the tap.
func (s *Stretcher) Deactivate() error {
	s.scratch.Clear()
	return s.tap.Deactivate()
}

func (s *Stretcher) window(size int) (*Window, error) {
	if s.last != nil && s.last.size == size {
		return s.last, nil
	}
	w, err := s.cache.Window(size)
	if err != nil {
		return nil, err
	}
	s.last = w
	return w, nil
}

func (s *Stretcher) workspace(size int) *workspace {
	ws, ok := s.workspaces[size]
	if !ok {
		ws = newWorkspace(size)
		s.workspaces[size] = ws
	}
	return ws
}

// Step synthesizes one grain of windowSize samples from the tap and returns
// its first half, gain-scaled and clipped to [-1, 1]. The returned slice is
// reused by the next call. An error from reading the tap is returned as is;
// an error from advancing it is returned after the output is produced.
func (s *Stretcher) Step(windowSize int, amount float64) ([]float64, error) {
	if !(amount > 0) || math.IsInf(amount, 0) {
		return nil, fmt.Errorf("%w: stretch amount must be positive and finite, got %v", ring.ErrRange, amount)
	}
	if windowSize > s.maxWindow {
		return nil, fmt.Errorf("%w: window size %d exceeds max %d", ring.ErrConfiguration, windowSize, s.maxWindow)
	}
	w, err := s.window(windowSize)
	if err != nil {
		return nil, err
	}
	ws := s.workspace(windowSize)
	half := w.half

	if err := s.tap.GetSamplesInto(ws.input); err != nil {
		return nil, err
	}
	for i, x := range ws.input {
		ws.input[i] = x * w.hann[i]
	}

	// Keep the magnitude, replace the phase.
	ws.fft.Coefficients(ws.coeffs, ws.input)
	if !s.keepPhase {
		for i, c := range ws.coeffs {
			ws.coeffs[i] = cmplx.Rect(cmplx.Abs(c), s.rng.Float64()*2*math.Pi)
		}
	}

	// gonum's inverse transform is unnormalized.
	ws.fft.Sequence(ws.grain, ws.coeffs)
	norm := 1 / float64(windowSize)
	for i := range ws.grain {
		ws.grain[i] *= norm * w.doubleTremolo[i] * w.open[i]
	}

	// Close the previous grain's open tail into this grain's head.
	if err := s.scratch.RecentInto(ws.tail); err != nil {
		return nil, err
	}
	for i := range half {
		ws.grain[i] += w.close[i] * ws.tail[i]
	}
	s.scratch.Rewind(half)
	if err := s.scratch.Append(ws.grain); err != nil {
		return nil, err
	}

	out := s.out[:half]
	for i := range out {
		out[i] = min(max(ws.grain[i]*s.gain, -1), 1)
	}

	if err := s.tap.Advance(w.Hopsize(amount)); err != nil {
		return out, fmt.Errorf("stretch: advance %s: %w", s.tap.Name(), err)
	}
	return out, nil
}
