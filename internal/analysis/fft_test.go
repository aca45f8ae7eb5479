// SPDX-License-Identifier: MIT
package analysis

import (
	"strings"
	"testing"

	"paulring/pkg/utils"
)

const (
	testFFTSize    = 1024
	testSampleRate = 8192
)

func newTestProcessor(t testing.TB) *FFTProcessor {
	t.Helper()
	p, err := NewFFTProcessor(testFFTSize, testSampleRate, Hann)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestNewFFTProcessorValidation(t *testing.T) {
	if _, err := NewFFTProcessor(1000, testSampleRate, Hann); err == nil {
		t.Error("expected error for a size that is not a power of two")
	}
	if _, err := NewFFTProcessor(testFFTSize, 0, Hann); err == nil {
		t.Error("expected error for a zero sample rate")
	}
}

func TestFFTHotPath(t *testing.T) {
	processor := newTestProcessor(t)
	block := utils.GenerateComplexWave(testFFTSize, testSampleRate)

	processor.Process(block)
	allocs := testing.AllocsPerRun(100, func() {
		processor.Process(block)
	})

	if allocs > 0 {
		t.Errorf("Expected zero allocations in FFT Process hot path, got %.1f", allocs)
	}
}

func TestFFTPeakBin(t *testing.T) {
	processor := newTestProcessor(t)
	// 8 Hz per bin; 1000 Hz lands on bin 125.
	processor.Process(utils.GenerateSineWave(testFFTSize, testSampleRate, 1000, 0.9))

	mags := processor.GetMagnitudes()
	if len(mags) != testFFTSize/2+1 {
		t.Fatalf("magnitudes = %d bins, want %d", len(mags), testFFTSize/2+1)
	}
	if peak := utils.FindPeakBin(mags, 0, len(mags)-1); peak != 125 {
		t.Errorf("peak bin = %d, want 125", peak)
	}
	if f := processor.GetFrequencyForBin(125); f != 1000 {
		t.Errorf("GetFrequencyForBin(125) = %v, want 1000", f)
	}
	if f := processor.GetFrequencyForBin(-1); f != 0 {
		t.Errorf("GetFrequencyForBin(-1) = %v, want 0", f)
	}
}

func TestProcessUsesMostRecentSamples(t *testing.T) {
	processor := newTestProcessor(t)
	long := make([]float64, 2*testFFTSize)
	copy(long[testFFTSize:], utils.GenerateSineWave(testFFTSize, testSampleRate, 1000, 0.9))
	processor.Process(long)

	mags := processor.GetMagnitudes()
	if peak := utils.FindPeakBin(mags, 0, len(mags)-1); peak != 125 {
		t.Errorf("peak bin = %d, want 125 from the tail of the block", peak)
	}

	// A short block is zero-padded.
	processor.Process(make([]float64, 10))
	for i, m := range processor.GetMagnitudes() {
		if m != 0 {
			t.Fatalf("bin %d = %v after silence, want 0", i, m)
		}
	}
}

func TestProcessSkipsWhileReaderHolds(t *testing.T) {
	processor := newTestProcessor(t)
	processor.mu.RLock()
	processor.Process(make([]float64, testFFTSize))
	processor.mu.RUnlock()

	if processor.Skipped() != 1 {
		t.Errorf("Skipped() = %d, want 1", processor.Skipped())
	}
}

func TestGetMagnitudesInto(t *testing.T) {
	processor := newTestProcessor(t)
	if err := processor.GetMagnitudesInto(make([]float64, 4)); err == nil {
		t.Error("expected error for a short destination")
	}
	dest := make([]float64, testFFTSize/2+1)
	allocs := testing.AllocsPerRun(100, func() {
		_ = processor.GetMagnitudesInto(dest)
	})
	if allocs > 0 {
		t.Errorf("GetMagnitudesInto allocated %.1f times, want 0", allocs)
	}
}

func TestParseWindowFunc(t *testing.T) {
	tests := []struct {
		name    string
		want    WindowFunc
		wantErr bool
	}{
		{"Hann", Hann, false},
		{"hanning", Hann, false},
		{"HAMMING", Hamming, false},
		{"blackmannuttall", BlackmanNuttall, false},
		{"triangle", Hann, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseWindowFunc(tt.name)
			if got != tt.want || (err != nil) != tt.wantErr {
				t.Errorf("ParseWindowFunc(%q) = %v, %v", tt.name, got, err)
			}
		})
	}
	if s := Nuttall.String(); s != "Nuttall" {
		t.Errorf("Nuttall.String() = %q", s)
	}
	if s := WindowFunc(42).String(); !strings.Contains(s, "42") {
		t.Errorf("WindowFunc(42).String() = %q", s)
	}
}

func TestBandEnergy(t *testing.T) {
	processor := newTestProcessor(t)
	processor.Process(utils.GenerateSineWave(testFFTSize, testSampleRate, 1000, 0.9))

	mock := &utils.MockTransport{}
	bands, err := NewBandEnergyProcessor(mock, processor)
	if err != nil {
		t.Fatal(err)
	}
	bands.Process()

	loudest := bands.Bands()[0]
	for _, b := range bands.Bands() {
		if b.Energy < 0 || b.Energy > 1 {
			t.Errorf("band %s energy %v outside [0, 1]", b.Name, b.Energy)
		}
		if b.Energy > loudest.Energy {
			loudest = b
		}
	}
	if loudest.Name != "mid" {
		t.Errorf("loudest band = %s, want mid", loudest.Name)
	}

	msg, ok := mock.Last().(map[string]any)
	if !ok || msg["type"] != "band_energy" {
		t.Fatalf("sent %#v, want a band_energy message", mock.Last())
	}
	if _, ok := msg["treble"]; !ok {
		t.Error("message is missing the treble band")
	}

	if _, err := NewBandEnergyProcessor(mock, nil); err == nil {
		t.Error("expected error without a provider")
	}
}

func BenchmarkProcess(b *testing.B) {
	processor := newTestProcessor(b)
	block := utils.GenerateComplexWave(testFFTSize, testSampleRate)

	b.ReportAllocs()

	for b.Loop() {
		processor.Process(block)
	}
}
