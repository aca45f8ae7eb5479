// SPDX-License-Identifier: MIT
package analysis

import (
	"context"
	"errors"
	"math"
	"time"

	applog "paulring/internal/log"
	"paulring/internal/transport"
)

// FrequencyBand defines the name and frequency range for an energy band.
type FrequencyBand struct {
	Name    string
	LowHz   float64
	HighHz  float64
	Energy  float64 // Normalized level of the last frame, 0..1.
	numBins int
}

// DefaultBands returns the six display bands, the last one ending at the
// Nyquist frequency of sampleRate.
func DefaultBands(sampleRate float64) []*FrequencyBand {
	return []*FrequencyBand{
		{Name: "sub", LowHz: 20, HighHz: 60},
		{Name: "bass", LowHz: 60, HighHz: 250},
		{Name: "lowMid", LowHz: 250, HighHz: 500},
		{Name: "mid", LowHz: 500, HighHz: 2000},
		{Name: "highMid", LowHz: 2000, HighHz: 4000},
		{Name: "treble", LowHz: 4000, HighHz: sampleRate / 2},
	}
}

// BandEnergyProcessor folds the latest spectrum into a few frequency bands
// and sends them to a transport, typically the control surface clients.
type BandEnergyProcessor struct {
	transport   transport.Transport
	bands       []*FrequencyBand
	fftProvider FFTResultProvider
	magnitudes  []float64
}

// NewBandEnergyProcessor creates a band meter reading from fftProvider.
func NewBandEnergyProcessor(t transport.Transport, fftProvider FFTResultProvider) (*BandEnergyProcessor, error) {
	if fftProvider == nil {
		return nil, errors.New("band energy processor requires an FFT result provider")
	}
	bands := DefaultBands(fftProvider.GetSampleRate())
	applog.Infof("Analysis: Initializing BandEnergyProcessor with %d bands", len(bands))
	return &BandEnergyProcessor{
		transport:   t,
		bands:       bands,
		fftProvider: fftProvider,
		magnitudes:  make([]float64, fftProvider.GetFFTSize()/2+1),
	}, nil
}

// Bands returns the bands with the energies of the last Process call.
func (p *BandEnergyProcessor) Bands() []*FrequencyBand { return p.bands }

// Process recomputes the band energies and sends them.
func (p *BandEnergyProcessor) Process() {
	if err := p.fftProvider.GetMagnitudesInto(p.magnitudes); err != nil {
		applog.Errorf("BandEnergyProcessor: %v", err)
		return
	}

	for _, band := range p.bands {
		band.Energy = 0
		band.numBins = 0
	}
	for i, m := range p.magnitudes {
		freq := p.fftProvider.GetFrequencyForBin(i)
		for _, band := range p.bands {
			if freq >= band.LowHz && freq < band.HighHz {
				band.Energy += m * m
				band.numBins++
				break
			}
		}
	}

	// Magnitudes are unnormalized sums over fftSize windowed samples.
	scale := 2 / float64(p.fftProvider.GetFFTSize())
	bandData := map[string]any{"type": "band_energy"}
	for _, band := range p.bands {
		avg := 0.0
		if band.numBins > 0 {
			avg = band.Energy / float64(band.numBins)
		}
		band.Energy = math.Min(1, math.Sqrt(avg)*scale)
		bandData[band.Name] = band.Energy
	}

	if p.transport == nil {
		return
	}
	if err := p.transport.Send(bandData); err != nil {
		applog.Warnf("BandEnergyProcessor: Error sending band energy data: %v", err)
	}
}

// Run calls Process every interval until ctx is done.
func (p *BandEnergyProcessor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.Process()
		case <-ctx.Done():
			return
		}
	}
}
