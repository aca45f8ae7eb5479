// SPDX-License-Identifier: MIT

// Package utils holds signal generators and fakes shared by the tests.
package utils

import (
	"math"
	"sync"
)

// MockTransport records every message instead of transmitting it.
type MockTransport struct {
	mu       sync.Mutex
	messages []any
	closed   bool
}

// Send stores data for later inspection. Float slices are copied.
func (m *MockTransport) Send(data any) error {
	if f, ok := data.([]float64); ok {
		data = append([]float64(nil), f...)
	}
	m.mu.Lock()
	m.messages = append(m.messages, data)
	m.mu.Unlock()
	return nil
}

// Close marks the transport closed.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Messages returns everything sent so far.
func (m *MockTransport) Messages() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]any(nil), m.messages...)
}

// Last returns the most recent message, or nil.
func (m *MockTransport) Last() any {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.messages) == 0 {
		return nil
	}
	return m.messages[len(m.messages)-1]
}

// Closed reports whether Close was called.
func (m *MockTransport) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// GenerateComplexWave returns a 440 Hz tone with two harmonics peaking at 0.9.
func GenerateComplexWave(size int, sampleRate float64) []float64 {
	buffer := make([]float64, size)
	for i := range buffer {
		tm := float64(i) / sampleRate
		signal := math.Sin(2*math.Pi*440*tm)*0.5 +
			math.Sin(2*math.Pi*880*tm)*0.3 +
			math.Sin(2*math.Pi*1320*tm)*0.2
		buffer[i] = signal * 0.9
	}
	return buffer
}

// GenerateSineWave returns size samples of a sine of the given amplitude.
func GenerateSineWave(size int, sampleRate, frequency, amplitude float64) []float64 {
	buffer := make([]float64, size)
	for i := range buffer {
		t := float64(i) / sampleRate
		buffer[i] = math.Sin(2*math.Pi*frequency*t) * amplitude
	}
	return buffer
}

// GenerateBurst returns silence up to onset followed by a sine, the shape
// that trips transient detection.
func GenerateBurst(size, onset int, sampleRate, frequency, amplitude float64) []float64 {
	buffer := make([]float64, size)
	for i := onset; i < size; i++ {
		t := float64(i-onset) / sampleRate
		buffer[i] = math.Sin(2*math.Pi*frequency*t) * amplitude
	}
	return buffer
}

// Interleave spreads a mono signal over channels as float32 frames, the
// layout the audio backends deliver.
func Interleave(mono []float64, channels int) []float32 {
	out := make([]float32, len(mono)*channels)
	for i, x := range mono {
		for c := range channels {
			out[i*channels+c] = float32(x)
		}
	}
	return out
}

// FindPeakBin returns the index of the largest magnitude in [startBin, endBin].
func FindPeakBin(magnitudes []float64, startBin, endBin int) int {
	if len(magnitudes) == 0 {
		return 0
	}

	if startBin < 0 {
		startBin = 0
	}

	if endBin >= len(magnitudes) {
		endBin = len(magnitudes) - 1
	}

	peakBin := startBin
	peakValue := magnitudes[startBin]

	for bin := startBin + 1; bin <= endBin; bin++ {
		if magnitudes[bin] > peakValue {
			peakValue = magnitudes[bin]
			peakBin = bin
		}
	}

	return peakBin
}
