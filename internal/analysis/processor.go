// SPDX-License-Identifier: MIT
package analysis

// AudioProcessor consumes mono blocks of the output mix. Implementations are
// called from the audio callback and must not block or allocate.
type AudioProcessor interface {
	Process(block []float64)
}

// ClosableProcessor combines AudioProcessor with a Close method for resource cleanup.
type ClosableProcessor interface {
	AudioProcessor
	Close() error
}

// FFTResultProvider gives readers outside the audio thread access to the
// latest spectrum. The band meter and the UDP publisher depend on this
// interface rather than on FFTProcessor.
type FFTResultProvider interface {
	GetMagnitudes() []float64                // Copy of the latest magnitudes.
	GetMagnitudesInto(dest []float64) error  // Allocation free copy; dest must hold GetFFTSize()/2+1 values.
	GetFrequencyForBin(binIndex int) float64 // Center frequency of a bin in Hz.
	GetFFTSize() int                         // Number of FFT points.
	GetSampleRate() float64                  // Sample rate of the analysed signal.
}
