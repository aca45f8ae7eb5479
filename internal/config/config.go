// SPDX-License-Identifier: MIT
package config

import "time"

// Core configuration constants that define the boundaries and defaults
// for the stretch engine.
const (
	// Audio device defaults
	DefaultBackend         = BackendPortAudio
	DefaultDeviceID        = MinDeviceID // System default device
	DefaultSampleRate      = 44100       // CD-quality audio
	DefaultFramesPerBuffer = 8192        // One grain half per callback
	DefaultInputChannels   = 1
	DefaultOutputChannels  = 2

	// Ring defaults: 10240 blocks of 512 samples is about two minutes at 44.1kHz
	DefaultBlockSize            = 512
	DefaultNumBlocks            = 10240
	DefaultTransientThresholdDb = 20.0

	// Stretch defaults
	DefaultVoices        = 4
	DefaultWindowSize    = 16384
	DefaultMaxWindowSize = 32768
	DefaultStretchAmount = 4.0
	DefaultMinAmount     = 1.0
	DefaultMaxAmount     = 20.0
	DefaultGain          = 1.0
	DefaultPreroll       = DefaultBlockSize

	// Control defaults
	DefaultListenAddress = ":8080"
	DefaultQueueSize     = 64

	// Transport defaults
	DefaultUDPTargetAddress = "127.0.0.1:9090"
	DefaultUDPSendInterval  = 33 * time.Millisecond // ~30Hz
	DefaultFFTSize          = 2048
	DefaultFFTWindow        = "Hann"
	DefaultGateThreshold    = 0.001 // -60 dBFS

	// Recording defaults
	DefaultOutputDir = "./recordings"
	DefaultFormat    = "wav"
	DefaultBitDepth  = 16

	// Hardware and processing limits
	MinDeviceID   = -1     // -1 represents system default device
	MinSampleRate = 8000   // Minimum usable sample rate (Hz)
	MaxSampleRate = 192000 // Maximum supported sample rate (Hz)
	MaxVoices     = 16

	// Error handling configuration
	DefaultMaxConsecutiveWriteFailures = 5 // Recording failures before it stops
)

// Audio backends.
const (
	BackendPortAudio = "portaudio"
	BackendMalgo     = "malgo"
)
