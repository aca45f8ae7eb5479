// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	applog "paulring/internal/log"
	"paulring/pkg/bitint"

	"gopkg.in/yaml.v3"
)

// Config represents the main application configuration structure, loaded from YAML.
type Config struct {
	Debug     bool            `yaml:"debug"`     // Enable debug logging.
	LogLevel  string          `yaml:"log_level"` // Logging level (e.g., "debug", "info", "warn", "error").
	Audio     AudioConfig     `yaml:"audio"`     // Audio device settings.
	Buffer    BufferConfig    `yaml:"buffer"`    // Input ring and transient detection.
	Stretch   StretchConfig   `yaml:"stretch"`   // Voice pool and grain settings.
	Control   ControlConfig   `yaml:"control"`   // Websocket control surface.
	Transport TransportConfig `yaml:"transport"` // Output spectrum over UDP.
	Recording RecordingConfig `yaml:"recording"` // Output recording settings.
}

// AudioConfig holds settings related to audio input/output.
type AudioConfig struct {
	Backend         string  `yaml:"backend"`           // "portaudio" or "malgo".
	InputDevice     int     `yaml:"input_device"`      // Device index for audio input (-1 for default).
	OutputDevice    int     `yaml:"output_device"`     // Device index for audio output (-1 for default).
	SampleRate      float64 `yaml:"sample_rate"`       // Sample rate in Hz (e.g., 44100, 48000).
	FramesPerBuffer int     `yaml:"frames_per_buffer"` // Frames per callback; a multiple of half the window size.
	LowLatency      bool    `yaml:"low_latency"`       // Request low latency settings from the device.
	InputChannels   int     `yaml:"input_channels"`    // Captured channels; the first is stretched.
	OutputChannels  int     `yaml:"output_channels"`   // Playback channels; the stereo mix is duplicated or truncated.
}

// BufferConfig sizes the input ring.
type BufferConfig struct {
	BlockSize            int     `yaml:"block_size"`             // Samples per analysis block.
	NumBlocks            int     `yaml:"num_blocks"`             // Blocks in the ring.
	TransientThresholdDb float64 `yaml:"transient_threshold_db"` // Block-to-block energy jump flagged as a transient.
}

// StretchConfig holds the voice pool settings.
type StretchConfig struct {
	Voices        int     `yaml:"voices"`          // Number of stretch voices.
	WindowSize    int     `yaml:"window_size"`     // Grain size in samples (power of two).
	WindowSeconds float64 `yaml:"window_seconds"`  // Grain length in seconds; overrides window_size when set.
	MaxWindowSize int     `yaml:"max_window_size"` // Largest grain size a voice accepts.
	Amount        float64 `yaml:"amount"`          // Initial stretch amount of every voice.
	MinAmount     float64 `yaml:"min_amount"`      // Fader at zero.
	MaxAmount     float64 `yaml:"max_amount"`      // Fader at one.
	Gain          float64 `yaml:"gain"`            // Output gain before clipping.
	Preroll       int     `yaml:"preroll"`         // Samples before a transient where a cued voice starts.
	AutoCue       bool    `yaml:"auto_cue"`        // Start an idle voice at each detected transient.
	Seed          uint64  `yaml:"seed"`            // Phase randomizer seed (0 for random).
}

// ControlConfig holds the control surface settings.
type ControlConfig struct {
	Enabled       bool   `yaml:"enabled"`        // Serve the websocket control surface.
	ListenAddress string `yaml:"listen_address"` // Address for /control and /metrics.
	QueueSize     int    `yaml:"queue_size"`     // Intents buffered for the audio thread.
	Metrics       bool   `yaml:"metrics"`        // Serve Prometheus metrics at /metrics.
}

// TransportConfig holds settings related to sending the output spectrum over the network.
type TransportConfig struct {
	UDPEnabled       bool          `yaml:"udp_enabled"`        // Enable sending spectrum packets over UDP.
	UDPTargetAddress string        `yaml:"udp_target_address"` // Target address and port for UDP packets (e.g., "127.0.0.1:9090").
	UDPSendInterval  time.Duration `yaml:"udp_send_interval"`  // Interval between UDP packets.
	FFTSize          int           `yaml:"fft_size"`           // Spectrum size (power of two).
	FFTWindow        string        `yaml:"fft_window"`         // Window function for the spectrum (e.g., "Hann", "Hamming").
	GateThreshold    float64       `yaml:"gate_threshold"`     // Peak below which the mix is not analysed.
}

// RecordingConfig holds settings related to recording the output mix.
type RecordingConfig struct {
	Enabled     bool   `yaml:"enabled"`              // Record the stereo output to file.
	OutputDir   string `yaml:"output_dir"`           // Directory to save recorded audio files.
	Format      string `yaml:"format"`               // File format for recordings ("wav").
	BitDepth    int    `yaml:"bit_depth"`            // Bit depth for recorded audio (16, 24 or 32).
	MaxDuration int    `yaml:"max_duration_seconds"` // Maximum duration of a recording in seconds (0 for unlimited).
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Audio: AudioConfig{
			Backend:         DefaultBackend,
			InputDevice:     DefaultDeviceID,
			OutputDevice:    DefaultDeviceID,
			SampleRate:      DefaultSampleRate,
			FramesPerBuffer: DefaultFramesPerBuffer,
			InputChannels:   DefaultInputChannels,
			OutputChannels:  DefaultOutputChannels,
		},
		Buffer: BufferConfig{
			BlockSize:            DefaultBlockSize,
			NumBlocks:            DefaultNumBlocks,
			TransientThresholdDb: DefaultTransientThresholdDb,
		},
		Stretch: StretchConfig{
			Voices:        DefaultVoices,
			WindowSize:    DefaultWindowSize,
			MaxWindowSize: DefaultMaxWindowSize,
			Amount:        DefaultStretchAmount,
			MinAmount:     DefaultMinAmount,
			MaxAmount:     DefaultMaxAmount,
			Gain:          DefaultGain,
			Preroll:       DefaultPreroll,
		},
		Control: ControlConfig{
			Enabled:       true,
			ListenAddress: DefaultListenAddress,
			QueueSize:     DefaultQueueSize,
			Metrics:       true,
		},
		Transport: TransportConfig{
			UDPTargetAddress: DefaultUDPTargetAddress,
			UDPSendInterval:  DefaultUDPSendInterval,
			FFTSize:          DefaultFFTSize,
			FFTWindow:        DefaultFFTWindow,
			GateThreshold:    DefaultGateThreshold,
		},
		Recording: RecordingConfig{
			OutputDir: DefaultOutputDir,
			Format:    DefaultFormat,
			BitDepth:  DefaultBitDepth,
		},
	}
}

// LoadConfig loads configuration from a YAML file specified by path. If path is empty,
// it searches default locations ("config.yaml"). If no file is found, it uses built-in
// defaults. After loading defaults or from file, it applies environment variable
// overrides and validates the final configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		for _, candidate := range []string{"config.yaml", "paulring.yaml"} {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Apply environment variable overrides AFTER loading from file.
	cfg.applyEnvOverrides()
	cfg.Resolve()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks every section and returns all problems joined together.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.LogLevel != "" {
		if _, ok := applog.ParseLevel(c.LogLevel); !ok {
			fail("log_level %q is not one of debug, info, warn, error", c.LogLevel)
		}
	}

	// Audio
	a := c.Audio
	if a.Backend != BackendPortAudio && a.Backend != BackendMalgo {
		fail("audio.backend %q must be %q or %q", a.Backend, BackendPortAudio, BackendMalgo)
	}
	if a.InputDevice < MinDeviceID || a.OutputDevice < MinDeviceID {
		fail("audio devices must be >= %d", MinDeviceID)
	}
	if a.SampleRate < MinSampleRate || a.SampleRate > MaxSampleRate {
		fail("audio.sample_rate %.0f outside [%d, %d]", a.SampleRate, MinSampleRate, MaxSampleRate)
	}
	if a.InputChannels < 1 || a.OutputChannels < 1 {
		fail("audio channels must be positive, got %d in and %d out", a.InputChannels, a.OutputChannels)
	}

	// Stretch
	s := c.Stretch
	if s.Voices < 1 || s.Voices > MaxVoices {
		fail("stretch.voices %d outside [1, %d]", s.Voices, MaxVoices)
	}
	if !bitint.IsPowerOfTwo(s.WindowSize) || s.WindowSize < 2 {
		fail("stretch.window_size %d must be a power of two", s.WindowSize)
	}
	if !bitint.IsPowerOfTwo(s.MaxWindowSize) {
		fail("stretch.max_window_size %d must be a power of two", s.MaxWindowSize)
	}
	if s.WindowSize > s.MaxWindowSize {
		fail("stretch.window_size %d exceeds max_window_size %d", s.WindowSize, s.MaxWindowSize)
	}
	if s.MinAmount < 1 {
		fail("stretch.min_amount %v must be at least 1", s.MinAmount)
	}
	if s.MaxAmount < s.MinAmount {
		fail("stretch.max_amount %v below min_amount %v", s.MaxAmount, s.MinAmount)
	}
	if s.Amount < s.MinAmount || s.Amount > s.MaxAmount {
		fail("stretch.amount %v outside [%v, %v]", s.Amount, s.MinAmount, s.MaxAmount)
	}
	if s.Gain <= 0 {
		fail("stretch.gain %v must be positive", s.Gain)
	}
	if s.WindowSeconds < 0 {
		fail("stretch.window_seconds %v must not be negative", s.WindowSeconds)
	}
	if s.Preroll < 0 {
		fail("stretch.preroll %d must not be negative", s.Preroll)
	}

	// Callback size against the grain: every callback renders whole half
	// grains, and a voice activated one callback back must have a full
	// window to read after the next append.
	if half := s.WindowSize / 2; half > 0 {
		if a.FramesPerBuffer < 1 || a.FramesPerBuffer%half != 0 {
			fail("audio.frames_per_buffer %d must be a positive multiple of half the window (%d)", a.FramesPerBuffer, half)
		}
		if s.WindowSize > 2*a.FramesPerBuffer {
			fail("stretch.window_size %d exceeds twice frames_per_buffer %d", s.WindowSize, a.FramesPerBuffer)
		}
	}

	// Buffer
	b := c.Buffer
	if b.BlockSize < 1 || b.NumBlocks < 1 {
		fail("buffer needs at least one block of one sample, got %d blocks of %d", b.NumBlocks, b.BlockSize)
	} else if n := b.BlockSize * b.NumBlocks; n < s.WindowSize+2*a.FramesPerBuffer {
		fail("buffer of %d samples cannot hold a window plus two callbacks (%d)", n, s.WindowSize+2*a.FramesPerBuffer)
	}
	if b.TransientThresholdDb <= 0 {
		fail("buffer.transient_threshold_db %v must be positive", b.TransientThresholdDb)
	}

	// Control
	if c.Control.Enabled {
		if c.Control.ListenAddress == "" {
			fail("control.listen_address must be set when the control surface is enabled")
		}
		if c.Control.QueueSize < 1 {
			fail("control.queue_size %d must be positive", c.Control.QueueSize)
		}
	}

	// Transport
	t := c.Transport
	if t.GateThreshold < 0 || t.GateThreshold > 1 {
		fail("transport.gate_threshold %v must be within [0, 1]", t.GateThreshold)
	}
	if t.UDPEnabled {
		if t.UDPTargetAddress == "" {
			fail("transport.udp_target_address must be set when UDP is enabled")
		}
		if t.UDPSendInterval <= 0 {
			fail("transport.udp_send_interval must be positive when UDP is enabled")
		}
		if !bitint.IsPowerOfTwo(t.FFTSize) {
			fail("transport.fft_size %d must be a power of two", t.FFTSize)
		}
	}

	// Recording
	r := c.Recording
	if r.Enabled {
		if r.Format != "wav" {
			fail("recording.format %q is not supported", r.Format)
		}
		if r.BitDepth != 16 && r.BitDepth != 24 && r.BitDepth != 32 {
			fail("recording.bit_depth %d must be 16, 24 or 32", r.BitDepth)
		}
		if r.MaxDuration < 0 {
			fail("recording.max_duration_seconds %d must not be negative", r.MaxDuration)
		}
	}

	return errors.Join(errs...)
}

// applyEnvOverrides applies ENV_* variables on top of the file settings.
func (cfg *Config) applyEnvOverrides() {
	// ENV_{...}
	// These are general overrides.

	// ENV_DEBUG
	if val, ok := os.LookupEnv("ENV_DEBUG"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Debug = bVal
			applog.Infof("configuration: Overriding debug from env: %v", bVal)
		}
	}
	// ENV_LOG_LEVEL
	if val, ok := os.LookupEnv("ENV_LOG_LEVEL"); ok {
		cfg.LogLevel = val
		applog.Infof("configuration: Overriding log_level from env: %s", val)
	}
	// ENV_AUDIO_BACKEND
	if val, ok := os.LookupEnv("ENV_AUDIO_BACKEND"); ok {
		cfg.Audio.Backend = val
		applog.Infof("configuration: Overriding audio.backend from env: %s", val)
	}
	// ENV_STRETCH_VOICES
	if val, ok := os.LookupEnv("ENV_STRETCH_VOICES"); ok {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Stretch.Voices = n
			applog.Infof("configuration: Overriding stretch.voices from env: %d", n)
		}
	}

	// ENV_CONTROL_{...}

	// ENV_CONTROL_LISTEN_ADDRESS
	if val, ok := os.LookupEnv("ENV_CONTROL_LISTEN_ADDRESS"); ok {
		cfg.Control.ListenAddress = val
		applog.Infof("configuration: Overriding control.listen_address from env: %s", val)
	}

	// ENV_UDP_{...}
	// These are specific to the transport layer.

	// ENV_UDP_ENABLED
	if val, ok := os.LookupEnv("ENV_UDP_ENABLED"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Transport.UDPEnabled = bVal
			applog.Infof("configuration: Overriding transport.udp_enabled from env: %v", bVal)
		}
	}
	// ENV_UDP_TARGET_ADDRESS
	if val, ok := os.LookupEnv("ENV_UDP_TARGET_ADDRESS"); ok {
		cfg.Transport.UDPTargetAddress = val
		applog.Infof("configuration: Overriding transport.udp_target_address from env: %s", val)
	}
	// ENV_UDP_SEND_INTERVAL
	if val, ok := os.LookupEnv("ENV_UDP_SEND_INTERVAL"); ok {
		if dur, err := time.ParseDuration(val); err == nil {
			cfg.Transport.UDPSendInterval = dur
			applog.Infof("configuration: Overriding transport.udp_send_interval from env: %s", dur)
		}
	}
}
