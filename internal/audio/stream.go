// SPDX-License-Identifier: MIT
package audio

import (
	"fmt"

	"paulring/internal/config"
)

// Stream is a duplex audio stream driving an Engine.
type Stream interface {
	Start() error // Begin calling Engine.Process.
	Stop() error  // Stop calling Engine.Process; Start may be called again.
	Close() error // Release the device.
}

// OpenStream opens the duplex stream of the configured backend. PortAudio
// must be initialized for the portaudio backend.
func OpenStream(cfg *config.Config, engine *Engine) (Stream, error) {
	switch cfg.Audio.Backend {
	case config.BackendPortAudio:
		return NewPortAudioStream(cfg, engine)
	case config.BackendMalgo:
		return NewMalgoStream(cfg, engine)
	default:
		return nil, fmt.Errorf("unknown audio backend %q", cfg.Audio.Backend)
	}
}
