// SPDX-License-Identifier: MIT
package audio

import (
	"runtime"
	"time"

	"paulring/internal/config"
	applog "paulring/internal/log"

	"github.com/gordonklaus/portaudio"
)

const xrunFlags = portaudio.InputUnderflow | portaudio.InputOverflow |
	portaudio.OutputUnderflow | portaudio.OutputOverflow

// PortAudioStream is a duplex float32 PortAudio stream.
type PortAudioStream struct {
	config *config.Config
	engine *Engine

	inputDevice   *portaudio.DeviceInfo
	inputLatency  time.Duration
	outputDevice  *portaudio.DeviceInfo
	outputLatency time.Duration
	stream        *portaudio.Stream
}

// NewPortAudioStream resolves the configured devices.
func NewPortAudioStream(cfg *config.Config, engine *Engine) (*PortAudioStream, error) {
	inputDevice, err := InputDevice(cfg.Audio.InputDevice)
	if err != nil {
		return nil, err
	}
	outputDevice, err := OutputDevice(cfg.Audio.OutputDevice)
	if err != nil {
		return nil, err
	}

	s := &PortAudioStream{
		config:       cfg,
		engine:       engine,
		inputDevice:  inputDevice,
		outputDevice: outputDevice,
	}
	if cfg.Audio.LowLatency {
		s.inputLatency = inputDevice.DefaultLowInputLatency
		s.outputLatency = outputDevice.DefaultLowOutputLatency
	} else {
		s.inputLatency = inputDevice.DefaultHighInputLatency
		s.outputLatency = outputDevice.DefaultHighOutputLatency
	}
	return s, nil
}

// Start opens and starts the stream.
func (s *PortAudioStream) Start() error {
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Channels: s.config.Audio.InputChannels,
			Device:   s.inputDevice,
			Latency:  s.inputLatency,
		},
		Output: portaudio.StreamDeviceParameters{
			Channels: s.config.Audio.OutputChannels,
			Device:   s.outputDevice,
			Latency:  s.outputLatency,
		},
		FramesPerBuffer: s.config.Audio.FramesPerBuffer,
		SampleRate:      s.config.Audio.SampleRate,
	}

	stream, err := portaudio.OpenStream(params, s.process)
	if err != nil {
		return err
	}
	s.stream = stream

	if err := s.stream.Start(); err != nil {
		s.stream.Close()
		s.stream = nil
		return err
	}

	applog.Infof("PortAudio: %s -> %s at %.0f Hz, %d frames per buffer",
		s.inputDevice.Name, s.outputDevice.Name, s.config.Audio.SampleRate, s.config.Audio.FramesPerBuffer)
	return nil
}

// Stop stops and closes the stream.
func (s *PortAudioStream) Stop() error {
	if s.stream == nil {
		return nil
	}
	if err := s.stream.Stop(); err != nil {
		return err
	}
	if err := s.stream.Close(); err != nil {
		return err
	}
	s.stream = nil
	return nil
}

// Close stops the stream if it is running.
func (s *PortAudioStream) Close() error {
	return s.Stop()
}

// process is the PortAudio callback.
// Performance Critical:
// - Runs on the PortAudio thread, locked for the duration of the call
// - Delegates to Engine.Process, which does not allocate
func (s *PortAudioStream) process(in, out []float32, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if flags&xrunFlags != 0 {
		s.engine.Xrun()
	}
	s.engine.Process(in, out, len(out)/s.config.Audio.OutputChannels)
}
