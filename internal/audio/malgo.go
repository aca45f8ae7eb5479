// SPDX-License-Identifier: MIT
package audio

import (
	"fmt"
	"sync"
	"unsafe"

	"paulring/internal/config"
	applog "paulring/internal/log"

	"github.com/gen2brain/malgo"
)

// MalgoStream is a duplex miniaudio device delivering float32 frames.
type MalgoStream struct {
	config *config.Config
	engine *Engine

	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device
}

// NewMalgoStream initializes a miniaudio context and a duplex device on the
// configured devices.
func NewMalgoStream(cfg *config.Config, engine *Engine) (*MalgoStream, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		applog.Debugf("Malgo: %s", message)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize miniaudio: %w", err)
	}
	s := &MalgoStream{config: cfg, engine: engine, ctx: ctx}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Duplex)
	deviceConfig.SampleRate = uint32(cfg.Audio.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(cfg.Audio.FramesPerBuffer)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = uint32(cfg.Audio.InputChannels)
	deviceConfig.Playback.Format = malgo.FormatF32
	deviceConfig.Playback.Channels = uint32(cfg.Audio.OutputChannels)
	deviceConfig.Alsa.NoMMap = 1

	if err := s.selectDevice(malgo.Capture, cfg.Audio.InputDevice, &deviceConfig.Capture); err != nil {
		s.free()
		return nil, err
	}
	if err := s.selectDevice(malgo.Playback, cfg.Audio.OutputDevice, &deviceConfig.Playback); err != nil {
		s.free()
		return nil, err
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: s.process,
		Stop: func() { applog.Warnf("Malgo: Device stopped") },
	})
	if err != nil {
		s.free()
		return nil, fmt.Errorf("failed to initialize duplex device: %w", err)
	}
	s.device = device
	return s, nil
}

// selectDevice points sub at the device with the given index, leaving the
// system default for MinDeviceID.
func (s *MalgoStream) selectDevice(kind malgo.DeviceType, id int, sub *malgo.SubConfig) error {
	if id == config.MinDeviceID {
		return nil
	}
	infos, err := s.ctx.Devices(kind)
	if err != nil {
		return fmt.Errorf("failed to enumerate devices: %w", err)
	}
	if id < 0 || id >= len(infos) {
		return fmt.Errorf("invalid device ID: %d", id)
	}
	sub.DeviceID = infos[id].ID.Pointer()
	return nil
}

// Start starts the device.
func (s *MalgoStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device == nil {
		return fmt.Errorf("malgo stream is closed")
	}
	if err := s.device.Start(); err != nil {
		return fmt.Errorf("failed to start duplex device: %w", err)
	}
	applog.Infof("Malgo: Duplex device started at %d Hz", s.device.SampleRate())
	return nil
}

// Stop stops the device.
func (s *MalgoStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device == nil || !s.device.IsStarted() {
		return nil
	}
	return s.device.Stop()
}

// Close stops and releases the device and the context.
func (s *MalgoStream) Close() error {
	if err := s.Stop(); err != nil {
		applog.Warnf("Malgo: Error stopping device: %v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.free()
	return nil
}

func (s *MalgoStream) free() {
	if s.device != nil {
		s.device.Uninit()
		s.device = nil
	}
	if s.ctx != nil {
		_ = s.ctx.Uninit()
		s.ctx.Free()
		s.ctx = nil
	}
}

// process is the miniaudio data callback. Both buffers hold interleaved
// float32 samples.
func (s *MalgoStream) process(output, input []byte, frameCount uint32) {
	s.engine.Process(float32s(input), float32s(output), int(frameCount))
}

// float32s reinterprets a native-endian sample buffer without copying.
func float32s(b []byte) []float32 {
	if len(b) < 4 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), len(b)/4)
}
