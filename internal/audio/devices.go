// SPDX-License-Identifier: MIT
package audio

import (
	"fmt"
	"io"
	"time"

	"paulring/internal/config"

	"github.com/gen2brain/malgo"
	"github.com/gordonklaus/portaudio"
)

// Device describes one host audio device.
type Device struct {
	ID                int
	Name              string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
	LowLatency        time.Duration // Default low input latency.
	HighLatency       time.Duration // Default high input latency.
}

// Kind names the directions the device supports.
func (d Device) Kind() string {
	switch {
	case d.MaxInputChannels > 0 && d.MaxOutputChannels > 0:
		return "Input/Output"
	case d.MaxInputChannels > 0:
		return "Input"
	case d.MaxOutputChannels > 0:
		return "Output"
	}
	return "Unavailable"
}

// PortAudio entry points, replaced in tests.
var (
	paLibInitialize              = portaudio.Initialize
	paLibTerminate               = portaudio.Terminate
	paLibDevicesFunc             = portaudio.Devices
	paLibDefaultInputDeviceFunc  = portaudio.DefaultInputDevice
	paLibDefaultOutputDeviceFunc = portaudio.DefaultOutputDevice
	paDevicesFunc                = paDevices
)

// Initialize starts PortAudio. Pair every successful call with Terminate.
func Initialize() error {
	if err := paLibInitialize(); err != nil {
		return fmt.Errorf("portaudio: initialize: %w", err)
	}
	return nil
}

// Terminate shuts PortAudio down.
func Terminate() error {
	if err := paLibTerminate(); err != nil {
		return fmt.Errorf("portaudio: terminate: %w", err)
	}
	return nil
}

// HostDevices returns every PortAudio device, indexed by ID.
func HostDevices() ([]Device, error) {
	infos, err := paDevicesFunc()
	if err != nil {
		return nil, err
	}
	devices := make([]Device, 0, len(infos))
	for id, info := range infos {
		devices = append(devices, Device{
			ID:                id,
			Name:              info.Name,
			MaxInputChannels:  info.MaxInputChannels,
			MaxOutputChannels: info.MaxOutputChannels,
			DefaultSampleRate: info.DefaultSampleRate,
			LowLatency:        info.DefaultLowInputLatency,
			HighLatency:       info.DefaultHighInputLatency,
		})
	}
	return devices, nil
}

// InputDevice resolves an input device ID; config.MinDeviceID selects the
// host default.
func InputDevice(id int) (*portaudio.DeviceInfo, error) {
	return pickDevice(id, "input", paLibDefaultInputDeviceFunc,
		func(d *portaudio.DeviceInfo) bool { return d.MaxInputChannels > 0 })
}

// OutputDevice resolves an output device ID; config.MinDeviceID selects the
// host default.
func OutputDevice(id int) (*portaudio.DeviceInfo, error) {
	return pickDevice(id, "output", paLibDefaultOutputDeviceFunc,
		func(d *portaudio.DeviceInfo) bool { return d.MaxOutputChannels > 0 })
}

func pickDevice(id int, direction string, hostDefault func() (*portaudio.DeviceInfo, error),
	supports func(*portaudio.DeviceInfo) bool) (*portaudio.DeviceInfo, error) {
	devices, err := paDevicesFunc()
	switch {
	case err != nil:
		return nil, err
	case id == config.MinDeviceID:
		return hostDefault()
	case id < 0 || id >= len(devices):
		return nil, fmt.Errorf("invalid device ID: %d", id)
	case !supports(devices[id]):
		return nil, fmt.Errorf("device %d (%s) does not support %s", id, devices[id].Name, direction)
	}
	return devices[id], nil
}

// ListDevices writes the devices of backend to w.
func ListDevices(w io.Writer, backend string) error {
	if backend == config.BackendMalgo {
		return listMalgoDevices(w)
	}
	devices, err := HostDevices()
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "\nAvailable Audio Devices (PortAudio)\n\n")
	for _, d := range devices {
		fmt.Fprintf(w, "[%d] %s (%s)\n", d.ID, d.Name, d.Kind())
		fmt.Fprintf(w, "    Input channels: %d, Output channels: %d\n", d.MaxInputChannels, d.MaxOutputChannels)
		fmt.Fprintf(w, "    Default sample rate: %.0f Hz\n", d.DefaultSampleRate)
		fmt.Fprintf(w, "    Latency: Low=%.2fms, High=%.2fms\n\n", millis(d.LowLatency), millis(d.HighLatency))
	}
	return nil
}

func millis(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

func listMalgoDevices(w io.Writer) error {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("miniaudio: init context: %w", err)
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()

	fmt.Fprintf(w, "\nAvailable Audio Devices (miniaudio)\n\n")
	for _, kind := range []struct {
		name string
		typ  malgo.DeviceType
	}{{"Capture", malgo.Capture}, {"Playback", malgo.Playback}} {
		infos, err := ctx.Devices(kind.typ)
		if err != nil {
			return fmt.Errorf("miniaudio: enumerate %s devices: %w", kind.name, err)
		}
		fmt.Fprintf(w, "%s:\n", kind.name)
		for i := range infos {
			marker := ""
			if infos[i].IsDefault == 1 {
				marker = " (default)"
			}
			fmt.Fprintf(w, "  [%d] %s%s\n", i, infos[i].Name(), marker)
		}
		fmt.Fprintln(w)
	}
	return nil
}

// paDevices lists PortAudio devices, returning an empty slice rather than
// nil on success.
func paDevices() ([]*portaudio.DeviceInfo, error) {
	devices, err := paLibDevicesFunc()
	if err != nil {
		return nil, err
	}
	if devices == nil {
		devices = []*portaudio.DeviceInfo{}
	}
	return devices, nil
}
