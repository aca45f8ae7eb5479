// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"paulring/cmd"
	"paulring/internal/analysis"
	"paulring/internal/audio"
	"paulring/internal/config"
	"paulring/internal/control"
	applog "paulring/internal/log"
	"paulring/internal/metrics"
	"paulring/internal/transport"
	"paulring/internal/transport/udp"
	"paulring/internal/tui"
	"paulring/pkg/build"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"
)

// outboxSize bounds the voice events waiting for the control surface.
const outboxSize = 256

// main is the entry point. The program flow is divided into three phases:
//
// 1. Startup Phase (Cold Path):
//   - Initialize build information
//   - Parse command line arguments and load the configuration
//   - Execute one-off commands (list, devices, render)
//   - Build metrics, the control surface, the analyser and the engine
//
// 2. Concurrent Phase (Hot Path):
//   - The duplex stream calls Engine.Process on the audio thread
//   - Intents arrive from the surface and the monitor through the queue
//   - Voice events and spectrum data leave through non-blocking channels
//
// 3. Shutdown Phase (Cold Path):
//   - Stop the stream, then the publishers and the surface
//   - Finalize any recording
func main() {
	// ==================== STARTUP PHASE (Cold Path) ====================

	if err := build.Initialize(); err != nil {
		applog.Fatalf("Build information: %v", err)
	}

	opts, err := cmd.ParseArgs(os.Args[1:])
	if err != nil {
		applog.Fatalf("%v", err)
	}
	if opts.Command == "" {
		return
	}

	cfg := opts.Config
	applog.SetLevelString(cfg.EffectiveLogLevel())
	applog.Debugf("%s", build.GetBuildFlags())

	switch opts.Command {
	case cmd.CommandList:
		err = listDevices(cfg)
	case cmd.CommandDevices:
		err = pickDevices(cfg)
	case cmd.CommandRender:
		err = render(cfg, opts.Render)
	case cmd.CommandRun:
		err = run(cfg, opts.Headless)
	}
	if err != nil {
		applog.Fatalf("%v", err)
	}
}

func withPortAudio(cfg *config.Config, fn func() error) error {
	if cfg.Audio.Backend != config.BackendPortAudio {
		return fn()
	}
	if err := audio.Initialize(); err != nil {
		return err
	}
	defer func() {
		if err := audio.Terminate(); err != nil {
			applog.Warnf("%v", err)
		}
	}()
	return fn()
}

func listDevices(cfg *config.Config) error {
	return withPortAudio(cfg, func() error {
		return audio.ListDevices(os.Stdout, cfg.Audio.Backend)
	})
}

// pickDevices runs the interactive picker and prints the chosen devices as
// an audio section for config.yaml.
func pickDevices(cfg *config.Config) error {
	cfg.Audio.Backend = config.BackendPortAudio
	return withPortAudio(cfg, func() error {
		sel, err := tui.RunDevicePicker(audio.HostDevices, cfg)
		if err != nil {
			return err
		}
		if !sel.Confirmed {
			return nil
		}
		sel.Apply(cfg)
		out, err := yaml.Marshal(struct {
			Audio config.AudioConfig `yaml:"audio"`
		}{cfg.Audio})
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(out)
		return err
	})
}

func render(cfg *config.Config, args cmd.RenderArgs) error {
	in, err := os.Open(args.Input)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(args.Output)
	if err != nil {
		return err
	}

	stats, err := audio.Render(cfg, in, out, audio.RenderOptions{
		Activate: args.Voices,
		Amount:   args.Amount,
		Tail:     args.Tail,
	})
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("render %s: %w", args.Input, err)
	}
	fmt.Printf("Rendered %s: %d frames in, %d frames out (%s at %d Hz)\n", args.Output,
		stats.InputFrames, stats.OutputFrames,
		time.Duration(float64(stats.OutputFrames)/float64(stats.SampleRate)*float64(time.Second)).Round(time.Millisecond),
		stats.SampleRate)
	return nil
}

// closer collects shutdown steps and runs them in reverse order.
type closer []func() error

func (c *closer) add(fn func() error) { *c = append(*c, fn) }

func (c closer) run() error {
	var errs error
	for i := len(c) - 1; i >= 0; i-- {
		errs = errors.Join(errs, c[i]())
	}
	return errs
}

func run(cfg *config.Config, headless bool) (err error) {
	var cleanup closer
	defer func() { err = errors.Join(err, cleanup.run()) }()

	ctx, cancel := context.WithCancel(context.Background())
	cleanup.add(func() error { cancel(); return nil })

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	engineMetrics, err := metrics.NewEngineMetrics(registry, cfg.Stretch.Voices)
	if err != nil {
		return err
	}

	queue := control.NewQueue(cfg.Control.QueueSize)
	engineOpts := audio.EngineOptions{Queue: queue, Metrics: engineMetrics}

	// Spectrum bands go to the control clients, or to the debug log when
	// there is no surface.
	var broadcast transport.Transport
	if cfg.Control.Enabled {
		outbox := control.NewOutbox(outboxSize)
		surfaceOpts := control.SurfaceOptions{
			Addr:    cfg.Control.ListenAddress,
			Voices:  cfg.Stretch.Voices,
			Stretch: control.StretchRange{Min: cfg.Stretch.MinAmount, Max: cfg.Stretch.MaxAmount},
		}
		if cfg.Control.Metrics {
			surfaceOpts.Metrics = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
		}
		surface := control.NewSurface(surfaceOpts, queue, outbox)
		if err := surface.Start(); err != nil {
			return err
		}
		cleanup.add(surface.Close)
		engineOpts.Reporter = outbox
		broadcast = surface.Broadcast()
	} else if cfg.Debug {
		broadcast = transport.NewLoggingTransport()
	}

	if broadcast != nil || cfg.Transport.UDPEnabled {
		window, err := analysis.ParseWindowFunc(cfg.Transport.FFTWindow)
		if err != nil {
			applog.Warnf("%v", err)
		}
		spectrum, err := analysis.NewFFTProcessor(cfg.Transport.FFTSize, cfg.Audio.SampleRate, window)
		if err != nil {
			return err
		}
		cleanup.add(spectrum.Close)
		engineOpts.Analyzer = spectrum

		if broadcast != nil {
			bands, err := analysis.NewBandEnergyProcessor(broadcast, spectrum)
			if err != nil {
				return err
			}
			go bands.Run(ctx, cfg.Transport.UDPSendInterval)
		}

		if cfg.Transport.UDPEnabled {
			sender, err := udp.NewUDPSender(cfg.Transport.UDPTargetAddress)
			if err != nil {
				return err
			}
			cleanup.add(sender.Close)
			publisher, err := udp.NewUDPPublisher(cfg.Transport.UDPSendInterval, sender, spectrum)
			if err != nil {
				return err
			}
			publisher.Start()
			cleanup.add(publisher.Stop)
		}
	}

	engine, err := audio.NewEngine(cfg, engineOpts)
	if err != nil {
		return err
	}
	cleanup.add(engine.Close)

	if cfg.Audio.Backend == config.BackendPortAudio {
		if err := audio.Initialize(); err != nil {
			return err
		}
		cleanup.add(audio.Terminate)
	}

	stream, err := audio.OpenStream(cfg, engine)
	if err != nil {
		return err
	}
	cleanup.add(stream.Close)

	if cfg.Recording.Enabled {
		if err := os.MkdirAll(cfg.Recording.OutputDir, 0o755); err != nil {
			return fmt.Errorf("recording directory: %w", err)
		}
		name := audio.RecordingName(cfg.Recording.OutputDir, time.Now())
		if err := engine.StartRecording(name); err != nil {
			return err
		}
		cleanup.add(func() error {
			if err := engine.StopRecording(); err != nil {
				return err
			}
			fmt.Printf("Recording saved to: %s\n", name)
			return nil
		})
	}

	// ==================== CONCURRENT PHASE (Hot Path) ====================

	// The audio thread starts calling Engine.Process here.
	if err := stream.Start(); err != nil {
		return err
	}
	cleanup.add(stream.Stop)

	if headless {
		signals, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()
		applog.Infof("Running headless, interrupt to stop")
		<-signals.Done()
	} else if err := monitor(engine, queue); err != nil {
		return err
	}

	// ==================== SHUTDOWN PHASE (Cold Path) ====================

	applog.Infof("Shutting down after %d callbacks (%d silent, %d xruns)",
		engine.Callbacks(), engine.Failures(), engine.Xruns())
	return nil
}

// monitor runs the terminal UI with the log redirected to a file so it does
// not draw over the screen.
func monitor(engine *audio.Engine, queue *control.Queue) error {
	logPath := filepath.Join(os.TempDir(), build.GetBuildFlags().Name+".log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		applog.Warnf("Logging to stderr under the monitor: %v", err)
		return tui.RunMonitor(engine, queue, tui.DefaultRefresh)
	}
	applog.Infof("Monitor running, log continues in %s", logPath)
	applog.SetOutput(logFile)
	defer func() {
		applog.SetOutput(os.Stderr)
		_ = logFile.Close()
	}()
	return tui.RunMonitor(engine, queue, tui.DefaultRefresh)
}
