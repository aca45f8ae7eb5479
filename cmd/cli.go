// SPDX-License-Identifier: MIT
package cmd

import (
	"fmt"
	"time"

	"paulring/internal/config"
	"paulring/pkg/build"

	"github.com/spf13/cobra"
)

// Commands selected on the command line.
const (
	CommandRun     = "run"
	CommandList    = "list"
	CommandDevices = "devices"
	CommandRender  = "render"
)

// DefaultRenderTail is the silence rendered after the input file.
const DefaultRenderTail = 10 * time.Second

// RenderArgs are the arguments of the render command.
type RenderArgs struct {
	Input  string
	Output string
	Voices []int
	Amount float64
	Tail   time.Duration
}

// Options is the parsed command line together with the configuration it
// selected.
type Options struct {
	Command    string // Empty when only help or the version was printed.
	ConfigPath string
	Verbose    bool
	Headless   bool // Run without the terminal monitor.
	Record     bool
	Render     RenderArgs
	Config     *config.Config
}

// overrides are flag values applied on top of the loaded configuration when
// the flag was given.
type overrides struct {
	backend      string
	inputDevice  int
	outputDevice int
	sampleRate   float64
	frames       int
	lowLatency   bool
	voices       int
	amount       float64
	autoCue      bool
	listen       string
}

// ParseArgs parses args (without the program name), loads the configuration
// and applies the flags to it.
func ParseArgs(args []string) (*Options, error) {
	buildInfo := build.GetBuildFlags()
	options := &Options{}
	var ov overrides

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         buildInfo.Description,
		Version:       buildInfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			options.Command = CommandRun
			return nil
		},
	}
	rootCmd.SetVersionTemplate(buildInfo.String() + "\n")
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List available audio devices",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			options.Command = CommandList
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "devices",
		Short: "Pick input and output devices interactively and print the audio config",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			options.Command = CommandDevices
		},
	})

	renderCmd := &cobra.Command{
		Use:   "render <input.wav> <output.wav>",
		Short: "Stretch a WAV file offline",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			options.Command = CommandRender
			options.Render.Input = args[0]
			options.Render.Output = args[1]
			if options.Render.Tail < 0 {
				return fmt.Errorf("--tail must not be negative")
			}
			return nil
		},
	}
	renderCmd.Flags().IntSliceVar(&options.Render.Voices, "voice", []int{0},
		"Voices to start on the first block (0-based)")
	renderCmd.Flags().Float64Var(&options.Render.Amount, "amount", 0,
		"Stretch amount of the started voices (0 keeps the configured amount)")
	renderCmd.Flags().DurationVar(&options.Render.Tail, "tail", DefaultRenderTail,
		"Silence rendered after the input so the voices can play out")
	rootCmd.AddCommand(renderCmd)

	// Global
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&options.ConfigPath, "config", "f", "",
		"Configuration file (default: ./config.yaml if present)")
	pf.BoolVarP(&options.Verbose, "verbose", "v", false,
		"Show debug output")
	pf.StringVar(&ov.backend, "backend", config.DefaultBackend,
		"Audio backend: portaudio or malgo")

	// Audio Device Configuration
	pf.IntVarP(&ov.inputDevice, "input-device", "d", config.DefaultDeviceID,
		"Input device ID. Use the 'list' command to see available devices.")
	pf.IntVarP(&ov.outputDevice, "output-device", "D", config.DefaultDeviceID,
		"Output device ID")
	pf.Float64VarP(&ov.sampleRate, "sample-rate", "s", config.DefaultSampleRate,
		"Sample rate, measured in Hertz (Hz)")
	pf.IntVarP(&ov.frames, "frames-per-buffer", "b", config.DefaultFramesPerBuffer,
		"Frames per callback, a multiple of half the window size")
	pf.BoolVarP(&ov.lowLatency, "low-latency", "l", false,
		"Use low latency mode for real-time processing")

	// Stretch Configuration
	pf.IntVar(&ov.voices, "voices", config.DefaultVoices, "Number of stretch voices")
	rootCmd.Flags().Float64Var(&ov.amount, "amount", config.DefaultStretchAmount, "Initial stretch amount of every voice")
	rootCmd.Flags().BoolVar(&ov.autoCue, "auto-cue", false, "Start an idle voice at every transient")

	// Run Configuration
	rootCmd.Flags().BoolVar(&options.Headless, "headless", false, "Run without the terminal monitor")
	rootCmd.Flags().BoolVarP(&options.Record, "record", "r", false, "Record the output mix")
	rootCmd.Flags().StringVar(&ov.listen, "listen", config.DefaultListenAddress, "Control surface address")

	rootCmd.SetArgs(args)
	executed, err := rootCmd.ExecuteC()
	if err != nil {
		return nil, err
	}
	if options.Command == "" {
		return options, nil
	}

	cfg, err := config.LoadConfig(options.ConfigPath)
	if err != nil {
		return nil, err
	}
	changed := executed.Flags().Changed
	if changed("backend") {
		cfg.Audio.Backend = ov.backend
	}
	if changed("input-device") {
		cfg.Audio.InputDevice = ov.inputDevice
	}
	if changed("output-device") {
		cfg.Audio.OutputDevice = ov.outputDevice
	}
	if changed("sample-rate") {
		cfg.Audio.SampleRate = ov.sampleRate
	}
	if changed("frames-per-buffer") {
		cfg.Audio.FramesPerBuffer = ov.frames
	}
	if changed("low-latency") {
		cfg.Audio.LowLatency = ov.lowLatency
	}
	if changed("voices") {
		cfg.Stretch.Voices = ov.voices
	}
	if changed("amount") && options.Command != CommandRender {
		cfg.Stretch.Amount = ov.amount
	}
	if changed("auto-cue") {
		cfg.Stretch.AutoCue = ov.autoCue
	}
	if changed("listen") {
		cfg.Control.ListenAddress = ov.listen
	}
	if options.Record {
		cfg.Recording.Enabled = true
	}
	if options.Verbose {
		cfg.Debug = true
	}
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	options.Config = cfg
	return options, nil
}
