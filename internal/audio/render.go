// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
	"io"
	"time"

	"paulring/internal/config"
	"paulring/internal/control"
	applog "paulring/internal/log"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrInvalidWAV is returned by Render for input that is not a PCM WAV file.
var ErrInvalidWAV = errors.New("input is not a valid WAV file")

// RenderOptions scripts an offline render.
type RenderOptions struct {
	Activate []int         // Voices started on the first block.
	Amount   float64       // Stretch amount of the started voices; zero keeps the configured amount.
	Tail     time.Duration // Silence fed after the input so the voices can play out.
}

// RenderStats describes a finished render.
type RenderStats struct {
	SampleRate   int
	WindowSize   int // Grain length after resolving window_seconds at the file's rate.
	InputFrames  int
	OutputFrames int
	Failures     uint64 // Blocks that rendered as silence.
}

// Render stretches a WAV stream through an Engine built from cfg and writes
// the stereo mix as WAV. The sample rate and channel count come from the
// input, and settings derived from the rate are resolved again for it; the
// output length is the input plus the tail, each rounded up to a
// whole number of callbacks.
func Render(cfg *config.Config, in io.ReadSeeker, out io.WriteSeeker, opts RenderOptions) (RenderStats, error) {
	dec := wav.NewDecoder(in)
	if !dec.IsValidFile() {
		return RenderStats{}, ErrInvalidWAV
	}
	dec.ReadInfo()
	if err := dec.Err(); err != nil {
		return RenderStats{}, fmt.Errorf("reading WAV header: %w", err)
	}
	if dec.NumChans == 0 || dec.BitDepth == 0 {
		return RenderStats{}, ErrInvalidWAV
	}

	c := *cfg
	c.Audio.SampleRate = float64(dec.SampleRate)
	c.Audio.InputChannels = int(dec.NumChans)
	c.Audio.OutputChannels = 2
	c.Resolve()
	channels := c.Audio.InputChannels
	frames := c.Audio.FramesPerBuffer
	bitDepth := c.Recording.BitDepth

	queue := control.NewQueue(2*len(opts.Activate) + 1)
	for _, v := range opts.Activate {
		if opts.Amount > 0 {
			if err := queue.Push(control.Intent{Kind: control.SetStretch, Voice: v, Value: opts.Amount}); err != nil {
				return RenderStats{}, err
			}
		}
		if err := queue.Push(control.Intent{Kind: control.Activate, Voice: v}); err != nil {
			return RenderStats{}, err
		}
	}

	engine, err := NewEngine(&c, EngineOptions{Queue: queue})
	if err != nil {
		return RenderStats{}, err
	}
	defer engine.Close()

	stats := RenderStats{SampleRate: int(dec.SampleRate), WindowSize: c.Stretch.WindowSize}
	applog.Infof("Render: %d Hz, %d channels, %d-bit in, voices %v", stats.SampleRate, channels, dec.BitDepth, opts.Activate)

	inScale := 1 / float64(int64(1)<<(dec.BitDepth-1))
	outScale := float64(int64(1)<<(bitDepth-1) - 1)
	pcm := &audio.IntBuffer{Format: dec.Format(), Data: make([]int, frames*channels)}
	inBuf := make([]float32, frames*channels)
	outBuf := make([]float32, frames*2)
	enc := wav.NewEncoder(out, stats.SampleRate, bitDepth, 2, 1)
	outPCM := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 2, SampleRate: stats.SampleRate},
		Data:           make([]int, frames*2),
		SourceBitDepth: bitDepth,
	}

	block := func() error {
		engine.Process(inBuf, outBuf, frames)
		for i, x := range outBuf {
			outPCM.Data[i] = int(float64(max(-1, min(1, x))) * outScale)
		}
		stats.OutputFrames += frames
		return enc.Write(outPCM)
	}

	for {
		n, err := dec.PCMBuffer(pcm)
		if err != nil && !errors.Is(err, io.EOF) {
			return stats, fmt.Errorf("reading samples: %w", err)
		}
		if n == 0 {
			break
		}
		for i := range inBuf {
			if i < n {
				inBuf[i] = float32(float64(pcm.Data[i]) * inScale)
			} else {
				inBuf[i] = 0
			}
		}
		stats.InputFrames += n / channels
		if err := block(); err != nil {
			return stats, fmt.Errorf("writing samples: %w", err)
		}
	}

	clear(inBuf)
	tail := int(opts.Tail.Seconds() * c.Audio.SampleRate)
	for done := 0; done < tail; done += frames {
		if err := block(); err != nil {
			return stats, fmt.Errorf("writing tail: %w", err)
		}
	}

	if err := enc.Close(); err != nil {
		return stats, fmt.Errorf("finalizing WAV: %w", err)
	}
	stats.Failures = engine.Failures()
	applog.Infof("Render: %d frames in, %d frames out, %d silent blocks", stats.InputFrames, stats.OutputFrames, stats.Failures)
	return stats, nil
}
