// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"paulring/internal/config"
	applog "paulring/internal/log"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrAlreadyRecording is returned by StartRecording while a recording runs.
var ErrAlreadyRecording = errors.New("already recording")

// recordingBlocks is the number of callbacks the writer may fall behind.
const recordingBlocks = 16

// Recorder writes the stereo output mix to a WAV file. Write is called on
// the audio thread and never blocks: blocks are handed to a writer goroutine
// through pre-allocated buffers and dropped when the writer falls behind.
type Recorder struct {
	path       string
	file       *os.File
	encoder    *wav.Encoder
	sampleRate int
	bitDepth   int
	scale      float64
	maxFrames  int64

	free chan *audio.IntBuffer
	full chan *audio.IntBuffer
	done chan struct{}

	frames   atomic.Int64
	dropped  atomic.Uint64
	failures int // Consecutive encoder errors, writer goroutine only.
	stopped  atomic.Bool

	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// NewRecorder creates path and starts the writer goroutine. maxDuration of
// zero records until Close.
func NewRecorder(path string, sampleRate, bitDepth, framesPerBuffer int, maxDuration time.Duration) (*Recorder, error) {
	switch bitDepth {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("unsupported bit depth %d", bitDepth)
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	r := &Recorder{
		path:       path,
		file:       file,
		encoder:    wav.NewEncoder(file, sampleRate, bitDepth, 2, 1),
		sampleRate: sampleRate,
		bitDepth:   bitDepth,
		scale:      float64(int64(1)<<(bitDepth-1) - 1),
		maxFrames:  int64(maxDuration.Seconds() * float64(sampleRate)),
		free:       make(chan *audio.IntBuffer, recordingBlocks),
		full:       make(chan *audio.IntBuffer, recordingBlocks),
		done:       make(chan struct{}),
	}
	for range recordingBlocks {
		r.free <- &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: 2, SampleRate: sampleRate},
			Data:           make([]int, 2*framesPerBuffer),
			SourceBitDepth: bitDepth,
		}
	}

	r.wg.Add(1)
	go r.run()
	applog.Infof("Recorder: Writing %d-bit stereo to %s", bitDepth, path)
	return r, nil
}

// Path returns the output file name.
func (r *Recorder) Path() string { return r.path }

// Frames returns the number of frames handed to the writer.
func (r *Recorder) Frames() int64 { return r.frames.Load() }

// Dropped returns the number of blocks discarded because the writer was behind.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Write queues one block of the mix. Blocks larger than the buffers the
// recorder was sized for are dropped.
func (r *Recorder) Write(mix [][2]float64) {
	if r.stopped.Load() {
		return
	}
	if r.maxFrames > 0 && r.frames.Load() >= r.maxFrames {
		return
	}

	var buf *audio.IntBuffer
	select {
	case buf = <-r.free:
	default:
		r.dropped.Add(1)
		return
	}
	if 2*len(mix) > cap(buf.Data) {
		r.free <- buf
		r.dropped.Add(1)
		return
	}

	buf.Data = buf.Data[:2*len(mix)]
	for k, fr := range mix {
		buf.Data[2*k] = r.quantize(fr[0])
		buf.Data[2*k+1] = r.quantize(fr[1])
	}
	r.frames.Add(int64(len(mix)))
	r.full <- buf
}

func (r *Recorder) quantize(x float64) int {
	x = max(-1, min(1, x))
	return int(x * r.scale)
}

// run encodes queued blocks until Close, then drains what is left. The
// channels hold every buffer, so a late Write never blocks.
func (r *Recorder) run() {
	defer r.wg.Done()
	for {
		select {
		case buf := <-r.full:
			r.encode(buf)
		case <-r.done:
			for {
				select {
				case buf := <-r.full:
					r.encode(buf)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) encode(buf *audio.IntBuffer) {
	defer func() { r.free <- buf }()
	if r.failures >= config.DefaultMaxConsecutiveWriteFailures {
		return
	}
	if err := r.encoder.Write(buf); err != nil {
		r.failures++
		applog.Errorf("Recorder: Error writing to WAV file: %v", err)
		if r.failures == config.DefaultMaxConsecutiveWriteFailures {
			r.stopped.Store(true)
			applog.Errorf("Recorder: Giving up on %s after %d failed writes", r.path, r.failures)
		}
		return
	}
	r.failures = 0
}

// Close drains the queued blocks, finalizes the WAV header and closes the
// file. Blocks written after Close are discarded.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		r.stopped.Store(true)
		close(r.done)
		r.wg.Wait()

		r.closeErr = errors.Join(r.encoder.Close(), r.file.Close())
		applog.Infof("Recorder: Closed %s (%d frames, %d blocks dropped)", r.path, r.frames.Load(), r.dropped.Load())
	})
	return r.closeErr
}

// RecordingName returns a timestamped file name in dir.
func RecordingName(dir string, now time.Time) string {
	return filepath.Join(dir, "paulring-"+now.Format("20060102-150405")+".wav")
}

// StartRecording begins recording the output mix to filename.
func (e *Engine) StartRecording(filename string) error {
	if e.recorder.Load() != nil {
		return ErrAlreadyRecording
	}
	rc := e.config.Recording
	rec, err := NewRecorder(filename, int(e.config.Audio.SampleRate), rc.BitDepth, e.frames,
		time.Duration(rc.MaxDuration)*time.Second)
	if err != nil {
		return err
	}
	if !e.recorder.CompareAndSwap(nil, rec) {
		_ = rec.Close()
		_ = os.Remove(filename)
		return ErrAlreadyRecording
	}
	return nil
}

// StopRecording finalizes the current recording, if any. A block the audio
// thread is writing at that moment may be lost.
func (e *Engine) StopRecording() error {
	rec := e.recorder.Swap(nil)
	if rec == nil {
		return nil
	}
	if e.metrics != nil {
		e.metrics.RecordingFrames.Add(float64(rec.Frames()))
	}
	return rec.Close()
}

// Recording returns the active recorder, or nil.
func (e *Engine) Recording() *Recorder { return e.recorder.Load() }
