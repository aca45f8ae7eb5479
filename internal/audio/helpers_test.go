// SPDX-License-Identifier: MIT
package audio

import (
	"strconv"

	"paulring/internal/config"
	"paulring/pkg/utils"
)

const (
	testSampleRate = 44100
	testFrameSize  = 256
	testWindowSize = 512
)

var (
	quietBuffer = utils.GenerateSineWave(testFrameSize, testSampleRate, 440, 0.01)
	testBuffer  = utils.GenerateSineWave(testFrameSize, testSampleRate, 440, 0.5)
	loudBuffer  = utils.GenerateSineWave(testFrameSize, testSampleRate, 440, 0.99)
)

// testConfig returns a small valid configuration: 256 frames per callback,
// 512 sample grains and a 4096 sample ring of 64 sample blocks.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Audio.SampleRate = testSampleRate
	cfg.Audio.FramesPerBuffer = testFrameSize
	cfg.Audio.InputChannels = 1
	cfg.Audio.OutputChannels = 2
	cfg.Buffer.BlockSize = 64
	cfg.Buffer.NumBlocks = 64
	cfg.Stretch.Voices = 2
	cfg.Stretch.WindowSize = testWindowSize
	cfg.Stretch.MaxWindowSize = testWindowSize
	cfg.Stretch.Amount = 2
	cfg.Stretch.Preroll = 64
	cfg.Stretch.Seed = 7
	cfg.Recording.BitDepth = 16
	return cfg
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 3, 64)
}
