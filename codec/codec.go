// Package codec turns staged Opus payloads into PCM frames. Payloads arrive
// as Ogg-encapsulated Opus; the reader walks pages into packets and the
// decoder produces interleaved int16 samples.
package codec

import (
	"fmt"

	"github.com/c360/soundpost/errors"
)

// Defaults for the audio pipeline
const (
	DefaultSampleRateHz   = 48000
	DefaultFrameMs        = 20
	DefaultDecodeChannels = 1
	DefaultOutputChannels = 2

	// MaxFrameSamples bounds a single decoded frame per channel; Opus
	// allows up to 120 ms at 48 kHz.
	MaxFrameSamples = 48000 / 1000 * 120
)

// Config describes the decode pipeline shape
type Config struct {
	SampleRateHz   int
	FrameMs        int
	DecodeChannels int
	OutputChannels int
}

// DefaultConfig returns the standard mono-decode stereo-output pipeline
func DefaultConfig() Config {
	return Config{
		SampleRateHz:   DefaultSampleRateHz,
		FrameMs:        DefaultFrameMs,
		DecodeChannels: DefaultDecodeChannels,
		OutputChannels: DefaultOutputChannels,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.SampleRateHz <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"codec", "Validate", fmt.Sprintf("accept sample rate %d", c.SampleRateHz))
	}
	if c.FrameMs <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"codec", "Validate", fmt.Sprintf("accept frame duration %dms", c.FrameMs))
	}
	if c.DecodeChannels < 1 || c.DecodeChannels > 2 {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"codec", "Validate", fmt.Sprintf("accept %d decode channels", c.DecodeChannels))
	}
	if c.OutputChannels < c.DecodeChannels || c.OutputChannels > 2 {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"codec", "Validate", fmt.Sprintf("accept %d output channels", c.OutputChannels))
	}
	return nil
}

// SamplesPerFrame returns the nominal per-channel sample count of one frame
func (c Config) SamplesPerFrame() int {
	return c.SampleRateHz / 1000 * c.FrameMs
}

// Decoder decodes one Opus packet into interleaved int16 PCM. It reports
// samples produced per channel. Decode failures are returned as-is; callers
// must not paper over them.
type Decoder interface {
	Decode(packet []byte, pcm []int16) (int, error)
}
