package codec

import (
	"fmt"

	"github.com/pion/opus"

	"github.com/c360/soundpost/errors"
)

// OpusDecoder adapts the pion Opus decoder to the Decoder interface. It
// decodes into an internal scratch buffer and converts the little-endian
// samples to int16. A failed decode is returned to the caller unaltered in
// meaning; nothing downstream may treat it as success.
type OpusDecoder struct {
	dec     opus.Decoder
	cfg     Config
	scratch []byte
}

// NewOpusDecoder creates a decoder for the configured pipeline shape
func NewOpusDecoder(cfg Config) (*OpusDecoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &OpusDecoder{
		dec:     opus.NewDecoder(),
		cfg:     cfg,
		scratch: make([]byte, MaxFrameSamples*2*2),
	}, nil
}

// Decode decodes one packet into pcm, reporting samples per channel
func (d *OpusDecoder) Decode(packet []byte, pcm []int16) (int, error) {
	_, isStereo, err := d.dec.Decode(packet, d.scratch)
	if err != nil {
		return 0, errors.WrapInvalid(err, "codec", "Decode", "decode opus packet")
	}

	channels := 1
	if isStereo {
		channels = 2
	}
	if channels != d.cfg.DecodeChannels {
		return 0, errors.WrapInvalid(errors.ErrFrameSize,
			"codec", "Decode",
			fmt.Sprintf("accept %d-channel packet in %d-channel pipeline",
				channels, d.cfg.DecodeChannels))
	}

	samples := d.cfg.SamplesPerFrame()
	total := samples * channels
	if total > len(pcm) {
		return 0, errors.WrapInvalid(errors.ErrFrameSize,
			"codec", "Decode",
			fmt.Sprintf("fit %d samples in %d-sample buffer", total, len(pcm)))
	}

	for i := 0; i < total; i++ {
		pcm[i] = int16(uint16(d.scratch[2*i]) | uint16(d.scratch[2*i+1])<<8)
	}
	return samples, nil
}
