package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/c360/soundpost/errors"
)

const opusHeadMagic = "OpusHead"

// Head is the identification header of an Opus stream
type Head struct {
	Version         int
	Channels        int
	PreSkip         int
	InputSampleRate int
	OutputGain      int
	MappingFamily   int
}

// ParseHead decodes an OpusHead packet
func ParseHead(packet []byte) (Head, error) {
	if len(packet) < 19 {
		return Head{}, errors.WrapInvalid(errors.ErrDecodeFailed,
			"codec", "ParseHead", fmt.Sprintf("accept %d-byte header", len(packet)))
	}
	if string(packet[:8]) != opusHeadMagic {
		return Head{}, errors.WrapInvalid(errors.ErrDecodeFailed,
			"codec", "ParseHead", fmt.Sprintf("match magic %q", packet[:8]))
	}

	h := Head{
		Version:         int(packet[8]),
		Channels:        int(packet[9]),
		PreSkip:         int(binary.LittleEndian.Uint16(packet[10:12])),
		InputSampleRate: int(binary.LittleEndian.Uint32(packet[12:16])),
		OutputGain:      int(int16(binary.LittleEndian.Uint16(packet[16:18]))),
		MappingFamily:   int(packet[18]),
	}

	if h.Version>>4 != 0 {
		return Head{}, errors.WrapInvalid(errors.ErrDecodeFailed,
			"codec", "ParseHead", fmt.Sprintf("accept header version %d", h.Version))
	}
	if h.Channels < 1 || h.Channels > 2 {
		return Head{}, errors.WrapInvalid(errors.ErrDecodeFailed,
			"codec", "ParseHead", fmt.Sprintf("accept %d channels", h.Channels))
	}
	return h, nil
}
