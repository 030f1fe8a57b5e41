// Package envelope parses and builds the on-wire alert envelope: a 4-char
// ASCII-hex length prefix, a JSON metadata block, and a raw Opus payload.
package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/c360/soundpost/errors"
)

const (
	// PrefixLen is the fixed size of the ASCII-hex metadata length prefix
	PrefixLen = 4

	// MaxMetadataBytes bounds the JSON metadata block
	MaxMetadataBytes = 1024

	// DefaultPriority is applied when the metadata omits priority
	DefaultPriority = 5

	// DefaultVolume is applied when the metadata omits volume
	DefaultVolume = 40

	// DefaultPlayCount is applied when the metadata omits playCount
	DefaultPlayCount = 1

	// MaxPriority is the largest accepted priority value
	MaxPriority = 255

	// MaxVolume is the level volume values are clamped to
	MaxVolume = 100
)

// Metadata describes one alert after defaults and clamping are applied.
// PlayCount 0 means repeat until interrupted.
type Metadata struct {
	OpusDataSize     int
	Priority         int
	Volume           int
	PlayCount        int
	InterruptCurrent bool
	SaveToFile       bool
	Filename         string
}

// wireMetadata is the raw JSON shape. Pointer fields distinguish absent from
// zero, which matters for playCount where an explicit 0 means infinite.
type wireMetadata struct {
	OpusDataSize     *int   `json:"opusDataSize"`
	Priority         *int   `json:"priority,omitempty"`
	Volume           *int   `json:"volume,omitempty"`
	PlayCount        *int   `json:"playCount,omitempty"`
	InterruptCurrent bool   `json:"interruptCurrent,omitempty"`
	SaveToFile       bool   `json:"saveToFile,omitempty"`
	Filename         string `json:"filename,omitempty"`
}

// ParsePrefix decodes the 4-char ASCII-hex metadata length. It accepts both
// upper and lower case hex digits and rejects anything else.
func ParsePrefix(prefix []byte) (int, error) {
	if len(prefix) != PrefixLen {
		return 0, errors.WrapInvalid(errors.ErrInvalidPrefix,
			"envelope", "ParsePrefix",
			fmt.Sprintf("read %d-byte prefix", len(prefix)))
	}

	length := 0
	for _, b := range prefix {
		var digit int
		switch {
		case b >= '0' && b <= '9':
			digit = int(b - '0')
		case b >= 'a' && b <= 'f':
			digit = int(b-'a') + 10
		case b >= 'A' && b <= 'F':
			digit = int(b-'A') + 10
		default:
			return 0, errors.WrapInvalid(errors.ErrInvalidPrefix,
				"envelope", "ParsePrefix",
				fmt.Sprintf("decode hex byte 0x%02x", b))
		}
		length = length<<4 | digit
	}

	if length == 0 {
		return 0, errors.WrapInvalid(errors.ErrInvalidPrefix,
			"envelope", "ParsePrefix", "accept zero metadata length")
	}
	if length > MaxMetadataBytes {
		return 0, errors.WrapInvalid(errors.ErrInvalidPrefix,
			"envelope", "ParsePrefix",
			fmt.Sprintf("accept metadata length %d over limit %d", length, MaxMetadataBytes))
	}
	return length, nil
}

// ParseMetadata decodes the JSON block, applies defaults, and clamps volume.
// opusDataSize is required and must be positive.
func ParseMetadata(data []byte) (Metadata, error) {
	var wire wireMetadata
	if err := json.Unmarshal(data, &wire); err != nil {
		return Metadata{}, errors.WrapInvalid(err,
			"envelope", "ParseMetadata", "decode metadata JSON")
	}

	if wire.OpusDataSize == nil {
		return Metadata{}, errors.WrapInvalid(errors.ErrInvalidEnvelope,
			"envelope", "ParseMetadata", "require opusDataSize")
	}
	if *wire.OpusDataSize <= 0 {
		return Metadata{}, errors.WrapInvalid(errors.ErrInvalidEnvelope,
			"envelope", "ParseMetadata",
			fmt.Sprintf("accept opusDataSize %d", *wire.OpusDataSize))
	}

	meta := Metadata{
		OpusDataSize:     *wire.OpusDataSize,
		Priority:         DefaultPriority,
		Volume:           DefaultVolume,
		PlayCount:        DefaultPlayCount,
		InterruptCurrent: wire.InterruptCurrent,
		SaveToFile:       wire.SaveToFile,
		Filename:         wire.Filename,
	}

	if wire.Priority != nil {
		if *wire.Priority < 0 || *wire.Priority > MaxPriority {
			return Metadata{}, errors.WrapInvalid(errors.ErrInvalidEnvelope,
				"envelope", "ParseMetadata",
				fmt.Sprintf("accept priority %d", *wire.Priority))
		}
		meta.Priority = *wire.Priority
	}
	if wire.Volume != nil {
		v := *wire.Volume
		if v < 0 {
			v = 0
		}
		if v > MaxVolume {
			v = MaxVolume
		}
		meta.Volume = v
	}
	if wire.PlayCount != nil {
		if *wire.PlayCount < 0 {
			return Metadata{}, errors.WrapInvalid(errors.ErrInvalidEnvelope,
				"envelope", "ParseMetadata",
				fmt.Sprintf("accept playCount %d", *wire.PlayCount))
		}
		meta.PlayCount = *wire.PlayCount
	}

	return meta, nil
}

// ValidateBoundaries checks the metadata length against the announced total
// before any offset arithmetic, so a short or lying header can never drive a
// negative payload size.
func ValidateBoundaries(totalLen, metaLen int) error {
	if totalLen < PrefixLen+1 {
		return errors.WrapInvalid(errors.ErrShortMessage,
			"envelope", "ValidateBoundaries",
			fmt.Sprintf("accept %d-byte message", totalLen))
	}
	if metaLen <= 0 || metaLen > MaxMetadataBytes {
		return errors.WrapInvalid(errors.ErrBoundaryInvalid,
			"envelope", "ValidateBoundaries",
			fmt.Sprintf("accept metadata length %d", metaLen))
	}
	if PrefixLen+metaLen > totalLen {
		return errors.WrapInvalid(errors.ErrBoundaryInvalid,
			"envelope", "ValidateBoundaries",
			fmt.Sprintf("fit metadata length %d in %d-byte message", metaLen, totalLen))
	}
	return nil
}

// PayloadSize returns the byte count left for the Opus payload after the
// prefix and metadata. Call ValidateBoundaries first.
func PayloadSize(totalLen, metaLen int) int {
	return totalLen - PrefixLen - metaLen
}

// CheckPayloadSize verifies the metadata's advertised payload size against
// the bytes the envelope actually carries. The two must agree exactly:
// prefix + metadata + opusDataSize accounts for the whole announced length,
// so trailing bytes never reach the decoder.
func CheckPayloadSize(meta Metadata, totalLen, metaLen int) error {
	got := PayloadSize(totalLen, metaLen)
	if meta.OpusDataSize > got {
		return errors.WrapInvalid(errors.ErrPayloadOverrun,
			"envelope", "CheckPayloadSize",
			fmt.Sprintf("fit %d advertised payload bytes in %d carried", meta.OpusDataSize, got))
	}
	if meta.OpusDataSize < got {
		return errors.WrapInvalid(errors.ErrBoundaryInvalid,
			"envelope", "CheckPayloadSize",
			fmt.Sprintf("account for %d carried payload bytes with %d advertised", got, meta.OpusDataSize))
	}
	return nil
}

// Encode builds a complete wire envelope from metadata and payload. The
// metadata is re-marshalled so the prefix always matches the emitted JSON.
func Encode(meta Metadata, payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidEnvelope,
			"envelope", "Encode", "accept empty payload")
	}

	size := meta.OpusDataSize
	if size == 0 {
		size = len(payload)
	}
	wire := wireMetadata{
		OpusDataSize:     &size,
		InterruptCurrent: meta.InterruptCurrent,
		SaveToFile:       meta.SaveToFile,
		Filename:         meta.Filename,
	}
	if meta.Priority != DefaultPriority {
		wire.Priority = &meta.Priority
	}
	if meta.Volume != DefaultVolume {
		wire.Volume = &meta.Volume
	}
	if meta.PlayCount != DefaultPlayCount {
		wire.PlayCount = &meta.PlayCount
	}

	blob, err := json.Marshal(wire)
	if err != nil {
		return nil, errors.WrapInvalid(err,
			"envelope", "Encode", "marshal metadata")
	}
	if len(blob) > MaxMetadataBytes {
		return nil, errors.WrapInvalid(errors.ErrMessageTooLarge,
			"envelope", "Encode",
			fmt.Sprintf("fit %d metadata bytes under limit %d", len(blob), MaxMetadataBytes))
	}

	out := make([]byte, 0, PrefixLen+len(blob)+len(payload))
	out = append(out, []byte(fmt.Sprintf("%04x", len(blob)))...)
	out = append(out, blob...)
	out = append(out, payload...)
	return out, nil
}
