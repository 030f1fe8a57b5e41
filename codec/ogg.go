package codec

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/c360/soundpost/errors"
)

const (
	oggCapture       = "OggS"
	oggHeaderLen     = 27
	oggMaxSegments   = 255
	oggFlagContinued = 0x01
)

// OggReader walks an Ogg stream and yields Opus audio packets, skipping the
// OpusHead and OpusTags header packets. Page checksums are not verified; a
// corrupt page surfaces as a decode failure downstream.
type OggReader struct {
	r       io.Reader
	packets [][]byte
	partial []byte
	header  Head
	gotHead bool
	skipped int
}

// NewOggReader wraps r. The OpusHead packet is parsed lazily on the first
// Next call.
func NewOggReader(r io.Reader) *OggReader {
	return &OggReader{r: r}
}

// Head returns the parsed OpusHead once the first packet has been read
func (o *OggReader) Head() (Head, bool) {
	return o.header, o.gotHead
}

// Next returns the next audio packet, or io.EOF at end of stream
func (o *OggReader) Next() ([]byte, error) {
	for {
		if len(o.packets) > 0 {
			pkt := o.packets[0]
			o.packets = o.packets[1:]

			// First two packets are OpusHead and OpusTags
			if o.skipped < 2 {
				o.skipped++
				if o.skipped == 1 {
					head, err := ParseHead(pkt)
					if err != nil {
						return nil, err
					}
					o.header = head
					o.gotHead = true
				}
				continue
			}
			return pkt, nil
		}

		if err := o.readPage(); err != nil {
			return nil, err
		}
	}
}

// readPage consumes one page and appends its completed packets
func (o *OggReader) readPage() error {
	header := make([]byte, oggHeaderLen)
	if _, err := io.ReadFull(o.r, header); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			if len(o.partial) > 0 {
				return errors.WrapInvalid(errors.ErrDecodeFailed,
					"codec", "readPage", "finish packet truncated at end of stream")
			}
			return io.EOF
		}
		return errors.WrapTransient(err, "codec", "readPage", "read page header")
	}

	if string(header[:4]) != oggCapture {
		return errors.WrapInvalid(errors.ErrDecodeFailed,
			"codec", "readPage",
			fmt.Sprintf("match capture pattern %q", header[:4]))
	}
	if header[4] != 0 {
		return errors.WrapInvalid(errors.ErrDecodeFailed,
			"codec", "readPage", fmt.Sprintf("accept stream version %d", header[4]))
	}

	flags := header[5]
	_ = binary.LittleEndian.Uint64(header[6:14]) // granule position, unused

	segCount := int(header[26])
	if segCount > oggMaxSegments {
		return errors.WrapInvalid(errors.ErrDecodeFailed,
			"codec", "readPage", fmt.Sprintf("accept %d segments", segCount))
	}

	table := make([]byte, segCount)
	if _, err := io.ReadFull(o.r, table); err != nil {
		return errors.WrapInvalid(errors.ErrDecodeFailed,
			"codec", "readPage", "read segment table")
	}

	bodyLen := 0
	for _, lace := range table {
		bodyLen += int(lace)
	}
	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(o.r, body); err != nil {
		return errors.WrapInvalid(errors.ErrDecodeFailed,
			"codec", "readPage", "read page body")
	}

	// A page without the continued flag starts a fresh packet; a dangling
	// partial from the previous page is dropped as corrupt.
	if flags&oggFlagContinued == 0 && len(o.partial) > 0 {
		o.partial = nil
	}

	offset := 0
	for _, lace := range table {
		o.partial = append(o.partial, body[offset:offset+int(lace)]...)
		offset += int(lace)
		if lace < 255 {
			o.packets = append(o.packets, o.partial)
			o.partial = nil
		}
	}
	return nil
}
