package testutil

import (
	"encoding/binary"
)

// BuildOggOpus wraps audio packets in a minimal Ogg stream with OpusHead
// and OpusTags header pages. Packets are spread over pages of at most 100
// segments each.
func BuildOggOpus(packets [][]byte) []byte {
	head := make([]byte, 19)
	copy(head, "OpusHead")
	head[8] = 1
	head[9] = 1
	binary.LittleEndian.PutUint32(head[12:16], 48000)

	out := oggPage([][]byte{head})
	out = append(out, oggPage([][]byte{[]byte("OpusTags")})...)

	for len(packets) > 0 {
		n := len(packets)
		if n > 100 {
			n = 100
		}
		out = append(out, oggPage(packets[:n])...)
		packets = packets[n:]
	}
	return out
}

// OpusPackets builds n dummy packets of the given size, each tagged with
// its index so misordering shows up in decode traces.
func OpusPackets(n, size int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		pkt := make([]byte, size)
		pkt[0] = byte(i)
		out[i] = pkt
	}
	return out
}

func oggPage(packets [][]byte) []byte {
	var table, body []byte
	for _, p := range packets {
		remaining := len(p)
		for remaining >= 255 {
			table = append(table, 255)
			remaining -= 255
		}
		table = append(table, byte(remaining))
		body = append(body, p...)
	}

	header := make([]byte, 27)
	copy(header, "OggS")
	binary.LittleEndian.PutUint32(header[14:18], 0x5054)
	header[26] = byte(len(table))

	out := append(header, table...)
	return append(out, body...)
}
