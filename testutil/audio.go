package testutil

import (
	"sync"
)

// StubDecoder decodes every packet into a fixed number of samples per
// channel, filling PCM with a marker value so tests can trace frames end to
// end. Err, when set, is returned for every packet.
type StubDecoder struct {
	SamplesPerChannel int
	Channels          int
	Marker            int16
	Err               error

	mu      sync.Mutex
	packets int
}

// Decode fills pcm with Marker and reports samples per channel
func (d *StubDecoder) Decode(packet []byte, pcm []int16) (int, error) {
	d.mu.Lock()
	d.packets++
	d.mu.Unlock()

	if d.Err != nil {
		return 0, d.Err
	}
	total := d.SamplesPerChannel * d.Channels
	if total > len(pcm) {
		total = len(pcm)
	}
	for i := 0; i < total; i++ {
		pcm[i] = d.Marker
	}
	return d.SamplesPerChannel, nil
}

// Packets reports how many packets were decoded
func (d *StubDecoder) Packets() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.packets
}

// CaptureOutput records every frame and control call made by the playback
// engine. It satisfies the engine's output contract structurally.
type CaptureOutput struct {
	mu       sync.Mutex
	enabled  bool
	volume   int
	frames   [][]int16
	WriteErr error
}

// Enable marks the output active
func (o *CaptureOutput) Enable() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.enabled = true
	return nil
}

// Disable marks the output inactive
func (o *CaptureOutput) Disable() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.enabled = false
	return nil
}

// SetVolume records the requested level
func (o *CaptureOutput) SetVolume(level int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.volume = level
	return nil
}

// Write captures a copy of the frame
func (o *CaptureOutput) Write(frame []int16) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.WriteErr != nil {
		return o.WriteErr
	}
	cp := make([]int16, len(frame))
	copy(cp, frame)
	o.frames = append(o.frames, cp)
	return nil
}

// Frames returns the captured frames
func (o *CaptureOutput) Frames() [][]int16 {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([][]int16, len(o.frames))
	copy(out, o.frames)
	return out
}

// Enabled reports whether the output is currently enabled
func (o *CaptureOutput) Enabled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.enabled
}

// Volume reports the last level set
func (o *CaptureOutput) Volume() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.volume
}
