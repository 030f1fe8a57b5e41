package playback

// Output is the audio sink. Write blocks until the device has taken the
// frame, which paces the decode loop. Frames are interleaved int16 samples.
type Output interface {
	Enable() error
	Disable() error
	SetVolume(level int) error
	Write(frame []int16) error
}
