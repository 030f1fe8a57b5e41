package playback

import (
	"context"
	"encoding/binary"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/soundpost/codec"
	"github.com/c360/soundpost/envelope"
	"github.com/c360/soundpost/staging"
	"github.com/c360/soundpost/testutil"
)

const testPacketBytes = 50

// testPage builds one Ogg page from whole packets
func testPage(packets ...[]byte) []byte {
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
	binary.LittleEndian.PutUint32(header[14:18], 0x77)
	header[26] = byte(len(table))

	out := append(header, table...)
	return append(out, body...)
}

// testOggPayload builds a decodable stream with n audio packets
func testOggPayload(n int) []byte {
	head := make([]byte, 19)
	copy(head, "OpusHead")
	head[8] = 1
	head[9] = 1
	binary.LittleEndian.PutUint32(head[12:16], 48000)

	var out []byte
	out = append(out, testPage(head)...)
	out = append(out, testPage([]byte("OpusTags"))...)

	audio := make([][]byte, n)
	for i := range audio {
		pkt := make([]byte, testPacketBytes)
		pkt[0] = byte(i)
		audio[i] = pkt
	}
	return append(out, testPage(audio...)...)
}

func stagedPayload(t *testing.T, store *staging.Store, data []byte) *staging.Payload {
	t.Helper()
	p, err := store.Create(len(data))
	require.NoError(t, err)
	_, err = p.Write(data)
	require.NoError(t, err)
	require.NoError(t, p.Complete())
	return p
}

// recordOutput extends the capture output with a volume history
type recordOutput struct {
	testutil.CaptureOutput
	mu      sync.Mutex
	volumes []int
}

func (o *recordOutput) SetVolume(v int) error {
	o.mu.Lock()
	o.volumes = append(o.volumes, v)
	o.mu.Unlock()
	return o.CaptureOutput.SetVolume(v)
}

func (o *recordOutput) Volumes() []int {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]int, len(o.volumes))
	copy(out, o.volumes)
	return out
}

func monoToStereoConfig() codec.Config {
	return codec.Config{SampleRateHz: 48000, FrameMs: 20, DecodeChannels: 1, OutputChannels: 2}
}

func stubFactory(dec codec.Decoder) DecoderFactory {
	return func() (codec.Decoder, error) { return dec, nil }
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestEngine_PlaysItemToCompletion(t *testing.T) {
	store, err := staging.NewStore(t.TempDir())
	require.NoError(t, err)
	q, err := NewQueue(4)
	require.NoError(t, err)

	out := &recordOutput{}
	dec := &testutil.StubDecoder{SamplesPerChannel: 960, Channels: 1, Marker: 7}
	eng, err := New(q, out, monoToStereoConfig(), stubFactory(dec))
	require.NoError(t, err)

	payload := stagedPayload(t, store, testOggPayload(5))
	path := payload.Path()
	_, err = q.Enqueue(&Item{Meta: envelope.Metadata{Volume: 65, PlayCount: 1}, Payload: payload})
	require.NoError(t, err)
	q.Close()

	require.NoError(t, eng.Run(context.Background()))

	frames := out.Frames()
	require.Len(t, frames, 5)
	for _, f := range frames {
		require.Len(t, f, 960*2, "mono frame widened to stereo")
		assert.Equal(t, f[0], f[1], "left and right carry the same sample")
		assert.Equal(t, int16(7), f[0])
	}
	assert.Equal(t, []int{65}, out.Volumes())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "played payload removed")
}

func TestEngine_NoDuplicationWhenShapesMatch(t *testing.T) {
	store, err := staging.NewStore(t.TempDir())
	require.NoError(t, err)
	q, err := NewQueue(4)
	require.NoError(t, err)

	out := &recordOutput{}
	dec := &testutil.StubDecoder{SamplesPerChannel: 960, Channels: 1, Marker: 3}
	cfg := codec.Config{SampleRateHz: 48000, FrameMs: 20, DecodeChannels: 1, OutputChannels: 1}
	eng, err := New(q, out, cfg, stubFactory(dec))
	require.NoError(t, err)

	payload := stagedPayload(t, store, testOggPayload(2))
	_, err = q.Enqueue(&Item{Meta: envelope.Metadata{PlayCount: 1}, Payload: payload})
	require.NoError(t, err)
	q.Close()

	require.NoError(t, eng.Run(context.Background()))

	frames := out.Frames()
	require.Len(t, frames, 2)
	assert.Len(t, frames[0], 960, "matching shapes pass through undoubled")
}

func TestEngine_RepeatsPlayCount(t *testing.T) {
	store, err := staging.NewStore(t.TempDir())
	require.NoError(t, err)
	q, err := NewQueue(4)
	require.NoError(t, err)

	out := &recordOutput{}
	var factoryCalls int
	factory := func() (codec.Decoder, error) {
		factoryCalls++
		return &testutil.StubDecoder{SamplesPerChannel: 960, Channels: 1}, nil
	}
	eng, err := New(q, out, monoToStereoConfig(), factory)
	require.NoError(t, err)

	payload := stagedPayload(t, store, testOggPayload(4))
	_, err = q.Enqueue(&Item{Meta: envelope.Metadata{PlayCount: 3}, Payload: payload})
	require.NoError(t, err)
	q.Close()

	require.NoError(t, eng.Run(context.Background()))

	assert.Len(t, out.Frames(), 12, "4 packets times 3 repetitions")
	assert.Equal(t, 3, factoryCalls, "fresh decoder per repetition")
}

func TestEngine_InfinitePlaybackUntilInterrupt(t *testing.T) {
	store, err := staging.NewStore(t.TempDir())
	require.NoError(t, err)
	q, err := NewQueue(4)
	require.NoError(t, err)

	out := &recordOutput{}
	dec := &testutil.StubDecoder{SamplesPerChannel: 960, Channels: 1}
	eng, err := New(q, out, monoToStereoConfig(), stubFactory(dec))
	require.NoError(t, err)

	payload := stagedPayload(t, store, testOggPayload(3))
	_, err = q.Enqueue(&Item{Meta: envelope.Metadata{PlayCount: 0}, Payload: payload})
	require.NoError(t, err)
	q.Close()

	done := make(chan error, 1)
	go func() { done <- eng.Run(context.Background()) }()

	waitFor(t, func() bool { return len(out.Frames()) >= 10 },
		"infinite item never produced frames")
	eng.Interrupt()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("engine did not stop after interrupt")
	}
}

func TestEngine_DecodeFailureAbortsItemOnly(t *testing.T) {
	store, err := staging.NewStore(t.TempDir())
	require.NoError(t, err)
	q, err := NewQueue(4)
	require.NoError(t, err)

	out := &recordOutput{}
	broken := &testutil.StubDecoder{Err: assert.AnError}
	good := &testutil.StubDecoder{SamplesPerChannel: 960, Channels: 1}
	var call int
	factory := func() (codec.Decoder, error) {
		call++
		if call == 1 {
			return broken, nil
		}
		return good, nil
	}
	eng, err := New(q, out, monoToStereoConfig(), factory)
	require.NoError(t, err)

	bad := stagedPayload(t, store, testOggPayload(3))
	badPath := bad.Path()
	ok := stagedPayload(t, store, testOggPayload(2))

	_, err = q.Enqueue(&Item{Meta: envelope.Metadata{Priority: 9, PlayCount: 1}, Payload: bad})
	require.NoError(t, err)
	_, err = q.Enqueue(&Item{Meta: envelope.Metadata{Priority: 1, PlayCount: 1}, Payload: ok})
	require.NoError(t, err)
	q.Close()

	require.NoError(t, eng.Run(context.Background()))

	assert.Len(t, out.Frames(), 2, "only the healthy item produced frames")
	_, err = os.Stat(badPath)
	assert.True(t, os.IsNotExist(err), "failed payload still cleaned up")
}

// A decode abort tears down through the stopping state rather than jumping
// from playing straight to idle; the run loop then turns it over to idle.
func TestEngine_DecodeAbortPassesThroughStopping(t *testing.T) {
	store, err := staging.NewStore(t.TempDir())
	require.NoError(t, err)
	q, err := NewQueue(4)
	require.NoError(t, err)

	out := &recordOutput{}
	broken := &testutil.StubDecoder{Err: assert.AnError}
	eng, err := New(q, out, monoToStereoConfig(), stubFactory(broken))
	require.NoError(t, err)

	item := &Item{
		Meta:    envelope.Metadata{PlayCount: 1},
		Payload: stagedPayload(t, store, testOggPayload(2)),
	}
	err = eng.play(context.Background(), item)
	require.Error(t, err)
	assert.Equal(t, StateStopping, eng.State())
	require.NoError(t, item.Payload.Remove())

	// A clean finish still settles to idle directly
	healthy := &testutil.StubDecoder{SamplesPerChannel: 960, Channels: 1}
	eng2, err := New(q, out, monoToStereoConfig(), stubFactory(healthy))
	require.NoError(t, err)
	item2 := &Item{
		Meta:    envelope.Metadata{PlayCount: 1},
		Payload: stagedPayload(t, store, testOggPayload(1)),
	}
	require.NoError(t, eng2.play(context.Background(), item2))
	assert.Equal(t, StateIdle, eng2.State())
	require.NoError(t, item2.Payload.Remove())
}

func TestEngine_RetainedPayloadSurvivesPlayback(t *testing.T) {
	store, err := staging.NewStore(t.TempDir())
	require.NoError(t, err)
	q, err := NewQueue(4)
	require.NoError(t, err)

	out := &recordOutput{}
	dec := &testutil.StubDecoder{SamplesPerChannel: 960, Channels: 1}
	eng, err := New(q, out, monoToStereoConfig(), stubFactory(dec))
	require.NoError(t, err)

	payload := stagedPayload(t, store, testOggPayload(2))
	kept, err := store.Retain(payload, "keep.opus")
	require.NoError(t, err)

	_, err = q.Enqueue(&Item{Meta: envelope.Metadata{PlayCount: 1}, Payload: payload, Retained: true})
	require.NoError(t, err)
	q.Close()

	require.NoError(t, eng.Run(context.Background()))

	_, err = os.Stat(kept)
	assert.NoError(t, err, "retained payload stays on disk")
}

func TestEngine_PriorityOrderAcrossItems(t *testing.T) {
	store, err := staging.NewStore(t.TempDir())
	require.NoError(t, err)
	q, err := NewQueue(4)
	require.NoError(t, err)

	out := &recordOutput{}
	dec := &testutil.StubDecoder{SamplesPerChannel: 960, Channels: 1}
	eng, err := New(q, out, monoToStereoConfig(), stubFactory(dec))
	require.NoError(t, err)

	low := stagedPayload(t, store, testOggPayload(1))
	high := stagedPayload(t, store, testOggPayload(1))
	_, err = q.Enqueue(&Item{Meta: envelope.Metadata{Priority: 1, Volume: 30, PlayCount: 1}, Payload: low})
	require.NoError(t, err)
	_, err = q.Enqueue(&Item{Meta: envelope.Metadata{Priority: 9, Volume: 70, PlayCount: 1}, Payload: high})
	require.NoError(t, err)
	q.Close()

	require.NoError(t, eng.Run(context.Background()))

	assert.Equal(t, []int{70, 30}, out.Volumes(), "high priority plays first")
}

func TestEngine_PauseHoldsFrames(t *testing.T) {
	store, err := staging.NewStore(t.TempDir())
	require.NoError(t, err)
	q, err := NewQueue(4)
	require.NoError(t, err)

	out := &recordOutput{}
	dec := &testutil.StubDecoder{SamplesPerChannel: 960, Channels: 1}
	eng, err := New(q, out, monoToStereoConfig(), stubFactory(dec))
	require.NoError(t, err)

	payload := stagedPayload(t, store, testOggPayload(3))
	_, err = q.Enqueue(&Item{Meta: envelope.Metadata{PlayCount: 0}, Payload: payload})
	require.NoError(t, err)
	q.Close()

	done := make(chan error, 1)
	go func() { done <- eng.Run(context.Background()) }()

	waitFor(t, func() bool { return len(out.Frames()) >= 3 }, "no frames before pause")
	eng.Pause()
	waitFor(t, func() bool { return eng.State() == StatePaused }, "engine never paused")

	held := len(out.Frames())
	time.Sleep(30 * time.Millisecond)
	assert.LessOrEqual(t, len(out.Frames()), held+1, "frames must not flow while paused")

	eng.Resume()
	waitFor(t, func() bool { return len(out.Frames()) > held+1 }, "frames did not resume")

	eng.Interrupt()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("engine did not stop")
	}
}
