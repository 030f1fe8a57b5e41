package framer

import (
	"context"
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/soundpost/envelope"
	"github.com/c360/soundpost/errors"
	"github.com/c360/soundpost/staging"
	"github.com/c360/soundpost/testutil"
)

func newTestFramer(t *testing.T) (*Framer, *staging.Store) {
	t.Helper()
	store, err := staging.NewStore(t.TempDir())
	require.NoError(t, err)
	f, err := New(store)
	require.NoError(t, err)
	return f, store
}

func encodeAlert(t *testing.T, meta envelope.Metadata, payload []byte) []byte {
	t.Helper()
	wire, err := envelope.Encode(meta, payload)
	require.NoError(t, err)
	return wire
}

func readPayload(t *testing.T, a *Alert) []byte {
	t.Helper()
	r, err := a.Payload.Open()
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return data
}

// Byte accounting must hold whatever the link's chunking looks like
func TestFramer_StagesCompleteAlert(t *testing.T) {
	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	for _, chunkSize := range []int{1, 64, 512, 4096} {
		t.Run(fmt.Sprintf("chunk_%d", chunkSize), func(t *testing.T) {
			f, _ := newTestFramer(t)
			conn := &testutil.ScriptConn{ChunkSize: chunkSize}
			conn.Script(encodeAlert(t, envelope.Metadata{Priority: 7, Volume: 55}, payload))

			alert, err := f.Next(context.Background(), conn)
			require.NoError(t, err)

			assert.Equal(t, 7, alert.Meta.Priority)
			assert.Equal(t, 55, alert.Meta.Volume)
			assert.Equal(t, len(payload), alert.Meta.OpusDataSize)
			assert.Equal(t, len(payload), alert.Payload.BytesWritten())
			assert.Equal(t, payload, readPayload(t, alert))
			require.NoError(t, alert.Payload.Remove())
		})
	}
}

func TestFramer_TinyChunksStillReassemble(t *testing.T) {
	f, _ := newTestFramer(t)

	payload := []byte("short opus payload")
	conn := &testutil.ScriptConn{ChunkSize: 3}
	conn.Script(encodeAlert(t, envelope.Metadata{}, payload))

	alert, err := f.Next(context.Background(), conn)
	require.NoError(t, err)
	assert.Equal(t, payload, readPayload(t, alert))
	require.NoError(t, alert.Payload.Remove())
}

// A corrupt length prefix must not poison the stream: the advertised bytes
// are drained and the following message parses normally.
func TestFramer_BadPrefixDrainsAndRealigns(t *testing.T) {
	f, _ := newTestFramer(t)

	bad := append([]byte("zz11"), make([]byte, 60)...)
	good := []byte("good payload")
	conn := &testutil.ScriptConn{ChunkSize: 16}
	conn.Script(bad)
	conn.Script(encodeAlert(t, envelope.Metadata{}, good))

	_, err := f.Next(context.Background(), conn)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.Equal(t, 0, conn.Remaining(), "malformed message fully drained")

	alert, err := f.Next(context.Background(), conn)
	require.NoError(t, err)
	assert.Equal(t, good, readPayload(t, alert))
	require.NoError(t, alert.Payload.Remove())
}

// A prefix claiming more metadata than the message holds must fail the
// boundary check before any payload arithmetic.
func TestFramer_LyingPrefixRejected(t *testing.T) {
	f, _ := newTestFramer(t)

	// Prefix says 0x0400 metadata bytes but the message is 40 bytes total
	bad := append([]byte("0400"), make([]byte, 36)...)
	conn := &testutil.ScriptConn{ChunkSize: 16}
	conn.Script(bad)

	_, err := f.Next(context.Background(), conn)
	require.ErrorIs(t, err, errors.ErrBoundaryInvalid)
	assert.Equal(t, 0, conn.Remaining())
}

func TestFramer_ShortAnnouncementRejected(t *testing.T) {
	f, _ := newTestFramer(t)

	conn := &testutil.ScriptConn{}
	conn.Script([]byte("00"))

	_, err := f.Next(context.Background(), conn)
	require.ErrorIs(t, err, errors.ErrShortMessage)
}

func TestFramer_AdvertisedSizeOverCarriedRejected(t *testing.T) {
	f, _ := newTestFramer(t)

	// Metadata claims 500 payload bytes; envelope carries only 20
	meta := []byte(`{"opusDataSize":500}`)
	msg := append([]byte("0014"), meta...)
	msg = append(msg, make([]byte, 20)...)
	require.Len(t, meta, 0x14)

	conn := &testutil.ScriptConn{ChunkSize: 8}
	conn.Script(msg)

	_, err := f.Next(context.Background(), conn)
	require.ErrorIs(t, err, errors.ErrPayloadOverrun)
	assert.Equal(t, 0, conn.Remaining())
}

// Trailing bytes past the advertised payload size are just as misaligned as
// missing ones: the envelope is rejected and drained, and the next message
// parses normally.
func TestFramer_TrailingBytesBeyondAdvertisedRejected(t *testing.T) {
	f, store := newTestFramer(t)

	meta := []byte(`{"opusDataSize":10}`)
	msg := append([]byte(fmt.Sprintf("%04x", len(meta))), meta...)
	msg = append(msg, make([]byte, 20)...)

	good := []byte("good payload")
	conn := &testutil.ScriptConn{ChunkSize: 8}
	conn.Script(msg)
	conn.Script(encodeAlert(t, envelope.Metadata{}, good))

	_, err := f.Next(context.Background(), conn)
	require.ErrorIs(t, err, errors.ErrBoundaryInvalid)

	entries, err := os.ReadDir(store.Dir())
	require.NoError(t, err)
	for _, e := range entries {
		assert.True(t, e.IsDir(), "no scratch file may survive: %s", e.Name())
	}

	alert, err := f.Next(context.Background(), conn)
	require.NoError(t, err)
	assert.Equal(t, len(good), alert.Payload.BytesWritten())
	assert.Equal(t, good, readPayload(t, alert))
	assert.Equal(t, 0, conn.Remaining())
	require.NoError(t, alert.Payload.Remove())
}

// A connection failure mid-payload surfaces as transient and leaves no
// scratch file behind.
func TestFramer_MidStreamDisconnect(t *testing.T) {
	f, store := newTestFramer(t)

	payload := make([]byte, 2000)
	conn := &testutil.ScriptConn{
		ChunkSize: 256,
		FailAfter: 900,
		FailErr:   errors.ErrConnectionLost,
	}
	conn.Script(encodeAlert(t, envelope.Metadata{}, payload))

	_, err := f.Next(context.Background(), conn)
	require.ErrorIs(t, err, errors.ErrConnectionLost)
	assert.True(t, errors.IsTransient(err))

	entries, err := os.ReadDir(store.Dir())
	require.NoError(t, err)
	for _, e := range entries {
		assert.True(t, e.IsDir(), "no scratch file may survive: %s", e.Name())
	}
}

func TestFramer_BackToBackAlerts(t *testing.T) {
	f, _ := newTestFramer(t)

	first := []byte("first alert")
	second := []byte("second alert payload")
	conn := &testutil.ScriptConn{ChunkSize: 5}
	conn.Script(encodeAlert(t, envelope.Metadata{Priority: 1}, first))
	conn.Script(encodeAlert(t, envelope.Metadata{Priority: 2}, second))

	a1, err := f.Next(context.Background(), conn)
	require.NoError(t, err)
	a2, err := f.Next(context.Background(), conn)
	require.NoError(t, err)

	assert.Equal(t, first, readPayload(t, a1))
	assert.Equal(t, second, readPayload(t, a2))
	assert.Equal(t, 1, a1.Meta.Priority)
	assert.Equal(t, 2, a2.Meta.Priority)
	require.NoError(t, a1.Payload.Remove())
	require.NoError(t, a2.Payload.Remove())
}
