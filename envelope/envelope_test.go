package envelope

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/soundpost/errors"
)

func TestParsePrefix(t *testing.T) {
	tests := []struct {
		name    string
		prefix  string
		want    int
		wantErr bool
	}{
		{name: "lower hex", prefix: "00ff", want: 255},
		{name: "upper hex", prefix: "00FF", want: 255},
		{name: "mixed case", prefix: "0aB3", want: 0x0ab3},
		{name: "max allowed", prefix: "0400", want: 1024},
		{name: "zero length", prefix: "0000", wantErr: true},
		{name: "over limit", prefix: "0401", wantErr: true},
		{name: "non hex", prefix: "00gz", wantErr: true},
		{name: "too short", prefix: "ff", wantErr: true},
		{name: "empty", prefix: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePrefix([]byte(tt.prefix))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsInvalid(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseMetadata_Defaults(t *testing.T) {
	meta, err := ParseMetadata([]byte(`{"opusDataSize":4096}`))
	require.NoError(t, err)

	assert.Equal(t, 4096, meta.OpusDataSize)
	assert.Equal(t, DefaultPriority, meta.Priority)
	assert.Equal(t, DefaultVolume, meta.Volume)
	assert.Equal(t, DefaultPlayCount, meta.PlayCount)
	assert.False(t, meta.InterruptCurrent)
	assert.False(t, meta.SaveToFile)
	assert.Empty(t, meta.Filename)
}

func TestParseMetadata_ExplicitZeroPlayCount(t *testing.T) {
	meta, err := ParseMetadata([]byte(`{"opusDataSize":100,"playCount":0}`))
	require.NoError(t, err)
	assert.Equal(t, 0, meta.PlayCount, "explicit 0 means repeat until interrupted")
}

func TestParseMetadata_VolumeClamped(t *testing.T) {
	meta, err := ParseMetadata([]byte(`{"opusDataSize":100,"volume":150}`))
	require.NoError(t, err)
	assert.Equal(t, MaxVolume, meta.Volume)

	meta, err = ParseMetadata([]byte(`{"opusDataSize":100,"volume":-3}`))
	require.NoError(t, err)
	assert.Equal(t, 0, meta.Volume)
}

func TestParseMetadata_Invalid(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{name: "not json", json: `{bad`},
		{name: "missing opusDataSize", json: `{"priority":1}`},
		{name: "zero opusDataSize", json: `{"opusDataSize":0}`},
		{name: "negative opusDataSize", json: `{"opusDataSize":-5}`},
		{name: "priority over 255", json: `{"opusDataSize":10,"priority":256}`},
		{name: "negative priority", json: `{"opusDataSize":10,"priority":-1}`},
		{name: "negative playCount", json: `{"opusDataSize":10,"playCount":-1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMetadata([]byte(tt.json))
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestParseMetadata_FullFields(t *testing.T) {
	meta, err := ParseMetadata([]byte(
		`{"opusDataSize":61142,"priority":9,"volume":80,"playCount":3,` +
			`"interruptCurrent":true,"saveToFile":true,"filename":"siren.opus"}`))
	require.NoError(t, err)

	assert.Equal(t, 61142, meta.OpusDataSize)
	assert.Equal(t, 9, meta.Priority)
	assert.Equal(t, 80, meta.Volume)
	assert.Equal(t, 3, meta.PlayCount)
	assert.True(t, meta.InterruptCurrent)
	assert.True(t, meta.SaveToFile)
	assert.Equal(t, "siren.opus", meta.Filename)
}

func TestValidateBoundaries(t *testing.T) {
	tests := []struct {
		name     string
		totalLen int
		metaLen  int
		wantErr  error
	}{
		{name: "valid", totalLen: 100, metaLen: 20},
		{name: "exact fit", totalLen: 24, metaLen: 20},
		{name: "message too short", totalLen: 4, metaLen: 2, wantErr: errors.ErrShortMessage},
		{name: "zero metadata", totalLen: 100, metaLen: 0, wantErr: errors.ErrBoundaryInvalid},
		{name: "negative metadata", totalLen: 100, metaLen: -8, wantErr: errors.ErrBoundaryInvalid},
		{name: "metadata over limit", totalLen: 4096, metaLen: 1025, wantErr: errors.ErrBoundaryInvalid},
		{name: "metadata overruns message", totalLen: 20, metaLen: 17, wantErr: errors.ErrBoundaryInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBoundaries(tt.totalLen, tt.metaLen)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

// A metadata length close to the total must never yield a negative payload
// size. The boundary check has to reject it before any subtraction happens.
func TestValidateBoundaries_NoUnderflow(t *testing.T) {
	totalLen := 10
	for metaLen := 7; metaLen <= 12; metaLen++ {
		err := ValidateBoundaries(totalLen, metaLen)
		if metaLen+PrefixLen > totalLen {
			require.Error(t, err, "metaLen=%d", metaLen)
		} else {
			require.NoError(t, err, "metaLen=%d", metaLen)
			assert.GreaterOrEqual(t, PayloadSize(totalLen, metaLen), 0)
		}
	}
}

func TestCheckPayloadSize(t *testing.T) {
	meta := Metadata{OpusDataSize: 50}

	assert.NoError(t, CheckPayloadSize(meta, PrefixLen+20+50, 20))

	err := CheckPayloadSize(meta, PrefixLen+20+49, 20)
	require.ErrorIs(t, err, errors.ErrPayloadOverrun)

	// Trailing bytes beyond the advertised payload are a boundary error,
	// not slack for the decoder to trip over.
	err = CheckPayloadSize(meta, PrefixLen+20+60, 20)
	require.ErrorIs(t, err, errors.ErrBoundaryInvalid)
}

func TestEncode_RoundTrip(t *testing.T) {
	payload := make([]byte, 300)
	for i := range payload {
		payload[i] = byte(i)
	}
	in := Metadata{
		Priority:         8,
		Volume:           70,
		PlayCount:        2,
		InterruptCurrent: true,
		SaveToFile:       true,
		Filename:         "chime.opus",
	}

	wire, err := Encode(in, payload)
	require.NoError(t, err)

	metaLen, err := ParsePrefix(wire[:PrefixLen])
	require.NoError(t, err)
	require.NoError(t, ValidateBoundaries(len(wire), metaLen))

	out, err := ParseMetadata(wire[PrefixLen : PrefixLen+metaLen])
	require.NoError(t, err)
	assert.Equal(t, len(payload), out.OpusDataSize)
	assert.Equal(t, in.Priority, out.Priority)
	assert.Equal(t, in.Volume, out.Volume)
	assert.Equal(t, in.PlayCount, out.PlayCount)
	assert.True(t, out.InterruptCurrent)
	assert.True(t, out.SaveToFile)
	assert.Equal(t, "chime.opus", out.Filename)
	assert.Equal(t, payload, wire[PrefixLen+metaLen:])
}

func TestEncode_DefaultsOmitted(t *testing.T) {
	wire, err := Encode(Metadata{
		Priority:  DefaultPriority,
		Volume:    DefaultVolume,
		PlayCount: DefaultPlayCount,
	}, []byte{1, 2, 3})
	require.NoError(t, err)

	metaLen, err := ParsePrefix(wire[:PrefixLen])
	require.NoError(t, err)
	blob := string(wire[PrefixLen : PrefixLen+metaLen])
	assert.NotContains(t, blob, "priority")
	assert.NotContains(t, blob, "volume")
	assert.NotContains(t, blob, "playCount")
	assert.Contains(t, blob, fmt.Sprintf(`"opusDataSize":%d`, 3))
}

func TestEncode_EmptyPayload(t *testing.T) {
	_, err := Encode(Metadata{}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}
