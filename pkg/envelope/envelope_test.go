package envelope_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/opendlv/opendlv-ui-relay/pkg/envelope"
)

func sample(dataType int32, payload string) *envelope.Envelope {
	return &envelope.Envelope{
		DataType:        dataType,
		Payload:         []byte(payload),
		Sent:            envelope.TimeStamp{Seconds: 1700000000, Microseconds: 123456},
		Received:        envelope.TimeStamp{Seconds: 1700000001, Microseconds: 7},
		SampleTimeStamp: envelope.TimeStamp{Seconds: -5, Microseconds: -1},
		SenderStamp:     42,
	}
}

func mustMarshal(t *testing.T, e *envelope.Envelope) []byte {
	t.Helper()
	b, err := envelope.Marshal(e)
	require.NoError(t, err)
	return b
}

func TestMarshal_Header(t *testing.T) {
	b := mustMarshal(t, sample(1, "hello"))

	require.GreaterOrEqual(t, len(b), envelope.HeaderSize)
	assert.Equal(t, byte(0x0D), b[0])
	assert.Equal(t, byte(0xA4), b[1])
	length := int(b[2]) | int(b[3])<<8 | int(b[4])<<16
	assert.Equal(t, len(b)-envelope.HeaderSize, length)
}

func TestMarshal_Deterministic(t *testing.T) {
	a := mustMarshal(t, sample(7, "same"))
	b := mustMarshal(t, sample(7, "same"))
	assert.Equal(t, a, b)
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		env  *envelope.Envelope
	}{
		{"full", sample(1, "hello")},
		{"zero", &envelope.Envelope{}},
		{"negative_data_type", &envelope.Envelope{DataType: -1128, Payload: []byte{0x00, 0xFF}}},
		{"binary_payload", &envelope.Envelope{DataType: 19, Payload: bytes.Repeat([]byte{0x0D, 0xA4}, 300)}},
		{"max_sender_stamp", &envelope.Envelope{DataType: 2, SenderStamp: ^uint32(0)}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := mustMarshal(t, tc.env)
			got, n, err := envelope.ParseNext(b)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, len(b), n)
			assert.Equal(t, tc.env.DataType, got.DataType)
			assert.Equal(t, len(tc.env.Payload), len(got.Payload))
			if len(tc.env.Payload) > 0 {
				assert.Equal(t, tc.env.Payload, got.Payload)
			}
			assert.Equal(t, tc.env.Sent, got.Sent)
			assert.Equal(t, tc.env.Received, got.Received)
			assert.Equal(t, tc.env.SampleTimeStamp, got.SampleTimeStamp)
			assert.Equal(t, tc.env.SenderStamp, got.SenderStamp)
		})
	}
}

func TestParseNext_DoesNotAliasInput(t *testing.T) {
	b := mustMarshal(t, sample(3, "abc"))
	got, _, err := envelope.ParseNext(b)
	require.NoError(t, err)

	for i := range b {
		b[i] = 0
	}
	assert.Equal(t, []byte("abc"), got.Payload)
}

func TestParseNext_Incomplete(t *testing.T) {
	b := mustMarshal(t, sample(2, "x"))

	for i := 0; i < len(b); i++ {
		env, n, err := envelope.ParseNext(b[:i])
		require.NoError(t, err, "prefix %d", i)
		assert.Nil(t, env, "prefix %d", i)
		assert.Zero(t, n, "prefix %d", i)
	}
}

func TestParseAll_Concatenated(t *testing.T) {
	var stream []byte
	for i := int32(0); i < 5; i++ {
		stream = append(stream, mustMarshal(t, sample(i, string(rune('a'+i))))...)
	}

	envs, n, err := envelope.ParseAll(stream)
	require.NoError(t, err)
	assert.Equal(t, len(stream), n)
	require.Len(t, envs, 5)
	for i, e := range envs {
		assert.Equal(t, int32(i), e.DataType)
		assert.Equal(t, []byte{byte('a' + i)}, e.Payload)
	}
}

func TestParseAll_KeepsIncompleteTail(t *testing.T) {
	first := mustMarshal(t, sample(2, "x"))
	second := mustMarshal(t, sample(3, "y"))
	stream := append(append([]byte{}, first...), second[:envelope.HeaderSize]...)

	envs, n, err := envelope.ParseAll(stream)
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, int32(2), envs[0].DataType)
	assert.Equal(t, len(first), n)
}

func TestParseNext_GarbageResyncsToMarker(t *testing.T) {
	valid := mustMarshal(t, sample(9, "ok"))
	stream := append([]byte{0x01, 0x02, 0x03, 0x04, 0x05}, valid...)

	env, n, err := envelope.ParseNext(stream)
	require.Error(t, err)
	assert.True(t, errors.Is(err, envelope.ErrInvalidEnvelope))
	assert.Nil(t, env)
	assert.Equal(t, 5, n)

	env, n, err = envelope.ParseNext(stream[5:])
	require.NoError(t, err)
	assert.Equal(t, len(valid), n)
	assert.Equal(t, int32(9), env.DataType)
}

func TestParseNext_GarbageWithoutMarker(t *testing.T) {
	env, n, err := envelope.ParseNext([]byte{0x01, 0x02, 0x03})
	assert.ErrorIs(t, err, envelope.ErrInvalidEnvelope)
	assert.Nil(t, env)
	assert.Equal(t, 3, n)
}

func TestParseNext_TrailingMarkerStartKept(t *testing.T) {
	_, n, err := envelope.ParseNext([]byte{0x01, 0x02, 0x0D})
	assert.ErrorIs(t, err, envelope.ErrInvalidEnvelope)
	assert.Equal(t, 2, n)
}

func TestParseNext_BadSecondMarkerByte(t *testing.T) {
	_, n, err := envelope.ParseNext([]byte{0x0D, 0x00, 0x00})
	assert.ErrorIs(t, err, envelope.ErrInvalidEnvelope)
	assert.Equal(t, 3, n)
}

func TestParseNextLimit_OversizedBody(t *testing.T) {
	b := mustMarshal(t, sample(1, "this payload is longer than the limit"))

	env, n, err := envelope.ParseNextLimit(b, 8)
	assert.ErrorIs(t, err, envelope.ErrInvalidEnvelope)
	assert.Nil(t, env)
	assert.Equal(t, 2, n)
}

func TestParseNext_CorruptBodySkipsFrame(t *testing.T) {
	// Header declares 2 bytes; body is a truncated varint tag.
	bad := []byte{0x0D, 0xA4, 0x02, 0x00, 0x00, 0x08, 0xFF}
	valid := mustMarshal(t, sample(5, "after"))

	envs, n, err := envelope.ParseAll(append(bad, valid...))
	assert.ErrorIs(t, err, envelope.ErrInvalidEnvelope)
	assert.Equal(t, len(bad)+len(valid), n)
	require.Len(t, envs, 1)
	assert.Equal(t, int32(5), envs[0].DataType)
}

func TestParseNext_UnknownFieldsSkipped(t *testing.T) {
	var body []byte
	body = protowire.AppendTag(body, 15, protowire.BytesType)
	body = protowire.AppendBytes(body, []byte("future"))
	body = protowire.AppendTag(body, 1, protowire.VarintType)
	body = protowire.AppendVarint(body, protowire.EncodeZigZag(1131))

	frame := append([]byte{0x0D, 0xA4, byte(len(body)), 0x00, 0x00}, body...)
	env, n, err := envelope.ParseNext(frame)
	require.NoError(t, err)
	assert.Equal(t, len(frame), n)
	assert.Equal(t, int32(1131), env.DataType)
	assert.Empty(t, env.Payload)
}

func TestParseNext_WrongWireTypeIsInvalid(t *testing.T) {
	var body []byte
	body = protowire.AppendTag(body, 1, protowire.BytesType)
	body = protowire.AppendBytes(body, []byte("x"))

	frame := append([]byte{0x0D, 0xA4, byte(len(body)), 0x00, 0x00}, body...)
	_, n, err := envelope.ParseNext(frame)
	assert.ErrorIs(t, err, envelope.ErrInvalidEnvelope)
	assert.Equal(t, len(frame), n)
}

func TestTimeStamp_FromTime(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 30, 45, 678_901_234, time.UTC)
	ts := envelope.FromTime(now)

	assert.Equal(t, int32(now.Unix()), ts.Seconds)
	assert.Equal(t, int32(678_901), ts.Microseconds)
	assert.True(t, ts.Time().Equal(now.Truncate(time.Microsecond)))
	assert.False(t, ts.IsZero())
	assert.True(t, envelope.TimeStamp{}.IsZero())
}

func TestEnvelope_Stamp(t *testing.T) {
	e := sample(1, "x")
	now := time.Unix(1800000000, 5000)
	e.Stamp(now)

	assert.Equal(t, envelope.FromTime(now), e.Sent)
	assert.Equal(t, envelope.FromTime(now), e.SampleTimeStamp)
	assert.Equal(t, int32(1700000001), e.Received.Seconds)
}
