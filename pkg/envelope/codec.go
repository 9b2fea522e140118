package envelope

import (
	"bytes"
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Header constants.
const (
	// HeaderSize is the size of the frame header in bytes.
	HeaderSize = 5

	// MaxBodySize is the largest body a 3-byte length field can declare.
	MaxBodySize = 1<<24 - 1

	marker0 byte = 0x0D
	marker1 byte = 0xA4
)

// Body field numbers.
const (
	fieldDataType        protowire.Number = 1
	fieldSerializedData  protowire.Number = 2
	fieldSent            protowire.Number = 3
	fieldReceived        protowire.Number = 4
	fieldSampleTimeStamp protowire.Number = 5
	fieldSenderStamp     protowire.Number = 6

	fieldSeconds      protowire.Number = 1
	fieldMicroseconds protowire.Number = 2
)

// Codec errors.
var (
	ErrInvalidEnvelope = errors.New("envelope: invalid envelope")
	ErrTooLarge        = errors.New("envelope: body too large")
)

var marker = []byte{marker0, marker1}

// Marshal encodes e into its self-delimiting wire form. The output is
// deterministic: every field is written, in field-number order.
func Marshal(e *Envelope) ([]byte, error) {
	buf := make([]byte, HeaderSize, HeaderSize+len(e.Payload)+48)
	buf = appendBody(buf, e)

	n := len(buf) - HeaderSize
	if n > MaxBodySize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, n)
	}
	buf[0] = marker0
	buf[1] = marker1
	buf[2] = byte(n)
	buf[3] = byte(n >> 8)
	buf[4] = byte(n >> 16)
	return buf, nil
}

func appendBody(b []byte, e *Envelope) []byte {
	b = protowire.AppendTag(b, fieldDataType, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(e.DataType)))
	b = protowire.AppendTag(b, fieldSerializedData, protowire.BytesType)
	b = protowire.AppendBytes(b, e.Payload)
	b = appendTimeStamp(b, fieldSent, e.Sent)
	b = appendTimeStamp(b, fieldReceived, e.Received)
	b = appendTimeStamp(b, fieldSampleTimeStamp, e.SampleTimeStamp)
	b = protowire.AppendTag(b, fieldSenderStamp, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.SenderStamp))
	return b
}

func appendTimeStamp(b []byte, num protowire.Number, ts TimeStamp) []byte {
	var inner [24]byte
	sub := protowire.AppendTag(inner[:0], fieldSeconds, protowire.VarintType)
	sub = protowire.AppendVarint(sub, protowire.EncodeZigZag(int64(ts.Seconds)))
	sub = protowire.AppendTag(sub, fieldMicroseconds, protowire.VarintType)
	sub = protowire.AppendVarint(sub, protowire.EncodeZigZag(int64(ts.Microseconds)))

	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, sub)
}

// ParseNext extracts one envelope from the start of buf using MaxBodySize
// as the body limit. See ParseNextLimit.
func ParseNext(buf []byte) (*Envelope, int, error) {
	return ParseNextLimit(buf, MaxBodySize)
}

// ParseNextLimit extracts one envelope from the start of buf.
//
// It returns (env, n, nil) when a complete envelope of n bytes was parsed and
// (nil, 0, nil) when buf holds only the beginning of an envelope. Invalid
// input yields an error wrapping ErrInvalidEnvelope together with n > 0, the
// number of bytes to discard before retrying. Bodies declaring more than
// maxBody bytes are rejected as invalid.
//
// The returned envelope does not alias buf.
func ParseNextLimit(buf []byte, maxBody int) (*Envelope, int, error) {
	if len(buf) == 0 {
		return nil, 0, nil
	}
	if buf[0] != marker0 || (len(buf) > 1 && buf[1] != marker1) {
		n := resync(buf)
		return nil, n, fmt.Errorf("%w: missing header marker, skipped %d bytes", ErrInvalidEnvelope, n)
	}
	if len(buf) < HeaderSize {
		return nil, 0, nil
	}

	length := int(buf[2]) | int(buf[3])<<8 | int(buf[4])<<16
	if length > maxBody {
		// Skip the marker only; a genuine envelope may start inside the
		// bogus body.
		return nil, len(marker), fmt.Errorf("%w: declared body of %d bytes exceeds limit %d",
			ErrInvalidEnvelope, length, maxBody)
	}
	total := HeaderSize + length
	if len(buf) < total {
		return nil, 0, nil
	}

	env, err := decodeBody(buf[HeaderSize:total])
	if err != nil {
		return nil, total, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	return env, total, nil
}

// ParseAll extracts every complete envelope from buf. It returns the
// envelopes, the number of bytes consumed (trailing incomplete data is not
// consumed) and the joined errors of any invalid fragments that were skipped.
func ParseAll(buf []byte) ([]*Envelope, int, error) {
	var (
		out  []*Envelope
		errs []error
		pos  int
	)
	for pos < len(buf) {
		env, n, err := ParseNext(buf[pos:])
		if n == 0 {
			break
		}
		pos += n
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, env)
	}
	return out, pos, errors.Join(errs...)
}

// resync returns the number of leading bytes of buf that cannot belong to an
// envelope: everything before the next header marker. A trailing 0x0D is kept
// because it may be the first half of a marker.
func resync(buf []byte) int {
	if i := bytes.Index(buf[1:], marker); i >= 0 {
		return i + 1
	}
	if len(buf) > 1 && buf[len(buf)-1] == marker0 {
		return len(buf) - 1
	}
	return len(buf)
}

func decodeBody(b []byte) (*Envelope, error) {
	env := &Envelope{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case num == fieldDataType && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			env.DataType = int32(protowire.DecodeZigZag(v))
			n = m
		case num == fieldSerializedData && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			env.Payload = append([]byte(nil), v...)
			n = m
		case (num == fieldSent || num == fieldReceived || num == fieldSampleTimeStamp) &&
			typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			ts, err := decodeTimeStamp(v)
			if err != nil {
				return nil, fmt.Errorf("field %d: %w", num, err)
			}
			switch num {
			case fieldSent:
				env.Sent = ts
			case fieldReceived:
				env.Received = ts
			default:
				env.SampleTimeStamp = ts
			}
			n = m
		case num == fieldSenderStamp && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			env.SenderStamp = uint32(v)
			n = m
		case num >= fieldDataType && num <= fieldSenderStamp:
			return nil, fmt.Errorf("field %d: unexpected wire type %d", num, typ)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
		}
		b = b[n:]
	}
	return env, nil
}

func decodeTimeStamp(b []byte) (TimeStamp, error) {
	var ts TimeStamp
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return ts, protowire.ParseError(n)
		}
		b = b[n:]
		if typ != protowire.VarintType || (num != fieldSeconds && num != fieldMicroseconds) {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return ts, protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}
		v, m := protowire.ConsumeVarint(b)
		if m < 0 {
			return ts, protowire.ParseError(m)
		}
		if num == fieldSeconds {
			ts.Seconds = int32(protowire.DecodeZigZag(v))
		} else {
			ts.Microseconds = int32(protowire.DecodeZigZag(v))
		}
		b = b[m:]
	}
	return ts, nil
}
