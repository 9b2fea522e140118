package envelope

import "time"

// TimeStamp is the libcluon time representation: seconds and microseconds
// since the Unix epoch.
type TimeStamp struct {
	Seconds      int32
	Microseconds int32
}

// FromTime converts t to a TimeStamp with microsecond resolution.
func FromTime(t time.Time) TimeStamp {
	us := t.UnixMicro()
	return TimeStamp{
		Seconds:      int32(us / 1_000_000),
		Microseconds: int32(us % 1_000_000),
	}
}

// Time converts ts back to a time.Time in UTC.
func (ts TimeStamp) Time() time.Time {
	return time.UnixMicro(int64(ts.Seconds)*1_000_000 + int64(ts.Microseconds)).UTC()
}

// IsZero reports whether ts is unset.
func (ts TimeStamp) IsZero() bool {
	return ts.Seconds == 0 && ts.Microseconds == 0
}

// Envelope is one message on the bus. Payload is opaque to the relay; its
// schema is identified by DataType.
type Envelope struct {
	DataType        int32
	Payload         []byte
	Sent            TimeStamp
	Received        TimeStamp
	SampleTimeStamp TimeStamp

	// SenderStamp disambiguates multiple instances producing the same DataType.
	SenderStamp uint32
}

// Stamp sets Sent and SampleTimeStamp to t.
func (e *Envelope) Stamp(t time.Time) {
	ts := FromTime(t)
	e.Sent = ts
	e.SampleTimeStamp = ts
}
