// Package envelope implements the libcluon Envelope and its self-delimiting
// wire format, as exchanged on an OD4 session and with browser clients.
//
// # Wire Format
//
// Every envelope is framed with a 5-byte header followed by a protobuf body:
//
//	┌──────┬──────┬─────────────────────────────┬──────────────────────┐
//	│ 0x0D │ 0xA4 │ body length (3 bytes, LE)   │ body (length bytes)  │
//	└──────┴──────┴─────────────────────────────┴──────────────────────┘
//
// The body carries, in field order:
//
//	1 dataType         int32 (zigzag varint)
//	2 serializedData   bytes
//	3 sent             TimeStamp
//	4 received         TimeStamp
//	5 sampleTimeStamp  TimeStamp
//	6 senderStamp      uint32 (varint)
//
// A TimeStamp body is 1 seconds / 2 microseconds, both zigzag varints.
//
// # Streaming
//
// Because the header declares the body length, envelopes can be concatenated
// in one stream. ParseNext extracts at most one envelope from the start of a
// buffer and reports how many bytes it consumed:
//
//	for {
//	    env, n, err := envelope.ParseNext(buf)
//	    if n == 0 {
//	        break // incomplete: keep buf, append more data later
//	    }
//	    buf = buf[n:]
//	    if err != nil {
//	        continue // invalid bytes were skipped
//	    }
//	    handle(env)
//	}
//
// Invalid input never stalls the loop: the returned byte count always moves
// past the bad data, up to the next header marker.
package envelope
