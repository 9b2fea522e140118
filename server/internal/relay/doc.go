// Package relay moves envelopes between an OD4 session and WebSocket clients.
//
// Downstream, Run takes every envelope the bus delivers, encodes it once and
// broadcasts the bytes to all clients, in bus order.
//
// Upstream, Accept gives each connecting client its own inbound state. Frame
// boundaries do not have to match envelope boundaries: bytes are appended to
// the client's residue and every complete envelope is extracted, stamped with
// the relay's clock (Sent and SampleTimeStamp) and published on the bus.
// Invalid bytes are counted, logged at debug level and skipped up to the next
// header marker. A client's residue is only touched by its read goroutine and
// is dropped when the client disconnects.
package relay
