// Package bus connects the relay to an OD4 session: the publish/subscribe bus
// that carries envelopes between the processes of one conference id (cid).
//
// A Session sits on top of a PubSub transport:
//
//   - MulticastPubSub: libcluon-compatible UDP multicast on 225.0.0.<cid>:12175.
//   - Libp2pPubSub: GossipSub over libp2p, for sessions spanning networks
//     where multicast does not route.
//   - MemoryNetwork: process-local transport for tests.
//
// Session.Send publishes one envelope and never retries. Incoming envelopes
// are delivered in arrival order on Session.Envelopes (or to a single
// OnReceive callback) with Received stamped by the local clock. Messages the
// session published itself are not delivered back to it.
//
// When the transport subscription ends the session stops for good:
// IsRunning reports false and Done is closed. The relay has no purpose
// without a bus, so the process treats this as fatal.
package bus
