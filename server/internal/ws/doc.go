// Package ws implements the WebSocket client registry of the relay.
//
// Hub tracks connected clients under monotonically increasing ids that are
// never reused. Broadcast fans one frame out to every client; SendTo targets
// one. Each client has a bounded outgoing buffer: a client that falls behind
// far enough to fill it is disconnected and the broadcast carries on with the
// others.
//
// New(acceptor, opts) creates a Hub.
// Hub.Run(ctx) blocks until ctx is cancelled, then closes all connections.
// Hub.ServeHTTP upgrades an HTTP connection (subprotocol "od4") on any path,
// registers the client, and passes every text or binary frame it sends to the
// Receiver the Acceptor created for it. Outgoing frames are binary.
//
// Per connection there is one read goroutine (the caller of ServeHTTP) and one
// write goroutine. The registry itself is guarded by a sync.RWMutex and all
// iteration happens over a snapshot, so callbacks may register or unregister
// clients freely.
//
// The upgrader accepts all origins. Apply CORS restrictions at the reverse
// proxy level.
package ws
