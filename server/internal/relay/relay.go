package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/opendlv/opendlv-ui-relay/pkg/envelope"
	"github.com/opendlv/opendlv-ui-relay/server/internal/metrics"
	"github.com/opendlv/opendlv-ui-relay/server/internal/ws"
)

// ErrBusClosed is returned by Run when the bus stops delivering envelopes.
var ErrBusClosed = errors.New("relay: bus envelope stream closed")

// Bus is the session side of the relay.
type Bus interface {
	Send(env *envelope.Envelope) error
	Envelopes() <-chan *envelope.Envelope
}

// Broadcaster fans encoded envelopes out to every client.
type Broadcaster interface {
	Broadcast(data []byte) int
}

// Options tunes a Relay. Zero values select the defaults.
type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// Now stamps client envelopes. Defaults to time.Now.
	Now func() time.Time

	// RateLimit caps the envelopes per second each client may publish.
	// Zero disables the limit.
	RateLimit float64
	RateBurst int

	// MaxBodySize rejects client envelopes declaring a larger body.
	// Defaults to envelope.MaxBodySize.
	MaxBodySize int
}

// Relay connects one bus session with the client registry.
type Relay struct {
	bus     Bus
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	rateLimit   float64
	rateBurst   int
	maxBodySize int
}

func New(bus Bus, opts Options) *Relay {
	r := &Relay{
		bus:         bus,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		now:         opts.Now,
		rateLimit:   opts.RateLimit,
		rateBurst:   opts.RateBurst,
		maxBodySize: opts.MaxBodySize,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.maxBodySize <= 0 || r.maxBodySize > envelope.MaxBodySize {
		r.maxBodySize = envelope.MaxBodySize
	}
	if r.rateLimit > 0 && r.rateBurst <= 0 {
		r.rateBurst = max(1, int(r.rateLimit))
	}
	return r
}

// Run broadcasts every envelope from the bus to clients until ctx is
// cancelled (returning nil) or the bus stream closes (returning ErrBusClosed).
func (r *Relay) Run(ctx context.Context, clients Broadcaster) error {
	envs := r.bus.Envelopes()
	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-envs:
			if !ok {
				return ErrBusClosed
			}
			r.forward(env, clients)
		}
	}
}

func (r *Relay) forward(env *envelope.Envelope, clients Broadcaster) {
	b, err := envelope.Marshal(env)
	if err != nil {
		r.logger.Warn("cannot encode bus envelope", "data_type", env.DataType, "err", err)
		return
	}
	n := clients.Broadcast(b)
	r.metrics.EnvelopeFromBus()
	r.logger.Debug("bus envelope relayed",
		"data_type", env.DataType, "sender_stamp", env.SenderStamp, "bytes", len(b), "clients", n)
}

// Accept creates the inbound state of a newly connected client.
func (r *Relay) Accept(info ws.ClientInfo) ws.Receiver {
	return newInbound(r, info)
}
