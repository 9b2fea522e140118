package relay

import (
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/opendlv/opendlv-ui-relay/pkg/envelope"
	"github.com/opendlv/opendlv-ui-relay/server/internal/ws"
)

// residueKeep is the largest idle residue buffer kept between frames.
const residueKeep = 64 << 10

// inbound is the per-client half of the relay. Receive and Close are called
// from the client's read goroutine only.
type inbound struct {
	relay   *Relay
	logger  *slog.Logger
	limiter *rate.Limiter

	residue []byte
	closed  bool
}

func newInbound(r *Relay, info ws.ClientInfo) *inbound {
	in := &inbound{
		relay:  r,
		logger: r.logger.With("client_id", info.ID, "remote_addr", info.RemoteAddr),
	}
	if r.rateLimit > 0 {
		in.limiter = rate.NewLimiter(rate.Limit(r.rateLimit), r.rateBurst)
	}
	return in
}

// Receive appends chunk to the residue and publishes every complete envelope
// it now contains.
func (in *inbound) Receive(chunk []byte) {
	if in.closed {
		return
	}
	in.residue = append(in.residue, chunk...)

	pos := 0
	for pos < len(in.residue) {
		env, n, err := envelope.ParseNextLimit(in.residue[pos:], in.relay.maxBodySize)
		if n == 0 {
			break
		}
		pos += n
		if err != nil {
			in.relay.metrics.InvalidClientBytes(n)
			in.logger.Debug("discarded invalid client bytes", "bytes", n, "err", err)
			continue
		}
		in.publish(env)
	}

	switch {
	case pos == len(in.residue) && cap(in.residue) > residueKeep:
		in.residue = nil
	case pos > 0:
		in.residue = append(in.residue[:0], in.residue[pos:]...)
	}
}

func (in *inbound) publish(env *envelope.Envelope) {
	if in.limiter != nil && !in.limiter.Allow() {
		in.relay.metrics.RateLimited()
		in.logger.Debug("client envelope rate limited", "data_type", env.DataType)
		return
	}

	env.Stamp(in.relay.now())
	if err := in.relay.bus.Send(env); err != nil {
		in.relay.metrics.BusSendError()
		in.logger.Warn("cannot publish client envelope", "data_type", env.DataType, "err", err)
		return
	}
	in.relay.metrics.EnvelopeToBus()
	in.logger.Debug("client envelope published", "data_type", env.DataType, "sender_stamp", env.SenderStamp)
}

// Close discards any partial envelope. Later frames are ignored.
func (in *inbound) Close() {
	in.closed = true
	in.residue = nil
}
