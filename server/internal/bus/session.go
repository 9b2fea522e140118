package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opendlv/opendlv-ui-relay/pkg/envelope"
	"github.com/opendlv/opendlv-ui-relay/server/internal/metrics"
)

// DefaultBufferSize is the capacity of the inbound envelope channel.
const DefaultBufferSize = 256

var (
	ErrNotRunning         = errors.New("bus: session not running")
	ErrConsumerRegistered = errors.New("bus: consumer already registered")
)

// Option configures a Session.
type Option func(*Session)

func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithMetrics records invalid bus messages on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithClock replaces the clock used to stamp Received.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

func WithBufferSize(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.bufSize = n
		}
	}
}

// Session is the relay's membership in one OD4 session.
type Session struct {
	cid       uint16
	topic     string
	transport PubSub
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	bufSize   int

	out       chan *envelope.Envelope
	done      chan struct{}
	cancel    context.CancelFunc
	cancelSub func()

	running   atomic.Bool
	consumer  atomic.Int32
	invalid   atomic.Uint64
	closeOnce sync.Once
}

// NewSession joins session cid on transport and starts delivering incoming
// envelopes. The session ends when ctx is cancelled, Close is called or the
// transport subscription ends.
func NewSession(ctx context.Context, cid uint16, transport PubSub, opts ...Option) (*Session, error) {
	s := &Session{
		cid:       cid,
		topic:     Topic(cid),
		transport: transport,
		logger:    slog.Default(),
		now:       time.Now,
		bufSize:   DefaultBufferSize,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("cid", cid)
	s.out = make(chan *envelope.Envelope, s.bufSize)

	msgs, cancelSub, err := transport.Subscribe(s.topic)
	if err != nil {
		return nil, fmt.Errorf("bus: join session %d: %w", cid, err)
	}
	s.cancelSub = cancelSub

	ctx, s.cancel = context.WithCancel(ctx)
	s.running.Store(true)
	go s.deliver(ctx, msgs)

	s.logger.Info("joined od4 session", "topic", s.topic, "endpoint", transport.ID())
	return s, nil
}

func (s *Session) deliver(ctx context.Context, msgs <-chan Message) {
	defer func() {
		s.running.Store(false)
		s.cancelSub()
		close(s.out)
		close(s.done)
	}()

	self := s.transport.ID()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("left od4 session")
			return
		case msg, ok := <-msgs:
			if !ok {
				s.logger.Error("od4 session lost: transport subscription ended")
				return
			}
			if msg.From == self {
				continue
			}

			envs, _, err := envelope.ParseAll(msg.Payload)
			if err != nil {
				s.invalid.Add(1)
				s.metrics.InvalidBusMessage()
				s.logger.Debug("discarded invalid bytes from bus", "from", msg.From, "bytes", len(msg.Payload), "err", err)
			}
			received := envelope.FromTime(s.now())
			for _, env := range envs {
				env.Received = received
				select {
				case s.out <- env:
				case <-ctx.Done():
					s.logger.Info("left od4 session")
					return
				}
			}
		}
	}
}

// Send publishes env to the session once. There is no retry and no queue.
func (s *Session) Send(env *envelope.Envelope) error {
	if !s.IsRunning() {
		return ErrNotRunning
	}
	b, err := envelope.Marshal(env)
	if err != nil {
		return fmt.Errorf("bus: encode envelope: %w", err)
	}
	if err := s.transport.Publish(s.topic, b); err != nil {
		return fmt.Errorf("bus: send to session %d: %w", s.cid, err)
	}
	return nil
}

// Consumer kinds; a session has at most one.
const (
	consumerNone int32 = iota
	consumerChannel
	consumerCallback
)

// Envelopes returns the inbound stream in arrival order. It is closed when the
// session stops. Repeated calls return the same channel. Once OnReceive has
// registered a callback, Envelopes returns nil.
func (s *Session) Envelopes() <-chan *envelope.Envelope {
	if s.consumer.CompareAndSwap(consumerNone, consumerChannel) || s.consumer.Load() == consumerChannel {
		return s.out
	}
	s.logger.Error("envelope stream requested while a callback consumes the session")
	return nil
}

// OnReceive runs fn for every inbound envelope on a dedicated goroutine. It
// fails with ErrConsumerRegistered once Envelopes or OnReceive has been used.
func (s *Session) OnReceive(fn func(*envelope.Envelope)) error {
	if !s.consumer.CompareAndSwap(consumerNone, consumerCallback) {
		return ErrConsumerRegistered
	}
	go func() {
		for env := range s.out {
			fn(env)
		}
	}()
	return nil
}

func (s *Session) IsRunning() bool { return s.running.Load() }

// Done is closed once the session has stopped for good.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) CID() uint16 { return s.cid }

// InvalidMessages counts bus messages that contained undecodable bytes.
func (s *Session) InvalidMessages() uint64 { return s.invalid.Load() }

// Close leaves the session and waits until delivery has stopped. The
// transport itself stays open.
func (s *Session) Close() error {
	s.closeOnce.Do(s.cancel)
	<-s.done
	return nil
}
