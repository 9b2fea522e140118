package bus

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"golang.org/x/net/ipv4"
)

const (
	// DefaultMulticastPort is the UDP port every OD4 session uses.
	DefaultMulticastPort = 12175

	// DefaultMulticastTTL keeps session traffic on the local segment.
	DefaultMulticastTTL = 1

	maxDatagramSize       = 65507
	multicastSubscription = 256
)

// MulticastOptions configures MulticastPubSub.
type MulticastOptions struct {
	Port      int
	Interface string // empty selects the system default
	TTL       int
	Logger    *slog.Logger
}

// MulticastPubSub is the OD4 wire transport: each session cid maps to the
// group 225.0.0.<cid>, and every datagram carries one or more envelopes.
// It interoperates with any libcluon process joined to the same session.
type MulticastPubSub struct {
	port   int
	iface  *net.Interface
	logger *slog.Logger

	conn      *net.UDPConn
	localPort int
	localIPs  map[string]struct{}

	mu     sync.Mutex
	closed bool
	subs   map[*multicastSub]struct{}
}

type multicastSub struct {
	conn *net.UDPConn
	done chan struct{}
	once sync.Once
}

func (s *multicastSub) stop() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

func NewMulticastPubSub(opts MulticastOptions) (*MulticastPubSub, error) {
	if opts.Port == 0 {
		opts.Port = DefaultMulticastPort
	}
	if opts.TTL == 0 {
		opts.TTL = DefaultMulticastTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var iface *net.Interface
	if opts.Interface != "" {
		ifi, err := net.InterfaceByName(opts.Interface)
		if err != nil {
			return nil, fmt.Errorf("bus: multicast interface %q: %w", opts.Interface, err)
		}
		iface = ifi
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	if err != nil {
		return nil, fmt.Errorf("bus: open multicast sender: %w", err)
	}
	pc := ipv4.NewPacketConn(conn)
	if iface != nil {
		if err := pc.SetMulticastInterface(iface); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("bus: set multicast interface: %w", err)
		}
	}
	if err := pc.SetMulticastTTL(opts.TTL); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("bus: set multicast ttl: %w", err)
	}
	// Other processes on this host must see what the relay publishes.
	if err := pc.SetMulticastLoopback(true); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("bus: enable multicast loopback: %w", err)
	}

	m := &MulticastPubSub{
		port:      opts.Port,
		iface:     iface,
		conn:      conn,
		localPort: conn.LocalAddr().(*net.UDPAddr).Port,
		localIPs:  localIPv4s(),
		subs:      make(map[*multicastSub]struct{}),
	}
	m.logger = logger.With("transport", "multicast", "sender", m.ID())
	return m, nil
}

// ID names the local sender socket. Datagrams received from it are reported
// with this value in Message.From.
func (m *MulticastPubSub) ID() string {
	return "udp4:" + strconv.Itoa(m.localPort)
}

func (m *MulticastPubSub) Publish(topic string, payload []byte) error {
	group, err := m.groupAddr(topic)
	if err != nil {
		return err
	}
	if len(payload) > maxDatagramSize {
		return fmt.Errorf("bus: payload of %d bytes exceeds datagram limit %d", len(payload), maxDatagramSize)
	}
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrTransportClosed
	}
	if _, err := m.conn.WriteToUDP(payload, group); err != nil {
		return fmt.Errorf("bus: send to %s: %w", group, err)
	}
	return nil
}

func (m *MulticastPubSub) Subscribe(topic string) (<-chan Message, func(), error) {
	group, err := m.groupAddr(topic)
	if err != nil {
		return nil, nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, nil, ErrTransportClosed
	}
	conn, err := net.ListenMulticastUDP("udp4", m.iface, group)
	if err != nil {
		return nil, nil, fmt.Errorf("bus: join %s: %w", group, err)
	}
	_ = conn.SetReadBuffer(1 << 20)

	sub := &multicastSub{conn: conn, done: make(chan struct{})}
	m.subs[sub] = struct{}{}

	out := make(chan Message, multicastSubscription)
	go m.readLoop(topic, sub, out)

	cancel := func() {
		sub.stop()
		m.mu.Lock()
		delete(m.subs, sub)
		m.mu.Unlock()
	}
	return out, cancel, nil
}

func (m *MulticastPubSub) readLoop(topic string, sub *multicastSub, out chan<- Message) {
	defer close(out)
	buf := make([]byte, maxDatagramSize+1)
	for {
		n, src, err := sub.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-sub.done:
			default:
				if !errors.Is(err, net.ErrClosed) {
					m.logger.Error("multicast read failed", "topic", topic, "err", err)
				}
			}
			return
		}

		from := src.String()
		if m.isSelf(src) {
			from = m.ID()
		}
		msg := Message{Topic: topic, Payload: append([]byte(nil), buf[:n]...), From: from}
		select {
		case out <- msg:
		case <-sub.done:
			return
		}
	}
}

// Close leaves every group and releases the sender socket. Subscribers see
// their channels close.
func (m *MulticastPubSub) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	subs := m.subs
	m.subs = make(map[*multicastSub]struct{})
	m.mu.Unlock()

	for sub := range subs {
		sub.stop()
	}
	return m.conn.Close()
}

func (m *MulticastPubSub) isSelf(src *net.UDPAddr) bool {
	if src.Port != m.localPort {
		return false
	}
	_, ok := m.localIPs[src.IP.String()]
	return ok
}

func (m *MulticastPubSub) groupAddr(topic string) (*net.UDPAddr, error) {
	cid, err := CIDFromTopic(topic)
	if err != nil {
		return nil, err
	}
	return GroupAddr(cid, m.port)
}

// GroupAddr returns the multicast group address of session cid.
func GroupAddr(cid uint16, port int) (*net.UDPAddr, error) {
	if cid > 255 {
		return nil, fmt.Errorf("bus: cid %d has no multicast group", cid)
	}
	return &net.UDPAddr{IP: net.IPv4(225, 0, 0, byte(cid)), Port: port}, nil
}

func localIPv4s() map[string]struct{} {
	out := map[string]struct{}{"127.0.0.1": {}}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return out
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			out[ip4.String()] = struct{}{}
		}
	}
	return out
}
