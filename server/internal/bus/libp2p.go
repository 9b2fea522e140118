package bus

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	mdns "github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	ma "github.com/multiformats/go-multiaddr"
)

const (
	defaultListenAddr  = "/ip4/0.0.0.0/tcp/0"
	defaultRendezvous  = "opendlv-od4"
	libp2pSubscription = 256
)

// Libp2pOptions configures the libp2p transport.
type Libp2pOptions struct {
	ListenAddrs     []string
	Bootstrap       []string
	Rendezvous      string
	EnableMDNS      bool
	IdentityKeyFile string
	Logger          *slog.Logger
}

// Libp2pPubSub carries OD4 sessions over GossipSub. Relays on different
// networks join the same session by sharing a cid and at least one bootstrap
// peer (or a LAN segment, with mDNS).
type Libp2pPubSub struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	host host.Host
	ps   *pubsub.PubSub

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

func NewLibp2pPubSub(parent context.Context, opts Libp2pOptions) (*Libp2pPubSub, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	listenAddrs := make([]ma.Multiaddr, 0, len(opts.ListenAddrs))
	for _, s := range opts.ListenAddrs {
		if s == "" {
			continue
		}
		a, err := ma.NewMultiaddr(s)
		if err != nil {
			return nil, fmt.Errorf("bus: invalid listen multiaddr %q: %w", s, err)
		}
		listenAddrs = append(listenAddrs, a)
	}
	if len(listenAddrs) == 0 {
		a, _ := ma.NewMultiaddr(defaultListenAddr)
		listenAddrs = append(listenAddrs, a)
	}

	hostOpts := []libp2p.Option{libp2p.ListenAddrs(listenAddrs...)}
	if opts.IdentityKeyFile != "" {
		key, err := loadOrCreateIdentityKey(opts.IdentityKeyFile)
		if err != nil {
			return nil, fmt.Errorf("bus: load identity key: %w", err)
		}
		hostOpts = append(hostOpts, libp2p.Identity(key))
	}

	h, err := libp2p.New(hostOpts...)
	if err != nil {
		return nil, fmt.Errorf("bus: create libp2p host: %w", err)
	}

	ctx, cancel := context.WithCancel(parent)
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		cancel()
		_ = h.Close()
		return nil, fmt.Errorf("bus: create gossipsub: %w", err)
	}

	p := &Libp2pPubSub{
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With("transport", "libp2p", "peer_id", h.ID().String()),
		host:   h,
		ps:     ps,
		topics: make(map[string]*pubsub.Topic),
	}

	if opts.EnableMDNS {
		rendezvous := opts.Rendezvous
		if rendezvous == "" {
			rendezvous = defaultRendezvous
		}
		service := mdns.NewMdnsService(h, rendezvous, &mdnsNotifee{host: h, logger: p.logger})
		if err := service.Start(); err != nil {
			p.logger.Warn("mdns start failed", "err", err)
		}
	}

	p.connectBootstrap(opts.Bootstrap)
	return p, nil
}

// connectBootstrap dials every bootstrap peer once. Unreachable peers are
// logged and skipped; GossipSub keeps working with whoever is connected.
func (p *Libp2pPubSub) connectBootstrap(addrs []string) {
	for _, raw := range addrs {
		if raw == "" {
			continue
		}
		addr, err := ma.NewMultiaddr(raw)
		if err != nil {
			p.logger.Warn("skip bootstrap addr", "addr", raw, "err", err)
			continue
		}
		info, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			p.logger.Warn("skip bootstrap addr", "addr", raw, "err", err)
			continue
		}
		if err := p.host.Connect(p.ctx, *info); err != nil {
			p.logger.Warn("bootstrap connect failed", "peer", info.ID.String(), "err", err)
			continue
		}
		p.logger.Info("connected bootstrap peer", "peer", info.ID.String())
	}
}

// ID returns the local peer id, which is what Message.From carries for
// messages this host published.
func (p *Libp2pPubSub) ID() string {
	return p.host.ID().String()
}

func (p *Libp2pPubSub) Publish(topic string, payload []byte) error {
	t, err := p.getOrJoinTopic(topic)
	if err != nil {
		return err
	}
	if err := t.Publish(p.ctx, payload); err != nil {
		return fmt.Errorf("bus: publish %q: %w", topic, err)
	}
	return nil
}

func (p *Libp2pPubSub) Subscribe(topic string) (<-chan Message, func(), error) {
	t, err := p.getOrJoinTopic(topic)
	if err != nil {
		return nil, nil, err
	}
	sub, err := t.Subscribe()
	if err != nil {
		return nil, nil, fmt.Errorf("bus: subscribe %q: %w", topic, err)
	}

	out := make(chan Message, libp2pSubscription)
	subCtx, subCancel := context.WithCancel(p.ctx)
	go func() {
		defer close(out)
		for {
			msg, err := sub.Next(subCtx)
			if err != nil {
				return
			}
			select {
			case out <- Message{
				Topic:   topic,
				Payload: append([]byte(nil), msg.Data...),
				From:    msg.GetFrom().String(),
			}:
			default:
				p.logger.Debug("subscriber behind, message dropped", "topic", topic)
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			subCancel()
			sub.Cancel()
		})
	}
	return out, cancel, nil
}

func (p *Libp2pPubSub) Close() error {
	p.cancel()
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.topics {
		_ = t.Close()
	}
	return p.host.Close()
}

// ListenAddrs returns the full multiaddrs (including /p2p/<id>) other relays
// can use as bootstrap peers.
func (p *Libp2pPubSub) ListenAddrs() []string {
	out := make([]string, 0, len(p.host.Addrs()))
	for _, addr := range p.host.Addrs() {
		out = append(out, fmt.Sprintf("%s/p2p/%s", addr.String(), p.host.ID().String()))
	}
	return out
}

// ConnectedPeers returns the ids of the peers the host is connected to.
func (p *Libp2pPubSub) ConnectedPeers() []string {
	peers := p.host.Network().Peers()
	out := make([]string, 0, len(peers))
	for _, pid := range peers {
		out = append(out, pid.String())
	}
	return out
}

func (p *Libp2pPubSub) getOrJoinTopic(name string) (*pubsub.Topic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.topics[name]; ok {
		return t, nil
	}
	t, err := p.ps.Join(name)
	if err != nil {
		return nil, fmt.Errorf("bus: join %q: %w", name, err)
	}
	p.topics[name] = t
	return t, nil
}

type mdnsNotifee struct {
	host   host.Host
	logger *slog.Logger
}

func (n *mdnsNotifee) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == n.host.ID() {
		return
	}
	if err := n.host.Connect(context.Background(), info); err != nil {
		n.logger.Debug("mdns connect failed", "peer", info.ID.String(), "err", err)
		return
	}
	n.logger.Info("mdns peer connected", "peer", info.ID.String())
}

// loadOrCreateIdentityKey keeps the relay's peer id stable across restarts so
// that other relays can list it as a bootstrap peer.
func loadOrCreateIdentityKey(path string) (crypto.PrivKey, error) {
	if b, err := os.ReadFile(path); err == nil && len(b) > 0 {
		key, err := crypto.UnmarshalPrivateKey(b)
		if err != nil {
			return nil, fmt.Errorf("unmarshal private key: %w", err)
		}
		return key, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir key dir: %w", err)
	}
	key, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	raw, err := crypto.MarshalPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return nil, fmt.Errorf("write private key: %w", err)
	}
	return key, nil
}
