package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Bus transports.
const (
	TransportMulticast = "multicast"
	TransportLibp2p    = "libp2p"
)

// Default values for the relay configuration.
const (
	DefaultTransport      = TransportMulticast
	DefaultMulticastPort  = 12175
	DefaultMulticastTTL   = 1
	DefaultRendezvous     = "opendlv-od4"
	DefaultSendBuffer     = 256
	DefaultMaxMessageSize = 1 << 20
	DefaultWriteTimeout   = 10 * time.Second

	// maxMulticastCID is the highest cid with a usable 225.0.0.<cid> group.
	maxMulticastCID = 254
)

// ErrMissingRequired marks a configuration that lacks cid, port or http_root.
var ErrMissingRequired = errors.New("missing required option")

// Config holds the relay configuration parsed from the `relay:` section of
// the config file, with command-line flags applied on top.
type Config struct {
	Relay RelayConfig `yaml:"relay"`
}

// RelayConfig holds all relay settings.
type RelayConfig struct {
	// CID is the OD4 session (conference id) to join. Required.
	CID int `yaml:"cid"`

	// Port is the HTTP/WebSocket listen port. Required.
	Port int `yaml:"port"`

	// HTTPRoot is the directory the browser UI is served from. Required.
	HTTPRoot string `yaml:"http_root"`

	// TLS enables HTTPS/WSS when both files are set.
	TLS TLSConfig `yaml:"tls"`

	// MapFile enables GET /map when set.
	MapFile string `yaml:"map_file"`

	// ID names this relay instance in logs and metrics.
	ID string `yaml:"id"`

	// Verbose enables debug logging, including one line per relayed envelope.
	Verbose bool `yaml:"verbose"`

	Bus     BusConfig     `yaml:"bus"`
	Clients ClientsConfig `yaml:"clients"`
}

// TLSConfig points at a PEM certificate and key.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Enabled reports whether TLS is configured.
func (t TLSConfig) Enabled() bool { return t.CertFile != "" && t.KeyFile != "" }

// BusConfig selects and tunes the bus transport.
type BusConfig struct {
	// Transport is one of: multicast | libp2p.
	Transport string          `yaml:"transport"`
	Multicast MulticastConfig `yaml:"multicast"`
	Libp2p    Libp2pConfig    `yaml:"libp2p"`
}

type MulticastConfig struct {
	Port      int    `yaml:"port"`
	Interface string `yaml:"interface"`
	TTL       int    `yaml:"ttl"`
}

type Libp2pConfig struct {
	ListenAddrs     []string `yaml:"listen_addrs"`
	Bootstrap       []string `yaml:"bootstrap"`
	Rendezvous      string   `yaml:"rendezvous"`
	MDNS            bool     `yaml:"mdns"`
	IdentityKeyFile string   `yaml:"identity_key_file"`
}

// ClientsConfig bounds what each WebSocket client may cost the relay.
type ClientsConfig struct {
	// SendBuffer is the number of frames queued per client before it is
	// considered too slow and disconnected.
	SendBuffer int `yaml:"send_buffer"`

	// MaxMessageSize caps one inbound WebSocket frame, in bytes.
	MaxMessageSize int64 `yaml:"max_message_size"`

	WriteTimeout time.Duration `yaml:"write_timeout"`

	// RateLimit caps the envelopes per second one client may publish.
	// Zero disables the limit.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is non-empty, with ${VAR} references expanded from the environment),
// then each override in order. The result is validated.
func Load(path string, overrides ...func(*RelayConfig)) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("relay config: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("relay config: parse yaml: %w", err)
		}
	}

	for _, apply := range overrides {
		apply(&cfg.Relay)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("relay config: %w", err)
	}
	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Relay: RelayConfig{
			Bus: BusConfig{
				Transport: DefaultTransport,
				Multicast: MulticastConfig{
					Port: DefaultMulticastPort,
					TTL:  DefaultMulticastTTL,
				},
				Libp2p: Libp2pConfig{
					Rendezvous: DefaultRendezvous,
					MDNS:       true,
				},
			},
			Clients: ClientsConfig{
				SendBuffer:     DefaultSendBuffer,
				MaxMessageSize: DefaultMaxMessageSize,
				WriteTimeout:   DefaultWriteTimeout,
			},
		},
	}
}

// validate checks the parsed configuration and reports every problem found.
func validate(cfg *Config) error {
	r := cfg.Relay
	var errs []error

	if r.CID == 0 {
		errs = append(errs, fmt.Errorf("%w: relay.cid (--cid)", ErrMissingRequired))
	}
	if r.Port == 0 {
		errs = append(errs, fmt.Errorf("%w: relay.port (--port)", ErrMissingRequired))
	}
	if r.HTTPRoot == "" {
		errs = append(errs, fmt.Errorf("%w: relay.http_root (--http-root)", ErrMissingRequired))
	}

	if r.CID < 0 || r.CID > 65535 {
		errs = append(errs, fmt.Errorf("relay.cid %d is out of range [1, 65535]", r.CID))
	}
	if r.Port < 0 || r.Port > 65535 {
		errs = append(errs, fmt.Errorf("relay.port %d is out of range [1, 65535]", r.Port))
	}
	if (r.TLS.CertFile == "") != (r.TLS.KeyFile == "") {
		errs = append(errs, errors.New("relay.tls: cert_file and key_file must be set together"))
	}

	switch r.Bus.Transport {
	case TransportMulticast:
		if r.CID > maxMulticastCID {
			errs = append(errs, fmt.Errorf("relay.cid %d has no multicast group: want [1, %d]", r.CID, maxMulticastCID))
		}
		if r.Bus.Multicast.Port <= 0 || r.Bus.Multicast.Port > 65535 {
			errs = append(errs, fmt.Errorf("relay.bus.multicast.port %d is out of range [1, 65535]", r.Bus.Multicast.Port))
		}
		if r.Bus.Multicast.TTL < 0 || r.Bus.Multicast.TTL > 255 {
			errs = append(errs, fmt.Errorf("relay.bus.multicast.ttl %d is out of range [0, 255]", r.Bus.Multicast.TTL))
		}
	case TransportLibp2p:
	default:
		errs = append(errs, fmt.Errorf("relay.bus.transport %q unknown: want multicast|libp2p", r.Bus.Transport))
	}

	if r.Clients.SendBuffer <= 0 {
		errs = append(errs, fmt.Errorf("relay.clients.send_buffer must be positive"))
	}
	if r.Clients.MaxMessageSize <= 0 {
		errs = append(errs, fmt.Errorf("relay.clients.max_message_size must be positive"))
	}
	if r.Clients.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("relay.clients.write_timeout must be positive"))
	}
	if r.Clients.RateLimit < 0 || r.Clients.RateBurst < 0 {
		errs = append(errs, fmt.Errorf("relay.clients.rate_limit and rate_burst must not be negative"))
	}

	return errors.Join(errs...)
}
