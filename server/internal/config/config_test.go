package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

// required sets the three mandatory options, as flags would.
func required(r *RelayConfig) {
	r.CID = 111
	r.Port = 8081
	r.HTTPRoot = "/opt/http"
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", required)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	r := cfg.Relay
	if r.Bus.Transport != TransportMulticast {
		t.Errorf("bus.transport: got %q, want multicast", r.Bus.Transport)
	}
	if r.Bus.Multicast.Port != DefaultMulticastPort {
		t.Errorf("bus.multicast.port: got %d, want %d", r.Bus.Multicast.Port, DefaultMulticastPort)
	}
	if r.Clients.SendBuffer != DefaultSendBuffer {
		t.Errorf("clients.send_buffer: got %d, want %d", r.Clients.SendBuffer, DefaultSendBuffer)
	}
	if r.Clients.WriteTimeout != DefaultWriteTimeout {
		t.Errorf("clients.write_timeout: got %v, want %v", r.Clients.WriteTimeout, DefaultWriteTimeout)
	}
	if r.TLS.Enabled() {
		t.Error("tls: enabled by default")
	}
	if !r.Bus.Libp2p.MDNS {
		t.Error("bus.libp2p.mdns: want true by default")
	}
}

func TestLoad_FullFile(t *testing.T) {
	p := writeConfig(t, `relay:
  cid: 112
  port: 8443
  http_root: /srv/ui
  tls:
    cert_file: /etc/relay/cert.pem
    key_file: /etc/relay/key.pem
  map_file: /srv/map.csv
  id: relay-a
  verbose: true
  bus:
    transport: libp2p
    libp2p:
      listen_addrs: ["/ip4/0.0.0.0/tcp/4001"]
      bootstrap: ["/ip4/10.0.0.2/tcp/4001/p2p/12D3KooWExample"]
      mdns: false
  clients:
    send_buffer: 64
    max_message_size: 65536
    write_timeout: 5s
    rate_limit: 50
    rate_burst: 100
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	r := cfg.Relay
	if r.CID != 112 || r.Port != 8443 || r.HTTPRoot != "/srv/ui" {
		t.Errorf("required: got cid=%d port=%d root=%q", r.CID, r.Port, r.HTTPRoot)
	}
	if !r.TLS.Enabled() {
		t.Error("tls: want enabled")
	}
	if r.MapFile != "/srv/map.csv" || r.ID != "relay-a" || !r.Verbose {
		t.Errorf("optional: got map=%q id=%q verbose=%v", r.MapFile, r.ID, r.Verbose)
	}
	if r.Bus.Transport != TransportLibp2p {
		t.Errorf("bus.transport: got %q, want libp2p", r.Bus.Transport)
	}
	if len(r.Bus.Libp2p.Bootstrap) != 1 || r.Bus.Libp2p.MDNS {
		t.Errorf("bus.libp2p: got %+v", r.Bus.Libp2p)
	}
	if r.Bus.Libp2p.Rendezvous != DefaultRendezvous {
		t.Errorf("bus.libp2p.rendezvous: got %q, want default kept", r.Bus.Libp2p.Rendezvous)
	}
	if r.Clients.SendBuffer != 64 || r.Clients.WriteTimeout != 5*time.Second || r.Clients.RateLimit != 50 {
		t.Errorf("clients: got %+v", r.Clients)
	}
}

func TestLoad_FlagsOverrideFile(t *testing.T) {
	p := writeConfig(t, `relay:
  cid: 112
  port: 8080
  http_root: /srv/ui
`)
	cfg, err := Load(p, func(r *RelayConfig) { r.Port = 9000 })
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Relay.Port != 9000 {
		t.Errorf("port: got %d, want 9000 from override", cfg.Relay.Port)
	}
	if cfg.Relay.CID != 112 {
		t.Errorf("cid: got %d, want 112 from file", cfg.Relay.CID)
	}
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("RELAY_TEST_ROOT", "/from/env")
	p := writeConfig(t, `relay:
  cid: 111
  port: 8081
  http_root: ${RELAY_TEST_ROOT}
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Relay.HTTPRoot != "/from/env" {
		t.Errorf("http_root: got %q, want /from/env", cfg.Relay.HTTPRoot)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	_, err := Load("")
	if err == nil {
		t.Fatal("Load without required options: want error")
	}
	if !errors.Is(err, ErrMissingRequired) {
		t.Errorf("error %v does not wrap ErrMissingRequired", err)
	}
	for _, name := range []string{"--cid", "--port", "--http-root"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error does not mention %s: %v", name, err)
		}
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), required)
	if err == nil {
		t.Fatal("want error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	p := writeConfig(t, "relay: [unclosed\n")
	if _, err := Load(p, required); err == nil {
		t.Fatal("want error for invalid yaml")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*RelayConfig)
		wantErr string
	}{
		{"valid", func(*RelayConfig) {}, ""},
		{"port out of range", func(r *RelayConfig) { r.Port = 70000 }, "relay.port"},
		{"negative cid", func(r *RelayConfig) { r.CID = -1 }, "relay.cid"},
		{"multicast cid too high", func(r *RelayConfig) { r.CID = 300 }, "multicast group"},
		{"libp2p allows high cid", func(r *RelayConfig) { r.CID = 300; r.Bus.Transport = TransportLibp2p }, ""},
		{"tls cert without key", func(r *RelayConfig) { r.TLS.CertFile = "c.pem" }, "relay.tls"},
		{"unknown transport", func(r *RelayConfig) { r.Bus.Transport = "carrier-pigeon" }, "relay.bus.transport"},
		{"ttl out of range", func(r *RelayConfig) { r.Bus.Multicast.TTL = 256 }, "relay.bus.multicast.ttl"},
		{"zero send buffer", func(r *RelayConfig) { r.Clients.SendBuffer = 0 }, "send_buffer"},
		{"negative rate", func(r *RelayConfig) { r.Clients.RateLimit = -1 }, "rate_limit"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaults()
			required(&cfg.Relay)
			tc.mutate(&cfg.Relay)

			err := validate(cfg)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("validate: unexpected error %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("validate: got %v, want error containing %q", err, tc.wantErr)
			}
		})
	}
}
