package api

import (
	"github.com/opendlv/opendlv-ui-relay/server/internal/metrics"
	"github.com/opendlv/opendlv-ui-relay/server/internal/ws"
)

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	// State is "ok" while the bus session runs, "bus_down" otherwise.
	State       string `json:"state"`
	BusRunning  bool   `json:"bus_running"`
	CID         uint16 `json:"cid"`
	Transport   string `json:"transport"`
	InstanceID  string `json:"instance_id,omitempty"`
	ClientCount int    `json:"client_count"`
	Uptime      string `json:"uptime"`

	// Peers lists the bus peers currently connected; libp2p only.
	Peers []string `json:"peers,omitempty"`
}

// ClientsResponse is the payload for GET /api/v1/clients.
type ClientsResponse struct {
	Count   int             `json:"count"`
	Clients []ws.ClientInfo `json:"clients"`
}

// StatsResponse is the payload for GET /api/v1/stats.
type StatsResponse struct {
	GeneratedAt string        `json:"generated_at"` // RFC3339
	Relay       metrics.Stats `json:"relay"`
}

type errorResponse struct {
	Error string `json:"error"`
}
