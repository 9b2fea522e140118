package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opendlv/opendlv-ui-relay/server/internal/metrics"
	"github.com/opendlv/opendlv-ui-relay/server/internal/ws"
)

// Session is the bus state the API reports on.
type Session interface {
	IsRunning() bool
	CID() uint16
}

// Registry is the client registry the API lists.
type Registry interface {
	Count() int
	Clients() []ws.ClientInfo
}

// StatsSource provides relay counters.
type StatsSource interface {
	Snapshot() (metrics.Stats, error)
}

// PeerLister reports the bus peers a transport is connected to.
type PeerLister interface {
	ConnectedPeers() []string
}

// Handler serves the /api/v1/* endpoints.
type Handler struct {
	session    Session
	clients    Registry
	stats      StatsSource
	peers      PeerLister
	transport  string
	instanceID string
	started    time.Time
	now        func() time.Time // injectable for deterministic tests
}

// Options describes the relay the API reports on.
type Options struct {
	Session    Session
	Clients    Registry
	Stats      StatsSource // may be nil
	Peers      PeerLister  // may be nil
	Transport  string
	InstanceID string
}

// New creates a Handler and returns a router with all routes registered.
func New(opts Options) http.Handler {
	h := &Handler{
		session:    opts.Session,
		clients:    opts.Clients,
		stats:      opts.Stats,
		peers:      opts.Peers,
		transport:  opts.Transport,
		instanceID: opts.InstanceID,
		started:    time.Now(),
		now:        time.Now,
	}
	return h.routes()
}

func (h *Handler) routes() chi.Router {
	r := chi.NewRouter()
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		jsonErr(w, http.StatusNotFound, "not found")
	})

	r.Get("/api/v1/health", h.health)
	r.Get("/api/v1/clients", h.listClients)
	r.Get("/api/v1/stats", h.relayStats)
	return r
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health; 503 while the bus session is down.
func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	running := h.session.IsRunning()
	resp := HealthResponse{
		State:       "ok",
		BusRunning:  running,
		CID:         h.session.CID(),
		Transport:   h.transport,
		InstanceID:  h.instanceID,
		ClientCount: h.clients.Count(),
		Uptime:      h.now().Sub(h.started).Truncate(time.Second).String(),
	}
	if h.peers != nil {
		resp.Peers = h.peers.ConnectedPeers()
	}
	code := http.StatusOK
	if !running {
		resp.State = "bus_down"
		code = http.StatusServiceUnavailable
	}
	jsonResp(w, code, resp)
}

// listClients returns GET /api/v1/clients ordered by client id.
func (h *Handler) listClients(w http.ResponseWriter, _ *http.Request) {
	clients := h.clients.Clients()
	if clients == nil {
		clients = []ws.ClientInfo{}
	}
	jsonResp(w, http.StatusOK, ClientsResponse{Count: len(clients), Clients: clients})
}

// relayStats returns GET /api/v1/stats.
func (h *Handler) relayStats(w http.ResponseWriter, _ *http.Request) {
	if h.stats == nil {
		jsonErr(w, http.StatusNotFound, "metrics disabled")
		return
	}
	s, err := h.stats.Snapshot()
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResp(w, http.StatusOK, StatsResponse{
		GeneratedAt: h.now().UTC().Format(time.RFC3339),
		Relay:       s,
	})
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
