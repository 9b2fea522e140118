package metrics

import (
	"fmt"
	"strings"

	dto "github.com/prometheus/client_model/go"
)

// Stats is a JSON-friendly view of the relay counters.
type Stats struct {
	EnvelopesFromBus    uint64 `json:"envelopes_from_bus"`
	EnvelopesToBus      uint64 `json:"envelopes_to_bus"`
	BusSendErrors       uint64 `json:"bus_send_errors"`
	InvalidBytes        uint64 `json:"invalid_bytes"`
	InvalidClientFrames uint64 `json:"invalid_client_fragments"`
	InvalidBusMessages  uint64 `json:"invalid_bus_messages"`
	RateLimited         uint64 `json:"rate_limited"`
	BroadcastBytes      uint64 `json:"broadcast_bytes"`
	ClientsConnected    int    `json:"clients_connected"`
	ClientConnections   uint64 `json:"client_connections"`
	ClientsDropped      uint64 `json:"clients_dropped"`
	MapObjects          int    `json:"map_objects"`
	MapReloadsFailed    uint64 `json:"map_reloads_failed"`
}

// Snapshot gathers the registry and extracts the relay series.
func (m *Metrics) Snapshot() (Stats, error) {
	families, err := m.reg.Gather()
	if err != nil {
		return Stats{}, fmt.Errorf("metrics: gather: %w", err)
	}

	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, mf := range families {
		if name, ok := strings.CutPrefix(mf.GetName(), namespace+"_"); ok {
			byName[name] = mf
		}
	}
	v := func(name, label, value string) float64 {
		return sumMatching(byName[name], label, value)
	}

	return Stats{
		EnvelopesFromBus:    uint64(v("envelopes_total", "direction", DirectionBusToClients)),
		EnvelopesToBus:      uint64(v("envelopes_total", "direction", DirectionClientsToBus)),
		BusSendErrors:       uint64(v("bus_send_errors_total", "", "")),
		InvalidBytes:        uint64(v("invalid_bytes_total", "", "")),
		InvalidClientFrames: uint64(v("invalid_envelopes_total", "source", SourceClient)),
		InvalidBusMessages:  uint64(v("invalid_envelopes_total", "source", SourceBus)),
		RateLimited:         uint64(v("rate_limited_total", "", "")),
		BroadcastBytes:      uint64(v("broadcast_bytes_total", "", "")),
		ClientsConnected:    int(v("clients_connected", "", "")),
		ClientConnections:   uint64(v("client_connections_total", "", "")),
		ClientsDropped:      uint64(v("clients_dropped_total", "", "")),
		MapObjects:          int(v("map_objects", "", "")),
		MapReloadsFailed:    uint64(v("map_reloads_total", "result", "error")),
	}, nil
}

// sumMatching adds up the counter or gauge values of mf whose label matches.
// An empty label matches every series.
func sumMatching(mf *dto.MetricFamily, label, value string) float64 {
	if mf == nil {
		return 0
	}
	var total float64
	for _, metric := range mf.GetMetric() {
		if label != "" && !hasLabel(metric, label, value) {
			continue
		}
		switch mf.GetType() {
		case dto.MetricType_COUNTER:
			total += metric.GetCounter().GetValue()
		case dto.MetricType_GAUGE:
			total += metric.GetGauge().GetValue()
		}
	}
	return total
}

func hasLabel(metric *dto.Metric, name, value string) bool {
	for _, lp := range metric.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue() == value
		}
	}
	return false
}
