package mapfeed

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/opendlv/opendlv-ui-relay/server/internal/metrics"
)

// Response is the JSON body served by Feed.
type Response struct {
	Object []Object `json:"object"`
}

// Feed loads a map file into a Store and serves it over HTTP.
type Feed struct {
	path    string
	store   *Store
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a Feed for path. Nothing is read until Load or the first
// request.
func New(path string, logger *slog.Logger, m *metrics.Metrics) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		path:    path,
		store:   NewStore(),
		logger:  logger.With("map_file", path),
		metrics: m,
	}
}

func (f *Feed) Path() string { return f.path }

func (f *Feed) Store() *Store { return f.store }

// Load parses the file and replaces the stored objects. On error the
// previous objects are kept.
func (f *Feed) Load() error {
	err := f.load()
	f.metrics.MapReloaded(err)
	return err
}

func (f *Feed) load() error {
	file, err := os.Open(f.path)
	if err != nil {
		return fmt.Errorf("mapfeed: open: %w", err)
	}
	defer file.Close()

	objects, skipped, err := Parse(file)
	if err != nil {
		return err
	}
	for _, s := range skipped {
		f.logger.Debug("map line skipped", "line", s.Line, "reason", s.Reason)
	}
	for _, o := range objects {
		f.logger.Debug("map object", "id", o.ID, "type", o.Type, "latitude", o.Latitude, "longitude", o.Longitude)
	}

	f.store.Put(objects)
	f.metrics.SetMapObjects(len(objects))
	f.logger.Info("map loaded", "objects", len(objects), "skipped", len(skipped))
	return nil
}

// ServeHTTP answers GET with the stored objects. If nothing has been loaded
// yet, the file is read first; an unreadable file yields an empty list.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, ok := f.store.LoadedAt(); !ok {
		if err := f.Load(); err != nil {
			f.logger.Warn("map unavailable", "err", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(Response{Object: f.store.List()}) //nolint:errcheck
}
