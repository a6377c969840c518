package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cuemby/eventsync/pkg/app"
	"github.com/cuemby/eventsync/pkg/events"
	"github.com/cuemby/eventsync/pkg/metrics"
)

// Source is the client state the status server reports on
type Source interface {
	Status() app.Status
	MirrorEntries(name string) (map[string]json.RawMessage, bool)
}

// StatusServer provides HTTP status endpoints
type StatusServer struct {
	source Source
	broker *events.Broker
	mux    *http.ServeMux
}

// NewStatusServer creates the status endpoints. broker may be nil.
func NewStatusServer(source Source, broker *events.Broker) *StatusServer {
	mux := http.NewServeMux()
	ss := &StatusServer{
		source: source,
		broker: broker,
		mux:    mux,
	}

	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/status", ss.statusHandler)
	mux.HandleFunc("/mirrors/{name}", ss.mirrorHandler)
	mux.HandleFunc("/events", ss.eventsHandler)

	return ss
}

// MirrorResponse is the body of /mirrors/{name}
type MirrorResponse struct {
	Name      string                     `json:"name"`
	Count     int                        `json:"count"`
	Entries   map[string]json.RawMessage `json:"entries"`
	Timestamp time.Time                  `json:"timestamp"`
}

// statusHandler implements the /status endpoint
func (ss *StatusServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	if ss.source == nil {
		http.Error(w, "client not initialized", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, ss.source.Status())
}

// mirrorHandler implements the /mirrors/{name} endpoint
func (ss *StatusServer) mirrorHandler(w http.ResponseWriter, r *http.Request) {
	if ss.source == nil {
		http.Error(w, "client not initialized", http.StatusServiceUnavailable)
		return
	}

	name := r.PathValue("name")
	entries, ok := ss.source.MirrorEntries(name)
	if !ok {
		http.Error(w, "unknown mirror: "+name, http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, MirrorResponse{
		Name:      name,
		Count:     len(entries),
		Entries:   entries,
		Timestamp: time.Now(),
	})
}

// eventsHandler implements the /events endpoint
func (ss *StatusServer) eventsHandler(w http.ResponseWriter, r *http.Request) {
	history := []*events.Event{}
	if ss.broker != nil {
		history = ss.broker.History()
	}
	writeJSON(w, http.StatusOK, history)
}

// Handler returns the HTTP handler for embedding in other servers
func (ss *StatusServer) Handler() http.Handler {
	return ss.mux
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
