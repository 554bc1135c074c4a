package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"
)

// Metrics counts what the feed has delivered.
type Metrics struct {
	EventsForwarded atomic.Uint64
	EventsDropped   atomic.Uint64
	RunsFinished    atomic.Uint64
}

// StatusResponse is the JSON body returned by GET /status.
type StatusResponse struct {
	UptimeSeconds   int64  `json:"uptime_seconds"`
	Clients         int    `json:"clients"`
	EventsForwarded uint64 `json:"events_forwarded"`
	EventsDropped   uint64 `json:"events_dropped"`
	BusDropped      uint64 `json:"bus_dropped"`
	RunsFinished    uint64 `json:"runs_finished"`
}

func (s *Server) status() StatusResponse {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	resp := StatusResponse{
		UptimeSeconds:   int64(time.Since(started).Seconds()),
		Clients:         s.ClientCount(),
		EventsForwarded: s.metrics.EventsForwarded.Load(),
		EventsDropped:   s.metrics.EventsDropped.Load(),
		RunsFinished:    s.metrics.RunsFinished.Load(),
	}
	if s.busDropped != nil {
		resp.BusDropped = s.busDropped()
	}
	return resp
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.status())
}

// metricsHandler serves GET /metrics in the Prometheus text format.
func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	st := s.status()
	writeMetric(w, "agenthost_feed_clients", "gauge", "Connected feed clients.", float64(st.Clients))
	writeMetric(w, "agenthost_feed_events_forwarded_total", "counter", "Events queued to feed clients.", float64(st.EventsForwarded))
	writeMetric(w, "agenthost_feed_events_dropped_total", "counter", "Events dropped for slow feed clients.", float64(st.EventsDropped))
	writeMetric(w, "agenthost_bus_events_dropped_total", "counter", "Events dropped by the event bus.", float64(st.BusDropped))
	writeMetric(w, "agenthost_runs_finished_total", "counter", "Simulation runs finished.", float64(st.RunsFinished))
	writeMetric(w, "agenthost_uptime_seconds", "gauge", "Seconds since the feed started.", float64(st.UptimeSeconds))
	writeMetric(w, "go_goroutines", "gauge", "Number of goroutines.", float64(runtime.NumGoroutine()))
}

func writeMetric(w http.ResponseWriter, name, kind, help string, v float64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
	fmt.Fprintf(w, "%s %g\n", name, v)
}
