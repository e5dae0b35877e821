package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"Go2FlowSpectra/internal/engine/aggregate"
	"Go2FlowSpectra/internal/metrics"
	"Go2FlowSpectra/internal/model"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// CollectorInfo describes one collector in /api/v1/collectors.
type CollectorInfo struct {
	Name   string   `json:"name"`
	Fields []string `json:"fields"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCollectors(w http.ResponseWriter, r *http.Request) {
	infos := make([]CollectorInfo, 0, len(s.src.Collectors()))
	for _, c := range s.src.Collectors() {
		info := CollectorInfo{Name: c.Name()}
		for _, f := range c.DefaultFields() {
			info.Fields = append(info.Fields, f.String())
		}
		infos = append(infos, info)
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) collector(w http.ResponseWriter, r *http.Request) (model.Collector, bool) {
	name := mux.Vars(r)["collector"]
	c, ok := s.src.Collector(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown collector: %s", name))
	}
	return c, ok
}

// parseQuery reads fields, sort, reverse, limit and seconds from the URL.
// Without seconds the engine's elapsed packet time is used for rates.
func (s *Server) parseQuery(r *http.Request) (aggregate.Query, error) {
	params := r.URL.Query()
	q := aggregate.Query{Seconds: s.src.Elapsed().Seconds()}

	var err error
	if q.Fields, err = aggregate.ParseFields(params.Get("fields")); err != nil {
		return q, err
	}
	if v := params.Get("sort"); v != "" {
		if q.SortBy, err = aggregate.ParseField(v); err != nil {
			return q, err
		}
	}
	if v := params.Get("reverse"); v != "" {
		if q.Reverse, err = strconv.ParseBool(v); err != nil {
			return q, fmt.Errorf("invalid reverse: %w", err)
		}
	}
	if v := params.Get("limit"); v != "" {
		if q.Limit, err = strconv.Atoi(v); err != nil || q.Limit < 0 {
			return q, fmt.Errorf("invalid limit: %q", v)
		}
	}
	if v := params.Get("seconds"); v != "" {
		if q.Seconds, err = strconv.ParseFloat(v, 64); err != nil || q.Seconds < 0 {
			return q, fmt.Errorf("invalid seconds: %q", v)
		}
	}
	return q, nil
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	c, ok := s.collector(w, r)
	if !ok {
		return
	}
	q, err := s.parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, c.Status(q))
}

// handleMetrics prints statsd lines, interval scope unless scope=lifetime.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	c, ok := s.collector(w, r)
	if !ok {
		return
	}
	scope := metrics.Interval
	switch strings.ToLower(r.URL.Query().Get("scope")) {
	case "", "interval":
	case "lifetime":
		scope = metrics.Lifetime
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid scope: %q", r.URL.Query().Get("scope")))
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	for _, l := range c.Metrics(scope) {
		fmt.Fprintln(w, l.String())
	}
}

// handleStream pushes the collector status every stream interval until the
// client goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	c, ok := s.collector(w, r)
	if !ok {
		return
	}
	q, err := s.parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Debug("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	interval := s.cfg.StreamInterval.Std()
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	explicitSeconds := r.URL.Query().Get("seconds") != ""
	for {
		if !explicitSeconds {
			q.Seconds = s.src.Elapsed().Seconds()
		}
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(c.Status(q)); err != nil {
			s.log.WithError(err).Debug("Stream write failed")
			return
		}
		select {
		case <-ticker.C:
		case <-done:
			return
		case <-r.Context().Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		}
	}
}
