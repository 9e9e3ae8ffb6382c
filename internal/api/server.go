// Package api serves the ops HTTP surface: health, metrics, and read-only
// views over tracking and usage data.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/packsmith/backend/internal/core"
	"github.com/packsmith/backend/internal/logging"
	"github.com/packsmith/backend/internal/storage"
	"github.com/packsmith/backend/internal/tracking"
	"github.com/packsmith/backend/internal/usage"
)

// Server is the ops HTTP endpoint. It is optional: an empty listen address
// disables it.
type Server struct {
	addr     string
	store    *storage.Store
	tracking *tracking.Service
	usage    *usage.Tracker
	logger   *logging.Logger

	srv *http.Server
}

// NewServer wires the ops server. Start is a no-op when addr is empty.
func NewServer(addr string, store *storage.Store, trk *tracking.Service, usg *usage.Tracker, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.New("[API] ", logging.LevelInfo)
	}
	return &Server{addr: addr, store: store, tracking: trk, usage: usg, logger: logger}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/tracking/links", s.handleLinks).Methods(http.MethodGet)
	v1.HandleFunc("/tracking/links/{id:[0-9]+}/stats", s.handleLinkStats).Methods(http.MethodGet)
	v1.HandleFunc("/usage", s.handleUsage).Methods(http.MethodGet)
	return r
}

// Start begins serving in the background.
func (s *Server) Start() {
	if s.addr == "" {
		return
	}
	s.srv = &http.Server{
		Addr:         s.addr,
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	go func() {
		s.logger.Infof("ops server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("ops server: %v", err)
		}
	}()
}

// Stop shuts the listener down gracefully. Idempotent.
func (s *Server) Stop(ctx context.Context) {
	if s.srv == nil {
		return
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.Warnf("ops server shutdown: %v", err)
	}
	s.srv = nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLinks(w http.ResponseWriter, r *http.Request) {
	links, err := s.tracking.Links(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	type linkView struct {
		LinkID    int64  `json:"link_id"`
		Tag       string `json:"tag"`
		Slug      string `json:"slug"`
		CreatedAt string `json:"created_at"`
	}
	out := make([]linkView, 0, len(links))
	for _, l := range links {
		out = append(out, linkView{
			LinkID:    l.LinkID,
			Tag:       l.Tag,
			Slug:      l.Slug,
			CreatedAt: l.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"links": out})
}

func (s *Server) handleLinkStats(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid link id"})
		return
	}
	daily := r.URL.Query().Get("daily") == "true"
	from := parseDateParam(r.URL.Query().Get("from"))
	to := parseDateParam(r.URL.Query().Get("to"))

	stats, err := s.tracking.Stats(r.Context(), []int64{id}, from, to, daily)
	if err != nil {
		s.writeError(w, err)
		return
	}
	type statView struct {
		LinkID      int64  `json:"link_id"`
		Tag         string `json:"tag"`
		Slug        string `json:"slug"`
		Date        string `json:"date,omitempty"`
		TotalEvents int    `json:"total_events"`
		UniqueUsers int    `json:"unique_users"`
		FirstStarts int    `json:"first_starts"`
	}
	out := make([]statView, 0, len(stats))
	for _, st := range stats {
		view := statView{
			LinkID:      st.LinkID,
			Tag:         st.Tag,
			Slug:        st.Slug,
			TotalEvents: st.TotalEvents,
			UniqueUsers: st.UniqueUsers,
			FirstStarts: st.FirstStarts,
		}
		if st.Date != nil {
			view.Date = st.Date.Format("2006-01-02")
		}
		out = append(out, view)
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"stats": out})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			offset = n
		}
	}
	page, err := s.usage.Report(r.Context(), offset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	type userView struct {
		UserID       int64  `json:"user_id"`
		Label        string `json:"label"`
		TotalCount   int    `json:"total_count"`
		MessageCount int    `json:"message_count"`
		LastSeen     string `json:"last_seen"`
	}
	out := make([]userView, 0, len(page.Stats))
	for _, st := range page.Stats {
		out = append(out, userView{
			UserID:       st.UserID,
			Label:        st.Label(),
			TotalCount:   st.TotalCount,
			MessageCount: st.MessageCount,
			LastSeen:     st.LastSeen.UTC().Format(time.RFC3339),
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"users":        out,
		"offset":       page.Offset,
		"page_size":    page.PageSize,
		"total_users":  page.TotalUsers,
		"total_events": page.TotalEvents,
		"has_more":     page.HasMore(),
	})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if core.IsKind(err, core.InputInvalid) {
		status = http.StatusBadRequest
	}
	s.logger.Warnf("request failed: %v", err)
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warnf("encode response: %v", err)
	}
}

func parseDateParam(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil
	}
	return &t
}
