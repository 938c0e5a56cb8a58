package api

import (
	"net/http"
	"time"
)

type healthStatus struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusOK, healthStatus{
		Status:        "ok",
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
	})
}

func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

type deepHealthStatus struct {
	Status        string `json:"status"`
	Database      string `json:"database"`
	Storage       string `json:"storage"`
}

func (s *Server) handleHealthDeep(w http.ResponseWriter, r *http.Request) {
	resp := deepHealthStatus{Status: "ok", Database: "ok", Storage: "ok"}
	ok := true

	if s.cfg.DB != nil {
		if err := s.cfg.DB.Ping(r.Context()); err != nil {
			s.cfg.Logger.Error("deep health check: database ping failed", "error", err)
			resp.Database = "error"
			ok = false
		}
	}
	if s.cfg.Storage != nil {
		if err := s.cfg.Storage.Ping(r.Context()); err != nil {
			s.cfg.Logger.Error("deep health check: storage ping failed", "error", err)
			resp.Storage = "error"
			ok = false
		}
	}

	if !ok {
		resp.Status = "degraded"
		Respond(w, http.StatusServiceUnavailable, resp)
		return
	}
	Respond(w, http.StatusOK, resp)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.cfg.DB != nil {
		if err := s.cfg.DB.Ping(r.Context()); err != nil {
			s.cfg.Logger.Error("readiness check: database ping failed", "error", err)
			Respond(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
			return
		}
	}
	Respond(w, http.StatusOK, map[string]string{"status": "ready"})
}
