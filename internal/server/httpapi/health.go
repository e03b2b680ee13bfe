package httpapi

import (
	"net/http"
	"sync/atomic"
)

// Readiness flips to ready once migrations have run.
type Readiness struct {
	ready atomic.Bool
}

func (h *Readiness) SetReady(ready bool) { h.ready.Store(ready) }

func (h *Readiness) IsReady() bool { return h.ready.Load() }

func liveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Readiness) handler(w http.ResponseWriter, _ *http.Request) {
	if h.IsReady() {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
}
