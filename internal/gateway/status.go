package gateway

import (
	"net/http"
	"time"

	"github.com/tgrelay/tgrelay/internal/monitor"
)

type statusResponse struct {
	Status   string           `json:"status"`
	Uptime   string           `json:"uptime"`
	Accounts []monitor.Status `json:"accounts"`
}

// handleStatus returns the gateway uptime plus a snapshot of every
// account's relay counters and last probe result.
func (m *Module) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := statusResponse{
			Status: "ok",
			Uptime: time.Since(m.started).Round(time.Second).String(),
		}
		if m.status != nil {
			resp.Accounts = m.status.Snapshot()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
