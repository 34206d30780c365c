package gateway

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// StatusResponse is the JSON body returned by GET /api/v1/status.
type StatusResponse struct {
	Server   ServerStatus  `json:"server"`
	Commands CommandCounts `json:"commands"`
	Tools    ToolStatus    `json:"tools"`
}

// ServerStatus holds process overview info.
type ServerStatus struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// CommandCounts holds tracked command counts. Active covers commands not
// yet in a terminal state; Tracked counts every handle in the registry.
type CommandCounts struct {
	Active       int   `json:"active"`
	Tracked      int   `json:"tracked"`
	StartedTotal int64 `json:"started_total"`
	BlockedTotal int64 `json:"blocked_total"`
}

// ToolStatus holds tool registration info.
type ToolStatus struct {
	Registered int `json:"registered"`
}

// Metrics tracks counters for the status API and Prometheus metrics.
type Metrics struct {
	CommandsStarted   atomic.Int64
	CommandsCompleted atomic.Int64
	CommandsFailed    atomic.Int64
	CommandsTimedOut  atomic.Int64
	CommandsKilled    atomic.Int64
	CommandsBlocked   atomic.Int64
}

// statusHandler returns an HTTP handler for GET /api/v1/status.
func statusHandler(deps HandlerDeps, startTime time.Time, metrics *Metrics, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		entries := deps.Commands.List()
		active := 0
		for _, e := range entries {
			if !e.Status.Terminal() {
				active++
			}
		}
		registered := 0
		if deps.Tools != nil {
			registered = len(deps.Tools.Schemas())
		}

		resp := StatusResponse{
			Server: ServerStatus{
				Name:          "shellherd",
				Version:       version,
				UptimeSeconds: int64(time.Since(startTime).Seconds()),
			},
			Commands: CommandCounts{
				Active:       active,
				Tracked:      len(entries),
				StartedTotal: metrics.CommandsStarted.Load(),
				BlockedTotal: metrics.CommandsBlocked.Load(),
			},
			Tools: ToolStatus{
				Registered: registered,
			},
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}
