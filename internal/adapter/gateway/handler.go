package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"shellherd/internal/domain"
	"shellherd/internal/usecase/command"
)

// HandlerDeps holds dependencies needed by RPC and REST handlers.
type HandlerDeps struct {
	Commands *command.Manager
	Tools    domain.ToolExecutor // can be nil
	Bus      domain.EventBus     // can be nil
}

// RegisterRESTHandlers registers HTTP REST endpoints on the gateway server.
// version appears in the status response.
func RegisterRESTHandlers(s *Server, deps HandlerDeps, version string) *Metrics {
	startTime := time.Now()
	metrics := &Metrics{}

	// Subscribe to events for metric counters.
	if deps.Bus != nil {
		deps.Bus.Subscribe(domain.EventCommandStarted, func(_ context.Context, e domain.Event) {
			metrics.CommandsStarted.Add(1)
		})
		deps.Bus.Subscribe(domain.EventCommandCompleted, func(_ context.Context, e domain.Event) {
			metrics.CommandsCompleted.Add(1)
		})
		deps.Bus.Subscribe(domain.EventCommandFailed, func(_ context.Context, e domain.Event) {
			metrics.CommandsFailed.Add(1)
		})
		deps.Bus.Subscribe(domain.EventCommandTimedOut, func(_ context.Context, e domain.Event) {
			metrics.CommandsTimedOut.Add(1)
		})
		deps.Bus.Subscribe(domain.EventCommandKilled, func(_ context.Context, e domain.Event) {
			metrics.CommandsKilled.Add(1)
		})
		deps.Bus.Subscribe(domain.EventCommandBlocked, func(_ context.Context, e domain.Event) {
			metrics.CommandsBlocked.Add(1)
		})
	}

	// Auth middleware for REST endpoints.
	authMiddleware := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if _, err := s.auth.Authenticate(requestToken(r)); err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}

	s.RegisterHTTPRoute("/healthz", healthzHandler())
	s.RegisterHTTPRoute("/api/v1/status", authMiddleware(statusHandler(deps, startTime, metrics, version)))
	s.RegisterHTTPRoute("/metrics", authMiddleware(metricsHandler(deps, startTime, metrics)))

	return metrics
}

// RegisterDefaultHandlers registers all built-in RPC handlers on the server.
// The RPC surface is read-only: mutation flows through the stdio tool
// surface only.
func RegisterDefaultHandlers(s *Server, deps HandlerDeps) {
	s.RegisterHandler("command.list", commandListHandler(deps))
	s.RegisterHandler("command.status", commandStatusHandler(deps))
	s.RegisterHandler("command.output", commandOutputHandler(deps))
}

// healthzHandler reports liveness. Unauthenticated.
func healthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

// --- commands ---

func commandListHandler(deps HandlerDeps) RPCHandler {
	return func(_ context.Context, _ *ClientInfo, _ json.RawMessage) (json.RawMessage, error) {
		return json.Marshal(deps.Commands.List())
	}
}

type commandStatusRequest struct {
	ID string `json:"id"`
}

func commandStatusHandler(deps HandlerDeps) RPCHandler {
	return func(_ context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var req commandStatusRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, domain.ErrRPCInvalidPayload
		}
		if req.ID == "" {
			return nil, domain.ErrRPCInvalidPayload
		}
		report, err := deps.Commands.Status(req.ID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(report)
	}
}

type commandOutputRequest struct {
	ID        string `json:"id"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

func commandOutputHandler(deps HandlerDeps) RPCHandler {
	return func(_ context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var req commandOutputRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, domain.ErrRPCInvalidPayload
		}
		if req.ID == "" {
			return nil, domain.ErrRPCInvalidPayload
		}
		window, err := deps.Commands.Output(req.ID, req.StartLine, req.EndLine)
		if err != nil {
			return nil, err
		}
		return json.Marshal(window)
	}
}
