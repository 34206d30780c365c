package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket/wsjson"

	"shellherd/internal/domain"
	"shellherd/internal/usecase/command"
)

// --- handler test doubles ---

type stubTools struct{}

func (stubTools) Get(name string) (domain.Tool, error) { return nil, domain.ErrToolNotFound }
func (stubTools) Schemas() []domain.ToolSchema {
	return []domain.ToolSchema{{Name: "run_command", Description: "spawn a shell command"}}
}

func newHandlerDeps(t *testing.T) HandlerDeps {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := &testBus{}
	mgr := command.NewManager(command.ManagerConfig{MaxConcurrent: 5}, command.NewGuard(true), bus, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		mgr.Stop(ctx)
	})

	return HandlerDeps{
		Commands: mgr,
		Tools:    stubTools{},
		Bus:      bus,
	}
}

func callHandler(t *testing.T, h RPCHandler, payload string) (json.RawMessage, error) {
	t.Helper()
	return h(context.Background(), &ClientInfo{Name: "test"}, json.RawMessage(payload))
}

// startCommand launches a background command and waits for it if wait is set.
func startCommand(t *testing.T, deps HandlerDeps, line string, wait bool) string {
	t.Helper()
	sess, err := deps.Commands.Start(context.Background(), domain.CommandSpec{Command: line})
	if err != nil {
		t.Fatalf("start %q: %v", line, err)
	}
	if wait {
		if _, err := deps.Commands.Wait(context.Background(), sess.ID, 10*time.Second); err != nil {
			t.Fatalf("wait %q: %v", line, err)
		}
	}
	return sess.ID
}

// --- tests ---

func TestHandlerCommandListEmpty(t *testing.T) {
	deps := newHandlerDeps(t)
	h := commandListHandler(deps)

	result, err := callHandler(t, h, `null`)
	if err != nil {
		t.Fatalf("commandList: %v", err)
	}
	if string(result) != "[]" {
		t.Errorf("result = %s, want []", result)
	}
}

func TestHandlerCommandList(t *testing.T) {
	deps := newHandlerDeps(t)
	id := startCommand(t, deps, "sleep 5", false)

	h := commandListHandler(deps)
	result, err := callHandler(t, h, `null`)
	if err != nil {
		t.Fatalf("commandList: %v", err)
	}

	var entries []domain.CommandListEntry
	if err := json.Unmarshal(result, &entries); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].ID != id {
		t.Errorf("ID = %q, want %q", entries[0].ID, id)
	}
	if entries[0].Command != "sleep 5" {
		t.Errorf("Command = %q", entries[0].Command)
	}
}

func TestHandlerCommandStatusRunning(t *testing.T) {
	deps := newHandlerDeps(t)
	id := startCommand(t, deps, "sleep 5", false)

	h := commandStatusHandler(deps)
	result, err := callHandler(t, h, `{"id":"`+id+`"}`)
	if err != nil {
		t.Fatalf("commandStatus: %v", err)
	}

	var report domain.CommandStatusReport
	if err := json.Unmarshal(result, &report); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if report.Status != domain.CommandStatusRunning {
		t.Errorf("Status = %q, want running", report.Status)
	}
}

func TestHandlerCommandStatusTerminal(t *testing.T) {
	deps := newHandlerDeps(t)
	id := startCommand(t, deps, "true", true)

	h := commandStatusHandler(deps)
	result, err := callHandler(t, h, `{"id":"`+id+`"}`)
	if err != nil {
		t.Fatalf("commandStatus: %v", err)
	}

	var report domain.CommandStatusReport
	if err := json.Unmarshal(result, &report); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if report.Status != domain.CommandStatusCompleted {
		t.Errorf("Status = %q, want completed", report.Status)
	}
	if report.ExitCode == nil || *report.ExitCode != 0 {
		t.Errorf("ExitCode = %v, want 0", report.ExitCode)
	}
}

func TestHandlerCommandStatusInvalidPayload(t *testing.T) {
	deps := newHandlerDeps(t)
	h := commandStatusHandler(deps)

	_, err := callHandler(t, h, `invalid json`)
	if err == nil {
		t.Fatal("expected error for invalid payload")
	}
}

func TestHandlerCommandStatusMissingID(t *testing.T) {
	deps := newHandlerDeps(t)
	h := commandStatusHandler(deps)

	_, err := callHandler(t, h, `{"id":""}`)
	if !errors.Is(err, domain.ErrRPCInvalidPayload) {
		t.Errorf("err = %v, want ErrRPCInvalidPayload", err)
	}
}

func TestHandlerCommandStatusNotFound(t *testing.T) {
	deps := newHandlerDeps(t)
	h := commandStatusHandler(deps)

	_, err := callHandler(t, h, `{"id":"nope"}`)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestHandlerCommandOutput(t *testing.T) {
	deps := newHandlerDeps(t)
	id := startCommand(t, deps, `printf 'one\ntwo\nthree\n'`, true)

	h := commandOutputHandler(deps)
	result, err := callHandler(t, h, `{"id":"`+id+`","start_line":0,"end_line":2}`)
	if err != nil {
		t.Fatalf("commandOutput: %v", err)
	}

	var window domain.OutputWindow
	if err := json.Unmarshal(result, &window); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if window.TotalLines != 3 {
		t.Errorf("TotalLines = %d, want 3", window.TotalLines)
	}
	if len(window.Lines) != 2 || window.Lines[0] != "one" || window.Lines[1] != "two" {
		t.Errorf("Lines = %v", window.Lines)
	}
}

func TestHandlerCommandOutputDefaultsWindow(t *testing.T) {
	deps := newHandlerDeps(t)
	id := startCommand(t, deps, `printf 'alpha\nbravo\n'`, true)

	h := commandOutputHandler(deps)
	// No explicit range: the manager serves as much as the per-call cap allows.
	result, err := callHandler(t, h, `{"id":"`+id+`"}`)
	if err != nil {
		t.Fatalf("commandOutput: %v", err)
	}

	var window domain.OutputWindow
	if err := json.Unmarshal(result, &window); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(window.Lines) != 2 {
		t.Errorf("Lines = %v, want both lines", window.Lines)
	}
}

func TestHandlerCommandOutputNotFound(t *testing.T) {
	deps := newHandlerDeps(t)
	h := commandOutputHandler(deps)

	_, err := callHandler(t, h, `{"id":"nope"}`)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestHandlerCommandOutputInvalidPayload(t *testing.T) {
	deps := newHandlerDeps(t)
	h := commandOutputHandler(deps)

	_, err := callHandler(t, h, `invalid json`)
	if err == nil {
		t.Fatal("expected error for invalid payload")
	}
}

func TestRegisterDefaultHandlersMethods(t *testing.T) {
	deps := newHandlerDeps(t)
	srv := NewServer(deps.Bus, newTestAuth(), ":0", slog.New(slog.NewTextHandler(io.Discard, nil)))
	RegisterDefaultHandlers(srv, deps)

	for _, method := range []string{"command.list", "command.status", "command.output"} {
		if _, ok := srv.lookup(method); !ok {
			t.Errorf("method %q not registered", method)
		}
	}
}

func TestRegisterRESTHandlersMetricCounters(t *testing.T) {
	deps := newHandlerDeps(t)
	srv := NewServer(deps.Bus, newTestAuth(), ":0", slog.New(slog.NewTextHandler(io.Discard, nil)))
	metrics := RegisterRESTHandlers(srv, deps, "test")

	ctx := context.Background()
	deps.Bus.Publish(ctx, domain.Event{Type: domain.EventCommandStarted})
	deps.Bus.Publish(ctx, domain.Event{Type: domain.EventCommandStarted})
	deps.Bus.Publish(ctx, domain.Event{Type: domain.EventCommandCompleted})
	deps.Bus.Publish(ctx, domain.Event{Type: domain.EventCommandBlocked})

	if got := metrics.CommandsStarted.Load(); got != 2 {
		t.Errorf("CommandsStarted = %d, want 2", got)
	}
	if got := metrics.CommandsCompleted.Load(); got != 1 {
		t.Errorf("CommandsCompleted = %d, want 1", got)
	}
	if got := metrics.CommandsBlocked.Load(); got != 1 {
		t.Errorf("CommandsBlocked = %d, want 1", got)
	}
	if got := metrics.CommandsKilled.Load(); got != 0 {
		t.Errorf("CommandsKilled = %d, want 0", got)
	}
}

func TestHandlerRoundtripThroughServer(t *testing.T) {
	deps := newHandlerDeps(t)
	id := startCommand(t, deps, `printf 'via ws\n'`, true)

	srv := startTestServer(t, deps.Bus)
	RegisterDefaultHandlers(srv, deps)

	ws := dialWS(t, srv.BoundAddr(), "test-token")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req := Frame{
		Type:    FrameTypeRequest,
		ID:      7,
		Method:  "command.status",
		Payload: json.RawMessage(`{"id":"` + id + `"}`),
	}
	if err := wsjson.Write(ctx, ws, req); err != nil {
		t.Fatalf("write: %v", err)
	}

	// Skip over any event frames that arrive before the response.
	var resp Frame
	for {
		if err := wsjson.Read(ctx, ws, &resp); err != nil {
			t.Fatalf("read: %v", err)
		}
		if resp.Type == FrameTypeResponse {
			break
		}
	}
	if resp.Error != "" {
		t.Fatalf("error = %q", resp.Error)
	}
	if !strings.Contains(string(resp.Payload), `"completed"`) {
		t.Errorf("payload = %s", resp.Payload)
	}
}
