package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"shellherd/internal/domain"
)

// Defaults applied by NewManager when the corresponding config field is zero.
const (
	DefaultMaxConcurrent = 20
	DefaultMaxTimeout    = time.Hour
	DefaultShell         = "/bin/sh"

	// MaxWindowLines caps how many scrollback lines a single Output call
	// may return.
	MaxWindowLines = 500

	tailPreviewLines     = 20
	spawnFailureExitCode = -1
	pipeDrainGrace       = 10 * time.Second
	killEscalationGrace  = 3 * time.Second
)

// ManagerConfig holds configuration for the Manager.
type ManagerConfig struct {
	Shell          string        // shell binary used to run command lines (default: /bin/sh)
	MaxConcurrent  int           // max commands in pending or running state (default: 20)
	DefaultTimeout time.Duration // applied when a spec carries no timeout (0 = unlimited)
	MaxTimeout     time.Duration // ceiling for per-command timeouts (default: 1h)
	MaxOutputLines int           // default head/tail window size (default: 200)
	MaxBufferLines int           // scrollback cap for windowed reads (default: 100000)
	StripEnv       []string      // environment variables removed from child processes
}

// commandEntry holds the runtime state for a single tracked command.
type commandEntry struct {
	session     domain.CommandSession
	spec        domain.CommandSpec
	timeout     time.Duration
	cmd         *exec.Cmd
	stdin       io.WriteCloser
	stdinClosed bool
	stdoutW     *lineSplitter
	stderrW     *lineSplitter
	buf         *Buffer
	timer       *time.Timer
	exited      atomic.Bool // set the instant Wait returns, before any lock
	done        chan struct{}
	result      *domain.CommandResult
}

// Manager owns the command registry and drives every lifecycle
// transition. All registry state is guarded by a single mutex; the mutex
// is never held while a process is being waited on, so a stuck command
// can never block status or list calls.
type Manager struct {
	entries map[string]*commandEntry
	order   []string // registration order, drives List
	mu      sync.Mutex
	config  ManagerConfig
	guard   *Guard
	bus     domain.EventBus
	logger  *slog.Logger
}

// NewManager creates a Manager. The guard and bus may be nil.
func NewManager(cfg ManagerConfig, guard *Guard, bus domain.EventBus, logger *slog.Logger) *Manager {
	if cfg.Shell == "" {
		cfg.Shell = DefaultShell
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.MaxTimeout <= 0 {
		cfg.MaxTimeout = DefaultMaxTimeout
	}
	if cfg.MaxOutputLines <= 0 {
		cfg.MaxOutputLines = DefaultMaxOutputLines
	}
	if cfg.MaxBufferLines <= 0 {
		cfg.MaxBufferLines = DefaultMaxBufferLines
	}

	return &Manager{
		entries: make(map[string]*commandEntry),
		config:  cfg,
		guard:   guard,
		bus:     bus,
		logger:  logger,
	}
}

// Run launches a command and blocks until it reaches a terminal state,
// then removes it from the registry and returns the result. A command
// that fails, times out or cannot be spawned still yields a result; an
// error is returned only when the command was rejected up front or the
// caller's context ended first.
func (m *Manager) Run(ctx context.Context, spec domain.CommandSpec) (*domain.CommandResult, error) {
	entry, err := m.register(ctx, "Manager.Run", spec)
	if err != nil {
		return nil, err
	}
	defer m.remove(entry.session.ID)

	m.spawn(ctx, entry)

	select {
	case <-entry.done:
	case <-ctx.Done():
		m.abandon(entry)
		<-entry.done
		return nil, ctx.Err()
	}

	m.mu.Lock()
	result := entry.result
	m.mu.Unlock()
	return result, nil
}

// Start registers and launches a command without waiting for it,
// returning the session snapshot. The snapshot status is failed when the
// process could not be spawned; the synthetic result is kept in the
// registry like any other terminal result.
func (m *Manager) Start(ctx context.Context, spec domain.CommandSpec) (*domain.CommandSession, error) {
	entry, err := m.register(ctx, "Manager.Start", spec)
	if err != nil {
		return nil, err
	}
	session := m.spawn(ctx, entry)
	return &session, nil
}

// Status returns a point-in-time report for a tracked command. While the
// command runs, the report carries a preview of its most recent output.
func (m *Manager) Status(id string) (*domain.CommandStatusReport, error) {
	m.mu.Lock()
	entry, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		return nil, domain.NewDomainError("Manager.Status", domain.ErrNotFound, fmt.Sprintf("command %q", id))
	}
	session := entry.session
	buf := entry.buf
	m.mu.Unlock()

	report := &domain.CommandStatusReport{
		ID:             session.ID,
		Status:         session.Status,
		RuntimeSeconds: session.RuntimeSeconds(time.Now()),
		ExitCode:       session.ExitCode,
		TotalLines:     buf.TotalLines(),
	}
	if !session.Status.Terminal() {
		report.TailPreview = buf.LastLines(tailPreviewLines)
	}
	return report, nil
}

// Wait blocks until the command reaches a terminal state and returns its
// result. Waiting on a finished command returns the cached result
// immediately, so Wait may be called any number of times. A positive
// timeout bounds only this wait, never the command itself.
func (m *Manager) Wait(ctx context.Context, id string, timeout time.Duration) (*domain.CommandResult, error) {
	m.mu.Lock()
	entry, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		return nil, domain.NewDomainError("Manager.Wait", domain.ErrNotFound, fmt.Sprintf("command %q", id))
	}
	if entry.result != nil {
		result := entry.result
		m.mu.Unlock()
		return result, nil
	}
	done := entry.done
	m.mu.Unlock()

	var timeoutC <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timeoutC = t.C
	}

	select {
	case <-done:
	case <-timeoutC:
		return nil, domain.NewDomainError("Manager.Wait", domain.ErrWaitTimeout,
			fmt.Sprintf("command %q still running after %s", id, timeout))
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	m.mu.Lock()
	result := entry.result
	m.mu.Unlock()
	return result, nil
}

// Kill terminates a running command's process tree. It reports false
// without error when the process finished on its own just before the
// signal could be delivered; killing an already-terminal command is an
// invalid-state error.
func (m *Manager) Kill(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	entry, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		return false, domain.NewDomainError("Manager.Kill", domain.ErrNotFound, fmt.Sprintf("command %q", id))
	}
	if entry.session.Status.Terminal() {
		status := entry.session.Status
		m.mu.Unlock()
		return false, domain.NewDomainError("Manager.Kill", domain.ErrInvalidState,
			fmt.Sprintf("command %q already %s", id, status))
	}
	if entry.exited.Load() {
		// Natural exit won the race; let the exit handler finalize it.
		m.mu.Unlock()
		<-entry.done
		return false, nil
	}
	// Set status BEFORE signalling so the exit handler keeps it.
	entry.session.Status = domain.CommandStatusKilled
	now := time.Now()
	entry.session.EndedAt = &now
	cmd := entry.cmd
	m.mu.Unlock()

	m.terminate(cmd, entry.done)
	<-entry.done

	m.mu.Lock()
	result := entry.result
	m.mu.Unlock()
	m.emitEvent(ctx, domain.EventCommandKilled, id, result)
	m.logger.Info("command killed", "command_id", id)
	return true, nil
}

// List returns summaries of every tracked command in registration order.
// It never fails; an empty registry yields an empty slice.
func (m *Manager) List() []domain.CommandListEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	entries := make([]domain.CommandListEntry, 0, len(m.order))
	for _, id := range m.order {
		e, ok := m.entries[id]
		if !ok {
			continue
		}
		entries = append(entries, domain.CommandListEntry{
			ID:             e.session.ID,
			Command:        e.session.Command,
			Status:         e.session.Status,
			RuntimeSeconds: e.session.RuntimeSeconds(now),
			StartedAt:      e.session.StartedAt,
			EndedAt:        e.session.EndedAt,
			ExitCode:       e.session.ExitCode,
		})
	}
	return entries
}

// Output returns scrollback lines [startLine, endLine) for a tracked
// command. endLine <= 0 asks for as many lines as the per-call cap
// allows; at most MaxWindowLines are returned either way.
func (m *Manager) Output(id string, startLine, endLine int) (*domain.OutputWindow, error) {
	m.mu.Lock()
	entry, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		return nil, domain.NewDomainError("Manager.Output", domain.ErrNotFound, fmt.Sprintf("command %q", id))
	}
	status := entry.session.Status
	buf := entry.buf
	m.mu.Unlock()

	if startLine < 0 {
		startLine = 0
	}
	if endLine <= 0 || endLine > startLine+MaxWindowLines {
		endLine = startLine + MaxWindowLines
	}
	lines, start, end, total := buf.Window(startLine, endLine)

	return &domain.OutputWindow{
		ID:         id,
		Status:     status,
		Lines:      lines,
		StartLine:  start,
		EndLine:    end,
		TotalLines: total,
	}, nil
}

// WriteStdin writes input to a running command's stdin, optionally
// closing the pipe afterwards.
func (m *Manager) WriteStdin(id, input string, closeStdin bool) error {
	m.mu.Lock()
	entry, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		return domain.NewDomainError("Manager.WriteStdin", domain.ErrNotFound, fmt.Sprintf("command %q", id))
	}
	if entry.session.Status != domain.CommandStatusRunning {
		status := entry.session.Status
		m.mu.Unlock()
		return domain.NewDomainError("Manager.WriteStdin", domain.ErrInvalidState,
			fmt.Sprintf("command %q is %s", id, status))
	}
	if entry.stdin == nil || entry.stdinClosed {
		m.mu.Unlock()
		return domain.NewDomainError("Manager.WriteStdin", domain.ErrStdinClosed, fmt.Sprintf("command %q", id))
	}
	stdin := entry.stdin
	if closeStdin {
		entry.stdinClosed = true
	}
	m.mu.Unlock()

	if input != "" {
		if _, err := io.WriteString(stdin, input); err != nil {
			return domain.WrapOp("Manager.WriteStdin", err)
		}
	}
	if closeStdin {
		if err := stdin.Close(); err != nil {
			return domain.WrapOp("Manager.WriteStdin", err)
		}
	}
	return nil
}

// PruneOlderThan removes terminal commands that ended more than maxAge
// ago and returns how many were removed.
func (m *Manager) PruneOlderThan(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, entry := range m.entries {
		if entry.session.Status.Terminal() && entry.session.EndedAt != nil && entry.session.EndedAt.Before(cutoff) {
			m.removeLocked(id)
			removed++
			m.logger.Debug("command pruned", "command_id", id)
		}
	}
	return removed
}

// Stop kills every pending or running command and waits for their exit
// handlers to finish. Terminal entries are left in place.
func (m *Manager) Stop(ctx context.Context) {
	type victim struct {
		cmd  *exec.Cmd
		done chan struct{}
	}

	m.mu.Lock()
	var active []victim
	now := time.Now()
	for _, e := range m.entries {
		if !e.session.Status.Terminal() && !e.exited.Load() {
			e.session.Status = domain.CommandStatusKilled
			endedAt := now
			e.session.EndedAt = &endedAt
			active = append(active, victim{cmd: e.cmd, done: e.done})
		}
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, v := range active {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.terminate(v.cmd, v.done)
			<-v.done
		}()
	}
	wg.Wait()
}

// terminate asks the process group to exit and escalates to an
// unconditional kill when it is still alive after the grace period, so
// a process ignoring the termination signal can never stall a caller
// indefinitely.
func (m *Manager) terminate(cmd *exec.Cmd, done <-chan struct{}) {
	if cmd == nil {
		return
	}
	terminateProcessGroup(cmd)
	select {
	case <-done:
	case <-time.After(killEscalationGrace):
		killProcessGroup(cmd)
	}
}

// --- internal ---

// register validates the spec and inserts a pending entry into the
// registry, so concurrent Status and List calls can observe the command
// before its process exists.
func (m *Manager) register(ctx context.Context, op string, spec domain.CommandSpec) (*commandEntry, error) {
	if strings.TrimSpace(spec.Command) == "" {
		return nil, domain.NewDomainError(op, domain.ErrInvalidInput, "command must not be empty")
	}
	// The id exists before the guard runs, so a blocked event still names
	// the command it refers to.
	if spec.ID == "" {
		spec.ID = m.newID()
	}
	if err := m.guard.Check(spec.Command); err != nil {
		m.emitEvent(ctx, domain.EventCommandBlocked, spec.ID, map[string]string{
			"command": spec.Command,
			"reason":  err.Error(),
		})
		m.logger.Warn("command blocked", "command", spec.Command)
		return nil, err
	}

	if spec.MaxOutputLines <= 0 {
		spec.MaxOutputLines = m.config.MaxOutputLines
	}
	timeout := m.resolveTimeout(spec.TimeoutSeconds)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[spec.ID]; exists {
		return nil, domain.NewDomainError(op, domain.ErrConflict, fmt.Sprintf("command %q", spec.ID))
	}

	active := 0
	for _, e := range m.entries {
		if !e.session.Status.Terminal() {
			active++
		}
	}
	if active >= m.config.MaxConcurrent {
		return nil, domain.NewDomainError(op, domain.ErrTooManyCommands,
			fmt.Sprintf("%d/%d commands active", active, m.config.MaxConcurrent))
	}

	entry := &commandEntry{
		session: domain.CommandSession{
			ID:        spec.ID,
			Command:   spec.Command,
			WorkDir:   spec.WorkDir,
			Status:    domain.CommandStatusPending,
			StartedAt: time.Now(),
		},
		spec:    spec,
		timeout: timeout,
		buf:     newBuffer(spec.MaxOutputLines, m.config.MaxBufferLines),
		done:    make(chan struct{}),
	}
	m.entries[spec.ID] = entry
	m.order = append(m.order, spec.ID)
	return entry, nil
}

// spawn launches the entry's process and returns the session snapshot
// taken right after the transition out of pending.
func (m *Manager) spawn(ctx context.Context, entry *commandEntry) domain.CommandSession {
	cmd := exec.Command(m.config.Shell, "-c", entry.spec.Command)
	cmd.Dir = entry.spec.WorkDir
	cmd.Env = m.childEnv()
	entry.stdoutW = newLineSplitter(entry.buf)
	entry.stderrW = newLineSplitter(entry.buf)
	cmd.Stdout = entry.stdoutW
	cmd.Stderr = entry.stderrW
	// Without a drain bound, a grandchild holding the output pipes open
	// would block Wait long after the command itself exited.
	cmd.WaitDelay = pipeDrainGrace
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err == nil {
		err = cmd.Start()
	}
	if err != nil {
		if stdin != nil {
			stdin.Close()
		}
		return m.failSpawn(ctx, entry, err)
	}

	m.mu.Lock()
	entry.cmd = cmd
	entry.stdin = stdin
	killedEarly := entry.session.Status == domain.CommandStatusKilled
	if !killedEarly {
		entry.session.Status = domain.CommandStatusRunning
		entry.session.StartedAt = time.Now()
		if entry.timeout > 0 {
			entry.timer = time.AfterFunc(entry.timeout, func() { m.expire(entry) })
		}
	}
	session := entry.session
	m.mu.Unlock()

	go m.waitForExit(entry)

	if killedEarly {
		go m.terminate(cmd, entry.done)
	} else {
		m.emitEvent(ctx, domain.EventCommandStarted, session.ID, session)
		m.logger.Info("command started", "command_id", session.ID, "command", session.Command)
	}
	return session
}

// failSpawn finalizes an entry whose process never started: terminal
// failed state, synthetic exit code and the spawn error as output.
func (m *Manager) failSpawn(ctx context.Context, entry *commandEntry, spawnErr error) domain.CommandSession {
	entry.buf.AddLine(fmt.Sprintf("failed to spawn process: %v", spawnErr))

	m.mu.Lock()
	now := time.Now()
	code := spawnFailureExitCode
	entry.session.Status = domain.CommandStatusFailed
	entry.session.ExitCode = &code
	entry.session.EndedAt = &now
	entry.result = buildResult(entry)
	session := entry.session
	result := entry.result
	m.mu.Unlock()

	close(entry.done)

	m.emitEvent(ctx, domain.EventCommandFailed, session.ID, result)
	m.logger.Warn("command spawn failed", "command_id", session.ID, "error", spawnErr)
	return session
}

// expire is fired by the per-entry timeout timer.
func (m *Manager) expire(entry *commandEntry) {
	m.mu.Lock()
	if entry.session.Status != domain.CommandStatusRunning || entry.exited.Load() {
		m.mu.Unlock()
		return
	}
	entry.session.Status = domain.CommandStatusTimedOut
	now := time.Now()
	entry.session.EndedAt = &now
	cmd := entry.cmd
	m.mu.Unlock()

	m.logger.Info("command timed out", "command_id", entry.session.ID, "timeout", entry.timeout.String())
	m.terminate(cmd, entry.done)
}

// abandon kills an entry on behalf of a caller that no longer wants its
// result. Safe to call regardless of state.
func (m *Manager) abandon(entry *commandEntry) {
	m.mu.Lock()
	if entry.session.Status.Terminal() || entry.exited.Load() {
		m.mu.Unlock()
		return
	}
	entry.session.Status = domain.CommandStatusKilled
	now := time.Now()
	entry.session.EndedAt = &now
	cmd := entry.cmd
	m.mu.Unlock()

	m.terminate(cmd, entry.done)
}

// waitForExit blocks on the process, finalizes the entry and publishes
// the terminal event. The result is cached before done is closed, so
// anyone woken by done can read it without a second wait.
func (m *Manager) waitForExit(entry *commandEntry) {
	err := entry.cmd.Wait()
	entry.exited.Store(true)
	entry.stdoutW.Flush()
	entry.stderrW.Flush()

	m.mu.Lock()
	if entry.timer != nil {
		entry.timer.Stop()
		entry.timer = nil
	}
	if entry.stdin != nil && !entry.stdinClosed {
		entry.stdin.Close()
		entry.stdinClosed = true
	}
	if entry.session.Status == domain.CommandStatusRunning {
		// No Kill, Stop or timeout got here first; classify the exit.
		now := time.Now()
		entry.session.EndedAt = &now
		entry.session.Status, entry.session.ExitCode = classifyExit(entry.cmd, err)
	}
	entry.result = buildResult(entry)
	status := entry.session.Status
	id := entry.session.ID
	result := entry.result
	m.mu.Unlock()

	close(entry.done)

	// The killed event is owned by Kill so it can carry the caller's
	// context; Stop and abandoned runs emit nothing.
	ctx := context.Background()
	switch status {
	case domain.CommandStatusCompleted:
		m.emitEvent(ctx, domain.EventCommandCompleted, id, result)
	case domain.CommandStatusFailed:
		m.emitEvent(ctx, domain.EventCommandFailed, id, result)
	case domain.CommandStatusTimedOut:
		m.emitEvent(ctx, domain.EventCommandTimedOut, id, result)
	}
	m.logger.Info("command finished", "command_id", id, "status", string(status))
}

// classifyExit maps a Wait error to a terminal status and exit code.
func classifyExit(cmd *exec.Cmd, err error) (domain.CommandStatus, *int) {
	if err == nil {
		code := 0
		return domain.CommandStatusCompleted, &code
	}
	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		if exitErr.Exited() {
			code := exitErr.ExitCode()
			return domain.CommandStatusFailed, &code
		}
		// Terminated by a signal we did not send; there is no exit code.
		return domain.CommandStatusFailed, nil
	case errors.Is(err, exec.ErrWaitDelay):
		// The command exited but a descendant held the pipes past the
		// grace window; ProcessState carries the real exit code.
		code := cmd.ProcessState.ExitCode()
		if code == 0 {
			return domain.CommandStatusCompleted, &code
		}
		return domain.CommandStatusFailed, &code
	default:
		return domain.CommandStatusFailed, nil
	}
}

// buildResult assembles the immutable result from the entry's session
// and capture buffer. Callers must hold the registry mutex.
func buildResult(entry *commandEntry) *domain.CommandResult {
	head, tail, errLines, total, truncated := entry.buf.Snapshot()
	return &domain.CommandResult{
		ID:               entry.session.ID,
		ExitCode:         entry.session.ExitCode,
		TimedOut:         entry.session.Status == domain.CommandStatusTimedOut,
		DurationSeconds:  entry.session.RuntimeSeconds(time.Now()),
		TotalLines:       total,
		Truncated:        truncated,
		OutputHead:       head,
		OutputTail:       tail,
		OutputErrorLines: errLines,
	}
}

func (m *Manager) resolveTimeout(seconds int) time.Duration {
	d := m.config.DefaultTimeout
	if seconds > 0 {
		d = time.Duration(seconds) * time.Second
	}
	if d > m.config.MaxTimeout {
		d = m.config.MaxTimeout
	}
	return d
}

func (m *Manager) childEnv() []string {
	if len(m.config.StripEnv) == 0 {
		return nil // inherit the parent environment untouched
	}
	strip := make(map[string]bool, len(m.config.StripEnv))
	for _, name := range m.config.StripEnv {
		strip[name] = true
	}
	var kept []string
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		if !strip[name] {
			kept = append(kept, kv)
		}
	}
	return kept
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(id)
}

func (m *Manager) removeLocked(id string) {
	delete(m.entries, id)
	for i, other := range m.order {
		if other == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

func (m *Manager) emitEvent(ctx context.Context, eventType domain.EventType, commandID string, payload any) {
	if m.bus == nil {
		return
	}
	data, _ := json.Marshal(payload)
	m.bus.Publish(ctx, domain.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		CommandID: commandID,
		Payload:   data,
	})
}

func (m *Manager) newID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
