package domain

import "time"

// CommandStatus represents the lifecycle state of a tracked command.
type CommandStatus string

const (
	CommandStatusPending   CommandStatus = "pending"
	CommandStatusRunning   CommandStatus = "running"
	CommandStatusCompleted CommandStatus = "completed"
	CommandStatusFailed    CommandStatus = "failed"
	CommandStatusTimedOut  CommandStatus = "timed_out"
	CommandStatusKilled    CommandStatus = "killed"
)

// Terminal reports whether the status is a final state. A terminal command
// never transitions again and its result is immutable.
func (s CommandStatus) Terminal() bool {
	switch s {
	case CommandStatusCompleted, CommandStatusFailed, CommandStatusTimedOut, CommandStatusKilled:
		return true
	}
	return false
}

// CommandSpec describes a shell command to launch.
type CommandSpec struct {
	// ID identifies the command in the registry. Generated when empty.
	ID string
	// Command is the full command line, run via the system shell.
	Command string
	// WorkDir is the working directory. Inherited from the server when empty.
	WorkDir string
	// TimeoutSeconds bounds execution time. Zero means no enforced limit.
	TimeoutSeconds int
	// MaxOutputLines caps the head and tail output windows.
	// Zero means the configured default.
	MaxOutputLines int
}

// CommandSession represents a shell command tracked by the command Manager.
type CommandSession struct {
	ID        string        `json:"id"`
	Command   string        `json:"command"`
	WorkDir   string        `json:"workdir,omitempty"`
	Status    CommandStatus `json:"status"`
	ExitCode  *int          `json:"exit_code,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
}

// RuntimeSeconds returns how long the command has been running, or its
// total runtime if it already ended.
func (s CommandSession) RuntimeSeconds(now time.Time) float64 {
	if s.EndedAt != nil {
		return s.EndedAt.Sub(s.StartedAt).Seconds()
	}
	return now.Sub(s.StartedAt).Seconds()
}

// CommandResult is the final outcome of a command run. ExitCode is null
// when the process never exited on its own (killed, timed out, or failed
// to spawn).
type CommandResult struct {
	ID               string   `json:"id"`
	ExitCode         *int     `json:"exit_code"`
	TimedOut         bool     `json:"timed_out"`
	DurationSeconds  float64  `json:"duration_seconds"`
	TotalLines       int      `json:"total_lines"`
	Truncated        bool     `json:"truncated"`
	OutputHead       []string `json:"output_head"`
	OutputTail       []string `json:"output_tail"`
	OutputErrorLines []string `json:"output_error_lines,omitempty"`
}

// CommandStatusReport is returned by status polls. TailPreview carries the
// most recent output lines while the command is still running.
type CommandStatusReport struct {
	ID             string        `json:"id"`
	Status         CommandStatus `json:"status"`
	RuntimeSeconds float64       `json:"runtime_seconds"`
	ExitCode       *int          `json:"exit_code,omitempty"`
	TotalLines     int           `json:"total_lines"`
	TailPreview    []string      `json:"tail_preview,omitempty"`
}

// CommandListEntry is a summary view of a tracked command for the list action.
type CommandListEntry struct {
	ID             string        `json:"id"`
	Command        string        `json:"command"`
	Status         CommandStatus `json:"status"`
	RuntimeSeconds float64       `json:"runtime_seconds"`
	StartedAt      time.Time     `json:"started_at"`
	EndedAt        *time.Time    `json:"ended_at,omitempty"`
	ExitCode       *int          `json:"exit_code,omitempty"`
}

// OutputWindow is a zero-indexed slice of a command's captured output.
type OutputWindow struct {
	ID         string        `json:"id"`
	Status     CommandStatus `json:"status"`
	Lines      []string      `json:"lines"`
	StartLine  int           `json:"start_line"`
	EndLine    int           `json:"end_line"`
	TotalLines int           `json:"total_lines"`
}
