package command

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// RetentionConfig controls the optional background sweep of terminal
// commands. Retention is off unless both fields are set; the registry
// otherwise keeps every tracked command until the server exits.
type RetentionConfig struct {
	Schedule string        // cron expression, e.g. "*/10 * * * *"
	MaxAge   time.Duration // terminal commands older than this are removed
}

// Retention periodically prunes terminal commands from a Manager.
type Retention struct {
	cron    *cron.Cron
	manager *Manager
	maxAge  time.Duration
	logger  *slog.Logger
}

// NewRetention wires a sweep job onto a cron scheduler. Returns nil when
// the config leaves retention disabled.
func NewRetention(cfg RetentionConfig, manager *Manager, logger *slog.Logger) (*Retention, error) {
	if cfg.Schedule == "" || cfg.MaxAge <= 0 {
		return nil, nil
	}

	r := &Retention{
		cron:    cron.New(),
		manager: manager,
		maxAge:  cfg.MaxAge,
		logger:  logger,
	}
	if _, err := r.cron.AddFunc(cfg.Schedule, r.sweep); err != nil {
		return nil, err
	}
	return r, nil
}

// Start begins running the sweep on its schedule.
func (r *Retention) Start() {
	r.cron.Start()
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (r *Retention) Stop() {
	<-r.cron.Stop().Done()
}

func (r *Retention) sweep() {
	removed := r.manager.PruneOlderThan(r.maxAge)
	if removed > 0 {
		r.logger.Info("retention sweep", "removed", removed, "max_age", r.maxAge.String())
	}
}
