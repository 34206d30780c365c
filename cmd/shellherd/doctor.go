package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"shellherd/internal/infra/config"
	"shellherd/internal/usecase/command"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

// runDoctor executes all health checks and reports results.
func runDoctor() error {
	cfgPath := configPath()

	// Try to load config; most checks work without it.
	cfg, cfgErr := config.Load(cfgPath)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "Shell binary", Fn: checkShell},
		{Name: "Working directory", Fn: checkWorkDir},
		{Name: "Command guard", Fn: checkGuard},
		{Name: "Logger output", Fn: checkLoggerOutput},
		{Name: "Retention schedule", Fn: checkRetention},
		{Name: "Gateway", Fn: checkGateway},
		{Name: "Disk space", Fn: checkDiskSpace},
	}

	fmt.Println("shellherd doctor")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println()

	var pass, warn, fail int

	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name

		icon := statusIcon(result.Status)
		fmt.Printf("  %s %s: %s\n", icon, result.Name, result.Message)
		if result.Fix != "" {
			fmt.Printf("      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Println()
	fmt.Println(strings.Repeat("-", 50))
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		fmt.Println("\nFix the FAIL issues above to ensure shellherd runs correctly.")
		return fmt.Errorf("%d check(s) failed", fail)
	}
	if warn > 0 {
		fmt.Println("\nshellherd should work, but consider addressing the warnings.")
	} else {
		fmt.Println("\nAll checks passed! shellherd is ready to run.")
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

// checkConfigFile returns a check that verifies the config file parses. A
// missing file is fine: the server runs on defaults.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusPass,
				Message: fmt.Sprintf("no config file at %s (running on defaults)", cfgPath),
			}
		}

		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     fmt.Sprintf("Check %s syntax and values", cfgPath),
			}
		}

		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", cfgPath),
		}
	}
}

// checkShell verifies the configured shell exists and can run a command.
func checkShell(cfg *config.Config) CheckResult {
	shell := "/bin/sh"
	if cfg != nil && cfg.Server.Shell != "" {
		shell = cfg.Server.Shell
	}

	var path string
	if filepath.IsAbs(shell) {
		if _, err := os.Stat(shell); err != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("shell %s not found: %v", shell, err),
				Fix:     "Install it or point server.shell (SHELLHERD_SERVER_SHELL) at an existing shell",
			}
		}
		path = shell
	} else {
		p, err := exec.LookPath(shell)
		if err != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("shell %q not found in PATH", shell),
				Fix:     "Install it or point server.shell (SHELLHERD_SERVER_SHELL) at an existing shell",
			}
		}
		path = p
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := exec.CommandContext(ctx, path, "-c", "true").Run(); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("%s -c true failed: %v", path, err),
		}
	}

	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("shell %s works", path),
	}
}

// checkWorkDir verifies the default working directory, when set, exists.
func checkWorkDir(cfg *config.Config) CheckResult {
	if cfg == nil || cfg.Server.WorkDir == "" {
		return CheckResult{
			Status:  StatusPass,
			Message: "inheriting the process working directory",
		}
	}

	info, err := os.Stat(cfg.Server.WorkDir)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("workdir %s: %v", cfg.Server.WorkDir, err),
			Fix:     fmt.Sprintf("Create it: mkdir -p %s", cfg.Server.WorkDir),
		}
	}
	if !info.IsDir() {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("workdir %s exists but is not a directory", cfg.Server.WorkDir),
		}
	}

	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("workdir %s exists", cfg.Server.WorkDir),
	}
}

// checkGuard confirms the destructive-command patterns flag a known-bad line.
func checkGuard(cfg *config.Config) CheckResult {
	if cfg != nil && !cfg.Guard.Enabled {
		return CheckResult{
			Status:  StatusWarn,
			Message: "guard disabled: destructive command screening is off",
			Fix:     "Set guard.enabled: true unless commands are sandboxed elsewhere",
		}
	}

	g := command.NewGuard(true)
	if err := g.Check("rm -rf /"); err == nil {
		return CheckResult{
			Status:  StatusFail,
			Message: "guard did not flag a destructive command",
		}
	}
	if err := g.Check("ls -la"); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("guard rejected a harmless command: %v", err),
		}
	}

	return CheckResult{
		Status:  StatusPass,
		Message: "destructive-command patterns active",
	}
}

// checkLoggerOutput warns when logs would collide with the stdio transport.
func checkLoggerOutput(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{
			Status:  StatusWarn,
			Message: "cannot check (config not loaded)",
		}
	}

	if strings.ToLower(cfg.Logger.Output) == "stdout" {
		return CheckResult{
			Status:  StatusFail,
			Message: "logger.output is stdout, which carries MCP protocol frames",
			Fix:     "Set logger.output to stderr or a file path",
		}
	}

	out := cfg.Logger.Output
	if out == "" {
		out = "stderr"
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("logs go to %s", out),
	}
}

// checkRetention validates the retention cron expression, when set.
func checkRetention(cfg *config.Config) CheckResult {
	if cfg == nil || cfg.Retention.Schedule == "" {
		return CheckResult{
			Status:  StatusPass,
			Message: "retention sweep disabled (handles kept until exit)",
		}
	}

	if _, err := cron.ParseStandard(cfg.Retention.Schedule); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("invalid retention.schedule %q: %v", cfg.Retention.Schedule, err),
			Fix:     `Use a standard cron expression, e.g. "*/10 * * * *"`,
		}
	}

	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("sweep on %q, max age %s", cfg.Retention.Schedule, cfg.Retention.MaxAge),
	}
}

// checkGateway verifies the gateway address is bindable and tokens exist.
func checkGateway(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{
			Status:  StatusWarn,
			Message: "cannot check (config not loaded)",
		}
	}

	if !cfg.Gateway.Enabled {
		return CheckResult{
			Status:  StatusPass,
			Message: "gateway disabled",
		}
	}

	if len(cfg.Gateway.Auth.Tokens) == 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: "gateway enabled with no auth tokens: every connection will be rejected",
			Fix:     "Add gateway.auth.tokens or set SHELLHERD_GATEWAY_TOKEN",
		}
	}

	ln, err := net.Listen("tcp", cfg.Gateway.Addr)
	if err != nil {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("cannot bind %s: %v (already running?)", cfg.Gateway.Addr, err),
		}
	}
	ln.Close()

	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("addr %s available, %d token(s) configured", cfg.Gateway.Addr, len(cfg.Gateway.Auth.Tokens)),
	}
}

// checkDiskSpace checks available disk space in the working directory.
func checkDiskSpace(cfg *config.Config) CheckResult {
	dir := "."
	if cfg != nil && cfg.Server.WorkDir != "" {
		dir = cfg.Server.WorkDir
	}

	absDir, _ := filepath.Abs(dir)

	info, err := os.Stat(absDir)
	if err != nil || !info.IsDir() {
		return CheckResult{
			Status:  StatusPass,
			Message: "working directory does not exist yet, space check skipped",
		}
	}

	out, err := exec.Command("df", "-h", absDir).Output()
	if err != nil {
		return CheckResult{
			Status:  StatusWarn,
			Message: "could not determine disk space (df command failed)",
		}
	}

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) < 2 {
		return CheckResult{
			Status:  StatusWarn,
			Message: "unexpected df output format",
		}
	}

	fields := strings.Fields(lines[len(lines)-1])
	if len(fields) < 5 {
		return CheckResult{
			Status:  StatusWarn,
			Message: "unexpected df output format",
		}
	}

	available := fields[3]
	usePercent := fields[4]

	pctStr := strings.TrimSuffix(usePercent, "%")
	var pct int
	fmt.Sscanf(pctStr, "%d", &pct)

	if pct >= 95 {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("disk almost full: %s used, %s available", usePercent, available),
			Fix:     "Free up disk space or point server.workdir at a different partition",
		}
	}
	if pct >= 85 {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("disk usage high: %s used, %s available", usePercent, available),
		}
	}

	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("disk usage: %s used, %s available", usePercent, available),
	}
}
