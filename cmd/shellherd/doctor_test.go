package main

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"shellherd/internal/infra/config"
)

func TestCheckConfigFile_NotFound(t *testing.T) {
	fn := checkConfigFile("/nonexistent/path/config.yaml", nil)
	result := fn(nil)
	if result.Status != StatusPass {
		t.Errorf("expected PASS for missing config (defaults apply), got %s", result.Status)
	}
}

func TestCheckConfigFile_ParseError(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := tmpDir + "/config.yaml"
	if err := writeTestFile(t, cfgPath, "invalid: {{yaml"); err != nil {
		t.Fatal(err)
	}

	fn := checkConfigFile(cfgPath, &config.ValidationError{Errors: []string{"bad yaml"}})
	result := fn(nil)
	if result.Status != StatusFail {
		t.Errorf("expected FAIL for parse error, got %s", result.Status)
	}
	if result.Fix == "" {
		t.Error("expected fix suggestion for parse error")
	}
}

func TestCheckConfigFile_Valid(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := tmpDir + "/config.yaml"
	if err := writeTestFile(t, cfgPath, "server:\n  shell: /bin/sh"); err != nil {
		t.Fatal(err)
	}

	fn := checkConfigFile(cfgPath, nil)
	result := fn(nil)
	if result.Status != StatusPass {
		t.Errorf("expected PASS for valid config, got %s: %s", result.Status, result.Message)
	}
}

func TestCheckShell_Default(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a unix shell")
	}
	result := checkShell(nil)
	if result.Status != StatusPass {
		t.Errorf("expected PASS for default shell, got %s: %s", result.Status, result.Message)
	}
}

func TestCheckShell_MissingAbsolute(t *testing.T) {
	cfg := config.Defaults()
	cfg.Server.Shell = "/nonexistent/shell-doctor-test"
	result := checkShell(cfg)
	if result.Status != StatusFail {
		t.Errorf("expected FAIL for missing shell, got %s", result.Status)
	}
	if result.Fix == "" {
		t.Error("expected fix suggestion for missing shell")
	}
}

func TestCheckShell_NotInPath(t *testing.T) {
	cfg := config.Defaults()
	cfg.Server.Shell = "no-such-shell-doctor-test"
	result := checkShell(cfg)
	if result.Status != StatusFail {
		t.Errorf("expected FAIL for shell not in PATH, got %s", result.Status)
	}
}

func TestCheckWorkDir_Inherit(t *testing.T) {
	result := checkWorkDir(nil)
	if result.Status != StatusPass {
		t.Errorf("expected PASS for inherited workdir, got %s", result.Status)
	}
}

func TestCheckWorkDir_Exists(t *testing.T) {
	cfg := config.Defaults()
	cfg.Server.WorkDir = t.TempDir()
	result := checkWorkDir(cfg)
	if result.Status != StatusPass {
		t.Errorf("expected PASS for existing workdir, got %s: %s", result.Status, result.Message)
	}
}

func TestCheckWorkDir_Missing(t *testing.T) {
	cfg := config.Defaults()
	cfg.Server.WorkDir = "/nonexistent/path/doctor-test"
	result := checkWorkDir(cfg)
	if result.Status != StatusFail {
		t.Errorf("expected FAIL for missing workdir, got %s", result.Status)
	}
	if result.Fix == "" {
		t.Error("expected fix suggestion for missing workdir")
	}
}

func TestCheckWorkDir_NotADirectory(t *testing.T) {
	tmpDir := t.TempDir()
	file := filepath.Join(tmpDir, "not-a-dir")
	if err := writeTestFile(t, file, "x"); err != nil {
		t.Fatal(err)
	}

	cfg := config.Defaults()
	cfg.Server.WorkDir = file
	result := checkWorkDir(cfg)
	if result.Status != StatusFail {
		t.Errorf("expected FAIL for file workdir, got %s", result.Status)
	}
}

func TestCheckGuard_Enabled(t *testing.T) {
	result := checkGuard(config.Defaults())
	if result.Status != StatusPass {
		t.Errorf("expected PASS for enabled guard, got %s: %s", result.Status, result.Message)
	}
}

func TestCheckGuard_Disabled(t *testing.T) {
	cfg := config.Defaults()
	cfg.Guard.Enabled = false
	result := checkGuard(cfg)
	if result.Status != StatusWarn {
		t.Errorf("expected WARN for disabled guard, got %s", result.Status)
	}
}

func TestCheckLoggerOutput_Stdout(t *testing.T) {
	cfg := config.Defaults()
	cfg.Logger.Output = "stdout"
	result := checkLoggerOutput(cfg)
	if result.Status != StatusFail {
		t.Errorf("expected FAIL for stdout logging, got %s", result.Status)
	}
	if result.Fix == "" {
		t.Error("expected fix suggestion for stdout logging")
	}
}

func TestCheckLoggerOutput_Stderr(t *testing.T) {
	result := checkLoggerOutput(config.Defaults())
	if result.Status != StatusPass {
		t.Errorf("expected PASS for stderr logging, got %s: %s", result.Status, result.Message)
	}
}

func TestCheckLoggerOutput_NilConfig(t *testing.T) {
	result := checkLoggerOutput(nil)
	if result.Status != StatusWarn {
		t.Errorf("expected WARN for nil config, got %s", result.Status)
	}
}

func TestCheckRetention_Disabled(t *testing.T) {
	result := checkRetention(config.Defaults())
	if result.Status != StatusPass {
		t.Errorf("expected PASS for disabled retention, got %s", result.Status)
	}
}

func TestCheckRetention_ValidSchedule(t *testing.T) {
	cfg := config.Defaults()
	cfg.Retention.Schedule = "*/10 * * * *"
	cfg.Retention.MaxAge = time.Hour
	result := checkRetention(cfg)
	if result.Status != StatusPass {
		t.Errorf("expected PASS for valid schedule, got %s: %s", result.Status, result.Message)
	}
}

func TestCheckRetention_InvalidSchedule(t *testing.T) {
	cfg := config.Defaults()
	cfg.Retention.Schedule = "not a cron expression"
	result := checkRetention(cfg)
	if result.Status != StatusFail {
		t.Errorf("expected FAIL for invalid schedule, got %s", result.Status)
	}
	if result.Fix == "" {
		t.Error("expected fix suggestion for invalid schedule")
	}
}

func TestCheckGateway_Disabled(t *testing.T) {
	result := checkGateway(config.Defaults())
	if result.Status != StatusPass {
		t.Errorf("expected PASS for disabled gateway, got %s", result.Status)
	}
}

func TestCheckGateway_NoTokens(t *testing.T) {
	cfg := config.Defaults()
	cfg.Gateway.Enabled = true
	cfg.Gateway.Addr = "127.0.0.1:0"
	result := checkGateway(cfg)
	if result.Status != StatusWarn {
		t.Errorf("expected WARN for missing tokens, got %s: %s", result.Status, result.Message)
	}
	if result.Fix == "" {
		t.Error("expected fix suggestion for missing tokens")
	}
}

func TestCheckGateway_Bindable(t *testing.T) {
	cfg := config.Defaults()
	cfg.Gateway.Enabled = true
	cfg.Gateway.Addr = "127.0.0.1:0"
	cfg.Gateway.Auth.Tokens = []config.TokenConfig{{Token: "secret", Name: "test"}}
	result := checkGateway(cfg)
	if result.Status != StatusPass {
		t.Errorf("expected PASS for bindable addr, got %s: %s", result.Status, result.Message)
	}
}

func TestCheckDiskSpace_NonexistentDir(t *testing.T) {
	cfg := config.Defaults()
	cfg.Server.WorkDir = "/nonexistent/path/doctor-test"
	result := checkDiskSpace(cfg)
	if result.Status != StatusPass {
		t.Errorf("expected PASS for nonexistent dir, got %s: %s", result.Status, result.Message)
	}
}

func TestCheckDiskSpace_ExistingDir(t *testing.T) {
	cfg := config.Defaults()
	cfg.Server.WorkDir = t.TempDir()
	result := checkDiskSpace(cfg)
	// PASS or WARN depending on the actual disk; only a full disk fails.
	if result.Status == StatusFail {
		t.Logf("disk space check FAIL (may be expected on full disks): %s", result.Message)
	}
}

func TestStatusIcon(t *testing.T) {
	if statusIcon(StatusPass) != "[PASS]" {
		t.Error("wrong icon for PASS")
	}
	if statusIcon(StatusWarn) != "[WARN]" {
		t.Error("wrong icon for WARN")
	}
	if statusIcon(StatusFail) != "[FAIL]" {
		t.Error("wrong icon for FAIL")
	}
}

func TestSummaryCount(t *testing.T) {
	cfg := config.Defaults()

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile("/nonexistent/doctor-test.yaml", nil)},
		{Name: "Command guard", Fn: checkGuard},
		{Name: "Retention schedule", Fn: checkRetention},
	}

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(cfg)
		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	total := pass + warn + fail
	if total != len(checks) {
		t.Errorf("expected %d total results, got %d", len(checks), total)
	}
}

// writeTestFile is a test helper that creates a file with the given content.
func writeTestFile(t *testing.T, path, content string) error {
	t.Helper()
	return os.WriteFile(path, []byte(content), 0644)
}
