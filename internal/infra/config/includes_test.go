package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// writeYAML drops a config fragment into dir and returns its path. Mode 0600
// keeps the loader's permission check quiet.
func writeYAML(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func mustLoad(t *testing.T, path string) *Config {
	t.Helper()
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load(%s): %v", filepath.Base(path), err)
	}
	return cfg
}

// loadFails asserts Load rejects the file and hands back the error for
// message checks.
func loadFails(t *testing.T, path string) error {
	t.Helper()
	_, err := Load(path)
	if err == nil {
		t.Fatal("Load succeeded, want error")
	}
	return err
}

func TestIncludeMergesFragment(t *testing.T) {
	dir := t.TempDir()
	writeYAML(t, dir, "exec.yaml", "exec:\n  max_concurrent: 7\n  default_timeout: 45s\n")
	main := writeYAML(t, dir, "config.yaml", `includes: ["exec.yaml"]`)

	cfg := mustLoad(t, main)
	if cfg.Exec.MaxConcurrent != 7 {
		t.Errorf("Exec.MaxConcurrent = %d, want 7", cfg.Exec.MaxConcurrent)
	}
	if cfg.Exec.DefaultTimeout.String() != "45s" {
		t.Errorf("Exec.DefaultTimeout = %v, want 45s", cfg.Exec.DefaultTimeout)
	}
	if cfg.Includes != nil {
		t.Errorf("Includes = %v, want nil after load", cfg.Includes)
	}
}

func TestIncludePathForms(t *testing.T) {
	t.Run("relative subdirectory", func(t *testing.T) {
		dir := t.TempDir()
		sub := filepath.Join(dir, "sub")
		if err := os.Mkdir(sub, 0o755); err != nil {
			t.Fatal(err)
		}
		writeYAML(t, sub, "extra.yaml", "logger:\n  level: debug\n")
		main := writeYAML(t, dir, "config.yaml", `includes: ["sub/extra.yaml"]`)

		if cfg := mustLoad(t, main); cfg.Logger.Level != "debug" {
			t.Errorf("Logger.Level = %q, want debug", cfg.Logger.Level)
		}
	})

	t.Run("absolute", func(t *testing.T) {
		dir := t.TempDir()
		abs := writeYAML(t, dir, "abs.yaml", "logger:\n  level: warn\n")
		main := writeYAML(t, dir, "config.yaml", fmt.Sprintf("includes: [%q]", abs))

		if cfg := mustLoad(t, main); cfg.Logger.Level != "warn" {
			t.Errorf("Logger.Level = %q, want warn", cfg.Logger.Level)
		}
	})

	t.Run("glob", func(t *testing.T) {
		dir := t.TempDir()
		confD := filepath.Join(dir, "conf.d")
		if err := os.Mkdir(confD, 0o755); err != nil {
			t.Fatal(err)
		}
		writeYAML(t, confD, "10-output.yaml", "output:\n  max_lines: 500\n")
		writeYAML(t, confD, "20-logger.yaml", "logger:\n  level: debug\n")
		main := writeYAML(t, dir, "config.yaml", `includes: ["conf.d/*.yaml"]`)

		cfg := mustLoad(t, main)
		if cfg.Output.MaxLines != 500 {
			t.Errorf("Output.MaxLines = %d, want 500", cfg.Output.MaxLines)
		}
		if cfg.Logger.Level != "debug" {
			t.Errorf("Logger.Level = %q, want debug", cfg.Logger.Level)
		}
	})

	t.Run("glob matching nothing", func(t *testing.T) {
		dir := t.TempDir()
		main := writeYAML(t, dir, "config.yaml", `includes: ["conf.d/*.yaml"]`)

		if cfg := mustLoad(t, main); cfg.Output.MaxLines != Defaults().Output.MaxLines {
			t.Errorf("Output.MaxLines = %d, want default", cfg.Output.MaxLines)
		}
	})
}

func TestIncludeMergeOrder(t *testing.T) {
	dir := t.TempDir()
	writeYAML(t, dir, "base.yaml", "exec:\n  max_concurrent: 50\n  default_timeout: 90s\n")
	main := writeYAML(t, dir, "config.yaml", "includes: [\"base.yaml\"]\nexec:\n  max_concurrent: 12\n")

	cfg := mustLoad(t, main)
	// The declaring file wins over anything it includes.
	if cfg.Exec.MaxConcurrent != 12 {
		t.Errorf("Exec.MaxConcurrent = %d, want 12", cfg.Exec.MaxConcurrent)
	}
	// Fields the main file leaves alone keep the included value.
	if cfg.Exec.DefaultTimeout.String() != "1m30s" {
		t.Errorf("Exec.DefaultTimeout = %v, want 1m30s", cfg.Exec.DefaultTimeout)
	}
}

func TestIncludeChains(t *testing.T) {
	dir := t.TempDir()
	writeYAML(t, dir, "inner.yaml", "logger:\n  format: json\n")
	writeYAML(t, dir, "outer.yaml", "includes: [\"inner.yaml\"]\nlogger:\n  level: debug\n")
	main := writeYAML(t, dir, "config.yaml", `includes: ["outer.yaml"]`)

	cfg := mustLoad(t, main)
	if cfg.Logger.Format != "json" {
		t.Errorf("Logger.Format = %q, want json", cfg.Logger.Format)
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q, want debug", cfg.Logger.Level)
	}
}

func TestIncludeCycles(t *testing.T) {
	t.Run("mutual", func(t *testing.T) {
		dir := t.TempDir()
		writeYAML(t, dir, "a.yaml", `includes: ["b.yaml"]`)
		writeYAML(t, dir, "b.yaml", `includes: ["a.yaml"]`)
		main := writeYAML(t, dir, "config.yaml", `includes: ["a.yaml"]`)

		assertContains(t, loadFails(t, main).Error(), "circular include")
	})

	t.Run("self", func(t *testing.T) {
		dir := t.TempDir()
		main := writeYAML(t, dir, "config.yaml", `includes: ["config.yaml"]`)

		assertContains(t, loadFails(t, main).Error(), "circular include")
	})
}

func TestIncludeEscapeBlocked(t *testing.T) {
	dir := t.TempDir()
	main := writeYAML(t, dir, "config.yaml", `includes: ["../../../etc/passwd"]`)

	assertContains(t, loadFails(t, main).Error(), "escapes")
}

func TestIncludeWorldWritableRejected(t *testing.T) {
	dir := t.TempDir()
	leaky := filepath.Join(dir, "leaky.yaml")
	if err := os.WriteFile(leaky, []byte("logger:\n  level: debug\n"), 0o666); err != nil {
		t.Fatal(err)
	}
	// WriteFile's mode is filtered through the umask; chmod to the mode
	// under test.
	if err := os.Chmod(leaky, 0o666); err != nil {
		t.Fatal(err)
	}
	main := writeYAML(t, dir, "config.yaml", `includes: ["leaky.yaml"]`)

	assertContains(t, loadFails(t, main).Error(), "insecure permissions")
}

func TestIncludeMissingFile(t *testing.T) {
	dir := t.TempDir()
	main := writeYAML(t, dir, "config.yaml", `includes: ["nope.yaml"]`)

	loadFails(t, main)
}

func TestIncludeBadYAML(t *testing.T) {
	dir := t.TempDir()
	writeYAML(t, dir, "broken.yaml", "broken: [yaml: oops")
	main := writeYAML(t, dir, "config.yaml", `includes: ["broken.yaml"]`)

	loadFails(t, main)
}

func TestIncludeDepthCapped(t *testing.T) {
	dir := t.TempDir()
	// chain0 includes chain1 includes chain2 and so on, one link past the
	// cap. The last file is empty so only depth can fail the load.
	last := maxIncludeDepth + 1
	for i := 0; i <= last; i++ {
		body := ""
		if i < last {
			body = fmt.Sprintf("includes: [\"chain%d.yaml\"]", i+1)
		}
		writeYAML(t, dir, fmt.Sprintf("chain%d.yaml", i), body)
	}
	main := writeYAML(t, dir, "config.yaml", `includes: ["chain0.yaml"]`)

	assertContains(t, loadFails(t, main).Error(), "max depth")
}

func TestIncludeEmptyFragment(t *testing.T) {
	dir := t.TempDir()
	writeYAML(t, dir, "empty.yaml", "")
	main := writeYAML(t, dir, "config.yaml", `includes: ["empty.yaml"]`)

	cfg := mustLoad(t, main)
	if want := Defaults().Exec.MaxConcurrent; cfg.Exec.MaxConcurrent != want {
		t.Errorf("Exec.MaxConcurrent = %d, want default %d", cfg.Exec.MaxConcurrent, want)
	}
}

func TestNoIncludesDeclared(t *testing.T) {
	dir := t.TempDir()
	main := writeYAML(t, dir, "config.yaml", "exec:\n  max_concurrent: 15\n")

	if cfg := mustLoad(t, main); cfg.Exec.MaxConcurrent != 15 {
		t.Errorf("Exec.MaxConcurrent = %d, want 15", cfg.Exec.MaxConcurrent)
	}
}
