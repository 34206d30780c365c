package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("config validation failed:")
	for _, e := range v.Errors {
		b.WriteString("\n  - ")
		b.WriteString(e)
	}
	return b.String()
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate runs every section check and reports all problems at once as a
// *ValidationError.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	for _, check := range []func(*Config, *ValidationError){
		checkServer,
		checkExec,
		checkOutput,
		checkRetention,
		checkGateway,
		checkLogger,
	} {
		check(cfg, ve)
	}
	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func checkServer(cfg *Config, ve *ValidationError) {
	if cfg.Server.Shell == "" {
		ve.Add("server.shell must not be empty")
	}
}

func checkExec(cfg *Config, ve *ValidationError) {
	ex := cfg.Exec
	if ex.MaxConcurrent <= 0 {
		ve.Add("exec.max_concurrent must be > 0")
	}
	if ex.DefaultTimeout < 0 {
		ve.Add("exec.default_timeout must be >= 0 (0 disables the default)")
	}
	if ex.MaxTimeout <= 0 {
		ve.Add("exec.max_timeout must be > 0")
	}
	if ex.DefaultTimeout > ex.MaxTimeout {
		ve.Add("exec.default_timeout must not exceed exec.max_timeout")
	}
}

func checkOutput(cfg *Config, ve *ValidationError) {
	out := cfg.Output
	if out.MaxLines <= 0 {
		ve.Add("output.max_lines must be > 0")
	}
	if out.MaxBufferLines < out.MaxLines {
		ve.Add("output.max_buffer_lines must be >= output.max_lines")
	}
}

func checkRetention(cfg *Config, ve *ValidationError) {
	// An empty schedule means cleanup never runs; nothing else matters then.
	if cfg.Retention.Schedule != "" && cfg.Retention.MaxAge <= 0 {
		ve.Add("retention.max_age must be > 0 when retention.schedule is set")
	}
}

func checkGateway(cfg *Config, ve *ValidationError) {
	gw := cfg.Gateway
	if !gw.Enabled {
		return
	}
	if gw.Addr == "" {
		ve.Add("gateway.addr is required when gateway is enabled")
		return
	}
	if _, _, err := net.SplitHostPort(gw.Addr); err != nil {
		ve.Add("gateway.addr %q is not a valid host:port", gw.Addr)
	}
	if gw.Auth.Type != "" && gw.Auth.Type != "static" {
		ve.Add("gateway.auth.type %q is invalid (want: static)", gw.Auth.Type)
	}
	for i, tok := range gw.Auth.Tokens {
		if tok.Token == "" {
			ve.Add("gateway.auth.tokens[%d].token must not be empty", i)
		}
	}
}

func checkLogger(cfg *Config, ve *ValidationError) {
	switch cfg.Logger.Level {
	case "debug", "info", "warn", "error":
	default:
		ve.Add("logger.level %q is invalid (want: debug, info, warn, error)", cfg.Logger.Level)
	}
	switch cfg.Logger.Format {
	case "text", "json":
	default:
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
}
