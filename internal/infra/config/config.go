package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Exec      ExecConfig      `yaml:"exec"`
	Output    OutputConfig    `yaml:"output"`
	Guard     GuardConfig     `yaml:"guard"`
	Retention RetentionConfig `yaml:"retention"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
	Includes  []string        `yaml:"includes,omitempty"`
}

// ServerConfig holds process-wide server settings.
type ServerConfig struct {
	Name    string `yaml:"name"`
	Shell   string `yaml:"shell"`
	WorkDir string `yaml:"workdir"` // default working directory, empty = inherit
}

// ExecConfig holds command execution settings.
type ExecConfig struct {
	MaxConcurrent  int           `yaml:"max_concurrent"`
	DefaultTimeout time.Duration `yaml:"default_timeout"` // 0 = no limit
	MaxTimeout     time.Duration `yaml:"max_timeout"`     // ceiling for per-command timeouts
	StripEnv       []string      `yaml:"strip_env,omitempty"`
}

// OutputConfig holds output capture settings.
type OutputConfig struct {
	MaxLines       int `yaml:"max_lines"`        // head/tail window size
	MaxBufferLines int `yaml:"max_buffer_lines"` // scrollback retained for paging
}

// GuardConfig holds the destructive-command guard settings.
type GuardConfig struct {
	Enabled bool `yaml:"enabled"`
}

// RetentionConfig holds finished-command cleanup settings.
// Cleanup runs on a cron schedule; an empty schedule disables it.
type RetentionConfig struct {
	Schedule string        `yaml:"schedule"`
	MaxAge   time.Duration `yaml:"max_age"`
}

// GatewayConfig holds the WebSocket gateway settings. The gateway stays off
// unless enabled explicitly.
type GatewayConfig struct {
	Enabled bool       `yaml:"enabled"`
	Addr    string     `yaml:"addr"` // host:port, host may be empty
	Auth    AuthConfig `yaml:"auth"`
}

// AuthConfig selects how gateway clients authenticate.
type AuthConfig struct {
	Type   string        `yaml:"type"` // "static", or "" for open access
	Tokens []TokenConfig `yaml:"tokens,omitempty"`
}

// TokenConfig is one static bearer token and the roles it grants.
type TokenConfig struct {
	Name  string   `yaml:"name"`
	Token string   `yaml:"token"`
	Roles []string `yaml:"roles"`
}

// LoggerConfig holds structured logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
	Output string `yaml:"output"` // stderr, stdout, or a file path
}

// TracerConfig holds OpenTelemetry tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // noop or stdout
	Endpoint string `yaml:"endpoint"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Name:  "shellherd",
			Shell: "/bin/sh",
		},
		Exec: ExecConfig{
			MaxConcurrent:  20,
			DefaultTimeout: 0,
			MaxTimeout:     time.Hour,
		},
		Output: OutputConfig{
			MaxLines:       200,
			MaxBufferLines: 100_000,
		},
		Guard: GuardConfig{
			Enabled: true,
		},
		Retention: RetentionConfig{
			Schedule: "",
			MaxAge:   24 * time.Hour,
		},
		Gateway: GatewayConfig{
			Enabled: false,
			Addr:    ":8090",
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{Enabled: false, Exporter: "noop"},
	}
}

// Load builds the effective configuration: defaults, then the YAML file and
// its includes, then SHELLHERD_* environment variables, then secret
// decryption when SHELLHERD_CONFIG_KEY is set. A missing file is not an
// error; the env and defaults stand on their own.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		ApplyEnvOverrides(cfg)
		if err := Validate(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if err := validatePermissions(abs); err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := mergeIncludes(cfg, raw, abs); err != nil {
		return nil, err
	}

	ApplyEnvOverrides(cfg)

	if key := os.Getenv("SHELLHERD_CONFIG_KEY"); key != "" {
		if err := decryptSecrets(cfg, key); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeIncludes folds every included file into cfg, then replays the
// top-level document so its values win over anything an include set.
func mergeIncludes(cfg *Config, raw []byte, absPath string) error {
	if len(cfg.Includes) == 0 {
		return nil
	}

	seen := map[string]bool{absPath: true}
	if err := processIncludes(cfg, filepath.Dir(absPath), seen, 0); err != nil {
		return err
	}

	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config (second pass): %w", err)
	}
	cfg.Includes = nil
	return nil
}

// ApplyEnvOverrides layers SHELLHERD_* environment variables over cfg.
// Malformed values are skipped silently; the file and defaults stay
// authoritative in that case.
func ApplyEnvOverrides(cfg *Config) {
	envString("SHELLHERD_SERVER_SHELL", &cfg.Server.Shell)
	envString("SHELLHERD_SERVER_WORKDIR", &cfg.Server.WorkDir)

	envPositiveInt("SHELLHERD_EXEC_MAX_CONCURRENT", &cfg.Exec.MaxConcurrent)
	// Zero is meaningful here: it lifts the default time limit.
	if v := os.Getenv("SHELLHERD_EXEC_DEFAULT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			cfg.Exec.DefaultTimeout = d
		}
	}
	envDuration("SHELLHERD_EXEC_MAX_TIMEOUT", &cfg.Exec.MaxTimeout)
	if v := os.Getenv("SHELLHERD_EXEC_STRIP_ENV"); v != "" {
		cfg.Exec.StripEnv = csvList(v)
	}

	envPositiveInt("SHELLHERD_OUTPUT_MAX_LINES", &cfg.Output.MaxLines)
	envPositiveInt("SHELLHERD_OUTPUT_MAX_BUFFER_LINES", &cfg.Output.MaxBufferLines)

	envBool("SHELLHERD_GUARD_ENABLED", &cfg.Guard.Enabled)

	envString("SHELLHERD_RETENTION_SCHEDULE", &cfg.Retention.Schedule)
	envDuration("SHELLHERD_RETENTION_MAX_AGE", &cfg.Retention.MaxAge)

	envBool("SHELLHERD_GATEWAY_ENABLED", &cfg.Gateway.Enabled)
	envString("SHELLHERD_GATEWAY_ADDR", &cfg.Gateway.Addr)
	if v := os.Getenv("SHELLHERD_GATEWAY_TOKEN"); v != "" {
		cfg.Gateway.Auth.Type = "static"
		cfg.Gateway.Auth.Tokens = append(cfg.Gateway.Auth.Tokens, TokenConfig{
			Token: v,
			Name:  "env",
		})
	}

	envString("SHELLHERD_LOGGER_LEVEL", &cfg.Logger.Level)
	envString("SHELLHERD_LOGGER_FORMAT", &cfg.Logger.Format)

	envBool("SHELLHERD_TRACER_ENABLED", &cfg.Tracer.Enabled)
	envString("SHELLHERD_TRACER_EXPORTER", &cfg.Tracer.Exporter)
}

// envString copies key's value into dst when set and non-empty.
func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// envPositiveInt parses key as a positive integer. Unset, malformed, zero,
// and negative values leave dst alone.
func envPositiveInt(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		*dst = n
	}
}

// envDuration parses key as a positive duration, with the same leniency as
// envPositiveInt.
func envDuration(key string, dst *time.Duration) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		*dst = d
	}
}

// envBool honors an explicit "true" or "false" and ignores everything else.
func envBool(key string, dst *bool) {
	switch os.Getenv(key) {
	case "true":
		*dst = true
	case "false":
		*dst = false
	}
}

// csvList splits a comma-separated value and trims whitespace around each
// element.
func csvList(s string) []string {
	fields := strings.Split(s, ",")
	for i, f := range fields {
		fields[i] = strings.TrimSpace(f)
	}
	return fields
}

const encPrefix = "enc:"

// decryptSecrets rewrites every gateway auth token carrying the enc: prefix
// with its decrypted value.
func decryptSecrets(cfg *Config, passphrase string) error {
	for i, tc := range cfg.Gateway.Auth.Tokens {
		sealed, ok := strings.CutPrefix(tc.Token, encPrefix)
		if !ok {
			continue
		}
		plain, err := DecryptValue(sealed, passphrase)
		if err != nil {
			return fmt.Errorf("gateway auth token %s: %w", tc.Name, err)
		}
		cfg.Gateway.Auth.Tokens[i].Token = plain
	}
	return nil
}

// Argon2id cost for key derivation: one pass over 64 MiB with four lanes,
// producing an AES-256 key.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	keySize      = 32

	saltSize = 16
)

// EncryptValue seals a secret with AES-256-GCM under a passphrase-derived
// key. The wire form is hex(salt) ":" hex(nonce||ciphertext), safe to paste
// into a config file behind the enc: prefix.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	aead, err := newAEAD(passphrase, salt)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(sealed), nil
}

// DecryptValue reverses EncryptValue given the same passphrase.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, sealedHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", errors.New("invalid encrypted format")
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	sealed, err := hex.DecodeString(sealedHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	aead, err := newAEAD(passphrase, salt)
	if err != nil {
		return "", err
	}
	if len(sealed) < aead.NonceSize() {
		return "", errors.New("ciphertext too short")
	}

	nonce, box := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, box, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plain), nil
}

// newAEAD derives the key from passphrase and salt via Argon2id and wraps it
// in AES-GCM.
func newAEAD(passphrase string, salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, keySize)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// validatePermissions rejects config files that anyone but the owner could
// write. Group and world read bits are tolerated, matching 0600 and 0644.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
