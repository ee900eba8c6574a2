// Package config resolves Chronicle's runtime settings by layering
// built-in defaults, an on-disk config file, and the process environment
// (spec §4.1), and exposes a read-only typed snapshot.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config is the process-wide, loaded-once settings snapshot (spec §3,
// §9 "Global state" — init-at-start, no teardown, no setters).
type Config struct {
	PrimaryURL string `json:"primary_url" validate:"omitempty,url"`
	PrimaryKey string `json:"-"` // never serialized; env/file-secret only

	LocalPath    string `json:"local_path"`
	LocalEnabled bool   `json:"local_enabled"`

	MaxPayloadBytes int `json:"max_payload_bytes" validate:"min=1024"`
	HookTimeoutMs   int `json:"hook_timeout_ms" validate:"min=1"`

	SanitizePatterns []string `json:"sanitize_patterns"`
	SanitizePathAnon bool     `json:"sanitize_path_anon"`

	LogLevel  string `json:"log_level" validate:"omitempty,oneof=trace debug info warn error"`
	LogSilent bool   `json:"log_silent"`

	AutoApproveAllow []string `json:"auto_approve_allow"`
	AutoApproveDeny  []string `json:"auto_approve_deny"`

	InstallDir string `json:"-"`

	compiledPatterns []*regexp.Regexp
}

// CompiledSanitizePatterns returns the SanitizePatterns that compiled to
// regexps at Load time. Patterns that fail to compile are dropped there
// without aborting the hook and are not counted or reported.
func (c *Config) CompiledSanitizePatterns() []*regexp.Regexp {
	return c.compiledPatterns
}

func defaults(installDir string) *Config {
	return &Config{
		LocalPath:        filepath.Join(installDir, "data", "chronicle.db"),
		LocalEnabled:     true,
		MaxPayloadBytes:  1048576,
		HookTimeoutMs:    100,
		SanitizePathAnon: true,
		LogLevel:         "info",
		AutoApproveAllow: []string{"Read", "Glob", "Grep", "TodoWrite"},
		AutoApproveDeny:  []string{},
		InstallDir:       installDir,
	}
}

// fileConfig is the on-disk JSON shape. Secret fields are deliberately
// absent here (PrimaryKey never round-trips through config.json), the
// same convention the pack's goclaw config.go uses for its Postgres DSN.
type fileConfig struct {
	PrimaryURL       string   `json:"primary_url"`
	LocalPath        string   `json:"local_path"`
	LocalEnabled     *bool    `json:"local_enabled"`
	MaxPayloadBytes  int      `json:"max_payload_bytes"`
	HookTimeoutMs    int      `json:"hook_timeout_ms"`
	SanitizePatterns []string `json:"sanitize_patterns"`
	SanitizePathAnon *bool    `json:"sanitize_path_anon"`
	LogLevel         string   `json:"log_level"`
	LogSilent        bool     `json:"log_silent"`
	AutoApproveAllow []string `json:"auto_approve_allow"`
	AutoApproveDeny  []string `json:"auto_approve_deny"`
}

// Load merges defaults, <installDir>/config.json, <installDir>/.env, and
// the process environment, in increasing priority, validates the result,
// and returns a read-only Config snapshot.
//
// Load fails (non-nil error) only when primary credentials are
// syntactically invalid AND local fallback is disabled — every other
// validation problem degrades the offending option to its default.
func Load(installDir string) (*Config, error) {
	cfg := defaults(installDir)

	if fc, err := loadFileConfig(installDir); err == nil && fc != nil {
		applyFileConfig(cfg, fc)
	}

	// .env is loaded into the process environment (not overriding
	// existing env vars), then environment wins over everything above.
	_ = godotenv.Load(filepath.Join(installDir, ".env"))
	applyEnv(cfg)

	compilePatterns(cfg)

	if err := validateStrict(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFileConfig(installDir string) (*fileConfig, error) {
	b, err := os.ReadFile(filepath.Join(installDir, "config.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var fc fileConfig
	if err := json.Unmarshal(b, &fc); err != nil {
		return nil, err
	}
	return &fc, nil
}

func applyFileConfig(cfg *Config, fc *fileConfig) {
	if fc.PrimaryURL != "" {
		cfg.PrimaryURL = fc.PrimaryURL
	}
	if fc.LocalPath != "" {
		cfg.LocalPath = fc.LocalPath
	}
	if fc.LocalEnabled != nil {
		cfg.LocalEnabled = *fc.LocalEnabled
	}
	if fc.MaxPayloadBytes > 0 {
		cfg.MaxPayloadBytes = fc.MaxPayloadBytes
	}
	if fc.HookTimeoutMs > 0 {
		cfg.HookTimeoutMs = fc.HookTimeoutMs
	}
	if len(fc.SanitizePatterns) > 0 {
		cfg.SanitizePatterns = fc.SanitizePatterns
	}
	if fc.SanitizePathAnon != nil {
		cfg.SanitizePathAnon = *fc.SanitizePathAnon
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}
	cfg.LogSilent = cfg.LogSilent || fc.LogSilent
	if len(fc.AutoApproveAllow) > 0 {
		cfg.AutoApproveAllow = fc.AutoApproveAllow
	}
	if len(fc.AutoApproveDeny) > 0 {
		cfg.AutoApproveDeny = fc.AutoApproveDeny
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CHRONICLE_PRIMARY_URL"); v != "" {
		cfg.PrimaryURL = v
	}
	if v := os.Getenv("CHRONICLE_PRIMARY_KEY"); v != "" {
		cfg.PrimaryKey = v
	}
	if v := os.Getenv("CHRONICLE_LOCAL_PATH"); v != "" {
		cfg.LocalPath = v
	}
	if v := os.Getenv("CHRONICLE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CHRONICLE_LOG_SILENT"); v == "true" || v == "1" {
		cfg.LogSilent = true
	}
}

func compilePatterns(cfg *Config) {
	cfg.compiledPatterns = cfg.compiledPatterns[:0]
	for _, p := range cfg.SanitizePatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			// A malformed extra pattern degrades silently: it is
			// dropped, never aborts the hook.
			continue
		}
		cfg.compiledPatterns = append(cfg.compiledPatterns, re)
	}
}

var structValidator = validator.New()

// validateStrict enforces the one hard failure condition spec.md §4.1
// names (invalid primary credentials with local fallback disabled) and
// otherwise only resets individually invalid fields to defaults.
func validateStrict(cfg *Config) error {
	if err := structValidator.Struct(cfg); err != nil {
		if cfg.PrimaryURL != "" && !isValidURL(cfg.PrimaryURL) && !cfg.LocalEnabled {
			return fmt.Errorf("config: primary.url is invalid and local fallback is disabled: %w", err)
		}
		softRepairFields(cfg, err)
	}
	if cfg.PrimaryURL != "" && cfg.PrimaryKey == "" {
		// Missing remote credentials degrade silently to local-only mode.
		cfg.PrimaryURL = ""
	}
	return nil
}

func isValidURL(u string) bool {
	return structValidator.Var(u, "url") == nil
}

// softRepairFields resets any field that failed struct validation back
// to its default value rather than aborting — e.g. an out-of-range
// max_payload_bytes or an unrecognized log_level from a stale config file.
func softRepairFields(cfg *Config, verr error) {
	ve, ok := verr.(validator.ValidationErrors)
	if !ok {
		return
	}
	def := defaults(cfg.InstallDir)
	for _, fe := range ve {
		switch fe.Field() {
		case "MaxPayloadBytes":
			cfg.MaxPayloadBytes = def.MaxPayloadBytes
		case "HookTimeoutMs":
			cfg.HookTimeoutMs = def.HookTimeoutMs
		case "LogLevel":
			cfg.LogLevel = def.LogLevel
		case "PrimaryURL":
			// handled by the hard-failure path above when local is
			// disabled; otherwise just drop the bad URL.
			cfg.PrimaryURL = ""
		}
	}
}
