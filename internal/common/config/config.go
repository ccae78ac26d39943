// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the layered configuration surfaces named in spec
// §6: web_engine, policy, schedules, trust_store, orchestrator, plus the
// ambient logger/secrets/store surfaces a complete deployment needs.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/Axion-inc/DesktopAgent/internal/common/logger"
)

// Config is the top-level, process-wide configuration object. It is
// constructed once at startup and shared by pointer with the Services
// object (design note §9: no module-level mutable globals for business
// state — logger and viper remain process singletons by convention, the
// rest of the graph is explicit).
type Config struct {
	Logger       logger.Config      `mapstructure:"logger"`
	Server       ServerConfig       `mapstructure:"server"`
	WebEngine    WebEngineConfig    `mapstructure:"web_engine"`
	Policy       PolicyConfig       `mapstructure:"policy" validate:"required"`
	Schedules    []ScheduleConfig   `mapstructure:"schedules"`
	TrustStore   map[string]TrustEntryConfig `mapstructure:"trust_store"`
	Orchestrator map[string]QueueConfig      `mapstructure:"orchestrator"`
	Secrets      SecretsConfig      `mapstructure:"secrets"`
	Store        StoreConfig        `mapstructure:"store"`
	Artifacts    ArtifactsConfig    `mapstructure:"artifacts"`
}

type ServerConfig struct {
	HTTPAddr       string   `mapstructure:"http_addr"`
	CORSOrigins    []string `mapstructure:"cors_origins"`
	ApprovalJWTKey string   `mapstructure:"approval_jwt_key"`
}

type WebEngineConfig struct {
	Engine               string `mapstructure:"engine"`
	TimeoutMs            int    `mapstructure:"timeout_ms"`
	EnableDebuggerUpload  bool   `mapstructure:"enable_debugger_upload"`
	FallbackEngine       string `mapstructure:"fallback_engine"`
	Endpoint             string `mapstructure:"endpoint"`
}

type AdoptPolicyConfig struct {
	LowRiskAuto     bool    `mapstructure:"low_risk_auto"`
	MinConfidence   float64 `mapstructure:"min_confidence"`
	MaxAutoChanges  int     `mapstructure:"max_auto_changes"`
}

type WindowConfig struct {
	Days     []string `mapstructure:"days"`
	Start    string   `mapstructure:"start"`
	End      string   `mapstructure:"end"`
	Timezone string   `mapstructure:"timezone"`
}

type PolicyConfig struct {
	Autopilot              bool              `mapstructure:"autopilot"`
	AllowDomains           []string          `mapstructure:"allow_domains"`
	AllowRisks             []string          `mapstructure:"allow_risks"`
	Window                 WindowConfig      `mapstructure:"window"`
	RequireSignedTemplates bool              `mapstructure:"require_signed_templates"`
	RequireCapabilities    []string          `mapstructure:"require_capabilities"`
	AdoptPolicy            AdoptPolicyConfig `mapstructure:"adopt_policy"`
	DeviationThreshold     float64           `mapstructure:"deviation_threshold"`
	DeviationScoringExpr   string            `mapstructure:"deviation_scoring_expr"`
	PenaltyWeights         map[string]float64 `mapstructure:"penalty_weights"`
}

type ScheduleConfig struct {
	ID        string            `mapstructure:"id"`
	Cron      string            `mapstructure:"cron"`
	Template  string            `mapstructure:"template"`
	Queue     string            `mapstructure:"queue"`
	Priority  int               `mapstructure:"priority"`
	Variables map[string]string `mapstructure:"variables"`
}

type TrustEntryConfig struct {
	PublicKey  string    `mapstructure:"public_key"`
	TrustLevel string    `mapstructure:"trust_level"`
	ValidFrom  time.Time `mapstructure:"valid_from"`
	ValidUntil time.Time `mapstructure:"valid_until"`
}

type RetryConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
	BackoffMs   int `mapstructure:"backoff_ms"`
}

type QueueConfig struct {
	MaxConcurrent int         `mapstructure:"max_concurrent"`
	RetryPolicy   RetryConfig `mapstructure:"retry_policy"`
}

type SecretsConfig struct {
	Backends   []string `mapstructure:"backends"`
	FilePath   string   `mapstructure:"file_path"`
	FileKeyHex string   `mapstructure:"file_key_hex"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"` // sqlite3 | postgres | mysql
	DSN    string `mapstructure:"dsn"`
}

type ArtifactsConfig struct {
	ScreenshotsDir string `mapstructure:"screenshots_dir"`
	SchemasDir     string `mapstructure:"schemas_dir"`
	AuditLogPath   string `mapstructure:"audit_log_path"`
}

var validate = validator.New()

// Default returns a configuration sufficient to run S1 (the happy-path
// scenario) without any file on disk.
func Default() *Config {
	return &Config{
		Logger: logger.Config{Level: "info", Format: "text", Output: "console"},
		Server: ServerConfig{HTTPAddr: ":8787"},
		WebEngine: WebEngineConfig{
			Engine: "playwright", TimeoutMs: 30000,
		},
		Policy: PolicyConfig{
			Autopilot:  false,
			AllowRisks: []string{"sends", "overwrites"},
			Window:     WindowConfig{Timezone: "UTC"},
			AdoptPolicy: AdoptPolicyConfig{
				LowRiskAuto:    true,
				MinConfidence:  0.85,
				MaxAutoChanges: 3,
			},
			DeviationThreshold: 3,
			PenaltyWeights: map[string]float64{
				"VERIFIER_FAIL": 2, "UNEXPECTED_ELEMENT": 2,
				"TIMING": 1, "DOMAIN_DRIFT": 3, "DOWNLOAD_FAIL": 3, "RETRY_CAP": 1,
			},
		},
		Secrets: SecretsConfig{Backends: []string{"env"}},
		Store:   StoreConfig{Driver: "sqlite3", DSN: "deskagent.db"},
		Artifacts: ArtifactsConfig{
			ScreenshotsDir: "artifacts/screenshots",
			SchemasDir:     "artifacts/schemas",
			AuditLogPath:   "logs/policy_audit.log",
		},
	}
}

// Load reads cfgFile (if non-empty) over the defaults and validates the
// result. DESKTOP_AGENT_-prefixed environment variables override only the
// keys that cfgFile itself sets; with no cfgFile the environment is not
// consulted and the defaults are used as they are.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("DESKTOP_AGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgFile, err)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	for i := range cfg.Schedules {
		if cfg.Schedules[i].Queue == "" {
			cfg.Schedules[i].Queue = "default"
		}
	}
	return cfg, nil
}

// Validate runs struct-tag validation plus the cross-field checks viper
// cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Policy.Window.Timezone != "" {
		if _, err := time.LoadLocation(c.Policy.Window.Timezone); err != nil {
			return fmt.Errorf("policy.window.timezone: %w", err)
		}
	}
	for name, q := range c.Orchestrator {
		if q.MaxConcurrent < 0 {
			return fmt.Errorf("orchestrator.%s.max_concurrent must be >= 0", name)
		}
	}
	return nil
}

// EnsureDirs creates the artifact/log directories declared in config.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.Artifacts.ScreenshotsDir, c.Artifacts.SchemasDir, filepath.Dir(c.Artifacts.AuditLogPath)} {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}
