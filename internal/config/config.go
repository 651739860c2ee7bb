package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/mtzanidakis/webextract/internal/agent"
	"github.com/mtzanidakis/webextract/internal/orchestrator"
	"github.com/mtzanidakis/webextract/internal/pipeline"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Runner    RunnerConfig              `yaml:"runner"`
	Agent     AgentConfig               `yaml:"agent"`
	NATS      NATSConfig                `yaml:"nats"`
	Store     StoreConfig               `yaml:"store"`
	Web       WebConfig                 `yaml:"web"`
	Scheduler SchedulerConfig           `yaml:"scheduler"`
	Telegram  TelegramConfig            `yaml:"telegram"`
	Vault     VaultConfig               `yaml:"vault"`
	Log       LogConfig                 `yaml:"log"`
	Pipelines map[string]pipeline.Spec  `yaml:"pipelines"`
	Schedules map[string]ScheduleConfig `yaml:"schedules"`
}

type RunnerConfig struct {
	MaxConcurrent int           `yaml:"max_concurrent"`
	MaxFinished   int           `yaml:"max_finished"` // -1 keeps every finished run
	FinishedTTL   time.Duration `yaml:"finished_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	Policy        string        `yaml:"policy"`
	CancelMode    string        `yaml:"cancel_mode"`
	StepTimeout   time.Duration `yaml:"step_timeout"`
}

// AgentConfig holds the fetch settings shared by every extract agent.
type AgentConfig struct {
	UserAgent    string        `yaml:"user_agent"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBase    time.Duration `yaml:"retry_base"`
	Backoff      string        `yaml:"backoff"`
}

type NATSConfig struct {
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type WebConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Port        int    `yaml:"port"`
	AllowOrigin string `yaml:"allow_origin"`
}

type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chat_id"`
	// NotifyOn lists the terminal statuses that trigger a message.
	NotifyOn []string `yaml:"notify_on"`
}

type VaultConfig struct {
	Passphrase string `yaml:"passphrase"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ScheduleConfig runs a named pipeline on a cron expression or schedule JSON.
type ScheduleConfig struct {
	Pipeline string `yaml:"pipeline"`
	Schedule string `yaml:"schedule"`
	Paused   bool   `yaml:"paused"`
}

func defaults() Config {
	return Config{
		Runner: RunnerConfig{
			MaxConcurrent: 4,
			MaxFinished:   500,
			FinishedTTL:   24 * time.Hour,
			SweepInterval: time.Minute,
			Policy:        string(orchestrator.FailFast),
			CancelMode:    string(orchestrator.CancelFinish),
			StepTimeout:   2 * time.Minute,
		},
		Agent: AgentConfig{
			UserAgent:    "webextract/1.0",
			FetchTimeout: 30 * time.Second,
			MaxBodyBytes: 10 << 20,
			MaxRetries:   2,
			RetryBase:    500 * time.Millisecond,
			Backoff:      agent.BackoffExponential,
		},
		NATS: NATSConfig{
			Port:    4222,
			DataDir: "data/nats",
		},
		Store: StoreConfig{
			Path: "data/webextract.db",
		},
		Web: WebConfig{
			Enabled:     true,
			Port:        8080,
			AllowOrigin: "*",
		},
		Scheduler: SchedulerConfig{
			PollInterval: 30 * time.Second,
		},
		Telegram: TelegramConfig{
			NotifyOn: []string{string(orchestrator.StatusFailed), string(orchestrator.StatusPartiallyFailed)},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads .env (if present), the YAML config file and WEBEXTRACT_*
// environment overrides, in that order.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := defaults()

	path := os.Getenv("WEBEXTRACT_CONFIG")
	if path == "" {
		path = "config/webextract.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults + env
	} else {
		// Expand environment variables in YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("WEBEXTRACT_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("WEBEXTRACT_TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Telegram.ChatID = id
		}
	}
	if v := os.Getenv("WEBEXTRACT_VAULT_PASSPHRASE"); v != "" {
		cfg.Vault.Passphrase = v
	}
	if v := os.Getenv("WEBEXTRACT_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("WEBEXTRACT_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("WEBEXTRACT_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("WEBEXTRACT_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Runner.MaxConcurrent = n
		}
	}
	if v := os.Getenv("WEBEXTRACT_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// Validate checks the pipelines and schedules sections.
func (c *Config) Validate() error {
	switch orchestrator.FailurePolicy(c.Runner.Policy) {
	case orchestrator.FailFast, orchestrator.ContinueOnError:
	default:
		return fmt.Errorf("runner.policy: unknown policy %q", c.Runner.Policy)
	}
	switch orchestrator.CancelMode(c.Runner.CancelMode) {
	case orchestrator.CancelFinish, orchestrator.CancelAbandon:
	default:
		return fmt.Errorf("runner.cancel_mode: unknown mode %q", c.Runner.CancelMode)
	}
	if c.Runner.MaxFinished == 0 {
		return fmt.Errorf("runner.max_finished: must be positive, or -1 to keep every run")
	}
	for name, spec := range c.Pipelines {
		if err := pipeline.Validate(spec); err != nil {
			return fmt.Errorf("pipelines.%s: %w", name, err)
		}
		if len(spec.Agents) == 0 {
			return fmt.Errorf("pipelines.%s: %w", name, orchestrator.ErrPipelineEmpty)
		}
	}
	for name, sc := range c.Schedules {
		if _, ok := c.Pipelines[sc.Pipeline]; !ok {
			return fmt.Errorf("schedules.%s: unknown pipeline %q", name, sc.Pipeline)
		}
		if sc.Schedule == "" {
			return fmt.Errorf("schedules.%s: schedule is required", name)
		}
	}
	return nil
}

// PipelineDefaults returns the settings pipeline.Build applies to steps that
// do not override them.
func (c *Config) PipelineDefaults() pipeline.Defaults {
	return pipeline.Defaults{
		Policy:     orchestrator.FailurePolicy(c.Runner.Policy),
		CancelMode: orchestrator.CancelMode(c.Runner.CancelMode),
		Timeout:    c.Runner.StepTimeout,
		Fetch: agent.FetchOptions{
			Client:       &http.Client{Timeout: c.Agent.FetchTimeout},
			UserAgent:    c.Agent.UserAgent,
			MaxBodyBytes: c.Agent.MaxBodyBytes,
			Retry: agent.RetryPolicy{
				MaxRetries: c.Agent.MaxRetries,
				Base:       c.Agent.RetryBase,
				Strategy:   c.Agent.Backoff,
			},
		},
	}
}

// Notify reports whether a run ending in status should trigger a Telegram
// message.
func (c TelegramConfig) Notify(status string) bool {
	return slices.Contains(c.NotifyOn, status)
}

// SlogLevel maps log.level to a slog level, defaulting to info.
func (c LogConfig) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
