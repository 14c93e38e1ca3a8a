// Package config loads the agent configuration from YAML with environment
// overrides. Every component receives its settings at construction; nothing
// reads configuration at runtime.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures everything required to boot the agent.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Git       GitConfig       `yaml:"git"`
	Sources   []SourceConfig  `yaml:"sources"`
	LLM       LLMConfig       `yaml:"llm"`
	Weaviate  WeaviateConfig  `yaml:"weaviate"`
	Slack     SlackConfig     `yaml:"slack"`
	Cache     CacheConfig     `yaml:"cache"`
	Workflow  WorkflowConfig  `yaml:"workflow"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig controls the webhook listener.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// SchedulerConfig configures access to the workflow scheduler's REST API.
type SchedulerConfig struct {
	BaseURL  string        `yaml:"baseURL"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout"`
}

// GitConfig configures the version-control collector. An empty repoPath
// disables it.
type GitConfig struct {
	RepoPath      string `yaml:"repoPath"`
	LookbackHours int    `yaml:"lookbackHours"`
}

// SourceConfig declares one upstream data source to health-check.
type SourceConfig struct {
	Name    string        `yaml:"name"`
	Type    string        `yaml:"type"`
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// LLMConfig selects and tunes the diagnosis capability.
type LLMConfig struct {
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"apiKey"`
	MaxTokens   int           `yaml:"maxTokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	Enabled     bool          `yaml:"enabled"`
}

// WeaviateConfig configures the incident similarity store.
type WeaviateConfig struct {
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"apiKey"`
	Timeout  time.Duration `yaml:"timeout"`
}

// SlackConfig configures failure notifications. An empty webhook URL disables
// them.
type SlackConfig struct {
	WebhookURL string        `yaml:"webhookURL"`
	Channel    string        `yaml:"channel"`
	Timeout    time.Duration `yaml:"timeout"`
}

// CacheConfig controls Valkey-backed caching of similarity lookups.
type CacheConfig struct {
	Enabled             bool          `yaml:"enabled"`
	Addr                string        `yaml:"addr"`
	Username            string        `yaml:"username"`
	Password            string        `yaml:"password"`
	DB                  int           `yaml:"db"`
	DialTimeout         time.Duration `yaml:"dialTimeout"`
	ReadTimeout         time.Duration `yaml:"readTimeout"`
	WriteTimeout        time.Duration `yaml:"writeTimeout"`
	TLS                 bool          `yaml:"tls"`
	SimilarIncidentsTTL time.Duration `yaml:"similarIncidentsTTL"`
}

// WorkflowConfig tunes the orchestrator.
type WorkflowConfig struct {
	CollectorTimeout time.Duration `yaml:"collectorTimeout"`
	MaxSimilar       int           `yaml:"maxSimilar"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file and environment overrides. An
// empty path falls back to RCA_AGENT_CONFIG; with neither set, defaults plus
// environment overrides apply.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("RCA_AGENT_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Scheduler: SchedulerConfig{Timeout: 30 * time.Second},
		Git:       GitConfig{LookbackHours: 24},
		LLM: LLMConfig{
			Provider:  "anthropic",
			MaxTokens: 4096,
			Timeout:   60 * time.Second,
			Enabled:   true,
		},
		Weaviate: WeaviateConfig{Timeout: 10 * time.Second},
		Slack:    SlackConfig{Timeout: 10 * time.Second},
		Cache: CacheConfig{
			Enabled:             false,
			DialTimeout:         2 * time.Second,
			ReadTimeout:         500 * time.Millisecond,
			WriteTimeout:        500 * time.Millisecond,
			SimilarIncidentsTTL: 2 * time.Minute,
		},
		Workflow: WorkflowConfig{
			CollectorTimeout: 60 * time.Second,
			MaxSimilar:       3,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RCA_AGENT_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("RCA_AGENT_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("RCA_AGENT_SCHEDULER_BASE_URL"); v != "" {
		cfg.Scheduler.BaseURL = v
	}
	if v := os.Getenv("RCA_AGENT_SCHEDULER_USERNAME"); v != "" {
		cfg.Scheduler.Username = v
	}
	if v := os.Getenv("RCA_AGENT_SCHEDULER_PASSWORD"); v != "" {
		cfg.Scheduler.Password = v
	}
	if v := os.Getenv("RCA_AGENT_GIT_REPO_PATH"); v != "" {
		cfg.Git.RepoPath = v
	}
	if v := os.Getenv("RCA_AGENT_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("RCA_AGENT_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("RCA_AGENT_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("RCA_AGENT_LLM_ENABLED"); v != "" {
		cfg.LLM.Enabled = isTrue(v)
	}
	if v := os.Getenv("RCA_AGENT_WEAVIATE_URL"); v != "" {
		cfg.Weaviate.Endpoint = v
	}
	if v := os.Getenv("RCA_AGENT_WEAVIATE_API_KEY"); v != "" {
		cfg.Weaviate.APIKey = v
	}
	if v := os.Getenv("RCA_AGENT_SLACK_WEBHOOK_URL"); v != "" {
		cfg.Slack.WebhookURL = v
	}
	if v := os.Getenv("RCA_AGENT_SLACK_CHANNEL"); v != "" {
		cfg.Slack.Channel = v
	}
	if v := os.Getenv("RCA_AGENT_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = isTrue(v)
	}
	if v := os.Getenv("RCA_AGENT_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("RCA_AGENT_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("RCA_AGENT_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("RCA_AGENT_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("RCA_AGENT_CACHE_TLS"); v != "" {
		cfg.Cache.TLS = isTrue(v)
	}
	if v := os.Getenv("RCA_AGENT_CACHE_SIMILAR_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.SimilarIncidentsTTL = d
		}
	}
	if v := os.Getenv("RCA_AGENT_COLLECTOR_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Workflow.CollectorTimeout = d
		}
	}
	if v := os.Getenv("RCA_AGENT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("RCA_AGENT_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
}

func isTrue(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}
