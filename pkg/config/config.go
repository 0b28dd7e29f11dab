package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so fallback model lists can contain both "gpt-5.2" and bare ints in
// hand-edited config files.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Workspace   string            `json:"workspace" env:"EMPATHICBOT_WORKSPACE"`
	Server      ServerConfig      `json:"server"`
	Providers   ProvidersConfig   `json:"providers"`
	Memory      MemoryConfig      `json:"memory"`
	Stage       StageConfig       `json:"stage"`
	Maintenance MaintenanceConfig `json:"maintenance"`
	Debug       bool              `json:"debug" env:"EMPATHICBOT_DEBUG"`
	mu          sync.RWMutex
}

type ServerConfig struct {
	Host string `json:"host" env:"EMPATHICBOT_SERVER_HOST"`
	Port int    `json:"port" env:"EMPATHICBOT_SERVER_PORT"`
}

type ProvidersConfig struct {
	OpenRouter     OpenRouterConfig    `json:"openrouter"`
	Anthropic      AnthropicConfig     `json:"anthropic"`
	Generation     string              `json:"generation" env:"EMPATHICBOT_PROVIDERS_GENERATION"`
	FallbackModels FlexibleStringSlice `json:"fallback_models" env:"EMPATHICBOT_PROVIDERS_FALLBACK_MODELS"`
	TimeoutSeconds int                 `json:"timeout_seconds" env:"EMPATHICBOT_PROVIDERS_TIMEOUT_SECONDS"`
}

type OpenRouterConfig struct {
	APIKey         string `json:"api_key" env:"EMPATHICBOT_PROVIDERS_OPENROUTER_API_KEY"`
	APIBase        string `json:"api_base" env:"EMPATHICBOT_PROVIDERS_OPENROUTER_API_BASE"`
	Proxy          string `json:"proxy,omitempty" env:"EMPATHICBOT_PROVIDERS_OPENROUTER_PROXY"`
	Model          string `json:"model" env:"EMPATHICBOT_PROVIDERS_OPENROUTER_MODEL"`
	EmbeddingModel string `json:"embedding_model" env:"EMPATHICBOT_PROVIDERS_OPENROUTER_EMBEDDING_MODEL"`
}

type AnthropicConfig struct {
	APIKey string `json:"api_key" env:"EMPATHICBOT_PROVIDERS_ANTHROPIC_API_KEY"`
	Model  string `json:"model" env:"EMPATHICBOT_PROVIDERS_ANTHROPIC_MODEL"`
}

type MemoryConfig struct {
	TopK               int    `json:"top_k" env:"EMPATHICBOT_MEMORY_TOP_K"`
	EmbeddingCacheSize int    `json:"embedding_cache_size" env:"EMPATHICBOT_MEMORY_EMBEDDING_CACHE_SIZE"`
	LocalEmbedder      string `json:"local_embedder" env:"EMPATHICBOT_MEMORY_LOCAL_EMBEDDER"`
}

type StageConfig struct {
	HardResetHours       int `json:"hard_reset_hours" env:"EMPATHICBOT_STAGE_HARD_RESET_HOURS"`
	SoftGapMinutes       int `json:"soft_gap_minutes" env:"EMPATHICBOT_STAGE_SOFT_GAP_MINUTES"`
	MaxInstructions      int `json:"max_instructions" env:"EMPATHICBOT_STAGE_MAX_INSTRUCTIONS"`
	RunningNotesMaxChars int `json:"running_notes_max_chars" env:"EMPATHICBOT_STAGE_RUNNING_NOTES_MAX_CHARS"`
	HistoryTurns         int `json:"history_turns" env:"EMPATHICBOT_STAGE_HISTORY_TURNS"`
}

type MaintenanceConfig struct {
	Enabled bool   `json:"enabled" env:"EMPATHICBOT_MAINTENANCE_ENABLED"`
	Cron    string `json:"cron" env:"EMPATHICBOT_MAINTENANCE_CRON"`
}

func DefaultConfig() *Config {
	return &Config{
		Workspace: "~/.empathicbot",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Providers: ProvidersConfig{
			OpenRouter: OpenRouterConfig{
				Model:          "openai/gpt-5.2",
				EmbeddingModel: "openai/text-embedding-3-small",
			},
			Anthropic: AnthropicConfig{
				Model: "claude-sonnet-4-5",
			},
			Generation:     "openrouter",
			FallbackModels: FlexibleStringSlice{},
			TimeoutSeconds: 60,
		},
		Memory: MemoryConfig{
			TopK:               3,
			EmbeddingCacheSize: 256,
			LocalEmbedder:      "",
		},
		Stage: StageConfig{
			HardResetHours:       24,
			SoftGapMinutes:       15,
			MaxInstructions:      20,
			RunningNotesMaxChars: 200,
			HistoryTurns:         10,
		},
		Maintenance: MaintenanceConfig{
			Enabled: true,
			Cron:    "*/30 * * * *",
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if envErr := env.Parse(cfg); envErr != nil {
				return nil, envErr
			}
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

func (c *Config) WorkspacePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Workspace)
}

func (c *Config) OpenRouterAPIBase() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Providers.OpenRouter.APIBase != "" {
		return c.Providers.OpenRouter.APIBase
	}
	return "https://openrouter.ai/api/v1"
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
