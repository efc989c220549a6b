package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

type Config struct {
	DataDir       string `json:"data_dir"`
	LogLevel      string `json:"log_level"`
	ListenAddr    string `json:"listen_addr"`
	MaxConcurrent int    `json:"max_concurrent"`
	Engine        struct {
		Mode           string `json:"mode"` // "rules" or "remote"
		BaseURL        string `json:"base_url"`
		APIKey         string `json:"api_key"`
		Model          string `json:"model"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	} `json:"engine"`
	Prompt struct {
		Encoding  string `json:"encoding"`
		MaxTokens int    `json:"max_tokens"`
	} `json:"prompt"`
	Suggestions struct {
		Schedule string `json:"schedule"`
	} `json:"suggestions"`
}

func defaults() *Config {
	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".stylecore"),
		LogLevel:      "info",
		ListenAddr:    ":8080",
		MaxConcurrent: 4,
	}
	cfg.Engine.Mode = "rules"
	cfg.Engine.BaseURL = "http://localhost:9090"
	cfg.Engine.Model = "stylist-1"
	cfg.Engine.TimeoutSeconds = 30
	cfg.Prompt.Encoding = "cl100k_base"
	cfg.Prompt.MaxTokens = 2000
	cfg.Suggestions.Schedule = "0 8 * * *"
	return cfg
}

// Load reads the config file at path, writing defaults there first if it
// does not exist. Environment variables override file values.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if dataDir := os.Getenv("STYLECORE_DATA_DIR"); dataDir != "" {
		cfg.DataDir = dataDir
	}
	if addr := os.Getenv("STYLECORE_LISTEN_ADDR"); addr != "" {
		cfg.ListenAddr = addr
	}
	if apiKey := os.Getenv("ENGINE_API_KEY"); apiKey != "" {
		cfg.Engine.APIKey = apiKey
	}
	if baseURL := os.Getenv("ENGINE_BASE_URL"); baseURL != "" {
		cfg.Engine.BaseURL = baseURL
	}

	return cfg, nil
}

// Save writes the config as indented JSON, atomically.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// asMap round-trips the config through JSON into a nested map.
func asMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListValues returns the flattened configuration. Secrets are masked
// unless mask is false.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := asMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// GetValue loads the config at path and returns the value for the
// dot-separated key. Secrets are masked.
func GetValue(path, key string) (any, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	flat, err := ListValues(cfg, true)
	if err != nil {
		return nil, err
	}
	val, ok := flat[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return val, nil
}

// SetValue loads the config at path, sets the dot-separated key to the
// given value (parsed as bool or number when possible), and saves.
func SetValue(path, key, value string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	m, err := asMap(cfg)
	if err != nil {
		return err
	}
	flat := Flatten(m)
	if _, ok := flat[key]; !ok {
		return fmt.Errorf("unknown config key: %s", key)
	}
	flat[key] = parseValue(value)

	nested := Unflatten(flat)
	data, err := json.Marshal(nested)
	if err != nil {
		return err
	}
	updated := &Config{}
	if err := json.Unmarshal(data, updated); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return Save(path, updated)
}

// parseValue converts CLI strings to typed values where possible.
func parseValue(s string) any {
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n
	}
	return s
}
