package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"hearth/internal/domain"
)

// DefaultFile is the config file name looked up in the working directory.
const DefaultFile = "hearth.json"

// marshalIndent and writeFile are used by WriteDefault and Save; tests may replace to force errors.
var (
	marshalIndent = json.MarshalIndent
	writeFile     = os.WriteFile
)

// DefaultPath returns the config path: the HEARTH_CONFIG environment variable
// when set, otherwise hearth.json in the working directory.
func DefaultPath() string {
	if p := os.Getenv("HEARTH_CONFIG"); p != "" {
		return p
	}
	return DefaultFile
}

// WriteDefault writes a default Config to path (e.g. hearth.json). Paths are not created.
func WriteDefault(path string) error {
	cfg := &domain.Config{
		Gateway: domain.GatewayConfig{
			Port: 8080,
		},
		Providers: domain.ProvidersConfig{
			Default: "ollama",
			OpenAI:  domain.OpenAIConfig{Model: "gpt-4o-mini"},
			Ollama:  domain.OllamaConfig{Host: "http://localhost:11434", Model: "llama3.2"},
		},
		Modules: domain.ModulesConfig{
			DataDir:   "data",
			FilesRoot: "sandbox",
		},
		Context: domain.ContextConfig{
			MaxTokens: 8000,
			Encoding:  "cl100k_base",
		},
		Infra: domain.InfraConfig{LogFormat: "text", LogLevel: "info"},
		Retry: domain.RetryConfig{
			MaxRetries:     3,
			InitialBackoff: 500,
			MaxBackoff:     30000,
			Multiplier:     2,
		},
	}
	data, err := marshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return writeFile(path, data, 0644)
}

// Load reads path (e.g. hearth.json), unmarshals into domain.Config, and cleans
// all path fields to mitigate path traversal. Returns error if file is missing or invalid JSON.
func Load(path string) (*domain.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	var c domain.Config
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config parse: %w", err)
	}
	CleanPaths(&c)
	return &c, nil
}

// CleanPaths applies filepath.Clean to all path fields in cfg to prevent path traversal.
func CleanPaths(cfg *domain.Config) {
	if cfg == nil {
		return
	}
	cfg.Modules.DataDir = filepath.Clean(cfg.Modules.DataDir)
	cfg.Modules.FilesRoot = filepath.Clean(cfg.Modules.FilesRoot)
	if cfg.Modules.SeedVocab != "" {
		cfg.Modules.SeedVocab = filepath.Clean(cfg.Modules.SeedVocab)
	}
}

// Save writes cfg to path as JSON (so runtime edits like module disables persist).
func Save(path string, cfg *domain.Config) error {
	if cfg == nil {
		return fmt.Errorf("config save: nil config")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("config save mkdir: %w", err)
	}
	data, err := marshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config save marshal: %w", err)
	}
	if err := writeFile(path, data, 0644); err != nil {
		return fmt.Errorf("config save write: %w", err)
	}
	return nil
}
