package llm

import (
	"fmt"
	"strings"
	"time"

	"hearth/internal/domain"
	"hearth/internal/retry"
)

// defaultCooldownDuration is the time a rate-limited key stays in cooldown.
const defaultCooldownDuration = 60 * time.Second

// SecretGetter returns a secret by name (e.g. "openai_api_key"). Used to resolve API keys.
type SecretGetter func(name string) (string, error)

// BuildService assembles the provider registry from configuration. The local
// provider is always available; ollama is configured from its host/model;
// openai joins only when an API key is stored. The configured default must
// name a provider that actually got built.
// retryCfg, if non-nil, wraps the hosted providers with stream-start retry.
func BuildService(cfg domain.ProvidersConfig, getSecret SecretGetter, retryCfg ...*domain.RetryConfig) (*Service, error) {
	svc := NewService()
	svc.Add(NewLocalProvider(""))
	svc.Add(wrapWithRetry(NewOllamaProvider(cfg.Ollama.Host, cfg.Ollama.Model), retryCfg...))

	openai, err := newOpenAIFromSecret(cfg.OpenAI, getSecret)
	if err == nil {
		svc.Add(wrapWithRetry(openai, retryCfg...))
	}

	def := cfg.Default
	if def == "" {
		def = "ollama"
	}
	if serr := svc.SetDefault(def); serr != nil {
		if err != nil {
			return nil, fmt.Errorf("default provider %q unavailable: %w", def, err)
		}
		return nil, serr
	}
	return svc, nil
}

// newOpenAIFromSecret resolves the API key and builds the openai provider.
// When the secret contains comma-separated keys, a KeyPoolProvider is created
// with round-robin rotation and 429-cooldown support.
func newOpenAIFromSecret(cfg domain.OpenAIConfig, getSecret SecretGetter) (domain.Provider, error) {
	if getSecret == nil {
		return nil, fmt.Errorf("openai provider: no secrets store available")
	}
	raw, err := getSecret("openai_api_key")
	if err != nil {
		return nil, err
	}
	keys := splitKeys(raw)
	if len(keys) == 0 {
		return nil, fmt.Errorf("openai provider: API key not set (store with: hearth secrets set openai_api_key <key>)")
	}

	makeProvider := func(key string) domain.Provider {
		p := NewOpenAIProvider(key, cfg.Model)
		if cfg.BaseURL != "" {
			p.baseURL = strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions"
		}
		return p
	}

	if len(keys) == 1 {
		return makeProvider(keys[0]), nil
	}
	pool, err := newKeyPoolFunc(keys, defaultCooldownDuration)
	if err != nil {
		return nil, fmt.Errorf("openai key pool: %w", err)
	}
	providers := make([]domain.Provider, len(keys))
	for i, k := range keys {
		providers[i] = makeProvider(k)
	}
	return NewKeyPoolProvider(pool, providers)
}

// splitKeys splits a raw secret value by commas, trims whitespace, and filters empty entries.
func splitKeys(raw string) []string {
	parts := strings.Split(raw, ",")
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			keys = append(keys, trimmed)
		}
	}
	return keys
}

// newKeyPoolFunc is the KeyPool constructor. Package-level var for test injection.
var newKeyPoolFunc = NewKeyPool

// wrapWithRetry decorates a provider with retry logic when config is supplied.
func wrapWithRetry(provider domain.Provider, retryCfg ...*domain.RetryConfig) domain.Provider {
	if len(retryCfg) == 0 || retryCfg[0] == nil || retryCfg[0].MaxRetries <= 0 {
		return provider
	}
	rc := retryCfg[0]
	cfg := retry.Config{
		MaxRetries:     rc.MaxRetries,
		InitialBackoff: time.Duration(rc.InitialBackoff) * time.Millisecond,
		MaxBackoff:     time.Duration(rc.MaxBackoff) * time.Millisecond,
		Multiplier:     float64(rc.Multiplier),
	}
	return retry.NewRetryableProvider(provider, cfg)
}
