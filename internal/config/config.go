// Package config assembles the router's runtime configuration from the
// environment, with an optional TOML file overriding the tier route table.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"smartrouter/internal/classify"
	"smartrouter/internal/upstream"
)

// Provider holds the reachability settings for one upstream target.
type Provider struct {
	BaseURL string
	APIKey  string
}

// Config is the full deployment configuration surface.
type Config struct {
	Port string

	// Shared-secret bearer auth. When AuthToken is empty the server fails
	// closed unless AllowUnauthenticated is set explicitly.
	AuthToken            string
	AllowUnauthenticated bool

	MaxConcurrent   int
	MaxBodyBytes    int64
	BodyReadTimeout time.Duration
	UpstreamTimeout time.Duration

	// Per-client-IP rate limit; zero disables it.
	RateLimitRPS   float64
	RateLimitBurst int

	Local     Provider
	Anthropic Provider
	ZAI       Provider
	OpenAI    Provider
	Gemini    Provider

	Routes map[classify.Tier]upstream.Route
}

// FromEnv reads the configuration. Unset values fall back to deployment
// defaults; malformed optional values fall back silently, matching how the
// rest of the env surface behaves.
func FromEnv() (Config, error) {
	cfg := Config{
		Port:                 getEnv("PORT", "8811"),
		AuthToken:            strings.TrimSpace(os.Getenv("ROUTER_AUTH_TOKEN")),
		AllowUnauthenticated: ParseBoolEnv("ROUTER_ALLOW_UNAUTHENTICATED", false),
		MaxConcurrent:        ParseIntEnv("MAX_CONCURRENT", 32),
		MaxBodyBytes:         int64(ParseIntEnv("MAX_BODY_BYTES", 1<<20)),
		BodyReadTimeout:      ParseDurationEnv("BODY_READ_TIMEOUT", 15*time.Second),
		UpstreamTimeout:      ParseDurationEnv("UPSTREAM_TIMEOUT", 120*time.Second),
		RateLimitRPS:         ParseFloatEnv("RATE_LIMIT_RPS", 0),
		RateLimitBurst:       ParseIntEnv("RATE_LIMIT_BURST", 0),
		Local: Provider{
			BaseURL: getEnv("LOCAL_BASE_URL", "http://127.0.0.1:11434"),
		},
		Anthropic: Provider{
			BaseURL: getEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
			APIKey:  os.Getenv("ANTHROPIC_API_KEY"),
		},
		ZAI: Provider{
			BaseURL: getEnv("ZAI_BASE_URL", "https://api.z.ai/api/anthropic"),
			APIKey:  os.Getenv("ZAI_API_KEY"),
		},
		OpenAI: Provider{
			BaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com"),
			APIKey:  os.Getenv("OPENAI_API_KEY"),
		},
		Gemini: Provider{
			BaseURL: getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta/openai"),
			APIKey:  os.Getenv("GEMINI_API_KEY"),
		},
		Routes: upstream.DefaultRoutes(),
	}

	if path := strings.TrimSpace(os.Getenv("ROUTER_ROUTES_FILE")); path != "" {
		if err := applyRoutesFile(path, cfg.Routes); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

// routesFile is the TOML shape:
//
//	[tiers.simple]
//	provider = "local"
//	model = "llama3.1:8b"
//	max_tokens = 1024
type routesFile struct {
	Tiers map[string]routeEntry `toml:"tiers"`
}

type routeEntry struct {
	Provider  string `toml:"provider"`
	Model     string `toml:"model"`
	MaxTokens int    `toml:"max_tokens"`
}

func applyRoutesFile(path string, routes map[classify.Tier]upstream.Route) error {
	var file routesFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return fmt.Errorf("invalid routes file %s: %w", path, err)
	}
	for name, entry := range file.Tiers {
		tier, ok := classify.FromModel(name)
		if !ok {
			return fmt.Errorf("routes file %s: unknown tier %q", path, name)
		}
		route := routes[tier]
		if entry.Provider != "" {
			route.Provider = entry.Provider
		}
		if entry.Model != "" {
			route.Model = entry.Model
		}
		if entry.MaxTokens > 0 {
			route.MaxTokens = entry.MaxTokens
		}
		routes[tier] = route
	}
	return nil
}

func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func ParseDurationEnv(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func ParseIntEnv(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func ParseFloatEnv(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return f
}

func ParseBoolEnv(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	switch strings.ToLower(raw) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}
