package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// sections are the top-level keys environment variables may address.
var sections = []string{"name", "environment", "version", "logging", "broker", "registry", "gateway", "worker", "whisper", "llm", "metrics"}

type loaderConfig struct {
	configFile string
	envFile    string
}

// LoaderOption is a functional option for Load.
type LoaderOption func(*loaderConfig)

// WithConfigFile sets an explicit YAML file instead of searching for one.
func WithConfigFile(path string) LoaderOption {
	return func(lc *loaderConfig) { lc.configFile = path }
}

// WithEnvFile sets an explicit .env file instead of searching for one.
func WithEnvFile(path string) LoaderOption {
	return func(lc *loaderConfig) { lc.envFile = path }
}

// Load reads the configuration of service, applies defaults and validates it.
//
// Sources, later wins: config.yml, .env, process environment. Environment
// keys map onto nested keys by underscores, so BROKER_URL sets broker.url and
// WORKER_RATE_LIMIT sets worker.rate_limit.
func Load(service string, opts ...LoaderOption) (*Config, error) {
	var lc loaderConfig
	for _, o := range opts {
		o(&lc)
	}
	if lc.configFile == "" {
		lc.configFile = findFile(configSearchPaths(service))
	}
	if lc.envFile == "" {
		lc.envFile = findFile([]string{".env." + service, ".env", "cmd/" + service + "/.env"})
	}

	v := viper.New()
	v.SetDefault("gateway.fallback", true)

	if lc.configFile != "" {
		v.SetConfigFile(lc.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", lc.configFile, err)
		}
	}

	// godotenv never overrides variables already set in the process.
	if lc.envFile != "" {
		if err := godotenv.Load(lc.envFile); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", lc.envFile, err)
		}
	}
	bindEnv(v, os.Environ())

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config for %s: %w", service, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func configSearchPaths(service string) []string {
	return []string{
		fmt.Sprintf("./cmd/%s/config.yml", service),
		"./config/config.yml",
		"./config.yml",
	}
}

func findFile(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// bindEnv sets every environment variable addressing a known section under
// each nested key it may stand for.
func bindEnv(v *viper.Viper, environ []string) {
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !knownSection(key) {
			continue
		}
		for _, variant := range envKeyVariants(key) {
			v.Set(variant, value)
		}
	}
}

func knownSection(envKey string) bool {
	lower := strings.ToLower(envKey)
	for _, s := range sections {
		if lower == s || strings.HasPrefix(lower, s+"_") {
			return true
		}
	}
	return false
}

// envKeyVariants lists the dotted keys an environment variable may address:
//
//	BROKER_ASR_QUEUE -> broker.asr_queue, broker.asr.queue
//
// Setting unused variants is harmless; Unmarshal reads only struct keys.
func envKeyVariants(envKey string) []string {
	parts := strings.Split(strings.ToLower(envKey), "_")
	if len(parts) == 1 {
		return parts
	}
	seen := make(map[string]bool)
	var out []string
	add := func(k string) {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	for i := 1; i < len(parts); i++ {
		add(strings.Join(parts[:i], ".") + "." + strings.Join(parts[i:], "_"))
	}
	add(strings.Join(parts, "."))
	return out
}
