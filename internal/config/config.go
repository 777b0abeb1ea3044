// Package config loads engine configuration from defaults, an optional YAML
// file, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	apperrors "github.com/costnorm/armscan/internal/errors"
)

// Config holds all engine settings.
type Config struct {
	// Analyzer toggles
	Analyzers AnalyzerConfig `mapstructure:"analyzers" yaml:"analyzers"`

	// GitHub configuration
	GitHub GitHubConfig `mapstructure:"github" yaml:"github"`

	// Docker Hub credentials for manifest inspection
	DockerHub DockerHubConfig `mapstructure:"dockerhub" yaml:"dockerhub"`

	// Logging
	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"` // "text" or "json"
}

type AnalyzerConfig struct {
	Infra      bool `mapstructure:"infra" yaml:"infra"`
	Container  bool `mapstructure:"container" yaml:"container"`
	Dependency bool `mapstructure:"dependency" yaml:"dependency"`
}

type GitHubConfig struct {
	Token     string `mapstructure:"token" yaml:"token"`
	RateLimit int    `mapstructure:"rate_limit" yaml:"rate_limit"` // requests per second
}

type DockerHubConfig struct {
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Analyzers: AnalyzerConfig{
			Infra:      true,
			Container:  true,
			Dependency: true,
		},
		GitHub: GitHubConfig{
			RateLimit: 10,
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads configuration from the optional file at path (or the standard
// locations when path is empty), then applies environment overrides.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	cfg := Default()
	v.SetDefault("analyzers", cfg.Analyzers)
	v.SetDefault("github", cfg.GitHub)
	v.SetDefault("dockerhub", cfg.DockerHub)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)

	v.SetEnvPrefix("ARMSCAN")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".armscan")
		v.AddConfigPath(".")
		if homeDir, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".armscan"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Missing config file is fine, defaults apply.
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if cfg.GitHub.Token == "" {
		cfg.GitHub.Token = tokenFromKeyring()
	}

	return cfg, nil
}

// loadEnvFiles loads .env files in order of precedence.
func loadEnvFiles() {
	for _, file := range []string{".env.local", ".env"} {
		if _, err := os.Stat(file); err == nil {
			godotenv.Load(file)
		}
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		homeEnvFile := filepath.Join(homeDir, ".armscan", ".env")
		if _, err := os.Stat(homeEnvFile); err == nil {
			godotenv.Load(homeEnvFile)
		}
	}
}

func applyEnvOverrides(cfg *Config) error {
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		cfg.GitHub.Token = token
	}
	if rateLimit := os.Getenv("GITHUB_RATE_LIMIT"); rateLimit != "" {
		if rps, err := strconv.Atoi(rateLimit); err == nil {
			cfg.GitHub.RateLimit = rps
		}
	}

	if user := os.Getenv("DOCKERHUB_USERNAME"); user != "" {
		cfg.DockerHub.Username = user
	}
	if pass := os.Getenv("DOCKERHUB_PASSWORD"); pass != "" {
		cfg.DockerHub.Password = pass
	}

	toggles := []struct {
		env    string
		target *bool
	}{
		{"ENABLE_TERRAFORM_ANALYZER", &cfg.Analyzers.Infra},
		{"ENABLE_DOCKER_ANALYZER", &cfg.Analyzers.Container},
		{"ENABLE_DEPENDENCY_ANALYZER", &cfg.Analyzers.Dependency},
	}
	for _, t := range toggles {
		raw := os.Getenv(t.env)
		if raw == "" {
			continue
		}
		val, err := parseBool(raw)
		if err != nil {
			return apperrors.InvalidInputf("%s must be a boolean, got %q", t.env, raw)
		}
		*t.target = val
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = strings.ToLower(level)
	}

	return nil
}

// parseBool accepts only unambiguous boolean spellings.
func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean: %q", raw)
}

// Enabled reports the analyzer toggle map keyed by analyzer id name.
func (c *Config) Enabled() map[string]bool {
	return map[string]bool{
		"infra":      c.Analyzers.Infra,
		"container":  c.Analyzers.Container,
		"dependency": c.Analyzers.Dependency,
	}
}
