// Package config provides configuration management for dlock.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/dlock/dlock/pkg/registry"
)

// Config represents the application configuration.
type Config struct {
	// Registry settings
	Registries map[string]RegistryConfig `mapstructure:"registries"`
	Timeout    time.Duration             `mapstructure:"timeout"`
	Retries    int                       `mapstructure:"retries"`
	Insecure   bool                      `mapstructure:"insecure"`

	// Pin settings
	Concurrency int `mapstructure:"concurrency"`
}

// RegistryConfig contains registry-specific credentials.
type RegistryConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Token    string `mapstructure:"token"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("timeout", "30s")
	v.SetDefault("retries", 3)
	v.SetDefault("concurrency", 4)
	v.SetDefault("insecure", false)

	// Configure viper for environment variables
	v.SetEnvPrefix("DLOCK")
	v.AutomaticEnv()

	v.BindEnv("timeout", "DLOCK_TIMEOUT")
	v.BindEnv("retries", "DLOCK_RETRIES")
	v.BindEnv("concurrency", "DLOCK_CONCURRENCY")
	v.BindEnv("insecure", "DLOCK_INSECURE")

	// Configure config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(".dlock")
		v.SetConfigType("json")
		v.AddConfigPath(homeDir())
		v.AddConfigPath(filepath.Join(homeDir(), ".dlock"))
		v.AddConfigPath(".")
	}

	// Read config file if it exists
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Registries == nil {
		config.Registries = make(map[string]RegistryConfig)
	}

	// Docker Hub credentials from the environment override the config
	// file, so CI systems can inject them without writing files.
	hub := config.Registries["docker.io"]
	if username := firstEnv("DLOCK_REGISTRY_USERNAME", "DOCKER_USERNAME"); username != "" {
		hub.Username = username
	}
	if password := firstEnv("DLOCK_REGISTRY_PASSWORD", "DOCKER_PASSWORD"); password != "" {
		hub.Password = password
	}
	if token := firstEnv("DLOCK_REGISTRY_TOKEN", "DOCKER_TOKEN"); token != "" {
		hub.Token = token
	}
	if hub != (RegistryConfig{}) {
		config.Registries["docker.io"] = hub
	}

	return &config, nil
}

// RegistryConfig builds the client configuration for the registry package.
// Credentials keyed by the Docker Hub aliases are mapped to the hostname
// the distribution API actually lives on.
func (c *Config) RegistryConfig(userAgent string) *registry.Config {
	credentials := make(map[string]registry.Credentials, len(c.Registries))
	for host, rc := range c.Registries {
		creds := registry.Credentials{
			Username: rc.Username,
			Password: rc.Password,
			Token:    rc.Token,
		}
		for _, h := range hostAliases(host) {
			credentials[h] = creds
		}
	}
	return &registry.Config{
		Timeout:     c.Timeout,
		UserAgent:   userAgent,
		Insecure:    c.Insecure,
		Credentials: credentials,
	}
}

// RetryConfig builds the retry policy for registry requests.
func (c *Config) RetryConfig() *registry.RetryConfig {
	retry := registry.DefaultRetryConfig()
	retry.MaxRetries = c.Retries
	return retry
}

// hostAliases expands the user-facing Docker Hub names to the registry
// endpoint hostname.
func hostAliases(host string) []string {
	switch host {
	case "docker.io", "index.docker.io", "registry-1.docker.io":
		return []string{"docker.io", "index.docker.io", "registry-1.docker.io"}
	default:
		return []string{host}
	}
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if value := os.Getenv(name); value != "" {
			return value
		}
	}
	return ""
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp"
	}
	return home
}
