// Copyright 2025 Wisdom Hub Project
//
// Hub configuration
// Defaults, then an optional YAML file, then environment overrides.
// Environment variables use the WISDOMHUB_ prefix with nesting collapsed by
// a double underscore, e.g. WISDOMHUB_TRUST__MAX_DEPTH overrides
// trust.max_depth.

package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Hub roles
const (
	RolePrimary   = "primary"
	RoleSecondary = "secondary"
)

// Config holds all configuration for the hub daemon.
type Config struct {
	Hub struct {
		Role      string `yaml:"role"`       // primary | secondary
		HubID     string `yaml:"hub_id"`     // identity advertised to peers
		PublicURL string `yaml:"public_url"` // identity advertised to peers
	} `yaml:"hub"`

	Server struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"server"`

	Database struct {
		DataDir     string `yaml:"data_dir"`
		CacheSizeMB int    `yaml:"cache_size_mb"`
	} `yaml:"database"`

	Discovery struct {
		PrimaryHubURL        string `yaml:"primary_hub_url"` // upstream for secondary hubs
		HeartbeatIntervalSec int    `yaml:"heartbeat_interval_sec"`
	} `yaml:"discovery"`

	Trust struct {
		MaxDepth          int     `yaml:"max_depth"`
		DampingFactor     float64 `yaml:"damping_factor"`
		MinTrustThreshold float64 `yaml:"min_trust_threshold"`
	} `yaml:"trust"`

	Resources struct {
		WarningThreshold  float64 `yaml:"warning_threshold"`  // percent used
		CriticalThreshold float64 `yaml:"critical_threshold"` // percent used
		CheckIntervalSec  int     `yaml:"check_interval_sec"`
	} `yaml:"resources"`

	Federation struct {
		MaxPeerConcurrency int `yaml:"max_peer_concurrency"`
	} `yaml:"federation"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.Hub.Role = RolePrimary
	cfg.Hub.HubID = "wisdom-hub"
	cfg.Hub.PublicURL = "http://127.0.0.1:8080"
	cfg.Server.ListenAddr = "0.0.0.0:8080"
	cfg.Database.DataDir = "./data"
	cfg.Database.CacheSizeMB = 64
	cfg.Discovery.HeartbeatIntervalSec = 30
	cfg.Trust.MaxDepth = 5
	cfg.Trust.DampingFactor = 0.8
	cfg.Trust.MinTrustThreshold = 0.01
	cfg.Resources.WarningThreshold = 75
	cfg.Resources.CriticalThreshold = 90
	cfg.Resources.CheckIntervalSec = 30
	cfg.Federation.MaxPeerConcurrency = 4
	return cfg
}

// Load reads configuration: defaults, then the YAML file at path (skipped
// when path is empty or missing), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays WISDOMHUB_* variables onto the config.
func (c *Config) applyEnv() {
	c.Hub.Role = getEnv("WISDOMHUB_HUB__ROLE", c.Hub.Role)
	c.Hub.HubID = getEnv("WISDOMHUB_HUB__HUB_ID", c.Hub.HubID)
	c.Hub.PublicURL = getEnv("WISDOMHUB_HUB__PUBLIC_URL", c.Hub.PublicURL)
	c.Server.ListenAddr = getEnv("WISDOMHUB_SERVER__LISTEN_ADDR", c.Server.ListenAddr)
	c.Database.DataDir = getEnv("WISDOMHUB_DATABASE__DATA_DIR", c.Database.DataDir)
	c.Database.CacheSizeMB = getEnvInt("WISDOMHUB_DATABASE__CACHE_SIZE_MB", c.Database.CacheSizeMB)
	c.Discovery.PrimaryHubURL = getEnv("WISDOMHUB_DISCOVERY__PRIMARY_HUB_URL", c.Discovery.PrimaryHubURL)
	c.Discovery.HeartbeatIntervalSec = getEnvInt("WISDOMHUB_DISCOVERY__HEARTBEAT_INTERVAL_SEC", c.Discovery.HeartbeatIntervalSec)
	c.Trust.MaxDepth = getEnvInt("WISDOMHUB_TRUST__MAX_DEPTH", c.Trust.MaxDepth)
	c.Trust.DampingFactor = getEnvFloat("WISDOMHUB_TRUST__DAMPING_FACTOR", c.Trust.DampingFactor)
	c.Trust.MinTrustThreshold = getEnvFloat("WISDOMHUB_TRUST__MIN_TRUST_THRESHOLD", c.Trust.MinTrustThreshold)
	c.Resources.WarningThreshold = getEnvFloat("WISDOMHUB_RESOURCES__WARNING_THRESHOLD", c.Resources.WarningThreshold)
	c.Resources.CriticalThreshold = getEnvFloat("WISDOMHUB_RESOURCES__CRITICAL_THRESHOLD", c.Resources.CriticalThreshold)
	c.Resources.CheckIntervalSec = getEnvInt("WISDOMHUB_RESOURCES__CHECK_INTERVAL_SEC", c.Resources.CheckIntervalSec)
	c.Federation.MaxPeerConcurrency = getEnvInt("WISDOMHUB_FEDERATION__MAX_PEER_CONCURRENCY", c.Federation.MaxPeerConcurrency)
}

// Validate ensures the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Hub.Role != RolePrimary && c.Hub.Role != RoleSecondary {
		return fmt.Errorf("hub.role must be %q or %q, got %q", RolePrimary, RoleSecondary, c.Hub.Role)
	}
	if c.Hub.Role == RoleSecondary && c.Discovery.PrimaryHubURL == "" {
		return fmt.Errorf("discovery.primary_hub_url is required for secondary hubs")
	}
	if c.Hub.HubID == "" {
		return fmt.Errorf("hub.hub_id is required")
	}
	if c.Database.DataDir == "" {
		return fmt.Errorf("database.data_dir is required")
	}
	if c.Trust.MaxDepth < 1 {
		return fmt.Errorf("trust.max_depth must be >= 1")
	}
	if c.Trust.DampingFactor <= 0 || c.Trust.DampingFactor > 1 {
		return fmt.Errorf("trust.damping_factor must be in (0, 1]")
	}
	w, crit := c.Resources.WarningThreshold, c.Resources.CriticalThreshold
	if w <= 0 || crit > 100 || w >= crit {
		return fmt.Errorf("resource thresholds must satisfy 0 < warning < critical <= 100, got %v/%v", w, crit)
	}
	if c.Resources.CheckIntervalSec < 1 {
		return fmt.Errorf("resources.check_interval_sec must be >= 1")
	}
	return nil
}

// getEnv retrieves an environment variable with a fallback.
func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt retrieves an integer environment variable with a fallback.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// getEnvFloat retrieves a float environment variable with a fallback.
func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
