// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package config loads the application configuration from a TOML file,
// environment variables, and defaults, and persists generated secrets
// back to the file.
package config

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/autobrr/qrules/internal/crypto"
	"github.com/autobrr/qrules/internal/domain"
)

const (
	configFileName = "config.toml"
	databaseName   = "qrules.db"
	apiKeyLength   = 32
)

// AppConfig wraps the resolved domain config together with the viper
// instance backing it, so settings can be re-read on file change.
type AppConfig struct {
	Config *domain.Config

	viper      *viper.Viper
	configPath string
	mu         sync.RWMutex
}

// New loads configuration from the given path. The path may be a config
// file or a directory containing one; when empty the default config
// directory is used. A missing config file is created from the default
// template with a freshly generated API key.
func New(configPath string) (*AppConfig, error) {
	c := &AppConfig{
		viper: viper.New(),
	}

	if err := c.resolveConfigPath(configPath); err != nil {
		return nil, err
	}

	c.setDefaults()
	c.bindEnv()

	if err := c.load(); err != nil {
		return nil, err
	}

	if err := c.ensureAPIKey(); err != nil {
		return nil, err
	}

	if err := c.ensureEncryptionSecret(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *AppConfig) resolveConfigPath(configPath string) error {
	if configPath == "" {
		configPath = getDefaultConfigDir()
	}

	info, err := os.Stat(configPath)
	switch {
	case err == nil && info.IsDir():
		c.configPath = filepath.Join(configPath, configFileName)
	case strings.HasSuffix(configPath, ".toml"):
		c.configPath = configPath
	default:
		c.configPath = filepath.Join(configPath, configFileName)
	}

	return nil
}

// getDefaultConfigDir returns the platform config directory. In container
// setups XDG_CONFIG_HOME is typically /config and is used directly.
func getDefaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		if xdg == "/config" {
			return xdg
		}
		return filepath.Join(xdg, "qrules")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "qrules")
}

func (c *AppConfig) setDefaults() {
	c.viper.SetDefault("host", "127.0.0.1")
	c.viper.SetDefault("port", 7575)
	c.viper.SetDefault("baseUrl", "/")
	c.viper.SetDefault("logLevel", "INFO")
	c.viper.SetDefault("logMaxSize", 50)
	c.viper.SetDefault("logMaxBackups", 3)
	c.viper.SetDefault("checkForUpdates", true)
	c.viper.SetDefault("metricsEnabled", false)
	c.viper.SetDefault("metricsHost", "127.0.0.1")
	c.viper.SetDefault("metricsPort", 9074)
	c.viper.SetDefault("rulesScanIntervalSeconds", 30)
	c.viper.SetDefault("rulesActivityRetentionDays", 30)
}

// bindEnv wires QRULES__ environment overrides explicitly so the names
// stay predictable regardless of key casing.
func (c *AppConfig) bindEnv() {
	bindings := map[string]string{
		"host":                       "QRULES__HOST",
		"port":                       "QRULES__PORT",
		"baseUrl":                    "QRULES__BASE_URL",
		"apiKey":                     "QRULES__API_KEY",
		"logLevel":                   "QRULES__LOG_LEVEL",
		"logPath":                    "QRULES__LOG_PATH",
		"dataDir":                    "QRULES__DATA_DIR",
		"databasePath":               "QRULES__DATABASE_PATH",
		"checkForUpdates":            "QRULES__CHECK_FOR_UPDATES",
		"pprofEnabled":               "QRULES__PPROF_ENABLED",
		"metricsEnabled":             "QRULES__METRICS_ENABLED",
		"metricsHost":                "QRULES__METRICS_HOST",
		"metricsPort":                "QRULES__METRICS_PORT",
		"metricsBasicAuthUsers":      "QRULES__METRICS_BASIC_AUTH_USERS",
		"rulesScanIntervalSeconds":   "QRULES__RULES_SCAN_INTERVAL_SECONDS",
		"rulesActivityRetentionDays": "QRULES__RULES_ACTIVITY_RETENTION_DAYS",
		"authDisabled":               "QRULES__AUTH_DISABLED",
	}

	for key, env := range bindings {
		if err := c.viper.BindEnv(key, env); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("failed to bind environment variable")
		}
	}
}

func (c *AppConfig) load() error {
	c.viper.SetConfigFile(c.configPath)
	c.viper.SetConfigType("toml")

	if _, err := os.Stat(c.configPath); os.IsNotExist(err) {
		if err := c.writeDefaultConfig(); err != nil {
			return err
		}
	}

	if err := c.viper.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &domain.Config{}
	if err := c.viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	c.mu.Lock()
	c.Config = cfg
	c.mu.Unlock()

	return nil
}

// ensureAPIKey generates and persists an API key on first run so the API
// is never exposed unauthenticated by accident.
func (c *AppConfig) ensureAPIKey() error {
	c.mu.RLock()
	hasKey := c.Config.APIKey != "" || c.Config.IsAuthDisabled()
	c.mu.RUnlock()
	if hasKey {
		return nil
	}

	key, err := crypto.GenerateSecureToken(apiKeyLength)
	if err != nil {
		return fmt.Errorf("failed to generate API key: %w", err)
	}

	c.mu.Lock()
	c.Config.APIKey = key
	c.mu.Unlock()

	if err := c.persistSetting("apiKey", fmt.Sprintf("apiKey = %q", key)); err != nil {
		log.Warn().Err(err).Msg("failed to persist generated API key; it will rotate on restart")
	}

	return nil
}

// ensureEncryptionSecret generates and persists the secret protecting
// stored instance credentials. Unlike the API key it must never rotate
// silently, so a persist failure is fatal.
func (c *AppConfig) ensureEncryptionSecret() error {
	c.mu.RLock()
	hasSecret := c.Config.EncryptionSecret != ""
	c.mu.RUnlock()
	if hasSecret {
		return nil
	}

	secret, err := crypto.GenerateSecureToken(apiKeyLength)
	if err != nil {
		return fmt.Errorf("failed to generate encryption secret: %w", err)
	}

	c.mu.Lock()
	c.Config.EncryptionSecret = secret
	c.mu.Unlock()

	if err := c.persistSetting("encryptionSecret", fmt.Sprintf("encryptionSecret = %q", secret)); err != nil {
		return fmt.Errorf("failed to persist encryption secret: %w", err)
	}

	return nil
}

// GetEncryptionKey derives the 32-byte AES key for instance credentials
// from the persisted encryption secret.
func (c *AppConfig) GetEncryptionKey() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sum := sha256.Sum256([]byte(c.Config.EncryptionSecret))
	return sum[:]
}

// GetDatabasePath returns the SQLite database location: explicit setting
// first, then dataDir, then next to the config file.
func (c *AppConfig) GetDatabasePath() string {
	if path := c.viper.GetString("databasePath"); path != "" {
		return path
	}
	if dataDir := c.viper.GetString("dataDir"); dataDir != "" {
		return filepath.Join(dataDir, databaseName)
	}
	return filepath.Join(filepath.Dir(c.configPath), databaseName)
}

// ConfigPath returns the resolved config file location.
func (c *AppConfig) ConfigPath() string {
	return c.configPath
}

// Watch re-reads the config file on change and applies the log level
// without a restart. Other settings require a restart and are left alone.
func (c *AppConfig) Watch() {
	c.viper.OnConfigChange(func(event fsnotify.Event) {
		if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}

		cfg := &domain.Config{}
		if err := c.viper.Unmarshal(cfg); err != nil {
			log.Error().Err(err).Msg("failed to reload config after change")
			return
		}

		c.mu.Lock()
		oldLevel := c.Config.LogLevel
		c.Config.LogLevel = cfg.LogLevel
		c.mu.Unlock()

		if oldLevel != cfg.LogLevel {
			if level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel)); err == nil {
				zerolog.SetGlobalLevel(level)
				log.Info().Str("logLevel", cfg.LogLevel).Msg("log level updated from config file")
			} else {
				log.Warn().Str("logLevel", cfg.LogLevel).Msg("ignoring invalid log level from config file")
			}
		}
	})
	c.viper.WatchConfig()
}

func (c *AppConfig) writeDefaultConfig() error {
	if err := os.MkdirAll(filepath.Dir(c.configPath), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(c.configPath, []byte(defaultConfigTemplate), 0o600); err != nil {
		return fmt.Errorf("failed to write default config: %w", err)
	}

	log.Info().Str("path", c.configPath).Msg("created default config file")
	return nil
}

const defaultConfigTemplate = `# config.toml - Auto-generated on first run

# Hostname / IP
# Default: "127.0.0.1"
host = "127.0.0.1"

# Port
# Default: 7575
port = 7575

# Base URL
# Set custom baseUrl eg /qrules/ to serve in subdirectory
# Default: "/"
#baseUrl = "/"

# API key
# Generated on first run when left empty
#apiKey = ""

# Encryption secret for stored instance credentials
# Generated on first run; do not change once instances exist
#encryptionSecret = ""

# Log file path
# If not defined, logs to stdout
# Optional
#logPath = "log/qrules.log"

# Log rotation
# Maximum log file size in megabytes before rotation
# Default: 50
#logMaxSize = 50

# Number of rotated log files to retain (0 keeps all)
# Default: 3
#logMaxBackups = 3

# Log level
# Default: "INFO"
# Options: "ERROR", "DEBUG", "INFO", "WARN", "TRACE"
logLevel = "INFO"

# Database path
# If not defined, the database is created next to this file
# Optional
#databasePath = ""

# Rule engine
# Scheduler wake-up interval in seconds
# Default: 30
#rulesScanIntervalSeconds = 30

# Days of rule activity to retain
# Default: 30
#rulesActivityRetentionDays = 30

# Check GitHub for new releases
# Default: true
#checkForUpdates = true

# Prometheus metrics
# Default: false
#metricsEnabled = false
#metricsHost = "127.0.0.1"
#metricsPort = 9074

# External program allow list
# When set, only executables under these paths may be run by rules
#externalProgramAllowList = []
`
