package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the coordination service configuration
type Config struct {
	Server struct {
		Port int `koanf:"port"`
	} `koanf:"server"`

	Database struct {
		URL string `koanf:"url"`
	} `koanf:"database"`

	Coordination struct {
		UrgencyWindowMinutes int `koanf:"urgency_window_minutes"`
	} `koanf:"coordination"`

	Jobs struct {
		Enabled              bool `koanf:"enabled"`
		MaxWorkers           int  `koanf:"max_workers"`
		SweepIntervalMinutes int  `koanf:"sweep_interval_minutes"`
	} `koanf:"jobs"`
}

// UrgencyWindow returns the configured urgency window as a duration.
func (c *Config) UrgencyWindow() time.Duration {
	return time.Duration(c.Coordination.UrgencyWindowMinutes) * time.Minute
}

// SweepInterval returns the overdue-response sweep period.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Jobs.SweepIntervalMinutes) * time.Minute
}

// LoadConfig loads the configuration from a file
func LoadConfig(configPath string) (*Config, error) {
	var k = koanf.New(".")

	// Set up default configuration
	k.Load(confmap.Provider(map[string]interface{}{
		"server.port":                         8090,
		"coordination.urgency_window_minutes": 5,
		"jobs.enabled":                        true,
		"jobs.max_workers":                    10,
		"jobs.sweep_interval_minutes":         1,
	}, "."), nil)

	// Load from TOML file if it exists
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		defaultPaths := []string{"./coordd.toml", "$HOME/.coordd.toml"}
		for _, path := range defaultPaths {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	// Load from environment variables with prefix COORD_
	k.Load(env.Provider("COORD_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "COORD_")), "_", ".", -1)
	}), nil)

	// Unmarshal into Config struct
	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	return &config, nil
}

// InitConfig initializes a new configuration file
func InitConfig(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}

	sampleConfig := `# Coordination service configuration

[server]
port = 8090

[database]
# Falls back to DATABASE_URL or the nearest .env when empty.
url = ""

[coordination]
urgency_window_minutes = 5

[jobs]
enabled = true
max_workers = 10
sweep_interval_minutes = 1
`

	return os.WriteFile(configPath, []byte(sampleConfig), 0644)
}

// Validate validates the configuration
func Validate(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", config.Server.Port)
	}
	if config.Coordination.UrgencyWindowMinutes <= 0 {
		return fmt.Errorf("urgency window must be positive")
	}
	if config.Jobs.Enabled {
		if config.Jobs.MaxWorkers <= 0 {
			return fmt.Errorf("jobs.max_workers must be positive when jobs are enabled")
		}
		if config.Jobs.SweepIntervalMinutes <= 0 {
			return fmt.Errorf("jobs.sweep_interval_minutes must be positive when jobs are enabled")
		}
	}
	return nil
}
