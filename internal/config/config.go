package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration lets yaml values like "1m" or "24h" decode into a duration.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type DatabaseConfig struct {
	Host     string `yaml:"host" env:"DB_HOST,required"`
	Port     int    `yaml:"port" env:"DB_PORT,required"`
	User     string `yaml:"user" env:"DB_USER,required"`
	Password string `yaml:"password" env:"DB_PASSWORD,required"`
	DBName   string `yaml:"dbname" env:"DB_NAME,required"`
	SSLMode  string `yaml:"sslmode" env:"DB_SSLMODE,required"`
}

type Config struct {
	Discord struct {
		Token       string `yaml:"token" env:"DISCORD_TOKEN,required"`
		ClientID    string `yaml:"client_id" env:"DISCORD_CLIENT_ID,required"`
		Permissions int64  `yaml:"-"`
	} `yaml:"discord"`

	Database DatabaseConfig `yaml:"database"`

	Reminders struct {
		EventChannelID    string   `yaml:"event_channel_id"`
		ProposalChannelID string   `yaml:"proposal_channel_id"`
		ErrorChannelID    string   `yaml:"error_channel_id"`
		SweepInterval     Duration `yaml:"sweep_interval"`
		MaxSingleWait     Duration `yaml:"max_single_wait"`
		MinLeadTime       Duration `yaml:"min_lead_time"`
		MaxLeadTime       Duration `yaml:"max_lead_time"`
	} `yaml:"reminders"`
}

func Load() (*Config, error) {
	data, err := os.ReadFile("config.yaml")
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Replace environment variables in the YAML content
	content := string(data)
	for _, env := range os.Environ() {
		pair := strings.SplitN(env, "=", 2)
		if len(pair) != 2 {
			continue
		}
		placeholder := "${" + pair[0] + "}"
		content = strings.ReplaceAll(content, placeholder, pair[1])
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	// Convert DB_PORT from string to int if it's an environment variable
	if portStr := os.Getenv("DB_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT value: %w", err)
		}
		cfg.Database.Port = port
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	r := &c.Reminders
	if r.SweepInterval <= 0 {
		r.SweepInterval = Duration(time.Minute)
	}
	if r.MaxSingleWait <= 0 {
		// Upper bound on a single timer arm; longer waits are chunked.
		r.MaxSingleWait = Duration(24 * time.Hour)
	}
	if r.MinLeadTime <= 0 {
		r.MinLeadTime = Duration(30 * time.Second)
	}
	if r.MaxLeadTime <= 0 {
		r.MaxLeadTime = Duration(365 * 24 * time.Hour)
	}
}
