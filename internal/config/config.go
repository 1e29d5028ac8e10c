package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the server configuration
type Config struct {
	Port               string        `yaml:"port"`
	DatabaseURL        string        `yaml:"database_url"`
	TickPeriod         time.Duration `yaml:"tick_period"`
	AutosaveTicks      int           `yaml:"autosave_ticks"`
	StatementCacheSize int           `yaml:"statement_cache_size"`
	QueueSize          int           `yaml:"queue_size"`
	LogBuffer          int           `yaml:"log_buffer"`
	LogLevel           string        `yaml:"log_level"`
	ClientRate         float64       `yaml:"client_rate"`  // inbound frames per second per connection
	ClientBurst        int           `yaml:"client_burst"` // inbound frames allowed in a burst
	SendBuffer         int           `yaml:"send_buffer"`  // queued outbound frames per connection
	SaveWait           time.Duration `yaml:"save_wait"`    // how long a reconnect waits for the previous save
	AdminIDs           []int64       `yaml:"admin_ids"`    // users allowed to stop the server over http
}

// Default returns the configuration used when nothing overrides it
func Default() Config {
	return Config{
		Port:               "3000",
		DatabaseURL:        "scrapyard.db",
		TickPeriod:         5000 * time.Millisecond,
		AutosaveTicks:      12,
		StatementCacheSize: 64,
		QueueSize:          1024,
		LogBuffer:          10000,
		LogLevel:           "info",
		ClientRate:         5,
		ClientBurst:        10,
		SendBuffer:         256,
		SaveWait:           5 * time.Second,
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (skipped if path is empty), then a .env file if one exists, then the
// environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Load .env file if it exists
	// In production, environment variables should be set directly
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overrides fields from environment variables
func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("SCRAPYARD_PORT"); v != "" {
		c.Port = v
	}
	if v := getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := getenv("TICK_PERIOD"); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid TICK_PERIOD: %w", err)
		}
		c.TickPeriod = d
	}
	if v := getenv("SAVE_WAIT"); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid SAVE_WAIT: %w", err)
		}
		c.SaveWait = d
	}
	if v := getenv("ADMIN_IDS"); v != "" {
		ids, err := parseIDs(v)
		if err != nil {
			return fmt.Errorf("invalid ADMIN_IDS: %w", err)
		}
		c.AdminIDs = ids
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"AUTOSAVE_TICKS", &c.AutosaveTicks},
		{"STATEMENT_CACHE_SIZE", &c.StatementCacheSize},
		{"QUEUE_SIZE", &c.QueueSize},
		{"LOG_BUFFER", &c.LogBuffer},
		{"CLIENT_BURST", &c.ClientBurst},
		{"SEND_BUFFER", &c.SendBuffer},
	}
	for _, f := range ints {
		v := getenv(f.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", f.key, err)
		}
		*f.dst = n
	}

	if v := getenv("CLIENT_RATE"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid CLIENT_RATE: %w", err)
		}
		c.ClientRate = r
	}
	return nil
}

// parseDuration accepts Go durations ("5s") or bare milliseconds ("5000")
func parseDuration(v string) (time.Duration, error) {
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(v)
}

// parseIDs reads a comma separated list of user ids
func parseIDs(v string) ([]int64, error) {
	var ids []int64
	for _, field := range strings.Split(v, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Validate rejects settings the server cannot run with
func (c Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("port must be set"))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("database url must be set"))
	}
	if c.TickPeriod <= 0 {
		errs = append(errs, fmt.Errorf("tick period must be positive, got %s", c.TickPeriod))
	}
	if c.AutosaveTicks < 0 {
		errs = append(errs, fmt.Errorf("autosave ticks must not be negative, got %d", c.AutosaveTicks))
	}
	if c.StatementCacheSize <= 0 {
		errs = append(errs, fmt.Errorf("statement cache size must be positive, got %d", c.StatementCacheSize))
	}
	if c.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("queue size must be positive, got %d", c.QueueSize))
	}
	if c.LogBuffer <= 0 {
		errs = append(errs, fmt.Errorf("log buffer must be positive, got %d", c.LogBuffer))
	}
	if c.ClientRate <= 0 || c.ClientBurst <= 0 {
		errs = append(errs, fmt.Errorf("client rate and burst must be positive, got %g/%d", c.ClientRate, c.ClientBurst))
	}
	if c.SendBuffer <= 0 {
		errs = append(errs, fmt.Errorf("send buffer must be positive, got %d", c.SendBuffer))
	}
	if c.SaveWait <= 0 {
		errs = append(errs, fmt.Errorf("save wait must be positive, got %s", c.SaveWait))
	}
	return errors.Join(errs...)
}
