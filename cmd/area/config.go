package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
)

// Config holds all area server configuration.
// Priority: flags > env vars > .env > settings.json > defaults.
type Config struct {
	DBPath     string `mapstructure:"db_path"`
	LogLevel   string `mapstructure:"log_level"`
	LogFormat  string `mapstructure:"log_format"`
	ListenAddr string `mapstructure:"listen_addr"`
	Timezone   string `mapstructure:"timezone"`

	TickInterval     time.Duration `mapstructure:"tick_interval"`
	PoolSize         int           `mapstructure:"pool_size"`
	ReactionTimeout  time.Duration `mapstructure:"reaction_timeout"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	LeaseTTL         time.Duration `mapstructure:"lease_ttl"`
	HistoryRetention time.Duration `mapstructure:"history_retention"`

	RedisURL    string `mapstructure:"redis_url"`
	RedisPrefix string `mapstructure:"redis_prefix"`

	VaultPassphrase string `mapstructure:"vault_passphrase"`
	VaultSalt       string `mapstructure:"vault_salt"`

	OtelEndpoint string `mapstructure:"otel_endpoint"`
	OtelInsecure bool   `mapstructure:"otel_insecure"`
	ServiceName  string `mapstructure:"service_name"`
}

const envPrefix = "AREA_"

func defaultConfig() Config {
	return Config{
		DBPath:           filepath.Join(areaDir(), "area.db"),
		LogLevel:         "info",
		LogFormat:        "json",
		ListenAddr:       ":4200",
		Timezone:         "UTC",
		TickInterval:     time.Second,
		PoolSize:         10,
		ReactionTimeout:  5 * time.Second,
		FailureThreshold: 3,
		LeaseTTL:         30 * time.Second,
		HistoryRetention: 30 * 24 * time.Hour,
		RedisPrefix:      "area:",
		ServiceName:      "area",
	}
}

func areaDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".area"
	}
	return filepath.Join(home, ".area")
}

func settingsPath() string {
	return filepath.Join(areaDir(), "settings.json")
}

// configSources names the files and environment a Config is layered from.
type configSources struct {
	Settings string
	DotEnv   string
	Lookup   func(string) (string, bool)
}

func defaultSources() configSources {
	return configSources{
		Settings: settingsPath(),
		DotEnv:   ".env",
		Lookup:   os.LookupEnv,
	}
}

// loadConfig layers defaults, settings.json, .env and AREA_* variables.
// Missing files are skipped; malformed ones are errors.
func loadConfig(src configSources) (Config, error) {
	cfg := defaultConfig()

	// Layer 2: settings.json.
	if data, err := os.ReadFile(src.Settings); err == nil {
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", src.Settings, err)
		}
		if err := decodeConfig(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("apply %s: %w", src.Settings, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("read %s: %w", src.Settings, err)
	}

	// Layer 3: .env, never exported into the process environment.
	dotenv := map[string]string{}
	if src.DotEnv != "" {
		vals, err := godotenv.Read(src.DotEnv)
		switch {
		case err == nil:
			dotenv = vals
		case !errors.Is(err, os.ErrNotExist):
			return cfg, fmt.Errorf("read %s: %w", src.DotEnv, err)
		}
	}

	// Layer 4: environment variables override .env.
	lookup := src.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	env := map[string]any{}
	for _, key := range configKeys() {
		name := envPrefix + strings.ToUpper(key)
		if v, ok := lookup(name); ok {
			env[key] = v
		} else if v, ok := dotenv[name]; ok {
			env[key] = v
		}
	}
	if err := decodeConfig(env, &cfg); err != nil {
		return cfg, fmt.Errorf("apply environment: %w", err)
	}

	return cfg, nil
}

// decodeConfig overlays raw onto cfg. Durations accept Go duration strings
// and strings are weakly converted to numbers and booleans.
func decodeConfig(raw map[string]any, cfg *Config) error {
	if len(raw) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}

// configKeys lists the mapstructure keys of Config.
func configKeys() []string {
	t := reflect.TypeOf(Config{})
	keys := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		if tag := t.Field(i).Tag.Get("mapstructure"); tag != "" {
			keys = append(keys, tag)
		}
	}
	return keys
}

// Validate rejects configurations the scheduler cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	if c.TickInterval <= 0 {
		errs = append(errs, errors.New("tick_interval must be positive"))
	}
	if c.PoolSize <= 0 {
		errs = append(errs, errors.New("pool_size must be positive"))
	}
	if c.ReactionTimeout <= 0 {
		errs = append(errs, errors.New("reaction_timeout must be positive"))
	}
	if c.FailureThreshold <= 0 {
		errs = append(errs, errors.New("failure_threshold must be positive"))
	}
	if c.LeaseTTL <= 0 {
		errs = append(errs, errors.New("lease_ttl must be positive"))
	}
	if c.HistoryRetention < 0 {
		errs = append(errs, errors.New("history_retention must not be negative"))
	}
	if c.VaultPassphrase != "" && c.VaultSalt == "" {
		errs = append(errs, errors.New("vault_salt is required with vault_passphrase"))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone: %w", err))
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log_format must be json or text, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// configDiff describes what changed between two configurations.
type configDiff struct {
	LogLevelChanged bool
	RestartNeeded   []string // keys that only take effect after a restart
}

// diffConfigs compares configurations key by key. Only log_level is applied
// live.
func diffConfigs(old, new Config) configDiff {
	var d configDiff
	ov, nv := reflect.ValueOf(old), reflect.ValueOf(new)
	t := ov.Type()
	for i := 0; i < t.NumField(); i++ {
		if reflect.DeepEqual(ov.Field(i).Interface(), nv.Field(i).Interface()) {
			continue
		}
		key := t.Field(i).Tag.Get("mapstructure")
		if key == "log_level" {
			d.LogLevelChanged = true
			continue
		}
		d.RestartNeeded = append(d.RestartNeeded, key)
	}
	return d
}
