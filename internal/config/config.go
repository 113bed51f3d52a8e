package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"` // "" disables the health service

	Env      string `yaml:"env"` // "dev" | "prod"
	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`

	// Storage
	Backend  string `yaml:"backend"` // "sqlite" | "bolt" | "memory"
	DBPath   string `yaml:"db_path"`
	BoltPath string `yaml:"bolt_path"`

	// Collaborators; an empty URL selects the no-op implementation.
	RelayURL  string `yaml:"relay_url"`
	DoorURL   string `yaml:"door_url"`
	AuthURL   string `yaml:"auth_url"`
	AuthToken string `yaml:"auth_token"`

	// Input ids on the relay controller.
	ExitButtonInput  int `yaml:"exit_button_input"`
	DoorContactInput int `yaml:"door_contact_input"`
	ReserveInput     int `yaml:"reserve_input"`

	// Output channels; -1 disables.
	ExitOutputChannel  int `yaml:"exit_output_channel"`
	GrantOutputChannel int `yaml:"grant_output_channel"`
	AlarmOutputChannel int `yaml:"alarm_output_channel"`

	ExitPulse       time.Duration `yaml:"exit_pulse"`
	ExitGrantWindow time.Duration `yaml:"exit_grant_window"`

	// Authorization
	DedupWindow     time.Duration `yaml:"dedup_window"`
	MaxPending      int           `yaml:"max_pending"`
	AuthAttempts    int           `yaml:"auth_attempts"`
	AuthTimeout     time.Duration `yaml:"auth_timeout"`
	AuthBackoff     time.Duration `yaml:"auth_backoff"`
	MaxErrorPending int           `yaml:"max_error_pending"`

	// Watchdog
	WatchdogInterval time.Duration `yaml:"watchdog_interval"`
	MaxTimeDoorOpen  time.Duration `yaml:"max_time_door_open"`
	SecondAlarm      time.Duration `yaml:"second_alarm"`
	RepeatAlarm      time.Duration `yaml:"repeat_alarm"`
	MinIllegalOpen   time.Duration `yaml:"min_illegal_open"`
	ExitGrace        time.Duration `yaml:"exit_grace"`

	// Audit retention
	AuditRetentionDays int `yaml:"audit_retention_days"` // 0 = keep forever
	PruneIntervalHours int `yaml:"prune_interval_hours"`

	DispatchWorkers int `yaml:"dispatch_workers"`
	DispatchQueue   int `yaml:"dispatch_queue"`
}

func Defaults() Config {
	return Config{
		HTTPAddr: ":8080",
		GRPCAddr: ":9090",
		Env:      "dev",
		LogLevel: "info",

		Backend:  "sqlite",
		DBPath:   "./data/warden.db",
		BoltPath: "./data/warden.bolt",

		ExitButtonInput:  0,
		DoorContactInput: 1,
		ReserveInput:     2,

		ExitOutputChannel:  0,
		GrantOutputChannel: -1,
		AlarmOutputChannel: -1,

		ExitPulse:       time.Second,
		ExitGrantWindow: 3 * time.Second,

		DedupWindow:     5 * time.Second,
		MaxPending:      2,
		AuthAttempts:    3,
		AuthTimeout:     5 * time.Second,
		AuthBackoff:     500 * time.Millisecond,
		MaxErrorPending: 3,

		WatchdogInterval: time.Second,
		MaxTimeDoorOpen:  300 * time.Second,
		SecondAlarm:      15 * time.Minute,
		RepeatAlarm:      60 * time.Minute,
		MinIllegalOpen:   2 * time.Second,
		ExitGrace:        10 * time.Second,

		AuditRetentionDays: 90,
		PruneIntervalHours: 6,

		DispatchWorkers: 4,
		DispatchQueue:   256,
	}
}

// Load reads the YAML file at path (if any) over the defaults and then
// applies WARDEN_* variables on top, so the environment always wins. An
// empty path means environment only.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	c.HTTPAddr = getenvDefault("WARDEN_HTTP_ADDR", c.HTTPAddr)
	if v, ok := os.LookupEnv("WARDEN_GRPC_ADDR"); ok {
		c.GRPCAddr = strings.TrimSpace(v)
	}

	c.Env = strings.ToLower(getenvDefault("WARDEN_ENV", c.Env))
	if c.Env != "dev" && c.Env != "prod" {
		// fail-soft: treat unknown as dev
		c.Env = "dev"
	}
	c.LogLevel = getenvDefault("WARDEN_LOG_LEVEL", c.LogLevel)
	c.LogJSON = getenvBool("WARDEN_LOG_JSON", c.LogJSON || c.Env == "prod")

	c.Backend = strings.ToLower(getenvDefault("WARDEN_BACKEND", c.Backend))
	c.DBPath = getenvDefault("WARDEN_DB_PATH", c.DBPath)
	c.BoltPath = getenvDefault("WARDEN_BOLT_PATH", c.BoltPath)

	c.RelayURL = getenvDefault("WARDEN_RELAY_URL", c.RelayURL)
	c.DoorURL = getenvDefault("WARDEN_DOOR_URL", c.DoorURL)
	c.AuthURL = getenvDefault("WARDEN_AUTH_URL", c.AuthURL)
	c.AuthToken = getenvDefault("WARDEN_AUTH_TOKEN", c.AuthToken)

	c.ExitButtonInput = getenvInt("WARDEN_EXIT_BUTTON_INPUT", c.ExitButtonInput)
	c.DoorContactInput = getenvInt("WARDEN_DOOR_CONTACT_INPUT", c.DoorContactInput)
	c.ReserveInput = getenvInt("WARDEN_RESERVE_INPUT", c.ReserveInput)

	c.ExitOutputChannel = getenvChannel("WARDEN_EXIT_OUTPUT_CHANNEL", c.ExitOutputChannel)
	c.GrantOutputChannel = getenvChannel("WARDEN_GRANT_OUTPUT_CHANNEL", c.GrantOutputChannel)
	c.AlarmOutputChannel = getenvChannel("WARDEN_ALARM_OUTPUT_CHANNEL", c.AlarmOutputChannel)

	c.ExitPulse = getenvDuration("WARDEN_EXIT_PULSE", c.ExitPulse)
	c.ExitGrantWindow = getenvDuration("WARDEN_EXIT_GRANT_WINDOW", c.ExitGrantWindow)

	c.DedupWindow = getenvDuration("WARDEN_DEDUP_WINDOW", c.DedupWindow)
	c.MaxPending = getenvInt("WARDEN_MAX_PENDING", c.MaxPending)
	c.AuthAttempts = getenvInt("WARDEN_AUTH_ATTEMPTS", c.AuthAttempts)
	c.AuthTimeout = getenvDuration("WARDEN_AUTH_TIMEOUT", c.AuthTimeout)
	c.AuthBackoff = getenvDuration("WARDEN_AUTH_BACKOFF", c.AuthBackoff)
	c.MaxErrorPending = getenvInt("WARDEN_MAX_ERROR_PENDING", c.MaxErrorPending)

	c.WatchdogInterval = getenvDuration("WARDEN_WATCHDOG_INTERVAL", c.WatchdogInterval)
	c.MaxTimeDoorOpen = getenvDuration("WARDEN_MAX_TIME_DOOR_OPEN", c.MaxTimeDoorOpen)
	c.SecondAlarm = getenvDuration("WARDEN_SECOND_ALARM", c.SecondAlarm)
	c.RepeatAlarm = getenvDuration("WARDEN_REPEAT_ALARM", c.RepeatAlarm)
	c.MinIllegalOpen = getenvDuration("WARDEN_MIN_ILLEGAL_OPEN", c.MinIllegalOpen)
	c.ExitGrace = getenvDuration("WARDEN_EXIT_GRACE", c.ExitGrace)

	c.AuditRetentionDays = getenvInt("WARDEN_AUDIT_RETENTION_DAYS", c.AuditRetentionDays)
	c.PruneIntervalHours = getenvInt("WARDEN_PRUNE_INTERVAL_HOURS", c.PruneIntervalHours)

	c.DispatchWorkers = getenvInt("WARDEN_DISPATCH_WORKERS", c.DispatchWorkers)
	c.DispatchQueue = getenvInt("WARDEN_DISPATCH_QUEUE", c.DispatchQueue)
}

func (c Config) Validate() error {
	switch c.Backend {
	case "sqlite", "bolt", "memory":
	default:
		return fmt.Errorf("unknown backend %q (want sqlite, bolt or memory)", c.Backend)
	}
	if c.ExitButtonInput < 0 || c.DoorContactInput < 0 || c.ReserveInput < 0 {
		return fmt.Errorf("input ids must not be negative")
	}
	if c.ExitButtonInput == c.DoorContactInput ||
		c.ExitButtonInput == c.ReserveInput ||
		c.DoorContactInput == c.ReserveInput {
		return fmt.Errorf("input ids must be distinct (exit=%d door=%d reserve=%d)",
			c.ExitButtonInput, c.DoorContactInput, c.ReserveInput)
	}
	if c.MaxPending < 1 {
		return fmt.Errorf("max_pending must be at least 1")
	}
	return nil
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// getenvChannel is getenvInt that also accepts -1 (disabled).
func getenvChannel(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < -1 {
		return def
	}
	return n
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return def
	}
	return d
}

func getenvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1"
}
