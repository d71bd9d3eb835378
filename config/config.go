package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/TITAN-Softwork-Solutions/Vigil/core"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g. VIGIL_GENERAL_QUIET
const EnvPrefix = "VIGIL"

// LogDirName is the application directory created under LOCALAPPDATA
const LogDirName = "TITAN-Operative-CE"

// ErrNoConfigPath is returned when LoadConfig is called without a path
var ErrNoConfigPath = errors.New("config path is required")

// Config is the immutable runtime configuration. It is produced once by
// LoadConfig and shared read-only by every component.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Watch     WatchConfig     `mapstructure:"watch"`
	Allowlist AllowlistConfig `mapstructure:"allowlist"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Sinks     SinksConfig     `mapstructure:"sinks"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Storage   StorageConfig   `mapstructure:"storage"`
}

// GeneralConfig holds the settings shared with the desktop build
type GeneralConfig struct {
	Quiet      bool  `mapstructure:"quiet"`
	JSONL      bool  `mapstructure:"jsonl"`
	SuppressMS int64 `mapstructure:"suppress_ms" validate:"gte=0"`
}

// SuppressWindow returns suppress_ms as a duration
func (g GeneralConfig) SuppressWindow() time.Duration {
	return time.Duration(g.SuppressMS) * time.Millisecond
}

// RuleConfig is one protected location entry
type RuleConfig struct {
	Name      string `mapstructure:"name" yaml:"name" validate:"required"`
	Substring string `mapstructure:"substring" yaml:"substring" validate:"required"`
}

// WatchConfig lists the protected locations in priority order.
// ProtectedSubstrings is the legacy unnamed form; it is only used when
// Protected is empty.
type WatchConfig struct {
	Protected           []RuleConfig `mapstructure:"protected" validate:"dive"`
	ProtectedSubstrings []string     `mapstructure:"protected_substrings"`
}

// AllowlistConfig holds the trust allowlists
type AllowlistConfig struct {
	SignerSubjectAllow []string `mapstructure:"signer_subject_allow" yaml:"signer_subject_allow"`
	ProcessNameAllow   []string `mapstructure:"process_name_allow" yaml:"process_name_allow"`
}

// EngineConfig bounds the correlation engine's state
type EngineConfig struct {
	IngressCapacity    int           `mapstructure:"ingress_capacity" validate:"gte=1"`
	ReorderWindow      time.Duration `mapstructure:"reorder_window" validate:"gte=0"`
	DrainLimit         int           `mapstructure:"drain_limit" validate:"gte=0"`
	ProcessCapacity    int           `mapstructure:"process_capacity" validate:"gte=1"`
	ProcessExitGrace   time.Duration `mapstructure:"process_exit_grace" validate:"gte=0"`
	FileObjectCapacity int           `mapstructure:"file_object_capacity" validate:"gte=1"`
	SignatureCacheSize int           `mapstructure:"signature_cache_size" validate:"gte=1"`
	SuppressionCap     int           `mapstructure:"suppression_capacity" validate:"gte=1"`
	VerifyTimeout      time.Duration `mapstructure:"verify_timeout" validate:"gt=0"`
	IdleFlushInterval  time.Duration `mapstructure:"idle_flush_interval" validate:"gt=0"`
	// SignatureTable is an optional YAML or JSON file of recorded signature
	// results keyed by image path
	SignatureTable string `mapstructure:"signature_table"`
}

// SinksConfig configures alert delivery
type SinksConfig struct {
	QueueSize     int           `mapstructure:"queue_size" validate:"gte=1"`
	Workers       int           `mapstructure:"workers" validate:"gte=1,lte=64"`
	RetryAttempts int           `mapstructure:"retry_attempts" validate:"gte=0,lte=10"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff" validate:"gte=0"`
	LogDir        string        `mapstructure:"log_dir"`
	LogMaxSizeMB  int           `mapstructure:"log_max_size_mb" validate:"gte=0"`
	LogMaxBackups int           `mapstructure:"log_max_backups" validate:"gte=0"`
	Webhook       WebhookConfig `mapstructure:"webhook"`
	Redis         RedisConfig   `mapstructure:"redis"`
	SQLite        SQLiteConfig  `mapstructure:"sqlite"`
}

// WebhookConfig enables the HTTP POST sink when URL is set
type WebhookConfig struct {
	URL     string            `mapstructure:"url" validate:"omitempty,url"`
	Timeout time.Duration     `mapstructure:"timeout" validate:"gte=0"`
	Headers map[string]string `mapstructure:"headers"`
}

// RedisConfig enables the PUBLISH sink when Addr is set
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
	Channel  string `mapstructure:"channel"`
}

// SQLiteConfig enables the alert archive sink
type SQLiteConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// NotifyConfig configures desktop notifications
type NotifyConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Command        []string      `mapstructure:"command"`
	PerPIDInterval time.Duration `mapstructure:"per_pid_interval" validate:"gte=0"`
	RatePerMinute  int           `mapstructure:"rate_per_minute" validate:"gte=0"`
}

// MetricsConfig configures the prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// StorageConfig configures the local SQLite database
type StorageConfig struct {
	SQLitePath string `mapstructure:"sqlite_path"`
	DeadLetter bool   `mapstructure:"dead_letter"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.quiet", true)
	v.SetDefault("general.jsonl", true)
	v.SetDefault("general.suppress_ms", 1500)

	v.SetDefault("watch.protected_substrings", []string{})
	v.SetDefault("allowlist.signer_subject_allow", []string{})
	v.SetDefault("allowlist.process_name_allow", []string{})

	v.SetDefault("engine.ingress_capacity", 65536)
	v.SetDefault("engine.reorder_window", time.Duration(0))
	v.SetDefault("engine.drain_limit", 100000)
	v.SetDefault("engine.process_capacity", 32768)
	v.SetDefault("engine.process_exit_grace", 10*time.Second)
	v.SetDefault("engine.file_object_capacity", 131072)
	v.SetDefault("engine.signature_cache_size", 4096)
	v.SetDefault("engine.suppression_capacity", 50000)
	v.SetDefault("engine.verify_timeout", 5*time.Second)
	v.SetDefault("engine.idle_flush_interval", 250*time.Millisecond)
	v.SetDefault("engine.signature_table", "")

	v.SetDefault("sinks.queue_size", 1024)
	v.SetDefault("sinks.workers", 1)
	v.SetDefault("sinks.retry_attempts", 3)
	v.SetDefault("sinks.retry_backoff", 200*time.Millisecond)
	v.SetDefault("sinks.log_dir", "") // Empty = LOCALAPPDATA/TITAN-Operative-CE/logs
	v.SetDefault("sinks.log_max_size_mb", 50)
	v.SetDefault("sinks.log_max_backups", 3)
	v.SetDefault("sinks.webhook.url", "")
	v.SetDefault("sinks.webhook.timeout", 5*time.Second)
	v.SetDefault("sinks.redis.addr", "")
	v.SetDefault("sinks.redis.password", "")
	v.SetDefault("sinks.redis.db", 0)
	v.SetDefault("sinks.redis.channel", "vigil:alerts")
	v.SetDefault("sinks.sqlite.enabled", false)

	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.command", []string{})
	v.SetDefault("notify.per_pid_interval", 30*time.Second)
	v.SetDefault("notify.rate_per_minute", 6)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "127.0.0.1:9464")

	v.SetDefault("storage.sqlite_path", "") // Empty = <log_dir>/vigil.db
	v.SetDefault("storage.dead_letter", false)
}

func loadFromEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("sinks.log_dir", "VIGIL_LOG_DIR")
	_ = v.BindEnv("storage.sqlite_path", "VIGIL_SQLITE_PATH")
}

// LoadConfig reads the config file at path (TOML, YAML or JSON by extension,
// TOML when there is none), applies environment overrides, normalizes and
// validates it.
func LoadConfig(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrNoConfigPath
	}

	v := viper.New()
	setDefaults(v)
	loadFromEnv(v)

	v.SetConfigFile(path)
	if filepath.Ext(path) == "" {
		v.SetConfigType("toml")
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return decode(v)
}

// Default returns the built-in configuration with no rules
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := decode(v)
	if err != nil {
		// defaults are static and always valid
		panic(err)
	}
	return cfg
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	cfg.Normalize()

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	cfg.ResolvePaths()
	return &cfg, nil
}

// Normalize lower-cases every matching input and promotes the legacy
// substring list into named rules. LoadConfig calls it; callers that edit
// a loaded config call it again.
func (c *Config) Normalize() {
	for i := range c.Watch.Protected {
		c.Watch.Protected[i].Name = strings.TrimSpace(c.Watch.Protected[i].Name)
		c.Watch.Protected[i].Substring = strings.ToLower(strings.TrimSpace(c.Watch.Protected[i].Substring))
	}
	c.Watch.ProtectedSubstrings = lowerAll(c.Watch.ProtectedSubstrings)
	c.Allowlist.SignerSubjectAllow = lowerAll(c.Allowlist.SignerSubjectAllow)
	c.Allowlist.ProcessNameAllow = lowerAll(c.Allowlist.ProcessNameAllow)

	if len(c.Watch.Protected) == 0 && len(c.Watch.ProtectedSubstrings) > 0 {
		for _, s := range c.Watch.ProtectedSubstrings {
			c.Watch.Protected = append(c.Watch.Protected, RuleConfig{Name: s, Substring: s})
		}
	}

	c.Sinks.Redis.Channel = strings.TrimSpace(c.Sinks.Redis.Channel)
	if c.Sinks.Redis.Channel == "" {
		c.Sinks.Redis.Channel = "vigil:alerts"
	}
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func validateConfig(config *Config) error {
	validate := validator.New()
	if err := validate.Struct(config); err != nil {
		return err
	}

	if config.Sinks.Webhook.URL != "" {
		u, err := url.Parse(config.Sinks.Webhook.URL)
		if err != nil {
			return fmt.Errorf("invalid webhook url: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("invalid webhook url: scheme must be http or https")
		}
	}

	if config.Sinks.Redis.Addr != "" {
		if _, _, err := net.SplitHostPort(config.Sinks.Redis.Addr); err != nil {
			return fmt.Errorf("invalid redis addr %q: %w", config.Sinks.Redis.Addr, err)
		}
	}

	if config.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(config.Metrics.Listen); err != nil {
			return fmt.Errorf("invalid metrics listen address %q: %w", config.Metrics.Listen, err)
		}
	}

	if config.Notify.Enabled && len(config.Notify.Command) > 0 && strings.TrimSpace(config.Notify.Command[0]) == "" {
		return fmt.Errorf("notify command must start with an executable")
	}

	return nil
}

// ResolvePaths fills in the log directory and SQLite path when not set
func (c *Config) ResolvePaths() {
	if c.Sinks.LogDir == "" {
		c.Sinks.LogDir = DefaultLogDir()
	}
	c.Sinks.LogDir = filepath.Clean(c.Sinks.LogDir)

	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = filepath.Join(c.Sinks.LogDir, "vigil.db")
	} else {
		c.Storage.SQLitePath = filepath.Clean(c.Storage.SQLitePath)
	}
}

// DefaultLogDir is LOCALAPPDATA/TITAN-Operative-CE/logs, or ./logs when
// LOCALAPPDATA is not set
func DefaultLogDir() string {
	if base := os.Getenv("LOCALAPPDATA"); base != "" {
		return filepath.Join(base, LogDirName, "logs")
	}
	return "logs"
}

// Rules returns the protected rules in declaration order
func (c *Config) Rules() []core.ProtectedRule {
	rules := make([]core.ProtectedRule, 0, len(c.Watch.Protected))
	for _, r := range c.Watch.Protected {
		rules = append(rules, core.ProtectedRule{Name: r.Name, Substring: r.Substring})
	}
	return rules
}

// Allow returns the normalized allowlists
func (c *Config) Allow() core.Allowlist {
	return core.NewAllowlist(c.Allowlist.SignerSubjectAllow, c.Allowlist.ProcessNameAllow)
}

// NeedsSQLite reports whether any component uses the SQLite database
func (c *Config) NeedsSQLite() bool {
	return c.Sinks.SQLite.Enabled || c.Storage.DeadLetter
}
