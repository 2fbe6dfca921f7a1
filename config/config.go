package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Process modes.
const (
	ModeRouter = "router"
	ModeNotify = "notify"
	ModeAll    = "all"
)

type Config struct {
	Listen     string          `mapstructure:"listen"`
	APIVersion string          `mapstructure:"api_version"`
	Mode       string          `mapstructure:"mode"`
	Log        LogConfig       `mapstructure:"log"`
	Redis      RedisConfig     `mapstructure:"redis"`
	Broker     BrokerConfig    `mapstructure:"broker"`
	Directory  DirectoryConfig `mapstructure:"directory"`
	Ledger     LedgerConfig    `mapstructure:"ledger"`
	Notify     NotifyConfig    `mapstructure:"notify"`
	Scheduler  SchedulerConfig `mapstructure:"scheduler"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
	// StreamMaxLen trims topic streams; 0 keeps everything.
	StreamMaxLen int64 `mapstructure:"stream_max_len"`
}

type BrokerConfig struct {
	Group         string        `mapstructure:"group"`
	Consumer      string        `mapstructure:"consumer"`
	Block         time.Duration `mapstructure:"block"`
	ClaimIdle     time.Duration `mapstructure:"claim_idle"`
	MaxDeliveries int64         `mapstructure:"max_deliveries"`
}

type DirectoryConfig struct {
	Hosts    []string      `mapstructure:"hosts"`
	Keyspace string        `mapstructure:"keyspace"`
	LocalDC  string        `mapstructure:"local_dc"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	PageSize int           `mapstructure:"page_size"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type NetworkLedger struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
	MinConns int    `mapstructure:"min_conns"`
}

type LedgerConfig struct {
	Mainnet     NetworkLedger `mapstructure:"mainnet"`
	Testnet     NetworkLedger `mapstructure:"testnet"`
	MetadataTTL time.Duration `mapstructure:"metadata_ttl"`
}

// Networks returns the configured ledgers by network name.
func (l LedgerConfig) Networks() map[string]NetworkLedger {
	out := make(map[string]NetworkLedger)
	if l.Mainnet.DSN != "" {
		out["mainnet"] = l.Mainnet
	}
	if l.Testnet.DSN != "" {
		out["testnet"] = l.Testnet
	}
	return out
}

type NotifyConfig struct {
	ConfirmationFactor int           `mapstructure:"confirmation_factor"`
	Timeout            time.Duration `mapstructure:"timeout"`
	RequestsWarning    float64       `mapstructure:"requests_warning"`
	FailedLimit        int64         `mapstructure:"failed_limit"`
	HeaderSignature    string        `mapstructure:"header_signature"`
}

type SchedulerConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", ":8000")
	v.SetDefault("api_version", "v1")
	v.SetDefault("mode", ModeAll)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.stream_max_len", 0)

	v.SetDefault("broker.group", "webhook-notifier")
	v.SetDefault("broker.consumer", "")
	v.SetDefault("broker.block", 5*time.Second)
	v.SetDefault("broker.claim_idle", time.Minute)
	v.SetDefault("broker.max_deliveries", 10)

	v.SetDefault("directory.hosts", []string{})
	v.SetDefault("directory.keyspace", "webhooks")
	v.SetDefault("directory.local_dc", "")
	v.SetDefault("directory.username", "")
	v.SetDefault("directory.password", "")
	v.SetDefault("directory.page_size", 100)
	v.SetDefault("directory.timeout", 10*time.Second)

	for _, network := range []string{"mainnet", "testnet"} {
		v.SetDefault("ledger."+network+".dsn", "")
		v.SetDefault("ledger."+network+".max_conns", 2)
		v.SetDefault("ledger."+network+".min_conns", 0)
	}
	v.SetDefault("ledger.metadata_ttl", time.Hour)

	v.SetDefault("notify.confirmation_factor", 10)
	v.SetDefault("notify.timeout", 5*time.Second)
	v.SetDefault("notify.requests_warning", 0.95)
	v.SetDefault("notify.failed_limit", 1)
	v.SetDefault("notify.header_signature", "X-Webhook-Signature")

	v.SetDefault("scheduler.enabled", true)
}

// Load reads the optional config file at path, then environment
// overrides such as LEDGER_MAINNET_DSN, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Broker.Consumer == "" {
		if host, err := os.Hostname(); err == nil {
			c.Broker.Consumer = host
		} else {
			c.Broker.Consumer = "webhook-notifier"
		}
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Redis.URL == "" {
		errs = append(errs, errors.New("redis.url is required"))
	}
	if len(c.Directory.Hosts) == 0 {
		errs = append(errs, errors.New("directory.hosts is required"))
	}
	if c.Ledger.Mainnet.DSN == "" {
		errs = append(errs, errors.New("ledger.mainnet.dsn is required"))
	}
	switch c.Mode {
	case ModeRouter, ModeNotify, ModeAll:
	default:
		errs = append(errs, fmt.Errorf("mode must be one of %s, %s, %s: got %q", ModeRouter, ModeNotify, ModeAll, c.Mode))
	}
	if c.Directory.PageSize <= 0 {
		errs = append(errs, errors.New("directory.page_size must be positive"))
	}
	if c.Notify.ConfirmationFactor <= 0 {
		errs = append(errs, errors.New("notify.confirmation_factor must be positive"))
	}
	if c.Notify.RequestsWarning <= 0 || c.Notify.RequestsWarning > 1 {
		errs = append(errs, errors.New("notify.requests_warning must be in (0, 1]"))
	}
	if c.Notify.FailedLimit <= 0 {
		errs = append(errs, errors.New("notify.failed_limit must be positive"))
	}
	if c.Notify.Timeout <= 0 {
		errs = append(errs, errors.New("notify.timeout must be positive"))
	}
	return errors.Join(errs...)
}

// Routes reports whether the process consumes blockchain event topics.
func (c *Config) Routes() bool {
	return c.Mode == ModeRouter || c.Mode == ModeAll
}

// Notifies reports whether the process consumes wbh_event.
func (c *Config) Notifies() bool {
	return c.Mode == ModeNotify || c.Mode == ModeAll
}
