// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/AskeFunder/flipper-pro-sub000/internal/backfill"
	"github.com/AskeFunder/flipper-pro-sub000/internal/poller"
	"github.com/AskeFunder/flipper-pro-sub000/internal/scheduler"
	"github.com/AskeFunder/flipper-pro-sub000/internal/storage/postgres"
	"github.com/AskeFunder/flipper-pro-sub000/internal/storage/redis"
	"github.com/AskeFunder/flipper-pro-sub000/pkg/httpserver"
	"github.com/AskeFunder/flipper-pro-sub000/pkg/logger"
)

// -----------------------------------------------------------------------------
// Структуры
// -----------------------------------------------------------------------------

type Config struct {
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`

	Upstream  poller.ClientConfig   `mapstructure:"upstream"`
	Backfill  backfill.Config       `mapstructure:"backfill"`
	Postgres  postgres.Config       `mapstructure:"postgres"`
	Redis     RedisConfig           `mapstructure:"redis"`
	Scheduler scheduler.Config      `mapstructure:"scheduler"`
	Locks     LocksConfig           `mapstructure:"locks"`
	Trend     TrendConfig           `mapstructure:"trend"`
	Telemetry TelemetryConfig       `mapstructure:"telemetry"`
	Logging   logger.Config         `mapstructure:"logging"`
	HTTP      httpserver.Config     `mapstructure:"http"`
}

// RedisConfig — журнал мгновенных цен; выключен, если url пуст.
type RedisConfig struct {
	Enabled bool         `mapstructure:"enabled"`
	History redis.Config `mapstructure:",squash"`
}

type LocksConfig struct {
	Dir string `mapstructure:"dir"`
}

type TrendConfig struct {
	// VerboseAudit включает debug-трассировку каждого шага вычисления.
	VerboseAudit bool `mapstructure:"verbose_audit"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"otel_endpoint"`
	Insecure     bool   `mapstructure:"insecure"`
}

// -----------------------------------------------------------------------------
// Load
// -----------------------------------------------------------------------------

func Load(path string) (*Config, error) {
	v := viper.New()

	/* ---------- 1) defaults ---------- */

	v.SetDefault("service_name", "flipperd")
	v.SetDefault("service_version", "v1.0.0")

	// Upstream
	v.SetDefault("upstream.base_url", "https://prices.runescape.wiki/api/v1/osrs")
	v.SetDefault("upstream.timeout", "15s")

	// Backfill
	v.SetDefault("backfill.request_delay", "2s")

	// Scheduler
	v.SetDefault("scheduler.latest_interval", "60s")
	v.SetDefault("scheduler.latest_retries", 3)
	v.SetDefault("scheduler.chain_wait_poll", "1s")

	// Redis
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.window", 128)
	v.SetDefault("redis.ttl", "168h")

	// Locks
	v.SetDefault("locks.dir", "/var/run/flipperd")

	// Trend
	v.SetDefault("trend.verbose_audit", false)

	// Telemetry
	v.SetDefault("telemetry.otel_endpoint", "otel-collector:4317")
	v.SetDefault("telemetry.insecure", true)

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.dev_mode", false)

	// HTTP
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "15s")
	v.SetDefault("http.idle_timeout", "60s")
	v.SetDefault("http.shutdown_timeout", "5s")
	v.SetDefault("http.metrics_path", "/metrics")
	v.SetDefault("http.healthz_path", "/healthz")
	v.SetDefault("http.readyz_path", "/readyz")

	/* ---------- 2) env ---------- */

	v.SetEnvPrefix("FLIPPER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	/* ---------- 3) optional file ---------- */

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	/* ---------- 4) decode ---------- */

	var cfg Config
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		func(f, t reflect.Kind, data interface{}) (interface{}, error) {
			if f == reflect.String && t == reflect.Bool {
				return strconv.ParseBool(data.(string))
			}
			return data, nil
		},
	)
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:    "mapstructure",
		Result:     &cfg,
		DecodeHook: decodeHook,
	})
	if err != nil {
		return nil, fmt.Errorf("create config decoder: %w", err)
	}
	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	/* ---------- 5) validate ---------- */

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// -----------------------------------------------------------------------------
// Validation
// -----------------------------------------------------------------------------

func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required")
	}
	if c.ServiceVersion == "" {
		return fmt.Errorf("service_version is required")
	}

	if err := c.Upstream.Validate(); err != nil {
		return err
	}
	if err := c.Postgres.Validate(); err != nil {
		return err
	}
	if err := c.Scheduler.Validate(); err != nil {
		return err
	}

	if c.Redis.Enabled && c.Redis.History.URL == "" {
		return fmt.Errorf("redis.url is required when redis.enabled")
	}
	if c.Locks.Dir == "" {
		return fmt.Errorf("locks.dir is required")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error]")
	}

	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	for k, p := range map[string]string{
		"http.metrics_path": c.HTTP.MetricsPath,
		"http.healthz_path": c.HTTP.HealthzPath,
		"http.readyz_path":  c.HTTP.ReadyzPath,
	} {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("%s must start with '/'", k)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Debug print
// -----------------------------------------------------------------------------

func (c *Config) Print() {
	b, _ := json.MarshalIndent(c, "", "  ")
	fmt.Println("Loaded configuration:\n", string(b))
}
