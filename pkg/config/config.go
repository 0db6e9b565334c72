package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	domrepo "ChartSync/internal/domain/repository"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Log         struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" default:"console" validate:"oneof=json console"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"log"`
	Server struct {
		Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		SlowRequest     time.Duration `yaml:"slow_request" default:"1s"`
		CORS            bool          `yaml:"cors" default:"true"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Chart struct {
		Symbol              string        `yaml:"symbol" default:"EURUSD"`
		Timeframe           string        `yaml:"timeframe" default:"1h"`
		RefreshSchedule     string        `yaml:"refresh_schedule" default:"@every 60s" validate:"required"`
		PlaceholderSchedule string        `yaml:"placeholder_schedule" default:"@every 5s" validate:"required"`
		FadeDelay           time.Duration `yaml:"fade_delay" default:"150ms"`
		RequireUpdateHint   bool          `yaml:"require_update_hint" default:"true"`
		PlaceholderWindow   time.Duration `yaml:"placeholder_window" default:"5s"`
	} `yaml:"chart"`
	Resolution struct {
		Cooldown       time.Duration `yaml:"cooldown" default:"700ms"`
		MinBarSpacing  float64       `yaml:"min_bar_spacing" default:"3" validate:"gt=0"`
		MaxBarSpacing  float64       `yaml:"max_bar_spacing" default:"50" validate:"gtfield=MinBarSpacing"`
		CoarsestFloor  float64       `yaml:"coarsest_floor" default:"4" validate:"gt=0"`
		ZoomInAbove    float64       `yaml:"zoom_in_above" default:"32" validate:"gt=0"`
		ZoomOutBelow   float64       `yaml:"zoom_out_below" default:"8" validate:"gt=0,ltfield=ZoomInAbove"`
		InitialSpacing float64       `yaml:"initial_spacing" default:"12" validate:"gt=0"`
	} `yaml:"resolution"`
	Cache struct {
		TTL             time.Duration `yaml:"ttl" default:"10m"`
		MaxEntries      int           `yaml:"max_entries" default:"100" validate:"gte=1"`
		CleanupInterval time.Duration `yaml:"cleanup_interval" default:"1m"`
		Redis           struct {
			Enabled  bool   `yaml:"enabled"`
			Host     string `yaml:"host" default:"localhost"`
			Port     int    `yaml:"port" default:"6379"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix" default:"chartsync"`
		} `yaml:"redis"`
	} `yaml:"cache"`
	Source struct {
		Driver     string `yaml:"driver" default:"clickhouse" validate:"oneof=clickhouse sqlite"`
		SQLitePath string `yaml:"sqlite_path" default:"chartsync.db"`
		InitSchema bool   `yaml:"init_schema"`
	} `yaml:"source"`
	Hub struct {
		SendBuffer   int           `yaml:"send_buffer" default:"32" validate:"gte=1"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		PingInterval time.Duration `yaml:"ping_interval" default:"30s"`
		OpTimeout    time.Duration `yaml:"op_timeout" default:"30s"`
		ZoomBurst    float64       `yaml:"zoom_burst" default:"30" validate:"gt=0"`
		ZoomRate     float64       `yaml:"zoom_rate" default:"30" validate:"gt=0"`
	} `yaml:"hub"`
	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost" validate:"required"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"market" validate:"required"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
	} `yaml:"clickhouse"`
	Kafka struct {
		Enabled     bool     `yaml:"enabled" default:"true"`
		Brokers     []string `yaml:"brokers"`
		Topic       string   `yaml:"topic" default:"candle_updates"`
		Compression string   `yaml:"compression" default:"gzip"`
		Consumer    struct {
			GroupID    string        `yaml:"group_id" default:"chartsync"`
			Workers    int           `yaml:"workers" default:"1" validate:"gte=1"`
			BufferSize int           `yaml:"buffer_size" default:"64"`
			RetryMax   int           `yaml:"retry_max" default:"2"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"50ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"1s"`
		} `yaml:"consumer"`
		Producer struct {
			RequiredAcks    int           `yaml:"required_acks" default:"-1" validate:"oneof=-1 0 1"`
			MaxAttempts     int           `yaml:"max_attempts" default:"3" validate:"gte=1"`
			BatchSize       int           `yaml:"batch_size" default:"1" validate:"gte=1"`
			BatchTimeout    time.Duration `yaml:"batch_timeout" default:"10ms"`
			WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
			AutoCreateTopic bool          `yaml:"auto_create_topic"`
		} `yaml:"producer"`
	} `yaml:"kafka"`
}

// Load reads and parses a YAML configuration file, filling defaults for unset fields.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes raw YAML into a validated Config.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("CHART_SYMBOL"); v != "" {
		c.Chart.Symbol = v
	}
	if v := os.Getenv("CHART_TIMEFRAME"); v != "" {
		c.Chart.Timeframe = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		host, port, ok := strings.Cut(v, ":")
		c.Cache.Redis.Enabled = true
		c.Cache.Redis.Host = host
		if ok {
			if p, err := strconv.Atoi(port); err == nil {
				c.Cache.Redis.Port = p
			}
		}
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("SOURCE_DRIVER"); v != "" {
		c.Source.Driver = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		c.Source.SQLitePath = v
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.Chart.Timeframe != "" && !domrepo.IsValidTimeframe(domrepo.Timeframe(c.Chart.Timeframe)) {
		return fmt.Errorf("chart.timeframe %q is not on the ladder", c.Chart.Timeframe)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Resolution.CoarsestFloor < c.Resolution.MinBarSpacing || c.Resolution.CoarsestFloor > c.Resolution.MaxBarSpacing {
		return fmt.Errorf("resolution.coarsest_floor must be within [min_bar_spacing, max_bar_spacing]")
	}
	return nil
}
