// Package config loads agent settings from flags, environment and an
// optional config file.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable name, e.g.
// HOSTWATCH_INTERVAL_SECONDS or HOSTWATCH_SINKS_REDIS_ADDR.
const EnvPrefix = "HOSTWATCH"

// Config holds every configurable value for the agent.
type Config struct {
	// Base URL of the ingestion API, e.g. http://localhost:5000
	Endpoint string `mapstructure:"endpoint"`
	// Listen address of the embedded ingestion server. Derived from
	// Endpoint when empty.
	Listen          string `mapstructure:"listen"`
	IntervalSeconds int    `mapstructure:"interval_seconds"`

	Log    LogConfig    `mapstructure:"log"`
	Alert  AlertConfig  `mapstructure:"alert"`
	HTTP   HTTPConfig   `mapstructure:"http"`
	Ingest IngestConfig `mapstructure:"ingest"`
	Sinks  SinksConfig  `mapstructure:"sinks"`
}

// LogConfig configures the console logger and the durable event log.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug|info|warn|error
	Format string `mapstructure:"format"` // json|console
	File   string `mapstructure:"file"`
}

// AlertConfig configures the high CPU notifier of the ingestion server.
type AlertConfig struct {
	WebhookURL string  `mapstructure:"webhook_url"`
	Threshold  float64 `mapstructure:"threshold"`
}

// HTTPConfig applies to every outbound HTTP client.
type HTTPConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	// Retries is the number of extra attempts of a failed post to the
	// ingestion API within one cycle.
	Retries      int           `mapstructure:"retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

// IngestConfig toggles the embedded ingestion server.
type IngestConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// SinksConfig enables the optional output sinks. A sink is enabled when
// its address is set.
type SinksConfig struct {
	Stdout    bool            `mapstructure:"stdout"`
	Redis     RedisConfig     `mapstructure:"redis"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	S3        S3Config        `mapstructure:"s3"`
}

type RedisConfig struct {
	Addr    string `mapstructure:"addr"`
	Channel string `mapstructure:"channel"`
}

type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type WebSocketConfig struct {
	URL string `mapstructure:"url"`
}

type S3Config struct {
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
}

// Interval returns the sampling interval as a duration.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// Load reads configuration from (in decreasing priority):
//  1. command-line flags in args
//  2. environment variables prefixed with HOSTWATCH_
//  3. the file given by --config, or ./configs/config.* and ./config.* if present
//  4. defaults
func Load(args []string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	fs := pflag.NewFlagSet("hostwatch", pflag.ContinueOnError)
	configFile := fs.String("config", "", "path to a config file")
	fs.String("endpoint", "", "base URL of the ingestion API")
	fs.Int("interval", 0, "sampling interval in seconds")
	fs.String("listen", "", "listen address of the ingestion server")
	fs.String("log-level", "", "log level (debug|info|warn|error)")
	fs.String("log-format", "", "log format (json|console)")
	fs.String("log-file", "", "path of the durable event log")
	fs.String("webhook", "", "alert webhook URL")
	fs.Bool("no-ingest", false, "do not start the ingestion server")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	for key, flag := range map[string]string{
		"endpoint":          "endpoint",
		"interval_seconds":  "interval",
		"listen":            "listen",
		"log.level":         "log-level",
		"log.format":        "log-format",
		"log.file":          "log-file",
		"alert.webhook_url": "webhook",
	} {
		if fs.Changed(flag) {
			if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", flag, err)
			}
		}
	}
	if noIngest, _ := fs.GetBool("no-ingest"); noIngest {
		v.Set("ingest.enabled", false)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if *configFile != "" {
		v.SetConfigFile(*configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("cannot read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("cannot read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("cannot decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("endpoint", "http://localhost:5000")
	v.SetDefault("listen", "")
	v.SetDefault("interval_seconds", 5)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "system_metrics_log.txt")
	v.SetDefault("alert.webhook_url", "")
	v.SetDefault("alert.threshold", 80.0)
	v.SetDefault("http.timeout", 10*time.Second)
	v.SetDefault("http.retries", 0)
	v.SetDefault("http.retry_backoff", time.Second)
	v.SetDefault("ingest.enabled", true)
	v.SetDefault("sinks.stdout", false)
	v.SetDefault("sinks.redis.addr", "")
	v.SetDefault("sinks.redis.channel", "hostwatch.metrics")
	v.SetDefault("sinks.nats.url", "")
	v.SetDefault("sinks.nats.subject", "hostwatch.metrics")
	v.SetDefault("sinks.kafka.brokers", []string{})
	v.SetDefault("sinks.kafka.topic", "hostwatch-metrics")
	v.SetDefault("sinks.websocket.url", "")
	v.SetDefault("sinks.s3.bucket", "")
	v.SetDefault("sinks.s3.prefix", "hostwatch")
	v.SetDefault("sinks.s3.region", "us-east-1")
	v.SetDefault("sinks.s3.endpoint", "")
}

func (c *Config) validate() error {
	u, err := url.Parse(c.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("endpoint must be an absolute URL, got %q", c.Endpoint)
	}
	c.Endpoint = strings.TrimRight(c.Endpoint, "/")
	if c.IntervalSeconds <= 0 {
		return fmt.Errorf("interval_seconds must be positive, got %d", c.IntervalSeconds)
	}
	if c.Alert.Threshold < 0 || c.Alert.Threshold > 100 {
		return fmt.Errorf("alert.threshold must be within [0, 100], got %v", c.Alert.Threshold)
	}
	if c.Alert.WebhookURL != "" {
		if _, err := url.ParseRequestURI(c.Alert.WebhookURL); err != nil {
			return fmt.Errorf("invalid alert.webhook_url: %w", err)
		}
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be positive, got %s", c.HTTP.Timeout)
	}
	if c.HTTP.Retries < 0 {
		return fmt.Errorf("http.retries must not be negative, got %d", c.HTTP.Retries)
	}
	if c.HTTP.RetryBackoff < 0 {
		return fmt.Errorf("http.retry_backoff must not be negative, got %s", c.HTTP.RetryBackoff)
	}
	if c.Log.File == "" {
		return errors.New("log.file must not be empty")
	}
	if c.Listen == "" {
		c.Listen = listenAddr(u)
	}
	return nil
}

// listenAddr binds all interfaces on the endpoint's port.
func listenAddr(u *url.URL) string {
	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}
	return net.JoinHostPort("", port)
}
