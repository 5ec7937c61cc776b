// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, Matcher, Logging, Metrics).
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Matcher  MatcherConfig  `yaml:"matcher"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// RateLimit is the per-client request budget per minute; 0 disables it.
	RateLimit int `yaml:"rateLimit"`
	// TrustedProxies lists the addresses or CIDR ranges whose
	// X-Forwarded-For header names the real client.
	TrustedProxies []string `yaml:"trustedProxies"`
}

// PostgresConfig holds connection parameters for the article archive.
// An empty Host disables the archive.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// Enabled reports whether an archive database is configured.
func (p PostgresConfig) Enabled() bool {
	return p.Host != ""
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings. No brokers disables the
// ingest stream.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	InstanceID    string      `yaml:"instanceID"`
	Topics        KafkaTopics `yaml:"topics"`
}

// Enabled reports whether at least one broker is configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// GroupID is the consumer group of this instance: ConsumerGroup suffixed
// with InstanceID, or with the host name when InstanceID is empty. Each
// matcher must read every partition, so no two instances share a group.
func (k KafkaConfig) GroupID() string {
	id := k.InstanceID
	if id == "" {
		id, _ = os.Hostname()
	}
	if id == "" {
		return k.ConsumerGroup
	}
	return k.ConsumerGroup + "-" + id
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	ArticleIngest string `yaml:"articleIngest"`
}

// RedisConfig holds Redis connection and match-cache parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// MatcherConfig fixes the shingle representation of the index and bounds
// request handling.
type MatcherConfig struct {
	ShingleWidth    int           `yaml:"shingleWidth"`
	HashShingles    bool          `yaml:"hashShingles"`
	TopK            int           `yaml:"topK"`
	MaxTextBytes    int           `yaml:"maxTextBytes"`
	MaxBatchBytes   int           `yaml:"maxBatchBytes"`
	ReplayOnStart   bool          `yaml:"replayOnStart"`
	ReplayBatchSize int           `yaml:"replayBatchSize"`
	VerifyTimeout   time.Duration `yaml:"verifyTimeout"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided), applies environment-variable
// overrides and validates the result. Missing values keep their defaults.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings that cannot be defaulted at use sites.
func (c *Config) Validate() error {
	var errs []error
	if c.Matcher.ShingleWidth <= 0 {
		errs = append(errs, fmt.Errorf("matcher.shingleWidth must be positive, got %d", c.Matcher.ShingleWidth))
	}
	if c.Matcher.TopK <= 0 {
		errs = append(errs, fmt.Errorf("matcher.topK must be positive, got %d", c.Matcher.TopK))
	}
	if c.Matcher.MaxTextBytes <= 0 {
		errs = append(errs, fmt.Errorf("matcher.maxTextBytes must be positive, got %d", c.Matcher.MaxTextBytes))
	}
	if c.Matcher.MaxBatchBytes <= 0 {
		errs = append(errs, fmt.Errorf("matcher.maxBatchBytes must be positive, got %d", c.Matcher.MaxBatchBytes))
	}
	for _, p := range c.Server.TrustedProxies {
		if _, err := ParseTrustedProxy(p); err != nil {
			errs = append(errs, fmt.Errorf("server.trustedProxies: %w", err))
		}
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("server.rateLimit must not be negative, got %d", c.Server.RateLimit))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Kafka.Enabled() && c.Kafka.Topics.ArticleIngest == "" {
		errs = append(errs, errors.New("kafka.topics.articleIngest is required when brokers are set"))
	}
	return errors.Join(errs...)
}

// TrustedProxyPrefixes returns TrustedProxies parsed. Entries that do not
// parse are skipped; Validate rejects them at load time.
func (s ServerConfig) TrustedProxyPrefixes() []netip.Prefix {
	prefixes := make([]netip.Prefix, 0, len(s.TrustedProxies))
	for _, p := range s.TrustedProxies {
		if prefix, err := ParseTrustedProxy(p); err == nil {
			prefixes = append(prefixes, prefix)
		}
	}
	return prefixes
}

// ParseTrustedProxy parses a single address or CIDR range.
func ParseTrustedProxy(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("parsing proxy range %q: %w", s, err)
		}
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("parsing proxy address %q: %w", s, err)
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// defaultConfig returns a Config suitable for local development: in-memory
// matching only, with the archive, stream and cache disabled.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Port:            5432,
			Database:        "articlematch",
			User:            "articlematch",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			ConsumerGroup: "articlematch-group",
			Topics: KafkaTopics{
				ArticleIngest: "article-ingest",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Matcher: MatcherConfig{
			ShingleWidth:    10,
			HashShingles:    true,
			TopK:            5,
			MaxTextBytes:    1 << 20,
			MaxBatchBytes:   8 << 20,
			ReplayOnStart:   true,
			ReplayBatchSize: 500,
			VerifyTimeout:   2 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads AM_* environment variables and overrides the
// corresponding config fields. Unparseable numeric values are ignored.
func applyEnvOverrides(cfg *Config) {
	setInt := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setBool := func(name string, dst *bool) {
		if v := os.Getenv(name); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	setString := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	setInt("AM_SERVER_PORT", &cfg.Server.Port)
	setInt("AM_SERVER_RATE_LIMIT", &cfg.Server.RateLimit)
	if v := os.Getenv("AM_SERVER_TRUSTED_PROXIES"); v != "" {
		cfg.Server.TrustedProxies = strings.Split(v, ",")
	}
	setString("AM_POSTGRES_HOST", &cfg.Postgres.Host)
	setInt("AM_POSTGRES_PORT", &cfg.Postgres.Port)
	setString("AM_POSTGRES_DATABASE", &cfg.Postgres.Database)
	setString("AM_POSTGRES_USER", &cfg.Postgres.User)
	setString("AM_POSTGRES_PASSWORD", &cfg.Postgres.Password)
	setString("AM_POSTGRES_SSLMODE", &cfg.Postgres.SSLMode)
	if v := os.Getenv("AM_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	setString("AM_KAFKA_TOPIC_ARTICLE_INGEST", &cfg.Kafka.Topics.ArticleIngest)
	setString("AM_KAFKA_INSTANCE_ID", &cfg.Kafka.InstanceID)
	setBool("AM_REDIS_ENABLED", &cfg.Redis.Enabled)
	setString("AM_REDIS_ADDR", &cfg.Redis.Addr)
	setString("AM_REDIS_PASSWORD", &cfg.Redis.Password)
	setInt("AM_MATCHER_SHINGLE_WIDTH", &cfg.Matcher.ShingleWidth)
	setBool("AM_MATCHER_HASH_SHINGLES", &cfg.Matcher.HashShingles)
	setInt("AM_MATCHER_TOP_K", &cfg.Matcher.TopK)
	setBool("AM_MATCHER_REPLAY_ON_START", &cfg.Matcher.ReplayOnStart)
	setString("AM_LOGGING_LEVEL", &cfg.Logging.Level)
	setString("AM_LOGGING_FORMAT", &cfg.Logging.Format)
	setInt("AM_METRICS_PORT", &cfg.Metrics.Port)
}
