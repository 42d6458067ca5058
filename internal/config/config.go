package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root tasklane orchestrator configuration.
type Config struct {
	Service       ServiceConfig       `mapstructure:"service"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Orchestration OrchestrationConfig `mapstructure:"orchestration"`
	Analysis      AnalysisConfig      `mapstructure:"analysis"`
	Browser       BrowserConfig       `mapstructure:"browser"`
	Voice         VoiceConfig         `mapstructure:"voice"`
	Runner        RunnerConfig        `mapstructure:"runner"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Tracing       TracingConfig       `mapstructure:"tracing"`
	Streaming     StreamingConfig     `mapstructure:"streaming"`
}

// ServiceConfig contains basic HTTP service configuration.
type ServiceConfig struct {
	Port            int           `mapstructure:"port"`
	AdminPort       int           `mapstructure:"admin_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
}

// AuthConfig controls bearer-token auth on the API surface.
type AuthConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	SkipAuth  bool   `mapstructure:"skip_auth"` // development mode
	JWTSecret string `mapstructure:"jwt_secret"`
}

// PostgresConfig holds the items store connection settings.
type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConnections  int           `mapstructure:"max_connections"`
	IdleConnections int           `mapstructure:"idle_connections"`
	MaxLifetime     time.Duration `mapstructure:"max_lifetime"`
}

// Addr returns a lib/pq connection string.
func (p PostgresConfig) Addr() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode)
}

// RedisConfig holds the call-metadata store connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// OrchestrationConfig tunes the supervisor state machine.
type OrchestrationConfig struct {
	ConfidenceThreshold float64       `mapstructure:"confidence_threshold"`
	MonitorMaxPolls     int           `mapstructure:"monitor_max_polls"`
	MonitorInterval     time.Duration `mapstructure:"monitor_interval"`
	DispatchTimeout     time.Duration `mapstructure:"dispatch_timeout"`
}

// AnalysisConfig points at an optional operator-supplied rule pack.
type AnalysisConfig struct {
	RulesPath string `mapstructure:"rules_path"`
	Watch     bool   `mapstructure:"watch"`
}

// BrowserConfig configures the browser automation cloud client.
type BrowserConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RequestsPerSec float64       `mapstructure:"requests_per_sec"`
}

// VoiceConfig configures the voice-call platform client.
type VoiceConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Token          string        `mapstructure:"token"`
	AssistantID    string        `mapstructure:"assistant_id"`
	PhoneNumberID  string        `mapstructure:"phone_number_id"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RequestsPerSec float64       `mapstructure:"requests_per_sec"`
	MappingTTL     time.Duration `mapstructure:"mapping_ttl"`
}

// RunnerConfig tunes the background orchestration worker pool.
type RunnerConfig struct {
	Workers      int           `mapstructure:"workers"`
	QueueSize    int           `mapstructure:"queue_size"`
	BatchSize    int           `mapstructure:"batch_size"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Production bool   `mapstructure:"production"`
}

// TracingConfig controls OTLP trace export.
type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// StreamingConfig tunes the in-memory event stream.
type StreamingConfig struct {
	RingCapacity int `mapstructure:"ring_capacity"`
}

// Load reads configuration from CONFIG_PATH (default ./config/tasklane.yaml),
// with TASKLANE_* environment overrides. A missing file is not an error; env
// and defaults still apply.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("TASKLANE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/tasklane.yaml"
	}
	v.SetConfigFile(cfgPath)
	if err := v.ReadInConfig(); err != nil {
		if _, missing := err.(viper.ConfigFileNotFoundError); !missing && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", cfgPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.Orchestration.ConfidenceThreshold < 0 || c.Orchestration.ConfidenceThreshold >= 1 {
		return fmt.Errorf("orchestration.confidence_threshold must be in [0,1): got %f", c.Orchestration.ConfidenceThreshold)
	}
	if c.Orchestration.MonitorMaxPolls <= 0 {
		return fmt.Errorf("orchestration.monitor_max_polls must be positive: got %d", c.Orchestration.MonitorMaxPolls)
	}
	if c.Runner.Workers <= 0 {
		return fmt.Errorf("runner.workers must be positive: got %d", c.Runner.Workers)
	}
	if c.Auth.Enabled && !c.Auth.SkipAuth && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required when auth is enabled")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.port", 8080)
	v.SetDefault("service.admin_port", 8081)
	v.SetDefault("service.read_timeout", 10*time.Second)
	v.SetDefault("service.write_timeout", 30*time.Second)
	v.SetDefault("service.graceful_timeout", 15*time.Second)

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.skip_auth", true)

	v.SetDefault("postgres.host", "postgres")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "tasklane")
	v.SetDefault("postgres.password", "tasklane")
	v.SetDefault("postgres.database", "tasklane")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_connections", 25)
	v.SetDefault("postgres.idle_connections", 5)
	v.SetDefault("postgres.max_lifetime", 5*time.Minute)

	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("orchestration.confidence_threshold", 0.6)
	v.SetDefault("orchestration.monitor_max_polls", 30)
	v.SetDefault("orchestration.monitor_interval", 200*time.Millisecond)
	v.SetDefault("orchestration.dispatch_timeout", 2*time.Minute)

	v.SetDefault("analysis.watch", false)

	v.SetDefault("browser.base_url", "https://api.browser-cloud.example.com")
	v.SetDefault("browser.timeout", 60*time.Second)
	v.SetDefault("browser.requests_per_sec", 5)

	v.SetDefault("voice.base_url", "https://api.voice-platform.example.com")
	v.SetDefault("voice.timeout", 30*time.Second)
	v.SetDefault("voice.requests_per_sec", 2)
	v.SetDefault("voice.mapping_ttl", 24*time.Hour)

	v.SetDefault("runner.workers", 4)
	v.SetDefault("runner.queue_size", 64)
	v.SetDefault("runner.batch_size", 50)
	v.SetDefault("runner.poll_interval", 30*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.production", true)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "tasklane-orchestrator")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")

	v.SetDefault("streaming.ring_capacity", 256)
}
