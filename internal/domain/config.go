package domain

import (
	"fmt"
)

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines backend selection
	Tier Tier `json:"tier"`

	// Decision thresholds
	Routing RoutingConfig `json:"routing"`

	// Scoring backends
	Scoring ScoringConfig `json:"scoring"`

	// Notification channels
	Notify NotifyConfig `json:"notify"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Pipeline concurrency
	Pipeline PipelineConfig `json:"pipeline"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds

	// AuthToken is the bearer token required on API routes.
	// Empty disables auth (dev only; Validate rejects it in pro tier).
	AuthToken string `json:"-"`
}

// RoutingConfig holds the escalation and severity thresholds.
type RoutingConfig struct {
	// AIThreshold is the local risk score at or above which a
	// transaction is escalated to the remote scorer.
	AIThreshold float64 `json:"aiThreshold"`

	// EscalateAmount is the amount at or above which escalation
	// happens regardless of local risk.
	EscalateAmount float64 `json:"escalateAmount"`

	// LocalWeight and RemoteWeight combine the two scores when
	// escalation ran. The remote result is trusted more heavily once
	// it has been sought.
	LocalWeight  float64 `json:"localWeight"`
	RemoteWeight float64 `json:"remoteWeight"`
}

// ScoringConfig holds scorer backend settings.
type ScoringConfig struct {
	// ModelPath points at the pre-trained local model artifact (JSON
	// weights). Empty means no local scorer.
	ModelPath string `json:"modelPath"`

	// Remote analysis endpoint settings.
	RemoteURL     string `json:"remoteUrl"`
	RemoteAPIKey  string `json:"-"`
	RemoteTimeout int    `json:"remoteTimeout"` // seconds
}

// NotifyConfig holds notification channel settings.
type NotifyConfig struct {
	EmailEnabled bool     `json:"emailEnabled"`
	SMTPHost     string   `json:"smtpHost"`
	SMTPPort     int      `json:"smtpPort"`
	Sender       string   `json:"sender"`
	Password     string   `json:"-"`
	Recipients   []string `json:"recipients"`

	WebhookEnabled bool   `json:"webhookEnabled"`
	WebhookURL     string `json:"webhookUrl"`

	// CooldownMinutes suppresses repeat alerts for the same
	// transaction within the window.
	CooldownMinutes int `json:"cooldownMinutes"`

	// MaxAlertsPerHour gates the email channel; console and bus are
	// never rate limited.
	MaxAlertsPerHour int `json:"maxAlertsPerHour"`
}

// PipelineConfig holds batch processing settings.
type PipelineConfig struct {
	// BatchConcurrency bounds concurrent transactions in a batch.
	// Kept small to respect remote scorer rate limits.
	BatchConcurrency int `json:"batchConcurrency"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for the community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Routing: RoutingConfig{
			AIThreshold:    0.7,
			EscalateAmount: 5000,
			LocalWeight:    0.3,
			RemoteWeight:   0.7,
		},
		Scoring: ScoringConfig{
			ModelPath:     "./models/fraud_model.json",
			RemoteTimeout: 30,
		},
		Notify: NotifyConfig{
			SMTPPort:         587,
			CooldownMinutes:  5,
			MaxAlertsPerHour: 100,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     300, // 5 minutes
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Pipeline: PipelineConfig{
			BatchConcurrency: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for the pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}

// Validate checks that the configuration is coherent. Errors here are
// fatal at startup; running with broken thresholds would silently
// mis-route every transaction.
func (c *Config) Validate() error {
	if c.Routing.AIThreshold < 0 || c.Routing.AIThreshold > 1 {
		return fmt.Errorf("routing.aiThreshold must be in [0,1], got %v", c.Routing.AIThreshold)
	}
	if c.Routing.EscalateAmount < 0 {
		return fmt.Errorf("routing.escalateAmount must be non-negative, got %v", c.Routing.EscalateAmount)
	}
	sum := c.Routing.LocalWeight + c.Routing.RemoteWeight
	if sum < 0.99 || sum > 1.01 {
		return fmt.Errorf("routing weights must sum to 1.0, got %v", sum)
	}
	if c.Pipeline.BatchConcurrency <= 0 {
		return fmt.Errorf("pipeline.batchConcurrency must be positive, got %d", c.Pipeline.BatchConcurrency)
	}
	if c.Tier == TierPro && c.Server.AuthToken == "" {
		return fmt.Errorf("server auth token is required in pro tier")
	}
	if c.Notify.EmailEnabled {
		if c.Notify.Sender == "" || len(c.Notify.Recipients) == 0 {
			return fmt.Errorf("notify: email enabled but sender or recipients missing")
		}
	}
	if c.Notify.WebhookEnabled && c.Notify.WebhookURL == "" {
		return fmt.Errorf("notify: webhook enabled but url missing")
	}
	return nil
}
