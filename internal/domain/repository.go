package domain

import (
	"context"
	"time"
)

// Repository defines the interface for warehouse persistence. The core
// pipeline owns no state; everything durable goes through here.
type Repository interface {
	// Transaction operations
	SaveTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)

	// Analysis results
	SaveAnalysis(ctx context.Context, result *AnalysisResult) error
	GetAnalysis(ctx context.Context, analysisID string) (*AnalysisResult, error)
	GetAnalysisByTransaction(ctx context.Context, txID string) (*AnalysisResult, error)

	// Alerts
	SaveAlert(ctx context.Context, alert *Alert) error
	UpdateAlertStatus(ctx context.Context, alertID string, status AlertStatus) error
	GetAlert(ctx context.Context, alertID string) (*Alert, error)
	ListAlerts(ctx context.Context, severity Severity, since time.Time, limit int) ([]*Alert, error)

	// Flag rule configuration
	SaveFlagRule(ctx context.Context, rule *FlagRule) error
	GetFlagRule(ctx context.Context, ruleID string) (*FlagRule, error)
	ListFlagRules(ctx context.Context) ([]*FlagRule, error)

	// Reports
	SaveReport(ctx context.Context, report *Report) error
	GetReport(ctx context.Context, reportID string) (*Report, error)

	// Aggregates for report generation
	AnalysisAggregates(ctx context.Context, since, until time.Time) (*AnalysisAggregates, error)
	AlertCountsBySeverity(ctx context.Context, since, until time.Time) (map[Severity]int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// AnalysisAggregates holds warehouse-side rollups for reporting.
type AnalysisAggregates struct {
	Total     int64
	Flagged   int64
	HighRisk  int64 // risk_score >= 0.8
	AvgRisk   float64
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
