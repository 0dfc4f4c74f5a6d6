// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTransaction stores a transaction.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx.ID == "" {
		return fmt.Errorf("%w: transaction id is required", ErrInvalidInput)
	}

	features, _ := json.Marshal(tx.Features)

	query := `
		INSERT INTO transactions (id, amount, timestamp, features, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			amount = excluded.amount,
			timestamp = excluded.timestamp,
			features = excluded.features
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.Amount, tx.Timestamp, string(features), tx.CreatedAt,
	)
	return err
}

// GetTransaction retrieves a transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	query := `
		SELECT id, amount, timestamp, features, created_at
		FROM transactions
		WHERE id = ?
	`

	var tx domain.Transaction
	var features string

	err := r.db.QueryRowContext(ctx, r.rebind(query), txID).Scan(
		&tx.ID, &tx.Amount, &tx.Timestamp, &features, &tx.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if features != "" {
		json.Unmarshal([]byte(features), &tx.Features)
	}

	return &tx, nil
}

// SaveAnalysis stores an analysis result.
func (r *SQLRepository) SaveAnalysis(ctx context.Context, result *domain.AnalysisResult) error {
	indicators, _ := json.Marshal(result.FraudIndicators)
	recommendations, _ := json.Marshal(result.Recommendations)
	riskFlags, _ := json.Marshal(result.RiskFlags)

	flagged := 0
	if result.Flagged {
		flagged = 1
	}

	query := `
		INSERT INTO analyses (
			id, tx_id, risk_score, method, fraud_indicators, recommendations,
			summary, local_risk, remote_risk, routing_reason, flagged,
			risk_flags, created_at, process_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		result.ID, result.TransactionID, result.RiskScore, string(result.Method),
		string(indicators), string(recommendations),
		result.Summary, result.LocalRisk, result.RemoteRisk, result.RoutingReason,
		flagged, string(riskFlags), result.CreatedAt, result.ProcessMs,
	)
	return err
}

func (r *SQLRepository) scanAnalysis(row *sql.Row) (*domain.AnalysisResult, error) {
	var result domain.AnalysisResult
	var method, indicators, recommendations, riskFlags string
	var flagged int

	err := row.Scan(
		&result.ID, &result.TransactionID, &result.RiskScore, &method,
		&indicators, &recommendations,
		&result.Summary, &result.LocalRisk, &result.RemoteRisk, &result.RoutingReason,
		&flagged, &riskFlags, &result.CreatedAt, &result.ProcessMs,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	result.Method = domain.AnalysisMethod(method)
	result.Flagged = flagged == 1
	json.Unmarshal([]byte(indicators), &result.FraudIndicators)
	json.Unmarshal([]byte(recommendations), &result.Recommendations)
	json.Unmarshal([]byte(riskFlags), &result.RiskFlags)

	return &result, nil
}

const analysisColumns = `id, tx_id, risk_score, method, fraud_indicators, recommendations,
	summary, local_risk, remote_risk, routing_reason, flagged, risk_flags, created_at, process_ms`

// GetAnalysis retrieves an analysis result by ID.
func (r *SQLRepository) GetAnalysis(ctx context.Context, analysisID string) (*domain.AnalysisResult, error) {
	query := `SELECT ` + analysisColumns + ` FROM analyses WHERE id = ?`
	return r.scanAnalysis(r.db.QueryRowContext(ctx, r.rebind(query), analysisID))
}

// GetAnalysisByTransaction retrieves the latest analysis for a transaction.
func (r *SQLRepository) GetAnalysisByTransaction(ctx context.Context, txID string) (*domain.AnalysisResult, error) {
	query := `SELECT ` + analysisColumns + ` FROM analyses WHERE tx_id = ? ORDER BY created_at DESC LIMIT 1`
	return r.scanAnalysis(r.db.QueryRowContext(ctx, r.rebind(query), txID))
}

// SaveAlert stores an alert.
func (r *SQLRepository) SaveAlert(ctx context.Context, alert *domain.Alert) error {
	channels, _ := json.Marshal(alert.Channels)
	indicators, _ := json.Marshal(alert.FraudIndicators)
	recommendations, _ := json.Marshal(alert.Recommendations)

	query := `
		INSERT INTO alerts (
			id, tx_id, severity, channels, status, risk_score, amount,
			summary, fraud_indicators, recommendations, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		alert.ID, alert.TransactionID, string(alert.Severity), string(channels),
		string(alert.Status), alert.RiskScore, alert.Amount,
		alert.Summary, string(indicators), string(recommendations), alert.CreatedAt,
	)
	return err
}

// UpdateAlertStatus advances an alert through the dispatch state machine.
func (r *SQLRepository) UpdateAlertStatus(ctx context.Context, alertID string, status domain.AlertStatus) error {
	query := `UPDATE alerts SET status = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), string(status), alertID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAlertRow(scan func(dest ...any) error) (*domain.Alert, error) {
	var alert domain.Alert
	var severity, channels, status, indicators, recommendations string

	if err := scan(
		&alert.ID, &alert.TransactionID, &severity, &channels, &status,
		&alert.RiskScore, &alert.Amount, &alert.Summary,
		&indicators, &recommendations, &alert.CreatedAt,
	); err != nil {
		return nil, err
	}

	alert.Severity = domain.Severity(severity)
	alert.Status = domain.AlertStatus(status)
	json.Unmarshal([]byte(channels), &alert.Channels)
	json.Unmarshal([]byte(indicators), &alert.FraudIndicators)
	json.Unmarshal([]byte(recommendations), &alert.Recommendations)

	return &alert, nil
}

const alertColumns = `id, tx_id, severity, channels, status, risk_score, amount,
	summary, fraud_indicators, recommendations, created_at`

// GetAlert retrieves an alert by ID.
func (r *SQLRepository) GetAlert(ctx context.Context, alertID string) (*domain.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = ?`

	row := r.db.QueryRowContext(ctx, r.rebind(query), alertID)
	alert, err := scanAlertRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return alert, nil
}

// ListAlerts retrieves alerts, optionally filtered by severity, newest first.
func (r *SQLRepository) ListAlerts(ctx context.Context, severity domain.Severity, since time.Time, limit int) ([]*domain.Alert, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + alertColumns + ` FROM alerts WHERE created_at >= ?`
	args := []any{since}

	if severity != "" {
		query += ` AND severity = ?`
		args = append(args, string(severity))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		alert, err := scanAlertRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}

	return alerts, rows.Err()
}

// SaveFlagRule stores or updates a flag rule.
func (r *SQLRepository) SaveFlagRule(ctx context.Context, rule *domain.FlagRule) error {
	if rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO flag_rules (
			id, name, description, version, expression, score, reason, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			version = excluded.version,
			expression = excluded.expression,
			score = excluded.score,
			reason = excluded.reason,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description, rule.Version,
		rule.Expression, rule.Score, rule.Reason, enabled,
		now, now,
	)
	return err
}

// GetFlagRule retrieves a flag rule by ID.
func (r *SQLRepository) GetFlagRule(ctx context.Context, ruleID string) (*domain.FlagRule, error) {
	query := `
		SELECT id, name, description, version, expression, score, reason, enabled
		FROM flag_rules
		WHERE id = ?
	`

	var rule domain.FlagRule
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), ruleID).Scan(
		&rule.ID, &rule.Name, &rule.Description, &rule.Version,
		&rule.Expression, &rule.Score, &rule.Reason, &enabled,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rule.Enabled = enabled == 1
	return &rule, nil
}

// ListFlagRules retrieves all flag rules, enabled and disabled.
func (r *SQLRepository) ListFlagRules(ctx context.Context) ([]*domain.FlagRule, error) {
	query := `
		SELECT id, name, description, version, expression, score, reason, enabled
		FROM flag_rules
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.FlagRule
	for rows.Next() {
		var rule domain.FlagRule
		var enabled int

		if err := rows.Scan(
			&rule.ID, &rule.Name, &rule.Description, &rule.Version,
			&rule.Expression, &rule.Score, &rule.Reason, &enabled,
		); err != nil {
			return nil, err
		}

		rule.Enabled = enabled == 1
		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}

// SaveReport stores a generated report.
func (r *SQLRepository) SaveReport(ctx context.Context, report *domain.Report) error {
	alertCounts, _ := json.Marshal(report.AlertCounts)

	query := `
		INSERT INTO reports (
			id, window_start, window_end, total_analyzed, total_flagged,
			average_risk, high_risk_count, alert_counts, flagging_rate, generated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		report.ID, report.WindowStart, report.WindowEnd,
		report.TotalAnalyzed, report.TotalFlagged,
		report.AverageRisk, report.HighRiskCount,
		string(alertCounts), report.FlaggingRate, report.GeneratedAt,
	)
	return err
}

// GetReport retrieves a report by ID.
func (r *SQLRepository) GetReport(ctx context.Context, reportID string) (*domain.Report, error) {
	query := `
		SELECT id, window_start, window_end, total_analyzed, total_flagged,
			   average_risk, high_risk_count, alert_counts, flagging_rate, generated_at
		FROM reports
		WHERE id = ?
	`

	var report domain.Report
	var alertCounts string

	err := r.db.QueryRowContext(ctx, r.rebind(query), reportID).Scan(
		&report.ID, &report.WindowStart, &report.WindowEnd,
		&report.TotalAnalyzed, &report.TotalFlagged,
		&report.AverageRisk, &report.HighRiskCount,
		&alertCounts, &report.FlaggingRate, &report.GeneratedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(alertCounts), &report.AlertCounts)
	return &report, nil
}

// AnalysisAggregates computes warehouse rollups for a time window.
func (r *SQLRepository) AnalysisAggregates(ctx context.Context, since, until time.Time) (*domain.AnalysisAggregates, error) {
	query := `
		SELECT COUNT(*),
			   COALESCE(SUM(flagged), 0),
			   COALESCE(SUM(CASE WHEN risk_score >= 0.8 THEN 1 ELSE 0 END), 0),
			   COALESCE(AVG(risk_score), 0)
		FROM analyses
		WHERE created_at >= ? AND created_at < ?
	`

	var agg domain.AnalysisAggregates
	err := r.db.QueryRowContext(ctx, r.rebind(query), since, until).Scan(
		&agg.Total, &agg.Flagged, &agg.HighRisk, &agg.AvgRisk,
	)
	if err != nil {
		return nil, err
	}

	return &agg, nil
}

// AlertCountsBySeverity counts alerts per severity in a time window.
func (r *SQLRepository) AlertCountsBySeverity(ctx context.Context, since, until time.Time) (map[domain.Severity]int64, error) {
	query := `
		SELECT severity, COUNT(*)
		FROM alerts
		WHERE created_at >= ? AND created_at < ?
		GROUP BY severity
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), since, until)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.Severity]int64)
	for rows.Next() {
		var severity string
		var count int64
		if err := rows.Scan(&severity, &count); err != nil {
			return nil, err
		}
		counts[domain.Severity(severity)] = count
	}

	return counts, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
