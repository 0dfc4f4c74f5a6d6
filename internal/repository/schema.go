package repository

// Schema definitions for the Kestrel warehouse.
// Compatible with both SQLite and PostgreSQL.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    amount REAL NOT NULL,
    timestamp TEXT NOT NULL,
    features TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_created ON transactions(created_at);
`

const schemaAnalyses = `
CREATE TABLE IF NOT EXISTS analyses (
    id TEXT PRIMARY KEY,
    tx_id TEXT NOT NULL,
    risk_score REAL NOT NULL,
    method TEXT NOT NULL,
    fraud_indicators TEXT,
    recommendations TEXT,
    summary TEXT,
    local_risk REAL NOT NULL DEFAULT 0,
    remote_risk REAL NOT NULL DEFAULT 0,
    routing_reason TEXT,
    flagged INTEGER NOT NULL DEFAULT 0,
    risk_flags TEXT,
    created_at TIMESTAMP NOT NULL,
    process_ms INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_analyses_tx ON analyses(tx_id);
CREATE INDEX IF NOT EXISTS idx_analyses_created ON analyses(created_at);
CREATE INDEX IF NOT EXISTS idx_analyses_flagged ON analyses(flagged, created_at);
`

const schemaAlerts = `
CREATE TABLE IF NOT EXISTS alerts (
    id TEXT PRIMARY KEY,
    tx_id TEXT NOT NULL,
    severity TEXT NOT NULL,
    channels TEXT NOT NULL,
    status TEXT NOT NULL,
    risk_score REAL NOT NULL,
    amount REAL NOT NULL,
    summary TEXT,
    fraud_indicators TEXT,
    recommendations TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alerts_tx ON alerts(tx_id);
CREATE INDEX IF NOT EXISTS idx_alerts_severity ON alerts(severity, created_at);
CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts(created_at);
`

const schemaFlagRules = `
CREATE TABLE IF NOT EXISTS flag_rules (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    score REAL NOT NULL,
    reason TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_flag_rules_enabled ON flag_rules(enabled);
`

const schemaReports = `
CREATE TABLE IF NOT EXISTS reports (
    id TEXT PRIMARY KEY,
    window_start TIMESTAMP NOT NULL,
    window_end TIMESTAMP NOT NULL,
    total_analyzed INTEGER NOT NULL,
    total_flagged INTEGER NOT NULL,
    average_risk REAL NOT NULL,
    high_risk_count INTEGER NOT NULL,
    alert_counts TEXT NOT NULL,
    flagging_rate REAL NOT NULL,
    generated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reports_window ON reports(window_start, window_end);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaAnalyses,
		schemaAlerts,
		schemaFlagRules,
		schemaReports,
	}
}
