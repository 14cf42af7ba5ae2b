package repository

// Schema definitions for the Harrier database.
// Compatible with both SQLite and PostgreSQL.

// tx_log mirrors the canonical transaction record bit for bit. Amounts are
// stored as TEXT so decimal values survive a round trip unchanged. The
// (partition, log_offset) primary key is what makes SaveEvent idempotent
// under at-least-once replay.
const schemaTxLog = `
CREATE TABLE IF NOT EXISTS tx_log (
    partition INTEGER NOT NULL,
    log_offset INTEGER NOT NULL,
    step INTEGER NOT NULL,
    type TEXT NOT NULL,
    amount TEXT NOT NULL,
    name_orig TEXT NOT NULL,
    name_dest TEXT NOT NULL,
    is_sar INTEGER NOT NULL DEFAULT 0,
    alert_id INTEGER NOT NULL DEFAULT -1,
    PRIMARY KEY (partition, log_offset)
);

CREATE INDEX IF NOT EXISTS idx_tx_log_orig ON tx_log(name_orig, step);
CREATE INDEX IF NOT EXISTS idx_tx_log_dest ON tx_log(name_dest, step);
`

const schemaCases = `
CREATE TABLE IF NOT EXISTS cases (
    id TEXT PRIMARY KEY,
    entity_id TEXT NOT NULL,
    risk_level TEXT NOT NULL,
    risk_score REAL NOT NULL,
    status TEXT NOT NULL,
    drivers TEXT NOT NULL,
    opened_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    version INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_cases_entity ON cases(entity_id);
CREATE INDEX IF NOT EXISTS idx_cases_status ON cases(status);
CREATE INDEX IF NOT EXISTS idx_cases_level ON cases(risk_level);
`

const schemaCustomerProfiles = `
CREATE TABLE IF NOT EXISTS customer_profiles (
    customer_id TEXT PRIMARY KEY,
    full_name TEXT NOT NULL,
    occupation TEXT,
    annual_income INTEGER NOT NULL DEFAULT 0,
    jurisdiction TEXT,
    jurisdiction_risk REAL NOT NULL DEFAULT 0
);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTxLog,
		schemaCases,
		schemaCustomerProfiles,
	}
}
