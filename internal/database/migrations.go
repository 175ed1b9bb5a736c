package database

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    account_type TEXT NOT NULL,
    credentials_json TEXT NOT NULL DEFAULT '',
    connected BOOLEAN DEFAULT false,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS routing_rules (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    source_account_id INTEGER NOT NULL,
    destination_account_id INTEGER NOT NULL,
    source_filter_json TEXT NOT NULL,
    destination_config_json TEXT NOT NULL,
    forwarding_type TEXT NOT NULL DEFAULT 'instant',
    interval_minutes INTEGER DEFAULT 5,
    enabled BOOLEAN DEFAULT true,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS message_logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    rule_id INTEGER NOT NULL,
    source_account_id INTEGER NOT NULL,
    source_id TEXT NOT NULL,
    sender_name TEXT NOT NULL DEFAULT '',
    content_excerpt TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    batch_id TEXT NOT NULL DEFAULT '',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_rules_source ON routing_rules(source_account_id);
CREATE INDEX IF NOT EXISTS idx_rules_enabled ON routing_rules(enabled);
CREATE INDEX IF NOT EXISTS idx_logs_rule ON message_logs(rule_id);
CREATE INDEX IF NOT EXISTS idx_logs_status ON message_logs(status);
`
