package store

// schema is applied on startup. Everything is keyed by opaque string ids;
// the transactions table is append-only.
const schema = `
CREATE TABLE IF NOT EXISTS workspaces (
	id              TEXT PRIMARY KEY,
	agent_id        TEXT NOT NULL,
	filesystem_path TEXT NOT NULL UNIQUE,
	created_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_workspaces_agent ON workspaces (agent_id);

CREATE TABLE IF NOT EXISTS agents (
	id                TEXT PRIMARY KEY,
	balance           DOUBLE PRECISION NOT NULL DEFAULT 0,
	status            TEXT NOT NULL,
	total_earned      DOUBLE PRECISION NOT NULL DEFAULT 0,
	total_spent       DOUBLE PRECISION NOT NULL DEFAULT 0,
	lineage           JSONB NOT NULL DEFAULT '[]',
	workspace_id      TEXT REFERENCES workspaces (id),
	created_at        TIMESTAMPTZ NOT NULL,
	last_execution_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS transactions (
	id          TEXT PRIMARY KEY,
	from_entity TEXT NOT NULL,
	to_entity   TEXT NOT NULL,
	amount      DOUBLE PRECISION NOT NULL CHECK (amount > 0),
	memo        TEXT NOT NULL DEFAULT '',
	timestamp   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transactions_from ON transactions (from_entity);
CREATE INDEX IF NOT EXISTS idx_transactions_to ON transactions (to_entity);

CREATE TABLE IF NOT EXISTS resource_bundles (
	id                TEXT PRIMARY KEY,
	cpu_percent       DOUBLE PRECISION NOT NULL DEFAULT 0,
	memory_percent    DOUBLE PRECISION NOT NULL DEFAULT 0,
	tokens_percent    DOUBLE PRECISION NOT NULL DEFAULT 0,
	attention_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
	duration_seconds  DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS executions (
	id                 TEXT PRIMARY KEY,
	agent_id           TEXT NOT NULL REFERENCES agents (id),
	bundle_id          TEXT NOT NULL REFERENCES resource_bundles (id),
	start_time         TIMESTAMPTZ NOT NULL,
	end_time           TIMESTAMPTZ,
	status             TEXT NOT NULL,
	exit_code          INTEGER,
	termination_reason TEXT
);

CREATE TABLE IF NOT EXISTS bids (
	id           TEXT PRIMARY KEY,
	agent_id     TEXT NOT NULL REFERENCES agents (id),
	bundle_id    TEXT NOT NULL REFERENCES resource_bundles (id),
	amount       DOUBLE PRECISION NOT NULL CHECK (amount > 0),
	status       TEXT NOT NULL,
	execution_id TEXT REFERENCES executions (id),
	timestamp    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_bids_status ON bids (status);
CREATE INDEX IF NOT EXISTS idx_bids_agent ON bids (agent_id);

CREATE TABLE IF NOT EXISTS market_states (
	resource_type       TEXT PRIMARY KEY,
	available_supply    DOUBLE PRECISION NOT NULL,
	current_utilization DOUBLE PRECISION NOT NULL DEFAULT 0,
	current_price       DOUBLE PRECISION NOT NULL,
	updated_at          TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS prompts (
	id           TEXT PRIMARY KEY,
	agent_id     TEXT NOT NULL REFERENCES agents (id),
	execution_id TEXT NOT NULL REFERENCES executions (id),
	content      JSONB NOT NULL DEFAULT '{}',
	bid_amount   DOUBLE PRECISION NOT NULL CHECK (bid_amount >= 0),
	status       TEXT NOT NULL,
	timestamp    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_prompts_status ON prompts (status);

CREATE TABLE IF NOT EXISTS responses (
	id              TEXT PRIMARY KEY,
	prompt_id       TEXT NOT NULL UNIQUE REFERENCES prompts (id),
	interesting     DOUBLE PRECISION NOT NULL,
	useful          DOUBLE PRECISION NOT NULL,
	understandable  DOUBLE PRECISION NOT NULL,
	reason          TEXT,
	credits_awarded DOUBLE PRECISION NOT NULL,
	timestamp       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id            TEXT PRIMARY KEY,
	from_agent_id TEXT NOT NULL,
	to_agent_id   TEXT NOT NULL,
	content       TEXT NOT NULL,
	timestamp     TIMESTAMPTZ NOT NULL
);
`
