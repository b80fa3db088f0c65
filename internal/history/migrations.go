package history

const schema = `
CREATE TABLE IF NOT EXISTS dispatches (
    id TEXT PRIMARY KEY,
    issue_key TEXT NOT NULL,
    column_name TEXT NOT NULL,
    operation TEXT NOT NULL,
    status TEXT NOT NULL,
    status_code INTEGER,
    response TEXT,
    error TEXT,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_dispatches_issue_key ON dispatches(issue_key);
CREATE INDEX IF NOT EXISTS idx_dispatches_status ON dispatches(status);
CREATE INDEX IF NOT EXISTS idx_dispatches_started_at ON dispatches(started_at);
`
