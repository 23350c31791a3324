package sqlite

const schema = `
-- Issues table
CREATE TABLE IF NOT EXISTS issues (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL CHECK(length(title) <= 500),
    content TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'open',
    priority INTEGER NOT NULL DEFAULT 2 CHECK(priority >= 0),
    group_id TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_issues_status ON issues(status);
CREATE INDEX IF NOT EXISTS idx_issues_priority ON issues(priority);
CREATE INDEX IF NOT EXISTS idx_issues_group ON issues(group_id);
CREATE INDEX IF NOT EXISTS idx_issues_created_at ON issues(created_at);

-- Relationships table (directed issue links)
CREATE TABLE IF NOT EXISTS relationships (
    issue_id TEXT NOT NULL,
    target_id TEXT NOT NULL,
    type TEXT NOT NULL DEFAULT 'blocks',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (issue_id, target_id, type),
    FOREIGN KEY (issue_id) REFERENCES issues(id) ON DELETE CASCADE,
    FOREIGN KEY (target_id) REFERENCES issues(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_relationships_issue ON relationships(issue_id);
CREATE INDEX IF NOT EXISTS idx_relationships_target ON relationships(target_id);

-- Specs table
CREATE TABLE IF NOT EXISTS specs (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    content TEXT NOT NULL DEFAULT '',
    issue_id TEXT,
    archived INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Executions table
CREATE TABLE IF NOT EXISTS executions (
    id TEXT PRIMARY KEY,
    issue_id TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    worktree_path TEXT NOT NULL DEFAULT '',
    branch_name TEXT NOT NULL DEFAULT '',
    started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    completed_at DATETIME,
    exit_code INTEGER,
    error_message TEXT NOT NULL DEFAULT '',
    files_changed TEXT NOT NULL DEFAULT '[]',
    FOREIGN KEY (issue_id) REFERENCES issues(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_executions_issue ON executions(issue_id);
CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status);

-- Checkpoints table (immutable except review_status)
CREATE TABLE IF NOT EXISTS checkpoints (
    id TEXT PRIMARY KEY,
    issue_id TEXT NOT NULL DEFAULT '',
    execution_id TEXT NOT NULL,
    stream_id TEXT NOT NULL,
    commit_sha TEXT NOT NULL DEFAULT '',
    parent_commit TEXT NOT NULL DEFAULT '',
    changed_files TEXT NOT NULL DEFAULT '[]',
    review_status TEXT NOT NULL DEFAULT 'pending',
    target_branch TEXT NOT NULL DEFAULT '',
    queue_position INTEGER NOT NULL DEFAULT 0,
    issue_snapshot TEXT NOT NULL DEFAULT '',
    spec_snapshot TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_checkpoints_execution ON checkpoints(execution_id);
CREATE INDEX IF NOT EXISTS idx_checkpoints_stream ON checkpoints(stream_id);
CREATE INDEX IF NOT EXISTS idx_checkpoints_review ON checkpoints(review_status);
CREATE INDEX IF NOT EXISTS idx_checkpoints_issue ON checkpoints(issue_id);

-- Merge queue entries
CREATE TABLE IF NOT EXISTS queue_entries (
    id TEXT PRIMARY KEY,
    execution_id TEXT NOT NULL,
    stream_id TEXT NOT NULL DEFAULT '',
    target_branch TEXT NOT NULL,
    position INTEGER NOT NULL DEFAULT 0,
    priority INTEGER NOT NULL DEFAULT 2,
    status TEXT NOT NULL DEFAULT 'pending',
    added_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    error TEXT NOT NULL DEFAULT '',
    merge_commit TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_queue_target ON queue_entries(target_branch);
CREATE INDEX IF NOT EXISTS idx_queue_status ON queue_entries(status);
CREATE UNIQUE INDEX IF NOT EXISTS idx_queue_execution ON queue_entries(execution_id);

-- Groups table
CREATE TABLE IF NOT EXISTS groups (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    working_branch TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'active',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Stack entries table
CREATE TABLE IF NOT EXISTS stack_entries (
    stack_name TEXT NOT NULL,
    issue_id TEXT NOT NULL,
    depth INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (stack_name, issue_id),
    FOREIGN KEY (issue_id) REFERENCES issues(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_stack_entries_issue ON stack_entries(issue_id);

-- Activity trail
CREATE TABLE IF NOT EXISTS scheduler_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    event_type TEXT NOT NULL,
    severity TEXT NOT NULL DEFAULT 'info',
    issue_id TEXT NOT NULL DEFAULT '',
    execution_id TEXT NOT NULL DEFAULT '',
    message TEXT NOT NULL,
    metadata TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_scheduler_events_issue ON scheduler_events(issue_id);
CREATE INDEX IF NOT EXISTS idx_scheduler_events_type ON scheduler_events(event_type);
CREATE INDEX IF NOT EXISTS idx_scheduler_events_created ON scheduler_events(created_at);

-- Config key/value store
CREATE TABLE IF NOT EXISTS config (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`
