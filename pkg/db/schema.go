package db

const schema = `
-- Performance and reliability settings
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;
PRAGMA foreign_keys = ON;
PRAGMA temp_store = MEMORY;

-- Jobs: one row per wcmr run
CREATE TABLE IF NOT EXISTS jobs (
    job_id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    status TEXT NOT NULL,             -- running, succeeded, failed, cancelled
    output_dir TEXT NOT NULL,
    config TEXT NOT NULL,             -- job config as YAML
    error_message TEXT,
    split_count INTEGER DEFAULT 0,
    partition_count INTEGER DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP,

    -- Top keywords as JSON object: {"word1": count1, "word2": count2, ...}
    top_keywords TEXT
);

CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);

-- Job inputs: locations as given on the command line
CREATE TABLE IF NOT EXISTS job_inputs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    location TEXT NOT NULL,
    FOREIGN KEY (job_id) REFERENCES jobs(job_id) ON DELETE CASCADE,
    UNIQUE(job_id, position)
);

CREATE INDEX IF NOT EXISTS idx_job_inputs_job ON job_inputs(job_id);

-- Task attempts: every map and reduce attempt, successful or not
CREATE TABLE IF NOT EXISTS task_attempts (
    attempt_id INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id TEXT NOT NULL,
    phase TEXT NOT NULL,              -- map, reduce
    task INTEGER NOT NULL,
    attempt INTEGER NOT NULL,
    location TEXT,
    status TEXT NOT NULL,             -- succeeded, failed
    error_message TEXT,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP NOT NULL,
    FOREIGN KEY (job_id) REFERENCES jobs(job_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_attempts_job ON task_attempts(job_id);
CREATE INDEX IF NOT EXISTS idx_attempts_status ON task_attempts(status);

-- Job counters: key-value storage for job counters
CREATE TABLE IF NOT EXISTS job_counters (
    job_id TEXT NOT NULL,
    name TEXT NOT NULL,
    value INTEGER NOT NULL,
    FOREIGN KEY (job_id) REFERENCES jobs(job_id) ON DELETE CASCADE,
    PRIMARY KEY (job_id, name)
);
`
