// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

// Package store persists runs, steps, evidence, policy decisions,
// deviations, approvals, and audit records (spec §4.G) over database/sql.
// The default driver is mattn/go-sqlite3; lib/pq and go-sql-driver/mysql
// are registered as selectable alternates (see driver.go).
package store

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS runs (
	run_id INTEGER PRIMARY KEY AUTOINCREMENT,
	public_id TEXT NOT NULL UNIQUE,
	plan_ref TEXT NOT NULL,
	variables_resolved TEXT NOT NULL,
	manifest TEXT NOT NULL,
	state TEXT NOT NULL,
	queue TEXT NOT NULL,
	priority INTEGER NOT NULL,
	created_at TEXT NOT NULL,
	started_at TEXT,
	finished_at TEXT
);

CREATE TABLE IF NOT EXISTS steps (
	run_id INTEGER NOT NULL,
	step_index INTEGER NOT NULL,
	status TEXT NOT NULL,
	started_at TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	output TEXT,
	recovery_actions TEXT,
	error_code TEXT,
	error_message TEXT,
	error_hints TEXT,
	PRIMARY KEY (run_id, step_index)
);

CREATE TABLE IF NOT EXISTS evidence (
	run_id INTEGER NOT NULL,
	step_index INTEGER NOT NULL,
	kind TEXT NOT NULL,
	artifact_key TEXT NOT NULL,
	created_at TEXT NOT NULL,
	PRIMARY KEY (run_id, step_index, kind)
);

CREATE TABLE IF NOT EXISTS policy_decisions (
	run_id INTEGER NOT NULL,
	check_name TEXT NOT NULL,
	allowed INTEGER NOT NULL,
	reason TEXT NOT NULL,
	evaluated_at TEXT NOT NULL,
	PRIMARY KEY (run_id, check_name)
);

CREATE TABLE IF NOT EXISTS deviations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id INTEGER NOT NULL,
	step_index INTEGER NOT NULL,
	kind TEXT NOT NULL,
	severity TEXT NOT NULL,
	score REAL NOT NULL,
	reason TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS approvals (
	run_id INTEGER NOT NULL,
	step_index INTEGER NOT NULL,
	required_role TEXT,
	decision TEXT,
	decided_by TEXT,
	decided_at TEXT,
	timeout_minutes INTEGER,
	auto_action TEXT,
	PRIMARY KEY (run_id, step_index)
);

CREATE TABLE IF NOT EXISTS audit (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id INTEGER,
	event TEXT NOT NULL,
	detail TEXT NOT NULL,
	created_at TEXT NOT NULL
);
`
