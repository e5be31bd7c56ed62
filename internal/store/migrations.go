package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS projects (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'ACTIVE'
		CHECK(status IN ('ACTIVE', 'COMPLETED', 'ARCHIVED', 'ON_HOLD')),
	owner_id    TEXT NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS milestones (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'PLANNED'
		CHECK(status IN ('PLANNED', 'IN_PROGRESS', 'COMPLETED', 'OVERDUE')),
	start_date DATETIME,
	end_date   DATETIME,
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS tasks (
	id           TEXT PRIMARY KEY,
	title        TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'UPCOMING'
		CHECK(status IN ('UPCOMING', 'IN_PROGRESS', 'IN_REVIEW', 'COMPLETED', 'OVERDUE')),
	start_date   DATETIME,
	due_date     DATETIME,
	milestone_id TEXT NOT NULL REFERENCES milestones(id) ON DELETE CASCADE,
	assignee_id  TEXT,
	created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_milestones_project_id ON milestones(project_id);
CREATE INDEX IF NOT EXISTS idx_tasks_milestone_id ON tasks(milestone_id);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_due_date ON tasks(due_date);
CREATE INDEX IF NOT EXISTS idx_tasks_start_date ON tasks(start_date);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS notifications (
	id             TEXT PRIMARY KEY,
	type           TEXT NOT NULL,
	title          TEXT NOT NULL,
	message        TEXT NOT NULL,
	user_id        TEXT NOT NULL,
	is_read        INTEGER NOT NULL DEFAULT 0 CHECK(is_read IN (0, 1)),
	project_id     TEXT,
	task_id        TEXT,
	task_review_id TEXT,
	metadata       TEXT,
	dedup_key      TEXT,
	created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_notifications_user_created
	ON notifications(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_notifications_user_read
	ON notifications(user_id, is_read);
CREATE INDEX IF NOT EXISTS idx_notifications_type_task_user
	ON notifications(type, task_id, user_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_notifications_dedup_key
	ON notifications(dedup_key);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
	{
		version: 3,
		sql: `
CREATE TABLE IF NOT EXISTS project_members (
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	user_id    TEXT NOT NULL,
	role       TEXT NOT NULL DEFAULT 'MEMBER',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (project_id, user_id)
);

CREATE TABLE IF NOT EXISTS task_reviews (
	id           TEXT PRIMARY KEY,
	task_id      TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	requester_id TEXT NOT NULL,
	reviewer_id  TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'PENDING'
		CHECK(status IN ('PENDING', 'APPROVED', 'REJECTED')),
	comment      TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_task_reviews_task_id ON task_reviews(task_id);

INSERT INTO schema_version (version) VALUES (3);
`,
	},
}
