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

CREATE TABLE IF NOT EXISTS messages (
	id                TEXT PRIMARY KEY,
	tenant_id         TEXT NOT NULL,
	uid               INTEGER,
	remote_id         TEXT,
	direction         TEXT NOT NULL CHECK(direction IN ('inbound', 'outbound')),
	from_addr         TEXT NOT NULL DEFAULT '',
	to_addrs          TEXT NOT NULL DEFAULT '[]',
	cc_addrs          TEXT NOT NULL DEFAULT '[]',
	bcc_addrs         TEXT NOT NULL DEFAULT '[]',
	subject           TEXT NOT NULL DEFAULT '',
	body_text         TEXT NOT NULL DEFAULT '',
	body_html         TEXT NOT NULL DEFAULT '',
	date              DATETIME NOT NULL,
	attachments       TEXT NOT NULL DEFAULT '[]',
	flags             TEXT NOT NULL DEFAULT '[]',
	thread_id         TEXT NOT NULL,
	in_reply_to       TEXT NOT NULL DEFAULT '',
	reference_ids     TEXT NOT NULL DEFAULT '[]',
	is_thread_starter INTEGER NOT NULL DEFAULT 0 CHECK(is_thread_starter IN (0, 1)),
	thread_count      INTEGER NOT NULL DEFAULT 0,
	last_message_at   DATETIME,
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL
);

-- uid and remote_id are sparse: unique per tenant only when present.
CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_tenant_uid
	ON messages(tenant_id, uid) WHERE uid IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_tenant_remote
	ON messages(tenant_id, remote_id) WHERE remote_id IS NOT NULL;

CREATE INDEX IF NOT EXISTS idx_messages_tenant_thread
	ON messages(tenant_id, thread_id);
CREATE INDEX IF NOT EXISTS idx_messages_tenant_date
	ON messages(tenant_id, date);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE INDEX IF NOT EXISTS idx_messages_tenant_thread_date
	ON messages(tenant_id, thread_id, date);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
