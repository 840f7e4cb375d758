package mysql

// schema is executed statement-by-statement on Migrate, mirroring the
// teacher's own tinode-db/makedb.go approach of creating tables directly
// from Go rather than through a migration framework — this backend is
// the legacy/secondary one, kept in the teacher's own idiom rather than
// the Postgres backend's golang-migrate pipeline.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id VARCHAR(36) PRIMARY KEY,
		username VARCHAR(32) NOT NULL UNIQUE,
		verifier VARBINARY(255) NOT NULL,
		role VARCHAR(16) NOT NULL,
		last_seen_at DATETIME NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id VARCHAR(36) PRIMARY KEY,
		user_id VARCHAR(36) NOT NULL,
		expires_at DATETIME NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		INDEX idx_sessions_user (user_id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS rooms (
		id VARCHAR(36) PRIMARY KEY,
		name VARCHAR(64) NOT NULL UNIQUE,
		privacy VARCHAR(16) NOT NULL,
		owner_id VARCHAR(36) NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS room_memberships (
		room_id VARCHAR(36) NOT NULL,
		user_id VARCHAR(36) NOT NULL,
		role VARCHAR(16) NOT NULL,
		joined_at DATETIME NOT NULL,
		active TINYINT(1) NOT NULL DEFAULT 1,
		PRIMARY KEY (room_id, user_id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS messages (
		id VARCHAR(36) PRIMARY KEY,
		room_id VARCHAR(36) NULL,
		dm_pair_id VARCHAR(80) NULL,
		author_id VARCHAR(36) NOT NULL,
		content TEXT NOT NULL,
		type VARCHAR(16) NOT NULL,
		parent_id VARCHAR(36) NULL,
		edited_at DATETIME NULL,
		deleted_at DATETIME NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		INDEX idx_messages_room (room_id, created_at, id),
		INDEX idx_messages_dm (dm_pair_id, created_at, id),
		INDEX idx_messages_parent (parent_id, created_at)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS reactions (
		message_id VARCHAR(36) NOT NULL,
		user_id VARCHAR(36) NOT NULL,
		emoji VARCHAR(16) NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (message_id, user_id, emoji)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS read_receipts (
		user_id VARCHAR(36) NOT NULL,
		room_id VARCHAR(36) NOT NULL,
		last_read_msg_id VARCHAR(36) NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (user_id, room_id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS invitations (
		id VARCHAR(36) PRIMARY KEY,
		sender_id VARCHAR(36) NOT NULL,
		recipient_id VARCHAR(36) NOT NULL,
		room_id VARCHAR(36) NOT NULL,
		status VARCHAR(16) NOT NULL,
		expires_at DATETIME NOT NULL,
		responded_at DATETIME NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		INDEX idx_invitations_recipient (recipient_id, room_id, status)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id VARCHAR(36) PRIMARY KEY,
		user_id VARCHAR(36) NULL,
		action VARCHAR(64) NOT NULL,
		resource_type VARCHAR(32) NULL,
		resource_id VARCHAR(36) NULL,
		detail TEXT NULL,
		source_addr VARCHAR(64) NULL,
		created_at DATETIME NOT NULL,
		INDEX idx_audit_user (user_id, created_at)
	) ENGINE=InnoDB`,
}
