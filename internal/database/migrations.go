package database

// Migration represents a database migration.
type Migration struct {
	Version int
	SQL     string
}

// migrations is the list of all database migrations, applied in order.
var migrations = []Migration{
	{
		Version: 1,
		SQL: `
			-- Contacts: a minimal view onto the contacts database this core
			-- consumes but does not respecify (spec.md §1 Non-goals). Only the
			-- fields the chat/group/message components actually read live here.
			CREATE TABLE contacts (
				id INTEGER PRIMARY KEY,
				addr TEXT NOT NULL UNIQUE,
				display_name TEXT NOT NULL DEFAULT '',
				is_self INTEGER NOT NULL DEFAULT 0,
				prefer_encrypt_mutual INTEGER NOT NULL DEFAULT 0,
				has_peerstate INTEGER NOT NULL DEFAULT 0,
				verified INTEGER NOT NULL DEFAULT 0
			);

			-- Chats: ids 1..9 are reserved (deaddrop=1, starred=5, archived-link=6,
			-- trash/outgoing sentinels=2/3); user chats start at 10.
			CREATE TABLE chats (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				type INTEGER NOT NULL,
				name TEXT NOT NULL DEFAULT '',
				grpid TEXT NOT NULL DEFAULT '',
				param TEXT NOT NULL DEFAULT '',
				archived INTEGER NOT NULL DEFAULT 0,
				blocked INTEGER NOT NULL DEFAULT 0,
				gossiped_timestamp INTEGER NOT NULL DEFAULT 0,
				locations_send_begin INTEGER NOT NULL DEFAULT 0,
				locations_send_until INTEGER NOT NULL DEFAULT 0,
				locations_last_sent INTEGER NOT NULL DEFAULT 0,
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP
			);

			CREATE INDEX idx_chats_grpid ON chats(grpid);

			-- Chat membership: (chat_id, contact_id) pairs.
			CREATE TABLE chats_contacts (
				chat_id INTEGER NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
				contact_id INTEGER NOT NULL REFERENCES contacts(id) ON DELETE CASCADE,
				PRIMARY KEY (chat_id, contact_id)
			);

			CREATE INDEX idx_chats_contacts_contact ON chats_contacts(contact_id);

			-- Messages.
			CREATE TABLE msgs (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				chat_id INTEGER NOT NULL DEFAULT 0,
				from_id INTEGER NOT NULL DEFAULT 0,
				to_id INTEGER NOT NULL DEFAULT 0,
				timestamp INTEGER NOT NULL DEFAULT 0,
				rfc724_mid TEXT NOT NULL DEFAULT '',
				type TEXT NOT NULL DEFAULT 'text',
				state TEXT NOT NULL DEFAULT 'in-fresh',
				txt TEXT NOT NULL DEFAULT '',
				param TEXT NOT NULL DEFAULT '',
				hidden INTEGER NOT NULL DEFAULT 0,
				in_reply_to TEXT NOT NULL DEFAULT '',
				mime_references TEXT NOT NULL DEFAULT '',
				location_id INTEGER NOT NULL DEFAULT 0
			);

			CREATE UNIQUE INDEX idx_msgs_rfc724_mid ON msgs(rfc724_mid) WHERE rfc724_mid != '';
			CREATE INDEX idx_msgs_chat_id ON msgs(chat_id, timestamp, id);
			CREATE INDEX idx_msgs_state ON msgs(chat_id, state);

			-- Locations.
			CREATE TABLE locations (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				timestamp INTEGER NOT NULL,
				from_id INTEGER NOT NULL DEFAULT 0,
				chat_id INTEGER NOT NULL DEFAULT 0,
				latitude REAL NOT NULL DEFAULT 0,
				longitude REAL NOT NULL DEFAULT 0,
				accuracy REAL NOT NULL DEFAULT 0,
				independent INTEGER NOT NULL DEFAULT 0
			);

			CREATE INDEX idx_locations_chat ON locations(chat_id, timestamp);

			-- Left groups: group ids the local user explicitly left.
			CREATE TABLE left_groups (
				grpid TEXT PRIMARY KEY
			);

			-- Global configuration key/value store (configured_addr, e2ee_enabled,
			-- show_emails, backup_time, ...).
			CREATE TABLE config (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL DEFAULT ''
			);

			-- Process-local app state (smeared timestamp).
			CREATE TABLE app_state (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL DEFAULT ''
			);
		`,
	},
	{
		Version: 2,
		SQL: `
			-- Chats created via deaddrop promotion need a fast lookup from the
			-- originating message back to the now-unblocked chat.
			CREATE INDEX idx_msgs_to_id ON msgs(to_id);
		`,
	},
	{
		Version: 3,
		SQL: `
			-- Self PGP/Autocrypt identity keys (spec.md §4.7). Single-account
			-- engine: no account-id column, unlike the teacher's multi-account
			-- pgp_keys table.
			CREATE TABLE self_keys (
				id TEXT PRIMARY KEY,
				email TEXT NOT NULL,
				fingerprint TEXT NOT NULL UNIQUE,
				public_armored TEXT NOT NULL,
				private_armored TEXT NOT NULL,
				is_default INTEGER NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
		`,
	},
}
