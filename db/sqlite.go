package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection.
//
// Every exported method runs as its own short statement or transaction, so
// one DB may be shared by concurrent turns.
type DB struct {
	conn *sql.DB
	fts  bool
}

// New creates a new database connection
func New(dbPath string) (*DB, error) {
	// Ensure the directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(1) // SQLite works best with single connection
	conn.SetMaxIdleConns(1)

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// FullTextSearch reports whether the FTS5 index is available
func (db *DB) FullTextSearch() bool {
	return db.fts
}

func (db *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			conversation_id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT,
			description TEXT,
			active BOOLEAN NOT NULL DEFAULT 1,
			assistant TEXT,
			priority INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS messages (
			message_id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id INTEGER NOT NULL,
			type INTEGER NOT NULL,
			message TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY(conversation_id) REFERENCES conversations(conversation_id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS usage (
			usage_id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id INTEGER,
			assistant TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			prompt INTEGER NOT NULL DEFAULT 0,
			history INTEGER NOT NULL DEFAULT 0,
			input INTEGER NOT NULL DEFAULT 0,
			output INTEGER NOT NULL DEFAULT 0,
			tools INTEGER NOT NULL DEFAULT 0,
			total INTEGER NOT NULL DEFAULT 0,
			failed BOOLEAN NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY(conversation_id) REFERENCES conversations(conversation_id) ON DELETE SET NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_messages_conversation_id ON messages(conversation_id, message_id)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_priority ON conversations(priority DESC, conversation_id DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_created_at ON usage(created_at)`,
	}

	for _, migration := range migrations {
		if _, err := db.conn.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, migration)
		}
	}

	return db.migrateFullText()
}

// migrateFullText creates the FTS5 index. Builds of go-sqlite3 without the
// sqlite_fts5 tag fall back to LIKE search.
func (db *DB) migrateFullText() error {
	_, err := db.conn.Exec(`CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
		message,
		conversation_id UNINDEXED,
		content=messages,
		content_rowid=message_id
	)`)
	if err != nil {
		if strings.Contains(err.Error(), "no such module") {
			return nil
		}
		return fmt.Errorf("migration failed: %w", err)
	}

	triggers := []string{
		`CREATE TRIGGER IF NOT EXISTS messages_ai AFTER INSERT ON messages BEGIN
			INSERT INTO messages_fts(rowid, message, conversation_id)
			VALUES (new.message_id, new.message, new.conversation_id);
		END`,

		`CREATE TRIGGER IF NOT EXISTS messages_ad AFTER DELETE ON messages BEGIN
			INSERT INTO messages_fts(messages_fts, rowid, message, conversation_id)
			VALUES ('delete', old.message_id, old.message, old.conversation_id);
		END`,
	}
	for _, trigger := range triggers {
		if _, err := db.conn.Exec(trigger); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, trigger)
		}
	}
	db.fts = true
	return nil
}

// DBStats represents database statistics
type DBStats struct {
	ConversationCount int64
	MessageCount      int64
	DBSizeBytes       int64
}

// GetStats returns database statistics
func (db *DB) GetStats() (*DBStats, error) {
	stats := &DBStats{}

	err := db.conn.QueryRow("SELECT COUNT(*) FROM conversations").Scan(&stats.ConversationCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count conversations: %w", err)
	}

	err = db.conn.QueryRow("SELECT COUNT(*) FROM messages").Scan(&stats.MessageCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}

	// page_count * page_size
	var pageCount, pageSize int64
	if err := db.conn.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return nil, fmt.Errorf("failed to get page count: %w", err)
	}
	if err := db.conn.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return nil, fmt.Errorf("failed to get page size: %w", err)
	}
	stats.DBSizeBytes = pageCount * pageSize

	return stats, nil
}

// Vacuum optimizes the database file
func (db *DB) Vacuum() error {
	if _, err := db.conn.Exec("VACUUM"); err != nil {
		return fmt.Errorf("failed to vacuum database: %w", err)
	}
	return nil
}
