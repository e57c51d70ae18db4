package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const conversationColumns = "conversation_id, name, description, active, assistant, priority, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var conv Conversation
	var name, description, assistant sql.NullString
	if err := row.Scan(&conv.ID, &name, &description, &conv.Active, &assistant, &conv.Priority, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
		return nil, err
	}
	conv.Name = name.String
	conv.Description = description.String
	conv.Assistant = assistant.String
	return &conv, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// NewConversation creates a new conversation owned by the given assistant and returns its id
func (db *DB) NewConversation(assistant string) (int64, error) {
	now := time.Now()
	result, err := db.conn.Exec(
		"INSERT INTO conversations (assistant, active, priority, created_at, updated_at) VALUES (?, 1, 0, ?, ?)",
		nullable(assistant), now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create conversation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get conversation ID: %w", err)
	}
	return id, nil
}

// IsValid reports whether the conversation id exists
func (db *DB) IsValid(id int64) (bool, error) {
	var n int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM conversations WHERE conversation_id = ?", id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check conversation: %w", err)
	}
	return n > 0, nil
}

// IsActive reports whether the conversation exists and is not hidden
func (db *DB) IsActive(id int64) (bool, error) {
	var active bool
	err := db.conn.QueryRow("SELECT active FROM conversations WHERE conversation_id = ?", id).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check conversation: %w", err)
	}
	return active, nil
}

// GetConversation retrieves a conversation with all its messages in id order
func (db *DB) GetConversation(id int64) (*Conversation, error) {
	conv, err := scanConversation(db.conn.QueryRow(
		"SELECT "+conversationColumns+" FROM conversations WHERE conversation_id = ?", id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation_id=%d: %w", id, ErrConversationNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	conv.Messages, err = db.ListMessages(id)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// ListConversations returns pinned conversations first (highest priority,
// newest first, not limited) followed by at most limit unpinned conversations,
// newest first. A nil active returns both active and hidden conversations.
func (db *DB) ListConversations(active *bool, limit int) ([]*Conversation, error) {
	where := ""
	var args []any
	if active != nil {
		where = " AND active = ?"
		args = append(args, *active)
	}

	pinned, err := db.queryConversations(
		"SELECT "+conversationColumns+" FROM conversations WHERE priority > 0"+where+
			" ORDER BY priority DESC, conversation_id DESC",
		args...,
	)
	if err != nil {
		return nil, err
	}

	others, err := db.queryConversations(
		"SELECT "+conversationColumns+" FROM conversations WHERE priority = 0"+where+
			" ORDER BY conversation_id DESC LIMIT ?",
		append(args, limit)...,
	)
	if err != nil {
		return nil, err
	}

	return append(pinned, others...), nil
}

func (db *DB) queryConversations(query string, args ...any) ([]*Conversation, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}

// UpdateConversation changes the metadata fields set in upd
func (db *DB) UpdateConversation(id int64, upd ConversationUpdate) error {
	ok, err := db.IsValid(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("conversation_id=%d: %w", id, ErrConversationNotFound)
	}
	if upd.empty() {
		return nil
	}

	var sets []string
	var args []any
	if upd.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, nullable(*upd.Name))
	}
	if upd.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, nullable(*upd.Description))
	}
	if upd.Active != nil {
		sets = append(sets, "active = ?")
		args = append(args, *upd.Active)
	}
	if upd.Priority != nil {
		sets = append(sets, "priority = ?")
		args = append(args, *upd.Priority)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now(), id)

	_, err = db.conn.Exec("UPDATE conversations SET "+strings.Join(sets, ", ")+" WHERE conversation_id = ?", args...)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	return nil
}

// DeleteConversation deletes a conversation and all its messages
func (db *DB) DeleteConversation(id int64) error {
	result, err := db.conn.Exec("DELETE FROM conversations WHERE conversation_id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("conversation_id=%d: %w", id, ErrConversationNotFound)
	}
	return nil
}

// CountConversations returns the total number of conversations
func (db *DB) CountConversations() (int64, error) {
	var count int64
	err := db.conn.QueryRow("SELECT COUNT(*) FROM conversations").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count conversations: %w", err)
	}
	return count, nil
}

// DeleteOldestConversations deletes unpinned conversations beyond the newest keepCount
func (db *DB) DeleteOldestConversations(keepCount int) (int64, error) {
	result, err := db.conn.Exec(`
		DELETE FROM conversations
		WHERE priority = 0 AND conversation_id NOT IN (
			SELECT conversation_id FROM conversations
			WHERE priority = 0
			ORDER BY conversation_id DESC
			LIMIT ?
		)
	`, keepCount)
	if err != nil {
		return 0, fmt.Errorf("failed to delete oldest conversations: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected, nil
}

func (db *DB) touchConversation(tx *sql.Tx, id int64) error {
	_, err := tx.Exec("UPDATE conversations SET updated_at = ? WHERE conversation_id = ?", time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	return nil
}
