package db

import (
	"fmt"
	"strings"
	"time"
)

// AddMessage appends a message to the conversation
func (db *DB) AddMessage(typ MessageType, text string, convID int64) error {
	return db.AddMessages([]NewMessage{{Type: typ, Text: text}}, convID)
}

// AddMessages appends messages to the conversation in one transaction, in slice order
func (db *DB) AddMessages(msgs []NewMessage, convID int64) error {
	ok, err := db.IsValid(convID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("conversation_id=%d: %w", convID, ErrConversationNotFound)
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, msg := range msgs {
		_, err := tx.Exec(
			"INSERT INTO messages (conversation_id, type, message, created_at) VALUES (?, ?, ?, ?)",
			convID, int(msg.Type), strings.TrimSpace(msg.Text), time.Now(),
		)
		if err != nil {
			return fmt.Errorf("failed to create message: %w", err)
		}
	}

	if err := db.touchConversation(tx, convID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit messages: %w", err)
	}
	return nil
}

// GetMessage retrieves a message by ID
func (db *DB) GetMessage(id int64) (*Message, error) {
	var msg Message
	err := db.conn.QueryRow(
		"SELECT message_id, conversation_id, type, message, created_at FROM messages WHERE message_id = ?",
		id,
	).Scan(&msg.ID, &msg.ConversationID, &msg.Type, &msg.Text, &msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return &msg, nil
}

// ListMessages retrieves all messages in a conversation in ascending id order
func (db *DB) ListMessages(conversationID int64) ([]*Message, error) {
	rows, err := db.conn.Query(
		"SELECT message_id, conversation_id, type, message, created_at FROM messages WHERE conversation_id = ? ORDER BY message_id ASC",
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Type, &msg.Text, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

// DeleteMessage deletes a message
func (db *DB) DeleteMessage(id int64) error {
	if _, err := db.conn.Exec("DELETE FROM messages WHERE message_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}
