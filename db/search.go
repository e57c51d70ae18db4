package db

import "fmt"

// SearchResult represents a search result
type SearchResult struct {
	Message        *Message
	ConversationID int64
	Snippet        string
}

// SearchMessages performs full-text search on messages. Without the FTS5
// index a case-insensitive substring match is used instead.
func (db *DB) SearchMessages(query string, limit int) ([]*SearchResult, error) {
	if !db.fts {
		return db.searchMessagesLike(query, limit)
	}

	rows, err := db.conn.Query(`
		SELECT m.message_id, m.conversation_id, m.type, m.message, m.created_at,
		       snippet(messages_fts, 0, '**', '**', '...', 32) as snippet
		FROM messages_fts
		JOIN messages m ON messages_fts.rowid = m.message_id
		WHERE messages_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	defer rows.Close()

	var results []*SearchResult
	for rows.Next() {
		var msg Message
		var snippet string
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Type, &msg.Text, &msg.CreatedAt, &snippet); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		results = append(results, &SearchResult{
			Message:        &msg,
			ConversationID: msg.ConversationID,
			Snippet:        snippet,
		})
	}
	return results, rows.Err()
}

func (db *DB) searchMessagesLike(query string, limit int) ([]*SearchResult, error) {
	rows, err := db.conn.Query(`
		SELECT message_id, conversation_id, type, message, created_at
		FROM messages
		WHERE message LIKE '%' || ? || '%'
		ORDER BY message_id DESC
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	defer rows.Close()

	var results []*SearchResult
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Type, &msg.Text, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		snippet := msg.Text
		if len(snippet) > 120 {
			snippet = snippet[:120] + "..."
		}
		results = append(results, &SearchResult{
			Message:        &msg,
			ConversationID: msg.ConversationID,
			Snippet:        snippet,
		})
	}
	return results, rows.Err()
}

// SearchConversationsByAssistant lists conversations produced by the assistant, newest first
func (db *DB) SearchConversationsByAssistant(assistant string) ([]*Conversation, error) {
	return db.queryConversations(
		"SELECT "+conversationColumns+" FROM conversations WHERE assistant = ? ORDER BY conversation_id DESC",
		assistant,
	)
}
