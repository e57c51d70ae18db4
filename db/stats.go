package db

import (
	"database/sql"
	"fmt"
	"time"
)

// UsageRecord is the token ledger of one turn
type UsageRecord struct {
	ConversationID int64 // 0 when the turn ran without history
	Assistant      string
	Model          string
	Prompt         int
	History        int
	Input          int
	Output         int
	Tools          int
	Total          int
	Failed         bool
}

// UsageStats represents token usage statistics
type UsageStats struct {
	TotalTokens    int64
	TotalTurns     int64
	FailedTurns    int64
	AssistantStats map[string]*AssistantUsageStats
	ModelStats     map[string]*ModelUsageStats
	DailyStats     []*DailyUsageStats
}

// AssistantUsageStats represents usage statistics for a specific assistant
type AssistantUsageStats struct {
	Assistant   string
	TotalTokens int64
	Turns       int64
}

// ModelUsageStats represents usage statistics for a specific model
type ModelUsageStats struct {
	Model        string
	InputTokens  int64 // prompt + history + input + tools
	OutputTokens int64
	Turns        int64
}

// DailyUsageStats represents daily usage statistics
type DailyUsageStats struct {
	Date        string // Format: "2024-12-31"
	TotalTokens int64
	Turns       int64
}

// RecordUsage stores the token ledger of a finished turn
func (db *DB) RecordUsage(rec UsageRecord) error {
	convID := sql.NullInt64{Int64: rec.ConversationID, Valid: rec.ConversationID > 0}
	_, err := db.conn.Exec(
		`INSERT INTO usage (conversation_id, assistant, model, prompt, history, input, output, tools, total, failed, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		convID, rec.Assistant, rec.Model, rec.Prompt, rec.History, rec.Input, rec.Output, rec.Tools, rec.Total, rec.Failed, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

// GetUsageStats returns usage statistics for turns between startDate and endDate
func (db *DB) GetUsageStats(startDate, endDate time.Time) (*UsageStats, error) {
	stats := &UsageStats{
		AssistantStats: make(map[string]*AssistantUsageStats),
		ModelStats:     make(map[string]*ModelUsageStats),
	}

	err := db.conn.QueryRow(`
		SELECT COALESCE(SUM(total), 0), COUNT(*), COALESCE(SUM(failed), 0)
		FROM usage
		WHERE created_at >= ? AND created_at <= ?
	`, startDate, endDate).Scan(&stats.TotalTokens, &stats.TotalTurns, &stats.FailedTurns)
	if err != nil {
		return nil, fmt.Errorf("failed to get total stats: %w", err)
	}

	rows, err := db.conn.Query(`
		SELECT assistant, COALESCE(SUM(total), 0), COUNT(*)
		FROM usage
		WHERE created_at >= ? AND created_at <= ?
		GROUP BY assistant
	`, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("failed to get assistant stats: %w", err)
	}
	for rows.Next() {
		s := &AssistantUsageStats{}
		if err := rows.Scan(&s.Assistant, &s.TotalTokens, &s.Turns); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan assistant stats: %w", err)
		}
		stats.AssistantStats[s.Assistant] = s
	}
	rows.Close()

	rows, err = db.conn.Query(`
		SELECT model, COALESCE(SUM(prompt + history + input + tools), 0), COALESCE(SUM(output), 0), COUNT(*)
		FROM usage
		WHERE created_at >= ? AND created_at <= ?
		GROUP BY model
	`, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("failed to get model stats: %w", err)
	}
	for rows.Next() {
		s := &ModelUsageStats{}
		if err := rows.Scan(&s.Model, &s.InputTokens, &s.OutputTokens, &s.Turns); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan model stats: %w", err)
		}
		stats.ModelStats[s.Model] = s
	}
	rows.Close()

	rows, err = db.conn.Query(`
		SELECT substr(created_at, 1, 10) AS day, COALESCE(SUM(total), 0), COUNT(*)
		FROM usage
		WHERE created_at >= ? AND created_at <= ?
		GROUP BY day
		ORDER BY day ASC
	`, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("failed to get daily stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		s := &DailyUsageStats{}
		if err := rows.Scan(&s.Date, &s.TotalTokens, &s.Turns); err != nil {
			return nil, fmt.Errorf("failed to scan daily stats: %w", err)
		}
		stats.DailyStats = append(stats.DailyStats, s)
	}

	return stats, rows.Err()
}
