package utils

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"kraina-desktop/db"
)

// ExportFormat represents the export format
type ExportFormat string

const (
	FormatJSON     ExportFormat = "json"
	FormatMarkdown ExportFormat = "markdown"
)

const exportVersion = "1.0"

// ConversationExport represents a conversation export structure
type ConversationExport struct {
	ID          int64             `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Assistant   string            `json:"assistant"`
	Priority    int               `json:"priority"`
	Active      bool              `json:"active"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	Messages    []MessageExport   `json:"messages"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// MessageExport represents a message export structure
type MessageExport struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

type exportBundle struct {
	Metadata      map[string]string    `json:"metadata"`
	Conversations []ConversationExport `json:"conversations"`
}

func exportMetadata() map[string]string {
	return map[string]string{
		"export_version": exportVersion,
		"export_date":    time.Now().Format(time.RFC3339),
		"app_name":       "kraina",
	}
}

func buildExport(database *db.DB, conversationID int64) (*ConversationExport, error) {
	conv, err := database.GetConversation(conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	export := &ConversationExport{
		ID:          conv.ID,
		Name:        conv.Name,
		Description: conv.Description,
		Assistant:   conv.Assistant,
		Priority:    conv.Priority,
		Active:      conv.Active,
		CreatedAt:   conv.CreatedAt,
		UpdatedAt:   conv.UpdatedAt,
		Messages:    make([]MessageExport, 0, len(conv.Messages)),
	}
	for _, msg := range conv.Messages {
		export.Messages = append(export.Messages, MessageExport{
			ID:        msg.ID,
			Type:      msg.Type.String(),
			Text:      msg.Text,
			CreatedAt: msg.CreatedAt,
		})
	}
	return export, nil
}

// ExportConversationToJSON exports a single conversation to JSON format
func ExportConversationToJSON(database *db.DB, conversationID int64, path string) error {
	export, err := buildExport(database, conversationID)
	if err != nil {
		return err
	}
	export.Metadata = exportMetadata()

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// ExportConversationToMarkdown exports a single conversation to Markdown format.
// TOOL messages are rendered as quoted blocks so the agent trace stays readable.
func ExportConversationToMarkdown(database *db.DB, conversationID int64, path string) error {
	export, err := buildExport(database, conversationID)
	if err != nil {
		return err
	}

	var sb strings.Builder
	title := export.Name
	if title == "" {
		title = fmt.Sprintf("Conversation %d", export.ID)
	}
	fmt.Fprintf(&sb, "# %s\n\n", title)
	if export.Description != "" {
		fmt.Fprintf(&sb, "%s\n\n", export.Description)
	}
	fmt.Fprintf(&sb, "**Assistant**: %s\n", export.Assistant)
	fmt.Fprintf(&sb, "**Created**: %s\n\n", export.CreatedAt.Format(time.DateTime))
	sb.WriteString("---\n\n")

	for i, msg := range export.Messages {
		fmt.Fprintf(&sb, "## %s\n\n", msg.Type)
		if msg.Type == db.MessageTool.String() {
			for _, line := range strings.Split(msg.Text, "\n") {
				fmt.Fprintf(&sb, "> %s\n", line)
			}
			sb.WriteString("\n")
		} else {
			sb.WriteString(msg.Text)
			sb.WriteString("\n\n")
		}
		if i < len(export.Messages)-1 {
			sb.WriteString("---\n\n")
		}
	}

	fmt.Fprintf(&sb, "\n---\n\n*Exported: %s*\n", time.Now().Format(time.DateTime))

	if err := os.WriteFile(path, []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// ExportAllConversations exports all conversations to a single JSON file
func ExportAllConversations(database *db.DB, path string) error {
	conversations, err := database.ListConversations(nil, -1)
	if err != nil {
		return fmt.Errorf("failed to list conversations: %w", err)
	}

	bundle := exportBundle{
		Metadata:      exportMetadata(),
		Conversations: make([]ConversationExport, 0, len(conversations)),
	}
	for _, conv := range conversations {
		export, err := buildExport(database, conv.ID)
		if err != nil {
			return fmt.Errorf("failed to export conversation %d: %w", conv.ID, err)
		}
		bundle.Conversations = append(bundle.Conversations, *export)
	}
	bundle.Metadata["total_count"] = fmt.Sprintf("%d", len(bundle.Conversations))

	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

func importOne(database *db.DB, export ConversationExport) (int64, error) {
	msgs := make([]db.NewMessage, 0, len(export.Messages))
	for _, m := range export.Messages {
		typ, ok := db.ParseMessageType(m.Type)
		if !ok {
			return 0, fmt.Errorf("invalid export: unknown message type %q", m.Type)
		}
		msgs = append(msgs, db.NewMessage{Type: typ, Text: m.Text})
	}

	// new id, the original one may already be taken
	id, err := database.NewConversation(export.Assistant)
	if err != nil {
		return 0, err
	}
	if err := database.UpdateConversation(id, db.ConversationUpdate{
		Name:        &export.Name,
		Description: &export.Description,
		Active:      &export.Active,
		Priority:    &export.Priority,
	}); err != nil {
		return 0, err
	}
	if err := database.AddMessages(msgs, id); err != nil {
		return 0, fmt.Errorf("failed to import messages: %w", err)
	}
	return id, nil
}

// ImportConversation imports a conversation from a JSON file and returns its new id
func ImportConversation(database *db.DB, path string) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read file: %w", err)
	}

	var export ConversationExport
	if err := json.Unmarshal(data, &export); err != nil {
		return 0, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	if len(export.Messages) == 0 {
		return 0, fmt.Errorf("invalid export: no messages")
	}
	return importOne(database, export)
}

// ImportAllConversations imports multiple conversations from a JSON file
func ImportAllConversations(database *db.DB, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read file: %w", err)
	}

	var bundle exportBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return 0, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	if bundle.Conversations == nil {
		return 0, fmt.Errorf("invalid export: missing conversations array")
	}

	count := 0
	for _, export := range bundle.Conversations {
		if len(export.Messages) == 0 {
			continue
		}
		if _, err := importOne(database, export); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// GenerateExportFilename generates a filename for export
func GenerateExportFilename(title string, format ExportFormat) string {
	sanitized := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`/\:*?"<>|`, r) {
			return '_'
		}
		return r
	}, title)
	if r := []rune(sanitized); len(r) > 50 {
		sanitized = string(r[:50])
	}
	if sanitized == "" {
		sanitized = "conversation"
	}

	ext := string(format)
	if format == FormatMarkdown {
		ext = "md"
	}
	return fmt.Sprintf("%s_%s.%s", sanitized, time.Now().Format("20060102_150405"), ext)
}

// GetDefaultExportPath returns the default export directory
func GetDefaultExportPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	exportDir := filepath.Join(homeDir, "Documents", "kraina-exports")
	if err := os.MkdirAll(exportDir, 0755); err != nil {
		return "", err
	}
	return exportDir, nil
}
