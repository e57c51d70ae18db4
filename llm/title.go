package llm

import (
	"context"
	"fmt"
	"strings"
)

const titleSystemPrompt = "You are a helpful assistant that generates short, concise titles for conversations. " +
	"Generate a title in the same language as the conversation. The title should be 3-8 words, " +
	"descriptive, and capture the main topic. Only output the title, nothing else."

// GenerateTitle asks p for a short title of the conversation
func GenerateTitle(ctx context.Context, p Provider, model string, messages []Message) (string, error) {
	prompt := []Message{{Role: RoleSystem, Content: titleSystemPrompt}}

	// the first exchange is enough and keeps the call cheap
	maxMessages := 4
	for i, msg := range messages {
		if i >= maxMessages {
			break
		}
		prompt = append(prompt, Message{Role: msg.Role, Content: msg.Text()})
	}
	prompt = append(prompt, Message{
		Role:    RoleUser,
		Content: "Based on the above conversation, generate a short title (3-8 words):",
	})

	resp, err := p.Complete(ctx, Request{Messages: prompt, Model: model, MaxTokens: 64, Temperature: 0.3})
	if err != nil {
		return "", fmt.Errorf("failed to generate title: %w", err)
	}
	return cleanTitle(resp.Text()), nil
}

// cleanTitle cleans up a generated title by removing quotes and extra whitespace
func cleanTitle(title string) string {
	title = strings.TrimSpace(title)
	title = strings.Trim(title, "\"'`*#")
	title = strings.TrimSpace(title)

	if r := []rune(title); len(r) > 100 {
		title = string(r[:100]) + "..."
	}
	if title == "" {
		title = "New Chat"
	}
	return title
}
