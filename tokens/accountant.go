package tokens

import (
	"encoding/json"
	"strings"

	"kraina-desktop/llm"
)

// Estimate is the pre-call token cost of a turn
type Estimate struct {
	Prompt  int
	History int
}

// Accountant estimates the token cost of turns for one model
type Accountant struct {
	*Counter
}

// NewAccountant returns an accountant backed by the tokenizer of model
func NewAccountant(model string) (*Accountant, error) {
	tok, err := ForModel(model)
	if err != nil {
		return nil, err
	}
	return &Accountant{Counter: NewCounter(tok)}, nil
}

// NewAccountantWith is NewAccountant with an explicit tokenizer
func NewAccountantWith(tok Tokenizer) *Accountant {
	return &Accountant{Counter: NewCounter(tok)}
}

// EstimateTurn estimates the system prompt (with the schema of every bound
// tool) and the retained history. Only user and assistant messages count.
func (a *Accountant) EstimateTurn(systemPrompt string, history []llm.Message, tools []llm.ToolSpec) Estimate {
	est := Estimate{Prompt: a.CountMessage(systemPrompt)}
	for _, t := range tools {
		schema, err := json.Marshal(t)
		if err != nil {
			continue
		}
		est.Prompt += a.Count(string(schema))
	}
	for _, msg := range history {
		if msg.Role != llm.RoleUser && msg.Role != llm.RoleAssistant {
			continue
		}
		est.History += a.CountMessage(countableText(msg))
	}
	return est
}

// countableText joins the text segments of msg; image data is never tokenized
func countableText(msg llm.Message) string {
	if len(msg.Segments) == 0 {
		return msg.Content
	}
	var sb strings.Builder
	for _, s := range msg.Segments {
		if s.Type == llm.SegmentImage {
			sb.WriteString(llm.ImagePlaceholder)
			continue
		}
		sb.WriteString(s.Text)
	}
	return sb.String()
}
