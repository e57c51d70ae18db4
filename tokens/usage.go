package tokens

// API records the request parameters of a turn
type API struct {
	Model     string  `json:"model"`
	MaxTokens int     `json:"max_tokens"`
	Temp      float64 `json:"temp"`
}

// Usage is the token ledger of one turn. Every bucket is non-negative and
// Total is only meaningful after Finalize.
type Usage struct {
	Prompt  int `json:"prompt"`
	History int `json:"history"`
	Input   int `json:"input"`
	Output  int `json:"output"`
	Tools   int `json:"tools"`
	Total   int `json:"total"`
	API     API `json:"api"`
}

// Finalize recomputes Total from the other buckets
func (u *Usage) Finalize() {
	u.Total = u.Prompt + u.History + u.Input + u.Output + u.Tools
}

// Map renders the ledger with the bucket names used in responses
func (u Usage) Map() map[string]any {
	return map[string]any{
		"prompt":  u.Prompt,
		"history": u.History,
		"input":   u.Input,
		"output":  u.Output,
		"tools":   u.Tools,
		"total":   u.Total,
		"api": map[string]any{
			"model":      u.API.Model,
			"max_tokens": u.API.MaxTokens,
			"temp":       u.API.Temp,
		},
	}
}
