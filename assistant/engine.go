package assistant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"kraina-desktop/agent"
	"kraina-desktop/db"
	"kraina-desktop/llm"
	"kraina-desktop/tokens"
	"kraina-desktop/utils"
)

// Store is the part of the persistence store a turn needs
type Store interface {
	NewConversation(assistant string) (int64, error)
	IsValid(id int64) (bool, error)
	ListMessages(convID int64) ([]*db.Message, error)
	AddMessage(typ db.MessageType, text string, convID int64) error
	UpdateConversation(id int64, upd db.ConversationUpdate) error
	RecordUsage(rec db.UsageRecord) error
}

// Providers picks the provider of a call
type Providers interface {
	Select(forced llm.APIType, overrides llm.RequestOverrides) (llm.APIType, llm.Provider, error)
	MapModel(api llm.APIType, model string) string
}

// Tools describes and runs the tools bound to assistants
type Tools interface {
	Specs(names []string) ([]llm.ToolSpec, error)
	Run(ctx context.Context, call llm.ToolCall) (string, error)
}

// AgentRunner produces the event stream of a tool-calling turn
type AgentRunner interface {
	Run(ctx context.Context, req llm.Request, handle func(agent.Event) error) error
}

// SnippetLookup finds snippets by name
type SnippetLookup interface {
	Snippet(name string) (*Snippet, bool)
}

// Observer receives the outcome of every turn and snippet run
type Observer interface {
	TurnFinished(assistant, model string, failed bool, elapsed time.Duration, usage tokens.Usage)
	SnippetFinished(snippet string, failed bool, elapsed time.Duration)
}

// Deps wires an Engine. Store and Providers are required.
type Deps struct {
	Store     Store
	Providers Providers
	Tools     Tools
	Snippets  SnippetLookup
	Observer  Observer
	Logger    *utils.Logger

	// Tokenizer returns the tokenizer of a model; tokens.ForModel by default
	Tokenizer func(model string) (tokens.Tokenizer, error)
	// NewAgent builds the tool loop of one turn; agent.Executor by default
	NewAgent func(p llm.Provider, tools agent.ToolRunner) AgentRunner
	// SnippetAPI is used for snippets without their own force_api
	SnippetAPI llm.APIType
	// MaxHistory keeps only the newest messages of a conversation; 0 keeps all
	MaxHistory int
	Now        func() time.Time
}

// Engine executes assistant turns. It is safe for concurrent use; turns on
// different conversations may run in parallel.
type Engine struct {
	deps    Deps
	invoker *llm.Invoker
	logger  *utils.Logger

	mu          sync.Mutex
	accountants map[string]*tokens.Accountant
}

// NewEngine creates an engine
func NewEngine(deps Deps) *Engine {
	if deps.Logger == nil {
		deps.Logger = utils.NopLogger()
	}
	if deps.Tokenizer == nil {
		deps.Tokenizer = tokens.ForModel
	}
	if deps.NewAgent == nil {
		logger := deps.Logger
		deps.NewAgent = func(p llm.Provider, t agent.ToolRunner) AgentRunner {
			return agent.NewExecutor(p, t, logger)
		}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Engine{
		deps:        deps,
		invoker:     llm.NewInvoker(deps.Logger),
		logger:      deps.Logger,
		accountants: make(map[string]*tokens.Accountant),
	}
}

func (e *Engine) accountant(model string) (*tokens.Accountant, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if acc, ok := e.accountants[model]; ok {
		return acc, nil
	}
	tok, err := e.deps.Tokenizer(model)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}
	acc := tokens.NewAccountantWith(tok)
	e.accountants[model] = acc
	return acc, nil
}

// Response is the outcome of one turn. When Error is set Content is empty
// and the usage buckets still hold what was spent.
type Response struct {
	ConversationID int64        `json:"conv_id"` // 0 when run without history
	Content        string       `json:"content"`
	Data           any          `json:"data,omitempty"` // decoded answer of assistants with an output schema
	Usage          tokens.Usage `json:"tokens"`
	Error          string       `json:"error,omitempty"`
}

// Failed reports whether the turn failed
func (r *Response) Failed() bool {
	return r.Error != ""
}

// Callbacks are notified about tool activity. Every field is optional and
// return values are never consulted.
type Callbacks struct {
	Action        func(msg string)
	Observation   func(msg string)
	AIObservation func(msg string)
	Output        func(msg string)
}

// RunOptions configures one turn
type RunOptions struct {
	// NoHistory runs the query without a conversation
	NoHistory bool
	// ConversationID continues a conversation; 0 starts a new one
	ConversationID int64
	// Context values substituted into the system prompt
	Context   map[string]string
	Overrides llm.RequestOverrides
	Callbacks Callbacks
}

// turn is the state of one Run
type turn struct {
	a        *Assistant
	convID   int64
	newConv  bool
	history  []llm.Message
	usage    tokens.Usage
	acc      *tokens.Accountant
	logger   *utils.Logger
	provider llm.Provider
}

// Run processes query with assistant a. Provider, tool and validation
// failures are reported in Response.Error. An error is returned only when
// the turn could not be recorded at all or the agent loop broke its protocol.
func (e *Engine) Run(ctx context.Context, a *Assistant, query string, opts RunOptions) (*Response, error) {
	start := e.deps.Now()
	t := &turn{a: a, logger: e.logger.WithField("assistant", a.Name)}
	t.logger.Info("Run: query=%q", utils.Shorten(query, 80))

	if !opts.NoHistory {
		if err := e.openConversation(t, opts.ConversationID); err != nil {
			return nil, err
		}
		if err := e.deps.Store.AddMessage(db.MessageHuman, query, t.convID); err != nil {
			return nil, fmt.Errorf("failed to store query: %w", err)
		}
	}

	content, data, err := e.execute(ctx, t, query, opts)
	if errors.Is(err, ErrUnexpectedEvent) {
		t.logger.Error("Agent protocol violation: %v", err)
		return nil, err
	}

	resp := &Response{ConversationID: t.convID}
	failed := err != nil
	if failed {
		resp.Error = FormatFailure(err)
		t.logger.Error("Turn failed: %s", resp.Error)
		e.persist(t, db.MessageTool, resp.Error)
	} else {
		resp.Content = content
		resp.Data = data
		e.persist(t, db.MessageAI, content)
	}
	t.usage.Finalize()
	resp.Usage = t.usage

	e.recordUsage(t, failed)
	if e.deps.Observer != nil {
		e.deps.Observer.TurnFinished(a.Name, t.usage.API.Model, failed, e.deps.Now().Sub(start), t.usage)
	}
	if !failed && t.newConv && a.NameConversations {
		e.nameConversation(ctx, t, query, content)
	}
	t.logger.Info("Run finished: conv_id=%d tokens=%d failed=%t", t.convID, t.usage.Total, failed)
	return resp, nil
}

func (e *Engine) openConversation(t *turn, convID int64) error {
	if convID == 0 {
		id, err := e.deps.Store.NewConversation(t.a.Name)
		if err != nil {
			return fmt.Errorf("failed to create conversation: %w", err)
		}
		t.convID = id
		t.newConv = true
		t.logger = t.logger.WithField("conv_id", id)
		return nil
	}

	valid, err := e.deps.Store.IsValid(convID)
	if err != nil {
		return fmt.Errorf("failed to check conversation: %w", err)
	}
	if !valid {
		return fmt.Errorf("conversation %d: %w", convID, db.ErrConversationNotFound)
	}
	t.convID = convID
	t.logger = t.logger.WithField("conv_id", convID)

	history, err := e.loadHistory(convID)
	if err != nil {
		return err
	}
	t.history = history
	return nil
}

// loadHistory rebuilds the model-facing history. TOOL messages are audit
// only. Images survive only in human messages and the newest AI reply.
func (e *Engine) loadHistory(convID int64) ([]llm.Message, error) {
	msgs, err := e.deps.Store.ListMessages(convID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	lastAI := -1
	for i, m := range msgs {
		if m.Type == db.MessageAI {
			lastAI = i
		}
	}

	history := make([]llm.Message, 0, len(msgs))
	for i, m := range msgs {
		switch m.Type {
		case db.MessageHuman:
			history = append(history, llm.NewMessage(llm.RoleUser, m.Text, true))
		case db.MessageAI:
			history = append(history, llm.NewMessage(llm.RoleAssistant, m.Text, i == lastAI))
		}
	}
	if limit := e.deps.MaxHistory; limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history, nil
}

// execute runs the model part of a turn. Panics from providers or tools are
// turned into errors.
func (e *Engine) execute(ctx context.Context, t *turn, query string, opts RunOptions) (content string, data any, err error) {
	defer utils.RecoverFromPanic(t.logger, "assistant "+t.a.Name, func(p error) { err = p })

	a := t.a
	api, provider, err := e.deps.Providers.Select(a.ForceAPI, opts.Overrides)
	if err != nil {
		return "", nil, err
	}
	t.provider = provider

	req := opts.Overrides.Apply(llm.Request{
		Model:       a.Model,
		Temperature: a.Temperature,
		MaxTokens:   a.MaxTokens,
		JSONMode:    a.JSONMode,
	})
	req.Model = e.deps.Providers.MapModel(api, req.Model)
	t.usage.API = tokens.API{Model: req.Model, MaxTokens: req.MaxTokens, Temp: req.Temperature}

	t.acc, err = e.accountant(req.Model)
	if err != nil {
		return "", nil, err
	}

	var specs []llm.ToolSpec
	if a.Type == TypeWithTools && len(a.Tools) > 0 {
		if e.deps.Tools == nil {
			return "", nil, errors.New("assistant uses tools but no tools are configured")
		}
		if specs, err = e.deps.Tools.Specs(a.Tools); err != nil {
			return "", nil, err
		}
	}

	system := RenderPrompt(a.Prompt, promptVars(e.deps.Now(), opts.Context))
	est := t.acc.EstimateTurn(system, t.history, specs)
	t.usage.Prompt = est.Prompt
	t.usage.History = est.History
	t.usage.Input = t.acc.CountMessage(query)

	req.Messages = make([]llm.Message, 0, len(t.history)+2)
	req.Messages = append(req.Messages, llm.Message{Role: llm.RoleSystem, Content: system})
	req.Messages = append(req.Messages, t.history...)
	req.Messages = append(req.Messages, llm.NewMessage(llm.RoleUser, query, true))

	if specs == nil {
		c, err := e.invoker.Invoke(ctx, provider, req)
		if err != nil {
			return "", nil, err
		}
		content = c.Text()
	} else {
		req.Tools = specs
		content, err = e.runAgent(ctx, t, req, opts.Callbacks)
		if err != nil {
			return "", nil, err
		}
	}
	t.usage.Output += t.acc.CountMessage(content)

	schema, err := a.outputSchema()
	if err != nil {
		return "", nil, err
	}
	if schema != nil {
		if data, err = decodeStructured(schema, content); err != nil {
			return "", nil, err
		}
	}
	return content, data, nil
}

// persist stores a message of the turn; failures after the query was
// recorded are logged, not returned
func (e *Engine) persist(t *turn, typ db.MessageType, text string) {
	if t.convID == 0 {
		return
	}
	if err := e.deps.Store.AddMessage(typ, text, t.convID); err != nil {
		t.logger.Error("Failed to store %s message: %v", typ, err)
	}
}

func (e *Engine) recordUsage(t *turn, failed bool) {
	err := e.deps.Store.RecordUsage(db.UsageRecord{
		ConversationID: t.convID,
		Assistant:      t.a.Name,
		Model:          t.usage.API.Model,
		Prompt:         t.usage.Prompt,
		History:        t.usage.History,
		Input:          t.usage.Input,
		Output:         t.usage.Output,
		Tools:          t.usage.Tools,
		Total:          t.usage.Total,
		Failed:         failed,
	})
	if err != nil {
		t.logger.Warn("Failed to record usage: %v", err)
	}
}

func (e *Engine) nameConversation(ctx context.Context, t *turn, query, answer string) {
	title, err := llm.GenerateTitle(ctx, t.provider, t.usage.API.Model, []llm.Message{
		{Role: llm.RoleUser, Content: query},
		{Role: llm.RoleAssistant, Content: answer},
	})
	if err != nil {
		t.logger.Warn("Failed to name conversation: %v", err)
		return
	}
	if err := e.deps.Store.UpdateConversation(t.convID, db.ConversationUpdate{Name: &title}); err != nil {
		t.logger.Warn("Failed to store conversation name: %v", err)
	}
}

// Estimate budgets the prompt and history of the next turn of a on convID
// before anything is sent; convID 0 counts the prompt only
func (e *Engine) Estimate(a *Assistant, convID int64) (tokens.Usage, error) {
	usage := tokens.Usage{API: tokens.API{Model: a.Model, MaxTokens: a.MaxTokens, Temp: a.Temperature}}
	if api, _, err := e.deps.Providers.Select(a.ForceAPI, llm.RequestOverrides{}); err == nil {
		usage.API.Model = e.deps.Providers.MapModel(api, a.Model)
	}
	acc, err := e.accountant(usage.API.Model)
	if err != nil {
		return usage, err
	}

	var history []llm.Message
	if convID != 0 {
		if history, err = e.loadHistory(convID); err != nil {
			return usage, err
		}
	}
	var specs []llm.ToolSpec
	if a.Type == TypeWithTools && len(a.Tools) > 0 && e.deps.Tools != nil {
		if specs, err = e.deps.Tools.Specs(a.Tools); err != nil {
			return usage, err
		}
	}

	est := acc.EstimateTurn(RenderPrompt(a.Prompt, promptVars(e.deps.Now(), nil)), history, specs)
	usage.Prompt = est.Prompt
	usage.History = est.History
	usage.Finalize()
	return usage, nil
}
