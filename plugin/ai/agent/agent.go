package agent

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"

	"github.com/hrygo/brandpulse/plugin/ai"
	"github.com/hrygo/brandpulse/plugin/ai/agent/tools"
	"github.com/hrygo/brandpulse/plugin/ai/memory"
	"github.com/hrygo/brandpulse/plugin/ai/timeout"
	"github.com/hrygo/brandpulse/plugin/ai/vector"
	"github.com/hrygo/brandpulse/store"
)

var (
	// ErrEmptyQuestion is returned for blank questions.
	ErrEmptyQuestion = errors.New("question cannot be empty")

	errToolPanic    = errors.New("tool panicked")
	errStreamClosed = errors.New("event sink closed")
)

// Disabled turns off MaxQueryRetries or SampleRows; zero selects the default.
const Disabled = -1

// Config holds the limits of every agent run. Zero fields take their defaults.
type Config struct {
	MaxRows         int // Row cap of every query, default 50
	MaxSteps        int // LLM calls per turn, default 8
	MaxQueryRetries int // Corrective retries after a failed query, default 1, Disabled for none
	HistoryWindow   int // User and assistant turns replayed from memory, default 10
	StreamBuffer    int // Capacity of the Stream channel, default 8
	SampleRows      int // Example rows rendered per table in the schema, default 3, Disabled for none
}

func (c *Config) applyDefaults() {
	if c.MaxRows <= 0 {
		c.MaxRows = 50
	}
	if c.MaxSteps <= 0 {
		c.MaxSteps = timeout.MaxIterations
	}
	switch {
	case c.MaxQueryRetries == 0:
		c.MaxQueryRetries = timeout.MaxQueryRetries
	case c.MaxQueryRetries < 0:
		c.MaxQueryRetries = 0
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = 10
	}
	if c.StreamBuffer <= 0 {
		c.StreamBuffer = 8
	}
	switch {
	case c.SampleRows == 0:
		c.SampleRows = 3
	case c.SampleRows < 0:
		c.SampleRows = 0
	}
}

// Deps are the process-wide collaborators shared by all agents.
type Deps struct {
	LLM    ai.LLMService
	Store  *store.Store
	Index  vector.Index
	Memory memory.Memory
	// Observer is optional.
	Observer Observer
	Config   Config
}

// Runtime owns the shared, read-only state of all agent runs.
// Runtime 持有所有代理运行共享的只读状态。
type Runtime struct {
	llm      ai.LLMService
	memory   memory.Memory
	observer Observer
	config   Config

	schema  *tools.SchemaCache
	toolkit *Toolkit
	guard   *DomainGuard

	mu         sync.Mutex
	promptDesc *tools.Descriptor
	prompt     string
}

// NewRuntime validates deps and builds the shared tools.
func NewRuntime(deps Deps) (*Runtime, error) {
	if deps.LLM == nil {
		return nil, errors.New("llm cannot be nil")
	}
	if deps.Store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if deps.Memory == nil {
		return nil, errors.New("memory cannot be nil")
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	cfg := deps.Config
	cfg.applyDefaults()

	schema := tools.NewSchemaCache(deps.Store, cfg.SampleRows)
	checker := tools.NewChecker(deps.Store, cfg.MaxRows)
	toolkit := NewToolkit(
		tools.NewListTablesTool(schema),
		tools.NewSchemaTool(schema),
		tools.NewQueryCheckerTool(checker),
		tools.NewQueryTool(deps.Store, checker),
		tools.NewRetrievalTool(deps.Index),
	)

	return &Runtime{
		llm:      deps.LLM,
		memory:   deps.Memory,
		observer: deps.Observer,
		config:   cfg,
		schema:   schema,
		toolkit:  toolkit,
		guard:    NewDomainGuard(deps.LLM),
	}, nil
}

// Schema returns the shared schema cache.
func (r *Runtime) Schema() *tools.SchemaCache { return r.schema }

// Toolkit returns the shared tools.
func (r *Runtime) Toolkit() *Toolkit { return r.toolkit }

// Memory returns the conversation memory.
func (r *Runtime) Memory() memory.Memory { return r.memory }

// NewAgent creates the agent of one request.
func (r *Runtime) NewAgent(sessionID string) *Agent {
	return &Agent{rt: r, sessionID: sessionID}
}

// systemPrompt renders the system instruction once per schema descriptor.
func (r *Runtime) systemPrompt(ctx context.Context) (string, error) {
	desc, err := r.schema.Get(ctx)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.promptDesc != desc {
		r.prompt = buildSystemPrompt(desc, r.config.MaxRows)
		r.promptDesc = desc
	}
	return r.prompt, nil
}

// Agent answers the questions of one session.
// Agent 回答单个会话中的问题。
type Agent struct {
	rt        *Runtime
	sessionID string
}

// SessionID returns the session the agent belongs to.
func (a *Agent) SessionID() string { return a.sessionID }

// Stream runs the agent in a goroutine and returns its events. The channel is
// closed after the terminal EventDone. Callers must drain the channel; cancel
// ctx to stop the run early.
func (a *Agent) Stream(ctx context.Context, question string) <-chan StreamEvent {
	events := make(chan StreamEvent, a.rt.config.StreamBuffer)
	go func() {
		defer close(events)
		_ = a.Run(ctx, question, func(ev StreamEvent) error {
			if ev.Kind == EventError || ev.Kind == EventDone {
				events <- ev
				return nil
			}
			select {
			case events <- ev:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()
	return events
}

// Run answers question synchronously, passing events to sink. The event
// sequence always ends with one EventDone, preceded by an EventError when
// the run failed. The returned error is nil for every complete answer.
func (a *Agent) Run(ctx context.Context, question string, sink Sink) (err error) {
	start := time.Now()
	emit := func(ev StreamEvent) error {
		if sinkErr := sink(ev); sinkErr != nil {
			return errors.Wrap(errStreamClosed, sinkErr.Error())
		}
		return nil
	}

	slog.Info("agent run started",
		"session_id", a.sessionID,
		"input", logPreview(question, timeout.MaxTruncateLength))

	outcome := OutcomeError
	defer func() {
		if r := recover(); r != nil {
			slog.Error("agent run panicked",
				"session_id", a.sessionID,
				"panic", r,
				"stack", string(debug.Stack()))
			err = NewAgentError(a.sessionID, "run", fmt.Errorf("panic: %v", r))
			outcome = OutcomeError
		}

		if err != nil {
			if ctx.Err() != nil || errors.Is(err, errStreamClosed) || errors.Is(err, context.Canceled) {
				outcome = OutcomeCanceled
			} else {
				_ = sink(StreamEvent{Kind: EventError, Err: userMessage(err)})
			}
		}
		_ = sink(StreamEvent{Kind: EventDone})

		a.rt.observer.ObserveRun(outcome, time.Since(start))
		attrs := []any{
			"session_id", a.sessionID,
			"outcome", outcome,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if err != nil {
			slog.Warn("agent run failed", append(attrs, "error", err)...)
		} else {
			slog.Info("agent run completed", attrs...)
		}
	}()

	if strings.TrimSpace(question) == "" {
		return ErrEmptyQuestion
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout.AgentTimeout)
	defer cancel()

	outcome, err = a.run(runCtx, question, emit)
	return err
}

// turn accumulates the state of one question.
type turn struct {
	turns     []memory.Turn
	answer    strings.Builder // content of the current step only
	streamed  bool            // any content reached the client
	grounding *grounding
	failures  int
}

func (a *Agent) run(ctx context.Context, question string, emit Sink) (Outcome, error) {
	history, err := a.rt.memory.Get(ctx, a.sessionID)
	if err != nil {
		return OutcomeError, NewAgentError(a.sessionID, "load history", err)
	}

	t := &turn{
		turns:     []memory.Turn{{Role: memory.RoleUser, Content: question}},
		grounding: newGrounding(),
	}

	verdict := a.rt.guard.Classify(ctx, question, previousQuestion(history))
	a.rt.observer.ObserveDomainGuard(verdict.Method, verdict.InDomain)
	if !verdict.InDomain {
		return a.finish(ctx, t, OutcomeDeclined, DeclinationMessage, emit)
	}

	prompt, err := a.rt.systemPrompt(ctx)
	if err != nil {
		return OutcomeError, NewAgentError(a.sessionID, "load schema", err)
	}

	messages := make([]ai.Message, 0, a.rt.config.HistoryWindow+8)
	messages = append(messages, ai.SystemPrompt(prompt))
	messages = append(messages, replayHistory(history, a.rt.config.HistoryWindow)...)
	messages = append(messages, ai.UserMessage(question))

	onDelta := func(delta string) error {
		t.answer.WriteString(delta)
		t.streamed = true
		return emit(StreamEvent{Kind: EventContent, Text: delta})
	}

	for step := 0; step < a.rt.config.MaxSteps; step++ {
		resp, err := a.rt.llm.ChatWithTools(ctx, messages, a.rt.toolkit.Descriptors(), onDelta)
		if err != nil {
			return OutcomeError, NewAgentError(a.sessionID, "chat", err)
		}

		if len(resp.ToolCalls) == 0 {
			if t.answer.Len() == 0 {
				return OutcomeError, NewAgentError(a.sessionID, "chat", errors.New("empty answer"))
			}
			return a.commit(ctx, t, OutcomeAnswered)
		}

		messages = append(messages, ai.Message{
			Role:      openai.ChatMessageRoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		// Text before tool calls is narration, not the answer; it stays in the replayed messages only.
		t.answer.Reset()
		for _, call := range resp.ToolCalls {
			output, exhausted, err := a.invoke(ctx, t, call, emit)
			if err != nil {
				return OutcomeError, err
			}
			if exhausted {
				return a.finish(ctx, t, OutcomeUnable, UnableToAnswerMessage, emit)
			}
			messages = append(messages, ai.ToolMessage(call.ID, output))
		}
	}

	slog.Warn("agent step limit reached", "session_id", a.sessionID, "max_steps", a.rt.config.MaxSteps)
	return a.finish(ctx, t, OutcomeUnable, StepLimitMessage, emit)
}

// invoke executes one tool call. Recoverable failures become the tool output.
// exhausted reports that the query retry budget is used up.
func (a *Agent) invoke(ctx context.Context, t *turn, call ai.ToolCall, emit Sink) (output string, exhausted bool, err error) {
	kind, ok := ParseToolKind(call.Name)
	if !ok {
		slog.Warn("model requested unknown tool", "session_id", a.sessionID, "tool", call.Name)
		return fmt.Sprintf("Error: unknown tool %q", call.Name), false, nil
	}

	if err := emit(StreamEvent{Kind: EventToolStart, Tool: kind.String(), Status: kind.startStatus(), Input: call.Arguments}); err != nil {
		return "", false, err
	}

	start := time.Now()
	output, runErr := a.runTool(ctx, t, kind, call.Arguments)
	duration := time.Since(start)
	a.rt.observer.ObserveTool(kind.String(), runErr != nil, duration)

	record := &memory.ToolRecord{
		Name:     kind.String(),
		Input:    call.Arguments,
		Output:   output,
		Duration: duration,
	}

	if runErr != nil {
		if ctx.Err() != nil || errors.Is(runErr, errToolPanic) || !tools.IsRecoverable(runErr) {
			return "", false, NewAgentError(a.sessionID, kind.String(), runErr)
		}

		retryAllowed := true
		if tools.IsQueryFailure(runErr) {
			t.failures++
			retryAllowed = t.failures <= a.rt.config.MaxQueryRetries
			if retryAllowed {
				a.rt.observer.ObserveQueryRetry()
			}
		}
		output = formatToolFailure(runErr, retryAllowed && tools.IsQueryFailure(runErr))
		record.Output = ""
		record.Error = runErr.Error()
		exhausted = !retryAllowed

		slog.Info("tool call failed",
			"session_id", a.sessionID,
			"tool", kind.String(),
			"failures", t.failures,
			"error", runErr)
	}

	t.turns = append(t.turns, memory.Turn{Role: memory.RoleTool, Content: output, Tool: record})
	if err := emit(StreamEvent{Kind: EventToolEnd, Tool: kind.String(), Status: kind.endStatus(), Output: output}); err != nil {
		return "", false, err
	}
	return output, exhausted, nil
}

// runTool dispatches a call with the tool timeout. Panics are converted to errToolPanic.
func (a *Agent) runTool(ctx context.Context, t *turn, kind ToolKind, input string) (output string, err error) {
	ctx, cancel := context.WithTimeout(ctx, timeout.ToolExecutionTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("tool panicked",
				"tool", kind.String(),
				"panic", r,
				"stack", string(debug.Stack()))
			err = errors.Wrapf(errToolPanic, "%s: %v", kind, r)
		}
	}()

	tk := a.rt.toolkit
	switch kind {
	case ToolSearchProperNouns:
		in, err := tools.ParseRetrievalInput(input)
		if err != nil {
			return "", err
		}
		candidates := tk.Retrieval.Lookup(ctx, in.Query, in.K)
		t.grounding.record(in.Query, candidates)
		return tools.FormatCandidates(candidates), nil

	case ToolQuery:
		query, err := tools.ParseQueryInput(input)
		if err != nil {
			return "", err
		}
		res, err := tk.Query.Execute(ctx, query, t.grounding.check)
		if err != nil {
			return "", err
		}
		slog.Debug("query executed",
			"session_id", a.sessionID,
			"query", logPreview(res.Query, timeout.MaxTruncateLength),
			"rows", len(res.Result.Rows))
		return res.String(), nil

	default:
		return tk.Tool(kind).Run(ctx, input)
	}
}

// finish streams a fixed answer and commits the turn.
func (a *Agent) finish(ctx context.Context, t *turn, outcome Outcome, message string, emit Sink) (Outcome, error) {
	text := message
	if t.streamed {
		text = "\n\n" + message
	}
	t.answer.Reset()
	t.answer.WriteString(message)
	if err := emit(StreamEvent{Kind: EventContent, Text: text}); err != nil {
		return OutcomeCanceled, err
	}
	return a.commit(ctx, t, outcome)
}

// commit appends the user question, tool turns and answer in one call.
func (a *Agent) commit(ctx context.Context, t *turn, outcome Outcome) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return OutcomeCanceled, err
	}
	turns := append(t.turns, memory.Turn{Role: memory.RoleAssistant, Content: t.answer.String()})
	if _, err := a.rt.memory.Append(ctx, a.sessionID, turns...); err != nil {
		return OutcomeError, NewAgentError(a.sessionID, "commit", err)
	}
	return outcome, nil
}

// replayHistory returns the last window user and assistant turns as messages.
func replayHistory(history []memory.Turn, window int) []ai.Message {
	var msgs []ai.Message
	for i := len(history) - 1; i >= 0 && len(msgs) < window; i-- {
		switch history[i].Role {
		case memory.RoleUser:
			msgs = append(msgs, ai.UserMessage(history[i].Content))
		case memory.RoleAssistant:
			msgs = append(msgs, ai.AssistantMessage(history[i].Content))
		}
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs
}

func previousQuestion(history []memory.Turn) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == memory.RoleUser {
			return history[i].Content
		}
	}
	return ""
}

// userMessage maps a run error to the text shown to the user.
func userMessage(err error) string {
	switch {
	case errors.Is(err, ErrEmptyQuestion):
		return ErrEmptyQuestion.Error()
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, store.ErrQueryTimeout):
		return "The request took too long to complete. Please try a simpler question."
	default:
		return InternalErrorMessage
	}
}
