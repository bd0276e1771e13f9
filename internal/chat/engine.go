package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultMaxToolCallsPerQuery = 25
	defaultToolCallTimeout      = 60 * time.Second
	defaultMaxOutputTokens      = 4096

	// toolResultSeparator joins multiple content items from one invocation.
	toolResultSeparator = "\n\n"
)

// Settings are the caller-adjustable knobs of the engine. Zero values fall
// back to defaults at the point of use.
type Settings struct {
	SystemPrompt         string
	Model                string
	MaxOutputTokens      int
	MaxToolCallsPerQuery int
	ToolCallTimeout      time.Duration
	Window               WindowConfig
	Retry                RetryConfig
}

// SettingsPatch updates a subset of Settings; nil fields are left as-is.
type SettingsPatch struct {
	SystemPrompt         *string
	Model                *string
	MaxOutputTokens      *int
	MaxToolCallsPerQuery *int
	ToolCallTimeoutSec   *int
}

// Engine owns one conversation and orchestrates completion calls and tool
// execution over it. All mutation of the transcript goes through the repair
// engine, the window manager, and the commit steps below; callers only see
// clones. The engine assumes exclusive access: a second concurrent
// ProcessQuery is rejected with ErrQueryInFlight.
type Engine struct {
	service CompletionService
	store   Store // optional

	mu       sync.Mutex // guards conv, tools, settings
	conv     []Message
	tools    []ToolSpec
	settings Settings

	busy atomic.Bool
}

// NewEngine creates an engine over the given completion service. store may
// be nil when persistence is disabled.
func NewEngine(service CompletionService, store Store, settings Settings) *Engine {
	return &Engine{
		service:  service,
		store:    store,
		settings: settings,
	}
}

// Restore replaces the conversation with a previously persisted snapshot.
// The snapshot is repaired on the way in: it may have been truncated or
// hand-edited between engine lifetimes.
func (e *Engine) Restore(messages []Message) {
	e.mu.Lock()
	e.conv = Repair(CloneMessages(messages))
	e.mu.Unlock()
}

// Reset discards the conversation.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.conv = nil
	e.mu.Unlock()
}

// Flattened returns a read-only projection of the conversation with one
// part per turn, for display and persistence surfaces that render one block
// per row. The projection is never written back.
func (e *Engine) Flattened() []Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Flatten(e.conv)
}

// UpdateSettings applies a patch to the engine settings.
func (e *Engine) UpdateSettings(patch SettingsPatch) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if patch.SystemPrompt != nil {
		e.settings.SystemPrompt = *patch.SystemPrompt
	}
	if patch.Model != nil {
		e.settings.Model = *patch.Model
	}
	if patch.MaxOutputTokens != nil {
		e.settings.MaxOutputTokens = *patch.MaxOutputTokens
	}
	if patch.MaxToolCallsPerQuery != nil {
		e.settings.MaxToolCallsPerQuery = *patch.MaxToolCallsPerQuery
	}
	if patch.ToolCallTimeoutSec != nil {
		e.settings.ToolCallTimeout = time.Duration(*patch.ToolCallTimeoutSec) * time.Second
	}
}

// SetToolCatalog replaces the tool catalog snapshot wholesale. Called by the
// gateway layer when the server reports a tool list change.
func (e *Engine) SetToolCatalog(entries []ToolSpec) {
	e.mu.Lock()
	e.tools = append([]ToolSpec(nil), entries...)
	e.mu.Unlock()
}

// HandleNotification receives raw out-of-band notifications from the
// gateway. The engine has no use for them beyond tracing; the hook exists so
// the hosting application has a single place to route them.
func (e *Engine) HandleNotification(raw string) {
	debugf("gateway notification: %s", raw)
}

// ProcessQuery runs one user query to completion: it appends the user turn,
// then alternates completion calls and tool rounds until a response carries
// no tool calls or the per-query tool budget is exhausted. emit receives
// every output part in order. A completion failure after retries is fatal
// for the query: the error text is committed as an assistant turn, emitted,
// and returned.
func (e *Engine) ProcessQuery(ctx context.Context, gateway ToolGateway, text string, emit EmitFunc) error {
	if !e.busy.CompareAndSwap(false, true) {
		return ErrQueryInFlight
	}
	defer e.busy.Store(false)

	if emit == nil {
		emit = func(Role, Part) {}
	}

	e.commit(UserText(text))

	calls := 0
	for {
		resp, err := e.completeWithRetry(ctx)
		if err != nil {
			errTurn := AssistantText(fmt.Sprintf("Error: %v", err))
			e.commit(errTurn)
			emit(RoleAssistant, errTurn.Parts[0])
			e.snapshot(ctx)
			return err
		}

		done := e.handleResponse(ctx, gateway, resp, emit, &calls)
		e.snapshot(ctx)
		if done {
			return nil
		}
	}
}

// handleResponse consumes one completion response: emits text and tool-call
// parts in their original order, commits the assistant turn, executes the
// round's tool calls sequentially, and commits their results as one tool
// turn. Returns true when the query is finished.
func (e *Engine) handleResponse(ctx context.Context, gateway ToolGateway, resp *Response, emit EmitFunc, calls *int) bool {
	maxCalls := e.maxToolCalls()

	var parts []Part
	var round []ToolCall
	capReached := false

	for _, part := range resp.Parts {
		switch part.Type {
		case PartText:
			if part.Text == "" {
				continue
			}
			parts = append(parts, part)
			emit(RoleAssistant, part)
		case PartToolCall:
			if part.ToolCall == nil {
				continue
			}
			if *calls >= maxCalls {
				limit := Part{Type: PartText, Text: toolBudgetMessage(maxCalls)}
				parts = append(parts, limit)
				emit(RoleAssistant, limit)
				capReached = true
			} else {
				parts = append(parts, part)
				emit(RoleAssistant, part)
				round = append(round, *part.ToolCall)
				*calls++
			}
		default:
			parts = append(parts, part)
			emit(RoleAssistant, part)
		}
		if capReached {
			break
		}
	}

	if len(parts) > 0 {
		e.commit(Message{Role: RoleAssistant, Parts: parts})
	}

	if capReached {
		// The budget message already told the user what happened. Tool calls
		// committed this round go undispatched; the repair engine will
		// synthesize their results before the next query's completion call.
		return true
	}
	if len(round) == 0 {
		return true
	}

	// Sequential on purpose: results must land in invocation order for the
	// transcript to stay deterministic.
	results := make([]Part, 0, len(round))
	for _, call := range round {
		result := e.invokeTool(ctx, gateway, call)
		results = append(results, result)
		emit(RoleTool, result)
	}
	e.commit(Message{Role: RoleTool, Parts: results})
	return false
}

// invokeTool runs one gateway call under the configured timeout. Failures,
// timeouts, and empty results all become isError result parts fed back to
// the model; they never abort the query.
func (e *Engine) invokeTool(ctx context.Context, gateway ToolGateway, call ToolCall) Part {
	errPart := func(format string, args ...any) Part {
		return Part{Type: PartToolResult, ToolResult: &ToolResult{
			ID:      call.ID,
			Content: fmt.Sprintf(format, args...),
			IsError: true,
		}}
	}

	if gateway == nil {
		return errPart("tool %s unavailable: no gateway connected", call.Name)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.toolCallTimeout())
	defer cancel()

	debugf("invoking tool %s id=%s", call.Name, call.ID)
	out, err := gateway.Invoke(callCtx, call.Name, call.Arguments)
	if err != nil {
		return errPart("tool %s failed: %v", call.Name, err)
	}
	if out == nil || len(out.Items) == 0 {
		return errPart("tool %s returned no content", call.Name)
	}

	texts := make([]string, 0, len(out.Items))
	for _, item := range out.Items {
		switch {
		case item.Text != "":
			texts = append(texts, item.Text)
		case item.Data != "":
			texts = append(texts, fmt.Sprintf("[%s content, %d bytes base64]", item.MimeType, len(item.Data)))
		}
	}
	content := strings.Join(texts, toolResultSeparator)
	if content == "" {
		return errPart("tool %s returned no content", call.Name)
	}

	return Part{Type: PartToolResult, ToolResult: &ToolResult{
		ID:      call.ID,
		Content: content,
		IsError: out.IsError,
	}}
}

// commit appends a turn to the conversation. Turns are appended whole and
// never edited afterwards.
func (e *Engine) commit(msg Message) {
	e.mu.Lock()
	e.conv = append(e.conv, msg)
	e.mu.Unlock()
}

// snapshot persists the current transcript. Best effort: a tool result that
// was already committed stays committed even if the caller has gone away, so
// the persisted state matches what the completion service saw.
func (e *Engine) snapshot(ctx context.Context) {
	if e.store == nil {
		return
	}
	e.mu.Lock()
	conv := CloneMessages(e.conv)
	e.mu.Unlock()
	if err := e.store.Save(ctx, conv); err != nil {
		debugf("snapshot save failed: %v", err)
	}
}

func (e *Engine) maxToolCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.settings.MaxToolCallsPerQuery > 0 {
		return e.settings.MaxToolCallsPerQuery
	}
	return defaultMaxToolCallsPerQuery
}

func (e *Engine) toolCallTimeout() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.settings.ToolCallTimeout > 0 {
		return e.settings.ToolCallTimeout
	}
	return defaultToolCallTimeout
}

func toolBudgetMessage(maxCalls int) string {
	return fmt.Sprintf(
		"Tool call limit reached: this query already used %d tool calls. "+
			"Ask again to continue, or raise max_tool_calls_per_query in the settings.",
		maxCalls)
}
