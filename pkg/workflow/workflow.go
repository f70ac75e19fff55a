// Package workflow runs one question through retrieval, generation and the
// tool-calling loop.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/xhad/askdoc/internal/models"
	"github.com/xhad/askdoc/internal/types"
)

const (
	DefaultK             = 3
	DefaultMaxToolRounds = 5

	// DefaultSystemTemplate receives the newline-joined retrieved passages.
	DefaultSystemTemplate = "Context:\n%s\n\nAnswer the user's question using the context provided."

	// fallbackAnswer is returned when the tool loop is cut short before the
	// model produced any text.
	fallbackAnswer = "I was unable to complete the calculation needed to answer this question."
)

// State is a node of the query state machine.
type State int

const (
	StateStart State = iota
	StateRetrieve
	StateGenerate
	StateTools
	StateEnd
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateRetrieve:
		return "retrieve"
	case StateGenerate:
		return "generate"
	case StateTools:
		return "tools"
	case StateEnd:
		return "end"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Generator is the language model seen by the workflow.
type Generator interface {
	Generate(ctx context.Context, messages []llms.MessageContent, tools []llms.Tool) (*llms.ContentChoice, error)
}

// ToolExecutor advertises and runs tools.
type ToolExecutor interface {
	Definitions() []llms.Tool
	Call(ctx context.Context, name, arguments string) (string, error)
}

type Config struct {
	K              int
	MaxToolRounds  int
	SystemTemplate string

	// OnTransition, when set, is called on every state change.
	OnTransition func(from, to State)
}

// Answer is the outcome of one query.
type Answer struct {
	Text       string
	Sources    []string
	ToolRounds int
	Partial    bool
}

// Workflow is built once and shared by all sessions. It holds no per-query
// state, so concurrent Runs are safe as long as the Generator and
// ToolExecutor are.
type Workflow struct {
	gen    Generator
	tools  ToolExecutor
	config Config
}

func New(gen Generator, tools ToolExecutor, config Config) (*Workflow, error) {
	if gen == nil {
		return nil, fmt.Errorf("%w: workflow needs a generator", types.ErrInvalidArgument)
	}
	if config.K < 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", types.ErrInvalidArgument, config.K)
	} else if config.K == 0 {
		config.K = DefaultK
	}
	if config.MaxToolRounds < 0 {
		return nil, fmt.Errorf("%w: max tool rounds cannot be negative", types.ErrInvalidArgument)
	} else if config.MaxToolRounds == 0 {
		config.MaxToolRounds = DefaultMaxToolRounds
	}
	if config.SystemTemplate == "" {
		config.SystemTemplate = DefaultSystemTemplate
	} else if strings.Count(config.SystemTemplate, "%s") != 1 {
		return nil, fmt.Errorf("%w: system template needs exactly one %%s placeholder", types.ErrInvalidArgument)
	}

	return &Workflow{gen: gen, tools: tools, config: config}, nil
}

// Config returns the effective configuration.
func (w *Workflow) Config() Config {
	return w.config
}

// runState is the scratch state of a single Run.
type runState struct {
	messages   []llms.MessageContent
	docs       []models.Chunk
	reply      *llms.ContentChoice
	lastText   string
	toolRounds int
}

// Run answers question about doc. history holds the earlier turns of the
// session, oldest first, and is not modified.
//
// When the model keeps requesting tools past MaxToolRounds, Run returns a
// partial Answer together with an error wrapping types.ErrToolLoopExceeded.
func (w *Workflow) Run(ctx context.Context, doc *types.DocumentContext, history []models.Message, question string) (*Answer, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: no document context", types.ErrSessionNotFound)
	}
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%w: empty question", types.ErrInvalidArgument)
	}

	rs := &runState{messages: seedMessages(history, question)}

	state := StateStart
	for state != StateEnd {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var next State
		switch state {
		case StateStart:
			next = StateRetrieve

		case StateRetrieve:
			if err := w.retrieve(ctx, doc, question, rs); err != nil {
				return nil, err
			}
			next = StateGenerate

		case StateGenerate:
			if err := w.generate(ctx, rs); err != nil {
				return nil, err
			}
			next = route(rs.reply)
			if next == StateTools && rs.toolRounds >= w.config.MaxToolRounds {
				w.transition(state, StateEnd)
				return w.partial(rs), fmt.Errorf("%w: model still calling tools after %d rounds",
					types.ErrToolLoopExceeded, rs.toolRounds)
			}

		case StateTools:
			w.runTools(ctx, rs)
			rs.toolRounds++
			next = StateGenerate

		default:
			return nil, fmt.Errorf("workflow reached unknown state %s", state)
		}

		w.transition(state, next)
		state = next
	}

	return &Answer{
		Text:       rs.reply.Content,
		Sources:    sources(rs.docs),
		ToolRounds: rs.toolRounds,
	}, nil
}

func (w *Workflow) transition(from, to State) {
	if w.config.OnTransition != nil {
		w.config.OnTransition(from, to)
	}
}

// route picks the state that follows a model reply.
func route(reply *llms.ContentChoice) State {
	if reply != nil && len(reply.ToolCalls) > 0 {
		return StateTools
	}
	return StateEnd
}

func (w *Workflow) retrieve(ctx context.Context, doc *types.DocumentContext, question string, rs *runState) error {
	if doc.Index == nil || doc.Index.Len() == 0 || len(doc.Chunks) == 0 {
		return nil
	}
	if doc.Index.Len() != len(doc.Chunks) {
		return fmt.Errorf("%w: index has %d rows for %d chunks", types.ErrInvalidArgument, doc.Index.Len(), len(doc.Chunks))
	}

	query, err := doc.Embedder.EmbedQuery(ctx, question)
	if err != nil {
		return fmt.Errorf("failed to embed question: %w", err)
	}

	k := w.config.K
	if k > len(doc.Chunks) {
		k = len(doc.Chunks)
	}

	results, err := doc.Index.Search(ctx, query, k)
	if err != nil {
		return fmt.Errorf("failed to search index: %w", err)
	}

	rs.docs = make([]models.Chunk, 0, len(results))
	for _, r := range results {
		if r.Row < 0 || r.Row >= len(doc.Chunks) {
			return fmt.Errorf("%w: index returned row %d outside [0, %d)", types.ErrInvalidArgument, r.Row, len(doc.Chunks))
		}
		rs.docs = append(rs.docs, doc.Chunks[r.Row])
	}
	return nil
}

func (w *Workflow) generate(ctx context.Context, rs *runState) error {
	texts := make([]string, len(rs.docs))
	for i, c := range rs.docs {
		texts[i] = c.Text
	}
	system := llms.TextParts(llms.ChatMessageTypeSystem,
		strings.Replace(w.config.SystemTemplate, "%s", strings.Join(texts, "\n"), 1))

	messages := make([]llms.MessageContent, 0, len(rs.messages)+1)
	messages = append(messages, system)
	messages = append(messages, rs.messages...)

	var defs []llms.Tool
	if w.tools != nil {
		defs = w.tools.Definitions()
	}

	reply, err := w.gen.Generate(ctx, messages, defs)
	if err != nil {
		return err
	}
	if reply == nil {
		return fmt.Errorf("%w: empty reply", types.ErrGeneration)
	}

	rs.reply = reply
	if strings.TrimSpace(reply.Content) != "" {
		rs.lastText = reply.Content
	}
	rs.messages = append(rs.messages, aiMessage(reply))
	return nil
}

// runTools answers every tool call of the last reply with exactly one tool
// message. Tool failures are reported to the model, not to the caller.
func (w *Workflow) runTools(ctx context.Context, rs *runState) {
	for _, call := range rs.reply.ToolCalls {
		var name, args string
		if call.FunctionCall != nil {
			name, args = call.FunctionCall.Name, call.FunctionCall.Arguments
		}

		var (
			content string
			err     error
		)
		if w.tools == nil {
			err = fmt.Errorf("%w %q", types.ErrUnknownTool, name)
		} else {
			content, err = w.tools.Call(ctx, name, args)
		}
		if err != nil {
			content = "error: " + toolErrorText(err)
		}

		rs.messages = append(rs.messages, llms.MessageContent{
			Role: llms.ChatMessageTypeTool,
			Parts: []llms.ContentPart{llms.ToolCallResponse{
				ToolCallID: call.ID,
				Name:       name,
				Content:    content,
			}},
		})
	}
}

func toolErrorText(err error) string {
	if errors.Is(err, types.ErrToolExecution) {
		return strings.TrimPrefix(err.Error(), types.ErrToolExecution.Error()+": ")
	}
	return err.Error()
}

func (w *Workflow) partial(rs *runState) *Answer {
	text := rs.lastText
	if text == "" {
		text = fallbackAnswer
	}
	return &Answer{
		Text:       text,
		Sources:    sources(rs.docs),
		ToolRounds: rs.toolRounds,
		Partial:    true,
	}
}

func aiMessage(reply *llms.ContentChoice) llms.MessageContent {
	msg := llms.MessageContent{Role: llms.ChatMessageTypeAI}
	if reply.Content != "" {
		msg.Parts = append(msg.Parts, llms.TextPart(reply.Content))
	}
	for _, call := range reply.ToolCalls {
		msg.Parts = append(msg.Parts, call)
	}
	return msg
}

func seedMessages(history []models.Message, question string) []llms.MessageContent {
	messages := make([]llms.MessageContent, 0, len(history)+1)
	for _, m := range history {
		role := llms.ChatMessageTypeHuman
		if m.Role == models.RoleAI {
			role = llms.ChatMessageTypeAI
		}
		messages = append(messages, llms.TextParts(role, m.Content))
	}
	return append(messages, llms.TextParts(llms.ChatMessageTypeHuman, question))
}

// sources lists the distinct source ids of docs in rank order.
func sources(docs []models.Chunk) []string {
	var out []string
	seen := make(map[string]bool)
	for _, d := range docs {
		if d.SourceID == "" || seen[d.SourceID] {
			continue
		}
		seen[d.SourceID] = true
		out = append(out, d.SourceID)
	}
	return out
}
