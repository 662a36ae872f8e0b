package agents

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/tools"

	"github.com/nigel-daniels/agents-langgraph/internal/log"
	"github.com/nigel-daniels/agents-langgraph/pkg/channels"
	"github.com/nigel-daniels/agents-langgraph/pkg/checkpoints"
	"github.com/nigel-daniels/agents-langgraph/pkg/graph"
	"github.com/nigel-daniels/agents-langgraph/pkg/messages"
	"github.com/nigel-daniels/agents-langgraph/pkg/state"
)

// Research agent channels and nodes.
const (
	MessagesKey = "messages"

	NodeLLM    = "llm"
	NodeAction = "action"

	// BadToolResult is returned to the model when it asks for a tool that does not exist.
	BadToolResult = "bad tool name, retry"
)

const defaultResearchPrompt = `You are a smart research assistant. Use the search engine to look up information.
You are allowed to make multiple calls (either together or in sequence).
Only look up information when you are sure of what you want.
If you need to look up some information before asking a follow up question, you are allowed to do that!`

var (
	// ErrNoChoices is returned when the model produced no completion
	ErrNoChoices = errors.New("model returned no choices")

	// ErrNoPendingAction is returned when editing tool calls of a thread that is not
	// paused before the action node
	ErrNoPendingAction = errors.New("no pending tool calls")
)

type researchConfig struct {
	system      string
	temperature float64
	approval    bool
	graphOpts   []graph.CompilationOption
}

type ResearchOption func(*researchConfig)

func WithSystemPrompt(prompt string) ResearchOption {
	return func(c *researchConfig) {
		c.system = prompt
	}
}

func WithTemperature(t float64) ResearchOption {
	return func(c *researchConfig) {
		c.temperature = t
	}
}

// WithoutApproval runs tools without pausing before the action node.
func WithoutApproval() ResearchOption {
	return func(c *researchConfig) {
		c.approval = false
	}
}

// WithGraphOptions passes compilation options, such as the checkpoint store, to
// the underlying graph.
func WithGraphOptions(opts ...graph.CompilationOption) ResearchOption {
	return func(c *researchConfig) {
		c.graphOpts = append(c.graphOpts, opts...)
	}
}

// ResearchAgent is an llm node that may request tools and an action node that runs
// them. By default the graph pauses before every action so that a human can approve,
// edit or answer the tool calls.
type ResearchAgent struct {
	graph       *graph.CompiledGraph
	model       llms.Model
	tools       map[string]tools.Tool
	definitions []llms.Tool
	system      string
	temperature float64
}

// NewResearchAgent compiles the agent graph around model and toolset.
func NewResearchAgent(model llms.Model, toolset []tools.Tool, opts ...ResearchOption) (*ResearchAgent, error) {
	if model == nil {
		return nil, errors.New("research agent requires a model")
	}
	cfg := researchConfig{system: defaultResearchPrompt, approval: true}
	for _, o := range opts {
		o(&cfg)
	}

	a := &ResearchAgent{
		model:       model,
		tools:       make(map[string]tools.Tool, len(toolset)),
		system:      cfg.system,
		temperature: cfg.temperature,
	}
	for _, t := range toolset {
		a.tools[t.Name()] = t
		a.definitions = append(a.definitions, toolDefinition(t))
	}

	g := graph.NewGraph("research", ResearchSchema()).
		AddNode(NodeLLM, a.callModel).
		AddNode(NodeAction, a.takeAction).
		AddConditionalEdge(NodeLLM, existsAction, map[string]string{
			"action": NodeAction,
			"end":    graph.END,
		}).
		AddEdge(NodeAction, NodeLLM).
		SetEntryPoint(NodeLLM)

	graphOpts := cfg.graphOpts
	if cfg.approval {
		graphOpts = append(graphOpts, graph.WithInterruptBefore(NodeAction))
	}
	compiled, err := g.Compile(graphOpts...)
	if err != nil {
		return nil, err
	}
	a.graph = compiled
	return a, nil
}

// ResearchSchema returns the single messages channel of the research agent.
func ResearchSchema() *channels.Schema {
	return channels.MustSchema(messages.Channel(MessagesKey))
}

// Graph returns the compiled agent graph.
func (a *ResearchAgent) Graph() *graph.CompiledGraph {
	return a.graph
}

// toolDefinition describes t as a function taking a single query string.
func toolDefinition(t tools.Tool) llms.Tool {
	return llms.Tool{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "The search query",
					},
				},
				"required": []string{"query"},
			},
		},
	}
}

func (a *ResearchAgent) callModel(ctx context.Context, st state.State) (state.State, error) {
	history := messages.From(st, MessagesKey)
	if a.system != "" {
		history = append([]messages.Message{messages.System(a.system)}, history...)
	}

	opts := []llms.CallOption{llms.WithTemperature(a.temperature)}
	if len(a.definitions) > 0 {
		opts = append(opts, llms.WithTools(a.definitions))
	}
	resp, err := a.model.GenerateContent(ctx, messages.ToLLM(history), opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to call model")
	}
	if len(resp.Choices) == 0 {
		return nil, ErrNoChoices
	}
	return state.State{MessagesKey: messages.FromChoice(resp.Choices[0])}, nil
}

func existsAction(_ context.Context, st state.State) (string, error) {
	last, ok := messages.Last(messages.From(st, MessagesKey))
	if ok && last.HasToolCalls() {
		return "action", nil
	}
	return "end", nil
}

func (a *ResearchAgent) takeAction(ctx context.Context, st state.State) (state.State, error) {
	last, ok := messages.Last(messages.From(st, MessagesKey))
	if !ok {
		return nil, nil
	}

	results := make([]messages.Message, 0, len(last.ToolCalls))
	for _, call := range last.ToolCalls {
		name, args := callName(call), callArguments(call)
		log.Infow("calling tool", "tool", name, "call", call.ID, "input", args)

		tool, found := a.tools[name]
		if !found {
			results = append(results, messages.Tool(call.ID, name, BadToolResult))
			continue
		}
		out, err := tool.Call(ctx, toolInput(args))
		if err != nil {
			// The model sees the failure and may retry.
			out = "tool error: " + err.Error()
		}
		results = append(results, messages.Tool(call.ID, name, out))
	}
	return state.State{MessagesKey: results}, nil
}

func callName(call llms.ToolCall) string {
	if call.FunctionCall == nil {
		return ""
	}
	return call.FunctionCall.Name
}

func callArguments(call llms.ToolCall) string {
	if call.FunctionCall == nil {
		return ""
	}
	return call.FunctionCall.Arguments
}

// toolInput extracts the query argument, falling back to the raw arguments.
func toolInput(arguments string) string {
	var args struct {
		Query string `json:"query"`
		Input string `json:"input"`
	}
	if err := json.Unmarshal([]byte(arguments), &args); err == nil {
		if args.Query != "" {
			return args.Query
		}
		if args.Input != "" {
			return args.Input
		}
	}
	return strings.TrimSpace(arguments)
}

// Ask starts a new turn on the thread with a human question.
func (a *ResearchAgent) Ask(ctx context.Context, threadID, question string, opts ...graph.ExecutionOption) (*graph.Result, error) {
	return a.graph.Run(ctx, threadID, state.State{MessagesKey: messages.Human(question)}, opts...)
}

// Continue resumes a paused thread, running the pending tool calls as they are.
func (a *ResearchAgent) Continue(ctx context.Context, threadID string, opts ...graph.ExecutionOption) (*graph.Result, error) {
	return a.graph.Run(ctx, threadID, nil, opts...)
}

// Conversation returns the message history of the latest checkpoint.
func (a *ResearchAgent) Conversation(ctx context.Context, threadID string) ([]messages.Message, error) {
	snap, err := a.graph.GetState(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return messages.From(snap.Values, MessagesKey), nil
}

// ProposedToolCalls returns the tool calls waiting for approval.
func (a *ResearchAgent) ProposedToolCalls(ctx context.Context, threadID string) ([]llms.ToolCall, error) {
	pending, err := a.pendingMessage(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return pending.ToolCalls, nil
}

func (a *ResearchAgent) pendingMessage(ctx context.Context, threadID string) (messages.Message, error) {
	snap, err := a.graph.GetState(ctx, threadID)
	if err != nil {
		return messages.Message{}, err
	}
	last, ok := messages.Last(messages.From(snap.Values, MessagesKey))
	if !ok || !last.HasToolCalls() || len(snap.Next) != 1 || snap.Next[0] != NodeAction {
		return messages.Message{}, errors.Wrapf(ErrNoPendingAction, "thread %s", threadID)
	}
	return last, nil
}

// ReplaceToolCall swaps the pending tool call with the same ID for call. The AI
// message is re-submitted under its own ID so it is replaced in place, and the
// thread stays paused before the action node.
func (a *ResearchAgent) ReplaceToolCall(ctx context.Context, threadID string, call llms.ToolCall) (*graph.Snapshot, error) {
	pending, err := a.pendingMessage(ctx, threadID)
	if err != nil {
		return nil, err
	}

	edited := pending
	edited.ToolCalls = make([]llms.ToolCall, len(pending.ToolCalls))
	replaced := false
	for i, existing := range pending.ToolCalls {
		if existing.ID == call.ID {
			edited.ToolCalls[i] = call
			replaced = true
			continue
		}
		edited.ToolCalls[i] = existing
	}
	if !replaced {
		return nil, errors.Wrapf(ErrNoPendingAction, "tool call %s", call.ID)
	}

	return a.graph.UpdateState(ctx, checkpoints.Ref{ThreadID: threadID}, state.State{MessagesKey: edited}, "")
}

// InjectToolResult answers every pending tool call with content as if the action
// node had run. Resuming then goes straight back to the model.
func (a *ResearchAgent) InjectToolResult(ctx context.Context, threadID, content string) (*graph.Snapshot, error) {
	pending, err := a.pendingMessage(ctx, threadID)
	if err != nil {
		return nil, err
	}

	results := make([]messages.Message, 0, len(pending.ToolCalls))
	for _, call := range pending.ToolCalls {
		results = append(results, messages.Tool(call.ID, callName(call), content))
	}
	return a.graph.UpdateState(ctx, checkpoints.Ref{ThreadID: threadID}, state.State{MessagesKey: results}, NodeAction)
}
