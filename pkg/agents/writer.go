package agents

import (
	"context"
	"encoding/json"
	"iter"
	"strings"

	"github.com/pkg/errors"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/tools"

	"github.com/nigel-daniels/agents-langgraph/internal/log"
	"github.com/nigel-daniels/agents-langgraph/pkg/channels"
	"github.com/nigel-daniels/agents-langgraph/pkg/graph"
	"github.com/nigel-daniels/agents-langgraph/pkg/messages"
	"github.com/nigel-daniels/agents-langgraph/pkg/state"
)

// Writer channels.
const (
	TaskKey         = "task"
	PlanKey         = "plan"
	DraftKey        = "draft"
	CritiqueKey     = "critique"
	ContentKey      = "content"
	RevisionKey     = "revision_number"
	MaxRevisionsKey = "max_revisions"
)

// Writer nodes.
const (
	NodePlanner          = "planner"
	NodeResearchPlan     = "research_plan"
	NodeGenerate         = "generate"
	NodeReflect          = "reflect"
	NodeResearchCritique = "research_critique"
)

const (
	maxQueries       = 3
	DefaultRevisions = 2
)

const (
	planPrompt = `You are an expert writer tasked with writing a high level outline of an essay.
Write such an outline for the user provided topic. Give an outline of the essay along with any
relevant notes or instructions for the sections.`

	writerPrompt = `You are an essay assistant tasked with writing excellent 5-paragraph essays.
Generate the best essay possible for the user's request and the initial outline.
If the user provides critique, respond with a revised version of your previous attempts.
Utilize all the information below as needed:

------

`

	reflectionPrompt = `You are an instructor grading an essay submission. Generate critique and
recommendations for the user's submission. Provide detailed recommendations, including requests
for length, depth, style, etc.`

	researchPlanPrompt = `You are a researcher charged with providing information that can be used
when writing the following essay. Generate a list of search queries that will gather any relevant
information. Only generate 3 queries max. Answer with a JSON object {"queries": ["..."]}.`

	researchCritiquePrompt = `You are a researcher charged with providing information that can be
used when making any requested revisions (as outlined below). Generate a list of search queries
that will gather any relevant information. Only generate 3 queries max. Answer with a JSON object
{"queries": ["..."]}.`
)

// WriterSchema returns the channels of the essay writer.
func WriterSchema() *channels.Schema {
	return channels.MustSchema(
		channels.NewReplace[string](TaskKey, ""),
		channels.NewReplace[string](PlanKey, ""),
		channels.NewReplace[string](DraftKey, ""),
		channels.NewReplace[string](CritiqueKey, ""),
		channels.NewReplace[[]string](ContentKey, []string{}),
		channels.NewReplace[int](RevisionKey, 0),
		channels.NewReplace[int](MaxRevisionsKey, DefaultRevisions),
	)
}

// Writer plans, researches, drafts and critiques an essay until the revision budget
// is spent.
type Writer struct {
	graph       *graph.CompiledGraph
	model       llms.Model
	search      tools.Tool
	temperature float64
}

type WriterOption func(*Writer, *[]graph.CompilationOption)

func WithWriterTemperature(t float64) WriterOption {
	return func(w *Writer, _ *[]graph.CompilationOption) {
		w.temperature = t
	}
}

// WithWriterGraphOptions passes compilation options to the writer graph.
func WithWriterGraphOptions(opts ...graph.CompilationOption) WriterOption {
	return func(_ *Writer, graphOpts *[]graph.CompilationOption) {
		*graphOpts = append(*graphOpts, opts...)
	}
}

// NewWriter compiles the writer graph. search is called once per generated query.
func NewWriter(model llms.Model, search tools.Tool, opts ...WriterOption) (*Writer, error) {
	if model == nil || search == nil {
		return nil, errors.New("writer requires a model and a search tool")
	}
	w := &Writer{model: model, search: search}
	var graphOpts []graph.CompilationOption
	for _, o := range opts {
		o(w, &graphOpts)
	}

	g := graph.NewGraph("writer", WriterSchema()).
		AddNode(NodePlanner, w.plan).
		AddNode(NodeResearchPlan, w.researchPlan).
		AddNode(NodeGenerate, w.generate).
		AddNode(NodeReflect, w.reflect).
		AddNode(NodeResearchCritique, w.researchCritique).
		AddEdge(NodePlanner, NodeResearchPlan).
		AddEdge(NodeResearchPlan, NodeGenerate).
		AddEdge(NodeReflect, NodeResearchCritique).
		AddEdge(NodeResearchCritique, NodeGenerate).
		AddConditionalEdge(NodeGenerate, shouldContinue, map[string]string{
			"reflect": NodeReflect,
			"end":     graph.END,
		}).
		SetEntryPoint(NodePlanner)

	compiled, err := g.Compile(graphOpts...)
	if err != nil {
		return nil, err
	}
	w.graph = compiled
	return w, nil
}

func (w *Writer) Graph() *graph.CompiledGraph {
	return w.graph
}

// Input returns the initial state of an essay on task. The plan, research and
// drafts of an earlier essay on the same thread are cleared.
func Input(task string, maxRevisions int) state.State {
	return state.State{
		TaskKey:         task,
		MaxRevisionsKey: maxRevisions,
		RevisionKey:     1,
		PlanKey:         "",
		DraftKey:        "",
		CritiqueKey:     "",
		ContentKey:      []string{},
	}
}

// Write runs the writer on a new thread turn and returns the final state.
func (w *Writer) Write(ctx context.Context, threadID, task string, maxRevisions int) (*graph.Result, error) {
	return w.graph.Run(ctx, threadID, Input(task, maxRevisions))
}

// Stream is Write with one event per step.
func (w *Writer) Stream(ctx context.Context, threadID, task string, maxRevisions int) iter.Seq2[graph.Event, error] {
	return w.graph.Stream(ctx, threadID, Input(task, maxRevisions))
}

func shouldContinue(_ context.Context, st state.State) (string, error) {
	if state.Get[int](st, RevisionKey) > state.Get[int](st, MaxRevisionsKey) {
		return "end", nil
	}
	return "reflect", nil
}

func (w *Writer) complete(ctx context.Context, history []messages.Message, opts ...llms.CallOption) (string, error) {
	opts = append([]llms.CallOption{llms.WithTemperature(w.temperature)}, opts...)
	resp, err := w.model.GenerateContent(ctx, messages.ToLLM(history), opts...)
	if err != nil {
		return "", errors.Wrap(err, "failed to call model")
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}
	return resp.Choices[0].Content, nil
}

func (w *Writer) plan(ctx context.Context, st state.State) (state.State, error) {
	outline, err := w.complete(ctx, []messages.Message{
		messages.System(planPrompt),
		messages.Human(state.Get[string](st, TaskKey)),
	})
	if err != nil {
		return nil, err
	}
	return state.State{PlanKey: outline}, nil
}

func (w *Writer) researchPlan(ctx context.Context, st state.State) (state.State, error) {
	return w.research(ctx, st, researchPlanPrompt, state.Get[string](st, TaskKey))
}

func (w *Writer) researchCritique(ctx context.Context, st state.State) (state.State, error) {
	return w.research(ctx, st, researchCritiquePrompt, state.Get[string](st, CritiqueKey))
}

// research asks the model for search queries and adds the search results to the
// content gathered so far in this turn.
func (w *Writer) research(ctx context.Context, st state.State, prompt, subject string) (state.State, error) {
	raw, err := w.complete(ctx, []messages.Message{
		messages.System(prompt),
		messages.Human(subject),
	}, llms.WithJSONMode())
	if err != nil {
		return nil, err
	}

	var queries struct {
		Queries []string `json:"queries"`
	}
	if err := json.Unmarshal([]byte(raw), &queries); err != nil {
		return nil, errors.Wrapf(err, "failed to parse queries %q", raw)
	}
	if len(queries.Queries) > maxQueries {
		queries.Queries = queries.Queries[:maxQueries]
	}

	gathered := state.Get[[]string](st, ContentKey)
	content := make([]string, 0, len(gathered)+len(queries.Queries))
	content = append(content, gathered...)
	for _, q := range queries.Queries {
		result, err := w.search.Call(ctx, q)
		if err != nil {
			log.Warnw("search failed", "query", q, "error", err)
			continue
		}
		if result != "" {
			content = append(content, result)
		}
	}
	return state.State{ContentKey: content}, nil
}

func (w *Writer) generate(ctx context.Context, st state.State) (state.State, error) {
	content := strings.Join(state.Get[[]string](st, ContentKey), "\n\n")
	request := state.Get[string](st, TaskKey) + "\n\nHere is my plan:\n\n" + state.Get[string](st, PlanKey)

	history := []messages.Message{
		messages.System(writerPrompt + content),
		messages.Human(request),
	}
	if draft, critique := state.Get[string](st, DraftKey), state.Get[string](st, CritiqueKey); draft != "" && critique != "" {
		history = append(history, messages.AI(draft), messages.Human(critique))
	}

	essay, err := w.complete(ctx, history)
	if err != nil {
		return nil, err
	}
	return state.State{DraftKey: essay, RevisionKey: state.Get[int](st, RevisionKey) + 1}, nil
}

func (w *Writer) reflect(ctx context.Context, st state.State) (state.State, error) {
	critique, err := w.complete(ctx, []messages.Message{
		messages.System(reflectionPrompt),
		messages.Human(state.Get[string](st, DraftKey)),
	})
	if err != nil {
		return nil, err
	}
	return state.State{CritiqueKey: critique}, nil
}
