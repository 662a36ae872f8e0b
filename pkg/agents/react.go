package agents

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/tools"

	"github.com/nigel-daniels/agents-langgraph/internal/log"
	"github.com/nigel-daniels/agents-langgraph/pkg/messages"
)

const DefaultMaxTurns = 5

// ErrMaxTurns is returned when the model has not answered within the turn limit.
var ErrMaxTurns = errors.New("no answer within the turn limit")

var (
	actionPattern = regexp.MustCompile(`(?m)^Action: (\w+): (.*)$`)
	answerPattern = regexp.MustCompile(`(?ms)^Answer:\s*(.+)$`)
)

const reactPrompt = `You run in a loop of Thought, Action, PAUSE, Observation.
At the end of the loop you output an Answer.
Use Thought to describe your thoughts about the question you have been asked.
Use Action to run one of the actions available to you, then return PAUSE.
Observation will be the result of running those actions.

Your available actions are:

%s
Example session:

Question: How much does a Bulldog weigh?
Thought: I should look the dogs weight up using averageDogWeight
Action: averageDogWeight: Bulldog
PAUSE

You will be called again with this:

Observation: A Bulldog weighs 51 lbs

You then output:

Answer: A Bulldog weighs 51 lbs`

// ReActLoop answers a question without a graph: the model is called in a loop and
// every "Action: <name>: <input>" line it writes is run and fed back as an
// Observation until it gives an Answer.
type ReActLoop struct {
	model    llms.Model
	actions  map[string]tools.Tool
	maxTurns int
}

type ReActOption func(*ReActLoop)

// WithMaxTurns bounds the number of model calls of one query.
func WithMaxTurns(n int) ReActOption {
	return func(r *ReActLoop) {
		r.maxTurns = n
	}
}

// WithAction makes t available to the model under t.Name(), replacing any action
// of the same name.
func WithAction(t tools.Tool) ReActOption {
	return func(r *ReActLoop) {
		r.actions[t.Name()] = t
	}
}

// NewReActLoop returns a loop with the calculate and averageDogWeight actions.
func NewReActLoop(model llms.Model, opts ...ReActOption) (*ReActLoop, error) {
	if model == nil {
		return nil, errors.New("react loop requires a model")
	}
	r := &ReActLoop{
		model:    model,
		maxTurns: DefaultMaxTurns,
		actions: map[string]tools.Tool{
			"calculate": namedTool{
				Tool:        tools.Calculator{},
				name:        "calculate",
				description: "e.g. calculate: 4 * 7 / 3\nRuns a calculation and returns the number",
			},
			"averageDogWeight": dogWeight{},
		},
	}
	for _, o := range opts {
		o(r)
	}
	if r.maxTurns < 1 {
		return nil, errors.Errorf("max turns must be positive, got %d", r.maxTurns)
	}
	return r, nil
}

// ReActResult is the outcome of one query.
type ReActResult struct {
	Answer string
	// Messages is the conversation with the model, starting with the system prompt.
	Messages []messages.Message
	Turns    int
}

// Query runs the loop for question. A reply with neither an Answer nor an Action
// ends the loop and is returned as the answer. When the turn limit is reached the
// partial result is returned with ErrMaxTurns.
func (r *ReActLoop) Query(ctx context.Context, question string) (*ReActResult, error) {
	res := &ReActResult{Messages: []messages.Message{messages.System(r.prompt())}}
	next := question
	for res.Turns < r.maxTurns {
		res.Turns++
		res.Messages = append(res.Messages, messages.Human(next))

		resp, err := r.model.GenerateContent(ctx, messages.ToLLM(res.Messages), llms.WithTemperature(0))
		if err != nil {
			return res, errors.Wrap(err, "failed to call model")
		}
		if len(resp.Choices) == 0 {
			return res, ErrNoChoices
		}
		reply := resp.Choices[0].Content
		res.Messages = append(res.Messages, messages.AI(reply))

		if m := answerPattern.FindStringSubmatch(reply); m != nil {
			res.Answer = strings.TrimSpace(m[1])
			return res, nil
		}
		m := actionPattern.FindStringSubmatch(reply)
		if m == nil {
			res.Answer = strings.TrimSpace(reply)
			return res, nil
		}

		observation, err := r.act(ctx, m[1], strings.TrimSpace(m[2]))
		if err != nil {
			return res, err
		}
		next = "Observation: " + observation
	}
	return res, ErrMaxTurns
}

// act runs one action. An unknown action is reported back to the model rather
// than failing the query.
func (r *ReActLoop) act(ctx context.Context, name, input string) (string, error) {
	t, ok := r.actions[name]
	if !ok {
		log.Warnw("model asked for an unknown action", "action", name, "input", input)
		return fmt.Sprintf("Unknown action: %s: %s", name, input), nil
	}
	log.Debugw("running action", "action", name, "input", input)
	out, err := t.Call(ctx, input)
	if err != nil {
		return "", errors.Wrapf(err, "action %s", name)
	}
	return out, nil
}

func (r *ReActLoop) prompt() string {
	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	slices.Sort(names)

	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "%s:\n%s\n\n", name, r.actions[name].Description())
	}
	return fmt.Sprintf(reactPrompt, b.String())
}

type namedTool struct {
	tools.Tool
	name        string
	description string
}

func (t namedTool) Name() string        { return t.name }
func (t namedTool) Description() string { return t.description }

// dogWeight looks up the average weight of a breed.
type dogWeight struct{}

var dogWeights = map[string]string{
	"scottish terrier": "A Scottish Terriers average weight is 20 lbs",
	"border collie":    "A Border Collies average weight is 37 lbs",
	"toy poodle":       "A Toy Poodles average weight is 7 lbs",
}

func (dogWeight) Name() string { return "averageDogWeight" }

func (dogWeight) Description() string {
	return "e.g. averageDogWeight: Collie\nreturns average weight of a dog when given the breed"
}

func (dogWeight) Call(_ context.Context, breed string) (string, error) {
	if w, ok := dogWeights[strings.ToLower(strings.TrimSpace(breed))]; ok {
		return w, nil
	}
	return "An average dog weighs 50 lbs", nil
}
