// Package messages holds the conversation history carried in agent state.
//
// Messages are identified so that a conversation can be edited in place: re-submitting
// a message with an existing ID replaces it in the history.
package messages

import (
	"github.com/tmc/langchaingo/llms"

	"github.com/nigel-daniels/agents-langgraph/pkg/channels"
	"github.com/nigel-daniels/agents-langgraph/pkg/state"
)

// Message is one entry of a conversation.
type Message struct {
	ID         string               `json:"id"`
	Role       llms.ChatMessageType `json:"role"`
	Content    string               `json:"content,omitempty"`
	ToolCalls  []llms.ToolCall      `json:"tool_calls,omitempty"`
	ToolCallID string               `json:"tool_call_id,omitempty"`
	Name       string               `json:"name,omitempty"`
}

func (m Message) Identity() string {
	return m.ID
}

func (m Message) WithIdentity(id string) Message {
	m.ID = id
	return m
}

// HasToolCalls reports whether m is an AI message requesting tools.
func (m Message) HasToolCalls() bool {
	return m.Role == llms.ChatMessageTypeAI && len(m.ToolCalls) > 0
}

func System(content string) Message {
	return Message{Role: llms.ChatMessageTypeSystem, Content: content}
}

func Human(content string) Message {
	return Message{Role: llms.ChatMessageTypeHuman, Content: content}
}

func AI(content string, calls ...llms.ToolCall) Message {
	return Message{Role: llms.ChatMessageTypeAI, Content: content, ToolCalls: calls}
}

// Tool is the result of the tool call identified by callID.
func Tool(callID, name, content string) Message {
	return Message{Role: llms.ChatMessageTypeTool, ToolCallID: callID, Name: name, Content: content}
}

// FromChoice converts a model completion into an AI message.
func FromChoice(choice *llms.ContentChoice) Message {
	if choice == nil {
		return AI("")
	}
	return AI(choice.Content, choice.ToolCalls...)
}

// ToLLM converts m into the langchaingo wire representation.
func (m Message) ToLLM() llms.MessageContent {
	switch m.Role {
	case llms.ChatMessageTypeTool:
		return llms.MessageContent{
			Role: llms.ChatMessageTypeTool,
			Parts: []llms.ContentPart{llms.ToolCallResponse{
				ToolCallID: m.ToolCallID,
				Name:       m.Name,
				Content:    m.Content,
			}},
		}
	case llms.ChatMessageTypeAI:
		parts := make([]llms.ContentPart, 0, len(m.ToolCalls)+1)
		if m.Content != "" {
			parts = append(parts, llms.TextPart(m.Content))
		}
		for _, call := range m.ToolCalls {
			parts = append(parts, call)
		}
		return llms.MessageContent{Role: llms.ChatMessageTypeAI, Parts: parts}
	default:
		return llms.TextParts(m.Role, m.Content)
	}
}

// ToLLM converts a history into langchaingo messages.
func ToLLM(msgs []Message) []llms.MessageContent {
	out := make([]llms.MessageContent, len(msgs))
	for i, m := range msgs {
		out[i] = m.ToLLM()
	}
	return out
}

// Last returns the final message of msgs.
func Last(msgs []Message) (Message, bool) {
	if len(msgs) == 0 {
		return Message{}, false
	}
	return msgs[len(msgs)-1], true
}

// Channel returns an upsert channel keyed by message ID.
func Channel(name string, opts ...channels.UpsertOption) channels.Channel {
	return channels.NewUpsert[Message](name, opts...)
}

// From reads the history stored under key.
func From(st state.State, key string) []Message {
	return state.Get[[]Message](st, key)
}
