package channels

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/nigel-daniels/agents-langgraph/pkg/state"
)

// Schema is the ordered set of channels making up a graph state.
type Schema struct {
	channels []Channel
	byName   map[string]Channel
}

// NewSchema builds a schema from channels, keeping their declaration order.
func NewSchema(chs ...Channel) (*Schema, error) {
	s := &Schema{
		byName: make(map[string]Channel, len(chs)),
	}
	for _, ch := range chs {
		if ch == nil || ch.Name() == "" {
			return nil, ErrInvalidChannel
		}
		if _, exists := s.byName[ch.Name()]; exists {
			return nil, errors.Wrapf(ErrDuplicateChannel, "channel %s", ch.Name())
		}
		s.byName[ch.Name()] = ch
		s.channels = append(s.channels, ch)
	}
	return s, nil
}

// MustSchema is like NewSchema but panics on error.
func MustSchema(chs ...Channel) *Schema {
	s, err := NewSchema(chs...)
	if err != nil {
		panic(err)
	}
	return s
}

// Names returns the channel names in declaration order.
func (s *Schema) Names() []string {
	names := make([]string, len(s.channels))
	for i, ch := range s.channels {
		names[i] = ch.Name()
	}
	return names
}

func (s *Schema) Lookup(name string) (Channel, bool) {
	ch, ok := s.byName[name]
	return ch, ok
}

// Defaults returns a state holding every channel's default value.
func (s *Schema) Defaults() state.State {
	st := make(state.State, len(s.channels))
	for _, ch := range s.channels {
		st[ch.Name()] = ch.Default()
	}
	return st
}

// Check verifies that every key of update names a channel of the schema.
func (s *Schema) Check(update state.State) error {
	for _, key := range update.Keys() {
		if _, ok := s.byName[key]; !ok {
			return errors.Wrapf(ErrUnknownChannel, "channel %s", key)
		}
	}
	return nil
}

// Apply merges update into st and returns the result. Channels absent from update
// keep their value. st is never modified; on error nothing is applied.
func (s *Schema) Apply(st, update state.State) (state.State, error) {
	if err := s.Check(update); err != nil {
		return nil, err
	}

	next := st.Clone()
	for _, ch := range s.channels {
		incoming, ok := update[ch.Name()]
		if !ok {
			continue
		}
		merged, err := ch.Merge(st[ch.Name()], incoming)
		if err != nil {
			return nil, err
		}
		next[ch.Name()] = merged
	}
	return next, nil
}

// Encode serializes st as a JSON object keyed by channel name. Missing channels are
// written with their default value.
func (s *Schema) Encode(st state.State) ([]byte, error) {
	if err := s.Check(st); err != nil {
		return nil, err
	}

	raw := make(map[string]json.RawMessage, len(s.channels))
	for _, ch := range s.channels {
		data, err := ch.Encode(st[ch.Name()])
		if err != nil {
			return nil, err
		}
		raw[ch.Name()] = data
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, errors.Wrap(err, "encode state")
	}
	return data, nil
}

// Decode parses data produced by Encode. Channels absent from data take their
// default value and keys the schema does not know are ignored.
func (s *Schema) Decode(data []byte) (state.State, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "decode state")
	}

	st := make(state.State, len(s.channels))
	for _, ch := range s.channels {
		value, ok := raw[ch.Name()]
		if !ok {
			st[ch.Name()] = ch.Default()
			continue
		}
		v, err := ch.Decode(value)
		if err != nil {
			return nil, err
		}
		st[ch.Name()] = v
	}
	return st, nil
}
