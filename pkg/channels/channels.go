// Package channels implements the typed slots of shared graph state and their merge
// policies.
//
// Every channel has a name, a default value and a merge function. The merge function
// receives the current value (nil before the first write) and a partial update and
// returns the next value. Merge functions never mutate their inputs; slice based
// channels always allocate a new slice.
package channels

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrTypeMismatch is returned when a value does not fit the channel type.
	ErrTypeMismatch = errors.New("value type does not match channel")

	// ErrUnknownChannel is returned when an update names a channel missing from the schema.
	ErrUnknownChannel = errors.New("unknown channel")

	// ErrDuplicateChannel is returned when two channels share a name.
	ErrDuplicateChannel = errors.New("channel with this name already exists")

	// ErrInvalidChannel is returned for nil or unnamed channels.
	ErrInvalidChannel = errors.New("invalid channel")
)

// Kind identifies the merge policy of a channel.
type Kind int

const (
	KindReplace Kind = iota + 1
	KindAppend
	KindAccumulate
	KindUpsert
	KindCustom
)

func (k Kind) String() string {
	switch k {
	case KindReplace:
		return "replace"
	case KindAppend:
		return "append"
	case KindAccumulate:
		return "accumulate"
	case KindUpsert:
		return "upsert"
	case KindCustom:
		return "custom"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Channel is a named slot of shared state with a merge policy.
type Channel interface {
	Name() string
	Kind() Kind
	// Default returns a fresh initial value.
	Default() any
	// Merge returns the value that results from applying incoming on top of current.
	// A nil current means the channel has not been written yet.
	Merge(current, incoming any) (any, error)
	Encode(value any) ([]byte, error)
	Decode(data []byte) (any, error)
}

// Keyer is implemented by channels whose concurrent writes can collide. Keys returns
// the identities an incoming update touches.
type Keyer interface {
	Keys(incoming any) ([]string, error)
}

type channel[V any] struct {
	name   string
	kind   Kind
	def    func() V
	coerce func(any) (V, bool)
	merge  func(current, incoming V) (V, error)
	keys   func(incoming V) []string
}

func (c *channel[V]) Name() string {
	return c.name
}

func (c *channel[V]) Kind() Kind {
	return c.kind
}

func (c *channel[V]) Default() any {
	return c.def()
}

func (c *channel[V]) Merge(current, incoming any) (any, error) {
	cur := c.def()
	if current != nil {
		v, ok := current.(V)
		if !ok {
			return nil, c.mismatch(current)
		}
		cur = v
	}
	inc, ok := c.coerce(incoming)
	if !ok {
		return nil, c.mismatch(incoming)
	}
	next, err := c.merge(cur, inc)
	if err != nil {
		return nil, errors.Wrapf(err, "channel %s", c.name)
	}
	return next, nil
}

func (c *channel[V]) Encode(value any) ([]byte, error) {
	if value == nil {
		value = c.def()
	}
	v, ok := value.(V)
	if !ok {
		return nil, c.mismatch(value)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrapf(err, "encode channel %s", c.name)
	}
	return data, nil
}

func (c *channel[V]) Decode(data []byte) (any, error) {
	var v V
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, errors.Wrapf(err, "decode channel %s", c.name)
	}
	return v, nil
}

func (c *channel[V]) Keys(incoming any) ([]string, error) {
	if c.keys == nil {
		return nil, nil
	}
	inc, ok := c.coerce(incoming)
	if !ok {
		return nil, c.mismatch(incoming)
	}
	return c.keys(inc), nil
}

func (c *channel[V]) mismatch(v any) error {
	var want V
	return errors.Wrapf(ErrTypeMismatch, "channel %s: want %T, got %T", c.name, want, v)
}

// exact accepts values of type V, and nil as the zero value.
func exact[V any](v any) (V, bool) {
	if v == nil {
		var zero V
		return zero, true
	}
	typed, ok := v.(V)
	return typed, ok
}
