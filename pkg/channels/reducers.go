package channels

import (
	"github.com/google/uuid"
)

// Number is the set of types an accumulate channel can hold.
type Number interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// Identifiable is implemented by items stored in an upsert channel.
type Identifiable[E any] interface {
	Identity() string
	WithIdentity(id string) E
}

// NewReplace returns a channel whose incoming value overwrites the current one.
func NewReplace[V any](name string, def V) Channel {
	return &channel[V]{
		name:   name,
		kind:   KindReplace,
		def:    func() V { return def },
		coerce: exact[V],
		merge: func(_, incoming V) (V, error) {
			return incoming, nil
		},
		keys: func(V) []string { return []string{name} },
	}
}

// NewAppend returns a channel holding a []E. Incoming values may be a []E or a
// single E and are appended in order.
func NewAppend[E any](name string) Channel {
	return &channel[[]E]{
		name: name,
		kind: KindAppend,
		def:  func() []E { return []E{} },
		coerce: func(v any) ([]E, bool) {
			switch t := v.(type) {
			case nil:
				return nil, true
			case []E:
				return t, true
			case E:
				return []E{t}, true
			default:
				return nil, false
			}
		},
		merge: func(current, incoming []E) ([]E, error) {
			out := make([]E, 0, len(current)+len(incoming))
			out = append(out, current...)
			return append(out, incoming...), nil
		},
	}
}

// NewAccumulate returns a numeric channel that adds incoming values to the current one.
func NewAccumulate[N Number](name string, def N) Channel {
	return &channel[N]{
		name:   name,
		kind:   KindAccumulate,
		def:    func() N { return def },
		coerce: toNumber[N],
		merge: func(current, incoming N) (N, error) {
			return current + incoming, nil
		},
	}
}

type upsertConfig struct {
	newID func() string
}

// UpsertOption configures an upsert channel.
type UpsertOption func(*upsertConfig)

// WithIDGenerator sets the function used to identify incoming items that have no identity.
func WithIDGenerator(fn func() string) UpsertOption {
	return func(c *upsertConfig) {
		c.newID = fn
	}
}

// NewUpsert returns a channel holding a []E merged by identity. Incoming items
// without an identity get a new one; an item whose identity already exists replaces
// the current item in place, any other item is appended.
func NewUpsert[E Identifiable[E]](name string, opts ...UpsertOption) Channel {
	cfg := upsertConfig{newID: uuid.NewString}
	for _, o := range opts {
		o(&cfg)
	}

	return &channel[[]E]{
		name: name,
		kind: KindUpsert,
		def:  func() []E { return []E{} },
		coerce: func(v any) ([]E, bool) {
			switch t := v.(type) {
			case nil:
				return nil, true
			case []E:
				return t, true
			case E:
				return []E{t}, true
			default:
				return nil, false
			}
		},
		merge: func(current, incoming []E) ([]E, error) {
			return upsert(current, incoming, cfg.newID), nil
		},
		keys: func(incoming []E) []string {
			keys := make([]string, 0, len(incoming))
			for _, item := range incoming {
				if id := item.Identity(); id != "" {
					keys = append(keys, id)
				}
			}
			return keys
		},
	}
}

func upsert[E Identifiable[E]](current, incoming []E, newID func() string) []E {
	out := make([]E, 0, len(current)+len(incoming))
	out = append(out, current...)

	index := make(map[string]int, len(out))
	for i, item := range out {
		if id := item.Identity(); id != "" {
			index[id] = i
		}
	}

	for _, item := range incoming {
		id := item.Identity()
		if id == "" {
			id = newID()
			item = item.WithIdentity(id)
		}
		if pos, ok := index[id]; ok {
			out[pos] = item
			continue
		}
		index[id] = len(out)
		out = append(out, item)
	}
	return out
}

// NewCustom returns a channel with a caller supplied merge function.
func NewCustom[V any](name string, def func() V, merge func(current, incoming V) (V, error)) Channel {
	return &channel[V]{
		name:   name,
		kind:   KindCustom,
		def:    def,
		coerce: exact[V],
		merge:  merge,
	}
}

func toNumber[N Number](v any) (N, bool) {
	switch t := v.(type) {
	case nil:
		return 0, true
	case N:
		return t, true
	case int:
		return N(t), true
	case int8:
		return N(t), true
	case int16:
		return N(t), true
	case int32:
		return N(t), true
	case int64:
		return N(t), true
	case uint:
		return N(t), true
	case uint8:
		return N(t), true
	case uint16:
		return N(t), true
	case uint32:
		return N(t), true
	case uint64:
		return N(t), true
	case float32:
		return N(t), true
	case float64:
		return N(t), true
	default:
		return 0, false
	}
}
