package hostfunc

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/caffeineduck/atomhost/term"
)

// KV limits.
const (
	DefaultMaxKeySize   = 256
	DefaultMaxValueSize = 64 * 1024
	DefaultMaxEntries   = 1000
)

// KVOption configures a KV store.
type KVOption func(*kvConfig)

type kvConfig struct {
	maxKeySize   int
	maxValueSize int
	maxEntries   int
}

func defaultKVConfig() kvConfig {
	return kvConfig{
		maxKeySize:   DefaultMaxKeySize,
		maxValueSize: DefaultMaxValueSize,
		maxEntries:   DefaultMaxEntries,
	}
}

// WithMaxKeySize sets the longest key, in bytes.
func WithMaxKeySize(n int) KVOption {
	return func(c *kvConfig) { c.maxKeySize = n }
}

// WithMaxValueSize sets the largest value, measured in bytes of its text
// notation.
func WithMaxValueSize(n int) KVOption {
	return func(c *kvConfig) { c.maxValueSize = n }
}

// WithMaxEntries sets the largest number of keys.
func WithMaxEntries(n int) KVOption {
	return func(c *kvConfig) { c.maxEntries = n }
}

// KV is an in-memory store keyed by binaries that holds arbitrary terms.
type KV struct {
	cfg  kvConfig
	mu   sync.RWMutex
	data map[string]term.Value
}

// NewKV returns an empty store.
func NewKV(opts ...KVOption) *KV {
	cfg := defaultKVConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &KV{cfg: cfg, data: make(map[string]term.Value)}
}

// EntrySchema is the record kv_put accepts and kv_entry returns:
// %{__struct__ => kv_entry, key => Binary, value => Term}.
var EntrySchema = term.Schema{
	Tag:    "kv_entry",
	Fields: []term.Field{{Name: "key"}, {Name: "value"}},
}

// Register adds kv_get, kv_set, kv_delete, kv_keys, kv_put and kv_entry
// to r.
func (s *KV) Register(r *Registry) {
	r.Register("kv_get", s.Get)
	r.Register("kv_set", s.Set)
	r.Register("kv_delete", s.Delete)
	r.Register("kv_keys", s.Keys)
	r.Register("kv_put", s.Put)
	r.Register("kv_entry", s.Entry)
}

func (s *KV) key(name string, call Call) (string, error) {
	return s.keyOf(name, 1, call.Args[0])
}

func (s *KV) keyOf(name string, index int, v term.Value) (string, error) {
	b, ok := v.AsBinary()
	if !ok {
		return "", &ArgError{Func: name, Index: index, Want: "binary key", Got: v}
	}
	if len(b) > s.cfg.maxKeySize {
		return "", fmt.Errorf("%w: key of %d bytes exceeds %d", ErrLimit, len(b), s.cfg.maxKeySize)
	}
	return string(b), nil
}

// Get returns the value under a key, the default given as second argument,
// or the atom undefined.
func (s *KV) Get(_ context.Context, call Call) (term.Value, error) {
	if len(call.Args) != 1 && len(call.Args) != 2 {
		return term.Value{}, &ArgError{Func: "kv_get", Want: "takes 1 or 2 arguments"}
	}
	key, err := s.key("kv_get", call)
	if err != nil {
		return term.Value{}, err
	}

	s.mu.RLock()
	val, exists := s.data[key]
	s.mu.RUnlock()

	switch {
	case exists:
		return val, nil
	case len(call.Args) == 2:
		return call.Args[1], nil
	}
	return term.Atom("undefined"), nil
}

// Set stores a value and returns ok.
func (s *KV) Set(_ context.Context, call Call) (term.Value, error) {
	if err := call.Arity("kv_set", 2); err != nil {
		return term.Value{}, err
	}
	key, err := s.key("kv_set", call)
	if err != nil {
		return term.Value{}, err
	}
	return s.store(key, call.Args[1])
}

func (s *KV) store(key string, val term.Value) (term.Value, error) {
	if size := len(term.Format(val)); size > s.cfg.maxValueSize {
		return term.Value{}, fmt.Errorf("%w: value of %d bytes exceeds %d", ErrLimit, size, s.cfg.maxValueSize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[key]; !exists && len(s.data) >= s.cfg.maxEntries {
		return term.Value{}, fmt.Errorf("%w: store holds %d entries", ErrLimit, s.cfg.maxEntries)
	}
	s.data[key] = val
	return term.Atom("ok"), nil
}

// Put stores a kv_entry record and returns ok.
func (s *KV) Put(_ context.Context, call Call) (term.Value, error) {
	if err := call.Arity("kv_put", 1); err != nil {
		return term.Value{}, err
	}
	fields, err := EntrySchema.Decode(call.Args[0])
	if err != nil {
		return term.Value{}, fmt.Errorf("%w: kv_put: %w", ErrBadArg, err)
	}
	key, err := s.keyOf("kv_put", 1, fields["key"])
	if err != nil {
		return term.Value{}, err
	}
	return s.store(key, fields["value"])
}

// Entry returns the kv_entry record for a key, or the atom undefined.
func (s *KV) Entry(_ context.Context, call Call) (term.Value, error) {
	if err := call.Arity("kv_entry", 1); err != nil {
		return term.Value{}, err
	}
	key, err := s.key("kv_entry", call)
	if err != nil {
		return term.Value{}, err
	}

	s.mu.RLock()
	val, exists := s.data[key]
	s.mu.RUnlock()
	if !exists {
		return term.Atom("undefined"), nil
	}
	return EntrySchema.Encode(map[string]term.Value{"key": term.String(key), "value": val})
}

// Delete removes a key and returns ok.
func (s *KV) Delete(_ context.Context, call Call) (term.Value, error) {
	if err := call.Arity("kv_delete", 1); err != nil {
		return term.Value{}, err
	}
	key, err := s.key("kv_delete", call)
	if err != nil {
		return term.Value{}, err
	}

	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()

	return term.Atom("ok"), nil
}

// Keys returns the stored keys as a sorted list of binaries.
func (s *KV) Keys(_ context.Context, call Call) (term.Value, error) {
	if err := call.Arity("kv_keys", 0); err != nil {
		return term.Value{}, err
	}

	s.mu.RLock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	sort.Strings(keys)
	out := make([]term.Value, len(keys))
	for i, k := range keys {
		out[i] = term.String(k)
	}
	return term.List(out...), nil
}

// Len returns the number of stored keys.
func (s *KV) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
