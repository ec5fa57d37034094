package hostfunc

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/caffeineduck/atomhost/term"
)

func kvCall(args ...term.Value) Call { return Call{Args: args} }

func TestKVSetGet(t *testing.T) {
	kv := NewKV()
	ctx := context.Background()

	_, err := kv.Set(ctx, kvCall(term.String("foo"), term.Tuple(term.Atom("ok"), term.Int(1))))
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	val, err := kv.Get(ctx, kvCall(term.String("foo")))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if term.Format(val) != "{ok, 1}" {
		t.Errorf("expected {ok, 1}, got %s", val)
	}
}

func TestKVGetDefault(t *testing.T) {
	kv := NewKV()
	val, err := kv.Get(context.Background(), kvCall(term.String("missing"), term.String("fallback")))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !term.Equal(val, term.String("fallback")) {
		t.Errorf("expected fallback, got %s", val)
	}
}

func TestKVGetMissing(t *testing.T) {
	kv := NewKV()
	val, err := kv.Get(context.Background(), kvCall(term.String("missing")))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !term.Equal(val, term.Atom("undefined")) {
		t.Errorf("expected undefined, got %s", val)
	}
}

func TestKVDelete(t *testing.T) {
	kv := NewKV()
	ctx := context.Background()

	kv.Set(ctx, kvCall(term.String("foo"), term.Int(1)))
	kv.Delete(ctx, kvCall(term.String("foo")))

	if kv.Len() != 0 {
		t.Errorf("expected empty store, got %d entries", kv.Len())
	}
}

func TestKVKeys(t *testing.T) {
	kv := NewKV()
	ctx := context.Background()
	for _, k := range []string{"b", "a", "c"} {
		kv.Set(ctx, kvCall(term.String(k), term.Nil()))
	}

	keys, err := kv.Keys(ctx, kvCall())
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if got := term.Format(keys); got != `[<<"a">>, <<"b">>, <<"c">>]` {
		t.Errorf("unexpected keys %s", got)
	}
}

func TestKVLimits(t *testing.T) {
	ctx := context.Background()

	kv := NewKV(WithMaxKeySize(4))
	if _, err := kv.Set(ctx, kvCall(term.String("toolong"), term.Int(1))); !errors.Is(err, ErrLimit) {
		t.Errorf("expected ErrLimit for long key, got %v", err)
	}

	kv = NewKV(WithMaxValueSize(8))
	if _, err := kv.Set(ctx, kvCall(term.String("k"), term.String(strings.Repeat("x", 20)))); !errors.Is(err, ErrLimit) {
		t.Errorf("expected ErrLimit for large value, got %v", err)
	}

	kv = NewKV(WithMaxEntries(1))
	if _, err := kv.Set(ctx, kvCall(term.String("a"), term.Int(1))); err != nil {
		t.Fatalf("first Set failed: %v", err)
	}
	if _, err := kv.Set(ctx, kvCall(term.String("a"), term.Int(2))); err != nil {
		t.Errorf("overwrite should not count against the limit: %v", err)
	}
	if _, err := kv.Set(ctx, kvCall(term.String("b"), term.Int(1))); !errors.Is(err, ErrLimit) {
		t.Errorf("expected ErrLimit for extra entry, got %v", err)
	}
}

func TestKVBadKey(t *testing.T) {
	kv := NewKV()
	_, err := kv.Get(context.Background(), kvCall(term.Int(1)))
	var argErr *ArgError
	if !errors.As(err, &argErr) || argErr.Index != 1 {
		t.Errorf("expected ArgError for argument 1, got %v", err)
	}
	if !errors.Is(err, ErrBadArg) {
		t.Errorf("expected ErrBadArg, got %v", err)
	}
}

func TestKVConcurrentAccess(t *testing.T) {
	kv := NewKV(WithMaxEntries(10000))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := term.String(strings.Repeat("k", n%10+1))
			kv.Set(ctx, kvCall(key, term.Int(int64(n))))
			kv.Get(ctx, kvCall(key))
		}(i)
	}
	wg.Wait()

	if kv.Len() != 10 {
		t.Errorf("expected 10 keys, got %d", kv.Len())
	}
}

func TestKVPutEntryRecord(t *testing.T) {
	kv := NewKV()
	ctx := context.Background()

	entry, err := EntrySchema.Encode(map[string]term.Value{
		"key":   term.String("answer"),
		"value": term.Tuple(term.Atom("ok"), term.Int(42)),
	})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if _, err := kv.Put(ctx, kvCall(entry)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	val, err := kv.Get(ctx, kvCall(term.String("answer")))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if term.Format(val) != "{ok, 42}" {
		t.Errorf("expected {ok, 42}, got %s", val)
	}

	got, err := kv.Entry(ctx, kvCall(term.String("answer")))
	if err != nil {
		t.Fatalf("Entry failed: %v", err)
	}
	if !term.Equal(got, entry) {
		t.Errorf("expected %s, got %s", entry, got)
	}

	missing, err := kv.Entry(ctx, kvCall(term.String("nope")))
	if err != nil {
		t.Fatalf("Entry failed: %v", err)
	}
	if !term.Equal(missing, term.Atom("undefined")) {
		t.Errorf("expected undefined, got %s", missing)
	}
}

func TestKVPutRejectsWrongRecord(t *testing.T) {
	kv := NewKV()
	ctx := context.Background()

	wrongTag := term.MustMap(
		term.Pair{Key: term.Atom(term.StructKey), Value: term.Atom("point")},
		term.Pair{Key: term.Atom("key"), Value: term.String("k")},
		term.Pair{Key: term.Atom("value"), Value: term.Int(1)},
	)
	noValue := term.MustMap(
		term.Pair{Key: term.Atom(term.StructKey), Value: term.Atom("kv_entry")},
		term.Pair{Key: term.Atom("key"), Value: term.String("k")},
	)
	badKey := term.MustMap(
		term.Pair{Key: term.Atom(term.StructKey), Value: term.Atom("kv_entry")},
		term.Pair{Key: term.Atom("key"), Value: term.Int(7)},
		term.Pair{Key: term.Atom("value"), Value: term.Int(1)},
	)

	tests := []struct {
		name string
		arg  term.Value
		want error
	}{
		{"wrong tag", wrongTag, term.ErrTagMismatch},
		{"missing field", noValue, term.ErrMissingField},
		{"not a map", term.Tuple(term.Atom("kv_entry")), term.ErrTagMismatch},
		{"key not binary", badKey, ErrBadArg},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := kv.Put(ctx, kvCall(tt.arg))
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if !errors.Is(err, ErrBadArg) {
				t.Errorf("expected a bad argument, got %v", err)
			}
		})
	}
	if kv.Len() != 0 {
		t.Errorf("rejected records were stored: %d keys", kv.Len())
	}
}
