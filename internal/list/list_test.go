package list

import (
	"context"
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"

	"todoline/internal/logging"
	"todoline/internal/storage"
)

type rec struct {
	ID   string `json:"id"`
	Tag  string `json:"tag"`
	Done bool   `json:"done"`
}

func (r rec) RecordID() string { return r.ID }

func ids(items []rec) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

func recs(names ...string) []rec {
	out := make([]rec, 0, len(names))
	for _, n := range names {
		out = append(out, rec{ID: n})
	}
	return out
}

func newTestBase(initial ...string) *Base[rec] {
	s := New(Options[rec]{Initial: recs(initial...), Logger: logging.Discard()})
	s.Init()
	return s
}

type failingFacade struct {
	err    error
	writes int
}

func (f *failingFacade) Get() ([]rec, bool, error) { return nil, false, nil }
func (f *failingFacade) Set([]rec) error {
	f.writes++
	return f.err
}

// flakyKV fails the first Get of each key listed in failGet and every Put of
// the keys listed in failPut.
type flakyKV struct {
	*storage.Memory
	failGet map[string]bool
	failPut map[string]bool
}

var errLocked = errors.New("database is locked")

func (k *flakyKV) Get(ctx context.Context, key string) ([]byte, error) {
	if k.failGet[key] {
		delete(k.failGet, key)
		return nil, errLocked
	}
	return k.Memory.Get(ctx, key)
}

func (k *flakyKV) Put(ctx context.Context, key string, value []byte) error {
	if k.failPut[key] {
		return errLocked
	}
	return k.Memory.Put(ctx, key, value)
}

func TestInitUsesDefaultThenStorage(t *testing.T) {
	kv := storage.NewMemory()
	facade := storage.NewJSON[[]rec](kv, "t.items")

	first := New(Options[rec]{Initial: recs("A", "B"), Storage: facade, Logger: logging.Discard()})
	first.Init()
	assert.Equal(t, []string{"A", "B"}, ids(first.Value()))
	first.Append(rec{ID: "C"})

	second := New(Options[rec]{Initial: recs("Z"), Storage: facade, Logger: logging.Discard()})
	second.Init()
	assert.Equal(t, []string{"A", "B", "C"}, ids(second.Value()))

	// second Init is a no-op
	second.Remove("A")
	second.Init()
	assert.Equal(t, []string{"B", "C"}, ids(second.Value()))
}

func TestPersistenceRoundTrip(t *testing.T) {
	kv := storage.NewMemory()
	s := New(Options[rec]{Storage: storage.NewJSON[[]rec](kv, "t.items"), Logger: logging.Discard()})
	s.Init()
	value := []rec{{ID: "a", Tag: "x"}, {ID: "b", Tag: "y", Done: true}}
	s.Set(value)

	fresh := New(Options[rec]{Storage: storage.NewJSON[[]rec](kv, "t.items"), Logger: logging.Discard()})
	fresh.Init()
	assert.Equal(t, value, fresh.Value())
}

func TestUniqueness(t *testing.T) {
	s := newTestBase("A", "B")
	s.Append(rec{ID: "A", Tag: "dup"})
	s.Prepend(rec{ID: "B", Tag: "dup"})
	s.Update("A", func(r rec) rec { r.ID = "B"; return r })
	assert.Equal(t, []string{"A", "B"}, ids(s.Value()))
	a, _ := s.GetByID("A")
	assert.Equal(t, "", a.Tag)

	s.Set([]rec{{ID: "X", Tag: "first"}, {ID: "Y"}, {ID: "X", Tag: "second"}})
	assert.Equal(t, []string{"X", "Y"}, ids(s.Value()))
	x, _ := s.GetByID("X")
	assert.Equal(t, "first", x.Tag)
}

func TestNotFoundIsNoOp(t *testing.T) {
	s := newTestBase("A", "B", "C")
	before := s.Value()
	version := s.Version()

	s.Remove("nope")
	s.RemoveMany([]string{"nope", "nada"})
	s.Update("nope", func(r rec) rec { r.Tag = "changed"; return r })
	s.UpdateMany([]string{"nope"}, func(r rec) rec { r.Tag = "changed"; return r })
	s.Move("nope", 0)
	s.MoveToEnd("nope")
	s.MoveRelative("nope", 1)
	s.MoveRelative("A", -1)
	s.MoveRelative("C", 1)

	assert.Equal(t, before, s.Value())
	assert.Equal(t, version, s.Version())
	_, ok := s.GetByID("nope")
	assert.Equal(t, false, ok)
}

func TestCRUD(t *testing.T) {
	s := newTestBase()
	s.Append(rec{ID: "B"})
	s.Prepend(rec{ID: "A"})
	s.Append(rec{ID: "C"})
	assert.Equal(t, []string{"A", "B", "C"}, ids(s.Value()))

	s.UpdateMany([]string{"A", "C"}, func(r rec) rec { r.Done = true; return r })
	b, _ := s.GetByID("B")
	c, _ := s.GetByID("C")
	assert.Equal(t, false, b.Done)
	assert.Equal(t, true, c.Done)

	s.RemoveMany([]string{"A", "C"})
	assert.Equal(t, []string{"B"}, ids(s.Value()))

	s.Clear()
	assert.Equal(t, 0, s.Len())
}

func TestValueIsACopy(t *testing.T) {
	s := newTestBase("A", "B")
	v := s.Value()
	v[0].Tag = "mutated"
	a, _ := s.GetByID("A")
	assert.Equal(t, "", a.Tag)
}

func TestMove(t *testing.T) {
	s := newTestBase("A", "B", "C", "D")
	s.Move("C", 0)
	assert.Equal(t, []string{"C", "A", "B", "D"}, ids(s.Value()))

	s = newTestBase("A", "B", "C", "D")
	s.Move("A", 1000)
	assert.Equal(t, []string{"B", "C", "D", "A"}, ids(s.Value()))

	s = newTestBase("A", "B", "C", "D")
	s.Move("D", -5)
	assert.Equal(t, []string{"D", "A", "B", "C"}, ids(s.Value()))

	s = newTestBase("A", "B", "C", "D")
	s.MoveToEnd("B")
	assert.Equal(t, []string{"A", "C", "D", "B"}, ids(s.Value()))

	s.MoveRelative("A", 2)
	assert.Equal(t, []string{"C", "D", "A", "B"}, ids(s.Value()))
	s.MoveRelative("B", -3)
	assert.Equal(t, []string{"B", "C", "D", "A"}, ids(s.Value()))
}

func TestStorageFailureIsNonFatal(t *testing.T) {
	f := &failingFacade{err: errors.New("quota exceeded")}
	s := New(Options[rec]{Initial: recs("A"), Storage: f, Logger: logging.Discard()})
	s.Init()
	s.Append(rec{ID: "B"})
	s.Move("B", 0)
	assert.Equal(t, []string{"B", "A"}, ids(s.Value()))
	assert.NotEqual(t, nil, s.StorageErr())
	assert.Equal(t, 3, f.writes)

	f.err = nil
	s.Remove("A")
	assert.Equal(t, nil, s.StorageErr())
}

func TestFailedInitReadKeepsStoredValue(t *testing.T) {
	mem := storage.NewMemory()
	seed := New(Options[rec]{Storage: storage.NewJSON[[]rec](mem, "t.items"), Logger: logging.Discard()})
	seed.Init()
	seed.Set(recs("A", "B", "C"))

	kv := &flakyKV{Memory: mem, failGet: map[string]bool{"t.items": true}}
	s := New(Options[rec]{Initial: recs("Z"), Storage: storage.NewJSON[[]rec](kv, "t.items"), Logger: logging.Discard()})
	s.Init()
	assert.Equal(t, []string{"Z"}, ids(s.Value()))
	assert.Equal(t, true, errors.Is(s.StorageErr(), errLocked))

	// Changes stay in memory and never reach the unread stored value.
	s.Append(rec{ID: "D"})
	s.Clear()
	assert.Equal(t, true, errors.Is(s.StorageErr(), errLocked))

	again := New(Options[rec]{Storage: storage.NewJSON[[]rec](mem, "t.items"), Logger: logging.Discard()})
	again.Init()
	assert.Equal(t, []string{"A", "B", "C"}, ids(again.Value()))
}

func TestInitDoesNotRewriteStoredValue(t *testing.T) {
	f := &failingFacade{}
	s := New(Options[rec]{Initial: recs("A"), Storage: f, Logger: logging.Discard()})
	s.Init()
	// Nothing stored: the default is saved once.
	assert.Equal(t, 1, f.writes)

	kv := storage.NewMemory()
	facade := storage.NewJSON[[]rec](kv, "t.items")
	if err := facade.Set(recs("X")); err != nil {
		t.Fatalf("seed: %v", err)
	}
	counting := &countingFacade{Facade: facade}
	stored := New(Options[rec]{Storage: counting, Logger: logging.Discard()})
	stored.Init()
	assert.Equal(t, []string{"X"}, ids(stored.Value()))
	assert.Equal(t, 0, counting.writes)
}

type countingFacade struct {
	storage.Facade[[]rec]
	writes int
}

func (c *countingFacade) Set(value []rec) error {
	c.writes++
	return c.Facade.Set(value)
}
