package list

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"todoline/internal/logging"
	"todoline/internal/storage"
)

func TestLimitAppendEvictsFirst(t *testing.T) {
	s := Limit[rec](newTestBase(), 2)
	s.Append(rec{ID: "X"})
	s.Append(rec{ID: "Y"})
	s.Append(rec{ID: "Z"})
	assert.Equal(t, []string{"Y", "Z"}, ids(s.Value()))
}

func TestLimitPrependEvictsLast(t *testing.T) {
	s := Limit[rec](newTestBase(), 2)
	s.Prepend(rec{ID: "X"})
	s.Prepend(rec{ID: "Y"})
	s.Prepend(rec{ID: "Z"})
	assert.Equal(t, []string{"Z", "Y"}, ids(s.Value()))
}

func TestLimitDuplicateDoesNotEvict(t *testing.T) {
	s := Limit[rec](newTestBase(), 2)
	s.Append(rec{ID: "X"})
	s.Append(rec{ID: "Y"})
	s.Append(rec{ID: "X"})
	assert.Equal(t, []string{"X", "Y"}, ids(s.Value()))
}

func TestLimitSetAndInitTruncate(t *testing.T) {
	kv := storage.NewMemory()
	facade := storage.NewJSON[[]rec](kv, "t.items")
	if err := facade.Set(recs("A", "B", "C", "D")); err != nil {
		t.Fatalf("seed: %v", err)
	}
	s := Limit[rec](New(Options[rec]{Storage: facade, Logger: logging.Discard()}), 3)
	s.Init()
	assert.Equal(t, []string{"A", "B", "C"}, ids(s.Value()))

	stored, _, _ := facade.Get()
	assert.Equal(t, 3, len(stored))

	s.Set(recs("1", "2", "3", "4", "5"))
	assert.Equal(t, []string{"1", "2", "3"}, ids(s.Value()))
}

func TestLimitUnboundedIsIdentity(t *testing.T) {
	base := newTestBase()
	assert.Equal(t, Store[rec](base), Limit[rec](base, Unbounded))
}

func groupOf(r rec) string {
	if r.Done {
		return "completed"
	}
	return "active"
}

func newGrouped() (*Base[rec], *Grouped[rec, string]) {
	base := New(Options[rec]{Initial: []rec{
		{ID: "A"}, {ID: "C", Done: true}, {ID: "B"}, {ID: "D", Done: true},
	}, Logger: logging.Discard()})
	g := Group[rec, string](base, groupOf)
	g.Init()
	return base, g
}

func TestGroupsFollowEveryChange(t *testing.T) {
	base, g := newGrouped()
	assert.Equal(t, []string{"A", "B"}, ids(g.Group("active")))
	assert.Equal(t, []string{"C", "D"}, ids(g.Group("completed")))

	// a change made below the decorator is still reflected
	base.Update("A", func(r rec) rec { r.Done = true; return r })
	assert.Equal(t, []string{"B"}, ids(g.Group("active")))
	assert.Equal(t, []string{"A", "C", "D"}, ids(g.Group("completed")))

	g.Clear()
	assert.Equal(t, 0, len(g.Groups()))
	assert.Equal(t, 0, len(g.Group("active")))
}

func TestGroupedMoveRelativeStaysInGroup(t *testing.T) {
	_, g := newGrouped()
	g.MoveRelative("B", -1)
	assert.Equal(t, []string{"B", "C", "A", "D"}, ids(g.Value()))
	assert.Equal(t, []string{"B", "A"}, ids(g.Group("active")))
	assert.Equal(t, []string{"C", "D"}, ids(g.Group("completed")))

	g.MoveRelative("D", -1)
	assert.Equal(t, []string{"B", "D", "A", "C"}, ids(g.Value()))
}

func TestGroupedMoveRelativeOutOfGroupIsNoOp(t *testing.T) {
	_, g := newGrouped()
	before := g.Version()
	g.MoveRelative("A", -1)
	g.MoveRelative("B", 1)
	g.MoveRelative("D", 5)
	g.MoveRelative("missing", 1)
	assert.Equal(t, before, g.Version())
	assert.Equal(t, []string{"A", "C", "B", "D"}, ids(g.Value()))
}

func TestGroupedMoveRelativeWiderOffset(t *testing.T) {
	base := New(Options[rec]{Initial: []rec{
		{ID: "A"}, {ID: "X", Done: true}, {ID: "B"}, {ID: "C"}, {ID: "Y", Done: true},
	}, Logger: logging.Discard()})
	g := Group[rec, string](base, groupOf)
	g.Init()
	g.MoveRelative("C", -2)
	assert.Equal(t, []string{"C", "X", "A", "B", "Y"}, ids(g.Value()))
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("S%d", n)
	}
}

func newHistory(t *testing.T, kv storage.KV, limit int) *History[rec] {
	t.Helper()
	base := New(Options[rec]{Storage: storage.NewJSON[[]rec](kv, "t.items"), Logger: logging.Discard()})
	h := WithHistory[rec](base, HistoryOptions[rec]{
		Storage: storage.NewJSON[[]Snapshot[rec]](kv, "t.history"),
		Index:   storage.NewJSON[int](kv, "t.history.index"),
		Limit:   limit,
		Now:     (&clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}).now,
		NewID:   sequentialIDs(),
		Logger:  logging.Discard(),
	})
	h.Init()
	return h
}

func TestHistoryInitCreatesInitialSnapshot(t *testing.T) {
	h := newHistory(t, storage.NewMemory(), Unbounded)
	snaps := h.History()
	assert.Equal(t, 1, len(snaps))
	assert.Equal(t, InitialMessage, snaps[0].Message)
	assert.Equal(t, 0, h.Index())
	assert.Equal(t, false, h.CanUndo())
	assert.Equal(t, false, h.CanRedo())
}

func TestHistoryTruncatesRedoBranch(t *testing.T) {
	h := newHistory(t, storage.NewMemory(), Unbounded)
	h.Append(rec{ID: "1"})
	h.CreateSnapshot("S1")
	h.Append(rec{ID: "2"})
	h.CreateSnapshot("S2")
	h.Append(rec{ID: "3"})
	s3 := h.CreateSnapshot("S3")
	h.Append(rec{ID: "4"})
	s4 := h.CreateSnapshot("S4")

	h.Undo()
	h.Undo()
	assert.Equal(t, []string{"1", "2"}, ids(h.Value()))

	h.Append(rec{ID: "edit"})
	h.CreateSnapshot("edit")
	assert.Equal(t, false, h.CanRedo())
	_, ok := h.GetSnapshotByID(s3)
	assert.Equal(t, false, ok)
	_, ok = h.GetSnapshotByID(s4)
	assert.Equal(t, false, ok)

	h.Redo()
	assert.Equal(t, []string{"1", "2", "edit"}, ids(h.Value()))
	assert.Equal(t, 4, len(h.History()))
}

func TestHistoryUndoRedoRoundTrip(t *testing.T) {
	h := newHistory(t, storage.NewMemory(), Unbounded)
	h.Action("add a", func() { h.Append(rec{ID: "a"}) })
	h.Action("add b", func() { h.Prepend(rec{ID: "b"}) })
	h.Action("tag a", func() { h.Update("a", func(r rec) rec { r.Tag = "x"; return r }) })
	h.Action("move", func() { h.MoveToEnd("b") })
	h.Action("remove a", func() { h.Remove("a") })
	final := h.Value()

	steps := 0
	for h.CanUndo() {
		h.Undo()
		steps++
	}
	assert.Equal(t, 5, steps)
	assert.Equal(t, 0, h.Len())
	for i := 0; i < steps; i++ {
		h.Redo()
	}
	assert.Equal(t, final, h.Value())
	assert.Equal(t, false, h.CanRedo())
}

func TestHistoryActionSkipsNoOps(t *testing.T) {
	h := newHistory(t, storage.NewMemory(), Unbounded)
	id, changed := h.Action("remove ghost", func() { h.Remove("ghost") })
	assert.Equal(t, "", id)
	assert.Equal(t, false, changed)
	assert.Equal(t, 1, len(h.History()))
}

func TestHistoryRestoreWithOffset(t *testing.T) {
	h := newHistory(t, storage.NewMemory(), Unbounded)
	first, _ := h.Action("a", func() { h.Append(rec{ID: "a"}) })
	second, _ := h.Action("b", func() { h.Append(rec{ID: "b"}) })
	h.Action("c", func() { h.Append(rec{ID: "c"}) })

	h.RestoreSnapshot(second, -1)
	assert.Equal(t, []string{"a"}, ids(h.Value()))
	assert.Equal(t, 1, h.Index())
	cur, _ := h.Current()
	assert.Equal(t, first, cur.ID)

	h.RestoreSnapshot(second, 10)
	h.RestoreSnapshot("unknown", 1)
	assert.Equal(t, []string{"a"}, ids(h.Value()))
	assert.Equal(t, 1, h.Index())
}

func TestSnapshotsAreIsolated(t *testing.T) {
	h := newHistory(t, storage.NewMemory(), Unbounded)
	id, _ := h.Action("a", func() { h.Append(rec{ID: "a"}) })
	h.Update("a", func(r rec) rec { r.Tag = "live"; return r })
	snap, _ := h.GetSnapshotByID(id)
	assert.Equal(t, "", snap.Value[0].Tag)

	snap.Value[0].Tag = "tampered"
	again, _ := h.GetSnapshotByID(id)
	assert.Equal(t, "", again.Value[0].Tag)
}

func TestHistoryLimitEvictsOldest(t *testing.T) {
	h := newHistory(t, storage.NewMemory(), 3)
	for _, n := range []string{"a", "b", "c", "d"} {
		h.Action("add "+n, func() { h.Append(rec{ID: n}) })
	}
	snaps := h.History()
	assert.Equal(t, 3, len(snaps))
	assert.Equal(t, "add b", snaps[0].Message)
	assert.Equal(t, 2, h.Index())
}

func TestHistoryPersistsAcrossRestart(t *testing.T) {
	kv := storage.NewMemory()
	h := newHistory(t, kv, Unbounded)
	h.Action("a", func() { h.Append(rec{ID: "a"}) })
	h.Action("b", func() { h.Append(rec{ID: "b"}) })
	h.Undo()

	again := newHistory(t, kv, Unbounded)
	assert.Equal(t, 3, len(again.History()))
	assert.Equal(t, 1, again.Index())
	assert.Equal(t, []string{"a"}, ids(again.Value()))
	assert.Equal(t, true, again.CanRedo())

	snap := again.History()[1]
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 2, 0, time.UTC), snap.CreatedAt)
	again.Redo()
	assert.Equal(t, []string{"a", "b"}, ids(again.Value()))
}

func TestHistoryStaleIndexFallsBackToNewest(t *testing.T) {
	kv := storage.NewMemory()
	h := newHistory(t, kv, Unbounded)
	h.Action("a", func() { h.Append(rec{ID: "a"}) })
	if err := storage.NewJSON[int](kv, "t.history.index").Set(42); err != nil {
		t.Fatalf("seed index: %v", err)
	}
	again := newHistory(t, kv, Unbounded)
	assert.Equal(t, 1, again.Index())
}

func TestHistoryOverGroupedUsesGroupMoves(t *testing.T) {
	base := New(Options[rec]{Initial: []rec{
		{ID: "A"}, {ID: "C", Done: true}, {ID: "B"}, {ID: "D", Done: true},
	}, Logger: logging.Discard()})
	g := Group[rec, string](base, groupOf)
	h := WithHistory[rec](g, HistoryOptions[rec]{Logger: logging.Discard(), NewID: sequentialIDs()})
	h.Init()
	h.Action("move up", func() { h.MoveRelative("B", -1) })
	assert.Equal(t, []string{"B", "C", "A", "D"}, ids(h.Value()))
	assert.Equal(t, []string{"B", "A"}, ids(g.Group("active")))
	h.Undo()
	assert.Equal(t, []string{"A", "C", "B", "D"}, ids(h.Value()))
	assert.Equal(t, []string{"A", "B"}, ids(g.Group("active")))
}

func TestHistoryFailedReadKeepsStoredHistory(t *testing.T) {
	mem := storage.NewMemory()
	h := newHistory(t, mem, Unbounded)
	h.Action("a", func() { h.Append(rec{ID: "a"}) })
	h.Action("b", func() { h.Append(rec{ID: "b"}) })
	h.Undo()

	kv := &flakyKV{Memory: mem, failGet: map[string]bool{"t.history": true}}
	locked := newHistory(t, kv, Unbounded)
	assert.Equal(t, true, errors.Is(locked.StorageErr(), errLocked))
	assert.Equal(t, 1, len(locked.History()))
	locked.Action("c", func() { locked.Append(rec{ID: "c"}) })
	assert.Equal(t, 2, len(locked.History()))

	again := newHistory(t, mem, Unbounded)
	assert.Equal(t, nil, again.StorageErr())
	assert.Equal(t, 3, len(again.History()))
	assert.Equal(t, 1, again.Index())
	assert.Equal(t, "b", again.History()[2].Message)
}

func TestHistoryReportsIndexWriteFailure(t *testing.T) {
	kv := &flakyKV{Memory: storage.NewMemory(), failPut: map[string]bool{"t.history.index": true}}
	h := newHistory(t, kv, Unbounded)
	assert.Equal(t, true, errors.Is(h.StorageErr(), errLocked))

	delete(kv.failPut, "t.history.index")
	h.Action("a", func() { h.Append(rec{ID: "a"}) })
	assert.Equal(t, nil, h.StorageErr())

	kv.failPut["t.history"] = true
	h.Action("b", func() { h.Append(rec{ID: "b"}) })
	assert.Equal(t, true, errors.Is(h.StorageErr(), errLocked))
}
