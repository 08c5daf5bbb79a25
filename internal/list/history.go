package list

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/charmbracelet/log"
	"github.com/oklog/ulid/v2"

	"todoline/internal/storage"
)

// InitialMessage labels the snapshot created for an empty history.
const InitialMessage = "Initial state"

// Snapshot is the full value of a list at one point in time.
type Snapshot[T Record] struct {
	ID        string    `json:"id"`
	Value     []T       `json:"value"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

func (s Snapshot[T]) RecordID() string { return s.ID }

// Cloner is implemented by records that hold references and need more than a
// value copy to be isolated inside a snapshot.
type Cloner[T any] interface {
	Clone() T
}

// HistoryOptions configures WithHistory.
type HistoryOptions[T Record] struct {
	// Storage persists the snapshots.
	Storage storage.Facade[[]Snapshot[T]]
	// Index persists the position of the current snapshot.
	Index storage.Facade[int]
	// Limit caps the number of snapshots kept; Unbounded keeps all.
	Limit  int
	Now    func() time.Time
	NewID  func() string
	Logger *log.Logger
}

// History records snapshots of the wrapped store and walks them linearly.
// Creating a snapshot while not at the newest one discards every newer
// snapshot; there is no branching.
type History[T Record] struct {
	Store[T]
	snapshots Store[Snapshot[T]]
	log       *Base[Snapshot[T]]
	index     int
	cursor    storage.Facade[int]
	cursorErr error
	now       func() time.Time
	newID     func() string
	logger    *log.Logger
}

func WithHistory[T Record](s Store[T], opts HistoryOptions[T]) *History[T] {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	base := New(Options[Snapshot[T]]{Storage: opts.Storage, Logger: logger})
	h := &History[T]{
		Store:     s,
		snapshots: Limit[Snapshot[T]](base, opts.Limit),
		log:       base,
		cursor:    opts.Index,
		now:       opts.Now,
		newID:     opts.NewID,
		logger:    logger,
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.newID == nil {
		h.newID = newULID
	}
	return h
}

// Init initializes the snapshot store and the wrapped store, records an
// initial snapshot when the history is empty and restores the stored index.
// The stored index is only read here; it is written on the next change.
func (h *History[T]) Init() {
	h.snapshots.Init()
	h.Store.Init()
	if h.snapshots.Len() == 0 {
		h.CreateSnapshot(InitialMessage)
		return
	}
	last := h.snapshots.Len() - 1
	index := last
	if h.cursor != nil {
		stored, ok, err := h.cursor.Get()
		switch {
		case err != nil:
			h.cursorErr = fmt.Errorf("read history index: %w", err)
			h.logger.Warn("history index read failed, using newest snapshot", "err", err)
		case ok && stored >= 0 && stored <= last:
			index = stored
		}
	}
	h.index = index
}

// ReadErr returns the error of a failed snapshot read during Init, if any.
func (h *History[T]) ReadErr() error { return h.log.ReadErr() }

// SuspendWrites stops persisting snapshots and the index.
func (h *History[T]) SuspendWrites(err error) { h.log.SuspendWrites(err) }

// StorageErr reports the last failure to read or write the snapshots or the
// history index.
func (h *History[T]) StorageErr() error {
	return errors.Join(h.log.StorageErr(), h.cursorErr)
}

// CreateSnapshot truncates snapshots after the current one, appends a copy of
// the current value and makes it current.
func (h *History[T]) CreateSnapshot(message string) string {
	snaps := h.snapshots.Value()
	if h.index+1 < len(snaps) {
		ids := make([]string, 0, len(snaps)-h.index-1)
		for _, s := range snaps[h.index+1:] {
			ids = append(ids, s.ID)
		}
		h.snapshots.RemoveMany(ids)
	}
	snap := Snapshot[T]{
		ID:        h.newID(),
		Value:     cloneValue(h.Store.Value()),
		Message:   message,
		CreatedAt: h.now().UTC(),
	}
	h.snapshots.Append(snap)
	h.setIndex(h.snapshots.Len() - 1)
	return snap.ID
}

// Action runs fn and records one snapshot if fn changed the wrapped store.
// It returns the new snapshot id and whether anything changed.
func (h *History[T]) Action(message string, fn func()) (string, bool) {
	before := h.Store.Version()
	fn()
	if h.Store.Version() == before {
		return "", false
	}
	return h.CreateSnapshot(message), true
}

// RestoreSnapshot replaces the wrapped value with the snapshot offset
// positions away from id. Unknown ids and out-of-range targets are ignored.
func (h *History[T]) RestoreSnapshot(id string, offset int) {
	snaps := h.snapshots.Value()
	i := indexOf(snaps, id)
	if i < 0 {
		return
	}
	target := i + offset
	if target < 0 || target >= len(snaps) {
		return
	}
	h.Store.Set(cloneValue(snaps[target].Value))
	h.setIndex(target)
}

func (h *History[T]) Undo() {
	if !h.CanUndo() {
		return
	}
	h.RestoreSnapshot(h.currentID(), -1)
}

func (h *History[T]) Redo() {
	if !h.CanRedo() {
		return
	}
	h.RestoreSnapshot(h.currentID(), 1)
}

func (h *History[T]) CanUndo() bool { return h.index > 0 }

func (h *History[T]) CanRedo() bool { return h.index < h.snapshots.Len()-1 }

// Index is the position of the current snapshot.
func (h *History[T]) Index() int { return h.index }

// History returns all snapshots, oldest first.
func (h *History[T]) History() []Snapshot[T] {
	snaps := h.snapshots.Value()
	for i := range snaps {
		snaps[i].Value = cloneValue(snaps[i].Value)
	}
	return snaps
}

func (h *History[T]) GetSnapshotByID(id string) (Snapshot[T], bool) {
	s, ok := h.snapshots.GetByID(id)
	if ok {
		s.Value = cloneValue(s.Value)
	}
	return s, ok
}

// Current returns the snapshot the wrapped value was last synchronized with.
func (h *History[T]) Current() (Snapshot[T], bool) {
	return h.GetSnapshotByID(h.currentID())
}

func (h *History[T]) currentID() string {
	snaps := h.snapshots.Value()
	if h.index < 0 || h.index >= len(snaps) {
		return ""
	}
	return snaps[h.index].ID
}

func (h *History[T]) setIndex(i int) {
	h.index = i
	// An unread snapshot log must not be paired with a new index.
	if h.cursor == nil || h.log.readErr != nil {
		return
	}
	if err := h.cursor.Set(i); err != nil {
		h.cursorErr = fmt.Errorf("write history index: %w", err)
		h.logger.Warn("history index write failed", "err", err)
		return
	}
	h.cursorErr = nil
}

func cloneValue[T Record](value []T) []T {
	out := slices.Clone(value)
	for i, it := range out {
		if c, ok := any(it).(Cloner[T]); ok {
			out[i] = c.Clone()
		}
	}
	return out
}

func newULID() string {
	return ulid.Make().String()
}
