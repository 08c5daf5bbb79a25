// Package list implements an ordered collection of identifiable records and
// the decorators layered on top of it: size limiting, grouping and snapshot
// history.
//
// Every operation is total. Unknown ids and out-of-range positions are silent
// no-ops, and storage failures are logged without interrupting the caller.
// A Store is single-owner: callers that share one across goroutines must
// serialize access themselves.
package list

import (
	"fmt"
	"slices"

	"github.com/charmbracelet/log"

	"todoline/internal/storage"
)

// Record is anything with a unique, stable identifier.
type Record interface {
	RecordID() string
}

// Store is the capability set shared by the base list and its decorators.
type Store[T Record] interface {
	// Init loads the stored value, or the default when nothing is stored.
	Init()
	// Value returns a copy of the current ordered records.
	Value() []T
	Len() int
	// Version increases with every committed change.
	Version() uint64
	Set(value []T)
	GetByID(id string) (T, bool)
	Prepend(item T)
	Append(item T)
	Remove(id string)
	RemoveMany(ids []string)
	Clear()
	Update(id string, change func(T) T)
	UpdateMany(ids []string, change func(T) T)
	// Move reinserts the record at index, clamped to the list bounds.
	Move(id string, index int)
	MoveToEnd(id string)
	// MoveRelative shifts the record by offset; targets outside the list are ignored.
	MoveRelative(id string, offset int)
}

// Options configures a Base store.
type Options[T Record] struct {
	// Initial is used by Init when storage is absent or empty.
	Initial []T
	Storage storage.Facade[[]T]
	Logger  *log.Logger
}

// Base is the plain ordered list, optionally written through to storage on
// every change.
type Base[T Record] struct {
	items      []T
	initial    []T
	storage    storage.Facade[[]T]
	logger     *log.Logger
	version    uint64
	inited     bool
	storageErr error
	// readErr is set when Init could not read storage. Writes are refused
	// while it is set so the unread stored value is never overwritten.
	readErr error
}

func New[T Record](opts Options[T]) *Base[T] {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Base[T]{
		initial: slices.Clone(opts.Initial),
		storage: opts.Storage,
		logger:  logger,
	}
}

// Init is idempotent; only the first call reads storage. Nothing is written
// back unless storage held no value yet. A failed read leaves the default in
// memory and the store read-only for its lifetime.
func (s *Base[T]) Init() {
	if s.inited {
		return
	}
	s.inited = true
	value := s.initial
	found := true
	if s.storage != nil {
		stored, ok, err := s.storage.Get()
		switch {
		case err != nil:
			s.readErr = err
			s.storageErr = fmt.Errorf("read stored value: %w", err)
			s.logger.Warn("storage read failed, using default value without saving", "err", err)
		case ok:
			value = stored
		default:
			found = false
		}
	}
	if s.storage != nil && !found {
		s.commit(dedupe(value))
		return
	}
	s.items = dedupe(value)
	s.version++
}

func (s *Base[T]) Value() []T      { return slices.Clone(s.items) }
func (s *Base[T]) Len() int        { return len(s.items) }
func (s *Base[T]) Version() uint64 { return s.version }

// ReadErr returns the error of a failed initial read, if any.
func (s *Base[T]) ReadErr() error { return s.readErr }

// SuspendWrites stops persisting changes for the rest of the store's life.
// It is used when related state could not be read and a write would pair
// new data with stale data.
func (s *Base[T]) SuspendWrites(err error) {
	if s.readErr == nil {
		s.readErr = err
	}
	if s.storageErr == nil {
		s.storageErr = err
	}
}

// StorageErr returns the last storage failure, or nil once a write succeeds.
// A failed initial read is reported for the lifetime of the store.
func (s *Base[T]) StorageErr() error { return s.storageErr }

// Set replaces the whole sequence. Later duplicates of an id are dropped.
func (s *Base[T]) Set(value []T) {
	s.commit(dedupe(value))
}

func (s *Base[T]) GetByID(id string) (T, bool) {
	if i := s.indexOf(id); i >= 0 {
		return s.items[i], true
	}
	var zero T
	return zero, false
}

func (s *Base[T]) Prepend(item T) {
	if s.indexOf(item.RecordID()) >= 0 {
		return
	}
	items := make([]T, 0, len(s.items)+1)
	items = append(items, item)
	s.commit(append(items, s.items...))
}

func (s *Base[T]) Append(item T) {
	if s.indexOf(item.RecordID()) >= 0 {
		return
	}
	items := make([]T, 0, len(s.items)+1)
	items = append(items, s.items...)
	s.commit(append(items, item))
}

func (s *Base[T]) Remove(id string) {
	s.RemoveMany([]string{id})
}

func (s *Base[T]) RemoveMany(ids []string) {
	drop := idSet(ids)
	items := make([]T, 0, len(s.items))
	for _, it := range s.items {
		if _, ok := drop[it.RecordID()]; !ok {
			items = append(items, it)
		}
	}
	if len(items) == len(s.items) {
		return
	}
	s.commit(items)
}

func (s *Base[T]) Clear() {
	if len(s.items) == 0 {
		return
	}
	s.commit(nil)
}

func (s *Base[T]) Update(id string, change func(T) T) {
	s.UpdateMany([]string{id}, change)
}

// UpdateMany applies change to every matching record. A change that alters a
// record's id is discarded for that record.
func (s *Base[T]) UpdateMany(ids []string, change func(T) T) {
	match := idSet(ids)
	var items []T
	for i, it := range s.items {
		if _, ok := match[it.RecordID()]; !ok {
			continue
		}
		next := change(it)
		if next.RecordID() != it.RecordID() {
			s.logger.Warn("update changed record id, ignoring", "id", it.RecordID())
			continue
		}
		if items == nil {
			items = slices.Clone(s.items)
		}
		items[i] = next
	}
	if items == nil {
		return
	}
	s.commit(items)
}

func (s *Base[T]) Move(id string, index int) {
	from := s.indexOf(id)
	if from < 0 {
		return
	}
	index = clamp(index, 0, len(s.items)-1)
	if index == from {
		return
	}
	s.commit(moved(s.items, from, index))
}

func (s *Base[T]) MoveToEnd(id string) {
	s.Move(id, len(s.items)-1)
}

func (s *Base[T]) MoveRelative(id string, offset int) {
	from := s.indexOf(id)
	if from < 0 {
		return
	}
	to := from + offset
	if to < 0 || to >= len(s.items) {
		return
	}
	s.Move(id, to)
}

func (s *Base[T]) commit(items []T) {
	s.items = items
	s.version++
	if s.storage == nil {
		return
	}
	if s.readErr != nil {
		return
	}
	value := items
	if value == nil {
		value = []T{}
	}
	if err := s.storage.Set(value); err != nil {
		s.storageErr = err
		s.logger.Warn("storage write failed, keeping in-memory value", "err", err)
		return
	}
	s.storageErr = nil
}

func (s *Base[T]) indexOf(id string) int {
	return indexOf(s.items, id)
}

func indexOf[T Record](items []T, id string) int {
	return slices.IndexFunc(items, func(it T) bool { return it.RecordID() == id })
}

// moved returns a copy of items with the element at from reinserted at to.
func moved[T any](items []T, from, to int) []T {
	out := slices.Clone(items)
	item := out[from]
	out = slices.Delete(out, from, from+1)
	return slices.Insert(out, to, item)
}

func dedupe[T Record](value []T) []T {
	seen := make(map[string]struct{}, len(value))
	out := make([]T, 0, len(value))
	for _, it := range value {
		if _, ok := seen[it.RecordID()]; ok {
			continue
		}
		seen[it.RecordID()] = struct{}{}
		out = append(out, it)
	}
	return out
}

func idSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
