package engine

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"todoline/internal/config"
	"todoline/internal/domain"
	"todoline/internal/list"
	"todoline/internal/logging"
	"todoline/internal/storage"
)

var (
	ErrNotFound  = storage.ErrNotFound
	ErrAmbiguous = errors.New("ambiguous reference")
)

// Options wires an Engine. KV may be nil for a purely in-memory list.
type Options struct {
	KV           storage.KV
	Namespace    string
	ListLimit    int
	Insert       string
	HistoryLimit int
	Logger       *log.Logger
}

// OptionsFromConfig maps a loaded config onto engine options.
func OptionsFromConfig(cfg *config.Config, kv storage.KV, logger *log.Logger) Options {
	return Options{
		KV:           kv,
		Namespace:    cfg.Storage.Namespace,
		ListLimit:    cfg.List.Limit,
		Insert:       cfg.List.Insert,
		HistoryLimit: cfg.History.Limit,
		Logger:       logger,
	}
}

// Engine is the to-do list service: a task list grouped by completion with a
// snapshot history. Every mutating method records at most one snapshot and
// none when it changes nothing. An Engine is not safe for concurrent use.
type Engine struct {
	Now   func() time.Time
	NewID func() string

	base    *list.Base[domain.Task]
	groups  *list.Grouped[domain.Task, domain.Group]
	history *list.History[domain.Task]
	insert  string
	limit   int
	logger  *log.Logger
}

func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	e := &Engine{
		Now:    time.Now,
		NewID:  func() string { return uuid.NewString() },
		insert: opts.Insert,
		limit:  opts.ListLimit,
		logger: logger,
	}
	if e.insert == "" {
		e.insert = config.InsertPrepend
	}

	var (
		items     storage.Facade[[]domain.Task]
		snapshots storage.Facade[[]list.Snapshot[domain.Task]]
		cursor    storage.Facade[int]
	)
	if opts.KV != nil {
		ns := opts.Namespace
		items = storage.NewJSON[[]domain.Task](opts.KV, storage.Key(ns, "items"))
		snapshots = storage.NewJSON[[]list.Snapshot[domain.Task]](opts.KV, storage.Key(ns, "history"))
		cursor = storage.NewJSON[int](opts.KV, storage.Key(ns, "history", "index"))
	}

	e.base = list.New(list.Options[domain.Task]{Storage: items, Logger: logger})
	e.groups = list.Group[domain.Task, domain.Group](list.Limit[domain.Task](e.base, opts.ListLimit), domain.GroupOf)
	e.history = list.WithHistory[domain.Task](e.groups, list.HistoryOptions[domain.Task]{
		Storage: snapshots,
		Index:   cursor,
		Limit:   opts.HistoryLimit,
		Now:     e.now,
		Logger:  logger,
	})
	return e
}

// Init loads tasks and history from storage. It is safe to call more than once.
// If either could not be read, nothing is saved for the life of the Engine so
// the stored tasks and history stay consistent with each other.
func (e *Engine) Init() {
	e.history.Init()
	if err := errors.Join(e.base.ReadErr(), e.history.ReadErr()); err != nil {
		e.base.SuspendWrites(err)
		e.history.SuspendWrites(err)
		e.logger.Warn("stored tasks could not be read, changes will not be saved", "err", err)
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

// StorageErr reports the last storage failure of the task list or its
// history, if any.
func (e *Engine) StorageErr() error {
	return errors.Join(e.base.StorageErr(), e.history.StorageErr())
}

// AddOptions are parameters for adding a task.
type AddOptions struct {
	Label       string
	Description string
	// Insert overrides the configured insert position ("prepend" or "append").
	Insert string
}

func (e *Engine) Add(opts AddOptions) (domain.Task, error) {
	t := domain.Task{
		ID:          e.newID(),
		Label:       strings.TrimSpace(opts.Label),
		Description: strings.TrimSpace(opts.Description),
	}
	if err := t.Validate(); err != nil {
		return domain.Task{}, err
	}
	insert := opts.Insert
	if insert == "" {
		insert = e.insert
	}
	if insert != config.InsertPrepend && insert != config.InsertAppend {
		return domain.Task{}, &domain.ValidationError{Field: "position", Message: fmt.Sprintf("unknown position %q", insert)}
	}
	if _, ok := e.history.GetByID(t.ID); ok {
		return domain.Task{}, fmt.Errorf("task id %s already exists", t.ID)
	}
	e.history.Action(fmt.Sprintf("Add %q", t.Label), func() {
		if insert == config.InsertAppend {
			e.history.Append(t)
			return
		}
		e.history.Prepend(t)
	})
	e.logger.Debug("task added", "id", t.ID)
	return t, nil
}

// Edit applies patch to a task. It reports false when the task is unknown or
// the patch leaves it unchanged.
func (e *Engine) Edit(id string, patch domain.TaskPatch) (domain.Task, bool, error) {
	if err := patch.Validate(); err != nil {
		return domain.Task{}, false, err
	}
	current, ok := e.history.GetByID(id)
	if !ok {
		return domain.Task{}, false, nil
	}
	next := patch.Apply(current)
	if next == current {
		return current, false, nil
	}
	_, changed := e.history.Action(editMessage(current, next), func() {
		e.history.Update(id, patch.Apply)
	})
	return next, changed, nil
}

func editMessage(before, after domain.Task) string {
	if before.Label == after.Label && before.Description == after.Description {
		if after.Completed {
			return fmt.Sprintf("Complete %q", after.Label)
		}
		return fmt.Sprintf("Reopen %q", after.Label)
	}
	return fmt.Sprintf("Edit %q", after.Label)
}

func (e *Engine) SetCompleted(id string, completed bool) bool {
	_, changed, _ := e.Edit(id, domain.TaskPatch{Completed: &completed})
	return changed
}

// CompleteAll marks every active task completed and returns how many changed.
func (e *Engine) CompleteAll() int {
	ids := taskIDs(e.groups.Group(domain.GroupActive))
	if len(ids) == 0 {
		return 0
	}
	e.history.Action("Complete all", func() {
		e.history.UpdateMany(ids, func(t domain.Task) domain.Task {
			t.Completed = true
			return t
		})
	})
	return len(ids)
}

func (e *Engine) Remove(id string) bool {
	t, ok := e.history.GetByID(id)
	if !ok {
		return false
	}
	_, changed := e.history.Action(fmt.Sprintf("Delete %q", t.Label), func() {
		e.history.Remove(id)
	})
	return changed
}

// RemoveMany deletes the known ids and returns how many were removed.
func (e *Engine) RemoveMany(ids []string) int {
	var known []string
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := e.history.GetByID(id); ok {
			known = append(known, id)
		}
	}
	if len(known) == 0 {
		return 0
	}
	if len(known) == 1 {
		if e.Remove(known[0]) {
			return 1
		}
		return 0
	}
	e.history.Action(fmt.Sprintf("Delete %d tasks", len(known)), func() {
		e.history.RemoveMany(known)
	})
	return len(known)
}

// ClearGroup deletes every task in group.
func (e *Engine) ClearGroup(group domain.Group) int {
	ids := taskIDs(e.groups.Group(group))
	if len(ids) == 0 {
		return 0
	}
	e.history.Action(fmt.Sprintf("Delete all %s", group), func() {
		e.history.RemoveMany(ids)
	})
	return len(ids)
}

func (e *Engine) Clear() int {
	n := e.history.Len()
	if n == 0 {
		return 0
	}
	e.history.Action("Delete all tasks", e.history.Clear)
	return n
}

// MoveUp moves a task one position up among the tasks of its group.
func (e *Engine) MoveUp(id string) bool {
	return e.move(id, "up", func() { e.history.MoveRelative(id, -1) })
}

// MoveDown moves a task one position down among the tasks of its group.
func (e *Engine) MoveDown(id string) bool {
	return e.move(id, "down", func() { e.history.MoveRelative(id, 1) })
}

func (e *Engine) MoveToTop(id string) bool {
	return e.move(id, "to top", func() { e.history.Move(id, 0) })
}

func (e *Engine) MoveToBottom(id string) bool {
	return e.move(id, "to bottom", func() { e.history.MoveToEnd(id) })
}

// MoveTo moves a task to a 0-based position within its group. Positions past
// either end are clamped.
func (e *Engine) MoveTo(id string, position int) bool {
	key, ok := e.groups.KeyOf(id)
	if !ok {
		return false
	}
	siblings := e.groups.Group(key)
	if position < 0 {
		position = 0
	}
	if position > len(siblings)-1 {
		position = len(siblings) - 1
	}
	target := siblings[position].ID
	full := e.history.Value()
	index := -1
	for i, t := range full {
		if t.ID == target {
			index = i
			break
		}
	}
	return e.move(id, fmt.Sprintf("to %d", position+1), func() { e.history.Move(id, index) })
}

func (e *Engine) move(id, where string, fn func()) bool {
	t, ok := e.history.GetByID(id)
	if !ok {
		return false
	}
	_, changed := e.history.Action(fmt.Sprintf("Move %q %s", t.Label, where), fn)
	return changed
}

func (e *Engine) Undo() bool {
	if !e.history.CanUndo() {
		return false
	}
	e.history.Undo()
	return true
}

func (e *Engine) Redo() bool {
	if !e.history.CanRedo() {
		return false
	}
	e.history.Redo()
	return true
}

// Restore makes the snapshot offset positions away from id current. It
// reports false when the id is unknown or the target is out of range.
func (e *Engine) Restore(id string, offset int) bool {
	snaps := e.history.History()
	for i, s := range snaps {
		if s.ID != id {
			continue
		}
		target := i + offset
		if target < 0 || target >= len(snaps) {
			return false
		}
		e.history.RestoreSnapshot(id, offset)
		return true
	}
	return false
}

func (e *Engine) CanUndo() bool { return e.history.CanUndo() }
func (e *Engine) CanRedo() bool { return e.history.CanRedo() }

// History returns every snapshot, oldest first.
func (e *Engine) History() []list.Snapshot[domain.Task] { return e.history.History() }

// HistoryIndex is the position of the current snapshot in History.
func (e *Engine) HistoryIndex() int { return e.history.Index() }

func (e *Engine) Snapshot(id string) (list.Snapshot[domain.Task], bool) {
	return e.history.GetSnapshotByID(id)
}

// Tasks returns every task in storage order.
func (e *Engine) Tasks() []domain.Task { return e.history.Value() }

func (e *Engine) Active() []domain.Task { return e.groups.Group(domain.GroupActive) }

func (e *Engine) Completed() []domain.Task { return e.groups.Group(domain.GroupCompleted) }

// Ordered returns active tasks followed by completed ones, the order tasks are
// listed and numbered in.
func (e *Engine) Ordered() []domain.Task {
	return append(e.Active(), e.Completed()...)
}

func (e *Engine) Get(id string) (domain.Task, bool) {
	return e.history.GetByID(id)
}

// Resolve finds a task by exact id, by 1-based position in Ordered, or by a
// unique id prefix, in that order.
func (e *Engine) Resolve(ref string) (domain.Task, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return domain.Task{}, &domain.ValidationError{Field: "ref", Message: "task reference is required"}
	}
	if t, ok := e.history.GetByID(ref); ok {
		return t, nil
	}
	ordered := e.Ordered()
	if n, err := strconv.Atoi(ref); err == nil {
		if n >= 1 && n <= len(ordered) {
			return ordered[n-1], nil
		}
		return domain.Task{}, fmt.Errorf("task #%d: %w", n, ErrNotFound)
	}
	var matches []domain.Task
	for _, t := range ordered {
		if strings.HasPrefix(t.ID, ref) {
			matches = append(matches, t)
		}
	}
	switch len(matches) {
	case 0:
		return domain.Task{}, fmt.Errorf("task %s: %w", ref, ErrNotFound)
	case 1:
		return matches[0], nil
	}
	return domain.Task{}, fmt.Errorf("task %s matches %d tasks: %w", ref, len(matches), ErrAmbiguous)
}

func taskIDs(tasks []domain.Task) []string {
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}
	return ids
}
