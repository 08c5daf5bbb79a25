package list

// Unbounded disables limiting.
const Unbounded = 0

// Limited caps the wrapped store at a fixed number of records.
type Limited[T Record] struct {
	Store[T]
	limit int
}

// Limit wraps s so it never holds more than limit records. A limit of
// Unbounded (or any non-positive value) returns s unchanged.
func Limit[T Record](s Store[T], limit int) Store[T] {
	if limit <= Unbounded {
		return s
	}
	return &Limited[T]{Store: s, limit: limit}
}

func (l *Limited[T]) Cap() int { return l.limit }

// Init truncates values stored under a previous, larger limit.
func (l *Limited[T]) Init() {
	l.Store.Init()
	if l.Store.Len() > l.limit {
		l.Store.Set(l.Store.Value()[:l.limit])
	}
}

func (l *Limited[T]) Set(value []T) {
	if len(value) > l.limit {
		value = value[:l.limit]
	}
	l.Store.Set(value)
}

// Prepend evicts the last record when full.
func (l *Limited[T]) Prepend(item T) {
	if l.has(item) {
		return
	}
	if l.Store.Len() >= l.limit {
		value := l.Store.Value()
		l.Store.Remove(value[len(value)-1].RecordID())
	}
	l.Store.Prepend(item)
}

// Append evicts the first record when full.
func (l *Limited[T]) Append(item T) {
	if l.has(item) {
		return
	}
	if l.Store.Len() >= l.limit {
		l.Store.Remove(l.Store.Value()[0].RecordID())
	}
	l.Store.Append(item)
}

func (l *Limited[T]) has(item T) bool {
	_, ok := l.Store.GetByID(item.RecordID())
	return ok
}
