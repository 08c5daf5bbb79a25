package list

import "slices"

// Grouped partitions the wrapped store into buckets by a key function. The
// partition is recomputed from the wrapped store's current value on first
// read after any change, so it is consistent as soon as a mutation returns.
type Grouped[T Record, K comparable] struct {
	Store[T]
	key func(T) K

	groups  map[K][]T
	version uint64
	valid   bool
}

func Group[T Record, K comparable](s Store[T], key func(T) K) *Grouped[T, K] {
	return &Grouped[T, K]{Store: s, key: key}
}

// Groups returns every non-empty bucket. Each bucket keeps the order of the
// full list.
func (g *Grouped[T, K]) Groups() map[K][]T {
	current := g.current()
	out := make(map[K][]T, len(current))
	for k, items := range current {
		out[k] = slices.Clone(items)
	}
	return out
}

// Group returns one bucket, empty when no record maps to k.
func (g *Grouped[T, K]) Group(k K) []T {
	return slices.Clone(g.current()[k])
}

// KeyOf reports the bucket of the record with the given id.
func (g *Grouped[T, K]) KeyOf(id string) (K, bool) {
	item, ok := g.Store.GetByID(id)
	if !ok {
		var zero K
		return zero, false
	}
	return g.key(item), true
}

// MoveRelative moves a record by offset among the records of its own bucket.
// The bucket's slots in the full list stay where they are; only the order of
// the bucket's records across those slots changes, so records of other
// buckets never move. Targets outside the bucket are ignored.
func (g *Grouped[T, K]) MoveRelative(id string, offset int) {
	item, ok := g.Store.GetByID(id)
	if !ok {
		return
	}
	full := g.Store.Value()
	k := g.key(item)
	var slots []int
	for i, it := range full {
		if g.key(it) == k {
			slots = append(slots, i)
		}
	}
	members := make([]T, len(slots))
	for i, slot := range slots {
		members[i] = full[slot]
	}
	from := indexOf(members, id)
	to := from + offset
	if to < 0 || to >= len(members) || to == from {
		return
	}
	members = moved(members, from, to)
	for i, slot := range slots {
		full[slot] = members[i]
	}
	g.Store.Set(full)
}

func (g *Grouped[T, K]) current() map[K][]T {
	if g.valid && g.version == g.Store.Version() {
		return g.groups
	}
	groups := make(map[K][]T)
	for _, it := range g.Store.Value() {
		k := g.key(it)
		groups[k] = append(groups[k], it)
	}
	g.groups = groups
	g.version = g.Store.Version()
	g.valid = true
	return groups
}
