package models

// ExclusionSet holds product ids that must not be recommended during one
// recommendation request. It only grows. It is not safe for concurrent use
// and must not outlive the request that created it.
type ExclusionSet struct {
	ids   map[string]struct{}
	order []string
}

// NewExclusionSet returns a set seeded with the given ids.
func NewExclusionSet(ids ...string) *ExclusionSet {
	e := &ExclusionSet{ids: make(map[string]struct{}, len(ids)+16)}
	for _, id := range ids {
		e.Add(id)
	}
	return e
}

// Add inserts id. Empty ids are ignored.
func (e *ExclusionSet) Add(id string) {
	if id == "" {
		return
	}
	if _, ok := e.ids[id]; ok {
		return
	}
	e.ids[id] = struct{}{}
	e.order = append(e.order, id)
}

// Contains reports whether id is excluded. A nil set excludes nothing.
func (e *ExclusionSet) Contains(id string) bool {
	if e == nil {
		return false
	}
	_, ok := e.ids[id]
	return ok
}

// IDs returns the excluded ids in insertion order.
func (e *ExclusionSet) IDs() []string {
	if e == nil {
		return nil
	}
	out := make([]string, len(e.order))
	copy(out, e.order)
	return out
}

// Len returns the number of excluded ids.
func (e *ExclusionSet) Len() int {
	if e == nil {
		return 0
	}
	return len(e.order)
}
