package symbol

// LocationSet is a set of Location, merged by union everywhere it
// appears in the data model (SymbolName values, CursorInfo.References).
// Dependency values are PathSet, not LocationSet.
type LocationSet map[Location]struct{}

// NewLocationSet builds a LocationSet from the given locations.
func NewLocationSet(locs ...Location) LocationSet {
	s := make(LocationSet, len(locs))
	for _, l := range locs {
		s[l] = struct{}{}
	}
	return s
}

// Clone returns a shallow copy.
func (s LocationSet) Clone() LocationSet {
	out := make(LocationSet, len(s))
	for l := range s {
		out[l] = struct{}{}
	}
	return out
}

// Unite merges added into the receiver in place and reports whether the
// receiver grew. Set union cannot shrink, so size comparison is a
// sufficient change predicate.
func (s LocationSet) Unite(added LocationSet) bool {
	before := len(s)
	for l := range added {
		s[l] = struct{}{}
	}
	return len(s) != before
}

// RemoveByPath deletes every Location whose Path is in dirty, and
// reports whether anything was removed.
func (s LocationSet) RemoveByPath(dirty map[string]struct{}) bool {
	changed := false
	for l := range s {
		if _, ok := dirty[l.Path]; ok {
			delete(s, l)
			changed = true
		}
	}
	return changed
}

// CursorInfo is the per-Location record stored in the Symbol database.
type CursorInfo struct {
	SymbolLength uint32
	Kind         CursorKind
	Target       *Location
	References   LocationSet
}

// NewCursorInfo returns the default-constructed, "unpopulated" record.
func NewCursorInfo() CursorInfo {
	return CursorInfo{References: LocationSet{}}
}

// IsEmpty reports whether this record carries no information worth
// persisting: no target and no references.
func (c CursorInfo) IsEmpty() bool {
	return c.Target == nil && len(c.References) == 0
}

// Unite merges added into the receiver: max symbol_length, kind prefers
// the non-null/defined one (tie keeps existing), target prefers
// non-null (tie keeps existing), references is set union. It returns
// the merged record and whether the merged record differs from the
// pre-merge receiver.
func (c CursorInfo) Unite(added CursorInfo) (CursorInfo, bool) {
	changed := false

	merged := c
	if merged.References == nil {
		merged.References = LocationSet{}
	}

	if added.SymbolLength > merged.SymbolLength {
		merged.SymbolLength = added.SymbolLength
		changed = true
	}

	if !merged.Kind.IsDefinitionPreferred() && added.Kind.IsDefinitionPreferred() {
		merged.Kind = added.Kind
		changed = true
	}

	if merged.Target == nil && added.Target != nil {
		t := *added.Target
		merged.Target = &t
		changed = true
	}

	if added.References != nil {
		addedClone := added.References.Clone()
		if merged.References.Unite(addedClone) {
			changed = true
		}
	}

	return merged, changed
}

// Dirty removes from References any Location whose path is in dirty and
// nils Target if its path is in dirty. It reports whether the record
// changed, feeding the Dirty Job's per-record rewrite-or-delete logic.
func (c *CursorInfo) Dirty(dirty map[string]struct{}) bool {
	changed := false
	if c.Target != nil {
		if _, ok := dirty[c.Target.Path]; ok {
			c.Target = nil
			changed = true
		}
	}
	if c.References != nil && c.References.RemoveByPath(dirty) {
		changed = true
	}
	return changed
}
