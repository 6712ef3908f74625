package symbol

import (
	"bytes"
	"encoding/gob"
)

// gobCursorInfo is the wire shape CursorInfo is encoded as with
// encoding/gob; LocationSet and PathSet are encoded as plain slices.
// The maps aren't encoded directly because gob needs exported,
// pointer-free-friendly shapes for the map key/Location type and we
// want a stable zero value for an absent key.

type gobCursorInfo struct {
	SymbolLength uint32
	Kind         CursorKind
	HasTarget    bool
	Target       Location
	References   []Location
}

// EncodeCursorInfo renders c as the canonical binary encoding stored as
// a Symbol database value.
func EncodeCursorInfo(c CursorInfo) ([]byte, error) {
	g := gobCursorInfo{
		SymbolLength: c.SymbolLength,
		Kind:         c.Kind,
	}
	if c.Target != nil {
		g.HasTarget = true
		g.Target = *c.Target
	}
	for l := range c.References {
		g.References = append(g.References, l)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&g); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeCursorInfo decodes bytes produced by EncodeCursorInfo. Decoding
// a nil/empty slice yields the empty CursorInfo, so callers can decode
// an absent key the same way as a present one.
func DecodeCursorInfo(data []byte) (CursorInfo, error) {
	if len(data) == 0 {
		return NewCursorInfo(), nil
	}

	var g gobCursorInfo
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&g); err != nil {
		return CursorInfo{}, err
	}

	c := CursorInfo{
		SymbolLength: g.SymbolLength,
		Kind:         g.Kind,
		References:   NewLocationSet(g.References...),
	}
	if g.HasTarget {
		t := g.Target
		c.Target = &t
	}
	return c, nil
}

// EncodeLocationSet renders s as the canonical binary encoding stored
// as a SymbolName database value.
func EncodeLocationSet(s LocationSet) ([]byte, error) {
	locs := make([]Location, 0, len(s))
	for l := range s {
		locs = append(locs, l)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&locs); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeLocationSet decodes bytes produced by EncodeLocationSet.
// Decoding a nil/empty slice yields the empty set.
func DecodeLocationSet(data []byte) (LocationSet, error) {
	if len(data) == 0 {
		return LocationSet{}, nil
	}

	var locs []Location
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&locs); err != nil {
		return nil, err
	}
	return NewLocationSet(locs...), nil
}

// EncodeArgs renders an argument vector (FileInformation's value) as
// the canonical binary encoding.
func EncodeArgs(args []string) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&args); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeArgs decodes bytes produced by EncodeArgs. Decoding a nil/empty
// slice yields nil, the empty value for list<bytes>.
func DecodeArgs(data []byte) ([]string, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var args []string
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&args); err != nil {
		return nil, err
	}
	return args, nil
}

// PathSet is a set of canonical file paths, used for Dependency values.
// It shares LocationSet's union semantics but keyed on bare strings.
type PathSet map[string]struct{}

func NewPathSet(paths ...string) PathSet {
	s := make(PathSet, len(paths))
	for _, p := range paths {
		s[p] = struct{}{}
	}
	return s
}

func (s PathSet) Unite(added PathSet) bool {
	before := len(s)
	for p := range added {
		s[p] = struct{}{}
	}
	return len(s) != before
}

func (s PathSet) Clone() PathSet {
	out := make(PathSet, len(s))
	for p := range s {
		out[p] = struct{}{}
	}
	return out
}

// EncodePathSet / DecodePathSet handle the Dependency database's
// set<Path> values.
func EncodePathSet(s PathSet) ([]byte, error) {
	paths := make([]string, 0, len(s))
	for p := range s {
		paths = append(paths, p)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&paths); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodePathSet(data []byte) (PathSet, error) {
	if len(data) == 0 {
		return PathSet{}, nil
	}

	var paths []string
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&paths); err != nil {
		return nil, err
	}
	return NewPathSet(paths...), nil
}
