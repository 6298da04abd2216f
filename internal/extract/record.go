package extract

// Attr is one attribute of a Record element.
type Attr struct {
	Key   string
	Value string
}

// FlatRecord is the attribute set of one Record element, kept in the
// order the attributes appeared in the source. Keys are unique.
type FlatRecord struct {
	attrs []Attr
}

// NewFlatRecord builds a record from attrs. Later duplicates of a key are
// dropped so the result always has unique keys.
func NewFlatRecord(attrs ...Attr) FlatRecord {
	out := make([]Attr, 0, len(attrs))
	seen := make(map[string]bool, len(attrs))
	for _, a := range attrs {
		if seen[a.Key] {
			continue
		}
		seen[a.Key] = true
		out = append(out, a)
	}
	return FlatRecord{attrs: out}
}

// Get returns the value for key and whether it was present.
func (r FlatRecord) Get(key string) (string, bool) {
	for _, a := range r.attrs {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

// Len returns the number of attributes.
func (r FlatRecord) Len() int { return len(r.attrs) }

// Keys returns the attribute names in source order.
func (r FlatRecord) Keys() []string {
	keys := make([]string, len(r.attrs))
	for i, a := range r.attrs {
		keys[i] = a.Key
	}
	return keys
}

// Values returns the attribute values in source order.
func (r FlatRecord) Values() []string {
	values := make([]string, len(r.attrs))
	for i, a := range r.attrs {
		values[i] = a.Value
	}
	return values
}

// Attrs returns a copy of the attributes in source order.
func (r FlatRecord) Attrs() []Attr {
	return append([]Attr(nil), r.attrs...)
}
