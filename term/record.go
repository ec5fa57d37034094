package term

// StructKey is the map key carrying the discriminator atom of a record.
const StructKey = "__struct__"

// Field describes one record field.
type Field struct {
	Name     string
	Optional bool
}

// Schema describes a tagged-map record: a map whose StructKey entry names
// the record type and whose atom keys hold the fields.
type Schema struct {
	Tag    string
	Fields []Field
}

// Encode builds the record map from field values. Fields absent from
// values are omitted when optional and rejected otherwise.
func (s Schema) Encode(values map[string]Value) (Value, error) {
	pairs := make([]Pair, 0, len(s.Fields)+1)
	pairs = append(pairs, Pair{Key: Atom(StructKey), Value: Atom(s.Tag)})
	for _, f := range s.Fields {
		v, ok := values[f.Name]
		if !ok {
			if f.Optional {
				continue
			}
			return Value{}, &MissingFieldError{Name: f.Name}
		}
		pairs = append(pairs, Pair{Key: Atom(f.Name), Value: v})
	}
	return Map(pairs...)
}

// Decode checks the discriminator of v and extracts its fields. Keys not
// named by the schema are ignored.
func (s Schema) Decode(v Value) (map[string]Value, error) {
	if v.kind != KindMap {
		return nil, &TagMismatchError{Expected: s.Tag, Found: v}
	}
	tag, ok := v.Get(Atom(StructKey))
	if !ok {
		return nil, &MissingFieldError{Name: StructKey}
	}
	if name, isAtom := tag.AsAtom(); !isAtom || name != s.Tag {
		return nil, &TagMismatchError{Expected: s.Tag, Found: tag}
	}

	out := make(map[string]Value, len(s.Fields))
	for _, f := range s.Fields {
		fv, ok := v.Get(Atom(f.Name))
		if !ok {
			if f.Optional {
				continue
			}
			return nil, &MissingFieldError{Name: f.Name}
		}
		out[f.Name] = fv
	}
	return out, nil
}
