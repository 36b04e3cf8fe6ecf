package adapter

// FieldType declares how filter and write values are coerced before they
// reach a backend.
type FieldType string

const (
	TypeString      FieldType = "string"
	TypeNumber      FieldType = "number"
	TypeBoolean     FieldType = "boolean"
	TypeDate        FieldType = "date"
	TypeStringArray FieldType = "string[]"
	TypeNumberArray FieldType = "number[]"
)

// Reference marks a field as a foreign key into another model.
type Reference struct {
	Model string
	Field string
}

type Field struct {
	Type       FieldType
	Required   bool
	Unique     bool
	References *Reference
}

type Model struct {
	Fields map[string]Field
}

// Schema maps model names to their declared fields. The adapter treats every
// model generically; plugins extend this map at registration time.
type Schema map[string]Model

// Merge folds ext into s: new models are added, existing models gain the
// extension's fields. A colliding field takes the extension's definition.
func (s Schema) Merge(ext Schema) Schema {
	for name, extModel := range ext {
		existing, ok := s[name]
		if !ok {
			s[name] = extModel
			continue
		}
		for fname, f := range extModel.Fields {
			existing.Fields[fname] = f
		}
	}
	return s
}

// Clone deep-copies the schema so registry merging never mutates the input.
func (s Schema) Clone() Schema {
	out := make(Schema, len(s))
	for name, m := range s {
		fields := make(map[string]Field, len(m.Fields))
		for fname, f := range m.Fields {
			fields[fname] = f
		}
		out[name] = Model{Fields: fields}
	}
	return out
}
