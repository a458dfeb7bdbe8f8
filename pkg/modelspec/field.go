package modelspec

// FieldType enumerates the wire types a schema field can declare.
type FieldType string

const (
	TypeString    FieldType = "string"
	TypeNumber    FieldType = "number"
	TypeInteger   FieldType = "integer"
	TypeBoolean   FieldType = "boolean"
	TypeTimestamp FieldType = "timestamp"
	// TypeID marks a field holding a backend-native identifier. On the wire it
	// is a string; Decode materializes it through the adapter's IDSchema.
	TypeID     FieldType = "id"
	TypeObject FieldType = "object"
	TypeArray  FieldType = "array"
)

// Field declares one schema field. Constraint pointers are nil when the
// constraint does not apply.
type Field struct {
	Name      string
	Type      FieldType
	Required  bool
	Enum      []any
	Min       *float64
	Max       *float64
	MinLength *int
	MaxLength *int
	Pattern   string
	// Fields describes nested object properties. Empty means freeform object.
	Fields []Field
	// Element describes array items. Nil means freeform array.
	Element *Field
}

// propertySchema renders the field as a JSON Schema property document.
// Optional fields also admit null: adapters rewrite null to absent on the
// ingress boundary, but validation runs before they get the chance.
func (f Field) propertySchema() map[string]any {
	prop := map[string]any{}

	switch f.Type {
	case TypeString:
		prop["type"] = f.typeList("string")
		if f.MinLength != nil {
			prop["minLength"] = *f.MinLength
		}
		if f.MaxLength != nil {
			prop["maxLength"] = *f.MaxLength
		}
		if f.Pattern != "" {
			prop["pattern"] = f.Pattern
		}
	case TypeNumber, TypeInteger:
		prop["type"] = f.typeList(string(f.Type))
		if f.Min != nil {
			prop["minimum"] = *f.Min
		}
		if f.Max != nil {
			prop["maximum"] = *f.Max
		}
	case TypeBoolean:
		prop["type"] = f.typeList("boolean")
	case TypeTimestamp:
		prop["type"] = f.typeList("string")
		prop["format"] = "date-time"
	case TypeID:
		// Ids are strings on the wire; numeric ids from permissive clients are
		// coerced at decode time.
		prop["type"] = f.typeList("string", "number")
	case TypeObject:
		prop["type"] = f.typeList("object")
		if len(f.Fields) > 0 {
			props := map[string]any{}
			var required []string
			for _, sub := range f.Fields {
				props[sub.Name] = sub.propertySchema()
				if sub.Required {
					required = append(required, sub.Name)
				}
			}
			prop["properties"] = props
			if len(required) > 0 {
				prop["required"] = required
			}
		}
	case TypeArray:
		prop["type"] = f.typeList("array")
		if f.Element != nil {
			prop["items"] = f.Element.propertySchema()
		}
	}

	if len(f.Enum) > 0 {
		prop["enum"] = f.Enum
	}

	return prop
}

func (f Field) typeList(types ...string) any {
	if !f.Required {
		types = append(types, "null")
	}
	if len(types) == 1 {
		return types[0]
	}
	return types
}
