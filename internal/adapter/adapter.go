// Package adapter translates between the application's field naming
// (camelCase) and the storage row naming (snake_case). One mapping table per
// entity drives both directions, so the round-trip property can be checked
// mechanically instead of hand-maintaining per-entity converters.
package adapter

// Field is a single entry in an entity mapping.
type Field struct {
	Name   string // domain field name
	Column string // storage column name
	// Default is the domain value substituted when the storage value is
	// NULL or absent. Optional fields leave Default nil and set Optional,
	// which omits the field from the domain shape instead.
	Default  any
	Optional bool
}

// Mapping is the fixed, total field table for one entity.
type Mapping struct {
	Entity string

	fields   []Field
	byName   map[string]Field
	byColumn map[string]Field
}

// NewMapping builds a Mapping from ordered field pairs.
func NewMapping(entity string, fields ...Field) Mapping {
	m := Mapping{
		Entity:   entity,
		fields:   fields,
		byName:   make(map[string]Field, len(fields)),
		byColumn: make(map[string]Field, len(fields)),
	}
	for _, f := range fields {
		m.byName[f.Name] = f
		m.byColumn[f.Column] = f
	}
	return m
}

// Fields returns the mapping table in declaration order.
func (m Mapping) Fields() []Field {
	out := make([]Field, len(m.fields))
	copy(out, m.fields)
	return out
}

// Column resolves a domain field name to its storage column. The second
// return is false for unknown fields.
func (m Mapping) Column(name string) (string, bool) {
	f, ok := m.byName[name]
	if !ok {
		return "", false
	}
	return f.Column, true
}

// ToRow translates a partial domain shape into a partial storage row. Only
// the keys present in the input appear in the output; keys the mapping does
// not recognize pass through unchanged so callers can carry columns this
// layer does not know about.
func (m Mapping) ToRow(partial map[string]any) map[string]any {
	row := make(map[string]any, len(partial))
	for name, value := range partial {
		if f, ok := m.byName[name]; ok {
			row[f.Column] = value
			continue
		}
		row[name] = value
	}
	return row
}

// FromRow translates a storage row into the domain shape. The translation is
// total over the mapping: NULL or missing storage values become the field's
// documented default, optional fields with no value are omitted, and columns
// the mapping does not recognize are dropped.
func (m Mapping) FromRow(row map[string]any) map[string]any {
	out := make(map[string]any, len(m.fields))
	for _, f := range m.fields {
		value, present := row[f.Column]
		if !present || value == nil {
			if f.Optional {
				continue
			}
			out[f.Name] = f.Default
			continue
		}
		out[f.Name] = value
	}
	return out
}
