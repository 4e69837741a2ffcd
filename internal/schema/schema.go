package schema

import (
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Kind is the declared value kind of a field.
type Kind string

const (
	KindText    Kind = "text"    // free text, title-cased
	KindCode    Kind = "code"    // alphanumeric identifier
	KindNumber  Kind = "number"  // digit run
	KindMeasure Kind = "measure" // decimal quantity (height, weight)
	KindDate    Kind = "date"    // DD/MM/YYYY
	KindYesNo   Kind = "yesno"   // "Yes" or "No"
	KindGroup   Kind = "group"   // nested fields
)

func (k Kind) valid() bool {
	switch k {
	case KindText, KindCode, KindNumber, KindMeasure, KindDate, KindYesNo, KindGroup:
		return true
	}
	return false
}

// Field is one named attribute of the form.
type Field struct {
	Name        string   `yaml:"name" json:"name"`
	Kind        Kind     `yaml:"kind" json:"kind"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Labels      []string `yaml:"labels,omitempty" json:"labels,omitempty"` // regexp fragments, tried in order
	Fields      []Field  `yaml:"fields,omitempty" json:"fields,omitempty"`
}

// Key returns the snake_case key of the field ("FullName" -> "full_name").
func (f *Field) Key() string {
	return SnakeCase(f.Name)
}

// IsGroup reports whether the field holds nested fields.
func (f *Field) IsGroup() bool {
	return f.Kind == KindGroup
}

// Child finds a nested field by a normalized key.
func (f *Field) Child(key string) (*Field, bool) {
	c := compact(key)
	for i := range f.Fields {
		child := &f.Fields[i]
		if child.Key() == key || compact(child.Name) == c {
			return child, true
		}
	}
	return nil, false
}

// Ref locates a field; Parent is nil for top-level fields.
type Ref struct {
	Field  *Field
	Parent *Field
}

// Schema is the ordered, immutable field set shared by every request.
type Schema struct {
	fields []Field
	index  map[string]Ref

	once     sync.Once
	compiled *jsonschema.Schema
	errCheck error
}

// New validates the field list and builds the lookup index.
func New(fields []Field) (*Schema, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("schema: no fields")
	}
	s := &Schema{
		fields: append([]Field(nil), fields...),
		index:  make(map[string]Ref),
	}

	seen := make(map[string]bool)
	for i := range s.fields {
		f := &s.fields[i]
		if err := checkField(f, seen); err != nil {
			return nil, err
		}
		s.register(Ref{Field: f})
	}
	// Group children are addressable at the top level unless shadowed.
	for i := range s.fields {
		f := &s.fields[i]
		if !f.IsGroup() {
			continue
		}
		for j := range f.Fields {
			child := &f.Fields[j]
			if child.IsGroup() {
				return nil, fmt.Errorf("schema: nested group %q inside %q is not supported", child.Name, f.Name)
			}
			if err := checkField(child, seen); err != nil {
				return nil, err
			}
			s.register(Ref{Field: child, Parent: f})
		}
	}
	return s, nil
}

// MustNew is New for static field lists.
func MustNew(fields []Field) *Schema {
	s, err := New(fields)
	if err != nil {
		panic(err)
	}
	return s
}

func checkField(f *Field, seen map[string]bool) error {
	if strings.TrimSpace(f.Name) == "" {
		return fmt.Errorf("schema: field with empty name")
	}
	if !f.Kind.valid() {
		return fmt.Errorf("schema: field %q has unknown kind %q", f.Name, f.Kind)
	}
	if f.IsGroup() && len(f.Fields) == 0 {
		return fmt.Errorf("schema: group %q has no fields", f.Name)
	}
	c := compact(f.Name)
	if seen[c] {
		return fmt.Errorf("schema: duplicate field %q", f.Name)
	}
	seen[c] = true
	return nil
}

func (s *Schema) register(ref Ref) {
	for _, k := range []string{ref.Field.Key(), compact(ref.Field.Name)} {
		if _, exists := s.index[k]; !exists {
			s.index[k] = ref
		}
	}
}

// Fields returns the top-level fields in declaration order.
func (s *Schema) Fields() []Field {
	return s.fields
}

// Names returns the top-level field names in declaration order.
func (s *Schema) Names() []string {
	names := make([]string, len(s.fields))
	for i := range s.fields {
		names[i] = s.fields[i].Name
	}
	return names
}

// Lookup resolves a normalized key ("full_name") or compact name ("fullname").
func (s *Schema) Lookup(key string) (Ref, bool) {
	if ref, ok := s.index[key]; ok {
		return ref, true
	}
	ref, ok := s.index[compact(key)]
	return ref, ok
}

// NormalizeKey trims a raw key, joins internal whitespace with underscores and
// lowercases it ("Full Name" -> "full_name").
func NormalizeKey(raw string) string {
	return strings.ToLower(strings.Join(strings.Fields(raw), "_"))
}

// SnakeCase converts a CamelCase name to snake_case.
func SnakeCase(name string) string {
	var b strings.Builder
	runes := []rune(name)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]) && unicode.IsUpper(runes[i-1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func compact(s string) string {
	s = strings.ToLower(s)
	return strings.Map(func(r rune) rune {
		if r == '_' || r == '-' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
