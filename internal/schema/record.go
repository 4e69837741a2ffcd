package schema

// Record maps field names to values. Values are strings, nested Records for
// groups, or nil for the unknown marker. An empty string means the field was
// present but empty.
type Record map[string]any

// Unknown is the explicit "field not found" marker.
var Unknown any = nil

// ApplyDefaults returns a copy of rec restricted to the schema's fields, with
// every absent field set to Unknown. Groups are defaulted field by field.
func ApplyDefaults(rec Record, s *Schema) Record {
	out := make(Record, len(s.fields))
	for i := range s.fields {
		f := &s.fields[i]
		v, ok := rec[f.Name]
		if !f.IsGroup() {
			if ok {
				out[f.Name] = v
			} else {
				out[f.Name] = Unknown
			}
			continue
		}
		nested := AsRecord(v)
		group := make(Record, len(f.Fields))
		for _, child := range f.Fields {
			if cv, ok := nested[child.Name]; ok {
				group[child.Name] = cv
			} else {
				group[child.Name] = Unknown
			}
		}
		out[f.Name] = group
	}
	return out
}

// UnknownFields lists the dotted names of fields holding the unknown marker.
func UnknownFields(rec Record, s *Schema) []string {
	var missing []string
	for i := range s.fields {
		f := &s.fields[i]
		if !f.IsGroup() {
			if rec[f.Name] == nil {
				missing = append(missing, f.Name)
			}
			continue
		}
		nested := AsRecord(rec[f.Name])
		for _, child := range f.Fields {
			if nested[child.Name] == nil {
				missing = append(missing, f.Name+"."+child.Name)
			}
		}
	}
	return missing
}

// Fill copies values from src into fields of dst that hold the unknown marker.
func Fill(dst, src Record, s *Schema) Record {
	out := ApplyDefaults(dst, s)
	for i := range s.fields {
		f := &s.fields[i]
		if !f.IsGroup() {
			if out[f.Name] == nil && src[f.Name] != nil {
				out[f.Name] = src[f.Name]
			}
			continue
		}
		group := out[f.Name].(Record)
		from := AsRecord(src[f.Name])
		for _, child := range f.Fields {
			if group[child.Name] == nil && from[child.Name] != nil {
				group[child.Name] = from[child.Name]
			}
		}
	}
	return out
}

// AsRecord returns v as a Record when it is a mapping, nil otherwise.
func AsRecord(v any) Record {
	switch m := v.(type) {
	case Record:
		return m
	case map[string]any:
		return Record(m)
	}
	return nil
}
