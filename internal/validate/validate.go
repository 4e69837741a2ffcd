// Package validate turns model responses and candidate mappings into records
// keyed by schema field names.
package validate

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/formscan/permit-ocr-service/internal/diag"
	"github.com/formscan/permit-ocr-service/internal/schema"
)

const stage = "validating"

var (
	ErrNoJSONFound   = errors.New("no JSON object found")
	ErrMalformedJSON = errors.New("malformed JSON")
	ErrNotAnObject   = errors.New("JSON value is not an object")
)

// Report carries what validation absorbed.
type Report struct {
	Diagnostics diag.List
	// Extras holds keys that are not schema fields, with their values.
	Extras map[string]any
	// Raw is the unparsed response when no record could be recovered.
	Raw string
	// Err is ErrNoJSONFound, ErrMalformedJSON or ErrNotAnObject.
	Err error
}

func (r *Report) fail(kind diag.Kind, err error, raw, format string, args ...any) {
	r.Err = err
	r.Raw = raw
	r.Diagnostics.Add(kind, stage, "", format, args...)
}

func (r *Report) extra(key string, v any) {
	if r.Extras == nil {
		r.Extras = make(map[string]any)
	}
	r.Extras[key] = v
	r.Diagnostics.Add(diag.UnknownField, stage, key, "key is not a schema field")
}

// Response isolates the JSON object in a model response and normalizes it.
// Parse failures yield an empty record and a Report with Err set; it never
// returns an error or panics.
func Response(raw string, s *schema.Schema) (schema.Record, Report) {
	var rep Report

	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end < start {
		rep.fail(diag.NoJSONFound, ErrNoJSONFound, raw, "response has no {...} span")
		return schema.Record{}, rep
	}
	span := raw[start : end+1]

	// A bare JSON document such as an array of objects is not a record.
	if v, trailing, err := decode(strings.TrimSpace(raw)); err == nil && !trailing {
		if _, ok := v.(map[string]any); !ok {
			rep.fail(diag.NotAnObject, ErrNotAnObject, raw, "top-level JSON value is %s", describe(v))
			return schema.Record{}, rep
		}
	}

	v, trailing, err := decode(span)
	if err != nil {
		if fixed := repair(span); fixed != span {
			if rv, rtrailing, rerr := decode(fixed); rerr == nil {
				v, trailing, err = rv, rtrailing, nil
				rep.Diagnostics.Add(diag.JSONRepaired, stage, "", "response JSON was repaired before parsing")
			}
		}
	}
	if err != nil {
		rep.fail(diag.MalformedJSON, ErrMalformedJSON, raw, "%v", err)
		return schema.Record{}, rep
	}
	if trailing {
		rep.Diagnostics.Add(diag.UnexpectedShape, stage, "", "content after the first JSON object was ignored")
	}

	obj, ok := v.(map[string]any)
	if !ok {
		rep.fail(diag.NotAnObject, ErrNotAnObject, raw, "top-level JSON value is %s", describe(v))
		return schema.Record{}, rep
	}
	return normalizeRecord(obj, s, &rep), rep
}

// Candidate normalizes a mapping produced by a strategy.
func Candidate(c schema.Record, s *schema.Schema) (schema.Record, Report) {
	var rep Report
	return normalizeRecord(c, s, &rep), rep
}

func decode(span string) (any, bool, error) {
	dec := json.NewDecoder(strings.NewReader(span))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false, err
	}
	return v, dec.More(), nil
}

func describe(v any) string {
	switch v.(type) {
	case []any:
		return "an array"
	case string:
		return "a string"
	case json.Number:
		return "a number"
	case bool:
		return "a boolean"
	case nil:
		return "null"
	}
	return fmt.Sprintf("%T", v)
}

type normalizer struct {
	schema *schema.Schema
	rep    *Report
	out    schema.Record
	seen   map[string]string // field path -> raw key that set it
}

func normalizeRecord(in map[string]any, s *schema.Schema, rep *Report) schema.Record {
	n := &normalizer{schema: s, rep: rep, out: schema.Record{}, seen: map[string]string{}}

	for _, raw := range sortedKeys(in) {
		val := in[raw]
		ref, ok := s.Lookup(schema.NormalizeKey(raw))
		if !ok {
			rep.extra(raw, val)
			continue
		}
		// null carries no information
		if val == nil {
			continue
		}
		switch {
		case ref.Parent != nil:
			n.leaf(ref.Parent, ref.Field, raw, val)
		case ref.Field.IsGroup():
			n.group(ref.Field, raw, val)
		default:
			n.leaf(nil, ref.Field, raw, val)
		}
	}
	return n.out
}

func (n *normalizer) group(f *schema.Field, raw string, val any) {
	if m := schema.AsRecord(val); m != nil {
		for _, k := range sortedKeys(m) {
			child, ok := f.Child(schema.NormalizeKey(k))
			if !ok {
				n.rep.extra(raw+"."+k, m[k])
				continue
			}
			if m[k] == nil {
				continue
			}
			n.leaf(f, child, raw+"."+k, m[k])
		}
		return
	}

	var items []string
	switch x := val.(type) {
	case []any:
		for _, item := range x {
			if s, ok := scalar(item); ok && s != "" {
				items = append(items, s)
			}
		}
	case string:
		for _, item := range strings.Split(x, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
	default:
		n.rep.Diagnostics.Add(diag.UnexpectedShape, stage, f.Name, "group value is %s", describe(val))
		return
	}

	// A list names the members that apply; the others do not.
	n.rep.Diagnostics.Add(diag.UnexpectedShape, stage, f.Name, "group given as a list")
	listed := make(map[string]bool)
	for _, item := range items {
		child, ok := f.Child(schema.NormalizeKey(item))
		if !ok {
			n.rep.Diagnostics.Add(diag.UnknownField, stage, f.Name, "list item %q is not a member", item)
			continue
		}
		listed[child.Name] = true
	}
	for i := range f.Fields {
		child := &f.Fields[i]
		if child.Kind != schema.KindYesNo {
			continue
		}
		answer := "No"
		if listed[child.Name] {
			answer = "Yes"
		}
		n.set(f, child, raw, answer)
	}
}

func (n *normalizer) leaf(parent, f *schema.Field, raw string, val any) {
	if f.Kind == schema.KindYesNo {
		if schema.AsRecord(val) != nil {
			n.rep.Diagnostics.Add(diag.UnexpectedShape, stage, path(parent, f), "object given for a Yes/No field")
		}
		n.set(parent, f, raw, yesNo(val))
		return
	}

	s, ok := scalar(val)
	if !ok {
		n.rep.Diagnostics.Add(diag.UnexpectedShape, stage, path(parent, f), "value is %s, expected a scalar", describe(val))
		return
	}
	n.set(parent, f, raw, s)
}

func (n *normalizer) set(parent, f *schema.Field, raw, value string) {
	p := path(parent, f)
	if prev, dup := n.seen[p]; dup {
		n.rep.Diagnostics.Add(diag.DuplicateField, stage, p, "keys %q and %q map to the same field, kept %q", prev, raw, prev)
		return
	}
	n.seen[p] = raw

	if parent == nil {
		n.out[f.Name] = value
		return
	}
	group, _ := n.out[parent.Name].(schema.Record)
	if group == nil {
		group = schema.Record{}
		n.out[parent.Name] = group
	}
	group[f.Name] = value
}

func path(parent, f *schema.Field) string {
	if parent == nil {
		return f.Name
	}
	return parent.Name + "." + f.Name
}

// yesNo is total: only a case-insensitive "yes" or boolean true is "Yes".
func yesNo(v any) string {
	switch x := v.(type) {
	case string:
		if strings.EqualFold(strings.TrimSpace(x), "yes") {
			return "Yes"
		}
	case bool:
		if x {
			return "Yes"
		}
	}
	return "No"
}

// scalar renders a JSON scalar or an array of scalars as a trimmed string.
func scalar(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x), true
	case json.Number:
		return x.String(), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case int:
		return strconv.Itoa(x), true
	case bool:
		return strconv.FormatBool(x), true
	case []any:
		parts := make([]string, 0, len(x))
		for _, item := range x {
			if s, ok := scalar(item); ok && s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", "), true
	}
	return "", false
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
