package schema

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomSchema(rng *rand.Rand, id int) *Schema {
	leafKinds := []Kind{KindText, KindCode, KindNumber, KindMeasure, KindDate, KindYesNo}
	n := 1 + rng.Intn(8)
	fields := make([]Field, 0, n)
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("F%dx%d", id, i)
		if rng.Intn(4) == 0 {
			children := make([]Field, 1+rng.Intn(4))
			for j := range children {
				children[j] = Field{Name: fmt.Sprintf("%sc%d", name, j), Kind: leafKinds[rng.Intn(len(leafKinds))]}
			}
			fields = append(fields, Field{Name: name, Kind: KindGroup, Fields: children})
			continue
		}
		fields = append(fields, Field{Name: name, Kind: leafKinds[rng.Intn(len(leafKinds))]})
	}
	return MustNew(fields)
}

func TestApplyDefaultsEmptyRecord(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	schemas := []*Schema{Permit()}
	for i := 0; i < 100; i++ {
		schemas = append(schemas, randomSchema(rng, i))
	}

	for _, s := range schemas {
		for _, empty := range []Record{nil, {}} {
			rec := ApplyDefaults(empty, s)
			require.Len(t, rec, len(s.Fields()))
			for _, f := range s.Fields() {
				v, ok := rec[f.Name]
				require.True(t, ok, f.Name)
				if !f.IsGroup() {
					assert.Nil(t, v, f.Name)
					continue
				}
				group, ok := v.(Record)
				require.True(t, ok, f.Name)
				require.Len(t, group, len(f.Fields))
				for _, c := range f.Fields {
					cv, ok := group[c.Name]
					assert.True(t, ok, c.Name)
					assert.Nil(t, cv, c.Name)
				}
			}
			assert.NoError(t, s.Check(rec))
		}
	}
}

func TestApplyDefaults(t *testing.T) {
	s := Permit()
	in := Record{
		"FullName": "Ahmed Ali",
		"Age":      "",
		"Bogus":    "x",
		"Skills":   map[string]any{"Cooking": "Yes"},
	}
	rec := ApplyDefaults(in, s)

	assert.Equal(t, "Ahmed Ali", rec["FullName"])
	assert.Equal(t, "", rec["Age"], "empty string is kept")
	assert.Nil(t, rec["Nationality"])
	assert.NotContains(t, rec, "Bogus")
	assert.Equal(t, Record{"Cooking": "Yes", "Cleaning": nil, "BabySitting": nil}, rec["Skills"])
	assert.Equal(t, "x", in["Bogus"], "input not modified")
}

func TestUnknownFields(t *testing.T) {
	s := Permit()
	rec := ApplyDefaults(Record{
		"FullName": "Ahmed",
		"Skills":   Record{"Cooking": "Yes", "Cleaning": "No"},
	}, s)
	missing := UnknownFields(rec, s)

	assert.NotContains(t, missing, "FullName")
	assert.Contains(t, missing, "Age")
	assert.Contains(t, missing, "Skills.BabySitting")
	assert.NotContains(t, missing, "Skills.Cooking")
	assert.Len(t, missing, 15)
}

func TestFill(t *testing.T) {
	s := Permit()
	dst := Record{"FullName": "Ahmed", "Skills": Record{"Cooking": "No"}}
	src := Record{"FullName": "Other", "Age": "30", "Skills": Record{"Cooking": "Yes", "Cleaning": "Yes"}}

	out := Fill(dst, src, s)
	assert.Equal(t, "Ahmed", out["FullName"])
	assert.Equal(t, "30", out["Age"])
	assert.Nil(t, out["Weight"])
	assert.Equal(t, Record{"Cooking": "No", "Cleaning": "Yes", "BabySitting": nil}, out["Skills"])
}

func TestCheck(t *testing.T) {
	s := Permit()

	ok := ApplyDefaults(Record{"FullName": "Ahmed", "Skills": Record{"Cooking": "Yes"}}, s)
	assert.NoError(t, s.Check(ok))

	badSkill := ApplyDefaults(Record{"Skills": Record{"Cooking": "Maybe"}}, s)
	assert.Error(t, s.Check(badSkill))

	extra := ApplyDefaults(Record{}, s)
	extra["Bogus"] = "x"
	assert.Error(t, s.Check(extra))

	missing := ApplyDefaults(Record{}, s)
	delete(missing, "Age")
	assert.Error(t, s.Check(missing))
}
