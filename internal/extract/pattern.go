package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/formscan/permit-ocr-service/internal/schema"
)

// A label must not be glued to a preceding letter or digit.
const boundary = `(?:^|[^\p{L}\p{N}])`

var (
	reText    = regexp.MustCompile(`^[\p{L}\p{M}][\p{L}\p{M}'’.\- ]*`)
	reCode    = regexp.MustCompile(`[A-Za-z0-9][A-Za-z0-9\-]*`)
	reDigits  = regexp.MustCompile(`[0-9]+`)
	reMeasure = regexp.MustCompile(`[0-9]+(?:[.,][0-9]+)?`)
	reDate    = regexp.MustCompile(`([0-9]{1,2})\s*[/\-.]\s*([0-9]{1,2})\s*[/\-.]\s*([0-9]{4})`)
	reYes     = regexp.MustCompile(`(?i)^(?:yes|y|نعم|✓|✔)(?:[^\p{L}\p{N}]|$)`)
)

type fieldRule struct {
	field  *schema.Field
	parent *schema.Field
	labels []*regexp.Regexp
}

type matcher struct {
	rules    []fieldRule
	anyLabel *regexp.Regexp
}

// Pattern extracts fields by matching label variants and value grammars.
// Compiled label sets are cached per schema.
type Pattern struct {
	log   *slog.Logger
	cache sync.Map // *schema.Schema -> *matcher
}

// NewPattern creates a pattern strategy.
func NewPattern(logger *slog.Logger) *Pattern {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pattern{log: logger}
}

func (p *Pattern) Name() string { return "pattern" }

// Prepare compiles the label set of s and reports invalid label fragments.
// Invalid fragments are skipped by Extract.
func (p *Pattern) Prepare(s *schema.Schema) error {
	m, err := compileMatcher(s)
	p.cache.Store(s, m)
	return err
}

func (p *Pattern) matcherFor(s *schema.Schema) *matcher {
	if m, ok := p.cache.Load(s); ok {
		return m.(*matcher)
	}
	m, err := compileMatcher(s)
	if err != nil {
		p.log.Warn("extract.pattern.invalid_labels", "error", err)
	}
	actual, _ := p.cache.LoadOrStore(s, m)
	return actual.(*matcher)
}

// Extract returns a candidate record. Fields without a match are absent,
// except yes/no fields which default to "No". It never fails.
func (p *Pattern) Extract(_ context.Context, text string, s *schema.Schema) (Output, error) {
	m := p.matcherFor(s)
	candidate := schema.Record{}

	for i := range m.rules {
		rule := &m.rules[i]
		var value string
		if rule.field.Kind == schema.KindYesNo {
			value = m.yesNo(text, rule)
		} else {
			v, ok := m.find(text, rule, grammarFor(rule.field.Kind))
			if !ok {
				continue
			}
			value = v
		}

		if rule.parent == nil {
			candidate[rule.field.Name] = value
			continue
		}
		group, _ := candidate[rule.parent.Name].(schema.Record)
		if group == nil {
			group = schema.Record{}
			candidate[rule.parent.Name] = group
		}
		group[rule.field.Name] = value
	}
	return Output{Candidate: candidate}, nil
}

func compileMatcher(s *schema.Schema) (*matcher, error) {
	m := &matcher{}
	var all []string
	var errs []error

	compileLabels := func(f *schema.Field) []*regexp.Regexp {
		var res []*regexp.Regexp
		for _, frag := range f.Labels {
			re, err := regexp.Compile(`(?i)` + boundary + `(` + frag + `)[ \t]*(?:[:|：][ \t]*)?`)
			if err != nil {
				errs = append(errs, fmt.Errorf("field %s: label %q: %w", f.Name, frag, err))
				continue
			}
			re.Longest()
			res = append(res, re)
			all = append(all, `(?:`+frag+`)`)
		}
		return res
	}

	fields := s.Fields()
	for i := range fields {
		f := &fields[i]
		if !f.IsGroup() {
			m.rules = append(m.rules, fieldRule{field: f, labels: compileLabels(f)})
			continue
		}
		// group labels only delimit values
		compileLabels(f)
		for j := range f.Fields {
			child := &f.Fields[j]
			m.rules = append(m.rules, fieldRule{field: child, parent: f, labels: compileLabels(child)})
		}
	}

	if len(all) > 0 {
		re, err := regexp.Compile(`(?i)` + boundary + `(` + strings.Join(all, "|") + `)`)
		if err != nil {
			errs = append(errs, fmt.Errorf("label set: %w", err))
		} else {
			re.Longest()
			m.anyLabel = re
		}
	}
	return m, errors.Join(errs...)
}

// find returns the first label occurrence whose value region satisfies grammar.
func (m *matcher) find(text string, rule *fieldRule, grammar func(string) (string, bool)) (string, bool) {
	for _, re := range rule.labels {
		for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
			if !boundaryAfter(text, loc[3]) {
				continue
			}
			if v, ok := grammar(m.region(text, loc[1])); ok {
				return v, true
			}
		}
	}
	return "", false
}

// yesNo decides a yes/no field from its first label occurrence.
func (m *matcher) yesNo(text string, rule *fieldRule) string {
	for _, re := range rule.labels {
		for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
			if !boundaryAfter(text, loc[3]) {
				continue
			}
			if reYes.MatchString(trimLead(m.region(text, loc[1]))) {
				return "Yes"
			}
			return "No"
		}
	}
	return "No"
}

// region is the rest of the line from start, cut at the next label.
func (m *matcher) region(text string, start int) string {
	line := text[start:]
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	if m.anyLabel == nil {
		return line
	}
	for _, loc := range m.anyLabel.FindAllStringSubmatchIndex(line, -1) {
		if boundaryAfter(line, loc[3]) {
			return line[:loc[2]]
		}
	}
	return line
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func trimLead(s string) string {
	return strings.TrimLeft(s, " \t:|-–.#")
}

func grammarFor(kind schema.Kind) func(string) (string, bool) {
	switch kind {
	case schema.KindCode:
		return codeValue
	case schema.KindNumber:
		return numberValue
	case schema.KindMeasure:
		return measureValue
	case schema.KindDate:
		return dateValue
	default:
		return textValue
	}
}

func textValue(region string) (string, bool) {
	v := reText.FindString(trimLead(region))
	v = strings.TrimRight(v, " .-'’")
	if v == "" {
		return "", false
	}
	return cases.Title(language.Und).String(v), true
}

func codeValue(region string) (string, bool) {
	for _, tok := range reCode.FindAllString(foldDigits(region), -1) {
		if strings.ContainsAny(tok, "0123456789") {
			return strings.ToUpper(tok), true
		}
	}
	return "", false
}

func numberValue(region string) (string, bool) {
	v := reDigits.FindString(foldDigits(region))
	return v, v != ""
}

func measureValue(region string) (string, bool) {
	v := reMeasure.FindString(foldDigits(region))
	if v == "" {
		return "", false
	}
	d, err := decimal.NewFromString(strings.Replace(v, ",", ".", 1))
	if err != nil {
		return "", false
	}
	return d.String(), true
}

func dateValue(region string) (string, bool) {
	for _, m := range reDate.FindAllStringSubmatch(foldDigits(region), -1) {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		if day < 1 || day > 31 || month < 1 || month > 12 {
			continue
		}
		return fmt.Sprintf("%02d/%02d/%s", day, month, m[3]), true
	}
	return "", false
}

// foldDigits maps Arabic-Indic and Extended Arabic-Indic digits to ASCII.
func foldDigits(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= '٠' && r <= '٩':
			return '0' + (r - '٠')
		case r >= '۰' && r <= '۹':
			return '0' + (r - '۰')
		}
		return r
	}, s)
}
