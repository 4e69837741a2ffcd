// Package normalize turns raw OCR output into canonical text.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Options controls script retention. The zero value keeps every script, which
// is what bilingual Arabic/English forms need.
type Options struct {
	// StripNonASCII drops every rune above 0x7F. Destroys Arabic content.
	StripNonASCII bool `yaml:"strip_non_ascii"`
	// Scripts, when set, keeps only runes of these Unicode scripts
	// (e.g. "Latin", "Arabic") plus Common and Inherited.
	Scripts []string `yaml:"allowed_scripts"`
}

// Text normalizes raw OCR text: NFKC folding, removal of non-printable runes,
// optional script filtering and whitespace collapsing. A whitespace run becomes
// "\n" if it contained a line break and " " otherwise. It never fails; on an
// internal error the input is returned unchanged.
func Text(raw string, opts Options) (out string) {
	defer func() {
		if r := recover(); r != nil {
			out = raw
		}
	}()

	s := strings.ToValidUTF8(raw, "")
	s = norm.NFKC.String(s)

	tables := scriptTables(opts.Scripts)

	var b strings.Builder
	b.Grow(len(s))
	pending := rune(0) // 0: none, ' ' or '\n'
	for _, r := range s {
		if unicode.IsSpace(r) {
			if r == '\n' || r == '\r' || r == '\v' || r == '\f' || r == 0x2028 || r == 0x2029 {
				pending = '\n'
			} else if pending == 0 {
				pending = ' '
			}
			continue
		}
		if !keep(r, opts.StripNonASCII, tables) {
			continue
		}
		if pending != 0 {
			if b.Len() > 0 {
				b.WriteRune(pending)
			}
			pending = 0
		}
		b.WriteRune(r)
	}
	return b.String()
}

func keep(r rune, stripNonASCII bool, tables []*unicode.RangeTable) bool {
	if !unicode.IsGraphic(r) {
		return false
	}
	if stripNonASCII && r > unicode.MaxASCII {
		return false
	}
	if len(tables) == 0 {
		return true
	}
	if unicode.In(r, unicode.Common, unicode.Inherited) {
		return true
	}
	return unicode.In(r, tables...)
}

func scriptTables(names []string) []*unicode.RangeTable {
	var tables []*unicode.RangeTable
	for _, name := range names {
		if t, ok := unicode.Scripts[name]; ok {
			tables = append(tables, t)
		}
	}
	return tables
}
