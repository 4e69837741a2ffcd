package validate

import (
	"fmt"
	"strings"
)

var literals = map[string]string{
	"None":  "null",
	"True":  "true",
	"False": "false",
}

// repair fixes the usual defects of model-written JSON: trailing commas, raw
// control characters and invalid escapes inside strings, Python literals and
// single-quoted documents. It is applied once; the result may still be invalid.
func repair(s string) string {
	if !strings.Contains(s, `"`) {
		s = strings.ReplaceAll(s, "'", `"`)
	}

	var b strings.Builder
	b.Grow(len(s) + 16)
	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case c == '\\':
				if i+1 < len(s) && strings.IndexByte(`"\/bfnrtu`, s[i+1]) >= 0 {
					b.WriteByte(c)
					b.WriteByte(s[i+1])
					i++
				} else {
					b.WriteString(`\\`)
				}
			case c == '"':
				inString = false
				b.WriteByte(c)
			case c == '\n':
				b.WriteString(`\n`)
			case c == '\r':
				b.WriteString(`\r`)
			case c == '\t':
				b.WriteString(`\t`)
			case c < 0x20:
				fmt.Fprintf(&b, `\u%04x`, c)
			default:
				b.WriteByte(c)
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case ',':
			if next := nextNonSpace(s, i+1); next == '}' || next == ']' {
				continue
			}
		default:
			if lit, repl, ok := literalAt(s, i); ok {
				b.WriteString(repl)
				i += len(lit) - 1
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

func nextNonSpace(s string, i int) byte {
	for ; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return s[i]
	}
	return 0
}

func literalAt(s string, i int) (string, string, bool) {
	if i > 0 && isIdent(s[i-1]) {
		return "", "", false
	}
	for lit, repl := range literals {
		end := i + len(lit)
		if strings.HasPrefix(s[i:], lit) && (end == len(s) || !isIdent(s[end])) {
			return lit, repl, true
		}
	}
	return "", "", false
}

func isIdent(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}
