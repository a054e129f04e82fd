package bind

import (
	"strings"

	"github.com/syssam/loom"
	"github.com/syssam/loom/dialect/sql"
)

// Token is one parameter occurrence in native SQL text.
type Token struct {
	Start, End int // byte offsets of the parameter text
	Param      *Parameter
}

// Recognize scans native SQL text once and declares every parameter it
// contains. Quoted literals, quoted identifiers, comments and :: casts are
// skipped. The returned registry is validated.
func Recognize(text string, base int) (*Registry, []Token, error) {
	reg := NewRegistry(base)
	var tokens []Token
	for i := 0; i < len(text); {
		c := text[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			end, err := skipQuoted(text, i, c)
			if err != nil {
				return nil, nil, err
			}
			i = end
		case c == '-' && strings.HasPrefix(text[i:], "--"):
			end := strings.IndexByte(text[i:], '\n')
			if end < 0 {
				i = len(text)
			} else {
				i += end + 1
			}
		case c == '/' && strings.HasPrefix(text[i:], "/*"):
			end := strings.Index(text[i+2:], "*/")
			if end < 0 {
				return nil, nil, loom.NewParameterError("", "unterminated comment at offset %d", i)
			}
			i += end + 4
		case c == ':' && strings.HasPrefix(text[i:], "::"):
			i += 2
		case c == ':' && i+1 < len(text) && isNameStart(text[i+1]):
			end := i + 2
			for end < len(text) && isNamePart(text[end]) {
				end++
			}
			tokens = append(tokens, Token{Start: i, End: end, Param: reg.Named(text[i+1 : end])})
			i = end
		case c == '?':
			end := i + 1
			for end < len(text) && text[end] >= '0' && text[end] <= '9' {
				end++
			}
			var p *Parameter
			if end > i+1 {
				pos := 0
				for _, d := range text[i+1 : end] {
					pos = pos*10 + int(d-'0')
				}
				p = reg.Ordinal(pos)
			} else {
				p = reg.Jdbc(nil)
			}
			tokens = append(tokens, Token{Start: i, End: end, Param: p})
			i = end
		default:
			i++
		}
	}
	if err := reg.Validate(); err != nil {
		return nil, nil, err
	}
	return reg, tokens, nil
}

// skipQuoted returns the offset after the quoted section starting at i.
// A doubled quote character is an escaped quote.
func skipQuoted(text string, i int, q byte) (int, error) {
	for j := i + 1; j < len(text); j++ {
		if text[j] != q {
			continue
		}
		if j+1 < len(text) && text[j+1] == q {
			j++
			continue
		}
		return j + 1, nil
	}
	return 0, loom.NewParameterError("", "unterminated quoted section at offset %d", i)
}

func isNameStart(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isNamePart(c byte) bool {
	return isNameStart(c) || c == '.' || c >= '0' && c <= '9'
}

// Rewrite replaces the recognized parameters of text with placeholders of
// the given dialect and returns the bindings in placeholder order. A list
// bound to an empty slice renders as NULL.
func Rewrite(text string, tokens []Token, dialect string, b *Bound) (string, []Binding) {
	sb := sql.NewBuilder(dialect)
	var bindings []Binding
	last := 0
	for _, t := range tokens {
		sb.WriteString(text[last:t.Start])
		expanded := b.Expand(t.Param)
		if len(expanded) == 0 {
			sb.WriteString("NULL")
		}
		for i := range expanded {
			if i > 0 {
				sb.Comma()
			}
			sb.Arg()
		}
		bindings = append(bindings, expanded...)
		last = t.End
	}
	sb.WriteString(text[last:])
	return sb.String(), bindings
}
