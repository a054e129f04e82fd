package metamodel

import (
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	acronymsMu sync.RWMutex
	acronyms   = map[string]struct{}{
		"ACL": {}, "API": {}, "ASCII": {}, "CPU": {}, "CSS": {}, "DNS": {},
		"EOF": {}, "GUID": {}, "HTML": {}, "HTTP": {}, "HTTPS": {}, "ID": {},
		"IP": {}, "JSON": {}, "LHS": {}, "QPS": {}, "RAM": {}, "RHS": {},
		"RPC": {}, "SKU": {}, "SLA": {}, "SMTP": {}, "SQL": {}, "SSH": {},
		"TCP": {}, "TLS": {}, "TTL": {}, "UDP": {}, "UI": {}, "UID": {},
		"URI": {}, "URL": {}, "UTF8": {}, "UUID": {}, "VM": {}, "XML": {},
		"XMPP": {}, "XSRF": {}, "XSS": {},
	}
)

// AddAcronym registers word as an initialism kept upper case when
// attribute names are mapped to struct fields.
func AddAcronym(word string) {
	acronymsMu.Lock()
	acronyms[strings.ToUpper(word)] = struct{}{}
	acronymsMu.Unlock()
}

func isAcronym(word string) bool {
	acronymsMu.RLock()
	_, ok := acronyms[strings.ToUpper(word)]
	acronymsMu.RUnlock()
	return ok
}

// FieldName returns the Go struct field name of the attribute name. Words
// split on underscores, dashes and lower-to-upper case changes; known
// initialisms are upper cased and other words title cased, e.g. "user_id"
// and "userId" give "UserID".
func FieldName(name string) string {
	var sb strings.Builder
	title := cases.Title(language.Und, cases.NoLower)
	for _, w := range words(name) {
		if isAcronym(w) {
			sb.WriteString(strings.ToUpper(w))
			continue
		}
		sb.WriteString(title.String(w))
	}
	return sb.String()
}

func words(name string) []string {
	var (
		out  []string
		prev rune
		cur  []rune
	)
	flush := func() {
		if len(cur) > 0 {
			out = append(out, string(cur))
			cur = cur[:0]
		}
	}
	for _, r := range name {
		switch {
		case r == '_' || r == '-' || r == ' ':
			flush()
		case unicode.IsUpper(r) && (unicode.IsLower(prev) || unicode.IsDigit(prev)):
			flush()
			cur = append(cur, r)
		default:
			cur = append(cur, r)
		}
		prev = r
	}
	flush()
	return out
}
