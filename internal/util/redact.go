package util

import (
	"cmp"
	"net/url"
	"slices"
	"strings"
	"unicode/utf8"
)

const redacted = "***"

// minLiteralLen is the shortest secret replaced wherever it occurs. Shorter
// secrets are only replaced as the userinfo of a URL.
const minLiteralLen = 4

// Redactor scrubs secret values from text that leaves the process: log lines,
// result messages, subprocess output.
type Redactor struct {
	secrets []string
}

// NewRedactor returns a Redactor for the non-empty secrets. The URL-escaped
// form of every secret is scrubbed as well, since tokens embedded in remote
// URLs are escaped.
func NewRedactor(secrets ...string) *Redactor {
	r := &Redactor{}
	for _, s := range secrets {
		r.add(s)
		r.add(url.QueryEscape(s))
		r.add(url.PathEscape(s))
	}
	// Longest first, so a URL embedding a token is replaced as a whole.
	slices.SortStableFunc(r.secrets, func(a, b string) int {
		return cmp.Compare(len(b), len(a))
	})
	return r
}

func (r *Redactor) add(s string) {
	if s == "" {
		return
	}
	for _, x := range r.secrets {
		if x == s {
			return
		}
	}
	r.secrets = append(r.secrets, s)
}

// Redact replaces every occurrence of a secret in s.
func (r *Redactor) Redact(s string) string {
	if r == nil {
		return s
	}
	for _, secret := range r.secrets {
		if len(secret) < minLiteralLen {
			s = strings.ReplaceAll(s, "//"+secret+"@", "//"+redacted+"@")
			continue
		}
		s = strings.ReplaceAll(s, secret, redacted)
	}
	return s
}

// Tail returns at most n bytes from the end of s, trimmed and cut on a rune
// boundary. Truncated output is prefixed with "...".
func Tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	s = s[len(s)-n:]
	for len(s) > 0 && !utf8.RuneStart(s[0]) {
		s = s[1:]
	}
	return "..." + s
}
