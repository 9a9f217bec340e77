// Package redact scrubs credentials out of tool output before it leaves the
// process in the event store or the audit log.
package redact

import (
	"regexp"
	"sort"
	"strings"
)

// PatternType identifies the category of sensitive data.
type PatternType string

const (
	PatternCred       PatternType = "CRED"
	PatternToken      PatternType = "TOKEN"
	PatternPrivateKey PatternType = "PRIVATE_KEY"
	PatternEmail      PatternType = "EMAIL"
)

// Match is a single occurrence of sensitive data in text.
type Match struct {
	Type  PatternType
	Value string
	Start int
	End   int
}

var (
	// key=value or key: value where the key suggests a secret. The value may
	// not start with ':' so pytest ids like test_auth::test_x are left alone.
	credKVRe = regexp.MustCompile(`(?i)((?:password|passwd|secret|token|api_key|apikey|access_key|auth)[ \t]*[=:][ \t]*[^\s:]\S*)`)

	bearerRe = regexp.MustCompile(`(?i)\bbearer[ \t]+[A-Za-z0-9._~+/\-]{16,}=*`)

	// AWS access key ids and GitHub tokens.
	tokenRe = regexp.MustCompile(`\b(?:AKIA[0-9A-Z]{16}|gh[pousr]_[A-Za-z0-9]{36,})\b`)

	privateKeyRe = regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?(?:-----END [A-Z ]*PRIVATE KEY-----|$)`)

	emailRe = regexp.MustCompile(`\b([a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,})\b`)
)

// Scan finds all sensitive patterns in text and returns matches sorted by
// position. Overlapping matches keep the earliest, longest one.
func Scan(text string) []Match {
	var matches []Match
	add := func(typ PatternType, re *regexp.Regexp) {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			v := strings.TrimRight(text[loc[0]:loc[1]], ".,;\"'`)}]")
			if v == "" {
				continue
			}
			matches = append(matches, Match{Type: typ, Value: v, Start: loc[0], End: loc[0] + len(v)})
		}
	}
	add(PatternPrivateKey, privateKeyRe)
	add(PatternToken, bearerRe)
	add(PatternToken, tokenRe)
	add(PatternCred, credKVRe)
	add(PatternEmail, emailRe)

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Start != matches[j].Start {
			return matches[i].Start < matches[j].Start
		}
		return matches[i].End > matches[j].End
	})

	out := matches[:0]
	end := -1
	for _, m := range matches {
		if m.Start < end {
			continue
		}
		out = append(out, m)
		end = m.End
	}
	return out
}
