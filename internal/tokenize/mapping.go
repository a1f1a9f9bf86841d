// Package tokenize turns exported item definitions into reusable templates by
// replacing environment-specific values with {{TOKEN}} placeholders, and back.
package tokenize

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"

	"lakedeploy/pkg/errors"
)

var (
	tokenNamePattern   = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)
	placeholderPattern = regexp.MustCompile(`\{\{([A-Z][A-Z0-9_]*)\}\}`)
	guidPattern        = regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`)
)

// Entry maps one token name to the value it stands for
type Entry struct {
	Token string `json:"token" yaml:"token"`
	Value string `json:"value" yaml:"value"`
}

// Mapping is an ordered list of token entries
type Mapping []Entry

// Placeholder renders the placeholder for a token name
func Placeholder(token string) string {
	return "{{" + token + "}}"
}

// ParseAssignments parses TOKEN=value pairs, as given on the command line
func ParseAssignments(pairs []string) (Mapping, error) {
	var m Mapping
	for _, pair := range pairs {
		token, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, errors.Newf(errors.ErrCodeInvalidInput, "invalid assignment %q, expected TOKEN=value", pair)
		}
		m = append(m, Entry{Token: strings.TrimSpace(token), Value: value})
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate checks token names and rejects duplicate tokens
func (m Mapping) Validate() error {
	seen := make(map[string]bool, len(m))
	for _, e := range m {
		if !tokenNamePattern.MatchString(e.Token) {
			return errors.Newf(errors.ErrCodeInvalidInput, "invalid token name %q", e.Token).
				WithSuggestions("Token names are upper case letters, digits and underscores, starting with a letter")
		}
		if seen[e.Token] {
			return errors.Newf(errors.ErrCodeInvalidInput, "token %s is mapped twice", e.Token)
		}
		seen[e.Token] = true
	}
	return nil
}

// Values returns the mapping as token -> value
func (m Mapping) Values() map[string]string {
	values := make(map[string]string, len(m))
	for _, e := range m {
		values[e.Token] = e.Value
	}
	return values
}

// FromValues builds a mapping from token -> value, ordered by token name
func FromValues(values map[string]string) Mapping {
	tokens := make([]string, 0, len(values))
	for token := range values {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)

	m := make(Mapping, 0, len(tokens))
	for _, token := range tokens {
		m = append(m, Entry{Token: token, Value: values[token]})
	}
	return m
}

func (m Mapping) has(token string) bool {
	for _, e := range m {
		if e.Token == token {
			return true
		}
	}
	return false
}

func isGUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// replacer substitutes mapped values with placeholders in a single left-to-right pass,
// trying longer values first
type replacer struct {
	entries []replacement
}

type replacement struct {
	value       string
	placeholder string
	fold        bool
}

func newReplacer(m Mapping) *replacer {
	r := &replacer{}
	for _, e := range m {
		if e.Value == "" {
			continue
		}
		r.entries = append(r.entries, replacement{
			value:       e.Value,
			placeholder: Placeholder(e.Token),
			fold:        isGUID(e.Value),
		})
	}
	sort.SliceStable(r.entries, func(i, j int) bool {
		return len(r.entries[i].value) > len(r.entries[j].value)
	})
	return r
}

func (r *replacer) contains(s string) bool {
	for _, e := range r.entries {
		if e.fold {
			if strings.Contains(strings.ToLower(s), strings.ToLower(e.value)) {
				return true
			}
		} else if strings.Contains(s, e.value) {
			return true
		}
	}
	return false
}

func (r *replacer) replace(s string) string {
	if len(r.entries) == 0 || !r.contains(s) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		matched := false
		for _, e := range r.entries {
			end := i + len(e.value)
			if end > len(s) {
				continue
			}
			segment := s[i:end]
			if segment == e.value || (e.fold && strings.EqualFold(segment, e.value)) {
				b.WriteString(e.placeholder)
				i = end
				matched = true
				break
			}
		}
		if !matched {
			b.WriteByte(s[i])
			i++
		}
	}
	return b.String()
}

// guidCollector assigns GUID_n tokens to unmapped GUIDs in first-seen order
type guidCollector struct {
	mapping Mapping
	byValue map[string]string
	next    int
}

func newGUIDCollector(m Mapping) *guidCollector {
	return &guidCollector{mapping: m, byValue: make(map[string]string), next: 1}
}

func (g *guidCollector) replace(s string) string {
	return guidPattern.ReplaceAllStringFunc(s, func(match string) string {
		key := strings.ToLower(match)
		token, ok := g.byValue[key]
		if !ok {
			for {
				token = fmt.Sprintf("GUID_%d", g.next)
				g.next++
				if !g.mapping.has(token) {
					break
				}
			}
			g.byValue[key] = token
			g.mapping = append(g.mapping, Entry{Token: token, Value: match})
		}
		return Placeholder(token)
	})
}
