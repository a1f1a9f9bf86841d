package tokenize

import (
	"bytes"
	"encoding/base64"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/goccy/go-json"

	"lakedeploy/pkg/errors"
)

// Options control how documents are walked
type Options struct {
	// DecodePayloads tokenizes the decoded content of InlineBase64 definition parts
	DecodePayloads bool
	// DetectGUIDs replaces unmapped GUIDs with generated GUID_n tokens
	DetectGUIDs bool
	// Strict makes Detokenize fail on placeholders without a value
	Strict bool
}

// Tokenize replaces mapped values in every JSON string of doc with placeholders.
// Object keys are left alone. The returned mapping is the input mapping plus any
// generated GUID tokens.
func Tokenize(doc []byte, mapping Mapping, opts Options) ([]byte, Mapping, error) {
	if err := mapping.Validate(); err != nil {
		return nil, nil, err
	}

	v, err := decode(doc)
	if err != nil {
		return nil, nil, err
	}

	r := newReplacer(mapping)
	v = walk(v, opts.DecodePayloads, r.replace)

	result := append(Mapping(nil), mapping...)
	if opts.DetectGUIDs {
		g := newGUIDCollector(result)
		v = walk(v, opts.DecodePayloads, g.replace)
		result = g.mapping
	}

	out, err := encode(v)
	if err != nil {
		return nil, nil, err
	}
	return out, result, nil
}

// Detokenize substitutes placeholders in every JSON string of doc with values.
// Unknown placeholders are left in place, or fail the call in strict mode.
func Detokenize(doc []byte, values map[string]string, opts Options) ([]byte, error) {
	v, err := decode(doc)
	if err != nil {
		return nil, err
	}

	var unresolved []string
	v = walk(v, opts.DecodePayloads, func(s string) string {
		out, missing := ReplaceText(s, values)
		unresolved = appendUnique(unresolved, missing...)
		return out
	})

	if opts.Strict && len(unresolved) > 0 {
		return nil, unresolvedError(unresolved)
	}
	return encode(v)
}

// ReplaceText substitutes placeholders in free text, such as notebook sources.
// It returns the placeholders that had no value, in first-seen order.
func ReplaceText(text string, values map[string]string) (string, []string) {
	var unresolved []string
	out := placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		token := match[2 : len(match)-2]
		if value, ok := values[token]; ok {
			return value
		}
		unresolved = appendUnique(unresolved, token)
		return match
	})
	return out, unresolved
}

// TokenizeText replaces mapped values in free text with placeholders
func TokenizeText(text string, mapping Mapping) string {
	return newReplacer(mapping).replace(text)
}

// Placeholders lists the placeholder names in doc in first-seen order.
// JSON documents are walked (including decoded InlineBase64 payloads); anything else is scanned as text.
func Placeholders(doc []byte) []string {
	var names []string
	collect := func(s string) string {
		for _, m := range placeholderPattern.FindAllStringSubmatch(s, -1) {
			names = appendUnique(names, m[1])
		}
		return s
	}

	v, err := decode(doc)
	if err != nil {
		collect(string(doc))
		return names
	}
	walk(v, true, collect)
	return names
}

// Canonical re-encodes doc the way Tokenize and Detokenize write documents
func Canonical(doc []byte) ([]byte, error) {
	v, err := decode(doc)
	if err != nil {
		return nil, err
	}
	return encode(v)
}

// UnresolvedTokens returns the token names listed in an unresolved-token error
func UnresolvedTokens(err error) []string {
	var appErr *errors.AppError
	if !errors.As(err, &appErr) || appErr.Code != errors.ErrCodeUnresolvedToken {
		return nil
	}
	tokens, _ := appErr.Context["tokens"].([]string)
	return tokens
}

func unresolvedError(tokens []string) error {
	return errors.Newf(errors.ErrCodeUnresolvedToken, "Unresolved placeholders: %s", strings.Join(tokens, ", ")).
		WithContext("tokens", tokens).
		WithSuggestions("Provide a value for each placeholder with --set TOKEN=value")
}

// walk applies fn to every string value, visiting object members in key order
func walk(v interface{}, decodePayloads bool, fn func(string) string) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		if decodePayloads && isInlinePart(t) {
			t["payload"] = walkPayload(t["payload"].(string), fn)
			if path, ok := t["path"].(string); ok {
				t["path"] = fn(path)
			}
			return t
		}
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			t[k] = walk(t[k], decodePayloads, fn)
		}
		return t
	case []interface{}:
		for i := range t {
			t[i] = walk(t[i], decodePayloads, fn)
		}
		return t
	case string:
		return fn(t)
	default:
		return v
	}
}

func isInlinePart(m map[string]interface{}) bool {
	payloadType, _ := m["payloadType"].(string)
	_, hasPayload := m["payload"].(string)
	return payloadType == "InlineBase64" && hasPayload
}

// walkPayload applies fn to the decoded text of a base64 payload. Binary payloads are left alone.
func walkPayload(payload string, fn func(string) string) string {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil || !utf8.Valid(data) {
		return payload
	}
	text := string(data)
	out := fn(text)
	if out == text {
		return payload
	}
	return base64.StdEncoding.EncodeToString([]byte(out))
}

func decode(doc []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidInput, "document is not valid JSON")
	}
	return v, nil
}

func encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to encode document")
	}
	return buf.Bytes(), nil
}

func appendUnique(list []string, items ...string) []string {
	for _, item := range items {
		found := false
		for _, existing := range list {
			if existing == item {
				found = true
				break
			}
		}
		if !found {
			list = append(list, item)
		}
	}
	return list
}
