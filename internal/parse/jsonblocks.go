package parse

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	singleQuotedRe  = regexp.MustCompile(`'([^'\\]*)'`)
	bareKeyRe       = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)(\s*):`)
)

// collectJSONBlocks gathers JSON candidates from the plain text and
// from fenced json blocks, validating and repairing each.
func collectJSONBlocks(plain string, blocks []CodeBlock) []JSONBlock {
	var out []JSONBlock
	for _, raw := range jsonCandidates(plain) {
		out = append(out, validateJSON(raw))
	}
	for _, cb := range blocks {
		if cb.Language != "json" {
			continue
		}
		body := strings.TrimSpace(cb.Code)
		if body == "" {
			continue
		}
		out = append(out, validateJSON(body))
	}
	return out
}

// jsonCandidates finds balanced top-level {...} and [...] spans. The
// depth counter tracks string literals so braces inside values do not
// end a span early. Spans that are clearly prose brackets are skipped.
func jsonCandidates(text string) []string {
	var spans []string
	depth := 0
	start := -1
	var quote byte
	for i := 0; i < len(text); i++ {
		c := text[i]
		if depth == 0 {
			if c == '{' || c == '[' {
				depth = 1
				start = i
				quote = 0
			}
			continue
		}
		if quote != 0 {
			switch c {
			case '\\':
				i++
			case quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				raw := text[start : i+1]
				if looksLikeJSON(raw) {
					spans = append(spans, raw)
				}
				start = -1
			}
		}
	}
	return spans
}

// looksLikeJSON filters out bracketed prose such as [sic] or {braces}.
func looksLikeJSON(raw string) bool {
	if len(raw) < 2 {
		return false
	}
	if raw[0] == '{' {
		return raw == "{}" || strings.Contains(raw, ":")
	}
	inner := strings.TrimSpace(raw[1 : len(raw)-1])
	if inner == "" {
		return true
	}
	switch inner[0] {
	case '{', '[', '"', '\'', '-', 't', 'f', 'n':
		return true
	}
	return inner[0] >= '0' && inner[0] <= '9'
}

// validateJSON tries to decode the candidate as-is, then through three
// escalating repair passes. The first pass that decodes wins; when all
// fail the block is invalid and carries every attempt's error.
func validateJSON(raw string) JSONBlock {
	block := JSONBlock{Raw: raw}

	attempts := []struct {
		name string
		fn   func(string) string
	}{
		{"as-is", func(s string) string { return s }},
		{"strip trailing commas", stripTrailingCommas},
		{"normalize quotes", func(s string) string {
			return normalizeQuotes(stripTrailingCommas(s))
		}},
		{"quote bare keys", func(s string) string {
			return quoteBareKeys(normalizeQuotes(stripTrailingCommas(s)))
		}},
	}

	for i, attempt := range attempts {
		candidate := attempt.fn(raw)
		var value any
		if err := json.Unmarshal([]byte(candidate), &value); err != nil {
			block.Errors = append(block.Errors, fmt.Sprintf("%s: %v", attempt.name, err))
			continue
		}
		block.Value = value
		block.Valid = true
		block.Repaired = i > 0
		block.Errors = nil
		return block
	}
	return block
}

// stripTrailingCommas removes commas that sit directly before a
// closing brace or bracket. Runs until stable so stacked commas fall
// too.
func stripTrailingCommas(s string) string {
	for {
		next := trailingCommaRe.ReplaceAllString(s, "$1")
		if next == s {
			return next
		}
		s = next
	}
}

// normalizeQuotes rewrites single-quoted strings as double-quoted,
// escaping any double quotes in the value.
func normalizeQuotes(s string) string {
	return singleQuotedRe.ReplaceAllStringFunc(s, func(m string) string {
		inner := m[1 : len(m)-1]
		inner = strings.ReplaceAll(inner, `"`, `\"`)
		return `"` + inner + `"`
	})
}

// quoteBareKeys wraps unquoted object keys in double quotes.
func quoteBareKeys(s string) string {
	return bareKeyRe.ReplaceAllString(s, `$1"$2"$3:`)
}
