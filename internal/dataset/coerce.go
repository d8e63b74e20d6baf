package dataset

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParsePower coerces a stored voting power to a nonnegative real.
// Anything that is not a finite nonnegative number is missing (nil), never zero.
func ParsePower(raw string) *float64 {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return nil
	}
	return &v
}

// ParseChoices decodes a proposal's ordered option labels. Exports carry the
// list as a JSON array, a Postgres array literal or a Python list literal.
func ParseChoices(raw string) ([]string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, nil
	}

	if strings.HasPrefix(s, "[") {
		var out []string
		if err := json.Unmarshal([]byte(s), &out); err == nil {
			return out, nil
		}
	}

	var body string
	switch {
	case strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]"),
		strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}"):
		body = s[1 : len(s)-1]
	default:
		return nil, fmt.Errorf("choices %q: not a list literal", raw)
	}

	return splitListLiteral(body)
}

// splitListLiteral splits comma separated items, honouring single or double
// quotes with backslash escapes. Unquoted items are trimmed.
func splitListLiteral(body string) ([]string, error) {
	var (
		items   []string
		current strings.Builder
		quote   rune
		quoted  bool
		escaped bool
	)

	flush := func() {
		item := current.String()
		if !quoted {
			item = strings.TrimSpace(item)
		}
		items = append(items, item)
		current.Reset()
		quoted = false
	}

	if strings.TrimSpace(body) == "" {
		return []string{}, nil
	}

	for _, r := range body {
		switch {
		case escaped:
			current.WriteRune(r)
			escaped = false
		case quote != 0 && r == '\\':
			escaped = true
		case quote != 0 && r == quote:
			quote = 0
		case quote != 0:
			current.WriteRune(r)
		case r == '\'' || r == '"':
			if strings.TrimSpace(current.String()) != "" {
				current.WriteRune(r)
				continue
			}
			current.Reset()
			quote = r
			quoted = true
		case r == ',':
			flush()
		case quoted && (r == ' ' || r == '\t'):
			// whitespace between a closing quote and the separator
		default:
			current.WriteRune(r)
		}
	}

	if quote != 0 {
		return nil, fmt.Errorf("choices: unterminated %c quote", quote)
	}
	flush()

	return items, nil
}
