package retrieval

import "strings"

// ExtractText collects every string value reachable from a decoded
// JSON structure, joined with spaces. It feeds trigger matching over
// incoming requests.
func ExtractText(v any) string {
	var parts []string
	collectText(v, &parts)
	return strings.Join(parts, " ")
}

func collectText(v any, out *[]string) {
	switch val := v.(type) {
	case string:
		*out = append(*out, val)
	case map[string]any:
		for _, item := range val {
			collectText(item, out)
		}
	case []any:
		for _, item := range val {
			collectText(item, out)
		}
	}
}

// MatchTriggers reports whether any trigger keyword occurs in text,
// case-insensitively.
func MatchTriggers(text string, triggers []string) bool {
	lower := strings.ToLower(text)
	for _, trigger := range triggers {
		if trigger == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(trigger)) {
			return true
		}
	}
	return false
}
