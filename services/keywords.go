package services

import "strings"

// MatchesAny returns the first keyword that occurs in text, compared
// case-insensitively as a substring. Blank keywords never match.
func MatchesAny(text string, keywords []string) (string, bool) {
	if text == "" || len(keywords) == 0 {
		return "", false
	}

	lower := strings.ToLower(text)
	for _, kw := range keywords {
		needle := strings.ToLower(strings.TrimSpace(kw))
		if needle == "" {
			continue
		}
		if strings.Contains(lower, needle) {
			return kw, true
		}
	}
	return "", false
}
