package nl2sql

import "strings"

const codeFence = "```"

// completionMarkers are trailing commentary markers models append after the
// statement. Order matters only for readability; truncation happens at the
// earliest match.
var completionMarkers = []string{"### Completed:", "### End", "# Completed", "Completed:", "###", "#"}

var languageTags = map[string]struct{}{
	"sql":        {},
	"postgresql": {},
	"postgres":   {},
	"mysql":      {},
	"sqlite":     {},
	"duckdb":     {},
	"tsql":       {},
}

// Sanitize extracts a single-line SQL statement from raw model output. It
// never fails: text it cannot make sense of comes back whitespace-collapsed.
func Sanitize(raw string) string {
	text := raw
	if parts := strings.Split(raw, codeFence); len(parts) >= 3 {
		text = stripLanguageTag(parts[1])
	}
	text = truncateAtMarker(text)
	return strings.Join(strings.Fields(text), " ")
}

func stripLanguageTag(fenced string) string {
	trimmed := strings.TrimLeft(fenced, " \t\r\n")
	end := strings.IndexAny(trimmed, " \t\r\n")
	token := trimmed
	if end >= 0 {
		token = trimmed[:end]
	}
	if _, ok := languageTags[strings.ToLower(token)]; !ok {
		return fenced
	}
	return trimmed[len(token):]
}

func truncateAtMarker(text string) string {
	cut := -1
	for _, marker := range completionMarkers {
		if idx := strings.Index(text, marker); idx >= 0 && (cut < 0 || idx < cut) {
			cut = idx
		}
	}
	if cut < 0 {
		return text
	}
	return text[:cut]
}
