package textutil

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var strictPolicy = bluemonday.StrictPolicy()

// NormalizeStringMap trims keys and values, dropping empty keys and empty values.
func NormalizeStringMap(values map[string]string) map[string]string {
	result := make(map[string]string, len(values))
	for key, value := range values {
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

// PlainText strips every HTML tag from value, unescapes entities and collapses whitespace.
// Upstream APIs occasionally wrap field errors in markup; operators get the bare text.
func PlainText(value string) string {
	stripped := html.UnescapeString(strictPolicy.Sanitize(value))
	return strings.Join(strings.Fields(stripped), " ")
}
