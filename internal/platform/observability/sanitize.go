package observability

import (
	"strings"
	"unicode"
)

const defaultStringLimit = 256

// sanitizeString drops control characters and caps the rune count.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = defaultStringLimit
	}

	cleaned := make([]rune, 0, len(value))
	for _, r := range value {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		cleaned = append(cleaned, r)
	}
	if len(cleaned) > limit {
		cleaned = cleaned[:limit]
	}
	return string(cleaned)
}

// SanitizeRoute removes control characters and enforces length constraints on routes.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, 180)
}

// SanitizeMethod removes control characters in HTTP methods.
func SanitizeMethod(method string) string {
	return sanitizeString(method, 10)
}

// SanitizeUserID bounds identifiers (operator uids, order ids) before they reach logs.
func SanitizeUserID(uid string) string {
	if uid == "" {
		return ""
	}
	return sanitizeString(uid, 64)
}

// SanitizeMessage bounds free text such as carrier error messages.
func SanitizeMessage(message string) string {
	return sanitizeString(strings.TrimSpace(message), 512)
}
