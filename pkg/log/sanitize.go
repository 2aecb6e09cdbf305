package log

import (
	"regexp"
	"strings"
)

// sensitiveKeywords flags log keys whose values must never appear verbatim.
// Provider API keys and DSN passwords are the main concern here.
var sensitiveKeywords = []string{
	"password", "passwd", "pwd",
	"api_key", "apikey", "api-key",
	"token", "access_token",
	"secret", "auth", "authorization",
	"credential", "private_key", "privatekey",
	"encryption_key",
}

// dsnPassword matches the password portion of a MySQL DSN (user:pass@tcp...).
var dsnPassword = regexp.MustCompile(`^([^:@/]+):([^@]+)@`)

// SanitizeField checks if the key contains sensitive keywords and sanitizes the value
func SanitizeField(key, value string) string {
	if value == "" {
		return value
	}

	lowerKey := strings.ToLower(key)

	if strings.Contains(lowerKey, "dsn") {
		return sanitizeDSN(value)
	}

	for _, keyword := range sensitiveKeywords {
		if strings.Contains(lowerKey, keyword) {
			return sanitizeToken(value)
		}
	}

	return value
}

// sanitizeToken masks secret values showing only first 4 and last 4 characters
func sanitizeToken(value string) string {
	if len(value) <= 8 {
		if len(value) <= 2 {
			return strings.Repeat("*", len(value))
		}
		return string(value[0]) + strings.Repeat("*", len(value)-2) + string(value[len(value)-1])
	}

	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// sanitizeDSN masks the password segment of a database DSN, leaving the
// host and database visible for debugging.
func sanitizeDSN(value string) string {
	return dsnPassword.ReplaceAllString(value, "$1:****@")
}
