package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeField_Secrets(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		value    string
		expected string
	}{
		{
			name:     "api_key field",
			key:      "api_key",
			value:    "sk-1234567890abcdefghij",
			expected: "sk-1***************ghij",
		},
		{
			name:     "gemini key field",
			key:      "gemini_api_key",
			value:    "AIzaSyABCDEF1234567890",
			expected: "AIza**************7890",
		},
		{
			name:     "authorization header",
			key:      "Authorization",
			value:    "Bearer token123456",
			expected: "Bear**********3456",
		},
		{
			name:     "encryption key",
			key:      "encryption_key",
			value:    "12345678901234567890123456789012",
			expected: "1234************************9012",
		},
		{
			name:     "short secret",
			key:      "pwd",
			value:    "abc",
			expected: "a*c",
		},
		{
			name:     "very short secret",
			key:      "pwd",
			value:    "ab",
			expected: "**",
		},
		{
			name:     "empty value",
			key:      "password",
			value:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeField(tt.key, tt.value))
		})
	}
}

func TestSanitizeField_DSN(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		expected string
	}{
		{
			name:     "mysql dsn",
			value:    "grader:s3cret@tcp(127.0.0.1:3306)/gradelane?parseTime=true",
			expected: "grader:****@tcp(127.0.0.1:3306)/gradelane?parseTime=true",
		},
		{
			name:     "dsn without password",
			value:    "tcp(127.0.0.1:3306)/gradelane",
			expected: "tcp(127.0.0.1:3306)/gradelane",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeField("mysql_dsn", tt.value))
		})
	}
}

func TestSanitizeField_NonSensitive(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"task_id", "task-42"},
		{"provider", "gemini"},
		{"key_id", "2"},
		{"message", "grading completed"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.value, SanitizeField(tt.key, tt.value))
		})
	}
}

func TestSanitizeField_CaseInsensitive(t *testing.T) {
	for _, key := range []string{"API_KEY", "Api_Key", "api_key", "PASSWORD", "Secret"} {
		t.Run(key, func(t *testing.T) {
			result := SanitizeField(key, "sensitivevalue123")
			assert.NotEqual(t, "sensitivevalue123", result)
			assert.Contains(t, result, "*")
		})
	}
}

func TestSanitizeToken_Boundaries(t *testing.T) {
	assert.Equal(t, "1******8", sanitizeToken("12345678"))
	assert.Equal(t, "1234*6789", sanitizeToken("123456789"))
	assert.Equal(t, "*", sanitizeToken("a"))
}
