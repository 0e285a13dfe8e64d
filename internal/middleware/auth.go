// Package middleware carries the gateway's single-key AuthGuard (spec.md
// §4.6's auth gate), grounded on the teacher's ApiKeyAuth header-extraction
// order but stripped of the teacher's DB-backed API key / billing lookups —
// there is exactly one configured key here, not a per-user ledger.
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// AuthGuard rejects requests unless they carry apiKey via Authorization:
// Bearer, x-api-key, or x-goog-api-key (checked in that order, matching the
// teacher's precedence). When apiKey is empty, the guard is a no-op — the
// gateway runs unauthenticated, matching spec.md §6's default config.
//
// apiKey may be a bcrypt hash (the teacher's admin password format,
// "$2a$"/"$2b$"/"$2y$" prefixed) instead of a plaintext key, so an operator
// can keep proxy.api_key out of config.yaml in the clear.
func AuthGuard(apiKey string, errorShape func(c *gin.Context, message string)) gin.HandlerFunc {
	hashed := isBcryptHash(apiKey)
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}

		presented := extractKey(c)
		if presented == "" || !keyMatches(presented, apiKey, hashed) {
			errorShape(c, "invalid API key")
			c.Abort()
			return
		}
		c.Next()
	}
}

func isBcryptHash(key string) bool {
	return strings.HasPrefix(key, "$2a$") || strings.HasPrefix(key, "$2b$") || strings.HasPrefix(key, "$2y$")
}

func keyMatches(presented, configured string, hashed bool) bool {
	if hashed {
		return bcrypt.CompareHashAndPassword([]byte(configured), []byte(presented)) == nil
	}
	return presented == configured
}

func extractKey(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); auth != "" {
		if rest, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(rest)
		}
	}
	if v := strings.TrimSpace(c.GetHeader("x-api-key")); v != "" {
		return v
	}
	if v := strings.TrimSpace(c.GetHeader("x-goog-api-key")); v != "" {
		return v
	}
	return ""
}

// OpenAIErrorShape writes a 401 in OpenAI's error envelope.
func OpenAIErrorShape(c *gin.Context, message string) {
	c.JSON(401, gin.H{"error": gin.H{"type": "invalid_request_error", "message": message}})
}

// AnthropicErrorShape writes a 401 in Anthropic's error envelope.
func AnthropicErrorShape(c *gin.Context, message string) {
	c.JSON(401, gin.H{"type": "error", "error": gin.H{"type": "authentication_error", "message": message}})
}

// GoogleErrorShape writes a 401 in Gemini's error envelope.
func GoogleErrorShape(c *gin.Context, message string) {
	c.JSON(401, gin.H{"error": gin.H{"code": 401, "message": message, "status": "UNAUTHENTICATED"}})
}
