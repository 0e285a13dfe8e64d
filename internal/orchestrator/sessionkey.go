package orchestrator

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"

	"github.com/tidwall/gjson"
)

// claudeCodeSessionID matches a `session_id`/`sessionId`/`session-id` key
// followed by a value of 8+ id characters anywhere in the raw body, used as a
// lower-priority session-key source when no explicit metadata is present
// (SPEC_FULL.md §3.5). It does not parse the
// `user_<hex>_account_<uuid>_session_<uuid>` shape of metadata.user_id.
var claudeCodeSessionID = regexp.MustCompile(`session[_-]?id["']?\s*[:=]\s*["']?([a-zA-Z0-9_-]{8,})`)

// AnthropicSessionKey implements spec.md §4.6's Anthropic session-key rule,
// extended with the lower-priority fallbacks from SPEC_FULL.md §3.5: a
// Claude-Code session-id pattern in the raw body, then a hash of the first
// user message's text, so sessions still pin an account even when the client
// omits metadata entirely.
func AnthropicSessionKey(rawBody []byte) string {
	for _, path := range []string{"metadata.session_id", "sessionId", "user_id", "userId"} {
		if v := gjson.GetBytes(rawBody, path); v.Exists() && v.Type == gjson.String && v.String() != "" {
			return "anthropic:" + v.String()
		}
	}
	if m := claudeCodeSessionID.FindSubmatch(rawBody); m != nil {
		return "anthropic:" + string(m[1])
	}
	if hash := hashFirstUserMessage(rawBody); hash != "" {
		return "anthropic:" + hash
	}
	return ""
}

// OpenAISessionKey implements spec.md §4.6's OpenAI session-key rule with
// the same lower-priority fallbacks.
func OpenAISessionKey(rawBody []byte) string {
	for _, path := range []string{"extra.session_id", "sessionId", "user_id", "userId", "user"} {
		if v := gjson.GetBytes(rawBody, path); v.Exists() && v.Type == gjson.String && v.String() != "" {
			return "openai:" + v.String()
		}
	}
	if m := claudeCodeSessionID.FindSubmatch(rawBody); m != nil {
		return "openai:" + string(m[1])
	}
	if hash := hashFirstUserMessage(rawBody); hash != "" {
		return "openai:" + hash
	}
	return ""
}

// hashFirstUserMessage derives a stable, low-priority session key from the
// first user message's content so purely anonymous requests from the same
// conversation still land on the same account within the sticky window.
func hashFirstUserMessage(rawBody []byte) string {
	messages := gjson.GetBytes(rawBody, "messages")
	if !messages.IsArray() {
		return ""
	}
	for _, m := range messages.Array() {
		if m.Get("role").String() != "user" {
			continue
		}
		content := m.Get("content")
		text := content.String()
		if text == "" {
			return ""
		}
		sum := sha256.Sum256([]byte(text))
		return hex.EncodeToString(sum[:8])
	}
	return ""
}
