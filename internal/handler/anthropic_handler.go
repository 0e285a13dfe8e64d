package handler

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/antigravity-gateway/gateway/internal/gatewayerr"
	"github.com/antigravity-gateway/gateway/internal/orchestrator"
	"github.com/antigravity-gateway/gateway/internal/protocol/anthropic"
	"github.com/antigravity-gateway/gateway/internal/streaming"
)

// AnthropicHandler serves the Claude Messages-compatible surface.
type AnthropicHandler struct {
	orch *orchestrator.Orchestrator
}

func NewAnthropicHandler(orch *orchestrator.Orchestrator) *AnthropicHandler {
	return &AnthropicHandler{orch: orch}
}

// Messages handles POST /v1/messages.
func (h *AnthropicHandler) Messages(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		anthropicError(c, http.StatusBadRequest, "invalid_request_error", "failed to read request body")
		return
	}

	var req anthropic.ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		anthropicError(c, http.StatusBadRequest, "invalid_request_error", "failed to parse request body")
		return
	}

	resp, stream, err := h.orch.HandleAnthropicMessages(c.Request.Context(), body, req)
	if err != nil {
		log.Printf("[anthropic] messages failed: %v", err)
		anthropicErrorFromGateway(c, err)
		return
	}

	if stream == nil {
		c.JSON(http.StatusOK, resp)
		return
	}

	flush, ok := beginSSE(c)
	if !ok {
		anthropicError(c, http.StatusInternalServerError, "api_error", "streaming unsupported by response writer")
		return
	}
	defer stream.Upstream.Close()
	if _, err := streaming.StreamAnthropic(stream.Upstream, c.Writer, flush, stream.Model, stream.MessageID); err != nil {
		log.Printf("[anthropic] stream translation failed: %v", err)
	}
}

// CountTokens handles POST /v1/messages/count_tokens. The gateway has no
// tokenizer of its own; clients that need exact counts should use the
// provider's own tokenizer, so this reports zero like the native Gemini
// countTokens fallback.
func (h *AnthropicHandler) CountTokens(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"input_tokens": 0})
}

func anthropicError(c *gin.Context, status int, errType, message string) {
	c.JSON(status, anthropic.ErrorBody{Type: "error", Error: anthropic.ErrorDetail{Type: errType, Message: message}})
}

func anthropicErrorFromGateway(c *gin.Context, err error) {
	status := gatewayerr.HTTPStatus(err.Error())
	errType := "api_error"
	if gerr, ok := err.(*gatewayerr.Error); ok {
		switch gerr.Kind {
		case gatewayerr.Forbidden:
			errType = "authentication_error"
		case gatewayerr.RateLimited, gatewayerr.QuotaExhausted:
			errType = "rate_limit_error"
		case gatewayerr.BadRequest:
			errType = "invalid_request_error"
		case gatewayerr.Fatal:
			errType = "overloaded_error"
		}
	}
	anthropicError(c, status, errType, err.Error())
}
