package handler

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/antigravity-gateway/gateway/internal/gatewayerr"
	"github.com/antigravity-gateway/gateway/internal/orchestrator"
	"github.com/antigravity-gateway/gateway/internal/pkg/gemini"
	"github.com/antigravity-gateway/gateway/internal/streaming"
)

// GeminiHandler serves the native /v1beta surface (spec.md §4.6's third
// protocol family).
type GeminiHandler struct {
	orch *orchestrator.Orchestrator
}

func NewGeminiHandler(orch *orchestrator.Orchestrator) *GeminiHandler {
	return &GeminiHandler{orch: orch}
}

// ListModels handles GET /v1beta/models.
func (h *GeminiHandler) ListModels(c *gin.Context) {
	c.JSON(http.StatusOK, gemini.FallbackModelsList())
}

// GetModel handles GET /v1beta/models/{model}.
func (h *GeminiHandler) GetModel(c *gin.Context) {
	modelName := strings.TrimPrefix(c.Param("model"), "/")
	if modelName == "" {
		googleError(c, http.StatusBadRequest, "missing model in URL")
		return
	}
	c.JSON(http.StatusOK, gemini.FallbackModel(modelName))
}

// CountTokens handles POST /v1beta/models/{model}:countTokens.
func (h *GeminiHandler) CountTokens(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"totalTokens": 0})
}

// ModelAction handles POST /v1beta/models/*modelAction — parses paths like
// gemini-2.5-flash:generateContent and gemini-2.5-flash:streamGenerateContent
// (spec.md §4.6, grounded on the teacher's HandleModelAction/
// parseGeminiModelAction).
func (h *GeminiHandler) ModelAction(c *gin.Context) {
	rest := strings.TrimPrefix(c.Param("modelAction"), "/")
	model, action, err := parseModelAction(rest)
	if err != nil {
		googleError(c, http.StatusNotFound, err.Error())
		return
	}

	switch action {
	case "generateContent":
		h.generateContent(c, model)
	case "streamGenerateContent":
		h.streamGenerateContent(c, model)
	case "countTokens":
		h.CountTokens(c)
	default:
		googleError(c, http.StatusNotFound, "unknown action: "+action)
	}
}

func (h *GeminiHandler) generateContent(c *gin.Context, model string) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		googleError(c, http.StatusBadRequest, "failed to read request body")
		return
	}
	var req gemini.Request
	if err := json.Unmarshal(body, &req); err != nil {
		googleError(c, http.StatusBadRequest, "failed to parse request body")
		return
	}

	resp, err := h.orch.HandleGeminiGenerateContent(c.Request.Context(), model, req)
	if err != nil {
		log.Printf("[gemini] generateContent failed: %v", err)
		googleError(c, gatewayerr.HTTPStatus(err.Error()), err.Error())
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *GeminiHandler) streamGenerateContent(c *gin.Context, model string) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		googleError(c, http.StatusBadRequest, "failed to read request body")
		return
	}
	var req gemini.Request
	if err := json.Unmarshal(body, &req); err != nil {
		googleError(c, http.StatusBadRequest, "failed to parse request body")
		return
	}

	rc, _, err := h.orch.HandleGeminiStreamGenerateContent(c.Request.Context(), model, req)
	if err != nil {
		log.Printf("[gemini] streamGenerateContent failed: %v", err)
		googleError(c, gatewayerr.HTTPStatus(err.Error()), err.Error())
		return
	}
	defer rc.Close()

	flush, ok := beginSSE(c)
	if !ok {
		googleError(c, http.StatusInternalServerError, "streaming unsupported by response writer")
		return
	}
	if _, err := streaming.StreamGeminiPassthrough(rc, c.Writer, flush); err != nil {
		log.Printf("[gemini] stream passthrough failed: %v", err)
	}
}

func parseModelAction(rest string) (model, action string, err error) {
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return "", "", errMissingPath
	}
	if i := strings.Index(rest, ":"); i > 0 && i < len(rest)-1 {
		return rest[:i], rest[i+1:], nil
	}
	return "", "", errInvalidPath
}

func googleError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    status,
			"message": message,
			"status":  googleStatus(status),
		},
	})
}

func googleStatus(status int) string {
	switch status {
	case 400:
		return "INVALID_ARGUMENT"
	case 401:
		return "UNAUTHENTICATED"
	case 403:
		return "PERMISSION_DENIED"
	case 404:
		return "NOT_FOUND"
	case 429:
		return "RESOURCE_EXHAUSTED"
	case 503:
		return "UNAVAILABLE"
	default:
		return "INTERNAL"
	}
}

type pathError string

func (e pathError) Error() string { return string(e) }

const (
	errMissingPath = pathError("missing path")
	errInvalidPath = pathError("invalid model action path")
)
