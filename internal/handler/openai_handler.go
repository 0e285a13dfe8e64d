package handler

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/antigravity-gateway/gateway/internal/gatewayerr"
	"github.com/antigravity-gateway/gateway/internal/mapper"
	"github.com/antigravity-gateway/gateway/internal/orchestrator"
	"github.com/antigravity-gateway/gateway/internal/pkg/gemini"
	"github.com/antigravity-gateway/gateway/internal/protocol/openai"
	"github.com/antigravity-gateway/gateway/internal/streaming"
)

// defaultImageModel/defaultMultimodalModel back the three media endpoints
// when the caller's requested model isn't already one of the dynamic
// gemini-3-pro-image variants.
const (
	defaultImageModel      = "gemini-3-pro-image"
	defaultMultimodalModel = "gemini-2.5-flash"
)

// OpenAIHandler serves the OpenAI-compatible surface (spec.md §4.6).
type OpenAIHandler struct {
	orch *orchestrator.Orchestrator
}

func NewOpenAIHandler(orch *orchestrator.Orchestrator) *OpenAIHandler {
	return &OpenAIHandler{orch: orch}
}

// ChatCompletions handles POST /v1/chat/completions.
func (h *OpenAIHandler) ChatCompletions(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		openaiError(c, http.StatusBadRequest, "invalid_request_error", "failed to read request body")
		return
	}

	var req openai.ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		openaiError(c, http.StatusBadRequest, "invalid_request_error", "failed to parse request body")
		return
	}

	resp, stream, err := h.orch.HandleChatCompletions(c.Request.Context(), body, req)
	if err != nil {
		log.Printf("[openai] chat completions failed: %v", err)
		openaiErrorFromGateway(c, err)
		return
	}

	if stream == nil {
		c.JSON(http.StatusOK, resp)
		return
	}

	flush, ok := beginSSE(c)
	if !ok {
		openaiError(c, http.StatusInternalServerError, "api_error", "streaming unsupported by response writer")
		return
	}

	id := orchestrator.ChatCompletionID()
	created := time.Now().Unix()

	if stream.Synthetic {
		if err := streaming.SynthesizeOpenAISSE(c.Writer, flush, stream.Model, id, created, stream.Content, stream.FinishReason); err != nil {
			log.Printf("[openai] synthetic stream write failed: %v", err)
		}
		return
	}

	defer stream.Upstream.Close()
	if _, err := streaming.StreamOpenAI(stream.Upstream, c.Writer, flush, stream.Model, id, created); err != nil {
		log.Printf("[openai] stream translation failed: %v", err)
	}
}

// Completions handles the legacy POST /v1/completions, normalizing the
// prompt into a chat turn and reshaping the response back into the
// text_completion shape (spec.md §4.7). Streaming is not supported on this
// legacy surface; a stream:true request is served as a single buffered
// response.
func (h *OpenAIHandler) Completions(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		openaiError(c, http.StatusBadRequest, "invalid_request_error", "failed to read request body")
		return
	}

	var req openai.CompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		openaiError(c, http.StatusBadRequest, "invalid_request_error", "failed to parse request body")
		return
	}

	chatReq := mapper.CompletionToChat(req)
	chatReq.Stream = false
	resp, _, err := h.orch.HandleChatCompletions(c.Request.Context(), body, chatReq)
	if err != nil {
		log.Printf("[openai] completions failed: %v", err)
		openaiErrorFromGateway(c, err)
		return
	}
	c.JSON(http.StatusOK, mapper.ChatToCompletion(*resp))
}

// Responses handles POST /v1/responses, normalizing the `input` array into
// chat turns and reshaping the result into the output-item array shape
// (spec.md §4.7). Non-streaming only, for the same reason as Completions.
func (h *OpenAIHandler) Responses(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		openaiError(c, http.StatusBadRequest, "invalid_request_error", "failed to read request body")
		return
	}

	var req openai.ResponsesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		openaiError(c, http.StatusBadRequest, "invalid_request_error", "failed to parse request body")
		return
	}

	chatReq := mapper.ResponsesToChat(req)
	resp, _, err := h.orch.HandleChatCompletions(c.Request.Context(), body, chatReq)
	if err != nil {
		log.Printf("[openai] responses failed: %v", err)
		openaiErrorFromGateway(c, err)
		return
	}
	c.JSON(http.StatusOK, mapper.ChatToResponses(*resp))
}

// ImageGenerations handles POST /v1/images/generations.
func (h *OpenAIHandler) ImageGenerations(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		openaiError(c, http.StatusBadRequest, "invalid_request_error", "failed to read request body")
		return
	}

	var req openai.ImageGenerationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		openaiError(c, http.StatusBadRequest, "invalid_request_error", "failed to parse request body")
		return
	}

	model := req.Model
	if !gemini.IsImageGenerationModel(model) {
		model = defaultImageModel
	}

	greq := gemini.Request{Contents: []gemini.Content{{Role: "user", Parts: []gemini.Part{{Text: req.Prompt}}}}}
	resp, err := h.orch.HandleGeminiGenerateContent(c.Request.Context(), model, greq)
	if err != nil {
		log.Printf("[openai] image generation failed: %v", err)
		openaiErrorFromGateway(c, err)
		return
	}
	c.JSON(http.StatusOK, mapper.ImagesFromGeminiResponse(resp, time.Now().Unix()))
}

// ImageEdits handles POST /v1/images/edits — multipart/form-data carrying
// the source image and a prompt (spec.md §4.7). On a project-context error
// the retry loop inside HandleGeminiGenerateContent already falls back to
// an empty project_id on the same account, so no separate fallback call is
// needed here.
func (h *OpenAIHandler) ImageEdits(c *gin.Context) {
	prompt := c.PostForm("prompt")
	model := c.PostForm("model")
	if !gemini.IsImageGenerationModel(model) {
		model = defaultImageModel
	}

	file, header, err := c.Request.FormFile("image")
	if err != nil {
		openaiError(c, http.StatusBadRequest, "invalid_request_error", "missing multipart field \"image\"")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		openaiError(c, http.StatusBadRequest, "invalid_request_error", "failed to read image")
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "image/png"
	}

	greq := gemini.Request{Contents: []gemini.Content{{Role: "user", Parts: []gemini.Part{
		{Text: prompt},
		{InlineData: &gemini.Blob{MimeType: mimeType, Data: base64.StdEncoding.EncodeToString(data)}},
	}}}}
	resp, err := h.orch.HandleGeminiGenerateContent(c.Request.Context(), model, greq)
	if err != nil {
		log.Printf("[openai] image edit failed: %v", err)
		openaiErrorFromGateway(c, err)
		return
	}
	c.JSON(http.StatusOK, mapper.ImagesFromGeminiResponse(resp, time.Now().Unix()))
}

// AudioTranscriptions handles POST /v1/audio/transcriptions —
// multipart/form-data carrying the audio file, decoded as audio/mpeg by
// default (spec.md §4.7).
func (h *OpenAIHandler) AudioTranscriptions(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		openaiError(c, http.StatusBadRequest, "invalid_request_error", "missing multipart field \"file\"")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		openaiError(c, http.StatusBadRequest, "invalid_request_error", "failed to read audio")
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "audio/mpeg"
	}

	greq := gemini.Request{Contents: []gemini.Content{{Role: "user", Parts: []gemini.Part{
		{Text: "Transcribe the following audio verbatim."},
		{InlineData: &gemini.Blob{MimeType: mimeType, Data: base64.StdEncoding.EncodeToString(data)}},
	}}}}
	resp, err := h.orch.HandleGeminiGenerateContent(c.Request.Context(), defaultMultimodalModel, greq)
	if err != nil {
		log.Printf("[openai] audio transcription failed: %v", err)
		openaiErrorFromGateway(c, err)
		return
	}
	c.JSON(http.StatusOK, mapper.TranscriptionFromGeminiResponse(resp))
}

// ListModels handles GET /v1/models. The listing covers both the static
// fallback ids and the dynamic image-generation id cross product (spec.md
// §4.7, SPEC_FULL.md §3.7), matching what ResolveModelRoute/IsImageGenerationModel
// actually accept.
func (h *OpenAIHandler) ListModels(c *gin.Context) {
	ids := make([]string, 0, len(gemini.FallbackModelIDs)+len(gemini.DynamicImageModelIDs()))
	ids = append(ids, gemini.FallbackModelIDs...)
	ids = append(ids, gemini.DynamicImageModelIDs()...)

	data := make([]openai.Model, 0, len(ids))
	for _, id := range ids {
		data = append(data, openai.Model{
			ID:      id,
			Object:  "model",
			Created: 1770652800,
			OwnedBy: "antigravity",
		})
	}
	c.JSON(http.StatusOK, openai.ModelList{Object: "list", Data: data})
}

func openaiError(c *gin.Context, status int, errType, message string) {
	c.JSON(status, openai.ErrorBody{Error: openai.ErrorDetail{Type: errType, Message: message}})
}

func openaiErrorFromGateway(c *gin.Context, err error) {
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
		}
	}
	openaiError(c, status, errType, err.Error())
}
