// Package routes wires the three protocol frontends onto a gin.Engine,
// grounded on the teacher's RegisterGatewayRoutes.
package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/antigravity-gateway/gateway/internal/handler"
	"github.com/antigravity-gateway/gateway/internal/middleware"
)

// Register mounts the OpenAI, Anthropic, and Gemini-native surfaces.
func Register(r *gin.Engine, openaiH *handler.OpenAIHandler, anthropicH *handler.AnthropicHandler, geminiH *handler.GeminiHandler, apiKey string) {
	r.GET("/healthz", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })

	openaiAuth := middleware.AuthGuard(apiKey, middleware.OpenAIErrorShape)
	anthropicAuth := middleware.AuthGuard(apiKey, middleware.AnthropicErrorShape)

	v1 := r.Group("/v1")
	{
		v1.POST("/chat/completions", openaiAuth, openaiH.ChatCompletions)
		v1.POST("/completions", openaiAuth, openaiH.Completions)
		v1.POST("/responses", openaiAuth, openaiH.Responses)
		v1.POST("/images/generations", openaiAuth, openaiH.ImageGenerations)
		v1.POST("/images/edits", openaiAuth, openaiH.ImageEdits)
		v1.POST("/audio/transcriptions", openaiAuth, openaiH.AudioTranscriptions)
		v1.GET("/models", openaiAuth, openaiH.ListModels)
		v1.POST("/messages", anthropicAuth, anthropicH.Messages)
		v1.POST("/messages/count_tokens", anthropicAuth, anthropicH.CountTokens)
	}

	geminiGroup := r.Group("/v1beta")
	geminiGroup.Use(middleware.AuthGuard(apiKey, middleware.GoogleErrorShape))
	{
		geminiGroup.GET("/models", geminiH.ListModels)
		geminiGroup.GET("/models/*model", geminiH.GetModel)
		geminiGroup.POST("/models/*modelAction", geminiH.ModelAction)
	}
}
