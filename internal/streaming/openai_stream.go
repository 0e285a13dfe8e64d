package streaming

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/antigravity-gateway/gateway/internal/mapper"
	"github.com/antigravity-gateway/gateway/internal/pkg/gemini"
	"github.com/antigravity-gateway/gateway/internal/protocol/openai"
)

// StreamOpenAI implements spec.md §4.5 "OpenAI-SSE output". It returns
// whether any content was emitted; when nothing was, it writes one
// empty-content chunk before the [DONE] sentinel.
func StreamOpenAI(upstream io.Reader, w io.Writer, flush func(), model, id string, created int64) (emittedAny bool, err error) {
	writeChunk := func(choice openai.ChatChunkChoice) error {
		chunk := openai.ChatChunk{ID: id, Object: "chat.completion.chunk", Created: created, Model: model, Choices: []openai.ChatChunkChoice{choice}}
		return writeSSEJSON(w, chunk)
	}

	toolCallIndex := 0
	err = forEachFrame(upstream, func(resp *gemini.Response) error {
		if len(resp.Candidates) == 0 {
			return nil
		}
		cand := resp.Candidates[0]
		for _, part := range cand.Content.Parts {
			delta, ok := openAIDeltaFromPart(part)
			if !ok {
				continue
			}
			if len(delta.ToolCalls) > 0 {
				idx := toolCallIndex
				delta.ToolCalls[0].Index = &idx
				toolCallIndex++
			}
			emittedAny = true
			if err := writeChunk(openai.ChatChunkChoice{Delta: delta}); err != nil {
				return err
			}
			if flush != nil {
				flush()
			}
		}
		if cand.FinishReason != "" {
			if err := writeChunk(openai.ChatChunkChoice{Delta: openai.Delta{}, FinishReason: mapper.GeminiFinishReasonToOpenAI(cand.FinishReason)}); err != nil {
				return err
			}
			if flush != nil {
				flush()
			}
		}
		return nil
	}, func(parseErr error) {
		// A single malformed frame is swallowed; the stream continues.
	})
	if err != nil {
		return emittedAny, err
	}

	if !emittedAny {
		// Delta.Content is omitempty, so this chunk spells out its empty
		// "content" key explicitly.
		empty := map[string]any{
			"id": id, "object": "chat.completion.chunk", "created": created, "model": model,
			"choices": []map[string]any{{"index": 0, "delta": map[string]string{"content": ""}}},
		}
		if err := writeSSEJSON(w, empty); err != nil {
			return emittedAny, err
		}
	}
	if _, err := fmt.Fprint(w, "data: [DONE]\n\n"); err != nil {
		return emittedAny, err
	}
	if flush != nil {
		flush()
	}
	return emittedAny, nil
}

func openAIDeltaFromPart(part gemini.Part) (openai.Delta, bool) {
	switch {
	case part.Thought && part.Text != "":
		return openai.Delta{ReasoningContent: part.Text}, true
	case part.FunctionCall != nil:
		args, _ := json.Marshal(defaultArgs(part.FunctionCall.Args))
		id := part.FunctionCall.ID
		if id == "" {
			id = part.FunctionCall.Name + "-" + uuid.NewString()
		}
		return openai.Delta{ToolCalls: []openai.ToolCall{{
			ID:   id,
			Type: "function",
			Function: openai.FunctionCall{
				Name:      part.FunctionCall.Name,
				Arguments: string(args),
			},
		}}}, true
	case part.InlineData != nil:
		return openai.Delta{Content: fmt.Sprintf("\n\n![Generated Image](data:%s;base64,%s)\n\n", part.InlineData.MimeType, part.InlineData.Data)}, true
	case part.Text != "":
		return openai.Delta{Content: part.Text}, true
	default:
		return openai.Delta{}, false
	}
}

func defaultArgs(args map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	return args
}

// SynthesizeOpenAISSE emits a synthetic OpenAI-SSE stream from a unary
// response, slicing content into <=80-character deltas (spec.md §4.6
// "Stream fallback for stream:true OpenAI").
func SynthesizeOpenAISSE(w io.Writer, flush func(), model, id string, created int64, content, finishReason string) error {
	const sliceLen = 80
	writeChunk := func(choice openai.ChatChunkChoice) error {
		chunk := openai.ChatChunk{ID: id, Object: "chat.completion.chunk", Created: created, Model: model, Choices: []openai.ChatChunkChoice{choice}}
		return writeSSEJSON(w, chunk)
	}

	runes := []rune(content)
	for i := 0; i < len(runes); i += sliceLen {
		end := i + sliceLen
		if end > len(runes) {
			end = len(runes)
		}
		if err := writeChunk(openai.ChatChunkChoice{Delta: openai.Delta{Content: string(runes[i:end])}}); err != nil {
			return err
		}
		if flush != nil {
			flush()
		}
	}
	if err := writeChunk(openai.ChatChunkChoice{Delta: openai.Delta{}, FinishReason: finishReason}); err != nil {
		return err
	}
	if _, err := fmt.Fprint(w, "data: [DONE]\n\n"); err != nil {
		return err
	}
	if flush != nil {
		flush()
	}
	return nil
}

func writeSSEJSON(w io.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", b)
	return err
}
