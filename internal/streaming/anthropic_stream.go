package streaming

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/antigravity-gateway/gateway/internal/mapper"
	"github.com/antigravity-gateway/gateway/internal/pkg/gemini"
	"github.com/antigravity-gateway/gateway/internal/protocol/anthropic"
)

// blockVariant is the open content block's kind; StreamingState closes the
// current block before opening one of a different variant (spec.md §4.5).
type blockVariant int

const (
	variantNone blockVariant = iota
	variantText
	variantThinking
	variantToolUse
)

// StreamingState enforces the Anthropic event prefix invariant: message_start
// exactly once, then content_block_start* / content_block_delta* /
// content_block_stop* pairs, then message_delta, then message_stop
// (spec.md §3 "Streaming state").
type StreamingState struct {
	w              io.Writer
	flush          func()
	messageStarted bool
	blockIndex     int
	openVariant    blockVariant
	emittedAny     bool
	usage          anthropic.Usage
}

func newStreamingState(w io.Writer, flush func()) *StreamingState {
	return &StreamingState{w: w, flush: flush, blockIndex: -1}
}

func (s *StreamingState) writeEvent(eventType string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", eventType, b); err != nil {
		return err
	}
	if s.flush != nil {
		s.flush()
	}
	return nil
}

func (s *StreamingState) ensureStarted(model, id string) error {
	if s.messageStarted {
		return nil
	}
	s.messageStarted = true
	return s.writeEvent("message_start", anthropic.MessageStartEvent{
		Type: "message_start",
		Message: anthropic.MessageStub{
			ID: id, Type: "message", Role: "assistant", Model: model, Content: []string{},
		},
	})
}

func (s *StreamingState) closeOpenBlock() error {
	if s.openVariant == variantNone {
		return nil
	}
	idx := s.blockIndex
	s.openVariant = variantNone
	return s.writeEvent("content_block_stop", anthropic.ContentBlockStopEvent{Type: "content_block_stop", Index: idx})
}

func (s *StreamingState) openBlock(variant blockVariant, block anthropic.ContentBlock) error {
	if s.openVariant == variant {
		return nil
	}
	if err := s.closeOpenBlock(); err != nil {
		return err
	}
	s.blockIndex++
	s.openVariant = variant
	return s.writeEvent("content_block_start", anthropic.ContentBlockStartEvent{
		Type: "content_block_start", Index: s.blockIndex, ContentBlock: block,
	})
}

// PartProcessor routes one upstream Part into the right block variant and
// delta event.
func (s *StreamingState) PartProcessor(part gemini.Part) error {
	switch {
	case part.FunctionCall != nil:
		id := part.FunctionCall.ID
		if id == "" {
			id = part.FunctionCall.Name + "-" + uuid.NewString()
		}
		if err := s.openBlock(variantToolUse, anthropic.ContentBlock{Type: "tool_use", ID: id, Name: part.FunctionCall.Name, Input: json.RawMessage("{}")}); err != nil {
			return err
		}
		args, _ := json.Marshal(defaultArgs(part.FunctionCall.Args))
		s.emittedAny = true
		return s.writeEvent("content_block_delta", anthropic.ContentBlockDeltaEvent{
			Type: "content_block_delta", Index: s.blockIndex,
			Delta: anthropic.ContentBlockDelta{Type: "input_json_delta", PartialJSON: string(args)},
		})

	case part.Thought:
		if err := s.openBlock(variantThinking, anthropic.ContentBlock{Type: "thinking"}); err != nil {
			return err
		}
		if part.Text == "" {
			return nil
		}
		s.emittedAny = true
		return s.writeEvent("content_block_delta", anthropic.ContentBlockDeltaEvent{
			Type: "content_block_delta", Index: s.blockIndex,
			Delta: anthropic.ContentBlockDelta{Type: "thinking_delta", Text: part.Text},
		})

	case part.Text != "":
		if err := s.openBlock(variantText, anthropic.ContentBlock{Type: "text"}); err != nil {
			return err
		}
		s.emittedAny = true
		return s.writeEvent("content_block_delta", anthropic.ContentBlockDeltaEvent{
			Type: "content_block_delta", Index: s.blockIndex,
			Delta: anthropic.ContentBlockDelta{Type: "text_delta", Text: part.Text},
		})

	default:
		return nil
	}
}

func (s *StreamingState) finish(stopReason string) error {
	if err := s.closeOpenBlock(); err != nil {
		return err
	}
	if err := s.writeEvent("message_delta", anthropic.MessageDeltaEvent{
		Type:  "message_delta",
		Delta: anthropic.MessageDelta{StopReason: stopReason},
		Usage: &s.usage,
	}); err != nil {
		return err
	}
	return s.writeEvent("message_stop", anthropic.MessageStopEvent{Type: "message_stop"})
}

func (s *StreamingState) emitError(message string) error {
	return s.writeEvent("error", anthropic.ErrorEvent{Type: "error", Error: anthropic.ErrorDetail{Type: "api_error", Message: message}})
}

// StreamAnthropic implements spec.md §4.5 "Anthropic-SSE output", driving a
// StreamingState across every upstream frame.
func StreamAnthropic(upstream io.Reader, w io.Writer, flush func(), model, id string) (emittedAny bool, err error) {
	state := newStreamingState(w, flush)
	if err := state.ensureStarted(model, id); err != nil {
		return false, err
	}

	var lastStopReason string
	err = forEachFrame(upstream, func(resp *gemini.Response) error {
		if resp.UsageMetadata != nil {
			state.usage = anthropic.Usage{
				InputTokens:  resp.UsageMetadata.PromptTokenCount,
				OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
			}
		}
		if len(resp.Candidates) == 0 {
			return nil
		}
		cand := resp.Candidates[0]
		for _, part := range cand.Content.Parts {
			if err := state.PartProcessor(part); err != nil {
				return err
			}
		}
		if cand.FinishReason != "" {
			lastStopReason = mapper.GeminiFinishReasonToClaude(cand.FinishReason)
		}
		return nil
	}, func(parseErr error) {
		_ = state.emitError("malformed upstream frame: " + parseErr.Error())
	})
	if err != nil {
		_ = state.emitError(err.Error())
		_ = state.finish(lastStopReason)
		return state.emittedAny, err
	}

	if lastStopReason == "" {
		lastStopReason = "end_turn"
	}
	if ferr := state.finish(lastStopReason); ferr != nil {
		return state.emittedAny, ferr
	}
	return state.emittedAny, nil
}
