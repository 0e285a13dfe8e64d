package streaming

import (
	"io"
	"strings"

	"github.com/antigravity-gateway/gateway/internal/pkg/gemini"
)

// CollectUnary merges a streamed upstream response back into a single
// unary Response, for the orchestrator's empty-unary-response-then-stream
// fallback (spec.md §4.6). Adjacent text parts are concatenated; every other
// part kind is carried through unchanged.
func CollectUnary(upstream io.Reader) (*gemini.Response, error) {
	var parts []gemini.Part
	var usage *gemini.UsageMetadata
	var finishReason string
	var textBuf strings.Builder
	flushText := func() {
		if textBuf.Len() > 0 {
			parts = append(parts, gemini.Part{Text: textBuf.String()})
			textBuf.Reset()
		}
	}

	err := forEachFrame(upstream, func(resp *gemini.Response) error {
		if resp.UsageMetadata != nil {
			usage = resp.UsageMetadata
		}
		if len(resp.Candidates) == 0 {
			return nil
		}
		cand := resp.Candidates[0]
		if cand.FinishReason != "" {
			finishReason = cand.FinishReason
		}
		for _, p := range cand.Content.Parts {
			if p.Text != "" && !p.Thought {
				textBuf.WriteString(p.Text)
				continue
			}
			flushText()
			parts = append(parts, p)
		}
		return nil
	}, func(error) {})
	flushText()
	if err != nil {
		return nil, err
	}

	if finishReason == "" && len(parts) > 0 {
		finishReason = "STOP"
	}

	return &gemini.Response{
		Candidates: []gemini.Candidate{{
			Content:      gemini.Content{Role: "model", Parts: parts},
			FinishReason: finishReason,
		}},
		UsageMetadata: usage,
	}, nil
}
