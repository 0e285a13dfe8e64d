package streaming

import (
	"fmt"
	"io"

	"github.com/antigravity-gateway/gateway/internal/pkg/gemini"
)

// StreamGeminiPassthrough forwards each upstream frame as native Gemini SSE,
// re-encoded through the normalized Response so the client never sees the
// internal `{"response": ...}` envelope; fields the Response type does not
// model are dropped (spec.md §4.5 "Pass-through Gemini stream").
func StreamGeminiPassthrough(upstream io.Reader, w io.Writer, flush func()) (emittedAny bool, err error) {
	err = forEachFrame(upstream, func(resp *gemini.Response) error {
		if resp.HasUsableContent() || resp.UsageMetadata != nil {
			emittedAny = true
		}
		if err := writeSSEJSON(w, resp); err != nil {
			return err
		}
		if flush != nil {
			flush()
		}
		return nil
	}, func(parseErr error) {})
	if err != nil {
		return emittedAny, err
	}
	_, err = fmt.Fprint(w, "data: [DONE]\n\n")
	if flush != nil {
		flush()
	}
	return emittedAny, err
}
