// Package streaming implements the StreamMapper (C7): parses upstream SSE
// `data:` frames and re-emits them as OpenAI-SSE, Anthropic-SSE, or raw
// Gemini passthrough (spec.md §4.5).
package streaming

import (
	"bufio"
	"io"
	"strings"

	"github.com/antigravity-gateway/gateway/internal/pkg/gemini"
)

// frameReader scans an upstream SSE body into individual `data: ` payloads,
// ignoring `[DONE]` sentinels and blank keep-alive lines.
type frameReader struct {
	scanner *bufio.Scanner
}

func newFrameReader(r io.Reader) *frameReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	return &frameReader{scanner: s}
}

// Next returns the next frame payload, or ok=false at end of stream.
func (f *frameReader) Next() (payload string, ok bool) {
	var b strings.Builder
	for f.scanner.Scan() {
		line := f.scanner.Text()
		if line == "" {
			if b.Len() > 0 {
				return b.String(), true
			}
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			continue
		}
		b.WriteString(data)
	}
	if b.Len() > 0 {
		return b.String(), true
	}
	return "", false
}

// forEachFrame drains upstream, calling handle with each normalized
// Response. A single frame's JSON error is reported via onParseError rather
// than aborting the whole stream (spec.md §4.5 "on parse error of a single
// frame, emits a recoverable error event and resets").
func forEachFrame(upstream io.Reader, handle func(*gemini.Response) error, onParseError func(error)) error {
	fr := newFrameReader(upstream)
	for {
		payload, ok := fr.Next()
		if !ok {
			return nil
		}
		resp, err := gemini.UnwrapInternalResponse([]byte(payload))
		if err != nil {
			if onParseError != nil {
				onParseError(err)
			}
			continue
		}
		if err := handle(resp); err != nil {
			return err
		}
	}
}
