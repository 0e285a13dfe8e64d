package streaming

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStreamOpenAI_ReasoningToolCallTextSequence(t *testing.T) {
	upstream := strings.NewReader(
		`data: {"response":{"candidates":[{"content":{"parts":[` +
			`{"thought":true,"text":"reasoning"},` +
			`{"functionCall":{"id":"fc1","name":"search","args":{"q":"x"}}},` +
			`{"text":"answer"}` +
			`]},"finishReason":"STOP"}]}}` + "\n\n" +
			"data: [DONE]\n\n")

	var buf bytes.Buffer
	emitted, err := StreamOpenAI(upstream, &buf, nil, "gpt-4", "chatcmpl-1", 1700000000)
	require.NoError(t, err)
	require.True(t, emitted)

	out := buf.String()
	require.Contains(t, out, `"reasoning_content":"reasoning"`)
	require.Contains(t, out, `"name":"search"`)
	require.Contains(t, out, `"arguments":"{\"q\":\"x\"}"`)
	require.Contains(t, out, `"content":"answer"`)
	require.Contains(t, out, `"finish_reason":"stop"`)
	require.True(t, strings.HasSuffix(out, "data: [DONE]\n\n"))
}

func TestStreamOpenAI_EmptyStreamEmitsEmptyChunkAndDone(t *testing.T) {
	upstream := strings.NewReader("data: [DONE]\n\n")
	var buf bytes.Buffer
	emitted, err := StreamOpenAI(upstream, &buf, nil, "gpt-4", "chatcmpl-1", 1700000000)
	require.NoError(t, err)
	require.False(t, emitted)
	require.Contains(t, buf.String(), `"content":""`)
	require.Contains(t, buf.String(), "data: [DONE]\n\n")
}

func TestStreamAnthropic_EmitsMessageStartFirstAndStopLast(t *testing.T) {
	upstream := strings.NewReader(
		`data: {"response":{"candidates":[{"content":{"parts":[{"text":"hi"}]},"finishReason":"STOP"}]}}` + "\n\n")

	var buf bytes.Buffer
	emitted, err := StreamAnthropic(upstream, &buf, nil, "claude-3-opus", "msg_1")
	require.NoError(t, err)
	require.True(t, emitted)

	out := buf.String()
	require.True(t, strings.HasPrefix(out, "event: message_start"))
	require.True(t, strings.HasSuffix(out, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n"))
	require.Contains(t, out, "event: content_block_start")
	require.Contains(t, out, "event: content_block_stop")
}

func TestStreamAnthropic_SwitchesBlockVariant(t *testing.T) {
	upstream := strings.NewReader(
		`data: {"response":{"candidates":[{"content":{"parts":[` +
			`{"thought":true,"text":"thinking..."},` +
			`{"text":"final answer"}` +
			`]},"finishReason":"STOP"}]}}` + "\n\n")

	var buf bytes.Buffer
	_, err := StreamAnthropic(upstream, &buf, nil, "claude-3-opus", "msg_1")
	require.NoError(t, err)

	out := buf.String()
	require.Equal(t, 2, strings.Count(out, "event: content_block_start"))
	require.Equal(t, 2, strings.Count(out, "event: content_block_stop"))
}
