package providers

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"claude-relay/internal/claude"
)

// sseFrames splits a canonical event buffer into (event name, data) pairs.
func sseFrames(t *testing.T, events []byte) []struct {
	Name string
	Data map[string]any
} {
	t.Helper()

	var frames []struct {
		Name string
		Data map[string]any
	}

	for _, raw := range strings.Split(strings.TrimSpace(string(events)), "\n\n") {
		if raw == "" {
			continue
		}

		lines := strings.Split(raw, "\n")
		require.Len(t, lines, 2, "frame: %q", raw)

		var data map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(lines[1], "data: ")), &data))

		frames = append(frames, struct {
			Name string
			Data map[string]any
		}{
			Name: strings.TrimPrefix(lines[0], "event: "),
			Data: data,
		})
	}

	return frames
}

func TestOpenAIProvider_BasicMethods(t *testing.T) {
	provider := NewOpenAIProvider()

	assert.Equal(t, "openai", provider.Name())
	assert.True(t, provider.SupportsStreaming())
}

func TestOpenAIProvider_BuildRequest(t *testing.T) {
	provider := NewOpenAIProvider()

	temp := 0.5
	req := &claude.Request{
		Model:       "gpt-4o",
		MaxTokens:   1024,
		Temperature: &temp,
		Stream:      true,
		System:      "be brief",
		Messages: []claude.Message{
			{Role: claude.RoleUser, Content: claude.TextContent("hi")},
		},
		Tools: []claude.ToolSpec{
			{
				Name:        "get_weather",
				Description: "Weather lookup",
				InputSchema: json.RawMessage(`{"$schema":"x","type":"object"}`),
			},
		},
		ToolChoice: json.RawMessage(`{"type":"auto"}`),
	}

	out, err := provider.BuildRequest(req, "https://api.openai.com/v1/chat/completions", "sk-test")
	require.NoError(t, err)

	assert.Equal(t, "POST", out.Method)
	assert.Equal(t, "https://api.openai.com/v1/chat/completions", out.URL)
	assert.Equal(t, "Bearer sk-test", out.Header.Get("Authorization"))
	assert.Equal(t, "application/json", out.Header.Get("Content-Type"))
	assert.True(t, out.Stream)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(out.Body, &payload))

	assert.Equal(t, "gpt-4o", payload["model"])
	assert.Equal(t, float64(1024), payload["max_tokens"])
	assert.Equal(t, 0.5, payload["temperature"])
	assert.Equal(t, true, payload["stream"])

	messages := payload["messages"].([]any)
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]any)["role"])
	assert.Equal(t, "be brief", messages[0].(map[string]any)["content"])

	tools := payload["tools"].([]any)
	require.Len(t, tools, 1)

	function := tools[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "get_weather", function["name"])
	assert.NotContains(t, function["parameters"].(map[string]any), "$schema")

	assert.Equal(t, map[string]any{"type": "auto"}, payload["tool_choice"])
}

func TestOpenAIProvider_BuildRequest_ToolChoiceNeedsTools(t *testing.T) {
	provider := NewOpenAIProvider()

	req := &claude.Request{
		Model: "gpt-4o",
		Messages: []claude.Message{
			{Role: claude.RoleUser, Content: claude.TextContent("hi")},
		},
		ToolChoice: json.RawMessage(`{"type":"auto"}`),
	}

	out, err := provider.BuildRequest(req, "https://api.openai.com/v1/chat/completions", "sk-test")
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(out.Body, &payload))
	assert.NotContains(t, payload, "tool_choice")
}

func TestOpenAIProvider_MapMessages_ToolFlow(t *testing.T) {
	provider := NewOpenAIProvider()

	req := &claude.Request{
		Model: "gpt-4o",
		Messages: []claude.Message{
			{Role: claude.RoleUser, Content: claude.TextContent("read the file")},
			{Role: claude.RoleAssistant, Content: claude.BlockContent(
				claude.TextBlock("Reading now."),
				claude.ToolUseBlock("toolu_ok", "read_file", json.RawMessage(`{"path":"a.txt"}`)),
			)},
			{Role: claude.RoleUser, Content: claude.BlockContent(
				claude.ToolResultBlock("toolu_ok", "contents", false),
			)},
		},
	}

	messages := provider.mapMessages(req)
	require.Len(t, messages, 3)

	assert.Equal(t, "user", messages[0].Role)
	assert.Equal(t, "read the file", messages[0].Content)

	assert.Equal(t, "assistant", messages[1].Role)
	assert.Equal(t, "Reading now.", messages[1].Content)
	require.Len(t, messages[1].ToolCalls, 1)
	assert.Equal(t, "call_ok", messages[1].ToolCalls[0].ID)
	assert.Equal(t, "read_file", messages[1].ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"path":"a.txt"}`, messages[1].ToolCalls[0].Function.Arguments)

	assert.Equal(t, "tool", messages[2].Role)
	assert.Equal(t, "call_ok", messages[2].ToolCallID)
	assert.Equal(t, "contents", messages[2].Content)
}

func TestOpenAIProvider_MapMessages_DropsDanglingToolUse(t *testing.T) {
	provider := NewOpenAIProvider()

	req := &claude.Request{
		Model: "gpt-4o",
		Messages: []claude.Message{
			{Role: claude.RoleUser, Content: claude.TextContent("go")},
			{Role: claude.RoleAssistant, Content: claude.BlockContent(
				claude.TextBlock("Calling."),
				claude.ToolUseBlock("toolu_dangling", "run", nil),
			)},
		},
	}

	messages := provider.mapMessages(req)
	require.Len(t, messages, 1)
	assert.Equal(t, "go", messages[0].Content)
}

func TestOpenAIProvider_MapMessages_InterruptedCall(t *testing.T) {
	provider := NewOpenAIProvider()

	req := &claude.Request{
		Model: "gpt-4o",
		Messages: []claude.Message{
			{Role: claude.RoleAssistant, Content: claude.BlockContent(
				claude.ToolUseBlock("toolu_x", "write_file", json.RawMessage(`{}`)),
			)},
			{Role: claude.RoleUser, Content: claude.BlockContent(
				claude.ToolResultBlock("toolu_x", "Interrupted by user", true),
			)},
		},
	}

	messages := provider.mapMessages(req)
	require.Len(t, messages, 2)

	// The interrupted call never reaches the backend as a function call.
	assert.Empty(t, messages[0].ToolCalls)
	assert.Equal(t, "User interrupted: write_file operation was cancelled by user", messages[0].Content)

	assert.Equal(t, "user", messages[1].Role)
	assert.Equal(t, claude.InterruptedNotice, messages[1].Content)
}

func TestOpenAIProvider_MapMessages_ToolError(t *testing.T) {
	provider := NewOpenAIProvider()

	req := &claude.Request{
		Model: "gpt-4o",
		Messages: []claude.Message{
			{Role: claude.RoleAssistant, Content: claude.BlockContent(
				claude.ToolUseBlock("toolu_x", "write_file", json.RawMessage(`{}`)),
			)},
			{Role: claude.RoleUser, Content: claude.BlockContent(
				claude.ToolResultBlock("toolu_x", "disk full", true),
			)},
		},
	}

	messages := provider.mapMessages(req)
	require.Len(t, messages, 2)
	assert.Equal(t, "Tool execution error: disk full", messages[1].Content)
}

func TestOpenAIProvider_TranslateResponse_Text(t *testing.T) {
	provider := NewOpenAIProvider()

	body := []byte(`{
		"id": "chatcmpl-1",
		"model": "gpt-4o",
		"choices": [{
			"message": {"role": "assistant", "content": "Hello!"},
			"finish_reason": "stop"
		}],
		"usage": {"prompt_tokens": 9, "completion_tokens": 12}
	}`)

	out, err := provider.TranslateResponse(body)
	require.NoError(t, err)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(out, &resp))

	assert.Equal(t, "chatcmpl-1", resp["id"])
	assert.Equal(t, "message", resp["type"])
	assert.Equal(t, "assistant", resp["role"])
	assert.Equal(t, "end_turn", resp["stop_reason"])

	content := resp["content"].([]any)
	require.Len(t, content, 1)
	assert.Equal(t, "Hello!", content[0].(map[string]any)["text"])

	usage := resp["usage"].(map[string]any)
	assert.Equal(t, float64(9), usage["input_tokens"])
	assert.Equal(t, float64(12), usage["output_tokens"])
}

func TestOpenAIProvider_TranslateResponse_ToolCalls(t *testing.T) {
	provider := NewOpenAIProvider()

	body := []byte(`{
		"id": "chatcmpl-2",
		"model": "gpt-4o",
		"choices": [{
			"message": {
				"role": "assistant",
				"tool_calls": [{
					"id": "call_abc",
					"type": "function",
					"function": {"name": "get_weather", "arguments": "{'location': 'Paris'}"}
				}]
			},
			"finish_reason": "tool_calls"
		}]
	}`)

	out, err := provider.TranslateResponse(body)
	require.NoError(t, err)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(out, &resp))

	assert.Equal(t, "tool_use", resp["stop_reason"])
	assert.NotContains(t, resp, "usage")

	content := resp["content"].([]any)
	require.Len(t, content, 1)

	block := content[0].(map[string]any)
	assert.Equal(t, "tool_use", block["type"])
	assert.Equal(t, "toolu_abc", block["id"])
	assert.Equal(t, "get_weather", block["name"])
	assert.Equal(t, map[string]any{"location": "Paris"}, block["input"])
}

func TestOpenAIProvider_TranslateResponse_Truncation(t *testing.T) {
	provider := NewOpenAIProvider()

	body := []byte(`{
		"id": "chatcmpl-3",
		"model": "gpt-4o",
		"choices": [{
			"message": {"role": "assistant", "content": "partial"},
			"finish_reason": "length"
		}]
	}`)

	out, err := provider.TranslateResponse(body)
	require.NoError(t, err)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(out, &resp))
	assert.Equal(t, "max_tokens", resp["stop_reason"])
}

func TestOpenAIProvider_TranslateResponse_Error(t *testing.T) {
	provider := NewOpenAIProvider()

	body := []byte(`{"error": {"type": "rate_limit_error", "message": "slow down"}}`)

	out, err := provider.TranslateResponse(body)
	require.NoError(t, err)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(out, &resp))

	assert.Equal(t, "error", resp["type"])
	errObj := resp["error"].(map[string]any)
	assert.Equal(t, "rate_limit_error", errObj["type"])
	assert.Equal(t, "slow down", errObj["message"])
}

func TestOpenAIProvider_TranslateResponse_NoChoices(t *testing.T) {
	provider := NewOpenAIProvider()

	_, err := provider.TranslateResponse([]byte(`{"id":"x","choices":[]}`))
	assert.Error(t, err)
}

func TestOpenAIProvider_TranslateStream_TextDeltas(t *testing.T) {
	provider := NewOpenAIProvider()

	var cursor StreamCursor

	first := []byte(`{"id":"chatcmpl-s","model":"gpt-4o","choices":[{"delta":{"content":"Hel"}}]}`)
	events, cursor, err := provider.TranslateStream(first, cursor)
	require.NoError(t, err)

	frames := sseFrames(t, events)
	require.Len(t, frames, 2)
	assert.Equal(t, "message_start", frames[0].Name)
	assert.Equal(t, "content_block_delta", frames[1].Name)
	assert.Equal(t, float64(0), frames[1].Data["index"])

	assert.True(t, cursor.MessageStartSent)
	assert.Equal(t, 1, cursor.TextBlockIndex)
	assert.Equal(t, "chatcmpl-s", cursor.MessageID)

	second := []byte(`{"id":"chatcmpl-s","model":"gpt-4o","choices":[{"delta":{"content":"lo"}}]}`)
	events, cursor, err = provider.TranslateStream(second, cursor)
	require.NoError(t, err)

	frames = sseFrames(t, events)
	require.Len(t, frames, 1)
	assert.Equal(t, "content_block_delta", frames[0].Name)
	assert.Equal(t, float64(1), frames[0].Data["index"])
	assert.Equal(t, 2, cursor.TextBlockIndex)
}

func TestOpenAIProvider_TranslateStream_ToolCall(t *testing.T) {
	provider := NewOpenAIProvider()

	cursor := StreamCursor{MessageStartSent: true}

	frame := []byte(`{"id":"chatcmpl-s","model":"gpt-4o","choices":[{"delta":{"tool_calls":[{
		"id": "call_abc",
		"function": {"name": "get_weather", "arguments": "{\"location\":\"Paris\"}"}
	}]}}]}`)

	events, cursor, err := provider.TranslateStream(frame, cursor)
	require.NoError(t, err)

	frames := sseFrames(t, events)
	require.Len(t, frames, 3)

	assert.Equal(t, "content_block_start", frames[0].Name)
	block := frames[0].Data["content_block"].(map[string]any)
	assert.Equal(t, "tool_use", block["type"])
	assert.Equal(t, "toolu_abc", block["id"])
	assert.Equal(t, "get_weather", block["name"])

	assert.Equal(t, "content_block_delta", frames[1].Name)
	delta := frames[1].Data["delta"].(map[string]any)
	assert.Equal(t, "input_json_delta", delta["type"])
	assert.JSONEq(t, `{"location":"Paris"}`, delta["partial_json"].(string))

	assert.Equal(t, "content_block_stop", frames[2].Name)

	assert.Equal(t, 1, cursor.ToolBlockIndex)
}

func TestOpenAIProvider_TranslateStream_SkipsPartialToolArgs(t *testing.T) {
	provider := NewOpenAIProvider()

	cursor := StreamCursor{MessageStartSent: true}

	frame := []byte(`{"id":"chatcmpl-s","choices":[{"delta":{"tool_calls":[{
		"function": {"name": "get_weather", "arguments": "{\"loc"}
	}]}}]}`)

	events, cursor, err := provider.TranslateStream(frame, cursor)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Zero(t, cursor.ToolBlockIndex)
}

func TestOpenAIProvider_TranslateStream_Finish(t *testing.T) {
	provider := NewOpenAIProvider()

	cursor := StreamCursor{MessageStartSent: true, TextBlockIndex: 2}

	frame := []byte(`{"id":"chatcmpl-s","choices":[{"delta":{},"finish_reason":"stop"}],
		"usage":{"prompt_tokens":5,"completion_tokens":7}}`)

	events, _, err := provider.TranslateStream(frame, cursor)
	require.NoError(t, err)

	frames := sseFrames(t, events)
	require.Len(t, frames, 2)

	assert.Equal(t, "message_delta", frames[0].Name)
	assert.Equal(t, "end_turn", frames[0].Data["delta"].(map[string]any)["stop_reason"])

	usage := frames[0].Data["usage"].(map[string]any)
	assert.Equal(t, float64(5), usage["input_tokens"])
	assert.Equal(t, float64(7), usage["output_tokens"])

	assert.Equal(t, "message_stop", frames[1].Name)
}

func TestOpenAIProvider_TranslateStream_TextThenToolOrdering(t *testing.T) {
	provider := NewOpenAIProvider()

	var cursor StreamCursor
	var all []byte

	sequence := [][]byte{
		[]byte(`{"id":"chatcmpl-s","model":"gpt-4o","choices":[{"delta":{"content":"Hi"}}]}`),
		[]byte(`{"id":"chatcmpl-s","choices":[{"delta":{"tool_calls":[{"id":"call_f","function":{"name":"f","arguments":"{}"}}]}}]}`),
		[]byte(`{"id":"chatcmpl-s","choices":[{"delta":{},"finish_reason":"tool_calls"}]}`),
	}

	for _, frame := range sequence {
		events, next, err := provider.TranslateStream(frame, cursor)
		require.NoError(t, err)

		cursor = next
		all = append(all, events...)
	}

	frames := sseFrames(t, all)
	names := make([]string, 0, len(frames))

	for _, f := range frames {
		names = append(names, f.Name)
	}

	// Text before tool, both starting at index 0 on their own counters.
	assert.Equal(t, []string{
		"message_start",
		"content_block_delta",
		"content_block_start",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, names)

	assert.Equal(t, float64(0), frames[1].Data["index"])
	assert.Equal(t, float64(0), frames[2].Data["index"])
	assert.Equal(t, "tool_use", frames[5].Data["delta"].(map[string]any)["stop_reason"])
}

func TestOpenAIProvider_TranslateStream_EmptyChoices(t *testing.T) {
	provider := NewOpenAIProvider()

	var cursor StreamCursor

	events, cursor, err := provider.TranslateStream([]byte(`{"id":"chatcmpl-s","choices":[]}`), cursor)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.False(t, cursor.MessageStartSent)
}

func TestOpenAIProvider_TranslateStream_BadFrame(t *testing.T) {
	provider := NewOpenAIProvider()

	_, _, err := provider.TranslateStream([]byte(`{not json`), StreamCursor{})
	assert.Error(t, err)
}

func TestOpenAIProvider_StopReason(t *testing.T) {
	provider := NewOpenAIProvider()

	tests := []struct {
		finish       string
		hasToolCalls bool
		want         string
	}{
		{"stop", false, "end_turn"},
		{"length", false, "max_tokens"},
		{"tool_calls", false, "tool_use"},
		{"stop", true, "tool_use"},
		{"length", true, "tool_use"},
		{"", false, "end_turn"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, provider.stopReason(tt.finish, tt.hasToolCalls))
	}
}
