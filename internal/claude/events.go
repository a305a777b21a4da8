package claude

import (
	"encoding/json"
	"fmt"
)

// Streaming event names as they appear on the canonical SSE channel.
const (
	EventMessageStart      = "message_start"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
)

// SSEEvent renders one canonical server-sent event frame.
func SSEEvent(eventType string, data any) []byte {
	payload, err := json.Marshal(data)
	if err != nil {
		return []byte("event: error\ndata: {\"error\":\"failed to marshal event\"}\n\n")
	}

	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, payload))
}

// MessageStartEvent opens a streamed canonical response. Usage may be nil
// when the provider has not reported input tokens yet.
func MessageStartEvent(messageID, model string, usage map[string]any) []byte {
	if usage == nil {
		usage = map[string]any{
			"input_tokens":  0,
			"output_tokens": 1,
		}
	}

	return SSEEvent(EventMessageStart, map[string]any{
		"type": EventMessageStart,
		"message": map[string]any{
			"id":            messageID,
			"type":          "message",
			"role":          RoleAssistant,
			"model":         model,
			"content":       []any{},
			"stop_reason":   nil,
			"stop_sequence": nil,
			"usage":         usage,
		},
	})
}

func TextBlockStartEvent(index int) []byte {
	return SSEEvent(EventContentBlockStart, map[string]any{
		"type":  EventContentBlockStart,
		"index": index,
		"content_block": map[string]any{
			"type": BlockTypeText,
			"text": "",
		},
	})
}

func TextDeltaEvent(index int, text string) []byte {
	return SSEEvent(EventContentBlockDelta, map[string]any{
		"type":  EventContentBlockDelta,
		"index": index,
		"delta": map[string]any{
			"type": "text_delta",
			"text": text,
		},
	})
}

func ToolBlockStartEvent(index int, toolUseID, name string) []byte {
	return SSEEvent(EventContentBlockStart, map[string]any{
		"type":  EventContentBlockStart,
		"index": index,
		"content_block": map[string]any{
			"type":  BlockTypeToolUse,
			"id":    toolUseID,
			"name":  name,
			"input": map[string]any{},
		},
	})
}

func InputJSONDeltaEvent(index int, partialJSON string) []byte {
	return SSEEvent(EventContentBlockDelta, map[string]any{
		"type":  EventContentBlockDelta,
		"index": index,
		"delta": map[string]any{
			"type":         "input_json_delta",
			"partial_json": partialJSON,
		},
	})
}

func BlockStopEvent(index int) []byte {
	return SSEEvent(EventContentBlockStop, map[string]any{
		"type":  EventContentBlockStop,
		"index": index,
	})
}

// MessageDeltaEvent carries the final stop reason and, when the provider
// reported it, output usage.
func MessageDeltaEvent(stopReason string, usage map[string]any) []byte {
	event := map[string]any{
		"type": EventMessageDelta,
		"delta": map[string]any{
			"stop_reason":   stopReason,
			"stop_sequence": nil,
		},
	}

	if len(usage) > 0 {
		event["usage"] = usage
	}

	return SSEEvent(EventMessageDelta, event)
}

func MessageStopEvent() []byte {
	return SSEEvent(EventMessageStop, map[string]any{
		"type": EventMessageStop,
	})
}
