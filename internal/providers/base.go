package providers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

const (
	contentTypeJSON         = "application/json"
	contentTypeEventStream  = "text/event-stream"
	transferEncodingChunked = "chunked"
)

// streamingHeaders reports whether response headers declare an incremental
// body, by content type or chunked transfer encoding.
func streamingHeaders(header http.Header) bool {
	for _, ct := range header.Values("Content-Type") {
		if ct == contentTypeEventStream || strings.Contains(ct, "stream") {
			return true
		}
	}

	for _, te := range header.Values("Transfer-Encoding") {
		if te == transferEncodingChunked {
			return true
		}
	}

	return false
}

var emptyObject = json.RawMessage(`{}`)

// DecodeToolArguments parses a tool call's argument payload. Some models
// emit JSON-like strings with single quotes; a repair pass swaps them for
// double quotes before giving up. A payload that still does not parse
// decodes to an empty object — the failure is logged, never surfaced to the
// client.
func DecodeToolArguments(raw string) json.RawMessage {
	if raw == "" {
		return emptyObject
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err == nil {
		return json.RawMessage(raw)
	}

	repaired := strings.ReplaceAll(raw, "'", `"`)
	if err := json.Unmarshal([]byte(repaired), &decoded); err == nil {
		return json.RawMessage(repaired)
	}

	slog.Warn("tool call arguments are not valid JSON, substituting empty object",
		"arguments", truncate(raw, 200),
	)

	return emptyObject
}

// completeJSONValue reports whether a streamed arguments fragment is an
// independently parseable value. Partial fragments fail this check and are
// skipped; assembling them is outside this translator's contract.
func completeJSONValue(raw string) bool {
	if raw == "" {
		return true
	}

	var decoded any

	return json.Unmarshal([]byte(raw), &decoded) == nil
}

// toClaudeToolID maps provider tool call ids into the canonical toolu_
// namespace, preserving ids that already carry it.
func toClaudeToolID(toolCallID string) string {
	if strings.HasPrefix(toolCallID, "toolu_") {
		return toolCallID
	}

	if strings.HasPrefix(toolCallID, "call_") {
		return "toolu_" + strings.TrimPrefix(toolCallID, "call_")
	}

	return "toolu_" + toolCallID
}

// toProviderToolID is the inverse of toClaudeToolID for the request
// direction.
func toProviderToolID(toolUseID string) string {
	if strings.HasPrefix(toolUseID, "toolu_") {
		return "call_" + strings.TrimPrefix(toolUseID, "toolu_")
	}

	return toolUseID
}

// systemText flattens the canonical system prompt, which arrives either as
// a plain string or as a text block array, into one string.
func systemText(system any) string {
	switch v := system.(type) {
	case nil:
		return ""
	case string:
		return v
	case []any:
		var parts []string

		for _, item := range v {
			block, ok := item.(map[string]any)
			if !ok {
				continue
			}

			if text, ok := block["text"].(string); ok && text != "" {
				parts = append(parts, text)
			}
		}

		return strings.Join(parts, "\n")
	default:
		return ""
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n] + "..."
}
