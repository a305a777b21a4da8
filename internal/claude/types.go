package claude

import (
	"encoding/json"
	"fmt"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	BlockTypeText       = "text"
	BlockTypeToolUse    = "tool_use"
	BlockTypeToolResult = "tool_result"

	StopReasonEndTurn   = "end_turn"
	StopReasonMaxTokens = "max_tokens"
	StopReasonToolUse   = "tool_use"
)

// InterruptedMarker is the substring an erroring tool_result carries when the
// user cancelled the call instead of the tool failing on its own.
const InterruptedMarker = "Interrupted by user"

// InterruptedNotice replaces an interrupted tool_result in the outbound text
// so the model still learns the call never finished.
const InterruptedNotice = "The previous action was interrupted by the user."

// Request is the canonical Messages-API request body accepted from clients.
type Request struct {
	Model         string          `json:"model"`
	MaxTokens     int             `json:"max_tokens,omitempty"`
	Messages      []Message       `json:"messages"`
	System        any             `json:"system,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	Tools         []ToolSpec      `json:"tools,omitempty"`
	ToolChoice    json.RawMessage `json:"tool_choice,omitempty"`
}

// Message is one conversation turn. Content is either a plain string or an
// ordered block sequence on the wire; Content keeps both shapes apart.
type Message struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// Content models the string-or-array polymorphism of canonical message
// content. Exactly one of Text (with IsText set) or Blocks is populated.
type Content struct {
	IsText bool
	Text   string
	Blocks []ContentBlock
}

func TextContent(s string) Content {
	return Content{IsText: true, Text: s}
}

func BlockContent(blocks ...ContentBlock) Content {
	return Content{Blocks: blocks}
}

func (c *Content) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		c.IsText = true
		c.Blocks = nil

		return json.Unmarshal(data, &c.Text)
	}

	c.IsText = false
	c.Text = ""

	if err := json.Unmarshal(data, &c.Blocks); err != nil {
		return fmt.Errorf("content must be a string or a block array: %w", err)
	}

	return nil
}

func (c Content) MarshalJSON() ([]byte, error) {
	if c.IsText {
		return json.Marshal(c.Text)
	}

	return json.Marshal(c.Blocks)
}

// ContentBlock is one typed unit of message content. Type selects which of
// the remaining fields are meaningful.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   any    `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockTypeText, Text: text}
}

func ToolUseBlock(id, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{Type: BlockTypeToolUse, ID: id, Name: name, Input: input}
}

func ToolResultBlock(toolUseID string, content any, isError bool) ContentBlock {
	return ContentBlock{Type: BlockTypeToolResult, ToolUseID: toolUseID, Content: content, IsError: isError}
}

// ResultText flattens a tool_result's content to a string for providers that
// carry results as plain text. Non-string content is re-encoded as JSON.
func (b ContentBlock) ResultText() string {
	switch v := b.Content.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}

		return string(encoded)
	}
}

// ToolSpec declares one callable tool with its JSON-schema input contract.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// Response is the canonical non-streaming response body.
type Response struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role,omitempty"`
	Model        string         `json:"model,omitempty"`
	Content      []ContentBlock `json:"content,omitempty"`
	StopReason   *string        `json:"stop_reason,omitempty"`
	StopSequence *string        `json:"stop_sequence,omitempty"`
	Usage        *Usage         `json:"usage,omitempty"`
	Error        *Error         `json:"error,omitempty"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ErrorResponse builds the canonical error body surfaced to clients. The
// message stays short and never carries internals.
func ErrorResponse(errType, message string) Response {
	return Response{
		Type:  "error",
		Error: &Error{Type: errType, Message: message},
	}
}

// ParseRequest decodes and validates an inbound canonical request.
func ParseRequest(body []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}

	if req.Model == "" {
		return nil, fmt.Errorf("missing required field: model")
	}

	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("missing required field: messages")
	}

	for i, msg := range req.Messages {
		if msg.Role != RoleUser && msg.Role != RoleAssistant {
			return nil, fmt.Errorf("messages[%d]: unsupported role %q", i, msg.Role)
		}
	}

	return &req, nil
}
