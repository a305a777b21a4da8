package providers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"claude-relay/internal/claude"
)

// OpenAIProvider translates between the canonical protocol and the OpenAI
// Chat Completions wire protocol.
type OpenAIProvider struct {
	name string
}

func NewOpenAIProvider() *OpenAIProvider {
	return &OpenAIProvider{name: "openai"}
}

func (p *OpenAIProvider) Name() string {
	return p.name
}

func (p *OpenAIProvider) SupportsStreaming() bool {
	return true
}

func (p *OpenAIProvider) IsStreaming(header http.Header) bool {
	return streamingHeaders(header)
}

// openaiSchemaDropKeys are JSON-schema keywords the Chat Completions API
// rejects in tool parameter schemas.
var openaiSchemaDropKeys = []string{"$schema"}

// Chat Completions request shapes.

type openaiRequest struct {
	Model       string           `json:"model"`
	Messages    []openaiMessage  `json:"messages"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
	TopP        *float64         `json:"top_p,omitempty"`
	Stop        []string         `json:"stop,omitempty"`
	Stream      bool             `json:"stream,omitempty"`
	Tools       []openaiTool     `json:"tools,omitempty"`
	ToolChoice  json.RawMessage  `json:"tool_choice,omitempty"`
}

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content,omitempty"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openaiToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openaiFunctionCall `json:"function"`
}

type openaiFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openaiTool struct {
	Type     string            `json:"type"`
	Function openaiFunctionDef `json:"function"`
}

type openaiFunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Chat Completions response shapes.

type openaiResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openaiChoice `json:"choices"`
	Usage   *openaiUsage   `json:"usage,omitempty"`
	Error   *openaiError   `json:"error,omitempty"`
}

type openaiChoice struct {
	Message      *openaiRespMessage `json:"message,omitempty"`
	FinishReason *string            `json:"finish_reason,omitempty"`
}

type openaiRespMessage struct {
	Role      string           `json:"role,omitempty"`
	Content   *string          `json:"content,omitempty"`
	ToolCalls []openaiToolCall `json:"tool_calls,omitempty"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type openaiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type openaiStreamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content   *string               `json:"content"`
			ToolCalls []openaiToolCallDelta `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *openaiUsage `json:"usage,omitempty"`
}

type openaiToolCallDelta struct {
	ID       string `json:"id,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function"`
}

// BuildRequest maps a canonical request into a Chat Completions call.
func (p *OpenAIProvider) BuildRequest(req *claude.Request, baseURL, credential string) (*OutboundRequest, error) {
	payload := openaiRequest{
		Model:       req.Model,
		Messages:    p.mapMessages(req),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.StopSequences,
		Stream:      req.Stream,
	}

	for _, tool := range req.Tools {
		payload.Tools = append(payload.Tools, openaiTool{
			Type: "function",
			Function: openaiFunctionDef{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  claude.CleanSchema(tool.InputSchema, openaiSchemaDropKeys),
			},
		})
	}

	// tool_choice is only meaningful alongside tools.
	if len(payload.Tools) > 0 {
		payload.ToolChoice = req.ToolChoice
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal openai request: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", contentTypeJSON)
	header.Set("Authorization", "Bearer "+credential)

	return &OutboundRequest{
		Method: http.MethodPost,
		URL:    baseURL,
		Header: header,
		Body:   body,
		Stream: req.Stream,
	}, nil
}

// mapMessages reconciles the conversation and expands canonical messages
// into Chat Completions messages. One canonical assistant message with text
// and tool_use blocks collapses into one provider message carrying a joined
// content string plus a tool_calls list; each successful tool_result fans
// out into its own role-"tool" message.
func (p *OpenAIProvider) mapMessages(req *claude.Request) []openaiMessage {
	_, succeeded := claude.ResultSets(req.Messages)
	reconciled := claude.Reconcile(req.Messages)

	var out []openaiMessage

	if system := systemText(req.System); system != "" {
		out = append(out, openaiMessage{Role: "system", Content: system})
	}

	for _, msg := range reconciled {
		if msg.Content.IsText {
			out = append(out, openaiMessage{Role: msg.Role, Content: msg.Content.Text})
			continue
		}

		var (
			textParts []string
			toolCalls []openaiToolCall
			toolMsgs  []openaiMessage
		)

		for _, block := range msg.Content.Blocks {
			switch block.Type {
			case claude.BlockTypeText:
				if block.Text != "" {
					textParts = append(textParts, block.Text)
				}
			case claude.BlockTypeToolUse:
				if !succeeded[block.ID] {
					// The call's only result was an error or interruption;
					// recode it as commentary so the provider never sees an
					// orphaned function call.
					textParts = append(textParts, fmt.Sprintf("User interrupted: %s operation was cancelled by user", block.Name))
					continue
				}

				arguments := "{}"
				if len(block.Input) > 0 {
					arguments = string(block.Input)
				}

				toolCalls = append(toolCalls, openaiToolCall{
					ID:   toProviderToolID(block.ID),
					Type: "function",
					Function: openaiFunctionCall{
						Name:      block.Name,
						Arguments: arguments,
					},
				})
			case claude.BlockTypeToolResult:
				if !block.IsError {
					toolMsgs = append(toolMsgs, openaiMessage{
						Role:       "tool",
						ToolCallID: toProviderToolID(block.ToolUseID),
						Content:    block.ResultText(),
					})

					continue
				}

				if strings.Contains(block.ResultText(), claude.InterruptedMarker) {
					textParts = append(textParts, claude.InterruptedNotice)
				} else {
					textParts = append(textParts, "Tool execution error: "+block.ResultText())
				}
			}
		}

		if len(textParts) > 0 || len(toolCalls) > 0 {
			out = append(out, openaiMessage{
				Role:      msg.Role,
				Content:   strings.Join(textParts, "\n"),
				ToolCalls: toolCalls,
			})
		}

		out = append(out, toolMsgs...)
	}

	return out
}

// TranslateResponse maps a buffered Chat Completions body into the
// canonical response shape.
func (p *OpenAIProvider) TranslateResponse(body []byte) ([]byte, error) {
	var resp openaiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode openai response: %w", err)
	}

	if resp.Error != nil {
		out := claude.ErrorResponse(p.mapErrorType(resp.Error.Type), resp.Error.Message)
		out.ID = resp.ID
		out.Model = resp.Model

		return json.Marshal(out)
	}

	if len(resp.Choices) == 0 {
		return nil, errors.New("no choices in openai response")
	}

	message := resp.Choices[0].Message
	if message == nil {
		return nil, errors.New("no message in openai choice")
	}

	var content []claude.ContentBlock

	if message.Content != nil && *message.Content != "" {
		content = append(content, claude.TextBlock(*message.Content))
	}

	for _, tc := range message.ToolCalls {
		content = append(content, claude.ToolUseBlock(
			toClaudeToolID(tc.ID),
			tc.Function.Name,
			DecodeToolArguments(tc.Function.Arguments),
		))
	}

	if len(content) == 0 {
		content = append(content, claude.TextBlock(""))
	}

	finish := ""
	if resp.Choices[0].FinishReason != nil {
		finish = *resp.Choices[0].FinishReason
	}

	stopReason := p.stopReason(finish, len(message.ToolCalls) > 0)

	out := claude.Response{
		ID:         resp.ID,
		Type:       "message",
		Role:       claude.RoleAssistant,
		Model:      resp.Model,
		Content:    content,
		StopReason: &stopReason,
	}

	if resp.Usage != nil {
		out.Usage = &claude.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}

	return json.Marshal(out)
}

// TranslateStream maps one Chat Completions SSE frame into canonical SSE
// frames, threading the cursor through. Text deltas and complete tool-call
// fragments each consume one index from their counter; a tool-call fragment
// whose arguments are not independently parseable is skipped, since
// cross-frame argument assembly is outside this translator's contract.
func (p *OpenAIProvider) TranslateStream(frame []byte, cur StreamCursor) ([]byte, StreamCursor, error) {
	var chunk openaiStreamChunk
	if err := json.Unmarshal(frame, &chunk); err != nil {
		return nil, cur, fmt.Errorf("decode openai stream frame: %w", err)
	}

	if cur.MessageID == "" && chunk.ID != "" {
		cur.MessageID = chunk.ID
	}

	if cur.Model == "" && chunk.Model != "" {
		cur.Model = chunk.Model
	}

	if len(chunk.Choices) == 0 {
		return nil, cur, nil
	}

	var events []byte

	if !cur.MessageStartSent {
		events = append(events, claude.MessageStartEvent(cur.MessageID, cur.Model, p.startUsage(chunk.Usage))...)
		cur.MessageStartSent = true
	}

	choice := chunk.Choices[0]

	if len(choice.Delta.ToolCalls) > 0 {
		for _, tc := range choice.Delta.ToolCalls {
			if tc.Function.Name == "" || !completeJSONValue(tc.Function.Arguments) {
				continue
			}

			toolUseID := "toolu_" + uuid.NewString()
			if tc.ID != "" {
				toolUseID = toClaudeToolID(tc.ID)
			}

			arguments := tc.Function.Arguments
			if arguments == "" {
				arguments = "{}"
			}

			events = append(events, claude.ToolBlockStartEvent(cur.ToolBlockIndex, toolUseID, tc.Function.Name)...)
			events = append(events, claude.InputJSONDeltaEvent(cur.ToolBlockIndex, arguments)...)
			events = append(events, claude.BlockStopEvent(cur.ToolBlockIndex)...)
			cur.ToolBlockIndex++
		}
	} else if choice.Delta.Content != nil && *choice.Delta.Content != "" {
		events = append(events, claude.TextDeltaEvent(cur.TextBlockIndex, *choice.Delta.Content)...)
		cur.TextBlockIndex++
	}

	if choice.FinishReason != nil && *choice.FinishReason != "" {
		stopReason := p.stopReason(*choice.FinishReason, cur.ToolBlockIndex > 0)

		var usage map[string]any
		if chunk.Usage != nil {
			usage = map[string]any{
				"input_tokens":  chunk.Usage.PromptTokens,
				"output_tokens": chunk.Usage.CompletionTokens,
			}
		}

		events = append(events, claude.MessageDeltaEvent(stopReason, usage)...)
		events = append(events, claude.MessageStopEvent()...)
	}

	return events, cur, nil
}

func (p *OpenAIProvider) startUsage(usage *openaiUsage) map[string]any {
	if usage == nil {
		return nil
	}

	return map[string]any{
		"input_tokens":  usage.PromptTokens,
		"output_tokens": 1,
	}
}

// stopReason maps a finish indicator to the canonical stop reason. Tool
// calls win over everything, truncation over normal completion.
func (p *OpenAIProvider) stopReason(finishReason string, hasToolCalls bool) string {
	switch {
	case hasToolCalls || finishReason == "tool_calls" || finishReason == "function_call":
		return claude.StopReasonToolUse
	case finishReason == "length":
		return claude.StopReasonMaxTokens
	default:
		return claude.StopReasonEndTurn
	}
}

func (p *OpenAIProvider) mapErrorType(openaiType string) string {
	mapping := map[string]string{
		"invalid_request_error":    "invalid_request_error",
		"authentication_error":     "authentication_error",
		"permission_error":         "permission_error",
		"not_found_error":          "not_found_error",
		"rate_limit_error":         "rate_limit_error",
		"api_error":                "api_error",
		"overloaded_error":         "overloaded_error",
		"insufficient_quota_error": "billing_error",
	}

	if claudeType, exists := mapping[openaiType]; exists {
		return claudeType
	}

	return "api_error"
}
