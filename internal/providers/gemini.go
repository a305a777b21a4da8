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

// GeminiProvider translates between the canonical protocol and the Gemini
// generateContent wire protocol.
type GeminiProvider struct {
	name string
}

func NewGeminiProvider() *GeminiProvider {
	return &GeminiProvider{name: "gemini"}
}

func (p *GeminiProvider) Name() string {
	return p.name
}

func (p *GeminiProvider) SupportsStreaming() bool {
	return true
}

func (p *GeminiProvider) IsStreaming(header http.Header) bool {
	return streamingHeaders(header)
}

// geminiSchemaDropKeys are JSON-schema keywords the generateContent API
// rejects in function declaration parameters.
var geminiSchemaDropKeys = []string{"$schema", "additionalProperties", "examples", "default"}

// generateContent request shapes.

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
	Tools            []geminiTool            `json:"tools,omitempty"`
	SafetySettings   []geminiSafetySetting   `json:"safetySettings,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type geminiFunctionResponse struct {
	Name     string `json:"name"`
	Response any    `json:"response"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDecl `json:"functionDeclarations"`
}

type geminiFunctionDecl struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type geminiSafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

// generateContent response shapes.

type geminiResponse struct {
	Candidates    []geminiCandidate    `json:"candidates,omitempty"`
	UsageMetadata *geminiUsageMetadata `json:"usageMetadata,omitempty"`
	ModelVersion  string               `json:"modelVersion,omitempty"`
	ResponseID    string               `json:"responseId,omitempty"`
	Error         *geminiError         `json:"error,omitempty"`
}

type geminiCandidate struct {
	Content      *geminiContent `json:"content,omitempty"`
	FinishReason string         `json:"finishReason,omitempty"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount,omitempty"`
	CandidatesTokenCount int `json:"candidatesTokenCount,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// BuildRequest maps a canonical request into a generateContent call. Gemini
// addresses the model in the URL path and takes the credential as a header,
// with a dedicated streaming endpoint.
func (p *GeminiProvider) BuildRequest(req *claude.Request, baseURL, credential string) (*OutboundRequest, error) {
	payload := geminiRequest{
		Contents: p.mapContents(req),
	}

	if req.MaxTokens > 0 || req.Temperature != nil || req.TopP != nil || len(req.StopSequences) > 0 {
		payload.GenerationConfig = &geminiGenerationConfig{
			MaxOutputTokens: req.MaxTokens,
			Temperature:     req.Temperature,
			TopP:            req.TopP,
			StopSequences:   req.StopSequences,
		}
	}

	if len(req.Tools) > 0 {
		declarations := make([]geminiFunctionDecl, 0, len(req.Tools))

		for _, tool := range req.Tools {
			declarations = append(declarations, geminiFunctionDecl{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  claude.CleanSchema(tool.InputSchema, geminiSchemaDropKeys),
			})
		}

		payload.Tools = []geminiTool{{FunctionDeclarations: declarations}}
	}

	payload.SafetySettings = defaultSafetySettings()

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal gemini request: %w", err)
	}

	verb := ":generateContent"
	if req.Stream {
		verb = ":streamGenerateContent?alt=sse"
	}

	header := http.Header{}
	header.Set("Content-Type", contentTypeJSON)
	header.Set("x-goog-api-key", credential)

	return &OutboundRequest{
		Method: http.MethodPost,
		URL:    strings.TrimSuffix(baseURL, "/") + "/" + req.Model + verb,
		Header: header,
		Body:   body,
		Stream: req.Stream,
	}, nil
}

// mapContents reconciles the conversation and expands canonical messages
// into Gemini content turns. Successful tool results become
// functionResponse parts named after the originating call; erroring or
// interrupted calls are recoded as text so no orphaned functionCall
// reaches the backend.
func (p *GeminiProvider) mapContents(req *claude.Request) []geminiContent {
	_, succeeded := claude.ResultSets(req.Messages)
	reconciled := claude.Reconcile(req.Messages)
	callNames := toolUseNames(req.Messages)

	var contents []geminiContent

	if system := systemText(req.System); system != "" {
		contents = append(contents, geminiContent{
			Role:  "user",
			Parts: []geminiPart{{Text: system}},
		})
	}

	for _, msg := range reconciled {
		role := "user"
		if msg.Role == claude.RoleAssistant {
			role = "model"
		}

		if msg.Content.IsText {
			contents = append(contents, geminiContent{
				Role:  role,
				Parts: []geminiPart{{Text: msg.Content.Text}},
			})

			continue
		}

		var parts []geminiPart

		for _, block := range msg.Content.Blocks {
			switch block.Type {
			case claude.BlockTypeText:
				if block.Text != "" {
					parts = append(parts, geminiPart{Text: block.Text})
				}
			case claude.BlockTypeToolUse:
				if !succeeded[block.ID] {
					parts = append(parts, geminiPart{
						Text: fmt.Sprintf("User interrupted: %s operation was cancelled by user", block.Name),
					})

					continue
				}

				parts = append(parts, geminiPart{
					FunctionCall: &geminiFunctionCall{
						Name: block.Name,
						Args: block.Input,
					},
				})
			case claude.BlockTypeToolResult:
				if block.IsError {
					if strings.Contains(block.ResultText(), claude.InterruptedMarker) {
						parts = append(parts, geminiPart{Text: claude.InterruptedNotice})
					} else {
						parts = append(parts, geminiPart{Text: "Tool execution error: " + block.ResultText()})
					}

					continue
				}

				name := callNames[block.ToolUseID]
				if name == "" {
					name = block.ToolUseID
				}

				// functionResponse bodies must be structured; bare strings
				// get wrapped.
				var response any
				switch v := block.Content.(type) {
				case nil:
					response = map[string]any{}
				case string:
					response = map[string]any{"content": v}
				default:
					response = v
				}

				parts = append(parts, geminiPart{
					FunctionResponse: &geminiFunctionResponse{
						Name:     name,
						Response: response,
					},
				})
			}
		}

		if len(parts) > 0 {
			contents = append(contents, geminiContent{Role: role, Parts: parts})
		}
	}

	return contents
}

// toolUseNames indexes tool_use ids to their function names so results can
// be answered under the name Gemini expects.
func toolUseNames(messages []claude.Message) map[string]string {
	names := make(map[string]string)

	for _, msg := range messages {
		for _, block := range msg.Content.Blocks {
			if block.Type == claude.BlockTypeToolUse && block.ID != "" {
				names[block.ID] = block.Name
			}
		}
	}

	return names
}

func defaultSafetySettings() []geminiSafetySetting {
	categories := []string{
		"HARM_CATEGORY_HARASSMENT",
		"HARM_CATEGORY_HATE_SPEECH",
		"HARM_CATEGORY_SEXUALLY_EXPLICIT",
		"HARM_CATEGORY_DANGEROUS_CONTENT",
	}

	settings := make([]geminiSafetySetting, 0, len(categories))
	for _, category := range categories {
		settings = append(settings, geminiSafetySetting{
			Category:  category,
			Threshold: "BLOCK_NONE",
		})
	}

	return settings
}

// TranslateResponse maps a buffered generateContent body into the canonical
// response shape.
func (p *GeminiProvider) TranslateResponse(body []byte) ([]byte, error) {
	var resp geminiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode gemini response: %w", err)
	}

	if resp.Error != nil {
		out := claude.ErrorResponse(p.mapErrorType(resp.Error.Status), resp.Error.Message)
		out.ID = resp.ResponseID
		out.Model = resp.ModelVersion

		return json.Marshal(out)
	}

	if len(resp.Candidates) == 0 {
		return nil, errors.New("no candidates in gemini response")
	}

	candidate := resp.Candidates[0]

	var (
		content     []claude.ContentBlock
		hasToolCall bool
	)

	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				content = append(content, claude.TextBlock(part.Text))
			}

			if part.FunctionCall != nil {
				hasToolCall = true

				input := part.FunctionCall.Args
				if len(input) == 0 {
					input = emptyObject
				}

				content = append(content, claude.ToolUseBlock(
					"toolu_"+uuid.NewString(),
					part.FunctionCall.Name,
					input,
				))
			}
		}
	}

	if len(content) == 0 {
		content = append(content, claude.TextBlock(""))
	}

	stopReason := p.stopReason(candidate.FinishReason, hasToolCall)

	out := claude.Response{
		ID:         resp.ResponseID,
		Type:       "message",
		Role:       claude.RoleAssistant,
		Model:      resp.ModelVersion,
		Content:    content,
		StopReason: &stopReason,
	}

	if resp.UsageMetadata != nil {
		out.Usage = &claude.Usage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
		}
	}

	return json.Marshal(out)
}

// TranslateStream maps one streamGenerateContent SSE frame into canonical
// SSE frames. Gemini sends functionCall parts with complete args in a
// single frame, so every tool part consumes one tool index.
func (p *GeminiProvider) TranslateStream(frame []byte, cur StreamCursor) ([]byte, StreamCursor, error) {
	var chunk geminiResponse
	if err := json.Unmarshal(frame, &chunk); err != nil {
		return nil, cur, fmt.Errorf("decode gemini stream frame: %w", err)
	}

	if cur.MessageID == "" && chunk.ResponseID != "" {
		cur.MessageID = chunk.ResponseID
	}

	if cur.Model == "" && chunk.ModelVersion != "" {
		cur.Model = chunk.ModelVersion
	}

	if len(chunk.Candidates) == 0 {
		return nil, cur, nil
	}

	var events []byte

	if !cur.MessageStartSent {
		events = append(events, claude.MessageStartEvent(cur.MessageID, cur.Model, p.startUsage(chunk.UsageMetadata))...)
		cur.MessageStartSent = true
	}

	candidate := chunk.Candidates[0]

	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				events = append(events, claude.TextDeltaEvent(cur.TextBlockIndex, part.Text)...)
				cur.TextBlockIndex++
			}

			if part.FunctionCall != nil {
				arguments := string(part.FunctionCall.Args)
				if arguments == "" {
					arguments = "{}"
				}

				toolUseID := "toolu_" + uuid.NewString()

				events = append(events, claude.ToolBlockStartEvent(cur.ToolBlockIndex, toolUseID, part.FunctionCall.Name)...)
				events = append(events, claude.InputJSONDeltaEvent(cur.ToolBlockIndex, arguments)...)
				events = append(events, claude.BlockStopEvent(cur.ToolBlockIndex)...)
				cur.ToolBlockIndex++
			}
		}
	}

	if candidate.FinishReason != "" {
		stopReason := p.stopReason(candidate.FinishReason, cur.ToolBlockIndex > 0)

		var usage map[string]any
		if chunk.UsageMetadata != nil {
			usage = map[string]any{
				"input_tokens":  chunk.UsageMetadata.PromptTokenCount,
				"output_tokens": chunk.UsageMetadata.CandidatesTokenCount,
			}
		}

		events = append(events, claude.MessageDeltaEvent(stopReason, usage)...)
		events = append(events, claude.MessageStopEvent()...)
	}

	return events, cur, nil
}

func (p *GeminiProvider) startUsage(usage *geminiUsageMetadata) map[string]any {
	if usage == nil {
		return nil
	}

	return map[string]any{
		"input_tokens":  usage.PromptTokenCount,
		"output_tokens": 1,
	}
}

func (p *GeminiProvider) stopReason(finishReason string, hasToolCalls bool) string {
	switch {
	case hasToolCalls:
		return claude.StopReasonToolUse
	case finishReason == "MAX_TOKENS":
		return claude.StopReasonMaxTokens
	default:
		return claude.StopReasonEndTurn
	}
}

func (p *GeminiProvider) mapErrorType(status string) string {
	mapping := map[string]string{
		"INVALID_ARGUMENT":   "invalid_request_error",
		"UNAUTHENTICATED":    "authentication_error",
		"PERMISSION_DENIED":  "permission_error",
		"NOT_FOUND":          "not_found_error",
		"RESOURCE_EXHAUSTED": "rate_limit_error",
		"INTERNAL":           "api_error",
		"UNAVAILABLE":        "overloaded_error",
		"DEADLINE_EXCEEDED":  "rate_limit_error",
	}

	if claudeType, exists := mapping[status]; exists {
		return claudeType
	}

	return "api_error"
}
