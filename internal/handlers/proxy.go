package handlers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"claude-relay/internal/claude"
	"claude-relay/internal/config"
	"claude-relay/internal/metrics"
	"claude-relay/internal/providers"
	"claude-relay/internal/transport"
)

// longContextThreshold is the input token count above which the router
// prefers the configured long-context model.
const longContextThreshold = 60000

// maxFrameSize bounds one SSE frame read from the upstream.
const maxFrameSize = 1 << 20

type ProxyHandler struct {
	config   *config.Manager
	registry *providers.Registry
	shim     *transport.Shim
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewProxyHandler(cfg *config.Manager, registry *providers.Registry, shim *transport.Shim, m *metrics.Metrics, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		config:   cfg,
		registry: registry,
		shim:     shim,
		metrics:  m,
		logger:   logger,
	}
}

func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cfg := h.config.Get()
	start := time.Now()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.errorResponse(w, http.StatusBadRequest, "invalid_request_error", "failed to read request body")
		return
	}

	inputTokens := h.countInputTokens(string(body))

	body, selection := h.selectModel(body, inputTokens, &cfg.Router)

	canReq, err := claude.ParseRequest(body)
	if err != nil {
		h.logger.Warn("Rejecting malformed request", "error", err)
		h.errorResponse(w, http.StatusBadRequest, "invalid_request_error", err.Error())

		return
	}

	provider, providerCfg, err := h.findProvider(selection, cfg)
	if err != nil {
		h.errorResponse(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}

	outbound, err := provider.BuildRequest(canReq, providerCfg.APIBase, providerCfg.ResolveAPIKey())
	if err != nil {
		h.errorResponse(w, http.StatusInternalServerError, "api_error", "failed to build upstream request")
		return
	}

	h.logger.Info("Relaying request",
		"provider", provider.Name(),
		"model", canReq.Model,
		"stream", canReq.Stream,
		"input_tokens", inputTokens,
	)

	resp, err := h.shim.Do(r.Context(), outbound)
	if err != nil {
		h.logger.Error("Upstream request failed", "provider", provider.Name(), "error", err)
		h.errorResponse(w, http.StatusBadGateway, "api_error", "upstream request failed")

		return
	}
	defer resp.Body.Close()

	defer func() {
		h.metrics.ObserveRequest(provider.Name(), resp.StatusCode, time.Since(start))
	}()

	// Non-2xx upstream responses pass through untranslated so the caller
	// sees the backend's own status and error body.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		h.relayError(w, resp, provider.Name())
		return
	}

	if provider.IsStreaming(resp.Header) {
		h.handleStreamingResponse(w, resp, provider)
	} else {
		h.handleResponse(w, resp, provider)
	}
}

func (h *ProxyHandler) handleStreamingResponse(w http.ResponseWriter, resp *http.Response, provider providers.Provider) {
	bodyReader, err := transport.BodyReader(resp)
	if err != nil {
		h.errorResponse(w, http.StatusBadGateway, "api_error", "failed to read upstream stream")
		return
	}

	if closer, ok := bodyReader.(io.Closer); ok {
		defer closer.Close()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	scanner := bufio.NewScanner(bodyReader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)

	var cursor providers.StreamCursor

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		frame := strings.TrimPrefix(line, "data: ")
		if frame == "[DONE]" {
			break
		}

		events, next, err := provider.TranslateStream([]byte(frame), cursor)
		if err != nil {
			h.logger.Error("Stream translation error", "provider", provider.Name(), "error", err)
			continue
		}

		cursor = next

		h.metrics.ObserveStreamFrame(provider.Name())

		if len(events) > 0 {
			if _, err := w.Write(events); err != nil {
				return
			}

			h.flushResponse(w)
		}
	}

	if err := scanner.Err(); err != nil {
		h.logger.Error("Stream read error", "provider", provider.Name(), "error", err)
	}
}

func (h *ProxyHandler) handleResponse(w http.ResponseWriter, resp *http.Response, provider providers.Provider) {
	bodyReader, err := transport.BodyReader(resp)
	if err != nil {
		h.errorResponse(w, http.StatusBadGateway, "api_error", "failed to read upstream response")
		return
	}

	if closer, ok := bodyReader.(io.Closer); ok {
		defer closer.Close()
	}

	respBody, err := io.ReadAll(bodyReader)
	if err != nil {
		h.errorResponse(w, http.StatusBadGateway, "api_error", "failed to read upstream response")
		return
	}

	translated, err := provider.TranslateResponse(respBody)
	if err != nil {
		h.logger.Warn("Response translation failed, relaying original", "provider", provider.Name(), "error", err)
		translated = respBody
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	w.Write(translated)

	h.logResponseTokens(translated, resp.StatusCode)
}

// relayError forwards an upstream failure with its original status and
// body, decompressed but otherwise untouched.
func (h *ProxyHandler) relayError(w http.ResponseWriter, resp *http.Response, providerName string) {
	bodyReader, err := transport.BodyReader(resp)
	if err != nil {
		h.errorResponse(w, http.StatusBadGateway, "api_error", "failed to read upstream response")
		return
	}

	if closer, ok := bodyReader.(io.Closer); ok {
		defer closer.Close()
	}

	body, _ := io.ReadAll(bodyReader)

	h.logger.Error("Upstream error response",
		"provider", providerName,
		"status", resp.StatusCode,
		"body", string(body),
	)

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}

	w.WriteHeader(resp.StatusCode)
	w.Write(body)
}

// findProvider resolves the "provider,model" selection to a configured
// backend and its mapper pair.
func (h *ProxyHandler) findProvider(selection string, cfg *config.Config) (providers.Provider, *config.Provider, error) {
	var providerName string
	if parts := strings.SplitN(selection, ",", 2); len(parts) > 1 {
		providerName = parts[0]
	}

	providerCfg, found := cfg.FindProvider(providerName)
	if !found {
		return nil, nil, fmt.Errorf("provider %q not found in configuration", providerName)
	}

	provider, exists := h.registry.Get(providerName)
	if !exists {
		var err error

		provider, err = h.registry.GetByDomain(providerCfg.APIBase)
		if err != nil {
			return nil, nil, err
		}
	}

	return provider, providerCfg, nil
}

// selectModel routes the request to a configured model, rewriting the
// body's model field in place. The returned selection keeps the
// "provider,model" form for provider lookup.
func (h *ProxyHandler) selectModel(body []byte, tokens int, routerCfg *config.RouterConfig) ([]byte, string) {
	requested := gjson.GetBytes(body, "model").String()

	var selection string

	switch {
	case tokens > longContextThreshold && routerCfg.LongContext != "":
		selection = routerCfg.LongContext
	case strings.HasPrefix(requested, "claude-3-5-haiku") && routerCfg.Background != "":
		selection = routerCfg.Background
	default:
		selection = routerCfg.Default
	}

	if selection == "" {
		selection = requested
	}

	model := selection
	if parts := strings.SplitN(selection, ",", 2); len(parts) > 1 {
		model = parts[1]
	}

	updated, err := sjson.SetBytes(body, "model", model)
	if err != nil {
		h.logger.Error("Failed to rewrite model field", "error", err)
		return body, selection
	}

	return updated, selection
}

func (h *ProxyHandler) countInputTokens(text string) int {
	tke, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		h.logger.Error("Failed to get tiktoken encoding", "error", err)
		return 0
	}

	return len(tke.Encode(text, nil, nil))
}

func (h *ProxyHandler) logResponseTokens(respBody []byte, statusCode int) {
	logFields := []any{"status", statusCode}

	if usage := gjson.GetBytes(respBody, "usage"); usage.Exists() {
		logFields = append(logFields,
			"input_tokens", usage.Get("input_tokens").Int(),
			"output_tokens", usage.Get("output_tokens").Int(),
		)
	}

	h.logger.Info("Completed response", logFields...)
}

func (h *ProxyHandler) flushResponse(w http.ResponseWriter) {
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

// errorResponse writes a canonical error body. Messages stay short and
// never carry upstream credentials or internals.
func (h *ProxyHandler) errorResponse(w http.ResponseWriter, status int, errType, message string) {
	h.logger.Error("Request failed", "status", status, "type", errType, "message", message)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	body, err := json.Marshal(claude.ErrorResponse(errType, message))
	if err != nil {
		return
	}

	w.Write(body)
}
