package providers

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"claude-relay/internal/claude"
)

// Provider is one backend's mapper pair: it builds the outbound provider
// request from a canonical request, and translates the provider's response
// (buffered or one stream frame at a time) back into canonical shape.
// Backends are added by implementing this interface and registering it,
// never by branching on a provider name inside shared logic.
type Provider interface {
	Name() string
	SupportsStreaming() bool

	// BuildRequest maps a canonical request into a ready-to-send outbound
	// request for this backend. baseURL and credential come from config;
	// the provider decides URL shape and credential placement.
	BuildRequest(req *claude.Request, baseURL, credential string) (*OutboundRequest, error)

	// TranslateResponse maps a buffered 2xx provider response body into a
	// canonical response body.
	TranslateResponse(body []byte) ([]byte, error)

	// TranslateStream maps one provider stream frame (the JSON payload of
	// one SSE data line) into zero or more canonical SSE frames. The cursor
	// is threaded value-in/value-out; callers start from the zero value and
	// pass each returned cursor into the next call.
	TranslateStream(frame []byte, cur StreamCursor) ([]byte, StreamCursor, error)

	// IsStreaming reports whether the provider response headers declare an
	// incremental body.
	IsStreaming(header http.Header) bool
}

// OutboundRequest is the transport-agnostic description of one provider
// call. The transport shim turns it into an *http.Request; nothing below
// this struct knows provider protocol details.
type OutboundRequest struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
	Stream bool
}

// StreamCursor is the per-response state threaded through streaming
// translation. Both indices are monotonically non-decreasing for the life
// of one response and are never shared across requests.
type StreamCursor struct {
	TextBlockIndex int
	ToolBlockIndex int

	MessageStartSent bool
	MessageID        string
	Model            string
}

// Registry holds the mapper pair for each configured backend.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

func (r *Registry) Register(provider Provider) {
	r.providers[provider.Name()] = provider
}

func (r *Registry) Get(name string) (Provider, bool) {
	provider, exists := r.providers[name]
	return provider, exists
}

// GetByDomain resolves a provider from the hostname of a configured
// upstream base URL, for configs that name only the endpoint.
func (r *Registry) GetByDomain(apiBase string) (Provider, error) {
	u, err := url.Parse(apiBase)
	if err != nil {
		return nil, fmt.Errorf("invalid API base URL: %w", err)
	}

	domain := strings.ToLower(u.Hostname())

	domainProviderMap := map[string]string{
		"api.openai.com":                    "openai",
		"openai.com":                        "openai",
		"generativelanguage.googleapis.com": "gemini",
		"googleapis.com":                    "gemini",
	}

	if providerName, exists := domainProviderMap[domain]; exists {
		if provider, found := r.Get(providerName); found {
			return provider, nil
		}
	}

	return nil, fmt.Errorf("no provider found for domain: %s", domain)
}

func (r *Registry) List() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}

	return names
}

// Initialize registers all built-in providers.
func (r *Registry) Initialize() {
	r.Register(NewOpenAIProvider())
	r.Register(NewGeminiProvider())
}
