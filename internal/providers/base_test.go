package providers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeToolArguments(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "empty string",
			raw:  "",
			want: `{}`,
		},
		{
			name: "valid json passes through",
			raw:  `{"location": "Paris"}`,
			want: `{"location": "Paris"}`,
		},
		{
			name: "single quotes repaired",
			raw:  `{'location': 'Paris'}`,
			want: `{"location": "Paris"}`,
		},
		{
			name: "unparseable becomes empty object",
			raw:  `location=Paris`,
			want: `{}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.JSONEq(t, tt.want, string(DecodeToolArguments(tt.raw)))
		})
	}
}

func TestCompleteJSONValue(t *testing.T) {
	assert.True(t, completeJSONValue(""))
	assert.True(t, completeJSONValue(`{}`))
	assert.True(t, completeJSONValue(`{"a":1}`))
	assert.False(t, completeJSONValue(`{"a":`))
	assert.False(t, completeJSONValue(`{"loc`))
}

func TestToolIDMapping(t *testing.T) {
	assert.Equal(t, "toolu_abc", toClaudeToolID("call_abc"))
	assert.Equal(t, "toolu_abc", toClaudeToolID("toolu_abc"))
	assert.Equal(t, "toolu_xyz", toClaudeToolID("xyz"))

	assert.Equal(t, "call_abc", toProviderToolID("toolu_abc"))
	assert.Equal(t, "call_abc", toProviderToolID(toClaudeToolID("call_abc")))
	assert.Equal(t, "other_id", toProviderToolID("other_id"))
}

func TestSystemText(t *testing.T) {
	assert.Equal(t, "", systemText(nil))
	assert.Equal(t, "be brief", systemText("be brief"))

	blocks := []any{
		map[string]any{"type": "text", "text": "first"},
		map[string]any{"type": "text", "text": "second"},
	}
	assert.Equal(t, "first\nsecond", systemText(blocks))

	assert.Equal(t, "", systemText(42))
}

func TestStreamingHeaders(t *testing.T) {
	tests := []struct {
		name   string
		header http.Header
		want   bool
	}{
		{
			name:   "event stream",
			header: http.Header{"Content-Type": {"text/event-stream"}},
			want:   true,
		},
		{
			name:   "chunked",
			header: http.Header{"Transfer-Encoding": {"chunked"}},
			want:   true,
		},
		{
			name:   "plain json",
			header: http.Header{"Content-Type": {"application/json"}},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, streamingHeaders(tt.header))
		})
	}
}
