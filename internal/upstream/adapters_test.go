package upstream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartrouter/internal/chat"
)

func captureServer(t *testing.T, status int, body string) (*httptest.Server, *capturedRequest) {
	t.Helper()
	rec := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		rec.path = r.URL.Path
		rec.header = r.Header.Clone()
		rec.body = raw
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

type capturedRequest struct {
	path   string
	header http.Header
	body   []byte
}

func (c *capturedRequest) decode(t *testing.T) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(c.body, &out))
	return out
}

func TestAnthropicAdapterCall(t *testing.T) {
	srv, rec := captureServer(t, http.StatusOK, `{
		"content": [{"type":"text","text":"hello "},{"type":"text","text":"world"}],
		"usage": {"input_tokens": 10, "output_tokens": 5}
	}`)
	a := NewAnthropicAdapter("anthropic", srv.URL, "key-123", srv.Client(), zerolog.Nop())

	res, err := a.Call(context.Background(), "claude-sonnet-4-5", []chat.Message{
		{Role: chat.RoleSystem, Text: "short system"},
		{Role: chat.RoleUser, Text: "question"},
	}, 2048)
	require.NoError(t, err)
	assert.Equal(t, "hello world", res.Content)
	assert.Equal(t, 10, res.PromptTokens)
	assert.Equal(t, 5, res.CompletionTokens)

	assert.Equal(t, "/v1/messages", rec.path)
	assert.Equal(t, "key-123", rec.header.Get("x-api-key"))
	assert.Equal(t, "2023-06-01", rec.header.Get("anthropic-version"))

	payload := rec.decode(t)
	assert.Equal(t, "claude-sonnet-4-5", payload["model"])
	assert.Equal(t, float64(2048), payload["max_tokens"])
}

func TestAnthropicCacheBreakpoints(t *testing.T) {
	srv, rec := captureServer(t, http.StatusOK, `{"content":[{"type":"text","text":"ok"}],"usage":{}}`)
	a := NewAnthropicAdapter("anthropic", srv.URL, "k", srv.Client(), zerolog.Nop())

	bigSystem := strings.Repeat("s", minCacheableChars)
	bigTurn := strings.Repeat("u", minCacheableChars)
	_, err := a.Call(context.Background(), "m", []chat.Message{
		{Role: chat.RoleSystem, Text: bigSystem},
		{Role: chat.RoleUser, Text: bigTurn},
		{Role: chat.RoleAssistant, Text: "short reply"},
		{Role: chat.RoleUser, Text: "followup"},
	}, 100)
	require.NoError(t, err)

	var payload struct {
		System []struct {
			CacheControl map[string]string `json:"cache_control"`
		} `json:"system"`
		Messages []struct {
			Role    string `json:"role"`
			Content []struct {
				Text         string            `json:"text"`
				CacheControl map[string]string `json:"cache_control"`
			} `json:"content"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.body, &payload))

	require.Len(t, payload.System, 1)
	assert.Equal(t, "ephemeral", payload.System[0].CacheControl["type"])

	require.Len(t, payload.Messages, 3)
	// Second-to-last turn is the short assistant reply; too small to cache.
	assert.Empty(t, payload.Messages[1].Content[0].CacheControl)
	assert.Empty(t, payload.Messages[0].Content[0].CacheControl)
	assert.Empty(t, payload.Messages[2].Content[0].CacheControl)
}

func TestAnthropicCacheBreakpointOnBigSecondToLastTurn(t *testing.T) {
	srv, rec := captureServer(t, http.StatusOK, `{"content":[{"type":"text","text":"ok"}],"usage":{}}`)
	a := NewAnthropicAdapter("anthropic", srv.URL, "k", srv.Client(), zerolog.Nop())

	bigReply := strings.Repeat("a", minCacheableChars)
	_, err := a.Call(context.Background(), "m", []chat.Message{
		{Role: chat.RoleUser, Text: "question"},
		{Role: chat.RoleAssistant, Text: bigReply},
		{Role: chat.RoleUser, Text: "followup"},
	}, 100)
	require.NoError(t, err)

	var payload struct {
		Messages []struct {
			Content []struct {
				CacheControl map[string]string `json:"cache_control"`
			} `json:"content"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.body, &payload))
	require.Len(t, payload.Messages, 3)
	assert.Empty(t, payload.Messages[0].Content[0].CacheControl)
	assert.Equal(t, "ephemeral", payload.Messages[1].Content[0].CacheControl["type"])
	assert.Empty(t, payload.Messages[2].Content[0].CacheControl)
}

func TestAnthropicErrorDoesNotLeakBody(t *testing.T) {
	srv, _ := captureServer(t, http.StatusBadGateway, `{"error":"internal key rotation failed for tenant acme"}`)
	a := NewAnthropicAdapter("zai", srv.URL, "k", srv.Client(), zerolog.Nop())

	_, err := a.Call(context.Background(), "m", []chat.Message{{Role: chat.RoleUser, Text: "q"}}, 100)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstream)
	assert.NotContains(t, err.Error(), "acme")
	assert.NotContains(t, err.Error(), "key rotation")
}

func TestOpenAIChatEndpoint(t *testing.T) {
	srv, rec := captureServer(t, http.StatusOK, `{
		"choices": [{"message":{"content":"chat answer"}}],
		"usage": {"prompt_tokens": 7, "completion_tokens": 3}
	}`)
	a := NewOpenAIAdapter(srv.URL, "sk-test", srv.Client(), zerolog.Nop())

	res, err := a.Call(context.Background(), "o4-mini", []chat.Message{
		{Role: chat.RoleSystem, Text: "be brief"},
		{Role: chat.RoleUser, Text: "q"},
	}, 512)
	require.NoError(t, err)
	assert.Equal(t, "chat answer", res.Content)
	assert.Equal(t, 7, res.PromptTokens)
	assert.Equal(t, 3, res.CompletionTokens)

	assert.Equal(t, "/v1/chat/completions", rec.path)
	assert.Equal(t, "Bearer sk-test", rec.header.Get("Authorization"))

	payload := rec.decode(t)
	msgs := payload["messages"].([]any)
	require.Len(t, msgs, 2)
	first := msgs[0].(map[string]any)
	assert.Equal(t, "system", first["role"])
	assert.Equal(t, "be brief", first["content"])
}

func TestOpenAICodexUsesResponsesEndpoint(t *testing.T) {
	srv, rec := captureServer(t, http.StatusOK, `{
		"output": [
			{"type":"reasoning","content":[]},
			{"type":"message","content":[{"type":"output_text","text":"patch below"}]}
		],
		"usage": {"input_tokens": 20, "output_tokens": 9}
	}`)
	a := NewOpenAIAdapter(srv.URL, "sk-test", srv.Client(), zerolog.Nop())

	res, err := a.Call(context.Background(), "gpt-5.1-codex", []chat.Message{
		{Role: chat.RoleSystem, Text: "you write diffs"},
		{Role: chat.RoleUser, Text: "fix it"},
	}, 4096)
	require.NoError(t, err)
	assert.Equal(t, "patch below", res.Content)
	assert.Equal(t, 20, res.PromptTokens)
	assert.Equal(t, 9, res.CompletionTokens)

	assert.Equal(t, "/v1/responses", rec.path)

	var payload struct {
		Input []struct {
			Role    string `json:"role"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"input"`
		MaxOutputTokens int `json:"max_output_tokens"`
	}
	require.NoError(t, json.Unmarshal(rec.body, &payload))
	assert.Equal(t, 4096, payload.MaxOutputTokens)
	require.Len(t, payload.Input, 2)
	assert.Equal(t, "developer", payload.Input[0].Role)
	assert.Equal(t, "input_text", payload.Input[0].Content[0].Type)
	assert.Equal(t, "you write diffs", payload.Input[0].Content[0].Text)
	assert.Equal(t, "user", payload.Input[1].Role)
}

func TestOpenAIEmptyChoices(t *testing.T) {
	srv, _ := captureServer(t, http.StatusOK, `{"choices":[]}`)
	a := NewOpenAIAdapter(srv.URL, "k", srv.Client(), zerolog.Nop())

	_, err := a.Call(context.Background(), "o4-mini", []chat.Message{{Role: chat.RoleUser, Text: "q"}}, 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestLocalAdapterTrimsContext(t *testing.T) {
	srv, rec := captureServer(t, http.StatusOK, `{
		"choices": [{"message":{"content":"local answer"}}],
		"usage": {"prompt_tokens": 1, "completion_tokens": 2}
	}`)
	a := NewLocalAdapter(srv.URL, srv.Client(), zerolog.Nop())

	messages := []chat.Message{{Role: chat.RoleSystem, Text: strings.Repeat("s", localMaxSystemChars+1)}}
	for i := 0; i < 12; i++ {
		role := chat.RoleUser
		if i%2 == 1 {
			role = chat.RoleAssistant
		}
		messages = append(messages, chat.Message{Role: role, Text: "turn"})
	}

	res, err := a.Call(context.Background(), "qwen2.5:7b-instruct", messages, 256)
	require.NoError(t, err)
	assert.Equal(t, "local answer", res.Content)
	assert.Equal(t, "/v1/chat/completions", rec.path)

	var payload struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
		Stream bool `json:"stream"`
	}
	require.NoError(t, json.Unmarshal(rec.body, &payload))
	assert.False(t, payload.Stream)

	// Oversized system prompt is replaced, not truncated.
	require.NotEmpty(t, payload.Messages)
	assert.Equal(t, "system", payload.Messages[0].Role)
	assert.Equal(t, localFallbackSystem, payload.Messages[0].Content)

	// Only the last 8 turns survive, and the window still starts with a
	// user turn.
	convo := payload.Messages[1:]
	assert.LessOrEqual(t, len(convo), localMaxTurns+1)
	assert.Equal(t, "user", convo[0].Role)
}

func TestGeminiAdapterCall(t *testing.T) {
	srv, rec := captureServer(t, http.StatusOK, `{
		"choices": [{"message":{"content":"gemini answer"}}],
		"usage": {"prompt_tokens": 4, "completion_tokens": 6}
	}`)
	a := NewGeminiAdapter(srv.URL, "g-key", srv.Client(), zerolog.Nop())

	res, err := a.Call(context.Background(), "gemini-2.5-flash", []chat.Message{
		{Role: chat.RoleUser, Text: "q"},
	}, 128)
	require.NoError(t, err)
	assert.Equal(t, "gemini answer", res.Content)
	assert.Equal(t, 4, res.PromptTokens)
	assert.Equal(t, 6, res.CompletionTokens)

	assert.Equal(t, "/chat/completions", rec.path)
	assert.Equal(t, "Bearer g-key", rec.header.Get("Authorization"))
	payload := rec.decode(t)
	assert.Equal(t, "gemini-2.5-flash", payload["model"])
}

func TestAdapterAbortsOnCancelledContext(t *testing.T) {
	srv, _ := captureServer(t, http.StatusOK, `{"choices":[{"message":{"content":"x"}}]}`)
	a := NewLocalAdapter(srv.URL, srv.Client(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.Call(ctx, "m", []chat.Message{{Role: chat.RoleUser, Text: "q"}}, 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
