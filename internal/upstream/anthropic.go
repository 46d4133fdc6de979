package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"smartrouter/internal/chat"
)

const (
	anthropicMessagesPath = "/v1/messages"
	anthropicVersion      = "2023-06-01"

	// Prompt segments shorter than this are not worth a cache breakpoint;
	// the provider rejects or ignores tiny cacheable prefixes anyway.
	minCacheableChars = 4096
)

// AnthropicAdapter speaks the Anthropic messages protocol. Two upstream
// targets share this adapter: the primary API and an Anthropic-compatible
// secondary backend reachable at a different base URL and key.
type AnthropicAdapter struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
	log     zerolog.Logger
}

func NewAnthropicAdapter(name, baseURL, apiKey string, client *http.Client, log zerolog.Logger) *AnthropicAdapter {
	return &AnthropicAdapter{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
		log:     log,
	}
}

func (a *AnthropicAdapter) Name() string { return a.name }

type anthropicBlock struct {
	Type         string            `json:"type"`
	Text         string            `json:"text"`
	CacheControl map[string]string `json:"cache_control,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

func (a *AnthropicAdapter) Call(ctx context.Context, model string, messages []chat.Message, maxTokens int) (ProviderResult, error) {
	system, convo := shapeConversation(messages)

	wire := make([]anthropicMessage, 0, len(convo))
	for i, m := range convo {
		block := anthropicBlock{Type: "text", Text: m.Text}
		// Mark the second-to-last turn as a cache breakpoint when it is big
		// enough to be worth caching, so repeated context is billed once.
		if i == len(convo)-2 && len(m.Text) >= minCacheableChars {
			block.CacheControl = map[string]string{"type": "ephemeral"}
		}
		wire = append(wire, anthropicMessage{Role: m.Role, Content: []anthropicBlock{block}})
	}

	payload := map[string]any{
		"model":      model,
		"max_tokens": maxTokens,
		"messages":   wire,
	}
	if strings.TrimSpace(system) != "" {
		sysBlock := anthropicBlock{Type: "text", Text: system}
		if len(system) >= minCacheableChars {
			sysBlock.CacheControl = map[string]string{"type": "ephemeral"}
		}
		payload["system"] = []anthropicBlock{sysBlock}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return ProviderResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+anthropicMessagesPath, bytes.NewReader(raw))
	if err != nil {
		return ProviderResult{}, err
	}
	req.Header.Set("content-type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := a.client.Do(req)
	if err != nil {
		return ProviderResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ProviderResult{}, drainError(a.log, a.name, resp)
	}

	var out struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens              int `json:"input_tokens"`
			OutputTokens             int `json:"output_tokens"`
			CacheReadInputTokens     int `json:"cache_read_input_tokens"`
			CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ProviderResult{}, decodeError(a.log, a.name, err)
	}

	if out.Usage.CacheReadInputTokens > 0 || out.Usage.CacheCreationInputTokens > 0 {
		a.log.Info().
			Str("provider", a.name).
			Int("cache_read_tokens", out.Usage.CacheReadInputTokens).
			Int("cache_write_tokens", out.Usage.CacheCreationInputTokens).
			Msg("prompt cache activity")
	}

	parts := make([]string, 0, len(out.Content))
	for _, b := range out.Content {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return ProviderResult{
		Content:          strings.Join(parts, ""),
		PromptTokens:     out.Usage.InputTokens,
		CompletionTokens: out.Usage.OutputTokens,
	}, nil
}
