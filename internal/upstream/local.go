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

// Local models run with small context windows, so oversized system prompts
// are replaced outright and only the tail of the conversation is forwarded.
const (
	localMaxSystemChars  = 2000
	localMaxTurns        = 8
	localFallbackSystem  = "You are a helpful assistant. Answer concisely."
	localChatCompletions = "/v1/chat/completions"
)

// LocalAdapter talks to a local-model HTTP server exposing an
// OpenAI-compatible chat endpoint (llama.cpp, Ollama, vLLM).
type LocalAdapter struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

func NewLocalAdapter(baseURL string, client *http.Client, log zerolog.Logger) *LocalAdapter {
	return &LocalAdapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		log:     log,
	}
}

func (a *LocalAdapter) Name() string { return "local" }

func (a *LocalAdapter) Call(ctx context.Context, model string, messages []chat.Message, maxTokens int) (ProviderResult, error) {
	system, convo := shapeConversation(messages)
	if len(system) > localMaxSystemChars {
		system = localFallbackSystem
	}
	if len(convo) > localMaxTurns {
		convo = convo[len(convo)-localMaxTurns:]
		convo = ensureLeadingUser(convo)
	}

	wire := make([]map[string]string, 0, len(convo)+1)
	if strings.TrimSpace(system) != "" {
		wire = append(wire, map[string]string{"role": chat.RoleSystem, "content": system})
	}
	for _, m := range convo {
		wire = append(wire, map[string]string{"role": m.Role, "content": m.Text})
	}

	payload := map[string]any{
		"model":      model,
		"messages":   wire,
		"max_tokens": maxTokens,
		"stream":     false,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return ProviderResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+localChatCompletions, bytes.NewReader(raw))
	if err != nil {
		return ProviderResult{}, err
	}
	req.Header.Set("content-type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return ProviderResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ProviderResult{}, drainError(a.log, a.Name(), resp)
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ProviderResult{}, decodeError(a.log, a.Name(), err)
	}
	if len(out.Choices) == 0 {
		return ProviderResult{}, decodeError(a.log, a.Name(), errEmptyChoices)
	}
	return ProviderResult{
		Content:          out.Choices[0].Message.Content,
		PromptTokens:     out.Usage.PromptTokens,
		CompletionTokens: out.Usage.CompletionTokens,
	}, nil
}
