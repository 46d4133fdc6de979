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

const geminiChatPath = "/chat/completions"

// GeminiAdapter targets Gemini's OpenAI-compatible surface: the wire shape
// is plain OpenAI chat, only the base URL and bearer key differ.
type GeminiAdapter struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     zerolog.Logger
}

func NewGeminiAdapter(baseURL, apiKey string, client *http.Client, log zerolog.Logger) *GeminiAdapter {
	return &GeminiAdapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
		log:     log,
	}
}

func (a *GeminiAdapter) Name() string { return "gemini" }

func (a *GeminiAdapter) Call(ctx context.Context, model string, messages []chat.Message, maxTokens int) (ProviderResult, error) {
	system, convo := shapeConversation(messages)

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
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return ProviderResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+geminiChatPath, bytes.NewReader(raw))
	if err != nil {
		return ProviderResult{}, err
	}
	req.Header.Set("content-type", "application/json")
	req.Header.Set("authorization", "Bearer "+a.apiKey)

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
