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
	openAIChatPath      = "/v1/chat/completions"
	openAIResponsesPath = "/v1/responses"
)

// OpenAIAdapter speaks the OpenAI protocol. Code-specialized models are
// served from the responses endpoint, which takes a flattened input array
// with a developer-role system message and nests output text under typed
// content items; everything else uses the chat-completions endpoint.
type OpenAIAdapter struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     zerolog.Logger
}

func NewOpenAIAdapter(baseURL, apiKey string, client *http.Client, log zerolog.Logger) *OpenAIAdapter {
	return &OpenAIAdapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
		log:     log,
	}
}

func (a *OpenAIAdapter) Name() string { return "openai" }

// usesResponsesAPI reports whether the model must be reached through the
// responses endpoint.
func usesResponsesAPI(model string) bool {
	return strings.Contains(strings.ToLower(model), "codex")
}

func (a *OpenAIAdapter) Call(ctx context.Context, model string, messages []chat.Message, maxTokens int) (ProviderResult, error) {
	if usesResponsesAPI(model) {
		return a.callResponses(ctx, model, messages, maxTokens)
	}
	return a.callChat(ctx, model, messages, maxTokens)
}

func (a *OpenAIAdapter) callChat(ctx context.Context, model string, messages []chat.Message, maxTokens int) (ProviderResult, error) {
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
	raw, err := a.post(ctx, openAIChatPath, payload)
	if err != nil {
		return ProviderResult{}, err
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
	if err := json.Unmarshal(raw, &out); err != nil {
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

func (a *OpenAIAdapter) callResponses(ctx context.Context, model string, messages []chat.Message, maxTokens int) (ProviderResult, error) {
	system, convo := shapeConversation(messages)

	type inputText struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	type inputItem struct {
		Role    string      `json:"role"`
		Content []inputText `json:"content"`
	}

	input := make([]inputItem, 0, len(convo)+1)
	if strings.TrimSpace(system) != "" {
		input = append(input, inputItem{
			Role:    "developer",
			Content: []inputText{{Type: "input_text", Text: system}},
		})
	}
	for _, m := range convo {
		itemType := "input_text"
		if m.Role == chat.RoleAssistant {
			itemType = "output_text"
		}
		input = append(input, inputItem{
			Role:    m.Role,
			Content: []inputText{{Type: itemType, Text: m.Text}},
		})
	}

	payload := map[string]any{
		"model":             model,
		"input":             input,
		"max_output_tokens": maxTokens,
	}
	raw, err := a.post(ctx, openAIResponsesPath, payload)
	if err != nil {
		return ProviderResult{}, err
	}

	var out struct {
		Output []struct {
			Type    string `json:"type"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"output"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return ProviderResult{}, decodeError(a.log, a.Name(), err)
	}

	var parts []string
	for _, item := range out.Output {
		if item.Type != "message" {
			continue
		}
		for _, c := range item.Content {
			if c.Type == "output_text" && c.Text != "" {
				parts = append(parts, c.Text)
			}
		}
	}
	if len(parts) == 0 {
		return ProviderResult{}, decodeError(a.log, a.Name(), errEmptyChoices)
	}
	return ProviderResult{
		Content:          strings.Join(parts, ""),
		PromptTokens:     out.Usage.InputTokens,
		CompletionTokens: out.Usage.OutputTokens,
	}, nil
}

func (a *OpenAIAdapter) post(ctx context.Context, path string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("content-type", "application/json")
	req.Header.Set("authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, drainError(a.log, a.Name(), resp)
	}
	return readAllLimited(resp.Body)
}
