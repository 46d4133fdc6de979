package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"smartrouter/internal/chat"
	"smartrouter/internal/classify"
	"smartrouter/internal/sanitize"
	"smartrouter/internal/upstream"
)

// handleChatCompletions runs the request pipeline: admission, validation,
// classification (unless the model name pins a tier), dispatch, sanitize,
// and JSON or SSE formatting.
func (s *server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	if !s.gate.TryAcquire() {
		s.writeError(w, http.StatusTooManyRequests, "rate_limit_error", "too many concurrent requests")
		return
	}
	defer s.gate.Release()

	var req ChatCompletionsRequest
	if err := s.readJSONBody(w, r, &req); err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			s.writeError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "request body too large")
		case errors.Is(err, errBodyTimeout):
			s.writeError(w, http.StatusRequestTimeout, "invalid_request_error", "timed out reading request body")
		default:
			s.writeError(w, http.StatusBadRequest, "invalid_request_error", "invalid JSON body")
		}
		return
	}

	normalized, err := chat.Normalize(req.Messages)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}

	tier, err := s.resolveTier(req.Model, normalized.LastUserText)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}

	if req.MaxTokens != nil && *req.MaxTokens <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid_request_error", "max_tokens must be a positive integer")
		return
	}
	requested := 0
	if req.MaxTokens != nil {
		requested = *req.MaxTokens
	}
	maxTokens, err := s.dispatcher.EffectiveMaxTokens(tier, requested)
	if err != nil {
		// Unreachable with a validated route table; fail loudly anyway.
		s.stats.RecordError()
		s.writeError(w, http.StatusInternalServerError, "api_error", "internal server error")
		return
	}

	s.stats.RecordRequest(tier)
	reqLog := s.log.With().
		Str("request_id", middleware.GetReqID(r.Context())).
		Str("tier", string(tier)).
		Bool("stream", req.Stream).
		Logger()

	ctx, cancel := context.WithTimeout(r.Context(), s.upstreamTimeout)
	defer cancel()

	result, err := s.dispatcher.Dispatch(ctx, tier, normalized.Messages, maxTokens)
	if err != nil {
		if r.Context().Err() != nil {
			// Client went away mid-call; the upstream call was aborted.
			// Not an error from the router's point of view.
			reqLog.Debug().Dur("duration", time.Since(started)).Msg("client disconnected during dispatch")
			return
		}
		s.stats.RecordError()
		reqLog.Error().Err(err).Dur("duration", time.Since(started)).Msg("dispatch failed")
		if errors.Is(err, upstream.ErrUpstream) {
			s.writeError(w, http.StatusInternalServerError, "api_error", "upstream provider error")
		} else {
			s.writeError(w, http.StatusInternalServerError, "api_error", "internal server error")
		}
		return
	}
	result.Content = sanitize.Sanitize(result.Content)

	usage := Usage{
		PromptTokens:     result.PromptTokens,
		CompletionTokens: result.CompletionTokens,
		TotalTokens:      result.PromptTokens + result.CompletionTokens,
	}
	outwardModel := req.Model

	if req.Stream {
		includeUsage := req.StreamOptions != nil && req.StreamOptions.IncludeUsage
		s.streamCompletion(w, r, outwardModel, result.Content, usage, includeUsage, reqLog)
		reqLog.Info().Dur("duration", time.Since(started)).Msg("request completed")
		return
	}

	resp := ChatCompletionsResponse{
		ID:      nextCompletionID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   outwardModel,
		Choices: []CompletionChoice{
			{
				Index:        0,
				Message:      ResponseMessage{Role: chat.RoleAssistant, Content: result.Content},
				FinishReason: "stop",
			},
		},
		Usage: usage,
	}
	writeJSON(w, http.StatusOK, resp)
	reqLog.Info().Dur("duration", time.Since(started)).Msg("request completed")
}

// resolveTier honors an explicitly pinned tier in the model field and runs
// classification only for "auto". Pin tokens inside message content are
// never honored, so adversarial prompts cannot steer routing.
func (s *server) resolveTier(model, lastUserText string) (classify.Tier, error) {
	if model == "" || model == classify.ModelAuto {
		return classify.Classify(lastUserText), nil
	}
	if tier, ok := classify.FromModel(model); ok {
		return tier, nil
	}
	return "", errors.New("unknown model: use \"auto\" or a tier name")
}
