// Package upstream contains the provider adapters and the tier dispatcher.
// Each adapter translates the canonical message form into one provider's
// wire protocol and back.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"smartrouter/internal/chat"
)

// ErrUpstream is returned for any non-2xx or malformed upstream response.
// The provider's actual error body is logged server-side and never carried
// in the error chain, so it cannot leak to the caller.
var ErrUpstream = errors.New("upstream provider error")

var errEmptyChoices = errors.New("response carried no choices")

// ProviderResult is the canonical adapter output.
type ProviderResult struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
}

// Adapter translates canonical messages to one upstream provider's wire
// format and back. Calls are bounded by the shared upstream timeout and
// abort when ctx is cancelled (client disconnect).
type Adapter interface {
	Name() string
	Call(ctx context.Context, model string, messages []chat.Message, maxTokens int) (ProviderResult, error)
}

// Registry maps provider identifiers to adapters, so dispatch logic can be
// tested with fakes.
type Registry map[string]Adapter

const (
	maxErrorBodyBytes    = 64 << 10
	maxResponseBodyBytes = 8 << 20
)

func readAllLimited(r io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, maxResponseBodyBytes))
}

// drainError consumes the remainder of a non-2xx response body for logging,
// closes out the connection, and returns the generic upstream error.
func drainError(log zerolog.Logger, name string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	log.Warn().
		Str("provider", name).
		Int("status", resp.StatusCode).
		Str("body", strings.TrimSpace(string(body))).
		Msg("upstream returned non-2xx")
	return fmt.Errorf("%w: %s status %d", ErrUpstream, name, resp.StatusCode)
}

func decodeError(log zerolog.Logger, name string, err error) error {
	log.Warn().Str("provider", name).Err(err).Msg("upstream response decode failed")
	return fmt.Errorf("%w: %s response malformed", ErrUpstream, name)
}
