package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Content is buffered in full by the adapter, then replayed in fixed-size
// SSE deltas. This buffer-then-chunk behavior is deliberate; the router does
// not do token-level upstream streaming.
const sseChunkRunes = 64

// How long a single SSE write may sit in a full socket buffer before the
// stream is abandoned. Variable so tests can shorten it.
var sseWriteStall = 30 * time.Second

// streamCompletion replays a finished completion as an OpenAI SSE stream:
// a role-opening chunk, fixed-size content deltas, an optional usage chunk,
// a finish chunk, and the [DONE] sentinel. Writes go through a bounded
// channel so the producer feels socket backpressure; each enqueue races
// drain progress against client disconnect and a stall timeout, and the
// remaining chunks are abandoned as soon as either fires.
func (s *server) streamCompletion(w http.ResponseWriter, r *http.Request, model, content string, usage Usage, includeUsage bool, log zerolog.Logger) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "api_error", "streaming unsupported")
		return
	}

	w.Header().Set("content-type", "text/event-stream")
	w.Header().Set("cache-control", "no-cache")
	w.Header().Set("connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	frames := make(chan []byte, 8)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for frame := range frames {
			if _, err := w.Write(frame); err != nil {
				log.Debug().Err(err).Msg("stream write failed")
				return
			}
			flusher.Flush()
		}
	}()

	stall := time.NewTimer(sseWriteStall)
	defer stall.Stop()
	send := func(frame []byte) bool {
		if !stall.Stop() {
			select {
			case <-stall.C:
			default:
			}
		}
		stall.Reset(sseWriteStall)
		select {
		case frames <- frame:
			return true
		case <-r.Context().Done():
			return false
		case <-writerDone:
			return false
		case <-stall.C:
			log.Warn().Msg("stream stalled, abandoning remaining chunks")
			return false
		}
	}

	id := nextCompletionID()
	created := time.Now().Unix()
	chunk := func(choices []ChunkChoice, u *Usage) []byte {
		return sseFrame(ChatCompletionChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   model,
			Choices: choices,
			Usage:   u,
		})
	}

	ok = send(chunk([]ChunkChoice{{Delta: ChunkDelta{Role: "assistant"}}}, nil))
	for _, piece := range splitRunes(content, sseChunkRunes) {
		if !ok {
			break
		}
		ok = send(chunk([]ChunkChoice{{Delta: ChunkDelta{Content: piece}}}, nil))
	}
	if ok && includeUsage {
		ok = send(chunk([]ChunkChoice{}, &usage))
	}
	if ok {
		finish := "stop"
		ok = send(chunk([]ChunkChoice{{FinishReason: &finish}}, nil))
	}
	if ok {
		ok = send([]byte("data: [DONE]\n\n"))
	}

	close(frames)
	if ok {
		// Everything is queued; give the writer one stall window to drain.
		if !stall.Stop() {
			select {
			case <-stall.C:
			default:
			}
		}
		stall.Reset(sseWriteStall)
		select {
		case <-writerDone:
			return
		case <-r.Context().Done():
		case <-stall.C:
		}
	}
	// Abandoning with a write possibly parked on a full socket buffer. The
	// server write timeout is disabled for SSE, so expire the deadline by
	// hand to fail the blocked write; otherwise this handler, and its
	// admission slot, would be held for as long as the client stays wedged.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Now())
	<-writerDone
}

func sseFrame(v any) []byte {
	raw, _ := json.Marshal(v)
	return []byte(fmt.Sprintf("data: %s\n\n", raw))
}

// splitRunes cuts text into pieces of at most n runes, never splitting a
// UTF-8 sequence.
func splitRunes(text string, n int) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	out := make([]string, 0, len(runes)/n+1)
	for len(runes) > n {
		out = append(out, string(runes[:n]))
		runes = runes[n:]
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}
