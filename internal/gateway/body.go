package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"time"
)

var (
	errBodyTooLarge = errors.New("request body too large")
	errBodyTimeout  = errors.New("request body read timed out")
	errBadJSON      = errors.New("invalid JSON body")
)

// readJSONBody decodes exactly one JSON value from the request body while
// enforcing the byte cap and the body read timeout. The cap is checked
// twice: a Content-Length pre-check rejects oversized bodies before any
// read, and MaxBytesReader keeps a running count for chunked bodies. The
// read deadline is independent of the upstream timeout so a slow-body
// client cannot hold a slot for the full upstream budget.
func (s *server) readJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.ContentLength > s.maxBodyBytes {
		return errBodyTooLarge
	}

	rc := http.NewResponseController(w)
	if err := rc.SetReadDeadline(time.Now().Add(s.bodyReadTimeout)); err == nil {
		defer rc.SetReadDeadline(time.Time{}) //nolint:errcheck
	}

	body := http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	defer body.Close()

	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		return classifyBodyError(err)
	}
	// Trailing JSON values are a malformed request, not a second message.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errBadJSON
	}
	return nil
}

func classifyBodyError(err error) error {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return errBodyTooLarge
	case errors.Is(err, os.ErrDeadlineExceeded):
		return errBodyTimeout
	default:
		return errBadJSON
	}
}
