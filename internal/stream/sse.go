package stream

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrFlushUnsupported is returned when the ResponseWriter cannot flush.
var ErrFlushUnsupported = errors.New("response writer does not support flushing")

// lineBreaks folds the three SSE line terminators into "\n". A bare "\r"
// left in a data field would end the line for the client.
var lineBreaks = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// SSEWriter frames events as text/event-stream and flushes each one.
type SSEWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

// NewSSEWriter writes the stream headers and a 200 status.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	rc := http.NewResponseController(w)
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		if errors.Is(err, http.ErrNotSupported) {
			return nil, ErrFlushUnsupported
		}
		return nil, fmt.Errorf("flush headers: %w", err)
	}
	return &SSEWriter{w: w, rc: rc}, nil
}

// Send writes one event. Multi-line data becomes one data field per line.
func (s *SSEWriter) Send(evt Event) error {
	var b strings.Builder
	fmt.Fprintf(&b, "event: %s\n", evt.Type)
	for _, line := range strings.Split(lineBreaks.Replace(evt.Data), "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	if _, err := s.w.Write([]byte(b.String())); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	if err := s.rc.Flush(); err != nil {
		return fmt.Errorf("flush event: %w", err)
	}
	return nil
}
