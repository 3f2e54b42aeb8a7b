package api

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
)

type streamEvent struct {
	Type           string            `json:"type"`
	SequenceNumber int               `json:"sequence_number"`
	Generation     *GenerateResponse `json:"generation,omitempty"`
	Line           *GeneratedLine    `json:"line,omitempty"`
	Error          *ResponseError    `json:"error,omitempty"`
}

// SSEStreamWriter emits a generation as server-sent events: one
// generation.created, one generation.line per line, then
// generation.completed or generation.failed.
type SSEStreamWriter struct {
	w       io.Writer
	flusher func()
	seq     int
}

func NewSSEStreamWriter(c *echo.Context) (*SSEStreamWriter, error) {
	res := c.Response()
	flusher, ok := res.(interface{ Flush() })
	if !ok {
		return nil, fmt.Errorf("streaming unsupported")
	}
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	return &SSEStreamWriter{w: res, flusher: flusher.Flush, seq: 1}, nil
}

func (s *SSEStreamWriter) Begin(resp GenerateResponse) error {
	resp.Status = "in_progress"
	return s.send(streamEvent{Type: "generation.created", Generation: &resp})
}

func (s *SSEStreamWriter) EmitLine(line GeneratedLine) error {
	return s.send(streamEvent{Type: "generation.line", Line: &line})
}

func (s *SSEStreamWriter) Complete(resp GenerateResponse) error {
	resp.Status = "completed"
	return s.send(streamEvent{Type: "generation.completed", Generation: &resp})
}

func (s *SSEStreamWriter) Failed(resp GenerateResponse, err error) error {
	resp.Status = "failed"
	return s.send(streamEvent{
		Type:       "generation.failed",
		Generation: &resp,
		Error:      &ResponseError{Message: err.Error(), Type: "server_error"},
	})
}

func (s *SSEStreamWriter) send(ev streamEvent) error {
	ev.SequenceNumber = s.seq
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", b); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher()
	}
	s.seq++
	return nil
}
