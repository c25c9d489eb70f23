// Package stream writes round events to HTTP clients as Server-Sent Events
// or newline-delimited JSON.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hrygo/pandemonium/plugin/ai/orchestrator"
	"github.com/hrygo/pandemonium/plugin/ai/timeout"
)

const (
	ContentTypeSSE    = "text/event-stream"
	ContentTypeNDJSON = "application/x-ndjson"
)

// Encoder frames one event for the wire.
type Encoder interface {
	ContentType() string
	Encode(w io.Writer, ev orchestrator.Event) error
}

// SSE frames events as "event: <name>\ndata: <json>\n\n".
type SSE struct{}

func (SSE) ContentType() string { return ContentTypeSSE }

func (SSE) Encode(w io.Writer, ev orchestrator.Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}

// NDJSON frames events as one {"event":..., "data":...} object per line.
type NDJSON struct{}

func (NDJSON) ContentType() string { return ContentTypeNDJSON }

func (NDJSON) Encode(w io.Writer, ev orchestrator.Event) error {
	data, err := json.Marshal(struct {
		Event orchestrator.EventType `json:"event"`
		Data  any                    `json:"data"`
	}{ev.Type, ev.Data})
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// Negotiate picks NDJSON when the Accept header asks for it and SSE otherwise.
func Negotiate(accept string) Encoder {
	if strings.Contains(accept, ContentTypeNDJSON) {
		return NDJSON{}
	}
	return SSE{}
}

// Stream writes events to one HTTP response.
type Stream struct {
	w    http.ResponseWriter
	rc   *http.ResponseController
	enc  Encoder
	sent int
}

// New prepares w for streaming with the given encoder.
func New(w http.ResponseWriter, enc Encoder) *Stream {
	return &Stream{w: w, rc: http.NewResponseController(w), enc: enc}
}

// Start writes the response headers.
func (s *Stream) Start(status int) error {
	h := s.w.Header()
	h.Set("Content-Type", s.enc.ContentType())
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(status)
	return s.flush()
}

// Send writes and flushes one event under a write deadline.
func (s *Stream) Send(ev orchestrator.Event) error {
	if err := s.rc.SetWriteDeadline(time.Now().Add(timeout.StreamWriteTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	if err := s.enc.Encode(s.w, ev); err != nil {
		return err
	}
	s.sent++
	return s.flush()
}

// Sent returns the number of events written.
func (s *Stream) Sent() int {
	return s.sent
}

// Relay forwards a round's events until the round completes. When ctx ends
// or a write fails the round is detached, so it finishes without a reader.
func (s *Stream) Relay(ctx context.Context, r *orchestrator.Round, observe func(orchestrator.Event)) error {
	for {
		select {
		case <-ctx.Done():
			r.Detach()
			return ctx.Err()
		case ev, ok := <-r.Events():
			if !ok {
				return nil
			}
			if err := s.Send(ev); err != nil {
				r.Detach()
				return fmt.Errorf("write %s event: %w", ev.Type, err)
			}
			if observe != nil {
				observe(ev)
			}
		}
	}
}

func (s *Stream) flush() error {
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}
