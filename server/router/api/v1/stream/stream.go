// Package stream writes agent events to an HTTP client as server-sent events.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/pkg/errors"

	"github.com/hrygo/brandpulse/plugin/ai/agent"
)

// DoneMarker is the data of the last line of every stream.
const DoneMarker = "[DONE]"

// encodeFailure replaces an event that could not be encoded.
const encodeFailure = `{"error":"failed to encode event"}`

// Tool statuses on the wire.
const (
	ToolStatusStart = "start"
	ToolStatusEnd   = "end"
)

// Payload is the JSON body of one data line.
type Payload struct {
	Text    string `json:"text,omitempty"`
	Error   string `json:"error,omitempty"`
	Tool    string `json:"tool,omitempty"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

// Options controls what is forwarded to the client.
type Options struct {
	// Verbose forwards tool start and end events.
	Verbose bool
	// OnEvent is called with the kind of every data line written.
	OnEvent func(kind string)
}

var marshal = json.Marshal

// SetHeaders prepares w for an event stream.
func SetHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// Write copies events to w until the channel is closed, then writes the done
// marker. When a write fails or ctx ends, cancel is called to stop the
// producer and the remaining events are drained without being written.
func Write(ctx context.Context, w http.ResponseWriter, events <-chan agent.StreamEvent, cancel context.CancelFunc, opts Options) error {
	SetHeaders(w)
	w.WriteHeader(http.StatusOK)
	flush(w)

	var writeErr error
	for ev := range events {
		if writeErr != nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			writeErr = err
			cancel()
			continue
		}
		data, ok := encode(ev, opts.Verbose)
		if !ok {
			continue
		}
		if err := writeData(w, data); err != nil {
			writeErr = errors.Wrap(err, "failed to write event")
			slog.Debug("stream write failed", "error", err)
			cancel()
			continue
		}
		if opts.OnEvent != nil {
			opts.OnEvent(string(ev.Kind))
		}
	}
	if writeErr != nil {
		return writeErr
	}

	if err := writeData(w, []byte(DoneMarker)); err != nil {
		return errors.Wrap(err, "failed to write done marker")
	}
	if opts.OnEvent != nil {
		opts.OnEvent(string(agent.EventDone))
	}
	return nil
}

// encode maps an event to its data line. Events with nothing to forward
// report false.
func encode(ev agent.StreamEvent, verbose bool) ([]byte, bool) {
	var p Payload
	switch ev.Kind {
	case agent.EventContent:
		if ev.Text == "" {
			return nil, false
		}
		p.Text = ev.Text
	case agent.EventError:
		p.Error = ev.Err
	case agent.EventToolStart, agent.EventToolEnd:
		if !verbose {
			return nil, false
		}
		p.Tool = ev.Tool
		p.Message = ev.Status
		p.Status = ToolStatusStart
		if ev.Kind == agent.EventToolEnd {
			p.Status = ToolStatusEnd
		}
	default:
		return nil, false
	}

	data, err := marshal(p)
	if err != nil {
		slog.Warn("failed to encode stream event", "kind", ev.Kind, "error", err)
		return []byte(encodeFailure), true
	}
	return data, true
}

func writeData(w io.Writer, data []byte) error {
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flush(w)
	return nil
}

func flush(w io.Writer) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}
