package stream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/brandpulse/plugin/ai/agent"
)

func feed(events ...agent.StreamEvent) <-chan agent.StreamEvent {
	ch := make(chan agent.StreamEvent, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch
}

func dataLines(body string) []string {
	var lines []string
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "data: ") {
			lines = append(lines, strings.TrimPrefix(line, "data: "))
		}
	}
	return lines
}

func sampleRun() []agent.StreamEvent {
	return []agent.StreamEvent{
		{Kind: agent.EventToolStart, Tool: "sql_db_query", Status: "SQL Tools: Querying..."},
		{Kind: agent.EventToolEnd, Tool: "sql_db_query", Status: "SQL Tools: Done"},
		{Kind: agent.EventContent, Text: "Adidas sold "},
		{Kind: agent.EventContent, Text: ""},
		{Kind: agent.EventContent, Text: "510 units."},
		{Kind: agent.EventDone},
	}
}

func TestWrite(t *testing.T) {
	rec := httptest.NewRecorder()
	var kinds []string

	err := Write(context.Background(), rec, feed(sampleRun()...), func() {}, Options{
		OnEvent: func(kind string) { kinds = append(kinds, kind) },
	})
	require.NoError(t, err)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, []string{
		`{"text":"Adidas sold "}`,
		`{"text":"510 units."}`,
		DoneMarker,
	}, dataLines(rec.Body.String()))
	assert.Equal(t, []string{"content", "content", "done"}, kinds)
	assert.True(t, rec.Flushed)
}

func TestWrite_Verbose(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, Write(context.Background(), rec, feed(sampleRun()...), func() {}, Options{Verbose: true}))

	lines := dataLines(rec.Body.String())
	require.Len(t, lines, 5)
	assert.Equal(t, `{"tool":"sql_db_query","status":"start","message":"SQL Tools: Querying..."}`, lines[0])
	assert.Equal(t, `{"tool":"sql_db_query","status":"end","message":"SQL Tools: Done"}`, lines[1])
	assert.Equal(t, DoneMarker, lines[4])
}

func TestWrite_Error(t *testing.T) {
	rec := httptest.NewRecorder()
	events := feed(
		agent.StreamEvent{Kind: agent.EventError, Err: "The request timed out. Please try again."},
		agent.StreamEvent{Kind: agent.EventDone},
	)
	require.NoError(t, Write(context.Background(), rec, events, func() {}, Options{}))
	assert.Equal(t, []string{
		`{"error":"The request timed out. Please try again."}`,
		DoneMarker,
	}, dataLines(rec.Body.String()))
}

func TestWrite_EncodeFailure(t *testing.T) {
	orig := marshal
	marshal = func(any) ([]byte, error) { return nil, errors.New("boom") }
	t.Cleanup(func() { marshal = orig })

	rec := httptest.NewRecorder()
	events := feed(agent.StreamEvent{Kind: agent.EventContent, Text: "hi"}, agent.StreamEvent{Kind: agent.EventDone})
	require.NoError(t, Write(context.Background(), rec, events, func() {}, Options{}))
	assert.Equal(t, []string{encodeFailure, DoneMarker}, dataLines(rec.Body.String()))
}

type brokenWriter struct {
	*httptest.ResponseRecorder
	writes int
	failAt int
}

func (w *brokenWriter) Write(p []byte) (int, error) {
	w.writes++
	if w.writes >= w.failAt {
		return 0, errors.New("broken pipe")
	}
	return w.ResponseRecorder.Write(p)
}

func TestWrite_FailureCancelsAndDrains(t *testing.T) {
	w := &brokenWriter{ResponseRecorder: httptest.NewRecorder(), failAt: 2}
	events := make(chan agent.StreamEvent)
	canceled := make(chan struct{})

	go func() {
		defer close(events)
		events <- agent.StreamEvent{Kind: agent.EventContent, Text: "one"}
		events <- agent.StreamEvent{Kind: agent.EventContent, Text: "two"}
		<-canceled
		events <- agent.StreamEvent{Kind: agent.EventDone}
	}()

	err := Write(context.Background(), w, events, func() { close(canceled) }, Options{})
	require.Error(t, err)
	assert.Equal(t, []string{`{"text":"one"}`}, dataLines(w.Body.String()))
	assert.NotContains(t, w.Body.String(), DoneMarker)
}

func TestWrite_ContextCanceled(t *testing.T) {
	ctx, cancelReq := context.WithCancel(context.Background())
	cancelReq()

	var canceled bool
	rec := httptest.NewRecorder()
	err := Write(ctx, rec, feed(sampleRun()...), func() { canceled = true }, Options{})
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, canceled)
	assert.Empty(t, dataLines(rec.Body.String()))
	assert.Equal(t, http.StatusOK, rec.Code)
}
