// Package agent runs the conversational analytics agent: it answers questions
// about the brand analytics store by planning SQL through tool calls.
// Package agent 运行对话式分析代理：通过工具调用规划 SQL 来回答关于品牌分析数据的问题。
package agent

import (
	"fmt"
	"time"
)

// EventKind is the type of a stream event.
// EventKind 是流事件的类型。
type EventKind string

const (
	EventContent   EventKind = "content"    // Answer text delta
	EventToolStart EventKind = "tool_start" // A tool call is starting
	EventToolEnd   EventKind = "tool_end"   // A tool call finished
	EventError     EventKind = "error"      // The run failed
	EventDone      EventKind = "done"       // Terminal event, always last
)

// StreamEvent is one element of a run's event sequence.
// A sequence always ends with exactly one EventDone; an EventError may only
// directly precede it.
// StreamEvent 是一次运行事件序列中的一个元素。
type StreamEvent struct {
	Kind EventKind

	// Text is the content delta of an EventContent.
	Text string

	// Tool is the wire name of the tool for tool events.
	Tool string
	// Status is a short human readable progress line for tool events.
	Status string
	// Input is the raw tool arguments of an EventToolStart.
	Input string
	// Output is the tool result (or failure text) of an EventToolEnd.
	Output string

	// Err is the user facing failure message of an EventError.
	Err string
}

// Sink receives stream events. Returning an error aborts the run.
// Sink 接收流事件，返回错误会中止运行。
type Sink func(StreamEvent) error

// Outcome classifies how a run ended.
type Outcome string

const (
	OutcomeAnswered Outcome = "answered"
	OutcomeDeclined Outcome = "declined"
	OutcomeUnable   Outcome = "unable"
	OutcomeError    Outcome = "error"
	OutcomeCanceled Outcome = "canceled"
)

// Observer receives run and tool measurements.
// Observer 接收运行与工具的度量数据。
type Observer interface {
	ObserveRun(outcome Outcome, duration time.Duration)
	ObserveTool(tool string, failed bool, duration time.Duration)
	ObserveQueryRetry()
	ObserveDomainGuard(method string, inDomain bool)
}

type nopObserver struct{}

func (nopObserver) ObserveRun(Outcome, time.Duration) {}
func (nopObserver) ObserveTool(string, bool, time.Duration) {}
func (nopObserver) ObserveQueryRetry() {}
func (nopObserver) ObserveDomainGuard(string, bool) {}

// AgentError represents a failed agent operation.
// AgentError 表示代理操作失败。
type AgentError struct {
	SessionID string // Session the run belonged to
	Operation string // Operation being performed when error occurred
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *AgentError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("agent session %s: %s failed: %v", e.SessionID, e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *AgentError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAgentError creates a new AgentError.
func NewAgentError(sessionID, operation string, err error) *AgentError {
	return &AgentError{
		SessionID: sessionID,
		Operation: operation,
		Err:       err,
	}
}
