package v1

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lithammer/shortuuid/v4"

	apierrors "github.com/hrygo/brandpulse/server/internal/errors"
	"github.com/hrygo/brandpulse/internal/observability"
	"github.com/hrygo/brandpulse/server/router/api/v1/stream"
)

const (
	// SessionCookie carries the session id of browser clients.
	SessionCookie = "brandpulse_session"
	// SessionHeader carries the session id of API clients.
	SessionHeader = "X-Session-ID"

	sessionCookieMaxAge = 30 * 24 * 60 * 60
	maxSessionIDLength  = 128
)

// ChatRequest is the body of POST /api/ai/chat.
type ChatRequest struct {
	Message   string `json:"message" validate:"required,max=4000"`
	SessionID string `json:"session_id" validate:"omitempty,max=128"`
	// Verbose adds tool progress events to the stream.
	Verbose bool `json:"verbose"`
}

// ResetRequest is the optional body of POST /api/ai/chat/reset.
type ResetRequest struct {
	SessionID string `json:"session_id" validate:"omitempty,max=128"`
}

// Chat answers a question as a stream of server-sent events.
// Chat 以服务端推送事件流的形式回答问题。
func (s *APIV1Service) Chat(c echo.Context) error {
	if s.Runtime == nil {
		return errorJSON(c, apierrors.ServiceUnavailable("chat is not configured"))
	}

	var req ChatRequest
	if err := s.bind(c, &req); err != nil {
		return errorJSON(c, err)
	}
	if strings.TrimSpace(req.Message) == "" {
		return errorJSON(c, apierrors.InvalidArgument("message must not be empty"))
	}

	sessionID, fresh := resolveSession(c, req.SessionID)
	if fresh {
		setSessionCookie(c, sessionID)
	}
	c.Response().Header().Set(SessionHeader, sessionID)

	rc := requestContextOf(c)
	rc.SessionID = sessionID

	if !s.runSemaphore.TryAcquire(1) {
		return errorJSON(c, apierrors.Busy("too many conversations in progress, please retry shortly"))
	}
	defer s.runSemaphore.Release(1)

	s.Metrics.RunStarted()
	defer s.Metrics.RunFinished()

	rc.Info("chat started", slog.Int(observability.LogFieldQuestionLen, len(req.Message)))

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	events := s.Runtime.NewAgent(sessionID).Stream(ctx, req.Message)
	err := stream.Write(ctx, c.Response(), events, cancel, stream.Options{
		Verbose: req.Verbose,
		OnEvent: s.Metrics.RecordStreamEvent,
	})
	if err != nil {
		rc.Warn("chat stream interrupted",
			slog.String("error", err.Error()),
			slog.Int64(observability.LogFieldDuration, rc.DurationMs()))
		return nil
	}
	rc.Info("chat finished", slog.Int64(observability.LogFieldDuration, rc.DurationMs()))
	return nil
}

// ResetChat clears the conversation history of the caller's session.
func (s *APIV1Service) ResetChat(c echo.Context) error {
	if s.Runtime == nil {
		return errorJSON(c, apierrors.ServiceUnavailable("chat is not configured"))
	}

	var req ResetRequest
	if c.Request().ContentLength != 0 {
		if err := s.bind(c, &req); err != nil {
			return errorJSON(c, err)
		}
	}

	sessionID, fresh := resolveSession(c, req.SessionID)
	if fresh {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "success",
			"message": "No conversation history to reset",
		})
	}

	rc := requestContextOf(c)
	rc.SessionID = sessionID
	if err := s.Runtime.Memory().Reset(c.Request().Context(), sessionID); err != nil {
		return errorJSON(c, apierrors.Wrap(err, apierrors.ErrCodeServiceUnavailable, "failed to reset conversation"))
	}
	rc.Info("chat history reset")

	return c.JSON(http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Conversation history has been reset",
	})
}

// resolveSession picks the session id from the body, the header or the
// cookie, in that order. Without any it returns a new id and fresh=true.
func resolveSession(c echo.Context, fromBody string) (id string, fresh bool) {
	candidates := []string{fromBody, c.Request().Header.Get(SessionHeader)}
	if cookie, err := c.Cookie(SessionCookie); err == nil {
		candidates = append(candidates, cookie.Value)
	}
	for _, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		if candidate != "" && len(candidate) <= maxSessionIDLength {
			return candidate, false
		}
	}
	return shortuuid.New(), true
}

func setSessionCookie(c echo.Context, sessionID string) {
	c.SetCookie(&http.Cookie{
		Name:     SessionCookie,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   sessionCookieMaxAge,
		Expires:  time.Now().Add(sessionCookieMaxAge * time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
