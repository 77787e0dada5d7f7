package v1

import (
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/hrygo/brandpulse/internal/profile"
	"github.com/hrygo/brandpulse/plugin/ai"
	"github.com/hrygo/brandpulse/plugin/ai/agent"
	"github.com/hrygo/brandpulse/plugin/ai/vector"
	apierrors "github.com/hrygo/brandpulse/server/internal/errors"
	"github.com/hrygo/brandpulse/internal/observability"
	"github.com/hrygo/brandpulse/server/middleware"
	"github.com/hrygo/brandpulse/store"
)

// APIV1Service serves the /api routes.
type APIV1Service struct {
	Profile *profile.Profile
	Store   *store.Store
	Runtime *agent.Runtime
	Index   vector.Index
	Summary *SummaryService
	Metrics *observability.Metrics
	Logger  *slog.Logger

	validate *validator.Validate
	limiter  *middleware.RateLimiter
	// runSemaphore caps concurrent agent runs across all sessions.
	runSemaphore *semaphore.Weighted
}

// Deps are the collaborators of the API service.
type Deps struct {
	Profile *profile.Profile
	Store   *store.Store
	Runtime *agent.Runtime
	Index   vector.Index
	LLM     ai.LLMService
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

func NewAPIV1Service(deps Deps) *APIV1Service {
	p := deps.Profile
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NewMetrics()
	}
	if deps.Index == nil {
		deps.Index = vector.EmptyIndex{}
	}
	return &APIV1Service{
		Profile:      p,
		Store:        deps.Store,
		Runtime:      deps.Runtime,
		Index:        deps.Index,
		Summary:      NewSummaryService(deps.LLM, p.SummaryModel),
		Metrics:      deps.Metrics,
		Logger:       deps.Logger,
		validate:     validator.New(),
		limiter:      middleware.NewRateLimiter(p.RateLimitRPS, p.RateLimitBurst),
		runSemaphore: semaphore.NewWeighted(p.MaxConcurrentRuns),
	}
}

// RegisterRoutes mounts the API on e.
func (s *APIV1Service) RegisterRoutes(e *echo.Echo) {
	api := e.Group("/api", s.requestContext())
	api.GET("/health", s.Health)

	aiGroup := api.Group("/ai", s.limiter.Middleware())
	aiGroup.POST("/chat", s.Chat)
	aiGroup.POST("/chat/reset", s.ResetChat)
	aiGroup.POST("/dashboard-summary", s.DashboardSummary)
}

// Limiter exposes the per-client rate limiter so the server can prune it.
func (s *APIV1Service) Limiter() *middleware.RateLimiter {
	return s.limiter
}

// requestContext attaches an observability.RequestContext to every request.
func (s *APIV1Service) requestContext() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			rc := observability.NewRequestContext(s.Logger, req.Header.Get(echo.HeaderXRequestID), c.Path())
			c.Response().Header().Set(echo.HeaderXRequestID, rc.RequestID)
			c.SetRequest(req.WithContext(observability.WithRequestContext(req.Context(), rc)))
			return next(c)
		}
	}
}

func requestContextOf(c echo.Context) *observability.RequestContext {
	if rc, ok := observability.FromContext(c.Request().Context()); ok {
		return rc
	}
	return observability.NewRequestContext(slog.Default(), "", c.Path())
}

// bind decodes and validates a JSON request body.
func (s *APIV1Service) bind(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return apierrors.InvalidArgument("malformed request body")
	}
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return apierrors.InvalidArgument(verrs[0].Field() + " failed on '" + verrs[0].Tag() + "'")
		}
		return apierrors.InvalidArgument(err.Error())
	}
	return nil
}

// errorJSON writes the {"status":"error","message"} body used by every route.
func errorJSON(c echo.Context, err error) error {
	aiErr := apierrors.Classify(err, apierrors.ErrCodeAgentExecutionFailed, "internal error")
	requestContextOf(c).Warn("request failed",
		slog.String(observability.LogFieldErrorCode, string(aiErr.Code)),
		slog.String("error", err.Error()))
	return c.JSON(aiErr.Code.HTTPStatus(), aiErr.Body())
}

// Health reports store reachability and index size.
func (s *APIV1Service) Health(c echo.Context) error {
	ctx := c.Request().Context()
	resp := map[string]any{
		"status":          "ok",
		"version":         s.Profile.Version,
		"index_fragments": s.Index.Len(),
	}
	if s.Runtime != nil {
		resp["sessions"] = s.Runtime.Memory().Sessions()
	}
	if err := s.Store.Ping(ctx); err != nil {
		resp["status"] = "degraded"
		resp["store"] = apierrors.StoreUnavailable(err).Message
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	resp["store"] = "ok"
	return c.JSON(http.StatusOK, resp)
}
