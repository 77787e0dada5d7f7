package v1

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/hrygo/brandpulse/plugin/ai"
	"github.com/hrygo/brandpulse/plugin/ai/timeout"
)

const (
	summarySystemPrompt = "You are a business analytics expert who provides clear, actionable insights from dashboard data."

	summaryTemperature = 0.7
	summaryMaxTokens   = 1000
)

const summaryPromptTemplate = `Analyze this dashboard data for %[1]s and provide a comprehensive business summary:

Brand: %[1]s
Dashboard Data: %[2]s

Please provide:
1. Key performance insights
2. Actionable recommendations

Do not talk too much about the data. Provide the summary in the simplest way possible.
The summary should be easy to understand. Use a high level perspective, as when talking to CEOs.
Do not use bullet lists; use numbering and paragraphs to explain the data. The response should be short and clear.`

// SummaryService writes executive summaries of dashboard data.
// SummaryService 为看板数据生成高管摘要。
type SummaryService struct {
	llm   ai.LLMService
	model string
}

// NewSummaryService creates a new summary service.
func NewSummaryService(llm ai.LLMService, model string) *SummaryService {
	return &SummaryService{llm: llm, model: model}
}

// DashboardSummaryRequest is the body of POST /api/ai/dashboard-summary.
type DashboardSummaryRequest struct {
	DashboardData map[string]any `json:"dashboard_data" validate:"required"`
	Brand         string         `json:"brand" validate:"required,max=200"`
}

// DashboardSummaryResponse is the success body of POST /api/ai/dashboard-summary.
type DashboardSummaryResponse struct {
	Status  string `json:"status"`
	Summary string `json:"summary"`
	Brand   string `json:"brand"`
}

// Summarize asks the model for a short summary of data for brand.
func (s *SummaryService) Summarize(ctx context.Context, brand string, data map[string]any) (string, error) {
	if s == nil || s.llm == nil {
		return "", errors.New("summary model is not configured")
	}

	payload, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "failed to encode dashboard data")
	}

	ctx, cancel := context.WithTimeout(ctx, timeout.SummaryTimeout)
	defer cancel()

	messages := []ai.Message{
		ai.SystemPrompt(summarySystemPrompt),
		ai.UserMessage(fmt.Sprintf(summaryPromptTemplate, brand, payload)),
	}
	summary, err := s.llm.Chat(ctx, messages,
		ai.WithModel(s.model),
		ai.WithTemperature(summaryTemperature),
		ai.WithMaxTokens(summaryMaxTokens),
	)
	if err != nil {
		return "", errors.Wrap(err, "failed to generate summary")
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return "", errors.New("model returned an empty summary")
	}
	return summary, nil
}

// DashboardSummary handles POST /api/ai/dashboard-summary.
func (s *APIV1Service) DashboardSummary(c echo.Context) error {
	var req DashboardSummaryRequest
	if err := s.bind(c, &req); err != nil {
		return errorJSON(c, err)
	}

	rc := requestContextOf(c)
	rc.Info("dashboard summary requested", slog.String("brand", req.Brand))

	summary, err := s.Summary.Summarize(c.Request().Context(), req.Brand, req.DashboardData)
	if err != nil {
		rc.Error("dashboard summary failed", err, slog.String("brand", req.Brand))
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"status":  "error",
			"message": err.Error(),
		})
	}

	return c.JSON(http.StatusOK, DashboardSummaryResponse{
		Status:  "success",
		Summary: summary,
		Brand:   req.Brand,
	})
}
