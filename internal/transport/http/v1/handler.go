// Package v1 provides the public HTTP API of the orchestrator.
package v1

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/yuhaibao324/dipagt/internal/domain"
	apperrors "github.com/yuhaibao324/dipagt/internal/errors"
	"github.com/yuhaibao324/dipagt/internal/planner"
	"github.com/yuhaibao324/dipagt/internal/service"
)

// AgentDirectory lists the agents the planner can choose from.
type AgentDirectory interface {
	Candidates(ctx context.Context) ([]planner.Candidate, error)
}

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
	agents  AgentDirectory
	logger  *zap.Logger
}

// NewHandler creates a new handler. agents may be nil.
func NewHandler(service *service.Service, agents AgentDirectory, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		agents:  agents,
		logger:  logger.Named("http"),
	}
}

// RegisterRoutes registers the public routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/chats/messages", h.SendMessage)
	e.GET("/v1/chats", h.ListChats)
	e.GET("/v1/chats/list/:owner", h.ListChats)
	e.GET("/v1/chats/:chat_id", h.GetChat)
	e.GET("/v1/chats/:chat_id/messages", h.ListMessages)
	e.POST("/v1/runs/:run_id/cancel", h.CancelRun)
	e.GET("/v1/agents", h.ListAgents)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// StatusOf maps an error code to an HTTP status.
func StatusOf(err error) int {
	switch apperrors.CodeOf(err) {
	case apperrors.CodeValidation:
		return http.StatusBadRequest
	case apperrors.CodeNotFound:
		return http.StatusNotFound
	case apperrors.CodeChatBusy:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(c echo.Context, err error) error {
	status := StatusOf(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.JSON(status, ErrorResponse{
		Error: apperrors.Describe(err),
		Code:  string(apperrors.CodeOf(err)),
	})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg, Code: string(apperrors.CodeValidation)})
}

// pageRequest reads page and page_size. Missing or malformed values fall
// back to the defaults; out-of-range values are clamped.
func pageRequest(c echo.Context) domain.PageRequest {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	size, _ := strconv.Atoi(c.QueryParam("page_size"))
	return domain.NewPageRequest(page, size)
}
