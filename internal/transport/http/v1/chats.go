package v1

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/yuhaibao324/dipagt/internal/domain"
)

// SendMessageRequest starts a run.
type SendMessageRequest struct {
	ChatID  string `json:"chat_id,omitempty"`
	Owner   string `json:"owner"`
	Message string `json:"message"`
}

// SendMessage starts a run and streams its events as server-sent events.
// POST /v1/chats/messages
func (h *Handler) SendMessage(c echo.Context) error {
	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "streaming not supported"})
	}

	run, err := h.service.StartRun(c.Request().Context(), domain.RunRequest{
		ChatID:  req.ChatID,
		Owner:   req.Owner,
		Message: req.Message,
	})
	if err != nil {
		return h.fail(c, err)
	}
	defer run.Close()

	header := c.Response().Header()
	header.Set(echo.HeaderContentType, "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Run-ID", run.ID)
	header.Set("X-Chat-ID", run.ChatID)
	c.Response().WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range run.Events() {
		data, err := json.Marshal(ev)
		if err != nil {
			h.logger.Error("failed to encode event", zap.String("run_id", run.ID), zap.Error(err))
			continue
		}
		if _, err := fmt.Fprintf(c.Response().Writer, "data: %s\n\n", data); err != nil {
			// Subscriber is gone; the deferred Close stops the run.
			h.logger.Info("stream closed by client", zap.String("run_id", run.ID), zap.Error(err))
			return nil
		}
		flusher.Flush()
	}
	return nil
}

// ListChats lists an owner's chats.
// GET /v1/chats?owner=&search=&page=&page_size=
// GET /v1/chats/list/:owner?searchQuery=
func (h *Handler) ListChats(c echo.Context) error {
	owner := c.Param("owner")
	if owner == "" {
		owner = c.QueryParam("owner")
	}
	search := c.QueryParam("search")
	if search == "" {
		search = c.QueryParam("searchQuery")
	}

	page, err := h.service.ListChats(c.Request().Context(), owner, search, pageRequest(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, page)
}

// GetChat returns one chat.
// GET /v1/chats/:chat_id
func (h *Handler) GetChat(c echo.Context) error {
	chat, err := h.service.GetChat(c.Request().Context(), c.Param("chat_id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, chat)
}

// ListMessages returns one page of a chat's messages.
// GET /v1/chats/:chat_id/messages?page=&page_size=
func (h *Handler) ListMessages(c echo.Context) error {
	page, err := h.service.ListMessages(c.Request().Context(), c.Param("chat_id"), pageRequest(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, page)
}

// CancelRun cancels a run in flight.
// POST /v1/runs/:run_id/cancel
func (h *Handler) CancelRun(c echo.Context) error {
	runID := c.Param("run_id")
	if err := h.service.CancelRun(runID); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"ok":     true,
		"run_id": runID,
	})
}
