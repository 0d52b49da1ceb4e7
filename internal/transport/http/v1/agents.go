package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/yuhaibao324/dipagt/internal/domain"
)

// AgentResponse is an active agent with its bound tools.
type AgentResponse struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Type        string           `json:"type"`
	Avatar      string           `json:"avatar,omitempty"`
	Tools       []domain.Binding `json:"tools"`
}

// ListAgents lists the agents available to the planner.
// GET /v1/agents
func (h *Handler) ListAgents(c echo.Context) error {
	if h.agents == nil {
		return c.JSON(http.StatusOK, map[string]interface{}{"agents": []AgentResponse{}})
	}
	candidates, err := h.agents.Candidates(c.Request().Context())
	if err != nil {
		return h.fail(c, err)
	}

	agents := make([]AgentResponse, len(candidates))
	for i, cand := range candidates {
		agents[i] = AgentResponse{
			ID:          cand.Agent.ID,
			Name:        cand.Agent.Name,
			Description: cand.Agent.Description,
			Type:        cand.Agent.Type,
			Avatar:      cand.Agent.Avatar,
			Tools:       cand.Bindings,
		}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"agents": agents})
}
