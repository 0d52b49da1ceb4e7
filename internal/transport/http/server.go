// Package http assembles the public HTTP server.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	v1 "github.com/yuhaibao324/dipagt/internal/transport/http/v1"
	"github.com/yuhaibao324/dipagt/internal/transport/ws"
)

// NewServer creates the echo server for the REST, SSE and WebSocket
// routes. wsServer may be nil.
func NewServer(handler *v1.Handler, wsServer *ws.Server) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	handler.RegisterRoutes(e)
	if wsServer != nil {
		e.GET("/ws", wsServer.HandleWebSocket)
	}
	return e
}
