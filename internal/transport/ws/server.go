// Package ws serves runs over a WebSocket connection. A client sends
// chat_message and cancel_run frames; every run it starts is streamed back
// as run_event frames tagged with the run id.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/yuhaibao324/dipagt/internal/domain"
	apperrors "github.com/yuhaibao324/dipagt/internal/errors"
	"github.com/yuhaibao324/dipagt/internal/service"
)

const sendBuffer = 256

// Config holds the connection limits.
type Config struct {
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64
}

// Runner starts and cancels runs.
type Runner interface {
	StartRun(ctx context.Context, req domain.RunRequest) (*service.Run, error)
	CancelRun(runID string) error
}

// Server handles WebSocket connections.
type Server struct {
	cfg      Config
	runner   Runner
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewServer creates a new WebSocket server.
func NewServer(cfg Config, runner Runner, logger *zap.Logger) *Server {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 65536
	}
	return &Server{
		cfg:    cfg,
		runner: runner,
		logger: logger.Named("ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleWebSocket upgrades the request and serves the connection until the
// client goes away. Runs started on the connection are closed with it.
func (s *Server) HandleWebSocket(c echo.Context) error {
	socket, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("failed to upgrade websocket", zap.Error(err))
		return err
	}

	conn := newConnection("conn_"+uuid.New().String(), socket, sendBuffer)
	logger := s.logger.With(zap.String("conn_id", conn.id))
	logger.Debug("connection opened")

	ctx, cancel := context.WithCancel(context.Background())
	var forwarders sync.WaitGroup

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writePump(conn, logger)
	}()

	s.readPump(ctx, conn, &forwarders, logger)

	cancel()
	forwarders.Wait()
	conn.close()
	<-writerDone
	logger.Debug("connection closed")
	return nil
}

// readPump reads frames until the socket fails or the client closes it.
func (s *Server) readPump(ctx context.Context, conn *connection, forwarders *sync.WaitGroup, logger *zap.Logger) {
	conn.conn.SetReadLimit(s.cfg.MaxMessageSize)
	_ = conn.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	})

	for {
		_, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		_ = conn.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		s.handleMessage(ctx, conn, data, forwarders, logger)
	}
}

// writePump owns every write to the socket.
func (s *Server) writePump(conn *connection, logger *zap.Logger) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.conn.Close()
	}()

	for {
		select {
		case data := <-conn.send:
			if err := conn.write(websocket.TextMessage, data, s.cfg.WriteTimeout); err != nil {
				logger.Info("failed to write frame", zap.Error(err))
				conn.close()
				return
			}
		case <-ticker.C:
			if err := conn.write(websocket.PingMessage, nil, s.cfg.WriteTimeout); err != nil {
				conn.close()
				return
			}
		case <-conn.done:
			_ = conn.write(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), s.cfg.WriteTimeout)
			return
		}
	}
}

func (s *Server) handleMessage(ctx context.Context, conn *connection, data []byte, forwarders *sync.WaitGroup, logger *zap.Logger) {
	var msg BaseMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(ctx, conn, "", "", apperrors.New(apperrors.CodeValidation, "invalid JSON message"))
		return
	}

	switch msg.Type {
	case TypeChatMessage:
		s.handleChatMessage(ctx, conn, data, forwarders, logger)
	case TypeCancelRun:
		s.handleCancelRun(ctx, conn, data)
	default:
		s.sendError(ctx, conn, msg.RequestID, msg.RunID,
			apperrors.New(apperrors.CodeValidation, "unknown message type: "+msg.Type))
	}
}

func (s *Server) handleChatMessage(ctx context.Context, conn *connection, data []byte, forwarders *sync.WaitGroup, logger *zap.Logger) {
	var msg ChatMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(ctx, conn, "", "", apperrors.New(apperrors.CodeValidation, "invalid chat_message"))
		return
	}

	run, err := s.runner.StartRun(ctx, domain.RunRequest{
		ChatID:  msg.ChatID,
		Owner:   msg.Owner,
		Message: msg.Content,
	})
	if err != nil {
		s.sendError(ctx, conn, msg.RequestID, "", err)
		return
	}

	started, _ := json.Marshal(RunStartedMessage{
		BaseMessage: base(TypeRunStarted, msg.RequestID, run.ID),
		ChatID:      run.ChatID,
	})
	if !conn.enqueue(ctx, started) {
		run.Close()
		return
	}

	logger.Info("run started", zap.String("run_id", run.ID), zap.String("chat_id", run.ChatID))
	forwarders.Add(1)
	go func() {
		defer forwarders.Done()
		s.forward(ctx, conn, run, msg.RequestID, logger)
	}()
}

// forward relays a run's events until its stream closes. A connection that
// stops accepting frames closes the run.
func (s *Server) forward(ctx context.Context, conn *connection, run *service.Run, requestID string, logger *zap.Logger) {
	defer run.Close()
	for ev := range run.Events() {
		frame, err := json.Marshal(RunEventMessage{
			BaseMessage: base(TypeRunEvent, requestID, run.ID),
			Event:       ev,
		})
		if err != nil {
			logger.Error("failed to encode event", zap.String("run_id", run.ID), zap.Error(err))
			continue
		}
		if !conn.enqueue(ctx, frame) {
			return
		}
	}
}

func (s *Server) handleCancelRun(ctx context.Context, conn *connection, data []byte) {
	var msg CancelRunMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.RunID == "" {
		s.sendError(ctx, conn, "", "", apperrors.New(apperrors.CodeValidation, "cancel_run requires run_id"))
		return
	}
	if err := s.runner.CancelRun(msg.RunID); err != nil {
		s.sendError(ctx, conn, msg.RequestID, msg.RunID, err)
		return
	}
	ack, _ := json.Marshal(base(TypeRunCancelled, msg.RequestID, msg.RunID))
	conn.enqueue(ctx, ack)
}

func (s *Server) sendError(ctx context.Context, conn *connection, requestID, runID string, err error) {
	frame, _ := json.Marshal(ErrorMessage{
		BaseMessage: base(TypeError, requestID, runID),
		Code:        string(apperrors.CodeOf(err)),
		Message:     apperrors.Describe(err),
	})
	conn.enqueue(ctx, frame)
}
