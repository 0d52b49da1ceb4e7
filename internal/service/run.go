package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yuhaibao324/dipagt/internal/dispatcher"
	"github.com/yuhaibao324/dipagt/internal/domain"
	apperrors "github.com/yuhaibao324/dipagt/internal/errors"
	"github.com/yuhaibao324/dipagt/internal/stream"
)

// DefaultOwner owns chats started without an owner.
const DefaultOwner = "default_user"

// Run is one pipeline execution for one message. Its event stream always
// ends with exactly one done event.
type Run struct {
	ID      string
	ChatID  string
	NewChat bool

	emitter *stream.Emitter
	cancel  context.CancelFunc
	done    chan struct{}
}

// Events is the run's event stream. It is closed after the done event.
func (r *Run) Events() <-chan domain.StreamEvent { return r.emitter.Events() }

// Cancel stops the run. The stream still ends with fatal_error and done.
func (r *Run) Cancel() { r.cancel() }

// Close is called by a subscriber that stops reading: the run is cancelled
// and pending events are dropped.
func (r *Run) Close() {
	r.cancel()
	r.emitter.Detach()
}

// Done is closed once the pipeline has returned.
func (r *Run) Done() <-chan struct{} { return r.done }

func newID(prefix string) string {
	return prefix + "_" + uuid.New().String()
}

// StartRun validates req and starts its pipeline. ctx bounds the
// subscriber: when it ends the run is closed. Malformed requests, unknown
// chats and, with RejectBusy, busy chats are rejected before a run starts.
func (s *Service) StartRun(ctx context.Context, req domain.RunRequest) (*Run, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "message is required")
	}
	owner := strings.TrimSpace(req.Owner)
	if owner == "" {
		owner = DefaultOwner
	}

	var chat *domain.Chat
	chatID := strings.TrimSpace(req.ChatID)
	if chatID != "" {
		var err error
		chat, err = s.store.GetChat(ctx, chatID)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "failed to load chat")
		}
		if chat == nil {
			return nil, apperrors.New(apperrors.CodeNotFound, fmt.Sprintf("chat %s not found", chatID),
				apperrors.WithMetadata("chat_id", chatID))
		}
	} else {
		chatID = newID("chat")
	}

	// The turn is reserved here so runs on one chat proceed in the order
	// their messages arrived.
	var slot *turn
	if s.cfg.RejectBusy {
		var ok bool
		if slot, ok = s.locks.TryReserve(chatID); !ok {
			return nil, apperrors.New(apperrors.CodeChatBusy, "",
				apperrors.WithMetadata("chat_id", chatID))
		}
	} else {
		slot = s.locks.Reserve(chatID)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &Run{
		ID:      newID("run"),
		ChatID:  chatID,
		NewChat: chat == nil,
		emitter: stream.NewEmitter(s.cfg.EventBuffer),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	stop := context.AfterFunc(ctx, r.Close)

	s.mu.Lock()
	s.runs[r.ID] = r
	s.mu.Unlock()
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		defer close(r.done)
		defer s.forget(r.ID)
		defer stop()
		defer cancel()
		s.execute(runCtx, r, chat, owner, message, slot)
	}()

	s.logger.Info("run started",
		zap.String("run_id", r.ID),
		zap.String("chat_id", chatID),
		zap.Bool("new_chat", r.NewChat))
	return r, nil
}

// CancelRun cancels a run in flight.
func (s *Service) CancelRun(runID string) error {
	s.mu.Lock()
	r, ok := s.runs[runID]
	s.mu.Unlock()
	if !ok {
		return apperrors.New(apperrors.CodeNotFound, fmt.Sprintf("run %s not found", runID),
			apperrors.WithMetadata("run_id", runID))
	}
	r.Cancel()
	s.logger.Info("run cancel requested", zap.String("run_id", runID))
	return nil
}

func (s *Service) forget(runID string) {
	s.mu.Lock()
	delete(s.runs, runID)
	s.mu.Unlock()
}

// execute runs the pipeline and terminates the stream.
func (s *Service) execute(ctx context.Context, r *Run, chat *domain.Chat, owner, message string, slot *turn) {
	logger := s.logger.With(zap.String("run_id", r.ID), zap.String("chat_id", r.ChatID))
	p := &pipeline{
		s:       s,
		r:       r,
		logger:  logger,
		emitCtx: context.WithoutCancel(ctx),
	}

	err := p.run(ctx, chat, owner, message, slot)
	if err != nil {
		if _, coded := apperrors.From(err); !coded && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			err = apperrors.Wrap(apperrors.CodeCancelled, err, "")
		}
		logger.Error("run failed", zap.Error(err))
		p.emit(domain.StepFatalError, domain.FatalErrorPayload{
			Error: apperrors.Describe(err),
			Code:  string(apperrors.CodeOf(err)),
		})
	} else {
		logger.Info("run completed")
	}

	r.emitter.Done(domain.DonePayload{
		RunID:                r.ID,
		ChatID:               r.ChatID,
		LastAssistantMessage: p.last,
	})
}

type pipeline struct {
	s       *Service
	r       *Run
	logger  *zap.Logger
	emitCtx context.Context
	last    *domain.Message
}

func (p *pipeline) emit(step domain.Step, payload interface{}) {
	if err := p.r.emitter.Progress(p.emitCtx, step, payload); err != nil {
		p.logger.Debug("dropped event", zap.String("step", string(step)), zap.Error(err))
	}
}

func (p *pipeline) run(ctx context.Context, chat *domain.Chat, owner, message string, slot *turn) error {
	s := p.s
	defer slot.Release()
	p.emit(domain.StepStatus, domain.StatusPayload{Message: "Initializing chat..."})

	if err := slot.Wait(ctx); err != nil {
		return err
	}

	if chat == nil {
		var err error
		if chat, err = s.createChat(ctx, p.r.ChatID, owner, message); err != nil {
			return err
		}
		p.emit(domain.StepChatCreated, domain.ChatCreatedPayload{Chat: chat})
	}

	history, err := s.memory.Recall(ctx, chat.ID, message, s.cfg.RecallK)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.logger.Warn("history recall failed, continuing without history", zap.Error(err))
		history = nil
	}
	p.emit(domain.StepHistoryRetrieved, domain.HistoryRetrievedPayload{Count: len(history)})

	userMsg := &domain.Message{
		ID:        newID("msg"),
		ChatID:    chat.ID,
		Role:      domain.RoleUser,
		Type:      domain.MessageTypeText,
		Content:   message,
		Metadata:  map[string]interface{}{"run_id": p.r.ID},
		CreatedAt: s.now(),
	}
	if err := s.store.CreateMessage(ctx, userMsg); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageFailure, err, "failed to save user message")
	}
	if err := s.memory.Remember(p.emitCtx, chat.ID, domain.RoleUser, message); err != nil {
		p.logger.Warn("failed to remember user message", zap.Error(err))
	}
	p.emit(domain.StepUserMessageSaved, domain.UserMessageSavedPayload{Message: userMsg})

	intention, err := s.classifier.Classify(ctx, message, history)
	if err != nil {
		return err
	}
	p.emit(domain.StepIntentionRecognized, domain.IntentionRecognizedPayload{Intention: intention})

	plan, err := s.planner.Plan(ctx, message, intention)
	if err != nil {
		return err
	}
	p.emit(domain.StepPlanGenerated, domain.PlanGeneratedPayload{Actions: plan.Actions()})
	if plan.Empty() {
		return nil
	}

	p.emit(domain.StepStatus, domain.StatusPayload{Message: fmt.Sprintf("Executing %d actions...", plan.Len())})
	outcome, err := s.executor.Execute(ctx, dispatcher.Target{RunID: p.r.ID, ChatID: chat.ID}, plan, p.r.emitter)
	if outcome != nil {
		p.last = outcome.LastAssistantMessage
	}
	return err
}

func (s *Service) createChat(ctx context.Context, chatID, owner, message string) (*domain.Chat, error) {
	now := s.now()
	chat := &domain.Chat{
		ID:        chatID,
		Title:     s.generateTitle(ctx, message),
		Status:    domain.ChatStatusActive,
		Owner:     owner,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateChat(ctx, chat); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "failed to create chat")
	}
	return chat, nil
}
