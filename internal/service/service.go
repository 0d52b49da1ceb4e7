// Package service runs the orchestration pipeline for incoming chat messages
// and serves chat and message queries.
package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yuhaibao324/dipagt/internal/adapter/llm"
	"github.com/yuhaibao324/dipagt/internal/dispatcher"
	"github.com/yuhaibao324/dipagt/internal/domain"
	"github.com/yuhaibao324/dipagt/internal/memory"
	"github.com/yuhaibao324/dipagt/internal/planner"
	"github.com/yuhaibao324/dipagt/internal/stream"
)

// ChatStore is the persistence the service needs.
type ChatStore interface {
	CreateChat(ctx context.Context, chat *domain.Chat) error
	GetChat(ctx context.Context, chatID string) (*domain.Chat, error)
	ListChats(ctx context.Context, owner, search string, page domain.PageRequest) ([]domain.Chat, int, error)
	CreateMessage(ctx context.Context, message *domain.Message) error
	ListMessages(ctx context.Context, chatID string, page domain.PageRequest) ([]domain.Message, int, error)
}

// Memory recalls and stores conversation turns.
type Memory interface {
	Recall(ctx context.Context, chatID, query string, k int) ([]memory.Snippet, error)
	Remember(ctx context.Context, chatID string, role domain.MessageRole, content string) error
}

// Classifier recognizes the intention of a message.
type Classifier interface {
	Classify(ctx context.Context, message string, history []memory.Snippet) (domain.Intention, error)
}

// Planner turns a message and its intention into a plan.
type Planner interface {
	Plan(ctx context.Context, message string, intention domain.Intention) (*planner.Plan, error)
}

// Executor runs a plan.
type Executor interface {
	Execute(ctx context.Context, target dispatcher.Target, plan *planner.Plan, emitter *stream.Emitter) (*dispatcher.Outcome, error)
}

// Config tunes the pipeline.
type Config struct {
	// EventBuffer is the per-run event queue size.
	EventBuffer int
	// RecallK is the number of turns recalled per message.
	RecallK int
	// RejectBusy rejects a message on a chat with a run in flight instead
	// of queueing it.
	RejectBusy bool
	// TitleModel is the model used to title new chats.
	TitleModel string
}

// Deps are the collaborators of the service.
type Deps struct {
	Store      ChatStore
	Memory     Memory
	Classifier Classifier
	Planner    Planner
	Executor   Executor
	LLM        llm.LLMClient
}

// Service is the entry point of the orchestration pipeline.
type Service struct {
	store      ChatStore
	memory     Memory
	classifier Classifier
	planner    Planner
	executor   Executor
	llm        llm.LLMClient
	cfg        Config
	logger     *zap.Logger

	locks *chatLocks

	mu   sync.Mutex
	runs map[string]*Run
	wg   sync.WaitGroup

	now func() time.Time
}

// New creates a service.
func New(deps Deps, cfg Config, logger *zap.Logger) *Service {
	if cfg.EventBuffer < 1 {
		cfg.EventBuffer = 64
	}
	if cfg.RecallK < 1 {
		cfg.RecallK = 10
	}
	return &Service{
		store:      deps.Store,
		memory:     deps.Memory,
		classifier: deps.Classifier,
		planner:    deps.Planner,
		executor:   deps.Executor,
		llm:        deps.LLM,
		cfg:        cfg,
		logger:     logger.Named("service"),
		locks:      newChatLocks(),
		runs:       make(map[string]*Run),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Shutdown cancels every run in flight and waits for their pipelines to
// finish or ctx to end.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, r := range s.runs {
		r.cancel()
	}
	s.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
