// Package memory implements the conversation memory gateway: recall of the
// most relevant prior turns of a chat and appending of new turns.
package memory

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/yuhaibao324/dipagt/internal/domain"
	apperrors "github.com/yuhaibao324/dipagt/internal/errors"
)

// Turn is one remembered conversation turn.
type Turn struct {
	Role    domain.MessageRole `json:"role"`
	Content string             `json:"content"`
	At      time.Time          `json:"at"`
}

// Snippet is a recalled turn with its relevance score.
type Snippet struct {
	Role    domain.MessageRole `json:"role"`
	Content string             `json:"content"`
	Score   float64            `json:"score"`
	At      time.Time          `json:"at"`
}

// Text renders the snippet as a prompt line.
func (s Snippet) Text() string {
	return string(s.Role) + ": " + s.Content
}

// Store is a recall backend. Turns returns a chat's turns oldest first.
type Store interface {
	Append(ctx context.Context, chatID string, turn Turn) error
	Turns(ctx context.Context, chatID string) ([]Turn, error)
	Close() error
}

// Gateway ranks and stores turns on top of a Store.
type Gateway struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// NewGateway creates a gateway owning store. Close releases it.
func NewGateway(store Store, logger *zap.Logger) *Gateway {
	return &Gateway{
		store:  store,
		logger: logger.Named("memory"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Recall returns up to k turns of chatID, most relevant to query first. Turns
// with equal relevance are returned newest first. Backend failures are
// reported as MEMORY_UNAVAILABLE.
func (g *Gateway) Recall(ctx context.Context, chatID, query string, k int) ([]Snippet, error) {
	if k <= 0 || chatID == "" {
		return nil, nil
	}
	turns, err := g.store.Turns(ctx, chatID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeMemoryUnavailable, err, "recall failed")
	}

	queryTokens := tokenize(query)
	type scored struct {
		Snippet
		pos int
	}
	ranked := make([]scored, len(turns))
	for i, t := range turns {
		ranked[i] = scored{
			Snippet: Snippet{Role: t.Role, Content: t.Content, At: t.At, Score: relevance(queryTokens, t.Content)},
			pos:     i,
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].pos > ranked[j].pos
	})

	if len(ranked) > k {
		ranked = ranked[:k]
	}
	out := make([]Snippet, len(ranked))
	for i, r := range ranked {
		out[i] = r.Snippet
	}
	return out, nil
}

// Remember appends a turn to chatID. Blank turns are stored too so every
// remembered turn can be recalled.
func (g *Gateway) Remember(ctx context.Context, chatID string, role domain.MessageRole, content string) error {
	if err := g.store.Append(ctx, chatID, Turn{Role: role, Content: content, At: g.now()}); err != nil {
		return apperrors.Wrap(apperrors.CodeMemoryUnavailable, err, "remember failed")
	}
	return nil
}

// Close shuts the backend down.
func (g *Gateway) Close() error {
	g.logger.Debug("closing memory backend")
	return g.store.Close()
}

// relevance is the fraction of query tokens present in content.
func relevance(queryTokens map[string]struct{}, content string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	contentTokens := tokenize(content)
	hits := 0
	for tok := range queryTokens {
		if _, ok := contentTokens[tok]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(queryTokens))
}

func tokenize(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < 2 {
			continue
		}
		out[f] = struct{}{}
	}
	return out
}
