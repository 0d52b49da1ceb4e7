package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/yuhaibao324/dipagt/internal/domain"
	apperrors "github.com/yuhaibao324/dipagt/internal/errors"
)

// GetChat returns a chat or NOT_FOUND.
func (s *Service) GetChat(ctx context.Context, chatID string) (*domain.Chat, error) {
	if strings.TrimSpace(chatID) == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "chat_id is required")
	}
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "failed to load chat")
	}
	if chat == nil {
		return nil, apperrors.New(apperrors.CodeNotFound, fmt.Sprintf("chat %s not found", chatID),
			apperrors.WithMetadata("chat_id", chatID))
	}
	return chat, nil
}

// ListChats returns one page of an owner's chats, most recently updated
// first.
func (s *Service) ListChats(ctx context.Context, owner, search string, page domain.PageRequest) (domain.Page[domain.Chat], error) {
	page = domain.NewPageRequest(page.Page, page.PageSize)
	if owner = strings.TrimSpace(owner); owner == "" {
		owner = DefaultOwner
	}
	chats, total, err := s.store.ListChats(ctx, owner, search, page)
	if err != nil {
		return domain.Page[domain.Chat]{}, apperrors.Wrap(apperrors.CodeStorageFailure, err, "failed to list chats")
	}
	return domain.NewPage(chats, total, page), nil
}

// ListMessages returns one page of a chat's messages in chronological
// order. Page 1 holds the newest messages.
func (s *Service) ListMessages(ctx context.Context, chatID string, page domain.PageRequest) (domain.Page[domain.Message], error) {
	if _, err := s.GetChat(ctx, chatID); err != nil {
		return domain.Page[domain.Message]{}, err
	}
	page = domain.NewPageRequest(page.Page, page.PageSize)
	messages, total, err := s.store.ListMessages(ctx, chatID, page)
	if err != nil {
		return domain.Page[domain.Message]{}, apperrors.Wrap(apperrors.CodeStorageFailure, err, "failed to list messages")
	}
	return domain.NewPage(messages, total, page), nil
}
