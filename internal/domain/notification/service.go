package notification

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/clinic/scheduler/pkg/apperrors"
)

// Service is the read side of notifications. Every call is scoped to the
// recipient.
type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

func (s *Service) List(ctx context.Context, recipientID uuid.UUID, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	if recipientID == uuid.Nil {
		return nil, 0, apperrors.Unauthorized("authentication required")
	}
	items, total, err := s.repo.List(ctx, ListFilter{RecipientID: recipientID, UnreadOnly: unreadOnly, Limit: limit, Offset: offset})
	if err != nil {
		return nil, 0, apperrors.Internal(err)
	}
	return items, total, nil
}

func (s *Service) MarkRead(ctx context.Context, recipientID, id uuid.UUID) (*Notification, error) {
	if recipientID == uuid.Nil {
		return nil, apperrors.Unauthorized("authentication required")
	}
	n, err := s.repo.MarkRead(ctx, id, recipientID, s.now().UTC())
	if errors.Is(err, ErrNotFound) {
		return nil, apperrors.NotFound("notification not found")
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return n, nil
}
