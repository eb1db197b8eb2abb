package notification

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo is a Repository backed by a map. It is used by tests and by the
// server when no database is configured.
type MemoryRepo struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*Notification
	seq   []uuid.UUID
	now   func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{items: make(map[uuid.UUID]*Notification), now: time.Now}
}

func (r *MemoryRepo) Create(_ context.Context, n *Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n.CreatedAt = r.now().UTC()
	cp := *n
	r.items[n.ID] = &cp
	r.seq = append(r.seq, n.ID)
	return nil
}

func (r *MemoryRepo) List(_ context.Context, f ListFilter) ([]*Notification, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*Notification
	// newest first; insertion order breaks created_at ties
	for i := len(r.seq) - 1; i >= 0; i-- {
		n := r.items[r.seq[i]]
		if n.RecipientID != f.RecipientID {
			continue
		}
		if f.UnreadOnly && n.ReadAt != nil {
			continue
		}
		cp := *n
		matched = append(matched, &cp)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if f.Offset >= total {
		return nil, total, nil
	}
	matched = matched[f.Offset:]
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, total, nil
}

func (r *MemoryRepo) MarkRead(_ context.Context, id, recipientID uuid.UUID, at time.Time) (*Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.items[id]
	if !ok || n.RecipientID != recipientID {
		return nil, ErrNotFound
	}
	if n.ReadAt == nil {
		t := at
		n.ReadAt = &t
	}
	cp := *n
	return &cp, nil
}
