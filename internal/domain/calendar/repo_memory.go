package calendar

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type MemoryCredentialRepo struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*Credential
	now   func() time.Time
}

func NewMemoryCredentialRepo() *MemoryCredentialRepo {
	return &MemoryCredentialRepo{items: make(map[uuid.UUID]*Credential), now: time.Now}
}

func (r *MemoryCredentialRepo) Save(_ context.Context, c *Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now().UTC()
	if prev, ok := r.items[c.DoctorID]; ok {
		c.CreatedAt = prev.CreatedAt
		c.LastSyncAt = prev.LastSyncAt
		c.LastSyncStatus = prev.LastSyncStatus
		c.LastSyncError = prev.LastSyncError
	} else {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	cp := *c
	r.items[c.DoctorID] = &cp
	return nil
}

func (r *MemoryCredentialRepo) Get(_ context.Context, doctorID uuid.UUID) (*Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.items[doctorID]
	if !ok {
		return nil, fmt.Errorf("doctor %s: %w", doctorID, ErrNotConnected)
	}
	cp := *c
	return &cp, nil
}

func (r *MemoryCredentialRepo) Delete(_ context.Context, doctorID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[doctorID]; !ok {
		return fmt.Errorf("doctor %s: %w", doctorID, ErrNotConnected)
	}
	delete(r.items, doctorID)
	return nil
}

func (r *MemoryCredentialRepo) UpdateTokens(_ context.Context, doctorID uuid.UUID, accessToken, refreshToken string, expiry time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.items[doctorID]
	if !ok {
		return fmt.Errorf("doctor %s: %w", doctorID, ErrNotConnected)
	}
	c.AccessToken = accessToken
	c.RefreshToken = refreshToken
	c.TokenExpiresAt = expiry
	c.UpdatedAt = r.now().UTC()
	return nil
}

func (r *MemoryCredentialRepo) RecordSyncResult(_ context.Context, doctorID uuid.UUID, at time.Time, status, errText string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.items[doctorID]
	if !ok {
		return fmt.Errorf("doctor %s: %w", doctorID, ErrNotConnected)
	}
	c.LastSyncAt = &at
	c.LastSyncStatus = status
	c.LastSyncError = nil
	if errText != "" {
		c.LastSyncError = &errText
	}
	return nil
}

func (r *MemoryCredentialRepo) ListConnected(_ context.Context) ([]uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(r.items))
	for id := range r.items {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}
