package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo is an in-memory AppointmentRepository. Overlap is re-checked
// under the write lock so racing creates behave like the database
// exclusion constraint.
type MemoryRepo struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*Appointment
	now   func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{items: make(map[uuid.UUID]*Appointment), now: time.Now}
}

func clone(a *Appointment) *Appointment {
	cp := *a
	return &cp
}

// checkLocked fails when a collides with another blocking
// appointment or reuses a linked remote event. Callers hold mu.
func (r *MemoryRepo) checkLocked(a *Appointment) error {
	if !a.Status.Blocking() && !a.HasExternalEvent() {
		return nil
	}
	start, end, err := a.Window()
	if err != nil {
		return err
	}
	for _, other := range r.items {
		if other.ID == a.ID || other.DoctorID != a.DoctorID {
			continue
		}
		if a.HasExternalEvent() && other.HasExternalEvent() && *a.ExternalCalendarEventID == *other.ExternalCalendarEventID {
			return ErrDuplicateExternalEvent
		}
		if !a.Status.Blocking() || !other.Status.Blocking() || other.Date != a.Date {
			continue
		}
		bs, be, err := other.Window()
		if err != nil {
			continue
		}
		if Overlaps(start, end, bs, be) {
			return ErrConflict
		}
	}
	return nil
}

func (r *MemoryRepo) Create(_ context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if err := r.checkLocked(a); err != nil {
		return err
	}
	now := r.now()
	a.CreatedAt, a.UpdatedAt = now, now
	r.items[a.ID] = clone(a)
	return nil
}

func (r *MemoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(a), nil
}

func (r *MemoryRepo) Update(_ context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.items[a.ID]
	if !ok {
		return ErrNotFound
	}
	if err := r.checkLocked(a); err != nil {
		return err
	}
	next := clone(a)
	// sync bookkeeping is owned by MarkSynced and MarkReminderSent
	next.ExternalCalendarEventID = cur.ExternalCalendarEventID
	next.SyncEnabled = cur.SyncEnabled
	next.LastSyncAt = cur.LastSyncAt
	next.ReminderSentAt = cur.ReminderSentAt
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = r.now()
	a.UpdatedAt = next.UpdatedAt
	r.items[a.ID] = next
	return nil
}

func (r *MemoryRepo) List(_ context.Context, f ListFilter) ([]*Appointment, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	statuses := make(map[Status]bool, len(f.Statuses))
	for _, s := range f.Statuses {
		statuses[s] = true
	}

	var matched []*Appointment
	for _, a := range r.items {
		switch {
		case f.ClinicID != uuid.Nil && a.ClinicID != f.ClinicID:
			continue
		case f.DoctorID != nil && a.DoctorID != *f.DoctorID:
			continue
		case f.PatientID != nil && (a.PatientID == nil || *a.PatientID != *f.PatientID):
			continue
		case len(statuses) > 0 && !statuses[a.Status]:
			continue
		case f.From != "" && a.Date < f.From:
			continue
		case f.To != "" && a.Date > f.To:
			continue
		case f.NeedsPatientAssignment != nil && a.NeedsPatientAssignment != *f.NeedsPatientAssignment:
			continue
		}
		matched = append(matched, clone(a))
	}
	sortByStart(matched)

	total := len(matched)
	if f.Offset >= total {
		return []*Appointment{}, total, nil
	}
	matched = matched[f.Offset:]
	if f.Limit > 0 && f.Limit < len(matched) {
		matched = matched[:f.Limit]
	}
	return matched, total, nil
}

func (r *MemoryRepo) FindOverlapping(_ context.Context, doctorID uuid.UUID, date string, startMin, endMin int, excludeID *uuid.UUID, limit int) ([]*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found []*Appointment
	for _, a := range r.items {
		if a.DoctorID != doctorID || a.Date != date || !a.Status.Blocking() {
			continue
		}
		if excludeID != nil && a.ID == *excludeID {
			continue
		}
		s, e, err := a.Window()
		if err != nil {
			continue
		}
		if Overlaps(startMin, endMin, s, e) {
			found = append(found, clone(a))
		}
	}
	sortByStart(found)
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}
	return found, nil
}

func (r *MemoryRepo) ExternalEventIDs(_ context.Context, doctorID uuid.UUID) (map[string]struct{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make(map[string]struct{})
	for _, a := range r.items {
		if a.DoctorID == doctorID && a.HasExternalEvent() {
			ids[*a.ExternalCalendarEventID] = struct{}{}
		}
	}
	return ids, nil
}

func (r *MemoryRepo) MarkSynced(_ context.Context, id uuid.UUID, externalEventID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.items[id]
	if !ok {
		return ErrNotFound
	}
	for _, other := range r.items {
		if other.ID != id && other.DoctorID == a.DoctorID && other.HasExternalEvent() && *other.ExternalCalendarEventID == externalEventID {
			return ErrDuplicateExternalEvent
		}
	}
	ext := externalEventID
	a.ExternalCalendarEventID = &ext
	a.SyncEnabled = true
	a.LastSyncAt = &at
	return nil
}

func (r *MemoryRepo) ListReminderCandidates(_ context.Context, from, to time.Time) ([]*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lo, hi := from.Format(wallClockLayout), to.Format(wallClockLayout)
	var found []*Appointment
	for _, a := range r.items {
		if a.ReminderSentAt != nil || a.Status.Terminal() {
			continue
		}
		start := a.Date + " " + a.Time
		if start >= lo && start < hi {
			found = append(found, clone(a))
		}
	}
	sortByStart(found)
	return found, nil
}

func (r *MemoryRepo) MarkReminderSent(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.items[id]
	if !ok {
		return false, ErrNotFound
	}
	if a.ReminderSentAt != nil {
		return false, nil
	}
	a.ReminderSentAt = &at
	return true, nil
}

func sortByStart(items []*Appointment) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Date != items[j].Date {
			return items[i].Date < items[j].Date
		}
		if items[i].Time != items[j].Time {
			return items[i].Time < items[j].Time
		}
		return items[i].ID.String() < items[j].ID.String()
	})
}
