package clinic

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryDirectory is an in-memory Directory for tests and local runs
// without a database.
type MemoryDirectory struct {
	mu          sync.RWMutex
	memberships []Membership
	patients    map[uuid.UUID]Patient
	clinics     map[uuid.UUID]Clinic
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		patients: make(map[uuid.UUID]Patient),
		clinics:  make(map[uuid.UUID]Clinic),
	}
}

func (d *MemoryDirectory) AddClinic(c Clinic) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clinics[c.ID] = c
}

// AddMembership stores m, replacing any membership for the same user and
// clinic.
func (d *MemoryDirectory) AddMembership(m Membership) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.memberships {
		if d.memberships[i].UserID == m.UserID && d.memberships[i].ClinicID == m.ClinicID {
			d.memberships[i] = m
			return
		}
	}
	d.memberships = append(d.memberships, m)
}

func (d *MemoryDirectory) AddPatient(p Patient) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.patients[p.ID] = p
}

func (d *MemoryDirectory) Membership(_ context.Context, userID, clinicID uuid.UUID) (*Membership, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, m := range d.memberships {
		if m.UserID == userID && m.ClinicID == clinicID {
			cp := m
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("membership %s in clinic %s: %w", userID, clinicID, ErrNotFound)
}

func (d *MemoryDirectory) Patient(_ context.Context, id uuid.UUID) (*Patient, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.patients[id]
	if !ok {
		return nil, fmt.Errorf("patient %s: %w", id, ErrNotFound)
	}
	return &p, nil
}

func (d *MemoryDirectory) Clinic(_ context.Context, id uuid.UUID) (*Clinic, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.clinics[id]
	if !ok {
		return nil, fmt.Errorf("clinic %s: %w", id, ErrNotFound)
	}
	return &c, nil
}

func (d *MemoryDirectory) DefaultClinicFor(_ context.Context, doctorID uuid.UUID) (uuid.UUID, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, m := range d.memberships {
		if m.UserID == doctorID && m.IsDoctor() {
			return m.ClinicID, nil
		}
	}
	return uuid.Nil, fmt.Errorf("doctor %s has no clinic: %w", doctorID, ErrNotFound)
}
