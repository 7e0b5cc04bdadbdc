package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/overlap"
)

// MemoryRepository keeps appointments in process and enforces the same
// one-active-claim rule as the Postgres partial unique index.
type MemoryRepository struct {
	mu           sync.RWMutex
	appointments map[uuid.UUID]*Appointment
	now          func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		appointments: make(map[uuid.UUID]*Appointment),
		now:          time.Now,
	}
}

func clone(a *Appointment) *Appointment {
	out := *a
	if a.CompletedAt != nil {
		t := *a.CompletedAt
		out.CompletedAt = &t
	}
	if a.CancelledAt != nil {
		t := *a.CancelledAt
		out.CancelledAt = &t
	}
	return &out
}

// claimedLocked must be called with mu held.
func (r *MemoryRepository) claimedLocked(target overlap.Claim) bool {
	claims := make([]overlap.Claim, 0, len(r.appointments))
	for _, a := range r.appointments {
		claims = append(claims, a.Claim())
	}
	_, ok := overlap.ConflictingClaim(target, claims, overlap.ClaimScope{ExcludeID: target.ID})
	return ok
}

func (r *MemoryRepository) Create(_ context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a.Status != StatusCancelled && r.claimedLocked(a.Claim()) {
		return ErrSlotAlreadyClaimed
	}
	now := r.now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	r.appointments[a.ID] = clone(a)
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return clone(a), nil
}

func (r *MemoryRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.appointments[id]; !ok {
		return ErrAppointmentNotFound
	}
	delete(r.appointments, id)
	return nil
}

func (r *MemoryRepository) UpdateReferences(_ context.Context, id uuid.UUID, from, to SlotRef) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if a.Status != StatusPending {
		return nil, notPending(a.Status)
	}
	if a.Ref() != from {
		return nil, ErrAppointmentMoved
	}

	next := clone(a)
	next.ScheduleID = to.ScheduleID
	next.SlotID = to.SlotID
	if r.claimedLocked(next.Claim()) {
		return nil, ErrSlotAlreadyClaimed
	}
	next.UpdatedAt = r.now()
	r.appointments[id] = next
	return clone(next), nil
}

func (r *MemoryRepository) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if a.Status != from {
		return nil, notPending(a.Status)
	}
	next := clone(a)
	if err := next.apply(to, r.now()); err != nil {
		return nil, err
	}
	r.appointments[id] = next
	return clone(next), nil
}

func (r *MemoryRepository) ListActiveForSlot(_ context.Context, scheduleID, slotID uuid.UUID) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Appointment
	for _, a := range r.appointments {
		if a.ScheduleID == scheduleID && a.SlotID == slotID && a.Status != StatusCancelled {
			out = append(out, *clone(a))
		}
	}
	sortByCreated(out)
	return out, nil
}

func (r *MemoryRepository) ListByPatient(_ context.Context, patientDNI string, limit, offset int) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Appointment
	for _, a := range r.appointments {
		if a.PatientDNI == patientDNI {
			out = append(out, *clone(a))
		}
	}
	// Newest first, matching the Postgres ordering.
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func sortByCreated(list []Appointment) {
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
}
