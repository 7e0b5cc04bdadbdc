package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/overlap"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// Appointment references its schedule and slot by value; the slot lives in
// the schedule store.
type Appointment struct {
	ID            uuid.UUID
	PatientDNI    string
	ScheduleID    uuid.UUID
	SlotID        uuid.UUID
	CostCents     int64
	PaymentMethod string
	Status        Status
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
	CancelledAt   *time.Time
}

// SlotRef names a (schedule, slot) pair.
type SlotRef struct {
	ScheduleID uuid.UUID
	SlotID     uuid.UUID
}

func (a *Appointment) Ref() SlotRef {
	return SlotRef{ScheduleID: a.ScheduleID, SlotID: a.SlotID}
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransition reports whether an appointment in s may move to to. Only
// PENDING appointments move, and never back to PENDING.
func (s Status) CanTransition(to Status) bool {
	return s == StatusPending && to.Terminal()
}

func (a *Appointment) CanCancel() bool   { return a.Status.CanTransition(StatusCancelled) }
func (a *Appointment) CanComplete() bool { return a.Status.CanTransition(StatusCompleted) }

// Claim returns the appointment's hold on its (schedule, slot) pair.
func (a *Appointment) Claim() overlap.Claim {
	return overlap.Claim{
		ID:         a.ID,
		ScheduleID: a.ScheduleID,
		SlotID:     a.SlotID,
		PatientDNI: a.PatientDNI,
		Cancelled:  a.Status == StatusCancelled,
	}
}

// apply moves a to the given status, stamping the matching timestamp.
func (a *Appointment) apply(to Status, at time.Time) error {
	if !a.Status.CanTransition(to) {
		return notPending(a.Status)
	}
	a.Status = to
	a.UpdatedAt = at
	switch to {
	case StatusCompleted:
		a.CompletedAt = &at
	case StatusCancelled:
		a.CancelledAt = &at
	}
	return nil
}

func Claims(list []Appointment) []overlap.Claim {
	out := make([]overlap.Claim, len(list))
	for i := range list {
		out[i] = list[i].Claim()
	}
	return out
}
