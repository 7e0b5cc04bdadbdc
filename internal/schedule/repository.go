package schedule

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ConflictCheck inspects the schedules that share a date with a new schedule
// and either its practitioner or its room. A non-nil error aborts creation.
type ConflictCheck func(candidates []Schedule) error

// Repository persists schedules and their slots.
type Repository interface {
	// CreateSchedule stores s with its slots. The candidate lookup, check and
	// insert happen atomically with respect to other creations.
	CreateSchedule(ctx context.Context, s *Schedule, check ConflictCheck) error
	GetSchedule(ctx context.Context, id uuid.UUID) (*Schedule, error)
	ListSchedules(ctx context.Context, practitionerID uuid.UUID, date time.Time) ([]Schedule, error)
	// DeleteSchedule removes the schedule and its slots unless a slot is occupied.
	DeleteSchedule(ctx context.Context, id uuid.UUID) error

	GetSlot(ctx context.Context, scheduleID, slotID uuid.UUID) (*SlotSnapshot, error)
	// TransitionSlot applies ev as a single check-and-set. appointmentID is
	// the new holder for EventOccupy and the expected holder for EventRelease.
	TransitionSlot(ctx context.Context, scheduleID, slotID uuid.UUID, ev SlotEvent, appointmentID *uuid.UUID) (*Slot, error)
}
