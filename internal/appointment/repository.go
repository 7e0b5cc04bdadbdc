package appointment

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
)

var (
	ErrAppointmentNotFound   = apperr.NotFound("appointment_not_found", "appointment not found")
	ErrSlotAlreadyClaimed    = apperr.Conflict("slot_already_booked", "slot already has an active appointment")
	ErrAppointmentNotPending = apperr.InvalidState("appointment_not_pending", "only pending appointments can change")
	ErrAppointmentMoved      = apperr.Conflict("appointment_moved", "appointment was moved by another request")
	ErrMissingPatientDNI     = apperr.Validation("missing_patient_dni", "patient_dni is required")
)

func notPending(current Status) error {
	return fmt.Errorf("appointment is %s: %w", current, ErrAppointmentNotPending)
}

// Repository is the appointment store.
type Repository interface {
	// Create fails with ErrSlotAlreadyClaimed when another non-cancelled
	// appointment holds the same (schedule, slot) pair.
	Create(ctx context.Context, a *Appointment) error
	Get(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Delete(ctx context.Context, id uuid.UUID) error

	// UpdateReferences rebinds a PENDING appointment from one pair to another.
	// It fails with ErrAppointmentMoved when the appointment no longer points
	// at from.
	UpdateReferences(ctx context.Context, id uuid.UUID, from, to SlotRef) (*Appointment, error)
	// UpdateStatus is a conditional from -> to update.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error)

	// ListActiveForSlot returns the non-cancelled appointments bound to the pair.
	ListActiveForSlot(ctx context.Context, scheduleID, slotID uuid.UUID) ([]Appointment, error)
	ListByPatient(ctx context.Context, patientDNI string, limit, offset int) ([]Appointment, error)
}
