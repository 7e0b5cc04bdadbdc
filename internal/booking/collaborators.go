package booking

import (
	"context"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/schedule"
)

// Patient as returned by the patient directory.
type Patient struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DateOfBirth string `json:"dob"`
}

type Specialty struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	FixedCostCents int64     `json:"fixed_cost_cents"`
}

type Charge struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	PatientDNI    string    `json:"patient_dni"`
	AmountCents   int64     `json:"amount_cents"`
	Method        string    `json:"method"`
}

// SlotGateway is the part of the schedule manager the orchestrator drives.
type SlotGateway interface {
	GetSlot(ctx context.Context, scheduleID, slotID uuid.UUID) (*schedule.SlotSnapshot, error)
	OccupySlot(ctx context.Context, scheduleID, slotID, appointmentID uuid.UUID) error
	// ReleaseSlot frees the slot only while appointmentID holds it.
	ReleaseSlot(ctx context.Context, scheduleID, slotID, appointmentID uuid.UUID) error
}

type PatientDirectory interface {
	GetPatientByDNI(ctx context.Context, dni string) (*Patient, error)
}

type SpecialtyCatalog interface {
	GetSpecialty(ctx context.Context, id uuid.UUID) (*Specialty, error)
}

type PaymentRegistrar interface {
	RegisterCharge(ctx context.Context, c Charge) error
	CaptureCharge(ctx context.Context, appointmentID uuid.UUID) error
}

// LocalSlots runs the schedule manager in the same process.
type LocalSlots struct {
	Manager *schedule.Service
}

func (l LocalSlots) GetSlot(ctx context.Context, scheduleID, slotID uuid.UUID) (*schedule.SlotSnapshot, error) {
	return l.Manager.GetSlot(ctx, scheduleID, slotID)
}

func (l LocalSlots) OccupySlot(ctx context.Context, scheduleID, slotID, appointmentID uuid.UUID) error {
	_, err := l.Manager.OccupySlot(ctx, scheduleID, slotID, appointmentID)
	return err
}

func (l LocalSlots) ReleaseSlot(ctx context.Context, scheduleID, slotID, appointmentID uuid.UUID) error {
	_, err := l.Manager.ReleaseSlotFor(ctx, scheduleID, slotID, appointmentID)
	return err
}

// FixedPriceCatalog prices every specialty the same. appointment-server falls
// back to it when no specialty service is configured.
type FixedPriceCatalog struct {
	CostCents int64
}

func (c FixedPriceCatalog) GetSpecialty(_ context.Context, id uuid.UUID) (*Specialty, error) {
	return &Specialty{ID: id, FixedCostCents: c.CostCents}, nil
}
