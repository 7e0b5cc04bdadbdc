package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/booking"
	"github.com/hackgods/clinic-scheduling/internal/schedule"
)

type CreateScheduleRequest struct {
	PractitionerID string `json:"practitioner_id"`
	SpecialtyID    string `json:"specialty_id"`
	Room           string `json:"room"`
	Date           string `json:"date"`
	StartTime      string `json:"start_time"`
	EndTime        string `json:"end_time"`
	SlotMinutes    int    `json:"slot_minutes,omitempty"`
}

type OccupySlotRequest struct {
	AppointmentID string `json:"appointment_id"`
}

// ReleaseSlotRequest is optional. With an appointment_id the slot is only
// freed while that appointment holds it.
type ReleaseSlotRequest struct {
	AppointmentID string `json:"appointment_id"`
}

type ScheduleListResponse struct {
	Items []schedule.Schedule `json:"items"`
}

type CreateAppointmentRequest struct {
	PatientDNI    string `json:"patient_dni"`
	ScheduleID    string `json:"schedule_id"`
	SlotID        string `json:"slot_id"`
	PaymentMethod string `json:"payment_method"`
}

type UpdateAppointmentRequest struct {
	ScheduleID string `json:"schedule_id"`
	SlotID     string `json:"slot_id"`
	PatientDNI string `json:"patient_dni,omitempty"`
}

type AppointmentResponse struct {
	ID            uuid.UUID              `json:"id"`
	PatientDNI    string                 `json:"patient_dni"`
	ScheduleID    uuid.UUID              `json:"schedule_id"`
	SlotID        uuid.UUID              `json:"slot_id"`
	CostCents     int64                  `json:"cost_cents"`
	PaymentMethod string                 `json:"payment_method,omitempty"`
	Status        string                 `json:"status"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
	CompletedAt   *time.Time             `json:"completed_at,omitempty"`
	CancelledAt   *time.Time             `json:"cancelled_at,omitempty"`
	Slot          *schedule.SlotSnapshot `json:"slot,omitempty"`
	Patient       *booking.Patient       `json:"patient,omitempty"`
	Payment       *booking.PaymentResult `json:"payment,omitempty"`
}

type AppointmentListResponse struct {
	Items []AppointmentResponse `json:"items"`
}

func toAppointmentResponse(a appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:            a.ID,
		PatientDNI:    a.PatientDNI,
		ScheduleID:    a.ScheduleID,
		SlotID:        a.SlotID,
		CostCents:     a.CostCents,
		PaymentMethod: a.PaymentMethod,
		Status:        string(a.Status),
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
		CompletedAt:   a.CompletedAt,
		CancelledAt:   a.CancelledAt,
	}
}

func detailsResponse(d *booking.AppointmentDetails) AppointmentResponse {
	resp := toAppointmentResponse(d.Appointment)
	resp.Slot = d.Slot
	resp.Patient = d.Patient
	resp.Payment = d.Payment
	return resp
}
