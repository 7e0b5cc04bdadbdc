package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/observability/metrics"
	"github.com/hackgods/clinic-scheduling/internal/overlap"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/schedule"
	"github.com/hackgods/clinic-scheduling/pkg/logging"
)

var bookingTracer = otel.Tracer("clinic.internal.booking")

var (
	ErrSlotNotAvailable = apperr.Conflict("slot_not_available", "slot is not available")
	ErrAlreadyBooked    = apperr.Conflict("appointment_overlap", "patient already holds this slot")
	ErrSlotBeingBooked  = apperr.Conflict("slot_being_booked", "slot is currently being booked, please retry")
	ErrMissingSlotRef   = apperr.Validation("missing_slot_reference", "schedule_id and slot_id are required")
	ErrPatientMismatch  = apperr.Validation("patient_mismatch", "patient_dni does not match the appointment")
)

const (
	PaymentRegistered = "registered"
	PaymentCaptured   = "captured"
	PaymentFailed     = "failed"
	PaymentSkipped    = "skipped"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

type PaymentResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// AppointmentDetails is an appointment with its slot and patient resolved.
// Slot and Patient are nil when their lookup failed.
type AppointmentDetails struct {
	Appointment appointment.Appointment
	Slot        *schedule.SlotSnapshot
	Patient     *Patient
	Payment     *PaymentResult
}

type BookInput struct {
	PatientDNI    string
	ScheduleID    uuid.UUID
	SlotID        uuid.UUID
	PaymentMethod string
}

type UpdateInput struct {
	ScheduleID uuid.UUID
	SlotID     uuid.UUID
	PatientDNI string // optional; must match the appointment when set
}

// Deps wires the orchestrator. Patients and Payments are optional.
type Deps struct {
	Appointments        appointment.Repository
	Slots               SlotGateway
	Specialties         SpecialtyCatalog
	Patients            PatientDirectory
	Payments            PaymentRegistrar
	Locker              redisclient.Locker
	Metrics             *metrics.BookingMetrics
	Logger              *logging.Logger
	CompensationTimeout time.Duration
}

// Service is the booking orchestrator. It owns no store of its own beyond
// the appointment repository and coordinates the schedule manager and the
// external collaborators through explicit saga steps.
type Service struct {
	appointments appointment.Repository
	slots        SlotGateway
	specialties  SpecialtyCatalog
	patients     PatientDirectory
	payments     PaymentRegistrar
	locker       redisclient.Locker
	metrics      *metrics.BookingMetrics
	logger       *logging.Logger
	compTimeout  time.Duration
}

func NewService(d Deps) *Service {
	if d.Appointments == nil {
		panic("booking: appointment repository required")
	}
	if d.Slots == nil {
		panic("booking: slot gateway required")
	}
	if d.Specialties == nil {
		panic("booking: specialty catalog required")
	}
	if d.Locker == nil {
		d.Locker = redisclient.NoopLocker{}
	}
	if d.Logger == nil {
		d.Logger = logging.Default()
	}
	if d.CompensationTimeout <= 0 {
		d.CompensationTimeout = 5 * time.Second
	}
	return &Service{
		appointments: d.Appointments,
		slots:        d.Slots,
		specialties:  d.Specialties,
		patients:     d.Patients,
		payments:     d.Payments,
		locker:       d.Locker,
		metrics:      d.Metrics,
		logger:       d.Logger,
		compTimeout:  d.CompensationTimeout,
	}
}

func (s *Service) newSaga(name string, steps ...step) *saga {
	return &saga{
		name:    name,
		steps:   steps,
		timeout: s.compTimeout,
		logger:  s.logger,
		metrics: s.metrics,
	}
}

// withSlotLock maps lock failures onto the booking error kinds.
func (s *Service) withSlotLock(ctx context.Context, scheduleID, slotID uuid.UUID, fn func(ctx context.Context) error) error {
	ran := false
	err := s.locker.WithSlotLock(ctx, scheduleID, slotID, func(ctx context.Context) error {
		ran = true
		return fn(ctx)
	})
	switch {
	case err == nil || ran:
		return err
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		return ErrSlotBeingBooked
	default:
		return apperr.Unavailable("lock_unavailable", "booking lock unavailable", err)
	}
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	if k := apperr.KindOf(err); k != "" {
		return string(k)
	}
	return "error"
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

// BookAppointment reserves a slot for a patient and registers the charge.
func (s *Service) BookAppointment(ctx context.Context, in BookInput) (details *AppointmentDetails, err error) {
	ctx, span := bookingTracer.Start(ctx, "booking.book")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(
		attribute.String("clinic.schedule_id", in.ScheduleID.String()),
		attribute.String("clinic.slot_id", in.SlotID.String()),
	)

	in.PatientDNI = strings.TrimSpace(in.PatientDNI)
	if in.PatientDNI == "" {
		return nil, appointment.ErrMissingPatientDNI
	}
	if in.ScheduleID == uuid.Nil || in.SlotID == uuid.Nil {
		return nil, ErrMissingSlotRef
	}

	defer func() {
		if err == nil {
			s.metrics.ObserveBooking("booked")
			return
		}
		s.metrics.ObserveBooking(outcomeOf(err))
	}()

	err = s.withSlotLock(ctx, in.ScheduleID, in.SlotID, func(ctx context.Context) error {
		var bookErr error
		details, bookErr = s.book(ctx, in)
		return bookErr
	})
	if err != nil {
		return nil, err
	}
	return details, nil
}

func (s *Service) book(ctx context.Context, in BookInput) (*AppointmentDetails, error) {
	snap, err := s.slots.GetSlot(ctx, in.ScheduleID, in.SlotID)
	if err != nil {
		return nil, fmt.Errorf("get slot: %w", err)
	}
	if snap.State != schedule.SlotAvailable {
		return nil, fmt.Errorf("slot is %s: %w", snap.State, ErrSlotNotAvailable)
	}

	target := overlap.Claim{ScheduleID: in.ScheduleID, SlotID: in.SlotID, PatientDNI: in.PatientDNI}
	if err := s.checkClaims(ctx, target, overlap.ClaimScope{PatientDNI: in.PatientDNI}); err != nil {
		return nil, err
	}

	specialty, err := s.specialties.GetSpecialty(ctx, snap.SpecialtyID)
	if err != nil {
		return nil, fmt.Errorf("get specialty: %w", err)
	}

	appt := &appointment.Appointment{
		ID:            uuid.New(),
		PatientDNI:    in.PatientDNI,
		ScheduleID:    in.ScheduleID,
		SlotID:        in.SlotID,
		CostCents:     specialty.FixedCostCents,
		PaymentMethod: in.PaymentMethod,
		Status:        appointment.StatusPending,
	}

	err = s.newSaga("book",
		step{
			name: "persist_appointment",
			action: func(ctx context.Context) error {
				return s.appointments.Create(ctx, appt)
			},
			compensate: func(ctx context.Context) error {
				return s.appointments.Delete(ctx, appt.ID)
			},
		},
		step{
			name: "occupy_slot",
			action: func(ctx context.Context) error {
				return s.occupy(ctx, appt.ScheduleID, appt.SlotID, appt.ID)
			},
		},
	).run(ctx)
	if err != nil {
		return nil, err
	}

	s.logger.Info("appointment booked",
		"appointment_id", appt.ID,
		"schedule_id", appt.ScheduleID,
		"slot_id", appt.SlotID,
		"cost_cents", appt.CostCents,
	)

	snap.State = schedule.SlotOccupied
	snap.AppointmentID = &appt.ID

	return &AppointmentDetails{
		Appointment: *appt,
		Slot:        snap,
		Patient:     s.lookupPatient(ctx, appt.PatientDNI),
		Payment:     s.registerCharge(ctx, appt),
	}, nil
}

// checkClaims rejects target when a live appointment already holds its pair
// within scope.
func (s *Service) checkClaims(ctx context.Context, target overlap.Claim, scope overlap.ClaimScope) error {
	existing, err := s.appointments.ListActiveForSlot(ctx, target.ScheduleID, target.SlotID)
	if err != nil {
		return fmt.Errorf("load slot appointments: %w", err)
	}
	if c, ok := overlap.ConflictingClaim(target, appointment.Claims(existing), scope); ok {
		return fmt.Errorf("appointment %s: %w", c.ID, ErrAlreadyBooked)
	}
	return nil
}

// occupy claims the slot for appointmentID. A state rejection means another
// booking won the slot after our read and is reported as a conflict.
func (s *Service) occupy(ctx context.Context, scheduleID, slotID, appointmentID uuid.UUID) error {
	err := s.slots.OccupySlot(ctx, scheduleID, slotID, appointmentID)
	if err == nil {
		return nil
	}
	if apperr.IsKind(err, apperr.KindInvalidState) {
		s.logger.Info("slot taken concurrently", "schedule_id", scheduleID, "slot_id", slotID, "error", err)
		return fmt.Errorf("occupy slot: %w", ErrSlotNotAvailable)
	}
	if apperr.IsKind(err, apperr.KindUnavailable) {
		s.reconcileOccupy(ctx, scheduleID, slotID, appointmentID)
	}
	return fmt.Errorf("occupy slot: %w", err)
}

// reconcileOccupy undoes an occupy whose outcome is unknown, for example after
// a timeout, but only when the slot is verifiably held by appointmentID.
func (s *Service) reconcileOccupy(ctx context.Context, scheduleID, slotID, appointmentID uuid.UUID) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.compTimeout)
	defer cancel()

	snap, err := s.slots.GetSlot(cctx, scheduleID, slotID)
	if err != nil {
		// The slot may stay OCCUPIED by an appointment that is about to be deleted.
		s.metrics.ObserveCompensation("occupy_slot", false)
		s.logger.Error("could not verify slot after failed occupy, slot may be orphaned",
			"schedule_id", scheduleID,
			"slot_id", slotID,
			"appointment_id", appointmentID,
			"error", err,
		)
		return
	}
	if snap.State != schedule.SlotOccupied || snap.AppointmentID == nil || *snap.AppointmentID != appointmentID {
		return
	}
	err = s.slots.ReleaseSlot(cctx, scheduleID, slotID, appointmentID)
	s.metrics.ObserveCompensation("occupy_slot", err == nil)
	if err != nil {
		s.logger.Error("release after uncertain occupy failed", "slot_id", slotID, "error", err)
	}
}

// registerCharge never fails the booking: the reservation stands and the
// failure is reported in the result.
func (s *Service) registerCharge(ctx context.Context, appt *appointment.Appointment) *PaymentResult {
	if s.payments == nil {
		return &PaymentResult{Status: PaymentSkipped}
	}
	err := s.payments.RegisterCharge(ctx, Charge{
		AppointmentID: appt.ID,
		PatientDNI:    appt.PatientDNI,
		AmountCents:   appt.CostCents,
		Method:        appt.PaymentMethod,
	})
	if err != nil {
		s.metrics.ObservePaymentFailure("register")
		s.logger.Error("payment registration failed",
			"appointment_id", appt.ID,
			"amount_cents", appt.CostCents,
			"error", err,
		)
		return &PaymentResult{Status: PaymentFailed, Error: err.Error()}
	}
	return &PaymentResult{Status: PaymentRegistered}
}

func (s *Service) lookupPatient(ctx context.Context, dni string) *Patient {
	if s.patients == nil {
		return nil
	}
	p, err := s.patients.GetPatientByDNI(ctx, dni)
	if err != nil {
		s.logger.Warn("patient lookup failed", "error", err)
		return nil
	}
	return p
}

func (s *Service) lookupSlot(ctx context.Context, scheduleID, slotID uuid.UUID) *schedule.SlotSnapshot {
	snap, err := s.slots.GetSlot(ctx, scheduleID, slotID)
	if err != nil {
		s.logger.Warn("slot lookup failed", "schedule_id", scheduleID, "slot_id", slotID, "error", err)
		return nil
	}
	return snap
}

func (s *Service) resolve(ctx context.Context, a *appointment.Appointment) *AppointmentDetails {
	return &AppointmentDetails{
		Appointment: *a,
		Slot:        s.lookupSlot(ctx, a.ScheduleID, a.SlotID),
		Patient:     s.lookupPatient(ctx, a.PatientDNI),
	}
}

// UpdateAppointment moves a PENDING appointment to another slot.
func (s *Service) UpdateAppointment(ctx context.Context, id uuid.UUID, in UpdateInput) (details *AppointmentDetails, err error) {
	ctx, span := bookingTracer.Start(ctx, "booking.update")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("clinic.appointment_id", id.String()))
	defer func() { s.metrics.ObserveTransition("update", outcomeOf(err)) }()

	if in.ScheduleID == uuid.Nil || in.SlotID == uuid.Nil {
		return nil, ErrMissingSlotRef
	}

	current, err := s.appointments.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	if dni := strings.TrimSpace(in.PatientDNI); dni != "" && dni != current.PatientDNI {
		return nil, ErrPatientMismatch
	}
	if current.Status != appointment.StatusPending {
		return nil, fmt.Errorf("appointment is %s: %w", current.Status, appointment.ErrAppointmentNotPending)
	}
	if current.ScheduleID == in.ScheduleID && current.SlotID == in.SlotID {
		return s.resolve(ctx, current), nil
	}

	err = s.withSlotLock(ctx, in.ScheduleID, in.SlotID, func(ctx context.Context) error {
		updated, moveErr := s.move(ctx, current, in)
		if moveErr != nil {
			return moveErr
		}
		details = s.resolve(ctx, updated)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return details, nil
}

func (s *Service) move(ctx context.Context, current *appointment.Appointment, in UpdateInput) (*appointment.Appointment, error) {
	snap, err := s.slots.GetSlot(ctx, in.ScheduleID, in.SlotID)
	if err != nil {
		return nil, fmt.Errorf("get slot: %w", err)
	}
	if snap.State != schedule.SlotAvailable {
		return nil, fmt.Errorf("slot is %s: %w", snap.State, ErrSlotNotAvailable)
	}

	target := overlap.Claim{ID: current.ID, ScheduleID: in.ScheduleID, SlotID: in.SlotID, PatientDNI: current.PatientDNI}
	scope := overlap.ClaimScope{PatientDNI: current.PatientDNI, ExcludeID: current.ID}
	if err := s.checkClaims(ctx, target, scope); err != nil {
		return nil, err
	}

	var updated *appointment.Appointment
	released := false
	from := current.Ref()
	to := appointment.SlotRef{ScheduleID: in.ScheduleID, SlotID: in.SlotID}

	err = s.newSaga("update",
		step{
			// Guarded on from so concurrent moves of one appointment serialize
			// here even though their slot locks differ.
			name: "rebind_appointment",
			action: func(ctx context.Context) error {
				a, err := s.appointments.UpdateReferences(ctx, current.ID, from, to)
				if err != nil {
					return err
				}
				updated = a
				return nil
			},
			compensate: func(ctx context.Context) error {
				_, err := s.appointments.UpdateReferences(ctx, current.ID, to, from)
				return err
			},
		},
		step{
			name: "release_old_slot",
			action: func(ctx context.Context) error {
				err := s.slots.ReleaseSlot(ctx, current.ScheduleID, current.SlotID, current.ID)
				if err != nil && !apperr.IsKind(err, apperr.KindInvalidState) {
					return fmt.Errorf("release old slot: %w", err)
				}
				released = err == nil
				return nil
			},
			compensate: func(ctx context.Context) error {
				if !released {
					return nil
				}
				return s.slots.OccupySlot(ctx, current.ScheduleID, current.SlotID, current.ID)
			},
		},
		step{
			name: "occupy_new_slot",
			action: func(ctx context.Context) error {
				return s.occupy(ctx, in.ScheduleID, in.SlotID, current.ID)
			},
		},
	).run(ctx)
	if err != nil {
		return nil, err
	}

	s.logger.Info("appointment moved",
		"appointment_id", current.ID,
		"from_slot_id", current.SlotID,
		"to_slot_id", in.SlotID,
	)
	return updated, nil
}

// CancelAppointment marks a PENDING appointment CANCELLED and then frees its
// slot if the appointment still holds it. Only one of several concurrent
// cancels gets past the conditional status update.
func (s *Service) CancelAppointment(ctx context.Context, id uuid.UUID) (details *AppointmentDetails, err error) {
	ctx, span := bookingTracer.Start(ctx, "booking.cancel")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("clinic.appointment_id", id.String()))
	defer func() { s.metrics.ObserveTransition("cancel", outcomeOf(err)) }()

	cancelled, err := s.appointments.UpdateStatus(ctx, id, appointment.StatusPending, appointment.StatusCancelled)
	if err != nil {
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}
	s.logger.Info("appointment cancelled", "appointment_id", id)

	s.releaseCancelled(ctx, cancelled)
	return s.resolve(ctx, cancelled), nil
}

// releaseCancelled frees the slot of a cancelled appointment. A failure is
// logged and the cancellation stands.
func (s *Service) releaseCancelled(ctx context.Context, a *appointment.Appointment) {
	err := s.slots.ReleaseSlot(ctx, a.ScheduleID, a.SlotID, a.ID)
	switch {
	case err == nil:
	case apperr.IsKind(err, apperr.KindInvalidState), apperr.IsKind(err, apperr.KindNotFound):
		s.logger.Info("slot not held on cancel", "appointment_id", a.ID, "error", err)
	default:
		s.metrics.ObserveCompensation("release_slot", false)
		s.logger.Error("release after cancel failed, slot may be orphaned",
			"appointment_id", a.ID,
			"schedule_id", a.ScheduleID,
			"slot_id", a.SlotID,
			"error", err,
		)
	}
}

// CompleteAppointment marks a PENDING appointment COMPLETED. The slot stays
// occupied. Payment capture is best effort.
func (s *Service) CompleteAppointment(ctx context.Context, id uuid.UUID) (details *AppointmentDetails, err error) {
	ctx, span := bookingTracer.Start(ctx, "booking.complete")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("clinic.appointment_id", id.String()))
	defer func() { s.metrics.ObserveTransition("complete", outcomeOf(err)) }()

	completed, err := s.appointments.UpdateStatus(ctx, id, appointment.StatusPending, appointment.StatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("complete appointment: %w", err)
	}
	s.logger.Info("appointment completed", "appointment_id", id)

	details = s.resolve(ctx, completed)
	details.Payment = s.captureCharge(ctx, id)
	return details, nil
}

func (s *Service) captureCharge(ctx context.Context, id uuid.UUID) *PaymentResult {
	if s.payments == nil {
		return &PaymentResult{Status: PaymentSkipped}
	}
	if err := s.payments.CaptureCharge(ctx, id); err != nil {
		s.metrics.ObservePaymentFailure("capture")
		s.logger.Error("payment capture failed", "appointment_id", id, "error", err)
		return &PaymentResult{Status: PaymentFailed, Error: err.Error()}
	}
	return &PaymentResult{Status: PaymentCaptured}
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*AppointmentDetails, error) {
	a, err := s.appointments.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return s.resolve(ctx, a), nil
}

// ListAppointments returns a patient's appointments, newest first.
func (s *Service) ListAppointments(ctx context.Context, patientDNI string, limit, offset int) ([]appointment.Appointment, error) {
	patientDNI = strings.TrimSpace(patientDNI)
	if patientDNI == "" {
		return nil, appointment.ErrMissingPatientDNI
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	list, err := s.appointments.ListByPatient(ctx, patientDNI, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return list, nil
}
