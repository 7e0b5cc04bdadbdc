package booking

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/observability/metrics"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/schedule"
	"github.com/hackgods/clinic-scheduling/pkg/logging"
)

type stubSpecialties struct {
	cost int64
	err  error
}

func (s *stubSpecialties) GetSpecialty(_ context.Context, id uuid.UUID) (*Specialty, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &Specialty{ID: id, Name: "Cardiology", FixedCostCents: s.cost}, nil
}

type stubPatients struct {
	err error
}

func (s *stubPatients) GetPatientByDNI(_ context.Context, dni string) (*Patient, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &Patient{ID: "p-" + dni, Name: "Ana Gomez", DateOfBirth: "1990-05-01"}, nil
}

type stubPayments struct {
	mu          sync.Mutex
	registerErr error
	captureErr  error
	charges     []Charge
	captured    []uuid.UUID
}

func (s *stubPayments) RegisterCharge(_ context.Context, c Charge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.registerErr != nil {
		return s.registerErr
	}
	s.charges = append(s.charges, c)
	return nil
}

func (s *stubPayments) CaptureCharge(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.captureErr != nil {
		return s.captureErr
	}
	s.captured = append(s.captured, id)
	return nil
}

// faultySlots wraps the real manager and can fail or intercept slot calls.
type faultySlots struct {
	LocalSlots
	occupyErr     error
	failSlot      uuid.UUID // only fail occupies of this slot when set
	occupyFirst   bool      // apply the occupy before returning occupyErr
	beforeOccupy  func()
	getSlotErr    error
	afterRelease  func()
	releaseCalled int
}

func (f *faultySlots) GetSlot(ctx context.Context, scheduleID, slotID uuid.UUID) (*schedule.SlotSnapshot, error) {
	if f.getSlotErr != nil {
		return nil, f.getSlotErr
	}
	return f.LocalSlots.GetSlot(ctx, scheduleID, slotID)
}

func (f *faultySlots) ReleaseSlot(ctx context.Context, scheduleID, slotID, appointmentID uuid.UUID) error {
	f.releaseCalled++
	err := f.LocalSlots.ReleaseSlot(ctx, scheduleID, slotID, appointmentID)
	if f.afterRelease != nil {
		f.afterRelease()
	}
	return err
}

// hookedAppointments runs a callback before selected store writes so tests
// can interleave a second request.
type hookedAppointments struct {
	*appointment.MemoryRepository
	beforeStatus func()
	beforeRebind func()
}

func (h *hookedAppointments) UpdateStatus(ctx context.Context, id uuid.UUID, from, to appointment.Status) (*appointment.Appointment, error) {
	if fn := h.beforeStatus; fn != nil {
		h.beforeStatus = nil
		fn()
	}
	return h.MemoryRepository.UpdateStatus(ctx, id, from, to)
}

func (h *hookedAppointments) UpdateReferences(ctx context.Context, id uuid.UUID, from, to appointment.SlotRef) (*appointment.Appointment, error) {
	if fn := h.beforeRebind; fn != nil {
		h.beforeRebind = nil
		fn()
	}
	return h.MemoryRepository.UpdateReferences(ctx, id, from, to)
}

func (f *faultySlots) OccupySlot(ctx context.Context, scheduleID, slotID, appointmentID uuid.UUID) error {
	if f.beforeOccupy != nil {
		f.beforeOccupy()
	}
	if f.occupyErr == nil || (f.failSlot != uuid.Nil && f.failSlot != slotID) {
		return f.LocalSlots.OccupySlot(ctx, scheduleID, slotID, appointmentID)
	}
	if f.occupyFirst {
		_ = f.LocalSlots.OccupySlot(ctx, scheduleID, slotID, appointmentID)
	}
	return f.occupyErr
}

type fixture struct {
	svc          *Service
	manager      *schedule.Service
	appointments *appointment.MemoryRepository
	hooks        *hookedAppointments
	registry     *prometheus.Registry
	slots        *faultySlots
	payments     *stubPayments
	specialties  *stubSpecialties
	schedule     *schedule.Schedule
}

func newFixture(t *testing.T, locker redisclient.Locker) *fixture {
	t.Helper()
	logger := logging.NewWithWriter(io.Discard, "error")
	loc := time.FixedZone("ART", -3*3600)

	manager := schedule.NewService(schedule.NewMemoryRepository(), loc, logger).
		WithClock(func() time.Time { return time.Date(2030, 3, 1, 12, 0, 0, 0, loc) })

	sched, err := manager.CreateSchedule(context.Background(), schedule.CreateScheduleInput{
		PractitionerID: uuid.New(),
		SpecialtyID:    uuid.New(),
		Room:           "A1",
		Date:           "2030-03-04",
		Start:          "09:00",
		End:            "10:00",
		SlotMinutes:    30,
	})
	require.NoError(t, err)
	require.Len(t, sched.Slots, 2)

	store := appointment.NewMemoryRepository()
	f := &fixture{
		manager:      manager,
		appointments: store,
		hooks:        &hookedAppointments{MemoryRepository: store},
		registry:     prometheus.NewRegistry(),
		slots:        &faultySlots{LocalSlots: LocalSlots{Manager: manager}},
		payments:     &stubPayments{},
		specialties:  &stubSpecialties{cost: 150000},
		schedule:     sched,
	}
	f.svc = NewService(Deps{
		Appointments: f.hooks,
		Slots:        f.slots,
		Specialties:  f.specialties,
		Patients:     &stubPatients{},
		Payments:     f.payments,
		Locker:       locker,
		Metrics:      metrics.NewBookingMetrics(f.registry),
		Logger:       logger,
	})
	return f
}

func (f *fixture) slot(i int) uuid.UUID { return f.schedule.Slots[i].ID }

func (f *fixture) slotState(t *testing.T, i int) *schedule.SlotSnapshot {
	t.Helper()
	snap, err := f.manager.GetSlot(context.Background(), f.schedule.ID, f.slot(i))
	require.NoError(t, err)
	return snap
}

func (f *fixture) compensations(t *testing.T, step, status string) float64 {
	t.Helper()
	families, err := f.registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "clinic_booking_compensations_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["step"] == step && labels["status"] == status {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func (f *fixture) book(dni string, slot int) (*AppointmentDetails, error) {
	return f.svc.BookAppointment(context.Background(), BookInput{
		PatientDNI:    dni,
		ScheduleID:    f.schedule.ID,
		SlotID:        f.slot(slot),
		PaymentMethod: "card",
	})
}

func TestBookAppointment_Succeeds(t *testing.T) {
	f := newFixture(t, nil)

	got, err := f.book("30111222", 0)
	require.NoError(t, err)

	appt := got.Appointment
	assert.Equal(t, appointment.StatusPending, appt.Status)
	assert.Equal(t, int64(150000), appt.CostCents)
	assert.Equal(t, "card", appt.PaymentMethod)
	require.NotNil(t, got.Patient)
	assert.Equal(t, "Ana Gomez", got.Patient.Name)
	require.NotNil(t, got.Slot)
	assert.Equal(t, schedule.SlotOccupied, got.Slot.State)
	assert.Equal(t, PaymentRegistered, got.Payment.Status)

	snap := f.slotState(t, 0)
	assert.Equal(t, schedule.SlotOccupied, snap.State)
	require.NotNil(t, snap.AppointmentID)
	assert.Equal(t, appt.ID, *snap.AppointmentID)

	require.Len(t, f.payments.charges, 1)
	assert.Equal(t, Charge{AppointmentID: appt.ID, PatientDNI: "30111222", AmountCents: 150000, Method: "card"}, f.payments.charges[0])
}

func TestBookAppointment_SecondBookingConflicts(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.book("30111222", 0)
	require.NoError(t, err)

	_, err = f.book("40222333", 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSlotNotAvailable)
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))

	first, err := f.appointments.ListByPatient(context.Background(), "30111222", 10, 0)
	require.NoError(t, err)
	assert.Len(t, first, 1)
	second, err := f.appointments.ListByPatient(context.Background(), "40222333", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestBookAppointment_ExistingClaimForPatient(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// A live claim whose slot somehow reads AVAILABLE.
	require.NoError(t, f.appointments.Create(ctx, &appointment.Appointment{
		ID:         uuid.New(),
		PatientDNI: "30111222",
		ScheduleID: f.schedule.ID,
		SlotID:     f.slot(1),
		Status:     appointment.StatusPending,
	}))

	_, err := f.book("30111222", 1)
	assert.ErrorIs(t, err, ErrAlreadyBooked)
	assert.Equal(t, schedule.SlotAvailable, f.slotState(t, 1).State)
}

func TestBookAppointment_CompensatesWhenOccupyFails(t *testing.T) {
	f := newFixture(t, nil)
	f.slots.occupyErr = apperr.Unavailable("schedule_unreachable", "schedule service unreachable", errors.New("dial tcp: timeout"))

	_, err := f.book("30111222", 0)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindUnavailable))

	list, err := f.appointments.ListByPatient(context.Background(), "30111222", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, list, "appointment must be deleted by compensation")
	assert.Equal(t, schedule.SlotAvailable, f.slotState(t, 0).State)
	assert.Empty(t, f.payments.charges)
}

func TestBookAppointment_ReleasesUncertainOccupy(t *testing.T) {
	f := newFixture(t, nil)
	f.slots.occupyErr = apperr.Unavailable("schedule_unreachable", "response lost", nil)
	f.slots.occupyFirst = true

	_, err := f.book("30111222", 0)
	require.Error(t, err)

	snap := f.slotState(t, 0)
	assert.Equal(t, schedule.SlotAvailable, snap.State)
	assert.Nil(t, snap.AppointmentID)
}

func TestBookAppointment_UnverifiableOccupyIsRecorded(t *testing.T) {
	f := newFixture(t, nil)
	f.slots.occupyErr = apperr.Unavailable("schedule_unreachable", "response lost", nil)
	f.slots.occupyFirst = true
	f.slots.beforeOccupy = func() {
		f.slots.getSlotErr = apperr.Unavailable("schedule_unreachable", "schedule service unreachable", nil)
	}

	_, err := f.book("30111222", 0)
	require.Error(t, err)
	assert.Equal(t, float64(1), f.compensations(t, "occupy_slot", "failed"))
	assert.Zero(t, f.slots.releaseCalled)
}

func TestBookAppointment_LostRaceIsConflict(t *testing.T) {
	f := newFixture(t, nil)
	rival := uuid.New()
	f.slots.beforeOccupy = func() {
		f.slots.beforeOccupy = nil
		_, err := f.manager.OccupySlot(context.Background(), f.schedule.ID, f.slot(0), rival)
		require.NoError(t, err)
	}

	_, err := f.book("30111222", 0)
	assert.ErrorIs(t, err, ErrSlotNotAvailable)

	list, err := f.appointments.ListByPatient(context.Background(), "30111222", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, list)

	snap := f.slotState(t, 0)
	assert.Equal(t, schedule.SlotOccupied, snap.State)
	assert.Equal(t, rival, *snap.AppointmentID)
}

func TestBookAppointment_PaymentFailureKeepsReservation(t *testing.T) {
	f := newFixture(t, nil)
	f.payments.registerErr = apperr.Unavailable("payment_unreachable", "payment service unreachable", nil)

	got, err := f.book("30111222", 0)
	require.NoError(t, err)
	assert.Equal(t, PaymentFailed, got.Payment.Status)
	assert.NotEmpty(t, got.Payment.Error)

	stored, err := f.appointments.Get(context.Background(), got.Appointment.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusPending, stored.Status)
	assert.Equal(t, schedule.SlotOccupied, f.slotState(t, 0).State)
}

func TestBookAppointment_SpecialtyUnavailable(t *testing.T) {
	f := newFixture(t, nil)
	f.specialties.err = apperr.Unavailable("specialty_unreachable", "specialty service unreachable", nil)

	_, err := f.book("30111222", 0)
	assert.True(t, apperr.IsKind(err, apperr.KindUnavailable))

	list, err := f.appointments.ListByPatient(context.Background(), "30111222", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Equal(t, schedule.SlotAvailable, f.slotState(t, 0).State)
}

func TestBookAppointment_Validation(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.book("  ", 0)
	assert.ErrorIs(t, err, appointment.ErrMissingPatientDNI)

	_, err = f.svc.BookAppointment(context.Background(), BookInput{PatientDNI: "30111222"})
	assert.ErrorIs(t, err, ErrMissingSlotRef)

	_, err = f.svc.BookAppointment(context.Background(), BookInput{
		PatientDNI: "30111222",
		ScheduleID: f.schedule.ID,
		SlotID:     uuid.New(),
	})
	assert.ErrorIs(t, err, schedule.ErrSlotNotFound)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestBookAppointment_ConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t, nil)

	var wg sync.WaitGroup
	errs := make([]error, 12)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.book(uuid.NewString()[:8], 0)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, apperr.IsKind(err, apperr.KindConflict), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, wins)
}

func TestBookAppointment_BusyLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := newFixture(t, redisclient.NewRedisSlotLocker(client, 5*time.Second, nil))
	require.NoError(t, mr.Set(redisclient.SlotLockKey(f.schedule.ID, f.slot(0)), "other-request"))

	_, err := f.book("30111222", 0)
	assert.ErrorIs(t, err, ErrSlotBeingBooked)
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))

	got, err := f.book("30111222", 1)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusPending, got.Appointment.Status)
	assert.False(t, mr.Exists(redisclient.SlotLockKey(f.schedule.ID, f.slot(1))))
}

func TestBookAppointment_LockBackendDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	f := newFixture(t, redisclient.NewRedisSlotLocker(client, time.Second, nil))
	mr.Close()

	_, err := f.book("30111222", 0)
	assert.True(t, apperr.IsKind(err, apperr.KindUnavailable))
}

func TestCancelAppointment(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	booked, err := f.book("30111222", 0)
	require.NoError(t, err)

	got, err := f.svc.CancelAppointment(ctx, booked.Appointment.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusCancelled, got.Appointment.Status)
	assert.NotNil(t, got.Appointment.CancelledAt)
	assert.Equal(t, schedule.SlotAvailable, f.slotState(t, 0).State)

	_, err = f.svc.CancelAppointment(ctx, booked.Appointment.ID)
	assert.ErrorIs(t, err, appointment.ErrAppointmentNotPending)

	// The freed slot can be booked again.
	_, err = f.book("40222333", 0)
	require.NoError(t, err)
}

func TestCancelAppointment_SlotAlreadyFree(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	booked, err := f.book("30111222", 0)
	require.NoError(t, err)
	_, err = f.manager.ReleaseSlot(ctx, f.schedule.ID, f.slot(0))
	require.NoError(t, err)

	got, err := f.svc.CancelAppointment(ctx, booked.Appointment.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusCancelled, got.Appointment.Status)
	assert.Equal(t, schedule.SlotAvailable, f.slotState(t, 0).State)
}

func TestCancelAppointment_ConcurrentCancelsFreeSlot(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	booked, err := f.book("30111222", 0)
	require.NoError(t, err)
	id := booked.Appointment.ID

	var secondErr error
	f.slots.afterRelease = func() {
		f.slots.afterRelease = nil
		_, secondErr = f.svc.CancelAppointment(ctx, id)
	}

	got, err := f.svc.CancelAppointment(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusCancelled, got.Appointment.Status)
	assert.ErrorIs(t, secondErr, appointment.ErrAppointmentNotPending)

	snap := f.slotState(t, 0)
	assert.Equal(t, schedule.SlotAvailable, snap.State)
	assert.Nil(t, snap.AppointmentID)
	assert.Equal(t, 1, f.slots.releaseCalled)
}

func TestCancelAppointment_LosesToConcurrentCancel(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	booked, err := f.book("30111222", 0)
	require.NoError(t, err)
	id := booked.Appointment.ID

	var secondErr error
	f.hooks.beforeStatus = func() {
		_, secondErr = f.svc.CancelAppointment(ctx, id)
	}

	_, err = f.svc.CancelAppointment(ctx, id)
	assert.ErrorIs(t, err, appointment.ErrAppointmentNotPending)
	require.NoError(t, secondErr)

	stored, err := f.appointments.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusCancelled, stored.Status)
	assert.Equal(t, schedule.SlotAvailable, f.slotState(t, 0).State)
}

func TestCancelAppointment_ParallelSingleWinner(t *testing.T) {
	f := newFixture(t, nil)
	booked, err := f.book("30111222", 0)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.CancelAppointment(context.Background(), booked.Appointment.ID)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, appointment.ErrAppointmentNotPending)
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, schedule.SlotAvailable, f.slotState(t, 0).State)
}

func TestCancelAppointment_LeavesRebookedSlotAlone(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.book("30111222", 0)
	require.NoError(t, err)
	_, err = f.svc.CancelAppointment(ctx, first.Appointment.ID)
	require.NoError(t, err)
	second, err := f.book("40222333", 0)
	require.NoError(t, err)

	// A late release on behalf of the cancelled appointment.
	err = f.slots.ReleaseSlot(ctx, f.schedule.ID, f.slot(0), first.Appointment.ID)
	assert.ErrorIs(t, err, schedule.ErrSlotHeldByOther)

	snap := f.slotState(t, 0)
	assert.Equal(t, schedule.SlotOccupied, snap.State)
	assert.Equal(t, second.Appointment.ID, *snap.AppointmentID)
}

func TestCancelAppointment_ReleaseFailureKeepsCancellation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	booked, err := f.book("30111222", 0)
	require.NoError(t, err)
	f.svc.slots = unreachableSlots{}

	got, err := f.svc.CancelAppointment(ctx, booked.Appointment.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusCancelled, got.Appointment.Status)
	assert.Equal(t, float64(1), f.compensations(t, "release_slot", "failed"))
}

func TestCompleteAppointment(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	booked, err := f.book("30111222", 0)
	require.NoError(t, err)

	got, err := f.svc.CompleteAppointment(ctx, booked.Appointment.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusCompleted, got.Appointment.Status)
	assert.Equal(t, PaymentCaptured, got.Payment.Status)
	assert.Equal(t, []uuid.UUID{booked.Appointment.ID}, f.payments.captured)
	assert.Equal(t, schedule.SlotOccupied, f.slotState(t, 0).State)

	_, err = f.svc.CancelAppointment(ctx, booked.Appointment.ID)
	assert.ErrorIs(t, err, appointment.ErrAppointmentNotPending)
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidState))
	assert.Equal(t, schedule.SlotOccupied, f.slotState(t, 0).State)

	_, err = f.svc.CompleteAppointment(ctx, booked.Appointment.ID)
	assert.ErrorIs(t, err, appointment.ErrAppointmentNotPending)
}

func TestCompleteAppointment_CaptureFailureIsReported(t *testing.T) {
	f := newFixture(t, nil)
	booked, err := f.book("30111222", 0)
	require.NoError(t, err)
	f.payments.captureErr = errors.New("gateway down")

	got, err := f.svc.CompleteAppointment(context.Background(), booked.Appointment.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusCompleted, got.Appointment.Status)
	assert.Equal(t, PaymentFailed, got.Payment.Status)
}

func TestUpdateAppointment_MovesSlot(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	booked, err := f.book("30111222", 0)
	require.NoError(t, err)

	got, err := f.svc.UpdateAppointment(ctx, booked.Appointment.ID, UpdateInput{
		ScheduleID: f.schedule.ID,
		SlotID:     f.slot(1),
		PatientDNI: "30111222",
	})
	require.NoError(t, err)
	assert.Equal(t, f.slot(1), got.Appointment.SlotID)
	assert.Equal(t, booked.Appointment.CostCents, got.Appointment.CostCents)

	assert.Equal(t, schedule.SlotAvailable, f.slotState(t, 0).State)
	newSlot := f.slotState(t, 1)
	assert.Equal(t, schedule.SlotOccupied, newSlot.State)
	assert.Equal(t, booked.Appointment.ID, *newSlot.AppointmentID)
}

func TestUpdateAppointment_Rejections(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	a, err := f.book("30111222", 0)
	require.NoError(t, err)
	_, err = f.book("40222333", 1)
	require.NoError(t, err)

	_, err = f.svc.UpdateAppointment(ctx, a.Appointment.ID, UpdateInput{ScheduleID: f.schedule.ID, SlotID: f.slot(1)})
	assert.ErrorIs(t, err, ErrSlotNotAvailable)

	_, err = f.svc.UpdateAppointment(ctx, a.Appointment.ID, UpdateInput{ScheduleID: f.schedule.ID, SlotID: f.slot(1), PatientDNI: "99999999"})
	assert.ErrorIs(t, err, ErrPatientMismatch)

	_, err = f.svc.UpdateAppointment(ctx, uuid.New(), UpdateInput{ScheduleID: f.schedule.ID, SlotID: f.slot(1)})
	assert.ErrorIs(t, err, appointment.ErrAppointmentNotFound)

	same, err := f.svc.UpdateAppointment(ctx, a.Appointment.ID, UpdateInput{ScheduleID: f.schedule.ID, SlotID: f.slot(0)})
	require.NoError(t, err)
	assert.Equal(t, f.slot(0), same.Appointment.SlotID)

	_, err = f.svc.CompleteAppointment(ctx, a.Appointment.ID)
	require.NoError(t, err)
	_, err = f.svc.UpdateAppointment(ctx, a.Appointment.ID, UpdateInput{ScheduleID: f.schedule.ID, SlotID: f.slot(1)})
	assert.ErrorIs(t, err, appointment.ErrAppointmentNotPending)
}

func TestUpdateAppointment_CompensatesWhenOccupyFails(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	booked, err := f.book("30111222", 0)
	require.NoError(t, err)
	f.slots.occupyErr = errors.New("connection reset")
	f.slots.failSlot = f.slot(1)

	_, err = f.svc.UpdateAppointment(ctx, booked.Appointment.ID, UpdateInput{ScheduleID: f.schedule.ID, SlotID: f.slot(1)})
	require.Error(t, err)

	stored, err := f.appointments.Get(ctx, booked.Appointment.ID)
	require.NoError(t, err)
	assert.Equal(t, f.slot(0), stored.SlotID, "references restored")

	old := f.slotState(t, 0)
	assert.Equal(t, schedule.SlotOccupied, old.State, "old slot re-occupied")
	assert.Equal(t, booked.Appointment.ID, *old.AppointmentID)
	assert.Equal(t, schedule.SlotAvailable, f.slotState(t, 1).State)
}

func TestGetAndListAppointments(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	booked, err := f.book("30111222", 0)
	require.NoError(t, err)

	got, err := f.svc.GetAppointment(ctx, booked.Appointment.ID)
	require.NoError(t, err)
	assert.Equal(t, booked.Appointment.ID, got.Appointment.ID)
	require.NotNil(t, got.Slot)
	assert.Equal(t, f.schedule.SpecialtyID, got.Slot.SpecialtyID)

	_, err = f.svc.GetAppointment(ctx, uuid.New())
	assert.ErrorIs(t, err, appointment.ErrAppointmentNotFound)

	list, err := f.svc.ListAppointments(ctx, "30111222", 0, -3)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = f.svc.ListAppointments(ctx, "", 10, 0)
	assert.ErrorIs(t, err, appointment.ErrMissingPatientDNI)
}

func TestGetAppointment_DegradesWhenPatientLookupFails(t *testing.T) {
	f := newFixture(t, nil)
	booked, err := f.book("30111222", 0)
	require.NoError(t, err)

	f.svc.patients = &stubPatients{err: apperr.Unavailable("patient_unreachable", "down", nil)}
	got, err := f.svc.GetAppointment(context.Background(), booked.Appointment.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Patient)
	assert.NotNil(t, got.Slot)
}

func TestUpdateAppointment_ConcurrentMovesKeepOneSlot(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	other, err := f.manager.CreateSchedule(ctx, schedule.CreateScheduleInput{
		PractitionerID: uuid.New(),
		SpecialtyID:    uuid.New(),
		Room:           "B2",
		Date:           "2030-03-04",
		Start:          "11:00",
		End:            "11:30",
		SlotMinutes:    30,
	})
	require.NoError(t, err)
	otherSlot := other.Slots[0].ID

	booked, err := f.book("30111222", 0)
	require.NoError(t, err)
	id := booked.Appointment.ID

	var secondErr error
	f.hooks.beforeRebind = func() {
		_, secondErr = f.svc.UpdateAppointment(ctx, id, UpdateInput{ScheduleID: other.ID, SlotID: otherSlot})
	}

	_, err = f.svc.UpdateAppointment(ctx, id, UpdateInput{ScheduleID: f.schedule.ID, SlotID: f.slot(1)})
	require.NoError(t, secondErr)
	assert.ErrorIs(t, err, appointment.ErrAppointmentMoved)
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))

	stored, err := f.appointments.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, appointment.SlotRef{ScheduleID: other.ID, SlotID: otherSlot}, stored.Ref())

	assert.Equal(t, schedule.SlotAvailable, f.slotState(t, 0).State)
	assert.Equal(t, schedule.SlotAvailable, f.slotState(t, 1).State)
	moved, err := f.manager.GetSlot(ctx, other.ID, otherSlot)
	require.NoError(t, err)
	assert.Equal(t, schedule.SlotOccupied, moved.State)
	assert.Equal(t, id, *moved.AppointmentID)
}

// unreachableSlots fails every slot call as a transport outage.
type unreachableSlots struct{}

func (unreachableSlots) GetSlot(context.Context, uuid.UUID, uuid.UUID) (*schedule.SlotSnapshot, error) {
	return nil, apperr.Unavailable("schedule_unreachable", "schedule service unreachable", nil)
}

func (unreachableSlots) OccupySlot(context.Context, uuid.UUID, uuid.UUID, uuid.UUID) error {
	return apperr.Unavailable("schedule_unreachable", "schedule service unreachable", nil)
}

func (unreachableSlots) ReleaseSlot(context.Context, uuid.UUID, uuid.UUID, uuid.UUID) error {
	return apperr.Unavailable("schedule_unreachable", "schedule service unreachable", nil)
}
