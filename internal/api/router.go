package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/booking"
	"github.com/hackgods/clinic-scheduling/internal/schedule"
	"github.com/hackgods/clinic-scheduling/pkg/logging"
)

// ScheduleService is satisfied by *schedule.Service.
type ScheduleService interface {
	CreateSchedule(ctx context.Context, in schedule.CreateScheduleInput) (*schedule.Schedule, error)
	GetSchedule(ctx context.Context, id uuid.UUID) (*schedule.Schedule, error)
	ListSchedules(ctx context.Context, practitionerID uuid.UUID, date string) ([]schedule.Schedule, error)
	DeleteSchedule(ctx context.Context, id uuid.UUID) error
	GetSlot(ctx context.Context, scheduleID, slotID uuid.UUID) (*schedule.SlotSnapshot, error)
	OccupySlot(ctx context.Context, scheduleID, slotID, appointmentID uuid.UUID) (*schedule.Slot, error)
	ReleaseSlot(ctx context.Context, scheduleID, slotID uuid.UUID) (*schedule.Slot, error)
	ReleaseSlotFor(ctx context.Context, scheduleID, slotID, appointmentID uuid.UUID) (*schedule.Slot, error)
	BlockSlot(ctx context.Context, scheduleID, slotID uuid.UUID) (*schedule.Slot, error)
	UnblockSlot(ctx context.Context, scheduleID, slotID uuid.UUID) (*schedule.Slot, error)
	FindAvailableSlot(ctx context.Context, practitionerID uuid.UUID, date, preferredTime string) (*schedule.SlotSnapshot, error)
}

// BookingService is satisfied by *booking.Service.
type BookingService interface {
	BookAppointment(ctx context.Context, in booking.BookInput) (*booking.AppointmentDetails, error)
	UpdateAppointment(ctx context.Context, id uuid.UUID, in booking.UpdateInput) (*booking.AppointmentDetails, error)
	CancelAppointment(ctx context.Context, id uuid.UUID) (*booking.AppointmentDetails, error)
	CompleteAppointment(ctx context.Context, id uuid.UUID) (*booking.AppointmentDetails, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*booking.AppointmentDetails, error)
	ListAppointments(ctx context.Context, patientDNI string, limit, offset int) ([]appointment.Appointment, error)
}

// RouterConfig selects which route groups are mounted. Schedules is nil when
// another process owns the schedule store; Bookings is nil on schedule-server.
type RouterConfig struct {
	Schedules ScheduleService
	Bookings  BookingService
	Checks    []HealthCheck
	Gatherer  prometheus.Gatherer
	Logger    *logging.Logger
	Env       string
	Version   string
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)

	health := NewHealthHandler(cfg.Checks, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	if cfg.Schedules != nil {
		h := &scheduleHandlers{svc: cfg.Schedules, logger: logger}
		r.Route("/schedules", func(r chi.Router) {
			r.Post("/", h.create)
			r.Get("/", h.list)
			r.Get("/{id}", h.get)
			r.Delete("/{id}", h.delete)

			r.Route("/{id}/slots/{slotID}", func(r chi.Router) {
				r.Get("/", h.getSlot)
				r.Post("/occupy", h.occupy)
				r.Post("/release", h.release)
				r.Post("/block", h.slotAction(cfg.Schedules.BlockSlot))
				r.Post("/unblock", h.slotAction(cfg.Schedules.UnblockSlot))
			})
		})
		r.Get("/slots/available", h.findAvailable)
	}

	if cfg.Bookings != nil {
		h := &appointmentHandlers{svc: cfg.Bookings, logger: logger}
		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", h.create)
			r.Get("/", h.list)
			r.Get("/{id}", h.get)
			r.Put("/{id}", h.update)
			r.Post("/{id}/cancel", h.cancel)
			r.Post("/{id}/complete", h.complete)
		})
	}

	return r
}
