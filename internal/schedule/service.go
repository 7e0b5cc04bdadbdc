package schedule

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/overlap"
	"github.com/hackgods/clinic-scheduling/internal/timezone"
	"github.com/hackgods/clinic-scheduling/pkg/logging"
)

// Service is the schedule manager: it registers practitioner availability,
// generates slots and owns every slot state transition.
type Service struct {
	repo   Repository
	loc    *time.Location
	logger *logging.Logger
	now    func() time.Time
}

func NewService(repo Repository, loc *time.Location, logger *logging.Logger) *Service {
	if loc == nil {
		loc = timezone.Location(timezone.DefaultTimezone)
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		repo:   repo,
		loc:    loc,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock overrides the time source used for the "future date" rule.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Location() *time.Location { return s.loc }

type CreateScheduleInput struct {
	PractitionerID uuid.UUID
	SpecialtyID    uuid.UUID
	Room           string
	Date           string // YYYY-MM-DD in the clinic time zone
	Start          string // HH:MM
	End            string // HH:MM
	SlotMinutes    int    // 0 means DefaultSlotMinutes
}

func (s *Service) buildSchedule(in CreateScheduleInput) (*Schedule, error) {
	if in.PractitionerID == uuid.Nil {
		return nil, ErrMissingPractitioner
	}
	if in.SpecialtyID == uuid.Nil {
		return nil, ErrMissingSpecialty
	}
	room := strings.TrimSpace(in.Room)
	if room == "" {
		return nil, ErrMissingRoom
	}

	day, err := timezone.ParseDate(in.Date, s.loc)
	if err != nil {
		return nil, ErrInvalidDate
	}
	startClock, err := timezone.ParseClock(in.Start)
	if err != nil {
		return nil, ErrInvalidTime
	}
	endClock, err := timezone.ParseClock(in.End)
	if err != nil {
		return nil, ErrInvalidTime
	}
	if endClock <= startClock {
		return nil, ErrInvalidTimeRange
	}

	minutes := in.SlotMinutes
	if minutes == 0 {
		minutes = DefaultSlotMinutes
	}
	if minutes < 0 {
		return nil, ErrInvalidSlotDuration
	}

	now := s.now()
	if !day.After(timezone.StartOfDay(now, s.loc)) {
		return nil, ErrDateNotInFuture
	}

	sched := &Schedule{
		ID:             uuid.New(),
		PractitionerID: in.PractitionerID,
		SpecialtyID:    in.SpecialtyID,
		Room:           room,
		Date:           day,
		StartTime:      timezone.At(day, startClock),
		EndTime:        timezone.At(day, endClock),
		SlotMinutes:    minutes,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	sched.generateSlots()
	if len(sched.Slots) == 0 {
		return nil, ErrSlotExceedsRange
	}
	return sched, nil
}

// CreateSchedule validates the input, rejects overlaps with existing
// schedules of the same practitioner or room, and stores the schedule with
// all of its slots AVAILABLE.
func (s *Service) CreateSchedule(ctx context.Context, in CreateScheduleInput) (*Schedule, error) {
	sched, err := s.buildSchedule(in)
	if err != nil {
		return nil, err
	}

	check := func(candidates []Schedule) error {
		existing := make([]overlap.ScheduleWindow, len(candidates))
		for i := range candidates {
			existing[i] = candidates[i].Window()
		}
		if w, ok := overlap.FirstScheduleConflict(sched.Window(), existing); ok {
			return fmt.Errorf("%s-%s in room %s: %w",
				w.Start.Format(timezone.ClockLayout), w.End.Format(timezone.ClockLayout), w.Room, ErrScheduleOverlap)
		}
		return nil
	}

	if err := s.repo.CreateSchedule(ctx, sched, check); err != nil {
		return nil, fmt.Errorf("create schedule: %w", err)
	}

	s.logger.Info("schedule created",
		"schedule_id", sched.ID,
		"practitioner_id", sched.PractitionerID,
		"room", sched.Room,
		"date", sched.Date.Format(timezone.DateLayout),
		"slots", len(sched.Slots),
	)
	return sched, nil
}

func (s *Service) GetSchedule(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	sched, err := s.repo.GetSchedule(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return sched, nil
}

// ListSchedules returns a practitioner's schedules on date (YYYY-MM-DD).
func (s *Service) ListSchedules(ctx context.Context, practitionerID uuid.UUID, date string) ([]Schedule, error) {
	if practitionerID == uuid.Nil {
		return nil, ErrMissingPractitioner
	}
	day, err := timezone.ParseDate(date, s.loc)
	if err != nil {
		return nil, ErrInvalidDate
	}
	schedules, err := s.repo.ListSchedules(ctx, practitionerID, day)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	return schedules, nil
}

func (s *Service) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.DeleteSchedule(ctx, id); err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	s.logger.Info("schedule deleted", "schedule_id", id)
	return nil
}

func (s *Service) GetSlot(ctx context.Context, scheduleID, slotID uuid.UUID) (*SlotSnapshot, error) {
	snap, err := s.repo.GetSlot(ctx, scheduleID, slotID)
	if err != nil {
		return nil, fmt.Errorf("get slot: %w", err)
	}
	return snap, nil
}

func (s *Service) OccupySlot(ctx context.Context, scheduleID, slotID, appointmentID uuid.UUID) (*Slot, error) {
	if appointmentID == uuid.Nil {
		return nil, ErrMissingAppointmentID
	}
	return s.transition(ctx, scheduleID, slotID, EventOccupy, &appointmentID)
}

func (s *Service) ReleaseSlot(ctx context.Context, scheduleID, slotID uuid.UUID) (*Slot, error) {
	return s.transition(ctx, scheduleID, slotID, EventRelease, nil)
}

// ReleaseSlotFor frees the slot only while appointmentID holds it.
func (s *Service) ReleaseSlotFor(ctx context.Context, scheduleID, slotID, appointmentID uuid.UUID) (*Slot, error) {
	if appointmentID == uuid.Nil {
		return nil, ErrMissingAppointmentID
	}
	return s.transition(ctx, scheduleID, slotID, EventRelease, &appointmentID)
}

func (s *Service) BlockSlot(ctx context.Context, scheduleID, slotID uuid.UUID) (*Slot, error) {
	return s.transition(ctx, scheduleID, slotID, EventBlock, nil)
}

func (s *Service) UnblockSlot(ctx context.Context, scheduleID, slotID uuid.UUID) (*Slot, error) {
	return s.transition(ctx, scheduleID, slotID, EventUnblock, nil)
}

func (s *Service) transition(ctx context.Context, scheduleID, slotID uuid.UUID, ev SlotEvent, appointmentID *uuid.UUID) (*Slot, error) {
	sl, err := s.repo.TransitionSlot(ctx, scheduleID, slotID, ev, appointmentID)
	if err != nil {
		s.logger.Debug("slot transition rejected",
			"schedule_id", scheduleID,
			"slot_id", slotID,
			"event", ev,
			"error", err,
		)
		return nil, err
	}
	s.logger.Info("slot transitioned",
		"schedule_id", scheduleID,
		"slot_id", slotID,
		"event", ev,
		"state", sl.State,
	)
	return sl, nil
}

// FindAvailableSlot picks an AVAILABLE slot of the practitioner on date. With
// a preferred HH:MM time the slot starting closest to it wins, ties going to
// the earlier slot; otherwise the earliest slot is returned.
func (s *Service) FindAvailableSlot(ctx context.Context, practitionerID uuid.UUID, date, preferredTime string) (*SlotSnapshot, error) {
	if practitionerID == uuid.Nil {
		return nil, ErrMissingPractitioner
	}
	day, err := timezone.ParseDate(date, s.loc)
	if err != nil {
		return nil, ErrInvalidDate
	}

	var target time.Time
	if preferredTime != "" {
		clock, err := timezone.ParseClock(preferredTime)
		if err != nil {
			return nil, ErrInvalidTime
		}
		target = timezone.At(day, clock)
	}

	schedules, err := s.repo.ListSchedules(ctx, practitionerID, day)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}

	var candidates []SlotSnapshot
	for i := range schedules {
		for _, sl := range schedules[i].Slots {
			if sl.State == SlotAvailable {
				candidates = append(candidates, schedules[i].Snapshot(sl))
			}
		}
	}
	if len(candidates) == 0 {
		return nil, ErrNoAvailableSlot
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].StartTime.Before(candidates[j].StartTime)
	})

	best := candidates[0]
	if !target.IsZero() {
		bestDiff := absDuration(best.StartTime.Sub(target))
		for _, c := range candidates[1:] {
			if d := absDuration(c.StartTime.Sub(target)); d < bestDiff {
				best, bestDiff = c, d
			}
		}
	}
	return &best, nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
