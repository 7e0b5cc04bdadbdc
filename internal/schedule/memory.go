package schedule

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/overlap"
)

// MemoryRepository keeps schedules in process. It is used by tests and by
// STORE_DRIVER=memory.
type MemoryRepository struct {
	mu        sync.RWMutex
	schedules map[uuid.UUID]*Schedule
	now       func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		schedules: make(map[uuid.UUID]*Schedule),
		now:       time.Now,
	}
}

func cloneSchedule(s *Schedule) *Schedule {
	out := *s
	out.Slots = make([]Slot, len(s.Slots))
	for i, sl := range s.Slots {
		out.Slots[i] = cloneSlot(sl)
	}
	return &out
}

func cloneSlot(sl Slot) Slot {
	if sl.AppointmentID != nil {
		id := *sl.AppointmentID
		sl.AppointmentID = &id
	}
	return sl
}

func (r *MemoryRepository) CreateSchedule(_ context.Context, s *Schedule, check ConflictCheck) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if check != nil {
		var candidates []Schedule
		for _, existing := range r.schedules {
			if !overlap.SameDate(existing.Date, s.Date) {
				continue
			}
			if existing.PractitionerID != s.PractitionerID && existing.Room != s.Room {
				continue
			}
			candidates = append(candidates, *cloneSchedule(existing))
		}
		sortSchedules(candidates)
		if err := check(candidates); err != nil {
			return err
		}
	}

	r.schedules[s.ID] = cloneSchedule(s)
	return nil
}

func (r *MemoryRepository) GetSchedule(_ context.Context, id uuid.UUID) (*Schedule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.schedules[id]
	if !ok {
		return nil, ErrScheduleNotFound
	}
	return cloneSchedule(s), nil
}

func (r *MemoryRepository) ListSchedules(_ context.Context, practitionerID uuid.UUID, date time.Time) ([]Schedule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Schedule
	for _, s := range r.schedules {
		if s.PractitionerID == practitionerID && overlap.SameDate(s.Date, date) {
			out = append(out, *cloneSchedule(s))
		}
	}
	sortSchedules(out)
	return out, nil
}

func (r *MemoryRepository) DeleteSchedule(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.schedules[id]
	if !ok {
		return ErrScheduleNotFound
	}
	if s.HasOccupiedSlots() {
		return ErrScheduleInUse
	}
	delete(r.schedules, id)
	return nil
}

func (r *MemoryRepository) GetSlot(_ context.Context, scheduleID, slotID uuid.UUID) (*SlotSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.schedules[scheduleID]
	if !ok {
		return nil, ErrSlotNotFound
	}
	sl, ok := s.FindSlot(slotID)
	if !ok {
		return nil, ErrSlotNotFound
	}
	snap := s.Snapshot(cloneSlot(*sl))
	return &snap, nil
}

func (r *MemoryRepository) TransitionSlot(_ context.Context, scheduleID, slotID uuid.UUID, ev SlotEvent, appointmentID *uuid.UUID) (*Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.schedules[scheduleID]
	if !ok {
		return nil, ErrSlotNotFound
	}
	sl, ok := s.FindSlot(slotID)
	if !ok {
		return nil, ErrSlotNotFound
	}

	// Apply on a copy so a rejected event leaves the stored slot untouched.
	next := cloneSlot(*sl)
	if err := next.Apply(ev, appointmentID); err != nil {
		return nil, err
	}
	next.UpdatedAt = r.now()
	*sl = next

	out := cloneSlot(next)
	return &out, nil
}

func sortSchedules(s []Schedule) {
	sort.Slice(s, func(i, j int) bool {
		return s[i].StartTime.Before(s[j].StartTime)
	})
}
