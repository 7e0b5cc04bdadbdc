package schedule

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/overlap"
)

type SlotState string

const (
	SlotAvailable SlotState = "AVAILABLE"
	SlotOccupied  SlotState = "OCCUPIED"
	SlotBlocked   SlotState = "BLOCKED"
)

// DefaultSlotMinutes applies when a schedule is registered without a duration.
const DefaultSlotMinutes = 30

type Schedule struct {
	ID             uuid.UUID `json:"id"`
	PractitionerID uuid.UUID `json:"practitioner_id"`
	SpecialtyID    uuid.UUID `json:"specialty_id"`
	Room           string    `json:"room"`
	Date           time.Time `json:"date"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	SlotMinutes    int       `json:"slot_minutes"`
	Slots          []Slot    `json:"slots"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type Slot struct {
	ID             uuid.UUID  `json:"id"`
	ScheduleID     uuid.UUID  `json:"schedule_id"`
	PractitionerID uuid.UUID  `json:"practitioner_id"`
	Room           string     `json:"room"`
	StartTime      time.Time  `json:"start_time"`
	EndTime        time.Time  `json:"end_time"`
	State          SlotState  `json:"state"`
	AppointmentID  *uuid.UUID `json:"appointment_id,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// SlotSnapshot is the read model handed to callers outside the schedule
// store: the slot plus the schedule attributes a booking needs.
type SlotSnapshot struct {
	Slot
	Date        time.Time `json:"date"`
	SpecialtyID uuid.UUID `json:"specialty_id"`
}

// Window returns the part of the schedule used for overlap checks.
func (s *Schedule) Window() overlap.ScheduleWindow {
	return overlap.ScheduleWindow{
		PractitionerID: s.PractitionerID,
		Room:           s.Room,
		Date:           s.Date,
		Range:          overlap.Range{Start: s.StartTime, End: s.EndTime},
	}
}

func (s *Schedule) SlotDuration() time.Duration {
	return time.Duration(s.SlotMinutes) * time.Minute
}

// FindSlot returns a pointer into s.Slots.
func (s *Schedule) FindSlot(id uuid.UUID) (*Slot, bool) {
	for i := range s.Slots {
		if s.Slots[i].ID == id {
			return &s.Slots[i], true
		}
	}
	return nil, false
}

func (s *Schedule) HasOccupiedSlots() bool {
	for _, sl := range s.Slots {
		if sl.State == SlotOccupied {
			return true
		}
	}
	return false
}

// Snapshot builds the read model for one of the schedule's slots.
func (s *Schedule) Snapshot(sl Slot) SlotSnapshot {
	return SlotSnapshot{Slot: sl, Date: s.Date, SpecialtyID: s.SpecialtyID}
}

// Consistent reports whether the occupied/appointment invariant holds.
func (sl Slot) Consistent() bool {
	return (sl.State == SlotOccupied) == (sl.AppointmentID != nil)
}
