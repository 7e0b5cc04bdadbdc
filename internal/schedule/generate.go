package schedule

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/overlap"
)

// GenerateRanges walks [start, end) in step increments. A trailing piece
// shorter than step is dropped.
func GenerateRanges(start, end time.Time, step time.Duration) []overlap.Range {
	if step <= 0 || !end.After(start) {
		return nil
	}
	n := int(end.Sub(start) / step)
	out := make([]overlap.Range, 0, n)
	for cur := start; !cur.Add(step).After(end); cur = cur.Add(step) {
		out = append(out, overlap.Range{Start: cur, End: cur.Add(step)})
	}
	return out
}

// generateSlots fills s.Slots with AVAILABLE slots covering the schedule.
func (s *Schedule) generateSlots() {
	ranges := GenerateRanges(s.StartTime, s.EndTime, s.SlotDuration())
	s.Slots = make([]Slot, 0, len(ranges))
	for _, r := range ranges {
		s.Slots = append(s.Slots, Slot{
			ID:             uuid.New(),
			ScheduleID:     s.ID,
			PractitionerID: s.PractitionerID,
			Room:           s.Room,
			StartTime:      r.Start,
			EndTime:        r.End,
			State:          SlotAvailable,
			UpdatedAt:      s.CreatedAt,
		})
	}
}
