// Package overlap holds the pure conflict predicates used when registering
// schedules and when claiming slots with appointments.
package overlap

import (
	"time"

	"github.com/google/uuid"
)

// Range is a half-open interval [Start, End).
type Range struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether r and o intersect. Back-to-back ranges do not.
func (r Range) Overlaps(o Range) bool {
	return r.Start.Before(o.End) && o.Start.Before(r.End)
}

// ScheduleWindow is the part of a schedule that takes part in conflict checks.
type ScheduleWindow struct {
	PractitionerID uuid.UUID
	Room           string
	Date           time.Time
	Range
}

// SameDate compares calendar dates in a's location.
func SameDate(a, b time.Time) bool {
	b = b.In(a.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// Schedules reports whether two schedule windows conflict: same date, time
// ranges intersecting, and either the same practitioner or the same room.
func Schedules(a, b ScheduleWindow) bool {
	if !SameDate(a.Date, b.Date) {
		return false
	}
	if !a.Range.Overlaps(b.Range) {
		return false
	}
	return a.PractitionerID == b.PractitionerID || a.Room == b.Room
}

// FirstScheduleConflict returns the first existing window that conflicts with candidate.
func FirstScheduleConflict(candidate ScheduleWindow, existing []ScheduleWindow) (ScheduleWindow, bool) {
	for _, w := range existing {
		if Schedules(candidate, w) {
			return w, true
		}
	}
	return ScheduleWindow{}, false
}

// Claim is an appointment's hold on a (schedule, slot) pair.
type Claim struct {
	ID         uuid.UUID
	ScheduleID uuid.UUID
	SlotID     uuid.UUID
	PatientDNI string
	Cancelled  bool
}

// ClaimScope narrows an appointment conflict check. An empty PatientDNI counts
// claims from every patient; a non-nil ExcludeID skips the record being edited.
type ClaimScope struct {
	PatientDNI string
	ExcludeID  uuid.UUID
}

// ConflictingClaim returns the first live claim in existing bound to the same
// pair as target, within scope.
func ConflictingClaim(target Claim, existing []Claim, scope ClaimScope) (Claim, bool) {
	for _, c := range existing {
		if c.Cancelled {
			continue
		}
		if scope.ExcludeID != uuid.Nil && c.ID == scope.ExcludeID {
			continue
		}
		if c.ScheduleID != target.ScheduleID || c.SlotID != target.SlotID {
			continue
		}
		if scope.PatientDNI != "" && c.PatientDNI != scope.PatientDNI {
			continue
		}
		return c, true
	}
	return Claim{}, false
}
