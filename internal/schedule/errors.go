package schedule

import "github.com/hackgods/clinic-scheduling/internal/apperr"

var (
	ErrScheduleNotFound = apperr.NotFound("schedule_not_found", "schedule not found")
	ErrSlotNotFound     = apperr.NotFound("slot_not_found", "slot not found")
	ErrNoAvailableSlot  = apperr.NotFound("no_available_slot", "no available slot for practitioner on date")

	ErrScheduleOverlap = apperr.Conflict("schedule_overlap", "schedule overlaps an existing schedule for the practitioner or room")
	ErrScheduleInUse   = apperr.Conflict("schedule_in_use", "schedule has occupied slots")

	ErrSlotNotAvailable = apperr.InvalidState("slot_not_available", "slot is not available")
	ErrSlotNotOccupied  = apperr.InvalidState("slot_not_occupied", "slot is not occupied")
	ErrSlotNotBlocked   = apperr.InvalidState("slot_not_blocked", "slot is not blocked")
	ErrSlotHeldByOther  = apperr.InvalidState("slot_held_by_other", "slot is occupied by another appointment")

	ErrMissingPractitioner  = apperr.Validation("missing_practitioner_id", "practitioner_id is required")
	ErrMissingSpecialty     = apperr.Validation("missing_specialty_id", "specialty_id is required")
	ErrMissingRoom          = apperr.Validation("missing_room", "room is required")
	ErrMissingAppointmentID = apperr.Validation("missing_appointment_id", "appointment_id is required to occupy a slot")
	ErrInvalidDate          = apperr.Validation("invalid_date", "date must be formatted as YYYY-MM-DD")
	ErrInvalidTime          = apperr.Validation("invalid_time", "times must be formatted as HH:MM")
	ErrInvalidTimeRange     = apperr.Validation("invalid_time_range", "end time must be after start time")
	ErrInvalidSlotDuration  = apperr.Validation("invalid_slot_duration", "slot duration must be greater than zero")
	ErrSlotExceedsRange     = apperr.Validation("slot_exceeds_range", "slot duration is longer than the schedule range")
	ErrDateNotInFuture      = apperr.Validation("date_not_in_future", "schedule date must be after today")
	ErrUnknownSlotEvent     = apperr.Validation("unknown_slot_event", "unknown slot transition")
)
