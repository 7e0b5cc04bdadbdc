package schedule

import (
	"fmt"

	"github.com/google/uuid"
)

type SlotEvent string

const (
	EventOccupy  SlotEvent = "occupy"
	EventRelease SlotEvent = "release"
	EventBlock   SlotEvent = "block"
	EventUnblock SlotEvent = "unblock"
)

// Every event has exactly one legal source state.
type slotTransition struct {
	from     SlotState
	to       SlotState
	rejected error
}

var slotTransitions = map[SlotEvent]slotTransition{
	EventOccupy:  {from: SlotAvailable, to: SlotOccupied, rejected: ErrSlotNotAvailable},
	EventRelease: {from: SlotOccupied, to: SlotAvailable, rejected: ErrSlotNotOccupied},
	EventBlock:   {from: SlotAvailable, to: SlotBlocked, rejected: ErrSlotNotAvailable},
	EventUnblock: {from: SlotBlocked, to: SlotAvailable, rejected: ErrSlotNotBlocked},
}

// Transition returns the source and target states of ev.
func Transition(ev SlotEvent) (from, to SlotState, err error) {
	t, ok := slotTransitions[ev]
	if !ok {
		return "", "", fmt.Errorf("%q: %w", ev, ErrUnknownSlotEvent)
	}
	return t.from, t.to, nil
}

// rejectTransition builds the error for applying ev to a slot in current.
func rejectTransition(ev SlotEvent, current SlotState) error {
	t, ok := slotTransitions[ev]
	if !ok {
		return fmt.Errorf("%q: %w", ev, ErrUnknownSlotEvent)
	}
	return fmt.Errorf("cannot %s %s slot: %w", ev, current, t.rejected)
}

// heldBy reports whether the slot is occupied by id.
func (sl *Slot) heldBy(id uuid.UUID) bool {
	return sl.State == SlotOccupied && sl.AppointmentID != nil && *sl.AppointmentID == id
}

// Apply moves the slot through ev. appointmentID is the new holder for
// EventOccupy and is required there. For EventRelease a non-nil appointmentID
// is the expected holder and a slot held by anyone else is left alone.
// Leaving OCCUPIED always clears the holder.
func (sl *Slot) Apply(ev SlotEvent, appointmentID *uuid.UUID) error {
	from, to, err := Transition(ev)
	if err != nil {
		return err
	}
	if sl.State != from {
		return rejectTransition(ev, sl.State)
	}
	if ev == EventRelease && appointmentID != nil && !sl.heldBy(*appointmentID) {
		return fmt.Errorf("release slot held for %s: %w", *appointmentID, ErrSlotHeldByOther)
	}
	if to == SlotOccupied {
		if appointmentID == nil || *appointmentID == uuid.Nil {
			return ErrMissingAppointmentID
		}
		id := *appointmentID
		sl.AppointmentID = &id
	} else {
		sl.AppointmentID = nil
	}
	sl.State = to
	return nil
}
