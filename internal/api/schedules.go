package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/schedule"
	"github.com/hackgods/clinic-scheduling/pkg/logging"
)

type scheduleHandlers struct {
	svc    ScheduleService
	logger *logging.Logger
}

// parseUUID parses a request identifier, reporting failures as invalid_<name>.
func parseUUID(name, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, badRequest("invalid_"+name, name+" must be a valid UUID")
	}
	return id, nil
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return badRequest("invalid_request_body", "could not parse JSON")
	}
	return nil
}

func (h *scheduleHandlers) create(w http.ResponseWriter, r *http.Request) {
	var req CreateScheduleRequest
	if err := decodeBody(r, &req); err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	practitionerID, err := parseUUID("practitioner_id", req.PractitionerID)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	specialtyID, err := parseUUID("specialty_id", req.SpecialtyID)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	sched, err := h.svc.CreateSchedule(r.Context(), schedule.CreateScheduleInput{
		PractitionerID: practitionerID,
		SpecialtyID:    specialtyID,
		Room:           req.Room,
		Date:           req.Date,
		Start:          req.StartTime,
		End:            req.EndTime,
		SlotMinutes:    req.SlotMinutes,
	})
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, sched)
}

func (h *scheduleHandlers) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	practitionerID, err := parseUUID("practitioner_id", q.Get("practitioner_id"))
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	list, err := h.svc.ListSchedules(r.Context(), practitionerID, q.Get("date"))
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	if list == nil {
		list = []schedule.Schedule{}
	}

	writeJSON(w, http.StatusOK, ScheduleListResponse{Items: list})
}

func (h *scheduleHandlers) get(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUID("schedule_id", chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	sched, err := h.svc.GetSchedule(r.Context(), id)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, sched)
}

func (h *scheduleHandlers) delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUID("schedule_id", chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	if err := h.svc.DeleteSchedule(r.Context(), id); err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *scheduleHandlers) findAvailable(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	practitionerID, err := parseUUID("practitioner_id", q.Get("practitioner_id"))
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	snap, err := h.svc.FindAvailableSlot(r.Context(), practitionerID, q.Get("date"), q.Get("preferred_time"))
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

func slotRef(r *http.Request) (scheduleID, slotID uuid.UUID, err error) {
	scheduleID, err = parseUUID("schedule_id", chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	slotID, err = parseUUID("slot_id", chi.URLParam(r, "slotID"))
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return scheduleID, slotID, nil
}

func (h *scheduleHandlers) getSlot(w http.ResponseWriter, r *http.Request) {
	scheduleID, slotID, err := slotRef(r)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	snap, err := h.svc.GetSlot(r.Context(), scheduleID, slotID)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

func (h *scheduleHandlers) occupy(w http.ResponseWriter, r *http.Request) {
	scheduleID, slotID, err := slotRef(r)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	var req OccupySlotRequest
	if err := decodeBody(r, &req); err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	appointmentID, err := parseUUID("appointment_id", req.AppointmentID)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	sl, err := h.svc.OccupySlot(r.Context(), scheduleID, slotID, appointmentID)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, sl)
}

func (h *scheduleHandlers) release(w http.ResponseWriter, r *http.Request) {
	scheduleID, slotID, err := slotRef(r)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	var req ReleaseSlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeAppError(w, r, h.logger, badRequest("invalid_request_body", "could not parse JSON"))
		return
	}

	var sl *schedule.Slot
	if strings.TrimSpace(req.AppointmentID) == "" {
		sl, err = h.svc.ReleaseSlot(r.Context(), scheduleID, slotID)
	} else {
		appointmentID, perr := parseUUID("appointment_id", req.AppointmentID)
		if perr != nil {
			writeAppError(w, r, h.logger, perr)
			return
		}
		sl, err = h.svc.ReleaseSlotFor(r.Context(), scheduleID, slotID, appointmentID)
	}
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, sl)
}

// slotAction serves block and unblock, which take no body.
func (h *scheduleHandlers) slotAction(fn func(ctx context.Context, scheduleID, slotID uuid.UUID) (*schedule.Slot, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scheduleID, slotID, err := slotRef(r)
		if err != nil {
			writeAppError(w, r, h.logger, err)
			return
		}

		sl, err := fn(r.Context(), scheduleID, slotID)
		if err != nil {
			writeAppError(w, r, h.logger, err)
			return
		}

		writeJSON(w, http.StatusOK, sl)
	}
}
