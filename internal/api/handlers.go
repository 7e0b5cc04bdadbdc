package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/clinic-scheduling/internal/booking"
	"github.com/hackgods/clinic-scheduling/pkg/logging"
)

type appointmentHandlers struct {
	svc    BookingService
	logger *logging.Logger
}

func (h *appointmentHandlers) create(w http.ResponseWriter, r *http.Request) {
	var req CreateAppointmentRequest
	if err := decodeBody(r, &req); err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	scheduleID, err := parseUUID("schedule_id", req.ScheduleID)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	slotID, err := parseUUID("slot_id", req.SlotID)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	details, err := h.svc.BookAppointment(r.Context(), booking.BookInput{
		PatientDNI:    req.PatientDNI,
		ScheduleID:    scheduleID,
		SlotID:        slotID,
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, detailsResponse(details))
}

func (h *appointmentHandlers) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, err := intParam(q.Get("limit"), "limit")
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	offset, err := intParam(q.Get("offset"), "offset")
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	list, err := h.svc.ListAppointments(r.Context(), q.Get("patient_dni"), limit, offset)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	resp := AppointmentListResponse{Items: make([]AppointmentResponse, 0, len(list))}
	for _, a := range list {
		resp.Items = append(resp.Items, toAppointmentResponse(a))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *appointmentHandlers) get(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUID("appointment_id", chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	details, err := h.svc.GetAppointment(r.Context(), id)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, detailsResponse(details))
}

func (h *appointmentHandlers) update(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUID("appointment_id", chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	var req UpdateAppointmentRequest
	if err := decodeBody(r, &req); err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	scheduleID, err := parseUUID("schedule_id", req.ScheduleID)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	slotID, err := parseUUID("slot_id", req.SlotID)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	details, err := h.svc.UpdateAppointment(r.Context(), id, booking.UpdateInput{
		ScheduleID: scheduleID,
		SlotID:     slotID,
		PatientDNI: req.PatientDNI,
	})
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, detailsResponse(details))
}

func (h *appointmentHandlers) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUID("appointment_id", chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	details, err := h.svc.CancelAppointment(r.Context(), id)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, detailsResponse(details))
}

func (h *appointmentHandlers) complete(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUID("appointment_id", chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	details, err := h.svc.CompleteAppointment(r.Context(), id)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, detailsResponse(details))
}

// intParam parses an optional non-negative query integer; empty means 0.
func intParam(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, badRequest("invalid_"+name, name+" must be a non-negative integer")
	}
	return n, nil
}
