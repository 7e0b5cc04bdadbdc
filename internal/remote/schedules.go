package remote

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/schedule"
)

// ScheduleClient reaches the schedule manager served by schedule-server.
type ScheduleClient struct {
	c *Client
}

func NewScheduleClient(baseURL string, opts Options) *ScheduleClient {
	return &ScheduleClient{c: NewClient("schedule", baseURL, opts)}
}

func slotPath(scheduleID, slotID uuid.UUID) string {
	return fmt.Sprintf("/schedules/%s/slots/%s", scheduleID, slotID)
}

// occupyRequest is also the release body, naming the expected holder.
type occupyRequest struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
}

func (s *ScheduleClient) GetSlot(ctx context.Context, scheduleID, slotID uuid.UUID) (*schedule.SlotSnapshot, error) {
	var snap schedule.SlotSnapshot
	if err := s.c.do(ctx, "get_slot", http.MethodGet, slotPath(scheduleID, slotID), nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *ScheduleClient) OccupySlot(ctx context.Context, scheduleID, slotID, appointmentID uuid.UUID) error {
	return s.c.do(ctx, "occupy_slot", http.MethodPost, slotPath(scheduleID, slotID)+"/occupy", occupyRequest{AppointmentID: appointmentID}, nil)
}

// ReleaseSlot frees the slot only while appointmentID holds it.
func (s *ScheduleClient) ReleaseSlot(ctx context.Context, scheduleID, slotID, appointmentID uuid.UUID) error {
	return s.c.do(ctx, "release_slot", http.MethodPost, slotPath(scheduleID, slotID)+"/release", occupyRequest{AppointmentID: appointmentID}, nil)
}

func (s *ScheduleClient) BlockSlot(ctx context.Context, scheduleID, slotID uuid.UUID) error {
	return s.c.do(ctx, "block_slot", http.MethodPost, slotPath(scheduleID, slotID)+"/block", nil, nil)
}

func (s *ScheduleClient) UnblockSlot(ctx context.Context, scheduleID, slotID uuid.UUID) error {
	return s.c.do(ctx, "unblock_slot", http.MethodPost, slotPath(scheduleID, slotID)+"/unblock", nil, nil)
}
