package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/timezone"
)

const scheduleColumns = `id, practitioner_id, specialty_id, room, date, start_time, end_time, slot_minutes, created_at, updated_at`

const slotColumns = `id, schedule_id, practitioner_id, room, start_time, end_time, state, appointment_id, updated_at`

var slotCopyColumns = []string{"id", "schedule_id", "practitioner_id", "room", "start_time", "end_time", "state", "appointment_id", "updated_at"}

type PgRepository struct {
	pool db.Pool
	loc  *time.Location
}

// NewPgRepository returns a Postgres backed store. Dates and times read back
// are expressed in loc.
func NewPgRepository(pool db.Pool, loc *time.Location) *PgRepository {
	if loc == nil {
		loc = time.UTC
	}
	return &PgRepository{pool: pool, loc: loc}
}

// Helpers

func (r *PgRepository) civil(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, r.loc)
}

func (r *PgRepository) scanSchedule(row pgx.Row) (*Schedule, error) {
	var s Schedule
	err := row.Scan(
		&s.ID,
		&s.PractitionerID,
		&s.SpecialtyID,
		&s.Room,
		&s.Date,
		&s.StartTime,
		&s.EndTime,
		&s.SlotMinutes,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrScheduleNotFound
		}
		return nil, err
	}
	s.Date = r.civil(s.Date)
	s.StartTime = s.StartTime.In(r.loc)
	s.EndTime = s.EndTime.In(r.loc)
	return &s, nil
}

func (r *PgRepository) scanSlot(row pgx.Row, extra ...any) (*Slot, error) {
	var sl Slot
	var state string
	var appointmentID *uuid.UUID

	dest := []any{
		&sl.ID,
		&sl.ScheduleID,
		&sl.PractitionerID,
		&sl.Room,
		&sl.StartTime,
		&sl.EndTime,
		&state,
		&appointmentID,
		&sl.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}
	sl.State = SlotState(state)
	sl.AppointmentID = appointmentID
	sl.StartTime = sl.StartTime.In(r.loc)
	sl.EndTime = sl.EndTime.In(r.loc)
	return &sl, nil
}

func (r *PgRepository) querySchedules(ctx context.Context, q db.Querier, sql string, args ...any) ([]Schedule, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Schedule
	for rows.Next() {
		s, err := r.scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (r *PgRepository) querySlots(ctx context.Context, sql string, args ...any) ([]Slot, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Slot
	for rows.Next() {
		sl, err := r.scanSlot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sl)
	}
	return out, rows.Err()
}

// advisoryKeys returns the lock keys for a schedule creation. Practitioner
// keys always sort before room keys so concurrent creations cannot deadlock.
func advisoryKeys(s *Schedule) []string {
	day := s.Date.Format(timezone.DateLayout)
	return []string{
		"practitioner:" + s.PractitionerID.String() + ":" + day,
		"room:" + s.Room + ":" + day,
	}
}

// Interface methods

func (r *PgRepository) CreateSchedule(ctx context.Context, s *Schedule, check ConflictCheck) error {
	day := s.Date.Format(timezone.DateLayout)

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		for _, key := range advisoryKeys(s) {
			if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
				return fmt.Errorf("advisory lock %s: %w", key, err)
			}
		}

		candidates, err := r.querySchedules(ctx, tx, `
			SELECT `+scheduleColumns+`
			FROM schedules
			WHERE date = $1::date
			  AND (practitioner_id = $2 OR room = $3)
			ORDER BY start_time
		`, day, s.PractitionerID, s.Room)
		if err != nil {
			return fmt.Errorf("load candidate schedules: %w", err)
		}
		if check != nil {
			if err := check(candidates); err != nil {
				return err
			}
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO schedules (id, practitioner_id, specialty_id, room, date, start_time, end_time, slot_minutes, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5::date, $6, $7, $8, $9, $10)
		`, s.ID, s.PractitionerID, s.SpecialtyID, s.Room, day, s.StartTime, s.EndTime, s.SlotMinutes, s.CreatedAt, s.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert schedule: %w", err)
		}

		rows := make([][]any, 0, len(s.Slots))
		for _, sl := range s.Slots {
			rows = append(rows, []any{sl.ID, sl.ScheduleID, sl.PractitionerID, sl.Room, sl.StartTime, sl.EndTime, string(sl.State), sl.AppointmentID, sl.UpdatedAt})
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"slots"}, slotCopyColumns, pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("insert slots: %w", err)
		}
		return nil
	})
}

func (r *PgRepository) GetSchedule(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	s, err := r.scanSchedule(r.pool.QueryRow(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE id = $1
	`, id))
	if err != nil {
		return nil, err
	}

	s.Slots, err = r.querySlots(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE schedule_id = $1
		ORDER BY start_time
	`, id)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	return s, nil
}

func (r *PgRepository) ListSchedules(ctx context.Context, practitionerID uuid.UUID, date time.Time) ([]Schedule, error) {
	day := date.In(r.loc).Format(timezone.DateLayout)

	schedules, err := r.querySchedules(ctx, r.pool, `
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE practitioner_id = $1 AND date = $2::date
		ORDER BY start_time
	`, practitionerID, day)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	if len(schedules) == 0 {
		return nil, nil
	}

	slots, err := r.querySlots(ctx, `
		SELECT sl.id, sl.schedule_id, sl.practitioner_id, sl.room, sl.start_time, sl.end_time, sl.state, sl.appointment_id, sl.updated_at
		FROM slots sl
		JOIN schedules s ON s.id = sl.schedule_id
		WHERE s.practitioner_id = $1 AND s.date = $2::date
		ORDER BY sl.start_time
	`, practitionerID, day)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}

	index := make(map[uuid.UUID]int, len(schedules))
	for i := range schedules {
		index[schedules[i].ID] = i
	}
	for _, sl := range slots {
		if i, ok := index[sl.ScheduleID]; ok {
			schedules[i].Slots = append(schedules[i].Slots, sl)
		}
	}
	return schedules, nil
}

func (r *PgRepository) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM schedules s
		WHERE s.id = $1
		  AND NOT EXISTS (
		    SELECT 1 FROM slots WHERE schedule_id = s.id AND state = 'OCCUPIED'
		  )
	`, id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schedules WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("read schedule: %w", err)
	}
	if !exists {
		return ErrScheduleNotFound
	}
	return ErrScheduleInUse
}

func (r *PgRepository) GetSlot(ctx context.Context, scheduleID, slotID uuid.UUID) (*SlotSnapshot, error) {
	var date time.Time
	var specialtyID uuid.UUID

	sl, err := r.scanSlot(r.pool.QueryRow(ctx, `
		SELECT sl.id, sl.schedule_id, sl.practitioner_id, sl.room, sl.start_time, sl.end_time, sl.state, sl.appointment_id, sl.updated_at,
		       s.date, s.specialty_id
		FROM slots sl
		JOIN schedules s ON s.id = sl.schedule_id
		WHERE sl.schedule_id = $1 AND sl.id = $2
	`, scheduleID, slotID), &date, &specialtyID)
	if err != nil {
		return nil, err
	}
	return &SlotSnapshot{Slot: *sl, Date: r.civil(date), SpecialtyID: specialtyID}, nil
}

func (r *PgRepository) TransitionSlot(ctx context.Context, scheduleID, slotID uuid.UUID, ev SlotEvent, appointmentID *uuid.UUID) (*Slot, error) {
	from, to, err := Transition(ev)
	if err != nil {
		return nil, err
	}

	var holder, expected *uuid.UUID
	switch {
	case to == SlotOccupied:
		if appointmentID == nil || *appointmentID == uuid.Nil {
			return nil, ErrMissingAppointmentID
		}
		holder = appointmentID
	case ev == EventRelease:
		expected = appointmentID
	}

	sl, err := r.scanSlot(r.pool.QueryRow(ctx, `
		UPDATE slots
		SET state = $4,
		    appointment_id = $5,
		    updated_at = now()
		WHERE schedule_id = $1
		  AND id = $2
		  AND state = $3
		  AND ($6::uuid IS NULL OR appointment_id = $6)
		RETURNING `+slotColumns+`
	`, scheduleID, slotID, string(from), string(to), holder, expected))
	if err == nil {
		return sl, nil
	}
	if !errors.Is(err, ErrSlotNotFound) {
		return nil, fmt.Errorf("%s slot: %w", ev, err)
	}

	// Nothing matched: the slot is missing, in another state or held by
	// another appointment.
	var current string
	var currentHolder *uuid.UUID
	err = r.pool.QueryRow(ctx, `
		SELECT state, appointment_id FROM slots WHERE schedule_id = $1 AND id = $2
	`, scheduleID, slotID).Scan(&current, &currentHolder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, fmt.Errorf("read slot state: %w", err)
	}
	if SlotState(current) == from && expected != nil {
		return nil, fmt.Errorf("release slot held for %s: %w", *expected, ErrSlotHeldByOther)
	}
	return nil, rejectTransition(ev, SlotState(current))
}
