package appointment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/clinic-scheduling/internal/db"
)

const appointmentColumns = `id, patient_dni, schedule_id, slot_id, cost_cents, payment_method, status, created_at, updated_at, completed_at, cancelled_at`

type PgRepository struct {
	pool db.Pool
}

func NewPgRepository(pool db.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status string

	err := row.Scan(
		&a.ID,
		&a.PatientDNI,
		&a.ScheduleID,
		&a.SlotID,
		&a.CostCents,
		&a.PaymentMethod,
		&status,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.CompletedAt,
		&a.CancelledAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Status = Status(status)
	return &a, nil
}

func (r *PgRepository) queryAppointments(ctx context.Context, sql string, args ...any) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) currentStatus(ctx context.Context, id uuid.UUID) (Status, error) {
	var current string
	err := r.pool.QueryRow(ctx, `SELECT status FROM appointments WHERE id = $1`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrAppointmentNotFound
		}
		return "", fmt.Errorf("read appointment status: %w", err)
	}
	return Status(current), nil
}

// explainMiss turns a conditional update that matched nothing into
// ErrAppointmentNotFound or the state error for the row's current status.
func (r *PgRepository) explainMiss(ctx context.Context, id uuid.UUID) error {
	current, err := r.currentStatus(ctx, id)
	if err != nil {
		return err
	}
	return notPending(current)
}

// Interface methods

func (r *PgRepository) Create(ctx context.Context, a *Appointment) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_dni, schedule_id, slot_id, cost_cents, payment_method, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING created_at, updated_at
	`, a.ID, a.PatientDNI, a.ScheduleID, a.SlotID, a.CostCents, a.PaymentMethod, string(a.Status)).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrSlotAlreadyClaimed
		}
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *PgRepository) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) UpdateReferences(ctx context.Context, id uuid.UUID, from, to SlotRef) (*Appointment, error) {
	a, err := scanAppointment(r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET schedule_id = $2,
		    slot_id = $3,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'PENDING'
		  AND schedule_id = $4
		  AND slot_id = $5
		RETURNING `+appointmentColumns+`
	`, id, to.ScheduleID, to.SlotID, from.ScheduleID, from.SlotID))
	switch {
	case err == nil:
		return a, nil
	case db.IsUniqueViolation(err):
		return nil, ErrSlotAlreadyClaimed
	case errors.Is(err, ErrAppointmentNotFound):
		current, err := r.currentStatus(ctx, id)
		if err != nil {
			return nil, err
		}
		if current != StatusPending {
			return nil, notPending(current)
		}
		// Still PENDING, so the references changed under us.
		return nil, ErrAppointmentMoved
	default:
		return nil, fmt.Errorf("update appointment references: %w", err)
	}
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	if !from.CanTransition(to) {
		return nil, notPending(from)
	}

	a, err := scanAppointment(r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now(),
		    completed_at = CASE WHEN $2 = 'COMPLETED' THEN now() ELSE completed_at END,
		    cancelled_at = CASE WHEN $2 = 'CANCELLED' THEN now() ELSE cancelled_at END
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns+`
	`, id, string(to), string(from)))
	if err == nil {
		return a, nil
	}
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, r.explainMiss(ctx, id)
	}
	return nil, fmt.Errorf("update appointment status: %w", err)
}

func (r *PgRepository) ListActiveForSlot(ctx context.Context, scheduleID, slotID uuid.UUID) ([]Appointment, error) {
	list, err := r.queryAppointments(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE schedule_id = $1
		  AND slot_id = $2
		  AND status <> 'CANCELLED'
		ORDER BY created_at
	`, scheduleID, slotID)
	if err != nil {
		return nil, fmt.Errorf("list appointments for slot: %w", err)
	}
	return list, nil
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientDNI string, limit, offset int) ([]Appointment, error) {
	list, err := r.queryAppointments(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_dni = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, patientDNI, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return list, nil
}
