package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
)

var slotRowColumns = []string{"id", "schedule_id", "practitioner_id", "room", "start_time", "end_time", "state", "appointment_id", "updated_at"}

func newMockRepo(t *testing.T) (*PgRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPgRepository(mock, testLoc), mock
}

func TestPgRepository_CreateSchedule(t *testing.T) {
	repo, mock := newMockRepo(t)

	svc := NewService(repo, testLoc, nil)
	sched, err := svc.buildSchedule(validInput())
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs("practitioner:" + sched.PractitionerID.String() + ":2030-03-04").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs("room:A1:2030-03-04").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("FROM schedules").
		WithArgs("2030-03-04", sched.PractitionerID, "A1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "practitioner_id", "specialty_id", "room", "date", "start_time", "end_time", "slot_minutes", "created_at", "updated_at"}))
	mock.ExpectExec("INSERT INTO schedules").
		WithArgs(sched.ID, sched.PractitionerID, sched.SpecialtyID, "A1", "2030-03-04",
			pgxmock.AnyArg(), pgxmock.AnyArg(), 30, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"slots"}, slotRowColumns).WillReturnResult(2)
	mock.ExpectCommit()

	checked := false
	err = repo.CreateSchedule(context.Background(), sched, func(candidates []Schedule) error {
		checked = true
		assert.Empty(t, candidates)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, checked)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_CreateScheduleRollsBackOnConflict(t *testing.T) {
	repo, mock := newMockRepo(t)

	svc := NewService(repo, testLoc, nil)
	sched, err := svc.buildSchedule(validInput())
	require.NoError(t, err)

	existingID := uuid.New()
	start := time.Date(2030, 3, 4, 9, 30, 0, 0, testLoc)
	rows := pgxmock.NewRows([]string{"id", "practitioner_id", "specialty_id", "room", "date", "start_time", "end_time", "slot_minutes", "created_at", "updated_at"}).
		AddRow(existingID, uuid.New(), uuid.New(), "A1", time.Date(2030, 3, 4, 0, 0, 0, 0, time.UTC), start, start.Add(time.Hour), 30, start, start)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WithArgs(pgxmock.AnyArg()).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WithArgs(pgxmock.AnyArg()).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("FROM schedules").WithArgs("2030-03-04", sched.PractitionerID, "A1").WillReturnRows(rows)
	mock.ExpectRollback()

	err = repo.CreateSchedule(context.Background(), sched, func(candidates []Schedule) error {
		require.Len(t, candidates, 1)
		assert.Equal(t, existingID, candidates[0].ID)
		assert.Equal(t, time.Date(2030, 3, 4, 0, 0, 0, 0, testLoc), candidates[0].Date)
		return ErrScheduleOverlap
	})
	assert.ErrorIs(t, err, ErrScheduleOverlap)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_TransitionSlotOccupy(t *testing.T) {
	repo, mock := newMockRepo(t)
	schedID, slotID, apptID := uuid.New(), uuid.New(), uuid.New()
	start := time.Date(2030, 3, 4, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("UPDATE slots").
		WithArgs(schedID, slotID, "AVAILABLE", "OCCUPIED", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(slotRowColumns).
			AddRow(slotID, schedID, uuid.New(), "A1", start, start.Add(30*time.Minute), "OCCUPIED", &apptID, start))

	sl, err := repo.TransitionSlot(context.Background(), schedID, slotID, EventOccupy, &apptID)
	require.NoError(t, err)
	assert.Equal(t, SlotOccupied, sl.State)
	require.NotNil(t, sl.AppointmentID)
	assert.Equal(t, apptID, *sl.AppointmentID)
	assert.Equal(t, testLoc, sl.StartTime.Location())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_TransitionSlotRejected(t *testing.T) {
	repo, mock := newMockRepo(t)
	schedID, slotID := uuid.New(), uuid.New()

	mock.ExpectQuery("UPDATE slots").
		WithArgs(schedID, slotID, "OCCUPIED", "AVAILABLE", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT state, appointment_id FROM slots").
		WithArgs(schedID, slotID).
		WillReturnRows(pgxmock.NewRows([]string{"state", "appointment_id"}).AddRow("AVAILABLE", (*uuid.UUID)(nil)))

	_, err := repo.TransitionSlot(context.Background(), schedID, slotID, EventRelease, nil)
	assert.ErrorIs(t, err, ErrSlotNotOccupied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_ReleaseHeldByAnotherAppointment(t *testing.T) {
	repo, mock := newMockRepo(t)
	schedID, slotID := uuid.New(), uuid.New()
	mine, other := uuid.New(), uuid.New()

	mock.ExpectQuery(`AND \(\$6::uuid IS NULL OR appointment_id = \$6\)`).
		WithArgs(schedID, slotID, "OCCUPIED", "AVAILABLE", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT state, appointment_id FROM slots").
		WithArgs(schedID, slotID).
		WillReturnRows(pgxmock.NewRows([]string{"state", "appointment_id"}).AddRow("OCCUPIED", &other))

	_, err := repo.TransitionSlot(context.Background(), schedID, slotID, EventRelease, &mine)
	assert.ErrorIs(t, err, ErrSlotHeldByOther)
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidState))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_TransitionSlotMissing(t *testing.T) {
	repo, mock := newMockRepo(t)
	schedID, slotID := uuid.New(), uuid.New()

	mock.ExpectQuery("UPDATE slots").
		WithArgs(schedID, slotID, "AVAILABLE", "BLOCKED", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT state, appointment_id FROM slots").
		WithArgs(schedID, slotID).
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.TransitionSlot(context.Background(), schedID, slotID, EventBlock, nil)
	assert.ErrorIs(t, err, ErrSlotNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_TransitionSlotDatabaseError(t *testing.T) {
	repo, mock := newMockRepo(t)
	schedID, slotID := uuid.New(), uuid.New()
	boom := errors.New("connection reset")

	mock.ExpectQuery("UPDATE slots").WithArgs(schedID, slotID, "BLOCKED", "AVAILABLE", pgxmock.AnyArg(), pgxmock.AnyArg()).WillReturnError(boom)

	_, err := repo.TransitionSlot(context.Background(), schedID, slotID, EventUnblock, nil)
	assert.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_DeleteSchedule(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectExec("DELETE FROM schedules").WithArgs(id).WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, repo.DeleteSchedule(context.Background(), id))

	mock.ExpectExec("DELETE FROM schedules").WithArgs(id).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectQuery("SELECT EXISTS").WithArgs(id).WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	assert.ErrorIs(t, repo.DeleteSchedule(context.Background(), id), ErrScheduleInUse)

	mock.ExpectExec("DELETE FROM schedules").WithArgs(id).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectQuery("SELECT EXISTS").WithArgs(id).WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	assert.ErrorIs(t, repo.DeleteSchedule(context.Background(), id), ErrScheduleNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_GetSlotSnapshot(t *testing.T) {
	repo, mock := newMockRepo(t)
	schedID, slotID, specialtyID := uuid.New(), uuid.New(), uuid.New()
	start := time.Date(2030, 3, 4, 12, 0, 0, 0, time.UTC)

	cols := append(append([]string{}, slotRowColumns...), "date", "specialty_id")
	mock.ExpectQuery("FROM slots sl").
		WithArgs(schedID, slotID).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow(slotID, schedID, uuid.New(), "A1", start, start.Add(30*time.Minute), "AVAILABLE", nil, start,
				time.Date(2030, 3, 4, 0, 0, 0, 0, time.UTC), specialtyID))

	snap, err := repo.GetSlot(context.Background(), schedID, slotID)
	require.NoError(t, err)
	assert.Equal(t, SlotAvailable, snap.State)
	assert.Nil(t, snap.AppointmentID)
	assert.Equal(t, specialtyID, snap.SpecialtyID)
	assert.Equal(t, "2030-03-04", snap.Date.Format("2006-01-02"))
	require.NoError(t, mock.ExpectationsWereMet())
}
