package voice

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRepositoryTest(t *testing.T) (*Repository, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)
	return NewRepository(mockPool), mockPool
}

func TestRepositoryCallExists(t *testing.T) {
	repo, mockPool := setupRepositoryTest(t)

	mockPool.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM voice_calls WHERE conversation_id = \$1\)`).
		WithArgs("conv_1").
		WillReturnRows(mockPool.NewRows([]string{"exists"}).AddRow(true))

	exists, err := repo.CallExists(context.Background(), "conv_1")
	require.NoError(t, err)
	assert.True(t, exists)

	dbErr := errors.New("connection reset")
	mockPool.ExpectQuery(`SELECT EXISTS`).WithArgs("conv_2").WillReturnError(dbErr)

	_, err = repo.CallExists(context.Background(), "conv_2")
	require.Error(t, err)
	assert.ErrorIs(t, err, dbErr)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestRepositoryGetSessionNotFound(t *testing.T) {
	repo, mockPool := setupRepositoryTest(t)

	mockPool.ExpectQuery(`FROM voice_sessions WHERE id = \$1`).
		WithArgs("vs_missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetSession(context.Background(), "vs_missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestRepositoryExpireStaleSessions(t *testing.T) {
	repo, mockPool := setupRepositoryTest(t)
	cutoff := time.Date(2025, 12, 14, 12, 0, 0, 0, time.UTC)

	mockPool.ExpectExec(`UPDATE voice_sessions\s+SET status = 'failed'`).
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("UPDATE", 4))

	n, err := repo.ExpireStaleSessions(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestRepositoryWithinTxRollsBackOnError(t *testing.T) {
	repo, mockPool := setupRepositoryTest(t)
	boom := errors.New("boom")

	mockPool.ExpectBegin()
	mockPool.ExpectRollback()

	err := repo.WithinTx(context.Background(), func(tx Tx) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestRepositoryInsertCallConflict(t *testing.T) {
	repo, mockPool := setupRepositoryTest(t)
	rec := CallRecord{ID: uuid.New(), TenantID: tenantA, CustomerID: uuid.New(), ConversationRecordID: uuid.New(), SessionID: "vs_abc", ConversationID: "conv_1"}

	mockPool.ExpectBegin()
	mockPool.ExpectQuery(`INSERT INTO voice_calls`).
		WithArgs(rec.ID, rec.TenantID, rec.CustomerID, rec.ConversationRecordID, rec.SessionID, rec.ConversationID,
			rec.Phone, rec.StartedAt, rec.EndedAt, rec.DurationSecs, rec.RecordingURL).
		WillReturnError(pgx.ErrNoRows)
	mockPool.ExpectRollback()

	var created bool
	err := repo.WithinTx(context.Background(), func(tx Tx) error {
		var err error
		created, err = tx.InsertCall(context.Background(), rec)
		if err != nil {
			return err
		}
		if !created {
			return errCallRecorded
		}
		return nil
	})
	assert.ErrorIs(t, err, errCallRecorded)
	assert.False(t, created)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestRepositoryEnsureConversationRecoversFromUniqueViolation(t *testing.T) {
	repo, mockPool := setupRepositoryTest(t)
	winner := uuid.New()
	rec := ConversationRecord{ID: uuid.New(), TenantID: tenantA, CustomerID: uuid.New(), SessionID: "vs_abc", ConversationID: "conv_1"}

	mockPool.ExpectBegin()
	mockPool.ExpectQuery(`SELECT id FROM voice_conversations WHERE conversation_id = \$1`).
		WithArgs("conv_1").
		WillReturnError(pgx.ErrNoRows)
	mockPool.ExpectBegin()
	mockPool.ExpectExec(`INSERT INTO voice_conversations`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: pgUniqueViolation})
	mockPool.ExpectRollback()
	mockPool.ExpectQuery(`SELECT id FROM voice_conversations WHERE conversation_id = \$1`).
		WithArgs("conv_1").
		WillReturnRows(mockPool.NewRows([]string{"id"}).AddRow(winner))
	mockPool.ExpectCommit()

	var got uuid.UUID
	err := repo.WithinTx(context.Background(), func(tx Tx) error {
		var err error
		got, err = tx.EnsureConversation(context.Background(), rec)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, winner, got)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestRepositoryUpdateSessionOnlyAdvancesActive(t *testing.T) {
	repo, mockPool := setupRepositoryTest(t)
	ended := time.Date(2025, 12, 15, 12, 0, 0, 0, time.UTC)
	u := SessionUpdate{SessionID: "vs_abc", CustomerID: uuid.New(), ConversationID: "conv_1", Intent: IntentBookAppointment, EndedAt: ended}

	mockPool.ExpectBegin()
	mockPool.ExpectExec(`status = CASE WHEN status = 'active' THEN 'completed' ELSE status END`).
		WithArgs(u.SessionID, u.CustomerID, u.ConversationID, u.Phone, u.Summary, u.Intent, u.EndedAt).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mockPool.ExpectCommit()

	err := repo.WithinTx(context.Background(), func(tx Tx) error {
		return tx.UpdateSession(context.Background(), u)
	})
	require.NoError(t, err)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestRepositoryClaimPendingArchives(t *testing.T) {
	repo, mockPool := setupRepositoryTest(t)
	cutoff := time.Date(2025, 12, 15, 11, 58, 0, 0, time.UTC)
	callID := uuid.New()

	mockPool.ExpectQuery(`UPDATE voice_calls SET archive_requested_at = now\(\)`).
		WithArgs(cutoff, 50).
		WillReturnRows(mockPool.NewRows([]string{"id", "conversation_id", "tenant_id"}).AddRow(callID, "conv_1", tenantA))

	pending, err := repo.ClaimPendingArchives(context.Background(), cutoff, 50)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, PendingArchive{CallID: callID, ConversationID: "conv_1", TenantID: tenantA}, pending[0])
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestRepositoryGetBookingReminderInfoNotFound(t *testing.T) {
	repo, mockPool := setupRepositoryTest(t)
	id := uuid.New()

	mockPool.ExpectQuery(`FROM voice_bookings b\s+JOIN voice_customers c`).
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetBookingReminderInfo(context.Background(), id)
	assert.ErrorIs(t, err, ErrBookingNotFound)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
