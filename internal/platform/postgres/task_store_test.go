package postgres

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgelight/imageforge/internal/domain"
	"github.com/forgelight/imageforge/internal/store"
)

func TestMapError(t *testing.T) {
	t.Parallel()

	t.Run("nil passes through", func(t *testing.T) {
		assert.NoError(t, mapError(nil))
	})

	t.Run("no rows maps to not found", func(t *testing.T) {
		err := mapError(fmt.Errorf("failed to get task: %w", sql.ErrNoRows))
		assert.ErrorIs(t, err, store.ErrTaskNotFound)
	})

	t.Run("constraint violations map to invalid entity", func(t *testing.T) {
		for _, code := range []string{
			uniqueViolationCode,
			foreignKeyViolationCode,
			checkViolationCode,
			notNullViolationCode,
		} {
			pgErr := &pgconn.PgError{Code: code, ConstraintName: "tasks_status_check"}
			err := mapError(fmt.Errorf("failed to insert task: %w", pgErr))
			assert.ErrorIs(t, err, store.ErrInvalidEntity, "code %s", code)
		}
	})

	t.Run("unknown errors pass through unchanged", func(t *testing.T) {
		boom := errors.New("connection reset")
		assert.Equal(t, boom, mapError(boom))
	})
}

type stubResult struct {
	rows int64
	err  error
}

func (r stubResult) LastInsertId() (int64, error) { return 0, nil }
func (r stubResult) RowsAffected() (int64, error) { return r.rows, r.err }

func TestCheckFound(t *testing.T) {
	t.Parallel()

	assert.NoError(t, checkFound(stubResult{rows: 1}))
	assert.ErrorIs(t, checkFound(stubResult{rows: 0}), store.ErrTaskNotFound)
	assert.Error(t, checkFound(stubResult{err: errors.New("driver gone")}))
}

func TestNullableJSON(t *testing.T) {
	t.Parallel()

	assert.Nil(t, nullableJSON(nil))
	assert.Nil(t, nullableJSON(json.RawMessage{}))
	assert.Equal(t, []byte(`{"url":"u"}`), nullableJSON(json.RawMessage(`{"url":"u"}`)))
}

type stubRow struct {
	scan func(dest ...any) error
}

func (r stubRow) Scan(dest ...any) error { return r.scan(dest...) }

func TestScanTask(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	ownerID := uuid.New()
	batchID := uuid.New()
	created := time.Now().UTC().Add(-time.Minute)
	started := created.Add(10 * time.Second)
	completed := started.Add(30 * time.Second)

	row := stubRow{scan: func(dest ...any) error {
		*(dest[0].(*uuid.UUID)) = id
		*(dest[1].(*uuid.UUID)) = ownerID
		*(dest[2].(*domain.TaskType)) = domain.TaskTypeSingle
		*(dest[3].(*domain.TaskStatus)) = domain.TaskStatusFailed
		*(dest[4].(*int)) = 10
		*(dest[5].(*[]byte)) = []byte(`{"prompt":"x"}`)
		*(dest[6].(*[]byte)) = nil
		*(dest[7].(*sql.NullString)) = sql.NullString{String: "quota exceeded", Valid: true}
		*(dest[8].(**uuid.UUID)) = &batchID
		*(dest[9].(*time.Time)) = created
		*(dest[10].(**time.Time)) = &started
		*(dest[11].(**time.Time)) = &completed
		return nil
	}}

	task, err := scanTask(row)
	require.NoError(t, err)
	assert.Equal(t, id, task.ID)
	assert.Equal(t, ownerID, task.OwnerID)
	assert.Equal(t, domain.TaskTypeSingle, task.Type)
	assert.Equal(t, domain.TaskStatusFailed, task.Status)
	assert.Equal(t, 10, task.Progress)
	assert.Equal(t, json.RawMessage(`{"prompt":"x"}`), task.Payload)
	assert.Nil(t, task.Output, "NULL output stays nil, not an empty slice")
	assert.Equal(t, "quota exceeded", task.ErrorMessage)
	require.NotNil(t, task.BatchID)
	assert.Equal(t, batchID, *task.BatchID)
	assert.Equal(t, created, task.CreatedAt)
	require.NotNil(t, task.StartedAt)
	assert.Equal(t, started, *task.StartedAt)
	require.NotNil(t, task.CompletedAt)
	assert.Equal(t, completed, *task.CompletedAt)
}

func TestScanTaskPropagatesScanError(t *testing.T) {
	t.Parallel()

	row := stubRow{scan: func(dest ...any) error {
		return sql.ErrNoRows
	}}

	_, err := scanTask(row)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}
