package checkpoint

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/frameflow/internal/database"
	ierrors "github.com/mantonx/frameflow/internal/modules/interpolationmodule/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestStore(t *testing.T) *Store {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// every new connection would get its own empty :memory: database
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))
	return NewStore(db, hclog.NewNullLogger())
}

func newRun(id string, started time.Time) *database.InterpolationRun {
	return &database.InterpolationRun{
		ID:          id,
		Engine:      "rife-ncnn",
		Multiplier:  4,
		InputDir:    "/frames",
		OutputDir:   "/interp",
		PassesTotal: 2,
		StartedAt:   started,
	}
}

func TestStoreRunLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run := newRun("run-1", time.Now())
	require.NoError(t, store.CreateRun(ctx, run))
	assert.Equal(t, database.RunStatusRunning, run.Status)

	require.NoError(t, store.RecordPass(ctx, &database.InterpolationPass{RunID: "run-1", PassIndex: 1, InputDir: "/frames", OutputDir: "/interp", ElapsedMs: 1200}))
	require.NoError(t, store.RecordPass(ctx, &database.InterpolationPass{RunID: "run-1", PassIndex: 2, InputDir: "/interp-run1", OutputDir: "/interp", StagingDir: "/interp-run1"}))

	require.NoError(t, store.FinishRun(ctx, "run-1", Outcome{Status: database.RunStatusSucceeded, Elapsed: 3 * time.Second}))

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, database.RunStatusSucceeded, got.Status)
	assert.Equal(t, 2, got.PassesCompleted)
	assert.Equal(t, int64(3000), got.ElapsedMs)
	require.NotNil(t, got.EndedAt)
	require.Len(t, got.Passes, 2)
	assert.Equal(t, "/interp-run1", got.Passes[1].StagingDir)
	assert.False(t, got.Passes[0].CompletedAt.IsZero())
}

func TestStoreDuplicatePassRejected(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, newRun("run-1", time.Now())))

	require.NoError(t, store.RecordPass(ctx, &database.InterpolationPass{RunID: "run-1", PassIndex: 1}))
	err := store.RecordPass(ctx, &database.InterpolationPass{RunID: "run-1", PassIndex: 1})
	assert.True(t, errors.Is(err, ierrors.ErrStorage))
}

func TestStoreUnknownRun(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.GetRun(ctx, "missing")
	assert.True(t, errors.Is(err, ierrors.ErrRunNotFound))

	err = store.FinishRun(ctx, "missing", Outcome{Status: database.RunStatusFailed})
	assert.True(t, errors.Is(err, ierrors.ErrRunNotFound))

	err = store.RecordPass(ctx, &database.InterpolationPass{RunID: "missing", PassIndex: 1})
	assert.True(t, errors.Is(err, ierrors.ErrRunNotFound))
}

func TestStoreInterruptedRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	require.NoError(t, store.CreateRun(ctx, newRun("old", base)))
	require.NoError(t, store.CreateRun(ctx, newRun("newer", base.Add(time.Minute))))
	require.NoError(t, store.CreateRun(ctx, newRun("done", base.Add(2*time.Minute))))
	require.NoError(t, store.FinishRun(ctx, "done", Outcome{Status: database.RunStatusSucceeded}))

	interrupted, err := store.ListInterrupted(ctx)
	require.NoError(t, err)
	require.Len(t, interrupted, 2)
	assert.Equal(t, "old", interrupted[0].ID)
	assert.Equal(t, "newer", interrupted[1].ID)

	require.NoError(t, store.MarkInterrupted(ctx, "old", "process exited during pass 1"))
	got, err := store.GetRun(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, database.RunStatusFailed, got.Status)
	assert.Equal(t, "process exited during pass 1", got.Detail)

	runs, err := store.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "done", runs[0].ID)
}

// newMockStore builds a store over go-sqlmock speaking the postgres dialect.
func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	dialector := postgres.New(postgres.Config{
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	})
	db, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return NewStore(db, hclog.NewNullLogger()), mock
}

func TestStoreFinishRunPostgres(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE "interpolation_runs" SET .+ WHERE id = \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.FinishRun(context.Background(), "run-1", Outcome{Status: database.RunStatusCanceled})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreFinishRunPostgresFailure(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE "interpolation_runs" SET .+ WHERE id = \$\d+`).
		WillReturnError(errors.New("connection reset"))

	err := store.FinishRun(context.Background(), "run-1", Outcome{Status: database.RunStatusFailed})
	assert.True(t, errors.Is(err, ierrors.ErrStorage))
	assert.Equal(t, "run-1", ierrors.GetSessionID(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreListInterruptedPostgres(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "engine", "multiplier", "status", "passes_total", "passes_completed", "started_at"}).
		AddRow("run-9", "cain-ncnn", 8, "running", 3, 1, time.Now())
	mock.ExpectQuery(`SELECT \* FROM "interpolation_runs" WHERE status = \$1 ORDER BY started_at`).
		WithArgs("running").
		WillReturnRows(rows)

	runs, err := store.ListInterrupted(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-9", runs[0].ID)
	assert.Equal(t, 1, runs[0].PassesCompleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
