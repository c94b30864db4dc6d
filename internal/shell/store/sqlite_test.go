package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

// setupTestStore uses a file-backed database: with :memory: every pooled
// connection would see its own empty database.
func setupTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "stackup.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func testRun(id, stackName string) *Run {
	return &Run{
		ID:        id,
		Stack:     stackName,
		Status:    RunStatusReady,
		StartedAt: time.Now().UTC().Truncate(time.Millisecond),
		Services: []ServiceRecord{
			{Name: "db", Rank: 0, Position: 0, ContainerID: "ct-1", Status: "ready"},
			{Name: "backend", Rank: 1, Position: 1, ContainerID: "ct-2", Status: "ready"},
			{Name: "frontend", Rank: 1, Position: 2, ContainerID: "ct-3", Status: "ready"},
			{Name: "proxy", Rank: 2, Position: 3, ContainerID: "ct-4", Status: "ready"},
		},
	}
}

// =============================================================================
// Run CRUD Tests
// =============================================================================

func TestCreateRun_Success(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run := testRun("run-1", "blog")
	require.NoError(t, store.CreateRun(ctx, run))

	retrieved, err := store.LatestRun(ctx, "blog")
	require.NoError(t, err)
	assert.Equal(t, "run-1", retrieved.ID)
	assert.Equal(t, "blog", retrieved.Stack)
	assert.Equal(t, RunStatusReady, retrieved.Status)
	assert.Nil(t, retrieved.FinishedAt)
}

func TestCreateRun_DuplicateID(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateRun(ctx, testRun("run-1", "blog")))
	err := store.CreateRun(ctx, testRun("run-1", "blog"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestLatestRun_ServicesInStartOrder(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateRun(ctx, testRun("run-1", "blog")))

	retrieved, err := store.LatestRun(ctx, "blog")
	require.NoError(t, err)
	require.Len(t, retrieved.Services, 4)

	names := make([]string, 0, 4)
	for _, svc := range retrieved.Services {
		names = append(names, svc.Name)
	}
	assert.Equal(t, []string{"db", "backend", "frontend", "proxy"}, names)
	assert.Equal(t, 0, retrieved.Services[0].Rank)
	assert.Equal(t, 2, retrieved.Services[3].Rank)
	assert.Equal(t, "ct-4", retrieved.Services[3].ContainerID)
}

func TestLatestRun_PicksMostRecent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	first := testRun("run-1", "blog")
	first.StartedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, store.CreateRun(ctx, first))

	second := testRun("run-2", "blog")
	require.NoError(t, store.CreateRun(ctx, second))

	retrieved, err := store.LatestRun(ctx, "blog")
	require.NoError(t, err)
	assert.Equal(t, "run-2", retrieved.ID)
}

func TestLatestRun_SubsecondOrdering(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	// Trailing-zero fractions must not string-sort after longer ones:
	// ".5" stored as ".5Z" would rank above ".52Z".
	base := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)

	first := testRun("run-1", "blog")
	first.StartedAt = base.Add(500 * time.Millisecond)
	require.NoError(t, store.CreateRun(ctx, first))

	second := testRun("run-2", "blog")
	second.StartedAt = base.Add(520 * time.Millisecond)
	require.NoError(t, store.CreateRun(ctx, second))

	retrieved, err := store.LatestRun(ctx, "blog")
	require.NoError(t, err)
	assert.Equal(t, "run-2", retrieved.ID)
}

func TestLatestRun_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.LatestRun(context.Background(), "ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLatestRun_ScopedByStack(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateRun(ctx, testRun("run-1", "blog")))
	require.NoError(t, store.CreateRun(ctx, testRun("run-2", "shop")))

	retrieved, err := store.LatestRun(ctx, "blog")
	require.NoError(t, err)
	assert.Equal(t, "run-1", retrieved.ID)
}

func TestUpdateRun_MarksStopped(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run := testRun("run-1", "blog")
	require.NoError(t, store.CreateRun(ctx, run))

	now := time.Now().UTC().Truncate(time.Millisecond)
	run.Status = RunStatusStopped
	run.FinishedAt = &now
	for i := range run.Services {
		run.Services[i].Status = "stopped"
	}
	require.NoError(t, store.UpdateRun(ctx, run))

	retrieved, err := store.LatestRun(ctx, "blog")
	require.NoError(t, err)
	assert.Equal(t, RunStatusStopped, retrieved.Status)
	require.NotNil(t, retrieved.FinishedAt)
	assert.True(t, retrieved.FinishedAt.Equal(now))
	for _, svc := range retrieved.Services {
		assert.Equal(t, "stopped", svc.Status)
	}
}

func TestUpdateRun_NotFound(t *testing.T) {
	store := setupTestStore(t)

	err := store.UpdateRun(context.Background(), testRun("ghost", "blog"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateRun_ReplacesServiceRecords(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run := testRun("run-1", "blog")
	require.NoError(t, store.CreateRun(ctx, run))

	run.Services = run.Services[:2]
	require.NoError(t, store.UpdateRun(ctx, run))

	retrieved, err := store.LatestRun(ctx, "blog")
	require.NoError(t, err)
	assert.Len(t, retrieved.Services, 2)
}
