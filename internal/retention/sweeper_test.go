package retention

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chatroom-service/internal/db"
	"chatroom-service/internal/mocks"
	"chatroom-service/internal/models"
	"chatroom-service/internal/repositories"
)

func TestMessageRetentionJobUsesHorizon(t *testing.T) {
	now := time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC)
	repo := new(mocks.MessageRepositoryMock)
	repo.On("PurgeOlderThan", mock.Anything, time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)).Return(int64(4), nil).Once()

	job := MessageRetentionJob(repo, 6, time.Hour, func() time.Time { return now })
	assert.Equal(t, int64(4), RunOnce(context.Background(), job))
	repo.AssertExpectations(t)
}

func TestRunOnceSwallowsErrors(t *testing.T) {
	job := Job{Name: "broken", Interval: time.Hour, Run: func(context.Context) (int64, error) {
		return 0, assert.AnError
	}}
	assert.Zero(t, RunOnce(context.Background(), job))
}

func TestSweeperRunsAtStartAndOnInterval(t *testing.T) {
	var runs atomic.Int32
	job := Job{Name: "count", Interval: 20 * time.Millisecond, Run: func(context.Context) (int64, error) {
		runs.Add(1)
		return 0, nil
	}}
	disabled := Job{Name: "off", Run: func(context.Context) (int64, error) {
		t.Error("disabled job ran")
		return 0, nil
	}}

	ctx, cancel := context.WithCancel(context.Background())
	sweeper := NewSweeper(job, disabled)
	sweeper.Start(ctx)

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	sweeper.Wait()
}

func TestRetentionSweepAgainstStore(t *testing.T) {
	database, err := db.Connect(db.DriverSQLite, ":memory:")
	require.NoError(t, err)
	defer database.Close()

	ctx := context.Background()
	repo := repositories.NewMessageRepo(database)
	old, err := repo.Append(ctx, "alice", "old", models.KindText, models.ScopeGroup, "")
	require.NoError(t, err)

	later := time.Now().AddDate(0, 7, 0)
	job := MessageRetentionJob(repo, 6, time.Hour, func() time.Time { return later })

	assert.Equal(t, int64(1), RunOnce(ctx, job))
	assert.Equal(t, int64(0), RunOnce(ctx, job), "second sweep changes nothing")

	stored, err := repo.GetByID(ctx, old.ID)
	require.NoError(t, err)
	assert.True(t, stored.Deleted)
}
