package repositories

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatroom-service/internal/models"
)

func newMessageRepo(t *testing.T) (*MessageRepo, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	repo := NewMessageRepo(newTestDB(t))
	repo.now = clock.Now
	return repo, clock
}

func TestAppendThenGetByIDRoundTrip(t *testing.T) {
	repo, clock := newMessageRepo(t)
	ctx := context.Background()

	msg, err := repo.Append(ctx, "alice", "hi", models.KindText, models.ScopePrivate, "bob")
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Author)
	assert.Equal(t, "hi", got.Text)
	assert.Equal(t, models.ScopePrivate, got.Scope)
	assert.Equal(t, "bob", got.RecipientName())
	assert.Equal(t, models.KindText, got.Kind)
	assert.True(t, clock.now.Equal(got.CreatedAt))
	assert.False(t, got.Edited)
	assert.False(t, got.Deleted)
	assert.False(t, got.Read)
}

func TestAppendAssignsIncreasingIDs(t *testing.T) {
	repo, _ := newMessageRepo(t)
	ctx := context.Background()

	first, err := repo.Append(ctx, "alice", "one", "", models.ScopeGroup, "")
	require.NoError(t, err)
	second, err := repo.Append(ctx, "bob", "two", "", models.ScopeGroup, "")
	require.NoError(t, err)

	assert.Greater(t, second.ID, first.ID)
	assert.Nil(t, first.Recipient)
	assert.Equal(t, models.KindText, first.Kind)
}

func TestAppendRejectsScopeRecipientMismatch(t *testing.T) {
	repo, _ := newMessageRepo(t)
	ctx := context.Background()

	_, err := repo.Append(ctx, "alice", "hi", "", models.ScopePrivate, "")
	assert.ErrorIs(t, err, ErrInvalidMessage)

	_, err = repo.Append(ctx, "alice", "hi", "", models.ScopeGroup, "bob")
	assert.ErrorIs(t, err, ErrInvalidMessage)

	_, err = repo.Append(ctx, "alice", "hi", "", models.Scope("channel"), "")
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestGetByIDNotFound(t *testing.T) {
	repo, _ := newMessageRepo(t)
	_, err := repo.GetByID(context.Background(), 42)
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestRecentGroupReturnsLastMessagesOldestFirst(t *testing.T) {
	repo, _ := newMessageRepo(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := repo.Append(ctx, "alice", fmt.Sprintf("m%d", i), "", models.ScopeGroup, "")
		require.NoError(t, err)
	}
	_, err := repo.Append(ctx, "alice", "secret", "", models.ScopePrivate, "bob")
	require.NoError(t, err)

	msgs, err := repo.Recent(ctx, RecentQuery{Scope: models.ScopeGroup, Limit: 3})
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "m2", msgs[0].Text)
	assert.Equal(t, "m3", msgs[1].Text)
	assert.Equal(t, "m4", msgs[2].Text)
}

func TestRecentPrivateIsolatesThread(t *testing.T) {
	repo, _ := newMessageRepo(t)
	ctx := context.Background()

	_, err := repo.Append(ctx, "alice", "to bob", "", models.ScopePrivate, "bob")
	require.NoError(t, err)
	_, err = repo.Append(ctx, "bob", "to alice", "", models.ScopePrivate, "alice")
	require.NoError(t, err)
	_, err = repo.Append(ctx, "alice", "to carol", "", models.ScopePrivate, "carol")
	require.NoError(t, err)

	msgs, err := repo.Recent(ctx, RecentQuery{Scope: models.ScopePrivate, Recipient: "bob", Requester: "alice", Limit: 100})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "to bob", msgs[0].Text)
	assert.Equal(t, "to alice", msgs[1].Text)

	carolView, err := repo.Recent(ctx, RecentQuery{Scope: models.ScopePrivate, Recipient: "bob", Requester: "carol", Limit: 100})
	require.NoError(t, err)
	assert.Empty(t, carolView)

	_, err = repo.Recent(ctx, RecentQuery{Scope: models.ScopePrivate, Requester: "carol", Limit: 100})
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestEditSetsTextAndFlag(t *testing.T) {
	repo, _ := newMessageRepo(t)
	ctx := context.Background()

	msg, err := repo.Append(ctx, "alice", "helo", "", models.ScopeGroup, "")
	require.NoError(t, err)
	require.NoError(t, repo.Edit(ctx, msg.ID, "hello"))

	got, err := repo.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Text)
	assert.True(t, got.Edited)

	assert.ErrorIs(t, repo.Edit(ctx, 999, "x"), ErrMessageNotFound)
}

func TestSoftDeleteIsTerminal(t *testing.T) {
	repo, _ := newMessageRepo(t)
	ctx := context.Background()

	msg, err := repo.Append(ctx, "bob", "oops", "", models.ScopePrivate, "alice")
	require.NoError(t, err)
	require.NoError(t, repo.SoftDelete(ctx, msg.ID))
	require.NoError(t, repo.SoftDelete(ctx, msg.ID))

	assert.ErrorIs(t, repo.Edit(ctx, msg.ID, "changed"), ErrMessageNotFound)
	marked, err := repo.MarkRead(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Zero(t, marked)

	got, err := repo.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, got.Deleted)
	assert.Equal(t, "oops", got.Text)
	assert.False(t, got.Read)

	msgs, err := repo.Recent(ctx, RecentQuery{Scope: models.ScopePrivate, Recipient: "bob", Requester: "alice", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, msgs)

	assert.ErrorIs(t, repo.SoftDelete(ctx, 999), ErrMessageNotFound)
}

func TestMarkReadIsIdempotent(t *testing.T) {
	repo, _ := newMessageRepo(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := repo.Append(ctx, "alice", "hi", "", models.ScopePrivate, "bob")
		require.NoError(t, err)
	}
	_, err := repo.Append(ctx, "carol", "hey", "", models.ScopePrivate, "bob")
	require.NoError(t, err)

	marked, err := repo.MarkRead(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 3, marked)

	marked, err = repo.MarkRead(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Zero(t, marked)

	counts, err := repo.UnreadCountsPerSender(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"carol": 1}, counts)
}

func TestUnreadCounts(t *testing.T) {
	repo, _ := newMessageRepo(t)
	ctx := context.Background()

	_, err := repo.Append(ctx, "alice", "1", "", models.ScopePrivate, "bob")
	require.NoError(t, err)
	_, err = repo.Append(ctx, "alice", "2", "", models.ScopePrivate, "bob")
	require.NoError(t, err)
	deleted, err := repo.Append(ctx, "carol", "3", "", models.ScopePrivate, "bob")
	require.NoError(t, err)
	require.NoError(t, repo.SoftDelete(ctx, deleted.ID))
	_, err = repo.Append(ctx, "dave", "4", "", models.ScopePrivate, "bob")
	require.NoError(t, err)
	_, err = repo.Append(ctx, "alice", "group", "", models.ScopeGroup, "")
	require.NoError(t, err)
	_, err = repo.Append(ctx, "bob", "reply", "", models.ScopePrivate, "alice")
	require.NoError(t, err)

	total, err := repo.UnreadCountFor(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	counts, err := repo.UnreadCountsPerSender(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"alice": 2, "dave": 1}, counts)

	empty, err := repo.UnreadCountsPerSender(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestPurgeOlderThan(t *testing.T) {
	repo, clock := newMessageRepo(t)
	ctx := context.Background()

	old, err := repo.Append(ctx, "alice", "old", "", models.ScopeGroup, "")
	require.NoError(t, err)
	clock.Advance(24 * time.Hour)
	horizon := clock.now
	fresh, err := repo.Append(ctx, "alice", "fresh", "", models.ScopeGroup, "")
	require.NoError(t, err)

	purged, err := repo.PurgeOlderThan(ctx, horizon)
	require.NoError(t, err)
	assert.EqualValues(t, 1, purged)

	got, err := repo.GetByID(ctx, old.ID)
	require.NoError(t, err)
	assert.True(t, got.Deleted)

	got, err = repo.GetByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.False(t, got.Deleted)

	purged, err = repo.PurgeOlderThan(ctx, horizon)
	require.NoError(t, err)
	assert.Zero(t, purged)
}
