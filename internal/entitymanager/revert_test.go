package entitymanager

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/chorus/backend/internal/models"
)

func TestRevertBlockRestoresPreviousState(t *testing.T) {
	harness := newReplayHarness(t)
	seedArtists(t, harness)

	latest := harness.replay(
		entityEvent(EntityTypeUser, ActionUpdate, userAlice, userAlice, contentMetadata(t, map[string]interface{}{"name": "Alice v2"}), walletAlice),
		entityEvent(EntityTypeUser, ActionFollow, userAlice, userBob, "", walletAlice),
		trackEvent(t, ActionCreate, userAlice, trackOne, walletAlice, map[string]interface{}{"title": "Undone"}),
	)
	require.Equal(t, 3, latest.replay.Applied)

	require.ErrorIs(t, harness.revert(1), ErrNotLatestBlock)
	require.ErrorIs(t, harness.revert(99), ErrNoRevertLog)

	var record models.RevertBlock
	require.NoError(t, harness.db.Transaction(func(tx *gorm.DB) error {
		var err error
		record, err = RevertBlock(context.Background(), tx, latest.batch.Block.Number)
		return err
	}))
	require.Equal(t, latest.batch.Block.Hash, record.Blockhash)

	users := currentRows[models.User](t, harness.db, "user_id = ?", userAlice)
	require.Len(t, users, 1)
	require.Equal(t, "Alice", users[0].Name)
	require.Empty(t, currentRows[models.Follow](t, harness.db, "follower_user_id = ?", userAlice))
	require.Empty(t, currentRows[models.Subscription](t, harness.db, "subscriber_id = ?", userAlice))
	require.Empty(t, currentRows[models.Track](t, harness.db, "track_id = ?", trackOne))
	require.Empty(t, currentRows[models.TrackRoute](t, harness.db, "track_id = ?", trackOne))

	bob := aggregateUser(t, harness.db, userBob)
	require.Zero(t, bob.FollowerCount)
	alice := aggregateUser(t, harness.db, userAlice)
	require.Zero(t, alice.FollowingCount)
	require.Zero(t, alice.TrackCount)

	var logs int64
	require.NoError(t, harness.db.Model(&models.RevertBlock{}).Count(&logs).Error)
	require.Equal(t, int64(1), logs)

	require.NoError(t, harness.revert(1))
	require.Empty(t, currentRows[models.User](t, harness.db, "user_id IN ?", []int64{userAlice, userBob, userCarol}))
}

func TestRevertedBlockCanBeReplayedAgain(t *testing.T) {
	harness := newReplayHarness(t)
	seedArtists(t, harness)

	follow := entityEvent(EntityTypeUser, ActionFollow, userAlice, userBob, "", walletAlice)
	first := harness.replay(follow)
	require.NoError(t, harness.revert(first.batch.Block.Number))

	harness.height--
	again := harness.replay(follow)
	require.Equal(t, 1, again.replay.Applied)
	require.Len(t, currentRows[models.Follow](t, harness.db, "follower_user_id = ? AND followee_user_id = ?", userAlice, userBob), 1)
	require.Equal(t, int64(1), aggregateUser(t, harness.db, userBob).FollowerCount)
}
