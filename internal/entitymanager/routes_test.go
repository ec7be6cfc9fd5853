package entitymanager

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MarcoPoloResearchLab/chorus/backend/internal/models"
)

const (
	trackOne   = TrackIDOffset + 1
	trackTwo   = TrackIDOffset + 2
	trackThree = TrackIDOffset + 3
)

func TestSanitizeSlug(t *testing.T) {
	cases := map[string]string{
		"My Song":              "my-song",
		"  Café   Del   Mar  ": "cafe-del-mar",
		"Rock & Roll!":         "rock-roll",
		"a/b?c#d":              "abcd",
		"--Dashes -- inside--": "dashes-inside",
		"Ｆｕｌｌｗｉｄｔｈ":            "fullwidth",
		"!!!":                  "",
	}
	for title, expected := range cases {
		require.Equal(t, expected, sanitizeSlug(title), title)
	}
}

func trackEvent(t *testing.T, action Action, userID, trackID int64, wallet string, fields map[string]interface{}) Event {
	t.Helper()
	return entityEvent(EntityTypeTrack, action, userID, trackID, contentMetadata(t, fields), wallet)
}

func seedArtists(t *testing.T, harness *replayHarness) {
	t.Helper()
	harness.replay(
		createUser(t, userAlice, walletAlice, map[string]interface{}{"name": "Alice"}),
		createUser(t, userBob, walletBob, map[string]interface{}{"name": "Bob"}),
		createUser(t, userCarol, walletCarol, map[string]interface{}{"name": "Carol"}),
	)
}

func trackRoutes(t *testing.T, harness *replayHarness, trackID int64) []models.TrackRoute {
	t.Helper()
	var routes []models.TrackRoute
	require.NoError(t, harness.db.Where("track_id = ?", trackID).Order("row_id").Find(&routes).Error)
	return routes
}

func currentTrackRoute(t *testing.T, harness *replayHarness, trackID int64) models.TrackRoute {
	t.Helper()
	routes := currentRows[models.TrackRoute](t, harness.db, "track_id = ?", trackID)
	require.Len(t, routes, 1)
	return routes[0]
}

func TestTrackRoutesAllocateCollisionsAcrossOwners(t *testing.T) {
	harness := newReplayHarness(t)
	seedArtists(t, harness)

	harness.replay(
		trackEvent(t, ActionCreate, userAlice, trackOne, walletAlice, map[string]interface{}{"title": "My Song"}),
		trackEvent(t, ActionCreate, userBob, trackTwo, walletBob, map[string]interface{}{"title": "My Song!"}),
	)
	harness.replay(trackEvent(t, ActionCreate, userCarol, trackThree, walletCarol, map[string]interface{}{"title": "my  song"}))

	first := currentTrackRoute(t, harness, trackOne)
	require.Equal(t, "my-song", first.Slug)
	require.Zero(t, first.CollisionID)

	second := currentTrackRoute(t, harness, trackTwo)
	require.Equal(t, "my-song-1", second.Slug)
	require.Equal(t, int64(1), second.CollisionID)
	require.Equal(t, userBob, second.OwnerID)

	third := currentTrackRoute(t, harness, trackThree)
	require.Equal(t, "my-song-2", third.Slug)
	require.Equal(t, "my-song", third.TitleSlug)
}

func TestTrackRouteReactivatesEarlierSlug(t *testing.T) {
	harness := newReplayHarness(t)
	seedArtists(t, harness)

	harness.replay(trackEvent(t, ActionCreate, userAlice, trackOne, walletAlice, map[string]interface{}{"title": "First Light"}))
	original := currentTrackRoute(t, harness, trackOne)

	harness.replay(trackEvent(t, ActionUpdate, userAlice, trackOne, walletAlice, map[string]interface{}{"title": "Second Wind"}))
	require.Equal(t, "second-wind", currentTrackRoute(t, harness, trackOne).Slug)

	renameBack := harness.replay(trackEvent(t, ActionUpdate, userAlice, trackOne, walletAlice, map[string]interface{}{"title": "First Light"}))
	require.Equal(t, 1, renameBack.replay.Applied)

	reactivated := currentTrackRoute(t, harness, trackOne)
	require.Equal(t, original.RowID, reactivated.RowID)
	require.Equal(t, "first-light", reactivated.Slug)
	require.Len(t, trackRoutes(t, harness, trackOne), 2)

	require.NoError(t, harness.revert(renameBack.batch.Block.Number))
	require.Equal(t, "second-wind", currentTrackRoute(t, harness, trackOne).Slug)
	require.Len(t, trackRoutes(t, harness, trackOne), 2)
}

func TestTrackRenameWithinBlockKeepsSingleCurrentRoute(t *testing.T) {
	harness := newReplayHarness(t)
	seedArtists(t, harness)

	harness.replay(
		trackEvent(t, ActionCreate, userAlice, trackOne, walletAlice, map[string]interface{}{"title": "Draft"}),
		trackEvent(t, ActionUpdate, userAlice, trackOne, walletAlice, map[string]interface{}{"title": "Final"}),
		trackEvent(t, ActionUpdate, userAlice, trackOne, walletAlice, map[string]interface{}{"title": "Draft"}),
	)

	require.Equal(t, "draft", currentTrackRoute(t, harness, trackOne).Slug)
	require.Len(t, trackRoutes(t, harness, trackOne), 2)
}

func TestTrackUpdateWithoutRouteWritesLegacyRoute(t *testing.T) {
	harness := newReplayHarness(t)
	seedArtists(t, harness)

	migrated := models.Track{
		Row:     models.Row{IsCurrent: true},
		TrackID: trackOne,
		OwnerID: userAlice,
		Title:   "Old Title",
	}
	require.NoError(t, harness.db.Create(&migrated).Error)

	outcome := harness.replay(trackEvent(t, ActionUpdate, userAlice, trackOne, walletAlice, map[string]interface{}{"title": "Fresh Cut"}))
	require.Equal(t, 1, outcome.replay.Applied)

	routes := trackRoutes(t, harness, trackOne)
	require.Len(t, routes, 2)
	legacySlug := "fresh-cut-" + strconv.FormatInt(trackOne, 10)
	require.Equal(t, legacySlug, routes[0].Slug)
	require.False(t, routes[0].IsCurrent)
	require.Equal(t, "fresh-cut", routes[1].Slug)
	require.True(t, routes[1].IsCurrent)
}
