package entitymanager

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MarcoPoloResearchLab/chorus/backend/internal/models"
)

const purchaseConditions = `{"usdc_purchase":{"price":100,"splits":{"0x00000000000000000000000000000000000000A1":1000000}}}`

func rawJSON(document string) json.RawMessage {
	return json.RawMessage(document)
}

func TestValidateTrackGating(t *testing.T) {
	cases := []struct {
		name  string
		track models.Track
		valid bool
	}{
		{name: "ungated", track: models.Track{}, valid: true},
		{
			name:  "follow gated with matching download",
			track: models.Track{IsStreamGated: true, StreamConditions: `{"follow_user_id":3000001}`, IsDownloadGated: true, DownloadConditions: `{"follow_user_id": 3000001}`},
			valid: true,
		},
		{
			name:  "stream gated without download conditions",
			track: models.Track{IsStreamGated: true, StreamConditions: `{"tip_user_id":3000001}`},
		},
		{
			name:  "mismatched download conditions",
			track: models.Track{IsStreamGated: true, StreamConditions: `{"tip_user_id":3000001}`, IsDownloadGated: true, DownloadConditions: `{"tip_user_id":3000002}`},
		},
		{
			name:  "download only",
			track: models.Track{IsDownloadGated: true, DownloadConditions: `{"follow_user_id":3000001}`},
			valid: true,
		},
		{
			name:  "two condition kinds",
			track: models.Track{IsDownloadGated: true, DownloadConditions: `{"follow_user_id":3000001,"tip_user_id":3000001}`},
		},
		{
			name:  "conditions without flag",
			track: models.Track{StreamConditions: `{"follow_user_id":3000001}`},
		},
		{
			name:  "splits short of price",
			track: models.Track{IsDownloadGated: true, DownloadConditions: `{"usdc_purchase":{"price":100,"splits":{"0x00000000000000000000000000000000000000a1":999999}}}`},
		},
		{
			name:  "gated stem",
			track: models.Track{StemOf: `{"parent_track_id":2000001}`, IsDownloadGated: true, DownloadConditions: `{"follow_user_id":3000001}`},
		},
	}
	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			track := testCase.track
			err := validateTrackGating(&track)
			if testCase.valid {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
		})
	}
}

func TestPurchaseGatedTrackRecordsPriceHistory(t *testing.T) {
	harness := newReplayHarness(t)
	seedArtists(t, harness)

	gated := map[string]interface{}{
		"title":               "Premium",
		"is_stream_gated":     true,
		"stream_conditions":   rawJSON(purchaseConditions),
		"is_download_gated":   true,
		"download_conditions": rawJSON(purchaseConditions),
	}
	mismatched := map[string]interface{}{
		"title":               "Broken",
		"is_stream_gated":     true,
		"stream_conditions":   rawJSON(purchaseConditions),
		"is_download_gated":   true,
		"download_conditions": rawJSON(`{"follow_user_id":3000001}`),
	}
	outcome := harness.replay(
		trackEvent(t, ActionCreate, userAlice, trackOne, walletAlice, gated),
		trackEvent(t, ActionCreate, userAlice, trackTwo, walletAlice, mismatched),
	)
	require.Equal(t, 1, outcome.replay.Applied)
	require.Equal(t, 1, outcome.replay.Rejected)

	prices := currentRows[models.TrackPriceHistory](t, harness.db, "track_id = ?", trackOne)
	require.Len(t, prices, 2)
	for _, price := range prices {
		require.Equal(t, int64(100), price.TotalPriceCents)
		require.JSONEq(t, `{"0x00000000000000000000000000000000000000a1":1000000}`, string(price.Splits))
	}

	// An unchanged price writes no new history row.
	harness.replay(trackEvent(t, ActionUpdate, userAlice, trackOne, walletAlice, map[string]interface{}{"description": "now with liner notes"}))
	var total int64
	require.NoError(t, harness.db.Model(&models.TrackPriceHistory{}).Where("track_id = ?", trackOne).Count(&total).Error)
	require.Equal(t, int64(2), total)
}

func TestValidatePlaylistGating(t *testing.T) {
	cases := []struct {
		name     string
		playlist models.Playlist
		valid    bool
	}{
		{name: "ungated", valid: true},
		{name: "stream only", playlist: models.Playlist{IsStreamGated: true, StreamConditions: purchaseConditions}, valid: true},
		{
			name:     "download conditions without flag",
			playlist: models.Playlist{IsStreamGated: true, StreamConditions: `{"tip_user_id":1}`, DownloadConditions: `{"follow_user_id":1}`},
		},
		{
			name:     "mismatched gates",
			playlist: models.Playlist{IsStreamGated: true, StreamConditions: `{"tip_user_id":1}`, IsDownloadGated: true, DownloadConditions: `{"follow_user_id":1}`},
		},
		{name: "download flag without conditions", playlist: models.Playlist{IsDownloadGated: true}},
	}
	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			playlist := testCase.playlist
			err := validatePlaylistGating(&playlist)
			if testCase.valid {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
		})
	}
}

func TestPlaylistGatingMatchesTrackRules(t *testing.T) {
	harness := newReplayHarness(t)
	seedArtists(t, harness)

	inconsistent := map[string]interface{}{
		"is_stream_gated":     true,
		"stream_conditions":   rawJSON(`{"tip_user_id":1}`),
		"is_download_gated":   false,
		"download_conditions": rawJSON(`{"follow_user_id":1}`),
	}
	track := map[string]interface{}{"title": "Tipped"}
	playlist := map[string]interface{}{"playlist_name": "Tipped"}
	for key, value := range inconsistent {
		track[key] = value
		playlist[key] = value
	}
	outcome := harness.replay(
		trackEvent(t, ActionCreate, userAlice, trackOne, walletAlice, track),
		playlistEvent(t, ActionCreate, userAlice, playlistOne, walletAlice, playlist),
	)
	require.Equal(t, 2, outcome.replay.Rejected)
	require.Empty(t, currentRows[models.Playlist](t, harness.db, "playlist_id = ?", playlistOne))
}

func TestPlaylistRejectsForeignGatedTracks(t *testing.T) {
	harness := newReplayHarness(t)
	seedArtists(t, harness)
	harness.replay(trackEvent(t, ActionCreate, userBob, trackThree, walletBob, map[string]interface{}{
		"title":               "Paid",
		"is_stream_gated":     true,
		"stream_conditions":   rawJSON(purchaseConditions),
		"is_download_gated":   true,
		"download_conditions": rawJSON(purchaseConditions),
	}))

	outcome := harness.replay(
		playlistEvent(t, ActionCreate, userAlice, playlistOne, walletAlice, map[string]interface{}{
			"playlist_name":     "Borrowed",
			"playlist_contents": contents(trackThree),
		}),
		playlistEvent(t, ActionCreate, userBob, playlistTwo, walletBob, map[string]interface{}{
			"playlist_name":     "Own Catalog",
			"playlist_contents": contents(trackThree),
		}),
	)
	require.Equal(t, 1, outcome.replay.Applied)
	require.Equal(t, 1, outcome.replay.Rejected)
	require.Empty(t, currentRows[models.Playlist](t, harness.db, "playlist_id = ?", playlistOne))

	owned := currentRows[models.Playlist](t, harness.db, "playlist_id = ?", playlistTwo)
	require.Len(t, owned, 1)
	require.Equal(t, []int64{trackThree}, decodeContents(t, owned[0]))
}
