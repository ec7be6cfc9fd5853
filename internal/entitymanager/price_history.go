package entitymanager

import "github.com/MarcoPoloResearchLab/chorus/backend/internal/models"

// recordTrackPrices appends a price row per purchase-gated access kind
// whose terms differ from the latest recorded ones.
func recordTrackPrices(params *Params, track *models.Track) {
	accesses := []struct {
		access     string
		conditions models.JSONText
	}{
		{access: AccessStream, conditions: track.StreamConditions},
		{access: AccessDownload, conditions: track.DownloadConditions},
	}
	for _, entry := range accesses {
		purchase := purchaseOf(entry.conditions)
		if purchase == nil {
			continue
		}
		splits := encodeSplits(purchase.Splits)
		previous := currentAs[*models.TrackPriceHistory](params.Batch, trackPriceKey(track.TrackID, entry.access))
		if previous != nil && previous.TotalPriceCents == purchase.Price && previous.Splits == splits {
			continue
		}
		row := &models.TrackPriceHistory{
			TrackID:         track.TrackID,
			Access:          entry.access,
			TotalPriceCents: purchase.Price,
			Splits:          splits,
			BlockTimestamp:  params.Block.Timestamp,
		}
		stamp(row, params, true)
		params.Batch.Put(row)
	}
}

func recordPlaylistPrice(params *Params, playlist *models.Playlist) {
	purchase := purchaseOf(playlist.StreamConditions)
	if purchase == nil {
		return
	}
	splits := encodeSplits(purchase.Splits)
	previous := currentAs[*models.PlaylistPriceHistory](params.Batch, playlistPriceKey(playlist.PlaylistID))
	if previous != nil && previous.TotalPriceCents == purchase.Price && previous.Splits == splits {
		return
	}
	row := &models.PlaylistPriceHistory{
		PlaylistID:      playlist.PlaylistID,
		TotalPriceCents: purchase.Price,
		Splits:          splits,
		BlockTimestamp:  params.Block.Timestamp,
	}
	stamp(row, params, true)
	params.Batch.Put(row)
}
