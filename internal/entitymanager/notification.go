package entitymanager

import "github.com/MarcoPoloResearchLab/chorus/backend/internal/models"

func validateViewPlaylist(params *Params) error {
	playlist := params.Batch.Playlist(params.Event.EntityID)
	if playlist == nil || playlist.IsDelete {
		return invalid(params, "playlist %d does not exist", params.Event.EntityID)
	}
	return nil
}

// applyViewPlaylist moves the user's seen marker for the playlist to the
// block time.
func applyViewPlaylist(params *Params) error {
	event := params.Event
	existing := currentAs[*models.PlaylistSeen](params.Batch, playlistSeenKey(event.UserID, event.EntityID))
	var seen *models.PlaylistSeen
	if existing == nil {
		seen = &models.PlaylistSeen{UserID: event.UserID, PlaylistID: event.EntityID}
		stamp(seen, params, true)
	} else {
		seen = nextVersion(existing, params)
	}
	seen.SeenAt = params.Block.Time()
	params.Batch.Put(seen)
	return nil
}
