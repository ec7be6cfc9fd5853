package entitymanager

import (
	"encoding/json"
	"sort"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/chorus/backend/internal/models"
)

// Playlist limits.
const (
	PlaylistDescriptionLimit = 1000
	PlaylistTrackLimit       = 5000
)

type playlistEntry struct {
	Track        int64  `json:"track"`
	Time         int64  `json:"time"`
	MetadataTime *int64 `json:"metadata_time,omitempty"`
}

type playlistContents struct {
	TrackIDs []playlistEntry `json:"track_ids"`
}

func decodePlaylistContents(raw []byte) (playlistContents, error) {
	var contents playlistContents
	if isNull(raw) {
		return contents, nil
	}
	if err := json.Unmarshal(raw, &contents); err != nil {
		return playlistContents{}, err
	}
	return contents, nil
}

func validateCreatePlaylist(params *Params) error {
	event := params.Event
	if event.EntityID < PlaylistIDOffset {
		return invalid(params, "playlist id %d is below the offset %d", event.EntityID, PlaylistIDOffset)
	}
	if params.Batch.Playlist(event.EntityID) != nil {
		return invalid(params, "playlist %d already exists", event.EntityID)
	}
	return nil
}

func validateUpdatePlaylist(params *Params) error {
	_, err := ownedPlaylist(params)
	return err
}

func validateDeletePlaylist(params *Params) error {
	_, err := ownedPlaylist(params)
	return err
}

func ownedPlaylist(params *Params) (*models.Playlist, error) {
	playlist := params.Batch.Playlist(params.Event.EntityID)
	if playlist == nil {
		return nil, invalid(params, "playlist %d does not exist", params.Event.EntityID)
	}
	if playlist.IsDelete {
		return nil, invalid(params, "playlist %d is deleted", params.Event.EntityID)
	}
	if playlist.PlaylistOwnerID != params.Event.UserID {
		return nil, invalid(params, "user %d does not own playlist %d", params.Event.UserID, params.Event.EntityID)
	}
	return playlist, nil
}

func applyPlaylist(params *Params) error {
	event := params.Event
	batch := params.Batch
	existing := batch.Playlist(event.EntityID)
	created := existing == nil
	var playlist *models.Playlist
	if created {
		playlist = &models.Playlist{PlaylistID: event.EntityID, PlaylistOwnerID: event.UserID}
		stamp(playlist, params, true)
	} else {
		playlist = nextVersion(existing, params)
	}
	wasAlbum := !created && existing.IsAlbum
	wasPrivate := !created && existing.IsPrivate

	reader := params.reader()
	reader.str("playlist_name", &playlist.PlaylistName)
	reader.str("description", &playlist.Description)
	reader.boolean("is_album", &playlist.IsAlbum)
	reader.boolean("is_private", &playlist.IsPrivate)
	reader.str("playlist_image_sizes_multihash", &playlist.PlaylistImage)
	reader.str("upc", &playlist.UPC)
	reader.boolean("is_stream_gated", &playlist.IsStreamGated)
	reader.document("stream_conditions", &playlist.StreamConditions)
	reader.boolean("is_download_gated", &playlist.IsDownloadGated)
	reader.document("download_conditions", &playlist.DownloadConditions)
	reader.boolean("is_scheduled_release", &playlist.IsScheduledRelease)
	reader.timestamp("release_date", &playlist.ReleaseDate)
	if reader.err != nil {
		return invalid(params, "%v", reader.err)
	}
	playlist.MetadataMultihash = params.MetadataCID

	if utf8.RuneCountInString(playlist.Description) > PlaylistDescriptionLimit {
		return invalid(params, "description exceeds %d characters", PlaylistDescriptionLimit)
	}
	if err := validatePlaylistGating(playlist); err != nil {
		return invalid(params, "%v", err)
	}
	if wasPrivate && !playlist.IsPrivate {
		playlist.IsScheduledRelease = false
	}

	var previous playlistContents
	if !created {
		decoded, err := decodePlaylistContents(existing.PlaylistContents.Bytes())
		if err != nil {
			return err
		}
		previous = decoded
	}
	if raw, ok := params.metadata.object("playlist_contents"); ok {
		incoming, err := decodePlaylistContents(raw)
		if err != nil {
			return invalid(params, "malformed playlist_contents: %v", err)
		}
		if len(incoming.TrackIDs) > PlaylistTrackLimit {
			return invalid(params, "playlist exceeds %d tracks", PlaylistTrackLimit)
		}
		merged, err := reconcileContents(params, playlist, previous, incoming)
		if err != nil {
			return err
		}
		encoded, err := json.Marshal(merged)
		if err != nil {
			return err
		}
		playlist.PlaylistContents = models.JSONText(encoded)
		if latest := latestAddTime(merged); latest != nil {
			playlist.LastAddedTo = latest
		}
		if err := syncPlaylistTracks(params, playlist.PlaylistID, previous, merged); err != nil {
			return err
		}
	} else if created {
		playlist.PlaylistContents = models.JSONText(`{"track_ids":[]}`)
	}

	batch.Put(playlist)
	assignRoute(params, RecordPlaylistRoute, playlist.PlaylistID, playlist.PlaylistOwnerID, playlist.PlaylistName)
	recordPlaylistPrice(params, playlist)
	switch {
	case created:
		batch.addUserDelta(playlist.PlaylistOwnerID, collectionCounter(playlist.IsAlbum), 1)
	case wasAlbum != playlist.IsAlbum:
		batch.addUserDelta(playlist.PlaylistOwnerID, collectionCounter(wasAlbum), -1)
		batch.addUserDelta(playlist.PlaylistOwnerID, collectionCounter(playlist.IsAlbum), 1)
	}
	return nil
}

func collectionCounter(isAlbum bool) string {
	if isAlbum {
		return counterAlbumCount
	}
	return counterPlaylistCount
}

type entryKey struct {
	track        int64
	metadataTime int64
}

// reconcileContents keeps the original add time of entries that were
// already present and stamps new entries with the block time. Albums drop
// tracks their owner does not own; other playlists cannot newly add a
// stream gated track owned by someone else.
func reconcileContents(params *Params, playlist *models.Playlist, previous, incoming playlistContents) (playlistContents, error) {
	byMetadataTime := make(map[entryKey]int64)
	byTrack := make(map[int64][]int64)
	for _, entry := range previous.TrackIDs {
		if entry.MetadataTime != nil {
			byMetadataTime[entryKey{track: entry.Track, metadataTime: *entry.MetadataTime}] = entry.Time
		}
		byTrack[entry.Track] = append(byTrack[entry.Track], entry.Time)
	}

	merged := playlistContents{TrackIDs: make([]playlistEntry, 0, len(incoming.TrackIDs))}
	for _, entry := range incoming.TrackIDs {
		track := params.Batch.Track(entry.Track)
		if track == nil || track.IsDelete {
			return playlistContents{}, invalid(params, "track %d does not exist", entry.Track)
		}
		if playlist.IsAlbum && track.OwnerID != playlist.PlaylistOwnerID {
			continue
		}
		if _, listed := byTrack[entry.Track]; !listed && track.IsStreamGated && track.OwnerID != playlist.PlaylistOwnerID {
			return playlistContents{}, invalid(params, "track %d is gated and owned by another user", entry.Track)
		}
		next := playlistEntry{Track: entry.Track, MetadataTime: entry.MetadataTime}
		if entry.MetadataTime != nil {
			if added, ok := byMetadataTime[entryKey{track: entry.Track, metadataTime: *entry.MetadataTime}]; ok {
				next.Time = added
				merged.TrackIDs = append(merged.TrackIDs, next)
				continue
			}
		}
		if times := byTrack[entry.Track]; entry.MetadataTime == nil && len(times) > 0 {
			next.Time = times[0]
			byTrack[entry.Track] = times[1:]
		} else {
			next.Time = params.Block.Timestamp
		}
		merged.TrackIDs = append(merged.TrackIDs, next)
	}
	return merged, nil
}

func latestAddTime(contents playlistContents) *time.Time {
	if len(contents.TrackIDs) == 0 {
		return nil
	}
	var latest int64
	for _, entry := range contents.TrackIDs {
		if entry.Time > latest {
			latest = entry.Time
		}
	}
	value := time.Unix(latest, 0).UTC()
	return &value
}

func trackSet(contents playlistContents) map[int64]struct{} {
	set := make(map[int64]struct{}, len(contents.TrackIDs))
	for _, entry := range contents.TrackIDs {
		set[entry.Track] = struct{}{}
	}
	return set
}

func sortedIDs(set map[int64]struct{}) []int64 {
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// syncPlaylistTracks flags join rows for removed tracks, activates join
// rows for added tracks, and updates each track's reverse index.
func syncPlaylistTracks(params *Params, playlistID int64, previous, merged playlistContents) error {
	batch := params.Batch
	before := trackSet(previous)
	after := trackSet(merged)

	changed := make([]int64, 0, len(before)+len(after))
	for _, trackID := range sortedIDs(after) {
		join := currentAs[*models.PlaylistTrack](batch, playlistTrackKey(playlistID, trackID))
		if join != nil && !join.IsRemoved {
			if _, stillThere := before[trackID]; stillThere {
				continue
			}
		}
		var next *models.PlaylistTrack
		if join == nil {
			next = &models.PlaylistTrack{PlaylistID: playlistID, TrackID: trackID}
			stamp(next, params, true)
		} else {
			next = nextVersion(join, params)
		}
		next.IsRemoved = false
		batch.Put(next)
		changed = append(changed, trackID)
	}
	for _, trackID := range sortedIDs(before) {
		if _, kept := after[trackID]; kept {
			continue
		}
		join := currentAs[*models.PlaylistTrack](batch, playlistTrackKey(playlistID, trackID))
		if join != nil && !join.IsRemoved {
			removed := nextVersion(join, params)
			removed.IsRemoved = true
			batch.Put(removed)
		}
		changed = append(changed, trackID)
	}

	sort.Slice(changed, func(i, j int) bool { return changed[i] < changed[j] })
	for _, trackID := range changed {
		_, present := after[trackID]
		if err := updateTrackMembership(params, trackID, playlistID, present); err != nil {
			return err
		}
	}
	return nil
}

type previousMembership struct {
	Time int64 `json:"time"`
}

// updateTrackMembership maintains the playlists_containing_track and
// playlists_previously_containing_track columns of a track.
func updateTrackMembership(params *Params, trackID, playlistID int64, present bool) error {
	existing := params.Batch.Track(trackID)
	if existing == nil {
		return nil
	}
	var containing []int64
	if !existing.PlaylistsContainingTrack.IsNull() {
		if err := json.Unmarshal(existing.PlaylistsContainingTrack.Bytes(), &containing); err != nil {
			return err
		}
	}
	previously := make(map[string]previousMembership)
	if !existing.PlaylistsPreviouslyContainingTrack.IsNull() {
		if err := json.Unmarshal(existing.PlaylistsPreviouslyContainingTrack.Bytes(), &previously); err != nil {
			return err
		}
	}

	key := strconv.FormatInt(playlistID, 10)
	filtered := containing[:0:0]
	for _, id := range containing {
		if id != playlistID {
			filtered = append(filtered, id)
		}
	}
	if present {
		filtered = append(filtered, playlistID)
		delete(previously, key)
	} else {
		previously[key] = previousMembership{Time: params.Block.Timestamp}
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i] < filtered[j] })

	encodedContaining, err := json.Marshal(filtered)
	if err != nil {
		return err
	}
	encodedPreviously, err := json.Marshal(previously)
	if err != nil {
		return err
	}
	if models.JSONText(encodedContaining) == existing.PlaylistsContainingTrack &&
		models.JSONText(encodedPreviously) == existing.PlaylistsPreviouslyContainingTrack {
		return nil
	}
	track := nextVersion(existing, params)
	track.PlaylistsContainingTrack = models.JSONText(encodedContaining)
	track.PlaylistsPreviouslyContainingTrack = models.JSONText(encodedPreviously)
	params.Batch.Put(track)
	return nil
}

func applyDeletePlaylist(params *Params) error {
	existing := params.Batch.Playlist(params.Event.EntityID)
	playlist := nextVersion(existing, params)
	playlist.IsDelete = true
	params.Batch.Put(playlist)
	params.Batch.addUserDelta(playlist.PlaylistOwnerID, collectionCounter(playlist.IsAlbum), -1)
	return nil
}
