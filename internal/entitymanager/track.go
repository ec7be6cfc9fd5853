package entitymanager

import (
	"encoding/json"
	"math"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/chorus/backend/internal/challenges"
	"github.com/MarcoPoloResearchLab/chorus/backend/internal/models"
)

// TrackDescriptionLimit caps a track description in characters.
const TrackDescriptionLimit = 2500

type stemOf struct {
	ParentTrackID int64  `json:"parent_track_id"`
	Category      string `json:"category"`
}

type trackSegment struct {
	Multihash string  `json:"multihash"`
	Duration  float64 `json:"duration"`
}

func validateCreateTrack(params *Params) error {
	event := params.Event
	if event.EntityID < TrackIDOffset {
		return invalid(params, "track id %d is below the offset %d", event.EntityID, TrackIDOffset)
	}
	if params.Batch.Track(event.EntityID) != nil {
		return invalid(params, "track %d already exists", event.EntityID)
	}
	if ownerID, ok, err := params.metadata.integer("owner_id"); err == nil && ok && ownerID != nil && *ownerID != event.UserID {
		return invalid(params, "owner_id %d does not match user %d", *ownerID, event.UserID)
	}
	return nil
}

func validateUpdateTrack(params *Params) error {
	_, err := ownedTrack(params)
	return err
}

func validateDeleteTrack(params *Params) error {
	_, err := ownedTrack(params)
	return err
}

func ownedTrack(params *Params) (*models.Track, error) {
	track := params.Batch.Track(params.Event.EntityID)
	if track == nil {
		return nil, invalid(params, "track %d does not exist", params.Event.EntityID)
	}
	if track.IsDelete {
		return nil, invalid(params, "track %d is deleted", params.Event.EntityID)
	}
	if track.OwnerID != params.Event.UserID {
		return nil, invalid(params, "user %d does not own track %d", params.Event.UserID, params.Event.EntityID)
	}
	return track, nil
}

// applyTrack merges metadata into a new version of the track.
func applyTrack(params *Params) error {
	event := params.Event
	existing := params.Batch.Track(event.EntityID)
	created := existing == nil
	var track *models.Track
	if created {
		track = &models.Track{TrackID: event.EntityID, OwnerID: event.UserID}
		stamp(track, params, true)
	} else {
		track = nextVersion(existing, params)
	}

	reader := params.reader()
	reader.str("title", &track.Title)
	reader.str("description", &track.Description)
	reader.str("genre", &track.Genre)
	reader.str("mood", &track.Mood)
	reader.str("tags", &track.Tags)
	reader.str("track_cid", &track.TrackCID)
	reader.str("cover_art_sizes", &track.CoverArt)
	reader.boolean("is_unlisted", &track.IsUnlisted)
	reader.boolean("is_downloadable", &track.IsDownloadable)
	reader.boolean("is_stream_gated", &track.IsStreamGated)
	reader.boolean("is_download_gated", &track.IsDownloadGated)
	reader.boolean("is_scheduled_release", &track.IsScheduledRelease)
	reader.document("stream_conditions", &track.StreamConditions)
	reader.document("download_conditions", &track.DownloadConditions)
	reader.document("stem_of", &track.StemOf)
	reader.document("remix_of", &track.RemixOf)
	reader.document("track_segments", &track.TrackSegments)
	reader.timestamp("release_date", &track.ReleaseDate)
	if params.metadata.has("duration") {
		reader.integer("duration", &track.Duration)
	} else if params.metadata.has("track_segments") {
		duration, err := segmentsDuration(track.TrackSegments)
		if err != nil {
			return invalid(params, "malformed track_segments: %v", err)
		}
		track.Duration = duration
	}
	if reader.err != nil {
		return invalid(params, "%v", reader.err)
	}
	track.MetadataMultihash = params.MetadataCID

	if utf8.RuneCountInString(track.Description) > TrackDescriptionLimit {
		return invalid(params, "description exceeds %d characters", TrackDescriptionLimit)
	}
	if !track.StemOf.IsNull() {
		var stem stemOf
		if err := json.Unmarshal(track.StemOf.Bytes(), &stem); err != nil {
			return invalid(params, "malformed stem_of: %v", err)
		}
		parent := params.Batch.Track(stem.ParentTrackID)
		if parent == nil || parent.IsDelete {
			return invalid(params, "stem parent %d does not exist", stem.ParentTrackID)
		}
		track.IsUnlisted = parent.IsUnlisted
	}
	if err := validateTrackGating(track); err != nil {
		return invalid(params, "%v", err)
	}

	params.Batch.Put(track)
	assignRoute(params, RecordTrackRoute, track.TrackID, track.OwnerID, track.Title)
	recordTrackPrices(params, track)
	if created {
		params.Batch.addUserDelta(track.OwnerID, counterTrackCount, 1)
		params.Batch.dispatch(challenges.KindTrackUpload, track.OwnerID, map[string]interface{}{"track_id": track.TrackID})
	}
	return nil
}

func segmentsDuration(raw models.JSONText) (int64, error) {
	if raw.IsNull() {
		return 0, nil
	}
	var segments []trackSegment
	if err := json.Unmarshal(raw.Bytes(), &segments); err != nil {
		return 0, err
	}
	var total float64
	for _, segment := range segments {
		total += segment.Duration
	}
	return int64(math.Round(total)), nil
}

func applyDeleteTrack(params *Params) error {
	existing := params.Batch.Track(params.Event.EntityID)
	track := nextVersion(existing, params)
	track.IsDelete = true
	params.Batch.Put(track)
	params.Batch.addUserDelta(track.OwnerID, counterTrackCount, -1)
	return nil
}
