package entitymanager

import (
	"context"

	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/chorus/backend/internal/models"
)

// loadChunkSize bounds the number of bind parameters per IN query.
const loadChunkSize = 500

const opLoadSnapshot = "entitymanager.load_snapshot"

// LoadSnapshot reads every row the plan names. Each record type is fetched
// with batched IN queries; route tables are read in full history.
func LoadSnapshot(ctx context.Context, db *gorm.DB, plan *FetchPlan) (*Snapshot, error) {
	snapshot := newSnapshot()
	tx := db.WithContext(ctx)
	loader := snapshotLoader{tx: tx, snapshot: snapshot}

	loadByValues[models.User](&loader, "user_id", toValues(plan.IDs(RecordUser)), true)
	loadByValues[models.User](&loader, "wallet", toValues(plan.Wallets()), true)
	loadByValues[models.User](&loader, "handle_lc", toValues(plan.Handles()), true)
	loadByValues[models.Track](&loader, "track_id", toValues(plan.IDs(RecordTrack)), true)
	loadByValues[models.Playlist](&loader, "playlist_id", toValues(plan.IDs(RecordPlaylist)), true)
	loadByValues[models.AssociatedWallet](&loader, "user_id", toValues(plan.IDs(RecordAssociatedWallet)), true)
	loadByValues[models.DeveloperApp](&loader, "address", toValues(plan.Addresses(RecordDeveloperApp)), true)
	loadByValues[models.DeveloperApp](&loader, "user_id", toValues(plan.AppOwners()), true)
	loadByValues[models.DashboardWalletUser](&loader, "wallet", toValues(plan.Addresses(RecordDashboardWalletUser)), true)
	loadByValues[models.PlaylistTrack](&loader, "playlist_id", toValues(plan.IDs(RecordPlaylistTrack)), true)
	loadByValues[models.TrackPriceHistory](&loader, "track_id", toValues(plan.IDs(RecordTrackPriceHistory)), true)
	loadByValues[models.PlaylistPriceHistory](&loader, "playlist_id", toValues(plan.IDs(RecordPlaylistPriceHistory)), true)
	loadByValues[models.TrackRoute](&loader, "track_id", toValues(plan.IDs(RecordTrackRoute)), false)
	loadByValues[models.TrackRoute](&loader, "title_slug", toValues(plan.TitleSlugs(RecordTrackRoute)), false)
	loadByValues[models.PlaylistRoute](&loader, "playlist_id", toValues(plan.IDs(RecordPlaylistRoute)), false)
	loadByValues[models.PlaylistRoute](&loader, "title_slug", toValues(plan.TitleSlugs(RecordPlaylistRoute)), false)

	loadByTuples[models.Follow](&loader, "follower_user_id, followee_user_id", plan.Keys(RecordFollow), idTargetTuple)
	loadByTuples[models.Subscription](&loader, "subscriber_id, user_id", plan.Keys(RecordSubscription), idTargetTuple)
	loadByTuples[models.Save](&loader, "user_id, save_type, save_item_id", plan.Keys(RecordSave), idKindTargetTuple)
	loadByTuples[models.Repost](&loader, "user_id, repost_type, repost_item_id", plan.Keys(RecordRepost), idKindTargetTuple)
	loadByTuples[models.Grant](&loader, "grantee_address, user_id", plan.Keys(RecordGrant), addressIDTuple)
	loadByTuples[models.PlaylistSeen](&loader, "user_id, playlist_id", plan.Keys(RecordPlaylistSeen), idTargetTuple)
	loadByTuples[models.AssociatedWallet](&loader, "user_id, wallet", plan.Keys(RecordAssociatedWallet), idAddressTuple)
	if loader.err != nil {
		return nil, newServiceError(opLoadSnapshot, "query_failed", loader.err)
	}

	// Tracks named by loaded playlists are needed to maintain their
	// reverse membership index.
	missing := make(map[int64]struct{})
	for key, record := range snapshot.records {
		if key.Type != RecordPlaylist {
			continue
		}
		playlist := record.(*models.Playlist)
		contents, err := decodePlaylistContents(playlist.PlaylistContents.Bytes())
		if err != nil {
			continue
		}
		for _, entry := range contents.TrackIDs {
			if _, loaded := snapshot.records[trackKey(entry.Track)]; !loaded {
				missing[entry.Track] = struct{}{}
			}
		}
	}
	loadByValues[models.Track](&loader, "track_id", toValues(sortedIDs(missing)), true)
	if loader.err != nil {
		return nil, newServiceError(opLoadSnapshot, "query_failed", loader.err)
	}
	return snapshot, nil
}

type snapshotLoader struct {
	tx       *gorm.DB
	snapshot *Snapshot
	err      error
}

func toValues[T any](values []T) []interface{} {
	converted := make([]interface{}, len(values))
	for index, value := range values {
		converted[index] = value
	}
	return converted
}

// loadByValues loads rows whose column is one of values into the snapshot.
func loadByValues[T any, P interface {
	*T
	Record
}](l *snapshotLoader, column string, values []interface{}, currentOnly bool) {
	for start := 0; start < len(values) && l.err == nil; start += loadChunkSize {
		end := min(start+loadChunkSize, len(values))
		query := l.tx.Where(column+" IN ?", values[start:end])
		if currentOnly {
			query = query.Where("is_current = ?", true)
		}
		collectRows[T, P](l, query)
	}
}

// loadByTuples loads current rows whose composite key matches one of keys.
func loadByTuples[T any, P interface {
	*T
	Record
}](l *snapshotLoader, columns string, keys []RecordKey, tuple func(RecordKey) []interface{}) {
	for start := 0; start < len(keys) && l.err == nil; start += loadChunkSize {
		end := min(start+loadChunkSize, len(keys))
		tuples := make([][]interface{}, 0, end-start)
		for _, key := range keys[start:end] {
			tuples = append(tuples, tuple(key))
		}
		query := l.tx.Where("("+columns+") IN ?", tuples).Where("is_current = ?", true)
		collectRows[T, P](l, query)
	}
}

func collectRows[T any, P interface {
	*T
	Record
}](l *snapshotLoader, query *gorm.DB) {
	if l.err != nil {
		return
	}
	var rows []T
	if err := query.Order("row_id").Find(&rows).Error; err != nil {
		l.err = err
		return
	}
	for index := range rows {
		if err := l.snapshot.add(P(&rows[index])); err != nil {
			l.err = err
			return
		}
	}
}

func idTargetTuple(key RecordKey) []interface{} {
	return []interface{}{key.ID, key.Target}
}

func idKindTargetTuple(key RecordKey) []interface{} {
	return []interface{}{key.ID, key.Kind, key.Target}
}

func addressIDTuple(key RecordKey) []interface{} {
	return []interface{}{key.Address, key.ID}
}

func idAddressTuple(key RecordKey) []interface{} {
	return []interface{}{key.ID, key.Address}
}

// snapshotFromRecords builds a snapshot from rows already in memory.
func snapshotFromRecords(records ...Record) (*Snapshot, error) {
	snapshot := newSnapshot()
	for _, record := range records {
		if err := snapshot.add(record); err != nil {
			return nil, err
		}
	}
	return snapshot, nil
}
