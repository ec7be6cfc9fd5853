package entitymanager

import (
	"encoding/json"
	"fmt"

	"github.com/MarcoPoloResearchLab/chorus/backend/internal/models"
)

// Record is one row version of any replayed table.
type Record interface {
	Versioning() *models.Row
}

type recordSpec struct {
	table string
	// retain marks tables whose superseded rows are flagged non-current
	// rather than deleted.
	retain   bool
	newModel func() Record
}

var recordSpecs = map[RecordType]recordSpec{
	RecordUser:                 {table: "users", newModel: func() Record { return &models.User{} }},
	RecordTrack:                {table: "tracks", newModel: func() Record { return &models.Track{} }},
	RecordPlaylist:             {table: "playlists", newModel: func() Record { return &models.Playlist{} }},
	RecordFollow:               {table: "follows", newModel: func() Record { return &models.Follow{} }},
	RecordSubscription:         {table: "subscriptions", newModel: func() Record { return &models.Subscription{} }},
	RecordSave:                 {table: "saves", newModel: func() Record { return &models.Save{} }},
	RecordRepost:               {table: "reposts", newModel: func() Record { return &models.Repost{} }},
	RecordGrant:                {table: "grants", newModel: func() Record { return &models.Grant{} }},
	RecordDeveloperApp:         {table: "developer_apps", newModel: func() Record { return &models.DeveloperApp{} }},
	RecordDashboardWalletUser:  {table: "dashboard_wallet_users", newModel: func() Record { return &models.DashboardWalletUser{} }},
	RecordAssociatedWallet:     {table: "associated_wallets", newModel: func() Record { return &models.AssociatedWallet{} }},
	RecordTrackRoute:           {table: "track_routes", retain: true, newModel: func() Record { return &models.TrackRoute{} }},
	RecordPlaylistRoute:        {table: "playlist_routes", retain: true, newModel: func() Record { return &models.PlaylistRoute{} }},
	RecordPlaylistTrack:        {table: "playlist_tracks", newModel: func() Record { return &models.PlaylistTrack{} }},
	RecordPlaylistSeen:         {table: "playlist_seen", newModel: func() Record { return &models.PlaylistSeen{} }},
	RecordTrackPriceHistory:    {table: "track_price_history", retain: true, newModel: func() Record { return &models.TrackPriceHistory{} }},
	RecordPlaylistPriceHistory: {table: "playlist_price_history", retain: true, newModel: func() Record { return &models.PlaylistPriceHistory{} }},
}

// recordTypeOrder fixes the order tables are written and reverted in.
var recordTypeOrder = []RecordType{
	RecordUser,
	RecordTrack,
	RecordPlaylist,
	RecordFollow,
	RecordSubscription,
	RecordSave,
	RecordRepost,
	RecordGrant,
	RecordDeveloperApp,
	RecordDashboardWalletUser,
	RecordAssociatedWallet,
	RecordTrackRoute,
	RecordPlaylistRoute,
	RecordPlaylistTrack,
	RecordPlaylistSeen,
	RecordTrackPriceHistory,
	RecordPlaylistPriceHistory,
}

func keyOf(record Record) RecordKey {
	switch row := record.(type) {
	case *models.User:
		return userKey(row.UserID)
	case *models.Track:
		return trackKey(row.TrackID)
	case *models.Playlist:
		return playlistKey(row.PlaylistID)
	case *models.Follow:
		return followKey(row.FollowerUserID, row.FolloweeUserID)
	case *models.Subscription:
		return subscriptionKey(row.SubscriberID, row.UserID)
	case *models.Save:
		return saveKey(row.UserID, row.SaveType, row.SaveItemID)
	case *models.Repost:
		return repostKey(row.UserID, row.RepostType, row.RepostItemID)
	case *models.Grant:
		return grantKey(row.GranteeAddress, row.UserID)
	case *models.DeveloperApp:
		return developerAppKey(row.Address)
	case *models.DashboardWalletUser:
		return dashboardWalletKey(row.Wallet)
	case *models.AssociatedWallet:
		return associatedWalletKey(row.UserID, row.Wallet)
	case *models.TrackRoute:
		return trackRouteKey(row.TrackID)
	case *models.PlaylistRoute:
		return playlistRouteKey(row.PlaylistID)
	case *models.PlaylistTrack:
		return playlistTrackKey(row.PlaylistID, row.TrackID)
	case *models.PlaylistSeen:
		return playlistSeenKey(row.UserID, row.PlaylistID)
	case *models.TrackPriceHistory:
		return trackPriceKey(row.TrackID, row.Access)
	case *models.PlaylistPriceHistory:
		return playlistPriceKey(row.PlaylistID)
	default:
		panic(fmt.Sprintf("entitymanager: unknown record %T", record))
	}
}

func cloneRecord(record Record) Record {
	switch row := record.(type) {
	case *models.User:
		return row.Clone()
	case *models.Track:
		return row.Clone()
	case *models.Playlist:
		return row.Clone()
	case *models.Follow:
		return row.Clone()
	case *models.Subscription:
		return row.Clone()
	case *models.Save:
		return row.Clone()
	case *models.Repost:
		return row.Clone()
	case *models.Grant:
		return row.Clone()
	case *models.DeveloperApp:
		return row.Clone()
	case *models.DashboardWalletUser:
		return row.Clone()
	case *models.AssociatedWallet:
		return row.Clone()
	case *models.TrackRoute:
		return row.Clone()
	case *models.PlaylistRoute:
		return row.Clone()
	case *models.PlaylistTrack:
		return row.Clone()
	case *models.PlaylistSeen:
		return row.Clone()
	case *models.TrackPriceHistory:
		return row.Clone()
	case *models.PlaylistPriceHistory:
		return row.Clone()
	default:
		panic(fmt.Sprintf("entitymanager: unknown record %T", record))
	}
}

// nextVersion copies previous into a new version stamped with the event's
// provenance. The copy never aliases previous.
func nextVersion[T Record](previous T, params *Params) T {
	next := cloneRecord(previous).(T)
	stamp(next, params, false)
	return next
}

// stamp resets the storage identity and provenance of a freshly built
// version. Creation also sets created_at.
func stamp(record Record, params *Params, created bool) {
	row := record.Versioning()
	row.RowID = 0
	row.IsCurrent = true
	row.BlockNumber = params.Block.Number
	row.Blockhash = params.Block.Hash
	row.Txhash = params.Event.TxHash
	row.UpdatedAt = params.Block.Time()
	if created || row.CreatedAt.IsZero() {
		row.CreatedAt = params.Block.Time()
	}
}

func encodePreImage(record Record) (json.RawMessage, error) {
	return json.Marshal(record)
}

func decodePreImage(recordType RecordType, raw json.RawMessage) (Record, error) {
	spec, ok := recordSpecs[recordType]
	if !ok {
		return nil, fmt.Errorf("unknown record type %q", recordType)
	}
	record := spec.newModel()
	if err := json.Unmarshal(raw, record); err != nil {
		return nil, err
	}
	return record, nil
}
