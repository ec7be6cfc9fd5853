package entitymanager

import (
	"strings"
	"time"
)

// EntityType is the entity tag carried by a ManageEntity event.
type EntityType string

const (
	EntityTypeUser                EntityType = "User"
	EntityTypeTrack               EntityType = "Track"
	EntityTypePlaylist            EntityType = "Playlist"
	EntityTypeGrant               EntityType = "Grant"
	EntityTypeDeveloperApp        EntityType = "DeveloperApp"
	EntityTypeDashboardWalletUser EntityType = "DashboardWalletUser"
	EntityTypeNotification        EntityType = "Notification"
)

// AllEntityTypes lists every entity type the registry knows.
func AllEntityTypes() []EntityType {
	return []EntityType{
		EntityTypeUser,
		EntityTypeTrack,
		EntityTypePlaylist,
		EntityTypeGrant,
		EntityTypeDeveloperApp,
		EntityTypeDashboardWalletUser,
		EntityTypeNotification,
	}
}

// Action is the verb carried by a ManageEntity event.
type Action string

const (
	ActionCreate      Action = "Create"
	ActionUpdate      Action = "Update"
	ActionDelete      Action = "Delete"
	ActionFollow      Action = "Follow"
	ActionUnfollow    Action = "Unfollow"
	ActionSubscribe   Action = "Subscribe"
	ActionUnsubscribe Action = "Unsubscribe"
	ActionSave        Action = "Save"
	ActionUnsave      Action = "Unsave"
	ActionRepost      Action = "Repost"
	ActionUnrepost    Action = "Unrepost"
	ActionApprove     Action = "Approve"
	ActionReject      Action = "Reject"
	ActionView        Action = "View"
)

// RecordType names one replayed table.
type RecordType string

const (
	RecordUser                 RecordType = "users"
	RecordTrack                RecordType = "tracks"
	RecordPlaylist             RecordType = "playlists"
	RecordFollow               RecordType = "follows"
	RecordSubscription         RecordType = "subscriptions"
	RecordSave                 RecordType = "saves"
	RecordRepost               RecordType = "reposts"
	RecordGrant                RecordType = "grants"
	RecordDeveloperApp         RecordType = "developer_apps"
	RecordDashboardWalletUser  RecordType = "dashboard_wallet_users"
	RecordAssociatedWallet     RecordType = "associated_wallets"
	RecordTrackRoute           RecordType = "track_routes"
	RecordPlaylistRoute        RecordType = "playlist_routes"
	RecordPlaylistTrack        RecordType = "playlist_tracks"
	RecordPlaylistSeen         RecordType = "playlist_seen"
	RecordTrackPriceHistory    RecordType = "track_price_history"
	RecordPlaylistPriceHistory RecordType = "playlist_price_history"
)

// RecordKey identifies a logical entity within one record type.
// Unused fields stay zero so keys remain comparable map keys.
type RecordKey struct {
	Type    RecordType
	ID      int64
	Target  int64
	Kind    string
	Address string
}

// Save, repost and playlist-track target kinds.
const (
	KindTrack    = "track"
	KindPlaylist = "playlist"
	KindAlbum    = "album"
	KindUser     = "user"
)

// Price access kinds.
const (
	AccessStream   = "stream"
	AccessDownload = "download"
)

func userKey(userID int64) RecordKey {
	return RecordKey{Type: RecordUser, ID: userID}
}

func trackKey(trackID int64) RecordKey {
	return RecordKey{Type: RecordTrack, ID: trackID}
}

func playlistKey(playlistID int64) RecordKey {
	return RecordKey{Type: RecordPlaylist, ID: playlistID}
}

func followKey(followerID, followeeID int64) RecordKey {
	return RecordKey{Type: RecordFollow, ID: followerID, Target: followeeID, Kind: KindUser}
}

func subscriptionKey(subscriberID, userID int64) RecordKey {
	return RecordKey{Type: RecordSubscription, ID: subscriberID, Target: userID, Kind: KindUser}
}

func saveKey(userID int64, kind string, itemID int64) RecordKey {
	return RecordKey{Type: RecordSave, ID: userID, Target: itemID, Kind: kind}
}

func repostKey(userID int64, kind string, itemID int64) RecordKey {
	return RecordKey{Type: RecordRepost, ID: userID, Target: itemID, Kind: kind}
}

func grantKey(granteeAddress string, userID int64) RecordKey {
	return RecordKey{Type: RecordGrant, ID: userID, Address: normalizeAddress(granteeAddress)}
}

func developerAppKey(address string) RecordKey {
	return RecordKey{Type: RecordDeveloperApp, Address: normalizeAddress(address)}
}

func dashboardWalletKey(wallet string) RecordKey {
	return RecordKey{Type: RecordDashboardWalletUser, Address: normalizeAddress(wallet)}
}

func associatedWalletKey(userID int64, wallet string) RecordKey {
	return RecordKey{Type: RecordAssociatedWallet, ID: userID, Address: normalizeAddress(wallet)}
}

func trackRouteKey(trackID int64) RecordKey {
	return RecordKey{Type: RecordTrackRoute, ID: trackID}
}

func playlistRouteKey(playlistID int64) RecordKey {
	return RecordKey{Type: RecordPlaylistRoute, ID: playlistID}
}

func playlistTrackKey(playlistID, trackID int64) RecordKey {
	return RecordKey{Type: RecordPlaylistTrack, ID: playlistID, Target: trackID}
}

func playlistSeenKey(userID, playlistID int64) RecordKey {
	return RecordKey{Type: RecordPlaylistSeen, ID: userID, Target: playlistID}
}

func trackPriceKey(trackID int64, access string) RecordKey {
	return RecordKey{Type: RecordTrackPriceHistory, ID: trackID, Kind: access}
}

func playlistPriceKey(playlistID int64) RecordKey {
	return RecordKey{Type: RecordPlaylistPriceHistory, ID: playlistID}
}

func normalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// BlockInfo is the chain position being replayed.
type BlockInfo struct {
	Number    int64
	Hash      string
	Timestamp int64
}

// Time returns the block timestamp as UTC time.
func (b BlockInfo) Time() time.Time {
	return time.Unix(b.Timestamp, 0).UTC()
}

// Event is one decoded ManageEntity instruction.
type Event struct {
	EntityID      int64
	EntityType    EntityType
	UserID        int64
	Action        Action
	Metadata      string
	SignerAddress string
	TxHash        string
	// Index is the global position of the event within its block.
	Index int
}

// Signer returns the normalized signer address.
func (e Event) Signer() string {
	return normalizeAddress(e.SignerAddress)
}
