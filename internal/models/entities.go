package models

import "time"

// User is one version of an account.
type User struct {
	Row
	UserID             int64    `gorm:"column:user_id;not null;index"`
	Handle             *string  `gorm:"column:handle;size:64"`
	HandleLC           *string  `gorm:"column:handle_lc;size:64;index"`
	Wallet             string   `gorm:"column:wallet;size:64;not null;index"`
	Name               string   `gorm:"column:name;size:256;not null;default:''"`
	Bio                string   `gorm:"column:bio;type:text;not null;default:''"`
	Location           string   `gorm:"column:location;size:256;not null;default:''"`
	ProfilePicture     string   `gorm:"column:profile_picture_sizes;size:128;not null;default:''"`
	CoverPhoto         string   `gorm:"column:cover_photo_sizes;size:128;not null;default:''"`
	ArtistPickTrackID  *int64   `gorm:"column:artist_pick_track_id"`
	AllowAIAttribution bool     `gorm:"column:allow_ai_attribution;not null;default:false"`
	IsVerified         bool     `gorm:"column:is_verified;not null;default:false"`
	IsDeactivated      bool     `gorm:"column:is_deactivated;not null;default:false"`
	MetadataMultihash  string   `gorm:"column:metadata_multihash;size:128;not null;default:''"`
	PlaylistLibrary    JSONText `gorm:"column:playlist_library;type:text"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return "users"
}

// Clone returns a copy that shares no mutable state with the receiver.
func (u *User) Clone() *User {
	copied := *u
	copied.Handle = CloneString(u.Handle)
	copied.HandleLC = CloneString(u.HandleLC)
	copied.ArtistPickTrackID = CloneInt64(u.ArtistPickTrackID)
	return &copied
}

// Track is one version of an uploaded track.
type Track struct {
	Row
	TrackID                            int64      `gorm:"column:track_id;not null;index"`
	OwnerID                            int64      `gorm:"column:owner_id;not null;index"`
	Title                              string     `gorm:"column:title;type:text;not null;default:''"`
	Description                        string     `gorm:"column:description;type:text;not null;default:''"`
	Genre                              string     `gorm:"column:genre;size:64;not null;default:''"`
	Mood                               string     `gorm:"column:mood;size:64;not null;default:''"`
	Tags                               string     `gorm:"column:tags;type:text;not null;default:''"`
	Duration                           int64      `gorm:"column:duration;not null;default:0"`
	TrackSegments                      JSONText   `gorm:"column:track_segments;type:text"`
	TrackCID                           string     `gorm:"column:track_cid;size:128;not null;default:''"`
	CoverArt                           string     `gorm:"column:cover_art_sizes;size:128;not null;default:''"`
	IsUnlisted                         bool       `gorm:"column:is_unlisted;not null;default:false"`
	IsDelete                           bool       `gorm:"column:is_delete;not null;default:false"`
	IsDownloadable                     bool       `gorm:"column:is_downloadable;not null;default:false"`
	IsStreamGated                      bool       `gorm:"column:is_stream_gated;not null;default:false"`
	StreamConditions                   JSONText   `gorm:"column:stream_conditions;type:text"`
	IsDownloadGated                    bool       `gorm:"column:is_download_gated;not null;default:false"`
	DownloadConditions                 JSONText   `gorm:"column:download_conditions;type:text"`
	StemOf                             JSONText   `gorm:"column:stem_of;type:text"`
	RemixOf                            JSONText   `gorm:"column:remix_of;type:text"`
	ReleaseDate                        *time.Time `gorm:"column:release_date"`
	IsScheduledRelease                 bool       `gorm:"column:is_scheduled_release;not null;default:false"`
	PlaylistsContainingTrack           JSONText   `gorm:"column:playlists_containing_track;type:text"`
	PlaylistsPreviouslyContainingTrack JSONText   `gorm:"column:playlists_previously_containing_track;type:text"`
	MetadataMultihash                  string     `gorm:"column:metadata_multihash;size:128;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (Track) TableName() string {
	return "tracks"
}

// Clone returns a copy that shares no mutable state with the receiver.
func (t *Track) Clone() *Track {
	copied := *t
	copied.ReleaseDate = CloneTime(t.ReleaseDate)
	return &copied
}

// Playlist is one version of a playlist or album.
type Playlist struct {
	Row
	PlaylistID         int64      `gorm:"column:playlist_id;not null;index"`
	PlaylistOwnerID    int64      `gorm:"column:playlist_owner_id;not null;index"`
	PlaylistName       string     `gorm:"column:playlist_name;type:text;not null;default:''"`
	Description        string     `gorm:"column:description;type:text;not null;default:''"`
	IsAlbum            bool       `gorm:"column:is_album;not null;default:false"`
	IsPrivate          bool       `gorm:"column:is_private;not null;default:false"`
	IsDelete           bool       `gorm:"column:is_delete;not null;default:false"`
	PlaylistContents   JSONText   `gorm:"column:playlist_contents;type:text"`
	PlaylistImage      string     `gorm:"column:playlist_image_sizes_multihash;size:128;not null;default:''"`
	UPC                string     `gorm:"column:upc;size:32;not null;default:''"`
	LastAddedTo        *time.Time `gorm:"column:last_added_to"`
	IsStreamGated      bool       `gorm:"column:is_stream_gated;not null;default:false"`
	StreamConditions   JSONText   `gorm:"column:stream_conditions;type:text"`
	IsDownloadGated    bool       `gorm:"column:is_download_gated;not null;default:false"`
	DownloadConditions JSONText   `gorm:"column:download_conditions;type:text"`
	ReleaseDate        *time.Time `gorm:"column:release_date"`
	IsScheduledRelease bool       `gorm:"column:is_scheduled_release;not null;default:false"`
	MetadataMultihash  string     `gorm:"column:metadata_multihash;size:128;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (Playlist) TableName() string {
	return "playlists"
}

// Clone returns a copy that shares no mutable state with the receiver.
func (p *Playlist) Clone() *Playlist {
	copied := *p
	copied.LastAddedTo = CloneTime(p.LastAddedTo)
	copied.ReleaseDate = CloneTime(p.ReleaseDate)
	return &copied
}

// DeveloperApp is a third-party application address owned by a user.
type DeveloperApp struct {
	Row
	Address          string `gorm:"column:address;size:64;not null;index"`
	UserID           int64  `gorm:"column:user_id;not null;index"`
	Name             string `gorm:"column:name;size:64;not null"`
	Description      string `gorm:"column:description;size:256;not null;default:''"`
	ImageURL         string `gorm:"column:image_url;size:512;not null;default:''"`
	IsPersonalAccess bool   `gorm:"column:is_personal_access;not null;default:false"`
	IsDelete         bool   `gorm:"column:is_delete;not null;default:false"`
}

// TableName provides the explicit table binding for GORM.
func (DeveloperApp) TableName() string {
	return "developer_apps"
}

// Clone returns a copy of the row.
func (d *DeveloperApp) Clone() *DeveloperApp {
	copied := *d
	return &copied
}

// Grant delegates a user's authority to a grantee address.
// IsApproved is nil while pending.
type Grant struct {
	Row
	GranteeAddress string `gorm:"column:grantee_address;size:64;not null;index"`
	UserID         int64  `gorm:"column:user_id;not null;index"`
	IsApproved     *bool  `gorm:"column:is_approved"`
	IsRevoked      bool   `gorm:"column:is_revoked;not null;default:false"`
}

// TableName provides the explicit table binding for GORM.
func (Grant) TableName() string {
	return "grants"
}

// Clone returns a copy that shares no mutable state with the receiver.
func (g *Grant) Clone() *Grant {
	copied := *g
	copied.IsApproved = CloneBool(g.IsApproved)
	return &copied
}

// Active reports whether the grant currently authorizes its grantee.
func (g *Grant) Active() bool {
	return g != nil && g.IsApproved != nil && *g.IsApproved && !g.IsRevoked
}

// DashboardWalletUser links an external wallet to a user.
type DashboardWalletUser struct {
	Row
	Wallet   string `gorm:"column:wallet;size:64;not null;index"`
	UserID   int64  `gorm:"column:user_id;not null;index"`
	IsDelete bool   `gorm:"column:is_delete;not null;default:false"`
}

// TableName provides the explicit table binding for GORM.
func (DashboardWalletUser) TableName() string {
	return "dashboard_wallet_users"
}

// Clone returns a copy of the row.
func (d *DashboardWalletUser) Clone() *DashboardWalletUser {
	copied := *d
	return &copied
}

// AssociatedWallet is an additional wallet a user proved control of.
type AssociatedWallet struct {
	Row
	UserID   int64  `gorm:"column:user_id;not null;index"`
	Wallet   string `gorm:"column:wallet;size:64;not null;index"`
	Chain    string `gorm:"column:chain;size:16;not null;default:'eth'"`
	IsDelete bool   `gorm:"column:is_delete;not null;default:false"`
}

// TableName provides the explicit table binding for GORM.
func (AssociatedWallet) TableName() string {
	return "associated_wallets"
}

// Clone returns a copy of the row.
func (a *AssociatedWallet) Clone() *AssociatedWallet {
	copied := *a
	return &copied
}
