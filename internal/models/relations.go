package models

import "time"

// Follow is a directed follow edge between two users.
type Follow struct {
	Row
	FollowerUserID int64 `gorm:"column:follower_user_id;not null;index:idx_follows_edge,priority:1"`
	FolloweeUserID int64 `gorm:"column:followee_user_id;not null;index:idx_follows_edge,priority:2"`
	IsDelete       bool  `gorm:"column:is_delete;not null;default:false"`
}

// TableName provides the explicit table binding for GORM.
func (Follow) TableName() string {
	return "follows"
}

// Clone returns a copy of the row.
func (f *Follow) Clone() *Follow {
	copied := *f
	return &copied
}

// Subscription is a notification subscription from one user to another.
type Subscription struct {
	Row
	SubscriberID int64 `gorm:"column:subscriber_id;not null;index:idx_subscriptions_edge,priority:1"`
	UserID       int64 `gorm:"column:user_id;not null;index:idx_subscriptions_edge,priority:2"`
	IsDelete     bool  `gorm:"column:is_delete;not null;default:false"`
}

// TableName provides the explicit table binding for GORM.
func (Subscription) TableName() string {
	return "subscriptions"
}

// Clone returns a copy of the row.
func (s *Subscription) Clone() *Subscription {
	copied := *s
	return &copied
}

// Save is a favorite of a track, playlist or album.
type Save struct {
	Row
	UserID         int64  `gorm:"column:user_id;not null;index:idx_saves_edge,priority:1"`
	SaveItemID     int64  `gorm:"column:save_item_id;not null;index:idx_saves_edge,priority:3"`
	SaveType       string `gorm:"column:save_type;size:16;not null;index:idx_saves_edge,priority:2"`
	IsDelete       bool   `gorm:"column:is_delete;not null;default:false"`
	IsSaveOfRepost bool   `gorm:"column:is_save_of_repost;not null;default:false"`
}

// TableName provides the explicit table binding for GORM.
func (Save) TableName() string {
	return "saves"
}

// Clone returns a copy of the row.
func (s *Save) Clone() *Save {
	copied := *s
	return &copied
}

// Repost is a repost of a track, playlist or album.
type Repost struct {
	Row
	UserID           int64  `gorm:"column:user_id;not null;index:idx_reposts_edge,priority:1"`
	RepostItemID     int64  `gorm:"column:repost_item_id;not null;index:idx_reposts_edge,priority:3"`
	RepostType       string `gorm:"column:repost_type;size:16;not null;index:idx_reposts_edge,priority:2"`
	IsDelete         bool   `gorm:"column:is_delete;not null;default:false"`
	IsRepostOfRepost bool   `gorm:"column:is_repost_of_repost;not null;default:false"`
}

// TableName provides the explicit table binding for GORM.
func (Repost) TableName() string {
	return "reposts"
}

// Clone returns a copy of the row.
func (r *Repost) Clone() *Repost {
	copied := *r
	return &copied
}

// PlaylistTrack is the join row between a playlist and a track it holds or held.
type PlaylistTrack struct {
	Row
	PlaylistID int64 `gorm:"column:playlist_id;not null;index:idx_playlist_tracks_pair,priority:1"`
	TrackID    int64 `gorm:"column:track_id;not null;index:idx_playlist_tracks_pair,priority:2"`
	IsRemoved  bool  `gorm:"column:is_removed;not null;default:false"`
}

// TableName provides the explicit table binding for GORM.
func (PlaylistTrack) TableName() string {
	return "playlist_tracks"
}

// Clone returns a copy of the row.
func (p *PlaylistTrack) Clone() *PlaylistTrack {
	copied := *p
	return &copied
}

// PlaylistSeen marks the last time a user viewed a playlist's updates.
type PlaylistSeen struct {
	Row
	UserID     int64     `gorm:"column:user_id;not null;index:idx_playlist_seen_pair,priority:1"`
	PlaylistID int64     `gorm:"column:playlist_id;not null;index:idx_playlist_seen_pair,priority:2"`
	SeenAt     time.Time `gorm:"column:seen_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (PlaylistSeen) TableName() string {
	return "playlist_seen"
}

// Clone returns a copy of the row.
func (p *PlaylistSeen) Clone() *PlaylistSeen {
	copied := *p
	return &copied
}
