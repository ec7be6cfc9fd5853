package models

// TrackRoute maps a slug to a track. Historical routes are never removed.
type TrackRoute struct {
	Row
	Slug        string `gorm:"column:slug;size:256;not null;index"`
	TitleSlug   string `gorm:"column:title_slug;size:256;not null;index"`
	CollisionID int64  `gorm:"column:collision_id;not null;default:0"`
	OwnerID     int64  `gorm:"column:owner_id;not null;index"`
	TrackID     int64  `gorm:"column:track_id;not null;index"`
}

// TableName provides the explicit table binding for GORM.
func (TrackRoute) TableName() string {
	return "track_routes"
}

// Clone returns a copy of the row.
func (r *TrackRoute) Clone() *TrackRoute {
	copied := *r
	return &copied
}

// PlaylistRoute maps a slug to a playlist. Historical routes are never removed.
type PlaylistRoute struct {
	Row
	Slug        string `gorm:"column:slug;size:256;not null;index"`
	TitleSlug   string `gorm:"column:title_slug;size:256;not null;index"`
	CollisionID int64  `gorm:"column:collision_id;not null;default:0"`
	OwnerID     int64  `gorm:"column:owner_id;not null;index"`
	PlaylistID  int64  `gorm:"column:playlist_id;not null;index"`
}

// TableName provides the explicit table binding for GORM.
func (PlaylistRoute) TableName() string {
	return "playlist_routes"
}

// Clone returns a copy of the row.
func (r *PlaylistRoute) Clone() *PlaylistRoute {
	copied := *r
	return &copied
}

// TrackPriceHistory records a purchase price for a track. The current row is the latest price.
type TrackPriceHistory struct {
	Row
	TrackID         int64    `gorm:"column:track_id;not null;index"`
	Access          string   `gorm:"column:access;size:16;not null"`
	TotalPriceCents int64    `gorm:"column:total_price_cents;not null"`
	Splits          JSONText `gorm:"column:splits;type:text;not null"`
	BlockTimestamp  int64    `gorm:"column:block_timestamp;not null"`
}

// TableName provides the explicit table binding for GORM.
func (TrackPriceHistory) TableName() string {
	return "track_price_history"
}

// Clone returns a copy of the row.
func (h *TrackPriceHistory) Clone() *TrackPriceHistory {
	copied := *h
	return &copied
}

// PlaylistPriceHistory records a purchase price for an album or playlist.
type PlaylistPriceHistory struct {
	Row
	PlaylistID      int64    `gorm:"column:playlist_id;not null;index"`
	TotalPriceCents int64    `gorm:"column:total_price_cents;not null"`
	Splits          JSONText `gorm:"column:splits;type:text;not null"`
	BlockTimestamp  int64    `gorm:"column:block_timestamp;not null"`
}

// TableName provides the explicit table binding for GORM.
func (PlaylistPriceHistory) TableName() string {
	return "playlist_price_history"
}

// Clone returns a copy of the row.
func (h *PlaylistPriceHistory) Clone() *PlaylistPriceHistory {
	copied := *h
	return &copied
}
