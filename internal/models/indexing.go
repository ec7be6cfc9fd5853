package models

import "time"

// RevertBlock holds the pre-images superseded by one block, for rollback.
type RevertBlock struct {
	BlockNumber int64    `gorm:"column:blocknumber;primaryKey;autoIncrement:false"`
	Blockhash   string   `gorm:"column:blockhash;size:80;not null;default:''"`
	PrevRecords JSONText `gorm:"column:prev_records;type:text;not null"`
}

// TableName provides the explicit table binding for GORM.
func (RevertBlock) TableName() string {
	return "revert_blocks"
}

// IndexingCheckpoint tracks the last processed block per stream.
type IndexingCheckpoint struct {
	Name           string `gorm:"column:tablename;primaryKey;size:190"`
	LastCheckpoint int64  `gorm:"column:last_checkpoint;not null"`
	Blockhash      string `gorm:"column:blockhash;size:80;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (IndexingCheckpoint) TableName() string {
	return "indexing_checkpoints"
}

// IndexingError records an unexpected failure while replaying a transaction.
type IndexingError struct {
	ID          string    `gorm:"column:id;primaryKey;size:64"`
	BlockNumber int64     `gorm:"column:blocknumber;not null;index"`
	Blockhash   string    `gorm:"column:blockhash;size:80;not null"`
	Txhash      string    `gorm:"column:txhash;size:80;not null;index"`
	Message     string    `gorm:"column:message;type:text;not null"`
	ErrorType   string    `gorm:"column:error_type;size:64;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (IndexingError) TableName() string {
	return "indexing_errors"
}

// Skipped transaction levels.
const (
	SkipLevelNode    = "node"
	SkipLevelNetwork = "network"
)

// SkippedTransaction marks a transaction the replay must step over.
type SkippedTransaction struct {
	ID          string    `gorm:"column:id;primaryKey;size:64"`
	BlockNumber int64     `gorm:"column:blocknumber;not null;index"`
	Blockhash   string    `gorm:"column:blockhash;size:80;not null"`
	Txhash      string    `gorm:"column:txhash;size:80;not null;uniqueIndex"`
	Level       string    `gorm:"column:level;size:16;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (SkippedTransaction) TableName() string {
	return "skipped_transactions"
}

// ChallengeEvent is a gamification event recorded after its block committed.
type ChallengeEvent struct {
	ID          string    `gorm:"column:id;primaryKey;size:64"`
	Kind        string    `gorm:"column:kind;size:64;not null;index"`
	UserID      int64     `gorm:"column:user_id;not null;index"`
	BlockNumber int64     `gorm:"column:blocknumber;not null;index"`
	Extra       JSONText  `gorm:"column:extra;type:text"`
	CreatedAt   time.Time `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (ChallengeEvent) TableName() string {
	return "challenge_events"
}

// AggregateUser holds running per-user counters.
type AggregateUser struct {
	UserID         int64 `gorm:"column:user_id;primaryKey;autoIncrement:false"`
	TrackCount     int64 `gorm:"column:track_count;not null;default:0"`
	PlaylistCount  int64 `gorm:"column:playlist_count;not null;default:0"`
	AlbumCount     int64 `gorm:"column:album_count;not null;default:0"`
	FollowerCount  int64 `gorm:"column:follower_count;not null;default:0"`
	FollowingCount int64 `gorm:"column:following_count;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (AggregateUser) TableName() string {
	return "aggregate_user"
}

// AggregateItem holds running save and repost counters for a track or playlist.
type AggregateItem struct {
	ItemID      int64  `gorm:"column:item_id;primaryKey;autoIncrement:false"`
	ItemType    string `gorm:"column:item_type;primaryKey;size:16"`
	SaveCount   int64  `gorm:"column:save_count;not null;default:0"`
	RepostCount int64  `gorm:"column:repost_count;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (AggregateItem) TableName() string {
	return "aggregate_item"
}

// All lists every model managed by the schema, in migration order.
func All() []interface{} {
	return []interface{}{
		&User{},
		&Track{},
		&Playlist{},
		&Follow{},
		&Subscription{},
		&Save{},
		&Repost{},
		&Grant{},
		&DeveloperApp{},
		&DashboardWalletUser{},
		&AssociatedWallet{},
		&TrackRoute{},
		&PlaylistRoute{},
		&PlaylistTrack{},
		&PlaylistSeen{},
		&TrackPriceHistory{},
		&PlaylistPriceHistory{},
		&RevertBlock{},
		&IndexingCheckpoint{},
		&IndexingError{},
		&SkippedTransaction{},
		&ChallengeEvent{},
		&AggregateUser{},
		&AggregateItem{},
	}
}
