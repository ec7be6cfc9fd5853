package database

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationCurrentRowUniqueness = "2026-10-01_current_row_uniqueness"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationCurrentRowUniqueness, apply: createCurrentRowIndexes},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// currentRowKeys lists the logical key columns of every versioned table.
var currentRowKeys = []struct {
	table   string
	columns string
}{
	{"users", "user_id"},
	{"tracks", "track_id"},
	{"playlists", "playlist_id"},
	{"follows", "follower_user_id, followee_user_id"},
	{"subscriptions", "subscriber_id, user_id"},
	{"saves", "user_id, save_type, save_item_id"},
	{"reposts", "user_id, repost_type, repost_item_id"},
	{"grants", "grantee_address, user_id"},
	{"developer_apps", "address"},
	{"dashboard_wallet_users", "wallet"},
	{"associated_wallets", "user_id, wallet"},
	{"track_routes", "track_id"},
	{"playlist_routes", "playlist_id"},
	{"playlist_tracks", "playlist_id, track_id"},
	{"playlist_seen", "user_id, playlist_id"},
	{"track_price_history", "track_id, access"},
	{"playlist_price_history", "playlist_id"},
}

// createCurrentRowIndexes allows at most one current row per logical entity.
func createCurrentRowIndexes(db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		for _, key := range currentRowKeys {
			statement := fmt.Sprintf(
				"CREATE UNIQUE INDEX IF NOT EXISTS uq_%s_current ON %s (%s) WHERE is_current = true",
				key.table, key.table, key.columns,
			)
			if err := tx.Exec(statement).Error; err != nil {
				return fmt.Errorf("%s: %w", key.table, err)
			}
		}
		return nil
	})
}
