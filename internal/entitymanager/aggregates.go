package entitymanager

import (
	"sort"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MarcoPoloResearchLab/chorus/backend/internal/models"
)

// Aggregate counter columns.
const (
	counterTrackCount     = "track_count"
	counterPlaylistCount  = "playlist_count"
	counterAlbumCount     = "album_count"
	counterFollowerCount  = "follower_count"
	counterFollowingCount = "following_count"
	counterSaveCount      = "save_count"
	counterRepostCount    = "repost_count"
)

type aggregateDelta struct {
	UserID   int64  `json:"user_id,omitempty"`
	ItemID   int64  `json:"item_id,omitempty"`
	ItemType string `json:"item_type,omitempty"`
	Counter  string `json:"counter"`
	Amount   int64  `json:"amount"`
}

func (b *Batch) addUserDelta(userID int64, counter string, amount int64) {
	b.deltas = append(b.deltas, aggregateDelta{UserID: userID, Counter: counter, Amount: amount})
}

func (b *Batch) addItemDelta(itemType string, itemID int64, counter string, amount int64) {
	b.deltas = append(b.deltas, aggregateDelta{ItemID: itemID, ItemType: itemType, Counter: counter, Amount: amount})
}

type userCounterKey struct {
	userID  int64
	counter string
}

type itemCounterKey struct {
	itemType string
	itemID   int64
	counter  string
}

// collapseDeltas sums deltas per counter and drops the ones that cancel out.
func collapseDeltas(deltas []aggregateDelta) []aggregateDelta {
	userTotals := make(map[userCounterKey]int64)
	itemTotals := make(map[itemCounterKey]int64)
	for _, delta := range deltas {
		if delta.ItemType != "" {
			itemTotals[itemCounterKey{itemType: delta.ItemType, itemID: delta.ItemID, counter: delta.Counter}] += delta.Amount
			continue
		}
		userTotals[userCounterKey{userID: delta.UserID, counter: delta.Counter}] += delta.Amount
	}
	collapsed := make([]aggregateDelta, 0, len(userTotals)+len(itemTotals))
	for key, amount := range userTotals {
		if amount != 0 {
			collapsed = append(collapsed, aggregateDelta{UserID: key.userID, Counter: key.counter, Amount: amount})
		}
	}
	for key, amount := range itemTotals {
		if amount != 0 {
			collapsed = append(collapsed, aggregateDelta{ItemID: key.itemID, ItemType: key.itemType, Counter: key.counter, Amount: amount})
		}
	}
	sort.Slice(collapsed, func(i, j int) bool {
		left, right := collapsed[i], collapsed[j]
		if left.ItemType != right.ItemType {
			return left.ItemType < right.ItemType
		}
		if left.UserID != right.UserID {
			return left.UserID < right.UserID
		}
		if left.ItemID != right.ItemID {
			return left.ItemID < right.ItemID
		}
		return left.Counter < right.Counter
	})
	return collapsed
}

// applyDeltas adds each delta (scaled by sign) to its counter row, creating
// the row when missing.
func applyDeltas(tx *gorm.DB, deltas []aggregateDelta, sign int64) error {
	for _, delta := range deltas {
		amount := delta.Amount * sign
		if delta.ItemType != "" {
			row := models.AggregateItem{ItemID: delta.ItemID, ItemType: delta.ItemType}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
				return err
			}
			if err := tx.Model(&models.AggregateItem{}).
				Where("item_id = ? AND item_type = ?", delta.ItemID, delta.ItemType).
				UpdateColumn(delta.Counter, gorm.Expr(delta.Counter+" + ?", amount)).Error; err != nil {
				return err
			}
			continue
		}
		row := models.AggregateUser{UserID: delta.UserID}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.AggregateUser{}).
			Where("user_id = ?", delta.UserID).
			UpdateColumn(delta.Counter, gorm.Expr(delta.Counter+" + ?", amount)).Error; err != nil {
			return err
		}
	}
	return nil
}
