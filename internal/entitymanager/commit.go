package entitymanager

import (
	"context"
	"encoding/json"
	"sort"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MarcoPoloResearchLab/chorus/backend/internal/models"
)

const opCommit = "entitymanager.commit"

// CommitResult summarizes the rows a block wrote.
type CommitResult struct {
	TotalChanges     int                    `json:"total_changes"`
	ChangedEntityIDs map[EntityType][]int64 `json:"changed_entity_ids"`
}

// revertPayload is the JSON stored in a block's revert-log row.
type revertPayload struct {
	Records    map[RecordType][]json.RawMessage `json:"records"`
	Aggregates []aggregateDelta                 `json:"aggregates,omitempty"`
}

var changedEntityTypes = map[RecordType]EntityType{
	RecordUser:     EntityTypeUser,
	RecordTrack:    EntityTypeTrack,
	RecordPlaylist: EntityTypePlaylist,
}

// Commit writes every version accumulated in batch inside tx, supersedes
// the rows they replace and records the block's revert log. The caller
// owns the transaction.
func Commit(ctx context.Context, tx *gorm.DB, batch *Batch) (CommitResult, error) {
	tx = tx.WithContext(ctx)
	result := CommitResult{ChangedEntityIDs: make(map[EntityType][]int64)}
	payload := revertPayload{Records: make(map[RecordType][]json.RawMessage)}
	changed := make(map[EntityType]map[int64]struct{})

	byType := make(map[RecordType][]RecordKey)
	for _, key := range batch.Keys() {
		byType[key.Type] = append(byType[key.Type], key)
	}

	for _, recordType := range recordTypeOrder {
		spec := recordSpecs[recordType]
		for _, key := range byType[recordType] {
			versions := batch.Versions(key)
			if len(versions) == 0 {
				continue
			}
			if existing := batch.Existing(key); existing != nil {
				if err := supersede(tx, spec, existing); err != nil {
					return CommitResult{}, commitFailure(batch, err)
				}
				payload.Records[recordType] = append(payload.Records[recordType], batch.snapshot.preImages[key])
			}
			for index, version := range versions {
				last := index == len(versions)-1
				row := version.Versioning()
				if row.RowID != 0 {
					preImage, err := historicalPreImage(version)
					if err != nil {
						return CommitResult{}, commitFailure(batch, err)
					}
					payload.Records[recordType] = append(payload.Records[recordType], preImage)
					if err := tx.Table(spec.table).Where("row_id = ?", row.RowID).
						UpdateColumn("is_current", last).Error; err != nil {
						return CommitResult{}, commitFailure(batch, err)
					}
					row.IsCurrent = last
					result.TotalChanges++
					continue
				}
				row.IsCurrent = last
				if err := tx.Table(spec.table).Create(version).Error; err != nil {
					return CommitResult{}, commitFailure(batch, err)
				}
				result.TotalChanges++
			}
			if entityType, tracked := changedEntityTypes[recordType]; tracked {
				if changed[entityType] == nil {
					changed[entityType] = make(map[int64]struct{})
				}
				changed[entityType][key.ID] = struct{}{}
			}
		}
	}

	deltas := collapseDeltas(batch.deltas)
	if err := applyDeltas(tx, deltas, 1); err != nil {
		return CommitResult{}, commitFailure(batch, err)
	}
	payload.Aggregates = deltas

	encoded, err := json.Marshal(payload)
	if err != nil {
		return CommitResult{}, commitFailure(batch, err)
	}
	revert := models.RevertBlock{
		BlockNumber: batch.Block.Number,
		Blockhash:   batch.Block.Hash,
		PrevRecords: models.JSONText(encoded),
	}
	if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&revert).Error; err != nil {
		return CommitResult{}, commitFailure(batch, err)
	}

	for entityType, ids := range changed {
		list := make([]int64, 0, len(ids))
		for id := range ids {
			list = append(list, id)
		}
		sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
		result.ChangedEntityIDs[entityType] = list
	}
	return result, nil
}

// supersede retires the pre-batch current row: retained tables keep it as
// history, every other table drops it.
func supersede(tx *gorm.DB, spec recordSpec, existing Record) error {
	rowID := existing.Versioning().RowID
	if spec.retain {
		return tx.Table(spec.table).Where("row_id = ?", rowID).UpdateColumn("is_current", false).Error
	}
	return tx.Table(spec.table).Where("row_id = ?", rowID).Delete(spec.newModel()).Error
}

// historicalPreImage encodes a reactivated history row as it was stored.
func historicalPreImage(record Record) (json.RawMessage, error) {
	stored := cloneRecord(record)
	stored.Versioning().IsCurrent = false
	return encodePreImage(stored)
}

func commitFailure(batch *Batch, err error) error {
	return &CommitError{BlockNumber: batch.Block.Number, Err: newServiceError(opCommit, "write_failed", err)}
}
