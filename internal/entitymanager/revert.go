package entitymanager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MarcoPoloResearchLab/chorus/backend/internal/models"
)

const opRevert = "entitymanager.revert"

// ErrNotLatestBlock indicates a revert was requested for a block that has
// later blocks committed on top of it.
var ErrNotLatestBlock = errors.New("entitymanager: only the latest block can be reverted")

// RevertBlock undoes one committed block inside tx: rows written at the
// block are removed, superseded pre-images are restored and aggregate
// deltas are subtracted. Only the most recent block may be reverted.
func RevertBlock(ctx context.Context, tx *gorm.DB, blockNumber int64) (models.RevertBlock, error) {
	tx = tx.WithContext(ctx)
	var record models.RevertBlock
	err := tx.Where("blocknumber = ?", blockNumber).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.RevertBlock{}, ErrNoRevertLog
	}
	if err != nil {
		return models.RevertBlock{}, newServiceError(opRevert, "revert_log_select_failed", err)
	}
	var later int64
	if err := tx.Model(&models.RevertBlock{}).Where("blocknumber > ?", blockNumber).Count(&later).Error; err != nil {
		return models.RevertBlock{}, newServiceError(opRevert, "revert_log_select_failed", err)
	}
	if later > 0 {
		return models.RevertBlock{}, ErrNotLatestBlock
	}

	var payload revertPayload
	if err := json.Unmarshal(record.PrevRecords.Bytes(), &payload); err != nil {
		return models.RevertBlock{}, newServiceError(opRevert, "revert_log_decode_failed", err)
	}

	restored := make(map[RecordType][]Record, len(payload.Records))
	var decodeErrs *multierror.Error
	for recordType, preImages := range payload.Records {
		for _, preImage := range preImages {
			row, err := decodePreImage(recordType, preImage)
			if err != nil {
				decodeErrs = multierror.Append(decodeErrs, fmt.Errorf("%s: %w", recordType, err))
				continue
			}
			restored[recordType] = append(restored[recordType], row)
		}
	}
	if err := decodeErrs.ErrorOrNil(); err != nil {
		return models.RevertBlock{}, newServiceError(opRevert, "pre_image_decode_failed", err)
	}

	for index := len(recordTypeOrder) - 1; index >= 0; index-- {
		spec := recordSpecs[recordTypeOrder[index]]
		if err := tx.Where("blocknumber = ?", blockNumber).Delete(spec.newModel()).Error; err != nil {
			return models.RevertBlock{}, newServiceError(opRevert, "row_delete_failed", err)
		}
	}
	// Historical rows go back first so a restored current row never meets
	// another current row of the same entity.
	for _, current := range []bool{false, true} {
		for _, recordType := range recordTypeOrder {
			for _, row := range restored[recordType] {
				if row.Versioning().IsCurrent != current {
					continue
				}
				if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error; err != nil {
					return models.RevertBlock{}, newServiceError(opRevert, "row_restore_failed", err)
				}
			}
		}
	}
	if err := applyDeltas(tx, payload.Aggregates, -1); err != nil {
		return models.RevertBlock{}, newServiceError(opRevert, "aggregate_restore_failed", err)
	}
	if err := tx.Where("blocknumber = ?", blockNumber).Delete(&models.RevertBlock{}).Error; err != nil {
		return models.RevertBlock{}, newServiceError(opRevert, "revert_log_delete_failed", err)
	}
	return record, nil
}
