package models

import "time"

// Provenance records the chain position that produced a row version.
type Provenance struct {
	BlockNumber int64     `gorm:"column:blocknumber;not null;index"`
	Blockhash   string    `gorm:"column:blockhash;size:80;not null;default:''"`
	Txhash      string    `gorm:"column:txhash;size:80;not null;default:''"`
	CreatedAt   time.Time `gorm:"column:created_at;not null;autoCreateTime:false"`
	UpdatedAt   time.Time `gorm:"column:updated_at;not null;autoUpdateTime:false"`
}

// Row carries the versioning columns shared by every replayed table.
// RowID is a surrogate key so a logical entity may keep any number of
// historical versions.
type Row struct {
	RowID     int64 `gorm:"column:row_id;primaryKey;autoIncrement"`
	IsCurrent bool  `gorm:"column:is_current;not null;default:false;index"`
	Provenance
}

// Versioning exposes the shared versioning columns of a row.
func (r *Row) Versioning() *Row {
	return r
}

// JSONText holds a JSON document stored in a text column. The empty string means NULL.
type JSONText string

// IsNull reports whether no document is stored.
func (j JSONText) IsNull() bool {
	return j == "" || j == "null"
}

// Bytes returns the raw document.
func (j JSONText) Bytes() []byte {
	return []byte(j)
}

// CloneBool returns a fresh pointer holding the same value.
func CloneBool(value *bool) *bool {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

// CloneInt64 returns a fresh pointer holding the same value.
func CloneInt64(value *int64) *int64 {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

// CloneString returns a fresh pointer holding the same value.
func CloneString(value *string) *string {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

// CloneTime returns a fresh pointer holding the same value.
func CloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}
