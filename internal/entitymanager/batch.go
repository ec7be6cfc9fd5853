package entitymanager

import (
	"encoding/json"

	"github.com/MarcoPoloResearchLab/chorus/backend/internal/challenges"
	"github.com/MarcoPoloResearchLab/chorus/backend/internal/models"
)

// Snapshot is the pre-batch state loaded for one block. It is read-only
// while the batch runs.
type Snapshot struct {
	records   map[RecordKey]Record
	preImages map[RecordKey]json.RawMessage
	// routeHistory holds every loaded route row, current or not.
	routeHistory  map[RecordType][]Record
	usersByWallet map[string]int64
	usersByHandle map[string]int64
	appsByUser    map[int64][]string
}

func newSnapshot() *Snapshot {
	return &Snapshot{
		records:       make(map[RecordKey]Record),
		preImages:     make(map[RecordKey]json.RawMessage),
		routeHistory:  make(map[RecordType][]Record),
		usersByWallet: make(map[string]int64),
		usersByHandle: make(map[string]int64),
		appsByUser:    make(map[int64][]string),
	}
}

// Len returns the number of current rows in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.records)
}

func (s *Snapshot) add(record Record) error {
	key := keyOf(record)
	if record.Versioning().IsCurrent {
		if _, seen := s.records[key]; !seen {
			preImage, err := encodePreImage(record)
			if err != nil {
				return err
			}
			s.records[key] = record
			s.preImages[key] = preImage
		}
	}
	switch row := record.(type) {
	case *models.TrackRoute, *models.PlaylistRoute:
		s.routeHistory[key.Type] = appendUniqueRow(s.routeHistory[key.Type], record)
	case *models.User:
		if row.IsCurrent {
			if row.Wallet != "" {
				s.usersByWallet[normalizeAddress(row.Wallet)] = row.UserID
			}
			if row.HandleLC != nil && *row.HandleLC != "" {
				s.usersByHandle[*row.HandleLC] = row.UserID
			}
		}
	case *models.DeveloperApp:
		if row.IsCurrent {
			s.appsByUser[row.UserID] = appendUniqueString(s.appsByUser[row.UserID], key.Address)
		}
	}
	return nil
}

func appendUniqueRow(rows []Record, record Record) []Record {
	for _, existing := range rows {
		if existing.Versioning().RowID == record.Versioning().RowID {
			return rows
		}
	}
	return append(rows, record)
}

func appendUniqueString(values []string, value string) []string {
	for _, existing := range values {
		if existing == value {
			return values
		}
	}
	return append(values, value)
}

// Batch is the working set of one block: the loaded snapshot plus every
// row version produced so far, in arrival order. It is owned by exactly
// one in-flight block.
type Batch struct {
	Block    BlockInfo
	snapshot *Snapshot
	order    []RecordKey
	versions map[RecordKey][]Record
	journal  []journalEntry
	deltas   []aggregateDelta
	queue    *challenges.Queue
}

type journalEntry struct {
	key     RecordKey
	removed Record
	at      int
}

type savepoint struct {
	journal int
	deltas  int
	queue   int
}

// NewBatch starts a working set over snapshot.
func NewBatch(block BlockInfo, snapshot *Snapshot, queue *challenges.Queue) *Batch {
	if snapshot == nil {
		snapshot = newSnapshot()
	}
	if queue == nil {
		queue = &challenges.Queue{}
	}
	return &Batch{
		Block:    block,
		snapshot: snapshot,
		versions: make(map[RecordKey][]Record),
		queue:    queue,
	}
}

// Queue returns the block's challenge dispatch queue.
func (b *Batch) Queue() *challenges.Queue {
	return b.queue
}

// Current returns the latest state of key: the newest in-batch version if
// any, else the pre-batch current row, else nil.
func (b *Batch) Current(key RecordKey) Record {
	if versions := b.versions[key]; len(versions) > 0 {
		return versions[len(versions)-1]
	}
	if record, ok := b.snapshot.records[key]; ok {
		return record
	}
	return nil
}

// Existing returns the pre-batch current row of key.
func (b *Batch) Existing(key RecordKey) Record {
	return b.snapshot.records[key]
}

// Versions returns the in-batch versions of key in arrival order.
func (b *Batch) Versions(key RecordKey) []Record {
	return b.versions[key]
}

// Keys returns every key with in-batch versions, in first-touch order.
func (b *Batch) Keys() []RecordKey {
	return append([]RecordKey(nil), b.order...)
}

// Put appends a new version for its logical entity.
func (b *Batch) Put(record Record) {
	key := keyOf(record)
	if _, touched := b.versions[key]; !touched {
		b.order = append(b.order, key)
	}
	b.versions[key] = append(b.versions[key], record)
	b.journal = append(b.journal, journalEntry{key: key, at: -1})
}

// withdraw removes an earlier in-batch version so it can be re-appended.
func (b *Batch) withdraw(record Record) {
	key := keyOf(record)
	versions := b.versions[key]
	for index, candidate := range versions {
		if candidate == record {
			b.versions[key] = append(append([]Record(nil), versions[:index]...), versions[index+1:]...)
			b.journal = append(b.journal, journalEntry{key: key, removed: record, at: index})
			return
		}
	}
}

func (b *Batch) savepoint() savepoint {
	return savepoint{journal: len(b.journal), deltas: len(b.deltas), queue: b.queue.Len()}
}

func (b *Batch) rollback(point savepoint) {
	for len(b.journal) > point.journal {
		entry := b.journal[len(b.journal)-1]
		b.journal = b.journal[:len(b.journal)-1]
		versions := b.versions[entry.key]
		if entry.removed != nil {
			restored := append([]Record(nil), versions[:entry.at]...)
			restored = append(restored, entry.removed)
			b.versions[entry.key] = append(restored, versions[entry.at:]...)
			continue
		}
		versions = versions[:len(versions)-1]
		if len(versions) > 0 {
			b.versions[entry.key] = versions
			continue
		}
		delete(b.versions, entry.key)
		for index := len(b.order) - 1; index >= 0; index-- {
			if b.order[index] == entry.key {
				b.order = append(b.order[:index], b.order[index+1:]...)
				break
			}
		}
	}
	b.deltas = b.deltas[:point.deltas]
	b.queue.Truncate(point.queue)
}

func currentAs[T Record](b *Batch, key RecordKey) T {
	var zero T
	record := b.Current(key)
	if record == nil {
		return zero
	}
	typed, ok := record.(T)
	if !ok {
		return zero
	}
	return typed
}

// User returns the latest version of a user, or nil.
func (b *Batch) User(userID int64) *models.User {
	return currentAs[*models.User](b, userKey(userID))
}

// Track returns the latest version of a track, or nil.
func (b *Batch) Track(trackID int64) *models.Track {
	return currentAs[*models.Track](b, trackKey(trackID))
}

// Playlist returns the latest version of a playlist, or nil.
func (b *Batch) Playlist(playlistID int64) *models.Playlist {
	return currentAs[*models.Playlist](b, playlistKey(playlistID))
}

// Grant returns the latest version of a grant, or nil.
func (b *Batch) Grant(granteeAddress string, userID int64) *models.Grant {
	return currentAs[*models.Grant](b, grantKey(granteeAddress, userID))
}

// DeveloperApp returns the latest version of a developer app, or nil.
func (b *Batch) DeveloperApp(address string) *models.DeveloperApp {
	return currentAs[*models.DeveloperApp](b, developerAppKey(address))
}

// DashboardWalletUser returns the latest version of a dashboard wallet link, or nil.
func (b *Batch) DashboardWalletUser(wallet string) *models.DashboardWalletUser {
	return currentAs[*models.DashboardWalletUser](b, dashboardWalletKey(wallet))
}

// UserByWallet resolves the user currently owning wallet, or nil.
func (b *Batch) UserByWallet(wallet string) *models.User {
	wallet = normalizeAddress(wallet)
	if wallet == "" {
		return nil
	}
	for index := len(b.order) - 1; index >= 0; index-- {
		key := b.order[index]
		if key.Type != RecordUser {
			continue
		}
		if user := b.User(key.ID); user != nil && normalizeAddress(user.Wallet) == wallet {
			return user
		}
	}
	if userID, ok := b.snapshot.usersByWallet[wallet]; ok {
		if user := b.User(userID); user != nil && normalizeAddress(user.Wallet) == wallet {
			return user
		}
	}
	return nil
}

// UserByHandle resolves the user currently holding a lowercased handle, or nil.
func (b *Batch) UserByHandle(handleLC string) *models.User {
	if handleLC == "" {
		return nil
	}
	for _, key := range b.order {
		if key.Type != RecordUser {
			continue
		}
		if user := b.User(key.ID); user != nil && user.HandleLC != nil && *user.HandleLC == handleLC {
			return user
		}
	}
	if userID, ok := b.snapshot.usersByHandle[handleLC]; ok {
		if user := b.User(userID); user != nil && user.HandleLC != nil && *user.HandleLC == handleLC {
			return user
		}
	}
	return nil
}

// liveAppCount counts the user's developer apps that are not deleted.
func (b *Batch) liveAppCount(userID int64) int {
	addresses := append([]string(nil), b.snapshot.appsByUser[userID]...)
	for _, key := range b.order {
		if key.Type == RecordDeveloperApp {
			addresses = appendUniqueString(addresses, key.Address)
		}
	}
	count := 0
	for _, address := range addresses {
		app := b.DeveloperApp(address)
		if app != nil && app.UserID == userID && !app.IsDelete {
			count++
		}
	}
	return count
}

// routes returns every known route of the given table: loaded history plus
// every version pending in this batch.
func (b *Batch) routes(recordType RecordType) []Record {
	all := append([]Record(nil), b.snapshot.routeHistory[recordType]...)
	for _, key := range b.order {
		if key.Type != recordType {
			continue
		}
		for _, version := range b.versions[key] {
			if version.Versioning().RowID != 0 {
				continue
			}
			all = append(all, version)
		}
	}
	return all
}

func (b *Batch) dispatch(kind challenges.EventKind, userID int64, extra map[string]interface{}) {
	b.queue.Dispatch(kind, b.Block.Number, userID, extra)
}
