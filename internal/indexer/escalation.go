package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MarcoPoloResearchLab/chorus/backend/internal/entitymanager"
	"github.com/MarcoPoloResearchLab/chorus/backend/internal/models"
)

const (
	opEscalationNew = "indexer.escalation.new"
	opEscalate      = "indexer.escalate"
	opLookupError   = "indexer.lookup_error"
)

// Error types stored with indexing errors.
const (
	ErrorTypeSystemic = "systemic"
	ErrorTypeDecode   = "decode"
)

var (
	// ErrNoConsensus indicates too few peers reported the same failure.
	ErrNoConsensus = errors.New("indexer: peers did not confirm the failure")
	// ErrSkipCeiling indicates the node already skipped its maximum number
	// of transactions.
	ErrSkipCeiling = errors.New("indexer: skipped transaction ceiling reached")
)

// ErrorReport is the public view of a recorded indexing error.
type ErrorReport struct {
	Txhash      string    `json:"txhash"`
	BlockNumber int64     `json:"blocknumber"`
	Blockhash   string    `json:"blockhash"`
	Message     string    `json:"message"`
	ErrorType   string    `json:"error_type"`
	CreatedAt   time.Time `json:"created_at"`
}

// PeerClient asks one peer whether it recorded an indexing error for a
// transaction.
type PeerClient interface {
	Reported(ctx context.Context, peer string, txHash string) (bool, error)
}

// EscalationConfig wires an Escalation.
type EscalationConfig struct {
	Database *gorm.DB
	Peers    []string
	Client   PeerClient
	// Quorum is the number of confirming peers needed to skip. Zero means
	// a majority of Peers.
	Quorum     int
	MaxSkipped int
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Escalation records systemic failures and decides, with its peers,
// whether a failing transaction may be skipped.
type Escalation struct {
	db         *gorm.DB
	peers      []string
	client     PeerClient
	quorum     int
	maxSkipped int
	clock      func() time.Time
	logger     *zap.Logger
}

// NewEscalation validates the configuration and builds an Escalation.
func NewEscalation(cfg EscalationConfig) (*Escalation, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opEscalationNew, "missing_database", errMissingDatabase)
	}
	if len(cfg.Peers) > 0 && cfg.Client == nil {
		return nil, newServiceError(opEscalationNew, "missing_peer_client", errors.New("peer client is required when peers are configured"))
	}
	quorum := cfg.Quorum
	if quorum <= 0 {
		quorum = len(cfg.Peers)/2 + 1
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Escalation{
		db:         cfg.Database,
		peers:      append([]string(nil), cfg.Peers...),
		client:     cfg.Client,
		quorum:     quorum,
		maxSkipped: cfg.MaxSkipped,
		clock:      clock,
		logger:     logger,
	}, nil
}

// Policy returns the failure policy for one block, preloaded with the
// network-level skips among txHashes.
func (e *Escalation) Policy(ctx context.Context, block entitymanager.BlockInfo, txHashes []string) (entitymanager.FailurePolicy, error) {
	policy := &blockPolicy{escalation: e, block: block, skipped: make(map[string]struct{})}
	if len(txHashes) == 0 {
		return policy, nil
	}
	var rows []models.SkippedTransaction
	err := e.db.WithContext(ctx).
		Where("txhash IN ? AND level = ?", txHashes, models.SkipLevelNetwork).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		policy.skipped[row.Txhash] = struct{}{}
	}
	return policy, nil
}

// Lookup returns the indexing error recorded for txHash, if any.
func (e *Escalation) Lookup(ctx context.Context, txHash string) (ErrorReport, bool, error) {
	var row models.IndexingError
	err := e.db.WithContext(ctx).Where("txhash = ?", txHash).Order("created_at DESC").Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrorReport{}, false, nil
	}
	if err != nil {
		e.logError(opLookupError, "indexing_error_select_failed", err, zap.String("txhash", txHash))
		return ErrorReport{}, false, newServiceError(opLookupError, "indexing_error_select_failed", err)
	}
	return ErrorReport{
		Txhash:      row.Txhash,
		BlockNumber: row.BlockNumber,
		Blockhash:   row.Blockhash,
		Message:     row.Message,
		ErrorType:   row.ErrorType,
		CreatedAt:   row.CreatedAt,
	}, true, nil
}

type blockPolicy struct {
	escalation *Escalation
	block      entitymanager.BlockInfo
	skipped    map[string]struct{}
}

func (p *blockPolicy) Skipped(txHash string) bool {
	_, skipped := p.skipped[txHash]
	return skipped
}

// HandleSystemic records the failure, marks the transaction as a node-level
// skip candidate and promotes it to a network-level skip once a quorum of
// peers reports the same failure. Otherwise replay halts.
func (p *blockPolicy) HandleSystemic(ctx context.Context, event entitymanager.Event, cause error) error {
	e := p.escalation
	fields := []zap.Field{zap.Int64("block_number", p.block.Number), zap.String("txhash", event.TxHash)}
	now := e.clock().UTC()

	errorType := ErrorTypeSystemic
	var systemic *entitymanager.SystemicError
	if !errors.As(cause, &systemic) {
		errorType = ErrorTypeDecode
	}
	if err := e.recordError(ctx, p.block, event.TxHash, cause, errorType, now); err != nil {
		e.logError(opEscalate, "indexing_error_insert_failed", err, fields...)
		return newServiceError(opEscalate, "indexing_error_insert_failed", err)
	}

	var skippedCount int64
	if err := e.db.WithContext(ctx).Model(&models.SkippedTransaction{}).Count(&skippedCount).Error; err != nil {
		return newServiceError(opEscalate, "skip_count_failed", err)
	}
	if e.maxSkipped > 0 && skippedCount >= int64(e.maxSkipped) {
		e.logError(opEscalate, "skip_ceiling_reached", cause, fields...)
		return fmt.Errorf("%w (%d): %v", ErrSkipCeiling, e.maxSkipped, cause)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return newServiceError(opEscalate, "id_generation_failed", err)
	}
	candidate := models.SkippedTransaction{
		ID:          id.String(),
		BlockNumber: p.block.Number,
		Blockhash:   p.block.Hash,
		Txhash:      event.TxHash,
		Level:       models.SkipLevelNode,
		CreatedAt:   now,
	}
	if err := e.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "txhash"}},
		DoNothing: true,
	}).Create(&candidate).Error; err != nil {
		return newServiceError(opEscalate, "skip_insert_failed", err)
	}

	confirmations := e.confirmations(ctx, event.TxHash)
	if len(e.peers) == 0 || confirmations < e.quorum {
		e.logError(opEscalate, "consensus_not_reached", cause,
			append(fields, zap.Int("confirmations", confirmations), zap.Int("quorum", e.quorum))...)
		return fmt.Errorf("%w: %d of %d peers confirmed %s: %v", ErrNoConsensus, confirmations, len(e.peers), event.TxHash, cause)
	}

	if err := e.db.WithContext(ctx).Model(&models.SkippedTransaction{}).
		Where("txhash = ?", event.TxHash).
		Update("level", models.SkipLevelNetwork).Error; err != nil {
		return newServiceError(opEscalate, "skip_promote_failed", err)
	}
	p.skipped[event.TxHash] = struct{}{}
	e.logger.Warn("transaction skipped by network consensus",
		append(fields, zap.Int("confirmations", confirmations), zap.Error(cause))...)
	return nil
}

func (e *Escalation) recordError(ctx context.Context, block entitymanager.BlockInfo, txHash string, cause error, errorType string, now time.Time) error {
	id, err := uuid.NewV7()
	if err != nil {
		return err
	}
	row := models.IndexingError{
		ID:          id.String(),
		BlockNumber: block.Number,
		Blockhash:   block.Hash,
		Txhash:      txHash,
		Message:     cause.Error(),
		ErrorType:   errorType,
		CreatedAt:   now,
	}
	return e.db.WithContext(ctx).Create(&row).Error
}

// confirmations asks every peer concurrently and counts those that
// recorded the same failure. Unreachable peers count as not confirming.
func (e *Escalation) confirmations(ctx context.Context, txHash string) int {
	if len(e.peers) == 0 {
		return 0
	}
	reported := make([]bool, len(e.peers))
	failures := make([]error, len(e.peers))
	pool := workerpool.New(len(e.peers))
	for index := range e.peers {
		position := index
		pool.Submit(func() {
			reported[position], failures[position] = e.client.Reported(ctx, e.peers[position], txHash)
		})
	}
	pool.StopWait()

	count := 0
	var combined *multierror.Error
	for index, ok := range reported {
		if failures[index] != nil {
			combined = multierror.Append(combined, fmt.Errorf("%s: %w", e.peers[index], failures[index]))
			continue
		}
		if ok {
			count++
		}
	}
	if err := combined.ErrorOrNil(); err != nil {
		e.logger.Warn("peer lookups failed", zap.String("txhash", txHash), zap.Error(err))
	}
	return count
}

func (e *Escalation) logError(operation, reason string, err error, fields ...zap.Field) {
	if e == nil || e.logger == nil || err == nil {
		return
	}
	allFields := append([]zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}, fields...)
	e.logger.Error("indexer operation failed", allFields...)
}
