package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gammazero/workerpool"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MarcoPoloResearchLab/chorus/backend/internal/challenges"
	"github.com/MarcoPoloResearchLab/chorus/backend/internal/entitymanager"
	"github.com/MarcoPoloResearchLab/chorus/backend/internal/models"
)

// CheckpointName keys the entity manager's row in indexing_checkpoints.
const CheckpointName = "entity_manager"

const defaultDecodeWorkers = 4

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingEngine     = errors.New("engine is required")
	errMissingBus        = errors.New("challenge bus is required")
	errMissingEscalation = errors.New("escalation is required")
	noOpLogger           = zap.NewNop()

	// ErrStaleBlock indicates a block at or below the checkpoint.
	ErrStaleBlock = errors.New("indexer: block already processed")
	// ErrBlockGap indicates a block that does not follow the checkpoint.
	ErrBlockGap = errors.New("indexer: block does not follow the checkpoint")
)

// ServiceError carries a dotted code and the underlying cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the dotted error code.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opProcessorNew = "indexer.processor.new"
	opProcessBlock = "indexer.process_block"
	opRevertBlock  = "indexer.revert_block"
	opCheckpoint   = "indexer.checkpoint"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// Block is one block of entity manager transactions.
type Block struct {
	Number       int64                          `json:"block_number"`
	Hash         string                         `json:"block_hash"`
	Timestamp    int64                          `json:"block_timestamp"`
	Transactions []entitymanager.RawTransaction `json:"transactions"`
}

// BlockSummary describes a committed block.
type BlockSummary struct {
	BlockNumber      int64                                `json:"block_number"`
	BlockHash        string                               `json:"block_hash"`
	TotalChanges     int                                  `json:"total_changes"`
	ChangedEntityIDs map[entitymanager.EntityType][]int64 `json:"changed_entity_ids"`
	Applied          int                                  `json:"applied"`
	Rejected         int                                  `json:"rejected"`
	Skipped          int                                  `json:"skipped"`
}

// CommitPublisher is notified after each committed block.
type CommitPublisher interface {
	Publish(summary BlockSummary)
}

// ProcessorConfig wires a Processor.
type ProcessorConfig struct {
	Database      *gorm.DB
	Engine        *entitymanager.Engine
	Bus           *challenges.Bus
	Escalation    *Escalation
	Publisher     CommitPublisher
	DecodeWorkers int
	Logger        *zap.Logger
}

// Processor replays blocks in chain order. One block is in flight at a
// time across every caller.
type Processor struct {
	mu            sync.Mutex
	db            *gorm.DB
	engine        *entitymanager.Engine
	bus           *challenges.Bus
	escalation    *Escalation
	publisher     CommitPublisher
	decodeWorkers int
	logger        *zap.Logger
}

// NewProcessor validates the configuration and builds a Processor.
func NewProcessor(cfg ProcessorConfig) (*Processor, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opProcessorNew, "missing_database", errMissingDatabase)
	}
	if cfg.Engine == nil {
		return nil, newServiceError(opProcessorNew, "missing_engine", errMissingEngine)
	}
	if cfg.Bus == nil {
		return nil, newServiceError(opProcessorNew, "missing_bus", errMissingBus)
	}
	if cfg.Escalation == nil {
		return nil, newServiceError(opProcessorNew, "missing_escalation", errMissingEscalation)
	}
	workers := cfg.DecodeWorkers
	if workers <= 0 {
		workers = defaultDecodeWorkers
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Processor{
		db:            cfg.Database,
		engine:        cfg.Engine,
		bus:           cfg.Bus,
		escalation:    cfg.Escalation,
		publisher:     cfg.Publisher,
		decodeWorkers: workers,
		logger:        logger,
	}, nil
}

// ProcessBlock decodes, replays and commits one block. Validation failures
// drop single events; systemic failures are escalated and either skipped
// or returned; commit failures leave storage untouched.
func (p *Processor) ProcessBlock(ctx context.Context, block Block) (BlockSummary, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	info := entitymanager.BlockInfo{Number: block.Number, Hash: block.Hash, Timestamp: block.Timestamp}
	blockFields := []zap.Field{zap.Int64("block_number", block.Number), zap.String("blockhash", block.Hash)}

	checkpoint, found, err := p.loadCheckpoint(ctx)
	if err != nil {
		p.logError(opProcessBlock, "checkpoint_select_failed", err, blockFields...)
		return BlockSummary{}, newServiceError(opProcessBlock, "checkpoint_select_failed", err)
	}
	if found && block.Number <= checkpoint.LastCheckpoint {
		return BlockSummary{}, newServiceError(opProcessBlock, "stale_block", ErrStaleBlock)
	}
	if found && block.Number != checkpoint.LastCheckpoint+1 {
		return BlockSummary{}, newServiceError(opProcessBlock, "block_gap", ErrBlockGap)
	}

	txHashes := make([]string, 0, len(block.Transactions))
	for _, tx := range block.Transactions {
		txHashes = append(txHashes, tx.Hash)
	}
	policy, err := p.escalation.Policy(ctx, info, txHashes)
	if err != nil {
		p.logError(opProcessBlock, "skip_list_select_failed", err, blockFields...)
		return BlockSummary{}, newServiceError(opProcessBlock, "skip_list_select_failed", err)
	}

	perTransaction, decodeFailures := p.decode(block.Transactions)
	for index, decodeErr := range decodeFailures {
		if decodeErr == nil {
			continue
		}
		txHash := block.Transactions[index].Hash
		if policy.Skipped(txHash) {
			continue
		}
		placeholder := entitymanager.Event{TxHash: txHash}
		if haltErr := policy.HandleSystemic(ctx, placeholder, decodeErr); haltErr != nil {
			p.logError(opProcessBlock, "decode_failed", haltErr, append(blockFields, zap.String("txhash", txHash))...)
			return BlockSummary{}, newServiceError(opProcessBlock, "decode_failed", haltErr)
		}
	}
	events := entitymanager.Flatten(perTransaction)

	plan := entitymanager.CollectDependencies(events)
	snapshot, err := entitymanager.LoadSnapshot(ctx, p.db, plan)
	if err != nil {
		p.logError(opProcessBlock, "snapshot_load_failed", err, blockFields...)
		return BlockSummary{}, newServiceError(opProcessBlock, "snapshot_load_failed", err)
	}

	queue := p.bus.UseScopedDispatchQueue()
	batch := entitymanager.NewBatch(info, snapshot, queue)
	replay, err := p.engine.Replay(ctx, batch, events, policy)
	if err != nil {
		p.logError(opProcessBlock, "replay_halted", err, blockFields...)
		return BlockSummary{}, newServiceError(opProcessBlock, "replay_halted", err)
	}

	var result entitymanager.CommitResult
	txErr := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		committed, commitErr := entitymanager.Commit(ctx, tx, batch)
		if commitErr != nil {
			return commitErr
		}
		if err := saveCheckpoint(tx, block.Number, block.Hash); err != nil {
			return &entitymanager.CommitError{BlockNumber: block.Number, Err: err}
		}
		result = committed
		return nil
	})
	if txErr != nil {
		p.logError(opProcessBlock, "commit_failed", txErr, blockFields...)
		return BlockSummary{}, newServiceError(opProcessBlock, "commit_failed", txErr)
	}

	if err := p.bus.Flush(ctx, queue); err != nil {
		p.logError(opProcessBlock, "challenge_flush_failed", err, blockFields...)
	}

	summary := BlockSummary{
		BlockNumber:      block.Number,
		BlockHash:        block.Hash,
		TotalChanges:     result.TotalChanges,
		ChangedEntityIDs: result.ChangedEntityIDs,
		Applied:          replay.Applied,
		Rejected:         replay.Rejected,
		Skipped:          replay.Skipped,
	}
	if p.publisher != nil {
		p.publisher.Publish(summary)
	}
	p.logger.Info("block committed",
		zap.Int64("block_number", block.Number),
		zap.Int("total_changes", summary.TotalChanges),
		zap.Int("applied", summary.Applied),
		zap.Int("rejected", summary.Rejected),
		zap.Int("skipped", summary.Skipped))
	return summary, nil
}

// decode extracts every transaction's events on a bounded worker pool.
// Results keep transaction order.
func (p *Processor) decode(transactions []entitymanager.RawTransaction) ([][]entitymanager.Event, []error) {
	results := make([][]entitymanager.Event, len(transactions))
	failures := make([]error, len(transactions))
	pool := workerpool.New(p.decodeWorkers)
	for index := range transactions {
		position := index
		pool.Submit(func() {
			results[position], failures[position] = entitymanager.DecodeTransaction(transactions[position])
		})
	}
	pool.StopWait()

	var combined *multierror.Error
	for _, failure := range failures {
		if failure != nil {
			combined = multierror.Append(combined, failure)
		}
	}
	if err := combined.ErrorOrNil(); err != nil {
		p.logger.Warn("transactions failed to decode", zap.Error(err))
	}
	return results, failures
}

// RevertBlock rolls back the latest committed block and moves the
// checkpoint to its parent.
func (p *Processor) RevertBlock(ctx context.Context, blockNumber int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := entitymanager.RevertBlock(ctx, tx, blockNumber); err != nil {
			return err
		}
		var parent models.RevertBlock
		parentHash := ""
		parentErr := tx.Where("blocknumber = ?", blockNumber-1).Take(&parent).Error
		switch {
		case parentErr == nil:
			parentHash = parent.Blockhash
		case !errors.Is(parentErr, gorm.ErrRecordNotFound):
			return parentErr
		}
		return saveCheckpoint(tx, blockNumber-1, parentHash)
	})
	if err != nil {
		p.logError(opRevertBlock, "revert_failed", err, zap.Int64("block_number", blockNumber))
		return newServiceError(opRevertBlock, "revert_failed", err)
	}
	p.logger.Info("block reverted", zap.Int64("block_number", blockNumber))
	return nil
}

// Checkpoint returns the last committed block, if any.
func (p *Processor) Checkpoint(ctx context.Context) (models.IndexingCheckpoint, bool, error) {
	checkpoint, found, err := p.loadCheckpoint(ctx)
	if err != nil {
		p.logError(opCheckpoint, "checkpoint_select_failed", err)
		return models.IndexingCheckpoint{}, false, newServiceError(opCheckpoint, "checkpoint_select_failed", err)
	}
	return checkpoint, found, nil
}

func (p *Processor) loadCheckpoint(ctx context.Context) (models.IndexingCheckpoint, bool, error) {
	var checkpoint models.IndexingCheckpoint
	err := p.db.WithContext(ctx).Where("tablename = ?", CheckpointName).Take(&checkpoint).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.IndexingCheckpoint{}, false, nil
	}
	if err != nil {
		return models.IndexingCheckpoint{}, false, err
	}
	return checkpoint, true, nil
}

func saveCheckpoint(tx *gorm.DB, blockNumber int64, blockHash string) error {
	checkpoint := models.IndexingCheckpoint{Name: CheckpointName, LastCheckpoint: blockNumber, Blockhash: blockHash}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tablename"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_checkpoint", "blockhash"}),
	}).Create(&checkpoint).Error
}

func (p *Processor) logError(operation, reason string, err error, fields ...zap.Field) {
	if p == nil || p.logger == nil || err == nil {
		return
	}
	allFields := append([]zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}, fields...)
	p.logger.Error("indexer operation failed", allFields...)
}
