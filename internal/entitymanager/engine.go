package entitymanager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/chorus/backend/internal/signatures"
)

// Reserved id ranges. Creates below these offsets collide with rows
// migrated from the legacy chain.
const (
	UserIDOffset     int64 = 3_000_000
	TrackIDOffset    int64 = 2_000_000
	PlaylistIDOffset int64 = 400_000
)

const (
	defaultSignatureDrift = time.Hour
	defaultAppName        = "Audius"
)

var (
	errMissingRecoverer = errors.New("signature recoverer is required")
	errMissingBatch     = errors.New("batch is required")
	noOpLogger          = zap.NewNop()
)

const (
	opEngineNew = "entitymanager.engine.new"
	opReplay    = "entitymanager.replay"
)

// EngineConfig selects which entity types are replayed and the constants
// the signature checks depend on.
type EngineConfig struct {
	EnabledEntityTypes []EntityType
	SignatureDrift     time.Duration
	AppName            string
}

// DefaultEngineConfig enables every entity type.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		EnabledEntityTypes: AllEntityTypes(),
		SignatureDrift:     defaultSignatureDrift,
		AppName:            defaultAppName,
	}
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.SignatureDrift <= 0 {
		c.SignatureDrift = defaultSignatureDrift
	}
	if c.AppName == "" {
		c.AppName = defaultAppName
	}
	return c
}

// Params is everything one mutator sees while applying one event.
type Params struct {
	Event       Event
	Block       BlockInfo
	Batch       *Batch
	Config      EngineConfig
	Recoverer   signatures.Recoverer
	metadata    metadataFields
	MetadataCID string
}

func (p *Params) reader() *fieldReader {
	return &fieldReader{fields: p.metadata}
}

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

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// Options configures an Engine.
type Options struct {
	Config    EngineConfig
	Recoverer signatures.Recoverer
	Logger    *zap.Logger
}

// Engine validates and applies entity-manager events against a Batch.
type Engine struct {
	registry  *Registry
	config    EngineConfig
	recoverer signatures.Recoverer
	logger    *zap.Logger
}

// NewEngine builds an engine over the registry of enabled entity types.
func NewEngine(options Options) (*Engine, error) {
	if options.Recoverer == nil {
		return nil, newServiceError(opEngineNew, "missing_recoverer", errMissingRecoverer)
	}
	logger := options.Logger
	if logger == nil {
		logger = noOpLogger
	}
	config := options.Config.withDefaults()
	return &Engine{
		registry:  NewRegistry(config.EnabledEntityTypes),
		config:    config,
		recoverer: options.Recoverer,
		logger:    logger,
	}, nil
}

// Registry returns the engine's entity registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Apply runs one event against batch. Any error, including a panic inside
// a mutator, restores the batch to its state before the event.
func (e *Engine) Apply(batch *Batch, event Event) (err error) {
	if batch == nil {
		return errMissingBatch
	}
	point := batch.savepoint()
	defer func() {
		if recovered := recover(); recovered != nil {
			err = &SystemicError{Event: event, Err: fmt.Errorf("panic: %v", recovered)}
		}
		if err != nil {
			batch.rollback(point)
		}
	}()

	params := &Params{
		Event:     event,
		Block:     batch.Block,
		Batch:     batch,
		Config:    e.config,
		Recoverer: e.recoverer,
	}
	h, ok := e.registry.lookup(event.EntityType, event.Action)
	if !ok {
		return invalid(params, "unsupported action %s for %s", event.Action, event.EntityType)
	}
	fields, cid, parseErr := parseMetadata(event.Metadata, h.metadata)
	if parseErr != nil {
		return invalid(params, "malformed metadata: %v", parseErr)
	}
	params.metadata = fields
	params.MetadataCID = cid

	if authErr := authorize(params, h.auth); authErr != nil {
		return authErr
	}
	if h.validate != nil {
		if validateErr := h.validate(params); validateErr != nil {
			return e.classify(event, validateErr)
		}
	}
	if applyErr := h.apply(params); applyErr != nil {
		return e.classify(event, applyErr)
	}
	return nil
}

func (e *Engine) classify(event Event, err error) error {
	var systemic *SystemicError
	if IsValidationError(err) || errors.As(err, &systemic) {
		return err
	}
	return &SystemicError{Event: event, Err: err}
}

// FailurePolicy decides what happens to events that cannot be applied.
type FailurePolicy interface {
	// Skipped reports whether a transaction was already agreed to be skipped.
	Skipped(txHash string) bool
	// HandleSystemic returns nil to skip the event or an error to halt.
	HandleSystemic(ctx context.Context, event Event, err error) error
}

// ReplayResult counts what happened to a block's events.
type ReplayResult struct {
	Applied  int
	Rejected int
	Skipped  int
}

// Replay applies events in order. Validation failures are logged and the
// event is dropped; systemic failures go to policy, which either skips the
// whole transaction or halts the replay. A skipped transaction leaves no
// trace in batch, including events of it that had already applied.
func (e *Engine) Replay(ctx context.Context, batch *Batch, events []Event, policy FailurePolicy) (ReplayResult, error) {
	var result ReplayResult
	var tx txProgress
	skipped := make(map[string]struct{})
	for index, event := range events {
		if index == 0 || event.TxHash != events[index-1].TxHash {
			tx = txProgress{point: batch.savepoint()}
		}
		if _, dropped := skipped[event.TxHash]; dropped || (policy != nil && policy.Skipped(event.TxHash)) {
			result.Skipped++
			continue
		}
		err := e.Apply(batch, event)
		switch {
		case err == nil:
			result.Applied++
			tx.applied++
		case IsValidationError(err):
			result.Rejected++
			tx.rejected++
			e.logger.Info("entity manager event rejected",
				zap.Int64("block_number", batch.Block.Number),
				zap.String("txhash", event.TxHash),
				zap.String("entity_type", string(event.EntityType)),
				zap.String("action", string(event.Action)),
				zap.Error(err))
		default:
			if policy == nil {
				e.logError(opReplay, "systemic_failure", err, zap.String("txhash", event.TxHash))
				return result, err
			}
			if haltErr := policy.HandleSystemic(ctx, event, err); haltErr != nil {
				e.logError(opReplay, "halted", haltErr, zap.String("txhash", event.TxHash))
				return result, haltErr
			}
			batch.rollback(tx.point)
			result.Applied -= tx.applied
			result.Rejected -= tx.rejected
			result.Skipped += tx.applied + tx.rejected + 1
			tx.applied, tx.rejected = 0, 0
			skipped[event.TxHash] = struct{}{}
		}
	}
	return result, nil
}

// txProgress tracks the events of the transaction being replayed.
type txProgress struct {
	point    savepoint
	applied  int
	rejected int
}

func (e *Engine) logError(operation, reason string, err error, fields ...zap.Field) {
	if e == nil || e.logger == nil || err == nil {
		return
	}
	allFields := append([]zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}, fields...)
	e.logger.Error("entity manager operation failed", allFields...)
}
