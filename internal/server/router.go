package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/chorus/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/chorus/backend/internal/indexer"
	"github.com/MarcoPoloResearchLab/chorus/backend/internal/models"
)

const subjectContextKey = "chorus_subject"

var (
	errMissingTokenValidator = errors.New("token validator dependency required")
	errMissingProcessor      = errors.New("block processor dependency required")
	errMissingErrorLookup    = errors.New("error lookup dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// BlockProcessor replays submitted blocks.
type BlockProcessor interface {
	ProcessBlock(ctx context.Context, block indexer.Block) (indexer.BlockSummary, error)
	Checkpoint(ctx context.Context) (models.IndexingCheckpoint, bool, error)
}

// ErrorLookup serves recorded indexing errors to peers.
type ErrorLookup interface {
	Lookup(ctx context.Context, txHash string) (indexer.ErrorReport, bool, error)
}

type Dependencies struct {
	TokenValidator auth.TokenValidator
	Processor      BlockProcessor
	Errors         ErrorLookup
	Realtime       *RealtimeDispatcher
	Logger         *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenValidator == nil {
		return nil, errMissingTokenValidator
	}
	if deps.Processor == nil {
		return nil, errMissingProcessor
	}
	if deps.Errors == nil {
		return nil, errMissingErrorLookup
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		tokens:    deps.TokenValidator,
		processor: deps.Processor,
		errors:    deps.Errors,
		realtime:  realtime,
		logger:    logger,
	}

	router.GET("/v1/checkpoint", handler.handleCheckpoint)
	router.GET(indexer.IndexingErrorPath+":txhash", handler.handleIndexingError)

	protected := router.Group("/v1")
	protected.Use(handler.authorizeRequest)
	protected.POST("/blocks", handler.handleSubmitBlock)
	protected.GET("/blocks/stream", handler.handleBlockStream)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Last-Event-ID"},
		ExposeHeaders:    []string{"Content-Type"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	})
}

type httpHandler struct {
	tokens    auth.TokenValidator
	processor BlockProcessor
	errors    ErrorLookup
	realtime  *RealtimeDispatcher
	logger    *zap.Logger
}

type checkpointResponsePayload struct {
	BlockNumber int64  `json:"block_number"`
	BlockHash   string `json:"block_hash"`
}

func (h *httpHandler) handleCheckpoint(c *gin.Context) {
	checkpoint, found, err := h.processor.Checkpoint(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to read checkpoint", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "checkpoint_failed"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no_checkpoint"})
		return
	}
	c.JSON(http.StatusOK, checkpointResponsePayload{
		BlockNumber: checkpoint.LastCheckpoint,
		BlockHash:   checkpoint.Blockhash,
	})
}

func (h *httpHandler) handleIndexingError(c *gin.Context) {
	txHash := strings.TrimSpace(c.Param("txhash"))
	if txHash == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	report, found, err := h.errors.Lookup(c.Request.Context(), txHash)
	if err != nil {
		h.logger.Error("failed to look up indexing error", zap.String("txhash", txHash), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	c.JSON(http.StatusOK, report)
}

type submitBlockResponsePayload struct {
	BlockNumber      int64              `json:"block_number"`
	TotalChanges     int                `json:"total_changes"`
	ChangedEntityIDs map[string][]int64 `json:"changed_entity_ids"`
	Applied          int                `json:"applied"`
	Rejected         int                `json:"rejected"`
	Skipped          int                `json:"skipped"`
}

func (h *httpHandler) handleSubmitBlock(c *gin.Context) {
	var block indexer.Block
	if err := c.ShouldBindJSON(&block); err != nil || block.Number <= 0 || strings.TrimSpace(block.Hash) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	summary, err := h.processor.ProcessBlock(c.Request.Context(), block)
	switch {
	case err == nil:
	case errors.Is(err, indexer.ErrStaleBlock):
		c.JSON(http.StatusConflict, gin.H{"error": "stale_block"})
		return
	case errors.Is(err, indexer.ErrBlockGap):
		c.JSON(http.StatusConflict, gin.H{"error": "block_gap"})
		return
	default:
		h.logger.Error("failed to process block",
			zap.Int64("block_number", block.Number),
			zap.String("subject", c.GetString(subjectContextKey)),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "process_failed"})
		return
	}

	changed := make(map[string][]int64, len(summary.ChangedEntityIDs))
	for entityType, ids := range summary.ChangedEntityIDs {
		changed[string(entityType)] = ids
	}
	c.JSON(http.StatusOK, submitBlockResponsePayload{
		BlockNumber:      summary.BlockNumber,
		TotalChanges:     summary.TotalChanges,
		ChangedEntityIDs: changed,
		Applied:          summary.Applied,
		Rejected:         summary.Rejected,
		Skipped:          summary.Skipped,
	})
}

// authorizeRequest accepts a bearer header or, for event streams, an
// access_token query parameter.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token, err := auth.BearerToken(c.Request)
	if err != nil {
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	claims, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(subjectContextKey, claims.Subject)
	c.Next()
}
