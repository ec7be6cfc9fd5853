package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/MarcoPoloResearchLab/chorus/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/chorus/backend/internal/indexer"
	"github.com/MarcoPoloResearchLab/chorus/backend/internal/models"
)

func TestAuthorizeRequestLogsExpiredTokenAtInfoLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodPost, "/v1/blocks", http.NoBody)
	request.Header.Set("Authorization", "Bearer expired-token")
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		tokens: stubTokenValidator{
			validateErr: fmt.Errorf("%w: %w", auth.ErrInvalidToken, jwt.ErrTokenExpired),
		},
		logger: zap.New(core),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel {
		t.Fatalf("expected info level for expired token, got %s", entries[0].Level)
	}
	if entries[0].Message != "token validation failed" {
		t.Fatalf("unexpected log message: %q", entries[0].Message)
	}
}

func TestAuthorizeRequestLogsUnexpectedTokenErrorAtWarnLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodPost, "/v1/blocks", http.NoBody)
	request.Header.Set("Authorization", "Bearer invalid-token")
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		tokens: stubTokenValidator{validateErr: errors.New("signature mismatch")},
		logger: zap.New(core),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 || entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected one warn entry, got %v", entries)
	}
}

func TestSubmitBlockRequiresToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, err := NewHTTPHandler(Dependencies{
		TokenValidator: stubTokenValidator{validateErr: errors.New("unused")},
		Processor:      &stubProcessor{},
		Errors:         stubErrorLookup{},
	})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/v1/blocks", http.NoBody))
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized, got %d", recorder.Code)
	}
}

func TestSubmitBlockMapsOrderingErrorsToConflict(t *testing.T) {
	gin.SetMode(gin.TestMode)
	processor := &stubProcessor{processErr: fmt.Errorf("wrapped: %w", indexer.ErrStaleBlock)}
	handler, err := NewHTTPHandler(Dependencies{
		TokenValidator: stubTokenValidator{subject: "relay"},
		Processor:      processor,
		Errors:         stubErrorLookup{},
	})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}

	request := httptest.NewRequest(http.MethodPost, "/v1/blocks", jsonBody(`{"block_number":5,"block_hash":"0x05","block_timestamp":1700000000,"transactions":[]}`))
	request.Header.Set("Authorization", "Bearer token")
	request.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected conflict, got %d", recorder.Code)
	}
	if processor.lastBlock.Number != 5 {
		t.Fatalf("expected block 5 to reach the processor, got %d", processor.lastBlock.Number)
	}
}

func TestIndexingErrorRouteServesReports(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, err := NewHTTPHandler(Dependencies{
		TokenValidator: stubTokenValidator{subject: "relay"},
		Processor:      &stubProcessor{},
		Errors: stubErrorLookup{reports: map[string]indexer.ErrorReport{
			"0xbad": {Txhash: "0xbad", BlockNumber: 7, Message: "boom"},
		}},
	})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/v1/indexing/errors/0xbad", http.NoBody))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected ok, got %d", recorder.Code)
	}

	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/v1/indexing/errors/0xgood", http.NoBody))
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected not found, got %d", recorder.Code)
	}
}

type stubTokenValidator struct {
	subject     string
	validateErr error
}

func (s stubTokenValidator) ValidateToken(string) (auth.IngestClaims, error) {
	if s.validateErr != nil {
		return auth.IngestClaims{}, s.validateErr
	}
	claims := auth.IngestClaims{Scope: auth.ScopeIngest}
	claims.Subject = s.subject
	return claims, nil
}

type stubProcessor struct {
	processErr error
	lastBlock  indexer.Block
}

func (s *stubProcessor) ProcessBlock(_ context.Context, block indexer.Block) (indexer.BlockSummary, error) {
	s.lastBlock = block
	if s.processErr != nil {
		return indexer.BlockSummary{}, s.processErr
	}
	return indexer.BlockSummary{BlockNumber: block.Number, BlockHash: block.Hash}, nil
}

func (s *stubProcessor) Checkpoint(context.Context) (models.IndexingCheckpoint, bool, error) {
	return models.IndexingCheckpoint{}, false, nil
}

type stubErrorLookup struct {
	reports map[string]indexer.ErrorReport
}

func (s stubErrorLookup) Lookup(_ context.Context, txHash string) (indexer.ErrorReport, bool, error) {
	report, ok := s.reports[txHash]
	return report, ok, nil
}
