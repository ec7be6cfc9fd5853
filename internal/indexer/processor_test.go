package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/chorus/backend/internal/challenges"
	"github.com/MarcoPoloResearchLab/chorus/backend/internal/database"
	"github.com/MarcoPoloResearchLab/chorus/backend/internal/entitymanager"
	"github.com/MarcoPoloResearchLab/chorus/backend/internal/models"
	"github.com/MarcoPoloResearchLab/chorus/backend/internal/signatures"
)

const (
	testWallet      = "0x1111111111111111111111111111111111111111"
	testOtherWallet = "0x2222222222222222222222222222222222222222"
	testUserID      = int64(3_000_001)
	testOtherUserID = int64(3_000_002)
)

type processorFixture struct {
	db         *gorm.DB
	processor  *Processor
	escalation *Escalation
	published  *recordingPublisher
}

type recordingPublisher struct {
	summaries []BlockSummary
}

func (p *recordingPublisher) Publish(summary BlockSummary) {
	p.summaries = append(p.summaries, summary)
}

type stubPeerClient struct {
	reported map[string]bool
	err      error
}

func (s stubPeerClient) Reported(_ context.Context, peer string, _ string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.reported[peer], nil
}

func newProcessorFixture(t *testing.T, escalationConfig EscalationConfig) processorFixture {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "indexer.db"), zap.NewNop())
	require.NoError(t, err)

	engine, err := entitymanager.NewEngine(entitymanager.Options{
		Config:    entitymanager.DefaultEngineConfig(),
		Recoverer: signatures.NewRecoverer(),
	})
	require.NoError(t, err)
	clock := func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }
	bus, err := challenges.NewBus(challenges.NewStoreSink(db, clock), nil)
	require.NoError(t, err)

	escalationConfig.Database = db
	escalationConfig.Clock = clock
	escalation, err := NewEscalation(escalationConfig)
	require.NoError(t, err)

	published := &recordingPublisher{}
	processor, err := NewProcessor(ProcessorConfig{
		Database:      db,
		Engine:        engine,
		Bus:           bus,
		Escalation:    escalation,
		Publisher:     published,
		DecodeWorkers: 2,
	})
	require.NoError(t, err)
	return processorFixture{db: db, processor: processor, escalation: escalation, published: published}
}

func testCID(t *testing.T, seed string) string {
	t.Helper()
	sum, err := cid.Prefix{Version: 0, Codec: cid.DagProtobuf, MhType: 0x12, MhLength: -1}.Sum([]byte(seed))
	require.NoError(t, err)
	return sum.String()
}

func manageEntityLog(t *testing.T, userID int64, entityType string, entityID int64, action string, metadata string, signer string) entitymanager.RawLog {
	t.Helper()
	args, err := json.Marshal(map[string]interface{}{
		"_userId":     userID,
		"_entityType": entityType,
		"_entityId":   entityID,
		"_action":     action,
		"_metadata":   metadata,
		"_signer":     signer,
	})
	require.NoError(t, err)
	return entitymanager.RawLog{Event: entitymanager.ManageEntityEvent, Args: args}
}

func userMetadata(t *testing.T, fields map[string]interface{}) string {
	t.Helper()
	encoded, err := json.Marshal(map[string]interface{}{"cid": testCID(t, "user"), "data": fields})
	require.NoError(t, err)
	return string(encoded)
}

func createUserTx(t *testing.T, hash string, userID int64, wallet string, name string) entitymanager.RawTransaction {
	t.Helper()
	return entitymanager.RawTransaction{
		Hash: hash,
		Logs: []entitymanager.RawLog{
			manageEntityLog(t, userID, "User", userID, "Create", userMetadata(t, map[string]interface{}{"name": name}), wallet),
		},
	}
}

func updateUserTx(t *testing.T, hash string, userID int64, wallet string, name string) entitymanager.RawTransaction {
	t.Helper()
	return entitymanager.RawTransaction{
		Hash: hash,
		Logs: []entitymanager.RawLog{
			manageEntityLog(t, userID, "User", userID, "Update", userMetadata(t, map[string]interface{}{"name": name}), wallet),
		},
	}
}

func followTx(t *testing.T, hash string, followerID int64, followeeID int64, wallet string) entitymanager.RawTransaction {
	t.Helper()
	return entitymanager.RawTransaction{
		Hash: hash,
		Logs: []entitymanager.RawLog{manageEntityLog(t, followerID, "User", followeeID, "Follow", "", wallet)},
	}
}

func malformedTx(hash string) entitymanager.RawTransaction {
	return entitymanager.RawTransaction{
		Hash: hash,
		Logs: []entitymanager.RawLog{{
			Event: entitymanager.ManageEntityEvent,
			Args:  json.RawMessage(`{"_userId":"not-a-number","_entityType":"User","_entityId":1,"_action":"Create"}`),
		}},
	}
}

func block(number int64, transactions ...entitymanager.RawTransaction) Block {
	return Block{
		Number:       number,
		Hash:         "0xblock" + string(rune('a'+number)),
		Timestamp:    1_700_000_000 + number,
		Transactions: transactions,
	}
}

func currentUser(t *testing.T, db *gorm.DB, userID int64) models.User {
	t.Helper()
	var user models.User
	require.NoError(t, db.Where("user_id = ? AND is_current = ?", userID, true).Take(&user).Error)
	return user
}

func TestProcessBlockCommitsAndAdvancesCheckpoint(t *testing.T) {
	fixture := newProcessorFixture(t, EscalationConfig{})
	ctx := context.Background()

	summary, err := fixture.processor.ProcessBlock(ctx, block(1,
		createUserTx(t, "0xtx1", testUserID, testWallet, "Alice"),
		createUserTx(t, "0xtx2", testOtherUserID, testOtherWallet, "Bob"),
	))
	require.NoError(t, err)
	require.Equal(t, 2, summary.Applied)
	require.Equal(t, []int64{testUserID, testOtherUserID}, summary.ChangedEntityIDs[entitymanager.EntityTypeUser])

	_, err = fixture.processor.ProcessBlock(ctx, block(2, followTx(t, "0xtx3", testUserID, testOtherUserID, testWallet)))
	require.NoError(t, err)

	checkpoint, found, err := fixture.processor.Checkpoint(ctx)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(2), checkpoint.LastCheckpoint)

	var aggregate models.AggregateUser
	require.NoError(t, fixture.db.Where("user_id = ?", testOtherUserID).Take(&aggregate).Error)
	require.Equal(t, int64(1), aggregate.FollowerCount)

	var challengeEvents []models.ChallengeEvent
	require.NoError(t, fixture.db.Find(&challengeEvents).Error)
	require.Len(t, challengeEvents, 1)
	require.Equal(t, string(challenges.KindFollow), challengeEvents[0].Kind)

	require.Len(t, fixture.published.summaries, 2)
}

func TestProcessBlockRejectsStaleAndGappedBlocks(t *testing.T) {
	fixture := newProcessorFixture(t, EscalationConfig{})
	ctx := context.Background()

	_, err := fixture.processor.ProcessBlock(ctx, block(5, createUserTx(t, "0xtx1", testUserID, testWallet, "Alice")))
	require.NoError(t, err)

	_, err = fixture.processor.ProcessBlock(ctx, block(5))
	require.ErrorIs(t, err, ErrStaleBlock)

	_, err = fixture.processor.ProcessBlock(ctx, block(7))
	require.ErrorIs(t, err, ErrBlockGap)
}

func TestProcessBlockDropsInvalidEventsAndKeepsTheRest(t *testing.T) {
	fixture := newProcessorFixture(t, EscalationConfig{})
	ctx := context.Background()

	summary, err := fixture.processor.ProcessBlock(ctx, block(1,
		createUserTx(t, "0xtx1", testUserID, testWallet, "Alice"),
		createUserTx(t, "0xtx2", testUserID, testOtherWallet, "Duplicate"),
	))
	require.NoError(t, err)
	require.Equal(t, 1, summary.Applied)
	require.Equal(t, 1, summary.Rejected)
	require.Equal(t, "Alice", currentUser(t, fixture.db, testUserID).Name)
}

func TestRevertBlockRestoresPreviousState(t *testing.T) {
	fixture := newProcessorFixture(t, EscalationConfig{})
	ctx := context.Background()

	_, err := fixture.processor.ProcessBlock(ctx, block(1,
		createUserTx(t, "0xtx1", testUserID, testWallet, "Alice"),
		createUserTx(t, "0xtx2", testOtherUserID, testOtherWallet, "Bob"),
	))
	require.NoError(t, err)
	_, err = fixture.processor.ProcessBlock(ctx, block(2,
		updateUserTx(t, "0xtx3", testUserID, testWallet, "Alice Renamed"),
		followTx(t, "0xtx4", testUserID, testOtherUserID, testWallet),
	))
	require.NoError(t, err)
	require.Equal(t, "Alice Renamed", currentUser(t, fixture.db, testUserID).Name)

	require.Error(t, fixture.processor.RevertBlock(ctx, 1))
	require.NoError(t, fixture.processor.RevertBlock(ctx, 2))

	restored := currentUser(t, fixture.db, testUserID)
	require.Equal(t, "Alice", restored.Name)
	require.Equal(t, int64(1), restored.BlockNumber)

	var follows int64
	require.NoError(t, fixture.db.Model(&models.Follow{}).Count(&follows).Error)
	require.Zero(t, follows)

	var aggregate models.AggregateUser
	require.NoError(t, fixture.db.Where("user_id = ?", testOtherUserID).Take(&aggregate).Error)
	require.Zero(t, aggregate.FollowerCount)

	checkpoint, found, err := fixture.processor.Checkpoint(ctx)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(1), checkpoint.LastCheckpoint)

	_, err = fixture.processor.ProcessBlock(ctx, block(2, updateUserTx(t, "0xtx5", testUserID, testWallet, "Alice Again")))
	require.NoError(t, err)
	require.Equal(t, "Alice Again", currentUser(t, fixture.db, testUserID).Name)
}

func TestProcessBlockHaltsWithoutPeerConsensus(t *testing.T) {
	fixture := newProcessorFixture(t, EscalationConfig{})
	ctx := context.Background()

	_, err := fixture.processor.ProcessBlock(ctx, block(1,
		createUserTx(t, "0xtx1", testUserID, testWallet, "Alice"),
		malformedTx("0xbad"),
	))
	require.ErrorIs(t, err, ErrNoConsensus)

	_, found, err := fixture.processor.Checkpoint(ctx)
	require.NoError(t, err)
	require.False(t, found)

	var users int64
	require.NoError(t, fixture.db.Model(&models.User{}).Count(&users).Error)
	require.Zero(t, users)

	report, found, err := fixture.escalation.Lookup(ctx, "0xbad")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, ErrorTypeDecode, report.ErrorType)

	var skipped models.SkippedTransaction
	require.NoError(t, fixture.db.Where("txhash = ?", "0xbad").Take(&skipped).Error)
	require.Equal(t, models.SkipLevelNode, skipped.Level)
}

func TestProcessBlockSkipsTransactionsConfirmedByPeers(t *testing.T) {
	fixture := newProcessorFixture(t, EscalationConfig{
		Peers:  []string{"http://peer-a", "http://peer-b", "http://peer-c"},
		Client: stubPeerClient{reported: map[string]bool{"http://peer-a": true, "http://peer-b": true}},
	})
	ctx := context.Background()

	summary, err := fixture.processor.ProcessBlock(ctx, block(1,
		malformedTx("0xbad"),
		createUserTx(t, "0xtx1", testUserID, testWallet, "Alice"),
	))
	require.NoError(t, err)
	require.Equal(t, 1, summary.Applied)

	var skipped models.SkippedTransaction
	require.NoError(t, fixture.db.Where("txhash = ?", "0xbad").Take(&skipped).Error)
	require.Equal(t, models.SkipLevelNetwork, skipped.Level)

	policy, err := fixture.escalation.Policy(ctx, entitymanager.BlockInfo{Number: 1}, []string{"0xbad", "0xtx1"})
	require.NoError(t, err)
	require.True(t, policy.Skipped("0xbad"))
	require.False(t, policy.Skipped("0xtx1"))
}

func TestEscalationEnforcesSkipCeiling(t *testing.T) {
	fixture := newProcessorFixture(t, EscalationConfig{
		Peers:      []string{"http://peer-a"},
		Client:     stubPeerClient{reported: map[string]bool{"http://peer-a": true}},
		MaxSkipped: 1,
	})
	ctx := context.Background()

	_, err := fixture.processor.ProcessBlock(ctx, block(1, malformedTx("0xbad1")))
	require.NoError(t, err)

	_, err = fixture.processor.ProcessBlock(ctx, block(2, malformedTx("0xbad2")))
	require.ErrorIs(t, err, ErrSkipCeiling)
}

func TestEscalationTreatsUnreachablePeersAsDissent(t *testing.T) {
	fixture := newProcessorFixture(t, EscalationConfig{
		Peers:  []string{"http://peer-a"},
		Client: stubPeerClient{err: errors.New("connection refused")},
	})

	_, err := fixture.processor.ProcessBlock(context.Background(), block(1, malformedTx("0xbad")))
	require.ErrorIs(t, err, ErrNoConsensus)
}

func TestProcessBlockAcceptsConcurrentSubmissionsOnce(t *testing.T) {
	fixture := newProcessorFixture(t, EscalationConfig{})
	ctx := context.Background()

	_, err := fixture.processor.ProcessBlock(ctx, block(1,
		createUserTx(t, "0xtx1", testUserID, testWallet, "Alice"),
		createUserTx(t, "0xtx2", testOtherUserID, testOtherWallet, "Bob"),
	))
	require.NoError(t, err)

	next := block(2, followTx(t, "0xtx3", testUserID, testOtherUserID, testWallet))
	const submitters = 8
	errs := make([]error, submitters)
	var wg sync.WaitGroup
	for index := 0; index < submitters; index++ {
		wg.Add(1)
		go func(position int) {
			defer wg.Done()
			_, errs[position] = fixture.processor.ProcessBlock(ctx, next)
		}(index)
	}
	wg.Wait()

	accepted := 0
	for _, submitErr := range errs {
		if submitErr == nil {
			accepted++
			continue
		}
		require.ErrorIs(t, submitErr, ErrStaleBlock)
	}
	require.Equal(t, 1, accepted)

	var follows int64
	require.NoError(t, fixture.db.Model(&models.Follow{}).Where("follower_user_id = ?", testUserID).Count(&follows).Error)
	require.Equal(t, int64(1), follows)
	require.Len(t, fixture.published.summaries, 2)
}
