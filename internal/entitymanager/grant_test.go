package entitymanager

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MarcoPoloResearchLab/chorus/backend/internal/models"
)

func grantEvent(t *testing.T, action Action, userID int64, wallet string, fields map[string]interface{}) Event {
	t.Helper()
	return entityEvent(EntityTypeGrant, action, userID, 0, inlineMetadata(t, fields), wallet)
}

func TestGrantLifecycleEdges(t *testing.T) {
	approved, denied := true, false
	createGrant := func(t *testing.T, grantee string) Event {
		return grantEvent(t, ActionCreate, userAlice, walletAlice, map[string]interface{}{"grantee_address": grantee})
	}
	revokeGrant := func(t *testing.T, grantee string) Event {
		return grantEvent(t, ActionDelete, userAlice, walletAlice, map[string]interface{}{"grantee_address": grantee})
	}
	decide := func(t *testing.T, action Action) Event {
		return grantEvent(t, action, userBob, walletBob, map[string]interface{}{"grantor_user_id": userAlice})
	}

	cases := []struct {
		name         string
		toApp        bool
		blocks       func(t *testing.T, grantee string) [][]Event
		lastApplied  int
		lastRejected int
		wantApproved *bool
		wantRevoked  bool
	}{
		{
			name: "rejected grant cannot be approved",
			blocks: func(t *testing.T, grantee string) [][]Event {
				return [][]Event{{createGrant(t, grantee)}, {decide(t, ActionReject)}, {decide(t, ActionApprove)}}
			},
			lastRejected: 1,
			wantApproved: &denied,
		},
		{
			name: "revoked grant cannot be approved",
			blocks: func(t *testing.T, grantee string) [][]Event {
				return [][]Event{{createGrant(t, grantee)}, {revokeGrant(t, grantee)}, {decide(t, ActionApprove)}}
			},
			lastRejected: 1,
			wantRevoked:  true,
		},
		{
			name: "revoked grant can be added again as pending",
			blocks: func(t *testing.T, grantee string) [][]Event {
				return [][]Event{{createGrant(t, grantee)}, {decide(t, ActionApprove)}, {revokeGrant(t, grantee)}, {createGrant(t, grantee)}}
			},
			lastApplied: 1,
		},
		{
			name: "live grant cannot be added twice",
			blocks: func(t *testing.T, grantee string) [][]Event {
				return [][]Event{{createGrant(t, grantee)}, {createGrant(t, grantee)}}
			},
			lastRejected: 1,
		},
		{
			name:  "revoked app grant stops delegation",
			toApp: true,
			blocks: func(t *testing.T, grantee string) [][]Event {
				return [][]Event{
					{createGrant(t, grantee)},
					{trackEvent(t, ActionCreate, userAlice, trackOne, grantee, map[string]interface{}{"title": "Delegated"})},
					{revokeGrant(t, grantee)},
					{trackEvent(t, ActionCreate, userAlice, trackTwo, grantee, map[string]interface{}{"title": "Too Late"})},
				}
			},
			lastRejected: 1,
			wantApproved: &approved,
			wantRevoked:  true,
		},
	}

	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			harness := newReplayHarness(t)
			seedArtists(t, harness)
			grantee := walletBob
			if testCase.toApp {
				appKey, appAddress := newKey(t)
				require.Equal(t, 1, harness.replay(createAppEvent(t, userAlice, walletAlice, appKey, testEpoch)).replay.Applied)
				grantee = normalizeAddress(appAddress)
			}

			var last blockOutcome
			for _, events := range testCase.blocks(t, grantee) {
				last = harness.replay(events...)
			}
			require.Equal(t, testCase.lastApplied, last.replay.Applied)
			require.Equal(t, testCase.lastRejected, last.replay.Rejected)

			grants := currentRows[models.Grant](t, harness.db, "grantee_address = ? AND user_id = ?", grantee, userAlice)
			require.Len(t, grants, 1)
			require.Equal(t, testCase.wantRevoked, grants[0].IsRevoked)
			if testCase.wantApproved == nil {
				require.Nil(t, grants[0].IsApproved)
			} else {
				require.NotNil(t, grants[0].IsApproved)
				require.Equal(t, *testCase.wantApproved, *grants[0].IsApproved)
			}
		})
	}
}
