package entitymanager

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeTransactionKeepsManageEntityLogsInOrder(t *testing.T) {
	tx := RawTransaction{
		Hash: "0xabc",
		Logs: []RawLog{
			{Event: ManageEntityEvent, Args: json.RawMessage(`{"_userId":3000001,"_entityType":"User","_entityId":3000001,"_action":"Create","_metadata":"m","_signer":"0xAA"}`)},
			{Event: "Transfer", Args: json.RawMessage(`{"value":1}`)},
			{Event: ManageEntityEvent, Args: json.RawMessage(`{"_userId":"3000001","_entityType":"Track","_entityId":2000001,"_action":"Save","_signer":"0xAA"}`)},
		},
	}

	events, err := DecodeTransaction(tx)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, Event{
		EntityID:      3_000_001,
		EntityType:    EntityTypeUser,
		UserID:        3_000_001,
		Action:        ActionCreate,
		Metadata:      "m",
		SignerAddress: "0xAA",
		TxHash:        "0xabc",
	}, events[0])
	require.Equal(t, EntityTypeTrack, events[1].EntityType)
	require.Equal(t, int64(3_000_001), events[1].UserID)
	require.Equal(t, "0xaa", events[1].Signer())
}

func TestDecodeTransactionRejectsMalformedArgs(t *testing.T) {
	for _, args := range []string{
		`{"_userId":"abc","_entityId":1}`,
		`{"_userId":1,"_entityId":1.5}`,
		`not json`,
	} {
		_, err := DecodeTransaction(RawTransaction{Hash: "0xbad", Logs: []RawLog{{Event: ManageEntityEvent, Args: json.RawMessage(args)}}})
		require.Error(t, err, args)
	}
}

func TestFlattenAssignsBlockIndexes(t *testing.T) {
	flat := Flatten([][]Event{
		{{TxHash: "0x1"}, {TxHash: "0x1"}},
		nil,
		{{TxHash: "0x3"}},
	})
	require.Len(t, flat, 3)
	for index, event := range flat {
		require.Equal(t, index, event.Index)
	}
	require.Equal(t, "0x3", flat[2].TxHash)
}

func TestCollectDependenciesPlansEveryLookup(t *testing.T) {
	events := []Event{
		entityEvent(EntityTypeUser, ActionFollow, userAlice, userBob, "", "0xAA"),
		entityEvent(EntityTypeTrack, ActionCreate, userAlice, trackOne, contentMetadata(t, map[string]interface{}{
			"title":   "Café Noir",
			"stem_of": map[string]interface{}{"parent_track_id": trackTwo, "category": "bass"},
		}), "0xAA"),
		entityEvent(EntityTypePlaylist, ActionSave, userBob, playlistOne, "", walletBob),
		entityEvent(EntityTypePlaylist, ActionUpdate, userBob, playlistOne, contentMetadata(t, map[string]interface{}{
			"playlist_contents": contents(trackThree),
		}), walletBob),
		entityEvent(EntityTypeUser, ActionUpdate, userCarol, userCarol, contentMetadata(t, map[string]interface{}{"handle": "Carol"}), walletCarol),
		entityEvent(EntityTypeTrack, ActionCreate, userAlice, TrackIDOffset+9, `{"cid":"broken"`, "0xAA"),
	}
	plan := CollectDependencies(events)

	require.Equal(t, []int64{userAlice, userBob, userCarol}, plan.IDs(RecordUser))
	require.Equal(t, []int64{trackOne, trackTwo, trackThree, TrackIDOffset + 9}, plan.IDs(RecordTrack))
	require.Equal(t, []RecordKey{followKey(userAlice, userBob)}, plan.Keys(RecordFollow))
	require.Equal(t, []RecordKey{subscriptionKey(userAlice, userBob)}, plan.Keys(RecordSubscription))
	require.Equal(t, []RecordKey{
		saveKey(userBob, KindAlbum, playlistOne),
		saveKey(userBob, KindPlaylist, playlistOne),
	}, plan.Keys(RecordSave))
	require.Equal(t, []string{"cafe-noir"}, plan.TitleSlugs(RecordTrackRoute))
	require.Equal(t, []string{"carol"}, plan.Handles())
	require.Equal(t, []string{walletBob, walletCarol, "0xaa"}, plan.Wallets())
	require.Equal(t, []int64{playlistOne}, plan.IDs(RecordPlaylistTrack))
}
