package entitymanager

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseMetadataFormats(t *testing.T) {
	validCID := testCID(t, "metadata")

	fields, cid, err := parseMetadata("ignored {", metadataNone)
	require.NoError(t, err)
	require.Empty(t, fields)
	require.Empty(t, cid)

	fields, _, err = parseMetadata(`{"address":"0xabc"}`, metadataInline)
	require.NoError(t, err)
	address, ok, err := fields.str("address")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "0xabc", address)

	fields, cid, err = parseMetadata(`{"cid":"`+validCID+`","data":{"title":"Song","duration":31}}`, metadataContentAddressed)
	require.NoError(t, err)
	require.Equal(t, validCID, cid)
	duration, ok, err := fields.integer("duration")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(31), *duration)

	failures := []struct {
		raw    string
		format metadataFormat
	}{
		{raw: "", format: metadataInline},
		{raw: `["not","an","object"]`, format: metadataInline},
		{raw: `{"data":{}}`, format: metadataContentAddressed},
		{raw: `{"cid":"not-a-cid","data":{}}`, format: metadataContentAddressed},
		{raw: `{"cid":"` + validCID + `","data":"text"}`, format: metadataContentAddressed},
		{raw: `{"cid":`, format: metadataContentAddressed},
	}
	for _, failure := range failures {
		_, _, err := parseMetadata(failure.raw, failure.format)
		require.Error(t, err, failure.raw)
	}
}

func TestMetadataFieldTypeErrors(t *testing.T) {
	fields, _, err := parseMetadata(`{"name":7,"count":"x","flag":"yes","empty":null}`, metadataInline)
	require.NoError(t, err)

	_, _, err = fields.str("name")
	require.Error(t, err)
	_, _, err = fields.integer("count")
	require.Error(t, err)
	_, _, err = fields.boolean("flag")
	require.Error(t, err)

	empty, ok, err := fields.str("empty")
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, empty)

	_, ok, err = fields.str("missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestParseOptionalFlag(t *testing.T) {
	require.True(t, parseOptionalFlag(`{"is_save_of_repost":true}`, "is_save_of_repost", false))
	require.False(t, parseOptionalFlag(`{"is_save_of_repost":"true"}`, "is_save_of_repost", false))
	require.False(t, parseOptionalFlag(`not json`, "is_save_of_repost", false))
	require.True(t, parseOptionalFlag(``, "is_save_of_repost", true))
}

func TestMalformedMetadataRejectsEvent(t *testing.T) {
	harness := newReplayHarness(t)
	outcome := harness.replay(
		entityEvent(EntityTypeUser, ActionCreate, userAlice, userAlice, `{"cid":"bogus","data":{"name":"Alice"}}`, walletAlice),
		entityEvent(EntityTypeUser, ActionCreate, userBob, userBob, `{"cid":"`+testCID(t, "bob")+`","data":{"name":12}}`, walletBob),
	)
	require.Equal(t, 2, outcome.replay.Rejected)
	require.Zero(t, outcome.commit.TotalChanges)
}

func TestMetadataIntegerRejectsFractions(t *testing.T) {
	fields, _, err := parseMetadata(`{"whole":2.0,"exponent":1e3,"fraction":1.5,"huge":1e19}`, metadataInline)
	require.NoError(t, err)

	whole, _, err := fields.integer("whole")
	require.NoError(t, err)
	require.Equal(t, int64(2), *whole)
	exponent, _, err := fields.integer("exponent")
	require.NoError(t, err)
	require.Equal(t, int64(1000), *exponent)

	_, _, err = fields.integer("fraction")
	require.Error(t, err)
	_, _, err = fields.integer("huge")
	require.Error(t, err)
}

func TestWellFormedCIDReturnsCanonicalForm(t *testing.T) {
	validCID := testCID(t, "canonical")
	canonical, err := wellFormedCID("  " + validCID + " ")
	require.NoError(t, err)
	require.Equal(t, validCID, canonical)

	_, err = wellFormedCID("")
	require.ErrorIs(t, err, errMissingCID)
	_, err = wellFormedCID("Qm-not-base58")
	require.Error(t, err)
}
