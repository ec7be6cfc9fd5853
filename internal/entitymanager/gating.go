package entitymanager

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/MarcoPoloResearchLab/chorus/backend/internal/models"
)

// Access condition kinds. A condition object carries exactly one of them.
const (
	conditionTipUser      = "tip_user_id"
	conditionFollowUser   = "follow_user_id"
	conditionUSDCPurchase = "usdc_purchase"
)

// usdcSplitUnitsPerCent converts a price in cents into split units.
const usdcSplitUnitsPerCent = 10_000

type usdcPurchase struct {
	Price  int64            `json:"price"`
	Splits map[string]int64 `json:"splits"`
}

type accessCondition struct {
	kind     string
	purchase *usdcPurchase
}

var (
	errConditionShape = errors.New("access conditions must set exactly one of tip_user_id, follow_user_id, usdc_purchase")
	errSplitsMismatch = errors.New("usdc_purchase splits do not sum to the price")
)

// parseCondition validates one condition object.
func parseCondition(raw models.JSONText) (accessCondition, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw.Bytes(), &fields); err != nil || len(fields) != 1 {
		return accessCondition{}, errConditionShape
	}
	for kind, value := range fields {
		switch kind {
		case conditionTipUser, conditionFollowUser:
			var userID int64
			if err := json.Unmarshal(value, &userID); err != nil || userID <= 0 {
				return accessCondition{}, fmt.Errorf("%s must be a user id", kind)
			}
			return accessCondition{kind: kind}, nil
		case conditionUSDCPurchase:
			var purchase usdcPurchase
			if err := json.Unmarshal(value, &purchase); err != nil {
				return accessCondition{}, fmt.Errorf("malformed usdc_purchase: %w", err)
			}
			if purchase.Price <= 0 || len(purchase.Splits) == 0 {
				return accessCondition{}, errSplitsMismatch
			}
			var total int64
			for address, amount := range purchase.Splits {
				if !common.IsHexAddress(address) || amount < 0 {
					return accessCondition{}, fmt.Errorf("invalid split for %s", address)
				}
				total += amount
			}
			if total != purchase.Price*usdcSplitUnitsPerCent {
				return accessCondition{}, errSplitsMismatch
			}
			return accessCondition{kind: kind, purchase: &purchase}, nil
		}
	}
	return accessCondition{}, errConditionShape
}

// gate is the flag and condition pair of one access kind.
type gate struct {
	name       string
	gated      bool
	conditions models.JSONText
}

func (g gate) check() (*accessCondition, error) {
	if g.gated && g.conditions.IsNull() {
		return nil, fmt.Errorf("is_%s_gated requires %s_conditions", g.name, g.name)
	}
	if !g.gated && !g.conditions.IsNull() {
		return nil, fmt.Errorf("%s_conditions require is_%s_gated", g.name, g.name)
	}
	if !g.gated {
		return nil, nil
	}
	condition, err := parseCondition(g.conditions)
	if err != nil {
		return nil, fmt.Errorf("%s_conditions: %w", g.name, err)
	}
	return &condition, nil
}

// checkGates validates the stream and download gates of one entity. A
// download gate set alongside a stream gate must carry the same conditions.
func checkGates(stream, download gate) error {
	if _, err := stream.check(); err != nil {
		return err
	}
	if _, err := download.check(); err != nil {
		return err
	}
	if stream.gated && download.gated && !sameJSON(stream.conditions, download.conditions) {
		return errors.New("stream and download conditions must match")
	}
	return nil
}

func validateTrackGating(track *models.Track) error {
	streamGate := gate{name: "stream", gated: track.IsStreamGated, conditions: track.StreamConditions}
	downloadGate := gate{name: "download", gated: track.IsDownloadGated, conditions: track.DownloadConditions}
	if err := checkGates(streamGate, downloadGate); err != nil {
		return err
	}
	if !track.StemOf.IsNull() && (track.IsStreamGated || track.IsDownloadGated) {
		return errors.New("stem tracks cannot be gated")
	}
	if track.IsStreamGated && !track.IsDownloadGated {
		return errors.New("stream gated tracks must carry matching download conditions")
	}
	return nil
}

func validatePlaylistGating(playlist *models.Playlist) error {
	return checkGates(
		gate{name: "stream", gated: playlist.IsStreamGated, conditions: playlist.StreamConditions},
		gate{name: "download", gated: playlist.IsDownloadGated, conditions: playlist.DownloadConditions},
	)
}

func sameJSON(left, right models.JSONText) bool {
	if left.IsNull() || right.IsNull() {
		return left.IsNull() == right.IsNull()
	}
	canonicalLeft, errLeft := canonicalJSON(left.Bytes())
	canonicalRight, errRight := canonicalJSON(right.Bytes())
	return errLeft == nil && errRight == nil && bytes.Equal(canonicalLeft, canonicalRight)
}

// canonicalJSON re-encodes a document with sorted object keys.
func canonicalJSON(raw []byte) ([]byte, error) {
	var value interface{}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	return json.Marshal(value)
}

// purchaseOf returns the usdc purchase terms of a condition document, if any.
func purchaseOf(conditions models.JSONText) *usdcPurchase {
	if conditions.IsNull() {
		return nil
	}
	condition, err := parseCondition(conditions)
	if err != nil {
		return nil
	}
	return condition.purchase
}

func encodeSplits(splits map[string]int64) models.JSONText {
	normalized := make(map[string]int64, len(splits))
	for address, amount := range splits {
		normalized[normalizeAddress(address)] += amount
	}
	encoded, err := json.Marshal(normalized)
	if err != nil {
		return ""
	}
	return models.JSONText(encoded)
}
