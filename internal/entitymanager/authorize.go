package entitymanager

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/chorus/backend/internal/signatures"
)

func authorize(params *Params, policy authPolicy) error {
	signer := params.Event.Signer()
	switch policy {
	case authNewUser:
		if signer == "" {
			return invalid(params, "missing signer")
		}
		return nil
	case authDashboardWallet:
		wallet, _, _ := params.metadata.str("wallet")
		if signer != "" && signer == normalizeAddress(wallet) {
			return nil
		}
	}

	user := params.Batch.User(params.Event.UserID)
	if user == nil {
		return invalid(params, "user %d does not exist", params.Event.UserID)
	}
	if signer != "" && signer == normalizeAddress(user.Wallet) {
		return nil
	}
	if isActiveDelegate(params.Batch, signer, params.Event.UserID) {
		return nil
	}
	return invalid(params, reasonUnauthorizedSigner)
}

// isActiveDelegate reports whether address holds an approved, unrevoked
// grant from userID and is a live developer app.
func isActiveDelegate(batch *Batch, address string, userID int64) bool {
	if address == "" {
		return false
	}
	if !batch.Grant(address, userID).Active() {
		return false
	}
	app := batch.DeveloperApp(address)
	return app != nil && !app.IsDelete
}

var (
	errSignatureMessage = errors.New("signature message does not match the expected format")
	errSignatureExpired = errors.New("signature timestamp is outside the allowed window")
)

// checkTimedSignature verifies that signature over message recovers to
// expectedAddress, that message is one of templates followed by " at <unix
// seconds>", and that the timestamp is within the drift window of the block.
func checkTimedSignature(params *Params, message, signature, expectedAddress string, prefixes ...string) error {
	var timestamp string
	matched := false
	for _, prefix := range prefixes {
		if rest, ok := strings.CutPrefix(message, prefix+" at "); ok {
			timestamp = rest
			matched = true
			break
		}
	}
	if !matched {
		return errSignatureMessage
	}
	seconds, err := strconv.ParseInt(strings.TrimSpace(timestamp), 10, 64)
	if err != nil {
		return errSignatureMessage
	}
	signedAt := time.Unix(seconds, 0)
	drift := params.Block.Time().Sub(signedAt)
	if drift < 0 {
		drift = -drift
	}
	if drift > params.Config.SignatureDrift {
		return errSignatureExpired
	}
	recovered, err := params.Recoverer.RecoverSigner(message, signature)
	if err != nil {
		return err
	}
	if signatures.NormalizeAddress(recovered) != normalizeAddress(expectedAddress) {
		return errors.New("signature does not match " + normalizeAddress(expectedAddress))
	}
	return nil
}
