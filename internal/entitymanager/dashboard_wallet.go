package entitymanager

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/MarcoPoloResearchLab/chorus/backend/internal/challenges"
	"github.com/MarcoPoloResearchLab/chorus/backend/internal/models"
)

func dashboardWallet(params *Params) (string, error) {
	wallet, ok, err := params.metadata.str("wallet")
	if err != nil || !ok || !common.IsHexAddress(wallet) {
		return "", invalid(params, "wallet must be an address")
	}
	return normalizeAddress(wallet), nil
}

func validateCreateDashboardWallet(params *Params) error {
	wallet, err := dashboardWallet(params)
	if err != nil {
		return err
	}
	if link := params.Batch.DashboardWalletUser(wallet); link != nil && !link.IsDelete {
		return invalid(params, "wallet %s is already linked to user %d", wallet, link.UserID)
	}
	signed, err := decodeSignedMessage(params, "wallet_signature")
	if err != nil {
		return err
	}
	user := params.Batch.User(params.Event.UserID)
	prefixes := []string{fmt.Sprintf("Connecting %s user id %d", params.Config.AppName, params.Event.UserID)}
	if user.Handle != nil && *user.Handle != "" {
		prefixes = append(prefixes, fmt.Sprintf("Connecting %s user @%s", params.Config.AppName, *user.Handle))
	}
	if err := checkTimedSignature(params, signed.Message, signed.Signature, wallet, prefixes...); err != nil {
		return invalid(params, "wallet_signature: %v", err)
	}
	return nil
}

func applyCreateDashboardWallet(params *Params) error {
	wallet, err := dashboardWallet(params)
	if err != nil {
		return err
	}
	existing := params.Batch.DashboardWalletUser(wallet)
	var link *models.DashboardWalletUser
	if existing == nil {
		link = &models.DashboardWalletUser{Wallet: wallet}
		stamp(link, params, true)
	} else {
		link = nextVersion(existing, params)
	}
	link.UserID = params.Event.UserID
	link.IsDelete = false
	params.Batch.Put(link)
	params.Batch.dispatch(challenges.KindConnectVerified, params.Event.UserID, map[string]interface{}{"wallet": wallet})
	return nil
}

func validateDeleteDashboardWallet(params *Params) error {
	wallet, err := dashboardWallet(params)
	if err != nil {
		return err
	}
	link := params.Batch.DashboardWalletUser(wallet)
	if link == nil || link.IsDelete {
		return invalid(params, "wallet %s is not linked", wallet)
	}
	if link.UserID != params.Event.UserID {
		return invalid(params, "wallet %s is linked to another user", wallet)
	}
	return nil
}

func applyDeleteDashboardWallet(params *Params) error {
	wallet, err := dashboardWallet(params)
	if err != nil {
		return err
	}
	link := nextVersion(params.Batch.DashboardWalletUser(wallet), params)
	link.IsDelete = true
	params.Batch.Put(link)
	return nil
}
