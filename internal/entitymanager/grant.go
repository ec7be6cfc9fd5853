package entitymanager

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/MarcoPoloResearchLab/chorus/backend/internal/models"
)

func granteeAddress(params *Params) (string, error) {
	grantee, ok, err := params.metadata.str("grantee_address")
	if err != nil || !ok || !common.IsHexAddress(grantee) {
		return "", invalid(params, "grantee_address must be an address")
	}
	return normalizeAddress(grantee), nil
}

func validateCreateGrant(params *Params) error {
	grantee, err := granteeAddress(params)
	if err != nil {
		return err
	}
	user := params.Batch.User(params.Event.UserID)
	if normalizeAddress(user.Wallet) == grantee {
		return invalid(params, "users cannot grant themselves")
	}
	app := params.Batch.DeveloperApp(grantee)
	liveApp := app != nil && !app.IsDelete
	if !liveApp && params.Batch.UserByWallet(grantee) == nil {
		return invalid(params, "grantee %s is neither a developer app nor a user", grantee)
	}
	grant := params.Batch.Grant(grantee, params.Event.UserID)
	if grant != nil && !grant.IsRevoked {
		return invalid(params, "grant to %s already exists", grantee)
	}
	return nil
}

// applyCreateGrant writes a pending grant, or an approved one when the
// grantee app belongs to the granting user.
func applyCreateGrant(params *Params) error {
	grantee, err := granteeAddress(params)
	if err != nil {
		return err
	}
	existing := params.Batch.Grant(grantee, params.Event.UserID)
	var grant *models.Grant
	if existing == nil {
		grant = &models.Grant{GranteeAddress: grantee, UserID: params.Event.UserID}
		stamp(grant, params, true)
	} else {
		grant = nextVersion(existing, params)
	}
	grant.IsRevoked = false
	grant.IsApproved = nil
	if app := params.Batch.DeveloperApp(grantee); app != nil && !app.IsDelete && app.UserID == params.Event.UserID {
		approved := true
		grant.IsApproved = &approved
	}
	params.Batch.Put(grant)
	return nil
}

func validateDeleteGrant(params *Params) error {
	grantee, err := granteeAddress(params)
	if err != nil {
		return err
	}
	grant := params.Batch.Grant(grantee, params.Event.UserID)
	if grant == nil || grant.IsRevoked {
		return invalid(params, "no active grant to %s", grantee)
	}
	return nil
}

func applyDeleteGrant(params *Params) error {
	grantee, err := granteeAddress(params)
	if err != nil {
		return err
	}
	grant := nextVersion(params.Batch.Grant(grantee, params.Event.UserID), params)
	grant.IsRevoked = true
	params.Batch.Put(grant)
	return nil
}

// decisionGrant resolves the grant an Approve or Reject acts on. The
// grantee defaults to the acting user's wallet and may instead name a
// developer app the acting user owns.
func decisionGrant(params *Params) (*models.Grant, error) {
	grantorID, ok, err := params.metadata.integer("grantor_user_id")
	if err != nil || !ok || grantorID == nil {
		return nil, invalid(params, "grantor_user_id is required")
	}
	actor := params.Batch.User(params.Event.UserID)
	grantee := normalizeAddress(actor.Wallet)
	if explicit, ok, err := params.metadata.str("grantee_address"); err == nil && ok && explicit != "" {
		explicit = normalizeAddress(explicit)
		if explicit != grantee {
			app := params.Batch.DeveloperApp(explicit)
			if app == nil || app.IsDelete || app.UserID != params.Event.UserID {
				return nil, invalid(params, "user %d does not control %s", params.Event.UserID, explicit)
			}
		}
		grantee = explicit
	}
	grant := params.Batch.Grant(grantee, *grantorID)
	if grant == nil {
		return nil, invalid(params, "no grant from user %d to %s", *grantorID, grantee)
	}
	return grant, nil
}

func validateGrantDecision(params *Params) error {
	grant, err := decisionGrant(params)
	if err != nil {
		return err
	}
	if grant.IsRevoked {
		return invalid(params, "grant is revoked")
	}
	if grant.IsApproved != nil {
		return invalid(params, "grant was already decided")
	}
	return nil
}

func applyGrantDecision(approve bool) func(*Params) error {
	return func(params *Params) error {
		existing, err := decisionGrant(params)
		if err != nil {
			return err
		}
		grant := nextVersion(existing, params)
		decision := approve
		grant.IsApproved = &decision
		params.Batch.Put(grant)
		return nil
	}
}
