package entitymanager

import (
	"encoding/json"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"

	"github.com/MarcoPoloResearchLab/chorus/backend/internal/models"
)

// Developer app limits.
const (
	DeveloperAppNameLimit        = 50
	DeveloperAppDescriptionLimit = 160
	DeveloperAppsPerUser         = 5
)

type signedMessage struct {
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

func decodeSignedMessage(params *Params, key string) (signedMessage, error) {
	raw, ok := params.metadata.object(key)
	if !ok || isNull(raw) {
		return signedMessage{}, invalid(params, "%s is required", key)
	}
	var signed signedMessage
	if err := json.Unmarshal(raw, &signed); err != nil || signed.Message == "" || signed.Signature == "" {
		return signedMessage{}, invalid(params, "%s must carry a message and signature", key)
	}
	return signed, nil
}

func appAddress(params *Params) (string, error) {
	address, ok, err := params.metadata.str("address")
	if err != nil || !ok || !common.IsHexAddress(address) {
		return "", invalid(params, "address must be an address")
	}
	return normalizeAddress(address), nil
}

func checkAppFields(params *Params, app *models.DeveloperApp) error {
	reader := params.reader()
	reader.str("name", &app.Name)
	reader.str("description", &app.Description)
	reader.str("image_url", &app.ImageURL)
	reader.boolean("is_personal_access", &app.IsPersonalAccess)
	if reader.err != nil {
		return invalid(params, "%v", reader.err)
	}
	if app.Name == "" || utf8.RuneCountInString(app.Name) > DeveloperAppNameLimit {
		return invalid(params, "name must be 1 to %d characters", DeveloperAppNameLimit)
	}
	if utf8.RuneCountInString(app.Description) > DeveloperAppDescriptionLimit {
		return invalid(params, "description exceeds %d characters", DeveloperAppDescriptionLimit)
	}
	return nil
}

func validateCreateDeveloperApp(params *Params) error {
	address, err := appAddress(params)
	if err != nil {
		return err
	}
	if params.Batch.DeveloperApp(address) != nil {
		return invalid(params, "developer app %s already exists", address)
	}
	if params.Batch.UserByWallet(address) != nil {
		return invalid(params, "address %s belongs to a user", address)
	}
	if params.Batch.liveAppCount(params.Event.UserID) >= DeveloperAppsPerUser {
		return invalid(params, "user %d already has %d developer apps", params.Event.UserID, DeveloperAppsPerUser)
	}
	signed, err := decodeSignedMessage(params, "app_signature")
	if err != nil {
		return err
	}
	prefix := "Creating " + params.Config.AppName + " developer app"
	if err := checkTimedSignature(params, signed.Message, signed.Signature, address, prefix); err != nil {
		return invalid(params, "app_signature: %v", err)
	}
	return nil
}

func applyCreateDeveloperApp(params *Params) error {
	address, err := appAddress(params)
	if err != nil {
		return err
	}
	app := &models.DeveloperApp{Address: address, UserID: params.Event.UserID}
	if err := checkAppFields(params, app); err != nil {
		return err
	}
	stamp(app, params, true)
	params.Batch.Put(app)
	return nil
}

func ownedApp(params *Params) (*models.DeveloperApp, error) {
	address, err := appAddress(params)
	if err != nil {
		return nil, err
	}
	app := params.Batch.DeveloperApp(address)
	if app == nil || app.IsDelete {
		return nil, invalid(params, "developer app %s does not exist", address)
	}
	if app.UserID != params.Event.UserID {
		return nil, invalid(params, "user %d does not own developer app %s", params.Event.UserID, address)
	}
	return app, nil
}

func validateUpdateDeveloperApp(params *Params) error {
	_, err := ownedApp(params)
	return err
}

func applyUpdateDeveloperApp(params *Params) error {
	existing, err := ownedApp(params)
	if err != nil {
		return err
	}
	app := nextVersion(existing, params)
	if err := checkAppFields(params, app); err != nil {
		return err
	}
	params.Batch.Put(app)
	return nil
}

func validateDeleteDeveloperApp(params *Params) error {
	_, err := ownedApp(params)
	return err
}

func applyDeleteDeveloperApp(params *Params) error {
	existing, err := ownedApp(params)
	if err != nil {
		return err
	}
	app := nextVersion(existing, params)
	app.IsDelete = true
	params.Batch.Put(app)
	return nil
}
