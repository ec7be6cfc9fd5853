package entitymanager

import (
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"

	"github.com/MarcoPoloResearchLab/chorus/backend/internal/models"
)

// User profile limits.
const (
	UserBioLimit    = 256
	UserHandleLimit = 30
)

var handlePattern = regexp.MustCompile(`^[A-Za-z0-9_.]+$`)

func normalizeHandle(handle string) string {
	return strings.ToLower(strings.TrimSpace(handle))
}

func validateCreateUser(params *Params) error {
	event := params.Event
	if event.EntityID != event.UserID {
		return invalid(params, "user id %d does not match entity id %d", event.UserID, event.EntityID)
	}
	if event.EntityID < UserIDOffset {
		return invalid(params, "user id %d is below the offset %d", event.EntityID, UserIDOffset)
	}
	if params.Batch.User(event.EntityID) != nil {
		return invalid(params, "user %d already exists", event.EntityID)
	}
	if owner := params.Batch.UserByWallet(event.Signer()); owner != nil {
		return invalid(params, "wallet %s already belongs to user %d", event.Signer(), owner.UserID)
	}
	return nil
}

func validateUpdateUser(params *Params) error {
	event := params.Event
	if event.EntityID != event.UserID {
		return invalid(params, "user id %d does not match entity id %d", event.UserID, event.EntityID)
	}
	user := params.Batch.User(event.EntityID)
	if user == nil {
		return invalid(params, "user %d does not exist", event.EntityID)
	}
	if user.IsDeactivated {
		return invalid(params, "user %d is deactivated", event.EntityID)
	}
	return nil
}

// applyUser creates or updates a user profile and reconciles its
// associated wallets.
func applyUser(params *Params) error {
	event := params.Event
	existing := params.Batch.User(event.EntityID)
	created := existing == nil
	var user *models.User
	if created {
		user = &models.User{UserID: event.EntityID, Wallet: event.Signer()}
		stamp(user, params, true)
	} else {
		user = nextVersion(existing, params)
	}

	reader := params.reader()
	reader.str("name", &user.Name)
	reader.str("bio", &user.Bio)
	reader.str("location", &user.Location)
	reader.str("profile_picture_sizes", &user.ProfilePicture)
	reader.str("cover_photo_sizes", &user.CoverPhoto)
	reader.optionalInteger("artist_pick_track_id", &user.ArtistPickTrackID)
	reader.boolean("allow_ai_attribution", &user.AllowAIAttribution)
	reader.boolean("is_deactivated", &user.IsDeactivated)
	reader.document("playlist_library", &user.PlaylistLibrary)
	if reader.err != nil {
		return invalid(params, "%v", reader.err)
	}
	user.MetadataMultihash = params.MetadataCID

	if utf8.RuneCountInString(user.Bio) > UserBioLimit {
		return invalid(params, "bio exceeds %d characters", UserBioLimit)
	}
	if handle, ok, err := params.metadata.str("handle"); err != nil {
		return invalid(params, "%v", err)
	} else if ok {
		if err := setHandle(params, user, handle); err != nil {
			return err
		}
	}
	if user.ArtistPickTrackID != nil {
		track := params.Batch.Track(*user.ArtistPickTrackID)
		if track == nil || track.IsDelete || track.OwnerID != user.UserID {
			return invalid(params, "artist pick %d is not a track of user %d", *user.ArtistPickTrackID, user.UserID)
		}
	}

	params.Batch.Put(user)
	if raw, ok := params.metadata.object("associated_wallets"); ok {
		return syncAssociatedWallets(params, user.UserID, raw)
	}
	return nil
}

func setHandle(params *Params, user *models.User, handle string) error {
	handle = strings.TrimSpace(handle)
	if user.Handle != nil && *user.Handle == handle {
		return nil
	}
	if user.Handle != nil && *user.Handle != "" && !strings.EqualFold(*user.Handle, handle) {
		return invalid(params, "handle cannot be changed")
	}
	if handle == "" || len(handle) > UserHandleLimit || !handlePattern.MatchString(handle) {
		return invalid(params, "handle %q is invalid", handle)
	}
	lowered := normalizeHandle(handle)
	if holder := params.Batch.UserByHandle(lowered); holder != nil && holder.UserID != user.UserID {
		return invalid(params, "handle %q is taken", handle)
	}
	user.Handle = &handle
	user.HandleLC = &lowered
	return nil
}

type walletProof struct {
	Signature string `json:"signature"`
}

// syncAssociatedWallets makes the user's live associated wallets equal to
// the proven set in metadata.
func syncAssociatedWallets(params *Params, userID int64, raw json.RawMessage) error {
	proofs := make(map[string]walletProof)
	if !isNull(raw) {
		if err := json.Unmarshal(raw, &proofs); err != nil {
			return invalid(params, "malformed associated_wallets: %v", err)
		}
	}
	message := params.Config.AppName + "UserID:" + strconv.FormatInt(userID, 10)
	wanted := make(map[string]struct{}, len(proofs))
	for address, proof := range proofs {
		if !common.IsHexAddress(address) {
			return invalid(params, "associated wallet %s is not an address", address)
		}
		recovered, err := params.Recoverer.RecoverSigner(message, proof.Signature)
		if err != nil || normalizeAddress(recovered) != normalizeAddress(address) {
			return invalid(params, "associated wallet %s signature does not verify", address)
		}
		wanted[normalizeAddress(address)] = struct{}{}
	}

	known := params.Batch.associatedWallets(userID)
	for _, wallet := range sortedStrings(wanted) {
		existing := currentAs[*models.AssociatedWallet](params.Batch, associatedWalletKey(userID, wallet))
		if existing != nil && !existing.IsDelete {
			continue
		}
		var row *models.AssociatedWallet
		if existing == nil {
			row = &models.AssociatedWallet{UserID: userID, Wallet: wallet, Chain: "eth"}
			stamp(row, params, true)
		} else {
			row = nextVersion(existing, params)
		}
		row.IsDelete = false
		params.Batch.Put(row)
	}
	for _, existing := range known {
		if _, keep := wanted[existing.Wallet]; keep || existing.IsDelete {
			continue
		}
		row := nextVersion(existing, params)
		row.IsDelete = true
		params.Batch.Put(row)
	}
	return nil
}

// associatedWallets returns the latest version of every associated wallet
// of a user, ordered by wallet.
func (b *Batch) associatedWallets(userID int64) []*models.AssociatedWallet {
	keys := make(map[RecordKey]struct{})
	for key := range b.snapshot.records {
		if key.Type == RecordAssociatedWallet && key.ID == userID {
			keys[key] = struct{}{}
		}
	}
	for _, key := range b.order {
		if key.Type == RecordAssociatedWallet && key.ID == userID {
			keys[key] = struct{}{}
		}
	}
	wallets := make([]*models.AssociatedWallet, 0, len(keys))
	for key := range keys {
		if wallet := currentAs[*models.AssociatedWallet](b, key); wallet != nil {
			wallets = append(wallets, wallet)
		}
	}
	sort.Slice(wallets, func(i, j int) bool { return wallets[i].Wallet < wallets[j].Wallet })
	return wallets
}
