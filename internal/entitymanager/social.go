package entitymanager

import (
	"github.com/MarcoPoloResearchLab/chorus/backend/internal/challenges"
	"github.com/MarcoPoloResearchLab/chorus/backend/internal/models"
)

func followTarget(params *Params) error {
	event := params.Event
	if event.EntityID == event.UserID {
		return invalid(params, "users cannot act on themselves")
	}
	if params.Batch.User(event.EntityID) == nil {
		return invalid(params, "user %d does not exist", event.EntityID)
	}
	return nil
}

func validateFollow(params *Params) error {
	if err := followTarget(params); err != nil {
		return err
	}
	follow := currentAs[*models.Follow](params.Batch, followKey(params.Event.UserID, params.Event.EntityID))
	if follow != nil && !follow.IsDelete {
		return invalid(params, "user %d already follows %d", params.Event.UserID, params.Event.EntityID)
	}
	return nil
}

func validateUnfollow(params *Params) error {
	if err := followTarget(params); err != nil {
		return err
	}
	follow := currentAs[*models.Follow](params.Batch, followKey(params.Event.UserID, params.Event.EntityID))
	if follow == nil || follow.IsDelete {
		return invalid(params, "user %d does not follow %d", params.Event.UserID, params.Event.EntityID)
	}
	return nil
}

func applyFollow(params *Params) error {
	event := params.Event
	batch := params.Batch
	existing := currentAs[*models.Follow](batch, followKey(event.UserID, event.EntityID))
	var follow *models.Follow
	if existing == nil {
		follow = &models.Follow{FollowerUserID: event.UserID, FolloweeUserID: event.EntityID}
		stamp(follow, params, true)
	} else {
		follow = nextVersion(existing, params)
	}
	follow.IsDelete = false
	batch.Put(follow)
	setSubscription(params, event.UserID, event.EntityID, false)

	batch.addUserDelta(event.EntityID, counterFollowerCount, 1)
	batch.addUserDelta(event.UserID, counterFollowingCount, 1)
	batch.dispatch(challenges.KindFollow, event.UserID, map[string]interface{}{"followee_user_id": event.EntityID})
	return nil
}

func applyUnfollow(params *Params) error {
	event := params.Event
	batch := params.Batch
	existing := currentAs[*models.Follow](batch, followKey(event.UserID, event.EntityID))
	follow := nextVersion(existing, params)
	follow.IsDelete = true
	batch.Put(follow)
	setSubscription(params, event.UserID, event.EntityID, true)

	batch.addUserDelta(event.EntityID, counterFollowerCount, -1)
	batch.addUserDelta(event.UserID, counterFollowingCount, -1)
	return nil
}

// setSubscription writes a subscription version unless it is already in
// the requested state.
func setSubscription(params *Params, subscriberID, userID int64, deleted bool) {
	existing := currentAs[*models.Subscription](params.Batch, subscriptionKey(subscriberID, userID))
	if existing == nil && deleted {
		return
	}
	if existing != nil && existing.IsDelete == deleted {
		return
	}
	var subscription *models.Subscription
	if existing == nil {
		subscription = &models.Subscription{SubscriberID: subscriberID, UserID: userID}
		stamp(subscription, params, true)
	} else {
		subscription = nextVersion(existing, params)
	}
	subscription.IsDelete = deleted
	params.Batch.Put(subscription)
}

func validateSubscribe(params *Params) error {
	if err := followTarget(params); err != nil {
		return err
	}
	subscription := currentAs[*models.Subscription](params.Batch, subscriptionKey(params.Event.UserID, params.Event.EntityID))
	if subscription != nil && !subscription.IsDelete {
		return invalid(params, "user %d is already subscribed to %d", params.Event.UserID, params.Event.EntityID)
	}
	return nil
}

func validateUnsubscribe(params *Params) error {
	if err := followTarget(params); err != nil {
		return err
	}
	subscription := currentAs[*models.Subscription](params.Batch, subscriptionKey(params.Event.UserID, params.Event.EntityID))
	if subscription == nil || subscription.IsDelete {
		return invalid(params, "user %d is not subscribed to %d", params.Event.UserID, params.Event.EntityID)
	}
	return nil
}

func applySubscribe(params *Params) error {
	setSubscription(params, params.Event.UserID, params.Event.EntityID, false)
	return nil
}

func applyUnsubscribe(params *Params) error {
	setSubscription(params, params.Event.UserID, params.Event.EntityID, true)
	return nil
}

// socialTarget describes the item a save or repost acts on.
type socialTarget struct {
	kind    string
	ownerID int64
	hidden  bool
}

// resolveTarget finds the saved or reposted item. Albums are keyed under
// their own kind.
func resolveTarget(params *Params, kind string) (socialTarget, error) {
	itemID := params.Event.EntityID
	if kind == KindTrack {
		track := params.Batch.Track(itemID)
		if track == nil || track.IsDelete {
			return socialTarget{}, invalid(params, "track %d does not exist", itemID)
		}
		return socialTarget{
			kind:    KindTrack,
			ownerID: track.OwnerID,
			hidden:  track.IsUnlisted && track.OwnerID != params.Event.UserID,
		}, nil
	}
	playlist := params.Batch.Playlist(itemID)
	if playlist == nil || playlist.IsDelete {
		return socialTarget{}, invalid(params, "playlist %d does not exist", itemID)
	}
	target := socialTarget{
		kind:    KindPlaylist,
		ownerID: playlist.PlaylistOwnerID,
		hidden:  playlist.IsPrivate && playlist.PlaylistOwnerID != params.Event.UserID,
	}
	if playlist.IsAlbum {
		target.kind = KindAlbum
	}
	return target, nil
}

func applySave(kind string) func(*Params) error {
	return func(params *Params) error {
		event := params.Event
		target, err := resolveTarget(params, kind)
		if err != nil {
			return err
		}
		if target.hidden {
			return nil
		}
		existing := currentAs[*models.Save](params.Batch, saveKey(event.UserID, target.kind, event.EntityID))
		if existing != nil && !existing.IsDelete {
			return invalid(params, "%s %d is already saved", target.kind, event.EntityID)
		}
		var save *models.Save
		if existing == nil {
			save = &models.Save{UserID: event.UserID, SaveItemID: event.EntityID, SaveType: target.kind}
			stamp(save, params, true)
		} else {
			save = nextVersion(existing, params)
		}
		save.IsDelete = false
		save.IsSaveOfRepost = parseOptionalFlag(event.Metadata, "is_save_of_repost", false)
		params.Batch.Put(save)
		params.Batch.addItemDelta(target.kind, event.EntityID, counterSaveCount, 1)
		params.Batch.dispatch(challenges.KindFavorite, event.UserID, map[string]interface{}{"item_type": target.kind, "item_id": event.EntityID})
		return nil
	}
}

func applyUnsave(kind string) func(*Params) error {
	return func(params *Params) error {
		event := params.Event
		target, err := resolveTarget(params, kind)
		if err != nil {
			return err
		}
		if target.hidden {
			return nil
		}
		existing := currentAs[*models.Save](params.Batch, saveKey(event.UserID, target.kind, event.EntityID))
		if existing == nil || existing.IsDelete {
			return invalid(params, "%s %d is not saved", target.kind, event.EntityID)
		}
		save := nextVersion(existing, params)
		save.IsDelete = true
		params.Batch.Put(save)
		params.Batch.addItemDelta(target.kind, event.EntityID, counterSaveCount, -1)
		return nil
	}
}

func applyRepost(kind string) func(*Params) error {
	return func(params *Params) error {
		event := params.Event
		target, err := resolveTarget(params, kind)
		if err != nil {
			return err
		}
		if target.ownerID == event.UserID {
			return invalid(params, "users cannot repost their own %s", target.kind)
		}
		if target.hidden {
			return nil
		}
		existing := currentAs[*models.Repost](params.Batch, repostKey(event.UserID, target.kind, event.EntityID))
		if existing != nil && !existing.IsDelete {
			return invalid(params, "%s %d is already reposted", target.kind, event.EntityID)
		}
		var repost *models.Repost
		if existing == nil {
			repost = &models.Repost{UserID: event.UserID, RepostItemID: event.EntityID, RepostType: target.kind}
			stamp(repost, params, true)
		} else {
			repost = nextVersion(existing, params)
		}
		repost.IsDelete = false
		repost.IsRepostOfRepost = parseOptionalFlag(event.Metadata, "is_repost_of_repost", false)
		params.Batch.Put(repost)
		params.Batch.addItemDelta(target.kind, event.EntityID, counterRepostCount, 1)
		params.Batch.dispatch(challenges.KindRepost, event.UserID, map[string]interface{}{"item_type": target.kind, "item_id": event.EntityID})
		return nil
	}
}

func applyUnrepost(kind string) func(*Params) error {
	return func(params *Params) error {
		event := params.Event
		target, err := resolveTarget(params, kind)
		if err != nil {
			return err
		}
		if target.hidden {
			return nil
		}
		existing := currentAs[*models.Repost](params.Batch, repostKey(event.UserID, target.kind, event.EntityID))
		if existing == nil || existing.IsDelete {
			return invalid(params, "%s %d is not reposted", target.kind, event.EntityID)
		}
		repost := nextVersion(existing, params)
		repost.IsDelete = true
		params.Batch.Put(repost)
		params.Batch.addItemDelta(target.kind, event.EntityID, counterRepostCount, -1)
		return nil
	}
}
