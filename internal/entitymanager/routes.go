package entitymanager

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/MarcoPoloResearchLab/chorus/backend/internal/models"
)

const reservedSlugCharacters = "!*'();:@&=+$,/?#[]<>\"{}|\\^`%."

// sanitizeSlug lowercases title, strips accents, turns whitespace into
// dashes and drops URL-reserved punctuation.
func sanitizeSlug(title string) string {
	stripped, _, err := transform.String(transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), title)
	if err != nil {
		stripped = title
	}
	var builder strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(strings.TrimSpace(stripped)) {
		switch {
		case unicode.IsSpace(r) || r == '-':
			if !lastDash {
				builder.WriteRune('-')
				lastDash = true
			}
		case strings.ContainsRune(reservedSlugCharacters, r), !unicode.IsPrint(r):
		default:
			builder.WriteRune(r)
			lastDash = false
		}
	}
	return strings.Trim(builder.String(), "-")
}

type routeView struct {
	slug        string
	titleSlug   string
	collisionID int64
	entityID    int64
}

func viewRoute(record Record) routeView {
	switch row := record.(type) {
	case *models.TrackRoute:
		return routeView{slug: row.Slug, titleSlug: row.TitleSlug, collisionID: row.CollisionID, entityID: row.TrackID}
	case *models.PlaylistRoute:
		return routeView{slug: row.Slug, titleSlug: row.TitleSlug, collisionID: row.CollisionID, entityID: row.PlaylistID}
	default:
		return routeView{}
	}
}

func newRouteRecord(recordType RecordType, view routeView, ownerID int64) Record {
	if recordType == RecordTrackRoute {
		return &models.TrackRoute{Slug: view.slug, TitleSlug: view.titleSlug, CollisionID: view.collisionID, OwnerID: ownerID, TrackID: view.entityID}
	}
	return &models.PlaylistRoute{Slug: view.slug, TitleSlug: view.titleSlug, CollisionID: view.collisionID, OwnerID: ownerID, PlaylistID: view.entityID}
}

func routeKeyFor(recordType RecordType, entityID int64) RecordKey {
	if recordType == RecordTrackRoute {
		return trackRouteKey(entityID)
	}
	return playlistRouteKey(entityID)
}

// assignRoute points the entity's current route at the slug derived from
// title. Collision ids are allocated across every route ever written for
// the same title slug, regardless of owner. Returning to a slug the entity
// held before reactivates that route instead of allocating a new one.
func assignRoute(params *Params, recordType RecordType, entityID, ownerID int64, title string) {
	batch := params.Batch
	base := sanitizeSlug(title)
	if base == "" {
		base = strconv.FormatInt(entityID, 10)
	}
	current := batch.Current(routeKeyFor(recordType, entityID))
	if current != nil && viewRoute(current).titleSlug == base {
		return
	}

	all := batch.routes(recordType)
	for index := len(all) - 1; index >= 0; index-- {
		candidate := all[index]
		view := viewRoute(candidate)
		if view.entityID != entityID || view.titleSlug != base {
			continue
		}
		if candidate.Versioning().RowID == 0 {
			batch.withdraw(candidate)
			batch.Put(candidate)
			return
		}
		reactivated := cloneRecord(candidate)
		reactivated.Versioning().IsCurrent = true
		batch.Put(reactivated)
		return
	}

	if current == nil && params.Event.Action == ActionUpdate {
		legacySlug := base + "-" + strconv.FormatInt(entityID, 10)
		legacy := newRouteRecord(recordType, routeView{slug: legacySlug, titleSlug: legacySlug, entityID: entityID}, ownerID)
		stamp(legacy, params, true)
		legacy.Versioning().IsCurrent = false
		batch.Put(legacy)
		all = append(all, legacy)
	}

	taken := make(map[string]struct{}, len(all))
	var maxCollision int64 = -1
	for _, route := range all {
		view := viewRoute(route)
		taken[view.slug] = struct{}{}
		if view.titleSlug == base && view.collisionID > maxCollision {
			maxCollision = view.collisionID
		}
	}
	collision := maxCollision + 1
	slug := base
	if collision > 0 {
		slug = base + "-" + strconv.FormatInt(collision, 10)
	}
	for {
		if _, exists := taken[slug]; !exists {
			break
		}
		collision++
		slug = base + "-" + strconv.FormatInt(collision, 10)
	}

	route := newRouteRecord(recordType, routeView{slug: slug, titleSlug: base, collisionID: collision, entityID: entityID}, ownerID)
	stamp(route, params, true)
	batch.Put(route)
}
