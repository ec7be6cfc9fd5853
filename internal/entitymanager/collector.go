package entitymanager

import (
	"encoding/json"
	"sort"
)

// FetchPlan lists every existing row a block needs, grouped by how it is
// looked up.
type FetchPlan struct {
	ids        map[RecordType]map[int64]struct{}
	keys       map[RecordType]map[RecordKey]struct{}
	addresses  map[RecordType]map[string]struct{}
	titleSlugs map[RecordType]map[string]struct{}
	wallets    map[string]struct{}
	handles    map[string]struct{}
	appOwners  map[int64]struct{}
}

func newFetchPlan() *FetchPlan {
	return &FetchPlan{
		ids:        make(map[RecordType]map[int64]struct{}),
		keys:       make(map[RecordType]map[RecordKey]struct{}),
		addresses:  make(map[RecordType]map[string]struct{}),
		titleSlugs: make(map[RecordType]map[string]struct{}),
		wallets:    make(map[string]struct{}),
		handles:    make(map[string]struct{}),
		appOwners:  make(map[int64]struct{}),
	}
}

func (p *FetchPlan) addID(recordType RecordType, id int64) {
	if id <= 0 {
		return
	}
	if p.ids[recordType] == nil {
		p.ids[recordType] = make(map[int64]struct{})
	}
	p.ids[recordType][id] = struct{}{}
}

func (p *FetchPlan) addKey(key RecordKey) {
	if p.keys[key.Type] == nil {
		p.keys[key.Type] = make(map[RecordKey]struct{})
	}
	p.keys[key.Type][key] = struct{}{}
}

func (p *FetchPlan) addAddress(recordType RecordType, address string) {
	address = normalizeAddress(address)
	if address == "" {
		return
	}
	if p.addresses[recordType] == nil {
		p.addresses[recordType] = make(map[string]struct{})
	}
	p.addresses[recordType][address] = struct{}{}
}

func (p *FetchPlan) addTitleSlug(recordType RecordType, slug string) {
	if slug == "" {
		return
	}
	if p.titleSlugs[recordType] == nil {
		p.titleSlugs[recordType] = make(map[string]struct{})
	}
	p.titleSlugs[recordType][slug] = struct{}{}
}

func (p *FetchPlan) addWallet(wallet string) {
	wallet = normalizeAddress(wallet)
	if wallet != "" {
		p.wallets[wallet] = struct{}{}
	}
}

// IDs returns the sorted ids planned for a record type.
func (p *FetchPlan) IDs(recordType RecordType) []int64 {
	ids := make([]int64, 0, len(p.ids[recordType]))
	for id := range p.ids[recordType] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Keys returns the composite keys planned for a record type.
func (p *FetchPlan) Keys(recordType RecordType) []RecordKey {
	keys := make([]RecordKey, 0, len(p.keys[recordType]))
	for key := range p.keys[recordType] {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ID != keys[j].ID {
			return keys[i].ID < keys[j].ID
		}
		if keys[i].Target != keys[j].Target {
			return keys[i].Target < keys[j].Target
		}
		if keys[i].Kind != keys[j].Kind {
			return keys[i].Kind < keys[j].Kind
		}
		return keys[i].Address < keys[j].Address
	})
	return keys
}

// Addresses returns the sorted addresses planned for a record type.
func (p *FetchPlan) Addresses(recordType RecordType) []string {
	return sortedStrings(p.addresses[recordType])
}

// TitleSlugs returns the sorted route title slugs planned for a route table.
func (p *FetchPlan) TitleSlugs(recordType RecordType) []string {
	return sortedStrings(p.titleSlugs[recordType])
}

// Wallets returns the sorted wallets whose users are planned.
func (p *FetchPlan) Wallets() []string {
	return sortedStrings(p.wallets)
}

// Handles returns the sorted lowercased handles whose users are planned.
func (p *FetchPlan) Handles() []string {
	return sortedStrings(p.handles)
}

// AppOwners returns the sorted user ids whose developer apps are planned.
func (p *FetchPlan) AppOwners() []int64 {
	owners := make([]int64, 0, len(p.appOwners))
	for owner := range p.appOwners {
		owners = append(owners, owner)
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i] < owners[j] })
	return owners
}

func sortedStrings(set map[string]struct{}) []string {
	values := make([]string, 0, len(set))
	for value := range set {
		values = append(values, value)
	}
	sort.Strings(values)
	return values
}

// CollectDependencies scans a block's events and plans every row they may
// read. Malformed metadata only narrows the plan; the event itself fails
// later during validation.
func CollectDependencies(events []Event) *FetchPlan {
	plan := newFetchPlan()
	for _, event := range events {
		plan.addID(RecordUser, event.UserID)
		if signer := event.Signer(); signer != "" {
			plan.addKey(grantKey(signer, event.UserID))
			plan.addAddress(RecordDeveloperApp, signer)
			plan.addWallet(signer)
		}
		switch event.EntityType {
		case EntityTypeUser:
			collectUser(plan, event)
		case EntityTypeTrack:
			collectTrack(plan, event)
		case EntityTypePlaylist:
			collectPlaylist(plan, event)
		case EntityTypeGrant:
			collectGrant(plan, event)
		case EntityTypeDeveloperApp:
			collectDeveloperApp(plan, event)
		case EntityTypeDashboardWalletUser:
			collectDashboardWallet(plan, event)
		case EntityTypeNotification:
			if event.Action == ActionView {
				plan.addID(RecordPlaylist, event.EntityID)
				plan.addKey(playlistSeenKey(event.UserID, event.EntityID))
			}
		}
	}
	return plan
}

func collectUser(plan *FetchPlan, event Event) {
	plan.addID(RecordUser, event.EntityID)
	switch event.Action {
	case ActionCreate, ActionUpdate:
		plan.addID(RecordAssociatedWallet, event.EntityID)
		fields, _, err := parseMetadata(event.Metadata, metadataContentAddressed)
		if err != nil {
			return
		}
		if handle, ok, err := fields.str("handle"); err == nil && ok {
			plan.handles[normalizeHandle(handle)] = struct{}{}
		}
		if pick, ok, err := fields.integer("artist_pick_track_id"); err == nil && ok && pick != nil {
			plan.addID(RecordTrack, *pick)
		}
		if raw, ok := fields.object("associated_wallets"); ok {
			var wallets map[string]json.RawMessage
			if json.Unmarshal(raw, &wallets) == nil {
				for wallet := range wallets {
					plan.addKey(associatedWalletKey(event.EntityID, wallet))
				}
			}
		}
	case ActionFollow, ActionUnfollow:
		plan.addKey(followKey(event.UserID, event.EntityID))
		plan.addKey(subscriptionKey(event.UserID, event.EntityID))
	case ActionSubscribe, ActionUnsubscribe:
		plan.addKey(subscriptionKey(event.UserID, event.EntityID))
	}
}

func collectTrack(plan *FetchPlan, event Event) {
	plan.addID(RecordTrack, event.EntityID)
	switch event.Action {
	case ActionCreate, ActionUpdate, ActionDelete:
		plan.addID(RecordTrackRoute, event.EntityID)
		plan.addID(RecordTrackPriceHistory, event.EntityID)
		if event.Action == ActionDelete {
			return
		}
		fields, _, err := parseMetadata(event.Metadata, metadataContentAddressed)
		if err != nil {
			return
		}
		if title, ok, err := fields.str("title"); err == nil && ok {
			plan.addTitleSlug(RecordTrackRoute, sanitizeSlug(title))
		}
		if raw, ok := fields.object("stem_of"); ok {
			var stem stemOf
			if json.Unmarshal(raw, &stem) == nil {
				plan.addID(RecordTrack, stem.ParentTrackID)
			}
		}
	case ActionSave, ActionUnsave:
		plan.addKey(saveKey(event.UserID, KindTrack, event.EntityID))
	case ActionRepost, ActionUnrepost:
		plan.addKey(repostKey(event.UserID, KindTrack, event.EntityID))
	}
}

func collectPlaylist(plan *FetchPlan, event Event) {
	plan.addID(RecordPlaylist, event.EntityID)
	switch event.Action {
	case ActionCreate, ActionUpdate, ActionDelete:
		plan.addID(RecordPlaylistRoute, event.EntityID)
		plan.addID(RecordPlaylistPriceHistory, event.EntityID)
		plan.addID(RecordPlaylistTrack, event.EntityID)
		if event.Action == ActionDelete {
			return
		}
		fields, _, err := parseMetadata(event.Metadata, metadataContentAddressed)
		if err != nil {
			return
		}
		if name, ok, err := fields.str("playlist_name"); err == nil && ok {
			plan.addTitleSlug(RecordPlaylistRoute, sanitizeSlug(name))
		}
		if raw, ok := fields.object("playlist_contents"); ok {
			if contents, err := decodePlaylistContents(raw); err == nil {
				for _, entry := range contents.TrackIDs {
					plan.addID(RecordTrack, entry.Track)
				}
			}
		}
	case ActionSave, ActionUnsave:
		plan.addKey(saveKey(event.UserID, KindPlaylist, event.EntityID))
		plan.addKey(saveKey(event.UserID, KindAlbum, event.EntityID))
	case ActionRepost, ActionUnrepost:
		plan.addKey(repostKey(event.UserID, KindPlaylist, event.EntityID))
		plan.addKey(repostKey(event.UserID, KindAlbum, event.EntityID))
	}
}

func collectGrant(plan *FetchPlan, event Event) {
	fields, _, err := parseMetadata(event.Metadata, metadataInline)
	if err != nil {
		return
	}
	switch event.Action {
	case ActionCreate, ActionDelete:
		if grantee, ok, err := fields.str("grantee_address"); err == nil && ok {
			plan.addKey(grantKey(grantee, event.UserID))
			plan.addAddress(RecordDeveloperApp, grantee)
			plan.addWallet(grantee)
		}
	case ActionApprove, ActionReject:
		grantor, ok, err := fields.integer("grantor_user_id")
		if err != nil || !ok || grantor == nil {
			return
		}
		plan.addID(RecordUser, *grantor)
		grantee := event.Signer()
		if explicit, ok, err := fields.str("grantee_address"); err == nil && ok && explicit != "" {
			grantee = explicit
			plan.addAddress(RecordDeveloperApp, explicit)
		}
		plan.addKey(grantKey(grantee, *grantor))
	}
}

func collectDeveloperApp(plan *FetchPlan, event Event) {
	fields, _, err := parseMetadata(event.Metadata, metadataInline)
	if err != nil {
		return
	}
	if address, ok, err := fields.str("address"); err == nil && ok {
		plan.addAddress(RecordDeveloperApp, address)
		plan.addWallet(address)
	}
	if event.Action == ActionCreate {
		plan.appOwners[event.UserID] = struct{}{}
	}
}

func collectDashboardWallet(plan *FetchPlan, event Event) {
	fields, _, err := parseMetadata(event.Metadata, metadataInline)
	if err != nil {
		return
	}
	if wallet, ok, err := fields.str("wallet"); err == nil && ok {
		plan.addAddress(RecordDashboardWalletUser, wallet)
		plan.addWallet(wallet)
	}
}
