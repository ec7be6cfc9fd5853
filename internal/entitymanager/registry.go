package entitymanager

import "sort"

type authPolicy int

const (
	// authUser requires the signer to be the user's wallet or an active
	// delegate of the user.
	authUser authPolicy = iota
	// authNewUser binds the signer as the wallet of a user being created.
	authNewUser
	// authDashboardWallet additionally accepts the linked wallet itself.
	authDashboardWallet
)

type handler struct {
	table    RecordType
	metadata metadataFormat
	auth     authPolicy
	validate func(*Params) error
	apply    func(*Params) error
}

// Registry is the closed table of replayable entity types and actions.
type Registry struct {
	handlers map[EntityType]map[Action]handler
}

// NewRegistry builds the handler table for the enabled entity types.
// Unknown types are ignored.
func NewRegistry(enabled []EntityType) *Registry {
	registry := &Registry{handlers: make(map[EntityType]map[Action]handler)}
	for _, entityType := range enabled {
		if actions := handlersFor(entityType); actions != nil {
			registry.handlers[entityType] = actions
		}
	}
	return registry
}

func handlersFor(entityType EntityType) map[Action]handler {
	switch entityType {
	case EntityTypeUser:
		return map[Action]handler{
			ActionCreate:      {table: RecordUser, metadata: metadataContentAddressed, auth: authNewUser, validate: validateCreateUser, apply: applyUser},
			ActionUpdate:      {table: RecordUser, metadata: metadataContentAddressed, auth: authUser, validate: validateUpdateUser, apply: applyUser},
			ActionFollow:      {table: RecordFollow, metadata: metadataNone, auth: authUser, validate: validateFollow, apply: applyFollow},
			ActionUnfollow:    {table: RecordFollow, metadata: metadataNone, auth: authUser, validate: validateUnfollow, apply: applyUnfollow},
			ActionSubscribe:   {table: RecordSubscription, metadata: metadataNone, auth: authUser, validate: validateSubscribe, apply: applySubscribe},
			ActionUnsubscribe: {table: RecordSubscription, metadata: metadataNone, auth: authUser, validate: validateUnsubscribe, apply: applyUnsubscribe},
		}
	case EntityTypeTrack:
		return map[Action]handler{
			ActionCreate:   {table: RecordTrack, metadata: metadataContentAddressed, auth: authUser, validate: validateCreateTrack, apply: applyTrack},
			ActionUpdate:   {table: RecordTrack, metadata: metadataContentAddressed, auth: authUser, validate: validateUpdateTrack, apply: applyTrack},
			ActionDelete:   {table: RecordTrack, metadata: metadataNone, auth: authUser, validate: validateDeleteTrack, apply: applyDeleteTrack},
			ActionSave:     {table: RecordSave, metadata: metadataNone, auth: authUser, apply: applySave(KindTrack)},
			ActionUnsave:   {table: RecordSave, metadata: metadataNone, auth: authUser, apply: applyUnsave(KindTrack)},
			ActionRepost:   {table: RecordRepost, metadata: metadataNone, auth: authUser, apply: applyRepost(KindTrack)},
			ActionUnrepost: {table: RecordRepost, metadata: metadataNone, auth: authUser, apply: applyUnrepost(KindTrack)},
		}
	case EntityTypePlaylist:
		return map[Action]handler{
			ActionCreate:   {table: RecordPlaylist, metadata: metadataContentAddressed, auth: authUser, validate: validateCreatePlaylist, apply: applyPlaylist},
			ActionUpdate:   {table: RecordPlaylist, metadata: metadataContentAddressed, auth: authUser, validate: validateUpdatePlaylist, apply: applyPlaylist},
			ActionDelete:   {table: RecordPlaylist, metadata: metadataNone, auth: authUser, validate: validateDeletePlaylist, apply: applyDeletePlaylist},
			ActionSave:     {table: RecordSave, metadata: metadataNone, auth: authUser, apply: applySave(KindPlaylist)},
			ActionUnsave:   {table: RecordSave, metadata: metadataNone, auth: authUser, apply: applyUnsave(KindPlaylist)},
			ActionRepost:   {table: RecordRepost, metadata: metadataNone, auth: authUser, apply: applyRepost(KindPlaylist)},
			ActionUnrepost: {table: RecordRepost, metadata: metadataNone, auth: authUser, apply: applyUnrepost(KindPlaylist)},
		}
	case EntityTypeGrant:
		return map[Action]handler{
			ActionCreate:  {table: RecordGrant, metadata: metadataInline, auth: authUser, validate: validateCreateGrant, apply: applyCreateGrant},
			ActionDelete:  {table: RecordGrant, metadata: metadataInline, auth: authUser, validate: validateDeleteGrant, apply: applyDeleteGrant},
			ActionApprove: {table: RecordGrant, metadata: metadataInline, auth: authUser, validate: validateGrantDecision, apply: applyGrantDecision(true)},
			ActionReject:  {table: RecordGrant, metadata: metadataInline, auth: authUser, validate: validateGrantDecision, apply: applyGrantDecision(false)},
		}
	case EntityTypeDeveloperApp:
		return map[Action]handler{
			ActionCreate: {table: RecordDeveloperApp, metadata: metadataInline, auth: authUser, validate: validateCreateDeveloperApp, apply: applyCreateDeveloperApp},
			ActionUpdate: {table: RecordDeveloperApp, metadata: metadataInline, auth: authUser, validate: validateUpdateDeveloperApp, apply: applyUpdateDeveloperApp},
			ActionDelete: {table: RecordDeveloperApp, metadata: metadataInline, auth: authUser, validate: validateDeleteDeveloperApp, apply: applyDeleteDeveloperApp},
		}
	case EntityTypeDashboardWalletUser:
		return map[Action]handler{
			ActionCreate: {table: RecordDashboardWalletUser, metadata: metadataInline, auth: authUser, validate: validateCreateDashboardWallet, apply: applyCreateDashboardWallet},
			ActionDelete: {table: RecordDashboardWalletUser, metadata: metadataInline, auth: authDashboardWallet, validate: validateDeleteDashboardWallet, apply: applyDeleteDashboardWallet},
		}
	case EntityTypeNotification:
		return map[Action]handler{
			ActionView: {table: RecordPlaylistSeen, metadata: metadataNone, auth: authUser, validate: validateViewPlaylist, apply: applyViewPlaylist},
		}
	default:
		return nil
	}
}

func (r *Registry) lookup(entityType EntityType, action Action) (handler, bool) {
	actions, ok := r.handlers[entityType]
	if !ok {
		return handler{}, false
	}
	h, ok := actions[action]
	return h, ok
}

// Enabled reports whether the entity type is replayed.
func (r *Registry) Enabled(entityType EntityType) bool {
	_, ok := r.handlers[entityType]
	return ok
}

// Supports reports whether the action is valid for the entity type.
func (r *Registry) Supports(entityType EntityType, action Action) bool {
	_, ok := r.lookup(entityType, action)
	return ok
}

// Actions lists the valid actions of an entity type in name order.
func (r *Registry) Actions(entityType EntityType) []Action {
	actions := make([]Action, 0, len(r.handlers[entityType]))
	for action := range r.handlers[entityType] {
		actions = append(actions, action)
	}
	sort.Slice(actions, func(i, j int) bool { return actions[i] < actions[j] })
	return actions
}

// Table returns the record type an action writes its primary row to.
func (r *Registry) Table(entityType EntityType, action Action) (RecordType, bool) {
	h, ok := r.lookup(entityType, action)
	return h.table, ok
}
