package permission

import (
	"context"
	"fmt"
	"sync"

	"github.com/chatplatform/gateway/internal/protocol"
	"github.com/google/uuid"
)

// Filter maintains one session's hidden-channel set: the guild channels the session's
// user lacks VIEW_CHANNEL on, after folding the guild's roles and the channel's
// overwrites. Guild owners always bypass filtering, so an owned guild's channels are
// never added.
type Filter struct {
	userID uuid.UUID
	dir    Directory

	mu     sync.Mutex
	hidden map[uuid.UUID]struct{}
	owned  map[uuid.UUID]bool
}

// NewFilter creates an empty Filter for userID. Call Seed before using it to filter
// anything.
func NewFilter(userID uuid.UUID, dir Directory) *Filter {
	return &Filter{
		userID: userID,
		dir:    dir,
		hidden: make(map[uuid.UUID]struct{}),
		owned:  make(map[uuid.UUID]bool),
	}
}

// Seed computes the initial hidden set from guilds. Owned guilds are recorded and
// skipped; every other guild's channels are fetched and recomputed.
func (f *Filter) Seed(ctx context.Context, guilds []protocol.GuildRef) error {
	for _, g := range guilds {
		owned := g.OwnerID == f.userID
		f.mu.Lock()
		f.owned[g.ID] = owned
		f.mu.Unlock()
		if owned {
			continue
		}

		channels, err := f.dir.GuildChannels(ctx, g.ID)
		if err != nil {
			return fmt.Errorf("permission: seed guild %s: %w", g.ID, err)
		}
		f.recompute(g.Roles, channels)
	}
	return nil
}

// IsHidden reports whether channelID is currently in the hidden set.
func (f *Filter) IsHidden(channelID uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, hidden := f.hidden[channelID]
	return hidden
}

// DropsMessage reports whether an event on channelID should be dropped at egress,
// per the MessageCreate/MessageUpdate/MessageDelete filter rule.
func (f *Filter) DropsMessage(channelID uuid.UUID) bool {
	return f.IsHidden(channelID)
}

// OnGuildCreate records whether the user owns g and, if not, recomputes every channel
// in it.
func (f *Filter) OnGuildCreate(ctx context.Context, g protocol.GuildRef) error {
	owned := g.OwnerID == f.userID
	f.mu.Lock()
	f.owned[g.ID] = owned
	f.mu.Unlock()
	if owned {
		return nil
	}

	channels, err := f.dir.GuildChannels(ctx, g.ID)
	if err != nil {
		return fmt.Errorf("permission: guild create %s: %w", g.ID, err)
	}
	f.recompute(g.Roles, channels)
	return nil
}

// OnGuildRemove forgets the guild's ownership record. Any hidden entries for its
// channels are left in place — stale, but harmless, since the user no longer receives
// events for that guild at all.
func (f *Filter) OnGuildRemove(guildID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.owned, guildID)
}

// OnChannelCreate recomputes a single newly created guild channel. DM channels never
// participate in the hidden set and are ignored.
func (f *Filter) OnChannelCreate(ctx context.Context, ch protocol.ChannelRef) error {
	return f.recomputeOne(ctx, ch)
}

// OnChannelUpdate recomputes a single guild channel after its overwrites or metadata
// changed.
func (f *Filter) OnChannelUpdate(ctx context.Context, ch protocol.ChannelRef) error {
	return f.recomputeOne(ctx, ch)
}

// OnChannelDelete removes channelID's entry, if any. The set would tolerate leaving it
// (spec.md's "implicitly stale but need not be eagerly cleaned"); removing it anyway is
// free bookkeeping, not a correctness requirement.
func (f *Filter) OnChannelDelete(channelID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.hidden, channelID)
}

// OnRoleChange handles RoleCreate/RoleUpdate: both require refetching the guild's roles
// and every one of its channels, then recomputing all of them.
func (f *Filter) OnRoleChange(ctx context.Context, guildID uuid.UUID) error {
	f.mu.Lock()
	owned := f.owned[guildID]
	f.mu.Unlock()
	if owned {
		return nil
	}

	g, err := f.dir.Guild(ctx, f.userID, guildID)
	if err != nil {
		return fmt.Errorf("permission: role change, refetch guild %s: %w", guildID, err)
	}
	channels, err := f.dir.GuildChannels(ctx, guildID)
	if err != nil {
		return fmt.Errorf("permission: role change, refetch channels %s: %w", guildID, err)
	}
	f.recompute(g.Roles, channels)
	return nil
}

func (f *Filter) recomputeOne(ctx context.Context, ch protocol.ChannelRef) error {
	if ch.Kind != protocol.ChannelKindGuild || ch.GuildID == nil {
		return nil
	}

	f.mu.Lock()
	owned := f.owned[*ch.GuildID]
	f.mu.Unlock()
	if owned {
		return nil
	}

	g, err := f.dir.Guild(ctx, f.userID, *ch.GuildID)
	if err != nil {
		return fmt.Errorf("permission: recompute channel %s: %w", ch.ID, err)
	}
	f.setHidden(ch.ID, !effectivePermission(g.Roles, ch.Overwrites, f.userID).Has(protocol.PermissionViewChannel))
	return nil
}

func (f *Filter) recompute(roles []protocol.Role, channels []ChannelInfo) {
	for _, ch := range channels {
		allowed := effectivePermission(roles, ch.Overwrites, f.userID).Has(protocol.PermissionViewChannel)
		f.setHidden(ch.ID, !allowed)
	}
}

func (f *Filter) setHidden(channelID uuid.UUID, hidden bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if hidden {
		f.hidden[channelID] = struct{}{}
	} else {
		delete(f.hidden, channelID)
	}
}

// effectivePermission folds roles (the roles the user holds in the guild), then merges
// every overwrite whose id names one of those roles into a single allow/deny pair and
// applies it in one step, then applies the single overwrite (if any) naming the user
// directly on top — highest precedence. Merging role overwrites before applying keeps
// the result independent of overwrite order: a deny from any held role always beats an
// allow from another, rather than whichever overwrite happens to apply last.
func effectivePermission(roles []protocol.Role, overwrites []protocol.Overwrite, userID uuid.UUID) protocol.Permission {
	base := protocol.FoldRoles(roles)

	roleIDs := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		roleIDs[r.ID] = struct{}{}
	}

	var roleAllow, roleDeny protocol.Permission
	var userOverwrite *protocol.Overwrite
	userIDStr := userID.String()
	for i := range overwrites {
		ow := &overwrites[i]
		if ow.ID == userIDStr {
			userOverwrite = ow
			continue
		}
		if _, held := roleIDs[ow.ID]; held {
			roleAllow = roleAllow.Add(ow.Allow)
			roleDeny = roleDeny.Add(ow.Deny)
		}
	}

	base = base.Add(roleAllow)
	base = base.Remove(roleDeny)

	if userOverwrite != nil {
		base = base.Add(userOverwrite.Allow)
		base = base.Remove(userOverwrite.Deny)
	}
	return base
}
