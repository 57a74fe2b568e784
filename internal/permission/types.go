// Package permission implements C5: the per-session hidden-channel set, seeded from a
// guild's sorted roles and a channel's overwrites, maintained as Channel/Role events
// arrive during the session.
package permission

import (
	"context"

	"github.com/chatplatform/gateway/internal/protocol"
	"github.com/google/uuid"
)

// Directory is the external collaborator C5 refetches from on Channel/Role events — the
// permission-calculation and guild-membership system this gateway otherwise treats as
// opaque (spec.md's "the database access layer... permission calculation" are out of
// this module's scope; this interface is the seam).
type Directory interface {
	// Guild returns guildID's owner and the roles userID holds in it.
	Guild(ctx context.Context, userID, guildID uuid.UUID) (GuildInfo, error)
	// GuildChannels returns every guild-kind channel belonging to guildID, with
	// current overwrites.
	GuildChannels(ctx context.Context, guildID uuid.UUID) ([]ChannelInfo, error)
}

// GuildInfo is the subset of guild state the filter needs to recompute permissions: its
// owner and the roles the session's user holds in it, sorted ascending by position.
type GuildInfo struct {
	OwnerID uuid.UUID
	Roles   []protocol.Role
}

// ChannelInfo is the subset of channel state the filter needs: its id and overwrites.
type ChannelInfo struct {
	ID         uuid.UUID
	Overwrites []protocol.Overwrite
}
