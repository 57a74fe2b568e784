// Package directory is the external guild/DM/role/channel/member collaborator
// spec.md §1 names as out of scope ("the database access layer"): C5 and C6 read guild
// membership, channel, and role state through this seam instead of owning it. A real
// deployment wires Source to the platform's actual data layer; this package only ships
// the interface plus an in-memory implementation for local runs and tests.
package directory

import (
	"context"

	"github.com/chatplatform/gateway/internal/permission"
	"github.com/chatplatform/gateway/internal/protocol"
	"github.com/google/uuid"
)

// Source is everything the session controller and upstream pipeline need to know about
// a user's world at connect time and on demand thereafter.
type Source interface {
	// Guilds returns every guild userID belongs to, with the roles userID holds in
	// each, for Seed and the Ready payload.
	Guilds(ctx context.Context, userID uuid.UUID) ([]protocol.GuildRef, error)
	// DMChannels returns every DM channel userID belongs to.
	DMChannels(ctx context.Context, userID uuid.UUID) ([]protocol.ChannelRef, error)
	// ReadyPayload returns the opaque user/guilds/dm_channels/relationships blobs the
	// Ready event embeds verbatim.
	ReadyPayload(ctx context.Context, userID uuid.UUID) (user, guilds, dmChannels, relationships []byte, err error)
	permission.Directory
}

// ObserverGraph resolves presence observers (presence.ObserverGraph); Source
// implementations typically satisfy this too, since "who shares a guild/DM with
// userID" is also directory knowledge.
type ObserverGraph interface {
	Observers(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}
