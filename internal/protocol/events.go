package protocol

import (
	"encoding/json"

	"github.com/google/uuid"
)

// ChannelKind discriminates a guild-bound channel from a direct-message channel; the
// upstream pipeline subscribes a session to each DM channel's own exchange, while a
// guild channel's events arrive on its guild's exchange.
type ChannelKind string

const (
	ChannelKindGuild ChannelKind = "guild"
	ChannelKindDM    ChannelKind = "dm"
)

// GuildRef carries the fields the gateway needs from a guild: its id, owner (for the
// permission filter's owner bypass), and current roles (for seeding the hidden set).
type GuildRef struct {
	ID      uuid.UUID `json:"id"`
	OwnerID uuid.UUID `json:"owner_id"`
	Roles   []Role    `json:"roles"`
}

// ChannelRef carries the fields the gateway needs from a channel: its id, kind, owning
// guild (nil for DMs), and permission overwrites.
type ChannelRef struct {
	ID         uuid.UUID   `json:"id"`
	Kind       ChannelKind `json:"kind"`
	GuildID    *uuid.UUID  `json:"guild_id,omitempty"`
	Overwrites []Overwrite `json:"overwrites"`
}

// GuildCreate is dispatched when the user gains access to a guild (joins, or the guild
// itself is created while the user is a member).
type GuildCreate struct {
	Guild GuildRef `json:"guild"`
}

// GuildRemove is dispatched when the user loses access to a guild.
type GuildRemove struct {
	GuildID uuid.UUID `json:"guild_id"`
}

// ChannelCreate is dispatched when a channel the user can see is created.
type ChannelCreate struct {
	Channel ChannelRef `json:"channel"`
}

// ChannelUpdate is dispatched when a guild channel's overwrites or metadata change.
type ChannelUpdate struct {
	Channel ChannelRef `json:"channel"`
}

// ChannelDelete is dispatched when a channel is deleted.
type ChannelDelete struct {
	ChannelID uuid.UUID `json:"channel_id"`
}

// RoleCreate is dispatched when a guild role is created.
type RoleCreate struct {
	GuildID uuid.UUID `json:"guild_id"`
	Role    Role      `json:"role"`
}

// RoleUpdate is dispatched when a guild role's permissions or position change.
type RoleUpdate struct {
	GuildID uuid.UUID `json:"guild_id"`
	After   Role      `json:"after"`
}

// MessageCreate is dispatched when a message is posted. Only ChannelID is inspected by
// the permission filter; Message is opaque and forwarded verbatim.
type MessageCreate struct {
	ChannelID uuid.UUID       `json:"channel_id"`
	Message   json.RawMessage `json:"message"`
}

// MessageUpdate is dispatched when a message is edited.
type MessageUpdate struct {
	ChannelID uuid.UUID       `json:"channel_id"`
	After     json.RawMessage `json:"after"`
}

// MessageDelete is dispatched when a message is deleted. Filtered identically to
// MessageCreate/MessageUpdate.
type MessageDelete struct {
	ChannelID uuid.UUID       `json:"channel_id"`
	Message   json.RawMessage `json:"message"`
}
