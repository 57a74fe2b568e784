package protocol

import (
	"encoding/json"

	"github.com/google/uuid"
)

// ReadyPayload is the content of the Ready frame, the first non-control outbound frame
// on every connection. User/Guilds/DMChannels/Relationships are opaque blobs sourced
// from the directory collaborator — the gateway assembles the envelope but does not
// interpret their contents beyond what it needs for its own bookkeeping (ids, for
// subscribing; see directory.Source).
type ReadyPayload struct {
	SessionID     string          `json:"session_id"`
	User          json.RawMessage `json:"user"`
	Guilds        json.RawMessage `json:"guilds"`
	DMChannels    json.RawMessage `json:"dm_channels"`
	Presences     []Presence      `json:"presences"`
	Relationships json.RawMessage `json:"relationships"`
}

// UserEventSubject returns the broker subject for direct-to-user events: exchange
// "events", routing key the stringified user id.
func UserEventSubject(userID uuid.UUID) string {
	return "events." + userID.String()
}

// GuildEventSubject returns the broker subject for a guild's topic exchange with
// routing key "all".
func GuildEventSubject(guildID uuid.UUID) string {
	return guildID.String() + ".all"
}

// DMEventSubject returns the broker subject for a DM channel's exchange with routing
// key "all". DM exchanges are topic-kind like guild exchanges, not fanout, so every
// publisher declares the same kind cluster-wide.
func DMEventSubject(dmID uuid.UUID) string {
	return dmID.String() + ".all"
}
