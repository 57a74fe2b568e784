// Package protocol defines the wire types the gateway exchanges with clients and with
// the broker. It is the concrete, minimal stand-in for what spec.md calls "the encoded
// model definitions" — an external collaborator the gateway is otherwise oblivious to;
// this package names only the fields C1-C8 actually read or produce.
package protocol

// Opcode discriminates the kind of a client-facing Frame.
type Opcode int

const (
	// OpcodeHello is sent by the server immediately after the WebSocket upgrade.
	OpcodeHello Opcode = iota
	// OpcodeIdentify is sent by the client to authenticate the connection.
	OpcodeIdentify
	// OpcodePing is sent by the client as a keepalive.
	OpcodePing
	// OpcodePong is sent by the server in reply to Ping.
	OpcodePong
	// OpcodeReady is sent by the server once the session has finished establishing.
	OpcodeReady
	// OpcodeUpdatePresence is sent by the client to change its status.
	OpcodeUpdatePresence
	// OpcodePresenceUpdate is sent by the server to report another user's presence
	// change.
	OpcodePresenceUpdate
	// OpcodeDispatch carries a platform event forwarded from the upstream pipeline;
	// Frame.Type discriminates which one.
	OpcodeDispatch
)

// EventType discriminates the payload carried by an OpcodeDispatch frame, including one
// decoded from a broker delivery — every broker subject carries a wire-encoded Frame.
type EventType string

const (
	EventGuildCreate   EventType = "GUILD_CREATE"
	EventGuildRemove   EventType = "GUILD_REMOVE"
	EventChannelCreate EventType = "CHANNEL_CREATE"
	EventChannelUpdate EventType = "CHANNEL_UPDATE"
	EventChannelDelete EventType = "CHANNEL_DELETE"
	EventRoleCreate    EventType = "ROLE_CREATE"
	EventRoleUpdate    EventType = "ROLE_UPDATE"
	EventMessageCreate EventType = "MESSAGE_CREATE"
	EventMessageUpdate EventType = "MESSAGE_UPDATE"
	EventMessageDelete EventType = "MESSAGE_DELETE"
)
