package protocol

// Identify is the first frame a client must send after Hello. The opaque token is
// resolved to a user id by an external identity service.
type Identify struct {
	Token  string `json:"token"`
	Status Status `json:"status"`
	Device Device `json:"device"`
}

// UpdatePresence lets a client change its status without reconnecting. A nil Status
// leaves the current status unchanged (the message is otherwise a no-op, e.g. reserved
// for future fields).
type UpdatePresence struct {
	Status *Status `json:"status,omitempty"`
}
