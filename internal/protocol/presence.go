package protocol

import (
	"time"

	"github.com/google/uuid"
)

// Status is a user's self-reported presence state.
type Status string

const (
	StatusOnline  Status = "online"
	StatusIdle    Status = "idle"
	StatusDND     Status = "dnd"
	StatusOffline Status = "offline"
)

// ValidStatus reports whether s is one of the recognized status values.
func ValidStatus(s Status) bool {
	switch s {
	case StatusOnline, StatusIdle, StatusDND, StatusOffline:
		return true
	default:
		return false
	}
}

// Device identifies the kind of client a session came from.
type Device string

const (
	DeviceDesktop Device = "desktop"
	DeviceMobile  Device = "mobile"
	DeviceWeb     Device = "web"
)

// DeviceMask is a bitflag union of Device values, used to report which device kinds a
// user is currently connected from without repeating the whole session list.
type DeviceMask uint8

const (
	DeviceMaskDesktop DeviceMask = 1 << iota
	DeviceMaskMobile
	DeviceMaskWeb

	deviceMaskAll = DeviceMaskDesktop | DeviceMaskMobile | DeviceMaskWeb
)

// Bit returns the DeviceMask bit for d, or 0 for an unrecognized device value.
func (d Device) Bit() DeviceMask {
	switch d {
	case DeviceDesktop:
		return DeviceMaskDesktop
	case DeviceMobile:
		return DeviceMaskMobile
	case DeviceWeb:
		return DeviceMaskWeb
	default:
		return 0
	}
}

// Has reports whether mask includes bit.
func (m DeviceMask) Has(bit DeviceMask) bool {
	return m&bit != 0
}

// Full reports whether every known device bit is set, letting callers short-circuit an
// OR-reduction over a session list once there is nothing left to learn.
func (m DeviceMask) Full() bool {
	return m&deviceMaskAll == deviceMaskAll
}

// PresenceSessionRecord is one active connection's contribution to a user's presence:
// an entry in the per-user ordered session list kept in the presence store.
type PresenceSessionRecord struct {
	SessionID   string    `json:"session_id"`
	OnlineSince time.Time `json:"online_since"`
	Device      Device    `json:"device"`
}

// Presence is a user's derived presence: status plus the aggregated device mask and
// earliest online-since across their active sessions.
type Presence struct {
	UserID       uuid.UUID  `json:"user_id"`
	Status       Status     `json:"status"`
	Devices      DeviceMask `json:"devices"`
	OnlineSince  *time.Time `json:"online_since,omitempty"`
	CustomStatus *string    `json:"custom_status,omitempty"`
}
