// Package ws implements C2: upgrading an HTTP request to a WebSocket connection,
// parsing the negotiated connection settings from its query parameters, and extracting
// the trusted forwarded client IP.
package ws

import (
	"strconv"

	"github.com/chatplatform/gateway/internal/codec"
	"github.com/gofiber/contrib/v3/websocket"
	"github.com/gofiber/fiber/v3"
)

// trustedForwardedIPHeader is the only forwarded-IP header this gateway trusts. A
// deployment behind a different proxy would need a different header here; there is no
// generic X-Forwarded-For chain-walking since this gateway sits behind exactly one
// trusted proxy.
const trustedForwardedIPHeader = "cf-connecting-ip"

// ConnectionSettings is the negotiated configuration for one connection, extracted
// from its upgrade request's query parameters.
type ConnectionSettings struct {
	Version byte
	Format  codec.Format
}

// ParseConnectionSettings reads the `version` and `format` query parameters. Version
// defaults to 1 when missing or not a valid byte; format defaults to JSON when missing
// or not "msgpack".
func ParseConnectionSettings(c fiber.Ctx) ConnectionSettings {
	settings := ConnectionSettings{Version: 1, Format: codec.FormatJSON}

	if raw := c.Query("version"); raw != "" {
		if n, err := strconv.ParseUint(raw, 10, 8); err == nil {
			settings.Version = byte(n)
		}
	}
	settings.Format = codec.ParseFormat(c.Query("format"))
	return settings
}

// ClientIP returns the trusted forwarded client IP, or "" if the header is absent or
// empty. Callers fall back to the connection's own peer address in that case.
func ClientIP(c fiber.Ctx) string {
	return c.Get(trustedForwardedIPHeader)
}

// ConnectHandler is invoked once per successfully upgraded connection.
type ConnectHandler func(conn *websocket.Conn, settings ConnectionSettings, clientIP string)

// Handler upgrades HTTP requests on the gateway's WebSocket route.
type Handler struct {
	onConnect ConnectHandler
}

// NewHandler creates a Handler that invokes onConnect for every upgraded connection.
func NewHandler(onConnect ConnectHandler) *Handler {
	return &Handler{onConnect: onConnect}
}

// Upgrade is the fiber route handler for the gateway's WebSocket endpoint. Non-upgrade
// requests are rejected before any session state is created.
func (h *Handler) Upgrade(c fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	settings := ParseConnectionSettings(c)
	clientIP := ClientIP(c)

	return websocket.New(func(conn *websocket.Conn) {
		h.onConnect(conn, settings, clientIP)
	})(c)
}
