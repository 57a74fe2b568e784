package gateway

import (
	"context"
	"time"

	"github.com/chatplatform/gateway/internal/codec"
	"github.com/chatplatform/gateway/internal/gwerr"
	"github.com/chatplatform/gateway/internal/presence"
	"github.com/chatplatform/gateway/internal/protocol"
	"github.com/gofiber/contrib/v3/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// maxMessageSize is the maximum size in bytes of a single inbound WebSocket message.
// Every frame this gateway accepts from a client (Identify, Ping, UpdatePresence) is
// small; this bound exists to stop a misbehaving client from holding an oversized read
// buffer open.
const maxMessageSize = 8192

// clientPipeline is C7: the connection's read loop once it is Running. It enforces the
// read idle timeout, applies rate limiting, and handles the two frame kinds a client
// may send after Identify: Ping and UpdatePresence.
type clientPipeline struct {
	conn            *websocket.Conn
	codec           codec.Codec
	limiter         *rate.Limiter
	readIdleTimeout time.Duration

	userID      uuid.UUID
	presence    *presence.Store
	presenceTTL time.Duration

	send *sendQueue
	log  zerolog.Logger
}

// run reads until the peer closes, a read times out, or a frame forces termination
// (rate limit exceeded, undecodable frame). It never returns a *gwerr.Outcome for a
// graceful peer-initiated close or read error — those terminate the session with a
// nil error, the same as the teacher's readPump treats any ReadMessage failure as
// "stop reading" without further classifying it.
func (p *clientPipeline) run() error {
	p.conn.SetReadLimit(maxMessageSize)

	for {
		if err := p.conn.SetReadDeadline(time.Now().Add(p.readIdleTimeout)); err != nil {
			return nil
		}

		messageType, data, err := p.conn.ReadMessage()
		if err != nil {
			return nil
		}
		if messageType == websocket.CloseMessage {
			return nil
		}

		if !p.limiter.Allow() {
			return gwerr.Close(gwerr.CodePolicyViolation, "Rate limit exceeded")
		}

		frame, err := p.codec.Decode(messageType, data)
		if err != nil {
			if outcome, ok := gwerr.AsClose(err); ok {
				return outcome
			}
			continue
		}

		if err := p.dispatch(frame); err != nil {
			return err
		}
	}
}

func (p *clientPipeline) dispatch(frame protocol.Frame) error {
	switch frame.Op {
	case protocol.OpcodePing:
		return p.handlePing()
	case protocol.OpcodeUpdatePresence:
		return p.handleUpdatePresence(frame)
	default:
		return nil
	}
}

func (p *clientPipeline) handlePing() error {
	if p.presenceTTL > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := p.presence.RefreshTTL(ctx, p.userID, p.presenceTTL); err != nil {
			p.log.Debug().Err(err).Msg("failed to refresh presence ttl on ping")
		}
		cancel()
	}

	payload, messageType, err := p.codec.Encode(protocol.NewPongFrame())
	if err != nil {
		return gwerr.CloseErr(gwerr.CodeInternalError, err)
	}
	p.send.Push(outboundMessage{data: payload, messageType: messageType})
	return nil
}

func (p *clientPipeline) handleUpdatePresence(frame protocol.Frame) error {
	var upd protocol.UpdatePresence
	if err := p.codec.DecodeInto(frame.Data, &upd); err != nil {
		return err
	}
	if upd.Status == nil || !protocol.ValidStatus(*upd.Status) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.presence.UpdatePresence(ctx, p.userID, *upd.Status); err != nil {
		return gwerr.CloseErr(gwerr.CodeInternalError, err)
	}

	devices, err := p.presence.GetDevices(ctx, p.userID)
	if err != nil {
		return gwerr.CloseErr(gwerr.CodeInternalError, err)
	}

	pres := protocol.Presence{UserID: p.userID, Status: *upd.Status, Devices: devices}
	if *upd.Status != protocol.StatusOffline {
		first, err := p.presence.GetFirstSession(ctx, p.userID)
		if err != nil {
			return gwerr.CloseErr(gwerr.CodeInternalError, err)
		}
		if first != nil {
			pres.OnlineSince = &first.OnlineSince
		}
	}

	if err := p.presence.PublishPresenceChange(ctx, p.userID, pres); err != nil {
		return gwerr.CloseErr(gwerr.CodeInternalError, err)
	}
	return nil
}
