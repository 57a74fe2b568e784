package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chatplatform/gateway/internal/broker"
	"github.com/chatplatform/gateway/internal/codec"
	"github.com/chatplatform/gateway/internal/directory"
	"github.com/chatplatform/gateway/internal/gwerr"
	"github.com/chatplatform/gateway/internal/permission"
	"github.com/chatplatform/gateway/internal/protocol"
	"github.com/chatplatform/gateway/internal/wire"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// queueBufSize bounds how many undelivered broker messages may queue up for one
// session before NATS itself feels the backpressure. Sessions rarely accumulate more
// than a handful of guild/DM/user bindings worth of burst traffic.
const queueBufSize = 64

// upstream is C6: owns the session's broker queue, its guild/DM/user bindings, and the
// loop that decodes deliveries, maintains the permission filter's topology, and hands
// forwarded frames to the send-queue.
type upstream struct {
	userID    uuid.UUID
	sessionID string
	clientIP  string

	broker *broker.Client
	queue  *broker.Queue
	dir    directory.Source
	filter *permission.Filter
	codec  codec.Codec
	send   *sendQueue
	log    zerolog.Logger
}

func newUpstream(userID uuid.UUID, sessionID, clientIP string, b *broker.Client, dir directory.Source, filter *permission.Filter, c codec.Codec, send *sendQueue, logger zerolog.Logger) *upstream {
	return &upstream{
		userID:    userID,
		sessionID: sessionID,
		clientIP:  clientIP,
		broker:    b,
		dir:       dir,
		filter:    filter,
		codec:     c,
		send:      send,
		log:       logger.With().Str("component", "upstream").Logger(),
	}
}

// setup performs C6's bootstrap: declare the session's queue, bind it to every guild
// and DM channel the user belongs to, and bind it to the direct-to-user events exchange.
func (u *upstream) setup(ctx context.Context) error {
	u.queue = u.broker.DeclareQueue(u.sessionID, queueBufSize)

	guilds, err := u.dir.Guilds(ctx, u.userID)
	if err != nil {
		return fmt.Errorf("upstream: list guilds: %w", err)
	}
	for _, g := range guilds {
		if err := u.broker.Subscribe(u.queue, g.ID.String(), broker.ExchangeTopic); err != nil {
			return fmt.Errorf("upstream: subscribe guild %s: %w", g.ID, err)
		}
	}

	dms, err := u.dir.DMChannels(ctx, u.userID)
	if err != nil {
		return fmt.Errorf("upstream: list dm channels: %w", err)
	}
	for _, dm := range dms {
		if err := u.broker.Subscribe(u.queue, dm.ID.String(), broker.ExchangeTopic); err != nil {
			return fmt.Errorf("upstream: subscribe dm %s: %w", dm.ID, err)
		}
	}

	if err := u.queue.Bind(broker.EventsExchange, u.userID.String()); err != nil {
		return fmt.Errorf("upstream: bind events exchange: %w", err)
	}
	return nil
}

// run consumes deliveries until ctx is cancelled or the delivery stream closes.
func (u *upstream) run(ctx context.Context) error {
	tag := fmt.Sprintf("consumer-%s-%s-%s", u.userID, u.sessionID, u.clientIP)
	deliveries := u.queue.Consume(tag)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			if err := u.handle(ctx, d); err != nil {
				return err
			}
		}
	}
}

// handle decodes one delivery, runs topology maintenance, applies the permission
// filter, and forwards what survives to the send-queue. A decode or maintenance
// failure nacks the delivery and terminates the pipeline; a filtered event acks and
// continues silently.
func (u *upstream) handle(ctx context.Context, d broker.Delivery) error {
	var frame protocol.Frame
	if err := wire.Decode(d.Content, &frame); err != nil {
		d.Acker.Nack()
		return gwerr.CloseErr(gwerr.CodeInternalError, fmt.Errorf("upstream: decode delivery: %w", err))
	}

	if err := u.maintainTopology(ctx, frame); err != nil {
		d.Acker.Nack()
		return err
	}

	if u.dropsForFilter(frame) {
		d.Acker.Ack()
		return nil
	}

	payload, messageType, err := u.codec.Encode(frame)
	if err != nil {
		d.Acker.Nack()
		return gwerr.CloseErr(gwerr.CodeInternalError, fmt.Errorf("upstream: encode frame: %w", err))
	}
	u.send.Push(outboundMessage{data: payload, messageType: messageType})
	d.Acker.Ack()
	return nil
}

// maintainTopology updates the session's broker bindings and the permission filter's
// hidden-channel set in response to a dispatched topology event, per spec.md §4.6's
// event table. Events outside that table pass through untouched.
func (u *upstream) maintainTopology(ctx context.Context, frame protocol.Frame) error {
	if frame.Op != protocol.OpcodeDispatch {
		return nil
	}

	switch frame.Type {
	case protocol.EventGuildCreate:
		var ev protocol.GuildCreate
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			return gwerr.CloseErr(gwerr.CodeInternalError, fmt.Errorf("upstream: decode guild create: %w", err))
		}
		if err := u.broker.Subscribe(u.queue, ev.Guild.ID.String(), broker.ExchangeTopic); err != nil {
			return fmt.Errorf("upstream: subscribe new guild %s: %w", ev.Guild.ID, err)
		}
		return u.filter.OnGuildCreate(ctx, ev.Guild)

	case protocol.EventGuildRemove:
		var ev protocol.GuildRemove
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			return gwerr.CloseErr(gwerr.CodeInternalError, fmt.Errorf("upstream: decode guild remove: %w", err))
		}
		if err := u.broker.Unsubscribe(u.queue, ev.GuildID.String()); err != nil {
			return fmt.Errorf("upstream: unsubscribe guild %s: %w", ev.GuildID, err)
		}
		u.filter.OnGuildRemove(ev.GuildID)
		return nil

	case protocol.EventChannelCreate:
		var ev protocol.ChannelCreate
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			return gwerr.CloseErr(gwerr.CodeInternalError, fmt.Errorf("upstream: decode channel create: %w", err))
		}
		if ev.Channel.Kind == protocol.ChannelKindDM {
			return u.broker.Subscribe(u.queue, ev.Channel.ID.String(), broker.ExchangeTopic)
		}
		return u.filter.OnChannelCreate(ctx, ev.Channel)

	case protocol.EventChannelUpdate:
		var ev protocol.ChannelUpdate
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			return gwerr.CloseErr(gwerr.CodeInternalError, fmt.Errorf("upstream: decode channel update: %w", err))
		}
		return u.filter.OnChannelUpdate(ctx, ev.Channel)

	case protocol.EventChannelDelete:
		var ev protocol.ChannelDelete
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			return gwerr.CloseErr(gwerr.CodeInternalError, fmt.Errorf("upstream: decode channel delete: %w", err))
		}
		u.filter.OnChannelDelete(ev.ChannelID)
		if err := u.broker.Unsubscribe(u.queue, ev.ChannelID.String()); err != nil {
			return fmt.Errorf("upstream: unsubscribe channel %s: %w", ev.ChannelID, err)
		}
		return nil

	case protocol.EventRoleCreate:
		var ev protocol.RoleCreate
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			return gwerr.CloseErr(gwerr.CodeInternalError, fmt.Errorf("upstream: decode role create: %w", err))
		}
		return u.filter.OnRoleChange(ctx, ev.GuildID)

	case protocol.EventRoleUpdate:
		var ev protocol.RoleUpdate
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			return gwerr.CloseErr(gwerr.CodeInternalError, fmt.Errorf("upstream: decode role update: %w", err))
		}
		return u.filter.OnRoleChange(ctx, ev.GuildID)

	default:
		return nil
	}
}

// dropsForFilter reports whether frame is a Message* event scoped to a channel the
// permission filter currently hides from this user.
func (u *upstream) dropsForFilter(frame protocol.Frame) bool {
	if frame.Op != protocol.OpcodeDispatch {
		return false
	}
	switch frame.Type {
	case protocol.EventMessageCreate, protocol.EventMessageUpdate, protocol.EventMessageDelete:
		var scoped struct {
			ChannelID uuid.UUID `json:"channel_id"`
		}
		if err := json.Unmarshal(frame.Data, &scoped); err != nil {
			return false
		}
		return u.filter.DropsMessage(scoped.ChannelID)
	default:
		return false
	}
}
