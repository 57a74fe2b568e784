// Package gateway implements C6 (the upstream broker pipeline), C7 (the client read
// pipeline), and C8 (the session controller tying every collaborator together): the
// accept-to-teardown state machine that is the WebSocket gateway's whole reason to
// exist. Every other internal package is a collaborator this one composes; nothing here
// owns its own persistence beyond the in-memory sendQueue each session creates for
// itself.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/chatplatform/gateway/internal/auth"
	"github.com/chatplatform/gateway/internal/broker"
	"github.com/chatplatform/gateway/internal/codec"
	"github.com/chatplatform/gateway/internal/directory"
	"github.com/chatplatform/gateway/internal/gwerr"
	"github.com/chatplatform/gateway/internal/permission"
	"github.com/chatplatform/gateway/internal/presence"
	"github.com/chatplatform/gateway/internal/protocol"
	"github.com/chatplatform/gateway/internal/ws"
	"github.com/fasthttp/websocket"
	wsconn "github.com/gofiber/contrib/v3/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// establishTimeout bounds the whole Establishing phase: inserting the session record,
// publishing the initial presence change, seeding the permission filter, and binding
// the broker queue. A deployment whose directory or broker is unreachable should fail
// the connection rather than hang it open indefinitely.
const establishTimeout = 10 * time.Second

// teardownTimeout bounds Closing's best-effort cleanup. Teardown never blocks a
// connection's final close frame on a slow collaborator.
const teardownTimeout = 5 * time.Second

// Controller is C8: the per-connection state machine wiring every other internal
// package together. One Controller is constructed per process; Handle runs once per
// upgraded WebSocket connection, synchronously for Handshaking/AwaitingIdentify and
// concurrently for Running.
type Controller struct {
	tokens   auth.TokenResolver
	presence *presence.Store
	dir      directory.Source
	graph    presence.ObserverGraph
	broker   *broker.Client
	log      zerolog.Logger

	identifyTimeout time.Duration
	readIdleTimeout time.Duration
	rateLimitEvents int
	rateLimitWindow time.Duration
	presenceTTL     time.Duration
}

// NewController wires a Controller from its collaborators and the gateway-specific
// timeouts/limits config.Config already parses.
func NewController(
	tokens auth.TokenResolver,
	presenceStore *presence.Store,
	dir directory.Source,
	graph presence.ObserverGraph,
	brokerClient *broker.Client,
	logger zerolog.Logger,
	identifyTimeout, readIdleTimeout time.Duration,
	rateLimitEvents int,
	rateLimitWindow, presenceTTL time.Duration,
) *Controller {
	return &Controller{
		tokens:          tokens,
		presence:        presenceStore,
		dir:             dir,
		graph:           graph,
		broker:          brokerClient,
		log:             logger.With().Str("component", "gateway").Logger(),
		identifyTimeout: identifyTimeout,
		readIdleTimeout: readIdleTimeout,
		rateLimitEvents: rateLimitEvents,
		rateLimitWindow: rateLimitWindow,
		presenceTTL:     presenceTTL,
	}
}

// sessionState is the outcome of a successful Identify: the facts the rest of the state
// machine needs, gathered once and passed on by value from here.
type sessionState struct {
	sessionID string
	userID    uuid.UUID
	device    protocol.Device
	clientIP  string
	codec     codec.Codec
}

// Handle is a ws.ConnectHandler: it drives one connection from Handshaking through
// Closed. It never returns an error; every failure is handled by closing conn with an
// appropriate code and reason.
func (c *Controller) Handle(conn *wsconn.Conn, settings ws.ConnectionSettings, clientIP string) {
	cd := codec.New(settings.Format)
	if clientIP == "" {
		clientIP = conn.RemoteAddr().String()
	}

	if err := c.sendHello(conn, cd); err != nil {
		c.log.Debug().Err(err).Msg("failed to send hello")
		_ = conn.Close()
		return
	}

	identify, err := c.awaitIdentify(conn, cd)
	if err != nil {
		c.closeWithOutcome(conn, err)
		return
	}

	userID, err := c.tokens.Resolve(context.Background(), identify.Token)
	if err != nil {
		c.closeWithOutcome(conn, gwerr.CloseErr(gwerr.CodeUnsupportedData, fmt.Errorf("%w: %s", gwerr.ErrAuthenticationFailed, err)))
		return
	}

	device := identify.Device
	if device == "" {
		device = protocol.DeviceWeb
	}
	status := identify.Status
	if !protocol.ValidStatus(status) {
		status = protocol.StatusOnline
	}

	sess := sessionState{
		sessionID: uuid.NewString(),
		userID:    userID,
		device:    device,
		clientIP:  clientIP,
		codec:     cd,
	}

	c.run(conn, sess, status)
}

// sendHello writes the Hello frame directly to conn, before any egress task exists.
func (c *Controller) sendHello(conn *wsconn.Conn, cd codec.Codec) error {
	payload, messageType, err := cd.Encode(protocol.NewHelloFrame())
	if err != nil {
		return fmt.Errorf("controller: encode hello: %w", err)
	}
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("controller: set write deadline: %w", err)
	}
	return conn.WriteMessage(messageType, payload)
}

// awaitIdentify reads exactly one frame within identifyTimeout and requires it to be
// an Identify frame. A read timeout maps to code 1008 with the literal reason spec.md's
// testable scenario names; any other failure to obtain a valid Identify maps to 1003.
func (c *Controller) awaitIdentify(conn *wsconn.Conn, cd codec.Codec) (protocol.Identify, error) {
	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(c.identifyTimeout)); err != nil {
		return protocol.Identify{}, gwerr.CloseErr(gwerr.CodeInternalError, err)
	}

	messageType, data, err := conn.ReadMessage()
	if err != nil {
		return protocol.Identify{}, gwerr.Close(gwerr.CodePolicyViolation, "expected to receive `identify` event within 5 seconds")
	}

	frame, err := cd.Decode(messageType, data)
	if err != nil {
		if outcome, ok := gwerr.AsClose(err); ok {
			return protocol.Identify{}, outcome
		}
		return protocol.Identify{}, gwerr.Close(gwerr.CodeUnsupportedData, "expected identify frame")
	}
	if frame.Op != protocol.OpcodeIdentify {
		return protocol.Identify{}, gwerr.Close(gwerr.CodeUnsupportedData, "expected identify frame")
	}

	var identify protocol.Identify
	if err := cd.DecodeInto(frame.Data, &identify); err != nil {
		return protocol.Identify{}, err
	}
	if identify.Token == "" {
		return protocol.Identify{}, gwerr.Close(gwerr.CodeUnsupportedData, "token required")
	}
	return identify, nil
}

// run drives Establishing, Running, and Closing for one identified session.
func (c *Controller) run(conn *wsconn.Conn, sess sessionState, status protocol.Status) {
	log := c.log.With().Stringer("user_id", sess.userID).Str("session_id", sess.sessionID).Logger()

	send := newSendQueue()

	establishCtx, establishCancel := context.WithTimeout(context.Background(), establishTimeout)
	up, err := c.establish(establishCtx, conn, sess, status, send, log)
	establishCancel()
	if err != nil {
		send.Close()
		c.closeWithOutcome(conn, err)
		return
	}

	runCtx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 3)
	go func() { errs <- runEgress(conn, send) }()
	go func() { errs <- up.run(runCtx) }()

	limiter := newRateLimiter(c.rateLimitEvents, c.rateLimitWindow)
	cp := &clientPipeline{
		conn:            conn,
		codec:           sess.codec,
		limiter:         limiter,
		readIdleTimeout: c.readIdleTimeout,
		userID:          sess.userID,
		presence:        c.presence,
		presenceTTL:     c.presenceTTL,
		send:            send,
		log:             log,
	}
	go func() { errs <- cp.run() }()

	runErr := <-errs
	cancel()
	send.Close()
	if err := up.queue.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close upstream queue")
	}

	c.teardown(sess, runErr, conn, log)
}

// establish runs the Establishing phase's ordered steps: insert the session record,
// set the initial presence, publish the change, fetch observer presences, seed and bind
// the upstream pipeline, then enqueue Ready. Steps run in this exact order per
// spec.md §4.8; Ready is the first and only item pushed to send before the egress,
// upstream, and client pipelines start, guaranteeing Hello strictly precedes Ready
// strictly precedes everything else.
func (c *Controller) establish(ctx context.Context, conn *wsconn.Conn, sess sessionState, status protocol.Status, send *sendQueue, log zerolog.Logger) (*upstream, error) {
	record := protocol.PresenceSessionRecord{
		SessionID:   sess.sessionID,
		OnlineSince: time.Now().UTC(),
		Device:      sess.device,
	}

	if err := c.presence.InsertSession(ctx, sess.userID, record); err != nil {
		return nil, gwerr.CloseErr(gwerr.CodeInternalError, err)
	}
	if err := c.presence.UpdatePresence(ctx, sess.userID, status); err != nil {
		return nil, gwerr.CloseErr(gwerr.CodeInternalError, err)
	}

	devices, err := c.presence.GetDevices(ctx, sess.userID)
	if err != nil {
		return nil, gwerr.CloseErr(gwerr.CodeInternalError, err)
	}
	pres := protocol.Presence{UserID: sess.userID, Status: status, Devices: devices}
	if status != protocol.StatusOffline {
		pres.OnlineSince = &record.OnlineSince
	}
	if err := c.presence.PublishPresenceChange(ctx, sess.userID, pres); err != nil {
		return nil, gwerr.CloseErr(gwerr.CodeInternalError, err)
	}

	observerPresences, err := c.fetchObserverPresences(ctx, sess.userID)
	if err != nil {
		return nil, gwerr.CloseErr(gwerr.CodeInternalError, err)
	}

	guilds, err := c.dir.Guilds(ctx, sess.userID)
	if err != nil {
		return nil, gwerr.CloseErr(gwerr.CodeInternalError, err)
	}
	filter := permission.NewFilter(sess.userID, c.dir)
	if err := filter.Seed(ctx, guilds); err != nil {
		return nil, gwerr.CloseErr(gwerr.CodeInternalError, err)
	}

	up := newUpstream(sess.userID, sess.sessionID, sess.clientIP, c.broker, c.dir, filter, sess.codec, send, log)
	if err := up.setup(ctx); err != nil {
		return nil, gwerr.CloseErr(gwerr.CodeInternalError, err)
	}

	user, guildsJSON, dmChannelsJSON, relationships, err := c.dir.ReadyPayload(ctx, sess.userID)
	if err != nil {
		_ = up.queue.Close()
		return nil, gwerr.CloseErr(gwerr.CodeInternalError, err)
	}

	readyFrame, err := protocol.NewReadyFrame(protocol.ReadyPayload{
		SessionID:     sess.sessionID,
		User:          user,
		Guilds:        guildsJSON,
		DMChannels:    dmChannelsJSON,
		Presences:     observerPresences,
		Relationships: relationships,
	})
	if err != nil {
		_ = up.queue.Close()
		return nil, gwerr.CloseErr(gwerr.CodeInternalError, err)
	}

	readyBytes, readyMessageType, err := sess.codec.Encode(readyFrame)
	if err != nil {
		_ = up.queue.Close()
		return nil, gwerr.CloseErr(gwerr.CodeInternalError, err)
	}
	send.Push(outboundMessage{data: readyBytes, messageType: readyMessageType})

	return up, nil
}

func (c *Controller) fetchObserverPresences(ctx context.Context, userID uuid.UUID) ([]protocol.Presence, error) {
	observers, err := c.graph.Observers(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("controller: resolve observers: %w", err)
	}
	presences := make([]protocol.Presence, 0, len(observers))
	for _, id := range observers {
		p, err := c.presence.Derive(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("controller: derive presence %s: %w", id, err)
		}
		presences = append(presences, p)
	}
	return presences, nil
}

// teardown runs Closing's best-effort cleanup: remove the session record, publish an
// Offline transition if this was the user's last session and they were not already
// Offline, then send the final close frame. Every step here is best-effort; a failure
// is logged, never escalated, since the connection is already on its way down.
func (c *Controller) teardown(sess sessionState, runErr error, conn *wsconn.Conn, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()

	if err := c.presence.RemoveSession(ctx, sess.userID, sess.sessionID); err != nil {
		log.Warn().Err(err).Msg("failed to remove session on teardown")
	}

	currentStatus, err := c.presence.GetPresence(ctx, sess.userID)
	if err != nil {
		log.Warn().Err(err).Msg("failed to read presence on teardown")
	} else if currentStatus != protocol.StatusOffline {
		anyLeft, err := c.presence.AnySessionExists(ctx, sess.userID)
		if err != nil {
			log.Warn().Err(err).Msg("failed to check remaining sessions on teardown")
		} else if !anyLeft {
			if err := c.presence.UpdatePresence(ctx, sess.userID, protocol.StatusOffline); err != nil {
				log.Warn().Err(err).Msg("failed to mark offline on teardown")
			} else {
				offline := protocol.Presence{UserID: sess.userID, Status: protocol.StatusOffline}
				if err := c.presence.PublishPresenceChange(ctx, sess.userID, offline); err != nil {
					log.Warn().Err(err).Msg("failed to publish offline presence on teardown")
				}
			}
		}
	}

	code, reason := gwerr.CodeNormal, ""
	if outcome, ok := gwerr.AsClose(runErr); ok {
		code, reason = outcome.Code(), outcome.Reason()
	} else if runErr != nil {
		code, reason = gwerr.CodeInternalError, "internal error"
	}

	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	_ = conn.Close()

	log.Info().Err(runErr).Msg("session closed")
}

// closeWithOutcome writes a close frame for a failure during Handshaking or
// AwaitingIdentify, before any session state has been established.
func (c *Controller) closeWithOutcome(conn *wsconn.Conn, err error) {
	code, reason := gwerr.CodeInternalError, "internal error"
	if outcome, ok := gwerr.AsClose(err); ok {
		code, reason = outcome.Code(), outcome.Reason()
	}
	c.log.Debug().Err(err).Int("code", code).Str("reason", reason).Msg("closing connection before establishing")
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	_ = conn.Close()
}
