// Package broker implements C4: a thin adapter over a pub/sub message broker exposing
// the exchange/queue/binding vocabulary the gateway's routing topology is built from.
// NATS core subjects model an (exchange, routing_key) pair directly, so "declaring" an
// exchange or queue is bookkeeping rather than a network round trip; what matters is
// that every publisher and subscriber derives the same subject from the same pair.
package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chatplatform/gateway/internal/protocol"
	"github.com/chatplatform/gateway/internal/wire"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// ExchangeKind is the fan-out behavior of an exchange. NATS core subjects don't
// distinguish the two at the transport level — both are plain publish/subscribe — but
// the distinction still matters for documenting intent and for declare_exchange's
// idempotency contract (every declarer must agree on the kind).
type ExchangeKind int

const (
	// ExchangeTopic routes by an exact routing-key match (guild exchanges, the direct
	// user-events exchange).
	ExchangeTopic ExchangeKind = iota
	// ExchangeFanout delivers to every bound queue regardless of routing key (unused by
	// the current topology now that DMs declare topic exchanges for uniformity, per
	// spec.md §4.6's note; kept so a future DM redesign can switch back without a new
	// primitive).
	ExchangeFanout
)

// Exchange is a declared exchange: a name plus the metadata every declarer must agree
// on. EventsExchange is the one well-known durable exchange all direct-to-user
// publishes and session bindings use.
type Exchange struct {
	Name       string
	Kind       ExchangeKind
	AutoDelete bool
}

// EventsExchange is the durable, non-auto-delete exchange carrying direct-to-user
// events (presence updates, relationship changes, anything routed by user id rather
// than guild or DM membership).
var EventsExchange = Exchange{Name: "events", Kind: ExchangeTopic, AutoDelete: false}

// DeclareExchange returns the Exchange value for name. Declaration has no side effect
// on NATS core; the call exists so every participant states (and, by sharing this
// function, is forced to agree on) the exchange's kind and auto-delete behavior.
func DeclareExchange(name string, kind ExchangeKind, autoDelete bool) Exchange {
	return Exchange{Name: name, Kind: kind, AutoDelete: autoDelete}
}

func subjectFor(exchangeName, routingKey string) string {
	return exchangeName + "." + routingKey
}

// Acker is the ack/nack handle on a Delivery. NATS core pub/sub has no delivery
// acknowledgement protocol (that is a JetStream feature this module deliberately does
// not adopt — the gateway's broker traffic is not meant to be durable or replayed); Ack
// and Nack are local bookkeeping hooks the upstream pipeline calls to mark how it
// handled a delivery, not a signal that reaches the publisher.
type Acker interface {
	Ack()
	Nack()
}

type noopAcker struct{}

func (noopAcker) Ack()  {}
func (noopAcker) Nack() {}

// Delivery is one message handed to a queue's consumer.
type Delivery struct {
	Subject string
	Content []byte
	Acker   Acker
}

// Queue is a session's auto-delete queue: a named sink that NATS QueueSubscribe
// bindings feed into, so multiple bindings on the same queue behave like one logical
// competing consumer per spec.md §3's "one queue per session" topology.
type Queue struct {
	name string
	conn *nats.Conn

	mu   sync.Mutex
	subs map[string]*nats.Subscription

	deliveries chan Delivery
}

// DeclareQueue creates a queue named name, auto-delete in the sense that it stops
// receiving anything the moment every binding is removed — there is no persistent
// broker-side object to clean up. bufSize bounds how many undelivered messages may
// queue up in memory before a slow consumer applies backpressure to NATS itself.
func (c *Client) DeclareQueue(name string, bufSize int) *Queue {
	return &Queue{
		name:       name,
		conn:       c.conn,
		subs:       make(map[string]*nats.Subscription),
		deliveries: make(chan Delivery, bufSize),
	}
}

// Bind subscribes the queue to exchange with the given routing key, using the queue's
// own name as the NATS queue group so concurrent deliveries on that binding are never
// duplicated within this queue.
func (q *Queue) Bind(exchange Exchange, routingKey string) error {
	subject := subjectFor(exchange.Name, routingKey)

	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.subs[subject]; exists {
		return nil
	}

	sub, err := q.conn.QueueSubscribe(subject, q.name, func(msg *nats.Msg) {
		q.deliveries <- Delivery{Subject: msg.Subject, Content: msg.Data, Acker: noopAcker{}}
	})
	if err != nil {
		return fmt.Errorf("broker: bind %s to %s: %w", q.name, subject, err)
	}
	q.subs[subject] = sub
	return nil
}

// Unbind removes the queue's subscription to exchange at routingKey, if any.
func (q *Queue) Unbind(exchange Exchange, routingKey string) error {
	subject := subjectFor(exchange.Name, routingKey)

	q.mu.Lock()
	defer q.mu.Unlock()
	sub, exists := q.subs[subject]
	if !exists {
		return nil
	}
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("broker: unbind %s from %s: %w", q.name, subject, err)
	}
	delete(q.subs, subject)
	return nil
}

// Consume returns the stream of deliveries for tag. The tag is recorded for logging
// only (spec.md's `consumer-{user_id}-{session_id}-{ip}` naming); NATS subscriptions
// have no separate consumer-tag concept, so the queue's one delivery channel already is
// "the" consumer.
func (q *Queue) Consume(tag string) <-chan Delivery {
	return q.deliveries
}

// Close unsubscribes every binding and releases the queue. Call this during session
// teardown.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	var firstErr error
	for subject, sub := range q.subs {
		if err := sub.Unsubscribe(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("broker: close unbind %s: %w", subject, err)
		}
		delete(q.subs, subject)
	}
	close(q.deliveries)
	return firstErr
}

// Client is the broker connection shared process-wide; sessions declare their own
// Queue against it but never their own connection.
type Client struct {
	conn *nats.Conn
	log  zerolog.Logger
}

// Connect dials the NATS server at url. Reconnect behavior mirrors a long-lived
// gateway process: indefinite automatic reconnects with a short backoff, logged through
// the caller's structured logger rather than a handler-local one.
func Connect(url string, logger zerolog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.Name("chatplatform-gateway"),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("broker disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("broker reconnected")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.Error().Err(err).Msg("broker error")
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("broker: connect to %s: %w", url, err)
	}
	return &Client{conn: conn, log: logger}, nil
}

// Close drains and closes the underlying connection.
func (c *Client) Close() {
	_ = c.conn.Drain()
}

// Publish sends payload to subject verbatim. This is the C4 primitive every helper
// below builds on; it also satisfies presence.Publisher, so a *Client can be handed
// directly to presence.NewStore.
func (c *Client) Publish(_ context.Context, subject string, payload []byte) error {
	if err := c.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("broker: publish to %s: %w", subject, err)
	}
	return nil
}

// PublishUserEvent publishes frame on the events exchange with routing key userID — the
// direct-to-user delivery path used for relationship changes, presence updates, and
// anything else not scoped to a guild or DM. Every subject carries the same wire shape,
// protocol.Frame, so the upstream pipeline can decode any delivery on any subject the
// same way regardless of which helper published it.
func (c *Client) PublishUserEvent(ctx context.Context, userID uuid.UUID, frame protocol.Frame) error {
	payload, err := wire.Encode(frame)
	if err != nil {
		return fmt.Errorf("broker: encode user event: %w", err)
	}
	return c.Publish(ctx, protocol.UserEventSubject(userID), payload)
}

// PublishGuildEvent publishes frame on guildID's topic exchange with routing key "all".
func (c *Client) PublishGuildEvent(ctx context.Context, guildID uuid.UUID, frame protocol.Frame) error {
	payload, err := wire.Encode(frame)
	if err != nil {
		return fmt.Errorf("broker: encode guild event: %w", err)
	}
	return c.Publish(ctx, protocol.GuildEventSubject(guildID), payload)
}

// PublishDMEvent publishes frame on dmID's exchange with routing key "all".
func (c *Client) PublishDMEvent(ctx context.Context, dmID uuid.UUID, frame protocol.Frame) error {
	payload, err := wire.Encode(frame)
	if err != nil {
		return fmt.Errorf("broker: encode DM event: %w", err)
	}
	return c.Publish(ctx, protocol.DMEventSubject(dmID), payload)
}

// Subscribe declares exchangeName with kind and binds q to it with routing key "all",
// the shape every guild and DM subscription uses.
func (c *Client) Subscribe(q *Queue, exchangeName string, kind ExchangeKind) error {
	ex := DeclareExchange(exchangeName, kind, true)
	return q.Bind(ex, "all")
}

// Unsubscribe removes q's "all"-routed binding to exchangeName.
func (c *Client) Unsubscribe(q *Queue, exchangeName string) error {
	return q.Unbind(Exchange{Name: exchangeName}, "all")
}
