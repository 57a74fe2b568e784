package gateway

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/chatplatform/gateway/internal/broker"
	"github.com/chatplatform/gateway/internal/directory"
	"github.com/chatplatform/gateway/internal/presence"
	"github.com/chatplatform/gateway/internal/protocol"
	"github.com/chatplatform/gateway/internal/ws"
	fastws "github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// staticTokenResolver resolves any token to a fixed user id, standing in for the real
// identity service in tests.
type staticTokenResolver struct {
	userID uuid.UUID
}

func (r staticTokenResolver) Resolve(_ context.Context, _ string) (uuid.UUID, error) {
	return r.userID, nil
}

// startTestGateway wires a Controller against an in-memory directory (seeded with one
// guild and one owner), miniredis, and an embedded NATS server, then serves it over a
// real TCP listener so a test can dial it as a genuine WebSocket client.
func startTestGateway(t *testing.T) (addr string, ownerID uuid.UUID) {
	t.Helper()

	m := directory.NewMemory()
	owner, _, err := directory.SeedDevelopment(m)
	if err != nil {
		t.Fatalf("SeedDevelopment() error = %v", err)
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	srv, err := natsserver.NewServer(&natsserver.Options{Port: -1, Host: "127.0.0.1"})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	go srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS server did not become ready")
	}
	brokerClient, err := broker.Connect(srv.ClientURL(), zerolog.Nop())
	if err != nil {
		t.Fatalf("broker.Connect() error = %v", err)
	}
	t.Cleanup(brokerClient.Close)

	presenceStore := presence.NewStore(rdb, m, brokerClient)

	controller := NewController(
		staticTokenResolver{userID: owner}, presenceStore, m, m, brokerClient, zerolog.Nop(),
		time.Second, 30*time.Second, 1000, time.Minute, time.Minute,
	)

	handler := ws.NewHandler(controller.Handle)
	app := fiber.New()
	app.Get("/ws", handler.Upgrade)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })

	return ln.Addr().String(), owner
}

func TestControllerHappyPathSendsHelloThenReady(t *testing.T) {
	t.Parallel()
	addr, _ := startTestGateway(t)

	conn, _, err := fastws.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	var hello protocol.Frame
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("ReadJSON(hello) error = %v", err)
	}
	if hello.Op != protocol.OpcodeHello {
		t.Fatalf("first frame Op = %v, want OpcodeHello", hello.Op)
	}

	identifyData, err := json.Marshal(protocol.Identify{Token: "any-token", Status: protocol.StatusOnline, Device: protocol.DeviceWeb})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if err := conn.WriteJSON(protocol.Frame{Op: protocol.OpcodeIdentify, Data: identifyData}); err != nil {
		t.Fatalf("WriteJSON(identify) error = %v", err)
	}

	var ready protocol.Frame
	if err := conn.ReadJSON(&ready); err != nil {
		t.Fatalf("ReadJSON(ready) error = %v", err)
	}
	if ready.Op != protocol.OpcodeReady {
		t.Fatalf("second frame Op = %v, want OpcodeReady", ready.Op)
	}

	var payload protocol.ReadyPayload
	if err := json.Unmarshal(ready.Data, &payload); err != nil {
		t.Fatalf("Unmarshal(ready payload) error = %v", err)
	}
	if payload.SessionID == "" {
		t.Error("expected a non-empty session id in the ready payload")
	}
}

func TestControllerPingReceivesPong(t *testing.T) {
	t.Parallel()
	addr, _ := startTestGateway(t)

	conn, _, err := fastws.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	var hello protocol.Frame
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("ReadJSON(hello) error = %v", err)
	}

	identifyData, _ := json.Marshal(protocol.Identify{Token: "any-token", Status: protocol.StatusOnline, Device: protocol.DeviceWeb})
	if err := conn.WriteJSON(protocol.Frame{Op: protocol.OpcodeIdentify, Data: identifyData}); err != nil {
		t.Fatalf("WriteJSON(identify) error = %v", err)
	}
	var ready protocol.Frame
	if err := conn.ReadJSON(&ready); err != nil {
		t.Fatalf("ReadJSON(ready) error = %v", err)
	}

	if err := conn.WriteJSON(protocol.Frame{Op: protocol.OpcodePing}); err != nil {
		t.Fatalf("WriteJSON(ping) error = %v", err)
	}
	var pong protocol.Frame
	if err := conn.ReadJSON(&pong); err != nil {
		t.Fatalf("ReadJSON(pong) error = %v", err)
	}
	if pong.Op != protocol.OpcodePong {
		t.Fatalf("Op = %v, want OpcodePong", pong.Op)
	}
}

func TestControllerIdentifyTimeoutClosesWithPolicyViolation(t *testing.T) {
	t.Parallel()
	addr, _ := startTestGateway(t)

	conn, _, err := fastws.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	var hello protocol.Frame
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("ReadJSON(hello) error = %v", err)
	}

	// Send nothing and wait past the 1s identify timeout configured in startTestGateway.
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err = conn.ReadMessage()
	closeErr, ok := err.(*fastws.CloseError)
	if !ok {
		t.Fatalf("ReadMessage() error = %v, want a *websocket.CloseError", err)
	}
	if closeErr.Code != 1008 {
		t.Errorf("close code = %d, want 1008", closeErr.Code)
	}
}
