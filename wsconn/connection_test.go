package wsconn_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"github.com/relaygate/gqlgw/collab"
	"github.com/relaygate/gqlgw/dispatch"
	"github.com/relaygate/gqlgw/gwcontext"
	"github.com/relaygate/gqlgw/livequery"
	"github.com/relaygate/gqlgw/logger"
	"github.com/relaygate/gqlgw/protocol"
	"github.com/relaygate/gqlgw/refimpl"
	"github.com/relaygate/gqlgw/wsconn"
)

const testTimeout = 2 * time.Second

// harness wires one wsconn.Connection behind an in-process HTTP
// server, with a fakePoller standing in for the live-query backend so
// subscription scenarios are deterministic instead of timing-dependent.
type harness struct {
	server *httptest.Server
	client *websocket.Conn
	poller *fakePoller
	closed chan struct{}
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	auth := refimpl.NewAuthenticator()
	auth.Register("test-token", refimpl.TokenInfo{UserInfo: gwcontext.UserInfo{Role: "user", UserID: "u1"}})

	sql := refimpl.NewSQLExecutor()
	sql.Seed("select-greeting", "hello")

	planner := refimpl.NewPlanner()
	planner.Register("Greeting", refimpl.OperationSpec{
		Kind:   collab.PlanKindQuery,
		Fields: []collab.Step{&collab.DBStep{Field: "greeting", Source: "main", GeneratedSQL: "select-greeting"}},
	})
	planner.Register("WatchGreeting", refimpl.OperationSpec{
		Kind:   collab.PlanKindSubscription,
		Source: "main",
		Fields: []collab.Step{&collab.DBStep{Field: "greeting", Source: "main", GeneratedSQL: "select-greeting"}},
	})
	planner.Register("AsyncOnly", refimpl.OperationSpec{
		Kind:           collab.PlanKindSubscription,
		AsyncActionIDs: []string{"a1"},
	})
	planner.Register("WatchGreetingWithAction", refimpl.OperationSpec{
		Kind:           collab.PlanKindSubscription,
		Source:         "main",
		Fields:         []collab.Step{&collab.DBStep{Field: "greeting", Source: "main", GeneratedSQL: "select-greeting"}},
		AsyncActionIDs: []string{"a1"},
	})

	schema, err := refimpl.PlaceholderSchema()
	if err != nil {
		t.Fatalf("building placeholder schema: %v", err)
	}

	engine := &dispatch.Engine{SQL: sql, Log: logger.NewNoop(), Tracer: otel.Tracer("test")}
	poller := newFakePoller()
	bridge := &livequery.Bridge{Poller: poller, Log: logger.NewNoop()}

	closed := make(chan struct{})
	connCh := make(chan *wsconn.Connection, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		c := wsconn.New(context.Background(), wsconn.Config{
			WS:          ws,
			Log:         logger.NewNoop(),
			Auth:        auth,
			QueryStore:  refimpl.NewQueryStore(),
			SchemaCache: refimpl.NewSchemaCache(schema),
			Planner:     planner,
			Engine:      engine,
			LiveQuery:   bridge,
			Poller:      poller,
			ErrorStyle:  protocol.ErrorStyleCompliant,
			QueryType:   protocol.QueryTypeHasura,
			OnClose:     func() { close(closed) },
		})
		connCh <- c
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/"
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	<-connCh // wait for the server side to finish constructing the Connection

	return &harness{server: server, client: client, poller: poller, closed: closed}
}

func sendMsg(t *testing.T, ws *websocket.Conn, msg protocol.OperationMessage) {
	t.Helper()
	if err := ws.WriteJSON(msg); err != nil {
		t.Fatalf("write %s: %v", msg.Type, err)
	}
}

func readMsg(t *testing.T, ws *websocket.Conn) protocol.OperationMessage {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(testTimeout))
	var msg protocol.OperationMessage
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func initConn(t *testing.T, h *harness) {
	t.Helper()
	sendMsg(t, h.client, protocol.OperationMessage{
		Type:    protocol.MsgConnectionInit,
		Payload: map[string]interface{}{"headers": map[string]string{"Authorization": "Bearer test-token"}},
	})

	ack := readMsg(t, h.client)
	if ack.Type != protocol.MsgConnectionAck {
		t.Fatalf("expected connection_ack, got %s", ack.Type)
	}
	ka := readMsg(t, h.client)
	if ka.Type != protocol.MsgConnectionKA {
		t.Fatalf("expected connection_ka, got %s", ka.Type)
	}
}

func payloadMap(t *testing.T, msg protocol.OperationMessage) map[string]interface{} {
	t.Helper()
	m, ok := msg.Payload.(map[string]interface{})
	if !ok {
		t.Fatalf("expected map payload, got %T: %v", msg.Payload, msg.Payload)
	}
	return m
}

// Scenario: happy-path query. connection_init, then a start for a
// query plan, expecting data immediately followed by complete.
func TestHappyPathQuery(t *testing.T) {
	h := newHarness(t)
	initConn(t, h)

	sendMsg(t, h.client, protocol.OperationMessage{
		ID:   "1",
		Type: protocol.MsgStart,
		Payload: protocol.StartPayload{
			Query:         "{ greeting }",
			OperationName: "Greeting",
		},
	})

	data := readMsg(t, h.client)
	if data.Type != protocol.MsgData || data.ID != "1" {
		t.Fatalf("expected data{id=1}, got %+v", data)
	}
	body := payloadMap(t, data)
	result, ok := body["data"].(map[string]interface{})
	if !ok || result["greeting"] != "hello" {
		t.Fatalf("unexpected data payload: %v", body)
	}

	complete := readMsg(t, h.client)
	if complete.Type != protocol.MsgComplete || complete.ID != "1" {
		t.Fatalf("expected complete{id=1}, got %+v", complete)
	}
}

// Scenario: start received before connection_init. Must produce
// error{id} followed by complete{id}, without ever touching the plan.
func TestStartBeforeInit(t *testing.T) {
	h := newHarness(t)

	sendMsg(t, h.client, protocol.OperationMessage{
		ID:      "1",
		Type:    protocol.MsgStart,
		Payload: protocol.StartPayload{OperationName: "Greeting"},
	})

	errMsg := readMsg(t, h.client)
	if errMsg.Type != protocol.MsgError || errMsg.ID != "1" {
		t.Fatalf("expected error{id=1}, got %+v", errMsg)
	}

	complete := readMsg(t, h.client)
	if complete.Type != protocol.MsgComplete || complete.ID != "1" {
		t.Fatalf("expected complete{id=1}, got %+v", complete)
	}
}

// Scenario: duplicate operation id. A second start reusing an id still
// live in the registry (a subscription) is rejected outright — no
// insert, no complete, the first subscription stays untouched.
func TestDuplicateOperationID(t *testing.T) {
	h := newHarness(t)
	initConn(t, h)

	sendMsg(t, h.client, protocol.OperationMessage{
		ID:      "dup",
		Type:    protocol.MsgStart,
		Payload: protocol.StartPayload{OperationName: "WatchGreeting"},
	})

	// The subscription registers silently (no immediate ack in
	// graphql-ws); give the server a moment to process it before
	// reusing the id.
	deadline := time.Now().Add(testTimeout)
	for {
		if live, _ := h.poller.counts(); live == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("subscription never registered with the poller")
		}
		time.Sleep(time.Millisecond)
	}

	sendMsg(t, h.client, protocol.OperationMessage{
		ID:      "dup",
		Type:    protocol.MsgStart,
		Payload: protocol.StartPayload{OperationName: "WatchGreeting"},
	})

	errMsg := readMsg(t, h.client)
	if errMsg.Type != protocol.MsgError || errMsg.ID != "dup" {
		t.Fatalf("expected error{id=dup}, got %+v", errMsg)
	}
	body := payloadMap(t, errMsg)
	errs, _ := body["errors"].([]interface{})
	if len(errs) != 1 {
		t.Fatalf("expected exactly one error, got %v", body)
	}

	if live, _ := h.poller.counts(); live != 1 {
		t.Fatalf("duplicate start must not register a second live query, got %d", live)
	}
}

// Scenario: subscription add/remove. A stop for a live subscription
// must remove it from the poller, and a stop for an unknown id is a
// silent no-op.
func TestSubscriptionAddRemove(t *testing.T) {
	h := newHarness(t)
	initConn(t, h)

	sendMsg(t, h.client, protocol.OperationMessage{
		ID:      "sub1",
		Type:    protocol.MsgStart,
		Payload: protocol.StartPayload{OperationName: "WatchGreeting"},
	})

	deadline := time.Now().Add(testTimeout)
	for {
		if live, _ := h.poller.counts(); live == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("subscription never registered with the poller")
		}
		time.Sleep(time.Millisecond)
	}

	sendMsg(t, h.client, protocol.OperationMessage{ID: "sub1", Type: protocol.MsgStop})

	deadline = time.Now().Add(testTimeout)
	for {
		if live, _ := h.poller.counts(); live == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("stop never removed the live query from the poller")
		}
		time.Sleep(time.Millisecond)
	}

	// A stop for an id that no longer exists must not crash or reply.
	sendMsg(t, h.client, protocol.OperationMessage{ID: "sub1", Type: protocol.MsgStop})
	sendMsg(t, h.client, protocol.OperationMessage{
		ID:      "1",
		Type:    protocol.MsgStart,
		Payload: protocol.StartPayload{OperationName: "Greeting"},
	})
	data := readMsg(t, h.client)
	if data.Type != protocol.MsgData || data.ID != "1" {
		t.Fatalf("connection must still be healthy after a stale stop, got %+v", data)
	}
}

// A source-backed subscription with companion async actions (the
// restart-wrapper case) registers both a live query and an
// async-action queue entry with the poller. Stopping it must remove
// both, or the async-action entry (and its goroutine) leaks forever.
func TestStopRemovesCompanionAsyncAction(t *testing.T) {
	h := newHarness(t)
	initConn(t, h)

	sendMsg(t, h.client, protocol.OperationMessage{
		ID:      "sub1",
		Type:    protocol.MsgStart,
		Payload: protocol.StartPayload{OperationName: "WatchGreetingWithAction"},
	})

	deadline := time.Now().Add(testTimeout)
	for {
		live, async := h.poller.counts()
		if live == 1 && async == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("subscription never fully registered: live=%d async=%d", live, async)
		}
		time.Sleep(time.Millisecond)
	}

	sendMsg(t, h.client, protocol.OperationMessage{ID: "sub1", Type: protocol.MsgStop})

	deadline = time.Now().Add(testTimeout)
	for {
		live, async := h.poller.counts()
		if live == 0 && async == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("stop must remove both the live query and its companion async action, got live=%d async=%d", live, async)
		}
		time.Sleep(time.Millisecond)
	}
}

// Scenario: close cleanup. Three live subscriptions — a plain
// source-backed live query, a source-backed live query with a
// companion async action (the restart-wrapper case), and an
// async-only subscription — must all be fully removed from the poller
// when the client closes the socket, and OnClose must fire exactly once.
func TestCloseCleanupDrainsSubscriptions(t *testing.T) {
	h := newHarness(t)
	initConn(t, h)

	sendMsg(t, h.client, protocol.OperationMessage{ID: "s1", Type: protocol.MsgStart, Payload: protocol.StartPayload{OperationName: "WatchGreeting"}})
	sendMsg(t, h.client, protocol.OperationMessage{ID: "s2", Type: protocol.MsgStart, Payload: protocol.StartPayload{OperationName: "WatchGreetingWithAction"}})
	sendMsg(t, h.client, protocol.OperationMessage{ID: "s3", Type: protocol.MsgStart, Payload: protocol.StartPayload{OperationName: "AsyncOnly"}})

	deadline := time.Now().Add(testTimeout)
	for {
		live, async := h.poller.counts()
		if live == 2 && async == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("subscriptions never fully registered: live=%d async=%d", live, async)
		}
		time.Sleep(time.Millisecond)
	}

	h.client.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	h.client.Close()

	select {
	case <-h.closed:
	case <-time.After(testTimeout):
		t.Fatalf("OnClose never fired")
	}

	live, async := h.poller.counts()
	if live != 0 || async != 0 {
		t.Fatalf("close must drain every subscription, got live=%d async=%d", live, async)
	}
	if len(h.poller.removedLive) != 2 || len(h.poller.removedAsync) != 2 {
		t.Fatalf("expected 2 live + 2 async removal, got live=%v async=%v", h.poller.removedLive, h.poller.removedAsync)
	}
}
