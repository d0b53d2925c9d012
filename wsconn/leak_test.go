package wsconn_test

import (
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/goleak"

	"github.com/relaygate/gqlgw/protocol"
)

// TestCloseLeavesNoGoroutinesRunning re-runs the close-cleanup scenario
// under goleak: §5 lists one reader, one writer, one keepalive, and one
// token-expiry task per connection, and Close must make all four exit.
func TestCloseLeavesNoGoroutinesRunning(t *testing.T) {
	defer goleak.VerifyNone(t,
		goleak.IgnoreCurrent(),
		// net/http keeps idle-connection and timer goroutines of its own
		// alive past any single test; Close isn't responsible for those.
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)

	h := newHarness(t)
	initConn(t, h)

	sendMsg(t, h.client, protocol.OperationMessage{ID: "s1", Type: protocol.MsgStart, Payload: protocol.StartPayload{OperationName: "WatchGreeting"}})

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

	h.client.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	h.client.Close()

	select {
	case <-h.closed:
	case <-time.After(testTimeout):
		t.Fatalf("OnClose never fired")
	}

	// Give the reader/writer/keepalive/token-expiry tasks a moment past
	// Close to actually unwind before asserting no goroutines survive.
	time.Sleep(20 * time.Millisecond)
}
