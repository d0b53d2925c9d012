// Package wsconn implements the per-socket Connection: its state
// variable (§3, I1), its reader/writer/keepalive/token-expiry tasks
// (§4.4, §5), and the init/start/stop/terminate handlers (§4.3, §4.5,
// §4.6, §4.7). It is the direct generalisation of the teacher's
// ws/protocol/graphqlws/connection.go to the spec's state model.
package wsconn

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/relaygate/gqlgw/collab"
	"github.com/relaygate/gqlgw/dispatch"
	"github.com/relaygate/gqlgw/gwcontext"
	"github.com/relaygate/gqlgw/livequery"
	"github.com/relaygate/gqlgw/logger"
	"github.com/relaygate/gqlgw/protocol"
	"github.com/relaygate/gqlgw/utils/interval"
)

// CloseCode mirrors the subset of RFC 6455 close codes this transport
// actually issues.
type CloseCode int

const (
	NormalClosure       CloseCode = 1000
	ProtocolErrorClose  CloseCode = 1002
	UnexpectedCondition CloseCode = 1011
	TokenExpiredClose   CloseCode = 4001
)

const (
	writeTimeout       = 10 * time.Second
	closeDeadline      = 100 * time.Millisecond
	outgoingBufferSize = 16
)

// Config configures one Connection. Everything under "external
// collaborators" is an interface from package collab; Connection owns
// none of their state.
type Config struct {
	WS  *websocket.Conn
	Log *logger.LogWrapper

	Auth        collab.Authenticator
	QueryStore  collab.QueryStore
	SchemaCache collab.SchemaCache
	Planner     collab.Planner
	Engine      *dispatch.Engine
	LiveQuery   *livequery.Bridge
	Poller      collab.Poller

	// RetainedHeaders are the handshake headers already filtered by the
	// CORS policy (hop-by-hop stripped, cookie rule applied).
	RetainedHeaders http.Header
	IPAddress       string
	ErrorStyle      protocol.ErrorStyle
	QueryType       protocol.QueryType

	KeepAliveInterval time.Duration

	// OnClose is invoked exactly once when the connection is fully torn
	// down, after every live query has been removed — used by the
	// server to decrement the connections gauge (§6).
	OnClose func()
}

// Connection owns one accepted WebSocket and implements the graphql-ws
// (legacy Apollo) state machine described by §3-§4.
type Connection struct {
	id  string
	cfg Config
	log *logger.LogWrapper

	ctx    context.Context
	cancel context.CancelFunc

	state    *gwcontext.Cell
	registry *gwcontext.OperationRegistry

	outgoing chan protocol.OperationMessage

	// tokenExpiryCh carries the expiry instant exactly once, the
	// moment connection_init succeeds with a non-null tokenExpiry; the
	// token-expiry task blocks reading it for the lifetime of the
	// connection if it never arrives (§4.4).
	tokenExpiryCh chan time.Time

	closeOnce sync.Once
	closed    atomic.Bool
}

// New accepts ownership of an upgraded *websocket.Conn and starts its
// reader, writer, keepalive, and token-expiry tasks (§5: "one connection
// comprises at least... one reader... one writer... one keepalive...
// one token-expiry").
func New(ctx context.Context, cfg Config) *Connection {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(ctx)

	c := &Connection{
		id:            id,
		cfg:           cfg,
		log:           cfg.Log.WithField("connectionId", id),
		ctx:           ctx,
		cancel:        cancel,
		state:         gwcontext.NewCell(gwcontext.NewNotInitialised(cfg.RetainedHeaders, cfg.IPAddress)),
		registry:      gwcontext.NewOperationRegistry(),
		outgoing:      make(chan protocol.OperationMessage, outgoingBufferSize),
		tokenExpiryCh: make(chan time.Time, 1),
	}

	go c.writeLoop()
	go c.readLoop()
	go c.keepaliveLoop()
	go c.tokenExpiryLoop()

	return c
}

// ID returns the connection's identifier, used in log fields.
func (c *Connection) ID() string { return c.id }

// writeLoop drains the outgoing queue until the connection's context is
// cancelled. It never ranges over c.outgoing: Close cancels the context
// rather than closing the channel, since sendMessage has multiple
// concurrent producers (keepaliveLoop, every live subscription's
// onChange) that could otherwise race a close with a send in flight.
func (c *Connection) writeLoop() {
	defer c.cfg.WS.Close()

	for {
		select {
		case msg := <-c.outgoing:
			c.cfg.WS.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.cfg.WS.WriteJSON(msg); err != nil {
				c.log.WithError(err).Warnf("failed to write message")
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Connection) readLoop() {
	defer c.cfg.WS.Close()

	for {
		_, data, err := c.cfg.WS.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.Close(NormalClosure, "client requested normal closure")
				return
			}
			// Transport failure: report it on the socket and force-close.
			c.sendMessage(protocol.OperationMessage{
				Type:    protocol.MsgConnectionError,
				Payload: protocol.FormatError(c.cfg.ErrorStyle, err.Error()),
			})
			c.Close(UnexpectedCondition, err.Error())
			return
		}

		// A frame that fails to decode produces a connection_error; the
		// socket stays open for the next frame (§4.1).
		msg := &protocol.OperationMessage{}
		if err := json.Unmarshal(data, msg); err != nil {
			c.sendMessage(protocol.OperationMessage{
				Type:    protocol.MsgConnectionError,
				Payload: protocol.FormatError(c.cfg.ErrorStyle, err.Error()),
			})
			continue
		}

		switch msg.Type {
		case protocol.MsgConnectionInit:
			c.handleConnectionInit(msg)
		case protocol.MsgConnectionTerminate:
			c.handleConnectionTerminate(msg)
		case protocol.MsgStart:
			c.handleStart(msg)
		case protocol.MsgStop:
			c.handleStop(msg)
		default:
			c.log.Warnf("unhandled message type %q", msg.Type)
			c.sendMessage(protocol.OperationMessage{
				Type:    protocol.MsgError,
				Payload: protocol.FormatError(c.cfg.ErrorStyle, "unhandled message type"),
			})
		}

		if c.closed.Load() {
			return
		}
	}
}

func (c *Connection) keepaliveLoop() {
	if c.cfg.KeepAliveInterval <= 0 {
		return
	}

	ticker := time.NewTicker(c.cfg.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sendMessage(protocol.OperationMessage{Type: protocol.MsgConnectionKA})
		case <-c.ctx.Done():
			return
		}
	}
}

// tokenExpiryLoop blocks until connection_init resolves a non-null
// token expiry, then sleeps until that instant, then closes (§4.4). It
// reuses the teacher's utils/interval one-shot timer helper for the
// actual sleep.
func (c *Connection) tokenExpiryLoop() {
	select {
	case exp := <-c.tokenExpiryCh:
		delay := time.Until(exp)
		if delay <= 0 {
			c.Close(TokenExpiredClose, "token expired")
			return
		}

		timer := interval.SetTimeout(func() {
			c.Close(TokenExpiredClose, "token expired")
		}, delay)

		<-c.ctx.Done()
		timer.Clear()

	case <-c.ctx.Done():
	}
}

// sendMessage enqueues msg on the outbound queue, the single point of
// serialization for every message this connection emits (§5 ordering
// guarantee). Sends to a closed connection drop silently (§9 "the
// queue ... causing subsequent on-change sends to drop silently").
func (c *Connection) sendMessage(msg protocol.OperationMessage) {
	if c.closed.Load() {
		return
	}
	select {
	case c.outgoing <- msg:
	case <-c.ctx.Done():
	}
}
