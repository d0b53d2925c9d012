package wsconn

import (
	"net/http"

	"github.com/relaygate/gqlgw/gwcontext"
	"github.com/relaygate/gqlgw/protocol"
	"github.com/relaygate/gqlgw/utils"
)

// connectionInitPayload is the shape of a connection_init payload: an
// optional headers object that is unioned with the handshake headers,
// payload winning on duplicates (§4.3).
type connectionInitPayload struct {
	Headers map[string]string `json:"headers"`
}

func (c *Connection) handleConnectionInit(msg *protocol.OperationMessage) {
	cur := c.state.Load()
	if cur.Phase != gwcontext.PhaseNotInitialised {
		// Unspecified in the source; this spec mandates silent ignore
		// (§9 open question).
		c.log.Debugf("ignoring connection_init on an already-initialised connection")
		return
	}

	var payload connectionInitPayload
	_ = utils.ReMarshal(msg.Payload, &payload)

	headers := mergeHeaders(cur.Headers, payload.Headers)

	userInfo, tokenExpiry, err := c.cfg.Auth.Resolve(c.ctx, headers)
	if err != nil {
		next := &gwcontext.ConnState{
			Phase:            gwcontext.PhaseInitError,
			InitErrorMessage: err.Error(),
		}
		if c.state.TryTransitionFromNotInitialised(next) {
			c.log.WithError(err).Errorf("connection_init failed")
			c.sendMessage(protocol.OperationMessage{
				Type:    protocol.MsgConnectionError,
				Payload: protocol.FormatError(c.cfg.ErrorStyle, err.Error()),
			})
		}
		return
	}

	next := &gwcontext.ConnState{
		Phase:            gwcontext.PhaseInitialised,
		UserInfo:         userInfo,
		TokenExpiry:      tokenExpiry,
		ForwardedHeaders: headers,
		IPAddress:        cur.IPAddress,
	}

	if !c.state.TryTransitionFromNotInitialised(next) {
		return
	}

	c.sendMessage(protocol.OperationMessage{Type: protocol.MsgConnectionAck})
	c.sendMessage(protocol.OperationMessage{Type: protocol.MsgConnectionKA})

	if tokenExpiry != nil {
		select {
		case c.tokenExpiryCh <- *tokenExpiry:
		default:
		}
	}
}

// mergeHeaders unions retained handshake headers with the
// connection_init payload's headers object, the payload winning on
// duplicate keys (§4.3).
func mergeHeaders(base http.Header, overrides map[string]string) http.Header {
	out := base.Clone()
	if out == nil {
		out = http.Header{}
	}
	for k, v := range overrides {
		out.Set(k, v)
	}
	return out
}
