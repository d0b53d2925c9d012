package wsconn

import "github.com/relaygate/gqlgw/protocol"

func (c *Connection) handleConnectionTerminate(msg *protocol.OperationMessage) {
	c.Close(NormalClosure, "client requested normal closure: terminate request")
}
