package wsconn

import (
	"time"

	"github.com/gorilla/websocket"
)

// Close tears the connection down exactly once, regardless of which
// path triggered it (client terminate, network failure, token expiry,
// or server shutdown). It logs "closed" while the registry still shows
// its pre-removal count, then removes every surviving operation from
// the poller before releasing anything else (§4.7, invariant I2).
func (c *Connection) Close(code CloseCode, reason string) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)

		c.log.WithField("code", code).WithField("liveQueryCount", c.registry.Len()).
			Infof("closed connection: %s", reason)

		drained := c.registry.DrainAll()
		for opID, entry := range drained {
			if entry.IsAsyncOnly {
				if err := c.cfg.Poller.RemoveAsyncAction(opID); err != nil {
					c.log.WithError(err).Errorf("failed to remove async action %q on close", opID)
				}
				continue
			}
			if err := c.cfg.LiveQuery.Stop(entry.LiveQueryID); err != nil {
				c.log.WithError(err).Errorf("failed to remove live query %q on close", entry.LiveQueryID)
			}
			if entry.HasAsyncAction {
				if err := c.cfg.Poller.RemoveAsyncAction(opID); err != nil {
					c.log.WithError(err).Errorf("failed to remove companion async action %q on close", opID)
				}
			}
		}

		// Never close(c.outgoing): sendMessage has multiple concurrent
		// producers (keepaliveLoop, every live subscription's onChange
		// running on the poller's goroutine), and closing the channel out
		// from under a send in flight would panic. Cancelling the context
		// is enough — writeLoop selects on ctx.Done() and exits, abandoning
		// the channel to the GC, and sendMessage's own ctx.Done() case
		// means any send racing the close just drops silently (§9).
		c.cancel()

		closeMsg := websocket.FormatCloseMessage(int(code), reason)
		deadline := time.Now().Add(closeDeadline)
		if err := c.cfg.WS.WriteControl(websocket.CloseMessage, closeMsg, deadline); err != nil {
			if err != websocket.ErrCloseSent {
				c.cfg.WS.Close()
			}
		}

		if c.cfg.OnClose != nil {
			c.cfg.OnClose()
		}
	})
}
