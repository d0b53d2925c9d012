package wsconn

import "github.com/relaygate/gqlgw/protocol"

// handleStop implements §4.6. An absent id is expected for
// already-completed query/mutation operations, misbehaving clients, or
// a race with natural completion — it is logged at debug level, never
// reported to the client.
func (c *Connection) handleStop(msg *protocol.OperationMessage) {
	entry, ok := c.registry.Remove(msg.ID)
	if !ok {
		c.log.Debugf("stop for unknown or already-completed operation %q", msg.ID)
		return
	}

	c.log.WithField("operationId", msg.ID).Debugf("operation_stopped")

	if entry.IsAsyncOnly {
		if err := c.cfg.Poller.RemoveAsyncAction(msg.ID); err != nil {
			c.log.WithError(err).Errorf("failed to remove async action %q", msg.ID)
		}
		return
	}

	if err := c.cfg.LiveQuery.Stop(entry.LiveQueryID); err != nil {
		c.log.WithError(err).Errorf("failed to remove live query %q", entry.LiveQueryID)
	}

	if entry.HasAsyncAction {
		if err := c.cfg.Poller.RemoveAsyncAction(msg.ID); err != nil {
			c.log.WithError(err).Errorf("failed to remove companion async action %q", msg.ID)
		}
	}
}
