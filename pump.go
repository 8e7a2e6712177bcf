package signaling

import (
	"context"

	"github.com/pkg/errors"
)

// live reports whether session is still the active, connected one.
func (c *Connection) live(session uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return session == c.session && c.machine.current.Phase == Connected
}

// pump receives frames until the session ends or the transport fails.
// Each frame is classified and published to the message subscribers while
// mu is held, so messages keep the order the transport produced them in.
func (c *Connection) pump(ctx context.Context, session uint64, tr Transport) {
	defer c.wg.Done()

	for c.live(session) {
		f, err := tr.ReceiveFrame(ctx)
		t := c.now()

		c.mu.Lock()
		if session != c.session || c.machine.current.Phase != Connected {
			// Disconnect already took care of the transport.
			c.mu.Unlock()
			return
		}

		if err != nil {
			c.endSessionLocked(err)
			_, cancel := c.releaseLocked()
			c.mu.Unlock()

			_ = tr.Close(CloseNormalClosure, "receive ended")
			cancel()
			return
		}

		c.msgSubs.publish(c.dispatch, classify(f, t))
		c.mu.Unlock()
	}
}

// endSessionLocked maps a receive error onto a state transition. A normal
// close, by either side, is not an error.
func (c *Connection) endSessionLocked(err error) {
	switch {
	case errors.Is(err, ErrTransportClosed):
		debugMessage("%ssocket closed: %v", prefixedID(c.id), err)
		c.transitionLocked(evClosed, nil)
	case errors.Is(err, ErrAbnormalClosure):
		debugMessage("%ssocket dropped: %v", prefixedID(c.id), err)
		c.transitionLocked(evFailed, newError(KindDisconnected, err))
	default:
		debugMessage("%sreceive failed: %v", prefixedID(c.id), err)
		c.transitionLocked(evFailed, newError(KindReceiveFailed, err))
	}
}
