package signaling

import (
	"sync"
	"time"
)

// Reconnector retries a Connection that ended up in the Errored state. A
// Connection never reconnects by itself; attach a Reconnector with Watch to
// opt in. Outbound messages are not queued while reconnecting.
type Reconnector struct {
	// The maximum number of consecutive attempts before giving up. The
	// count resets once a connection reaches Connected.
	MaxRetries int

	// The time to wait before the first retry. Each following retry waits
	// twice as long as the previous one.
	RetryWaitDuration time.Duration

	// The upper bound for the wait between retries. Zero means the wait is
	// capped at one hour.
	MaxWaitDuration time.Duration
}

// maxBackoff bounds the wait when MaxWaitDuration is not set.
const maxBackoff = time.Hour

// NewReconnector returns a Reconnector with default settings.
func NewReconnector() *Reconnector {
	return &Reconnector{
		MaxRetries:        5,
		RetryWaitDuration: 1 * time.Second,
		MaxWaitDuration:   30 * time.Second,
	}
}

// backoff returns the wait before the given zero-based attempt.
func (r *Reconnector) backoff(attempt int) time.Duration {
	ceiling := r.MaxWaitDuration
	if ceiling <= 0 {
		ceiling = maxBackoff
	}

	// Doubling stops at the ceiling, so d cannot overflow.
	d := r.RetryWaitDuration
	for i := 0; i < attempt && d > 0 && d < ceiling; i++ {
		d *= 2
	}
	if d > ceiling {
		return ceiling
	}
	return d
}

// Watch starts retrying c whenever it enters the Errored state. The
// returned function stops watching and cancels a pending retry.
func (r *Reconnector) Watch(c *Connection) (stop func()) {
	w := &reconnectWatch{r: r, c: c}
	w.sub = c.SubscribeState(w.onState)
	return w.stop
}

type reconnectWatch struct {
	r   *Reconnector
	c   *Connection
	sub *Subscription

	mu       sync.Mutex
	attempts int
	timer    *time.Timer
	stopped  bool
}

func (w *reconnectWatch) onState(s ConnectionState) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}

	switch s.Phase {
	case Connected:
		w.attempts = 0
	case Disconnected:
		// Either the user asked for it or the server closed cleanly.
		w.cancelLocked()
		w.attempts = 0
	case Errored:
		if w.attempts >= w.r.MaxRetries {
			debugMessage("%sgiving up after %d reconnect attempts", prefixedID(w.c.id), w.attempts)
			return
		}
		delay := w.r.backoff(w.attempts)
		w.attempts++
		w.cancelLocked()
		w.timer = time.AfterFunc(delay, w.fire)
	}
}

func (w *reconnectWatch) fire() {
	w.mu.Lock()
	stopped := w.stopped
	w.mu.Unlock()
	if stopped {
		return
	}

	debugMessage("%sattempting to reconnect...", prefixedID(w.c.id))
	if !w.c.retry() {
		debugMessage("%sreconnect skipped, connection left the error state", prefixedID(w.c.id))
	}
}

func (w *reconnectWatch) cancelLocked() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func (w *reconnectWatch) stop() {
	w.mu.Lock()
	w.stopped = true
	w.cancelLocked()
	w.mu.Unlock()

	w.sub.Unsubscribe()
}
