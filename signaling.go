package signaling

import (
	"context"
	"log"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pingmeet/signaling/command"
	"github.com/pkg/errors"
)

// Options customizes a Connection. The zero value is ready to use.
type Options struct {
	// Transport builds the socket for each connection attempt. Defaults to
	// gorilla/websocket with DefaultConfig.
	Transport TransportFactory

	// Executor receives every state and message notification. When nil,
	// notifications run on an internal goroutine, one at a time.
	Executor Executor

	// This value is used in debug messages to tell connections apart. A
	// random UUID is used when it is empty.
	CustomID string

	// Now stamps inbound messages. Defaults to time.Now.
	Now func() time.Time
}

// Connection is a client connection to a signaling endpoint. It manages the
// socket, its state, and the message pump so that the caller doesn't have
// to. All methods are safe for concurrent use.
type Connection struct {
	endpoint     *url.URL
	id           string
	newTransport TransportFactory
	dispatch     *dispatcher
	now          func() time.Time

	stateSubs subscribers[ConnectionState]
	msgSubs   subscribers[InboundMessage]

	// Everything below is guarded by mu. session increases on every
	// connect and disconnect so that results of an older attempt can be
	// recognized and dropped.
	mu        sync.Mutex
	machine   stateMachine
	session   uint64
	transport Transport
	cancel    context.CancelFunc

	// Tracks the open and pump goroutines.
	wg sync.WaitGroup
}

// dispatcher funnels notifications through a serial queue and, when one is
// configured, hands them on to the caller's Executor.
type dispatcher struct {
	queue *serialQueue
	exec  Executor
}

func (d *dispatcher) Execute(fn func()) {
	if d.exec == nil {
		d.queue.Execute(fn)
		return
	}
	d.queue.Execute(func() { d.exec.Execute(fn) })
}

func debugEnabled() bool {
	v := os.Getenv("DEBUG")
	return v != ""
}

func debugMessage(msg string, v ...interface{}) {
	if debugEnabled() {
		log.Printf(msg, v...)
	}
}

func prefixedID(ID string) string {
	if ID == "" {
		return ""
	}

	return "[" + ID + "] "
}

// New creates a Connection for the given endpoint. The endpoint is
// validated first; if it is invalid, New returns an error matching
// ErrInvalidEndpoint and no Connection or transport is created.
func New(endpoint string, opts *Options) (*Connection, error) {
	u, err := ParseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}

	if opts == nil {
		opts = &Options{}
	}

	c := &Connection{
		endpoint:     u,
		id:           opts.CustomID,
		newTransport: opts.Transport,
		dispatch:     &dispatcher{queue: newSerialQueue(), exec: opts.Executor},
		now:          opts.Now,
	}

	if c.id == "" {
		c.id = uuid.NewString()
	}
	if c.newTransport == nil {
		c.newTransport = WebsocketTransportFactory(DefaultConfig())
	}
	if c.now == nil {
		c.now = time.Now
	}

	return c, nil
}

// ID returns the identifier used in debug messages.
func (c *Connection) ID() string {
	return c.id
}

// Endpoint returns a copy of the endpoint URL.
func (c *Connection) Endpoint() *url.URL {
	u := *c.endpoint
	return &u
}

// State returns the current connection state.
func (c *Connection) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.current
}

// SubscribeState registers fn to receive every state transition. The
// current state is delivered first, so a subscriber registered before
// Connect observes Disconnected, Connecting, Connected.
func (c *Connection) SubscribeState(fn func(ConnectionState)) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, handle := c.stateSubs.add(fn)
	current := c.machine.current
	c.dispatch.Execute(func() { sub.deliver(current) })

	return handle
}

// SubscribeMessages registers fn to receive every inbound message, in the
// order the frames arrived.
func (c *Connection) SubscribeMessages(fn func(InboundMessage)) *Subscription {
	_, handle := c.msgSubs.add(fn)
	return handle
}

// transitionLocked feeds ev to the state machine and publishes the result.
// Publishing under mu keeps notifications in transition order.
func (c *Connection) transitionLocked(ev event, reason *Error) bool {
	next, ok := c.machine.apply(ev, reason)
	if !ok {
		debugMessage("%signoring %s while %s", prefixedID(c.id), ev, c.machine.current)
		return false
	}

	debugMessage("%sstate: %s", prefixedID(c.id), next)
	c.stateSubs.publish(c.dispatch, next)
	return true
}

// releaseLocked detaches the current transport from the connection and
// returns it together with the cancel function of its session.
func (c *Connection) releaseLocked() (Transport, context.CancelFunc) {
	tr, cancel := c.transport, c.cancel
	c.transport, c.cancel = nil, nil
	if cancel == nil {
		cancel = func() {}
	}
	return tr, cancel
}

// Connect starts a connection attempt and returns immediately. It is only
// honored in the Disconnected and Errored states; while connecting or
// connected it does nothing, so there is never more than one socket.
func (c *Connection) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connectLocked()
}

// retry starts a new attempt only while the connection is still Errored.
// A Disconnect that happened since the failure wins over the retry.
func (c *Connection) retry() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.machine.current.Phase != Errored {
		return false
	}
	c.connectLocked()
	return true
}

func (c *Connection) connectLocked() {
	if !c.transitionLocked(evConnect, nil) {
		return
	}

	c.session++
	session := c.session

	ctx, cancel := context.WithCancel(context.Background())
	tr := c.newTransport()
	c.transport = tr
	c.cancel = cancel

	debugMessage("%sopening %s", prefixedID(c.id), c.endpoint)

	c.wg.Add(1)
	go c.open(ctx, session, tr)
}

func (c *Connection) open(ctx context.Context, session uint64, tr Transport) {
	defer c.wg.Done()

	err := tr.Open(ctx, c.endpoint)

	c.mu.Lock()
	if session != c.session {
		// Disconnect was called while the socket was opening.
		c.mu.Unlock()
		_ = tr.Close(CloseNormalClosure, "client disconnect")
		return
	}

	if err != nil {
		c.transitionLocked(evFailed, newError(KindOpenFailed, err))
		_, cancel := c.releaseLocked()
		c.mu.Unlock()

		debugMessage("%sopen failed: %v", prefixedID(c.id), err)
		_ = tr.Close(CloseNormalClosure, "open failed")
		cancel()
		return
	}

	c.transitionLocked(evOpened, nil)
	c.wg.Add(1)
	c.mu.Unlock()

	go c.pump(ctx, session, tr)
}

// Disconnect closes the socket and moves the connection to Disconnected.
// It always succeeds. A receive pending in the message pump resolves and
// the pump exits without issuing another one.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	c.session++
	tr, cancel := c.releaseLocked()
	c.transitionLocked(evDisconnect, nil)
	c.mu.Unlock()

	if tr != nil {
		if err := tr.Close(CloseNormalClosure, "client disconnect"); err != nil {
			debugMessage("%sclose failed: %v", prefixedID(c.id), err)
		}
	}
	cancel()
}

// Send writes text to the socket. It fails immediately, without touching
// the transport, when the connection is not Connected. A failed write is
// returned to the caller and does not change the connection state.
func (c *Connection) Send(ctx context.Context, text string) error {
	c.mu.Lock()
	state, tr := c.machine.current, c.transport
	c.mu.Unlock()

	if state.Phase != Connected || tr == nil {
		return newError(KindSendFailed, errors.Wrapf(ErrNotConnected, "state is %s", state.Phase))
	}

	if err := tr.SendFrame(ctx, text); err != nil {
		debugMessage("%ssend failed: %v", prefixedID(c.id), err)
		return newError(KindSendFailed, err)
	}

	return nil
}

// SendCommand sends the text form of cmd.
func (c *Connection) SendCommand(ctx context.Context, cmd command.Command) error {
	text, err := cmd.MarshalText()
	if err != nil {
		return newError(KindSendFailed, errors.Wrap(err, "command encoding failed"))
	}
	return c.Send(ctx, string(text))
}

// Wait blocks until the background goroutines of every past session have
// exited and all queued notifications have been handed off. It must not be
// called from a subscriber.
func (c *Connection) Wait() {
	c.wg.Wait()
	c.dispatch.queue.flush()
}
