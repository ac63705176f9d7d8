package katcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultPort is the port the board's control server listens on.
const DefaultPort = 7147

// maxLineBytes bounds a single KATCP line; ?listdev and ?meta informs on
// large designs can be long.
const maxLineBytes = 1 << 20

// ErrClosed is returned once the connection has been closed or lost.
var ErrClosed = errors.New("katcp: connection closed")

// RequestError is returned when the server answers a request with a status
// other than "ok".
type RequestError struct {
	Request string
	Status  string
	Reason  string
}

func (e *RequestError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("katcp: ?%s: %s", e.Request, e.Status)
	}
	return fmt.Sprintf("katcp: ?%s: %s: %s", e.Request, e.Status, e.Reason)
}

// Response is the reply to a request plus the informs that carried the same
// name while the request was outstanding.
type Response struct {
	Reply   Message
	Informs []Message
}

type call struct {
	name    string
	reply   Message
	informs []Message
	done    chan struct{}
}

// Watch waits for an asynchronous inform. Create it before issuing the
// request that triggers the inform.
type Watch struct {
	c     *Client
	name  string
	match func(Message) bool
	ch    chan Message
}

// Client is a KATCP connection. Requests are serialised: KATCP without
// message ids correlates replies by name, so only one request is in flight.
type Client struct {
	conn net.Conn
	log  *zap.Logger
	wire *zap.Logger

	reqMu sync.Mutex

	mu      sync.Mutex
	current *call
	watches []*Watch
	err     error
	// orphans counts replies still owed for requests abandoned on context
	// expiry, by name. They are dropped when they arrive.
	orphans map[string]int

	readerDone chan struct{}
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger; wire traffic goes to its "wire" child at debug.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) {
		c.log = log
		c.wire = log.Named("wire")
	}
}

// Dial connects to a control server. A missing port defaults to DefaultPort.
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, fmt.Sprint(DefaultPort))
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("katcp: dial %s: %w", addr, err)
	}
	return NewClient(conn, opts...), nil
}

// NewClient wraps an established connection and starts its reader.
func NewClient(conn net.Conn, opts ...Option) *Client {
	c := &Client{
		conn:       conn,
		log:        zap.NewNop(),
		wire:       zap.NewNop(),
		readerDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.readLoop()
	return c
}

// RemoteAddr returns the server address.
func (c *Client) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Close closes the connection and waits for the reader to exit.
func (c *Client) Close() error {
	err := c.conn.Close()
	<-c.readerDone
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Request sends ?name args... and waits for the matching reply.
func (c *Client) Request(ctx context.Context, name string, args ...string) (*Response, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	cl := &call{name: name, done: make(chan struct{})}
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.current = cl
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.current == cl {
			c.current = nil
		}
		c.mu.Unlock()
	}()

	if err := c.send(ctx, NewRequest(name, args...)); err != nil {
		return nil, err
	}

	select {
	case <-cl.done:
	case <-ctx.Done():
		c.abandon(cl)
		return nil, fmt.Errorf("katcp: ?%s: %w", name, ctx.Err())
	case <-c.readerDone:
		select {
		case <-cl.done:
		default:
			return nil, c.closedErr()
		}
	}

	resp := &Response{Reply: cl.reply, Informs: cl.informs}
	if !cl.reply.OK() {
		rerr := &RequestError{Request: name, Status: cl.reply.Status()}
		if len(cl.reply.Args) > 1 {
			rerr.Reason = strings.Join(cl.reply.Args[1:], " ")
		}
		return resp, rerr
	}
	return resp, nil
}

// abandon gives up on cl. Unless its reply already arrived, the reply is
// still in flight and must not complete a later request of the same name.
func (c *Client) abandon(cl *call) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != cl {
		return
	}
	c.current = nil
	if c.orphans == nil {
		c.orphans = make(map[string]int)
	}
	c.orphans[cl.name]++
}

// Watch registers interest in the next inform called name for which match
// returns true. A nil match accepts any inform with that name.
func (c *Client) Watch(name string, match func(Message) bool) *Watch {
	w := &Watch{c: c, name: name, match: match, ch: make(chan Message, 1)}
	c.mu.Lock()
	c.watches = append(c.watches, w)
	c.mu.Unlock()
	return w
}

// Wait blocks until the watched inform arrives.
func (w *Watch) Wait(ctx context.Context) (Message, error) {
	select {
	case msg := <-w.ch:
		return msg, nil
	case <-ctx.Done():
		return Message{}, fmt.Errorf("katcp: waiting for #%s: %w", w.name, ctx.Err())
	case <-w.c.readerDone:
		select {
		case msg := <-w.ch:
			return msg, nil
		default:
		}
		return Message{}, w.c.closedErr()
	}
}

// Stop unregisters the watch. It is safe to call after the inform arrived.
func (w *Watch) Stop() {
	w.c.mu.Lock()
	defer w.c.mu.Unlock()
	for i, other := range w.c.watches {
		if other == w {
			w.c.watches = append(w.c.watches[:i], w.c.watches[i+1:]...)
			return
		}
	}
}

func (c *Client) send(ctx context.Context, msg Message) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	c.wire.Debug("send", zap.Stringer("msg", msg))
	if _, err := c.conn.Write(msg.Marshal()); err != nil {
		return fmt.Errorf("katcp: send ?%s: %w", msg.Name, err)
	}
	return nil
}

func (c *Client) closedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	return ErrClosed
}

func (c *Client) readLoop() {
	defer close(c.readerDone)

	sc := bufio.NewScanner(c.conn)
	sc.Buffer(make([]byte, 0, 4096), maxLineBytes)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		msg, err := ParseMessage(line)
		if err != nil {
			c.log.Warn("dropping malformed line", zap.ByteString("line", line), zap.Error(err))
			continue
		}
		c.wire.Debug("recv", zap.Stringer("msg", msg))
		c.dispatch(msg)
	}

	err := sc.Err()
	if err == nil || errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		err = ErrClosed
	} else {
		err = fmt.Errorf("%w: %v", ErrClosed, err)
	}
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

func (c *Client) dispatch(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Type {
	case Reply:
		if n := c.orphans[msg.Name]; n > 0 {
			if n == 1 {
				delete(c.orphans, msg.Name)
			} else {
				c.orphans[msg.Name] = n - 1
			}
			c.log.Debug("dropping late reply", zap.Stringer("msg", msg))
			return
		}
		if c.current != nil && c.current.name == msg.Name {
			c.current.reply = msg
			close(c.current.done)
			c.current = nil
			return
		}
		c.log.Debug("unsolicited reply", zap.Stringer("msg", msg))
	case Inform:
		if c.current != nil && c.current.name == msg.Name && c.orphans[msg.Name] == 0 {
			c.current.informs = append(c.current.informs, msg)
		}
		kept := c.watches[:0]
		for _, w := range c.watches {
			if w.name == msg.Name && (w.match == nil || w.match(msg)) {
				select {
				case w.ch <- msg:
				default:
				}
				continue
			}
			kept = append(kept, w)
		}
		c.watches = kept
	case Request:
		c.log.Debug("ignoring request from server", zap.Stringer("msg", msg))
	}
}
