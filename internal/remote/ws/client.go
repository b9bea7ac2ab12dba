package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/refmirror/internal/core/observability/log"
	"github.com/zeusync/refmirror/internal/core/store"
)

// closeGrace bounds how long Close waits for the server to acknowledge.
const closeGrace = 2 * time.Second

type ClientOption func(*Client)

func WithClientLogger(l log.Log) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithSendBuffer caps how many frames may wait for the writer. Writes fail
// with ErrSendBufferFull beyond that. The default, 0, means no cap.
func WithSendBuffer(n int) ClientOption {
	return func(c *Client) { c.sendBuffer = n }
}

// WithErrorHandler receives error frames reported by the server. They are
// logged when no handler is set.
func WithErrorHandler(fn func(*RemoteError)) ClientOption {
	return func(c *Client) { c.onError = fn }
}

// WithToken sends token as a bearer Authorization header on the upgrade.
func WithToken(token string) ClientOption {
	return func(c *Client) {
		if token != "" {
			c.header.Set("Authorization", "Bearer "+token)
		}
	}
}

// Client is a store connection over a websocket. Writes are queued and sent
// in order; handlers run one at a time on the connection's reader goroutine.
type Client struct {
	conn       *websocket.Conn
	sendBuffer int
	onError    func(*RemoteError)
	header     http.Header
	logger     log.Log

	out *frameQueue

	subsMu sync.Mutex
	subs   map[string]*clientSub

	done chan struct{}
	g    *errgroup.Group
}

// Dial connects to a Server at url (ws:// or wss://).
func Dial(ctx context.Context, url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		header: make(http.Header),
		subs:   make(map[string]*clientSub),
		done:   make(chan struct{}),
		g:      new(errgroup.Group),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = log.OrNop(c.logger).With(log.Component("ws_client"))

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, c.header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c.conn = conn
	c.out = newFrameQueue(c.sendBuffer)

	c.g.Go(c.readLoop)
	c.g.Go(c.writeLoop)
	c.logger.Debug("connected", log.String("url", url))
	return c, nil
}

// Ref returns a ref to path on the remote store.
func (c *Client) Ref(path string) store.Ref {
	clean, err := store.CleanPath(path)
	if err != nil {
		return &clientRef{c: c, path: path, err: err}
	}
	return &clientRef{c: c, path: clean}
}

// Close sends the queued frames, closes the connection and waits for the
// connection goroutines.
func (c *Client) Close() error {
	c.stop()
	return c.Wait()
}

// Wait blocks until the connection is gone.
func (c *Client) Wait() error {
	return c.g.Wait()
}

// Done is closed when the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) stop() {
	c.out.close()
}

// send queues f for the writer without blocking, so handlers running on the
// reader goroutine can subscribe and write freely.
func (c *Client) send(f Frame) error {
	err := c.out.push(f)
	if errors.Is(err, errQueueClosed) {
		return ErrClientClosed
	}
	return err
}

func (c *Client) readLoop() error {
	defer func() {
		c.stop()
		close(c.done)
		_ = c.conn.Close()
	}()
	for {
		var f Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			if c.isClosing() || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}
		c.dispatch(f)
	}
}

func (c *Client) dispatch(f Frame) {
	switch f.Op {
	case OpEvent:
		c.subsMu.Lock()
		sub := c.subs[f.ID]
		c.subsMu.Unlock()
		if sub == nil || !sub.IsActive() {
			return
		}
		snap := store.NewSnapshot(c.Ref(f.Path), f.Value, f.Priority)
		sub.h(snap, f.Prev)
	case OpError:
		rerr := &RemoteError{ID: f.ID, Path: f.Path, Message: f.Error}
		if c.onError != nil {
			c.onError(rerr)
			return
		}
		c.logger.Warn("remote error", log.Error(rerr))
	default:
		c.logger.Warn("unexpected frame", log.String("op", f.Op))
	}
}

func (c *Client) writeLoop() error {
	for {
		frames, closed := c.out.take()
		for _, f := range frames {
			if err := c.conn.WriteJSON(f); err != nil {
				if c.isDone() {
					return nil
				}
				_ = c.conn.Close()
				return fmt.Errorf("write frame: %w", err)
			}
		}
		if len(frames) > 0 {
			continue
		}
		if closed {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			// the reader returns once the server echoes the close
			_ = c.conn.SetReadDeadline(time.Now().Add(closeGrace))
			return nil
		}
		select {
		case <-c.out.ready:
		case <-c.done:
			return nil
		}
	}
}

func (c *Client) isClosing() bool {
	return c.out.isClosed()
}

func (c *Client) isDone() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Client) subscribe(path string, event store.EventType, h store.Handler) (store.Subscription, error) {
	sub := &clientSub{id: uuid.NewString(), c: c, h: h}
	sub.active.Store(true)

	c.subsMu.Lock()
	c.subs[sub.id] = sub
	c.subsMu.Unlock()

	if err := c.send(Frame{Op: OpOn, ID: sub.id, Path: path, Event: event}); err != nil {
		sub.active.Store(false)
		c.forget(sub.id)
		return nil, err
	}
	return sub, nil
}

func (c *Client) forget(id string) {
	c.subsMu.Lock()
	delete(c.subs, id)
	c.subsMu.Unlock()
}

type clientSub struct {
	id     string
	c      *Client
	h      store.Handler
	active atomic.Bool
}

func (s *clientSub) ID() string     { return s.id }
func (s *clientSub) IsActive() bool { return s.active.Load() }

// Cancel stops local delivery at once and tells the server to drop the
// subscription. A closed connection has nothing left to cancel.
func (s *clientSub) Cancel() error {
	if !s.active.CompareAndSwap(true, false) {
		return nil
	}
	s.c.forget(s.id)
	if err := s.c.send(Frame{Op: OpOff, ID: s.id}); err != nil && !errors.Is(err, ErrClientClosed) {
		return err
	}
	return nil
}

var _ store.Ref = (*clientRef)(nil)

type clientRef struct {
	c    *Client
	path string
	err  error
}

func (r *clientRef) Key() string {
	if r.path == "" {
		return ""
	}
	return store.KeyOf(r.path)
}

func (r *clientRef) Path() string {
	return r.path
}

func (r *clientRef) Parent() store.Ref {
	parent, ok := store.ParentPath(r.path)
	if !ok || r.err != nil {
		return nil
	}
	return &clientRef{c: r.c, path: parent}
}

func (r *clientRef) Child(path string) store.Ref {
	if r.err != nil {
		return r
	}
	return r.c.Ref(store.JoinPath(r.path, path))
}

func (r *clientRef) On(event store.EventType, h store.Handler) (store.Subscription, error) {
	switch {
	case r.err != nil:
		return nil, r.err
	case !event.Valid():
		return nil, store.ErrUnknownEvent
	case h == nil:
		return nil, store.ErrNilHandler
	}
	return r.c.subscribe(r.path, event, h)
}

func (r *clientRef) Set(value any) error {
	if r.err != nil {
		return r.err
	}
	return r.c.send(Frame{Op: OpSet, Path: r.path, Value: value})
}

func (r *clientRef) SetPriority(priority any) error {
	if r.err != nil {
		return r.err
	}
	p, err := store.NormalizePriority(priority)
	if err != nil {
		return err
	}
	return r.c.send(Frame{Op: OpSetPriority, Path: r.path, Priority: p})
}

func (r *clientRef) SetWithPriority(value, priority any) error {
	if r.err != nil {
		return r.err
	}
	p, err := store.NormalizePriority(priority)
	if err != nil {
		return err
	}
	return r.c.send(Frame{Op: OpSetWithPriority, Path: r.path, Value: value, Priority: p})
}

// Push generates the child key locally so the ref is usable before the
// server has applied the write.
func (r *clientRef) Push(value any) (store.Ref, error) {
	if r.err != nil {
		return nil, r.err
	}
	key, err := store.NewPushKey()
	if err != nil {
		return nil, err
	}
	child := &clientRef{c: r.c, path: store.JoinPath(r.path, key)}
	if err := child.Set(value); err != nil {
		return nil, err
	}
	return child, nil
}

func (r *clientRef) Remove() error {
	if r.err != nil {
		return r.err
	}
	return r.c.send(Frame{Op: OpRemove, Path: r.path})
}
