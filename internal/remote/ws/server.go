package ws

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/refmirror/internal/core/observability/log"
	"github.com/zeusync/refmirror/internal/core/observability/metrics"
	"github.com/zeusync/refmirror/internal/core/store"
)

const DefaultBufferSize = 1024

type ServerOption func(*Server)

func WithServerLogger(l log.Log) ServerOption {
	return func(s *Server) { s.logger = l }
}

func WithServerMetrics(m *metrics.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithBufferSizes sets the websocket read and write buffer sizes.
func WithBufferSizes(read, write int) ServerOption {
	return func(s *Server) {
		s.upgrader.ReadBufferSize = read
		s.upgrader.WriteBufferSize = write
	}
}

// WithSessionSendBuffer caps how many outgoing frames a session may queue. A
// session that falls further behind is closed. The default, 0, means no cap.
func WithSessionSendBuffer(n int) ServerOption {
	return func(s *Server) { s.sendBuffer = n }
}

// Server serves a store to websocket clients. Paths in frames are relative to
// the root ref it was built with.
type Server struct {
	root       store.Ref
	upgrader   websocket.Upgrader
	sendBuffer int

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool

	logger  log.Log
	metrics *metrics.Metrics
}

func NewServer(root store.Ref, opts ...ServerOption) *Server {
	s := &Server{
		root: root,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  DefaultBufferSize,
			WriteBufferSize: DefaultBufferSize,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		sessions:   make(map[string]*session),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = log.OrNop(s.logger).With(log.Component("ws_server"))
	return s
}

type session struct {
	id     string
	conn   *websocket.Conn
	out    *frameQueue
	done   chan struct{}
	once   sync.Once
	logger log.Log

	mu   sync.Mutex
	subs map[string]store.Subscription
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", log.Error(err), log.String("remote_addr", r.RemoteAddr))
		return
	}

	sess := &session{
		id:   uuid.NewString(),
		conn: conn,
		out:  newFrameQueue(s.sendBuffer),
		done: make(chan struct{}),
		subs: make(map[string]store.Subscription),
	}
	sess.logger = s.logger.With(log.String("session_id", sess.id))

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	s.metrics.WSConnectionOpened()
	sess.logger.Info("session opened", log.String("remote_addr", conn.RemoteAddr().String()))

	g := new(errgroup.Group)
	g.Go(func() error { return s.readLoop(sess) })
	g.Go(sess.writeLoop)
	err = g.Wait()

	sess.cancelAll()
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()
	s.metrics.WSConnectionClosed()

	if err != nil {
		sess.logger.Warn("session closed with error", log.Error(err))
		return
	}
	sess.logger.Info("session closed")
}

// Close ends every open session. Sessions started afterwards are refused.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.close()
	}
}

// Sessions returns the number of open sessions.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) readLoop(sess *session) error {
	defer sess.close()
	for {
		var f Frame
		if err := sess.conn.ReadJSON(&f); err != nil {
			select {
			case <-sess.done:
				return nil
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}
		if err := s.handle(sess, f); err != nil {
			sess.send(Frame{Op: OpError, ID: f.ID, Path: f.Path, Error: err.Error()})
		}
	}
}

func (s *Server) handle(sess *session, f Frame) error {
	ref := s.root.Child(f.Path)
	switch f.Op {
	case OpOn:
		id := f.ID
		sub, err := ref.On(f.Event, func(snap store.Snapshot, prev string) {
			sess.send(eventFrame(id, snap, prev))
		})
		if err != nil {
			return err
		}
		sess.mu.Lock()
		old := sess.subs[id]
		sess.subs[id] = sub
		sess.mu.Unlock()
		if old != nil {
			_ = old.Cancel()
		}
		return nil
	case OpOff:
		sess.mu.Lock()
		sub := sess.subs[f.ID]
		delete(sess.subs, f.ID)
		sess.mu.Unlock()
		if sub != nil {
			return sub.Cancel()
		}
		return nil
	case OpSet:
		return ref.Set(f.Value)
	case OpSetPriority:
		return ref.SetPriority(f.Priority)
	case OpSetWithPriority:
		return ref.SetWithPriority(f.Value, f.Priority)
	case OpRemove:
		return ref.Remove()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOp, f.Op)
	}
}

// send queues f without blocking. A session whose queue is over its cap is
// closed: dropping frames would leave the client's mirror silently wrong.
func (sess *session) send(f Frame) {
	if err := sess.out.push(f); errors.Is(err, ErrSendBufferFull) {
		sess.logger.Warn("send buffer full, closing session")
		sess.close()
	}
}

func (sess *session) writeLoop() error {
	for {
		frames, closed := sess.out.take()
		for _, f := range frames {
			if err := sess.conn.WriteJSON(f); err != nil {
				select {
				case <-sess.done:
					return nil
				default:
				}
				sess.close()
				if errors.Is(err, websocket.ErrCloseSent) {
					return nil
				}
				return fmt.Errorf("write frame: %w", err)
			}
		}
		if closed {
			return nil
		}
		if len(frames) > 0 {
			continue
		}
		select {
		case <-sess.out.ready:
		case <-sess.done:
			return nil
		}
	}
}

func (sess *session) close() {
	sess.once.Do(func() {
		sess.out.close()
		close(sess.done)
		_ = sess.conn.Close()
	})
}

func (sess *session) cancelAll() {
	sess.mu.Lock()
	subs := sess.subs
	sess.subs = make(map[string]store.Subscription)
	sess.mu.Unlock()
	for _, sub := range subs {
		_ = sub.Cancel()
	}
}
