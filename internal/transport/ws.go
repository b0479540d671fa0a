package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"leaguechat/internal/status"
)

// ErrNotConnected is returned by Emit when no connection is established.
var ErrNotConnected = errors.New("transport: not connected")

const (
	readLimit        = 1 << 20
	maxReconnectWait = 30 * time.Second
)

// frame is the wire format: one JSON object per websocket text message.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Socket is the websocket Transport implementation. A single reader
// goroutine dispatches inbound frames to registered handlers; the
// connection serializes concurrent writes internally. Reconnection is
// automatic with exponential backoff until Close, and room membership
// is replayed on the new connection.
type Socket struct {
	url     string
	token   string
	connID  string
	machine *status.Machine
	logger  *zap.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	handlers map[string]map[int]Handler
	nextID   int
	// rooms is the membership the client wants, keyed by thread id.
	// It survives the connection so reconnect can rejoin.
	rooms  map[string]struct{}
	cancel context.CancelFunc
	closed bool
}

// NewSocket creates a websocket transport for the given URL. token may
// be empty; it is sent as a bearer token during the handshake.
func NewSocket(url, token string, machine *status.Machine, logger *zap.Logger) *Socket {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Socket{
		url:      url,
		token:    token,
		connID:   uuid.New().String(),
		machine:  machine,
		logger:   logger,
		handlers: make(map[string]map[int]Handler),
		rooms:    make(map[string]struct{}),
	}
}

// ConnID returns the client-generated connection identifier.
func (s *Socket) ConnID() string {
	return s.connID
}

// Connect dials the realtime server and starts the read loop.
func (s *Socket) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("transport: closed")
	}
	if s.conn != nil {
		s.mu.Unlock()
		return errors.New("transport: already connected")
	}
	s.mu.Unlock()

	_ = s.machine.Transition(status.Connecting)
	conn, err := s.dial(ctx)
	if err != nil {
		_ = s.machine.Transition(status.Disconnected)
		return fmt.Errorf("connect realtime: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.conn = conn
	s.cancel = cancel
	s.mu.Unlock()
	_ = s.machine.Transition(status.Connected)
	s.logger.Info("realtime connected", zap.String("conn_id", s.connID))

	go s.readLoop(runCtx)
	return nil
}

func (s *Socket) dial(ctx context.Context) (*websocket.Conn, error) {
	opts := &websocket.DialOptions{}
	if s.token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + s.token}}
	}
	conn, _, err := websocket.Dial(ctx, s.url, opts)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(readLimit)
	return conn, nil
}

func (s *Socket) readLoop(ctx context.Context) {
	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return
		}

		typ, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || s.isClosed() {
				return
			}
			s.logger.Warn("realtime read failed", zap.Error(err))
			_ = s.machine.Transition(status.Reconnecting)
			if !s.reconnect(ctx) {
				return
			}
			continue
		}
		if typ != websocket.MessageText {
			continue
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			s.logger.Warn("malformed frame", zap.Error(err))
			continue
		}
		s.dispatch(f)
	}
}

// reconnect redials with exponential backoff. Returns false when the
// transport is shutting down.
func (s *Socket) reconnect(ctx context.Context) bool {
	wait := time.Second
	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}

		_ = s.machine.Transition(status.Connecting)
		conn, err := s.dial(ctx)
		if err == nil {
			s.mu.Lock()
			if s.closed {
				// Close ran while the dial was in flight; the socket
				// must not resurrect.
				s.mu.Unlock()
				_ = conn.Close(websocket.StatusNormalClosure, "client shutdown")
				return false
			}
			s.conn = conn
			rooms := make([]string, 0, len(s.rooms))
			for room := range s.rooms {
				rooms = append(rooms, room)
			}
			s.mu.Unlock()
			_ = s.machine.Transition(status.Connected)

			// The server scopes events by room per connection, so the
			// new connection starts with no membership. Replay it.
			for _, room := range rooms {
				if err := s.Emit(EventJoinRoom, RoomPayload{Room: room}); err != nil {
					s.logger.Warn("rejoin room failed", zap.String("room", room), zap.Error(err))
				}
			}
			s.logger.Info("realtime reconnected", zap.Int("rooms_rejoined", len(rooms)))
			return true
		}

		s.logger.Warn("reconnect attempt failed", zap.Error(err), zap.Duration("next_wait", wait))
		_ = s.machine.Transition(status.Reconnecting)
		if wait *= 2; wait > maxReconnectWait {
			wait = maxReconnectWait
		}
	}
}

func (s *Socket) dispatch(f frame) {
	s.mu.Lock()
	var hs []Handler
	for _, h := range s.handlers[f.Event] {
		hs = append(hs, h)
	}
	s.mu.Unlock()

	for _, h := range hs {
		h(f.Data)
	}
}

// On registers a handler for an event. The returned function removes it.
func (s *Socket) On(event string, h Handler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handlers[event] == nil {
		s.handlers[event] = make(map[int]Handler)
	}
	id := s.nextID
	s.nextID++
	s.handlers[event][id] = h

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.handlers[event], id)
	}
}

// Emit sends an event frame to the server.
func (s *Socket) Emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", event, err)
	}
	raw, err := json.Marshal(frame{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", event, err)
	}

	// Snapshot the connection so a slow write never stalls dispatch or
	// On behind the mutex. The connection serializes writers itself.
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, raw); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return nil
}

// JoinRoom subscribes this connection to a thread's room. Membership
// is recorded before the frame goes out so a reconnect rejoins even
// when the original emit raced a dropped connection.
func (s *Socket) JoinRoom(threadID string) error {
	s.mu.Lock()
	s.rooms[threadID] = struct{}{}
	s.mu.Unlock()
	return s.Emit(EventJoinRoom, RoomPayload{Room: threadID})
}

// LeaveRoom unsubscribes this connection from a thread's room.
func (s *Socket) LeaveRoom(threadID string) error {
	s.mu.Lock()
	delete(s.rooms, threadID)
	s.mu.Unlock()
	return s.Emit(EventLeaveRoom, RoomPayload{Room: threadID})
}

// Close terminates the connection and stops the read loop.
func (s *Socket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.conn = nil
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client shutdown")
	}
	_ = s.machine.Transition(status.Closed)
	s.logger.Info("realtime closed", zap.String("conn_id", s.connID))
	return nil
}

func (s *Socket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
