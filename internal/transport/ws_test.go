package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"leaguechat/internal/bus"
	"leaguechat/internal/status"
)

// echoServer accepts websocket connections, records inbound frames,
// and lets the test push frames to the client or drop the connection.
type echoServer struct {
	mu       sync.Mutex
	conn     *websocket.Conn
	srv      *httptest.Server
	received chan frame
	ready    chan struct{}
}

func newEchoServer(t *testing.T) (*echoServer, string) {
	t.Helper()
	es := &echoServer{
		received: make(chan frame, 16),
		ready:    make(chan struct{}, 4),
	}
	es.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		es.mu.Lock()
		es.conn = c
		es.mu.Unlock()
		es.ready <- struct{}{}
		for {
			_, data, err := c.Read(context.Background())
			if err != nil {
				return
			}
			var f frame
			if json.Unmarshal(data, &f) == nil {
				es.received <- f
			}
		}
	}))
	t.Cleanup(es.srv.Close)
	return es, es.srv.URL
}

// drop closes the current connection server-side, as a network blip
// would.
func (es *echoServer) drop(t *testing.T) {
	t.Helper()
	es.mu.Lock()
	conn := es.conn
	es.mu.Unlock()
	if conn == nil {
		t.Fatal("no connection to drop")
	}
	_ = conn.Close(websocket.StatusGoingAway, "drop")
}

func (es *echoServer) push(t *testing.T, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := json.Marshal(frame{Event: event, Data: data})
	if err != nil {
		t.Fatal(err)
	}
	es.mu.Lock()
	conn := es.conn
	es.mu.Unlock()
	if err := conn.Write(context.Background(), websocket.MessageText, raw); err != nil {
		t.Fatal(err)
	}
}

func connectedSocket(t *testing.T) (*Socket, *echoServer, *status.Machine) {
	t.Helper()
	es, url := newEchoServer(t)
	machine := status.NewMachine(bus.New())
	s := NewSocket(url, "", machine, nil)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	<-es.ready
	return s, es, machine
}

func TestConnectTransitionsToConnected(t *testing.T) {
	_, _, machine := connectedSocket(t)
	if machine.Current() != status.Connected {
		t.Errorf("state = %s, want %s", machine.Current(), status.Connected)
	}
}

func TestOnReceivesServerEvent(t *testing.T) {
	s, es, _ := connectedSocket(t)

	got := make(chan json.RawMessage, 1)
	off := s.On(EventNewMessage, func(data json.RawMessage) {
		got <- data
	})
	defer off()

	es.push(t, EventNewMessage, map[string]string{"id": "m1"})

	select {
	case data := <-got:
		var payload struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(data, &payload); err != nil || payload.ID != "m1" {
			t.Errorf("payload = %s", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for handler")
	}
}

func TestOffStopsDelivery(t *testing.T) {
	s, es, _ := connectedSocket(t)

	got := make(chan json.RawMessage, 1)
	off := s.On(EventNewMessage, func(data json.RawMessage) {
		got <- data
	})
	off()

	es.push(t, EventNewMessage, map[string]string{"id": "m1"})

	select {
	case <-got:
		t.Fatal("handler fired after off()")
	case <-time.After(200 * time.Millisecond):
		// Expected.
	}
}

func TestJoinAndLeaveRoomFrames(t *testing.T) {
	s, es, _ := connectedSocket(t)

	if err := s.JoinRoom("t1"); err != nil {
		t.Fatal(err)
	}
	if err := s.LeaveRoom("t1"); err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{EventJoinRoom, EventLeaveRoom} {
		select {
		case f := <-es.received:
			if f.Event != want {
				t.Errorf("event = %q, want %q", f.Event, want)
			}
			var room RoomPayload
			if err := json.Unmarshal(f.Data, &room); err != nil || room.Room != "t1" {
				t.Errorf("room payload = %s", f.Data)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for %s frame", want)
		}
	}
}

func TestEmitBeforeConnect(t *testing.T) {
	machine := status.NewMachine(bus.New())
	s := NewSocket("ws://127.0.0.1:0", "", machine, nil)
	if err := s.Emit(EventTypingStatus, TypingStatusEvent{}); err != ErrNotConnected {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
}

// After a dropped connection the socket redials and replays join_room
// for every room it was in, and only those; otherwise the rejoined
// client would silently stop receiving room-scoped events.
func TestReconnectRejoinsRooms(t *testing.T) {
	s, es, machine := connectedSocket(t)

	if err := s.JoinRoom("t1"); err != nil {
		t.Fatal(err)
	}
	if err := s.JoinRoom("t2"); err != nil {
		t.Fatal(err)
	}
	if err := s.LeaveRoom("t2"); err != nil {
		t.Fatal(err)
	}
	// Drain the three frames from the first connection.
	for i := 0; i < 3; i++ {
		select {
		case <-es.received:
		case <-time.After(2 * time.Second):
			t.Fatal("timeout draining initial frames")
		}
	}

	es.drop(t)

	// Wait for the automatic redial to land on the server.
	select {
	case <-es.ready:
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for reconnect")
	}

	select {
	case f := <-es.received:
		if f.Event != EventJoinRoom {
			t.Fatalf("event = %q, want %q", f.Event, EventJoinRoom)
		}
		var room RoomPayload
		if err := json.Unmarshal(f.Data, &room); err != nil || room.Room != "t1" {
			t.Errorf("rejoin payload = %s, want room t1", f.Data)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("new connection received no join_room: room membership lost")
	}

	// The left room must not be rejoined.
	select {
	case f := <-es.received:
		t.Errorf("unexpected extra frame after rejoin: %+v", f)
	case <-time.After(300 * time.Millisecond):
	}

	if machine.Current() != status.Connected {
		t.Errorf("state = %s, want %s", machine.Current(), status.Connected)
	}
}

// Emit must not hold the handler mutex across the websocket write, or
// a slow write would stall dispatch and On. Run writes and handler
// churn concurrently and require completion well under the write
// timeout.
func TestEmitDoesNotBlockSubscriptions(t *testing.T) {
	s, _, _ := connectedSocket(t)

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				for j := 0; j < 20; j++ {
					_ = s.Emit(EventTypingStatus, TypingStatusEvent{ThreadID: "t1"})
				}
			}()
			go func() {
				defer wg.Done()
				for j := 0; j < 20; j++ {
					off := s.On(EventNewMessage, func(json.RawMessage) {})
					off()
				}
			}()
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("concurrent Emit and On did not complete: write is holding the handler mutex")
	}
}

// Close while the socket is mid-reconnect must win: no new connection
// may be installed afterwards.
func TestCloseDuringReconnect(t *testing.T) {
	s, es, machine := connectedSocket(t)

	// Take the whole server down so redials keep failing, then drop the
	// live connection to push the socket into its reconnect loop.
	es.srv.CloseClientConnections()
	es.srv.Close()
	time.Sleep(100 * time.Millisecond)

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	// Give any in-flight redial time to resolve.
	time.Sleep(300 * time.Millisecond)

	if machine.Current() != status.Closed {
		t.Errorf("state = %s, want %s", machine.Current(), status.Closed)
	}
	if err := s.Emit(EventTypingStatus, TypingStatusEvent{}); err != ErrNotConnected {
		t.Errorf("err = %v, want ErrNotConnected after Close", err)
	}
}

func TestCloseTransitionsToClosed(t *testing.T) {
	s, _, machine := connectedSocket(t)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if machine.Current() != status.Closed {
		t.Errorf("state = %s, want %s", machine.Current(), status.Closed)
	}
	// Close is idempotent.
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
}
