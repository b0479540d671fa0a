package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"leaguechat/internal/api"
	"leaguechat/internal/transport"
)

// fakeTransport records emits and room operations and lets tests
// inject inbound events.
type fakeTransport struct {
	mu       sync.Mutex
	handlers map[string]map[int]transport.Handler
	nextID   int
	emits    []emitRecord
	roomOps  []string // "join:<id>" / "leave:<id>" in call order
}

type emitRecord struct {
	Event   string
	Payload any
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string]map[int]transport.Handler)}
}

func (f *fakeTransport) Connect(context.Context) error { return nil }
func (f *fakeTransport) Close() error                  { return nil }

func (f *fakeTransport) On(event string, h transport.Handler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handlers[event] == nil {
		f.handlers[event] = make(map[int]transport.Handler)
	}
	id := f.nextID
	f.nextID++
	f.handlers[event][id] = h
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers[event], id)
	}
}

func (f *fakeTransport) Emit(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emits = append(f.emits, emitRecord{Event: event, Payload: payload})
	return nil
}

func (f *fakeTransport) JoinRoom(threadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roomOps = append(f.roomOps, "join:"+threadID)
	return nil
}

func (f *fakeTransport) LeaveRoom(threadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roomOps = append(f.roomOps, "leave:"+threadID)
	return nil
}

// fire simulates an inbound realtime event.
func (f *fakeTransport) fire(t *testing.T, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	f.mu.Lock()
	var hs []transport.Handler
	for _, h := range f.handlers[event] {
		hs = append(hs, h)
	}
	f.mu.Unlock()
	for _, h := range hs {
		h(data)
	}
}

func (f *fakeTransport) emitted() []emitRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]emitRecord, len(f.emits))
	copy(out, f.emits)
	return out
}

func (f *fakeTransport) rooms() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.roomOps))
	copy(out, f.roomOps)
	return out
}

// fakeThreadAPI serves a canned thread list.
type fakeThreadAPI struct {
	mu      sync.Mutex
	threads []api.Thread
	err     error
	calls   int
}

func (f *fakeThreadAPI) Threads(_ context.Context, _ string) ([]api.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]api.Thread, len(f.threads))
	copy(out, f.threads)
	return out, nil
}

func (f *fakeThreadAPI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeMessageAPI serves per-thread message lists and records mutations.
// started/release let tests hold a fetch in flight.
type fakeMessageAPI struct {
	mu          sync.Mutex
	msgs        map[string][]api.Message
	fetchErr    error
	sendResult  *api.Message
	sendErr     error
	deleteErr   error
	markReadErr error
	deleted     []string
	marked      []string

	blockThread string
	started     chan string
	release     chan struct{}

	onDelete func()
}

func newFakeMessageAPI() *fakeMessageAPI {
	return &fakeMessageAPI{msgs: make(map[string][]api.Message)}
}

func (f *fakeMessageAPI) Messages(_ context.Context, threadID string) ([]api.Message, error) {
	f.mu.Lock()
	block := threadID == f.blockThread
	started := f.started
	release := f.release
	err := f.fetchErr
	out := make([]api.Message, len(f.msgs[threadID]))
	copy(out, f.msgs[threadID])
	f.mu.Unlock()

	if block {
		if started != nil {
			started <- threadID
		}
		<-release
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (f *fakeMessageAPI) SendMessage(_ context.Context, threadID string, req api.SendMessageRequest) (*api.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	if f.sendResult != nil {
		msg := *f.sendResult
		return &msg, nil
	}
	return &api.Message{
		ID:       fmt.Sprintf("srv-%d", len(f.msgs[threadID])+1),
		ThreadID: threadID,
		SenderID: req.SenderID,
		Content:  req.Content,
	}, nil
}

func (f *fakeMessageAPI) DeleteMessage(_ context.Context, messageID string) error {
	f.mu.Lock()
	onDelete := f.onDelete
	err := f.deleteErr
	f.deleted = append(f.deleted, messageID)
	f.mu.Unlock()
	if onDelete != nil {
		onDelete()
	}
	return err
}

func (f *fakeMessageAPI) MarkRead(_ context.Context, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, messageID)
	return f.markReadErr
}
