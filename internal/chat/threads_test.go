package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"leaguechat/internal/api"
	"leaguechat/internal/bus"
	"leaguechat/internal/transport"
)

func thread(id string) api.Thread {
	return api.Thread{ID: id, Name: "thread " + id, UpdatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func boundThreadStore(t *testing.T, client *fakeThreadAPI) (*ThreadStore, *fakeTransport, *bus.Bus) {
	t.Helper()
	tr := newFakeTransport()
	b := bus.New()
	s := NewThreadStore(client, tr, b, nil, "u1")
	s.Bind()
	t.Cleanup(s.Close)
	return s, tr, b
}

func TestFetchThreads(t *testing.T) {
	client := &fakeThreadAPI{threads: []api.Thread{thread("t1"), thread("t2")}}
	s, _, _ := boundThreadStore(t, client)

	threads, err := s.Fetch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(threads) != 2 || threads[0].ID != "t1" {
		t.Errorf("threads = %+v", threads)
	}
	if got := s.Threads(); len(got) != 2 {
		t.Errorf("stored threads = %+v", got)
	}
}

func TestFetchFailureResetsList(t *testing.T) {
	client := &fakeThreadAPI{threads: []api.Thread{thread("t1")}}
	s, _, b := boundThreadStore(t, client)

	if _, err := s.Fetch(context.Background()); err != nil {
		t.Fatal(err)
	}

	ch, unsub := b.Subscribe("ui.", 10)
	defer unsub()

	client.mu.Lock()
	client.err = errors.New("boom")
	client.mu.Unlock()

	if _, err := s.Fetch(context.Background()); err == nil {
		t.Fatal("expected fetch error")
	}
	if got := s.Threads(); len(got) != 0 {
		t.Errorf("threads after failure = %+v, want empty", got)
	}
	if s.LastError() == "" {
		t.Error("LastError empty after failure")
	}

	select {
	case evt := <-ch:
		if evt.Kind != bus.KindUIError {
			t.Errorf("event kind = %q, want %q", evt.Kind, bus.KindUIError)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for ui.error event")
	}
}

// A new_message event for a known thread moves it to the front with
// the event payload as its last-message snapshot.
func TestNewMessageMovesThreadToFront(t *testing.T) {
	client := &fakeThreadAPI{threads: []api.Thread{thread("t1"), thread("t2")}}
	s, tr, _ := boundThreadStore(t, client)
	if _, err := s.Fetch(context.Background()); err != nil {
		t.Fatal(err)
	}

	before := time.Now()
	tr.fire(t, transport.EventNewMessage, api.Message{ID: "m9", ThreadID: "t2", Content: "hi"})

	got := s.Threads()
	if got[0].ID != "t2" {
		t.Fatalf("front thread = %q, want t2", got[0].ID)
	}
	last := got[0].LastMessage()
	if last == nil || last.ID != "m9" || last.Content != "hi" {
		t.Errorf("last message = %+v, want m9/hi", last)
	}
	if !got[0].UpdatedAt.After(before.Add(-time.Second)) {
		t.Errorf("updatedAt = %v not refreshed", got[0].UpdatedAt)
	}
	if got[1].ID != "t1" {
		t.Errorf("second thread = %q, want t1", got[1].ID)
	}
}

// Events for threads absent from the local list are no-ops.
func TestNewMessageUnknownThreadIgnored(t *testing.T) {
	client := &fakeThreadAPI{threads: []api.Thread{thread("t1")}}
	s, tr, _ := boundThreadStore(t, client)
	if _, err := s.Fetch(context.Background()); err != nil {
		t.Fatal(err)
	}
	before := s.Threads()

	tr.fire(t, transport.EventNewMessage, api.Message{ID: "m9", ThreadID: "ghost", Content: "hi"})

	after := s.Threads()
	if len(after) != len(before) || after[0].ID != before[0].ID || after[0].LastMessage() != nil {
		t.Errorf("list changed: %+v", after)
	}
}

func TestNewThreadPrependsOnce(t *testing.T) {
	client := &fakeThreadAPI{threads: []api.Thread{thread("t1")}}
	s, tr, _ := boundThreadStore(t, client)
	if _, err := s.Fetch(context.Background()); err != nil {
		t.Fatal(err)
	}

	evt := transport.NewThreadEvent{Thread: thread("t2")}
	tr.fire(t, transport.EventNewThread, evt)
	tr.fire(t, transport.EventNewThread, evt) // duplicate delivery

	got := s.Threads()
	if len(got) != 2 || got[0].ID != "t2" {
		t.Errorf("threads = %+v, want t2 prepended once", got)
	}
}

func TestThreadUpdatedRewritesInPlace(t *testing.T) {
	client := &fakeThreadAPI{threads: []api.Thread{thread("t1"), thread("t2")}}
	s, tr, _ := boundThreadStore(t, client)
	if _, err := s.Fetch(context.Background()); err != nil {
		t.Fatal(err)
	}

	tr.fire(t, transport.EventThreadUpdated, transport.ThreadUpdatedEvent{
		ThreadID:    "t2",
		LastMessage: api.Message{ID: "m1", ThreadID: "t2", Content: "edited"},
	})

	got := s.Threads()
	// Ordering is unchanged; only the snapshot is rewritten.
	if got[0].ID != "t1" || got[1].ID != "t2" {
		t.Fatalf("order = [%s %s], want [t1 t2]", got[0].ID, got[1].ID)
	}
	if last := got[1].LastMessage(); last == nil || last.Content != "edited" {
		t.Errorf("last message = %+v, want edited", last)
	}
}

func TestUpdateLastMessageAbsentThreadNoop(t *testing.T) {
	client := &fakeThreadAPI{threads: []api.Thread{thread("t1")}}
	s, _, _ := boundThreadStore(t, client)
	if _, err := s.Fetch(context.Background()); err != nil {
		t.Fatal(err)
	}

	s.UpdateLastMessage("ghost", api.Message{ID: "m1"})
	if got := s.Threads(); len(got) != 1 || got[0].ID != "t1" {
		t.Errorf("threads = %+v", got)
	}
}

func TestSetUserRefetches(t *testing.T) {
	client := &fakeThreadAPI{threads: []api.Thread{thread("t1")}}
	s, _, _ := boundThreadStore(t, client)

	if err := s.SetUser(context.Background(), "u2"); err != nil {
		t.Fatal(err)
	}
	if client.callCount() != 1 {
		t.Errorf("calls = %d, want 1", client.callCount())
	}

	// Same user: no refetch.
	if err := s.SetUser(context.Background(), "u2"); err != nil {
		t.Fatal(err)
	}
	if client.callCount() != 1 {
		t.Errorf("calls = %d, want 1 (unchanged user)", client.callCount())
	}
}

func TestCloseRemovesSubscriptions(t *testing.T) {
	client := &fakeThreadAPI{threads: []api.Thread{thread("t1")}}
	s, tr, _ := boundThreadStore(t, client)
	if _, err := s.Fetch(context.Background()); err != nil {
		t.Fatal(err)
	}

	s.Close()
	tr.fire(t, transport.EventNewMessage, api.Message{ID: "m9", ThreadID: "t1", Content: "hi"})

	if got := s.Threads(); got[0].LastMessage() != nil {
		t.Error("event applied after Close")
	}
}
