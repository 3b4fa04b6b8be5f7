package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mbellotti/testyard/internal/stream"
)

// collectSink records pushed events.
type collectSink struct {
	mu     sync.Mutex
	events []stream.Event
}

func (s *collectSink) Push(ev stream.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *collectSink) snapshot() []stream.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]stream.Event(nil), s.events...)
}

// chainHandler forwards to a next topic and signals on receipt.
type chainHandler struct {
	name string
	next Topic

	mu       sync.Mutex
	received []Message
	notify   chan struct{}
}

func newChainHandler(name string, next Topic) *chainHandler {
	return &chainHandler{name: name, next: next, notify: make(chan struct{}, 64)}
}

func (h *chainHandler) Name() string { return h.name }

func (h *chainHandler) Handle(_ context.Context, msg Message) ([]Message, error) {
	h.mu.Lock()
	h.received = append(h.received, msg)
	h.mu.Unlock()
	h.notify <- struct{}{}

	if h.next == "" {
		return nil, nil
	}
	return []Message{NewMessage(h.next, h.name, msg.SessionID, msg.Payload)}, nil
}

func (h *chainHandler) wait(t *testing.T, n int) []Message {
	t.Helper()
	for range n {
		select {
		case <-h.notify:
		case <-time.After(2 * time.Second):
			t.Fatalf("handler %s: timed out waiting for message %d", h.name, n)
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Message(nil), h.received...)
}

func newTestRuntime(t *testing.T, r *Router, sink EventSink) *Runtime {
	t.Helper()
	rt, err := NewRuntime(RuntimeOpts{
		SessionID: "s1",
		Router:    r,
		Sink:      sink,
	})
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	rt.Start(context.Background())
	t.Cleanup(rt.Shutdown)
	return rt
}

func TestNewRuntime_Validation(t *testing.T) {
	if _, err := NewRuntime(RuntimeOpts{Router: NewRouter()}); err == nil {
		t.Error("expected error for missing session id")
	}
	if _, err := NewRuntime(RuntimeOpts{SessionID: "s1"}); err == nil {
		t.Error("expected error for missing router")
	}
}

func TestRuntime_ChainDelivery(t *testing.T) {
	r := NewRouter()
	first := newChainHandler("first", "second")
	second := newChainHandler("second", "")
	r.Register("start", first)
	r.Register("second", second)

	rt := newTestRuntime(t, r, nil)

	if err := rt.Publish(NewMessage("start", "test", "s1", "hello")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	got := second.wait(t, 1)
	if got[0].Payload != "hello" {
		t.Errorf("payload = %v, want hello", got[0].Payload)
	}
	if got[0].Source != "first" {
		t.Errorf("source = %q, want first", got[0].Source)
	}
}

func TestRuntime_PreservesPublishOrder(t *testing.T) {
	r := NewRouter()
	h := newChainHandler("h", "")
	r.Register("t", h)

	rt := newTestRuntime(t, r, nil)

	for i := range 20 {
		if err := rt.Publish(NewMessage("t", "test", "s1", i)); err != nil {
			t.Fatalf("Publish %d: %v", i, err)
		}
	}

	got := h.wait(t, 20)
	for i, msg := range got {
		if msg.Payload != i {
			t.Fatalf("message %d payload = %v, want %d", i, msg.Payload, i)
		}
	}
}

// failingHandler always errors.
type failingHandler struct{ name string }

func (h *failingHandler) Name() string { return h.name }
func (h *failingHandler) Handle(context.Context, Message) ([]Message, error) {
	return nil, errors.New("boom")
}

func TestRuntime_HandlerErrorEmitsEventAndContinues(t *testing.T) {
	r := NewRouter()
	bad := &failingHandler{name: "bad"}
	good := newChainHandler("good", "")
	r.Register("t", bad)
	r.Register("t", good)

	sink := &collectSink{}
	rt := newTestRuntime(t, r, sink)

	if err := rt.Publish(NewMessage("t", "test", "s1", nil)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	// The good handler still runs after the bad one failed.
	good.wait(t, 1)

	events := sink.snapshot()
	if len(events) != 1 {
		t.Fatalf("sink events = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.Region != stream.RegionError {
		t.Errorf("Region = %q, want error", ev.Region)
	}
	if ev.Content != "boom" {
		t.Errorf("Content = %q, want boom", ev.Content)
	}
	if ev.IsFinal {
		t.Error("failure must not be final while a sibling handler succeeded")
	}
}

func TestRuntime_DeadEndFailureIsFinal(t *testing.T) {
	r := NewRouter()
	r.Register("storage", &failingHandler{name: "saver"})

	sink := &collectSink{}
	rt := newTestRuntime(t, r, sink)

	if err := rt.Publish(NewMessage("storage", "test", "s1", nil)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(sink.snapshot()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	events := sink.snapshot()
	if len(events) != 1 {
		t.Fatalf("sink events = %d, want 1", len(events))
	}
	if !events[0].IsFinal {
		t.Error("failure with no onward messages must emit a final event")
	}
}

func TestRuntime_MidPipelineFailureIsFinal(t *testing.T) {
	r := NewRouter()
	r.Register("analysis", newChainHandler("analyzer", "generation"))
	r.Register("generation", &failingHandler{name: "generator"})

	sink := &collectSink{}
	rt := newTestRuntime(t, r, sink)

	if err := rt.Publish(NewMessage("analysis", "test", "s1", nil)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(sink.snapshot()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	events := sink.snapshot()
	if len(events) != 1 {
		t.Fatalf("sink events = %d, want 1", len(events))
	}
	ev := events[0]
	if !ev.IsFinal {
		t.Error("failure in the last reached stage must emit a final event")
	}
	if ev.Region != stream.RegionError {
		t.Errorf("Region = %q, want error", ev.Region)
	}
	if ev.Source != "generator" {
		t.Errorf("Source = %q, want generator", ev.Source)
	}
}

func TestRuntime_ShutdownWithoutStart(t *testing.T) {
	rt, err := NewRuntime(RuntimeOpts{SessionID: "s1", Router: NewRouter()})
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}

	done := make(chan struct{})
	go func() {
		rt.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown blocked on a runtime that was never started")
	}

	if err := rt.Publish(NewMessage("t", "test", "s1", nil)); err == nil {
		t.Error("expected error publishing after shutdown")
	}
}

func TestRuntime_PublishAfterShutdown(t *testing.T) {
	r := NewRouter()
	rt, err := NewRuntime(RuntimeOpts{SessionID: "s1", Router: r})
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	rt.Start(context.Background())
	rt.Shutdown()

	if err := rt.Publish(NewMessage("t", "test", "s1", nil)); err == nil {
		t.Error("expected error publishing after shutdown")
	}
}

func TestRuntime_ShutdownIdempotent(t *testing.T) {
	r := NewRouter()
	rt, err := NewRuntime(RuntimeOpts{SessionID: "s1", Router: r})
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	rt.Start(context.Background())
	rt.Shutdown()
	rt.Shutdown()
}

func TestRuntime_SessionsRunInParallel(t *testing.T) {
	r := NewRouter()
	h := newChainHandler("h", "")
	r.Register("t", h)

	var runtimes []*Runtime
	for i := range 4 {
		rt, err := NewRuntime(RuntimeOpts{SessionID: fmt.Sprintf("s%d", i), Router: r})
		if err != nil {
			t.Fatalf("NewRuntime: %v", err)
		}
		rt.Start(context.Background())
		t.Cleanup(rt.Shutdown)
		runtimes = append(runtimes, rt)
	}

	for i, rt := range runtimes {
		if err := rt.Publish(NewMessage("t", "test", fmt.Sprintf("s%d", i), i)); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	h.wait(t, 4)
}
