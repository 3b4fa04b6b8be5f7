package bus

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mbellotti/testyard/internal/stream"
)

// defaultQueueSize bounds the per-session message backlog. A pipeline stage
// fans out to at most a handful of follow-up messages, so this is generous.
const defaultQueueSize = 256

// EventSink receives progress events emitted by the runtime on handler
// failures. Satisfied by *stream.Channel.
type EventSink interface {
	Push(ev stream.Event)
}

// Runtime drives one session's pipeline: a single goroutine drains a FIFO
// queue and delivers each message to every handler registered for its topic.
// Handlers within a session never race each other; separate sessions run
// fully in parallel, each with its own Runtime.
type Runtime struct {
	sessionID string
	router    *Router
	sink      EventSink

	queue  chan Message
	cancel context.CancelFunc
	done   chan struct{}

	stopOnce sync.Once
	startOne sync.Once
}

// RuntimeOpts holds parameters for creating a Runtime.
type RuntimeOpts struct {
	SessionID string
	Router    *Router
	Sink      EventSink
	QueueSize int
}

// NewRuntime creates a Runtime for one session.
func NewRuntime(opts RuntimeOpts) (*Runtime, error) {
	if opts.SessionID == "" {
		return nil, fmt.Errorf("bus: session id is required")
	}
	if opts.Router == nil {
		return nil, fmt.Errorf("bus: router is required")
	}
	size := opts.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	return &Runtime{
		sessionID: opts.SessionID,
		router:    opts.Router,
		sink:      opts.Sink,
		queue:     make(chan Message, size),
		done:      make(chan struct{}),
	}, nil
}

// Start launches the dispatch loop. Calling Start more than once is a no-op.
func (rt *Runtime) Start(ctx context.Context) {
	rt.startOne.Do(func() {
		ctx, rt.cancel = context.WithCancel(ctx)
		go rt.run(ctx)
	})
}

// Publish enqueues a message for dispatch. It fails once the runtime has
// been shut down or when the backlog is full.
func (rt *Runtime) Publish(msg Message) error {
	select {
	case <-rt.done:
		return fmt.Errorf("bus: runtime for %s is shut down", rt.sessionID)
	default:
	}

	select {
	case rt.queue <- msg:
		return nil
	default:
		return fmt.Errorf("bus: queue full for session %s", rt.sessionID)
	}
}

// Shutdown stops the dispatch loop and waits for it to exit. A runtime that
// was never started shuts down immediately.
func (rt *Runtime) Shutdown() {
	rt.stopOnce.Do(func() {
		// Consume the start slot first: if the loop never ran there is
		// nothing to cancel, and a later Start must become a no-op.
		rt.startOne.Do(func() { close(rt.done) })
		if rt.cancel != nil {
			rt.cancel()
		}
	})
	<-rt.done
}

// run drains the queue until the context ends.
func (rt *Runtime) run(ctx context.Context) {
	defer close(rt.done)

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-rt.queue:
			rt.dispatch(ctx, msg)
		}
	}
}

// dispatch delivers one message to all handlers for its topic. A handler
// error is logged and surfaced as an error-region event, then dispatch
// continues with the remaining handlers. When every handler failed and no
// follow-up message was published, the pipeline is dead at this stage: no
// later stage will emit the final event, so the error itself carries it and
// a connected client is never left waiting.
func (rt *Runtime) dispatch(ctx context.Context, msg Message) {
	handlers := rt.router.HandlersFor(msg.Topic)
	if len(handlers) == 0 {
		log.Printf("bus: session %s: no handlers for topic %q", rt.sessionID, msg.Topic)
		return
	}

	type failure struct {
		name string
		err  error
	}
	var failures []failure
	published, succeeded := 0, 0

	for _, h := range handlers {
		out, err := h.Handle(ctx, msg)
		if err != nil {
			log.Printf("bus: session %s: handler %s on %q: %v", rt.sessionID, h.Name(), msg.Topic, err)
			failures = append(failures, failure{h.Name(), err})
			continue
		}
		succeeded++
		for _, next := range out {
			if pubErr := rt.Publish(next); pubErr != nil {
				log.Printf("bus: session %s: publish from %s: %v", rt.sessionID, h.Name(), pubErr)
				continue
			}
			published++
		}
	}

	// Exactly one final event per session: only the last failure of a
	// dead-ended message is marked final.
	deadEnd := succeeded == 0 && published == 0
	for i, f := range failures {
		rt.emitError(f.name, msg, f.err, deadEnd && i == len(failures)-1)
	}
}

// emitError pushes an error-region event for a failed handler.
func (rt *Runtime) emitError(source string, msg Message, err error, final bool) {
	if rt.sink == nil {
		return
	}
	rt.sink.Push(stream.Event{
		MessageID: msg.ID,
		SessionID: rt.sessionID,
		Source:    source,
		Type:      "error",
		Content:   err.Error(),
		Region:    stream.RegionError,
		IsFinal:   final,
		Timestamp: time.Now(),
	})
}
