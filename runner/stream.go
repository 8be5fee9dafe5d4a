package runner

import (
	"context"

	"github.com/hupe1980/orchestra/agent"
	"github.com/hupe1980/orchestra/core"
)

// Stream is a run in progress. Events delivers every semantic event and raw
// delta in order and is closed after the run ended; Wait blocks for the
// Result. Undrained events are buffered without bound, so a consumer that
// only calls Wait never stalls the run; the buffer is released once Events
// has been drained.
type Stream struct {
	queue  *eventQueue
	done   chan struct{}
	cancel context.CancelFunc

	result *Result
	err    error
}

// RunStreamed starts start with a single user message and returns immediately.
func (r *Runner) RunStreamed(ctx context.Context, start *agent.Agent, input string, optFns ...func(o *RunOptions)) *Stream {
	return r.RunItemsStreamed(ctx, start, core.UserInput(input), optFns...)
}

// RunItemsStreamed starts start with an item list and returns immediately.
func (r *Runner) RunItemsStreamed(ctx context.Context, start *agent.Agent, input []core.Item, optFns ...func(o *RunOptions)) *Stream {
	ctx, cancel := context.WithCancel(ctx)

	s := &Stream{
		queue:  newEventQueue(r.opts.EventBufferSize),
		done:   make(chan struct{}),
		cancel: cancel,
	}

	go func() {
		defer close(s.done)
		defer s.queue.close()
		defer cancel()

		s.result, s.err = r.execute(ctx, start, input, optFns, s.queue)
	}()

	return s
}

// Events returns the event channel.
func (s *Stream) Events() <-chan core.Event { return s.queue.out }

// Done is closed when the run ended.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Wait blocks until the run ended and returns its outcome.
func (s *Stream) Wait() (*Result, error) {
	<-s.done
	return s.result, s.err
}

// Cancel aborts the run. Wait then reports a *core.CancelledError.
func (s *Stream) Cancel() { s.cancel() }

// eventQueue decouples the run from the consumer of Stream.Events.
type eventQueue struct {
	in  chan core.Event
	out chan core.Event
}

func newEventQueue(size int) *eventQueue {
	q := &eventQueue{
		in:  make(chan core.Event, size),
		out: make(chan core.Event, size),
	}
	go q.pump()
	return q
}

func (q *eventQueue) push(ev core.Event) { q.in <- ev }

func (q *eventQueue) close() { close(q.in) }

func (q *eventQueue) pump() {
	defer close(q.out)

	var pending []core.Event

	in := q.in
	for in != nil || len(pending) > 0 {
		var (
			out  chan core.Event
			next core.Event
		)
		if len(pending) > 0 {
			out, next = q.out, pending[0]
		}

		select {
		case ev, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			pending = append(pending, ev)
		case out <- next:
			pending = pending[1:]
		}
	}
}
