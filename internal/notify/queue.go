package notify

import (
	"context"
	"log"
	"sync"
	"time"
)

type Dispatcher interface {
	Name() string
	Dispatch(ctx context.Context, ev Event) error
}

// Queue is the post-commit side-effect queue. Publish never blocks the
// caller: when the buffer is full the event is dropped and logged. Each
// dispatcher fails independently and nothing is retried.
type Queue struct {
	inbox       chan Event
	closeCh     chan struct{}
	dispatchers []Dispatcher
	timeout     time.Duration

	mu     sync.RWMutex
	closed bool
}

func NewQueue(buf int, dispatchers ...Dispatcher) *Queue {
	if buf < 1 {
		buf = 1
	}
	return &Queue{
		inbox:       make(chan Event, buf),
		closeCh:     make(chan struct{}),
		dispatchers: dispatchers,
		timeout:     5 * time.Second,
	}
}

func (q *Queue) Start(ctx context.Context) {
	go func() {
		defer close(q.closeCh)
		for {
			select {
			case <-ctx.Done():
				q.Close()
				for ev := range q.inbox {
					q.dispatch(ev)
				}
				return
			case ev, ok := <-q.inbox:
				if !ok {
					return
				}
				q.dispatch(ev)
			}
		}
	}()
}

func (q *Queue) Publish(ev Event) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		log.Printf("[notify] WARN: queue closed, dropping %s %s", ev.EventType, ev.CorrelationID)
		return false
	}
	select {
	case q.inbox <- ev:
		return true
	default:
		log.Printf("[notify] WARN: queue full, dropping %s %s", ev.EventType, ev.CorrelationID)
		return false
	}
}

// Close stops accepting events; the worker flushes what is buffered.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.inbox)
}

// WaitClosed blocks until the worker has drained the buffer.
func (q *Queue) WaitClosed() { <-q.closeCh }

func (q *Queue) dispatch(ev Event) {
	for _, d := range q.dispatchers {
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		err := safeDispatch(ctx, d, ev)
		cancel()
		if err != nil {
			log.Printf("[notify] WARN: %s failed for %s %s: %v", d.Name(), ev.EventType, ev.CorrelationID, err)
		}
	}
}

func safeDispatch(ctx context.Context, d Dispatcher, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[notify] ERROR: %s panicked on %s: %v", d.Name(), ev.EventType, r)
		}
	}()
	return d.Dispatch(ctx, ev)
}
