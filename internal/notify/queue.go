package notify

import (
	"context"
	"sync"
)

// Logger interface for queue operations.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(msg string, args ...any) {}
func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}

// defaultQueueSize bounds the in-flight event buffer.
const defaultQueueSize = 256

// Queue decouples notification producers from the sink.
//
// Publish never blocks: when the buffer is full the event is dropped and
// counted, because presence notifications are advisory and must never stall
// the state synchronization path.
type Queue struct {
	sink   Sink
	logger Logger

	events chan Event

	mu      sync.Mutex
	dropped uint64

	wg   sync.WaitGroup
	once sync.Once
}

// NewQueue creates a queue in front of the given sink. Size <= 0 uses the
// default buffer size.
func NewQueue(sink Sink, size int, logger Logger) *Queue {
	if logger == nil {
		logger = noopLogger{}
	}
	if size <= 0 {
		size = defaultQueueSize
	}
	return &Queue{
		sink:   sink,
		logger: logger,
		events: make(chan Event, size),
	}
}

// Start launches the delivery worker. The worker drains remaining events
// when ctx is cancelled, then exits.
func (q *Queue) Start(ctx context.Context) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for {
			select {
			case ev := <-q.events:
				q.deliver(ev)
			case <-ctx.Done():
				// Drain what is already buffered, then stop.
				for {
					select {
					case ev := <-q.events:
						q.deliver(ev)
					default:
						return
					}
				}
			}
		}
	}()
}

func (q *Queue) deliver(ev Event) {
	if err := q.sink.Notify(ev); err != nil {
		q.logger.Warn("notification delivery failed",
			"type", ev.Type,
			"device_id", ev.DeviceID,
			"error", err,
		)
	}
}

// Publish enqueues an event without blocking. Returns false if the event
// was dropped because the buffer is full.
func (q *Queue) Publish(ev Event) bool {
	select {
	case q.events <- ev:
		return true
	default:
		q.mu.Lock()
		q.dropped++
		total := q.dropped
		q.mu.Unlock()
		q.logger.Warn("notification dropped, queue full",
			"type", ev.Type,
			"device_id", ev.DeviceID,
			"dropped_total", total,
		)
		return false
	}
}

// Dropped returns the number of events dropped so far.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Wait blocks until the delivery worker has exited.
func (q *Queue) Wait() {
	q.wg.Wait()
}
