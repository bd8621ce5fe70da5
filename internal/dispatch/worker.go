// Package dispatch decouples notification delivery from the command path.
// The primary mutation never waits on a send: completed ledger updates hand a
// task to the worker and return. The queue boundary is also where event-id
// deduplication lives, so a re-enqueued event cannot double-send.
package dispatch

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Task is one deferred notification delivery. EventID deduplicates
// re-enqueues of the same crossing; leave it empty to skip dedup.
type Task struct {
	EventID string
	Name    string
	Run     func(ctx context.Context)
}

// Worker drains a bounded queue of notification tasks on a single goroutine.
type Worker struct {
	queue chan Task
	done  chan struct{}

	mu       sync.Mutex
	seen     map[string]struct{}
	seenRing []string
	seenPos  int
}

// dedupWindow bounds how many recent event ids are remembered.
const dedupWindow = 1024

// NewWorker builds a worker with the given queue capacity.
func NewWorker(queueSize int) *Worker {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Worker{
		queue:    make(chan Task, queueSize),
		done:     make(chan struct{}),
		seen:     make(map[string]struct{}, dedupWindow),
		seenRing: make([]string, dedupWindow),
	}
}

// Start launches the drain loop. It runs until ctx is cancelled, then drains
// whatever is already queued and closes Done.
func (w *Worker) Start(ctx context.Context) {
	go func() {
		defer close(w.done)
		for {
			select {
			case task := <-w.queue:
				w.run(ctx, task)
			case <-ctx.Done():
				for {
					select {
					case task := <-w.queue:
						w.run(context.Background(), task)
					default:
						return
					}
				}
			}
		}
	}()
}

// Done closes once the worker has drained after cancellation.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Enqueue hands a task to the worker without blocking. A full queue drops the
// task with a log line; a missed ephemeral notification is acceptable loss.
// Returns false when the task was dropped or deduplicated.
func (w *Worker) Enqueue(task Task) bool {
	if task.EventID != "" && !w.markSeen(task.EventID) {
		logrus.WithFields(logrus.Fields{
			"event_id": task.EventID,
			"task":     task.Name,
		}).Debug("Duplicate dispatch event dropped")
		return false
	}

	select {
	case w.queue <- task:
		return true
	default:
		logrus.WithField("task", task.Name).Warn("Dispatch queue full, notification dropped")
		return false
	}
}

func (w *Worker) run(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"task":  task.Name,
				"panic": r,
			}).Error("Dispatch task panicked")
		}
	}()
	task.Run(ctx)
}

// markSeen records the event id and reports whether it was new. The memory is
// a fixed-size ring so the map cannot grow without bound.
func (w *Worker) markSeen(eventID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, dup := w.seen[eventID]; dup {
		return false
	}
	if old := w.seenRing[w.seenPos]; old != "" {
		delete(w.seen, old)
	}
	w.seenRing[w.seenPos] = eventID
	w.seenPos = (w.seenPos + 1) % dedupWindow
	w.seen[eventID] = struct{}{}
	return true
}
