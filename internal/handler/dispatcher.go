package handler

import (
	"context"
	"log"
	"sync"
	"time"

	"askboard/internal/platform"
)

// UpdateTimeout bounds the handling of one inbound update.
const UpdateTimeout = 30 * time.Second

// Dispatcher serializes updates per chat while letting different chats run
// concurrently. The conversation state machine reads its own prior writes,
// so two updates from the same chat must be handled in arrival order; no
// such constraint exists across chats.
type Dispatcher struct {
	handle func(ctx context.Context, update platform.Update)

	mu     sync.Mutex
	queues map[int64]*chatQueue
	wg     sync.WaitGroup
}

type chatQueue struct {
	pending []platform.Update
}

// NewDispatcher creates a per-chat FIFO dispatcher around handle.
func NewDispatcher(handle func(ctx context.Context, update platform.Update)) *Dispatcher {
	return &Dispatcher{
		handle: handle,
		queues: make(map[int64]*chatQueue),
	}
}

// Dispatch enqueues the update on its chat's queue and returns immediately.
// The first update for an idle chat starts a drain goroutine; the goroutine
// exits once the queue empties.
func (d *Dispatcher) Dispatch(update platform.Update) {
	chatID := update.ChatID()
	if chatID == 0 {
		log.Printf("[Dispatcher] Dropping update %d without a chat", update.UpdateID)
		return
	}

	d.mu.Lock()
	q, running := d.queues[chatID]
	if !running {
		q = &chatQueue{}
		d.queues[chatID] = q
	}
	q.pending = append(q.pending, update)
	d.mu.Unlock()

	if !running {
		d.wg.Add(1)
		go d.drain(chatID, q)
	}
}

func (d *Dispatcher) drain(chatID int64, q *chatQueue) {
	defer d.wg.Done()

	for {
		d.mu.Lock()
		if len(q.pending) == 0 {
			delete(d.queues, chatID)
			d.mu.Unlock()
			return
		}
		update := q.pending[0]
		q.pending = q.pending[1:]
		d.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), UpdateTimeout)
		d.handle(ctx, update)
		cancel()
	}
}

// Wait blocks until every queued update has been handled. Used on shutdown
// after the webhook stops accepting new updates.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
