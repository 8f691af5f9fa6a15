package app

import (
	"sync"

	"github.com/ayusman/posecapture/internal/enroll"
)

// notice is one queued call on the dispatcher.
type notice struct {
	event      *enroll.Event
	completion *enroll.Completion
}

// outbox is the machine's notifier. It queues events and completions while
// Controller.mu is held; the goroutine that releases mu then sends them to
// observers and sinks, so a slow sink never holds the controller lock.
//
// Batches are numbered under Controller.mu and sent strictly in that order,
// which keeps every subscriber's view of a session in transition order.
type outbox struct {
	pending []notice // guarded by Controller.mu
	next    uint64   // guarded by Controller.mu

	mu     sync.Mutex
	turn   *sync.Cond
	served uint64
}

func newOutbox() *outbox {
	o := &outbox{}
	o.turn = sync.NewCond(&o.mu)
	return o
}

func (o *outbox) Emit(e enroll.Event) {
	o.pending = append(o.pending, notice{event: &e})
}

func (o *outbox) Deliver(c enroll.Completion) {
	o.pending = append(o.pending, notice{completion: &c})
}

// take detaches the queued notices and numbers the batch. Must be called with
// Controller.mu held. An empty batch gets no number.
func (o *outbox) take() ([]notice, uint64) {
	if len(o.pending) == 0 {
		return nil, 0
	}
	batch := o.pending
	o.pending = nil
	ticket := o.next
	o.next++
	return batch, ticket
}

// flush waits for every earlier batch, then hands this one to n.
func (o *outbox) flush(n enroll.Notifier, batch []notice, ticket uint64) {
	o.mu.Lock()
	for o.served != ticket {
		o.turn.Wait()
	}
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.served++
		o.turn.Broadcast()
		o.mu.Unlock()
	}()

	for _, item := range batch {
		if item.completion != nil {
			n.Deliver(*item.completion)
			continue
		}
		n.Emit(*item.event)
	}
}
