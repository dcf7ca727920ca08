package wire

import "sync"

// eventQueue is an unbounded FIFO of closures drained by one goroutine.
// post never blocks, so read loops and stack calls made from inside a
// handler can both feed it.
type eventQueue struct {
	mu     sync.Mutex
	items  []func()
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{signal: make(chan struct{}, 1)}
}

func (q *eventQueue) post(fn func()) {
	q.mu.Lock()
	q.items = append(q.items, fn)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *eventQueue) next() (func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	fn := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return fn, true
}

// run drains the queue until stop is closed.
func (q *eventQueue) run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-q.signal:
		}
		for {
			select {
			case <-stop:
				return
			default:
			}
			fn, ok := q.next()
			if !ok {
				break
			}
			fn()
		}
	}
}
