package matchmaking

import (
	"container/list"
	"fmt"
)

// waitQueue is a FIFO of connection ids with O(1) removal by id.
type waitQueue struct {
	order *list.List
	index map[string]*list.Element
}

func newWaitQueue() *waitQueue {
	return &waitQueue{
		order: list.New(),
		index: make(map[string]*list.Element),
	}
}

func (q *waitQueue) len() int { return q.order.Len() }

func (q *waitQueue) contains(id string) bool {
	_, ok := q.index[id]
	return ok
}

func (q *waitQueue) enqueue(id string) error {
	if q.contains(id) {
		return fmt.Errorf("%w: %s", ErrAlreadyWaiting, id)
	}
	q.index[id] = q.order.PushBack(id)
	return nil
}

// cancel removes id and reports whether it was queued.
func (q *waitQueue) cancel(id string) bool {
	elem, ok := q.index[id]
	if !ok {
		return false
	}
	q.order.Remove(elem)
	delete(q.index, id)
	return true
}

// popPair removes and returns the two oldest entries, in arrival order.
func (q *waitQueue) popPair() (a, b string, ok bool) {
	if q.order.Len() < 2 {
		return "", "", false
	}
	a = q.popFront()
	b = q.popFront()
	return a, b, true
}

func (q *waitQueue) popFront() string {
	elem := q.order.Front()
	id := q.order.Remove(elem).(string)
	delete(q.index, id)
	return id
}

func (q *waitQueue) snapshot() []string {
	out := make([]string, 0, q.order.Len())
	for elem := q.order.Front(); elem != nil; elem = elem.Next() {
		out = append(out, elem.Value.(string))
	}
	return out
}
