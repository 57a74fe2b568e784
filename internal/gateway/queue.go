package gateway

import "sync"

// outboundMessage is one payload waiting to be written to the WebSocket, already
// encoded by whichever producer built it: the controller for Ready, the upstream
// pipeline for forwarded platform events, the client pipeline for Pong.
type outboundMessage struct {
	data        []byte
	messageType int
}

// sendQueue is a session's unbounded multi-producer single-consumer FIFO of outbound
// messages. The controller, the upstream pipeline, and the client pipeline all Push;
// only the egress task Pops. Unlike the teacher's bounded, drop-on-full send channel,
// this queue never drops a message — spec.md's send-queue has no overflow policy, so
// pushing never fails and Ready-before-everything-else ordering is guaranteed by push
// order alone (Hello is written directly to the connection before this queue exists).
type sendQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []outboundMessage
	closed bool
}

func newSendQueue() *sendQueue {
	q := &sendQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends msg to the tail of the queue. A no-op once Close has been called.
func (q *sendQueue) Push(msg outboundMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.buf = append(q.buf, msg)
	q.cond.Signal()
}

// Pop blocks until a message is available or the queue is closed, in which case ok is
// false and the egress task should stop.
func (q *sendQueue) Pop() (msg outboundMessage, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.buf) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.buf) == 0 {
		return outboundMessage{}, false
	}
	msg = q.buf[0]
	q.buf = q.buf[1:]
	return msg, true
}

// Close wakes any blocked Pop and causes every subsequent Push to be a no-op and every
// subsequent Pop to return ok=false. Safe to call more than once.
func (q *sendQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
