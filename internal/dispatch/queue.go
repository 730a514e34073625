package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/wotlink/internal/observability"
	"github.com/danmuck/wotlink/internal/protocol"
	"github.com/danmuck/wotlink/internal/protocol/frame"
)

var (
	ErrQueueFull      = errors.New("dispatch: queue full")
	ErrInvalidMessage = errors.New("dispatch: invalid message")
	ErrUnknownMessage = errors.New("dispatch: unknown message kind")
)

// MaxReceiveSize caps the reply buffer a receive message may request.
var MaxReceiveSize = int(frame.DefaultLimits().MaxPayloadBytes)

// CheckReceiveSize rejects receive sizes outside 0..MaxReceiveSize.
func CheckReceiveSize(n int) error {
	if n < 0 || n > MaxReceiveSize {
		return fmt.Errorf("%w: receive size %d outside 0..%d", ErrInvalidMessage, n, MaxReceiveSize)
	}
	return nil
}

func validate(msg Message) error {
	switch m := msg.(type) {
	case nil:
		return ErrInvalidMessage
	case ReceiveRequest:
		return CheckReceiveSize(m.Size)
	case SendReceive:
		return CheckReceiveSize(m.ReceiveSize)
	}
	return nil
}

// Queue is the bounded FIFO between producers and the single consumer.
type Queue struct {
	node string
	ch   chan Message
}

func NewQueue(node string, capacity int) *Queue {
	if capacity <= 0 {
		capacity = protocol.DefaultQueueLength
	}
	return &Queue{node: node, ch: make(chan Message, capacity)}
}

// Submit enqueues msg. With wait == 0 it never blocks and fails with
// ErrQueueFull when the queue is full; with wait > 0 it blocks up to wait.
// Malformed messages fail with ErrInvalidMessage and are never queued.
func (q *Queue) Submit(ctx context.Context, msg Message, wait time.Duration) error {
	if err := validate(msg); err != nil {
		return err
	}
	select {
	case q.ch <- msg:
		observability.SetQueueDepth(q.node, len(q.ch))
		return nil
	default:
	}
	if wait <= 0 {
		observability.RecordQueueRejected(q.node)
		return ErrQueueFull
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case q.ch <- msg:
		observability.SetQueueDepth(q.node, len(q.ch))
		return nil
	case <-timer.C:
		observability.RecordQueueRejected(q.node)
		return ErrQueueFull
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next blocks until a message is available or ctx ends.
func (q *Queue) Next(ctx context.Context) (Message, error) {
	select {
	case msg := <-q.ch:
		observability.SetQueueDepth(q.node, len(q.ch))
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *Queue) Len() int {
	return len(q.ch)
}

func (q *Queue) Cap() int {
	return cap(q.ch)
}
