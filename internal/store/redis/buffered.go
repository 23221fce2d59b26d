package redis

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"signalbot/internal/breaker"
	"signalbot/internal/indicator"
	"signalbot/internal/strategy"
)

// BufferedPublisher wraps a Publisher with a circuit breaker.
// While the circuit is open, messages are buffered locally and flushed
// when the circuit closes again.
type BufferedPublisher struct {
	sink sink
	cb   *breaker.Breaker
	ctx  context.Context

	mu     sync.Mutex
	buffer []message
	maxBuf int // drop oldest beyond this (default: 10000)

	// Callbacks
	OnBuffer func()          // called when a message is buffered (for metrics)
	OnFlush  func(count int) // called after flushing buffered messages
}

// NewBufferedPublisher creates a BufferedPublisher around p.
func NewBufferedPublisher(ctx context.Context, p *Publisher, cb *breaker.Breaker, maxBufferSize int) *BufferedPublisher {
	return newBuffered(ctx, p, cb, maxBufferSize)
}

func newBuffered(ctx context.Context, s sink, cb *breaker.Breaker, maxBufferSize int) *BufferedPublisher {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	bp := &BufferedPublisher{
		sink:   s,
		cb:     cb,
		ctx:    ctx,
		buffer: make([]message, 0, 256),
		maxBuf: maxBufferSize,
	}

	prev := cb.OnStateChange
	cb.OnStateChange = func(name string, from, to breaker.State) {
		if prev != nil {
			prev(name, from, to)
		}
		if to == breaker.StateClosed {
			go bp.flush()
		}
	}
	return bp
}

// PublishSnapshot publishes the latest indicator snapshot of symbol.
func (bp *BufferedPublisher) PublishSnapshot(ctx context.Context, symbol string, ts time.Time, snap indicator.Snapshot) error {
	return bp.publish(ctx, snapshotMessage(symbol, ts, snap))
}

// PublishDecision publishes a non-Hold decision for symbol.
func (bp *BufferedPublisher) PublishDecision(ctx context.Context, symbol string, ts time.Time, dec strategy.Decision) error {
	return bp.publish(ctx, signalMessage(symbol, ts, dec))
}

func (bp *BufferedPublisher) publish(ctx context.Context, m message) error {
	err := bp.cb.Execute(func() error {
		return bp.sink.write(ctx, m)
	})
	if errors.Is(err, breaker.ErrOpen) {
		bp.bufferMessage(m)
		return nil // buffered, not lost
	}
	return err
}

func (bp *BufferedPublisher) bufferMessage(m message) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if len(bp.buffer) >= bp.maxBuf {
		bp.buffer = bp.buffer[1:]
	}
	bp.buffer = append(bp.buffer, m)

	if bp.OnBuffer != nil {
		bp.OnBuffer()
	}
}

// flush replays buffered messages through the sink.
func (bp *BufferedPublisher) flush() {
	bp.mu.Lock()
	if len(bp.buffer) == 0 {
		bp.mu.Unlock()
		return
	}
	toFlush := bp.buffer
	bp.buffer = make([]message, 0, 256)
	bp.mu.Unlock()

	flushed := 0
	for _, m := range toFlush {
		if err := bp.sink.write(bp.ctx, m); err != nil {
			log.Printf("[redis-buffer] flush %s %s: %v", m.Kind, m.Symbol, err)
			continue
		}
		flushed++
	}

	log.Printf("[redis-buffer] flushed %d buffered messages", flushed)
	if bp.OnFlush != nil {
		bp.OnFlush(flushed)
	}
}

// PendingCount returns the number of buffered messages waiting to be flushed.
func (bp *BufferedPublisher) PendingCount() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.buffer)
}
