// Package bus tees the bar stream to several consumers.
package bus

import (
	"context"
	"log"
	"sync"

	"signalbot/internal/model"
)

// FanOut broadcasts bar events from a single input channel to N output
// channels. If an output channel is full, the bar is dropped for that
// consumer so a slow consumer cannot block the pipeline.
type FanOut struct {
	mu      sync.RWMutex
	outputs []chan model.BarEvent
	names   []string
	bufSize int

	// OnDrop is called when a bar is dropped for a subscriber.
	OnDrop func(subscriber string, ev model.BarEvent)
}

// New creates a FanOut with the given buffer size for output channels.
func New(outputBufferSize int) *FanOut {
	return &FanOut{bufSize: outputBufferSize}
}

// Subscribe creates and returns a new named output channel. Must be called
// before Run.
func (f *FanOut) Subscribe(name string) <-chan model.BarEvent {
	ch := make(chan model.BarEvent, f.bufSize)
	f.mu.Lock()
	f.outputs = append(f.outputs, ch)
	f.names = append(f.names, name)
	f.mu.Unlock()
	return ch
}

// Run reads from the input channel and fans out to all subscribers.
// Blocks until ctx is cancelled or input is closed, then closes every
// output channel.
func (f *FanOut) Run(ctx context.Context, input <-chan model.BarEvent) {
	defer func() {
		f.mu.RLock()
		for _, ch := range f.outputs {
			close(ch)
		}
		f.mu.RUnlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-input:
			if !ok {
				return
			}
			f.mu.RLock()
			for i, ch := range f.outputs {
				select {
				case ch <- ev:
				default:
					if f.OnDrop != nil {
						f.OnDrop(f.names[i], ev)
					} else {
						log.Printf("[bus] %s full, dropping %s bar at %s", f.names[i], ev.Symbol, ev.Bar.TS.Format("15:04:05"))
					}
				}
			}
			f.mu.RUnlock()
		}
	}
}

// ChannelStat is the saturation of one subscriber channel.
type ChannelStat struct {
	Name string
	Len  int
	Cap  int
}

// ChannelStats returns the length and capacity of each subscriber channel.
func (f *FanOut) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.outputs))
	for i, ch := range f.outputs {
		stats[i] = ChannelStat{Name: f.names[i], Len: len(ch), Cap: cap(ch)}
	}
	return stats
}
