package bars

import (
	"sort"
	"sync"

	"signalbot/internal/model"
)

// Set keeps one Buffer per instrument. Instruments are independent; the
// lock only guards the map and individual appends.
type Set struct {
	mu        sync.RWMutex
	retention int
	buffers   map[string]*Buffer
}

// NewSet creates an empty set whose buffers share one retention policy.
func NewSet(retention int) *Set {
	return &Set{
		retention: retention,
		buffers:   make(map[string]*Buffer, 16),
	}
}

// Buffer returns the buffer for symbol, creating it on first use.
func (s *Set) Buffer(symbol string) *Buffer {
	s.mu.RLock()
	b, ok := s.buffers[symbol]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok = s.buffers[symbol]; !ok {
		b = NewBuffer(symbol, s.retention)
		s.buffers[symbol] = b
	}
	return b
}

// Append adds bar to symbol's buffer.
func (s *Set) Append(symbol string, bar model.Bar) error {
	b := s.Buffer(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	return b.Append(bar)
}

// Closes returns symbol's retained closes, oldest first.
func (s *Set) Closes(symbol string) []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.buffers[symbol]
	if !ok {
		return nil
	}
	return b.Closes()
}

// Len returns the retained sample count for symbol.
func (s *Set) Len(symbol string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if b, ok := s.buffers[symbol]; ok {
		return b.Len()
	}
	return 0
}

// Symbols returns the known instruments in sorted order.
func (s *Set) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.buffers))
	for sym := range s.buffers {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
