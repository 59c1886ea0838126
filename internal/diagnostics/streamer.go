package diagnostics

import "sync"

const streamBufferSize = 100

// Streamer fans records out to live subscribers. Slow subscribers miss
// records rather than block the producer.
type Streamer struct {
	mu          sync.RWMutex
	subscribers []chan Record
	buffer      int
}

func NewStreamer() *Streamer {
	return NewStreamerWithBuffer(streamBufferSize)
}

// NewStreamerWithBuffer sets the per-subscriber buffer.
func NewStreamerWithBuffer(buffer int) *Streamer {
	if buffer <= 0 {
		buffer = streamBufferSize
	}
	return &Streamer{buffer: buffer}
}

func (s *Streamer) Subscribe() <-chan Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Record, s.buffer)
	s.subscribers = append(s.subscribers, ch)
	return ch
}

func (s *Streamer) Unsubscribe(ch <-chan Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sub := range s.subscribers {
		if sub == ch {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			close(sub)
			break
		}
	}
}

func (s *Streamer) Record(r Record) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ch := range s.subscribers {
		select {
		case ch <- r:
		default:
			// Skip if channel is full
		}
	}
}

func (s *Streamer) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}
