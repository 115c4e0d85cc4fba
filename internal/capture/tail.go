package capture

import "github.com/google/uuid"

// tailBuffer is the per-subscriber backlog; lines beyond it are dropped.
const tailBuffer = 64

// Subscribe registers a live tail of display lines. The channel is closed by
// Unsubscribe or when Run returns.
func (s *Session) Subscribe() (string, chan string) {
	id := uuid.NewString()
	ch := make(chan string, tailBuffer)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if s.closed {
		close(ch)
		return id, ch
	}
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (s *Session) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

func (s *Session) publish(line string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- line:
		default:
			// slow subscriber; never block the capture loop
		}
	}
}

func (s *Session) closeSubscribers() {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.closed = true
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
}
