package provider

import "sync"

// FeedBuffer is the per-subscriber channel capacity.
const FeedBuffer = 64

// Feed fans provider events out to subscribers. A subscriber that is not
// keeping up misses events rather than blocking the sender.
type Feed struct {
	mu   sync.RWMutex
	subs map[*feedSub]struct{}
}

type feedSub struct {
	feed *Feed
	ch   chan Event
	once sync.Once
}

func (s *feedSub) Events() <-chan Event { return s.ch }

func (s *feedSub) Unsubscribe() {
	s.once.Do(func() {
		s.feed.mu.Lock()
		defer s.feed.mu.Unlock()
		delete(s.feed.subs, s)
		close(s.ch)
	})
}

// Subscribe registers a new subscriber.
func (f *Feed) Subscribe() Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs == nil {
		f.subs = make(map[*feedSub]struct{})
	}
	s := &feedSub{feed: f, ch: make(chan Event, FeedBuffer)}
	f.subs[s] = struct{}{}
	return s
}

// Send delivers ev to every subscriber and reports how many received it.
func (f *Feed) Send(ev Event) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n := 0
	for s := range f.subs {
		select {
		case s.ch <- ev:
			n++
		default:
		}
	}
	return n
}

// Close unsubscribes everyone.
func (f *Feed) Close() {
	f.mu.Lock()
	subs := f.subs
	f.subs = nil
	f.mu.Unlock()
	for s := range subs {
		s.once.Do(func() { close(s.ch) })
	}
}
