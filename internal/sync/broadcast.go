package sync

import (
	"sync"

	"github.com/flemosr/tradeloop/internal/tradeerr"
)

// subscriberBuffer is the per-subscriber channel depth. Kept small and
// non-blocking on publish: a subscriber that can't keep up is dropped events
// and told so via Envelope.Err, per spec.md §5 "a slow subscriber may be
// dropped with Lagged(n)".
const subscriberBuffer = 64

// Envelope is what a subscriber receives: either an Update, or a
// *tradeerr.LaggedError reporting skipped events (never both).
type Envelope struct {
	Update Update
	Err    error
}

type subscriber struct {
	ch      chan Envelope
	skipped uint64
}

// broadcaster is a minimal fan-out: one publisher, many subscribers, each
// with its own bounded buffer. Grounded on tokio::sync::broadcast's
// semantics (per-subscriber ordering, Lagged(n) on overflow) without pulling
// in a dependency for it, since the corpus has no Go broadcast library and
// the teacher itself only ever has one consumer per channel.
type broadcaster struct {
	mu   sync.Mutex
	subs map[int]*subscriber
	next int
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]*subscriber)}
}

// subscribe returns a receive channel and an unsubscribe function.
func (b *broadcaster) subscribe() (<-chan Envelope, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	s := &subscriber{ch: make(chan Envelope, subscriberBuffer)}
	b.subs[id] = s
	return s.ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			close(sub.ch)
			delete(b.subs, id)
		}
	}
}

func (b *broadcaster) publish(u Update) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		if s.skipped > 0 {
			select {
			case s.ch <- Envelope{Err: &tradeerr.LaggedError{Skipped: s.skipped}}:
				s.skipped = 0
			default:
				s.skipped++
				continue
			}
		}
		select {
		case s.ch <- Envelope{Update: u}:
		default:
			s.skipped++
		}
	}
}
