package resourcecache

import (
	"sync"

	"github.com/Amund211/lazyimage/internal/domain"
	"golang.org/x/sync/singleflight"
)

// All fields are guarded by the owning Cache's lock
type record struct {
	key       domain.LoadKey
	status    domain.LoadStatus
	resultSrc string
	err       error

	// Bumped on every transition so subscribers can drop stale snapshots
	version uint64
	// Started fetches for this record, including retries
	attempts int

	subscribers map[*subscriber]struct{}
	inFlight    <-chan singleflight.Result
}

func newRecord(key domain.LoadKey) *record {
	return &record{
		key:         key,
		status:      domain.StatusPending,
		version:     1,
		subscribers: make(map[*subscriber]struct{}),
	}
}

func (r *record) restart() {
	r.status = domain.StatusPending
	r.resultSrc = ""
	r.err = nil
	r.version++
}

func (r *record) settle(src string, err error) {
	if err != nil {
		r.status = domain.StatusFailed
		r.resultSrc = ""
		r.err = err
	} else {
		r.status = domain.StatusReady
		r.resultSrc = src
		r.err = nil
	}
	r.inFlight = nil
	r.version++
}

func (r *record) isIdle() bool {
	return len(r.subscribers) == 0 && r.status.IsTerminal()
}

func (r *record) notification() notification {
	var state domain.LoadState
	switch r.status {
	case domain.StatusReady:
		state = domain.ReadyState(r.resultSrc)
	case domain.StatusFailed:
		state = domain.FailedState(r.err.Error())
	default:
		state = domain.PendingState()
	}
	return notification{state: state, err: r.err, version: r.version}
}

func (r *record) snapshotSubscribers() []*subscriber {
	subscribers := make([]*subscriber, 0, len(r.subscribers))
	for s := range r.subscribers {
		subscribers = append(subscribers, s)
	}
	return subscribers
}

type notification struct {
	state   domain.LoadState
	err     error
	version uint64
}

type subscriber struct {
	callback func(state domain.LoadState, err error)

	lock       sync.Mutex
	latest     uint64
	next       *notification
	delivering bool
	closed     bool
}

// Deliver n unless a newer notification was already seen.
//
// Only one goroutine runs the callback at a time. Deliveries that arrive meanwhile,
// including ones triggered from inside the callback, are coalesced to the newest and
// run by that goroutine once the callback returns.
func (s *subscriber) deliver(n notification) {
	s.lock.Lock()
	if s.closed || n.version <= s.latest {
		s.lock.Unlock()
		return
	}
	s.latest = n.version
	s.next = &n
	if s.delivering {
		s.lock.Unlock()
		return
	}

	s.delivering = true
	for s.next != nil && !s.closed {
		current := *s.next
		s.next = nil
		s.lock.Unlock()
		s.callback(current.state, current.err)
		s.lock.Lock()
	}
	s.next = nil
	s.delivering = false
	s.lock.Unlock()
}

func (s *subscriber) close() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.closed = true
}
