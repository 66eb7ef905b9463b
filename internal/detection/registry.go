package detection

import (
	"sync"
	"time"
)

// Registry holds one Machine per login session. A machine lives until the
// session's last token expires; expired machines are closed on the next
// Get or Sweep. Closed session ids are remembered until that same expiry
// so a late request cannot bring the machine back.
type Registry struct {
	detector Detector
	onDone   func(sessionID, image string, r Result)

	// Clock is used to expire sessions; nil means time.Now.
	Clock func() time.Time

	mu       sync.Mutex
	machines map[string]*entry
	closed   map[string]time.Time
}

type entry struct {
	m     *Machine
	until time.Time
}

// NewRegistry creates machines on demand around d. onDone may be nil.
func NewRegistry(d Detector, onDone func(sessionID, image string, r Result)) *Registry {
	return &Registry{
		detector: d,
		onDone:   onDone,
		machines: make(map[string]*entry),
		closed:   make(map[string]time.Time),
	}
}

func (r *Registry) now() time.Time {
	if r.Clock != nil {
		return r.Clock()
	}
	return time.Now()
}

// Get returns the machine for a session, creating it if needed, and keeps
// it alive until at least until. It fails with ErrClosed for a session
// that was closed.
func (r *Registry) Get(sessionID string, until time.Time) (*Machine, error) {
	r.mu.Lock()
	expired := r.sweepLocked(r.now())
	defer func() {
		r.mu.Unlock()
		closeAll(expired)
	}()

	if _, ok := r.closed[sessionID]; ok {
		return nil, ErrClosed
	}
	if e, ok := r.machines[sessionID]; ok {
		if until.After(e.until) {
			e.until = until
		}
		return e.m, nil
	}
	var hook CompletionHook
	if r.onDone != nil {
		hook = func(image string, res Result) { r.onDone(sessionID, image, res) }
	}
	m := NewMachine(r.detector, hook)
	r.machines[sessionID] = &entry{m: m, until: until}
	return m, nil
}

// Close closes and forgets the machine of a session; Get refuses the id
// until the given time.
func (r *Registry) Close(sessionID string, until time.Time) {
	r.mu.Lock()
	e, ok := r.machines[sessionID]
	delete(r.machines, sessionID)
	r.closed[sessionID] = until
	r.mu.Unlock()
	if ok {
		e.m.Close()
	}
}

// Sweep closes the machines of expired sessions and returns how many.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	expired := r.sweepLocked(r.now())
	r.mu.Unlock()
	closeAll(expired)
	return len(expired)
}

func (r *Registry) sweepLocked(now time.Time) []*Machine {
	var expired []*Machine
	for id, e := range r.machines {
		if now.After(e.until) {
			expired = append(expired, e.m)
			delete(r.machines, id)
		}
	}
	for id, until := range r.closed {
		if now.After(until) {
			delete(r.closed, id)
		}
	}
	return expired
}

func closeAll(ms []*Machine) {
	for _, m := range ms {
		m.Close()
	}
}

// CloseAll closes every machine.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	machines := r.machines
	r.machines = make(map[string]*entry)
	r.mu.Unlock()
	for _, e := range machines {
		e.m.Close()
	}
}

// Len returns the number of live machines.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.machines)
}
