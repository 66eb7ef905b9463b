package detection

import (
	"context"
	"sync"
	"time"
)

// Status is the machine state.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusLoading  Status = "loading"
	StatusMatch    Status = "match"
	StatusNotFound Status = "not_found"
)

// Result is the current detection result. Student and Accuracy are set for
// match only; Timestamp for match and not_found. Error holds the message of
// a detector failure, after which the machine is idle again.
type Result struct {
	Status    Status     `json:"status"`
	Student   *Identity  `json:"student,omitempty"`
	Accuracy  string     `json:"accuracy,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Error     string     `json:"error,omitempty"`
}

func resultOf(o Outcome) Result {
	ts := o.Timestamp
	if !o.Matched {
		return Result{Status: StatusNotFound, Timestamp: &ts}
	}
	student := o.Student
	return Result{Status: StatusMatch, Student: &student, Accuracy: o.Accuracy, Timestamp: &ts}
}

// Snapshot is the machine state as seen by the page.
type Snapshot struct {
	Image     string `json:"image,omitempty"`
	CanDetect bool   `json:"can_detect"`
	Result
}

// CompletionHook is called after a detection reaches match or not_found.
type CompletionHook func(image string, r Result)

// Machine is the idle → loading → match|not_found state machine for one
// page instance. At most one detection is in flight.
type Machine struct {
	detector Detector
	onDone   CompletionHook

	mu     sync.Mutex
	image  string
	result Result
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

// NewMachine creates an idle machine. onDone may be nil.
func NewMachine(d Detector, onDone CompletionHook) *Machine {
	return &Machine{detector: d, onDone: onDone, result: Result{Status: StatusIdle}}
}

// SelectImage sets the image and clears any previous result.
func (m *Machine) SelectImage(image string) error {
	if image == "" {
		return ErrImageRequired
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.result.Status == StatusLoading {
		return ErrDetectionInProgress
	}
	m.image = image
	m.result = Result{Status: StatusIdle}
	return nil
}

// Detect starts a detection of the selected image and returns at once;
// the machine is loading until the detector returns.
func (m *Machine) Detect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.image == "" {
		return ErrImageRequired
	}
	if m.result.Status == StatusLoading {
		return ErrDetectionInProgress
	}

	m.gen++
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	m.result = Result{Status: StatusLoading}
	go m.run(ctx, m.gen, m.image, done)
	return nil
}

func (m *Machine) run(ctx context.Context, gen uint64, image string, done chan struct{}) {
	defer close(done)
	out, err := m.detector.Detect(ctx, image)

	m.mu.Lock()
	if gen != m.gen || m.closed {
		m.mu.Unlock()
		return
	}
	m.cancel()
	m.cancel = nil
	m.done = nil
	if err != nil {
		m.result = Result{Status: StatusIdle, Error: err.Error()}
		m.mu.Unlock()
		return
	}
	m.result = resultOf(out)
	res := m.result
	m.mu.Unlock()

	if m.onDone != nil {
		m.onDone(image, res)
	}
}

// Reset returns to idle and clears the image, cancelling a detection in
// flight.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
	m.image = ""
	m.result = Result{Status: StatusIdle}
}

// Close cancels any detection in flight and drops the image; later calls
// fail with ErrClosed.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
	m.image = ""
	m.closed = true
}

func (m *Machine) stopLocked() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.done = nil
	m.gen++
}

// Snapshot returns the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Machine) snapshotLocked() Snapshot {
	return Snapshot{
		Image:     m.image,
		CanDetect: !m.closed && m.image != "" && m.result.Status != StatusLoading,
		Result:    m.result,
	}
}

// Wait blocks until no detection is loading or ctx ends.
func (m *Machine) Wait(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return m.Snapshot(), ctx.Err()
		}
	}
	return m.Snapshot(), nil
}
