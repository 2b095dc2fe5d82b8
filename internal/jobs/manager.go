package jobs

import (
	"errors"
	"fmt"
	"sync"

	"carbalite/internal/domain"
	"carbalite/internal/failure"
	"carbalite/internal/progress"
)

// ErrRunInFlight is returned when starting a second active run.
var ErrRunInFlight = errors.New("run already in flight")

// ErrResetWhileRunning is returned when reset is requested mid-run.
var ErrResetWhileRunning = errors.New("cannot reset while a run is in flight")

// ErrNoRunningJob is returned when abandon is requested for idle state.
var ErrNoRunningJob = errors.New("no running job")

// ErrStaleGeneration is returned for writes from a run that was reset or abandoned.
var ErrStaleGeneration = errors.New("stale run generation")

// Manager owns the single ProcessingState and every transition applied to it.
// Writes carry the generation returned by Begin; writes from older runs are
// dropped with ErrStaleGeneration.
type Manager struct {
	mu      sync.RWMutex
	current domain.ProcessingState
	tracker progress.Tracker

	// notifyMu keeps observer calls in commit order without holding mu.
	notifyMu sync.Mutex
	observer func(domain.ProcessingState)
}

// NewManager creates a manager in idle state.
func NewManager() *Manager {
	return &Manager{
		current: domain.ProcessingState{Stage: domain.StageIdle},
	}
}

// SetObserver registers fn to receive a snapshot after every committed change.
func (m *Manager) SetObserver(fn func(domain.ProcessingState)) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	m.observer = fn
}

// Begin starts a new run in the Validating stage and returns its generation.
func (m *Manager) Begin(message string) (uint64, error) {
	m.mu.Lock()
	if m.current.Stage.IsActive() {
		m.mu.Unlock()
		return 0, ErrRunInFlight
	}

	m.tracker.Reset()
	m.current = domain.ProcessingState{
		Stage:      domain.StageValidating,
		Progress:   m.tracker.Observe(domain.StageValidating, 0),
		Message:    message,
		Generation: m.current.Generation + 1,
	}
	gen := m.current.Generation
	m.commitLocked()
	return gen, nil
}

// Apply runs fn against the live state of generation gen. fn may edit any
// descriptive field; stage and progress are owned by the helpers below.
func (m *Manager) Apply(gen uint64, fn func(state *domain.ProcessingState)) error {
	m.mu.Lock()
	if err := m.checkLocked(gen); err != nil {
		m.mu.Unlock()
		return err
	}

	stage, pct := m.current.Stage, m.current.Progress
	fn(&m.current)
	m.current.Stage, m.current.Progress, m.current.Generation = stage, pct, gen
	m.commitLocked()
	return nil
}

// Transition moves run gen into stage with a status message.
func (m *Manager) Transition(gen uint64, stage domain.Stage, message string) error {
	m.mu.Lock()
	if err := m.checkLocked(gen); err != nil {
		m.mu.Unlock()
		return err
	}
	if stage == domain.StageError {
		m.mu.Unlock()
		return fmt.Errorf("use Fail to enter the %s stage", stage)
	}
	if stage != m.current.Stage && !isValidTransition(m.current.Stage, stage) {
		from := m.current.Stage
		m.mu.Unlock()
		return fmt.Errorf("invalid transition: %s -> %s", from, stage)
	}

	m.current.Stage = stage
	m.current.Message = message
	m.current.Progress = m.tracker.Observe(stage, 0)
	m.commitLocked()
	return nil
}

// Progress records a 0..1 fraction of the current stage. An empty message
// keeps the previous one.
func (m *Manager) Progress(gen uint64, fraction float64, message string) error {
	m.mu.Lock()
	if err := m.checkLocked(gen); err != nil {
		m.mu.Unlock()
		return err
	}

	pct := m.tracker.Observe(m.current.Stage, fraction)
	if pct == m.current.Progress && (message == "" || message == m.current.Message) {
		m.mu.Unlock()
		return nil
	}
	m.current.Progress = pct
	if message != "" {
		m.current.Message = message
	}
	m.commitLocked()
	return nil
}

// Complete moves run gen from Converting to Completed.
func (m *Manager) Complete(gen uint64, filename, message string) error {
	m.mu.Lock()
	if err := m.checkLocked(gen); err != nil {
		m.mu.Unlock()
		return err
	}
	if !isValidTransition(m.current.Stage, domain.StageCompleted) {
		from := m.current.Stage
		m.mu.Unlock()
		return fmt.Errorf("invalid transition: %s -> %s", from, domain.StageCompleted)
	}

	m.current.Stage = domain.StageCompleted
	m.current.Message = message
	m.current.Filename = filename
	m.current.Progress = m.tracker.Observe(domain.StageCompleted, 1)
	m.commitLocked()
	return nil
}

// Fail moves run gen to Error, keeping the failing stage and the error's
// taxonomy tag. Progress stays where the run stopped.
func (m *Manager) Fail(gen uint64, err error) error {
	m.mu.Lock()
	if cerr := m.checkLocked(gen); cerr != nil {
		m.mu.Unlock()
		return cerr
	}

	m.failLocked(failure.KindOf(err), failure.Message(err))
	m.commitLocked()
	return nil
}

// Abandon cancels the active run: it enters Error with a cancelled tag and
// the generation advances so the run's late writes are dropped.
func (m *Manager) Abandon() (uint64, error) {
	m.mu.Lock()
	if !m.current.Stage.IsActive() {
		m.mu.Unlock()
		return 0, ErrNoRunningJob
	}

	abandoned := m.current.Generation
	m.failLocked(failure.KindCancelled, "cancelled")
	m.current.Generation++
	m.commitLocked()
	return abandoned, nil
}

// Reset returns a finished manager to Idle and advances the generation.
func (m *Manager) Reset() error {
	m.mu.Lock()
	if m.current.Stage.IsActive() {
		m.mu.Unlock()
		return ErrResetWhileRunning
	}

	m.tracker.Reset()
	m.current = domain.ProcessingState{
		Stage:      domain.StageIdle,
		Generation: m.current.Generation + 1,
	}
	m.commitLocked()
	return nil
}

// Current returns a snapshot of the current state.
func (m *Manager) Current() domain.ProcessingState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Clone()
}

// Generation returns the generation of the current or most recent run.
func (m *Manager) Generation() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Generation
}

// IsRunning reports whether the current state is an active stage.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Stage.IsActive()
}

// checkLocked rejects writes from other generations and finished runs.
func (m *Manager) checkLocked(gen uint64) error {
	if gen != m.current.Generation || !m.current.Stage.IsActive() {
		return ErrStaleGeneration
	}
	return nil
}

func (m *Manager) failLocked(kind failure.Kind, message string) {
	m.current.Error = &domain.StateError{
		Kind:    string(kind),
		Stage:   m.current.Stage,
		Message: message,
	}
	m.current.Stage = domain.StageError
	m.current.Message = message
}

// commitLocked publishes the new state and releases mu. Observers run in
// commit order and may call back into the manager.
func (m *Manager) commitLocked() {
	snapshot := m.current.Clone()
	m.notifyMu.Lock()
	m.mu.Unlock()
	defer m.notifyMu.Unlock()

	if m.observer != nil {
		m.observer(snapshot)
	}
}

// isValidTransition enforces the forward-only run state machine. Error is
// reachable from every active stage through Fail.
func isValidTransition(from, to domain.Stage) bool {
	switch from {
	case domain.StageIdle:
		return to == domain.StageValidating
	case domain.StageValidating:
		return to == domain.StageExtracting
	case domain.StageExtracting:
		return to == domain.StageDownloading
	case domain.StageDownloading:
		return to == domain.StageConverting
	case domain.StageConverting:
		return to == domain.StageCompleted
	case domain.StageCompleted, domain.StageError:
		return to == domain.StageValidating || to == domain.StageIdle
	default:
		return false
	}
}
