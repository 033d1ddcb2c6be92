package session

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultIdleTimeout is how long a session survives without a successful exchange.
	DefaultIdleTimeout = 5 * time.Minute
	// DefaultTick is the idle countdown resolution.
	DefaultTick = time.Second
)

var (
	ErrNoSession    = errors.New("no active session")
	ErrSessionEnded = errors.New("session has ended")
)

// Options configures a Manager.
type Options struct {
	IdleTimeout time.Duration // defaults to DefaultIdleTimeout
	Tick        time.Duration // defaults to DefaultTick
	Logger      *slog.Logger

	// OnTick is called after every countdown step with the time left.
	OnTick func(remaining time.Duration)
	// OnEnd receives a copy of the session as it was right before it was cleared.
	OnEnd func(ended Session, reason EndReason)
}

// idleTimer is the countdown goroutine handle of one session. Closing stop
// ends the goroutine; a timer is live only while it is Manager.timer.
type idleTimer struct {
	stop chan struct{}
}

// Manager owns the single client session: login state, idle countdown and
// message history. All hooks run outside the lock.
type Manager struct {
	timeout time.Duration
	tick    time.Duration
	logger  *slog.Logger
	onTick  func(time.Duration)
	onEnd   func(Session, EndReason)

	mu    sync.Mutex
	sess  Session
	timer *idleTimer

	// hookMu orders hook calls: no tick is delivered after the end of the
	// session it belongs to. Hooks must not call back into the Manager.
	hookMu sync.Mutex
}

// NewManager creates a Manager with no active session.
func NewManager(opts Options) *Manager {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		timeout: opts.IdleTimeout,
		tick:    opts.Tick,
		logger:  opts.Logger,
		onTick:  opts.OnTick,
		onEnd:   opts.OnEnd,
	}
}

// Timeout returns the full idle timeout.
func (m *Manager) Timeout() time.Duration {
	return m.timeout
}

// Start opens a session for name. The name is validated by the caller. A
// session that is already active is ended first.
func (m *Manager) Start(name string) Session {
	m.mu.Lock()
	var (
		prev    Session
		hadPrev bool
	)
	if m.sess.Active {
		prev, hadPrev = m.clearLocked(), true
	}
	m.sess = Session{
		ID:        uuid.NewString(),
		Username:  name,
		Active:    true,
		Remaining: m.timeout,
		StartTime: time.Now(),
		Messages:  []Message{},
	}
	m.restartTimerLocked()
	started := m.sess.clone()
	m.mu.Unlock()

	if hadPrev {
		m.ended(prev, ReasonLogout)
	}
	m.logger.Info("session started", "session_id", started.ID, "username", name, "timeout", m.timeout)
	return started
}

// End clears the session and cancels its idle timer. Ending an inactive
// session does nothing.
func (m *Manager) End() {
	m.mu.Lock()
	if !m.sess.Active {
		m.mu.Unlock()
		return
	}
	ended := m.clearLocked()
	m.mu.Unlock()

	m.ended(ended, ReasonLogout)
}

// ResetIdleTimer restarts the countdown from the full timeout.
func (m *Manager) ResetIdleTimer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.sess.Active {
		return
	}
	m.sess.Remaining = m.timeout
	m.restartTimerLocked()
}

// Append adds msg to the history of the session identified by id.
func (m *Manager) Append(id string, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.sess.Active {
		return ErrNoSession
	}
	if m.sess.ID != id {
		return ErrSessionEnded
	}
	m.sess.Messages = append(m.sess.Messages, msg)
	return nil
}

// Snapshot returns a copy of the current session.
func (m *Manager) Snapshot() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess.clone()
}

// Active reports whether a session is open.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess.Active
}

// Remaining returns the time left before the session expires.
func (m *Manager) Remaining() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess.Remaining
}

// clearLocked stops the timer and resets the session, returning what was cleared.
func (m *Manager) clearLocked() Session {
	ended := m.sess.clone()
	if m.timer != nil {
		close(m.timer.stop)
		m.timer = nil
	}
	m.sess = Session{}
	return ended
}

func (m *Manager) restartTimerLocked() {
	if m.timer != nil {
		close(m.timer.stop)
	}
	t := &idleTimer{stop: make(chan struct{})}
	m.timer = t
	go m.runTimer(t)
}

func (m *Manager) runTimer(t *idleTimer) {
	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			if done := m.countdown(t); done {
				return
			}
		}
	}
}

// countdown advances t by one tick. It reports true once t is no longer the
// live timer, which happens at most once per session through expiry.
func (m *Manager) countdown(t *idleTimer) bool {
	m.mu.Lock()
	if m.timer != t {
		m.mu.Unlock()
		return true
	}
	m.sess.Remaining -= m.tick
	if m.sess.Remaining > 0 {
		remaining := m.sess.Remaining
		m.mu.Unlock()
		m.notifyTick(t, remaining)
		return false
	}
	m.sess.Remaining = 0
	ended := m.clearLocked()
	m.mu.Unlock()

	m.ended(ended, ReasonTimeout)
	return true
}

// notifyTick delivers a tick unless t stopped being the live timer after
// the countdown step, in which case the session may already have ended.
func (m *Manager) notifyTick(t *idleTimer, remaining time.Duration) {
	if m.onTick == nil {
		return
	}
	m.hookMu.Lock()
	defer m.hookMu.Unlock()

	m.mu.Lock()
	live := m.timer == t
	m.mu.Unlock()
	if live {
		m.onTick(remaining)
	}
}

func (m *Manager) ended(s Session, reason EndReason) {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()

	m.logger.Info("session ended",
		"session_id", s.ID,
		"username", s.Username,
		"reason", string(reason),
		"message_count", len(s.Messages))
	if m.onEnd != nil {
		m.onEnd(s, reason)
	}
}
