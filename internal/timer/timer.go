// Package timer runs per-user study countdowns on the server.
package timer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"jigaku-backend/internal/metrics"
)

const (
	DefaultMinutes = 25
	MinMinutes     = 1
	MaxMinutes     = 240
)

var ErrInvalidDuration = fmt.Errorf("duration must be between %d and %d minutes", MinMinutes, MaxMinutes)

var ErrClosed = errors.New("timer manager closed")

// Hooks receive timer side effects. They run outside the manager's lock, in
// the goroutine that caused them.
type Hooks interface {
	StatusChanged(userID uuid.UUID, studying bool)
	Completed(userID uuid.UUID, seconds int)
}

type State struct {
	DurationSeconds  int    `json:"duration_seconds"`
	RemainingSeconds int    `json:"remaining_seconds"`
	Running          bool   `json:"running"`
	Display          string `json:"display"`
}

type Options struct {
	DefaultMinutes int
	Tick           time.Duration
	Logger         *zap.Logger
	Metrics        *metrics.Metrics
}

type Manager struct {
	hooks          Hooks
	defaultSeconds int
	tick           time.Duration
	logger         *zap.Logger
	metrics        *metrics.Metrics

	mu     sync.Mutex
	timers map[uuid.UUID]*countdown
	closed bool
}

type countdown struct {
	duration  int
	remaining int
	// stop is non-nil while the countdown goroutine is live.
	stop chan struct{}
}

func (c *countdown) state() State {
	return State{
		DurationSeconds:  c.duration,
		RemainingSeconds: c.remaining,
		Running:          c.stop != nil,
		Display:          fmt.Sprintf("%02d:%02d", c.remaining/60, c.remaining%60),
	}
}

// halt must be called with the manager lock held. It reports whether the
// countdown was running.
func (c *countdown) halt() bool {
	if c.stop == nil {
		return false
	}
	close(c.stop)
	c.stop = nil
	return true
}

func NewManager(hooks Hooks, opts Options) *Manager {
	if opts.DefaultMinutes < MinMinutes || opts.DefaultMinutes > MaxMinutes {
		opts.DefaultMinutes = DefaultMinutes
	}
	if opts.Tick <= 0 {
		opts.Tick = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Manager{
		hooks:          hooks,
		defaultSeconds: opts.DefaultMinutes * 60,
		tick:           opts.Tick,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		timers:         make(map[uuid.UUID]*countdown),
	}
}

// get must be called with mu held.
func (m *Manager) get(userID uuid.UUID) *countdown {
	c, ok := m.timers[userID]
	if !ok {
		c = &countdown{duration: m.defaultSeconds, remaining: m.defaultSeconds}
		m.timers[userID] = c
	}
	return c
}

func (m *Manager) State(userID uuid.UUID) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.get(userID).state()
}

// SetDuration selects a new duration and resets the countdown to it. A
// running countdown is stopped.
func (m *Manager) SetDuration(userID uuid.UUID, minutes int) (State, error) {
	if minutes < MinMinutes || minutes > MaxMinutes {
		return State{}, ErrInvalidDuration
	}

	m.mu.Lock()
	c := m.get(userID)
	wasRunning := c.halt()
	c.duration = minutes * 60
	c.remaining = c.duration
	st := c.state()
	m.mu.Unlock()

	if wasRunning {
		m.hooks.StatusChanged(userID, false)
	}
	return st, nil
}

// Start resumes the countdown from the remaining time. Starting a running
// timer is a no-op.
func (m *Manager) Start(userID uuid.UUID) (State, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return State{}, ErrClosed
	}
	c := m.get(userID)
	if c.stop != nil {
		st := c.state()
		m.mu.Unlock()
		return st, nil
	}
	if c.remaining <= 0 {
		c.remaining = c.duration
	}
	stop := make(chan struct{})
	c.stop = stop
	st := c.state()
	m.mu.Unlock()

	m.hooks.StatusChanged(userID, true)
	go m.run(userID, c, stop)

	m.logger.Debug("timer started", zap.String("user_id", userID.String()), zap.Int("remaining", st.RemainingSeconds))
	return st, nil
}

// Stop pauses the countdown, keeping the remaining time.
func (m *Manager) Stop(userID uuid.UUID) State {
	m.mu.Lock()
	c := m.get(userID)
	wasRunning := c.halt()
	st := c.state()
	m.mu.Unlock()

	if wasRunning {
		m.hooks.StatusChanged(userID, false)
	}
	return st
}

// Finish ends the session early. The elapsed time is reported as a completed
// session when positive and the countdown is reset.
func (m *Manager) Finish(userID uuid.UUID) (State, int) {
	m.mu.Lock()
	c := m.get(userID)
	wasRunning := c.halt()
	elapsed := c.duration - c.remaining
	c.remaining = c.duration
	st := c.state()
	m.mu.Unlock()

	if wasRunning {
		m.hooks.StatusChanged(userID, false)
	}
	if elapsed > 0 {
		m.complete(userID, elapsed)
	}
	return st, elapsed
}

// Reset discards progress without recording a session.
func (m *Manager) Reset(userID uuid.UUID) State {
	m.mu.Lock()
	c := m.get(userID)
	wasRunning := c.halt()
	c.remaining = c.duration
	st := c.state()
	m.mu.Unlock()

	if wasRunning {
		m.hooks.StatusChanged(userID, false)
	}
	return st
}

// Close stops every running countdown without recording sessions.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	var stopped []uuid.UUID
	for id, c := range m.timers {
		if c.halt() {
			stopped = append(stopped, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stopped {
		m.hooks.StatusChanged(id, false)
	}
}

func (m *Manager) run(userID uuid.UUID, c *countdown, stop chan struct{}) {
	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		m.mu.Lock()
		if c.stop != stop {
			m.mu.Unlock()
			return
		}
		c.remaining--
		if c.remaining > 0 {
			m.mu.Unlock()
			continue
		}
		c.halt()
		duration := c.duration
		c.remaining = c.duration
		m.mu.Unlock()

		m.hooks.StatusChanged(userID, false)
		m.complete(userID, duration)
		return
	}
}

func (m *Manager) complete(userID uuid.UUID, seconds int) {
	m.metrics.TimerCompleted()
	m.logger.Info("study session completed", zap.String("user_id", userID.String()), zap.Int("seconds", seconds))
	m.hooks.Completed(userID, seconds)
}
