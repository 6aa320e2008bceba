package clock

import (
	"errors"
	"sync"
	"time"

	"github.com/karchx/randomchess/internal/domain"
)

var ErrNotActive = errors.New("color is not on the move")

// Manager tracks both side budgets for one game. Remaining time is
// derived from the stored budget and the wall clock; only a commit
// (Punch) writes a deduction back.
type Manager struct {
	mu         sync.Mutex
	now        func() time.Time
	stored     map[domain.Color]time.Duration
	moved      map[domain.Color]bool
	lastMoveAt time.Time
	active     domain.Color
}

// State is a persistable snapshot of the manager.
type State struct {
	WhiteRemaining time.Duration
	BlackRemaining time.Duration
	LastMoveAt     time.Time
	Active         domain.Color
}

func New(limit time.Duration, now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{
		now:    now,
		stored: map[domain.Color]time.Duration{domain.White: limit, domain.Black: limit},
		moved:  map[domain.Color]bool{},
		active: domain.White,
	}
}

// Restore rebuilds a manager from persisted budgets. ply is the number
// of committed half moves and decides the first-move exemptions.
func Restore(white, black time.Duration, lastMoveAt time.Time, active domain.Color, ply int, now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{
		now:        now,
		stored:     map[domain.Color]time.Duration{domain.White: white, domain.Black: black},
		moved:      map[domain.Color]bool{domain.White: ply >= 1, domain.Black: ply >= 2},
		lastMoveAt: lastMoveAt,
		active:     active,
	}
}

// Remaining derives the visible remaining time for a color. Only the
// side on the move loses derived time; the other side is frozen.
func (m *Manager) Remaining(c domain.Color) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remainingLocked(c)
}

func (m *Manager) remainingLocked(c domain.Color) time.Duration {
	rem := m.stored[c]
	if c == m.active && m.counting(c) {
		rem -= m.now().Sub(m.lastMoveAt)
	}
	if rem < 0 {
		rem = 0
	}
	return rem
}

// counting reports whether elapsed time applies to c right now. A
// color's first move is exempt, so its clock starts only after it has
// committed once.
func (m *Manager) counting(c domain.Color) bool {
	return m.moved[c] && !m.lastMoveAt.IsZero()
}

// Punch commits a move by c: deducts the mover's elapsed time (unless
// exempt), stamps the move time, and hands the clock to the opponent.
// Returns the mover's stored remaining time after deduction.
func (m *Manager) Punch(c domain.Color) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c != m.active {
		return 0, ErrNotActive
	}
	now := m.now()
	if m.counting(c) {
		rem := m.stored[c] - now.Sub(m.lastMoveAt)
		if rem < 0 {
			rem = 0
		}
		m.stored[c] = rem
	}
	m.moved[c] = true
	m.lastMoveAt = now
	m.active = c.Opponent()
	return m.stored[c], nil
}

// TimedOut reports the color whose derived remaining time reached
// zero, if any.
func (m *Manager) TimedOut() (domain.Color, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range []domain.Color{domain.White, domain.Black} {
		if m.counting(c) || m.stored[c] == 0 {
			if m.remainingLocked(c) <= 0 {
				return c, true
			}
		}
	}
	return "", false
}

func (m *Manager) Active() domain.Color {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{
		WhiteRemaining: m.stored[domain.White],
		BlackRemaining: m.stored[domain.Black],
		LastMoveAt:     m.lastMoveAt,
		Active:         m.active,
	}
}

// RemainingMs derives a visible remaining time from stored record
// fields, for callers that keep clock state in a shared store rather
// than in a Manager.
func RemainingMs(storedMs int64, lastMoveAt time.Time, active bool, now time.Time) int64 {
	rem := storedMs
	if active && !lastMoveAt.IsZero() {
		rem -= now.Sub(lastMoveAt).Milliseconds()
	}
	if rem < 0 {
		rem = 0
	}
	return rem
}
