package clock

import (
	"testing"
	"time"

	"github.com/karchx/randomchess/internal/domain"
)

type fakeClock struct{ t time.Time }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func TestFirstMovePerColorIsExempt(t *testing.T) {
	fc := newFakeClock()
	m := New(time.Minute, fc.now)

	fc.advance(30 * time.Second)
	rem, err := m.Punch(domain.White)
	if err != nil {
		t.Fatalf("punch white: %v", err)
	}
	if rem != time.Minute {
		t.Fatalf("white first move should be exempt, got %v", rem)
	}

	fc.advance(20 * time.Second)
	rem, err = m.Punch(domain.Black)
	if err != nil {
		t.Fatalf("punch black: %v", err)
	}
	if rem != time.Minute {
		t.Fatalf("black first move should be exempt, got %v", rem)
	}
}

func TestDeductsMoverElapsedOnPunch(t *testing.T) {
	fc := newFakeClock()
	m := New(time.Minute, fc.now)

	if _, err := m.Punch(domain.White); err != nil {
		t.Fatalf("punch: %v", err)
	}
	if _, err := m.Punch(domain.Black); err != nil {
		t.Fatalf("punch: %v", err)
	}

	fc.advance(7 * time.Second)
	rem, err := m.Punch(domain.White)
	if err != nil {
		t.Fatalf("punch: %v", err)
	}
	if rem != 53*time.Second {
		t.Fatalf("white remaining: got %v, want 53s", rem)
	}
}

func TestOnlyActiveSideLosesDerivedTime(t *testing.T) {
	fc := newFakeClock()
	m := New(time.Minute, fc.now)
	m.Punch(domain.White)
	m.Punch(domain.Black)

	// White is on the move and has moved before, so its derived
	// remaining time shrinks; black is frozen.
	fc.advance(10 * time.Second)
	if got := m.Remaining(domain.White); got != 50*time.Second {
		t.Fatalf("active remaining: got %v, want 50s", got)
	}
	if got := m.Remaining(domain.Black); got != time.Minute {
		t.Fatalf("inactive side must be frozen, got %v", got)
	}

	before := m.Remaining(domain.White)
	fc.advance(5 * time.Second)
	if after := m.Remaining(domain.White); after > before {
		t.Fatalf("remaining time went up: %v -> %v", before, after)
	}
}

func TestFloorsAtZeroAndDetectsTimeout(t *testing.T) {
	fc := newFakeClock()
	m := New(10*time.Second, fc.now)
	m.Punch(domain.White)
	m.Punch(domain.Black)

	fc.advance(time.Hour)
	if got := m.Remaining(domain.White); got != 0 {
		t.Fatalf("remaining must floor at zero, got %v", got)
	}
	loser, ok := m.TimedOut()
	if !ok || loser != domain.White {
		t.Fatalf("expected white timeout, got %v ok=%v", loser, ok)
	}
}

func TestPunchOutOfTurnRejected(t *testing.T) {
	m := New(time.Minute, newFakeClock().now)
	if _, err := m.Punch(domain.Black); err != ErrNotActive {
		t.Fatalf("expected ErrNotActive, got %v", err)
	}
}

func TestRestoreResumesExemptions(t *testing.T) {
	fc := newFakeClock()
	m := Restore(40*time.Second, 55*time.Second, fc.t, domain.Black, 1, fc.now)

	// Black has not moved yet (ply 1), so its clock is still exempt.
	fc.advance(20 * time.Second)
	if got := m.Remaining(domain.Black); got != 55*time.Second {
		t.Fatalf("black should be exempt before its first move, got %v", got)
	}
	rem, err := m.Punch(domain.Black)
	if err != nil {
		t.Fatalf("punch: %v", err)
	}
	if rem != 55*time.Second {
		t.Fatalf("exempt punch should not deduct, got %v", rem)
	}

	// Now white (ply >= 1) pays for its thinking time.
	fc.advance(10 * time.Second)
	rem, err = m.Punch(domain.White)
	if err != nil {
		t.Fatalf("punch: %v", err)
	}
	if rem != 30*time.Second {
		t.Fatalf("white remaining: got %v, want 30s", rem)
	}
}

func TestRemainingMsDerivation(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 30, 0, time.UTC)
	last := now.Add(-10 * time.Second)

	if got := RemainingMs(60_000, last, true, now); got != 50_000 {
		t.Fatalf("active derivation: got %d, want 50000", got)
	}
	if got := RemainingMs(60_000, last, false, now); got != 60_000 {
		t.Fatalf("inactive must be frozen: got %d", got)
	}
	if got := RemainingMs(5_000, last, true, now); got != 0 {
		t.Fatalf("must floor at zero: got %d", got)
	}
	if got := RemainingMs(60_000, time.Time{}, true, now); got != 60_000 {
		t.Fatalf("zero last-move time means no derivation: got %d", got)
	}
}
