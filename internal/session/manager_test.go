package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/karchx/randomchess/internal/card"
	"github.com/karchx/randomchess/internal/domain"
	"github.com/karchx/randomchess/internal/turn"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewManagerWithClient(rdb)
}

func startedSession(t *testing.T, m *Manager) string {
	t.Helper()
	ctx := context.Background()
	id, err := m.Create(ctx, 5*time.Minute)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := m.ClaimSeat(ctx, id, domain.White, "alice", "Alice"); err != nil {
		t.Fatalf("claim white: %v", err)
	}
	if err := m.ClaimSeat(ctx, id, domain.Black, "bob", "Bob"); err != nil {
		t.Fatalf("claim black: %v", err)
	}
	if err := m.Arrive(ctx, id, domain.White, "alice"); err != nil {
		t.Fatalf("arrive white: %v", err)
	}
	if err := m.Arrive(ctx, id, domain.Black, "bob"); err != nil {
		t.Fatalf("arrive black: %v", err)
	}
	return id
}

func record(index int, c domain.Color, uci, san string) turn.MoveRecord {
	return turn.MoveRecord{
		MoveIndex: index,
		Color:     c,
		UCI:       uci,
		SAN:       san,
		Card:      card.Any,
	}
}

func TestCreateAndLoad(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id, err := m.Create(ctx, 3*time.Minute)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	snap, err := m.Load(ctx, id)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if snap.State.Status != domain.StatusWaiting {
		t.Fatalf("status = %q, want waiting", snap.State.Status)
	}
	if snap.State.WhiteTimeLeftMs != 180000 || snap.State.BlackTimeLeftMs != 180000 {
		t.Fatalf("clocks = %d/%d, want 180000 each",
			snap.State.WhiteTimeLeftMs, snap.State.BlackTimeLeftMs)
	}
	if snap.Moves.FEN == "" {
		t.Fatal("initial FEN must be set")
	}
}

func TestLoadMissingSession(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.Load(context.Background(), "nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestSeatClaimConflictAndReconnect(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	id, err := m.Create(ctx, time.Minute)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := m.ClaimSeat(ctx, id, domain.White, "alice", "Alice"); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := m.ClaimSeat(ctx, id, domain.White, "mallory", "Mallory"); !errors.Is(err, ErrSeatTaken) {
		t.Fatalf("err = %v, want ErrSeatTaken", err)
	}
	// Same player reclaiming the seat is a reconnect, not a conflict.
	if err := m.ClaimSeat(ctx, id, domain.White, "alice", "Alice"); err != nil {
		t.Fatalf("reclaim: %v", err)
	}

	snap, err := m.Load(ctx, id)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if snap.Seats.WhiteID != "alice" || snap.Seats.WhiteName != "Alice" {
		t.Fatalf("white seat = %q/%q", snap.Seats.WhiteID, snap.Seats.WhiteName)
	}
	if len(snap.Seats.Participants) != 1 {
		t.Fatalf("participants = %v, want just alice", snap.Seats.Participants)
	}
}

func TestBothArrivalsStartTheGame(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	id := startedSession(t, m)

	snap, err := m.Load(ctx, id)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if snap.State.Status != domain.StatusPlaying {
		t.Fatalf("status = %q, want playing", snap.State.Status)
	}

	if err := m.Arrive(ctx, id, domain.White, "mallory"); !errors.Is(err, ErrNotSeated) {
		t.Fatalf("err = %v, want ErrNotSeated", err)
	}
}

func TestSetFirstCardOnlyOnce(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	id := startedSession(t, m)

	if err := m.SetFirstCard(ctx, id, card.Piece('N')); err != nil {
		t.Fatalf("first set: %v", err)
	}
	if err := m.SetFirstCard(ctx, id, card.Pawn); err != nil {
		t.Fatalf("second set: %v", err)
	}

	snap, _ := m.Load(ctx, id)
	if snap.State.FirstCard == nil || snap.State.FirstCard.Kind != card.KindPiece {
		t.Fatalf("first card = %v, want the first write to stick", snap.State.FirstCard)
	}
}

func TestAppendMoveDedupAndGap(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	id := startedSession(t, m)

	applied, err := m.AppendMove(ctx, id, record(1, domain.White, "e2e4", "e4"), "fen1", "1. e4")
	if err != nil || !applied {
		t.Fatalf("append = %v/%v, want applied", applied, err)
	}

	// A replayed index is absorbed without error.
	applied, err = m.AppendMove(ctx, id, record(1, domain.White, "e2e4", "e4"), "fen1", "1. e4")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if applied {
		t.Fatal("replayed move must not apply twice")
	}

	if _, err := m.AppendMove(ctx, id, record(3, domain.White, "d2d4", "d4"), "fen3", ""); !errors.Is(err, ErrMoveGap) {
		t.Fatalf("err = %v, want ErrMoveGap", err)
	}
	if _, err := m.AppendMove(ctx, id, record(2, domain.White, "d2d4", "d4"), "fen2", ""); !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("err = %v, want ErrNotYourTurn", err)
	}

	snap, _ := m.Load(ctx, id)
	if len(snap.Moves.Moves) != 1 || snap.State.Ply != 1 {
		t.Fatalf("moves=%d ply=%d, want 1/1", len(snap.Moves.Moves), snap.State.Ply)
	}
	if snap.Moves.FEN != "fen1" {
		t.Fatalf("fen = %q", snap.Moves.FEN)
	}
}

func TestAppendMoveDeductsClockAfterFirstMoves(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.SetNowFunc(func() time.Time { return now })

	id := startedSession(t, m)

	// First move per color is exempt even with time passing.
	now = now.Add(30 * time.Second)
	if _, err := m.AppendMove(ctx, id, record(1, domain.White, "e2e4", "e4"), "f1", ""); err != nil {
		t.Fatalf("move 1: %v", err)
	}
	now = now.Add(40 * time.Second)
	if _, err := m.AppendMove(ctx, id, record(2, domain.Black, "e7e5", "e5"), "f2", ""); err != nil {
		t.Fatalf("move 2: %v", err)
	}

	snap, _ := m.Load(ctx, id)
	if snap.State.WhiteTimeLeftMs != 300000 || snap.State.BlackTimeLeftMs != 300000 {
		t.Fatalf("clocks after exempt moves = %d/%d, want untouched",
			snap.State.WhiteTimeLeftMs, snap.State.BlackTimeLeftMs)
	}

	// From the second move on, the mover pays for thinking time.
	now = now.Add(12 * time.Second)
	if _, err := m.AppendMove(ctx, id, record(3, domain.White, "g1f3", "Nf3"), "f3", ""); err != nil {
		t.Fatalf("move 3: %v", err)
	}
	snap, _ = m.Load(ctx, id)
	if snap.State.WhiteTimeLeftMs != 288000 {
		t.Fatalf("white clock = %d, want 288000", snap.State.WhiteTimeLeftMs)
	}
	if snap.State.BlackTimeLeftMs != 300000 {
		t.Fatalf("black clock = %d, must not move", snap.State.BlackTimeLeftMs)
	}
}

func TestDrawOfferFlow(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	id := startedSession(t, m)

	if err := m.AnswerDraw(ctx, id, false); !errors.Is(err, ErrNoOffer) {
		t.Fatalf("err = %v, want ErrNoOffer", err)
	}
	if err := m.OfferDraw(ctx, id, domain.White); err != nil {
		t.Fatalf("offer: %v", err)
	}
	if err := m.OfferDraw(ctx, id, domain.Black); !errors.Is(err, ErrOfferPending) {
		t.Fatalf("err = %v, want ErrOfferPending", err)
	}

	// The offer survives the offering side's own move.
	if _, err := m.AppendMove(ctx, id, record(1, domain.White, "e2e4", "e4"), "f1", ""); err != nil {
		t.Fatalf("move: %v", err)
	}
	snap, _ := m.Load(ctx, id)
	if snap.State.DrawOffer == nil || snap.State.DrawOffer.By != domain.White {
		t.Fatalf("offer = %v, must survive the mover's move", snap.State.DrawOffer)
	}

	if err := m.AnswerDraw(ctx, id, false); err != nil {
		t.Fatalf("decline: %v", err)
	}
	snap, _ = m.Load(ctx, id)
	if snap.State.DrawOffer != nil {
		t.Fatal("declined offer must clear")
	}

	if err := m.OfferDraw(ctx, id, domain.Black); err != nil {
		t.Fatalf("reoffer: %v", err)
	}
	if err := m.AnswerDraw(ctx, id, true); err != nil {
		t.Fatalf("accept: %v", err)
	}
	snap, _ = m.Load(ctx, id)
	if snap.State.Status != domain.StatusFinished || snap.State.Winner != nil || snap.State.Reason != domain.ReasonAgreement {
		t.Fatalf("state after accept = %+v", snap.State)
	}
}

func TestAcceptWithoutOfferRejected(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	id := startedSession(t, m)

	if err := m.AnswerDraw(ctx, id, true); !errors.Is(err, ErrNoOffer) {
		t.Fatalf("err = %v, want ErrNoOffer", err)
	}
	snap, _ := m.Load(ctx, id)
	if snap.State.Status != domain.StatusPlaying {
		t.Fatalf("status = %q, accept without offer must not finish", snap.State.Status)
	}
	if snap.State.Reason != "" || snap.State.Winner != nil {
		t.Fatalf("result written without offer: %+v", snap.State)
	}
}

func TestFinishRejectsMismatchedResult(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	id := startedSession(t, m)

	if _, err := m.Finish(ctx, id, domain.WinnerOf(domain.White), domain.ReasonAgreement); !errors.Is(err, ErrBadResult) {
		t.Fatalf("err = %v, want ErrBadResult for winner on a draw reason", err)
	}
	if _, err := m.Finish(ctx, id, nil, domain.ReasonResign); !errors.Is(err, ErrBadResult) {
		t.Fatalf("err = %v, want ErrBadResult for resign without winner", err)
	}
	snap, _ := m.Load(ctx, id)
	if snap.State.Status != domain.StatusPlaying {
		t.Fatalf("status = %q, invalid results must not finish", snap.State.Status)
	}
}

func TestResignAndFinishIdempotence(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	id := startedSession(t, m)

	if err := m.Resign(ctx, id, domain.Black); err != nil {
		t.Fatalf("resign: %v", err)
	}
	snap, _ := m.Load(ctx, id)
	if snap.State.Winner == nil || *snap.State.Winner != domain.White || snap.State.Reason != domain.ReasonResign {
		t.Fatalf("state after resign = %+v", snap.State)
	}

	// A racing finish loses to the one already recorded.
	did, err := m.Finish(ctx, id, domain.WinnerOf(domain.Black), domain.ReasonTimeout)
	if err != nil {
		t.Fatalf("second finish: %v", err)
	}
	if did {
		t.Fatal("second finish must be a no-op")
	}
	snap, _ = m.Load(ctx, id)
	if *snap.State.Winner != domain.White || snap.State.Reason != domain.ReasonResign {
		t.Fatalf("finished state overwritten: %+v", snap.State)
	}

	if _, err := m.AppendMove(ctx, id, record(1, domain.White, "e2e4", "e4"), "f1", ""); !errors.Is(err, ErrNotPlaying) {
		t.Fatalf("err = %v, want ErrNotPlaying", err)
	}
}

func TestCheckTimeout(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.SetNowFunc(func() time.Time { return now })

	id := startedSession(t, m)

	// No moves yet: white's first move never times out.
	now = now.Add(time.Hour)
	if fired, err := m.CheckTimeout(ctx, id); err != nil || fired {
		t.Fatalf("timeout before any move = %v/%v", fired, err)
	}

	if _, err := m.AppendMove(ctx, id, record(1, domain.White, "e2e4", "e4"), "f1", ""); err != nil {
		t.Fatalf("move 1: %v", err)
	}
	// Black's first move is exempt too.
	now = now.Add(time.Hour)
	if fired, err := m.CheckTimeout(ctx, id); err != nil || fired {
		t.Fatalf("timeout on black's first move = %v/%v", fired, err)
	}
	if _, err := m.AppendMove(ctx, id, record(2, domain.Black, "e7e5", "e5"), "f2", ""); err != nil {
		t.Fatalf("move 2: %v", err)
	}

	now = now.Add(10 * time.Second)
	if fired, err := m.CheckTimeout(ctx, id); err != nil || fired {
		t.Fatalf("timeout with time left = %v/%v", fired, err)
	}

	now = now.Add(6 * time.Minute)
	fired, err := m.CheckTimeout(ctx, id)
	if err != nil || !fired {
		t.Fatalf("timeout = %v/%v, want fired", fired, err)
	}
	snap, _ := m.Load(ctx, id)
	if snap.State.Winner == nil || *snap.State.Winner != domain.Black || snap.State.Reason != domain.ReasonTimeout {
		t.Fatalf("state after timeout = %+v", snap.State)
	}
}

func TestUnreadCounters(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	id := startedSession(t, m)

	if n, err := m.Unread(ctx, id, "bob"); err != nil || n != 0 {
		t.Fatalf("unread = %d/%v, want 0", n, err)
	}
	if n, err := m.BumpUnread(ctx, id, "bob"); err != nil || n != 1 {
		t.Fatalf("bump = %d/%v, want 1", n, err)
	}
	if n, err := m.BumpUnread(ctx, id, "bob"); err != nil || n != 2 {
		t.Fatalf("bump = %d/%v, want 2", n, err)
	}
	if err := m.ClearUnread(ctx, id, "bob"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if n, err := m.Unread(ctx, id, "bob"); err != nil || n != 0 {
		t.Fatalf("unread after clear = %d/%v, want 0", n, err)
	}
}

func TestSubscribeDeliversUpdates(t *testing.T) {
	m := newTestManager(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	id := startedSession(t, m)
	updates, stop := m.Subscribe(ctx, id)
	defer stop()

	if err := m.OfferDraw(ctx, id, domain.White); err != nil {
		t.Fatalf("offer: %v", err)
	}

	select {
	case u := <-updates:
		if u.SessionID != id || u.Record != RecordState {
			t.Fatalf("update = %+v", u)
		}
	case <-ctx.Done():
		t.Fatal("no update received")
	}
}
