package turn

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/karchx/randomchess/internal/card"
	"github.com/karchx/randomchess/internal/domain"
)

func testDeck() *card.Deck {
	return card.NewDeck(rand.New(rand.NewSource(1)))
}

func newLocal(t *testing.T, cfg Config) *Controller {
	t.Helper()
	if cfg.Deck == nil {
		cfg.Deck = testDeck()
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	return c
}

func cardOf(c card.Card) *card.Card { return &c }

func TestDrawThenPlay(t *testing.T) {
	c := newLocal(t, Config{Mode: ModeLocal})

	if c.Phase() != PhaseAwaitingCard {
		t.Fatalf("phase: got %s, want awaiting_card", c.Phase())
	}
	if _, err := c.DrawCard(); err != nil {
		t.Fatalf("draw: %v", err)
	}
	if c.Phase() != PhaseAwaitingSelection {
		t.Fatalf("phase after draw: got %s", c.Phase())
	}

	cands := c.Candidates()
	if len(cands) == 0 {
		t.Fatalf("drawn card admits no moves")
	}
	rec, err := c.Play(context.Background(), cands[0].From, cands[0].To)
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	if rec.MoveIndex != 1 || rec.SAN == "" || rec.UCI == "" {
		t.Fatalf("bad record: %+v", rec)
	}
	if rec.NextCard == nil {
		t.Fatalf("mid-game commit must carry the next card")
	}
	if c.Phase() != PhaseAwaitingSelection {
		t.Fatalf("next card should be up after commit, phase %s", c.Phase())
	}
}

func TestPlayWithoutCardRejected(t *testing.T) {
	c := newLocal(t, Config{Mode: ModeLocal})
	if _, err := c.Play(context.Background(), "e2", "e4"); !errors.Is(err, ErrNoCard) {
		t.Fatalf("expected ErrNoCard, got %v", err)
	}
}

func TestCardConstraintEnforced(t *testing.T) {
	c := newLocal(t, Config{Mode: ModeLocal, Card: cardOf(card.Piece('N'))})

	if _, err := c.Play(context.Background(), "e2", "e4"); !errors.Is(err, ErrCardUnsatisfied) {
		t.Fatalf("expected ErrCardUnsatisfied, got %v", err)
	}
	rec, err := c.Play(context.Background(), "g1", "f3")
	if err != nil {
		t.Fatalf("play knight: %v", err)
	}
	if rec.Piece != "n" {
		t.Fatalf("record piece: got %q, want n", rec.Piece)
	}
}

func TestRemoteReplayIdempotent(t *testing.T) {
	c := newLocal(t, Config{Mode: ModeRemote, LocalColor: domain.White})

	rec := MoveRecord{
		MoveIndex: 1,
		Color:     domain.White,
		From:      "e2", To: "e4",
		Piece: "p", SAN: "e4", UCI: "e2e4",
		Card:     card.File('e'),
		NextCard: cardOf(card.Any),
	}
	if err := c.ApplyRemote(rec); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := c.ApplyRemote(rec); err != nil {
		t.Fatalf("duplicate apply must be a no-op: %v", err)
	}
	if c.PlyCount() != 1 {
		t.Fatalf("ply count after duplicate: got %d, want 1", c.PlyCount())
	}
	got, ok := c.Card()
	if !ok || got != card.Any {
		t.Fatalf("next card not adopted: %v ok=%v", got, ok)
	}

	gap := rec
	gap.MoveIndex = 3
	gap.UCI = "e7e5"
	if err := c.ApplyRemote(gap); !errors.Is(err, ErrMoveGap) {
		t.Fatalf("expected ErrMoveGap, got %v", err)
	}
}

func TestRemoteOutOfTurnRejected(t *testing.T) {
	c := newLocal(t, Config{Mode: ModeRemote, LocalColor: domain.Black, Card: cardOf(card.Any)})
	if _, err := c.Play(context.Background(), "e2", "e4"); !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("expected ErrNotYourTurn, got %v", err)
	}
}

func TestUndoRestoresPositionAndCard(t *testing.T) {
	c := newLocal(t, Config{Mode: ModeLocal, Card: cardOf(card.File('e'))})
	startFEN := c.FEN()

	if _, err := c.Play(context.Background(), "e2", "e4"); err != nil {
		t.Fatalf("play: %v", err)
	}
	if err := c.Undo(); err != nil {
		t.Fatalf("undo: %v", err)
	}
	if c.PlyCount() != 0 {
		t.Fatalf("ply after undo: got %d", c.PlyCount())
	}
	if c.FEN() != startFEN {
		t.Fatalf("position not restored: %s", c.FEN())
	}
	got, ok := c.Card()
	if !ok || got != card.File('e') {
		t.Fatalf("card after undo: got %v ok=%v, want File(e)", got, ok)
	}

	if err := c.Undo(); !errors.Is(err, ErrNothingToUndo) {
		t.Fatalf("expected ErrNothingToUndo, got %v", err)
	}
}

func TestUndoRebuildsFromCustomStartPosition(t *testing.T) {
	const midgameFEN = "6k1/8/8/8/P7/8/r5PP/7K w - - 0 1"
	c := newLocal(t, Config{Mode: ModeLocal, FEN: midgameFEN, Card: cardOf(card.Any)})
	startFEN := c.FEN()

	if _, err := c.PlayUCI(context.Background(), "a4a5"); err != nil {
		t.Fatalf("play: %v", err)
	}
	if err := c.Undo(); err != nil {
		t.Fatalf("undo from custom start: %v", err)
	}
	if c.FEN() != startFEN {
		t.Fatalf("position after undo: %s, want %s", c.FEN(), startFEN)
	}
	if c.PlyCount() != 0 {
		t.Fatalf("ply after undo: got %d", c.PlyCount())
	}
	if c.Phase() != PhaseAwaitingSelection {
		t.Fatalf("phase after undo: got %s", c.Phase())
	}
}

func TestUndoAfterMatingMoveRestoresItsCard(t *testing.T) {
	// One ply before fool's mate; white blunders g4, black mates.
	c := newLocal(t, Config{
		Mode: ModeLocal,
		FEN:  "rnbqkbnr/pppp1ppp/8/4p3/8/5P2/PPPPP1PP/RNBQKBNR w KQkq - 0 2",
		Card: cardOf(card.Any),
	})
	if _, err := c.PlayUCI(context.Background(), "g2g4"); err != nil {
		t.Fatalf("play g4: %v", err)
	}

	// Force the mating move's card past the deck draw.
	c.mu.Lock()
	c.setCardLocked(card.Piece('Q'))
	c.mu.Unlock()

	rec, err := c.PlayUCI(context.Background(), "d8h4")
	if err != nil {
		t.Fatalf("play mate: %v", err)
	}
	if rec.NextCard != nil {
		t.Fatalf("mating move must not carry a next card")
	}

	if err := c.Undo(); err != nil {
		t.Fatalf("undo mate: %v", err)
	}
	got, ok := c.Card()
	if !ok || got != card.Piece('Q') {
		t.Fatalf("card after undoing mate: got %v ok=%v, want Piece(Q)", got, ok)
	}
	if c.Phase() != PhaseAwaitingSelection {
		t.Fatalf("phase after undoing mate: got %s", c.Phase())
	}
	if _, err := c.PlayUCI(context.Background(), "d8h4"); err != nil {
		t.Fatalf("replay of the mate must satisfy the restored card: %v", err)
	}
}

func TestDeckRemainingDuringPlay(t *testing.T) {
	c := newLocal(t, Config{Mode: ModeLocal, Card: cardOf(card.Any)})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			_ = c.DeckRemaining()
		}
	}()
	if _, err := c.Play(context.Background(), "e2", "e4"); err != nil {
		t.Fatalf("play: %v", err)
	}
	<-done

	if n := len(c.DeckRemaining()); n == 0 {
		t.Fatal("deck remaining must stay readable after commits")
	}
}

func TestUndoUnavailableOutsideLocalMode(t *testing.T) {
	c := newLocal(t, Config{Mode: ModeRemote, LocalColor: domain.White})
	if err := c.Undo(); !errors.Is(err, ErrUndoUnavailable) {
		t.Fatalf("expected ErrUndoUnavailable, got %v", err)
	}
}

type stubOracle struct {
	pick string
	err  error
}

func (s stubOracle) ChooseMove(_ context.Context, _ string, _ []string) (string, error) {
	return s.pick, s.err
}

func TestComputerReplyUsesOracle(t *testing.T) {
	c := newLocal(t, Config{
		Mode:       ModeComputer,
		LocalColor: domain.White,
		Oracle:     stubOracle{pick: "e7e5"},
		Card:       cardOf(card.Any),
	})
	if _, err := c.Play(context.Background(), "e2", "e4"); err != nil {
		t.Fatalf("human move: %v", err)
	}

	// Force a card the reply can satisfy regardless of the deck draw.
	c.mu.Lock()
	c.setCardLocked(card.Any)
	c.mu.Unlock()

	rec, err := c.ComputerReply(context.Background())
	if err != nil {
		t.Fatalf("computer reply: %v", err)
	}
	if rec.UCI != "e7e5" {
		t.Fatalf("oracle pick ignored: got %s", rec.UCI)
	}
}

func TestComputerReplyFallsBackOnOracleFailure(t *testing.T) {
	c := newLocal(t, Config{
		Mode:       ModeComputer,
		LocalColor: domain.White,
		Oracle:     stubOracle{err: context.DeadlineExceeded},
		Card:       cardOf(card.Any),
	})
	if _, err := c.Play(context.Background(), "e2", "e4"); err != nil {
		t.Fatalf("human move: %v", err)
	}
	c.mu.Lock()
	c.setCardLocked(card.Any)
	c.mu.Unlock()

	rec, err := c.ComputerReply(context.Background())
	if err != nil {
		t.Fatalf("computer reply should fall back, got %v", err)
	}
	if rec.UCI == "" || rec.Color != domain.Black {
		t.Fatalf("fallback did not commit a black move: %+v", rec)
	}
}

type stubPrompter struct{ piece byte }

func (s stubPrompter) ChoosePromotion(context.Context) (byte, error) { return s.piece, nil }

func TestPromotionResolution(t *testing.T) {
	const promoFEN = "8/P6k/8/8/8/8/8/K7 w - - 0 1"

	// A promotable piece card decides the promotion.
	c := newLocal(t, Config{Mode: ModeLocal, FEN: promoFEN, Card: cardOf(card.Piece('N'))})
	rec, err := c.Play(context.Background(), "a7", "a8")
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	if rec.Promotion != "n" {
		t.Fatalf("promotion from card: got %q, want n", rec.Promotion)
	}

	// Otherwise the prompter is asked.
	c = newLocal(t, Config{Mode: ModeLocal, FEN: promoFEN, Card: cardOf(card.Any), Prompter: stubPrompter{piece: 'r'}})
	rec, err = c.Play(context.Background(), "a7", "a8")
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	if rec.Promotion != "r" {
		t.Fatalf("promotion from prompter: got %q, want r", rec.Promotion)
	}

	// No prompter means queen.
	c = newLocal(t, Config{Mode: ModeLocal, FEN: promoFEN, Card: cardOf(card.Any)})
	rec, err = c.Play(context.Background(), "a7", "a8")
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	if rec.Promotion != "q" {
		t.Fatalf("default promotion: got %q, want q", rec.Promotion)
	}
}

func TestResumeCorruptRecordsResets(t *testing.T) {
	c := newLocal(t, Config{
		Mode:    ModeLocal,
		Records: []MoveRecord{{MoveIndex: 1, UCI: "zz9x"}},
		Card:    cardOf(card.Any),
	})
	if c.PlyCount() != 0 {
		t.Fatalf("corrupt resume must reset records, got %d", c.PlyCount())
	}
	if c.Phase() != PhaseAwaitingCard {
		t.Fatalf("corrupt resume must drop the stale card, phase %s", c.Phase())
	}
}

func TestGameEndingMoveOmitsNextCard(t *testing.T) {
	// Fool's mate setup: black mates with Qh4.
	c := newLocal(t, Config{
		Mode: ModeLocal,
		FEN:  "rnbqkbnr/pppp1ppp/8/4p3/6P1/5P2/PPPPP2P/RNBQKBNR b KQkq - 0 2",
		Card: cardOf(card.Any),
	})
	rec, err := c.Play(context.Background(), "d8", "h4")
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	if rec.NextCard != nil {
		t.Fatalf("mating move must not carry a next card")
	}
	if c.Phase() != PhaseGameOver {
		t.Fatalf("phase after mate: got %s", c.Phase())
	}
	res, over := c.Result()
	if !over || res.Winner == nil || *res.Winner != domain.Black || res.Reason != domain.ReasonCheckmate {
		t.Fatalf("result: %+v over=%v", res, over)
	}
}
