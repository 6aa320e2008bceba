package card

import (
	"math/rand"
	"testing"

	nchess "github.com/corentings/chess/v2"
)

func TestDrawAlwaysSatisfiable(t *testing.T) {
	g := nchess.NewGame()
	d := NewDeck(rand.New(rand.NewSource(1)))

	// Far more draws than one catalog holds, so the deck refills
	// several times along the way.
	for i := 0; i < 150; i++ {
		c, err := d.Draw(g)
		if err != nil {
			t.Fatalf("draw %d: %v", i, err)
		}
		moves := g.ValidMoves()
		ok := false
		for j := range moves {
			if Satisfies(c, g, &moves[j]) {
				ok = true
				break
			}
		}
		if !ok {
			t.Fatalf("draw %d returned unsatisfiable card %s", i, c)
		}
	}
}

func TestDrawDiscardsUnsatisfiable(t *testing.T) {
	// Take and Check are impossible in the starting position, so a
	// deck holding only those must burn through them.
	g := nchess.NewGame()
	d := Restore([]Card{Take, Check, File('e')}, rand.New(rand.NewSource(7)))

	c, err := d.Draw(g)
	if err != nil {
		t.Fatalf("draw: %v", err)
	}
	if c != File('e') {
		t.Fatalf("expected the only satisfiable card, got %s", c)
	}
}

func TestDrawRefillsWhenExhausted(t *testing.T) {
	g := nchess.NewGame()
	d := Restore([]Card{Take}, rand.New(rand.NewSource(3)))

	c, err := d.Draw(g)
	if err != nil {
		t.Fatalf("draw: %v", err)
	}
	if c == Take {
		t.Fatalf("take is unsatisfiable in the start position")
	}
	if d.Size() == 0 {
		t.Fatalf("deck should hold refilled cards after exhaustion")
	}
}

func TestDrawRejectsFinishedPosition(t *testing.T) {
	opt, err := nchess.FEN("7k/5Q2/6K1/8/8/8/8/8 b - - 0 1")
	if err != nil {
		t.Fatalf("fen: %v", err)
	}
	g := nchess.NewGame(opt)
	d := NewDeck(rand.New(rand.NewSource(1)))
	if _, err := d.Draw(g); err != ErrNoLegalMoves {
		t.Fatalf("expected ErrNoLegalMoves, got %v", err)
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	d := NewDeck(rand.New(rand.NewSource(9)))
	if d.Size() != 46 {
		t.Fatalf("catalog size: got %d, want 46", d.Size())
	}
	g := nchess.NewGame()
	if _, err := d.Draw(g); err != nil {
		t.Fatalf("draw: %v", err)
	}

	snap := d.Remaining()
	restored := Restore(snap, rand.New(rand.NewSource(9)))
	if restored.Size() != len(snap) {
		t.Fatalf("restored size %d, want %d", restored.Size(), len(snap))
	}
}
