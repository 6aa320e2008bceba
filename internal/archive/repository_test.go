package archive

import (
	"strings"
	"testing"
	"time"

	"github.com/karchx/randomchess/internal/card"
	"github.com/karchx/randomchess/internal/domain"
	"github.com/karchx/randomchess/internal/turn"
)

func TestBuildPGNEmbedsCards(t *testing.T) {
	g := &Game{
		SessionID: "s1",
		WhiteName: "Alice",
		BlackName: "Bob \"the\" knight",
		Winner:    domain.WinnerOf(domain.White),
		Reason:    domain.ReasonCheckmate,
		EndedAt:   time.Date(2025, 3, 9, 10, 0, 0, 0, time.UTC),
		Moves: []turn.MoveRecord{
			{SAN: "e4", Card: card.File('e')},
			{SAN: "e5", Card: card.Pawn},
			{SAN: "Qh5", Card: card.Piece('Q')},
		},
	}

	pgn := BuildPGN(g)
	for _, want := range []string{
		"[White \"Alice\"]",
		"[Black \"Bob 'the' knight\"]",
		"[Result \"1-0\"]",
		"1. e4 {card: e}",
		"e5 {card: p}",
		"2. Qh5 {card: Q}",
	} {
		if !strings.Contains(pgn, want) {
			t.Fatalf("pgn missing %q:\n%s", want, pgn)
		}
	}
	if !strings.HasSuffix(pgn, "1-0") {
		t.Fatalf("pgn must end with the result tag:\n%s", pgn)
	}
}

func TestBuildPGNDrawResult(t *testing.T) {
	pgn := BuildPGN(&Game{Reason: domain.ReasonStalemate})
	if !strings.Contains(pgn, "[Result \"1/2-1/2\"]") {
		t.Fatalf("draw result tag missing:\n%s", pgn)
	}
}
