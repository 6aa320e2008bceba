package card

import (
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// Satisfies reports whether mv, assumed legal in the game's current
// position, meets the card's constraint. The game is never mutated;
// probes that need the resulting position run on a clone.
func Satisfies(c Card, game *nchess.Game, mv *nchess.Move) bool {
	if game == nil || mv == nil {
		return false
	}
	pos := game.Position()
	if pos == nil {
		return false
	}

	castle := mv.HasTag(nchess.KingSideCastle) || mv.HasTag(nchess.QueenSideCastle)

	switch c.Kind {
	case KindAny:
		return true

	case KindRank:
		if castle {
			return c.Rank == backRank(pos.Turn())
		}
		digit := byte('0' + c.Rank)
		return squareHas(mv.S1(), digit) || squareHas(mv.S2(), digit)

	case KindFile:
		if castle {
			// A castle touches the whole king-to-rook span.
			if mv.HasTag(nchess.QueenSideCastle) {
				return c.File >= 'a' && c.File <= 'e'
			}
			return c.File >= 'e' && c.File <= 'h'
		}
		return squareHas(mv.S1(), c.File) || squareHas(mv.S2(), c.File)

	case KindPiece:
		if castle {
			return c.Piece == 'R' || c.Piece == 'K'
		}
		want := lowerLetter(c.Piece)
		return want != 0 && matchesPiece(pos, mv, want)

	case KindPawn:
		if castle {
			return false
		}
		return matchesPiece(pos, mv, 'p')

	case KindCheck:
		san := nchess.AlgebraicNotation{}.Encode(pos, mv)
		return strings.ContainsAny(san, "+#")

	case KindStalemate:
		probe := game.Clone()
		if err := probe.Move(mv, nil); err != nil {
			return false
		}
		return probe.Method() == nchess.Stalemate

	case KindTake:
		return capturedLetter(pos, mv) != 0
	}

	return false
}

// MoveFacts describes a move the way stored move records do, with
// lowercase piece letters.
type MoveFacts struct {
	Piece     string
	Captured  string
	Promotion string
}

// FactsFor extracts the moved, captured, and promoted piece letters
// for a move that has not yet been applied to pos.
func FactsFor(pos *nchess.Position, mv *nchess.Move) MoveFacts {
	var f MoveFacts
	if pos == nil || mv == nil {
		return f
	}
	if b := pieceLetter(pos.Board().Piece(mv.S1()).Type()); b != 0 {
		f.Piece = string(b)
	}
	if b := capturedLetter(pos, mv); b != 0 {
		f.Captured = string(b)
	}
	if promo := mv.Promo(); promo != nchess.NoPieceType {
		if b := pieceLetter(promo); b != 0 {
			f.Promotion = string(b)
		}
	}
	return f
}

// matchesPiece accepts a card letter against the moved piece, the
// captured piece, or the promotion target.
func matchesPiece(pos *nchess.Position, mv *nchess.Move, want byte) bool {
	if pieceLetter(pos.Board().Piece(mv.S1()).Type()) == want {
		return true
	}
	if capturedLetter(pos, mv) == want {
		return true
	}
	if promo := mv.Promo(); promo != nchess.NoPieceType {
		return pieceLetter(promo) == want
	}
	return false
}

func capturedLetter(pos *nchess.Position, mv *nchess.Move) byte {
	if mv.HasTag(nchess.EnPassant) {
		return 'p'
	}
	if !mv.HasTag(nchess.Capture) {
		return 0
	}
	return pieceLetter(pos.Board().Piece(mv.S2()).Type())
}

func pieceLetter(t nchess.PieceType) byte {
	switch t {
	case nchess.King:
		return 'k'
	case nchess.Queen:
		return 'q'
	case nchess.Rook:
		return 'r'
	case nchess.Bishop:
		return 'b'
	case nchess.Knight:
		return 'n'
	case nchess.Pawn:
		return 'p'
	}
	return 0
}

func lowerLetter(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b + ('a' - 'A')
	}
	if b >= 'a' && b <= 'z' {
		return b
	}
	return 0
}

func squareHas(sq nchess.Square, b byte) bool {
	return strings.IndexByte(sq.String(), b) >= 0
}

func backRank(turn nchess.Color) int {
	if turn == nchess.White {
		return 1
	}
	return 8
}
