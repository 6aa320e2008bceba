package card

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Kind enumerates every constraint a card can impose on a move.
type Kind uint8

const (
	KindNone Kind = iota
	KindRank
	KindFile
	KindPiece
	KindPawn
	KindCheck
	KindStalemate
	KindTake
	KindAny
)

// Card is a single move constraint. The zero value is the empty card,
// which rejects every move.
type Card struct {
	Kind  Kind
	Rank  int  // 1..8 when KindRank
	File  byte // 'a'..'h' when KindFile
	Piece byte // 'R','N','B','Q','K' when KindPiece
}

var (
	Pawn      = Card{Kind: KindPawn}
	Check     = Card{Kind: KindCheck}
	Stalemate = Card{Kind: KindStalemate}
	Take      = Card{Kind: KindTake}
	Any       = Card{Kind: KindAny}
)

func Rank(n int) Card  { return Card{Kind: KindRank, Rank: n} }
func File(f byte) Card { return Card{Kind: KindFile, File: f} }
func Piece(p byte) Card {
	return Card{Kind: KindPiece, Piece: p}
}

func (c Card) IsZero() bool { return c.Kind == KindNone }

// Token returns the wire form of the card: ranks are their digit,
// files their letter, pieces their uppercase letter, pawn "p", and
// the specials their lowercase word.
func (c Card) Token() string {
	switch c.Kind {
	case KindRank:
		return strconv.Itoa(c.Rank)
	case KindFile:
		return string(c.File)
	case KindPiece:
		return string(c.Piece)
	case KindPawn:
		return "p"
	case KindCheck:
		return "check"
	case KindStalemate:
		return "stalemate"
	case KindTake:
		return "take"
	case KindAny:
		return "any"
	default:
		return ""
	}
}

func (c Card) String() string { return c.Token() }

// Parse converts a wire token back into a card.
func Parse(token string) (Card, error) {
	t := strings.TrimSpace(token)
	switch t {
	case "":
		return Card{}, fmt.Errorf("empty card token")
	case "p":
		return Pawn, nil
	case "check":
		return Check, nil
	case "stalemate":
		return Stalemate, nil
	case "take":
		return Take, nil
	case "any":
		return Any, nil
	}
	if len(t) == 1 {
		ch := t[0]
		switch {
		case ch >= '1' && ch <= '8':
			return Rank(int(ch - '0')), nil
		case ch >= 'a' && ch <= 'h':
			return File(ch), nil
		case ch == 'R' || ch == 'N' || ch == 'B' || ch == 'Q' || ch == 'K':
			return Piece(ch), nil
		}
	}
	return Card{}, fmt.Errorf("unknown card token: %q", token)
}

// MarshalJSON writes rank cards as numbers and everything else as a
// string, matching the stored record format.
func (c Card) MarshalJSON() ([]byte, error) {
	if c.Kind == KindRank {
		return json.Marshal(c.Rank)
	}
	return json.Marshal(c.Token())
}

func (c *Card) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		if n < 1 || n > 8 {
			return fmt.Errorf("rank card out of range: %d", n)
		}
		*c = Rank(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("decode card: %w", err)
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Catalog returns a fresh copy of the full deck composition:
// every rank and file twice, every non-pawn piece twice, four pawns,
// and one each of check, stalemate, take and any.
func Catalog() []Card {
	out := make([]Card, 0, 46)
	for n := 1; n <= 8; n++ {
		out = append(out, Rank(n), Rank(n))
	}
	for f := byte('a'); f <= 'h'; f++ {
		out = append(out, File(f), File(f))
	}
	for _, p := range []byte{'R', 'N', 'B', 'Q', 'K'} {
		out = append(out, Piece(p), Piece(p))
	}
	for i := 0; i < 4; i++ {
		out = append(out, Pawn)
	}
	out = append(out, Check, Stalemate, Take, Any)
	return out
}
