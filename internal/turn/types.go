package turn

import (
	"context"
	"errors"

	"github.com/karchx/randomchess/internal/card"
	"github.com/karchx/randomchess/internal/domain"
)

// Mode selects who drives which side of the board.
type Mode string

const (
	// ModeLocal plays both sides on one device and allows undo.
	ModeLocal Mode = "local"
	// ModeRemote plays one side locally and replays the peer's
	// records for the other.
	ModeRemote Mode = "remote"
	// ModeComputer plays one side locally and asks an oracle for
	// the other.
	ModeComputer Mode = "computer"
)

// Phase is the controller's turn state.
type Phase string

const (
	PhaseAwaitingCard      Phase = "awaiting_card"
	PhaseAwaitingSelection Phase = "awaiting_selection"
	PhaseGameOver          Phase = "game_over"
)

var (
	ErrGameOver        = errors.New("game is over")
	ErrNoCard          = errors.New("no card drawn")
	ErrNotYourTurn     = errors.New("not your turn")
	ErrIllegalMove     = errors.New("illegal move")
	ErrCardUnsatisfied = errors.New("move does not satisfy the card")
	ErrNoCandidates    = errors.New("no card-satisfying moves")
	ErrMoveGap         = errors.New("move index gap")
	ErrUndoUnavailable = errors.New("undo is local-mode only")
	ErrNothingToUndo   = errors.New("nothing to undo")
)

// MoveRecord is the committed move as it is stored and exchanged with
// peers. NextCard is absent on a game-ending move.
type MoveRecord struct {
	MoveIndex int          `json:"moveIndex"`
	Color     domain.Color `json:"color"`
	From      string       `json:"from"`
	To        string       `json:"to"`
	Piece     string       `json:"piece"`
	Captured  string       `json:"captured,omitempty"`
	Promotion string       `json:"promotion,omitempty"`
	SAN       string       `json:"san"`
	UCI       string       `json:"uci"`
	Card      card.Card    `json:"card"`
	NextCard  *card.Card   `json:"nextCard,omitempty"`
}

// Candidate is a legal move that satisfies the current card.
type Candidate struct {
	UCI       string `json:"uci"`
	SAN       string `json:"san"`
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

// PromotionPrompter resolves the promotion piece when the card does
// not decide it. Returning an error falls back to a queen.
type PromotionPrompter interface {
	ChoosePromotion(ctx context.Context) (byte, error)
}

// Oracle picks a move for the computer side from the card-satisfying
// candidate set.
type Oracle interface {
	ChooseMove(ctx context.Context, fen string, candidates []string) (string, error)
}
