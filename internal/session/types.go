package session

import (
	"errors"
	"time"

	"github.com/karchx/randomchess/internal/card"
	"github.com/karchx/randomchess/internal/domain"
	"github.com/karchx/randomchess/internal/turn"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSeatTaken       = errors.New("seat already taken")
	ErrNotSeated       = errors.New("player does not hold this seat")
	ErrMoveGap         = errors.New("move index gap")
	ErrNotYourTurn     = errors.New("not your turn")
	ErrNotPlaying      = errors.New("session is not in play")
	ErrOfferPending    = errors.New("draw offer already pending")
	ErrNoOffer         = errors.New("no draw offer pending")
	ErrBadResult       = errors.New("winner and reason do not match")
	ErrConflict        = errors.New("concurrent update, try again")
)

// Seats holds the two player bindings. A seat is written once and
// never reassigned; reconnecting players re-derive their color from
// this record.
type Seats struct {
	WhiteID      string    `json:"white_id,omitempty"`
	WhiteName    string    `json:"white_name,omitempty"`
	BlackID      string    `json:"black_id,omitempty"`
	BlackName    string    `json:"black_name,omitempty"`
	Participants []string  `json:"participants,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func (s *Seats) IDFor(c domain.Color) string {
	if c == domain.White {
		return s.WhiteID
	}
	return s.BlackID
}

func (s *Seats) NameFor(c domain.Color) string {
	if c == domain.White {
		return s.WhiteName
	}
	return s.BlackName
}

// DrawOffer marks a pending offer. It survives the offering side's
// own later moves; only an answer or the game's end clears it.
type DrawOffer struct {
	By domain.Color `json:"by"`
}

// State is the shared game state record.
type State struct {
	Status          domain.Status `json:"status"`
	WhiteArrived    bool          `json:"white_arrived"`
	BlackArrived    bool          `json:"black_arrived"`
	FirstCard       *card.Card    `json:"first_card,omitempty"`
	TimeLimitMs     int64         `json:"time_limit_ms"`
	WhiteTimeLeftMs int64         `json:"white_time_left_ms"`
	BlackTimeLeftMs int64         `json:"black_time_left_ms"`
	LastMoveAt      time.Time     `json:"last_move_at"`
	Ply             int           `json:"ply"`
	Winner          *domain.Color `json:"winner,omitempty"`
	Reason          domain.Reason `json:"reason,omitempty"`
	DrawOffer       *DrawOffer    `json:"draw_offer,omitempty"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// ActiveColor is the side on the move, derived from the ply count.
func (s *State) ActiveColor() domain.Color {
	if s.Ply%2 == 0 {
		return domain.White
	}
	return domain.Black
}

// Moves is the append-only move log plus position snapshots.
type Moves struct {
	Moves     []turn.MoveRecord `json:"moves"`
	FEN       string            `json:"fen"`
	PGN       string            `json:"pgn,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Snapshot bundles the three records of one session.
type Snapshot struct {
	ID    string `json:"id"`
	Seats Seats  `json:"seats"`
	State State  `json:"state"`
	Moves Moves  `json:"moves"`
}

// RecordKind names which of the three records changed.
type RecordKind string

const (
	RecordSeats RecordKind = "seats"
	RecordState RecordKind = "state"
	RecordMoves RecordKind = "moves"
)

// Update is the pub/sub notification sent after every write.
type Update struct {
	SessionID string     `json:"session_id"`
	Record    RecordKind `json:"record"`
}
