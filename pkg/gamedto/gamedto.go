// Package gamedto holds the wire types of the session HTTP API.
package gamedto

import (
	"time"

	"github.com/karchx/randomchess/internal/card"
	"github.com/karchx/randomchess/internal/domain"
	"github.com/karchx/randomchess/internal/turn"
)

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type CreateSessionRequest struct {
	TimeLimitMs int64 `json:"time_limit_ms,omitempty"`
}

type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
}

type ClaimSeatRequest struct {
	Color    domain.Color `json:"color"`
	PlayerID string       `json:"player_id"`
	Name     string       `json:"name,omitempty"`
}

type ArriveRequest struct {
	Color    domain.Color `json:"color"`
	PlayerID string       `json:"player_id"`
}

type AppendMoveRequest struct {
	Move turn.MoveRecord `json:"move"`
	FEN  string          `json:"fen"`
	PGN  string          `json:"pgn,omitempty"`
}

type AppendMoveResponse struct {
	Applied bool `json:"applied"`
}

type FirstCardRequest struct {
	Card card.Card `json:"card"`
}

type DrawOfferRequest struct {
	By domain.Color `json:"by"`
}

type DrawAnswerRequest struct {
	Accept bool `json:"accept"`
}

type ResignRequest struct {
	By domain.Color `json:"by"`
}

type SeatsView struct {
	WhiteID   string `json:"white_id,omitempty"`
	WhiteName string `json:"white_name,omitempty"`
	BlackID   string `json:"black_id,omitempty"`
	BlackName string `json:"black_name,omitempty"`
}

type StateView struct {
	Status          domain.Status `json:"status"`
	ActiveColor     domain.Color  `json:"active_color"`
	FirstCard       *card.Card    `json:"first_card,omitempty"`
	WhiteTimeLeftMs int64         `json:"white_time_left_ms"`
	BlackTimeLeftMs int64         `json:"black_time_left_ms"`
	Ply             int           `json:"ply"`
	Winner          *domain.Color `json:"winner,omitempty"`
	Reason          domain.Reason `json:"reason,omitempty"`
	DrawOfferBy     *domain.Color `json:"draw_offer_by,omitempty"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

type SessionView struct {
	ID    string            `json:"id"`
	Seats SeatsView         `json:"seats"`
	State StateView         `json:"state"`
	Moves []turn.MoveRecord `json:"moves"`
	FEN   string            `json:"fen"`
	PGN   string            `json:"pgn,omitempty"`
}

// SessionEvent is the websocket frame pushed on every record change.
type SessionEvent struct {
	SessionID string `json:"session_id"`
	Record    string `json:"record"`
}
