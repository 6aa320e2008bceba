package domain

// Color identifies a chess side using the short form stored on the wire.
type Color string

const (
	White Color = "w"
	Black Color = "b"
)

func (c Color) Opponent() Color {
	if c == White {
		return Black
	}
	return White
}

func (c Color) Valid() bool { return c == White || c == Black }

// Status is the session lifecycle state. It only moves forward.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusPlaying  Status = "playing"
	StatusFinished Status = "finished"
)

// Reason records why a game ended.
type Reason string

const (
	ReasonCheckmate    Reason = "checkmate"
	ReasonStalemate    Reason = "stalemate"
	ReasonTimeout      Reason = "timeout"
	ReasonResign       Reason = "resign"
	ReasonAgreement    Reason = "agreement"
	ReasonInsufficient Reason = "insufficient_material"
	ReasonDraw         Reason = "draw"
)

// Result pairs the winner (nil for draws) with the end reason.
type Result struct {
	Winner *Color `json:"winner,omitempty"`
	Reason Reason `json:"reason"`
}

func WinnerOf(c Color) *Color {
	out := c
	return &out
}
