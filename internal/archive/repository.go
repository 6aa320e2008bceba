package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/karchx/randomchess/internal/domain"
	"github.com/karchx/randomchess/internal/turn"
)

// Game is a finished game as the archive stores it.
type Game struct {
	SessionID string
	WhiteID   string
	WhiteName string
	BlackID   string
	BlackName string
	Winner    *domain.Color
	Reason    domain.Reason
	Moves     []turn.MoveRecord
	FEN       string
	StartedAt time.Time
	EndedAt   time.Time
}

// Repository persists finished games into Postgres.
type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// SaveGame upserts a finished game, keyed by session id.
func (r *Repository) SaveGame(ctx context.Context, g *Game) error {
	if r == nil || r.db == nil || g == nil {
		return nil
	}

	result := "draw"
	if g.Winner != nil {
		if *g.Winner == domain.White {
			result = "white"
		} else {
			result = "black"
		}
	}

	movesUCI := make([]string, len(g.Moves))
	movesSAN := make([]string, len(g.Moves))
	cards := make([]string, len(g.Moves))
	for i, mv := range g.Moves {
		movesUCI[i] = mv.UCI
		movesSAN[i] = mv.SAN
		cards[i] = mv.Card.Token()
	}
	movesUCIRaw, _ := json.Marshal(movesUCI)
	movesSANRaw, _ := json.Marshal(movesSAN)
	cardsRaw, _ := json.Marshal(cards)

	duration := g.EndedAt.Sub(g.StartedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	q := `INSERT INTO games (
	    session_id, white_id, white_name, black_id, black_name,
	    result, reason, moves_uci, moves_san, cards, pgn, final_fen,
	    started_at, ended_at, duration_ms
	  ) VALUES (
	    $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
	  ) ON CONFLICT (session_id) DO UPDATE SET
	    white_id=EXCLUDED.white_id,
	    white_name=EXCLUDED.white_name,
	    black_id=EXCLUDED.black_id,
	    black_name=EXCLUDED.black_name,
	    result=EXCLUDED.result,
	    reason=EXCLUDED.reason,
	    moves_uci=EXCLUDED.moves_uci,
	    moves_san=EXCLUDED.moves_san,
	    cards=EXCLUDED.cards,
	    pgn=EXCLUDED.pgn,
	    final_fen=EXCLUDED.final_fen,
	    started_at=EXCLUDED.started_at,
	    ended_at=EXCLUDED.ended_at,
	    duration_ms=EXCLUDED.duration_ms`

	_, err := r.db.ExecContext(ctx, q,
		g.SessionID,
		g.WhiteID, g.WhiteName,
		g.BlackID, g.BlackName,
		result, string(g.Reason),
		string(movesUCIRaw), string(movesSANRaw), string(cardsRaw),
		BuildPGN(g), g.FEN,
		g.StartedAt, g.EndedAt, duration,
	)
	return err
}

// BuildPGN renders the game with the drawn card of every move as an
// inline comment.
func BuildPGN(g *Game) string {
	if g == nil {
		return ""
	}
	var b strings.Builder
	date := g.EndedAt
	if date.IsZero() {
		date = time.Now()
	}
	b.WriteString("[Event \"Random Chess\"]\n")
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizePGN(g.WhiteName)))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizePGN(g.BlackName)))
	if g.Reason != "" {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(string(g.Reason))))
	}
	pgnResult := resultTag(g.Winner)
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", pgnResult))

	for i, mv := range g.Moves {
		if i%2 == 0 {
			b.WriteString(fmt.Sprintf("%d. ", i/2+1))
		}
		b.WriteString(strings.TrimSpace(mv.SAN))
		if token := mv.Card.Token(); token != "" {
			b.WriteString(fmt.Sprintf(" {card: %s}", token))
		}
		b.WriteString(" ")
	}
	b.WriteString(pgnResult)
	return b.String()
}

func resultTag(winner *domain.Color) string {
	if winner == nil {
		return "1/2-1/2"
	}
	if *winner == domain.White {
		return "1-0"
	}
	return "0-1"
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
