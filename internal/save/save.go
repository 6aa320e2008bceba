package save

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	nchess "github.com/corentings/chess/v2"

	"github.com/karchx/randomchess/internal/card"
	"github.com/karchx/randomchess/internal/domain"
	"github.com/karchx/randomchess/internal/turn"
)

var (
	// ErrNoSnapshot means no saved game exists.
	ErrNoSnapshot = errors.New("no snapshot")
	// ErrCorrupt means the saved game cannot be trusted; callers
	// reset to the initial position instead of failing.
	ErrCorrupt = errors.New("corrupt snapshot")
)

// Snapshot is the durable solo-game state, written after every state
// change and read once at startup.
type Snapshot struct {
	FEN             string            `json:"fen"`
	PGN             string            `json:"pgn,omitempty"`
	Moves           []turn.MoveRecord `json:"moves"`
	Card            *card.Card        `json:"card,omitempty"`
	DeckRemaining   []card.Card       `json:"deckRemaining"`
	Status          domain.Status     `json:"status"`
	Winner          *domain.Color     `json:"winner,omitempty"`
	Reason          domain.Reason     `json:"reason,omitempty"`
	WhiteTimeLeftMs int64             `json:"whiteTimeLeftMs"`
	BlackTimeLeftMs int64             `json:"blackTimeLeftMs"`
	LastMoveAt      time.Time         `json:"lastMoveAt"`
	Difficulty      int               `json:"difficulty,omitempty"`
	SavedAt         time.Time         `json:"savedAt"`
}

// Store reads and writes one snapshot file.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: strings.TrimSpace(path)}
}

func (s *Store) Load() (*Snapshot, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if strings.TrimSpace(snap.FEN) == "" {
		return nil, fmt.Errorf("%w: missing fen", ErrCorrupt)
	}
	if _, err := nchess.FEN(snap.FEN); err != nil {
		return nil, fmt.Errorf("%w: bad fen: %v", ErrCorrupt, err)
	}
	return &snap, nil
}

func (s *Store) Save(snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("nil snapshot")
	}
	snap.SavedAt = time.Now()

	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot dir: %w", err)
		}
	}
	if err := os.WriteFile(s.path, raw, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove snapshot: %w", err)
	}
	return nil
}
