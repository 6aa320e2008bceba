package card

import (
	"errors"
	"math/rand"
	"time"

	nchess "github.com/corentings/chess/v2"
	"go.uber.org/zap"

	"github.com/karchx/randomchess/internal/obslog"
)

// ErrNoLegalMoves is returned when Draw is called in a position that
// is already over. Callers must check for game over before drawing.
var ErrNoLegalMoves = errors.New("no legal moves in position")

// Deck draws constraint cards without replacement. Unsatisfiable
// draws are discarded for good; the deck refills in place once empty.
type Deck struct {
	remaining []Card
	rng       *rand.Rand
}

func NewDeck(rng *rand.Rand) *Deck {
	return &Deck{remaining: Catalog(), rng: ensureRNG(rng)}
}

// Restore rebuilds a deck from a persisted remaining-cards list. An
// empty list means the deck was exhausted and starts refilled.
func Restore(remaining []Card, rng *rand.Rand) *Deck {
	d := &Deck{rng: ensureRNG(rng)}
	if len(remaining) == 0 {
		d.remaining = Catalog()
	} else {
		d.remaining = append([]Card(nil), remaining...)
	}
	return d
}

func (d *Deck) Size() int { return len(d.remaining) }

func (d *Deck) Remaining() []Card {
	return append([]Card(nil), d.remaining...)
}

// Draw removes cards until one admits at least one legal move in the
// game's current position and returns it. The Any card in every
// refill guarantees termination.
func (d *Deck) Draw(game *nchess.Game) (Card, error) {
	moves := game.ValidMoves()
	if len(moves) == 0 {
		return Card{}, ErrNoLegalMoves
	}

	discarded := 0
	for {
		i := d.rng.Intn(len(d.remaining))
		c := d.remaining[i]
		d.remaining = append(d.remaining[:i], d.remaining[i+1:]...)
		if len(d.remaining) == 0 {
			d.remaining = Catalog()
			obslog.L().Debug("deck_refill", zap.Int("discarded", discarded))
		}
		for j := range moves {
			if Satisfies(c, game, &moves[j]) {
				if discarded > 0 {
					obslog.L().Debug("deck_draw_discarded",
						zap.Int("discarded", discarded),
						zap.String("card", c.Token()),
					)
				}
				return c, nil
			}
		}
		discarded++
	}
}

func ensureRNG(rng *rand.Rand) *rand.Rand {
	if rng != nil {
		return rng
	}
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}
