package oracle

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/karchx/randomchess/internal/obslog"
	"github.com/karchx/randomchess/internal/uci"
)

// ErrSuperseded marks a search whose result arrived after a newer
// request started; callers must discard it.
var ErrSuperseded = errors.New("search superseded")

var ErrNoCandidates = errors.New("no candidate moves")

// Engine picks moves with a pooled UCI engine, restricting the search
// to the caller's candidate set. Only the newest request survives: an
// incoming request cancels the one in flight.
type Engine struct {
	pool    *uci.Pool
	depth   int
	timeout time.Duration

	mu     sync.Mutex
	seq    uint64
	cancel context.CancelFunc
}

func NewEngine(pool *uci.Pool, depth int, timeout time.Duration) *Engine {
	if depth <= 0 {
		depth = 8
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Engine{pool: pool, depth: depth, timeout: timeout}
}

func (e *Engine) ChooseMove(ctx context.Context, fen string, candidates []string) (string, error) {
	if len(candidates) == 0 {
		return "", ErrNoCandidates
	}

	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	e.seq++
	mine := e.seq
	searchCtx, cancel := context.WithTimeout(ctx, e.timeout)
	e.cancel = cancel
	e.mu.Unlock()
	defer cancel()

	session, err := e.pool.Acquire(searchCtx)
	if err != nil {
		return "", err
	}
	best, serr := session.Search(searchCtx, uci.SearchRequest{
		FEN:         fen,
		SearchMoves: candidates,
		Limits:      uci.Limits{Depth: e.depth},
	})
	e.pool.Release(session, serr)
	if serr != nil {
		return "", serr
	}

	e.mu.Lock()
	stale := e.seq != mine
	e.mu.Unlock()
	if stale {
		return "", ErrSuperseded
	}

	obslog.L().Debug("oracle_choice",
		zap.String("best", best),
		zap.Int("candidates", len(candidates)),
	)
	return best, nil
}

// CancelInflight aborts any running search, e.g. when the game ends
// before the engine answers.
func (e *Engine) CancelInflight() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.seq++
}

// Random picks uniformly from the candidate set. It stands in for the
// engine when no binary is configured.
type Random struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewRandom(rng *rand.Rand) *Random {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Random{rng: rng}
}

func (r *Random) ChooseMove(_ context.Context, _ string, candidates []string) (string, error) {
	if len(candidates) == 0 {
		return "", ErrNoCandidates
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return candidates[r.rng.Intn(len(candidates))], nil
}
