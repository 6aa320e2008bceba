package turn

import (
	"context"
	"fmt"
	"strings"
	"sync"

	nchess "github.com/corentings/chess/v2"
	"go.uber.org/zap"

	"github.com/karchx/randomchess/internal/card"
	"github.com/karchx/randomchess/internal/domain"
	"github.com/karchx/randomchess/internal/obslog"
)

// Config wires a controller. Deck is required; Oracle only matters in
// computer mode and Prompter only when a promotion needs resolving.
type Config struct {
	Mode       Mode
	LocalColor domain.Color
	Deck       *card.Deck
	Prompter   PromotionPrompter
	Oracle     Oracle

	// Resume inputs. Records are replayed from the start position;
	// FEN is used only when no records are present. Corrupt input
	// resets to the initial position instead of failing.
	FEN     string
	Records []MoveRecord
	Card    *card.Card
}

// Controller runs the draw-a-card, pick-a-move loop for one game.
type Controller struct {
	mu sync.Mutex

	mode       Mode
	localColor domain.Color
	game       *nchess.Game
	startFEN   string // empty means the standard start position
	deck       *card.Deck
	prompter   PromotionPrompter
	oracle     Oracle

	cur      card.Card
	hasCard  bool
	cardHist []card.Card
	records  []MoveRecord
}

func New(cfg Config) (*Controller, error) {
	if cfg.Deck == nil {
		return nil, fmt.Errorf("deck is required")
	}
	c := &Controller{
		mode:       cfg.Mode,
		localColor: cfg.LocalColor,
		deck:       cfg.Deck,
		prompter:   cfg.Prompter,
		oracle:     cfg.Oracle,
	}
	if c.mode == "" {
		c.mode = ModeLocal
	}
	if c.localColor == "" {
		c.localColor = domain.White
	}

	movesUCI := make([]string, len(cfg.Records))
	for i, r := range cfg.Records {
		movesUCI[i] = r.UCI
	}
	var reset bool
	c.game, reset = resumeGame(cfg.FEN, movesUCI)
	if !reset && len(movesUCI) == 0 {
		// Records replay from the standard start; a bare FEN is a
		// custom start position and stays the base for undo rebuilds.
		if fen := strings.TrimSpace(cfg.FEN); fen != "" {
			c.startFEN = fen
		}
	}
	if !reset {
		c.records = append(c.records, cfg.Records...)
	}
	if !reset && cfg.Card != nil && !cfg.Card.IsZero() {
		c.cur = *cfg.Card
		c.hasCard = true
		c.cardHist = append(c.cardHist, c.cur)
	}
	return c, nil
}

// resumeGame rebuilds a game from persisted input. Anything that does
// not replay cleanly resets to the initial position; reset reports it
// so the caller can drop the stale records too.
func resumeGame(fen string, movesUCI []string) (*nchess.Game, bool) {
	if len(movesUCI) > 0 {
		game := nchess.NewGame()
		for _, mv := range movesUCI {
			if err := game.PushNotationMove(mv, nchess.UCINotation{}, nil); err != nil {
				obslog.L().Warn("turn_resume_reset",
					zap.String("bad_move", mv),
					zap.Error(err),
				)
				return nchess.NewGame(), true
			}
		}
		return game, false
	}
	if strings.TrimSpace(fen) != "" {
		opt, err := nchess.FEN(fen)
		if err != nil {
			obslog.L().Warn("turn_resume_reset", zap.String("bad_fen", fen), zap.Error(err))
			return nchess.NewGame(), true
		}
		return nchess.NewGame(opt), false
	}
	return nchess.NewGame(), false
}

func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phaseLocked()
}

func (c *Controller) phaseLocked() Phase {
	if c.game.Outcome() != nchess.NoOutcome {
		return PhaseGameOver
	}
	if !c.hasCard {
		return PhaseAwaitingCard
	}
	return PhaseAwaitingSelection
}

// DrawCard draws the constraint for the side on the move. Drawing
// with a card already up returns that card unchanged.
func (c *Controller) DrawCard() (card.Card, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.phaseLocked() {
	case PhaseGameOver:
		return card.Card{}, ErrGameOver
	case PhaseAwaitingSelection:
		return c.cur, nil
	}

	drawn, err := c.deck.Draw(c.game)
	if err != nil {
		return card.Card{}, err
	}
	c.setCardLocked(drawn)
	obslog.L().Debug("turn_card_drawn",
		zap.String("card", drawn.Token()),
		zap.String("turn", string(c.turnLocked())),
	)
	return drawn, nil
}

func (c *Controller) setCardLocked(drawn card.Card) {
	c.cur = drawn
	c.hasCard = true
	c.cardHist = append(c.cardHist, drawn)
}

// Card returns the card constraining the current move, if one is up.
func (c *Controller) Card() (card.Card, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur, c.hasCard
}

// Candidates lists the legal moves that satisfy the current card.
func (c *Controller) Candidates() []Candidate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.candidatesLocked()
}

func (c *Controller) candidatesLocked() []Candidate {
	if !c.hasCard {
		return nil
	}
	pos := c.game.Position()
	moves := c.game.ValidMoves()
	uciN := nchess.UCINotation{}
	sanN := nchess.AlgebraicNotation{}
	out := make([]Candidate, 0, len(moves))
	for i := range moves {
		mv := &moves[i]
		if !card.Satisfies(c.cur, c.game, mv) {
			continue
		}
		cand := Candidate{
			UCI:  uciN.Encode(pos, mv),
			SAN:  sanN.Encode(pos, mv),
			From: mv.S1().String(),
			To:   mv.S2().String(),
		}
		if promo := mv.Promo(); promo != nchess.NoPieceType {
			facts := card.FactsFor(pos, mv)
			cand.Promotion = facts.Promotion
		}
		out = append(out, cand)
	}
	return out
}

// DestinationsFrom lists target squares for the piece on a square,
// filtered by the current card. Used for board highlighting.
func (c *Controller) DestinationsFrom(from string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []string
	seen := map[string]bool{}
	for _, cand := range c.candidatesLocked() {
		if cand.From != from || seen[cand.To] {
			continue
		}
		seen[cand.To] = true
		out = append(out, cand.To)
	}
	return out
}

// Play commits the local player's move from one square to another,
// resolving promotions along the way.
func (c *Controller) Play(ctx context.Context, from, to string) (MoveRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkPlayableLocked(); err != nil {
		return MoveRecord{}, err
	}
	uci := strings.ToLower(strings.TrimSpace(from + to))
	if c.needsPromotionLocked(from, to) {
		uci += string(c.resolvePromotionLocked(ctx))
	}
	return c.commitLocked(uci)
}

// PlayUCI commits a fully specified UCI move (promotion included).
func (c *Controller) PlayUCI(ctx context.Context, uci string) (MoveRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkPlayableLocked(); err != nil {
		return MoveRecord{}, err
	}
	uci = strings.ToLower(strings.TrimSpace(uci))
	if len(uci) == 4 && c.needsPromotionLocked(uci[:2], uci[2:]) {
		uci += string(c.resolvePromotionLocked(ctx))
	}
	return c.commitLocked(uci)
}

func (c *Controller) checkPlayableLocked() error {
	switch c.phaseLocked() {
	case PhaseGameOver:
		return ErrGameOver
	case PhaseAwaitingCard:
		return ErrNoCard
	}
	if c.mode != ModeLocal && c.turnLocked() != c.localColor {
		return ErrNotYourTurn
	}
	return nil
}

func (c *Controller) needsPromotionLocked(from, to string) bool {
	pos := c.game.Position()
	fromSq, err := parseSquare(from)
	if err != nil {
		return false
	}
	if pos.Board().Piece(fromSq).Type() != nchess.Pawn {
		return false
	}
	return strings.HasSuffix(to, "8") || strings.HasSuffix(to, "1")
}

// resolvePromotionLocked picks the promotion piece: a promotable
// piece card decides it, otherwise the prompter is asked, and a queen
// covers everything else.
func (c *Controller) resolvePromotionLocked(ctx context.Context) byte {
	if c.cur.Kind == card.KindPiece {
		switch c.cur.Piece {
		case 'Q', 'R', 'B', 'N':
			return c.cur.Piece + ('a' - 'A')
		}
	}
	if c.prompter != nil {
		p, err := c.prompter.ChoosePromotion(ctx)
		if err == nil {
			switch p {
			case 'q', 'r', 'b', 'n':
				return p
			}
		}
	}
	return 'q'
}

func (c *Controller) commitLocked(uci string) (MoveRecord, error) {
	pos := c.game.Position()
	mv, err := nchess.UCINotation{}.Decode(pos, uci)
	if err != nil {
		return MoveRecord{}, fmt.Errorf("%w: %s", ErrIllegalMove, uci)
	}
	if !card.Satisfies(c.cur, c.game, mv) {
		return MoveRecord{}, ErrCardUnsatisfied
	}

	san := nchess.AlgebraicNotation{}.Encode(pos, mv)
	facts := card.FactsFor(pos, mv)
	mover := colorFrom(pos.Turn())

	if err := c.game.Move(mv, nil); err != nil {
		return MoveRecord{}, fmt.Errorf("%w: %s", ErrIllegalMove, uci)
	}

	rec := MoveRecord{
		MoveIndex: len(c.records) + 1,
		Color:     mover,
		From:      mv.S1().String(),
		To:        mv.S2().String(),
		Piece:     facts.Piece,
		Captured:  facts.Captured,
		Promotion: facts.Promotion,
		SAN:       san,
		UCI:       uci,
		Card:      c.cur,
	}

	if c.game.Outcome() == nchess.NoOutcome {
		next, derr := c.deck.Draw(c.game)
		if derr != nil {
			return MoveRecord{}, fmt.Errorf("draw next card: %w", derr)
		}
		rec.NextCard = &next
		c.setCardLocked(next)
	} else {
		c.hasCard = false
	}

	c.records = append(c.records, rec)
	obslog.L().Info("turn_commit",
		zap.Int("move_index", rec.MoveIndex),
		zap.String("uci", rec.UCI),
		zap.String("san", rec.SAN),
		zap.String("card", rec.Card.Token()),
		zap.Bool("game_over", rec.NextCard == nil),
	)
	return rec, nil
}

// ApplyRemote replays a peer's committed move. Records at or below
// the applied count are duplicates and a no-op.
func (c *Controller) ApplyRemote(rec MoveRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rec.MoveIndex <= len(c.records) {
		return nil
	}
	if rec.MoveIndex != len(c.records)+1 {
		return fmt.Errorf("%w: have %d, got %d", ErrMoveGap, len(c.records), rec.MoveIndex)
	}
	if err := c.game.PushNotationMove(rec.UCI, nchess.UCINotation{}, nil); err != nil {
		return fmt.Errorf("%w: %s", ErrIllegalMove, rec.UCI)
	}
	c.records = append(c.records, rec)
	if rec.NextCard != nil && !rec.NextCard.IsZero() {
		c.setCardLocked(*rec.NextCard)
	} else {
		c.hasCard = false
	}
	return nil
}

// Undo takes back the last committed half move in local mode and
// restores the card that was up before it.
func (c *Controller) Undo() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode != ModeLocal {
		return ErrUndoUnavailable
	}
	if len(c.records) == 0 {
		return ErrNothingToUndo
	}

	// Replay from the base position first; records shrink only once
	// the rebuild succeeded.
	game, err := c.baseGameLocked()
	if err != nil {
		return fmt.Errorf("rebuild after undo: %w", err)
	}
	kept := c.records[:len(c.records)-1]
	for _, r := range kept {
		if err := game.PushNotationMove(r.UCI, nchess.UCINotation{}, nil); err != nil {
			return fmt.Errorf("rebuild after undo: %w", err)
		}
	}
	undone := c.records[len(c.records)-1]
	c.game = game
	c.records = kept

	// The card drawn for the undone position goes back. A game-ending
	// move drew no next card, so its own card is still the history
	// top; the first drawn card stays up when undoing the first move.
	switch {
	case len(c.cardHist) == 0:
		c.hasCard = false
	case len(c.cardHist) == 1 || undone.NextCard == nil:
		c.cur = c.cardHist[len(c.cardHist)-1]
		c.hasCard = true
	default:
		c.cardHist = c.cardHist[:len(c.cardHist)-1]
		c.cur = c.cardHist[len(c.cardHist)-1]
		c.hasCard = true
	}
	return nil
}

func (c *Controller) baseGameLocked() (*nchess.Game, error) {
	if c.startFEN == "" {
		return nchess.NewGame(), nil
	}
	opt, err := nchess.FEN(c.startFEN)
	if err != nil {
		return nil, err
	}
	return nchess.NewGame(opt), nil
}

// ComputerReply asks the oracle to move for the engine side. On
// oracle failure or timeout the first candidate keeps the game going.
func (c *Controller) ComputerReply(ctx context.Context) (MoveRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode != ModeComputer {
		return MoveRecord{}, fmt.Errorf("computer reply in %s mode", c.mode)
	}
	switch c.phaseLocked() {
	case PhaseGameOver:
		return MoveRecord{}, ErrGameOver
	case PhaseAwaitingCard:
		return MoveRecord{}, ErrNoCard
	}
	if c.turnLocked() == c.localColor {
		return MoveRecord{}, ErrNotYourTurn
	}

	cands := c.candidatesLocked()
	if len(cands) == 0 {
		return MoveRecord{}, ErrNoCandidates
	}

	chosen := cands[0].UCI
	if c.oracle != nil {
		uciList := make([]string, len(cands))
		for i, cand := range cands {
			uciList[i] = cand.UCI
		}
		picked, err := c.oracle.ChooseMove(ctx, c.game.FEN(), uciList)
		if err != nil {
			obslog.L().Warn("oracle_fallback", zap.Error(err), zap.String("fallback", chosen))
		} else if contains(uciList, picked) {
			chosen = picked
		} else {
			obslog.L().Warn("oracle_fallback",
				zap.String("picked", picked),
				zap.String("fallback", chosen),
			)
		}
	}
	return c.commitLocked(chosen)
}

// Result maps the chess outcome onto a game result. ok is false while
// the game is still running.
func (c *Controller) Result() (domain.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.game.Outcome() {
	case nchess.WhiteWon:
		return domain.Result{Winner: domain.WinnerOf(domain.White), Reason: domain.ReasonCheckmate}, true
	case nchess.BlackWon:
		return domain.Result{Winner: domain.WinnerOf(domain.Black), Reason: domain.ReasonCheckmate}, true
	case nchess.Draw:
		reason := domain.ReasonDraw
		switch c.game.Method() {
		case nchess.Stalemate:
			reason = domain.ReasonStalemate
		case nchess.InsufficientMaterial:
			reason = domain.ReasonInsufficient
		}
		return domain.Result{Reason: reason}, true
	}
	return domain.Result{}, false
}

func (c *Controller) Turn() domain.Color {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turnLocked()
}

func (c *Controller) turnLocked() domain.Color {
	return colorFrom(c.game.Position().Turn())
}

func (c *Controller) FEN() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.game.FEN()
}

func (c *Controller) Position() *nchess.Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.game.Position()
}

func (c *Controller) Records() []MoveRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]MoveRecord(nil), c.records...)
}

func (c *Controller) PlyCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

func (c *Controller) DeckRemaining() []card.Card {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deck.Remaining()
}

// PGNOf renders a bare numbered movetext from committed records.
func PGNOf(records []MoveRecord) string {
	var b strings.Builder
	for i, r := range records {
		if i%2 == 0 {
			fmt.Fprintf(&b, "%d. ", i/2+1)
		}
		b.WriteString(r.SAN)
		b.WriteByte(' ')
	}
	return strings.TrimSpace(b.String())
}

func colorFrom(c nchess.Color) domain.Color {
	if c == nchess.White {
		return domain.White
	}
	return domain.Black
}

func parseSquare(s string) (nchess.Square, error) {
	if len(s) != 2 || s[0] < 'a' || s[0] > 'h' || s[1] < '1' || s[1] > '8' {
		return nchess.NoSquare, fmt.Errorf("bad square: %q", s)
	}
	file := nchess.File(s[0] - 'a')
	rank := nchess.Rank(s[1] - '1')
	return nchess.NewSquare(file, rank), nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
