// Command randomchess-solo plays card-constrained chess in the
// terminal, against a second local player or the engine, with the game
// saved to disk after every move.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/karchx/randomchess/internal/card"
	"github.com/karchx/randomchess/internal/clock"
	appcfg "github.com/karchx/randomchess/internal/config"
	"github.com/karchx/randomchess/internal/domain"
	"github.com/karchx/randomchess/internal/msgcat"
	"github.com/karchx/randomchess/internal/obslog"
	"github.com/karchx/randomchess/internal/oracle"
	"github.com/karchx/randomchess/internal/save"
	"github.com/karchx/randomchess/internal/turn"
	"github.com/karchx/randomchess/internal/uci"
)

type app struct {
	ctl     *turn.Controller
	clk     *clock.Manager
	store   *save.Store
	cat     *msgcat.Catalog
	mode    turn.Mode
	stopped bool
}

type stdinPrompter struct {
	in  *bufio.Reader
	cat *msgcat.Catalog
}

func (p *stdinPrompter) ChoosePromotion(context.Context) (byte, error) {
	if msg, err := p.cat.Render("turn.promotion", nil); err == nil {
		fmt.Println(msg)
	}
	line, err := p.in.ReadString('\n')
	if err != nil {
		return 0, err
	}
	line = strings.ToLower(strings.TrimSpace(line))
	if len(line) != 1 {
		return 0, fmt.Errorf("bad promotion choice: %q", line)
	}
	return line[0], nil
}

func main() {
	modeFlag := flag.String("mode", "computer", "game mode: local or computer")
	colorFlag := flag.String("color", "w", "your color in computer mode: w or b")
	fresh := flag.Bool("new", false, "discard any saved game and start over")
	flag.Parse()

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	obslog.InitFromEnv()

	cat, err := msgcat.New(cfg.Lang, cfg.MessageDir)
	if err != nil {
		log.Fatalf("message catalog error: %v", err)
	}

	mode := turn.ModeLocal
	if *modeFlag == "computer" {
		mode = turn.ModeComputer
	}
	color := domain.White
	if strings.TrimSpace(*colorFlag) == string(domain.Black) {
		color = domain.Black
	}

	var chooser turn.Oracle = oracle.NewRandom(nil)
	if mode == turn.ModeComputer && cfg.StockfishPath != "" {
		pool, perr := uci.NewPool(uci.PoolConfig{
			BinaryPath: cfg.StockfishPath,
			Options: uci.Options{
				Threads:    cfg.EngineThreads,
				SkillLevel: cfg.EngineSkill,
				HashMB:     cfg.EngineHashMB,
			},
			Capacity: 1,
		})
		if perr != nil {
			log.Fatalf("engine init error: %v", perr)
		}
		defer pool.Close()
		chooser = oracle.NewEngine(pool, cfg.EngineDepth,
			time.Duration(cfg.OracleTimeoutMs)*time.Millisecond)
	}

	in := bufio.NewReader(os.Stdin)
	store := save.NewStore(cfg.SaveFile)
	a := &app{store: store, cat: cat, mode: mode}

	timeLimit := time.Duration(cfg.TimeLimitMs) * time.Millisecond
	snap := loadSnapshot(store, cat, *fresh)
	prompter := &stdinPrompter{in: in, cat: cat}

	tcfg := turn.Config{Mode: mode, LocalColor: color, Prompter: prompter, Oracle: chooser}
	if snap != nil {
		tcfg.FEN = snap.FEN
		tcfg.Records = snap.Moves
		tcfg.Card = snap.Card
		tcfg.Deck = card.Restore(snap.DeckRemaining, nil)
		a.clk = clock.Restore(
			time.Duration(snap.WhiteTimeLeftMs)*time.Millisecond,
			time.Duration(snap.BlackTimeLeftMs)*time.Millisecond,
			snap.LastMoveAt, activeFromPly(len(snap.Moves)), len(snap.Moves), nil,
		)
		say(cat, "save.resumed", nil)
	} else {
		tcfg.Deck = card.NewDeck(nil)
		a.clk = clock.New(timeLimit, nil)
	}

	a.ctl, err = turn.New(tcfg)
	if err != nil {
		log.Fatalf("controller init error: %v", err)
	}

	a.loop(in)
}

func loadSnapshot(store *save.Store, cat *msgcat.Catalog, fresh bool) *save.Snapshot {
	if fresh {
		_ = store.Clear()
		return nil
	}
	snap, err := store.Load()
	switch {
	case err == nil:
		if snap.Status == domain.StatusFinished {
			return nil
		}
		return snap
	case errors.Is(err, save.ErrNoSnapshot):
		return nil
	case errors.Is(err, save.ErrCorrupt):
		say(cat, "save.corrupt", nil)
		_ = store.Clear()
		return nil
	default:
		log.Fatalf("load save error: %v", err)
		return nil
	}
}

func (a *app) loop(in *bufio.Reader) {
	ctx := context.Background()
	fmt.Println("commands: draw, moves, play <uci>, undo, resign, clock, fen, pgn, quit")

	for !a.stopped {
		a.maybeFinish()
		if a.stopped {
			return
		}

		fmt.Print("> ")
		line, err := in.ReadString('\n')
		if err != nil {
			a.persist()
			return
		}
		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "draw":
			a.cmdDraw()
		case "moves":
			a.cmdMoves()
		case "play":
			if len(fields) < 2 {
				fmt.Println("usage: play <uci>")
				continue
			}
			a.cmdPlay(ctx, fields[1])
		case "undo":
			if err := a.ctl.Undo(); err != nil {
				fmt.Println(err)
				continue
			}
			a.persist()
		case "resign":
			a.finish(domain.WinnerOf(a.ctl.Turn().Opponent()), domain.ReasonResign)
		case "clock":
			a.cmdClock()
		case "fen":
			fmt.Println(a.ctl.FEN())
		case "pgn":
			fmt.Println(turn.PGNOf(a.ctl.Records()))
		case "quit":
			a.persist()
			say(a.cat, "save.stored", nil)
			return
		default:
			fmt.Printf("unknown command: %s\n", fields[0])
		}
	}
}

func (a *app) cmdDraw() {
	drawn, err := a.ctl.DrawCard()
	if err != nil {
		fmt.Println(err)
		return
	}
	say(a.cat, "turn.drawn", map[string]any{
		"Color": string(a.ctl.Turn()),
		"Card":  cardText(a.cat, drawn),
	})
	say(a.cat, "turn.prompt", map[string]any{
		"Color": string(a.ctl.Turn()),
		"Count": len(a.ctl.Candidates()),
	})
	a.persist()
}

func (a *app) cmdMoves() {
	cands := a.ctl.Candidates()
	if len(cands) == 0 {
		if _, up := a.ctl.Card(); !up {
			say(a.cat, "turn.no_card", nil)
		}
		return
	}
	for _, cand := range cands {
		fmt.Printf("  %s (%s)\n", cand.UCI, cand.SAN)
	}
}

func (a *app) cmdPlay(ctx context.Context, uciMove string) {
	if a.timedOut() {
		return
	}
	mover := a.ctl.Turn()
	rec, err := a.ctl.PlayUCI(ctx, uciMove)
	if err != nil {
		a.explain(err)
		return
	}
	a.afterMove(mover, rec)
	if a.stopped || a.mode != turn.ModeComputer {
		return
	}

	a.maybeFinish()
	if a.stopped {
		return
	}
	engineColor := a.ctl.Turn()
	reply, err := a.ctl.ComputerReply(ctx)
	if err != nil {
		fmt.Println(err)
		return
	}
	a.afterMove(engineColor, reply)
}

func (a *app) afterMove(mover domain.Color, rec turn.MoveRecord) {
	if _, err := a.clk.Punch(mover); err != nil && !errors.Is(err, clock.ErrNotActive) {
		fmt.Println(err)
	}
	say(a.cat, "turn.played", map[string]any{
		"Color": string(mover),
		"SAN":   rec.SAN,
		"Card":  rec.Card.Token(),
	})
	if rec.NextCard != nil {
		say(a.cat, "turn.drawn", map[string]any{
			"Color": string(a.ctl.Turn()),
			"Card":  cardText(a.cat, *rec.NextCard),
		})
	}
	a.persist()
}

func (a *app) cmdClock() {
	say(a.cat, "clock.remaining", map[string]any{
		"White": a.clk.Remaining(domain.White).Round(time.Second),
		"Black": a.clk.Remaining(domain.Black).Round(time.Second),
	})
}

func (a *app) explain(err error) {
	switch {
	case errors.Is(err, turn.ErrNoCard):
		say(a.cat, "turn.no_card", nil)
	case errors.Is(err, turn.ErrIllegalMove):
		say(a.cat, "turn.illegal", nil)
	case errors.Is(err, turn.ErrCardUnsatisfied):
		say(a.cat, "turn.unsatisfied", nil)
	default:
		fmt.Println(err)
	}
}

func (a *app) timedOut() bool {
	loser, out := a.clk.TimedOut()
	if !out {
		return false
	}
	a.finish(domain.WinnerOf(loser.Opponent()), domain.ReasonTimeout)
	return true
}

func (a *app) maybeFinish() {
	if a.timedOut() {
		return
	}
	res, over := a.ctl.Result()
	if !over {
		return
	}
	a.finish(res.Winner, res.Reason)
}

func (a *app) finish(winner *domain.Color, reason domain.Reason) {
	a.stopped = true
	a.announce(winner, reason)
	a.persistFinished(winner, reason)
	_ = a.store.Clear()
}

func (a *app) announce(winner *domain.Color, reason domain.Reason) {
	data := map[string]any{}
	if winner != nil {
		data["Winner"] = string(*winner)
		data["Loser"] = string(winner.Opponent())
	}
	if msg, err := a.cat.Render("result."+string(reason), data); err == nil {
		fmt.Println(msg)
	} else {
		fmt.Printf("game over: %s\n", reason)
	}
}

func (a *app) persist() {
	a.writeSnapshot(domain.StatusPlaying, nil, "")
}

func (a *app) persistFinished(winner *domain.Color, reason domain.Reason) {
	a.writeSnapshot(domain.StatusFinished, winner, reason)
}

func (a *app) writeSnapshot(status domain.Status, winner *domain.Color, reason domain.Reason) {
	cs := a.clk.Snapshot()
	snap := &save.Snapshot{
		FEN:             a.ctl.FEN(),
		PGN:             turn.PGNOf(a.ctl.Records()),
		Moves:           a.ctl.Records(),
		DeckRemaining:   a.ctl.DeckRemaining(),
		Status:          status,
		Winner:          winner,
		Reason:          reason,
		WhiteTimeLeftMs: cs.WhiteRemaining.Milliseconds(),
		BlackTimeLeftMs: cs.BlackRemaining.Milliseconds(),
		LastMoveAt:      cs.LastMoveAt,
	}
	if cur, up := a.ctl.Card(); up {
		snap.Card = &cur
	}
	if err := a.store.Save(snap); err != nil {
		fmt.Printf("save error: %v\n", err)
	}
}

func cardText(cat *msgcat.Catalog, c card.Card) string {
	key, data := cardMessage(c)
	if msg, err := cat.Render(key, data); err == nil {
		return msg
	}
	return c.Token()
}

func cardMessage(c card.Card) (string, map[string]any) {
	switch c.Kind {
	case card.KindRank:
		return "card.rank", map[string]any{"Rank": c.Rank}
	case card.KindFile:
		return "card.file", map[string]any{"File": string(c.File)}
	case card.KindPiece:
		return "card.piece", map[string]any{
			"Piece": string(c.Piece),
			"Name":  pieceName(c.Piece),
		}
	case card.KindPawn:
		return "card.pawn", nil
	case card.KindCheck:
		return "card.check", nil
	case card.KindStalemate:
		return "card.stalemate", nil
	case card.KindTake:
		return "card.take", nil
	default:
		return "card.any", nil
	}
}

func pieceName(p byte) string {
	switch p {
	case 'R':
		return "rook"
	case 'N':
		return "knight"
	case 'B':
		return "bishop"
	case 'Q':
		return "queen"
	case 'K':
		return "king"
	}
	return string(p)
}

func activeFromPly(ply int) domain.Color {
	if ply%2 == 0 {
		return domain.White
	}
	return domain.Black
}

func say(cat *msgcat.Catalog, key string, data map[string]any) {
	msg, err := cat.Render(key, data)
	if err != nil {
		return
	}
	fmt.Println(msg)
}
