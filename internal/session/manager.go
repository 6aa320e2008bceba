package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	nchess "github.com/corentings/chess/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/karchx/randomchess/internal/archive"
	"github.com/karchx/randomchess/internal/card"
	"github.com/karchx/randomchess/internal/clock"
	"github.com/karchx/randomchess/internal/domain"
	"github.com/karchx/randomchess/internal/notify"
	"github.com/karchx/randomchess/internal/obslog"
	"github.com/karchx/randomchess/internal/turn"
)

const recordTTL = 24 * time.Hour

// flow-control sentinels for WATCH transactions
var (
	errStaleMove   = errors.New("stale_move")
	errAlreadyDone = errors.New("already_done")
)

// Manager synchronizes game sessions through a shared redis store.
// Every write goes through a WATCH transaction and publishes a
// record-change notification.
type Manager struct {
	rdb      *redis.Client
	repo     *archive.Repository
	notifier notify.Notifier
	now      func() time.Time
}

func NewManager(redisURL string) (*Manager, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for session manager")
	}
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Manager{rdb: rdb, now: time.Now}, nil
}

// NewManagerWithClient wires an existing client, mainly for tests.
func NewManagerWithClient(rdb *redis.Client) *Manager {
	return &Manager{rdb: rdb, now: time.Now}
}

func (m *Manager) Close() error {
	if m == nil || m.rdb == nil {
		return nil
	}
	return m.rdb.Close()
}

// AttachArchive wires a database repository for persisting results.
func (m *Manager) AttachArchive(r *archive.Repository) {
	if m != nil {
		m.repo = r
	}
}

// AttachNotifier wires an outbound webhook for lifecycle events.
func (m *Manager) AttachNotifier(n notify.Notifier) {
	if m != nil {
		m.notifier = n
	}
}

// SetNowFunc overrides the wall clock, for tests.
func (m *Manager) SetNowFunc(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

// Create allocates a new session with both clocks at the time limit.
func (m *Manager) Create(ctx context.Context, timeLimit time.Duration) (string, error) {
	id := uuid.NewString()
	now := m.now()
	ms := timeLimit.Milliseconds()

	seats := Seats{CreatedAt: now}
	state := State{
		Status:          domain.StatusWaiting,
		TimeLimitMs:     ms,
		WhiteTimeLeftMs: ms,
		BlackTimeLeftMs: ms,
		UpdatedAt:       now,
	}
	moves := Moves{Moves: []turn.MoveRecord{}, FEN: nchess.NewGame().FEN(), UpdatedAt: now}

	ok, err := m.rdb.SetNX(ctx, seatsKey(id), mustJSON(&seats), recordTTL).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("session id collision: %s", id)
	}
	if err := m.rdb.Set(ctx, stateKey(id), mustJSON(&state), recordTTL).Err(); err != nil {
		return "", err
	}
	if err := m.rdb.Set(ctx, movesKey(id), mustJSON(&moves), recordTTL).Err(); err != nil {
		return "", err
	}

	obslog.L().Info("session_create",
		zap.String("session_id", id),
		zap.Int64("time_limit_ms", ms),
	)
	m.publish(ctx, id, RecordState)
	if m.notifier != nil {
		if nerr := m.notifier.Publish(ctx, notify.Event{
			Kind: notify.KindSessionCreated, SessionID: id, At: now,
		}); nerr != nil {
			obslog.L().Warn("session_notify_error", zap.String("session_id", id), zap.Error(nerr))
		}
	}
	return id, nil
}

// Load returns all three records of a session.
func (m *Manager) Load(ctx context.Context, id string) (*Snapshot, error) {
	var snap Snapshot
	snap.ID = id
	if err := m.getJSON(ctx, seatsKey(id), &snap.Seats); err != nil {
		return nil, err
	}
	if err := m.getJSON(ctx, stateKey(id), &snap.State); err != nil {
		return nil, err
	}
	if err := m.getJSON(ctx, movesKey(id), &snap.Moves); err != nil {
		return nil, err
	}
	return &snap, nil
}

// ClaimSeat binds a player to a color, first writer wins. Claiming a
// seat already bound to the same player is a no-op so reconnects are
// safe.
func (m *Manager) ClaimSeat(ctx context.Context, id string, color domain.Color, playerID, name string) error {
	if !color.Valid() || strings.TrimSpace(playerID) == "" {
		return fmt.Errorf("invalid seat claim")
	}
	key := seatsKey(id)
	err := m.rdb.Watch(ctx, func(tx *redis.Tx) error {
		var seats Seats
		if err := getTxJSON(ctx, tx, key, &seats); err != nil {
			return err
		}

		cur := seats.IDFor(color)
		if cur != "" && cur != playerID {
			return ErrSeatTaken
		}
		if color == domain.White {
			seats.WhiteID, seats.WhiteName = playerID, strings.TrimSpace(name)
		} else {
			seats.BlackID, seats.BlackName = playerID, strings.TrimSpace(name)
		}
		if !contains(seats.Participants, playerID) {
			seats.Participants = append(seats.Participants, playerID)
		}

		pipe := tx.TxPipeline()
		pipe.Set(ctx, key, mustJSON(&seats), recordTTL)
		_, err := pipe.Exec(ctx)
		return err
	}, key)
	if err != nil {
		return mapTxErr(err)
	}

	obslog.L().Info("session_seat_claim",
		zap.String("session_id", id),
		zap.String("color", string(color)),
		zap.String("player_id", playerID),
	)
	m.publish(ctx, id, RecordSeats)
	return nil
}

// Arrive marks a seated player present. When both sides have arrived
// the session moves from waiting to playing.
func (m *Manager) Arrive(ctx context.Context, id string, color domain.Color, playerID string) error {
	var seats Seats
	if err := m.getJSON(ctx, seatsKey(id), &seats); err != nil {
		return err
	}
	if seats.IDFor(color) != playerID {
		return ErrNotSeated
	}

	key := stateKey(id)
	var started bool
	err := m.rdb.Watch(ctx, func(tx *redis.Tx) error {
		var state State
		if err := getTxJSON(ctx, tx, key, &state); err != nil {
			return err
		}
		if state.Status == domain.StatusFinished {
			return errAlreadyDone
		}
		if color == domain.White {
			state.WhiteArrived = true
		} else {
			state.BlackArrived = true
		}
		if state.Status == domain.StatusWaiting && state.WhiteArrived && state.BlackArrived {
			state.Status = domain.StatusPlaying
			started = true
		}
		state.UpdatedAt = m.now()

		pipe := tx.TxPipeline()
		pipe.Set(ctx, key, mustJSON(&state), recordTTL)
		_, err := pipe.Exec(ctx)
		return err
	}, key)
	if errors.Is(err, errAlreadyDone) {
		return nil
	}
	if err != nil {
		return mapTxErr(err)
	}

	if started {
		obslog.L().Info("session_start", zap.String("session_id", id))
	}
	m.publish(ctx, id, RecordState)
	return nil
}

// SetFirstCard publishes white's opening card. Only the first write
// sticks.
func (m *Manager) SetFirstCard(ctx context.Context, id string, c card.Card) error {
	key := stateKey(id)
	err := m.rdb.Watch(ctx, func(tx *redis.Tx) error {
		var state State
		if err := getTxJSON(ctx, tx, key, &state); err != nil {
			return err
		}
		if state.FirstCard != nil || state.Status == domain.StatusFinished {
			return errAlreadyDone
		}
		state.FirstCard = &c
		state.UpdatedAt = m.now()

		pipe := tx.TxPipeline()
		pipe.Set(ctx, key, mustJSON(&state), recordTTL)
		_, err := pipe.Exec(ctx)
		return err
	}, key)
	if errors.Is(err, errAlreadyDone) {
		return nil
	}
	if err != nil {
		return mapTxErr(err)
	}
	m.publish(ctx, id, RecordState)
	return nil
}

// AppendMove commits one move record. Replays at or below the applied
// count are a no-op; the mover's elapsed time is deducted here, with
// each color's first move exempt. Returns whether the record was
// applied.
func (m *Manager) AppendMove(ctx context.Context, id string, rec turn.MoveRecord, fen, pgn string) (bool, error) {
	mKey := movesKey(id)
	sKey := stateKey(id)

	err := m.rdb.Watch(ctx, func(tx *redis.Tx) error {
		var moves Moves
		if err := getTxJSON(ctx, tx, mKey, &moves); err != nil {
			return err
		}
		var state State
		if err := getTxJSON(ctx, tx, sKey, &state); err != nil {
			return err
		}

		if rec.MoveIndex <= len(moves.Moves) {
			return errStaleMove
		}
		if rec.MoveIndex != len(moves.Moves)+1 {
			return ErrMoveGap
		}
		if state.Status != domain.StatusPlaying {
			return ErrNotPlaying
		}
		if rec.Color != state.ActiveColor() {
			return ErrNotYourTurn
		}

		now := m.now()
		// Each color's first move carries no deduction.
		if rec.MoveIndex > 2 && !state.LastMoveAt.IsZero() {
			left := clock.RemainingMs(m.timeLeftMs(&state, rec.Color), state.LastMoveAt, true, now)
			if rec.Color == domain.White {
				state.WhiteTimeLeftMs = left
			} else {
				state.BlackTimeLeftMs = left
			}
		}
		state.LastMoveAt = now
		state.Ply++
		state.UpdatedAt = now

		moves.Moves = append(moves.Moves, rec)
		moves.FEN = fen
		moves.PGN = pgn
		moves.UpdatedAt = now

		pipe := tx.TxPipeline()
		pipe.Set(ctx, mKey, mustJSON(&moves), recordTTL)
		pipe.Set(ctx, sKey, mustJSON(&state), recordTTL)
		_, err := pipe.Exec(ctx)
		return err
	}, mKey, sKey)

	if errors.Is(err, errStaleMove) {
		return false, nil
	}
	if err != nil {
		return false, mapTxErr(err)
	}

	obslog.L().Info("session_move",
		zap.String("session_id", id),
		zap.Int("move_index", rec.MoveIndex),
		zap.String("uci", rec.UCI),
		zap.String("card", rec.Card.Token()),
	)
	m.publish(ctx, id, RecordMoves)
	m.publish(ctx, id, RecordState)
	return true, nil
}

// OfferDraw records a pending draw offer for one side.
func (m *Manager) OfferDraw(ctx context.Context, id string, by domain.Color) error {
	key := stateKey(id)
	err := m.rdb.Watch(ctx, func(tx *redis.Tx) error {
		var state State
		if err := getTxJSON(ctx, tx, key, &state); err != nil {
			return err
		}
		if state.Status != domain.StatusPlaying {
			return ErrNotPlaying
		}
		if state.DrawOffer != nil {
			return ErrOfferPending
		}
		state.DrawOffer = &DrawOffer{By: by}
		state.UpdatedAt = m.now()

		pipe := tx.TxPipeline()
		pipe.Set(ctx, key, mustJSON(&state), recordTTL)
		_, err := pipe.Exec(ctx)
		return err
	}, key)
	if err != nil {
		return mapTxErr(err)
	}

	obslog.L().Info("session_draw_offer", zap.String("session_id", id), zap.String("by", string(by)))
	m.publish(ctx, id, RecordState)
	return nil
}

// AnswerDraw accepts or declines the pending offer. Accepting ends
// the game by agreement; either answer requires an offer on the
// table.
func (m *Manager) AnswerDraw(ctx context.Context, id string, accept bool) error {
	key := stateKey(id)
	err := m.rdb.Watch(ctx, func(tx *redis.Tx) error {
		var state State
		if err := getTxJSON(ctx, tx, key, &state); err != nil {
			return err
		}
		if state.DrawOffer == nil {
			return ErrNoOffer
		}
		state.DrawOffer = nil
		if accept {
			state.Status = domain.StatusFinished
			state.Winner = nil
			state.Reason = domain.ReasonAgreement
		}
		state.UpdatedAt = m.now()

		pipe := tx.TxPipeline()
		pipe.Set(ctx, key, mustJSON(&state), recordTTL)
		_, err := pipe.Exec(ctx)
		return err
	}, key)
	if err != nil {
		return mapTxErr(err)
	}

	if accept {
		obslog.L().Info("session_finish",
			zap.String("session_id", id),
			zap.String("winner", ""),
			zap.String("reason", string(domain.ReasonAgreement)),
		)
		m.publish(ctx, id, RecordState)
		m.afterFinish(ctx, id, nil, domain.ReasonAgreement)
		return nil
	}

	obslog.L().Info("session_draw_decline", zap.String("session_id", id))
	m.publish(ctx, id, RecordState)
	return nil
}

// Resign ends the game in favor of the opponent.
func (m *Manager) Resign(ctx context.Context, id string, by domain.Color) error {
	_, err := m.Finish(ctx, id, domain.WinnerOf(by.Opponent()), domain.ReasonResign)
	return err
}

// Finish ends the game with a compare-and-set: a session already
// finished stays exactly as it was, so racing finishers cannot
// overwrite each other. Returns whether this call did the finishing.
func (m *Manager) Finish(ctx context.Context, id string, winner *domain.Color, reason domain.Reason) (bool, error) {
	if !validResult(winner, reason) {
		return false, ErrBadResult
	}
	key := stateKey(id)
	err := m.rdb.Watch(ctx, func(tx *redis.Tx) error {
		var state State
		if err := getTxJSON(ctx, tx, key, &state); err != nil {
			return err
		}
		if state.Status == domain.StatusFinished {
			return errAlreadyDone
		}
		state.Status = domain.StatusFinished
		state.Winner = winner
		state.Reason = reason
		state.DrawOffer = nil
		state.UpdatedAt = m.now()

		pipe := tx.TxPipeline()
		pipe.Set(ctx, key, mustJSON(&state), recordTTL)
		_, err := pipe.Exec(ctx)
		return err
	}, key)
	if errors.Is(err, errAlreadyDone) {
		return false, nil
	}
	if err != nil {
		return false, mapTxErr(err)
	}

	winnerStr := ""
	if winner != nil {
		winnerStr = string(*winner)
	}
	obslog.L().Info("session_finish",
		zap.String("session_id", id),
		zap.String("winner", winnerStr),
		zap.String("reason", string(reason)),
	)
	m.publish(ctx, id, RecordState)
	m.afterFinish(ctx, id, winner, reason)
	return true, nil
}

// afterFinish persists and announces a finished game, best effort.
func (m *Manager) afterFinish(ctx context.Context, id string, winner *domain.Color, reason domain.Reason) {
	if m.repo != nil {
		snap, err := m.Load(ctx, id)
		if err == nil {
			err = m.repo.SaveGame(ctx, &archive.Game{
				SessionID: id,
				WhiteID:   snap.Seats.WhiteID,
				WhiteName: snap.Seats.WhiteName,
				BlackID:   snap.Seats.BlackID,
				BlackName: snap.Seats.BlackName,
				Winner:    winner,
				Reason:    reason,
				Moves:     snap.Moves.Moves,
				FEN:       snap.Moves.FEN,
				StartedAt: snap.Seats.CreatedAt,
				EndedAt:   m.now(),
			})
		}
		if err != nil {
			obslog.L().Error("session_archive_error", zap.String("session_id", id), zap.Error(err))
		}
	}
	if m.notifier != nil {
		if err := m.notifier.Publish(ctx, notify.Event{
			Kind:      notify.KindGameFinished,
			SessionID: id,
			Winner:    winner,
			Reason:    reason,
			At:        m.now(),
		}); err != nil {
			obslog.L().Warn("session_notify_error", zap.String("session_id", id), zap.Error(err))
		}
	}
}

// CheckTimeout finishes the game when the side on the move has run
// out of derived time. Idempotent: a concurrent finish wins.
func (m *Manager) CheckTimeout(ctx context.Context, id string) (bool, error) {
	var state State
	if err := m.getJSON(ctx, stateKey(id), &state); err != nil {
		return false, err
	}
	if state.Status != domain.StatusPlaying || state.LastMoveAt.IsZero() {
		return false, nil
	}
	active := state.ActiveColor()
	// The active side's first move never times out.
	if (active == domain.White && state.Ply == 0) || (active == domain.Black && state.Ply == 1) {
		return false, nil
	}
	left := clock.RemainingMs(m.timeLeftMs(&state, active), state.LastMoveAt, true, m.now())
	if left > 0 {
		return false, nil
	}
	return m.Finish(ctx, id, domain.WinnerOf(active.Opponent()), domain.ReasonTimeout)
}

// WatchClock polls for timeouts until the context ends or the session
// finishes.
func (m *Manager) WatchClock(ctx context.Context, id string, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var state State
			if err := m.getJSON(ctx, stateKey(id), &state); err != nil {
				if errors.Is(err, ErrSessionNotFound) {
					return
				}
				obslog.L().Warn("session_clock_watch_error", zap.String("session_id", id), zap.Error(err))
				continue
			}
			if state.Status == domain.StatusFinished {
				return
			}
			if _, err := m.CheckTimeout(ctx, id); err != nil {
				obslog.L().Warn("session_clock_watch_error", zap.String("session_id", id), zap.Error(err))
			}
		}
	}
}

// Subscribe streams record-change notifications for one session.
// The returned stop function must be called to release the
// subscription.
func (m *Manager) Subscribe(ctx context.Context, id string) (<-chan Update, func()) {
	pubsub := m.rdb.Subscribe(ctx, channelKey(id))
	out := make(chan Update, 16)

	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			var u Update
			if err := json.Unmarshal([]byte(msg.Payload), &u); err != nil {
				continue
			}
			select {
			case out <- u:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, func() { _ = pubsub.Close() }
}

// BumpUnread atomically increments a player's unread counter.
func (m *Manager) BumpUnread(ctx context.Context, id, playerID string) (int64, error) {
	n, err := m.rdb.HIncrBy(ctx, unreadKey(id), playerID, 1).Result()
	if err != nil {
		return 0, err
	}
	_ = m.rdb.Expire(ctx, unreadKey(id), recordTTL).Err()
	return n, nil
}

// ClearUnread resets a player's unread counter.
func (m *Manager) ClearUnread(ctx context.Context, id, playerID string) error {
	return m.rdb.HDel(ctx, unreadKey(id), playerID).Err()
}

func (m *Manager) Unread(ctx context.Context, id, playerID string) (int64, error) {
	raw, err := m.rdb.HGet(ctx, unreadKey(id), playerID).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}

// Helpers

func (m *Manager) timeLeftMs(state *State, c domain.Color) int64 {
	if c == domain.White {
		return state.WhiteTimeLeftMs
	}
	return state.BlackTimeLeftMs
}

func (m *Manager) publish(ctx context.Context, id string, kind RecordKind) {
	raw := mustJSON(&Update{SessionID: id, Record: kind})
	if err := m.rdb.Publish(ctx, channelKey(id), raw).Err(); err != nil {
		obslog.L().Warn("session_publish_error",
			zap.String("session_id", id),
			zap.String("record", string(kind)),
			zap.Error(err),
		)
	}
}

func (m *Manager) getJSON(ctx context.Context, key string, dst any) error {
	raw, err := m.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return ErrSessionNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

func getTxJSON(ctx context.Context, tx *redis.Tx, key string, dst any) error {
	raw, err := tx.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return ErrSessionNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

func mustJSON(v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}

// validResult checks the winner/reason pairing: decisive reasons name
// a winner, draw reasons do not.
func validResult(winner *domain.Color, reason domain.Reason) bool {
	switch reason {
	case domain.ReasonCheckmate, domain.ReasonResign, domain.ReasonTimeout:
		return winner != nil && winner.Valid()
	case domain.ReasonStalemate, domain.ReasonAgreement, domain.ReasonInsufficient, domain.ReasonDraw:
		return winner == nil
	default:
		return false
	}
}

func mapTxErr(err error) error {
	if errors.Is(err, redis.TxFailedErr) {
		return ErrConflict
	}
	return err
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func seatsKey(id string) string   { return "rc:session:" + strings.TrimSpace(id) + ":seats" }
func stateKey(id string) string   { return "rc:session:" + strings.TrimSpace(id) + ":state" }
func movesKey(id string) string   { return "rc:session:" + strings.TrimSpace(id) + ":moves" }
func unreadKey(id string) string  { return "rc:session:" + strings.TrimSpace(id) + ":unread" }
func channelKey(id string) string { return "rc:session:" + strings.TrimSpace(id) + ":events" }

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
