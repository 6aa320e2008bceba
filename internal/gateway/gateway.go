// Package gateway exposes the session manager over HTTP and pushes
// record changes to clients over a websocket.
package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	nchess "github.com/corentings/chess/v2"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/karchx/randomchess/internal/board"
	"github.com/karchx/randomchess/internal/card"
	"github.com/karchx/randomchess/internal/clock"
	"github.com/karchx/randomchess/internal/domain"
	"github.com/karchx/randomchess/internal/obslog"
	"github.com/karchx/randomchess/internal/session"
	"github.com/karchx/randomchess/pkg/gamedto"
)

type Server struct {
	mgr      *session.Manager
	renderer board.Renderer

	defaultTimeLimit time.Duration
}

func NewServer(mgr *session.Manager, defaultTimeLimit time.Duration) *Server {
	if defaultTimeLimit <= 0 {
		defaultTimeLimit = 10 * time.Minute
	}
	return &Server{
		mgr:              mgr,
		renderer:         board.NewRenderer(),
		defaultTimeLimit: defaultTimeLimit,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions", s.handleCreate)
	mux.HandleFunc("GET /sessions/{id}", s.handleSnapshot)
	mux.HandleFunc("POST /sessions/{id}/seat", s.handleSeat)
	mux.HandleFunc("POST /sessions/{id}/arrive", s.handleArrive)
	mux.HandleFunc("POST /sessions/{id}/first-card", s.handleFirstCard)
	mux.HandleFunc("POST /sessions/{id}/moves", s.handleAppendMove)
	mux.HandleFunc("POST /sessions/{id}/draw", s.handleDrawOffer)
	mux.HandleFunc("POST /sessions/{id}/draw-answer", s.handleDrawAnswer)
	mux.HandleFunc("POST /sessions/{id}/resign", s.handleResign)
	mux.HandleFunc("GET /sessions/{id}/board.png", s.handleBoard)
	mux.HandleFunc("GET /sessions/{id}/ws", s.handleWS)
	return mux
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req gamedto.CreateSessionRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid json")
			return
		}
	}
	limit := s.defaultTimeLimit
	if req.TimeLimitMs > 0 {
		limit = time.Duration(req.TimeLimitMs) * time.Millisecond
	}
	id, err := s.mgr.Create(r.Context(), limit)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, gamedto.CreateSessionResponse{SessionID: id})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.mgr.Load(r.Context(), r.PathValue("id"))
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(snap))
}

func (s *Server) handleSeat(w http.ResponseWriter, r *http.Request) {
	var req gamedto.ClaimSeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}
	if err := s.mgr.ClaimSeat(r.Context(), r.PathValue("id"), req.Color, req.PlayerID, req.Name); err != nil {
		writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleArrive(w http.ResponseWriter, r *http.Request) {
	var req gamedto.ArriveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}
	if err := s.mgr.Arrive(r.Context(), r.PathValue("id"), req.Color, req.PlayerID); err != nil {
		writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFirstCard(w http.ResponseWriter, r *http.Request) {
	var req gamedto.FirstCardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}
	if err := s.mgr.SetFirstCard(r.Context(), r.PathValue("id"), req.Card); err != nil {
		writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAppendMove(w http.ResponseWriter, r *http.Request) {
	var req gamedto.AppendMoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}
	applied, err := s.mgr.AppendMove(r.Context(), r.PathValue("id"), req.Move, req.FEN, req.PGN)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, gamedto.AppendMoveResponse{Applied: applied})
}

func (s *Server) handleDrawOffer(w http.ResponseWriter, r *http.Request) {
	var req gamedto.DrawOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}
	if err := s.mgr.OfferDraw(r.Context(), r.PathValue("id"), req.By); err != nil {
		writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDrawAnswer(w http.ResponseWriter, r *http.Request) {
	var req gamedto.DrawAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}
	if err := s.mgr.AnswerDraw(r.Context(), r.PathValue("id"), req.Accept); err != nil {
		writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResign(w http.ResponseWriter, r *http.Request) {
	var req gamedto.ResignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}
	if err := s.mgr.Resign(r.Context(), r.PathValue("id"), req.By); err != nil {
		writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleBoard renders the current position. With from= and card= set
// the destinations of that square which satisfy the card are
// highlighted.
func (s *Server) handleBoard(w http.ResponseWriter, r *http.Request) {
	snap, err := s.mgr.Load(r.Context(), r.PathValue("id"))
	if err != nil {
		writeSessionError(w, err)
		return
	}

	game := nchess.NewGame()
	if fen := strings.TrimSpace(snap.Moves.FEN); fen != "" {
		opt, ferr := nchess.FEN(fen)
		if ferr != nil {
			writeError(w, http.StatusInternalServerError, "internal", "stored position is invalid")
			return
		}
		game = nchess.NewGame(opt)
	}

	opts := board.Options{Orientation: domain.White, Origin: nchess.NoSquare}
	if q := strings.TrimSpace(r.URL.Query().Get("orientation")); q == string(domain.Black) {
		opts.Orientation = domain.Black
	}
	if n := len(snap.Moves.Moves); n > 0 {
		last := snap.Moves.Moves[n-1]
		if from, to, ok := squarePair(last.From, last.To); ok {
			opts.LastMove = &board.MoveHighlight{From: from, To: to}
		}
	}
	if fromStr := strings.TrimSpace(r.URL.Query().Get("from")); fromStr != "" {
		from, ok := parseSquare(fromStr)
		if !ok {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid from square")
			return
		}
		opts.Origin = from
		opts.Targets = cardTargets(game, from, r.URL.Query().Get("card"))
	}

	data, err := s.renderer.RenderPNG(r.Context(), game.Position().Board(), opts)
	if err != nil {
		obslog.L().Error("gateway_render_error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "render failed")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.mgr.Load(r.Context(), id); err != nil {
		writeSessionError(w, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		obslog.L().Warn("gateway_ws_accept_error", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	ctx := r.Context()
	updates, stop := s.mgr.Subscribe(ctx, id)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			ev := gamedto.SessionEvent{SessionID: u.SessionID, Record: string(u.Record)}
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				return
			}
		}
	}
}

// cardTargets lists the destinations of one square whose moves
// satisfy the card token. An empty or unparseable token allows every
// legal move from that square.
func cardTargets(game *nchess.Game, from nchess.Square, token string) []nchess.Square {
	c := card.Any
	if parsed, err := card.Parse(token); err == nil {
		c = parsed
	}
	var targets []nchess.Square
	moves := game.ValidMoves()
	for i := range moves {
		mv := &moves[i]
		if mv.S1() != from {
			continue
		}
		if !card.Satisfies(c, game, mv) {
			continue
		}
		dup := false
		for _, t := range targets {
			if t == mv.S2() {
				dup = true
				break
			}
		}
		if !dup {
			targets = append(targets, mv.S2())
		}
	}
	return targets
}

func viewOf(snap *session.Snapshot) gamedto.SessionView {
	state := gamedto.StateView{
		Status:          snap.State.Status,
		ActiveColor:     snap.State.ActiveColor(),
		FirstCard:       snap.State.FirstCard,
		WhiteTimeLeftMs: snap.State.WhiteTimeLeftMs,
		BlackTimeLeftMs: snap.State.BlackTimeLeftMs,
		Ply:             snap.State.Ply,
		Winner:          snap.State.Winner,
		Reason:          snap.State.Reason,
		UpdatedAt:       snap.State.UpdatedAt,
	}
	if snap.State.DrawOffer != nil {
		by := snap.State.DrawOffer.By
		state.DrawOfferBy = &by
	}

	// Derive the active side's running clock for display. The first
	// move of each color does not run it.
	if snap.State.Status == domain.StatusPlaying && !snap.State.LastMoveAt.IsZero() && snap.State.Ply >= 2 {
		left := clock.RemainingMs(stateTimeLeft(&snap.State), snap.State.LastMoveAt, true, time.Now())
		if snap.State.ActiveColor() == domain.White {
			state.WhiteTimeLeftMs = left
		} else {
			state.BlackTimeLeftMs = left
		}
	}

	return gamedto.SessionView{
		ID: snap.ID,
		Seats: gamedto.SeatsView{
			WhiteID:   snap.Seats.WhiteID,
			WhiteName: snap.Seats.WhiteName,
			BlackID:   snap.Seats.BlackID,
			BlackName: snap.Seats.BlackName,
		},
		State: state,
		Moves: snap.Moves.Moves,
		FEN:   snap.Moves.FEN,
		PGN:   snap.Moves.PGN,
	}
}

func stateTimeLeft(state *session.State) int64 {
	if state.ActiveColor() == domain.White {
		return state.WhiteTimeLeftMs
	}
	return state.BlackTimeLeftMs
}

func squarePair(fromStr, toStr string) (nchess.Square, nchess.Square, bool) {
	from, ok := parseSquare(fromStr)
	if !ok {
		return nchess.NoSquare, nchess.NoSquare, false
	}
	to, ok := parseSquare(toStr)
	if !ok {
		return nchess.NoSquare, nchess.NoSquare, false
	}
	return from, to, true
}

func parseSquare(s string) (nchess.Square, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != 2 || s[0] < 'a' || s[0] > 'h' || s[1] < '1' || s[1] > '8' {
		return nchess.NoSquare, false
	}
	return nchess.NewSquare(nchess.File(s[0]-'a'), nchess.Rank(s[1]-'1')), true
}

func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, session.ErrSeatTaken):
		writeError(w, http.StatusConflict, "seat_taken", err.Error())
	case errors.Is(err, session.ErrNotSeated):
		writeError(w, http.StatusForbidden, "not_seated", err.Error())
	case errors.Is(err, session.ErrMoveGap):
		writeError(w, http.StatusConflict, "move_gap", err.Error())
	case errors.Is(err, session.ErrNotYourTurn):
		writeError(w, http.StatusConflict, "not_your_turn", err.Error())
	case errors.Is(err, session.ErrNotPlaying):
		writeError(w, http.StatusConflict, "not_playing", err.Error())
	case errors.Is(err, session.ErrOfferPending):
		writeError(w, http.StatusConflict, "offer_pending", err.Error())
	case errors.Is(err, session.ErrNoOffer):
		writeError(w, http.StatusConflict, "no_offer", err.Error())
	case errors.Is(err, session.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	default:
		obslog.L().Error("gateway_internal_error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, gamedto.ErrorResponse{Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		obslog.L().Warn("gateway_encode_error", zap.Error(err))
	}
}
