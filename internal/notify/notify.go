package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/karchx/randomchess/internal/domain"
)

// Event is the fire-and-forget webhook payload sent on session
// lifecycle changes.
type Event struct {
	Kind      string        `json:"kind"`
	SessionID string        `json:"session_id"`
	Winner    *domain.Color `json:"winner,omitempty"`
	Reason    domain.Reason `json:"reason,omitempty"`
	At        time.Time     `json:"at"`
}

const (
	KindSessionCreated = "session_created"
	KindGameFinished   = "game_finished"
)

// Notifier delivers events to an external receiver.
type Notifier interface {
	Publish(ctx context.Context, ev Event) error
}

// New builds a notifier for the given transport mode. "ws" writes
// JSON frames over a websocket, "http" posts to a webhook URL, and
// "auto" prefers the websocket with a single HTTP fallback.
func New(mode, httpURL, wsURL string, logger *zap.Logger) (Notifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "ws":
		if strings.TrimSpace(wsURL) == "" {
			return nil, errors.New("ws notifier needs a url")
		}
		return newWSNotifier(wsURL, logger), nil
	case "auto":
		if strings.TrimSpace(wsURL) == "" || strings.TrimSpace(httpURL) == "" {
			return nil, errors.New("auto notifier needs both urls")
		}
		return &autoNotifier{
			ws:     newWSNotifier(wsURL, logger),
			http:   newHTTPNotifier(httpURL),
			logger: logger,
		}, nil
	default:
		if strings.TrimSpace(httpURL) == "" {
			return nil, errors.New("http notifier needs a url")
		}
		return newHTTPNotifier(httpURL), nil
	}
}

// httpNotifier posts events as JSON to a webhook URL.
type httpNotifier struct {
	url    string
	client *fasthttp.Client
}

func newHTTPNotifier(url string) *httpNotifier {
	return &httpNotifier{
		url: strings.TrimRight(strings.TrimSpace(url), "/"),
		client: &fasthttp.Client{
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			MaxConnsPerHost: 16,
		},
	}
}

func (h *httpNotifier) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(h.url)
	req.Header.SetContentType("application/json")
	req.SetBody(payload)

	deadline := time.Now().Add(10 * time.Second)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := h.client.DoDeadline(req, resp, deadline); err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	if status := resp.StatusCode(); status < 200 || status >= 300 {
		return fmt.Errorf("webhook status %d", status)
	}
	return nil
}

// wsNotifier keeps a lazily dialed websocket and writes events as
// JSON frames. A failed write drops the connection so the next
// publish redials.
type wsNotifier struct {
	url    string
	logger *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

func newWSNotifier(url string, logger *zap.Logger) *wsNotifier {
	return &wsNotifier{url: strings.TrimSpace(url), logger: logger}
}

func (w *wsNotifier) Publish(ctx context.Context, ev Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	dctx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}

	if w.conn == nil {
		conn, _, err := websocket.Dial(dctx, w.url, nil)
		if err != nil {
			return fmt.Errorf("ws dial: %w", err)
		}
		w.conn = conn
	}

	if err := wsjson.Write(dctx, w.conn, ev); err != nil {
		w.conn.Close(websocket.StatusInternalError, "write failed")
		w.conn = nil
		return fmt.Errorf("ws write: %w", err)
	}
	return nil
}

func (w *wsNotifier) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close(websocket.StatusNormalClosure, "shutdown")
		w.conn = nil
	}
}

// autoNotifier prefers the websocket with a single HTTP fallback.
type autoNotifier struct {
	ws     *wsNotifier
	http   *httpNotifier
	logger *zap.Logger
}

func (a *autoNotifier) Publish(ctx context.Context, ev Event) error {
	err := a.ws.Publish(ctx, ev)
	if err == nil {
		return nil
	}
	a.logger.Warn("notify_fallback",
		zap.String("kind", ev.Kind),
		zap.String("session_id", ev.SessionID),
		zap.Error(err),
	)
	return a.http.Publish(ctx, ev)
}
