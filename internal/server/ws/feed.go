// Package ws serves the change feed over WebSocket for browser clients.
package ws

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/and161185/bloodlink/internal/convert"
	"github.com/and161185/bloodlink/internal/feed"
	"github.com/and161185/bloodlink/internal/model"
	grpcserver "github.com/and161185/bloodlink/internal/server/grpc"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Resolver turns a bearer token into the caller.
type Resolver interface {
	Resolve(ctx context.Context, token string) (model.CurrentUser, error)
}

// Feed opens change subscriptions.
type Feed interface {
	Open(ctx context.Context, tables ...model.Table) (*feed.Subscription, model.Snapshot, error)
	Close(sub *feed.Subscription)
}

// Handler streams FeedFrames as JSON text messages: a snapshot first, then
// each change. The socket is closed when the subscription ends.
type Handler struct {
	feed     Feed
	ident    Resolver
	log      *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler constructs the /feed handler. Empty origins accept any origin.
func NewHandler(f Feed, ident Resolver, origins []string, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handler{feed: f, ident: ident, log: log}
	h.upgrader.CheckOrigin = func(r *http.Request) bool {
		if len(origins) == 0 {
			return true
		}
		o := r.Header.Get("Origin")
		for _, allowed := range origins {
			if o == allowed {
				return true
			}
		}
		return false
	}
	return h
}

// token reads the Authorization header or, for browsers that cannot set
// headers on a WebSocket, the access_token query parameter.
func token(r *http.Request) (string, bool) {
	if vals := r.Header.Values("Authorization"); len(vals) > 0 {
		t, err := grpcserver.BearerToken(vals...)
		return t, err == nil
	}
	return r.URL.Query().Get("access_token"), true
}

func tables(r *http.Request) []string {
	raw := r.URL.Query().Get("tables")
	if raw == "" {
		return nil
	}
	var out []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tok, ok := token(r)
	if !ok {
		http.Error(w, "malformed authorization header", http.StatusUnauthorized)
		return
	}
	caller, err := h.ident.Resolve(r.Context(), tok)
	if err != nil || !caller.Authenticated {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}
	ts, err := convert.ParseTables(tables(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub, snap, err := h.feed.Open(ctx, ts...)
	if err != nil {
		h.log.Error("feed open failed", zap.Error(err))
		closeWith(conn, websocket.CloseInternalServerErr, "snapshot failed")
		return
	}
	defer h.feed.Close(sub)

	// client messages are ignored; reading drives pong and close handling
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(pongWait)) })
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	log := h.log.With(zap.String("user_id", caller.ID.String()))
	log.Info("ws feed opened", zap.Int64("as_of_seq", snap.AsOfSeq))

	snap = convert.RedactSnapshot(snap)
	if err := write(conn, model.FeedFrame{Snapshot: &snap}); err != nil {
		return
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("ws feed closed")
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case evt, ok := <-sub.Events():
			if !ok {
				log.Warn("ws feed ended", zap.Error(sub.Err()))
				closeWith(conn, websocket.CloseTryAgainLater, "resync")
				return
			}
			red, err := convert.RedactEvent(evt)
			if err != nil {
				log.Error("drop unredactable event", zap.Error(err), zap.Int64("seq", evt.Seq))
				continue
			}
			if err := write(conn, model.FeedFrame{Event: &red}); err != nil {
				return
			}
		}
	}
}

func write(conn *websocket.Conn, f model.FeedFrame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(f)
}

func closeWith(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

// NewServer returns an HTTP server exposing /feed and /healthz.
func NewServer(addr string, h *Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/feed", h)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
}
