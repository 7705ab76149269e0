package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/and161185/bloodlink/internal/model"
)

// DefaultChannel is the NOTIFY channel written by the change triggers.
const DefaultChannel = "bloodlink_changes"

type waiter interface {
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
}

// Listener turns Postgres NOTIFY payloads into hub events.
type Listener struct {
	pool    *pgxpool.Pool
	hub     *Hub
	channel string
	log     *zap.Logger

	minBackoff time.Duration
	maxBackoff time.Duration
}

// NewListener creates a listener on channel (DefaultChannel when empty).
func NewListener(pool *pgxpool.Pool, hub *Hub, channel string, log *zap.Logger) *Listener {
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Listener{
		pool: pool, hub: hub, channel: channel, log: log,
		minBackoff: 200 * time.Millisecond, maxBackoff: 10 * time.Second,
	}
}

// Run listens until ctx is done, reconnecting with backoff. Every reconnect
// invalidates current subscriptions because notifications sent while the
// connection was down are lost.
func (l *Listener) Run(ctx context.Context) error {
	backoff := l.minBackoff
	for {
		err := l.listenOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		l.log.Warn("change listener disconnected", zap.Error(err), zap.Duration("retry_in", backoff))
		l.hub.Invalidate(ErrFeedGap)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > l.maxBackoff {
			backoff = l.maxBackoff
		}
	}
}

func (l *Listener) listenOnce(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	l.log.Info("listening for changes", zap.String("channel", l.channel))
	return l.pump(ctx, conn.Conn())
}

func (l *Listener) pump(ctx context.Context, w waiter) error {
	for {
		n, err := w.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		evt, err := DecodeNotification([]byte(n.Payload))
		if err != nil {
			l.log.Error("bad change payload", zap.Error(err), zap.String("channel", n.Channel))
			continue
		}
		l.hub.Publish(evt)
	}
}

type notification struct {
	Table model.Table     `json:"table"`
	Op    model.Op        `json:"op"`
	Old   json.RawMessage `json:"old"`
	New   json.RawMessage `json:"new"`
}

// DecodeNotification parses a trigger payload into a ChangeEvent without a sequence number.
func DecodeNotification(payload []byte) (model.ChangeEvent, error) {
	var n notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return model.ChangeEvent{}, fmt.Errorf("decode: %w", err)
	}
	evt := model.ChangeEvent{Table: n.Table, Op: n.Op, Old: nullToNil(n.Old), New: nullToNil(n.New)}
	if err := Validate(evt); err != nil {
		return model.ChangeEvent{}, err
	}
	return evt, nil
}

// Validate checks that evt names a watched table and carries the rows its op needs.
func Validate(evt model.ChangeEvent) error {
	known := false
	for _, t := range model.WatchedTables {
		if t == evt.Table {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("unknown table %q", evt.Table)
	}
	switch evt.Op {
	case model.OpInsert:
		if evt.New == nil {
			return errors.New("insert without new row")
		}
	case model.OpUpdate:
		if evt.New == nil {
			return errors.New("update without new row")
		}
	case model.OpDelete:
		if evt.Old == nil {
			return errors.New("delete without old row")
		}
	default:
		return fmt.Errorf("unknown op %q", evt.Op)
	}
	return nil
}

func nullToNil(r json.RawMessage) json.RawMessage {
	if len(r) == 0 || string(r) == "null" {
		return nil
	}
	return r
}
