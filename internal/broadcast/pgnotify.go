package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// envelope tags a payload with the sending transport so that NOTIFY echoes
// can be dropped; postgres delivers a notification to its own session too.
type envelope struct {
	Origin  string          `json:"origin"`
	Message json.RawMessage `json:"message"`
}

// PGNotify carries messages between processes through postgres
// LISTEN/NOTIFY on a single channel.
type PGNotify struct {
	channel string
	origin  string
	pool    *pgxpool.Pool
	listen  *pgx.Conn

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	started  bool
	received chan struct{}
}

func DialPG(ctx context.Context, dsn, channel string) (*PGNotify, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pg pool: %w", err)
	}
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg listen conn: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		_ = conn.Close(ctx)
		pool.Close()
		return nil, fmt.Errorf("listen %s: %w", channel, err)
	}
	lctx, cancel := context.WithCancel(context.Background())
	return &PGNotify{
		channel:  channel,
		origin:   uuid.NewString(),
		pool:     pool,
		listen:   conn,
		ctx:      lctx,
		cancel:   cancel,
		received: make(chan struct{}),
	}, nil
}

func encodeEnvelope(origin string, msg Message) ([]byte, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Origin: origin, Message: raw})
}

// decodeEnvelope returns ok=false for echoes of our own posts and for
// payloads that are not recognised messages.
func decodeEnvelope(origin string, payload []byte) (Message, bool) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Message{}, false
	}
	if env.Origin == origin {
		return Message{}, false
	}
	return Decode(env.Message)
}

func (p *PGNotify) Post(msg Message) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrClosed
	}
	payload, err := encodeEnvelope(p.origin, msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(p.ctx, 5*time.Second)
	defer cancel()
	if _, err := p.pool.Exec(ctx, "SELECT pg_notify($1, $2)", p.channel, string(payload)); err != nil {
		return fmt.Errorf("pg_notify: %w", err)
	}
	return nil
}

func (p *PGNotify) Subscribe(handler func(Message)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.started {
		return nil
	}
	p.started = true
	go p.receive(handler)
	return nil
}

func (p *PGNotify) receive(handler func(Message)) {
	defer close(p.received)
	for {
		n, err := p.listen.WaitForNotification(p.ctx)
		if err != nil {
			if p.ctx.Err() == nil {
				slog.Warn("broadcast_pg_listen_failed", "channel", p.channel, "error", err)
			}
			return
		}
		if msg, ok := decodeEnvelope(p.origin, []byte(n.Payload)); ok {
			handler(msg)
		}
	}
}

func (p *PGNotify) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	started := p.started
	p.mu.Unlock()

	p.cancel()
	if started {
		<-p.received
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := p.listen.Close(ctx)
	p.pool.Close()
	return err
}
