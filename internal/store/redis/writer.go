package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"nsebse-gap/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	// LatestKey holds the most recent snapshot as JSON.
	LatestKey = "gap:latest"
	// Channel receives every snapshot as it is published.
	Channel = "pub:gap"

	defaultLatestTTL = 30 * time.Minute
)

// WriterConfig configures the Redis publisher.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int

	LatestTTL time.Duration
	Breaker   *CircuitBreaker
	Logger    *slog.Logger

	// OnPublish is called after every attempt that reached Redis or was
	// rejected by the breaker.
	OnPublish func(took time.Duration, err error)
}

// Writer publishes gap snapshots to Redis: SET gap:latest and PUBLISH pub:gap
// in one pipeline, guarded by a circuit breaker.
type Writer struct {
	client    *goredis.Client
	breaker   *CircuitBreaker
	ttl       time.Duration
	log       *slog.Logger
	onPublish func(time.Duration, error)
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// Breaker returns the circuit breaker guarding publishes.
func (w *Writer) Breaker() *CircuitBreaker { return w.breaker }

// New creates a Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	w := NewWithClient(client, cfg)
	w.log.Info("redis connected", slog.String("addr", cfg.Addr))
	return w, nil
}

// NewWithClient wraps an existing client without pinging it.
func NewWithClient(client *goredis.Client, cfg WriterConfig) *Writer {
	w := &Writer{
		client:    client,
		breaker:   cfg.Breaker,
		ttl:       cfg.LatestTTL,
		log:       cfg.Logger,
		onPublish: cfg.OnPublish,
	}
	if w.breaker == nil {
		w.breaker = NewCircuitBreaker(5, 10*time.Second)
	}
	if w.ttl <= 0 {
		w.ttl = defaultLatestTTL
	}
	if w.log == nil {
		w.log = slog.Default()
	}
	return w
}

// Publish writes snap as the latest snapshot and announces it on Channel.
// While the breaker is open it returns ErrCircuitOpen without touching Redis;
// a later snapshot supersedes anything that could not be sent.
func (w *Writer) Publish(ctx context.Context, snap model.GapSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis marshal snapshot: %w", err)
	}

	start := time.Now()
	err = w.breaker.Execute(func() error {
		pipe := w.client.Pipeline()
		pipe.Set(ctx, LatestKey, data, w.ttl)
		pipe.Publish(ctx, Channel, data)
		_, err := pipe.Exec(ctx)
		return err
	})
	if w.onPublish != nil {
		w.onPublish(time.Since(start), err)
	}
	if err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Latest reads back the stored snapshot. It returns goredis.Nil when none is set.
func (w *Writer) Latest(ctx context.Context) (model.GapSnapshot, error) {
	var snap model.GapSnapshot
	data, err := w.client.Get(ctx, LatestKey).Bytes()
	if err != nil {
		return snap, err
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("redis decode snapshot: %w", err)
	}
	return snap, nil
}

// Close closes the Redis connection.
func (w *Writer) Close() error {
	return w.client.Close()
}
