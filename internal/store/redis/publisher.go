// Package redis publishes indicator snapshots and trade signals so
// dashboards and other services can follow the bot in real time.
//
// Key layout, per symbol:
//
//	ind:latest:<SYM>   latest snapshot JSON (SET with TTL)
//	ind:<SYM>          snapshot stream (XADD, trimmed)
//	signals:<SYM>      signal stream (XADD, trimmed)
//	pub:ind:<SYM>      pubsub channel for snapshots
//	pub:signal:<SYM>   pubsub channel for signals
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"signalbot/internal/indicator"
	"signalbot/internal/strategy"

	goredis "github.com/go-redis/redis/v8"
)

const (
	snapshotStreamMaxLen = 2000
	signalStreamMaxLen   = 10000
	defaultLatestTTL     = 24 * time.Hour
)

// Config configures the Redis publisher.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

type kind string

const (
	kindSnapshot kind = "snapshot"
	kindSignal   kind = "signal"
)

// message is one encoded publish, kept as JSON so it can be buffered while
// Redis is unreachable.
type message struct {
	Kind   kind
	Symbol string
	Data   string
}

// SnapshotMessage is the JSON published for an indicator snapshot.
type SnapshotMessage struct {
	Symbol string             `json:"symbol"`
	TS     int64              `json:"ts"` // epoch ms of the bar
	Data   indicator.Snapshot `json:"data"`
}

// SignalMessage is the JSON published for a non-Hold decision.
type SignalMessage struct {
	Symbol string          `json:"symbol"`
	TS     int64           `json:"ts"`
	Action strategy.Action `json:"action"`
	Rule   string          `json:"rule"`
	Reason string          `json:"reason"`
}

func snapshotMessage(symbol string, ts time.Time, snap indicator.Snapshot) message {
	b, _ := json.Marshal(SnapshotMessage{Symbol: symbol, TS: ts.UnixMilli(), Data: snap})
	return message{Kind: kindSnapshot, Symbol: symbol, Data: string(b)}
}

func signalMessage(symbol string, ts time.Time, dec strategy.Decision) message {
	b, _ := json.Marshal(SignalMessage{
		Symbol: symbol, TS: ts.UnixMilli(),
		Action: dec.Action, Rule: dec.Rule, Reason: dec.Reason,
	})
	return message{Kind: kindSignal, Symbol: symbol, Data: string(b)}
}

// LatestKey is the key holding the latest snapshot of symbol.
func LatestKey(symbol string) string { return "ind:latest:" + symbol }

// SnapshotStream is the stream of snapshots of symbol.
func SnapshotStream(symbol string) string { return "ind:" + symbol }

// SignalStream is the stream of signals of symbol.
func SignalStream(symbol string) string { return "signals:" + symbol }

// Channel returns the pubsub channel for a message kind.
func channel(k kind, symbol string) string {
	if k == kindSignal {
		return "pub:signal:" + symbol
	}
	return "pub:ind:" + symbol
}

// sink performs the actual write. *Publisher is the Redis implementation.
type sink interface {
	write(ctx context.Context, m message) error
}

// Publisher writes snapshots and signals to Redis.
type Publisher struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// New creates a Publisher and pings the server.
func New(cfg Config) (*Publisher, error) {
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

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Publisher{client: client}, nil
}

// write performs one pipelined XADD (+ SET for snapshots) + PUBLISH.
func (p *Publisher) write(ctx context.Context, m message) error {
	pipe := p.client.Pipeline()

	switch m.Kind {
	case kindSnapshot:
		pipe.Set(ctx, LatestKey(m.Symbol), m.Data, defaultLatestTTL)
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: SnapshotStream(m.Symbol),
			MaxLen: snapshotStreamMaxLen,
			Approx: true,
			Values: map[string]interface{}{"data": m.Data},
		})
	case kindSignal:
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: SignalStream(m.Symbol),
			MaxLen: signalStreamMaxLen,
			Approx: true,
			Values: map[string]interface{}{"data": m.Data},
		})
	}
	pipe.Publish(ctx, channel(m.Kind, m.Symbol), m.Data)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis %s pipeline for %s: %w", m.Kind, m.Symbol, err)
	}
	return nil
}

// LatestSnapshot reads the latest published snapshot of symbol.
// Returns ok=false when none is stored.
func (p *Publisher) LatestSnapshot(ctx context.Context, symbol string) (SnapshotMessage, bool, error) {
	data, err := p.client.Get(ctx, LatestKey(symbol)).Result()
	if err == goredis.Nil {
		return SnapshotMessage{}, false, nil
	}
	if err != nil {
		return SnapshotMessage{}, false, fmt.Errorf("redis GET %s: %w", LatestKey(symbol), err)
	}
	out, err := decodeSnapshot(data)
	if err != nil {
		return out, false, err
	}
	return out, true, nil
}

// RecentSignals returns up to n signals of symbol, newest first.
func (p *Publisher) RecentSignals(ctx context.Context, symbol string, n int64) ([]SignalMessage, error) {
	msgs, err := p.client.XRevRangeN(ctx, SignalStream(symbol), "+", "-", n).Result()
	if err != nil {
		return nil, fmt.Errorf("redis XREVRANGE %s: %w", SignalStream(symbol), err)
	}
	return decodeSignals(msgs), nil
}

func decodeSnapshot(data string) (SnapshotMessage, error) {
	var out SnapshotMessage
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return out, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return out, nil
}

// decodeSignals skips entries without a decodable data field.
func decodeSignals(msgs []goredis.XMessage) []SignalMessage {
	out := make([]SignalMessage, 0, len(msgs))
	for _, m := range msgs {
		raw, ok := m.Values["data"].(string)
		if !ok {
			continue
		}
		var s SignalMessage
		if json.Unmarshal([]byte(raw), &s) == nil {
			out = append(out, s)
		}
	}
	return out
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
