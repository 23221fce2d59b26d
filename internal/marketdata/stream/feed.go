// Package stream is the live market data feed: a websocket client for the
// minute-aggregate bar stream.
//
// Handshake, sent as soon as the connection opens:
//
//	{"action":"authenticate","data":{"key_id":"...","secret_key":"..."}}
//	{"action":"listen","data":{"streams":["AM.AAPL","AM.MSFT"]}}
//
// Bars arrive as:
//
//	{"stream":"AM.AAPL","data":{"t":1718000000000,"c":192.31}}
package stream

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"signalbot/internal/model"

	"github.com/gorilla/websocket"
)

// Config holds configuration for the feed.
type Config struct {
	// URL of the stream, e.g. "wss://paper-api.alpaca.markets/stream"
	URL string

	KeyID     string
	SecretKey string
	Symbols   []string

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 2 seconds if zero.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration
}

func (c *Config) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

// Feed connects to the bar stream and pushes bars into a channel.
type Feed struct {
	cfg     Config
	symbols map[string]bool

	// Optional hooks (metrics / health).
	OnConnect    func()
	OnDisconnect func(err error)
	OnBar        func(ev model.BarEvent)
	OnDrop       func(ev model.BarEvent) // output channel full
}

// New creates a Feed. Returns an error if the URL is unparseable or no
// symbols are configured.
func New(cfg Config) (*Feed, error) {
	cfg.defaults()
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("stream: parse url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("stream: unsupported scheme %q", u.Scheme)
	}
	if len(cfg.Symbols) == 0 {
		return nil, errors.New("stream: no symbols configured")
	}

	f := &Feed{cfg: cfg, symbols: make(map[string]bool, len(cfg.Symbols))}
	for _, s := range cfg.Symbols {
		f.symbols[strings.ToUpper(s)] = true
	}
	return f, nil
}

// Run connects and streams bars into out until ctx is cancelled.
// Reconnects with exponential backoff on transport failures. Returns
// ErrUnauthorized if the server rejects the credentials, nil on shutdown.
func (f *Feed) Run(ctx context.Context, out chan<- model.BarEvent) error {
	delay := f.cfg.ReconnectDelay

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		connected, err := f.runOnce(ctx, out)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrUnauthorized) {
			log.Printf("[stream] %v, giving up", err)
			return err
		}
		if connected {
			delay = f.cfg.ReconnectDelay
		}

		log.Printf("[stream] disconnected (%v), reconnecting in %s...", err, delay)
		if f.OnDisconnect != nil {
			f.OnDisconnect(err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > f.cfg.MaxReconnectDelay {
			delay = f.cfg.MaxReconnectDelay
		}
	}
}

// runOnce makes a single connection attempt and reads until disconnect or
// ctx cancel. connected reports whether the dial succeeded.
func (f *Feed) runOnce(ctx context.Context, out chan<- model.BarEvent) (connected bool, err error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	log.Printf("[stream] connected to %s", f.cfg.URL)
	if f.OnConnect != nil {
		f.OnConnect()
	}

	if err := conn.WriteJSON(AuthenticateMessage(f.cfg.KeyID, f.cfg.SecretKey)); err != nil {
		return true, fmt.Errorf("send authenticate: %w", err)
	}
	if err := conn.WriteJSON(ListenMessage(f.cfg.Symbols)); err != nil {
		return true, fmt.Errorf("send listen: %w", err)
	}

	// Closes the connection when ctx is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
				time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return true, nil
			default:
			}
			return true, err
		}

		events, controls, err := ParseMessage(raw)
		if err != nil {
			log.Printf("[stream] parse error: %v (raw: %s)", err, raw)
		}
		for _, c := range controls {
			switch c.Stream {
			case streamAuthorization:
				if c.Status != "authorized" {
					return true, fmt.Errorf("%w (status=%q)", ErrUnauthorized, c.Status)
				}
				log.Println("[stream] authorized")
			case streamListening:
				log.Printf("[stream] listening to %v", c.Streams)
			}
		}
		for _, ev := range events {
			if !f.symbols[ev.Symbol] {
				continue
			}
			if f.OnBar != nil {
				f.OnBar(ev)
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return true, nil
			default:
				log.Printf("[stream] output full, dropping %s bar", ev.Symbol)
				if f.OnDrop != nil {
					f.OnDrop(ev)
				}
			}
		}
	}
}
