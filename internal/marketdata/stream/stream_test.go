package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"signalbot/internal/model"

	"github.com/gorilla/websocket"
)

// ────────────────────────────────────────────────────────────
// ParseMessage
// ────────────────────────────────────────────────────────────

func TestParseMessage_Bar(t *testing.T) {
	events, controls, err := ParseMessage([]byte(`{"stream":"AM.AAPL","data":{"t":1718000000000,"c":192.31,"o":191.9}}`))
	if err != nil {
		t.Fatal(err)
	}
	if len(controls) != 0 || len(events) != 1 {
		t.Fatalf("events=%d controls=%d", len(events), len(controls))
	}
	ev := events[0]
	if ev.Symbol != "AAPL" || ev.Bar.Close != 192.31 || ev.Bar.TS.UnixMilli() != 1718000000000 {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.Bar.TS.Location() != time.UTC {
		t.Errorf("bar time should be UTC, got %s", ev.Bar.TS.Location())
	}
}

func TestParseMessage_ArrayAndControl(t *testing.T) {
	raw := `[{"stream":"authorization","data":{"status":"authorized","action":"authenticate"}},
	         {"stream":"AM.MSFT","data":{"t":1,"c":410.5}}]`
	events, controls, err := ParseMessage([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Symbol != "MSFT" {
		t.Errorf("unexpected events: %+v", events)
	}
	if len(controls) != 1 || controls[0].Stream != "authorization" || controls[0].Status != "authorized" {
		t.Errorf("unexpected controls: %+v", controls)
	}
}

func TestParseMessage_Errors(t *testing.T) {
	for _, raw := range []string{`not json`, `{"stream":"AM.AAPL","data":{"c":1}}`, `{"stream":"AM.AAPL","data":"x"}`} {
		if _, _, err := ParseMessage([]byte(raw)); err == nil {
			t.Errorf("expected error for %q", raw)
		}
	}
}

func TestHandshakeMessages(t *testing.T) {
	b, _ := json.Marshal(AuthenticateMessage("key", "secret"))
	if string(b) != `{"action":"authenticate","data":{"key_id":"key","secret_key":"secret"}}` {
		t.Errorf("authenticate = %s", b)
	}
	b, _ = json.Marshal(ListenMessage([]string{"aapl", "MSFT"}))
	if string(b) != `{"action":"listen","data":{"streams":["AM.AAPL","AM.MSFT"]}}` {
		t.Errorf("listen = %s", b)
	}
}

// ────────────────────────────────────────────────────────────
// Feed against an in-process server
// ────────────────────────────────────────────────────────────

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// serve runs handle for each connection, after reading the two handshake
// messages and passing them in.
func serve(t *testing.T, handle func(conn *websocket.Conn, n int, handshake []ClientMessage)) *httptest.Server {
	t.Helper()
	var conns int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := int(atomic.AddInt32(&conns, 1))

		var hs []ClientMessage
		for i := 0; i < 2; i++ {
			var m ClientMessage
			if err := conn.ReadJSON(&m); err != nil {
				return
			}
			hs = append(hs, m)
		}
		handle(conn, n, hs)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func send(conn *websocket.Conn, v string) {
	conn.WriteMessage(websocket.TextMessage, []byte(v))
}

func TestFeed_StreamsConfiguredSymbols(t *testing.T) {
	gotHandshake := make(chan []ClientMessage, 1)
	srv := serve(t, func(conn *websocket.Conn, _ int, hs []ClientMessage) {
		gotHandshake <- hs
		send(conn, `{"stream":"authorization","data":{"status":"authorized","action":"authenticate"}}`)
		send(conn, `{"stream":"listening","data":{"streams":["AM.AAPL","AM.MSFT"]}}`)
		send(conn, `{"stream":"AM.AAPL","data":{"t":1000,"c":190.5}}`)
		send(conn, `{"stream":"AM.TSLA","data":{"t":1000,"c":250}}`)
		send(conn, `{"stream":"AM.MSFT","data":{"t":1000,"c":410}}`)
		// keep the connection open until the client goes away
		conn.ReadMessage()
	})

	f, err := New(Config{URL: wsURL(srv), KeyID: "k", SecretKey: "s", Symbols: []string{"AAPL", "MSFT"}})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan model.BarEvent, 10)
	errCh := make(chan error, 1)
	go func() { errCh <- f.Run(ctx, out) }()

	var got []model.BarEvent
	for len(got) < 2 {
		select {
		case ev := <-out:
			got = append(got, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out, got %d bars", len(got))
		}
	}
	if got[0].Symbol != "AAPL" || got[1].Symbol != "MSFT" {
		t.Errorf("unexpected bars: %+v", got)
	}

	hs := <-gotHandshake
	if hs[0].Action != "authenticate" || hs[1].Action != "listen" {
		t.Errorf("unexpected handshake: %+v", hs)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run returned %v on shutdown", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestFeed_UnauthorizedIsFatal(t *testing.T) {
	srv := serve(t, func(conn *websocket.Conn, _ int, _ []ClientMessage) {
		send(conn, `{"stream":"authorization","data":{"status":"unauthorized","action":"authenticate"}}`)
		conn.ReadMessage()
	})

	f, _ := New(Config{URL: wsURL(srv), Symbols: []string{"AAPL"}, ReconnectDelay: time.Millisecond})
	err := f.Run(context.Background(), make(chan model.BarEvent, 1))
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestFeed_ReconnectsAfterDrop(t *testing.T) {
	srv := serve(t, func(conn *websocket.Conn, n int, _ []ClientMessage) {
		send(conn, `{"stream":"authorization","data":{"status":"authorized"}}`)
		if n == 1 {
			send(conn, `{"stream":"AM.AAPL","data":{"t":1000,"c":100}}`)
			return // drop the connection
		}
		send(conn, `{"stream":"AM.AAPL","data":{"t":2000,"c":101}}`)
		conn.ReadMessage()
	})

	var disconnects int32
	f, _ := New(Config{URL: wsURL(srv), Symbols: []string{"AAPL"}, ReconnectDelay: 10 * time.Millisecond})
	f.OnDisconnect = func(error) { atomic.AddInt32(&disconnects, 1) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan model.BarEvent, 10)
	go f.Run(ctx, out)

	var closes []float64
	for len(closes) < 2 {
		select {
		case ev := <-out:
			closes = append(closes, ev.Bar.Close)
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out, got %v", closes)
		}
	}
	if closes[0] != 100 || closes[1] != 101 {
		t.Errorf("closes = %v", closes)
	}
	if atomic.LoadInt32(&disconnects) < 1 {
		t.Error("expected at least one disconnect")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{URL: "http://x", Symbols: []string{"AAPL"}}); err == nil {
		t.Error("expected error for http scheme")
	}
	if _, err := New(Config{URL: "wss://x/stream"}); err == nil {
		t.Error("expected error for empty symbols")
	}
}
