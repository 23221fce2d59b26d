// cmd/barserver is a demo minute-bar stream for running the bot without
// broker credentials. It speaks the same handshake as the live stream:
//
//	-> {"action":"authenticate","data":{"key_id":"...","secret_key":"..."}}
//	<- {"stream":"authorization","data":{"status":"authorized","action":"authenticate"}}
//	-> {"action":"listen","data":{"streams":["AM.AAPL"]}}
//	<- {"stream":"listening","data":{"streams":["AM.AAPL"]}}
//	<- {"stream":"AM.AAPL","data":{"t":1718000000000,"c":192.31}}
//
// Each interval emits one bar per symbol; bar times advance one minute per
// interval so indicators see a realistic minute series.
//
// Config (env vars):
//
//	BAR_SERVER_ADDR  listen address (default ":9001")
//	BAR_SYMBOLS      comma-separated SYMBOL[:PRICE] (default "AAPL:190,MSFT:410,GOOGL:170")
//	BAR_INTERVAL_MS  emit interval in milliseconds (default "1000")
//	BAR_SERVER_KEY   if set, the key_id clients must present
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"signalbot/internal/marketdata/stream"
)

// instrument holds per-symbol simulation state.
type instrument struct {
	Symbol string
	Price  float64
}

type aggData struct {
	T int64   `json:"t"`
	C float64 `json:"c"`
}

type serverMsg struct {
	Stream string `json:"stream"`
	Data   any    `json:"data"`
}

type controlData struct {
	Status  string   `json:"status,omitempty"`
	Action  string   `json:"action,omitempty"`
	Streams []string `json:"streams,omitempty"`
}

// ─── Hub ──────────────────────────────────────────────────────────────────────

type client struct {
	out     chan []byte
	mu      sync.RWMutex
	streams map[string]bool
}

func (c *client) listening(stream string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.streams[stream]
}

func (c *client) listen(streams []string) {
	c.mu.Lock()
	c.streams = make(map[string]bool, len(streams))
	for _, s := range streams {
		c.streams[s] = true
	}
	c.mu.Unlock()
}

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]*client
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]*client)}
}

func (h *hub) register(conn *websocket.Conn) *client {
	c := &client{out: make(chan []byte, 256)}
	h.mu.Lock()
	h.clients[conn] = c
	h.mu.Unlock()
	return c
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if c, ok := h.clients[conn]; ok {
		close(c.out)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(stream string, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if !c.listening(stream) {
			continue
		}
		select {
		case c.out <- msg:
		default: // slow client, drop bar
		}
	}
}

// ─── WebSocket handler ────────────────────────────────────────────────────────

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func send(c *client, v serverMsg) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.out <- b:
	default:
	}
}

func wsHandler(h *hub, key string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[barserver] upgrade error: %v", err)
			return
		}
		log.Printf("[barserver] client connected: %s", r.RemoteAddr)

		c := h.register(conn)
		done := make(chan struct{})
		defer func() {
			h.unregister(conn)
			<-done
			conn.Close()
			log.Printf("[barserver] client disconnected: %s", r.RemoteAddr)
		}()

		// Write pump
		go func() {
			defer close(done)
			for msg := range c.out {
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					conn.Close()
					for range c.out {
					}
					return
				}
			}
		}()

		// Read pump: handshake actions
		authorized := false
		for {
			var m struct {
				Action string          `json:"action"`
				Data   json.RawMessage `json:"data"`
			}
			if err := conn.ReadJSON(&m); err != nil {
				return
			}
			switch m.Action {
			case "authenticate":
				var auth stream.AuthData
				json.Unmarshal(m.Data, &auth)
				authorized = key == "" || auth.KeyID == key
				status := "authorized"
				if !authorized {
					status = "unauthorized"
				}
				send(c, serverMsg{Stream: "authorization", Data: controlData{Status: status, Action: "authenticate"}})
			case "listen":
				if !authorized {
					send(c, serverMsg{Stream: "authorization", Data: controlData{Status: "unauthorized", Action: "listen"}})
					continue
				}
				var l stream.ListenData
				json.Unmarshal(m.Data, &l)
				c.listen(l.Streams)
				send(c, serverMsg{Stream: "listening", Data: controlData{Streams: l.Streams}})
				log.Printf("[barserver] %s listening to %v", r.RemoteAddr, l.Streams)
			}
		}
	}
}

// ─── Bar generator ───────────────────────────────────────────────────────────

// walkPrice applies a small random walk (±0.3%) per bar.
func walkPrice(rng *rand.Rand, price float64) float64 {
	pct := (rng.Float64()*0.6 - 0.3) / 100.0
	next := price * (1 + pct)
	if next < 0.01 {
		next = 0.01
	}
	return float64(int64(next*100+0.5)) / 100
}

func runGenerator(h *hub, instruments []instrument, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	barTime := time.Now().UTC().Truncate(time.Minute)

	for range ticker.C {
		barTime = barTime.Add(time.Minute)
		for i := range instruments {
			instruments[i].Price = walkPrice(rng, instruments[i].Price)
			name := stream.MinuteAggPrefix + instruments[i].Symbol
			b, err := json.Marshal(serverMsg{
				Stream: name,
				Data:   aggData{T: barTime.UnixMilli(), C: instruments[i].Price},
			})
			if err != nil {
				continue
			}
			h.broadcast(name, b)
		}
	}
}

// ─── main ─────────────────────────────────────────────────────────────────────

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[barserver] starting demo bar server...")

	addr := envOrDefault("BAR_SERVER_ADDR", ":9001")
	symbolsEnv := envOrDefault("BAR_SYMBOLS", "AAPL:190,MSFT:410,GOOGL:170")
	intervalMs := envIntOrDefault("BAR_INTERVAL_MS", 1000)
	key := os.Getenv("BAR_SERVER_KEY")

	instruments := parseInstruments(symbolsEnv)
	if len(instruments) == 0 {
		log.Fatalf("[barserver] no instruments configured via BAR_SYMBOLS")
	}
	log.Printf("[barserver] instruments: %+v", instruments)
	log.Printf("[barserver] emit interval: %dms", intervalMs)

	h := newHub()
	go runGenerator(h, instruments, time.Duration(intervalMs)*time.Millisecond)

	http.HandleFunc("/stream", wsHandler(h, key))
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"barserver"}`)
	})

	log.Printf("[barserver] listening on %s  (WebSocket: ws://localhost%s/stream)", addr, addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("[barserver] server error: %v", err)
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func parseInstruments(s string) []instrument {
	var result []instrument
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		seg := strings.SplitN(part, ":", 2)
		inst := instrument{Symbol: strings.ToUpper(strings.TrimSpace(seg[0])), Price: 100}
		if len(seg) == 2 {
			p, err := strconv.ParseFloat(strings.TrimSpace(seg[1]), 64)
			if err != nil || p <= 0 {
				log.Printf("[barserver] skipping invalid symbol entry: %q", part)
				continue
			}
			inst.Price = p
		}
		result = append(result, inst)
	}
	return result
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
