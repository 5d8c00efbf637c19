package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Live connection timings.
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 16
)

// LiveMessage is the frame pushed to live feed subscribers.
type LiveMessage struct {
	Type     string    `json:"type"`
	Activity *Activity `json:"activity"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Broadcaster fans activities out to the websocket connections of the
// actor's followers. Each connection has one writer goroutine; a client
// whose buffer is full misses messages rather than stalling the sender.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[string]map[*client]struct{} // userID -> connections
	logger  *slog.Logger
	metrics *Metrics

	closeOnce sync.Once
	closed    chan struct{}
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster(logger *slog.Logger, metrics *Metrics) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		clients: make(map[string]map[*client]struct{}),
		logger:  logger,
		metrics: metrics,
		closed:  make(chan struct{}),
	}
}

// Close sends a going-away frame to every connection and makes Serve return.
func (b *Broadcaster) Close() {
	b.closeOnce.Do(func() { close(b.closed) })
}

// Serve registers conn for userID and blocks until the peer disconnects, ctx
// is done or the Broadcaster is closed. It closes conn before returning.
func (b *Broadcaster) Serve(ctx context.Context, userID string, conn *websocket.Conn) {
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	b.subscribe(userID, c)

	done := make(chan struct{})
	go b.writePump(ctx, userID, c, done)

	// Clients never send data; reading detects disconnects and handles pongs.
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				b.logger.WarnContext(ctx, "live feed connection closed unexpectedly",
					slog.String("user_id", userID),
					slog.String("error", err.Error()))
			}
			break
		}
	}

	b.unsubscribe(userID, c)
	<-done
	_ = conn.Close()
}

func (b *Broadcaster) writePump(ctx context.Context, userID string, c *client, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				b.logger.WarnContext(ctx, "failed to write live feed message",
					slog.String("user_id", userID),
					slog.String("error", err.Error()))
				_ = c.conn.Close()
				b.drain(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.conn.Close()
				b.drain(c)
				return
			}
		case <-b.closed:
			b.goAway(c)
			return
		case <-ctx.Done():
			b.goAway(c)
			return
		}
	}
}

func (b *Broadcaster) goAway(c *client) {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
	_ = c.conn.Close()
	b.drain(c)
}

// drain consumes c.send until unsubscribe closes it.
func (b *Broadcaster) drain(c *client) {
	for range c.send {
	}
}

func (b *Broadcaster) subscribe(userID string, c *client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.clients[userID] == nil {
		b.clients[userID] = make(map[*client]struct{})
	}
	b.clients[userID][c] = struct{}{}
	b.metrics.connOpened()
}

func (b *Broadcaster) unsubscribe(userID string, c *client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	conns := b.clients[userID]
	if _, ok := conns[c]; !ok {
		return
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(b.clients, userID)
	}
	close(c.send)
	b.metrics.connClosed()
}

// Broadcast queues a to every connection of the given users.
func (b *Broadcaster) Broadcast(userIDs []string, a *Activity) {
	data, err := json.Marshal(LiveMessage{Type: "activity", Activity: a})
	if err != nil {
		b.logger.Error("failed to marshal live feed message", slog.String("error", err.Error()))
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, userID := range userIDs {
		for c := range b.clients[userID] {
			select {
			case c.send <- data:
				b.metrics.incDelivered()
			default:
				b.metrics.incDropped()
				b.logger.Warn("live feed client too slow, message dropped",
					slog.String("user_id", userID))
			}
		}
	}
}

// ConnectionCount returns the number of open connections for userID.
func (b *Broadcaster) ConnectionCount(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients[userID])
}
