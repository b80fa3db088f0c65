package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Backoff constants for reconnection
const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2
)

// pingWait is how long we wait for a ping from the server before timing out
const pingWait = 90 * time.Second

// ErrNotConnected is returned by Send while the client is reconnecting
var ErrNotConnected = errors.New("bridge not connected")

// calculateBackoff returns the delay for a given attempt number using exponential backoff
func calculateBackoff(attempt int) time.Duration {
	delay := initialBackoff
	for i := 0; i < attempt; i++ {
		delay *= backoffFactor
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// Client is the page end of the websocket bridge. It reconnects with
// exponential backoff until closed.
type Client struct {
	url   string
	inbox chan Message
	log   zerolog.Logger

	mu   sync.Mutex
	conn *websocket.Conn

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Dial connects to a bridge server. The first connection must succeed;
// later disconnects are retried in the background.
func Dial(ctx context.Context, url string, log zerolog.Logger) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	cctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		url:    url,
		inbox:  make(chan Message, 16),
		log:    log.With().Str("component", "bridge").Str("url", url).Logger(),
		conn:   conn,
		ctx:    cctx,
		cancel: cancel,
	}
	c.wg.Add(1)
	go c.run(conn)
	return c, nil
}

func (c *Client) run(conn *websocket.Conn) {
	defer c.wg.Done()
	for {
		c.readLoop(conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()

		var err error
		conn, err = c.reconnect()
		if err != nil {
			return
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pingWait))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(pingWait))
		c.mu.Lock()
		defer c.mu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil {
				c.log.Warn().Err(err).Msg("connection lost")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pingWait))

		msg, err := Decode(data)
		if err != nil {
			c.log.Warn().Err(err).Msg("dropping message")
			continue
		}
		select {
		case c.inbox <- msg:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) reconnect() (*websocket.Conn, error) {
	for attempt := 0; ; attempt++ {
		delay := calculateBackoff(attempt)
		c.log.Info().Dur("delay", delay).Int("attempt", attempt+1).Msg("reconnecting")
		select {
		case <-c.ctx.Done():
			return nil, c.ctx.Err()
		case <-time.After(delay):
		}

		conn, _, err := websocket.DefaultDialer.DialContext(c.ctx, c.url, nil)
		if err != nil {
			c.log.Warn().Err(err).Msg("reconnect failed")
			continue
		}
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.log.Info().Msg("reconnected")
		return conn, nil
	}
}

// Send writes m to the server
func (c *Client) Send(ctx context.Context, m Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := Encode(m)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Receive returns messages sent by the server
func (c *Client) Receive() <-chan Message {
	return c.inbox
}

// Close stops reconnecting and closes the connection
func (c *Client) Close() error {
	c.cancel()
	c.mu.Lock()
	if c.conn != nil {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		c.conn.Close()
	}
	c.mu.Unlock()
	c.wg.Wait()
	return nil
}
