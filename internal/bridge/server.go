package bridge

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// writeWait is time allowed to write a message or control frame
const writeWait = 10 * time.Second

// ServerConfig configures the background-side websocket endpoint
type ServerConfig struct {
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	InboxSize         int
}

// Server is the background end of the websocket bridge. Every connected page
// feeds one merged Receive stream; Send broadcasts to all pages.
type Server struct {
	config   ServerConfig
	upgrader websocket.Upgrader
	inbox    chan Message
	log      zerolog.Logger

	mu    sync.Mutex
	pages map[*pageConn]struct{}

	done      chan struct{}
	closeOnce sync.Once
}

type pageConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (p *pageConn) write(messageType int, data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return p.conn.WriteMessage(messageType, data)
}

// NewServer creates a websocket bridge server
func NewServer(config ServerConfig, log zerolog.Logger) *Server {
	if config.HeartbeatInterval == 0 {
		config.HeartbeatInterval = 30 * time.Second
	}
	if config.HeartbeatTimeout == 0 {
		config.HeartbeatTimeout = 90 * time.Second // Allow missing 2 heartbeats before disconnect
	}
	if config.InboxSize <= 0 {
		config.InboxSize = 64
	}
	return &Server{
		config: config,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		inbox: make(chan Message, config.InboxSize),
		log:   log.With().Str("component", "bridge").Logger(),
		pages: make(map[*pageConn]struct{}),
		done:  make(chan struct{}),
	}
}

// ServeHTTP upgrades a page connection and reads from it until it closes
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("upgrade failed")
		return
	}

	page := &pageConn{conn: conn}
	s.mu.Lock()
	s.pages[page] = struct{}{}
	s.mu.Unlock()
	s.log.Info().Str("remote", r.RemoteAddr).Msg("page connected")

	stopPing := make(chan struct{})
	defer func() {
		close(stopPing)
		s.mu.Lock()
		delete(s.pages, page)
		s.mu.Unlock()
		conn.Close()
		s.log.Info().Str("remote", r.RemoteAddr).Msg("page disconnected")
	}()

	conn.SetReadDeadline(time.Now().Add(s.config.HeartbeatTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.config.HeartbeatTimeout))
		return nil
	})
	go s.ping(page, stopPing)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn().Err(err).Msg("read error")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.config.HeartbeatTimeout))

		msg, err := Decode(data)
		if err != nil {
			s.log.Warn().Err(err).Msg("dropping message")
			continue
		}
		select {
		case s.inbox <- msg:
		case <-s.done:
			return
		}
	}
}

func (s *Server) ping(page *pageConn, stop <-chan struct{}) {
	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-s.done:
			return
		case <-ticker.C:
			page.writeMu.Lock()
			err := page.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			page.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// Receive returns messages from every connected page
func (s *Server) Receive() <-chan Message {
	return s.inbox
}

// Send broadcasts m to every connected page. Pages that fail to accept the
// write are dropped by their own read loop.
func (s *Server) Send(ctx context.Context, m Message) error {
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

	s.mu.Lock()
	pages := make([]*pageConn, 0, len(s.pages))
	for p := range s.pages {
		pages = append(pages, p)
	}
	s.mu.Unlock()

	if len(pages) == 0 {
		s.log.Debug().Str("action", string(m.Action)).Msg("no pages connected")
		return nil
	}

	var errs []error
	for _, p := range pages {
		if err := p.write(websocket.TextMessage, data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Connections returns the number of connected pages
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pages)
}

// Close disconnects every page and stops accepting messages
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		for p := range s.pages {
			p.conn.Close()
		}
		s.mu.Unlock()
	})
	return nil
}
