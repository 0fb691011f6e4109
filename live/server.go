package live

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/moussaba/dhikr-counter/pinchsense"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Live viewers connect from file:// dashboards and local tools.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server exposes collector state over HTTP and pushes confirmed events to
// websocket clients.
type Server struct {
	collector *Collector
	httpSrv   *http.Server

	clients map[*wsClient]struct{}
	mu      sync.Mutex
}

// wsClient serializes writes to one websocket connection.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewServer builds the HTTP layer over a running collector.
func NewServer(collector *Collector) *Server {
	s := &Server{
		collector: collector,
		clients:   make(map[*wsClient]struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/api/frames", s.handleFrames)
	mux.HandleFunc("/ws", s.handleWS)

	s.httpSrv = &http.Server{
		Addr:         collector.config.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called. The
// collector's event stream is forwarded to websocket clients.
func (s *Server) Start() error {
	s.collector.Detector().AddListener(s.broadcastEvent)
	log.Info().Str("addr", s.httpSrv.Addr).Msg("live server listening")
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the HTTP server and closes every websocket.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for c := range s.clients {
		close(c.send)
	}
	s.clients = make(map[*wsClient]struct{})
	s.mu.Unlock()
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"connected": s.collector.client != nil && s.collector.client.IsConnected(),
		"stats":     s.collector.StatsSnapshot(),
		"buffer":    s.collector.Buffer().GetStats(),
	}
	if ev := s.collector.Buffer().LastEvent(); ev != nil {
		status["last_event"] = ev
	}
	writeJSON(w, status)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.collector.Buffer().RecentEvents(100))
}

func (s *Server) handleFrames(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.collector.Buffer().RecentFrames(1000))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	client := &wsClient{conn: conn, send: make(chan []byte, 64)}

	s.mu.Lock()
	s.clients[client] = struct{}{}
	s.mu.Unlock()

	go client.writeLoop()
	go s.readLoop(client)
}

// readLoop discards client messages and detaches on close.
func (s *Server) readLoop(c *wsClient) {
	defer func() {
		s.mu.Lock()
		if _, ok := s.clients[c]; ok {
			delete(s.clients, c)
			close(c.send)
		}
		s.mu.Unlock()
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writeLoop is the single writer for one connection.
func (c *wsClient) writeLoop() {
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// broadcastEvent fans a confirmed event out to every connected client,
// dropping clients whose queues are full.
func (s *Server) broadcastEvent(ev pinchsense.Event) {
	msg, err := json.Marshal(map[string]interface{}{"type": "pinch", "event": ev})
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- msg:
		default:
			delete(s.clients, c)
			close(c.send)
		}
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("response encode failed")
	}
}
