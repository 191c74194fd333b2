package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/vitos/subcent_bot/internal/domain"
	"go.uber.org/zap"
)

// Server is the dashboard collaborator. The trading loop pushes snapshots
// through the Display methods; the server keeps the latest state behind a
// RWMutex, serves it over JSON endpoints, and broadcasts every update to
// connected WebSocket clients. Pushes never block the trading loop: slow
// clients get dropped.
type Server struct {
	router *http.ServeMux
	server *http.Server
	logger *zap.Logger

	mu         sync.RWMutex
	balances   map[string]map[string]float64
	openOrders map[string][]domain.OpenOrder
	metrics    domain.SessionSnapshot
	pairs      []string
	statuses   map[string]string

	upgrader websocket.Upgrader

	clientsMu sync.Mutex
	clients   map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// wsEvent is the broadcast envelope: a topic plus the updated payload.
type wsEvent struct {
	Topic string      `json:"topic"`
	Data  interface{} `json:"data"`
}

func NewServer(port int, logger *zap.Logger) *Server {
	s := &Server{
		router:     http.NewServeMux(),
		logger:     logger,
		balances:   make(map[string]map[string]float64),
		openOrders: make(map[string][]domain.OpenOrder),
		statuses:   make(map[string]string),
		clients:    make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.routes()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes() {
	// Status
	s.router.HandleFunc("GET /status", s.handleStatus)

	// Snapshots
	s.router.HandleFunc("GET /api/balances", s.handleBalances)
	s.router.HandleFunc("GET /api/orders", s.handleOpenOrders)
	s.router.HandleFunc("GET /api/metrics", s.handleMetrics)
	s.router.HandleFunc("GET /api/pairs", s.handlePairs)

	// Live updates
	s.router.HandleFunc("GET /ws", s.handleWS)
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.clientsMu.Lock()
	for c := range s.clients {
		close(c.send)
		delete(s.clients, c)
	}
	s.clientsMu.Unlock()
	return s.server.Shutdown(ctx)
}

// UpdateBalances implements domain.Display.
func (s *Server) UpdateBalances(exchange string, balances map[string]float64) {
	copied := make(map[string]float64, len(balances))
	for k, v := range balances {
		copied[k] = v
	}
	s.mu.Lock()
	s.balances[exchange] = copied
	s.mu.Unlock()
	s.broadcast("balances", map[string]interface{}{"exchange": exchange, "balances": copied})
}

func (s *Server) UpdateOpenOrders(exchange string, orders []domain.OpenOrder) {
	copied := append([]domain.OpenOrder(nil), orders...)
	s.mu.Lock()
	s.openOrders[exchange] = copied
	s.mu.Unlock()
	s.broadcast("orders", map[string]interface{}{"exchange": exchange, "orders": copied})
}

func (s *Server) UpdateSessionMetrics(snapshot domain.SessionSnapshot) {
	s.mu.Lock()
	s.metrics = snapshot
	s.mu.Unlock()
	s.broadcast("metrics", snapshot)
}

func (s *Server) UpdateMonitoredPairs(pairs []string) {
	copied := append([]string(nil), pairs...)
	s.mu.Lock()
	s.pairs = copied
	s.mu.Unlock()
	s.broadcast("pairs", copied)
}

func (s *Server) UpdateExchangeStatus(exchange, status string) {
	s.mu.Lock()
	s.statuses[exchange] = status
	s.mu.Unlock()
	s.broadcast("status", map[string]string{"exchange": exchange, "status": status})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.writeJSON(w, map[string]interface{}{
		"status":    "ok",
		"exchanges": s.statuses,
	})
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.writeJSON(w, s.balances)
}

func (s *Server) handleOpenOrders(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.writeJSON(w, s.openOrders)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.writeJSON(w, s.metrics)
}

func (s *Server) handlePairs(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.writeJSON(w, s.pairs)
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, 64)}
	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	s.clientsMu.Unlock()

	go s.writeLoop(client)
	go s.readLoop(client)
}

func (s *Server) writeLoop(c *wsClient) {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// readLoop drains (and ignores) client frames so pings and close frames are
// processed; any read error unregisters the client.
func (s *Server) readLoop(c *wsClient) {
	defer s.unregister(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) unregister(c *wsClient) {
	s.clientsMu.Lock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
	s.clientsMu.Unlock()
}

// broadcast fans an event out to every connected client without blocking:
// a client whose buffer is full is disconnected rather than slowing the
// trading loop.
func (s *Server) broadcast(topic string, data interface{}) {
	msg, err := json.Marshal(wsEvent{Topic: topic, Data: data})
	if err != nil {
		return
	}

	s.clientsMu.Lock()
	for c := range s.clients {
		select {
		case c.send <- msg:
		default:
			delete(s.clients, c)
			close(c.send)
		}
	}
	s.clientsMu.Unlock()
}
