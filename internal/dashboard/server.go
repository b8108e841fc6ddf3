// Package dashboard exposes the rover's live status feed for the external
// mission dashboard: a JSON snapshot endpoint and a websocket stream of
// status updates and confirmed detections. The dashboard itself lives off
// the rover and only consumes this feed.
package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fieldrover/rescuecam/internal/inference"
)

// Status is the snapshot pushed to feed consumers.
type Status struct {
	Rover          string    `json:"rover"`
	MissionID      string    `json:"mission_id"`
	Phase          string    `json:"phase"`
	TotalScans     uint64    `json:"total_scans"`
	SurvivorsFound uint64    `json:"survivors_found"`
	LastScanAt     time.Time `json:"last_scan_at,omitzero"`
	CameraHealthy  bool      `json:"camera_healthy"`
	BufferedFrames int       `json:"buffered_frames"`
	DroppedFrames  uint64    `json:"dropped_frames"`
}

// event is the websocket wire envelope.
type event struct {
	Event string `json:"event"` // "status" or "detection"
	Data  any    `json:"data"`
}

// detectionPayload mirrors the canonical result for feed consumers.
type detectionPayload struct {
	Count       int                  `json:"count"`
	Confidence  float64              `json:"confidence"`
	Urgency     string               `json:"urgency"`
	Description string               `json:"description"`
	Survivors   []inference.Survivor `json:"survivors,omitempty"`
	DetectedAt  time.Time            `json:"detected_at"`
}

// Server broadcasts rover status to connected dashboard clients.
type Server struct {
	addr     string
	source   func() Status
	interval time.Duration
	logger   *zap.Logger

	upgrader websocket.Upgrader
	mu       sync.Mutex
	clients  map[*websocket.Conn]struct{}
	wmu      sync.Mutex // serializes writes; gorilla conns allow one writer

	httpSrv *http.Server
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewServer builds the feed server. source is called for every snapshot and
// must be safe to call from any goroutine.
func NewServer(addr string, source func() Status) *Server {
	return &Server{
		addr:     addr,
		source:   source,
		interval: time.Second,
		logger:   zap.L().Named("dashboard"),
		upgrader: websocket.Upgrader{
			// The feed is telemetry for a trusted mission network.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// Handler returns the HTTP routes, exposed separately for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

// Start begins serving and broadcasting. Non-blocking.
func (s *Server) Start() {
	s.stopCh = make(chan struct{})
	s.httpSrv = &http.Server{Addr: s.addr, Handler: s.Handler()}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.logger.Info("status feed listening", zap.String("addr", s.addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("status feed server failed", zap.Error(err))
		}
	}()
	go s.broadcastLoop()
}

// Stop shuts the server down and closes all client connections.
func (s *Server) Stop(ctx context.Context) {
	close(s.stopCh)
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Warn("status feed shutdown", zap.Error(err))
	}

	s.mu.Lock()
	for c := range s.clients {
		c.Close()
	}
	s.clients = make(map[*websocket.Conn]struct{})
	s.mu.Unlock()

	s.wg.Wait()
}

// OnDetection implements detect.Sink: confirmed detections are pushed to
// every connected client immediately.
func (s *Server) OnDetection(res inference.Result) {
	s.broadcast(event{
		Event: "detection",
		Data: detectionPayload{
			Count:       res.Count,
			Confidence:  res.Confidence,
			Urgency:     res.Urgency,
			Description: res.Description,
			Survivors:   res.Survivors,
			DetectedAt:  time.Now(),
		},
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.source()); err != nil {
		s.logger.Warn("failed to write status", zap.Error(err))
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	s.mu.Lock()
	s.clients[conn] = struct{}{}
	total := len(s.clients)
	s.mu.Unlock()
	s.logger.Info("dashboard client connected", zap.Int("total", total))

	// Drain (and discard) client reads so pings and closes are processed.
	go func() {
		defer s.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Greet with an immediate snapshot.
	s.send(conn, event{Event: "status", Data: s.source()})
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.broadcast(event{Event: "status", Data: s.source()})
		}
	}
}

func (s *Server) broadcast(ev event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		s.logger.Warn("failed to encode event", zap.Error(err))
		return
	}

	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for c := range s.clients {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		s.wmu.Lock()
		err := c.WriteMessage(websocket.TextMessage, msg)
		s.wmu.Unlock()
		if err != nil {
			s.drop(c)
		}
	}
}

func (s *Server) send(conn *websocket.Conn, ev event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		return
	}
	s.wmu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, msg)
	s.wmu.Unlock()
	if err != nil {
		s.drop(conn)
	}
}

func (s *Server) drop(conn *websocket.Conn) {
	s.mu.Lock()
	_, present := s.clients[conn]
	delete(s.clients, conn)
	remaining := len(s.clients)
	s.mu.Unlock()

	if present {
		conn.Close()
		s.logger.Info("dashboard client disconnected", zap.Int("total", remaining))
	}
}
