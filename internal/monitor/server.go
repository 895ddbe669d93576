package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"

	"github.com/shaunagostinho/seymour-life/internal/bench"
	"github.com/shaunagostinho/seymour-life/internal/config"
)

// Server keeps the latest snapshot of every unit and broadcasts changes to
// WebSocket clients.
type Server struct {
	cfg   *config.Config
	webFS fs.FS
	log   logr.Logger

	mu      sync.RWMutex
	devices map[string]bench.Snapshot // by port

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Frame is the JSON structure sent to WebSocket clients. The first frame a
// client gets carries every unit; later ones carry the unit that changed.
type Frame struct {
	Devices []bench.Snapshot `json:"devices,omitempty"`
	Device  *bench.Snapshot  `json:"device,omitempty"`
	Stamp   int64            `json:"stamp"` // Unix ms
}

// New creates a Server. webFS holds the status page.
func New(cfg *config.Config, webFS fs.FS, log logr.Logger) *Server {
	return &Server{
		cfg:     cfg,
		webFS:   webFS,
		log:     log.WithName("monitor"),
		devices: make(map[string]bench.Snapshot),
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Observe records s and pushes it to every client.
func (s *Server) Observe(snap bench.Snapshot) {
	s.mu.Lock()
	s.devices[snap.Port] = snap
	s.mu.Unlock()
	s.broadcast(Frame{Device: &snap, Stamp: time.Now().UnixMilli()})
}

// Snapshots returns the latest snapshot of every unit, sorted by port.
func (s *Server) Snapshots() []bench.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]bench.Snapshot, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })
	return out
}

// Handler serves the status page, the WebSocket stream and the JSON API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	if s.webFS != nil {
		mux.Handle("/", http.FileServer(http.FS(s.webFS)))
	}
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/devices", s.handleDevices)
	mux.HandleFunc("/api/config", s.handleConfig)
	return mux
}

// Run serves on the configured address until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Monitor.ListenAddr,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
		s.closeClients()
	}()

	s.log.Info("Listening", "addr", s.cfg.Monitor.ListenAddr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", 405)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.Snapshots())
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error(err, "WebSocket upgrade failed")
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	// Queue the full picture before the client can receive updates.
	if data, err := json.Marshal(Frame{Devices: s.Snapshots(), Stamp: time.Now().UnixMilli()}); err == nil {
		client.send <- data
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	n := len(s.clients)
	s.clientsMu.Unlock()
	s.log.V(1).Info("Client connected", "clients", n)

	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	go func() {
		defer s.dropClient(client)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (s *Server) dropClient(c *wsClient) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	if _, ok := s.clients[c]; !ok {
		return
	}
	delete(s.clients, c)
	close(c.send)
	s.log.V(1).Info("Client disconnected", "clients", len(s.clients))
}

func (s *Server) closeClients() {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for c := range s.clients {
		delete(s.clients, c)
		close(c.send)
	}
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		data, err := s.cfg.ToJSON()
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)

	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", 400)
			return
		}
		if err := s.cfg.UpdateFromJSON(body); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		// Takes effect on the next run.
		if err := s.cfg.Save(); err != nil {
			s.log.Error(err, "Config save failed")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))

	default:
		http.Error(w, "method not allowed", 405)
	}
}

func (s *Server) broadcast(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}
