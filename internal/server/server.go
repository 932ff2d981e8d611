package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/SpasticCat/findmycar/internal/alarm"
	"github.com/SpasticCat/findmycar/internal/geo"
	"github.com/SpasticCat/findmycar/internal/guide"
	"github.com/SpasticCat/findmycar/internal/history"
	"github.com/SpasticCat/findmycar/internal/location"
	"github.com/SpasticCat/findmycar/internal/notify"
	"github.com/SpasticCat/findmycar/internal/premium"
	"github.com/SpasticCat/findmycar/internal/spot"
)

// Server exposes the core over HTTP and pushes guidance frames to WebSocket
// clients.
type Server struct {
	cfg     *Config
	tracker *location.Tracker
	spots   *spot.Store
	engine  *alarm.Engine
	gate    *premium.Gate
	journal *history.Journal

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Frame is the JSON structure sent to all WebSocket clients.
type Frame struct {
	Fix          *location.Fix        `json:"fix,omitempty"`
	HeadingDeg   *float64             `json:"heading_deg,omitempty"`
	Spot         *spot.Spot           `json:"spot,omitempty"`
	Guidance     *guide.Guidance      `json:"guidance,omitempty"`
	Timer        *TimerStatus         `json:"timer,omitempty"`
	Premium      bool                 `json:"premium"`
	Notification *notify.Notification `json:"notification,omitempty"`
	Stamp        int64                `json:"stamp"` // Unix ms
}

// TimerStatus reports the timer engine state to clients.
type TimerStatus struct {
	State        alarm.State `json:"state"`
	EndsAt       *time.Time  `json:"ends_at,omitempty"`
	RemainingSec int64       `json:"remaining_sec,omitempty"`
}

// New creates a new Server and subscribes it to notification deliveries.
func New(cfg *Config, tracker *location.Tracker, spots *spot.Store, engine *alarm.Engine,
	gate *premium.Gate, journal *history.Journal, hub *notify.Hub) *Server {
	s := &Server{
		cfg:     cfg,
		tracker: tracker,
		spots:   spots,
		engine:  engine,
		gate:    gate,
		journal: journal,
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	hub.Subscribe(func(n notify.Notification) {
		note := n
		s.broadcast(Frame{Notification: &note, Premium: s.gate.IsActive(), Stamp: time.Now().UnixMilli()})
	})
	return s
}

// Run starts the HTTP server and the frame broadcast loop.
func (s *Server) Run(ctx context.Context) error {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/spot", s.handleSaveSpot).Methods(http.MethodPost)
	api.HandleFunc("/spot", s.handleClearSpot).Methods(http.MethodDelete)
	api.HandleFunc("/spot/note", s.handleSetNote).Methods(http.MethodPut)
	api.HandleFunc("/alarm/reminder", s.handleReminder).Methods(http.MethodPost)
	api.HandleFunc("/alarm/countdown", s.handleStartCountdown).Methods(http.MethodPost)
	api.HandleFunc("/alarm/countdown/extend", s.handleExtendCountdown).Methods(http.MethodPost)
	api.HandleFunc("/alarm/countdown", s.handleClearCountdown).Methods(http.MethodDelete)
	api.HandleFunc("/premium", s.handlePremiumStatus).Methods(http.MethodGet)
	api.HandleFunc("/premium/refresh", s.handlePremiumRefresh).Methods(http.MethodPost)
	api.HandleFunc("/premium/purchase", s.handlePurchase).Methods(http.MethodPost)
	api.HandleFunc("/premium/restore", s.handleRestore).Methods(http.MethodPost)

	ws := r.PathPrefix("/ws").Subrouter()
	ws.HandleFunc("", s.handleWS)

	if s.cfg.Server.AuthSecret != "" {
		mw := authMiddleware(s.cfg.Server.AuthSecret)
		api.Use(mw)
		ws.Use(mw)
		log.Printf("[server] bearer auth enabled")
	}

	go s.frameLoop(ctx)

	srv := &http.Server{
		Addr:    s.cfg.Server.ListenAddr,
		Handler: r,
	}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Printf("[server] listening on %s", s.cfg.Server.ListenAddr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// frameLoop recomputes guidance once a second and pushes it to clients.
// Guidance itself is pure; the cadence only bounds how often clients hear
// about it.
func (s *Server) frameLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.clientsMu.RLock()
			n := len(s.clients)
			s.clientsMu.RUnlock()
			if n == 0 {
				continue
			}
			s.broadcast(s.currentFrame())
		}
	}
}

// currentFrame assembles the full state snapshot sent to clients.
func (s *Server) currentFrame() Frame {
	frame := Frame{
		Premium: s.gate.IsActive(),
		Stamp:   time.Now().UnixMilli(),
	}

	var fix *location.Fix
	if f, ok := s.tracker.Current(); ok {
		fix = &f
		frame.Fix = &f
	}
	var heading *float64
	if deg, ok := s.tracker.Heading(); ok {
		heading = &deg
		frame.HeadingDeg = &deg
	}
	var saved *spot.Spot
	if sp, ok := s.spots.Spot(); ok {
		saved = &sp
		frame.Spot = &sp
	}

	g := guide.Compute(fix, heading, saved)
	frame.Guidance = &g

	state, endsAt := s.engine.State()
	ts := &TimerStatus{State: state}
	if state == alarm.CountdownRunning {
		ts.EndsAt = &endsAt
		if remaining := time.Until(endsAt); remaining > 0 {
			ts.RemainingSec = int64(remaining.Seconds())
		}
	}
	frame.Timer = ts
	return frame
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	total := len(s.clients)
	s.clientsMu.Unlock()
	log.Printf("[ws] client connected (%d total)", total)

	// Initial snapshot so the client renders before the next tick.
	if data, err := json.Marshal(s.currentFrame()); err == nil {
		client.send <- data
	}

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine (keep-alive; incoming messages are ignored)
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			remaining := len(s.clients)
			s.clientsMu.Unlock()
			close(client.send)
			log.Printf("[ws] client disconnected (%d total)", remaining)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
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

// ---- API handlers ----

type spotRequest struct {
	Lat     *float64 `json:"lat"`
	Lon     *float64 `json:"lon"`
	Confirm bool     `json:"confirm"`
}

type minutesRequest struct {
	Minutes int `json:"minutes"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.currentFrame())
}

// handleSaveSpot pins the car at the supplied coordinate, or at the current
// fix when the body carries none. Overwriting an existing spot needs
// confirm=true.
func (s *Server) handleSaveSpot(w http.ResponseWriter, r *http.Request) {
	var req spotRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req) // empty body means "pin here"
	}

	var coord geo.Coordinate
	if req.Lat != nil && req.Lon != nil {
		coord = geo.Coordinate{Lat: *req.Lat, Lon: *req.Lon}
	} else {
		fix, ok := s.tracker.Current()
		if !ok {
			writeError(w, spot.ErrNotReady)
			return
		}
		coord = fix.Coordinate
	}

	saved, err := s.spots.Save(r.Context(), coord, req.Confirm)
	if err != nil && !errors.Is(err, spot.ErrPersistence) {
		writeError(w, err)
		return
	}
	s.journal.RecordSaved(saved.Coordinate)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  statusWord(err),
		"spot":    saved,
		"durable": err == nil,
	})
}

func (s *Server) handleClearSpot(w http.ResponseWriter, r *http.Request) {
	confirm := r.URL.Query().Get("confirm") == "true"
	cleared, hadSpot := s.spots.Spot()

	err := s.spots.Clear(r.Context(), confirm)
	if err != nil && !errors.Is(err, spot.ErrPersistence) {
		writeError(w, err)
		return
	}
	if hadSpot {
		s.journal.RecordCleared(cleared.Coordinate, cleared.Note)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  statusWord(err),
		"durable": err == nil,
	})
}

func (s *Server) handleSetNote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Note string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	err := s.spots.SetNote(r.Context(), req.Note)
	if err != nil && !errors.Is(err, spot.ErrPersistence) {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  statusWord(err),
		"durable": err == nil,
	})
}

func (s *Server) handleReminder(w http.ResponseWriter, r *http.Request) {
	var req minutesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if err := s.engine.ScheduleReminder(r.Context(), req.Minutes); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleStartCountdown(w http.ResponseWriter, r *http.Request) {
	var req minutesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	endsAt, err := s.engine.StartCountdown(r.Context(), req.Minutes)
	s.respondCountdown(w, endsAt, err)
}

func (s *Server) handleExtendCountdown(w http.ResponseWriter, r *http.Request) {
	var req minutesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	endsAt, err := s.engine.ExtendCountdown(r.Context(), req.Minutes)
	s.respondCountdown(w, endsAt, err)
}

// respondCountdown maps start/extend results. A persistence error still
// carries a live countdown, reported as non-durable rather than failed.
func (s *Server) respondCountdown(w http.ResponseWriter, endsAt time.Time, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "ends_at": endsAt, "durable": true})
	case errors.Is(err, premium.ErrPremiumRequired),
		errors.Is(err, alarm.ErrCountdownActive),
		errors.Is(err, alarm.ErrNoCountdown),
		errors.Is(err, alarm.ErrBadDuration):
		writeError(w, err)
	default:
		writeJSON(w, http.StatusOK, map[string]any{"status": "degraded", "ends_at": endsAt, "durable": false})
	}
}

func (s *Server) handleClearCountdown(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.ClearCountdown(r.Context()); err != nil && !errors.Is(err, alarm.ErrNoCountdown) {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handlePremiumStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"active": s.gate.IsActive()})
}

func (s *Server) handlePremiumRefresh(w http.ResponseWriter, r *http.Request) {
	active := s.gate.Refresh(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"active": active})
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	product := s.cfg.Premium.Product
	var req struct {
		Product string `json:"product"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Product != "" {
		product = req.Product
	}
	active, err := s.gate.Purchase(r.Context(), product)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"active": active})
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	active, err := s.gate.Restore(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"active": active})
}

// ---- helpers ----

func statusWord(err error) string {
	if err == nil {
		return "ok"
	}
	return "degraded"
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeError maps core error conditions to HTTP statuses. Every condition
// is recoverable; nothing here kills the process.
func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, spot.ErrConfirmRequired):
		code = http.StatusConflict
	case errors.Is(err, spot.ErrNotReady),
		errors.Is(err, alarm.ErrCountdownActive):
		code = http.StatusConflict
	case errors.Is(err, spot.ErrNoSavedSpot),
		errors.Is(err, alarm.ErrNoCountdown):
		code = http.StatusNotFound
	case errors.Is(err, premium.ErrPremiumRequired):
		code = http.StatusPaymentRequired
	case errors.Is(err, location.ErrPermissionDenied):
		code = http.StatusForbidden
	case errors.Is(err, alarm.ErrBadDuration):
		code = http.StatusBadRequest
	}
	writeJSON(w, code, map[string]any{
		"status": "error",
		"error":  err.Error(),
		"confirm_required": errors.Is(err, spot.ErrConfirmRequired),
	})
}
