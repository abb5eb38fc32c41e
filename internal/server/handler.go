package server

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/afroash/krishii-mitra/internal/models"
)

// Constants for WebSocket timeouts
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Handler pushes the dashboard view to WebSocket viewers
type Handler struct {
	upgrader       websocket.Upgrader
	authToken      string
	views          ViewSource
	source         string
	logger         zerolog.Logger
	allowedOrigins []string

	mutex   sync.RWMutex
	viewers map[string]*Viewer
}

// Viewer represents one connected dashboard
type Viewer struct {
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
	LastPush    time.Time `json:"last_push"`
	Pushes      int64     `json:"pushes"`
}

// NewHandler creates a new WebSocket handler. An empty authToken disables auth.
func NewHandler(authToken string, views ViewSource, source string, logger zerolog.Logger, allowedOrigins ...string) *Handler {
	h := &Handler{
		authToken:      authToken,
		views:          views,
		source:         source,
		logger:         logger.With().Str("component", "ws").Logger(),
		allowedOrigins: allowedOrigins,
		viewers:        make(map[string]*Viewer),
	}

	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}

	return h
}

// checkOrigin validates the incoming request's Origin against the configured allowlist
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	// No Origin header means same-origin request
	if origin == "" {
		return true
	}

	for _, allowed := range h.allowedOrigins {
		if origin == allowed {
			return true
		}
	}

	h.logger.Warn().Str("origin", origin).Msg("Rejected WebSocket connection: origin not in allowlist")
	return false
}

// ServeHTTP upgrades the request and streams views until the viewer leaves
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.validateToken(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	h.handleConnection(conn)
}

// validateToken accepts "Authorization: Bearer <token>" or ?token=<token>.
// Browsers cannot set headers on a WebSocket handshake.
func (h *Handler) validateToken(r *http.Request) bool {
	if h.authToken == "" {
		return true
	}
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ") == h.authToken
	}
	return r.URL.Query().Get("token") == h.authToken
}

// handleConnection pushes the current view, then every change
func (h *Handler) handleConnection(conn *websocket.Conn) {
	key := conn.RemoteAddr().String()
	h.mutex.Lock()
	h.viewers[key] = &Viewer{RemoteAddr: key, ConnectedAt: time.Now()}
	h.mutex.Unlock()
	h.logger.Info().Str("viewer", key).Msg("Viewer connected")

	defer conn.Close()
	defer h.removeViewer(key)

	states, unsubscribe := h.views.Subscribe()
	defer unsubscribe()

	closed := make(chan struct{})
	go h.readLoop(conn, closed)

	if !h.send(conn, key, models.MessageTypeStatus, models.StatusMessage{Connection: h.views.View().Connection.String(), Source: h.source}) {
		return
	}
	if !h.send(conn, key, models.MessageTypeView, h.views.View()) {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case st := <-states:
			if !h.send(conn, key, models.MessageTypeView, h.views.Project(st)) {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop discards viewer messages and keeps the read deadline alive
func (h *Handler) readLoop(conn *websocket.Conn, closed chan struct{}) {
	defer close(closed)

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			return
		}
	}
}

// send writes one envelope; false means the viewer is gone
func (h *Handler) send(conn *websocket.Conn, key string, msgType models.MessageType, payload interface{}) bool {
	msg, err := models.NewMessage(msgType, payload)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to create message")
		return true
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		h.logger.Debug().Err(err).Str("viewer", key).Msg("Failed to push view")
		return false
	}

	h.mutex.Lock()
	if v, ok := h.viewers[key]; ok {
		v.LastPush = time.Now()
		v.Pushes++
	}
	h.mutex.Unlock()
	return true
}

// removeViewer removes a viewer from the active map
func (h *Handler) removeViewer(key string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	delete(h.viewers, key)
	h.logger.Info().Str("viewer", key).Msg("Viewer disconnected")
}

// GetViewers returns a list of currently connected viewers
func (h *Handler) GetViewers() []Viewer {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	viewers := make([]Viewer, 0, len(h.viewers))
	for _, v := range h.viewers {
		viewers = append(viewers, *v)
	}
	return viewers
}
