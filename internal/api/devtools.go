package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/serpwatch/pkg/models"
)

// A nil CheckOrigin makes gorilla reject requests whose Origin header
// names another host.
var upgrader = websocket.Upgrader{}

// dialTimeout bounds the connection to the browser's CDP endpoint
const dialTimeout = 10 * time.Second

// RelayDevtools handles GET /v1/session/ws. It forwards frames from the live
// browser to the client until either side closes. The relay is observe-only:
// frames sent by the client are read and dropped, so a watcher can never
// drive the browser in the middle of a search.
func (h *Handler) RelayDevtools(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.sessions.Current()
	if !ok {
		http.Error(w, "No live session", http.StatusNotFound)
		return
	}

	info := sess.Info()
	if info.Status != models.StatusOpen {
		http.Error(w, "Session is not open", http.StatusBadRequest)
		return
	}
	if info.DevtoolsURL == "" {
		http.Error(w, "Session has no devtools endpoint", http.StatusNotImplemented)
		return
	}

	log := h.logger.With(zap.String("session_id", info.ID))

	// Upgrade HTTP connection to WebSocket
	clientConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("failed to upgrade connection", zap.Error(err))
		return
	}
	defer clientConn.Close()

	ctx, cancel := context.WithTimeout(r.Context(), dialTimeout)
	defer cancel()

	browserConn, _, err := websocket.DefaultDialer.DialContext(ctx, info.DevtoolsURL, nil)
	if err != nil {
		log.Warn("failed to connect to browser", zap.String("endpoint", info.DevtoolsURL), zap.Error(err))
		clientConn.WriteMessage(websocket.TextMessage, []byte(fmt.Sprintf("Error connecting: %v", err)))
		return
	}
	defer browserConn.Close()

	log.Info("devtools client connected")

	errChan := make(chan error, 2)

	go func() {
		errChan <- discard(clientConn, log)
	}()

	go func() {
		errChan <- relay(browserConn, clientConn)
	}()

	// Wait for either direction to close
	err = <-errChan
	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
		log.Warn("devtools relay error", zap.Error(err))
	}

	log.Info("devtools client disconnected")
}

// discard reads the client side so control frames and closes are handled,
// and drops every data frame.
func discard(conn *websocket.Conn, log *zap.Logger) error {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		log.Debug("dropped client frame", zap.Int("bytes", len(message)))
	}
}

func relay(src, dst *websocket.Conn) error {
	for {
		messageType, message, err := src.ReadMessage()
		if err != nil {
			return err
		}

		if err := dst.WriteMessage(messageType, message); err != nil {
			return err
		}
	}
}
