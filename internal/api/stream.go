package api

import (
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

// handleStream pushes the latest reading of a machine every stream interval
// until the client disconnects or the server closes. Unknown machines keep
// the connection open but receive nothing.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if !s.trackStream() {
		writeError(w, r, http.StatusServiceUnavailable, "server is shutting down")
		return
	}
	defer s.streams.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		s.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	id := r.PathValue("id")
	session := uuid.NewString()
	logger := s.logger.With(zap.String("session", session), zap.String("machine_id", id))
	logger.Info("Stream opened")

	// The read loop only watches for the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.opts.StreamInterval)
	defer ticker.Stop()

	for {
		if err := s.pushLatest(conn, id); err != nil {
			logger.Info("Stream closed", zap.Error(err))
			return
		}

		select {
		case <-gone:
			logger.Info("Stream closed by client")
			return
		case <-s.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			logger.Info("Stream closed by server")
			return
		case <-ticker.C:
		}
	}
}

// pushLatest sends the machine's most recent reading, synthesizing a burst
// first when its series is empty.
func (s *Server) pushLatest(conn *websocket.Conn, id string) error {
	if !s.store.Has(id) {
		return nil
	}
	if err := s.filler.EnsureData(id, seriesBurst); err != nil {
		return err
	}
	reading, err := s.store.Latest(id)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(reading)
}

// checkOrigin accepts clients without an Origin header, configured origins
// and same-host origins.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(s.opts.AllowedOrigins, origin) {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}
