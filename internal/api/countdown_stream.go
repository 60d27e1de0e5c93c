package api

import (
	"net/http"
	"time"

	"lotterydash/internal/derived"
	"lotterydash/internal/logger"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

type countdownMessage struct {
	Seconds   uint64            `json:"seconds"`
	Countdown derived.Countdown `json:"countdown"`
	Display   string            `json:"display"`
}

// handleCountdown pushes every countdown tick until the client goes away.
func (s *Server) handleCountdown(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug("api: countdown upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	updates, unsubscribe := s.dashboard.SubscribeCountdown()
	defer unsubscribe()

	// the reader only notices the close; clients send nothing
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case seconds := <-updates:
			countdown := derived.SplitCountdown(seconds)
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(countdownMessage{
				Seconds:   seconds,
				Countdown: countdown,
				Display:   countdown.String(),
			}); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Debug("api: countdown write failed", zap.Error(err))
				}
				return
			}
		}
	}
}
