package api

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/checkin-sync/internal/checkin"
	"github.com/clinicdesk/checkin-sync/internal/hub"
)

const wsWriteTimeout = 5 * time.Second

// realtimeHandler upgrades the connection and streams change events for one
// date. The channel is outbound only; client frames are discarded and a
// failed read tears the subscription down.
func realtimeHandler(h *hub.Hub, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date := r.URL.Query().Get("date")
		if !checkin.ValidDate(date) {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// The SPA is served from a different origin in dev.
			InsecureSkipVerify: true,
		})
		if err != nil {
			log.Warn().Err(err).Str("date", date).Msg("websocket accept failed")
			return
		}
		defer conn.Close(websocket.StatusInternalError, "")

		frames, cancel := h.Subscribe(date)
		defer cancel()

		log.Info().Str("date", date).Msg("realtime subscriber connected")

		ctx := conn.CloseRead(r.Context())

		for {
			select {
			case <-ctx.Done():
				conn.Close(websocket.StatusNormalClosure, "")
				return
			case frame, ok := <-frames:
				if !ok {
					conn.Close(websocket.StatusGoingAway, "shutting down")
					return
				}
				writeCtx, cancelWrite := context.WithTimeout(ctx, wsWriteTimeout)
				err := conn.Write(writeCtx, websocket.MessageText, frame)
				cancelWrite()
				if err != nil {
					return
				}
			}
		}
	}
}
