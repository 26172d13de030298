package routes

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"anchorledger/gateway/middleware"
	"anchorledger/observability"
)

const eventWriteTimeout = 5 * time.Second

// streamEvents relays ledger notifications to a websocket client until either
// side goes away. Clients that fall behind miss events.
func (h *handlers) streamEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
			slog.String("error", err.Error()))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	feed, cancel := h.bus.Subscribe()
	defer cancel()
	defer observability.Gateway().StreamOpened()()

	// Reads are discarded; the returned context ends when the peer closes.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case evt, ok := <-feed:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "stream ended")
				return
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, eventWriteTimeout)
			err := wsjson.Write(writeCtx, conn, evt)
			cancelWrite()
			if err != nil {
				return
			}
		}
	}
}
