package httpgin

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/kirinyoku/tix-ledger/internal/domain"
)

const (
	feedWriteWait  = 5 * time.Second
	feedPongWait   = 60 * time.Second
	feedPingPeriod = feedPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// @Summary  Stream ledger changes
// @Description Upgrades to a websocket and sends one JSON message per committed change.
// @Success  101 {object} domain.LedgerChange
// @Router   /events/feed [get]
func handleFeed(feed FeedSubscriber, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("feed upgrade failed", slog.Any("error", err))
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(c.Request.Context())
		defer cancel()

		// The reader only tracks liveness; the client sends nothing.
		_ = conn.SetReadDeadline(time.Now().Add(feedPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(feedPongWait))
		})
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.NextReader(); err != nil {
					return
				}
			}
		}()

		changes := make(chan domain.LedgerChange, 64)
		go func() {
			defer cancel()
			_ = feed.Subscribe(ctx, func(ctx context.Context, change domain.LedgerChange) {
				select {
				case changes <- change:
				default:
				}
			})
		}()

		ticker := time.NewTicker(feedPingPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				_ = conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(feedWriteWait),
				)
				return
			case change := <-changes:
				_ = conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
				if err := conn.WriteJSON(change); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(feedWriteWait)); err != nil {
					return
				}
			}
		}
	}
}
