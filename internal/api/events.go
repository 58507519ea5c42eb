package api

import (
	"net/http"
	"sync"
	"time"

	"arbor/internal/delta"
	"arbor/shared/types"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	eventBacklog = 64
	writeWait    = 10 * time.Second
	pingPeriod   = 30 * time.Second
)

// SubscribedEvent is the first message on an events stream. Events fired
// after it is received are delivered.
const SubscribedEvent = "subscribed"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Events streams change events over a websocket until the client goes
// away. A client that falls more than eventBacklog events behind is
// disconnected.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	log := h.logger.WithRequestID(r.Context())
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	events := make(chan delta.Event, eventBacklog)
	overflow := make(chan struct{})
	var once sync.Once
	unsubscribe := h.ws.Events().Subscribe(func(ev delta.Event) {
		select {
		case events <- ev:
		default:
			once.Do(func() { close(overflow) })
		}
	})
	defer unsubscribe()

	// the client sends nothing; reading detects the close
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(v any) bool {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(v); err != nil {
			log.Debug("websocket write failed", zap.Error(err))
			return false
		}
		return true
	}
	if !send(types.Event{Type: SubscribedEvent, Time: time.Now()}) {
		return
	}
	log.Info("events client connected")

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case ev := <-events:
			if !send(types.FromEvent(ev)) {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-overflow:
			log.Warn("events client too slow, disconnecting")
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too slow"),
				time.Now().Add(writeWait))
			return
		case <-gone:
			log.Info("events client disconnected")
			return
		case <-r.Context().Done():
			return
		}
	}
}
