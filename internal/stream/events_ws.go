package stream

import (
	"context"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"

	"kexplorer/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Subscriber is the part of the event bus the stream needs.
type Subscriber interface {
	Subscribe(buffer int) (string, <-chan events.Event)
	Unsubscribe(id string)
}

// EventsWS streams bus events to a websocket client as JSON text frames.
type EventsWS struct {
	Bus    Subscriber
	Log    logr.Logger
	Buffer int
	// PingInterval defaults to 20s.
	PingInterval time.Duration
}

func (h *EventsWS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	buffer := h.Buffer
	if buffer <= 0 {
		buffer = 64
	}
	id, ch := h.Bus.Subscribe(buffer)
	defer h.Bus.Unsubscribe(id)

	// The client never sends anything meaningful; reading detects close.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// keepalive ping
	interval := h.PingInterval
	if interval <= 0 {
		interval = 20 * time.Second
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				_ = conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(2*time.Second))
			}
		}
	}()

	h.Log.V(2).Info("event stream opened", "subscription", id)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(time.Second))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				h.Log.V(1).Info("event stream write failed", "subscription", id, "err", err.Error())
				return
			}
		}
	}
}
