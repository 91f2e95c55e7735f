package agentdata

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/hlog"
	"github.com/torusai/agentdata/pkg/notify"
)

const (
	eventWriteWait  = 10 * time.Second
	eventPongWait   = 60 * time.Second
	eventPingPeriod = (eventPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleEvents streams sync events to a websocket client.
//
//	GET /data/events?agent_id=a1&user_id=u1
//
// Each message is a JSON encoded SyncEvent. Events the client is too slow to
// receive are dropped.
func (a *App) handleEvents(w http.ResponseWriter, r *http.Request) {
	filter := notify.Filter{
		AgentID: r.URL.Query().Get("agent_id"),
		UserID:  r.URL.Query().Get("user_id"),
	}
	if claims := claimsFrom(r.Context()); claims != nil && claims.Subject != "" && claims.Role != RoleAdmin {
		if filter.UserID != "" && filter.UserID != claims.Subject {
			respondError(w, http.StatusForbidden, errForbidden.Error())
			return
		}
		filter.UserID = claims.Subject
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an error response.
		return
	}
	defer conn.Close()

	log := hlog.FromRequest(r)
	sub := a.hub.Subscribe(filter)
	defer a.hub.Unsubscribe(sub)

	// The read loop only handles control frames and notices a closed client.
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(eventPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(eventPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(eventPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case event, ok := <-sub.Events():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(eventWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := conn.WriteJSON(event); err != nil {
				log.Debug().Err(err).Msg("Event stream write failed")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
