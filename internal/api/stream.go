package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

const (
	wsPingEvery = 20 * time.Second
	wsReadWait  = 60 * time.Second
	wsWriteWait = 5 * time.Second
)

// DeliveryStreamHandler upgrades GET /v1/webhooks/{id}/deliveries/stream and pushes
// one JSON DeliveryEvent per delivery transition of that webhook.
func (s *Server) DeliveryStreamHandler(w http.ResponseWriter, r *http.Request, tenant, webhookID string) {
	if _, err := s.Registry.Resolve(r.Context(), tenant, webhookID); err != nil {
		s.writeError(w, r, err)
		return
	}
	// subscribe before the handshake completes so no transition is missed
	ch := s.Broker.Subscribe(webhookID)
	defer s.Broker.Unsubscribe(webhookID, ch)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	conn.SetReadLimit(1 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadWait))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(wsReadWait)) })

	// client frames are ignored; the read loop only detects close
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(evt); err != nil {
				s.logger().Debug("stream write", zap.String("webhook_id", webhookID), zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
