package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quotient-labs/price-oracle/internal/app/domain/notification"
	"github.com/quotient-labs/price-oracle/pkg/logger"
)

const wsWriteTimeout = 10 * time.Second

// wsConn serializes writes to one connection. gorilla/websocket supports at
// most one concurrent writer per Conn, and the dispatcher's workers can
// deliver to the same subscription simultaneously.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) write(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// WebsocketHub tracks connected websocket subscribers and delivers events to
// them. Subscribers connect to the HTTP surface with their subscription id;
// delivery to a subscription with no live connection fails so the task
// retries until the subscriber reconnects or retries are exhausted.
type WebsocketHub struct {
	upgrader websocket.Upgrader
	log      *logger.Logger

	mu    sync.Mutex
	conns map[string][]*wsConn // keyed by subscription id
}

var _ Notifier = (*WebsocketHub)(nil)

// NewWebsocketHub creates an empty hub.
func NewWebsocketHub(log *logger.Logger) *WebsocketHub {
	if log == nil {
		log = logger.NewDefault("notifier-websocket")
	}
	return &WebsocketHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log:   log,
		conns: make(map[string][]*wsConn),
	}
}

func (h *WebsocketHub) Method() notification.DeliveryMethod { return notification.MethodWebsocket }

// HandleConnect upgrades an HTTP request and registers the connection under
// the subscription id. Blocks until the peer disconnects.
func (h *WebsocketHub) HandleConnect(w http.ResponseWriter, r *http.Request, subscriptionID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	wc := &wsConn{conn: conn}

	h.mu.Lock()
	h.conns[subscriptionID] = append(h.conns[subscriptionID], wc)
	h.mu.Unlock()

	h.log.WithField("subscription_id", subscriptionID).Info("websocket subscriber connected")

	// Drain control frames until the peer goes away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(subscriptionID, wc)
	_ = conn.Close()
}

func (h *WebsocketHub) remove(subscriptionID string, wc *wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns := h.conns[subscriptionID]
	for i, c := range conns {
		if c == wc {
			h.conns[subscriptionID] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(h.conns[subscriptionID]) == 0 {
		delete(h.conns, subscriptionID)
	}
}

func (h *WebsocketHub) Deliver(_ context.Context, sub notification.Subscription, payload json.RawMessage) error {
	h.mu.Lock()
	conns := append([]*wsConn(nil), h.conns[sub.ID]...)
	h.mu.Unlock()

	if len(conns) == 0 {
		return fmt.Errorf("no websocket connection for subscription %s", sub.ID)
	}

	var lastErr error
	delivered := 0
	for _, wc := range conns {
		if err := wc.write(payload); err != nil {
			lastErr = err
			h.remove(sub.ID, wc)
			_ = wc.conn.Close()
			continue
		}
		delivered++
	}
	if delivered == 0 {
		return fmt.Errorf("websocket write: %w", lastErr)
	}
	return nil
}
