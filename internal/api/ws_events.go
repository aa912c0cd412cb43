package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/annel0/voxelgen/internal/eventbus"
)

// Конфигурация WebSocket
var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // В продакшене следует ограничить доступ
	},
}

const (
	wsSendBuffer   = 64
	wsPingInterval = 30 * time.Second
	wsWriteWait    = 10 * time.Second
)

// wsEnvelope - сериализация конверта шины для внешних потребителей
// (websocket клиенты, webhook доставки).
type wsEnvelope struct {
	ID            string            `json:"id"`
	Timestamp     time.Time         `json:"timestamp"`
	Source        string            `json:"source"`
	EventType     string            `json:"event_type"`
	Version       int               `json:"version"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Priority      int               `json:"priority"`
	Payload       json.RawMessage   `json:"payload,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

func toWSEnvelope(ev *eventbus.Envelope) wsEnvelope {
	w := wsEnvelope{
		ID:            ev.ID,
		Timestamp:     ev.Timestamp,
		Source:        ev.Source,
		EventType:     ev.EventType,
		Version:       ev.Version,
		CorrelationID: ev.CorrelationID,
		Priority:      ev.Priority,
		Metadata:      ev.Metadata,
	}
	if len(ev.Payload) > 0 {
		w.Payload = json.RawMessage(ev.Payload)
	}
	return w
}

// handleEventsWS транслирует события шины подключённому websocket клиенту.
// Параметр ?types=chunk.generated,chunk.deleted ограничивает поток.
func (rs *RestServer) handleEventsWS(c *gin.Context) {
	if rs.bus == nil {
		respondError(c, http.StatusServiceUnavailable, codeInternal, "Шина событий не настроена")
		return
	}

	var types []string
	if raw := c.Query("types"); raw != "" {
		types = strings.Split(raw, ",")
	}

	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		rs.log.Warn("WebSocket upgrade не удался: %v", err)
		return
	}

	out := make(chan *eventbus.Envelope, wsSendBuffer)
	sub, err := rs.bus.Subscribe(context.Background(), eventbus.Filter{Types: types},
		func(ctx context.Context, ev *eventbus.Envelope) {
			// Медленный клиент теряет события, но не тормозит шину
			select {
			case out <- ev:
			default:
			}
		})
	if err != nil {
		rs.log.Error("Подписка на шину не удалась: %v", err)
		conn.Close()
		return
	}
	defer sub.Unsubscribe()
	defer conn.Close()

	rs.log.Debug("WebSocket клиент подключён: %s", c.ClientIP())

	// Читаем только для обнаружения закрытия со стороны клиента
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					rs.log.Debug("WebSocket клиент отключился с ошибкой: %v", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case ev := <-out:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(toWSEnvelope(ev)); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
