package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/annel0/voxelgen/internal/eventbus"
	"github.com/annel0/voxelgen/internal/logging"
)

// OutboundWebhook описывает подписку внешнего сервиса на события генератора.
type OutboundWebhook struct {
	ID           uint64     `json:"id"`
	Name         string     `json:"name" binding:"required"`
	URL          string     `json:"url" binding:"required"`
	Secret       string     `json:"secret,omitempty"`
	Events       []string   `json:"events" binding:"required"` // типы событий или "*"
	Active       bool       `json:"active"`
	TimeoutSec   int        `json:"timeout_sec"`
	RetryCount   int        `json:"retry_count"`
	CreatedAt    time.Time  `json:"created_at"`
	LastUsed     *time.Time `json:"last_used,omitempty"`
	FailureCount int        `json:"failure_count"`
}

// WebhookDelivery - тело POST запроса к внешнему сервису.
type WebhookDelivery struct {
	Event     wsEnvelope `json:"event"`
	ServiceID string     `json:"service_id"`
	SentAt    int64      `json:"sent_at"`
}

// WebhookNotifier рассылает события шины по зарегистрированным URL.
// События проходят через внутреннюю очередь, переполнение очереди
// не блокирует шину.
type WebhookNotifier struct {
	mu       sync.RWMutex
	webhooks map[uint64]*OutboundWebhook
	nextID   uint64

	queue      chan *eventbus.Envelope
	httpClient *http.Client
	serviceID  string
	sub        eventbus.Subscription
	done       chan struct{}
	stopOnce   sync.Once
	log        *logging.Logger
}

// NewWebhookNotifier создаёт рассыльщик и запускает воркера доставки.
func NewWebhookNotifier(serviceID string) *WebhookNotifier {
	n := &WebhookNotifier{
		webhooks:  make(map[uint64]*OutboundWebhook),
		nextID:    1,
		queue:     make(chan *eventbus.Envelope, 1000),
		serviceID: serviceID,
		done:      make(chan struct{}),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: logging.GetAPILogger(),
	}

	go n.deliveryLoop()

	return n
}

// AttachBus подписывает рассыльщик на все события шины.
func (n *WebhookNotifier) AttachBus(ctx context.Context, bus eventbus.EventBus) error {
	sub, err := bus.Subscribe(ctx, eventbus.Filter{}, func(ctx context.Context, ev *eventbus.Envelope) {
		n.Enqueue(ev)
	})
	if err != nil {
		return err
	}
	n.sub = sub
	return nil
}

// Enqueue ставит событие в очередь рассылки без блокировки.
func (n *WebhookNotifier) Enqueue(ev *eventbus.Envelope) {
	select {
	case n.queue <- ev:
	default:
		n.log.Warn("Очередь webhook'ов переполнена, событие %s пропущено", ev.EventType)
	}
}

// Close отписывается от шины и останавливает воркера доставки.
func (n *WebhookNotifier) Close() {
	n.stopOnce.Do(func() {
		if n.sub != nil {
			n.sub.Unsubscribe()
		}
		close(n.done)
	})
}

// Add регистрирует новый webhook и возвращает его с заполненным ID.
func (n *WebhookNotifier) Add(webhook OutboundWebhook) *OutboundWebhook {
	n.mu.Lock()
	defer n.mu.Unlock()

	webhook.ID = n.nextID
	n.nextID++
	webhook.CreatedAt = time.Now()
	webhook.Active = true

	if webhook.TimeoutSec <= 0 {
		webhook.TimeoutSec = 10
	}
	if webhook.RetryCount <= 0 {
		webhook.RetryCount = 3
	}

	n.webhooks[webhook.ID] = &webhook
	return &webhook
}

// List возвращает все зарегистрированные webhook'и.
func (n *WebhookNotifier) List() []*OutboundWebhook {
	n.mu.RLock()
	defer n.mu.RUnlock()

	out := make([]*OutboundWebhook, 0, len(n.webhooks))
	for _, w := range n.webhooks {
		out = append(out, w)
	}
	return out
}

// Get возвращает webhook по ID или nil.
func (n *WebhookNotifier) Get(id uint64) *OutboundWebhook {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.webhooks[id]
}

// Update обновляет непустые поля webhook'а.
func (n *WebhookNotifier) Update(id uint64, updates OutboundWebhook) *OutboundWebhook {
	n.mu.Lock()
	defer n.mu.Unlock()

	w, ok := n.webhooks[id]
	if !ok {
		return nil
	}

	if updates.Name != "" {
		w.Name = updates.Name
	}
	if updates.URL != "" {
		w.URL = updates.URL
	}
	if updates.Secret != "" {
		w.Secret = updates.Secret
	}
	if len(updates.Events) > 0 {
		w.Events = updates.Events
	}
	if updates.TimeoutSec > 0 {
		w.TimeoutSec = updates.TimeoutSec
	}
	if updates.RetryCount > 0 {
		w.RetryCount = updates.RetryCount
	}
	w.Active = updates.Active

	return w
}

// Delete удаляет webhook. Возвращает false, если его не было.
func (n *WebhookNotifier) Delete(id uint64) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.webhooks[id]; !ok {
		return false
	}
	delete(n.webhooks, id)
	return true
}

// EventTypes возвращает типы событий, на которые можно подписаться.
func (n *WebhookNotifier) EventTypes() []string {
	return []string{
		eventbus.EventChunkGenerated,
		eventbus.EventChunkRemeshed,
		eventbus.EventChunkDeleted,
		"webhook.test",
	}
}

// SendTest ставит в очередь тестовое событие для проверки доставки.
func (n *WebhookNotifier) SendTest(webhookID uint64) {
	payload, _ := json.Marshal(map[string]interface{}{
		"webhook_id": webhookID,
		"message":    "Тестовое событие от генератора чанков",
	})

	n.Enqueue(&eventbus.Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    eventbus.SourceName,
		EventType: "webhook.test",
		Version:   1,
		Priority:  5,
		Payload:   payload,
	})
}

// deliveryLoop разбирает очередь и раздаёт события подписанным webhook'ам.
func (n *WebhookNotifier) deliveryLoop() {
	for {
		select {
		case <-n.done:
			return
		case ev := <-n.queue:
			n.dispatch(ev)
		}
	}
}

func (n *WebhookNotifier) dispatch(ev *eventbus.Envelope) {
	n.mu.RLock()
	targets := make([]*OutboundWebhook, 0)
	for _, w := range n.webhooks {
		if w.Active && subscribedTo(w, ev.EventType) {
			targets = append(targets, w)
		}
	}
	n.mu.RUnlock()

	for _, w := range targets {
		go n.deliver(w, ev)
	}
}

func subscribedTo(w *OutboundWebhook, eventType string) bool {
	for _, t := range w.Events {
		if t == eventType || t == "*" {
			return true
		}
	}
	return false
}

// deliver отправляет событие одному webhook'у с ретраями.
// Для теста webhook_id в тестовом событии не проверяется: тестовое событие
// получают все подписанные на webhook.test.
func (n *WebhookNotifier) deliver(w *OutboundWebhook, ev *eventbus.Envelope) {
	delivery := WebhookDelivery{
		Event:     toWSEnvelope(ev),
		ServiceID: n.serviceID,
		SentAt:    time.Now().Unix(),
	}
	body, err := json.Marshal(delivery)
	if err != nil {
		n.log.Error("Ошибка сериализации события для webhook %s: %v", w.Name, err)
		return
	}

	success := false
	for attempt := 0; attempt <= w.RetryCount; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
		if err := n.post(w, ev.EventType, body); err != nil {
			n.log.Warn("Попытка %d/%d для webhook %s: %v", attempt+1, w.RetryCount+1, w.Name, err)
			continue
		}
		success = true
		break
	}

	n.mu.Lock()
	now := time.Now()
	w.LastUsed = &now
	if !success {
		w.FailureCount++
	}
	n.mu.Unlock()

	if success {
		n.log.Debug("Событие %s доставлено в webhook %s", ev.EventType, w.Name)
	}
}

// post выполняет один HTTP запрос. Запрос собирается на каждую попытку,
// тело нельзя переиспользовать после отправки.
func (n *WebhookNotifier) post(w *OutboundWebhook, eventType string, body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(w.TimeoutSec)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "voxelgen/1.0")
	req.Header.Set("X-Event-Type", eventType)
	req.Header.Set("X-Service-ID", n.serviceID)

	if w.Secret != "" {
		req.Header.Set("X-Webhook-Signature", signPayload(body, w.Secret))
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("статус %d", resp.StatusCode)
	}
	return nil
}

// signPayload генерирует HMAC-SHA256 подпись тела запроса.
func signPayload(data []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
