package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/annel0/voxelgen/internal/eventbus"
	"github.com/annel0/voxelgen/internal/logging"
	"github.com/annel0/voxelgen/internal/middleware"
	"github.com/annel0/voxelgen/internal/pipeline"
)

// RestServer - HTTP фасад генератора чанков.
type RestServer struct {
	router     *gin.Engine
	service    *pipeline.ChunkService
	bus        eventbus.EventBus
	addr       string
	batchLimit int
	metrics    *ServerMetrics
	webhooks   *WebhookNotifier
	httpServer *http.Server
	log        *logging.Logger
}

// Config содержит конфигурацию REST сервера.
type Config struct {
	Port       int                    // порт HTTP сервера
	Service    *pipeline.ChunkService // обязателен
	Bus        eventbus.EventBus      // nil отключает /api/events/ws и webhook'и
	BatchLimit int                    // максимум чанков в пакетном запросе
}

// NewRestServer создаёт REST API сервер со всеми маршрутами.
func NewRestServer(cfg Config) *RestServer {
	if cfg.Port == 0 {
		cfg.Port = 8088
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 64
	}

	// Устанавливаем режим релиза для gin
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()        // без стандартного logger/recovery
	router.Use(gin.Recovery()) // добавим только recovery

	// === Observability middleware ===
	loggerMw := middleware.NewRequestLogger()
	router.Use(loggerMw.Handler())

	router.Use(otelgin.Middleware("rest_api"))

	promMw := middleware.NewPrometheusMiddleware("rest_api")
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router)

	server := &RestServer{
		router:     router,
		service:    cfg.Service,
		bus:        cfg.Bus,
		addr:       fmt.Sprintf(":%d", cfg.Port),
		batchLimit: cfg.BatchLimit,
		metrics:    NewServerMetrics(),
		webhooks:   NewWebhookNotifier("voxelgen_01"),
		log:        logging.GetAPILogger(),
	}

	server.setupRoutes()

	return server
}

// setupRoutes настраивает маршруты REST API.
func (rs *RestServer) setupRoutes() {
	// Middleware для CORS
	rs.router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	api := rs.router.Group("/api")

	// Выдача токенов (защищена общим секретом, не JWT)
	api.POST("/auth/token", rs.handleIssueToken)

	chunks := api.Group("/chunks")
	{
		chunks.POST("/generate", rs.handleGenerateChunk)
		chunks.POST("/generate/batch", rs.handleGenerateBatch)
		chunks.POST("/remesh", rs.handleRemesh)
		chunks.GET("/:seed/:x/:z", rs.handleGetChunk)
		chunks.DELETE("/:seed/:x/:z", rs.authMiddleware(), rs.handleDeleteChunk)
	}

	api.GET("/status", rs.handleStatus)
	api.GET("/journal/recent", rs.handleJournalRecent)
	api.GET("/events/ws", rs.handleEventsWS)

	// Административные эндпоинты (управление webhook'ами)
	admin := api.Group("/admin")
	admin.Use(rs.authMiddleware(), rs.adminMiddleware())
	{
		admin.GET("/webhooks", rs.handleGetOutboundWebhooks)
		admin.POST("/webhooks", rs.handleCreateOutboundWebhook)
		admin.GET("/webhooks/:id", rs.handleGetOutboundWebhook)
		admin.PUT("/webhooks/:id", rs.handleUpdateOutboundWebhook)
		admin.DELETE("/webhooks/:id", rs.handleDeleteOutboundWebhook)
		admin.POST("/webhooks/:id/test", rs.handleTestOutboundWebhook)
		admin.GET("/webhook-events", rs.handleGetWebhookEventTypes)
	}

	// Health check
	rs.router.GET("/health", rs.handleHealth)
}

// GenericResponse представляет общий ответ API.
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Code    string      `json:"code,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// Машиночитаемые коды ошибок API.
const (
	codeInvalidInput = "invalid_input"
	codeNotFound     = "not_found"
	codeUnauthorized = "unauthorized"
	codeInternal     = "internal"
)

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, GenericResponse{Success: false, Message: message, Code: code})
}

// handleHealth проверка состояния сервера.
func (rs *RestServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

// AttachBus подписывает webhook рассыльщик на шину событий.
// Вызывается после создания сервера, когда шина уже запущена.
func (rs *RestServer) AttachBus(ctx context.Context) error {
	if rs.bus == nil {
		return nil
	}
	return rs.webhooks.AttachBus(ctx, rs.bus)
}

// Router возвращает gin.Engine (для тестов и встраивания).
func (rs *RestServer) Router() *gin.Engine {
	return rs.router
}

// Start запускает HTTP сервер в отдельной горутине.
func (rs *RestServer) Start() error {
	rs.httpServer = &http.Server{
		Addr:              rs.addr,
		Handler:           rs.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := rs.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			rs.log.Error("Ошибка REST сервера: %v", err)
		}
	}()

	rs.log.Info("✅ REST API запущен на http://localhost%s", rs.addr)
	rs.log.Info("📋 Доступные эндпоинты:")
	rs.log.Info("   POST   /api/chunks/generate       - Генерация чанка")
	rs.log.Info("   POST   /api/chunks/generate/batch - Пакетная генерация")
	rs.log.Info("   POST   /api/chunks/remesh         - Повторный мешинг буфера")
	rs.log.Info("   GET    /api/chunks/:seed/:x/:z    - Сохранённый чанк")
	rs.log.Info("   DELETE /api/chunks/:seed/:x/:z    - Удаление чанка")
	rs.log.Info("   GET    /api/status                - Статус сервера")
	rs.log.Info("   GET    /api/journal/recent        - Журнал генерации")
	rs.log.Info("   GET    /api/events/ws             - WebSocket поток событий")
	rs.log.Info("   GET    /health, /metrics          - Здоровье и Prometheus")

	return nil
}

// Stop останавливает сервер, дожидаясь завершения активных запросов.
func (rs *RestServer) Stop(ctx context.Context) error {
	rs.webhooks.Close()

	if rs.httpServer == nil {
		return nil
	}
	if err := rs.httpServer.Shutdown(ctx); err != nil {
		rs.log.Error("Ошибка при остановке HTTP сервера: %v", err)
		return err
	}
	rs.log.Info("✅ REST API остановлен")
	return nil
}

// === Обработчики исходящих webhook'ов ===

// handleGetOutboundWebhooks возвращает список webhook'ов.
func (rs *RestServer) handleGetOutboundWebhooks(c *gin.Context) {
	webhooks := rs.webhooks.List()

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Список webhook'ов получен",
		Data: map[string]interface{}{
			"webhooks": webhooks,
			"total":    len(webhooks),
		},
	})
}

// handleCreateOutboundWebhook регистрирует новый webhook.
func (rs *RestServer) handleCreateOutboundWebhook(c *gin.Context) {
	var webhook OutboundWebhook
	if err := c.ShouldBindJSON(&webhook); err != nil {
		respondError(c, http.StatusBadRequest, codeInvalidInput, "Неверный формат webhook'а: "+err.Error())
		return
	}

	if webhook.Name == "" || webhook.URL == "" || len(webhook.Events) == 0 {
		respondError(c, http.StatusBadRequest, codeInvalidInput, "Обязательные поля: name, url, events")
		return
	}

	created := rs.webhooks.Add(webhook)

	c.JSON(http.StatusCreated, GenericResponse{
		Success: true,
		Message: "Webhook создан",
		Data:    created,
	})
}

// handleGetOutboundWebhook возвращает webhook по ID.
func (rs *RestServer) handleGetOutboundWebhook(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		respondError(c, http.StatusBadRequest, codeInvalidInput, "Неверный ID webhook'а")
		return
	}

	webhook := rs.webhooks.Get(id)
	if webhook == nil {
		respondError(c, http.StatusNotFound, codeNotFound, "Webhook не найден")
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Webhook найден",
		Data:    webhook,
	})
}

// handleUpdateOutboundWebhook обновляет webhook.
func (rs *RestServer) handleUpdateOutboundWebhook(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		respondError(c, http.StatusBadRequest, codeInvalidInput, "Неверный ID webhook'а")
		return
	}

	var updates OutboundWebhook
	if err := c.ShouldBindJSON(&updates); err != nil {
		respondError(c, http.StatusBadRequest, codeInvalidInput, "Неверный формат обновлений: "+err.Error())
		return
	}

	updated := rs.webhooks.Update(id, updates)
	if updated == nil {
		respondError(c, http.StatusNotFound, codeNotFound, "Webhook не найден")
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Webhook обновлён",
		Data:    updated,
	})
}

// handleDeleteOutboundWebhook удаляет webhook.
func (rs *RestServer) handleDeleteOutboundWebhook(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		respondError(c, http.StatusBadRequest, codeInvalidInput, "Неверный ID webhook'а")
		return
	}

	if !rs.webhooks.Delete(id) {
		respondError(c, http.StatusNotFound, codeNotFound, "Webhook не найден")
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Webhook удалён",
	})
}

// handleTestOutboundWebhook отправляет webhook'у тестовое событие.
func (rs *RestServer) handleTestOutboundWebhook(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		respondError(c, http.StatusBadRequest, codeInvalidInput, "Неверный ID webhook'а")
		return
	}

	if rs.webhooks.Get(id) == nil {
		respondError(c, http.StatusNotFound, codeNotFound, "Webhook не найден")
		return
	}

	rs.webhooks.SendTest(id)

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Тестовое событие отправлено",
		Data: map[string]interface{}{
			"webhook_id": id,
			"sent_at":    time.Now().Unix(),
		},
	})
}

// handleGetWebhookEventTypes возвращает доступные типы событий.
func (rs *RestServer) handleGetWebhookEventTypes(c *gin.Context) {
	eventTypes := rs.webhooks.EventTypes()

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Типы событий получены",
		Data: map[string]interface{}{
			"event_types": eventTypes,
			"total":       len(eventTypes),
		},
	})
}
