package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxelgen/internal/auth"
	"github.com/annel0/voxelgen/internal/cache"
	"github.com/annel0/voxelgen/internal/eventbus"
	"github.com/annel0/voxelgen/internal/mesh"
	"github.com/annel0/voxelgen/internal/pipeline"
	"github.com/annel0/voxelgen/internal/storage"
	"github.com/annel0/voxelgen/internal/world"
	"github.com/annel0/voxelgen/internal/world/block"
)

type apiHarness struct {
	rs  *RestServer
	bus eventbus.EventBus
	svc *pipeline.ChunkService
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()

	// Изолируем реестр метрик, иначе повторный MustRegister паникует
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	gin.SetMode(gin.TestMode)

	gen := world.NewGenerator()
	mesher := mesh.NewFaceCullingMesher(block.DefaultMaterials())
	p := pipeline.NewChunkPipeline(gen, mesher, nil)
	pool := pipeline.NewWorkerPool(p, 2, 16)
	t.Cleanup(pool.Shutdown)

	bus := eventbus.NewMemoryBus(64)
	t.Cleanup(func() {
		if c, ok := bus.(interface{ Close() }); ok {
			c.Close()
		}
	})

	svc := pipeline.NewChunkService(pipeline.ServiceOptions{
		Pool:     pool,
		Pipeline: p,
		Store:    storage.NewMemoryChunkStore(),
		Journal:  storage.NewMemoryJournal(16),
		Cache:    cache.NewMemoryMeshCache(),
		Bus:      bus,
	})

	rs := NewRestServer(Config{Service: svc, Bus: bus, BatchLimit: 8})
	require.NoError(t, rs.AttachBus(context.Background()))
	t.Cleanup(func() { rs.webhooks.Close() })

	return &apiHarness{rs: rs, bus: bus, svc: svc}
}

func (h *apiHarness) doJSON(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.rs.Router().ServeHTTP(w, req)
	return w
}

func (h *apiHarness) doAuthJSON(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.rs.Router().ServeHTTP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
}

func TestRestServer_GenerateChunk(t *testing.T) {
	h := newAPIHarness(t)

	w := h.doJSON("POST", "/api/chunks/generate", gin.H{"chunk_x": 1, "chunk_z": 2, "seed": 42})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			ChunkX      int               `json:"chunk_x"`
			ChunkZ      int               `json:"chunk_z"`
			Seed        int64             `json:"seed"`
			ContentHash string            `json:"content_hash"`
			Voxels      string            `json:"voxels"`
			VertexCount int               `json:"vertex_count"`
			Mesh        *mesh.MeshBuffers `json:"mesh"`
		} `json:"data"`
	}
	decodeResponse(t, w, &resp)

	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.Data.ChunkX)
	assert.Equal(t, 2, resp.Data.ChunkZ)
	assert.Equal(t, int64(42), resp.Data.Seed)
	assert.Len(t, resp.Data.ContentHash, 64)
	assert.Greater(t, resp.Data.VertexCount, 0)
	require.NotNil(t, resp.Data.Mesh)
	assert.Equal(t, resp.Data.VertexCount, resp.Data.Mesh.VertexCount())

	voxels, err := base64.StdEncoding.DecodeString(resp.Data.Voxels)
	require.NoError(t, err)
	assert.Len(t, voxels, world.GridLen)

	// Чанк сохранён и доступен по GET
	w2 := h.doJSON("GET", "/api/chunks/42/1/2", nil)
	assert.Equal(t, http.StatusOK, w2.Code)
}

func TestRestServer_GetChunkNotFound(t *testing.T) {
	h := newAPIHarness(t)

	w := h.doJSON("GET", "/api/chunks/999/5/5", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	var resp GenericResponse
	decodeResponse(t, w, &resp)
	assert.False(t, resp.Success)
	assert.Equal(t, codeNotFound, resp.Code)
}

func TestRestServer_GetChunkBadParams(t *testing.T) {
	h := newAPIHarness(t)

	w := h.doJSON("GET", "/api/chunks/abc/1/2", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp GenericResponse
	decodeResponse(t, w, &resp)
	assert.Equal(t, codeInvalidInput, resp.Code)
}

func TestRestServer_GetChunkWithMesh(t *testing.T) {
	h := newAPIHarness(t)

	w := h.doJSON("POST", "/api/chunks/generate", gin.H{"chunk_x": 0, "chunk_z": 0, "seed": 7})
	require.Equal(t, http.StatusOK, w.Code)

	w2 := h.doJSON("GET", "/api/chunks/7/0/0?mesh=1", nil)
	require.Equal(t, http.StatusOK, w2.Code)

	var resp struct {
		Data struct {
			Mesh *mesh.MeshBuffers `json:"mesh"`
		} `json:"data"`
	}
	decodeResponse(t, w2, &resp)
	require.NotNil(t, resp.Data.Mesh)
	assert.Greater(t, resp.Data.Mesh.VertexCount(), 0)
}

func TestRestServer_RemeshJSON(t *testing.T) {
	h := newAPIHarness(t)

	empty := base64.StdEncoding.EncodeToString(make([]byte, world.GridLen))
	w := h.doJSON("POST", "/api/chunks/remesh", gin.H{"voxels": empty})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Data struct {
			ContentHash string `json:"content_hash"`
			VertexCount int    `json:"vertex_count"`
			FromCache   bool   `json:"from_cache"`
		} `json:"data"`
	}
	decodeResponse(t, w, &resp)
	assert.Len(t, resp.Data.ContentHash, 64)
	assert.Zero(t, resp.Data.VertexCount, "Пустой мир не даёт геометрии")
	assert.False(t, resp.Data.FromCache)

	// Повтор того же буфера идёт из кеша
	w2 := h.doJSON("POST", "/api/chunks/remesh", gin.H{"voxels": empty})
	require.Equal(t, http.StatusOK, w2.Code)
	decodeResponse(t, w2, &resp)
	assert.True(t, resp.Data.FromCache)
}

func TestRestServer_RemeshOctetStream(t *testing.T) {
	h := newAPIHarness(t)

	req := httptest.NewRequest("POST", "/api/chunks/remesh", bytes.NewReader(make([]byte, world.GridLen)))
	req.Header.Set("Content-Type", "application/octet-stream")
	w := httptest.NewRecorder()
	h.rs.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestRestServer_RemeshInvalidLength(t *testing.T) {
	h := newAPIHarness(t)

	// JSON с буфером неверной длины
	short := base64.StdEncoding.EncodeToString(make([]byte, 100))
	w := h.doJSON("POST", "/api/chunks/remesh", gin.H{"voxels": short})
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp GenericResponse
	decodeResponse(t, w, &resp)
	assert.Equal(t, codeInvalidInput, resp.Code)

	// Octet-stream слишком длинный
	req := httptest.NewRequest("POST", "/api/chunks/remesh", bytes.NewReader(make([]byte, world.GridLen+10)))
	req.Header.Set("Content-Type", "application/octet-stream")
	w2 := httptest.NewRecorder()
	h.rs.Router().ServeHTTP(w2, req)
	assert.Equal(t, http.StatusBadRequest, w2.Code)

	// Не base64
	w3 := h.doJSON("POST", "/api/chunks/remesh", gin.H{"voxels": "не base64!!!"})
	assert.Equal(t, http.StatusBadRequest, w3.Code)
}

func TestRestServer_GenerateBatch(t *testing.T) {
	h := newAPIHarness(t)

	w := h.doJSON("POST", "/api/chunks/generate/batch", gin.H{
		"seed":   9,
		"coords": []gin.H{{"chunk_x": 0, "chunk_z": 0}, {"chunk_x": 1, "chunk_z": -1}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			Results []struct {
				ChunkX      int    `json:"chunk_x"`
				Success     bool   `json:"success"`
				ContentHash string `json:"content_hash"`
			} `json:"results"`
			Total  int `json:"total"`
			Failed int `json:"failed"`
		} `json:"data"`
	}
	decodeResponse(t, w, &resp)
	assert.True(t, resp.Success)
	require.Len(t, resp.Data.Results, 2)
	assert.Equal(t, 0, resp.Data.Failed)
	for _, r := range resp.Data.Results {
		assert.True(t, r.Success)
		assert.Len(t, r.ContentHash, 64)
	}
}

func TestRestServer_GenerateBatchLimits(t *testing.T) {
	h := newAPIHarness(t)

	// Пустой список
	w := h.doJSON("POST", "/api/chunks/generate/batch", gin.H{"seed": 1, "coords": []gin.H{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Сверх лимита (в тестовом сервере лимит 8)
	coords := make([]gin.H, 9)
	for i := range coords {
		coords[i] = gin.H{"chunk_x": i, "chunk_z": 0}
	}
	w2 := h.doJSON("POST", "/api/chunks/generate/batch", gin.H{"seed": 1, "coords": coords})
	assert.Equal(t, http.StatusBadRequest, w2.Code)
}

func TestRestServer_DeleteChunk(t *testing.T) {
	h := newAPIHarness(t)

	w := h.doJSON("POST", "/api/chunks/generate", gin.H{"chunk_x": 3, "chunk_z": 3, "seed": 5})
	require.Equal(t, http.StatusOK, w.Code)

	// Авторизация выключена, удаление доступно без токена
	w2 := h.doJSON("DELETE", "/api/chunks/5/3/3", nil)
	require.Equal(t, http.StatusOK, w2.Code)

	w3 := h.doJSON("GET", "/api/chunks/5/3/3", nil)
	assert.Equal(t, http.StatusNotFound, w3.Code)

	w4 := h.doJSON("DELETE", "/api/chunks/5/3/3", nil)
	assert.Equal(t, http.StatusNotFound, w4.Code)
}

func TestRestServer_AuthFlow(t *testing.T) {
	h := newAPIHarness(t)

	const secret = "integration-secret-0123456789"
	require.NoError(t, auth.Configure(secret))
	defer auth.Configure("")

	h.doJSON("POST", "/api/chunks/generate", gin.H{"chunk_x": 0, "chunk_z": 0, "seed": 77})

	// Без токена удаление запрещено
	w := h.doJSON("DELETE", "/api/chunks/77/0/0", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	var resp GenericResponse
	decodeResponse(t, w, &resp)
	assert.Equal(t, codeUnauthorized, resp.Code)

	// Выдача токена с неверным секретом
	w2 := h.doJSON("POST", "/api/auth/token", gin.H{"secret": "wrong-secret-000000", "client_id": "tester"})
	assert.Equal(t, http.StatusUnauthorized, w2.Code)

	// Выдача токена с правильным секретом
	w3 := h.doJSON("POST", "/api/auth/token", gin.H{"secret": secret, "client_id": "tester"})
	require.Equal(t, http.StatusOK, w3.Code, w3.Body.String())

	var tokenResp struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	decodeResponse(t, w3, &tokenResp)
	require.NotEmpty(t, tokenResp.Data.Token)

	// С токеном удаление проходит
	w4 := h.doAuthJSON("DELETE", "/api/chunks/77/0/0", tokenResp.Data.Token, nil)
	assert.Equal(t, http.StatusOK, w4.Code, w4.Body.String())

	// Мусорный токен отклоняется
	w5 := h.doAuthJSON("DELETE", "/api/chunks/77/0/0", "garbage.token.here", nil)
	assert.Equal(t, http.StatusUnauthorized, w5.Code)
}

func TestRestServer_AdminRoutes(t *testing.T) {
	h := newAPIHarness(t)

	const secret = "integration-secret-0123456789"
	require.NoError(t, auth.Configure(secret))
	defer auth.Configure("")

	// Обычный клиент не проходит в админку
	userToken, err := auth.GenerateToken("viewer", false, time.Hour)
	require.NoError(t, err)
	w := h.doAuthJSON("GET", "/api/admin/webhooks", userToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Администратор проходит
	adminToken, err := auth.GenerateToken("operator", true, time.Hour)
	require.NoError(t, err)
	w2 := h.doAuthJSON("GET", "/api/admin/webhooks", adminToken, nil)
	assert.Equal(t, http.StatusOK, w2.Code)
}

func TestRestServer_IssueTokenDisabled(t *testing.T) {
	h := newAPIHarness(t)

	w := h.doJSON("POST", "/api/auth/token", gin.H{"secret": "anything-long-enough", "client_id": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRestServer_Status(t *testing.T) {
	h := newAPIHarness(t)

	h.doJSON("POST", "/api/chunks/generate", gin.H{"chunk_x": 0, "chunk_z": 0, "seed": 1})

	w := h.doJSON("GET", "/api/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data map[string]json.RawMessage `json:"data"`
	}
	decodeResponse(t, w, &resp)
	for _, key := range []string{"server", "pool", "store", "cache", "events", "memory_details"} {
		assert.Contains(t, resp.Data, key, "В статусе нет секции %s", key)
	}
}

func TestRestServer_Health(t *testing.T) {
	h := newAPIHarness(t)

	w := h.doJSON("GET", "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestRestServer_MetricsEndpoint(t *testing.T) {
	h := newAPIHarness(t)

	w := h.doJSON("GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "# HELP")
}

func TestRestServer_JournalRecent(t *testing.T) {
	h := newAPIHarness(t)

	h.doJSON("POST", "/api/chunks/generate", gin.H{"chunk_x": 2, "chunk_z": 2, "seed": 3})

	w := h.doJSON("GET", "/api/journal/recent?limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data struct {
			Entries []storage.JournalEntry `json:"entries"`
			Total   int                    `json:"total"`
		} `json:"data"`
	}
	decodeResponse(t, w, &resp)
	require.GreaterOrEqual(t, resp.Data.Total, 1)
	assert.Equal(t, pipeline.OriginREST, resp.Data.Entries[0].Origin)
}

func TestRestServer_WebhookCRUDAndDelivery(t *testing.T) {
	h := newAPIHarness(t)

	received := make(chan *http.Request, 1)
	bodies := make(chan []byte, 1)
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- r
		bodies <- body
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	const hookSecret = "hook-secret"
	w := h.doJSON("POST", "/api/admin/webhooks", gin.H{
		"name":   "test-hook",
		"url":    target.URL,
		"secret": hookSecret,
		"events": []string{"webhook.test"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created struct {
		Data OutboundWebhook `json:"data"`
	}
	decodeResponse(t, w, &created)
	require.NotZero(t, created.Data.ID)

	// Список
	w2 := h.doJSON("GET", "/api/admin/webhooks", nil)
	require.Equal(t, http.StatusOK, w2.Code)
	assert.Contains(t, w2.Body.String(), "test-hook")

	// Тестовая доставка
	w3 := h.doJSON("POST", "/api/admin/webhooks/1/test", nil)
	require.Equal(t, http.StatusOK, w3.Code)

	select {
	case req := <-received:
		assert.Equal(t, "webhook.test", req.Header.Get("X-Event-Type"))
		assert.Equal(t, "application/json", req.Header.Get("Content-Type"))

		body := <-bodies
		mac := hmac.New(sha256.New, []byte(hookSecret))
		mac.Write(body)
		expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
		assert.Equal(t, expected, req.Header.Get("X-Webhook-Signature"))

		var delivery WebhookDelivery
		require.NoError(t, json.Unmarshal(body, &delivery))
		assert.Equal(t, "webhook.test", delivery.Event.EventType)
	case <-time.After(3 * time.Second):
		t.Fatal("Webhook не получил тестовое событие")
	}

	// Удаление
	w4 := h.doJSON("DELETE", "/api/admin/webhooks/1", nil)
	require.Equal(t, http.StatusOK, w4.Code)

	w5 := h.doJSON("GET", "/api/admin/webhooks/1", nil)
	assert.Equal(t, http.StatusNotFound, w5.Code)
}

func TestRestServer_EventsWebSocket(t *testing.T) {
	h := newAPIHarness(t)

	srv := httptest.NewServer(h.rs.Router())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events/ws?types=chunk.generated"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// Подписка оформляется после рукопожатия
	time.Sleep(100 * time.Millisecond)

	_, err = h.svc.Generate(context.Background(), 4, 4, 11, pipeline.OriginREST)
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var got wsEnvelope
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, eventbus.EventChunkGenerated, got.EventType)
	assert.Equal(t, eventbus.SourceName, got.Source)

	payload, err := eventbus.DecodeChunkEvent(&eventbus.Envelope{
		EventType: got.EventType,
		Payload:   []byte(got.Payload),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(11), payload.Seed)
	assert.Equal(t, 4, payload.ChunkX)
}
