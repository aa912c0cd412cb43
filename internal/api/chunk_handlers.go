package api

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/annel0/voxelgen/internal/auth"
	"github.com/annel0/voxelgen/internal/mesh"
	"github.com/annel0/voxelgen/internal/pipeline"
	"github.com/annel0/voxelgen/internal/storage"
	"github.com/annel0/voxelgen/internal/world"
)

// generateChunkRequest - запрос генерации одного чанка.
type generateChunkRequest struct {
	ChunkX int   `json:"chunk_x"`
	ChunkZ int   `json:"chunk_z"`
	Seed   int64 `json:"seed"`
}

// batchGenerateRequest - запрос пакетной генерации.
type batchGenerateRequest struct {
	Seed   int64                 `json:"seed"`
	Coords []pipeline.BatchCoord `json:"coords" binding:"required"`
}

// remeshRequest - JSON вариант запроса повторного мешинга.
type remeshRequest struct {
	Voxels string `json:"voxels" binding:"required"` // base64 буфера вокселей
}

// tokenRequest - запрос выдачи JWT токена по общему секрету.
type tokenRequest struct {
	Secret   string `json:"secret" binding:"required"`
	ClientID string `json:"client_id" binding:"required"`
	Admin    bool   `json:"admin"`
	TTLHours int    `json:"ttl_hours"`
}

// chunkPayload - чанк в ответах API. Воксели всегда в base64,
// геометрия опциональна.
type chunkPayload struct {
	ChunkX      int               `json:"chunk_x"`
	ChunkZ      int               `json:"chunk_z"`
	Seed        int64             `json:"seed"`
	ContentHash string            `json:"content_hash"`
	Voxels      string            `json:"voxels"`
	VertexCount int               `json:"vertex_count"`
	Mesh        *mesh.MeshBuffers `json:"mesh,omitempty"`
	GenerateMs  int64             `json:"generate_ms,omitempty"`
	MeshMs      int64             `json:"mesh_ms,omitempty"`
	CreatedAt   *time.Time        `json:"created_at,omitempty"`
}

// batchItemPayload - результат одного чанка в пакетном ответе.
// Воксели и геометрия в пакет не включаются, клиент забирает их по GET.
type batchItemPayload struct {
	ChunkX      int    `json:"chunk_x"`
	ChunkZ      int    `json:"chunk_z"`
	Success     bool   `json:"success"`
	ContentHash string `json:"content_hash,omitempty"`
	VertexCount int    `json:"vertex_count,omitempty"`
	Error       string `json:"error,omitempty"`
}

func resultPayload(res *pipeline.ChunkResult, includeMesh bool) chunkPayload {
	p := chunkPayload{
		ChunkX:      res.ChunkX,
		ChunkZ:      res.ChunkZ,
		Seed:        res.Seed,
		ContentHash: res.ContentHash,
		Voxels:      base64.StdEncoding.EncodeToString(res.Grid.Buffer()),
		VertexCount: res.Mesh.VertexCount(),
		GenerateMs:  res.GenerateTime.Milliseconds(),
		MeshMs:      res.MeshTime.Milliseconds(),
	}
	if includeMesh {
		p.Mesh = res.Mesh
	}
	return p
}

// handleGenerateChunk генерирует чанк и возвращает воксели вместе с геометрией.
func (rs *RestServer) handleGenerateChunk(c *gin.Context) {
	var req generateChunkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, codeInvalidInput, "Неверный формат запроса: "+err.Error())
		return
	}

	res, err := rs.service.Generate(c.Request.Context(), req.ChunkX, req.ChunkZ, req.Seed, pipeline.OriginREST)
	if err != nil {
		if errors.Is(err, pipeline.ErrPoolClosed) {
			respondError(c, http.StatusServiceUnavailable, codeInternal, "Пул генерации остановлен")
			return
		}
		respondError(c, http.StatusInternalServerError, codeInternal, "Ошибка генерации чанка")
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Чанк сгенерирован",
		Data:    resultPayload(res, true),
	})
}

// handleGenerateBatch генерирует набор чанков одного мира.
func (rs *RestServer) handleGenerateBatch(c *gin.Context) {
	var req batchGenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, codeInvalidInput, "Неверный формат запроса: "+err.Error())
		return
	}
	if len(req.Coords) == 0 {
		respondError(c, http.StatusBadRequest, codeInvalidInput, "Список координат пуст")
		return
	}
	if len(req.Coords) > rs.batchLimit {
		respondError(c, http.StatusBadRequest, codeInvalidInput,
			fmt.Sprintf("Слишком много чанков в пакете: %d, максимум %d", len(req.Coords), rs.batchLimit))
		return
	}

	items := rs.service.GenerateBatch(c.Request.Context(), req.Seed, req.Coords, pipeline.OriginBatch)

	payload := make([]batchItemPayload, len(items))
	succeeded := 0
	for i, item := range items {
		payload[i] = batchItemPayload{ChunkX: item.ChunkX, ChunkZ: item.ChunkZ}
		if item.Err != nil {
			payload[i].Error = item.Err.Error()
			continue
		}
		payload[i].Success = true
		payload[i].ContentHash = item.Result.ContentHash
		payload[i].VertexCount = item.Result.Mesh.VertexCount()
		succeeded++
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: succeeded == len(items),
		Message: fmt.Sprintf("Сгенерировано чанков: %d из %d", succeeded, len(items)),
		Data: map[string]interface{}{
			"seed":    req.Seed,
			"results": payload,
			"total":   len(items),
			"failed":  len(items) - succeeded,
		},
	})
}

// handleRemesh строит геометрию по готовому буферу вокселей.
// Буфер принимается как base64 в JSON или сырыми байтами в octet-stream.
func (rs *RestServer) handleRemesh(c *gin.Context) {
	var voxels []byte

	if strings.Contains(c.ContentType(), "application/octet-stream") {
		// Лимит чтения с запасом в байт, чтобы отличить ровно GridLen от большего
		data, err := io.ReadAll(io.LimitReader(c.Request.Body, world.GridLen+1))
		if err != nil {
			respondError(c, http.StatusBadRequest, codeInvalidInput, "Не удалось прочитать тело запроса")
			return
		}
		voxels = data
	} else {
		var req remeshRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, codeInvalidInput, "Неверный формат запроса: "+err.Error())
			return
		}
		data, err := base64.StdEncoding.DecodeString(req.Voxels)
		if err != nil {
			respondError(c, http.StatusBadRequest, codeInvalidInput, "Поле voxels должно быть в base64")
			return
		}
		voxels = data
	}

	if len(voxels) != world.GridLen {
		respondError(c, http.StatusBadRequest, codeInvalidInput,
			fmt.Sprintf("Буфер вокселей должен занимать %d байт, получено %d", world.GridLen, len(voxels)))
		return
	}

	out, err := rs.service.Remesh(c.Request.Context(), voxels, pipeline.OriginREST)
	if err != nil {
		if errors.Is(err, pipeline.ErrInvalidVoxelBuffer) {
			respondError(c, http.StatusBadRequest, codeInvalidInput, "Недопустимый буфер вокселей")
			return
		}
		respondError(c, http.StatusInternalServerError, codeInternal, "Ошибка построения геометрии")
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Геометрия построена",
		Data: map[string]interface{}{
			"content_hash": out.ContentHash,
			"vertex_count": out.Mesh.VertexCount(),
			"from_cache":   out.FromCache,
			"mesh":         out.Mesh,
		},
	})
}

func chunkKeyFromParams(c *gin.Context) (storage.ChunkKey, bool) {
	seed, err := strconv.ParseInt(c.Param("seed"), 10, 64)
	if err != nil {
		respondError(c, http.StatusBadRequest, codeInvalidInput, "Параметр seed должен быть целым числом")
		return storage.ChunkKey{}, false
	}
	x, err := strconv.Atoi(c.Param("x"))
	if err != nil {
		respondError(c, http.StatusBadRequest, codeInvalidInput, "Параметр x должен быть целым числом")
		return storage.ChunkKey{}, false
	}
	z, err := strconv.Atoi(c.Param("z"))
	if err != nil {
		respondError(c, http.StatusBadRequest, codeInvalidInput, "Параметр z должен быть целым числом")
		return storage.ChunkKey{}, false
	}
	return storage.ChunkKey{Seed: seed, ChunkX: x, ChunkZ: z}, true
}

// handleGetChunk возвращает сохранённый чанк. Параметр ?mesh=1 добавляет
// в ответ геометрию (строится по кешу или заново).
func (rs *RestServer) handleGetChunk(c *gin.Context) {
	key, ok := chunkKeyFromParams(c)
	if !ok {
		return
	}

	rec, err := rs.service.Stored(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrChunkNotFound) {
			respondError(c, http.StatusNotFound, codeNotFound, "Чанк не найден")
			return
		}
		respondError(c, http.StatusInternalServerError, codeInternal, "Ошибка чтения хранилища")
		return
	}

	payload := chunkPayload{
		ChunkX:      rec.Key.ChunkX,
		ChunkZ:      rec.Key.ChunkZ,
		Seed:        rec.Key.Seed,
		ContentHash: rec.ContentHash,
		Voxels:      base64.StdEncoding.EncodeToString(rec.Voxels),
		VertexCount: rec.VertexCount,
		CreatedAt:   &rec.CreatedAt,
	}

	if c.Query("mesh") == "1" {
		out, err := rs.service.Remesh(c.Request.Context(), rec.Voxels, pipeline.OriginREST)
		if err != nil {
			respondError(c, http.StatusInternalServerError, codeInternal, "Ошибка построения геометрии")
			return
		}
		payload.Mesh = out.Mesh
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Чанк найден",
		Data:    payload,
	})
}

// handleDeleteChunk удаляет чанк из хранилища и инвалидирует кеш меша.
func (rs *RestServer) handleDeleteChunk(c *gin.Context) {
	key, ok := chunkKeyFromParams(c)
	if !ok {
		return
	}

	if err := rs.service.DeleteStored(c.Request.Context(), key); err != nil {
		if errors.Is(err, storage.ErrChunkNotFound) {
			respondError(c, http.StatusNotFound, codeNotFound, "Чанк не найден")
			return
		}
		respondError(c, http.StatusInternalServerError, codeInternal, "Ошибка удаления чанка")
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Чанк удалён",
	})
}

// handleStatus возвращает состояние сервиса и системные метрики.
func (rs *RestServer) handleStatus(c *gin.Context) {
	memoryMB := rs.metrics.MemoryMB()
	cpuPercent, _ := rs.metrics.ProcessCPU()
	systemCPU, _ := rs.metrics.SystemCPU()

	count, err := rs.service.StoredChunks(c.Request.Context())
	if err != nil {
		rs.log.Warn("Не удалось получить размер хранилища: %v", err)
	}

	status := map[string]interface{}{
		"server": map[string]interface{}{
			"uptime":      rs.metrics.Uptime(),
			"memory_mb":   fmt.Sprintf("%.2f", memoryMB),
			"cpu_percent": fmt.Sprintf("%.2f", cpuPercent),
			"system_cpu":  fmt.Sprintf("%.2f", systemCPU),
			"server_time": time.Now().Unix(),
		},
		"pool":  rs.service.PoolStats(),
		"store": map[string]interface{}{"chunks": count},
	}

	if cm := rs.service.CacheMetrics(); cm != nil {
		status["cache"] = cm
	}
	if rs.bus != nil {
		bs := rs.service.BusStats()
		status["events"] = map[string]interface{}{
			"published": bs.Published,
			"consumed":  bs.Consumed,
			"dropped":   bs.Dropped,
			"in_flight": bs.InFlight,
		}
	}
	status["memory_details"] = rs.metrics.MemoryDetails()

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Статус получен",
		Data:    status,
	})
}

// handleJournalRecent возвращает последние записи журнала генерации.
func (rs *RestServer) handleJournalRecent(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit < 1 || limit > 500 {
		limit = 50
	}

	entries, err := rs.service.RecentJournal(c.Request.Context(), limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, codeInternal, "Ошибка чтения журнала")
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Журнал получен",
		Data: map[string]interface{}{
			"entries": entries,
			"total":   len(entries),
		},
	})
}

// handleIssueToken выдаёт JWT токен по общему секрету сервера.
func (rs *RestServer) handleIssueToken(c *gin.Context) {
	if !auth.Enabled() {
		respondError(c, http.StatusBadRequest, codeInvalidInput, "Авторизация на сервере выключена")
		return
	}

	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, codeInvalidInput, "Неверный формат запроса: "+err.Error())
		return
	}

	if !auth.VerifySharedSecret(req.Secret) {
		respondError(c, http.StatusUnauthorized, codeUnauthorized, "Неверный секрет")
		return
	}

	ttl := time.Duration(req.TTLHours) * time.Hour
	token, err := auth.GenerateToken(req.ClientID, req.Admin, ttl)
	if err != nil {
		respondError(c, http.StatusInternalServerError, codeInternal, "Ошибка генерации токена")
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Токен выдан",
		Data: map[string]interface{}{
			"token":     token,
			"client_id": req.ClientID,
			"admin":     req.Admin,
		},
	})
}
