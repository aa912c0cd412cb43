package network

import (
	"encoding/json"
	"time"

	"github.com/annel0/voxelgen/internal/mesh"
)

// Константы типов сообщений
const (
	// Клиент -> Сервер
	MsgTypeChunkRequest  = "chunk_request"  // Запрос генерации чанка
	MsgTypeRemeshRequest = "remesh_request" // Перестроение геометрии по буферу вокселей
	MsgTypePing          = "ping"           // Проверка соединения

	// Сервер -> Клиент
	MsgTypeChunkResponse = "chunk_response" // Ответ с данными чанка
	MsgTypeError         = "error"          // Ошибка обработки запроса
	MsgTypePong          = "pong"           // Ответ на ping
)

// Коды ошибок в ErrorData.Code
const (
	ErrCodeInvalidInput = "invalid_input"
	ErrCodeUnavailable  = "unavailable"
	ErrCodeInternal     = "internal"
)

// Message представляет базовую структуру сетевого сообщения
type Message struct {
	Type      string          `json:"type"`      // Тип сообщения
	Timestamp int64           `json:"timestamp"` // Временная метка (мс)
	Data      json.RawMessage `json:"data"`      // Данные сообщения (зависят от типа)
	ClientID  string          `json:"client_id"` // Идентификатор клиента
	Sequence  uint32          `json:"sequence"`  // Порядковый номер сообщения
}

// NewMessage создает новое сообщение указанного типа
func NewMessage(msgType string, data interface{}) (*Message, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixNano() / int64(time.Millisecond),
		Data:      dataBytes,
	}, nil
}

// Структуры данных для сообщений от клиента к серверу

// ChunkRequestData представляет запрос генерации чанка
type ChunkRequestData struct {
	ChunkX int   `json:"chunk_x"` // Координата X чанка
	ChunkZ int   `json:"chunk_z"` // Координата Z чанка
	Seed   int64 `json:"seed"`    // Сид мира
}

// RemeshRequestData представляет запрос перестроения геометрии.
// Voxels передаётся как base64 буфера вокселей фиксированной длины.
type RemeshRequestData struct {
	Voxels string `json:"voxels"`
}

// PingData несёт клиентскую метку времени для замера RTT
type PingData struct {
	ClientTime int64 `json:"client_time"`
}

// Структуры данных для сообщений от сервера к клиенту

// ChunkResponseData представляет сгенерированный чанк.
// Для remesh_request координаты и воксели опускаются: клиент уже
// располагает буфером, который сам прислал.
type ChunkResponseData struct {
	ChunkX      int               `json:"chunk_x"`
	ChunkZ      int               `json:"chunk_z"`
	Seed        int64             `json:"seed"`
	ContentHash string            `json:"content_hash"`
	Voxels      string            `json:"voxels,omitempty"` // base64 буфера вокселей
	VertexCount int               `json:"vertex_count"`
	Mesh        *mesh.MeshBuffers `json:"mesh,omitempty"`
	FromCache   bool              `json:"from_cache,omitempty"`
}

// ErrorData описывает ошибку обработки запроса
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongData возвращает клиентскую метку вместе с серверной
type PongData struct {
	ClientTime int64 `json:"client_time"`
	ServerTime int64 `json:"server_time"`
}
