package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Типы событий сервиса генерации.
const (
	EventChunkGenerated = "chunk.generated"
	EventChunkRemeshed  = "chunk.remeshed"
	EventChunkDeleted   = "chunk.deleted"
)

// SourceName подставляется в Envelope.Source для всех событий сервиса.
const SourceName = "voxelgen"

// ChunkEventPayload описывает полезную нагрузку событий chunk.*.
type ChunkEventPayload struct {
	Seed        int64  `json:"seed"`
	ChunkX      int    `json:"chunk_x"`
	ChunkZ      int    `json:"chunk_z"`
	ContentHash string `json:"content_hash,omitempty"`
	VertexCount int    `json:"vertex_count,omitempty"`
	Origin      string `json:"origin,omitempty"` // rest | kcp | tcp | batch
	DurationMs  int64  `json:"duration_ms,omitempty"`
}

// NewChunkEvent собирает Envelope для события chunk.*.
// correlationID связывает событие с породившей его задачей, может быть пустым.
func NewChunkEvent(eventType, correlationID string, p ChunkEventPayload) (*Envelope, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("сериализация события %s: %w", eventType, err)
	}

	return &Envelope{
		ID:            uuid.NewString(),
		Timestamp:     time.Now().UTC(),
		Source:        SourceName,
		EventType:     eventType,
		Version:       1,
		CorrelationID: correlationID,
		Priority:      chunkEventPriority(eventType),
		Payload:       data,
	}, nil
}

// DecodeChunkEvent разбирает полезную нагрузку события chunk.*.
func DecodeChunkEvent(ev *Envelope) (ChunkEventPayload, error) {
	var p ChunkEventPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return ChunkEventPayload{}, fmt.Errorf("разбор события %s: %w", ev.EventType, err)
	}
	return p, nil
}

// PublishChunkEvent публикует событие chunk.* в указанную шину.
// nil шина допустима, событие при этом тихо пропускается.
func PublishChunkEvent(ctx context.Context, bus EventBus, eventType, correlationID string, p ChunkEventPayload) error {
	if bus == nil {
		return nil
	}
	ev, err := NewChunkEvent(eventType, correlationID, p)
	if err != nil {
		return err
	}
	return bus.Publish(ctx, ev)
}

// chunkEventPriority задаёт приоритет по типу события.
// События удаления не отбрасываются шиной под нагрузкой.
func chunkEventPriority(eventType string) int {
	switch eventType {
	case EventChunkDeleted:
		return 6
	case EventChunkGenerated:
		return 4
	default:
		return 2
	}
}
