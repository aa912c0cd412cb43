package network

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/annel0/voxelgen/internal/logging"
	"github.com/annel0/voxelgen/internal/pipeline"
	"github.com/annel0/voxelgen/internal/world"
)

const (
	// Ответ с геометрией занимает мегабайты в JSON, лимит с запасом.
	maxMessageBytes = 8 << 20

	// Соединение без запросов дольше idleTimeout закрывается
	idleTimeout = 2 * time.Minute
	writeWait   = 10 * time.Second
)

// MessageHandler обрабатывает сообщения протокола чанков.
// Один обработчик разделяется всеми соединениями KCP и TCP серверов,
// отличается только origin, под которым запросы попадают в журнал.
type MessageHandler struct {
	service *pipeline.ChunkService
	origin  string
	log     *logging.Logger
}

// NewMessageHandler создаёт обработчик поверх сервиса чанков
func NewMessageHandler(service *pipeline.ChunkService, origin string) *MessageHandler {
	return &MessageHandler{
		service: service,
		origin:  origin,
		log:     logging.GetNetworkLogger(),
	}
}

// Handle обрабатывает один запрос и возвращает ответное сообщение.
// Sequence и ClientID запроса переносятся в ответ, чтобы клиент мог
// сопоставить их при конвейерной отправке.
func (h *MessageHandler) Handle(ctx context.Context, req *Message) *Message {
	switch req.Type {
	case MsgTypePing:
		return h.handlePing(req)
	case MsgTypeChunkRequest:
		return h.handleChunkRequest(ctx, req)
	case MsgTypeRemeshRequest:
		return h.handleRemeshRequest(ctx, req)
	default:
		return h.errorReply(req, ErrCodeInvalidInput, "Неизвестный тип сообщения: %s", req.Type)
	}
}

func (h *MessageHandler) handlePing(req *Message) *Message {
	var data PingData
	if len(req.Data) > 0 {
		// Битая метка не мешает ответить
		json.Unmarshal(req.Data, &data)
	}

	return h.reply(req, MsgTypePong, PongData{
		ClientTime: data.ClientTime,
		ServerTime: time.Now().UnixNano() / int64(time.Millisecond),
	})
}

func (h *MessageHandler) handleChunkRequest(ctx context.Context, req *Message) *Message {
	var data ChunkRequestData
	if err := json.Unmarshal(req.Data, &data); err != nil {
		return h.errorReply(req, ErrCodeInvalidInput, "Неверный формат запроса чанка")
	}

	res, err := h.service.Generate(ctx, data.ChunkX, data.ChunkZ, data.Seed, h.origin)
	if err != nil {
		if errors.Is(err, pipeline.ErrPoolClosed) {
			return h.errorReply(req, ErrCodeUnavailable, "Пул генерации остановлен")
		}
		h.log.Error("Генерация чанка (%d,%d) по запросу %s: %v", data.ChunkX, data.ChunkZ, req.ClientID, err)
		return h.errorReply(req, ErrCodeInternal, "Ошибка генерации чанка")
	}

	return h.reply(req, MsgTypeChunkResponse, ChunkResponseData{
		ChunkX:      res.ChunkX,
		ChunkZ:      res.ChunkZ,
		Seed:        res.Seed,
		ContentHash: res.ContentHash,
		Voxels:      base64.StdEncoding.EncodeToString(res.Grid.Buffer()),
		VertexCount: res.Mesh.VertexCount(),
		Mesh:        res.Mesh,
	})
}

func (h *MessageHandler) handleRemeshRequest(ctx context.Context, req *Message) *Message {
	var data RemeshRequestData
	if err := json.Unmarshal(req.Data, &data); err != nil {
		return h.errorReply(req, ErrCodeInvalidInput, "Неверный формат запроса remesh")
	}

	voxels, err := base64.StdEncoding.DecodeString(data.Voxels)
	if err != nil {
		return h.errorReply(req, ErrCodeInvalidInput, "Поле voxels должно быть в base64")
	}
	if len(voxels) != world.GridLen {
		return h.errorReply(req, ErrCodeInvalidInput,
			"Буфер вокселей должен занимать %d байт, получено %d", world.GridLen, len(voxels))
	}

	out, err := h.service.Remesh(ctx, voxels, h.origin)
	if err != nil {
		if errors.Is(err, pipeline.ErrInvalidVoxelBuffer) {
			return h.errorReply(req, ErrCodeInvalidInput, "Неверный буфер вокселей")
		}
		h.log.Error("Remesh по запросу %s: %v", req.ClientID, err)
		return h.errorReply(req, ErrCodeInternal, "Ошибка построения геометрии")
	}

	return h.reply(req, MsgTypeChunkResponse, ChunkResponseData{
		ContentHash: out.ContentHash,
		VertexCount: out.Mesh.VertexCount(),
		Mesh:        out.Mesh,
		FromCache:   out.FromCache,
	})
}

func (h *MessageHandler) reply(req *Message, msgType string, data interface{}) *Message {
	msg, err := NewMessage(msgType, data)
	if err != nil {
		h.log.Error("Сериализация ответа %s: %v", msgType, err)
		return h.errorReply(req, ErrCodeInternal, "Ошибка сериализации ответа")
	}
	msg.ClientID = req.ClientID
	msg.Sequence = req.Sequence
	return msg
}

func (h *MessageHandler) errorReply(req *Message, code, format string, args ...interface{}) *Message {
	payload, _ := json.Marshal(ErrorData{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	})

	return &Message{
		Type:      MsgTypeError,
		Timestamp: time.Now().UnixNano() / int64(time.Millisecond),
		Data:      payload,
		ClientID:  req.ClientID,
		Sequence:  req.Sequence,
	}
}

// ServeConn обслуживает одно соединение: читает запросы по строкам,
// отвечает в том же порядке. Подходит для любого потокового net.Conn,
// KCP сессия в stream-режиме ведёт себя как TCP.
func (h *MessageHandler) ServeConn(ctx context.Context, conn net.Conn, clientID string) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxMessageBytes)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(idleTimeout))
		if !scanner.Scan() {
			// EOF, таймаут или разрыв соединения
			if err := scanner.Err(); err != nil {
				if ne, ok := err.(net.Error); !ok || !ne.Timeout() {
					h.log.Debug("Чтение от %s: %v", clientID, err)
				}
			}
			return
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var req Message
		if err := json.Unmarshal(line, &req); err != nil {
			h.log.Warn("Не-JSON сообщение от %s: %v", clientID, err)
			if werr := h.writeMessage(conn, h.errorReply(&Message{}, ErrCodeInvalidInput, "Сообщение должно быть JSON")); werr != nil {
				return
			}
			continue
		}
		if req.ClientID == "" {
			req.ClientID = clientID
		}

		resp := h.Handle(ctx, &req)
		if err := h.writeMessage(conn, resp); err != nil {
			h.log.Warn("Отправка ответа %s: %v", clientID, err)
			return
		}
	}
}

// writeMessage сериализует сообщение и дописывает перевод строки
func (h *MessageHandler) writeMessage(conn net.Conn, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	_, err = conn.Write(append(data, '\n'))
	return err
}
