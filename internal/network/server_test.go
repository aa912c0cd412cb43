package network

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtaci/kcp-go/v5"

	"github.com/annel0/voxelgen/internal/cache"
	"github.com/annel0/voxelgen/internal/mesh"
	"github.com/annel0/voxelgen/internal/pipeline"
	"github.com/annel0/voxelgen/internal/world"
	"github.com/annel0/voxelgen/internal/world/block"
)

func newTestService(t *testing.T) *pipeline.ChunkService {
	t.Helper()

	gen := world.NewGenerator()
	mesher := mesh.NewFaceCullingMesher(block.DefaultMaterials())
	p := pipeline.NewChunkPipeline(gen, mesher, nil)
	pool := pipeline.NewWorkerPool(p, 2, 16)
	t.Cleanup(pool.Shutdown)

	meshCache := cache.NewMemoryMeshCache()
	t.Cleanup(func() { meshCache.Close() })

	return pipeline.NewChunkService(pipeline.ServiceOptions{
		Pool:     pool,
		Pipeline: p,
		Cache:    meshCache,
	})
}

func mustMessage(t *testing.T, msgType string, data interface{}) *Message {
	t.Helper()
	msg, err := NewMessage(msgType, data)
	require.NoError(t, err)
	return msg
}

func decodeData(t *testing.T, msg *Message, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(msg.Data, out))
}

func TestMessageHandler_PingPong(t *testing.T) {
	h := NewMessageHandler(newTestService(t), pipeline.OriginTCP)

	req := mustMessage(t, MsgTypePing, PingData{ClientTime: 12345})
	req.ClientID = "client-1"
	req.Sequence = 7

	resp := h.Handle(context.Background(), req)
	require.Equal(t, MsgTypePong, resp.Type)
	assert.Equal(t, "client-1", resp.ClientID)
	assert.Equal(t, uint32(7), resp.Sequence)

	var pong PongData
	decodeData(t, resp, &pong)
	assert.Equal(t, int64(12345), pong.ClientTime)
	assert.NotZero(t, pong.ServerTime)
}

func TestMessageHandler_ChunkRequest(t *testing.T) {
	h := NewMessageHandler(newTestService(t), pipeline.OriginKCP)

	req := mustMessage(t, MsgTypeChunkRequest, ChunkRequestData{ChunkX: 1, ChunkZ: -2, Seed: 42})
	req.Sequence = 3

	resp := h.Handle(context.Background(), req)
	require.Equal(t, MsgTypeChunkResponse, resp.Type, "ответ: %s", resp.Data)
	assert.Equal(t, uint32(3), resp.Sequence)

	var data ChunkResponseData
	decodeData(t, resp, &data)
	assert.Equal(t, 1, data.ChunkX)
	assert.Equal(t, -2, data.ChunkZ)
	assert.Equal(t, int64(42), data.Seed)
	assert.Len(t, data.ContentHash, 64)
	assert.Greater(t, data.VertexCount, 0)
	require.NotNil(t, data.Mesh)
	assert.Equal(t, data.VertexCount, data.Mesh.VertexCount())

	voxels, err := base64.StdEncoding.DecodeString(data.Voxels)
	require.NoError(t, err)
	assert.Len(t, voxels, world.GridLen)

	// Повторный запрос тех же координат детерминирован
	resp2 := h.Handle(context.Background(), mustMessage(t, MsgTypeChunkRequest, ChunkRequestData{ChunkX: 1, ChunkZ: -2, Seed: 42}))
	var data2 ChunkResponseData
	decodeData(t, resp2, &data2)
	assert.Equal(t, data.ContentHash, data2.ContentHash)
}

func TestMessageHandler_RemeshRequest(t *testing.T) {
	h := NewMessageHandler(newTestService(t), pipeline.OriginTCP)

	empty := base64.StdEncoding.EncodeToString(make([]byte, world.GridLen))

	resp := h.Handle(context.Background(), mustMessage(t, MsgTypeRemeshRequest, RemeshRequestData{Voxels: empty}))
	require.Equal(t, MsgTypeChunkResponse, resp.Type, "ответ: %s", resp.Data)

	var data ChunkResponseData
	decodeData(t, resp, &data)
	assert.Zero(t, data.VertexCount, "Пустой буфер не даёт геометрии")
	assert.Len(t, data.ContentHash, 64)
	assert.Empty(t, data.Voxels, "Воксели в ответ на remesh не включаются")
	assert.False(t, data.FromCache)

	// Повторный remesh того же буфера идёт из кеша
	resp2 := h.Handle(context.Background(), mustMessage(t, MsgTypeRemeshRequest, RemeshRequestData{Voxels: empty}))
	var data2 ChunkResponseData
	decodeData(t, resp2, &data2)
	assert.True(t, data2.FromCache)
	assert.Equal(t, data.ContentHash, data2.ContentHash)
}

func TestMessageHandler_InvalidRequests(t *testing.T) {
	h := NewMessageHandler(newTestService(t), pipeline.OriginTCP)
	ctx := context.Background()

	assertError := func(resp *Message, code string) {
		t.Helper()
		require.Equal(t, MsgTypeError, resp.Type)
		var data ErrorData
		decodeData(t, resp, &data)
		assert.Equal(t, code, data.Code)
		assert.NotEmpty(t, data.Message)
	}

	// Неизвестный тип
	assertError(h.Handle(ctx, &Message{Type: "teleport"}), ErrCodeInvalidInput)

	// Битые данные запроса чанка
	assertError(h.Handle(ctx, &Message{Type: MsgTypeChunkRequest, Data: []byte(`"строка"`)}), ErrCodeInvalidInput)

	// Не base64
	assertError(h.Handle(ctx, mustMessage(t, MsgTypeRemeshRequest, RemeshRequestData{Voxels: "@@@"})), ErrCodeInvalidInput)

	// Буфер неверной длины
	short := base64.StdEncoding.EncodeToString(make([]byte, 100))
	assertError(h.Handle(ctx, mustMessage(t, MsgTypeRemeshRequest, RemeshRequestData{Voxels: short})), ErrCodeInvalidInput)
}

func TestMessageHandler_PoolClosed(t *testing.T) {
	gen := world.NewGenerator()
	mesher := mesh.NewFaceCullingMesher(block.DefaultMaterials())
	p := pipeline.NewChunkPipeline(gen, mesher, nil)
	pool := pipeline.NewWorkerPool(p, 1, 4)
	svc := pipeline.NewChunkService(pipeline.ServiceOptions{Pool: pool, Pipeline: p})
	pool.Shutdown()

	h := NewMessageHandler(svc, pipeline.OriginKCP)
	resp := h.Handle(context.Background(), mustMessage(t, MsgTypeChunkRequest, ChunkRequestData{Seed: 1}))
	require.Equal(t, MsgTypeError, resp.Type)

	var data ErrorData
	decodeData(t, resp, &data)
	assert.Equal(t, ErrCodeUnavailable, data.Code)
}

// lineClient оборачивает соединение для построчного обмена сообщениями
type lineClient struct {
	conn   net.Conn
	reader *bufio.Reader
}

func newLineClient(conn net.Conn) *lineClient {
	return &lineClient{conn: conn, reader: bufio.NewReader(conn)}
}

func (c *lineClient) send(t *testing.T, msg *Message) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err = c.conn.Write(append(data, '\n'))
	require.NoError(t, err)
}

func (c *lineClient) sendRaw(t *testing.T, line string) {
	t.Helper()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err := c.conn.Write([]byte(line + "\n"))
	require.NoError(t, err)
}

func (c *lineClient) recv(t *testing.T) *Message {
	t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	line, err := c.reader.ReadBytes('\n')
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(line, &msg))
	return &msg
}

func TestTCPServer_ServesChunks(t *testing.T) {
	srv := NewTCPServer("127.0.0.1:0", newTestService(t))
	require.NoError(t, srv.Start())
	defer srv.Stop()

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer conn.Close()
	client := newLineClient(conn)

	// Ping
	ping := mustMessage(t, MsgTypePing, PingData{ClientTime: 1})
	ping.Sequence = 1
	client.send(t, ping)
	pong := client.recv(t)
	assert.Equal(t, MsgTypePong, pong.Type)
	assert.Equal(t, uint32(1), pong.Sequence)

	// Запрос чанка с полным ответом
	req := mustMessage(t, MsgTypeChunkRequest, ChunkRequestData{ChunkX: 0, ChunkZ: 0, Seed: 5})
	req.Sequence = 2
	client.send(t, req)
	resp := client.recv(t)
	require.Equal(t, MsgTypeChunkResponse, resp.Type, "ответ: %s", resp.Data)
	assert.Equal(t, uint32(2), resp.Sequence)

	var data ChunkResponseData
	decodeData(t, resp, &data)
	voxels, err := base64.StdEncoding.DecodeString(data.Voxels)
	require.NoError(t, err)
	assert.Len(t, voxels, world.GridLen)
	assert.Greater(t, data.VertexCount, 0)

	// Мусорная строка получает ошибку, соединение живёт дальше
	client.sendRaw(t, "это не JSON")
	errResp := client.recv(t)
	require.Equal(t, MsgTypeError, errResp.Type)

	client.send(t, ping)
	assert.Equal(t, MsgTypePong, client.recv(t).Type)
}

func TestTCPServer_ClientCount(t *testing.T) {
	srv := NewTCPServer("127.0.0.1:0", newTestService(t))
	require.NoError(t, srv.Start())
	defer srv.Stop()

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	client := newLineClient(conn)

	// Счётчик учитывает соединение после первого запроса точно
	client.send(t, mustMessage(t, MsgTypePing, PingData{}))
	client.recv(t)
	assert.Equal(t, 1, srv.ClientCount())

	conn.Close()
	assert.Eventually(t, func() bool { return srv.ClientCount() == 0 },
		3*time.Second, 50*time.Millisecond, "Соединение не снялось с учёта")
}

func TestKCPServer_ServesChunks(t *testing.T) {
	srv := NewKCPServer("127.0.0.1:0", newTestService(t))
	require.NoError(t, srv.Start())
	defer srv.Stop()

	conn, err := kcp.DialWithOptions(srv.Addr(), nil, 0, 0)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetStreamMode(true)
	conn.SetNoDelay(1, 20, 2, 1)
	client := newLineClient(conn)

	// Ping устанавливает сессию
	ping := mustMessage(t, MsgTypePing, PingData{ClientTime: 9})
	client.send(t, ping)
	pong := client.recv(t)
	require.Equal(t, MsgTypePong, pong.Type)

	var pongData PongData
	decodeData(t, pong, &pongData)
	assert.Equal(t, int64(9), pongData.ClientTime)

	// Remesh пустого буфера: компактный ответ без геометрии
	empty := base64.StdEncoding.EncodeToString(make([]byte, world.GridLen))
	client.send(t, mustMessage(t, MsgTypeRemeshRequest, RemeshRequestData{Voxels: empty}))
	resp := client.recv(t)
	require.Equal(t, MsgTypeChunkResponse, resp.Type, "ответ: %s", resp.Data)

	var data ChunkResponseData
	decodeData(t, resp, &data)
	assert.Zero(t, data.VertexCount)
	assert.Len(t, data.ContentHash, 64)
}
