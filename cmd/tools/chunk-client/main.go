package main

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"time"

	kcp "github.com/xtaci/kcp-go/v5"

	"github.com/annel0/voxelgen/internal/network"
	"github.com/annel0/voxelgen/internal/world"
)

// Размер буфера чтения: ответ с геометрией в JSON занимает мегабайты
const maxResponseBytes = 16 << 20

func main() {
	var (
		tcpAddr = flag.String("tcp", "localhost:7777", "Адрес TCP сервера чанков")
		kcpAddr = flag.String("kcp", "", "Адрес KCP сервера (пусто: пропустить KCP)")
		chunkX  = flag.Int("cx", 0, "Координата X чанка")
		chunkZ  = flag.Int("cz", 0, "Координата Z чанка")
		seed    = flag.Int64("seed", 0, "Сид мира")
		remesh  = flag.Bool("remesh", true, "Прогнать полученный буфер через remesh_request")
		hexLen  = flag.Int("hex", 64, "Сколько байт буфера вокселей показать в hex dump")
	)
	flag.Parse()

	fmt.Println("=== КЛИЕНТ ПРОТОКОЛА ЧАНКОВ ===")

	conn, err := net.Dial("tcp", *tcpAddr)
	if err != nil {
		log.Fatalf("❌ Ошибка TCP подключения: %v", err)
	}
	fmt.Printf("✅ Подключен к TCP серверу %s\n", *tcpAddr)

	runSession(conn, "tcp", *chunkX, *chunkZ, *seed, *remesh, *hexLen)
	conn.Close()

	if *kcpAddr != "" {
		fmt.Println("\n=== ТА ЖЕ СЕССИЯ ПОВЕРХ KCP ===")
		// Параметры FEC совпадают с серверным ListenWithOptions
		sess, err := kcp.DialWithOptions(*kcpAddr, nil, 0, 0)
		if err != nil {
			log.Fatalf("❌ Ошибка KCP подключения: %v", err)
		}
		sess.SetStreamMode(true)
		sess.SetNoDelay(1, 10, 2, 1)
		fmt.Printf("📡 Подключен к KCP серверу %s\n", *kcpAddr)

		runSession(sess, "kcp", *chunkX, *chunkZ, *seed, *remesh, *hexLen)
		sess.Close()
	}

	fmt.Println("\n=== СЕССИЯ ЗАВЕРШЕНА ===")
}

// runSession последовательно проверяет ping, chunk_request и remesh_request
// на одном соединении.
func runSession(conn net.Conn, label string, cx, cz int, seed int64, remesh bool, hexLen int) {
	c := &client{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, 64*1024),
		id:     fmt.Sprintf("chunk-client-%s", label),
	}

	fmt.Println("\n=== ТЕСТ 1: PING ===")
	c.testPing()

	fmt.Println("\n=== ТЕСТ 2: ЗАПРОС ЧАНКА ===")
	voxels := c.testChunkRequest(cx, cz, seed, hexLen)

	if remesh && voxels != nil {
		fmt.Println("\n=== ТЕСТ 3: REMESH ПОЛУЧЕННОГО БУФЕРА ===")
		c.testRemesh(voxels)
	}
}

type client struct {
	conn   net.Conn
	reader *bufio.Reader
	id     string
	seq    uint32
}

// roundTrip отправляет сообщение и читает один ответ
func (c *client) roundTrip(msgType string, data interface{}) (*network.Message, error) {
	msg, err := network.NewMessage(msgType, data)
	if err != nil {
		return nil, fmt.Errorf("сериализация %s: %w", msgType, err)
	}
	c.seq++
	msg.ClientID = c.id
	msg.Sequence = c.seq

	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	fmt.Printf("📤 Отправка %s (%d байт)\n", msgType, len(raw))

	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if _, err := c.conn.Write(append(raw, '\n')); err != nil {
		return nil, fmt.Errorf("отправка: %w", err)
	}

	c.conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	line, err := readLine(c.reader)
	if err != nil {
		return nil, fmt.Errorf("чтение ответа: %w", err)
	}
	fmt.Printf("📥 Получен ответ (%d байт)\n", len(line))

	var resp network.Message
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("десериализация ответа: %w", err)
	}
	if resp.Sequence != msg.Sequence {
		fmt.Printf("⚠️  Порядковый номер ответа %d не совпадает с запросом %d\n", resp.Sequence, msg.Sequence)
	}
	return &resp, nil
}

func (c *client) testPing() {
	sent := time.Now()
	resp, err := c.roundTrip(network.MsgTypePing, network.PingData{
		ClientTime: sent.UnixNano() / int64(time.Millisecond),
	})
	if err != nil {
		log.Printf("❌ Ping: %v", err)
		return
	}
	if resp.Type != network.MsgTypePong {
		log.Printf("❌ Ожидался pong, получен %s", resp.Type)
		return
	}

	var pong network.PongData
	if err := json.Unmarshal(resp.Data, &pong); err != nil {
		log.Printf("❌ Разбор pong: %v", err)
		return
	}
	fmt.Printf("✅ Pong за %v (server_time=%d)\n", time.Since(sent).Round(time.Millisecond), pong.ServerTime)
}

// testChunkRequest запрашивает чанк и возвращает декодированный буфер вокселей
func (c *client) testChunkRequest(cx, cz int, seed int64, hexLen int) []byte {
	resp, err := c.roundTrip(network.MsgTypeChunkRequest, network.ChunkRequestData{
		ChunkX: cx,
		ChunkZ: cz,
		Seed:   seed,
	})
	if err != nil {
		log.Printf("❌ Запрос чанка: %v", err)
		return nil
	}
	if resp.Type == network.MsgTypeError {
		logErrorReply(resp)
		return nil
	}

	var data network.ChunkResponseData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		log.Printf("❌ Разбор ответа чанка: %v", err)
		return nil
	}

	voxels, err := base64.StdEncoding.DecodeString(data.Voxels)
	if err != nil {
		log.Printf("❌ Буфер вокселей не в base64: %v", err)
		return nil
	}
	if len(voxels) != world.GridLen {
		log.Printf("❌ Длина буфера %d, ожидалось %d", len(voxels), world.GridLen)
		return nil
	}

	fmt.Printf("✅ Чанк (%d,%d) seed=%d: %d вершин, хеш %s\n",
		data.ChunkX, data.ChunkZ, data.Seed, data.VertexCount, data.ContentHash)
	if data.Mesh != nil {
		fmt.Printf("   Геометрия: %d граней, %d треугольников\n", data.Mesh.FaceCount(), data.Mesh.TriangleCount())
	}
	if hexLen > 0 {
		if hexLen > len(voxels) {
			hexLen = len(voxels)
		}
		logHexDump("VOXELS", voxels[:hexLen])
	}
	return voxels
}

// testRemesh отправляет буфер обратно и проверяет попадание в кеш геометрии
func (c *client) testRemesh(voxels []byte) {
	resp, err := c.roundTrip(network.MsgTypeRemeshRequest, network.RemeshRequestData{
		Voxels: base64.StdEncoding.EncodeToString(voxels),
	})
	if err != nil {
		log.Printf("❌ Remesh: %v", err)
		return
	}
	if resp.Type == network.MsgTypeError {
		logErrorReply(resp)
		return
	}

	var data network.ChunkResponseData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		log.Printf("❌ Разбор ответа remesh: %v", err)
		return
	}

	cache := "мимо кеша"
	if data.FromCache {
		cache = "из кеша"
	}
	fmt.Printf("✅ Remesh: %d вершин, хеш %s (%s)\n", data.VertexCount, data.ContentHash, cache)
}

func logErrorReply(resp *network.Message) {
	var e network.ErrorData
	if err := json.Unmarshal(resp.Data, &e); err != nil {
		log.Printf("❌ Сервер вернул нечитаемую ошибку")
		return
	}
	log.Printf("❌ Сервер вернул ошибку [%s]: %s", e.Code, e.Message)
}

// readLine читает одну строку ответа без ограничения bufio.Scanner
func readLine(r *bufio.Reader) ([]byte, error) {
	var line []byte
	for {
		part, isPrefix, err := r.ReadLine()
		if err != nil {
			return nil, err
		}
		line = append(line, part...)
		if !isPrefix {
			return line, nil
		}
		if len(line) > maxResponseBytes {
			return nil, fmt.Errorf("ответ длиннее %d байт", maxResponseBytes)
		}
	}
}

func logHexDump(title string, data []byte) {
	fmt.Printf("=== %s HEX DUMP ===\n", title)
	const bytesPerLine = 16
	for i := 0; i < len(data); i += bytesPerLine {
		end := i + bytesPerLine
		if end > len(data) {
			end = len(data)
		}

		// Offset
		fmt.Printf("%08x: ", i)

		// Hex bytes
		for j := i; j < end; j++ {
			fmt.Printf("%02x ", data[j])
		}

		// Выравнивание
		for j := end; j < i+bytesPerLine; j++ {
			fmt.Printf("   ")
		}

		// ASCII
		fmt.Printf(" |")
		for j := i; j < end; j++ {
			if data[j] >= 32 && data[j] < 127 {
				fmt.Printf("%c", data[j])
			} else {
				fmt.Printf(".")
			}
		}
		fmt.Printf("|\n")
	}
	fmt.Println()
}
