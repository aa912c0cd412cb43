package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/annel0/voxelgen/internal/logging"
	"github.com/annel0/voxelgen/internal/pipeline"
)

// TCPServer раздаёт чанки по тому же протоколу сообщений, что и KCPServer,
// но поверх обычного TCP: JSON сообщения, разделённые переводом строки.
// Вариант для клиентов, у которых UDP закрыт.
type TCPServer struct {
	addr     string
	listener net.Listener
	handler  *MessageHandler

	conns   map[uint64]net.Conn
	nextID  uint64
	connsMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *logging.Logger
}

// NewTCPServer создаёт сервер. Слушать начинает метод Start.
func NewTCPServer(addr string, service *pipeline.ChunkService) *TCPServer {
	return &TCPServer{
		addr:    addr,
		handler: NewMessageHandler(service, pipeline.OriginTCP),
		conns:   make(map[uint64]net.Conn),
		log:     logging.GetNetworkLogger(),
	}
}

// Start запускает сервер
func (s *TCPServer) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("не удалось открыть TCP listener на %s: %w", s.addr, err)
	}

	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(1)
	go s.acceptLoop()

	s.log.Info("🚀 TCP сервер чанков запущен на %s", s.Addr())
	return nil
}

// Addr возвращает фактический адрес listener'а
func (s *TCPServer) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop останавливает сервер и закрывает все соединения
func (s *TCPServer) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}

	s.connsMu.Lock()
	for id, conn := range s.conns {
		conn.Close()
		delete(s.conns, id)
	}
	s.connsMu.Unlock()

	s.wg.Wait()
	s.log.Info("🛑 TCP сервер чанков остановлен")
	return err
}

// ClientCount возвращает количество активных соединений
func (s *TCPServer) ClientCount() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return len(s.conns)
}

func (s *TCPServer) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return // Сервер останавливается
			default:
				s.log.Error("Ошибка принятия TCP соединения: %v", err)
				continue
			}
		}

		s.connsMu.Lock()
		s.nextID++
		id := s.nextID
		s.conns[id] = conn
		s.connsMu.Unlock()

		s.wg.Add(1)
		go s.serveConn(id, conn)
	}
}

func (s *TCPServer) serveConn(id uint64, conn net.Conn) {
	defer s.wg.Done()

	clientID := fmt.Sprintf("tcp-%s-%d", conn.RemoteAddr(), id)
	s.log.Info("TCP соединение установлено: %s", clientID)
	start := time.Now()

	s.handler.ServeConn(s.ctx, conn, clientID)

	conn.Close()
	s.connsMu.Lock()
	delete(s.conns, id)
	s.connsMu.Unlock()

	s.log.Info("👋 TCP соединение %s закрыто, длительность %s", clientID, time.Since(start).Round(time.Millisecond))
}
