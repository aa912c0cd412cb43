package network

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xtaci/kcp-go/v5"

	"github.com/annel0/voxelgen/internal/logging"
	"github.com/annel0/voxelgen/internal/pipeline"
)

// KCPServer раздаёт чанки по протоколу сообщений поверх KCP (надёжный UDP).
// Каждая сессия переводится в stream-режим, кадрирование то же,
// что и у TCP сервера: JSON сообщения по строкам.
type KCPServer struct {
	addr     string
	listener *kcp.Listener
	handler  *MessageHandler

	clients   map[uint64]*kcp.UDPSession
	nextID    uint64
	clientsMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *logging.Logger
}

// NewKCPServer создаёт сервер. Слушать начинает метод Start.
func NewKCPServer(addr string, service *pipeline.ChunkService) *KCPServer {
	return &KCPServer{
		addr:    addr,
		handler: NewMessageHandler(service, pipeline.OriginKCP),
		clients: make(map[uint64]*kcp.UDPSession),
		log:     logging.GetNetworkLogger(),
	}
}

// Start запускает сервер
func (s *KCPServer) Start() error {
	// Без FEC: ретрансляцию обеспечивает сам KCP
	listener, err := kcp.ListenWithOptions(s.addr, nil, 0, 0)
	if err != nil {
		return fmt.Errorf("не удалось открыть KCP listener на %s: %w", s.addr, err)
	}

	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(1)
	go s.acceptLoop()

	s.log.Info("🚀 KCP сервер чанков запущен на %s", s.Addr())
	return nil
}

// Addr возвращает фактический адрес listener'а
func (s *KCPServer) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop останавливает сервер и закрывает все сессии
func (s *KCPServer) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}

	s.clientsMu.Lock()
	for id, conn := range s.clients {
		conn.Close()
		delete(s.clients, id)
	}
	s.clientsMu.Unlock()

	s.wg.Wait()
	s.log.Info("🛑 KCP сервер чанков остановлен")
	return err
}

// ClientCount возвращает количество активных сессий
func (s *KCPServer) ClientCount() int {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	return len(s.clients)
}

func (s *KCPServer) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.AcceptKCP()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return // Сервер останавливается
			default:
				s.log.Error("Ошибка принятия KCP сессии: %v", err)
				continue
			}
		}

		s.tuneSession(conn)

		s.clientsMu.Lock()
		s.nextID++
		id := s.nextID
		s.clients[id] = conn
		s.clientsMu.Unlock()

		s.wg.Add(1)
		go s.serveSession(id, conn)
	}
}

// tuneSession настраивает KCP параметры сессии
func (s *KCPServer) tuneSession(conn *kcp.UDPSession) {
	conn.SetStreamMode(true)
	conn.SetWriteDelay(false)
	conn.SetNoDelay(1, 20, 2, 1) // Агрессивная ретрансляция
	conn.SetWindowSize(512, 512) // Окно под объёмные ответы с геометрией
	conn.SetMtu(1400)            // Стандартный MTU для интернета
}

func (s *KCPServer) serveSession(id uint64, conn *kcp.UDPSession) {
	defer s.wg.Done()

	clientID := fmt.Sprintf("kcp-%s-%d", conn.RemoteAddr(), id)
	s.log.Info("KCP сессия установлена: %s", clientID)
	start := time.Now()

	s.handler.ServeConn(s.ctx, conn, clientID)

	conn.Close()
	s.clientsMu.Lock()
	delete(s.clients, id)
	s.clientsMu.Unlock()

	s.log.Info("👋 KCP сессия %s закрыта, длительность %s", clientID, time.Since(start).Round(time.Millisecond))
}
