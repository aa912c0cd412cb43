package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/voxelgen/internal/api"
	"github.com/annel0/voxelgen/internal/auth"
	"github.com/annel0/voxelgen/internal/cache"
	"github.com/annel0/voxelgen/internal/config"
	"github.com/annel0/voxelgen/internal/eventbus"
	"github.com/annel0/voxelgen/internal/logging"
	"github.com/annel0/voxelgen/internal/mesh"
	"github.com/annel0/voxelgen/internal/network"
	"github.com/annel0/voxelgen/internal/observability"
	"github.com/annel0/voxelgen/internal/pipeline"
	"github.com/annel0/voxelgen/internal/storage"
	"github.com/annel0/voxelgen/internal/util"
	"github.com/annel0/voxelgen/internal/world"
	"github.com/annel0/voxelgen/internal/world/block"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации (по умолчанию ENV VOXEL_CONFIG)")
	flag.Parse()

	// Инициализируем систему логирования
	if err := logging.InitDefaultLogger("server"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	logging.Info("🧱 Запуск сервиса генерации чанков voxelgen...")

	// === КОНФИГУРАЦИЯ ===
	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Error("❌ Ошибка загрузки конфигурации: %v", err)
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}

	restPort := cfg.Server.GetRESTPort()
	kcpAddr := fmt.Sprintf(":%d", cfg.Server.GetKCPPort())
	tcpAddr := fmt.Sprintf(":%d", cfg.Server.GetTCPPort())
	logging.Info("📡 Конфигурация сервера: REST=:%d, KCP=%s, TCP=%s", restPort, kcpAddr, tcpAddr)

	if secret := cfg.Server.GetAuthSecret(); secret != "" {
		if err := auth.Configure(secret); err != nil {
			log.Fatalf("❌ Ошибка настройки авторизации: %v", err)
		}
		logging.Info("🔐 JWT авторизация включена")
	} else {
		logging.Warn("⚠️ Авторизация выключена: server.auth_secret не задан")
	}

	// === ТЕЛЕМЕТРИЯ ===
	ctx := context.Background()
	var telemetryShutdown func(context.Context) error
	if cfg.Telemetry.Enabled {
		telemetryShutdown, err = observability.InitTelemetry(ctx, cfg.Telemetry.ServiceName)
		if err != nil {
			logging.Warn("OpenTelemetry недоступен, трассировка отключена: %v", err)
			telemetryShutdown = nil
		}
	}

	// === ИНИЦИАЛИЗАЦИЯ КОМПОНЕНТОВ ===

	logging.Debug("Создание генератора рельефа...")
	gen := world.NewGeneratorWithParams(genParams(cfg.Generation), heightSource(cfg.Generation))
	mesher := mesh.NewFaceCullingMesher(block.DefaultMaterials())
	pipe := pipeline.NewChunkPipeline(gen, mesher, pipeline.NewMetrics())

	workers := cfg.Pipeline.Workers
	queue := cfg.Pipeline.QueueSize
	pool := pipeline.NewWorkerPool(pipe, workers, queue)

	logging.Debug("Открытие хранилища чанков (driver=%s)...", cfg.Storage.Driver)
	store, err := storage.NewChunkStore(cfg.Storage)
	if err != nil {
		logging.Error("❌ Ошибка открытия хранилища: %v", err)
		log.Fatalf("❌ Ошибка открытия хранилища: %v", err)
	}

	journal, err := storage.NewGenerationJournal(cfg.Storage)
	if err != nil {
		logging.Error("❌ Ошибка открытия журнала генерации: %v", err)
		log.Fatalf("❌ Ошибка открытия журнала генерации: %v", err)
	}

	// Инвалидация через NATS нужна только когда Redis делят несколько узлов
	var invalidator cache.CacheInvalidator
	if cfg.Cache.RedisAddr != "" && cfg.EventBus.URL != "" {
		nodeID, herr := os.Hostname()
		if herr != nil {
			nodeID = "voxelgen-node"
		}
		invalidator, err = cache.NewNATSInvalidator(&cache.InvalidatorConfig{NATSURL: cfg.EventBus.URL}, nodeID)
		if err != nil {
			logging.Warn("NATS инвалидатор недоступен, кеш работает без рассылки: %v", err)
			invalidator = nil
		}
	}

	meshCache, err := cache.NewMeshCache(cfg.Cache, invalidator)
	if err != nil {
		logging.Error("❌ Ошибка подключения кеша: %v", err)
		log.Fatalf("❌ Ошибка подключения кеша: %v", err)
	}

	logging.Debug("Подключение шины событий...")
	var bus eventbus.EventBus
	if cfg.EventBus.URL != "" {
		bus, err = eventbus.NewJetStreamBus(cfg.EventBus.URL, cfg.EventBus.Stream,
			time.Duration(cfg.EventBus.Retention)*time.Hour)
		if err != nil {
			logging.Warn("JetStream недоступен, события остаются внутри процесса: %v", err)
			bus = eventbus.NewMemoryBus(1024)
		}
	} else {
		bus = eventbus.NewMemoryBus(1024)
	}

	if err := eventbus.StartLoggingListener(bus); err != nil {
		logging.Warn("Не удалось подписать лог-листенер: %v", err)
	}
	busMetrics := eventbus.NewMetricsExporter(bus)
	busMetrics.Start()

	service := pipeline.NewChunkService(pipeline.ServiceOptions{
		Pool:     pool,
		Pipeline: pipe,
		Store:    store,
		Journal:  journal,
		Cache:    meshCache,
		Bus:      bus,
		CacheTTL: time.Duration(cfg.Cache.TTLSeconds) * time.Second,
	})

	// === СЕТЕВЫЕ СЕРВИСЫ ===

	logging.Debug("Запуск REST API сервера...")
	restServer := api.NewRestServer(api.Config{
		Port:    restPort,
		Service: service,
		Bus:     bus,
	})
	if err := restServer.AttachBus(ctx); err != nil {
		logging.Warn("Webhook-уведомления без шины: %v", err)
	}
	if err := restServer.Start(); err != nil {
		logging.Error("❌ Ошибка запуска REST API: %v", err)
		log.Fatalf("❌ Ошибка запуска REST API: %v", err)
	}

	logging.Debug("Запуск KCP сервера чанков...")
	kcpServer := network.NewKCPServer(kcpAddr, service)
	if err := kcpServer.Start(); err != nil {
		logging.Error("❌ Ошибка запуска KCP сервера: %v", err)
		log.Fatalf("❌ Ошибка запуска KCP сервера: %v", err)
	}

	logging.Debug("Запуск TCP сервера чанков...")
	tcpServer := network.NewTCPServer(tcpAddr, service)
	if err := tcpServer.Start(); err != nil {
		logging.Error("❌ Ошибка запуска TCP сервера: %v", err)
		log.Fatalf("❌ Ошибка запуска TCP сервера: %v", err)
	}

	logging.Info("✅ Все сервисы запущены и готовы принимать запросы")
	logging.Info("   🌐 REST API: http://localhost:%d", restPort)
	logging.Info("   📦 Протокол чанков: KCP %s, TCP %s", kcpAddr, tcpAddr)
	logging.Info("   📊 Метрики: http://localhost:%d/metrics", restPort)
	logging.Info("   ❤️  Health check: http://localhost:%d/health", restPort)
	logging.Info("💡 Примеры использования REST API:")
	logging.Info("   curl http://localhost:%d/health", restPort)
	logging.Info("   curl -X POST http://localhost:%d/api/chunks/generate -H 'Content-Type: application/json' -d '{\"chunk_x\":0,\"chunk_z\":0,\"seed\":42}'", restPort)

	// Канал для получения сигналов ОС
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logging.Info("📡 Получен сигнал %v, завершение работы...", sig)

	// === GRACEFUL SHUTDOWN ===
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	kcpServer.Stop()
	tcpServer.Stop()

	if err := restServer.Stop(shutdownCtx); err != nil {
		logging.Error("❌ Ошибка остановки REST API: %v", err)
	}

	busMetrics.Stop()
	pool.Shutdown()

	if closer, ok := bus.(interface{ Close() }); ok {
		closer.Close()
	}
	if err := meshCache.Close(); err != nil {
		logging.Error("Ошибка закрытия кеша: %v", err)
	}
	if err := journal.Close(); err != nil {
		logging.Error("Ошибка закрытия журнала: %v", err)
	}
	if err := store.Close(); err != nil {
		logging.Error("Ошибка закрытия хранилища: %v", err)
	}

	if telemetryShutdown != nil {
		if err := telemetryShutdown(shutdownCtx); err != nil {
			logging.Error("Ошибка остановки телеметрии: %v", err)
		}
	}

	logging.Info("👋 Сервер успешно остановлен")
}

// genParams переносит значения конфигурации поверх параметров по умолчанию.
// Нулевое значение поля означает "оставить как есть".
func genParams(gc config.GenerationConfig) world.GenParams {
	p := world.DefaultGenParams()

	if gc.BiomeScale > 0 {
		p.BiomeScale = gc.BiomeScale
	}
	if gc.CaveScale > 0 {
		p.CaveScale = gc.CaveScale
	}
	if gc.CaveThreshold > 0 {
		p.CaveThreshold = gc.CaveThreshold
	}
	if gc.TreeThreshold > 0 {
		p.TreeThreshold = gc.TreeThreshold
	}
	if gc.CactusThreshold > 0 {
		p.CactusThreshold = gc.CactusThreshold
	}

	for biome, bc := range map[world.Biome]config.BiomeConfig{
		world.BiomeDesert: gc.Desert,
		world.BiomePlains: gc.Plains,
		world.BiomeForest: gc.Forest,
	} {
		if bc.Octaves > 0 {
			p.Biomes[biome] = world.BiomeParams{
				BaseHeight:  bc.BaseHeight,
				Amplitude:   bc.Amplitude,
				Octaves:     bc.Octaves,
				Persistence: bc.Persistence,
				Lacunarity:  bc.Lacunarity,
				Scale:       bc.Scale,
			}
		}
	}

	return p
}

// heightSource выбирает источник высотного шума по профилю
func heightSource(gc config.GenerationConfig) world.HeightSource {
	if gc.HeightProfile == "smooth" {
		return util.NewPerlinSource()
	}
	return nil // classic
}
