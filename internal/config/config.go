package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации сервиса генерации чанков.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Generation GenerationConfig `yaml:"generation"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Storage    StorageConfig    `yaml:"storage"`
	Cache      CacheConfig      `yaml:"cache"`
	EventBus   EventBusConfig   `yaml:"eventbus"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

type ServerConfig struct {
	RESTPort   int    `yaml:"rest_port"`
	KCPPort    int    `yaml:"kcp_port"`
	TCPPort    int    `yaml:"tcp_port"`
	AuthSecret string `yaml:"auth_secret"`
}

// GenerationConfig задает параметры генерации рельефа.
// Значения попадают в неизменяемые параметры генератора при старте,
// поэтому несколько миров с разными настройками могут жить в одном процессе.
type GenerationConfig struct {
	DefaultSeed     int64       `yaml:"default_seed"`
	HeightProfile   string      `yaml:"height_profile"` // classic | smooth
	BiomeScale      float64     `yaml:"biome_scale"`
	CaveScale       float64     `yaml:"cave_scale"`
	CaveThreshold   float64     `yaml:"cave_threshold"`
	TreeThreshold   float64     `yaml:"tree_threshold"`
	CactusThreshold float64     `yaml:"cactus_threshold"`
	Desert          BiomeConfig `yaml:"desert"`
	Plains          BiomeConfig `yaml:"plains"`
	Forest          BiomeConfig `yaml:"forest"`
}

// BiomeConfig высотные константы одного биома
type BiomeConfig struct {
	BaseHeight  float64 `yaml:"base_height"`
	Amplitude   float64 `yaml:"amplitude"`
	Octaves     int     `yaml:"octaves"`
	Persistence float64 `yaml:"persistence"`
	Lacunarity  float64 `yaml:"lacunarity"`
	Scale       float64 `yaml:"scale"`
}

type PipelineConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

type StorageConfig struct {
	Driver        string `yaml:"driver"` // badger | sqlite | memory
	Path          string `yaml:"path"`
	JournalDriver string `yaml:"journal_driver"` // memory | maria | mongo
	JournalDSN    string `yaml:"journal_dsn"`
}

type CacheConfig struct {
	RedisAddr  string `yaml:"redis_addr"`
	RedisDB    int    `yaml:"redis_db"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

type EventBusConfig struct {
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// GetRESTPort возвращает REST API порт с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "VOXEL_REST_PORT", 8088)
}

// GetKCPPort возвращает KCP порт с поддержкой fallback значений
func (s *ServerConfig) GetKCPPort() int {
	return getPortWithEnvFallback(s.KCPPort, "VOXEL_KCP_PORT", 7777)
}

// GetTCPPort возвращает TCP порт с поддержкой fallback значений
func (s *ServerConfig) GetTCPPort() int {
	return getPortWithEnvFallback(s.TCPPort, "VOXEL_TCP_PORT", 7778)
}

// GetAuthSecret возвращает секрет JWT с приоритетом: config -> env.
// Пустая строка означает, что аутентификация выключена.
func (s *ServerConfig) GetAuthSecret() string {
	if s.AuthSecret != "" {
		return s.AuthSecret
	}
	return os.Getenv("VOXEL_AUTH_SECRET")
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	// Если порт задан в конфиге и больше 0, используем его
	if configPort > 0 {
		return configPort
	}

	// Пробуем прочитать из environment variable
	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	// Используем дефолтное значение
	return defaultPort
}

// Default возвращает конфигурацию со значениями по умолчанию.
// Высотные константы биомов соответствуют профилю classic.
func Default() *Config {
	return &Config{
		Server: ServerConfig{},
		Generation: GenerationConfig{
			DefaultSeed:     0,
			HeightProfile:   "classic",
			BiomeScale:      0.005,
			CaveScale:       0.08,
			CaveThreshold:   0.75,
			TreeThreshold:   0.95,
			CactusThreshold: 0.98,
			Desert:          BiomeConfig{BaseHeight: 60, Amplitude: 10, Octaves: 4, Persistence: 0.5, Lacunarity: 2, Scale: 0.02},
			Plains:          BiomeConfig{BaseHeight: 64, Amplitude: 15, Octaves: 5, Persistence: 0.5, Lacunarity: 2, Scale: 0.02},
			Forest:          BiomeConfig{BaseHeight: 70, Amplitude: 30, Octaves: 6, Persistence: 0.5, Lacunarity: 2, Scale: 0.015},
		},
		Pipeline: PipelineConfig{
			Workers:   0, // 0 означает количество CPU
			QueueSize: 256,
		},
		Storage: StorageConfig{
			Driver:        "badger",
			Path:          "data/chunks",
			JournalDriver: "memory",
		},
		Cache: CacheConfig{
			TTLSeconds: 300,
		},
		EventBus: EventBusConfig{
			Stream:    "VOXEL_EVENTS",
			Retention: 24,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "voxelgen",
		},
	}
}

// Load читает YAML файл конфигурации поверх значений по умолчанию.
// Если path == "", пробует ENV VOXEL_CONFIG; без него возвращает Default().
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("VOXEL_CONFIG")
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate проверяет согласованность конфигурации
func (c *Config) Validate() error {
	switch c.Generation.HeightProfile {
	case "", "classic", "smooth":
	default:
		return fmt.Errorf("неизвестный height_profile: %q", c.Generation.HeightProfile)
	}

	switch c.Storage.Driver {
	case "", "badger", "sqlite", "memory":
	default:
		return fmt.Errorf("неизвестный storage driver: %q", c.Storage.Driver)
	}

	switch c.Storage.JournalDriver {
	case "", "memory", "maria", "mongo":
	default:
		return fmt.Errorf("неизвестный journal driver: %q", c.Storage.JournalDriver)
	}

	for _, b := range []BiomeConfig{c.Generation.Desert, c.Generation.Plains, c.Generation.Forest} {
		if b.Octaves <= 0 {
			return fmt.Errorf("octaves биома должны быть > 0")
		}
	}

	if c.Generation.CaveThreshold < 0 || c.Generation.CaveThreshold > 1 {
		return fmt.Errorf("cave_threshold должен быть в [0,1]")
	}
	if c.Generation.TreeThreshold < 0 || c.Generation.TreeThreshold > 1 {
		return fmt.Errorf("tree_threshold должен быть в [0,1]")
	}
	if c.Generation.CactusThreshold < 0 || c.Generation.CactusThreshold > 1 {
		return fmt.Errorf("cactus_threshold должен быть в [0,1]")
	}

	if c.Pipeline.QueueSize < 0 {
		return fmt.Errorf("queue_size не может быть отрицательным")
	}

	return nil
}
