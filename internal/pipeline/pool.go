package pipeline

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/annel0/voxelgen/internal/logging"
)

// ErrPoolClosed возвращается при попытке работы с остановленным пулом.
var ErrPoolClosed = errors.New("пул генерации остановлен")

// Job - задание на генерацию одного чанка.
type Job struct {
	ID     string
	ChunkX int
	ChunkZ int
	Seed   int64

	// Results получает результат задания. Может быть nil, если
	// отправителю результат не нужен (прогрев кеша, батчи).
	Results chan Result
}

// Result - итог выполнения задания воркером.
type Result struct {
	JobID string
	Chunk *ChunkResult
	Err   error
}

// PoolStats - снимок счётчиков пула.
type PoolStats struct {
	Workers    int    `json:"workers"`
	QueueDepth int    `json:"queue_depth"`
	Accepted   uint64 `json:"accepted"`
	Rejected   uint64 `json:"rejected"`
	Completed  uint64 `json:"completed"`
	Failed     uint64 `json:"failed"`
}

// WorkerPool раздаёт задания генерации фиксированному числу воркеров
// через ограниченную очередь. Переполненная очередь отклоняет задания,
// обратного давления на отправителя нет.
type WorkerPool struct {
	pipeline *ChunkPipeline
	jobs     chan Job
	workers  int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	accepted  atomic.Uint64
	rejected  atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64

	log *logging.Logger
}

// NewWorkerPool создаёт и запускает пул. workers <= 0 означает число CPU,
// queueSize <= 0 означает очередь по умолчанию на 256 заданий.
func NewWorkerPool(p *ChunkPipeline, workers, queueSize int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if queueSize <= 0 {
		queueSize = 256
	}

	ctx, cancel := context.WithCancel(context.Background())
	pool := &WorkerPool{
		pipeline: p,
		jobs:     make(chan Job, queueSize),
		workers:  workers,
		ctx:      ctx,
		cancel:   cancel,
		log:      logging.GetPipelineLogger(),
	}

	for i := 0; i < workers; i++ {
		pool.wg.Add(1)
		go pool.worker(i)
	}

	pool.log.Info("Пул генерации запущен: %d воркеров, очередь %d", workers, queueSize)
	return pool
}

// Submit ставит задание в очередь без блокировки. Возвращает false, если
// очередь заполнена или пул остановлен.
func (wp *WorkerPool) Submit(job Job) bool {
	if wp.ctx.Err() != nil {
		wp.rejected.Add(1)
		return false
	}
	select {
	case wp.jobs <- job:
		wp.accepted.Add(1)
		wp.pipeline.metrics.setQueueDepth(len(wp.jobs))
		return true
	default:
		wp.rejected.Add(1)
		return false
	}
}

// GenerateSync ставит задание и ждёт результат. Отмена контекста вызова
// прекращает ожидание, но уже начатое воркером задание досчитывается.
func (wp *WorkerPool) GenerateSync(ctx context.Context, chunkX, chunkZ int, seed int64) (*ChunkResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := make(chan Result, 1)
	job := Job{
		ID:      uuid.NewString(),
		ChunkX:  chunkX,
		ChunkZ:  chunkZ,
		Seed:    seed,
		Results: results,
	}

	select {
	case wp.jobs <- job:
		wp.accepted.Add(1)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-wp.ctx.Done():
		return nil, ErrPoolClosed
	}

	select {
	case res := <-results:
		return res.Chunk, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-wp.ctx.Done():
		return nil, ErrPoolClosed
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for {
		select {
		case job := <-wp.jobs:
			wp.pipeline.metrics.setQueueDepth(len(wp.jobs))
			chunk, err := wp.pipeline.Generate(wp.ctx, job.ChunkX, job.ChunkZ, job.Seed)
			if err != nil {
				wp.failed.Add(1)
				wp.log.Warn("Воркер %d: задание %s завершилось ошибкой: %v", id, job.ID, err)
			} else {
				wp.completed.Add(1)
			}

			if job.Results == nil {
				continue
			}
			select {
			case job.Results <- Result{JobID: job.ID, Chunk: chunk, Err: err}:
			case <-wp.ctx.Done():
				return
			}
		case <-wp.ctx.Done():
			return
		}
	}
}

// Stats возвращает снимок счётчиков пула.
func (wp *WorkerPool) Stats() PoolStats {
	return PoolStats{
		Workers:    wp.workers,
		QueueDepth: len(wp.jobs),
		Accepted:   wp.accepted.Load(),
		Rejected:   wp.rejected.Load(),
		Completed:  wp.completed.Load(),
		Failed:     wp.failed.Load(),
	}
}

// Shutdown останавливает воркеров и дожидается их выхода. Задания,
// оставшиеся в очереди, не выполняются. Повторный вызов безопасен.
func (wp *WorkerPool) Shutdown() {
	wp.once.Do(func() {
		wp.cancel()
		wp.wg.Wait()
		wp.log.Info("Пул генерации остановлен: выполнено %d, ошибок %d, отклонено %d",
			wp.completed.Load(), wp.failed.Load(), wp.rejected.Load())
	})
}
