package index

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

type JobPriority int

const (
	PriorityHigh JobPriority = iota
	PriorityNormal
	PriorityLow
)

type WarmJob struct {
	Path     string
	Priority JobPriority
}

// WarmFunc rebuilds whatever is cached for path. It is expected to go
// through Cache.Load so the mtime bookkeeping stays in one place.
type WarmFunc func(ctx context.Context, path string) error

type WarmerConfig struct {
	WorkerCount     int
	MaxQueueSize    int
	RateLimit       int
	MaxFileSize     int64
	ExcludePatterns []string
}

func DefaultWarmerConfig() WarmerConfig {
	return WarmerConfig{
		WorkerCount:  2,
		MaxQueueSize: 1000,
		RateLimit:    50,
		MaxFileSize:  10 * 1024 * 1024,
		ExcludePatterns: []string{
			"**/node_modules/**",
			"**/.git/**",
			"**/vendor/**",
			"**/__pycache__/**",
			"**/target/**",
			"**/build/**",
			"**/dist/**",
		},
	}
}

type WarmerStats struct {
	Warmed     int64     `json:"warmed"`
	Failed     int64     `json:"failed"`
	Skipped    int64     `json:"skipped"`
	InQueue    int64     `json:"in_queue"`
	IsRunning  bool      `json:"is_running"`
	StartedAt  time.Time `json:"started_at"`
	LastWarmed time.Time `json:"last_warmed"`
}

// Warmer rebuilds symbol indexes in the background after files change on
// disk, so the next selection in that file hits the cache.
type Warmer struct {
	warm   WarmFunc
	config WarmerConfig

	highQueue   chan WarmJob
	normalQueue chan WarmJob
	lowQueue    chan WarmJob

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	rateLimiter *time.Ticker

	inQueue atomic.Int64
	warmed  atomic.Int64
	failed  atomic.Int64
	skipped atomic.Int64

	stats   WarmerStats
	statsMu sync.RWMutex
}

func NewWarmer(warm WarmFunc, config WarmerConfig) *Warmer {
	ctx, cancel := context.WithCancel(context.Background())

	if config.WorkerCount <= 0 {
		config.WorkerCount = 1
	}
	if config.MaxQueueSize <= 0 {
		config.MaxQueueSize = 100
	}

	w := &Warmer{
		warm:        warm,
		config:      config,
		highQueue:   make(chan WarmJob, 100),
		normalQueue: make(chan WarmJob, config.MaxQueueSize),
		lowQueue:    make(chan WarmJob, config.MaxQueueSize*2),
		ctx:         ctx,
		cancel:      cancel,
	}

	if config.RateLimit > 0 {
		w.rateLimiter = time.NewTicker(time.Second / time.Duration(config.RateLimit))
	}

	return w
}

func (w *Warmer) Start() {
	w.statsMu.Lock()
	w.stats.IsRunning = true
	w.stats.StartedAt = time.Now()
	w.statsMu.Unlock()

	log.Info("cache warmer started", "workers", w.config.WorkerCount)

	for i := 0; i < w.config.WorkerCount; i++ {
		w.wg.Add(1)
		go w.worker(i)
	}
}

func (w *Warmer) Stop() {
	w.cancel()
	if w.rateLimiter != nil {
		w.rateLimiter.Stop()
	}
	w.wg.Wait()

	w.statsMu.Lock()
	w.stats.IsRunning = false
	w.statsMu.Unlock()

	log.Info("cache warmer stopped")
}

func (w *Warmer) Enqueue(job WarmJob) bool {
	var queue chan WarmJob
	switch job.Priority {
	case PriorityHigh:
		queue = w.highQueue
	case PriorityLow:
		queue = w.lowQueue
	default:
		queue = w.normalQueue
	}

	select {
	case queue <- job:
		w.inQueue.Add(1)
		return true
	default:
		log.Warn("warm job dropped, queue full", "path", job.Path, "priority", job.Priority)
		return false
	}
}

func (w *Warmer) EnqueueBatch(paths []string, priority JobPriority) int {
	count := 0
	for _, path := range paths {
		if w.Enqueue(WarmJob{Path: path, Priority: priority}) {
			count++
		}
	}
	return count
}

func (w *Warmer) Stats() WarmerStats {
	w.statsMu.RLock()
	stats := w.stats
	w.statsMu.RUnlock()

	stats.InQueue = w.inQueue.Load()
	stats.Warmed = w.warmed.Load()
	stats.Failed = w.failed.Load()
	stats.Skipped = w.skipped.Load()
	return stats
}

func (w *Warmer) worker(id int) {
	defer w.wg.Done()

	for {
		if w.rateLimiter != nil {
			select {
			case <-w.rateLimiter.C:
			case <-w.ctx.Done():
				return
			}
		}

		var job WarmJob
		select {
		case job = <-w.highQueue:
		default:
			select {
			case job = <-w.highQueue:
			case job = <-w.normalQueue:
			default:
				select {
				case job = <-w.highQueue:
				case job = <-w.normalQueue:
				case job = <-w.lowQueue:
				case <-w.ctx.Done():
					return
				}
			}
		}

		w.inQueue.Add(-1)
		log.Debug("warmer processing job", "worker_id", id, "path", job.Path)
		w.process(job)
	}
}

func (w *Warmer) process(job WarmJob) {
	if w.shouldExclude(job.Path) {
		w.skipped.Add(1)
		return
	}

	info, err := os.Stat(job.Path)
	if err != nil || info.IsDir() {
		w.skipped.Add(1)
		return
	}
	if w.config.MaxFileSize > 0 && info.Size() > w.config.MaxFileSize {
		w.skipped.Add(1)
		log.Debug("skipped file", "path", job.Path, "reason", "file too large")
		return
	}

	if err := w.warm(w.ctx, job.Path); err != nil {
		w.failed.Add(1)
		log.Warn("failed to warm", "path", job.Path, "error", err)
		return
	}

	w.warmed.Add(1)
	w.statsMu.Lock()
	w.stats.LastWarmed = time.Now()
	w.statsMu.Unlock()
}

func (w *Warmer) shouldExclude(path string) bool {
	for _, pattern := range w.config.ExcludePatterns {
		if matched, _ := doublestar.Match(pattern, path); matched {
			return true
		}
	}
	return false
}
