package utils

import (
	"sync"

	"go.uber.org/zap"
)

// WorkerPool 通用协程池
type WorkerPool struct {
	JobQueue  chan func()
	WorkerNum int
	logger    *zap.Logger
	wg        sync.WaitGroup
	quit      chan struct{}

	mu      sync.RWMutex
	stopped bool
}

// NewWorkerPool 创建一个新的协程池
func NewWorkerPool(workerNum int, queueSize int, logger *zap.Logger) *WorkerPool {
	if workerNum <= 0 {
		workerNum = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkerPool{
		JobQueue:  make(chan func(), queueSize),
		WorkerNum: workerNum,
		logger:    logger.With(zap.String("component", "worker_pool")),
		quit:      make(chan struct{}),
	}
}

// Start 启动协程池
func (p *WorkerPool) Start() {
	for i := range p.WorkerNum {
		p.wg.Add(1)
		go func(workerID int) {
			defer p.wg.Done()
			for {
				select {
				case job := <-p.JobQueue:
					p.run(workerID, job)
				case <-p.quit:
					// 退出前把队列里剩余的任务做完
					for {
						select {
						case job := <-p.JobQueue:
							p.run(workerID, job)
						default:
							return
						}
					}
				}
			}
		}(i)
	}
	p.logger.Debug("worker pool started", zap.Int("workers", p.WorkerNum))
}

func (p *WorkerPool) run(workerID int, job func()) {
	// 使用 defer recover 防止单个任务 panic 导致 worker 挂掉
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker panic", zap.Int("worker", workerID), zap.Any("panic", r))
		}
	}()
	job()
}

// Submit 提交任务到协程池
// 如果队列已满，此方法会阻塞，直到有空位；池已停止时返回 false
func (p *WorkerPool) Submit(job func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return false
	}
	p.JobQueue <- job
	return true
}

// TrySubmit 非阻塞提交，队列已满或池已停止时丢弃任务并返回 false
func (p *WorkerPool) TrySubmit(job func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return false
	}
	select {
	case p.JobQueue <- job:
		return true
	default:
		p.logger.Warn("worker pool queue full, dropping job")
		return false
	}
}

// Stop 停止协程池，等待已入队的任务执行完毕
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	close(p.quit)
	p.wg.Wait()
}
