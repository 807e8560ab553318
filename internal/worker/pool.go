package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrQueueFull 队列已满
var ErrQueueFull = errors.New("task queue is full")

// ErrPoolStopped Worker 池已停止
var ErrPoolStopped = errors.New("worker pool stopped")

// Task 一次后台分析任务
type Task struct {
	ID         string
	SamplePath string
	Filename   string
	Source     string     // upload, queue, watcher
	resultCh   chan error // 用于同步等待任务完成
}

// JobHandler 处理单个任务
type JobHandler func(ctx context.Context, task *Task) error

// Pool Worker 池
type Pool struct {
	workers  int
	taskChan chan *Task
	handler  JobHandler
	logger   *logrus.Logger
	wg       sync.WaitGroup

	active   atomic.Int32
	mu       sync.RWMutex
	stopped  bool
	stopOnce sync.Once
}

// NewPool 创建 Worker 池
func NewPool(workers, queueSize int, handler JobHandler, logger *logrus.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	return &Pool{
		workers:  workers,
		taskChan: make(chan *Task, queueSize),
		handler:  handler,
		logger:   logger,
	}
}

// Start 启动 Worker 池
func (p *Pool) Start(ctx context.Context) {
	p.logger.WithFields(logrus.Fields{
		"workers":    p.workers,
		"queue_size": cap(p.taskChan),
	}).Info("Starting worker pool")

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// worker Worker 协程
func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			p.logger.WithField("worker_id", id).Debug("Worker shutting down")
			return

		case task, ok := <-p.taskChan:
			if !ok {
				return
			}
			p.run(ctx, id, task)
		}
	}
}

func (p *Pool) run(ctx context.Context, id int, task *Task) {
	p.active.Add(1)
	defer p.active.Add(-1)

	start := time.Now()
	fields := logrus.Fields{
		"worker_id": id,
		"task_id":   task.ID,
		"source":    task.Source,
		"sample":    task.SamplePath,
	}

	err := p.execute(ctx, task)
	fields["duration"] = time.Since(start).String()

	if err != nil {
		p.logger.WithError(err).WithFields(fields).Error("Task execution failed")
	} else {
		p.logger.WithFields(fields).Info("Task completed successfully")
	}

	// 如果有结果通道，发送结果
	if task.resultCh != nil {
		task.resultCh <- err
		close(task.resultCh)
	}
}

// execute 调用处理函数，panic 转为错误
func (p *Pool) execute(ctx context.Context, task *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", task.ID, r)
		}
	}()
	return p.handler(ctx, task)
}

// Submit 提交任务（异步，不等待结果）
func (p *Pool) Submit(task *Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.taskChan <- task:
		p.logger.WithField("task_id", task.ID).Debug("Task submitted to pool")
		return nil
	default:
		return ErrQueueFull
	}
}

// SubmitAndWait 提交任务并等待完成
func (p *Pool) SubmitAndWait(ctx context.Context, task *Task) error {
	task.resultCh = make(chan error, 1)

	p.mu.RLock()
	if p.stopped {
		p.mu.RUnlock()
		return ErrPoolStopped
	}
	select {
	case p.taskChan <- task:
		p.mu.RUnlock()
	case <-ctx.Done():
		p.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case err := <-task.resultCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop 停止 Worker 池，等待队列中的任务处理完
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.logger.Info("Stopping worker pool")
		p.mu.Lock()
		p.stopped = true
		close(p.taskChan)
		p.mu.Unlock()
		p.wg.Wait()
		p.logger.Info("Worker pool stopped")
	})
}

// Stats 返回 (size, active, queued)
func (p *Pool) Stats() (size, active, queued int) {
	return p.workers, int(p.active.Load()), len(p.taskChan)
}

// GetQueueSize 获取队列中任务数
func (p *Pool) GetQueueSize() int {
	return len(p.taskChan)
}
