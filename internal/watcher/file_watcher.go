package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/apk-analysis/apk-risk-go/internal/worker"
)

// Submitter 接收投递任务，*worker.Pool 实现该接口
type Submitter interface {
	Submit(task *worker.Task) error
}

// Options 监听参数
type Options struct {
	Pattern        string        // 文件匹配模式，默认 *.apk
	Debounce       time.Duration // 同一文件事件合并窗口
	StableInterval time.Duration // 两次检查大小的间隔
	StableAttempts int           // 等待写入完成的最大检查次数
	ScanExisting   bool          // 启动时处理目录中已存在的文件
}

// DefaultOptions 默认参数
func DefaultOptions() Options {
	return Options{
		Pattern:        "*.apk",
		Debounce:       2 * time.Second,
		StableInterval: 500 * time.Millisecond,
		StableAttempts: 10,
	}
}

// FileWatcher 投递目录监听器，新 APK 写入完成后提交到 Worker 池
type FileWatcher struct {
	watcher   *fsnotify.Watcher
	dir       string
	opts      Options
	submitter Submitter
	logger    *logrus.Logger

	mu       sync.Mutex
	timers   map[string]*time.Timer
	inFlight map[string]bool

	stopOnce sync.Once
	stopChan chan struct{}
}

// NewFileWatcher 创建监听器，目录不存在时自动创建
func NewFileWatcher(dir string, opts Options, submitter Submitter, logger *logrus.Logger) (*FileWatcher, error) {
	defaults := DefaultOptions()
	if opts.Pattern == "" {
		opts.Pattern = defaults.Pattern
	}
	if opts.Debounce <= 0 {
		opts.Debounce = defaults.Debounce
	}
	if opts.StableInterval <= 0 {
		opts.StableInterval = defaults.StableInterval
	}
	if opts.StableAttempts <= 0 {
		opts.StableAttempts = defaults.StableAttempts
	}
	if _, err := filepath.Match(opts.Pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", opts.Pattern, err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create watch directory: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to add watch directory: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"watch_dir": dir,
		"pattern":   opts.Pattern,
	}).Info("File watcher created")

	return &FileWatcher{
		watcher:   w,
		dir:       dir,
		opts:      opts,
		submitter: submitter,
		logger:    logger,
		timers:    make(map[string]*time.Timer),
		inFlight:  make(map[string]bool),
		stopChan:  make(chan struct{}),
	}, nil
}

// Start 启动事件循环
func (fw *FileWatcher) Start(ctx context.Context) error {
	if fw.opts.ScanExisting {
		if err := fw.scanExisting(); err != nil {
			fw.logger.WithError(err).Warn("Failed to scan existing files")
		}
	}

	go fw.eventLoop(ctx)
	fw.logger.Info("File watcher started")
	return nil
}

func (fw *FileWatcher) scanExisting() error {
	entries, err := os.ReadDir(fw.dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || !fw.matchPattern(entry.Name()) {
			continue
		}
		fw.schedule(filepath.Join(fw.dir, entry.Name()))
	}
	return nil
}

func (fw *FileWatcher) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-fw.stopChan:
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !fw.matchPattern(filepath.Base(event.Name)) {
				continue
			}

			fw.logger.WithFields(logrus.Fields{
				"event": event.Op.String(),
				"file":  filepath.Base(event.Name),
			}).Debug("File event detected")

			fw.schedule(event.Name)

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.WithError(err).Error("Watcher error")
		}
	}
}

// schedule 防抖：同一文件在窗口内多次事件只处理一次
func (fw *FileWatcher) schedule(path string) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if timer, ok := fw.timers[path]; ok {
		timer.Stop()
	}
	fw.timers[path] = time.AfterFunc(fw.opts.Debounce, func() {
		fw.mu.Lock()
		delete(fw.timers, path)
		fw.mu.Unlock()
		fw.handleFile(path)
	})
}

func (fw *FileWatcher) handleFile(path string) {
	fw.mu.Lock()
	if fw.inFlight[path] {
		fw.mu.Unlock()
		return
	}
	fw.inFlight[path] = true
	fw.mu.Unlock()

	defer func() {
		fw.mu.Lock()
		delete(fw.inFlight, path)
		fw.mu.Unlock()
	}()

	if err := fw.waitForFileReady(path); err != nil {
		fw.logger.WithError(err).WithField("file", path).Warn("File not ready, skipping")
		return
	}

	task := &worker.Task{
		ID:         uuid.NewString(),
		SamplePath: path,
		Filename:   filepath.Base(path),
		Source:     "watcher",
	}
	if err := fw.submitter.Submit(task); err != nil {
		fw.logger.WithError(err).WithField("file", path).Error("Failed to submit dropped sample")
		return
	}

	fw.logger.WithFields(logrus.Fields{
		"file":    path,
		"task_id": task.ID,
	}).Info("Dropped sample submitted")
}

// waitForFileReady 等待文件大小稳定且非空
func (fw *FileWatcher) waitForFileReady(path string) error {
	var last int64 = -1
	for i := 0; i < fw.opts.StableAttempts; i++ {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("file does not exist")
			}
			return err
		}
		if info.IsDir() {
			return fmt.Errorf("%s is a directory", path)
		}

		size := info.Size()
		if size > 0 && size == last {
			return nil
		}
		last = size
		time.Sleep(fw.opts.StableInterval)
	}

	return fmt.Errorf("file not ready after %d attempts", fw.opts.StableAttempts)
}

// matchPattern 大小写不敏感的通配符匹配
func (fw *FileWatcher) matchPattern(name string) bool {
	ok, _ := filepath.Match(strings.ToLower(fw.opts.Pattern), strings.ToLower(name))
	return ok
}

// Stop 停止监听
func (fw *FileWatcher) Stop() error {
	var err error
	fw.stopOnce.Do(func() {
		fw.logger.Info("Stopping file watcher")
		close(fw.stopChan)

		fw.mu.Lock()
		for path, timer := range fw.timers {
			timer.Stop()
			delete(fw.timers, path)
		}
		fw.mu.Unlock()

		err = fw.watcher.Close()
	})
	return err
}

// Dir 返回监听目录
func (fw *FileWatcher) Dir() string {
	return fw.dir
}
