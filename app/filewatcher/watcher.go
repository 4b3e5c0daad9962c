package filewatcher

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"act-relay/app/logger"

	"github.com/fsnotify/fsnotify"
)

// Handler 处理单个文件系统事件
type Handler func(event fsnotify.Event)

// FileWatcher 单目录文件监控器
type FileWatcher struct {
	name     string
	dir      string
	handler  Handler
	watcher  *fsnotify.Watcher
	logger   *logger.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup
	watching bool
	mu       sync.Mutex
}

// NewFileWatcher 创建新的文件监控器
func NewFileWatcher(name, dir string, handler Handler, log *logger.Logger) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监控器失败: %w", err)
	}

	return &FileWatcher{
		name:    name,
		dir:     dir,
		handler: handler,
		watcher: watcher,
		logger:  log,
		stopCh:  make(chan struct{}),
	}, nil
}

// Start 启动文件监控
func (fw *FileWatcher) Start() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.watching {
		return fmt.Errorf("文件监控器[%s]已经在运行", fw.name)
	}

	if _, err := os.Stat(fw.dir); os.IsNotExist(err) {
		return fmt.Errorf("监控目录不存在: %s", fw.dir)
	}

	if err := fw.watcher.Add(fw.dir); err != nil {
		return fmt.Errorf("添加监控目录失败: %w", err)
	}

	fw.watching = true
	fw.wg.Add(1)
	go fw.watchLoop()

	fw.logger.Infof("文件监控器[%s]已启动，监控目录: %s", fw.name, fw.dir)
	return nil
}

// Stop 停止文件监控
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if !fw.watching {
		return fw.watcher.Close()
	}

	close(fw.stopCh)
	err := fw.watcher.Close()
	fw.wg.Wait()
	fw.watching = false

	fw.logger.Infof("文件监控器[%s]已停止", fw.name)
	return err
}

// watchLoop 监控事件循环
func (fw *FileWatcher) watchLoop() {
	defer fw.wg.Done()

	for {
		select {
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleEvent(event)

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Errorf("文件监控器[%s]错误: %v", fw.name, err)

		case <-fw.stopCh:
			return
		}
	}
}

// handleEvent 分发事件，单个事件处理出错不影响监控循环
func (fw *FileWatcher) handleEvent(event fsnotify.Event) {
	defer func() {
		if r := recover(); r != nil {
			fw.logger.Errorf("文件监控器[%s]处理事件时发生panic: %v", fw.name, r)
		}
	}()

	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	fw.handler(event)
}

// Invalidator 可以按任务ID清除缓存的存储
type Invalidator interface {
	Invalidate(id string)
}

// NewJobRecordWatcher 监控任务目录，记录文件被外部改动时清除对应缓存
func NewJobRecordWatcher(dir string, target Invalidator, parseID func(name string) (string, bool), log *logger.Logger) (*FileWatcher, error) {
	handler := func(event fsnotify.Event) {
		id, ok := parseID(filepath.Base(event.Name))
		if !ok {
			return
		}
		target.Invalidate(id)
		log.Debugf("任务记录 %s 发生变化(%s)，已清除缓存", id, event.Op)
	}
	return NewFileWatcher("jobs", dir, handler, log)
}
