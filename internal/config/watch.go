package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"genesis/internal/logger"
)

// ChangeListener 在配置文件变更并通过校验后触发。
type ChangeListener func(*Config)

// Watcher 监听配置文件变更，用于 serve 模式下的参数热更新。
// 回放 run 一旦启动即持有配置快照，热更新只影响后续提交的 run，
// 绝不触碰进行中的 run。
type Watcher struct {
	path string

	mu        sync.Mutex
	listeners []ChangeListener
	watcher   *fsnotify.Watcher
	done      chan struct{}
}

// NewWatcher 构造但不启动监听。
func NewWatcher(path string) *Watcher {
	return &Watcher{path: filepath.Clean(path), done: make(chan struct{})}
}

// OnChange 注册监听回调。
func (w *Watcher) OnChange(fn ChangeListener) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	w.mu.Unlock()
}

// Start 启动文件监听。写事件做 500ms 去抖，加载失败只告警、保留旧配置。
func (w *Watcher) Start() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		return err
	}
	w.mu.Lock()
	w.watcher = fw
	w.mu.Unlock()

	go w.loop(fw)
	return nil
}

func (w *Watcher) loop(fw *fsnotify.Watcher) {
	var timer *time.Timer
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(500*time.Millisecond, w.reload)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			logger.Warnf("config watcher error: %v", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		logger.Warnf("config reload rejected (%s): %v", w.path, err)
		return
	}
	logger.Infof("config reloaded: %s hash=%s", w.path, cfg.Hash())
	w.mu.Lock()
	listeners := append([]ChangeListener(nil), w.listeners...)
	w.mu.Unlock()
	for _, fn := range listeners {
		fn(cfg)
	}
}

// Close 停止监听。
func (w *Watcher) Close() error {
	close(w.done)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}
