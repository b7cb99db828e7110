package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/spaghettifunk/anima-framegraph/engine/core"
)

// Watcher reloads a configuration file whenever it changes. A file that
// fails to load or validate is ignored and the previous config stays active.
type Watcher struct {
	path     string
	fsnotify *fsnotify.Watcher
	bus      *core.EventBus

	mu          sync.RWMutex
	current     *Config
	subscribers []func(*Config)

	done chan struct{}
	wg   sync.WaitGroup
}

// NewWatcher loads path and starts watching it. bus may be nil; otherwise
// every successful reload fires EVENT_CODE_CONFIG_RELOADED.
func NewWatcher(path string, bus *core.EventBus) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Load(abs)
	if err != nil {
		return nil, err
	}
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// editors replace files on save, so the directory is watched
	if err := fsWatch.Add(filepath.Dir(abs)); err != nil {
		fsWatch.Close()
		return nil, fmt.Errorf("watch %s: %w", abs, err)
	}

	w := &Watcher{
		path:     abs,
		fsnotify: fsWatch,
		bus:      bus,
		current:  cfg,
		done:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.start()
	return w, nil
}

func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Subscribe registers fn to be called with every reloaded config.
func (w *Watcher) Subscribe(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subscribers = append(w.subscribers, fn)
}

func (w *Watcher) start() {
	defer w.wg.Done()
	for {
		select {
		case e, ok := <-w.fsnotify.Events:
			if !ok {
				return
			}
			if filepath.Clean(e.Name) != w.path {
				continue
			}
			if e.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.reload()
			}

		case e, ok := <-w.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError(e.Error())

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		core.LogWarn("config reload rejected: %s", err.Error())
		return
	}

	w.mu.Lock()
	w.current = cfg
	subscribers := make([]func(*Config), len(w.subscribers))
	copy(subscribers, w.subscribers)
	w.mu.Unlock()

	core.SetLogLevel(cfg.Log.Level)
	core.LogInfo("config reloaded from %s", w.path)
	if w.bus != nil {
		w.bus.Fire(core.EVENT_CODE_CONFIG_RELOADED, w, core.EventContext{Payload: cfg})
	}
	for _, fn := range subscribers {
		fn(cfg)
	}
}

func (w *Watcher) Close() error {
	select {
	case <-w.done:
		return errors.New("config watcher already closed")
	default:
	}
	close(w.done)
	err := w.fsnotify.Close()
	w.wg.Wait()
	return err
}
