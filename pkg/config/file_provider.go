package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/stagecraftai/stagecraft-oss/pkg/domain"
)

// FileProvider watches a pipeline definition file and republishes the decoded,
// validated pipeline whenever the file changes. It backs live editing
// sessions: the planner re-plans on each update without restarting.
type FileProvider struct {
	path        string
	mu          sync.RWMutex
	current     domain.Pipeline
	loaded      bool
	subscribers []chan domain.Pipeline
	watcher     *fsnotify.Watcher
	cancel      context.CancelFunc
	logger      *slog.Logger
}

// NewFileProvider creates a provider watching the given file. The initial
// load must succeed; later failed reloads keep the last good pipeline.
func NewFileProvider(path string, logger *slog.Logger) (*FileProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve pipeline path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &FileProvider{
		path:    absPath,
		watcher: watcher,
		cancel:  cancel,
		logger:  logger,
	}

	if err := p.load(); err != nil {
		cancel()
		_ = watcher.Close()
		return nil, err
	}

	// Watch the directory, not the file: editors replace files by rename.
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		cancel()
		_ = watcher.Close()
		return nil, fmt.Errorf("watch pipeline directory: %w", err)
	}

	go p.watchLoop(ctx)
	return p, nil
}

// Current returns the last successfully loaded pipeline.
func (p *FileProvider) Current() domain.Pipeline {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current.Clone()
}

// Subscribe returns a channel receiving each successfully reloaded pipeline.
func (p *FileProvider) Subscribe() <-chan domain.Pipeline {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan domain.Pipeline, 1)
	p.subscribers = append(p.subscribers, ch)
	return ch
}

// Close stops watching and releases the watcher.
func (p *FileProvider) Close() error {
	p.cancel()
	return p.watcher.Close()
}

func (p *FileProvider) load() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("read pipeline file: %w", err)
	}
	payload, err := DecodeFileData(p.path, data)
	if err != nil {
		return err
	}
	pipeline, err := ToPipeline(payload)
	if err != nil {
		return fmt.Errorf("validate pipeline file: %w", err)
	}

	p.mu.Lock()
	p.current = pipeline
	p.loaded = true
	subs := append([]chan domain.Pipeline(nil), p.subscribers...)
	p.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- pipeline.Clone():
		default:
			// Subscriber is behind; it will pick up the next update.
		}
	}
	return nil
}

func (p *FileProvider) watchLoop(ctx context.Context) {
	// Debounce bursts of write events from editors.
	var timer *time.Timer
	reload := func() {
		if err := p.load(); err != nil {
			p.logger.Warn("pipeline reload failed, keeping last good definition",
				"path", p.path, "error", err)
			return
		}
		p.logger.Info("pipeline definition reloaded", "path", p.path)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != p.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(100*time.Millisecond, reload)
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn("pipeline watcher error", "error", err)
		}
	}
}
