package daemon

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"fsipd/internal/logging"
)

// rotationWatch asks for a rotation when the capture log is renamed or
// removed out from under the writer.
type rotationWatch struct {
	watcher *fsnotify.Watcher
	path    string
	done    chan struct{}
}

func watchRotation(path string, request func(Request), logger *slog.Logger) (*rotationWatch, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	rw := &rotationWatch{
		watcher: watcher,
		path:    filepath.Clean(path),
		done:    make(chan struct{}),
	}
	go rw.loop(request, logger)
	return rw, nil
}

func (rw *rotationWatch) loop(request func(Request), logger *slog.Logger) {
	defer close(rw.done)
	for {
		select {
		case ev, ok := <-rw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != rw.path {
				continue
			}
			if ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Remove) {
				logger.Info("capture log moved; reopening",
					logging.String(logging.FieldPath, rw.path),
					logging.String("op", ev.Op.String()),
				)
				request(RequestRotate)
			}
		case err, ok := <-rw.watcher.Errors:
			if !ok {
				return
			}
			logging.WarnWithContext(logger, "rotation watch error", "rotation_watch_error",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "send SIGHUP after rotating the capture log"),
				logging.String(logging.FieldImpact, "a rotation may go unnoticed"),
			)
		}
	}
}

func (rw *rotationWatch) Close() error {
	err := rw.watcher.Close()
	<-rw.done
	return err
}
