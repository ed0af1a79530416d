package cluster

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
)

// ReloadHandler receives the outcome of each kubeconfig reload.
type ReloadHandler func(ReloadResult)

// Watcher reloads the manager whenever the kubeconfig file changes.
type Watcher struct {
	mgr      *Manager
	log      logr.Logger
	onReload ReloadHandler
	debounce time.Duration
}

func NewWatcher(mgr *Manager, log logr.Logger, onReload ReloadHandler) *Watcher {
	return &Watcher{
		mgr:      mgr,
		log:      log.WithName("kubeconfig-watcher"),
		onReload: onReload,
		debounce: 250 * time.Millisecond,
	}
}

// Run blocks until ctx is cancelled. The parent directory is watched because
// editors and `kubectl config` replace the file instead of writing in place.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	path := filepath.Clean(w.mgr.KubeconfigPath())
	if err := fw.Add(filepath.Dir(path)); err != nil {
		return err
	}

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerCh = timer.C
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Error(err, "watch kubeconfig")
		case <-timerCh:
			timerCh = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	res, err := w.mgr.Reload()
	if err != nil {
		w.log.Error(err, "reload kubeconfig")
		return
	}
	if len(res.NamespaceChanged) == 0 && !res.ContextsChanged {
		return
	}
	w.log.V(1).Info("kubeconfig reloaded", "namespaceChanged", res.NamespaceChanged, "contextsChanged", res.ContextsChanged)
	if w.onReload != nil {
		w.onReload(res)
	}
}
