package samtid

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"k8s.io/klog/v2"
)

// settle is how long a file must go without events before it is reconciled.
var settle = 500 * time.Millisecond

// Watch reconciles eligible files that appear or change in the input directory,
// until ctx is done or the batch must stop.
func Watch(ctx context.Context, c *Config, b *Batch) error {
	dir := c.InPath
	only := ""
	if fi, err := os.Stat(dir); err == nil && !fi.IsDir() {
		dir, only = filepath.Dir(c.InPath), filepath.Clean(c.InPath)
	}

	exts := c.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("new watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	klog.Infof("watching %s ...", dir)

	pending := map[string]bool{}
	timer := time.NewTimer(settle)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			klog.V(2).Infof("event: %s", event)
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			p := filepath.Clean(event.Name)
			if (only != "" && p != only) || !Eligible(p, exts) {
				continue
			}
			pending[p] = true
			timer.Reset(settle)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			klog.Errorf("watch error: %v", err)
		case <-timer.C:
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			clear(pending)

			for _, p := range paths {
				if err := b.Process(Target{InPath: p, OutPath: OutputPath(c.OutDir, p)}); err != nil {
					return err
				}
			}
		}
	}
}
