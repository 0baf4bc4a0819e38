package config

import (
	"log"

	"github.com/fsnotify/fsnotify"
)

// WatchOverlay watches overlayPath for writes and invokes onChange with a
// freshly reloaded Config each time it changes. The watch runs until stop
// is closed. Reload failures are logged and do not stop the watch — the
// last successfully loaded configuration stays in effect.
func WatchOverlay(envYAMLPath, overlayPath string, onChange func(Config), stop <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := watcher.Add(overlayPath); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-stop:
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(envYAMLPath, overlayPath)
				if err != nil {
					log.Printf("config: reload of %s failed: %v", overlayPath, err)
					continue
				}
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("config: watcher error: %v", err)
			}
		}
	}()
	return nil
}
