package config

import (
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads the project config file on change and hands the
// validated result to onChange. A long-running `noface-orchestrator serve`
// copies the Agents and Passes sections into the Main Loop's config, so
// pass settings and the pass timeout change without a restart; the Worker
// Pool keeps the agents settings it was built with. Fields outside
// Agents/Passes are not hot-reloaded — tracker type and project commands
// change the shape of in-flight work too much to swap underneath a running
// loop.
type Watcher struct {
	watcher *fsnotify.Watcher
	log     zerolog.Logger
	onChange func(*Config)
}

// NewWatcher starts watching the project config file, if one is present.
// Returns nil, nil when there is no project config to watch.
func NewWatcher(log zerolog.Logger, onChange func(*Config)) (*Watcher, error) {
	path := projectConfigPath()
	if path == "" {
		return nil, nil
	}
	if _, err := loadFromPath(path); err != nil {
		return nil, nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		_ = fw.Close()
		return nil, nil
	}

	w := &Watcher{watcher: fw, log: log, onChange: onChange}
	go w.run(path)
	return w, nil
}

func (w *Watcher) run(path string) {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := loadFromPath(path)
			if err != nil || cfg == nil {
				w.log.Warn().Err(err).Str("path", path).Msg("config: reload failed, keeping previous value")
				continue
			}
			merged := Default()
			merged = merge(merged, cfg)
			Normalize(merged)
			if err := Validate(merged); err != nil {
				w.log.Warn().Err(err).Str("path", path).Msg("config: reloaded file is invalid, ignoring")
				continue
			}
			w.log.Info().Str("path", path).Msg("config: reloaded")
			w.onChange(merged)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("config: watch error")
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	if w == nil || w.watcher == nil {
		return nil
	}
	return w.watcher.Close()
}
