package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Editors often write a file in several steps; events closer together than
// this are folded into one reload.
const reloadDebounce = 250 * time.Millisecond

// Watch calls onChange with a freshly loaded Config whenever the config file
// changes. Files that fail to load are logged and skipped. The directory is
// watched so that atomic renames are seen.
func (c *Config) Watch(ctx context.Context, onChange func(*Config)) error {
	logger := log.With().Str("component", "config").Str("path", c.path).Logger()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	defer w.Close()

	if err := w.Add(c.dir()); err != nil {
		return fmt.Errorf("watch %s: %w", c.dir(), err)
	}

	target := filepath.Clean(c.path)
	var (
		timer   *time.Timer
		pending <-chan time.Time
	)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(reloadDebounce)
			pending = timer.C

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Err(err).Msg("Config watcher error")

		case <-pending:
			pending = nil
			next, err := c.Reload()
			if err != nil {
				logger.Err(err).Msg("Config reload failed, keeping previous settings")
				continue
			}
			logger.Info().Msg("Config reloaded")
			onChange(next)
		}
	}
}
