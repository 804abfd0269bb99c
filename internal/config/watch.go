package config

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
)

// Watch re-reads the config file whenever it changes on disk and hands the
// previous and fresh configs to apply. A rewrite that fails to parse or
// validate is reported through errf and the previous config stays in force.
// Load must have succeeded once before Watch is called.
func (l *Loader) Watch(apply func(old, cur Config), errf func(err error)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if err := l.v.ReadInConfig(); err != nil {
			errf(fmt.Errorf("reread config %s: %w", e.Name, err))
			return
		}
		cur, err := l.unmarshal()
		if err != nil {
			errf(fmt.Errorf("config change ignored: %w", err))
			return
		}
		l.mu.Lock()
		old := l.last
		l.last = cur
		l.mu.Unlock()
		apply(old, cur)
	})
	l.v.WatchConfig()
}
