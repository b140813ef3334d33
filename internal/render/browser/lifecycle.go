package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
)

// lifecycle records page lifecycle events per loader so a navigation can wait
// for a named milestone even if Chrome emitted it before the wait began.
type lifecycle struct {
	mu     sync.Mutex
	seen   map[cdp.LoaderID]map[string]struct{}
	notify chan struct{}
}

func newLifecycle() *lifecycle {
	return &lifecycle{
		seen:   make(map[cdp.LoaderID]map[string]struct{}),
		notify: make(chan struct{}, 1),
	}
}

func (l *lifecycle) observe(ev any) {
	e, ok := ev.(*page.EventLifecycleEvent)
	if !ok {
		return
	}
	l.record(e.LoaderID, e.Name)
}

func (l *lifecycle) record(loader cdp.LoaderID, name string) {
	l.mu.Lock()
	names, ok := l.seen[loader]
	if !ok {
		names = make(map[string]struct{})
		l.seen[loader] = names
	}
	names[name] = struct{}{}
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
}

func (l *lifecycle) has(loader cdp.LoaderID, name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if loader == "" {
		for _, names := range l.seen {
			if _, ok := names[name]; ok {
				return true
			}
		}
		return false
	}
	_, ok := l.seen[loader][name]
	return ok
}

// wait blocks until name fired for loader. An empty loader matches any
// navigation, which Chrome reports for same-document navigations.
func (l *lifecycle) wait(ctx context.Context, loader cdp.LoaderID, name string) error {
	for {
		if l.has(loader, name) {
			return nil
		}
		select {
		case <-l.notify:
		case <-ctx.Done():
			return fmt.Errorf("wait for %s: %w", name, ctx.Err())
		}
	}
}
