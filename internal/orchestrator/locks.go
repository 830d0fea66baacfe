package orchestrator

import (
	"context"
	"sync"
)

// assetLocks gives one execution at a time exclusive use of an asset.
// A stage takes all of its assets at once or none, so two executions can
// never hold part of each other's set.
type assetLocks struct {
	mu      sync.Mutex
	holders map[string]string
	changed chan struct{}
}

func newAssetLocks() *assetLocks {
	return &assetLocks{holders: make(map[string]string), changed: make(chan struct{})}
}

// acquire blocks until every asset is free or held by executionID, or ctx
// ends. onWait is called once, with the blocking holder, if it has to wait.
func (l *assetLocks) acquire(ctx context.Context, executionID string, assets []string, onWait func(asset, holder string)) error {
	if len(assets) == 0 {
		return nil
	}
	waited := false
	for {
		l.mu.Lock()
		asset, holder := l.conflict(executionID, assets)
		if holder == "" {
			for _, a := range assets {
				l.holders[a] = executionID
			}
			l.mu.Unlock()
			return nil
		}
		changed := l.changed
		l.mu.Unlock()

		if !waited && onWait != nil {
			onWait(asset, holder)
			waited = true
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *assetLocks) conflict(executionID string, assets []string) (string, string) {
	for _, a := range assets {
		if h, ok := l.holders[a]; ok && h != executionID {
			return a, h
		}
	}
	return "", ""
}

// release frees the assets held by executionID and wakes waiters.
func (l *assetLocks) release(executionID string, assets []string) {
	if len(assets) == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, a := range assets {
		if l.holders[a] == executionID {
			delete(l.holders, a)
		}
	}
	close(l.changed)
	l.changed = make(chan struct{})
}

// holder returns who holds asset, or "".
func (l *assetLocks) holder(asset string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holders[asset]
}
