package telemetry

import (
	"context"
	"errors"
	"fmt"
)

// Source returns the current value of a tag.
type Source interface {
	TagValue(ctx context.Context, tagID string) (float64, error)
}

// Gateway reads from the live cache and falls back to history when the
// cache has nothing usable. A bad-quality reading is never masked by
// history.
type Gateway struct {
	cache    *Cache
	fallback Source
	logger   Logger
}

// NewGateway returns a gateway over cache. fallback may be nil.
func NewGateway(cache *Cache, fallback Source) *Gateway {
	return &Gateway{cache: cache, fallback: fallback, logger: noopLogger{}}
}

// SetLogger sets the logger.
func (g *Gateway) SetLogger(logger Logger) {
	if logger != nil {
		g.logger = logger
	}
}

// TagValue returns the live value of tagID.
func (g *Gateway) TagValue(ctx context.Context, tagID string) (float64, error) {
	v, err := g.cache.TagValue(ctx, tagID)
	if err == nil {
		return v, nil
	}
	if g.fallback == nil || !(errors.Is(err, ErrTagNotFound) || errors.Is(err, ErrStale)) {
		return 0, err
	}

	v, ferr := g.fallback.TagValue(ctx, tagID)
	if ferr != nil {
		return 0, fmt.Errorf("%w (history: %w)", err, ferr)
	}
	g.logger.Debug("tag served from history", "tag", tagID, "reason", err)
	return v, nil
}
