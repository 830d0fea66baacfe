package telemetry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/nerrad567/gray-logic-esd/internal/infrastructure/tsdb"
)

// InstantQuerier runs a PromQL instant query for one sample. *tsdb.Client
// satisfies it.
type InstantQuerier interface {
	InstantValue(ctx context.Context, query string) (float64, time.Time, error)
}

// TSDBSource reads the newest stored sample of a tag within the staleness
// window.
type TSDBSource struct {
	q      InstantQuerier
	maxAge time.Duration
}

// NewTSDBSource returns a source over q. maxAge is rounded up to whole
// seconds, minimum one.
func NewTSDBSource(q InstantQuerier, maxAge time.Duration) *TSDBSource {
	return &TSDBSource{q: q, maxAge: maxAge}
}

// Query returns the PromQL used for tagID.
func (s *TSDBSource) Query(tagID string) string {
	secs := int64(math.Ceil(s.maxAge.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf(`last_over_time(%s_value{tag=%q}[%ds])`, tsdb.TagMeasurement, tagID, secs)
}

// TagValue implements the gateway source contract.
func (s *TSDBSource) TagValue(ctx context.Context, tagID string) (float64, error) {
	v, _, err := s.q.InstantValue(ctx, s.Query(tagID))
	if err != nil {
		if errors.Is(err, tsdb.ErrNoData) {
			return 0, fmt.Errorf("%w: %s has no history within %s", ErrTagNotFound, tagID, s.maxAge)
		}
		return 0, fmt.Errorf("reading %s history: %w", tagID, err)
	}
	return v, nil
}
