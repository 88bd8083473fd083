package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"intellidoc-pipeline/internal/domain/model"
)

const statusKeyPrefix = "job_status:"

// StatusCache keeps the latest committed status view of a job in Redis with a
// TTL, so that high-frequency client polling does not hit Postgres on every
// read. Entries are invalidated on every committed stage transition.
type StatusCache struct {
	cli RedisClient
	ttl time.Duration
	log *zerolog.Logger
}

func NewStatusCache(cli RedisClient, ttl time.Duration, logger *zerolog.Logger) *StatusCache {
	l := logger.With().Str("component", "status_cache").Logger()
	return &StatusCache{cli: cli, ttl: ttl, log: &l}
}

func (c *StatusCache) Get(ctx context.Context, jobID string) (*model.JobStatusView, bool) {
	raw, err := c.cli.Get(ctx, statusKeyPrefix+jobID)
	if err != nil {
		// A miss is the normal cold path; anything else is worth a warning.
		if !IsNil(err) {
			c.log.Warn().Err(err).Str("job_id", jobID).Msg("status cache read failed")
		}
		return nil, false
	}
	var view model.JobStatusView
	if err := json.Unmarshal([]byte(raw), &view); err != nil {
		return nil, false
	}
	return &view, true
}

func (c *StatusCache) Set(ctx context.Context, view *model.JobStatusView) {
	b, err := json.Marshal(view)
	if err != nil {
		return
	}
	// Cache errors are non-fatal; the store remains the source of truth.
	_ = c.cli.Set(ctx, statusKeyPrefix+view.JobID, string(b), c.ttl)
}

func (c *StatusCache) Invalidate(ctx context.Context, jobID string) {
	_ = c.cli.Del(ctx, statusKeyPrefix+jobID)
}
