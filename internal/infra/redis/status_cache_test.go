package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"intellidoc-pipeline/internal/domain/model"
)

func testLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// fakeRedis serves from a map and can be forced into an error state to
// simulate an unreachable server.
type fakeRedis struct {
	values map[string]string
	down   error
}

var _ RedisClient = (*fakeRedis)(nil)

func newFakeRedis() *fakeRedis { return &fakeRedis{values: make(map[string]string)} }

func (f *fakeRedis) Ping(ctx context.Context) error { return f.down }

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, _ time.Duration) error {
	if f.down != nil {
		return f.down
	}
	f.values[key] = value.(string)
	return nil
}

func (f *fakeRedis) Get(ctx context.Context, key string) (string, error) {
	if f.down != nil {
		return "", f.down
	}
	v, ok := f.values[key]
	if !ok {
		return "", goredis.Nil
	}
	return v, nil
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) error {
	if f.down != nil {
		return f.down
	}
	for _, k := range keys {
		delete(f.values, k)
	}
	return nil
}

func (f *fakeRedis) Close() error { return nil }

func TestStatusCache_Roundtrip(t *testing.T) {
	t.Parallel()
	cli := newFakeRedis()
	cache := NewStatusCache(cli, time.Hour, testLogger())
	ctx := context.Background()

	if _, ok := cache.Get(ctx, "job-1"); ok {
		t.Fatal("cold cache must miss")
	}

	cache.Set(ctx, &model.JobStatusView{JobID: "job-1", Status: model.JobStatusProcessing, Progress: 40})
	view, ok := cache.Get(ctx, "job-1")
	if !ok || view.Progress != 40 || view.Status != model.JobStatusProcessing {
		t.Fatalf("got %+v ok=%v", view, ok)
	}

	cache.Invalidate(ctx, "job-1")
	if _, ok := cache.Get(ctx, "job-1"); ok {
		t.Fatal("invalidated entry still served")
	}
}

func TestStatusCache_ErrorIsAMissNotAPanic(t *testing.T) {
	t.Parallel()
	cli := newFakeRedis()
	cache := NewStatusCache(cli, time.Hour, testLogger())
	ctx := context.Background()

	cache.Set(ctx, &model.JobStatusView{JobID: "job-1", Progress: 10})
	cli.down = errors.New("connection refused")

	// An unreachable server degrades to a miss; the store stays the source
	// of truth.
	if _, ok := cache.Get(ctx, "job-1"); ok {
		t.Fatal("read during outage must report a miss")
	}
	cache.Set(ctx, &model.JobStatusView{JobID: "job-2"})
	cache.Invalidate(ctx, "job-1")
}

func TestIsNil(t *testing.T) {
	t.Parallel()
	if !IsNil(goredis.Nil) {
		t.Fatal("redis.Nil must read as a cache miss")
	}
	if IsNil(errors.New("connection refused")) || IsNil(nil) {
		t.Fatal("only redis.Nil is a miss")
	}
}
