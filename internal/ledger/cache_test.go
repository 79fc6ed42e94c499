package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheMissLoadsAndPopulates(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	c := NewCache(nil, rdb, time.Minute)

	key := cacheKey(TaskTypeSegmenter, "standard")
	mock.ExpectGet(key).RedisNil()
	mock.Regexp().ExpectSet(key, `.*`, time.Minute).SetVal("OK")

	loadCalls := 0
	caps, err := c.Capabilities(context.Background(), TaskTypeSegmenter, "standard", func(ctx context.Context) ([]Capability, error) {
		loadCalls++
		return []Capability{{Name: "stt-standard", FeeRate: 2.0}}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, loadCalls)
	require.Len(t, caps, 1)
	assert.Equal(t, "stt-standard", caps[0].Name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheHitSkipsLoad(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	c := NewCache(nil, rdb, time.Minute)

	key := cacheKey(TaskTypeSegmenter, "standard")
	mock.ExpectGet(key).SetVal(`[{"Name":"stt-standard","FeeRate":2}]`)

	loadCalls := 0
	caps, err := c.Capabilities(context.Background(), TaskTypeSegmenter, "standard", func(ctx context.Context) ([]Capability, error) {
		loadCalls++
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, loadCalls)
	require.Len(t, caps, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}
