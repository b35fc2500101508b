//go:build integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"gantry/pkg/domain"
	"gantry/pkg/testutil/containers"
)

type RedisCacheSuite struct {
	suite.Suite
	rc    *containers.RedisContainer
	cache *Redis
}

func TestRedisCacheSuite(t *testing.T) {
	suite.Run(t, new(RedisCacheSuite))
}

func (s *RedisCacheSuite) SetupSuite() {
	s.rc = containers.NewRedisContainer(s.T())
	s.cache = NewRedis(s.rc.Client)
}

func (s *RedisCacheSuite) SetupTest() {
	s.Require().NoError(s.rc.FlushAll(context.Background()))
}

func (s *RedisCacheSuite) TestSetGet() {
	ctx := context.Background()

	_, hit, err := s.cache.Get(ctx, "absent")
	s.NoError(err)
	s.False(hit)

	s.Require().NoError(s.cache.Set(ctx, "k1", []byte(`{"a":1}`), time.Minute, nil))
	value, hit, err := s.cache.Get(ctx, "k1")
	s.NoError(err)
	s.True(hit)
	s.Equal([]byte(`{"a":1}`), value)
}

func (s *RedisCacheSuite) TestTTLExpiry() {
	ctx := context.Background()
	s.Require().NoError(s.cache.Set(ctx, "short", []byte("v"), 100*time.Millisecond, nil))

	_, hit, err := s.cache.Get(ctx, "short")
	s.NoError(err)
	s.True(hit)

	time.Sleep(200 * time.Millisecond)

	_, hit, err = s.cache.Get(ctx, "short")
	s.NoError(err)
	s.False(hit)
}

func (s *RedisCacheSuite) TestInvalidateKey() {
	ctx := context.Background()
	s.Require().NoError(s.cache.Set(ctx, "k1", []byte("v"), time.Minute, nil))
	s.Require().NoError(s.cache.InvalidateKey(ctx, "k1"))

	_, hit, err := s.cache.Get(ctx, "k1")
	s.NoError(err)
	s.False(hit)

	// Invalidating an absent key is a no-op, not an error.
	s.NoError(s.cache.InvalidateKey(ctx, "absent"))
}

func (s *RedisCacheSuite) TestTagInvalidation() {
	ctx := context.Background()
	tenantA := domain.TenantID(uuid.New())
	tenantB := domain.TenantID(uuid.New())
	tagA := TenantTag("items", tenantA)
	tagB := TenantTag("items", tenantB)

	s.Require().NoError(s.cache.Set(ctx, "list-a", []byte("a"), time.Minute, []string{tagA}))
	s.Require().NoError(s.cache.Set(ctx, "list-a2", []byte("a2"), time.Minute, []string{tagA}))
	s.Require().NoError(s.cache.Set(ctx, "list-b", []byte("b"), time.Minute, []string{tagB}))

	s.Run("exact tag tears down only its keys", func() {
		s.Require().NoError(s.cache.InvalidateByTag(ctx, tagA))

		_, hit, _ := s.cache.Get(ctx, "list-a")
		s.False(hit)
		_, hit, _ = s.cache.Get(ctx, "list-a2")
		s.False(hit)
		_, hit, _ = s.cache.Get(ctx, "list-b")
		s.True(hit)
	})

	s.Run("pattern tears down every tenant variant", func() {
		s.Require().NoError(s.cache.Set(ctx, "list-a", []byte("a"), time.Minute, []string{tagA}))
		s.Require().NoError(s.cache.InvalidateByTag(ctx, TagPattern("items")))

		_, hit, _ := s.cache.Get(ctx, "list-a")
		s.False(hit)
		_, hit, _ = s.cache.Get(ctx, "list-b")
		s.False(hit)
	})
}
