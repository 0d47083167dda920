//go:build integration

package alerting

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"mortuary/pkg/testutil/containers"
)

type RedisDeduperSuite struct {
	suite.Suite
	redis *containers.RedisContainer
}

func TestRedisDeduperSuite(t *testing.T) {
	suite.Run(t, new(RedisDeduperSuite))
}

func (s *RedisDeduperSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
}

func (s *RedisDeduperSuite) TestClaim() {
	ctx := context.Background()
	d := NewRedisDeduper(s.redis.Client)
	key := "permanence:" + uuid.NewString()

	s.Run("first claim wins", func() {
		ok, err := d.Claim(ctx, key, time.Second)
		s.Require().NoError(err)
		s.True(ok)
	})

	s.Run("second claim inside the window loses", func() {
		ok, err := d.Claim(ctx, key, time.Second)
		s.Require().NoError(err)
		s.False(ok)

		ttl, err := s.redis.Client.TTL(ctx, "mortuary:alert:"+key).Result()
		s.Require().NoError(err)
		s.Positive(ttl)
	})

	s.Run("claim is available again after expiry", func() {
		s.Eventually(func() bool {
			ok, err := d.Claim(ctx, key, time.Second)
			return err == nil && ok
		}, 5*time.Second, 100*time.Millisecond)
	})
}
