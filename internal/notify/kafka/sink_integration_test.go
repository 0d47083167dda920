//go:build integration

package kafka_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"mortuary/internal/notify"
	notifykafka "mortuary/internal/notify/kafka"
	"mortuary/internal/platform/config"
	platformkafka "mortuary/internal/platform/kafka"
	id "mortuary/pkg/domain"
	"mortuary/pkg/testutil/containers"
)

type SinkIntegrationSuite struct {
	suite.Suite
	brokers []string
	topic   string
	client  *kgo.Client
}

func TestSinkIntegrationSuite(t *testing.T) {
	suite.Run(t, new(SinkIntegrationSuite))
}

func (s *SinkIntegrationSuite) SetupSuite() {
	rp := containers.GetManager().GetRedpanda(s.T())
	s.brokers = rp.Brokers
	s.topic = "mortuary.notifications.it"

	client, err := platformkafka.New(context.Background(), config.KafkaConfig{
		Brokers:     s.brokers,
		NotifyTopic: s.topic,
		ClientID:    "mortuary-it",
		Partitions:  1,
		Replication: 1,
	}, slog.New(slog.DiscardHandler))
	s.Require().NoError(err)
	s.client = client
}

func (s *SinkIntegrationSuite) TearDownSuite() {
	if s.client != nil {
		s.client.Close()
	}
}

func (s *SinkIntegrationSuite) TestEnsureTopicIsIdempotent() {
	s.NoError(platformkafka.EnsureTopic(context.Background(), s.client, s.topic, 1, 1))
}

func (s *SinkIntegrationSuite) TestDispatchedEventReachesTopic() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	d := notify.NewDispatcher(notifykafka.NewSink(s.client, s.topic),
		notify.WithLogger(slog.New(slog.DiscardHandler)))
	e := notify.NewEvent(notify.EventSlotAssigned, time.Now().UTC().Truncate(time.Millisecond), id.RoleMorgue)
	e.CaseID = id.NewCaseID()
	d.Publish(ctx, e)

	runCtx, stop := context.WithCancel(ctx)
	stop()
	s.Require().NoError(d.Run(runCtx))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.brokers...),
		kgo.ConsumeTopics(s.topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	for {
		fetches := consumer.PollFetches(ctx)
		s.Require().NoError(ctx.Err(), "event never arrived")
		var found bool
		fetches.EachRecord(func(r *kgo.Record) {
			if string(r.Key) != e.CaseID.String() {
				return
			}
			var got notify.Event
			s.Require().NoError(json.Unmarshal(r.Value, &got))
			s.Equal(e.ID, got.ID)
			s.Equal(notify.EventSlotAssigned, got.Type)
			found = true
		})
		if found {
			return
		}
	}
}
