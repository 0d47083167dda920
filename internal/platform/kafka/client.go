// Package kafka builds the franz-go client used by the notification sink.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"mortuary/internal/platform/config"
)

// New connects to the brokers and makes sure the notification topic exists.
// Returns nil when no brokers are configured.
func New(ctx context.Context, cfg config.KafkaConfig, logger *slog.Logger) (*kgo.Client, error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.DefaultProduceTopic(cfg.NotifyTopic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(5*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = 30 * time.Second
	ensure := func() error {
		return EnsureTopic(ctx, client, cfg.NotifyTopic, cfg.Partitions, cfg.Replication)
	}
	notify := func(err error, wait time.Duration) {
		logger.WarnContext(ctx, "kafka not ready, retrying", "error", err, "wait", wait)
	}
	if err := backoff.RetryNotify(ensure, backoff.WithContext(bo, ctx), notify); err != nil {
		client.Close()
		return nil, fmt.Errorf("ensure topic %s: %w", cfg.NotifyTopic, err)
	}
	return client, nil
}

// EnsureTopic creates topic unless it already exists.
func EnsureTopic(ctx context.Context, client *kgo.Client, topic string, partitions int32, replication int16) error {
	adm := kadm.NewClient(client)
	resp, err := adm.CreateTopics(ctx, partitions, replication, nil, topic)
	if err != nil {
		return err
	}
	res, ok := resp[topic]
	if !ok {
		return fmt.Errorf("no create response for topic %s", topic)
	}
	if res.Err != nil && !errors.Is(res.Err, kerr.TopicAlreadyExists) {
		return res.Err
	}
	return nil
}

// Health pings the cluster.
func Health(ctx context.Context, client *kgo.Client) error {
	return client.Ping(ctx)
}
