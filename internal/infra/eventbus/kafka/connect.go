package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff"

	"github.com/gh0stshe11/reconpilot/pkg/common/logger"
)

const defaultConnectTimeout = 2 * time.Minute

// ProducerFactory creates a producer. NewProducer is used outside tests.
type ProducerFactory func(cfg *Config) (sarama.SyncProducer, error)

// ConnectWithRetry attempts to create a producer with exponential backoff.
// It retries for up to cfg.ConnectTimeout, starting with one second intervals,
// so a scan can start while the cluster is still coming up.
func ConnectWithRetry(ctx context.Context, cfg *Config, newProducer ProducerFactory, log *logger.Logger) (sarama.SyncProducer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if newProducer == nil {
		newProducer = NewProducer
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = time.Second
	expBackoff.MaxElapsedTime = cfg.ConnectTimeout
	if expBackoff.MaxElapsedTime <= 0 {
		expBackoff.MaxElapsedTime = defaultConnectTimeout
	}

	var producer sarama.SyncProducer
	attempt := 0
	operation := func() error {
		attempt++
		p, err := newProducer(cfg)
		if err != nil {
			log.Warn(ctx, "kafka producer not ready", "attempt", attempt, "brokers", cfg.Brokers, "error", err)
			return err
		}
		producer = p
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(expBackoff, ctx)); err != nil {
		return nil, fmt.Errorf("failed to connect to kafka after %d attempts: %w", attempt, err)
	}
	log.Info(ctx, "kafka producer connected", "brokers", cfg.Brokers, "topic", cfg.Topic)
	return producer, nil
}
