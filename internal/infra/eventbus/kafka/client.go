// Package kafka exports scan lifecycle events to a Kafka topic so other
// systems can follow a scan without attaching to the local event bus.
package kafka

import (
	"errors"
	"time"

	"github.com/IBM/sarama"
)

// Config contains the settings needed to reach the brokers and route events.
type Config struct {
	// Brokers is a list of Kafka broker addresses to connect to.
	Brokers []string
	// Topic receives every forwarded event, keyed by session id.
	Topic string
	// ClientID identifies this process to the Kafka cluster.
	ClientID string
	// ConnectTimeout bounds how long ConnectWithRetry keeps trying.
	ConnectTimeout time.Duration
}

// Validate reports missing required settings.
func (c *Config) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("kafka: at least one broker is required")
	}
	if c.Topic == "" {
		return errors.New("kafka: topic is required")
	}
	return nil
}

// NewProducerConfig returns the sarama settings used for event export. Events
// for one session hash to one partition so consumers see them in order.
func NewProducerConfig(clientID string) *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = clientID

	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Return.Successes = true
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1

	config.Version = sarama.V3_6_0_0
	return config
}

// NewProducer creates a synchronous producer for cfg.
func NewProducer(cfg *Config) (sarama.SyncProducer, error) {
	return sarama.NewSyncProducer(cfg.Brokers, NewProducerConfig(cfg.ClientID))
}
