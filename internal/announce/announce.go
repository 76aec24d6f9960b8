// Package announce publishes pipeline events to Kafka so downstream
// consumers can react to feed changes without polling.
package announce

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/sn3fru/silvanews-sub001/internal/logging"
	"github.com/sn3fru/silvanews-sub001/internal/model"
)

// Announcer publishes run reports and cluster changes. Publishing is
// fire-and-forget from the pipeline's point of view: a broker outage
// logs a warning and the cycle continues.
type Announcer struct {
	producer sarama.SyncProducer
	topic    string
}

// New connects to the brokers. Returns (nil, nil) when brokers is empty
// so callers can wire the result straight through.
func New(brokers []string, topic string) (*Announcer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Timeout = 10 * time.Second

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("announce: connect brokers: %w", err)
	}
	return &Announcer{producer: producer, topic: topic}, nil
}

type runEvent struct {
	Kind   string          `json:"kind"`
	Report model.RunReport `json:"report"`
}

type changeEvent struct {
	Kind   string            `json:"kind"`
	Change model.ChangeEntry `json:"change"`
}

// AnnounceRun publishes a completed run report.
func (a *Announcer) AnnounceRun(report model.RunReport) {
	if a == nil {
		return
	}
	a.publish(report.ID, runEvent{Kind: "run", Report: report})
}

// AnnounceChange publishes one cluster change entry.
func (a *Announcer) AnnounceChange(change model.ChangeEntry) {
	if a == nil {
		return
	}
	a.publish(change.ClusterID, changeEvent{Kind: "change", Change: change})
}

func (a *Announcer) publish(key string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		logging.Warn("announce: payload not serializable", "error", err)
		return
	}
	msg := &sarama.ProducerMessage{
		Topic: a.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
	}
	if _, _, err := a.producer.SendMessage(msg); err != nil {
		logging.Warn("announce: publish failed", "topic", a.topic, "error", err)
	}
}

// Close releases the producer.
func (a *Announcer) Close() error {
	if a == nil {
		return nil
	}
	return a.producer.Close()
}
