// Package kafkapublish publishes one message to a Kafka topic.
// Grounded on
// internal/platform/messaging/kafka/publisher.go's EventPublisher
// (JSON-serialized value, string key, headers, required-acks-all
// producer config), reworked to use a synchronous
// sarama.SyncProducer so Execute can report the resulting
// partition/offset back into the graph instead of publishing
// fire-and-forget through a background success/error goroutine pair.
// Library: github.com/IBM/sarama.
package kafkapublish

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/prana-run/prana/internal/action"
)

// Action publishes one message per invocation through a shared
// synchronous producer.
type Action struct {
	action.NopPrepare
	action.NopResume

	Producer sarama.SyncProducer
}

func (a Action) Execute(_ context.Context, rendered map[string]interface{}) (action.Result, error) {
	topic, _ := rendered["topic"].(string)
	if topic == "" {
		return action.Result{}, fmt.Errorf("kafkapublish: topic is required")
	}

	value, err := json.Marshal(rendered["value"])
	if err != nil {
		return action.Result{}, fmt.Errorf("kafkapublish: marshaling value: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(value),
	}
	if key, _ := rendered["key"].(string); key != "" {
		message.Key = sarama.StringEncoder(key)
	}
	for name, v := range toHeaders(rendered["headers"]) {
		message.Headers = append(message.Headers, sarama.RecordHeader{Key: []byte(name), Value: []byte(v)})
	}

	partition, offset, err := a.Producer.SendMessage(message)
	if err != nil {
		return action.Result{}, fmt.Errorf("kafkapublish: %w", err)
	}

	return action.Completed(map[string]interface{}{
		"topic":     topic,
		"partition": partition,
		"offset":    offset,
	}), nil
}

func toHeaders(v interface{}) map[string]string {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	headers := make(map[string]string, len(m))
	for k, val := range m {
		if s, ok := val.(string); ok {
			headers[k] = s
		}
	}
	return headers
}

// Register adds the Kafka publish action under the "kafka" integration.
func Register(r *action.Registry, producer sarama.SyncProducer) error {
	return r.Register(action.Descriptor{
		IntegrationName: "kafka",
		ActionName:      "publish",
		InputPorts:      []string{"main"},
		OutputPorts:     []string{"success"},
		Action:          Action{Producer: producer},
	})
}
