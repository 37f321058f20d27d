// Package ingest moves job transition audit records through Kafka.
package ingest

import (
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/example/driver-console-sync/internal/apperr"
	"github.com/example/driver-console-sync/internal/models"
)

const sourceHeader = "source"

func EncodeTransition(t models.Transition) (kafka.Message, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode transition: %w", err)
	}
	return kafka.Message{
		Key:     []byte(t.JobID),
		Value:   b,
		Headers: []kafka.Header{{Key: sourceHeader, Value: []byte(t.Source)}},
	}, nil
}

// DecodeTransition parses a message value. Records without a job id or a
// target status are malformed.
func DecodeTransition(m kafka.Message) (models.Transition, error) {
	const op = "ingest.DecodeTransition"
	var t models.Transition
	if err := json.Unmarshal(m.Value, &t); err != nil {
		return models.Transition{}, apperr.Malformed(op, "%v", err)
	}
	if t.JobID.Empty() {
		t.JobID = models.ID(m.Key)
	}
	if t.JobID.Empty() || t.To == "" {
		return models.Transition{}, apperr.Malformed(op, "transition without job id or status")
	}
	if t.Source == "" {
		for _, h := range m.Headers {
			if h.Key == sourceHeader {
				t.Source = string(h.Value)
			}
		}
	}
	return t, nil
}
