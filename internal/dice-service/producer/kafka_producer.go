package producer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/radieske/fairdice-platform/internal/shared/kafka"
	"github.com/radieske/fairdice-platform/pkg/contracts/events"
)

// KafkaPublisher publica o ciclo de vida das apostas, particionado por betID.
type KafkaPublisher struct {
	Placed   *kafka.Writer
	Resolved *kafka.Writer
	now      func() time.Time
}

func NewKafkaPublisher(placed, resolved *kafka.Writer) *KafkaPublisher {
	return &KafkaPublisher{Placed: placed, Resolved: resolved, now: time.Now}
}

func (p *KafkaPublisher) PublishBetPlaced(ctx context.Context, e events.BetPlaced) error {
	e.TsUnixMs = p.now().UnixMilli()
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return kafka.WriteJSON(ctx, p.Placed, e.BetID, b)
}

func (p *KafkaPublisher) PublishBetResolved(ctx context.Context, e events.BetResolved) error {
	e.TsUnixMs = p.now().UnixMilli()
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return kafka.WriteJSON(ctx, p.Resolved, e.BetID, b)
}

// Close fecha os dois writers.
func (p *KafkaPublisher) Close() error {
	err := p.Placed.Close()
	if rerr := p.Resolved.Close(); err == nil {
		err = rerr
	}
	return err
}
