package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/radieske/fairdice-platform/pkg/contracts/events"
)

// MessageReader é o subconjunto do *kafka.Reader usado aqui (commit manual).
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
}

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
}

// Hooks alimentam as métricas do worker.
type Hooks struct {
	OnVerified func()
	OnMismatch func()
	OnError    func(stage string)
}

type Processor struct {
	log     *zap.Logger
	auditor Auditor
	reader  MessageReader
	dlq     MessageWriter // opcional
	hooks   Hooks
	backoff time.Duration
}

func NewProcessor(log *zap.Logger, a Auditor, r MessageReader, dlq MessageWriter, hooks Hooks) *Processor {
	return &Processor{log: log, auditor: a, reader: r, dlq: dlq, hooks: hooks, backoff: time.Second}
}

// Run consome até ctx ser cancelado.
func (p *Processor) Run(ctx context.Context) error {
	for {
		msg, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.fail("fetch")
			p.log.Warn("kafka fetch", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(p.backoff):
			}
			continue
		}

		// sem DLQ gravada o offset não avança: um commit posterior pularia a mensagem
		for p.Handle(ctx, msg) != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(p.backoff):
			}
		}

		if err := p.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			p.fail("commit")
			p.log.Warn("kafka commit", zap.Error(err))
		}
	}
}

// Handle audita uma mensagem; mensagens ilegíveis ou divergentes vão para a DLQ.
// Só devolve erro quando a escrita na DLQ falha e a mensagem não pode ser commitada.
func (p *Processor) Handle(ctx context.Context, msg kafkago.Message) error {
	var ev events.BetResolved
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		p.fail("decode")
		p.log.Error("unmarshal bet_resolved", zap.Error(err))
		return p.deadLetter(ctx, msg, "decode: "+err.Error())
	}

	err := p.auditor.Audit(ev)
	switch {
	case err == nil:
		if p.hooks.OnVerified != nil {
			p.hooks.OnVerified()
		}
		p.log.Debug("bet verified", zap.String("bet_id", ev.BetID), zap.String("state", ev.State))
	case errors.Is(err, ErrMismatch):
		if p.hooks.OnMismatch != nil {
			p.hooks.OnMismatch()
		}
		p.log.Error("fairness mismatch", zap.String("bet_id", ev.BetID), zap.Error(err))
		return p.deadLetter(ctx, msg, err.Error())
	default:
		p.fail("audit")
		p.log.Error("audit failed", zap.String("bet_id", ev.BetID), zap.Error(err))
	}
	return nil
}

func (p *Processor) deadLetter(ctx context.Context, msg kafkago.Message, reason string) error {
	if p.dlq == nil {
		return nil
	}
	out := kafkago.Message{
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: append(msg.Headers, kafkago.Header{Key: "audit_error", Value: []byte(reason)}),
		Time:    time.Now(),
	}
	if err := p.dlq.WriteMessages(ctx, out); err != nil {
		p.fail("dlq")
		p.log.Error("write dlq", zap.Error(err))
		return fmt.Errorf("write dlq: %w", err)
	}
	return nil
}

func (p *Processor) fail(stage string) {
	if p.hooks.OnError != nil {
		p.hooks.OnError(stage)
	}
}
