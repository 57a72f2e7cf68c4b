// Package feed distribui os eventos de aposta criada/resolvida para observadores (/live).
// É cosmético: a entrega é best-effort e nada aqui participa da liquidação.
package feed

import (
	"context"
	"sync"
	"time"
)

type EventType string

const (
	TypeBet    EventType = "bet"
	TypeResult EventType = "result"
)

// Event é uma linha do feed. Seq é atribuído pelo Broadcaster local na ordem de chegada.
type Event struct {
	Seq            uint64    `json:"seq"`
	ID             string    `json:"id"`
	Type           EventType `json:"type"`
	BetID          string    `json:"betId"`
	Wallet         string    `json:"wallet"`
	Amount         string    `json:"amount"`
	Target         int       `json:"target"`
	Direction      string    `json:"direction"`
	Multiplier     string    `json:"multiplier"`
	Round          int64     `json:"round"`
	ServerSeedHash string    `json:"serverSeedHash"`
	State          string    `json:"state,omitempty"`
	Result         *int      `json:"result,omitempty"`
	Won            *bool     `json:"won,omitempty"`
	Profit         string    `json:"profit,omitempty"`
	At             time.Time `json:"at"`
}

// Publisher é o que o ciclo de vida das apostas enxerga: o Broadcaster local ou o relay Redis.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

const DefaultHistory = 100

const subscriberBuffer = 64

type subscriber struct {
	ch   chan Event
	once sync.Once
}

func (s *subscriber) close() { s.once.Do(func() { close(s.ch) }) }

// Broadcaster mantém o histórico recente (ring) e faz fan-out para os inscritos.
// Inscritos lentos (buffer cheio) são desconectados em vez de travar o publish.
type Broadcaster struct {
	mu       sync.Mutex
	seq      uint64
	capacity int
	history  []Event
	subs     map[*subscriber]struct{}
}

func NewBroadcaster(capacity int) *Broadcaster {
	if capacity <= 0 {
		capacity = DefaultHistory
	}
	return &Broadcaster{
		capacity: capacity,
		history:  make([]Event, 0, capacity),
		subs:     make(map[*subscriber]struct{}),
	}
}

func (b *Broadcaster) Publish(_ context.Context, ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	ev.Seq = b.seq

	if len(b.history) == b.capacity {
		copy(b.history, b.history[1:])
		b.history = b.history[:b.capacity-1]
	}
	b.history = append(b.history, ev)

	for s := range b.subs {
		select {
		case s.ch <- ev:
		default:
			delete(b.subs, s)
			s.close()
		}
	}
}

// Subscribe devolve o histórico (mais antigo primeiro) e um canal com os eventos seguintes.
// O snapshot e a inscrição acontecem sob o mesmo lock: nenhum evento se perde nem se repete.
// O canal é fechado em cancel ou quando o inscrito fica para trás.
func (b *Broadcaster) Subscribe() (history []Event, events <-chan Event, cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := &subscriber{ch: make(chan Event, subscriberBuffer)}
	b.subs[s] = struct{}{}

	history = make([]Event, len(b.history))
	copy(history, b.history)

	return history, s.ch, func() {
		b.mu.Lock()
		delete(b.subs, s)
		b.mu.Unlock()
		s.close()
	}
}

func (b *Broadcaster) History() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Event, len(b.history))
	copy(out, b.history)
	return out
}

func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.subs)
}
