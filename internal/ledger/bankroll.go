package ledger

import "sync"

// HouseFunds é o caixa da casa como o store enxerga: saldo e soma do lucro limitado
// das reservas ainda abertas. Toda aposta nova precisa caber em Free.
type HouseFunds struct {
	Funds    int64
	Exposure int64
}

func (h HouseFunds) Free() int64 { return h.Funds - h.Exposure }

// Bankroll guarda a última leitura do caixa da casa (métricas). A fonte de verdade é o store,
// compartilhado entre instâncias.
type Bankroll struct {
	mu   sync.Mutex
	last HouseFunds
}

func NewBankroll() *Bankroll { return &Bankroll{} }

func (b *Bankroll) Update(h HouseFunds) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.last = h
}

func (b *Bankroll) Snapshot() HouseFunds {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.last
}
