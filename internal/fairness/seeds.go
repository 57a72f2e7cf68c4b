package fairness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

type RoundState string

const (
	RoundActive  RoundState = "ACTIVE"  // hash publicado, ainda sem aposta
	RoundBound   RoundState = "BOUND"   // vinculado a uma aposta em aberto
	RoundRetired RoundState = "RETIRED" // aposta terminal, seed pode ser revelada
)

var (
	ErrRoundNotFound        = errors.New("seed round not found")
	ErrRoundUnavailable     = errors.New("seed round is no longer active")
	ErrActiveRoundExists    = errors.New("an active seed round already exists")
	ErrSeedNotYetRevealable = errors.New("seed not yet revealable")
	ErrRoundNotBound        = errors.New("seed round is not bound to a bet")
)

// Round é um compromisso: a seed secreta, seu hash público e o estado do ciclo de vida.
type Round struct {
	Number         int64
	ServerSeed     string
	ServerSeedHash string
	State          RoundState
	BetID          string
	CreatedAt      time.Time
	RetiredAt      *time.Time
}

// Commitment é a parte pública de um round.
type Commitment struct {
	Round          int64  `json:"round"`
	ServerSeedHash string `json:"serverSeedHash"`
}

// SeedStore persiste os rounds. Números de round são atribuídos pelo store e crescem monotonicamente.
type SeedStore interface {
	// InsertActiveRound grava um novo round ACTIVE; ErrActiveRoundExists se já houver um.
	InsertActiveRound(ctx context.Context, seed, hash string, at time.Time) (int64, error)
	// ActiveRound devolve o round ACTIVE atual ou ErrRoundNotFound.
	ActiveRound(ctx context.Context) (Round, error)
	GetRound(ctx context.Context, number int64) (Round, error)
	// BindRound move ACTIVE -> BOUND; ErrRoundUnavailable se o round não estiver mais ativo.
	BindRound(ctx context.Context, number int64, betID string) error
	// RetireRound move ACTIVE/BOUND -> RETIRED; idempotente.
	RetireRound(ctx context.Context, number int64, at time.Time) error
}

type Option func(*Registry)

// WithEntropy troca a fonte de aleatoriedade (testes).
func WithEntropy(r io.Reader) Option { return func(reg *Registry) { reg.entropy = r } }

func WithClock(now func() time.Time) Option { return func(reg *Registry) { reg.now = now } }

// Registry é o dono das server seeds. Política: um round por aposta.
// Sempre existe um round ACTIVE cujo hash já é público; Bind entrega esse round à aposta
// e imediatamente compromete o próximo. O round só é revelado depois que a aposta termina.
type Registry struct {
	log     *zap.Logger
	store   SeedStore
	entropy io.Reader
	now     func() time.Time

	mu     sync.Mutex
	active *Round // cache do round ACTIVE
}

func NewRegistry(log *zap.Logger, store SeedStore, opts ...Option) *Registry {
	r := &Registry{
		log:     log,
		store:   store,
		entropy: defaultEntropy,
		now:     time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Current devolve o compromisso que a próxima aposta vai usar, criando um se necessário.
func (r *Registry) Current(ctx context.Context) (Commitment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rd, err := r.ensureActiveLocked(ctx)
	if err != nil {
		return Commitment{}, err
	}
	return Commitment{Round: rd.Number, ServerSeedHash: rd.ServerSeedHash}, nil
}

// Commit gera uma nova seed e a torna o round ativo, devolvendo só o hash.
// Um round ativo ainda não usado é aposentado (nenhuma aposta depende dele).
func (r *Registry) Commit(ctx context.Context) (Commitment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, err := r.ensureActiveLocked(ctx)
	if err != nil {
		return Commitment{}, err
	}
	if err := r.store.RetireRound(ctx, prev.Number, r.now()); err != nil {
		return Commitment{}, fmt.Errorf("retire round %d: %w", prev.Number, err)
	}
	r.active = nil

	rd, err := r.commitLocked(ctx)
	if err != nil {
		return Commitment{}, err
	}
	return Commitment{Round: rd.Number, ServerSeedHash: rd.ServerSeedHash}, nil
}

// Bind vincula o round ativo à aposta e rotaciona para um novo round.
// O compromisso devolvido é o que a aposta congela como serverSeedHashAtCreation.
func (r *Registry) Bind(ctx context.Context, betID string) (Commitment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	const attempts = 3
	var lastErr error
	for i := 0; i < attempts; i++ {
		rd, err := r.ensureActiveLocked(ctx)
		if err != nil {
			return Commitment{}, err
		}

		err = r.store.BindRound(ctx, rd.Number, betID)
		r.active = nil
		if errors.Is(err, ErrRoundUnavailable) {
			// outra instância consumiu o round; recarrega do store
			lastErr = err
			continue
		}
		if err != nil {
			return Commitment{}, fmt.Errorf("bind round %d: %w", rd.Number, err)
		}

		if _, err := r.commitLocked(ctx); err != nil {
			// o próximo Current/Bind tenta de novo
			r.log.Warn("commit next seed round failed", zap.Error(err))
		}
		return Commitment{Round: rd.Number, ServerSeedHash: rd.ServerSeedHash}, nil
	}
	return Commitment{}, fmt.Errorf("bind seed round: %w", lastErr)
}

// Secret devolve a seed de um round vinculado, para liquidação interna. Nunca exposto ao jogador
// antes do round ser aposentado.
func (r *Registry) Secret(ctx context.Context, round int64) (string, error) {
	rd, err := r.store.GetRound(ctx, round)
	if err != nil {
		return "", err
	}
	if rd.State == RoundActive {
		return "", ErrRoundNotBound
	}
	return rd.ServerSeed, nil
}

// Retire libera o round para revelação; chamado quando a aposta vinculada fica terminal.
func (r *Registry) Retire(ctx context.Context, round int64) error {
	if err := r.store.RetireRound(ctx, round, r.now()); err != nil {
		return fmt.Errorf("retire round %d: %w", round, err)
	}
	return nil
}

// Reveal devolve o round completo (com a seed) somente se ele já foi aposentado.
func (r *Registry) Reveal(ctx context.Context, round int64) (Round, error) {
	rd, err := r.store.GetRound(ctx, round)
	if err != nil {
		return Round{}, err
	}
	if rd.State != RoundRetired {
		return Round{}, ErrSeedNotYetRevealable
	}
	return rd, nil
}

func (r *Registry) ensureActiveLocked(ctx context.Context) (Round, error) {
	if r.active != nil {
		return *r.active, nil
	}

	rd, err := r.store.ActiveRound(ctx)
	switch {
	case err == nil:
		r.active = &rd
		return rd, nil
	case errors.Is(err, ErrRoundNotFound):
		return r.commitLocked(ctx)
	default:
		return Round{}, fmt.Errorf("load active round: %w", err)
	}
}

func (r *Registry) commitLocked(ctx context.Context) (Round, error) {
	seed, err := NewSeed(r.entropy)
	if err != nil {
		return Round{}, err
	}
	hash := HashSeed(seed)
	at := r.now()

	number, err := r.store.InsertActiveRound(ctx, seed, hash, at)
	if errors.Is(err, ErrActiveRoundExists) {
		// corrida com outra instância: usa o round dela
		rd, err := r.store.ActiveRound(ctx)
		if err != nil {
			return Round{}, fmt.Errorf("load active round: %w", err)
		}
		r.active = &rd
		return rd, nil
	}
	if err != nil {
		return Round{}, fmt.Errorf("insert seed round: %w", err)
	}

	rd := Round{Number: number, ServerSeed: seed, ServerSeedHash: hash, State: RoundActive, CreatedAt: at}
	r.active = &rd
	r.log.Debug("seed round committed", zap.Int64("round", number), zap.String("hash", hash))
	return rd, nil
}
