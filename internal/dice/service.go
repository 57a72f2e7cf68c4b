// Package dice orquestra o ciclo de vida de uma aposta: CREATED -> RESOLVED | FAILED.
// Coordena o ledger (reserva/liquidação), o registry de seeds (commit-reveal),
// o cálculo de pagamento e o feed.
package dice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/radieske/fairdice-platform/internal/fairness"
	"github.com/radieske/fairdice-platform/internal/feed"
	"github.com/radieske/fairdice-platform/internal/ledger"
	"github.com/radieske/fairdice-platform/internal/payout"
	"github.com/radieske/fairdice-platform/internal/shared/keylock"
	"github.com/radieske/fairdice-platform/internal/shared/money"
	"github.com/radieske/fairdice-platform/pkg/contracts/events"
)

const (
	maxWalletLen     = 128
	maxClientSeedLen = 64
)

// Rules são as regras do jogo em unidades mínimas.
type Rules struct {
	Enabled         bool
	MinBet          int64
	MaxBet          int64
	HouseEdgeBps    int64
	MaxProfit       int64
	Decimals        int32
	HouseWallet     string
	BetTimeout      time.Duration
	SettleAttempts  int
	SettleBackoff   time.Duration
	LeaderboardSize int
}

// Publisher publica os eventos de domínio (Kafka). Falhas são logadas, nunca bloqueiam a aposta.
type Publisher interface {
	PublishBetPlaced(ctx context.Context, e events.BetPlaced) error
	PublishBetResolved(ctx context.Context, e events.BetResolved) error
}

// Hooks são callbacks de métricas, no mesmo estilo dos workers.
type Hooks struct {
	OnPlaced      func(direction string, amount int64)
	OnResolved    func(won bool)
	OnFailed      func(reason string)
	OnSettleRetry func()
}

type Option func(*Service)

func WithFeed(p feed.Publisher) Option { return func(s *Service) { s.feed = p } }

func WithPublisher(p Publisher) Option { return func(s *Service) { s.publ = p } }

func WithHooks(h Hooks) Option { return func(s *Service) { s.hooks = h } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

type Service struct {
	log      *zap.Logger
	rules    Rules
	ledger   *ledger.Ledger
	bankroll *ledger.Bankroll
	seeds    *fairness.Registry
	bets     Store
	feed     feed.Publisher
	publ     Publisher
	hooks    Hooks
	now      func() time.Time
	betLocks *keylock.Map
}

func NewService(log *zap.Logger, rules Rules, l *ledger.Ledger, seeds *fairness.Registry, bets Store, opts ...Option) *Service {
	if rules.SettleAttempts < 1 {
		rules.SettleAttempts = 1
	}
	s := &Service{
		log:      log,
		rules:    rules,
		ledger:   l,
		bankroll: ledger.NewBankroll(),
		seeds:    seeds,
		bets:     bets,
		now:      time.Now,
		betLocks: keylock.New(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Rules() Rules { return s.rules }

// PlaceBetInput é o pedido de aposta; Amount em unidades mínimas.
type PlaceBetInput struct {
	WalletID   string
	Amount     int64
	Target     int
	Direction  payout.Direction
	ClientSeed string
}

type Placement struct {
	Bet        Bet
	Quote      payout.Quote
	NewBalance int64
}

// PlaceBet valida, cota, reserva contra a casa e contra a carteira, vincula o round de seed
// atual e persiste a aposta como CREATED. Qualquer falha depois da reserva a desfaz.
func (s *Service) PlaceBet(ctx context.Context, in PlaceBetInput) (Placement, error) {
	if !s.rules.Enabled {
		return Placement{}, ErrGameDisabled
	}
	if err := s.validatePlacement(in); err != nil {
		return Placement{}, err
	}

	params := payout.Params{HouseEdgeBps: s.rules.HouseEdgeBps, MaxProfit: s.rules.MaxProfit}
	q, err := payout.Calculate(in.Direction, in.Target, in.Amount, params)
	if err != nil {
		return Placement{}, &ValidationError{Field: "target", Reason: err.Error()}
	}

	// a casa compromete o pior caso na mesma transação que debita o jogador
	betID := uuid.NewString()
	hold := ledger.Hold{WalletID: s.rules.HouseWallet, Amount: q.CappedProfit}
	tok, newBal, err := s.ledger.Reserve(ctx, in.WalletID, in.Amount, betID, hold)
	if err != nil {
		if errors.Is(err, ledger.ErrWalletNotFound) {
			return Placement{}, fmt.Errorf("%w: wallet %s has no balance", ErrInsufficientBalance, in.WalletID)
		}
		return Placement{}, err
	}
	s.reportExposure(ctx)

	bound := int64(0)
	abort := func(cause error) (Placement, error) {
		s.abortPlacement(ctx, tok, bound, cause)
		return Placement{}, fmt.Errorf("place bet: %w", cause)
	}

	commit, err := s.seeds.Bind(ctx, betID)
	if err != nil {
		return abort(err)
	}
	bound = commit.Round

	nonce, err := s.bets.NextNonce(ctx, in.WalletID, in.ClientSeed)
	if err != nil {
		return abort(err)
	}

	bet := Bet{
		ID:             betID,
		WalletID:       in.WalletID,
		Amount:         in.Amount,
		Target:         in.Target,
		Direction:      in.Direction,
		ClientSeed:     in.ClientSeed,
		Nonce:          nonce,
		Round:          commit.Round,
		ServerSeedHash: commit.ServerSeedHash,
		Multiplier:     q.Multiplier,
		CappedProfit:   q.CappedProfit,
		HouseEdgeBps:   params.HouseEdgeBps,
		MaxProfit:      params.MaxProfit,
		State:          StateCreated,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.bets.InsertBet(ctx, bet); err != nil {
		return abort(err)
	}

	s.log.Info("bet placed",
		zap.String("bet_id", bet.ID),
		zap.String("wallet", bet.WalletID),
		zap.Int64("amount", bet.Amount),
		zap.Int("target", bet.Target),
		zap.String("direction", string(bet.Direction)),
		zap.Int64("round", bet.Round),
		zap.Uint64("nonce", bet.Nonce),
	)

	s.emitPlaced(ctx, bet)
	if s.hooks.OnPlaced != nil {
		s.hooks.OnPlaced(string(bet.Direction), bet.Amount)
	}

	return Placement{Bet: bet, Quote: q, NewBalance: newBal}, nil
}

func (s *Service) validatePlacement(in PlaceBetInput) error {
	switch {
	case in.WalletID == "":
		return invalid("wallet", "required")
	case len(in.WalletID) > maxWalletLen:
		return invalid("wallet", "longer than %d characters", maxWalletLen)
	case in.WalletID == s.rules.HouseWallet:
		return invalid("wallet", "house wallet cannot place bets")
	case in.ClientSeed == "":
		return invalid("clientSeed", "required")
	case len(in.ClientSeed) > maxClientSeedLen:
		return invalid("clientSeed", "longer than %d characters", maxClientSeedLen)
	case in.Amount < s.rules.MinBet:
		return invalid("amount", "below minimum bet %s", money.Format(s.rules.MinBet, s.rules.Decimals))
	case in.Amount > s.rules.MaxBet:
		return invalid("amount", "above maximum bet %s", money.Format(s.rules.MaxBet, s.rules.Decimals))
	case in.Direction != payout.Over && in.Direction != payout.Under:
		return invalid("direction", "must be over or under")
	}
	return nil
}

// abortPlacement desfaz uma aposta que não chegou a ser persistida.
func (s *Service) abortPlacement(ctx context.Context, tok ledger.Token, round int64, cause error) {
	ctx = context.WithoutCancel(ctx)
	log := s.log.With(zap.String("bet_id", tok.ID), zap.String("wallet", tok.WalletID))
	log.Warn("bet placement aborted", zap.Error(cause))

	if _, err := s.retry(ctx, "release", func() (int64, error) { return s.ledger.Release(ctx, tok) }); err != nil {
		// a reserva fica OPEN sem aposta; o reaper libera depois do timeout
		log.Error("release after aborted placement failed", zap.Error(err))
	}
	s.reportExposure(ctx)

	if round > 0 {
		if err := s.seeds.Retire(ctx, round); err != nil {
			log.Warn("retire round after aborted placement failed", zap.Int64("round", round), zap.Error(err))
		}
	}
}

// RollInput identifica a aposta a rolar. ClientSeed, se informado, precisa ser o da criação.
type RollInput struct {
	BetID      string
	WalletID   string
	ClientSeed string
}

type Roll struct {
	Bet        Bet
	NewBalance int64
}

// ResolveBet rola uma aposta CREATED exatamente uma vez.
// Liquidação é tentada SettleAttempts vezes; se continuar falhando a reserva é liberada,
// a aposta vai para FAILED e ErrSettlementFailure é devolvido.
func (s *Service) ResolveBet(ctx context.Context, in RollInput) (Roll, error) {
	if in.BetID == "" {
		return Roll{}, invalid("betId", "required")
	}
	unlock := s.betLocks.Lock(in.BetID)
	defer unlock()

	bet, err := s.bets.GetBet(ctx, in.BetID)
	if err != nil {
		return Roll{}, err
	}
	if bet.WalletID != in.WalletID {
		return Roll{}, invalid("wallet", "bet %s does not belong to this wallet", bet.ID)
	}
	if in.ClientSeed != "" && in.ClientSeed != bet.ClientSeed {
		return Roll{}, invalid("clientSeed", "does not match the seed committed at placement")
	}
	switch bet.State {
	case StateResolved:
		return Roll{}, ErrAlreadyResolved
	case StateFailed:
		return Roll{}, ErrBetFailed
	}

	// a partir daqui a aposta está CREATED e protegida pelo lock
	ctx = context.WithoutCancel(ctx)
	tok := ledger.Token{ID: bet.ID, WalletID: bet.WalletID, Amount: bet.Amount}

	seed, err := s.fetchSecret(ctx, bet)
	if err != nil {
		return s.failBet(ctx, bet, tok, "seed unavailable", err, nil)
	}

	res := s.outcome(bet, seed)
	payoutAmt, houseDelta := settlementAmounts(bet, res.Won)

	newBal, err := s.settle(ctx, tok, payoutAmt, houseDelta)
	if err != nil {
		if st, ok := ledger.ClosedStatus(err); ok {
			return s.resolveClosed(ctx, bet, st, res)
		}
		return s.failBet(ctx, bet, tok, "settlement failed", err, &res)
	}
	s.reportExposure(ctx)

	return s.finishResolved(ctx, bet, res, newBal), nil
}

// resolveClosed trata uma reserva que já estava fechada quando a liquidação rodou.
// SETTLED: uma tentativa anterior gravou e perdeu a resposta, ou um processo anterior caiu
// depois de liquidar; saldo e exposição já foram acertados pelo store. RELEASED: o reaper já
// desistiu da aposta.
func (s *Service) resolveClosed(ctx context.Context, bet Bet, st ledger.ReservationStatus, res Resolution) (Roll, error) {
	s.reportExposure(ctx)
	switch st {
	case ledger.ReservationSettled:
		bal, err := s.ledger.Balance(ctx, bet.WalletID)
		if err != nil {
			s.log.Warn("balance after recovered settlement", zap.String("bet_id", bet.ID), zap.Error(err))
		}
		return s.finishResolved(ctx, bet, res, bal), nil
	default:
		if err := s.markFailed(ctx, bet, "reservation released"); err != nil {
			s.log.Error("mark failed after release", zap.String("bet_id", bet.ID), zap.Error(err))
		}
		return Roll{}, ErrBetFailed
	}
}

func (s *Service) finishResolved(ctx context.Context, bet Bet, res Resolution, newBal int64) Roll {
	log := s.log.With(zap.String("bet_id", bet.ID), zap.String("wallet", bet.WalletID))

	if err := s.retryErr(ctx, "mark resolved", func() error { return s.bets.MarkResolved(ctx, bet.ID, res) }); err != nil {
		// saldo já liquidado; o reaper completa o registro a partir da reserva SETTLED
		log.Error("persist resolved bet failed", zap.Error(err))
	}
	if err := s.seeds.Retire(ctx, bet.Round); err != nil {
		log.Warn("retire seed round failed", zap.Int64("round", bet.Round), zap.Error(err))
	}

	bet.State = StateResolved
	bet.Outcome = &res.Outcome
	bet.Won = &res.Won
	bet.Profit = &res.Profit
	bet.ServerSeed = res.ServerSeed
	bet.ResolvedAt = &res.ResolvedAt

	log.Info("bet resolved",
		zap.Int("outcome", res.Outcome),
		zap.Bool("won", res.Won),
		zap.Int64("profit", res.Profit),
	)

	s.emitResolved(ctx, bet)
	if s.hooks.OnResolved != nil {
		s.hooks.OnResolved(res.Won)
	}
	return Roll{Bet: bet, NewBalance: newBal}
}

// failBet libera a reserva e marca a aposta como FAILED. Se a liberação encontrar a reserva já
// SETTLED, a última tentativa de liquidação efetivou apesar do erro: com o resultado em mãos (res)
// a aposta é concluída como RESOLVED. Se nem a liberação funcionar, a aposta continua CREATED e o
// reaper tenta de novo; o saldo nunca fica preso sem desfecho.
func (s *Service) failBet(ctx context.Context, bet Bet, tok ledger.Token, reason string, cause error, res *Resolution) (Roll, error) {
	log := s.log.With(zap.String("bet_id", bet.ID), zap.String("wallet", bet.WalletID))
	log.Warn("settlement gave up; releasing reservation", zap.String("reason", reason), zap.Error(cause))

	_, err := s.retry(ctx, "release", func() (int64, error) { return s.ledger.Release(ctx, tok) })
	st, closed := ledger.ClosedStatus(err)
	switch {
	case err == nil, closed && st == ledger.ReservationReleased:
		s.reportExposure(ctx)
		log.Error("bet settlement failed", zap.String("reason", reason), zap.Error(cause))
		if err := s.markFailed(ctx, bet, reason); err != nil {
			log.Error("mark bet failed", zap.Error(err))
		}
	case closed && st == ledger.ReservationSettled && res != nil:
		log.Warn("settlement committed despite error; completing bet", zap.Error(cause))
		return s.resolveClosed(ctx, bet, st, *res)
	default:
		log.Error("release after settlement failure failed; left for reaper", zap.Error(err))
	}
	return Roll{}, fmt.Errorf("%w: %s: %v", ErrSettlementFailure, reason, cause)
}

func (s *Service) markFailed(ctx context.Context, bet Bet, reason string) error {
	// a seed é revelada também nas apostas que falharam, para auditoria
	seed, err := s.seeds.Secret(ctx, bet.Round)
	if err != nil {
		s.log.Warn("failed bet persisted without revealed seed",
			zap.String("bet_id", bet.ID), zap.Int64("round", bet.Round), zap.Error(err))
	}
	at := s.now().UTC()
	err = s.retryErr(ctx, "mark failed", func() error { return s.bets.MarkFailed(ctx, bet.ID, reason, seed, at) })
	if err != nil && !errors.Is(err, ErrBetNotCreated) {
		return err
	}
	if err := s.seeds.Retire(ctx, bet.Round); err != nil {
		s.log.Warn("retire seed round failed", zap.String("bet_id", bet.ID), zap.Int64("round", bet.Round), zap.Error(err))
	}

	bet.State = StateFailed
	bet.FailureReason = reason
	bet.ServerSeed = seed
	bet.ResolvedAt = &at
	s.emitResolved(ctx, bet)
	if s.hooks.OnFailed != nil {
		s.hooks.OnFailed(reason)
	}
	return nil
}

func (s *Service) fetchSecret(ctx context.Context, bet Bet) (string, error) {
	var seed string
	err := s.retryErr(ctx, "seed", func() error {
		var err error
		seed, err = s.seeds.Secret(ctx, bet.Round)
		return err
	})
	if err != nil {
		return "", err
	}
	if !fairness.VerifySeed(seed, bet.ServerSeedHash) {
		return "", fmt.Errorf("seed for round %d does not match committed hash", bet.Round)
	}
	return seed, nil
}

func (s *Service) outcome(bet Bet, seed string) Resolution {
	outcome := fairness.Derive(seed, bet.ClientSeed, bet.Nonce)
	won := payout.Wins(bet.Direction, bet.Target, outcome)
	profit := -bet.Amount
	if won {
		profit = bet.CappedProfit
	}
	return Resolution{Outcome: outcome, Won: won, Profit: profit, ServerSeed: seed, ResolvedAt: s.now().UTC()}
}

// settlementAmounts: numa vitória o jogador recebe wager+lucro e a casa paga o lucro;
// numa derrota o jogador recebe 0 e a casa fica com o wager.
func settlementAmounts(bet Bet, won bool) (payoutAmt, houseDelta int64) {
	if won {
		payoutAmt = bet.Amount + bet.CappedProfit
	}
	return payoutAmt, bet.Amount - payoutAmt
}

func (s *Service) settle(ctx context.Context, tok ledger.Token, payoutAmt, houseDelta int64) (int64, error) {
	house := ledger.HouseMove{WalletID: s.rules.HouseWallet, Delta: houseDelta}
	var bal int64
	var err error
	for attempt := 1; attempt <= s.rules.SettleAttempts; attempt++ {
		bal, err = s.ledger.Settle(ctx, tok, payoutAmt, house)
		if err == nil || errors.Is(err, ledger.ErrReservationClosed) {
			return bal, err
		}
		if s.hooks.OnSettleRetry != nil && attempt < s.rules.SettleAttempts {
			s.hooks.OnSettleRetry()
		}
		s.log.Warn("settle attempt failed", zap.String("bet_id", tok.ID), zap.Int("attempt", attempt), zap.Error(err))
		if attempt < s.rules.SettleAttempts {
			s.sleep(ctx, attempt)
		}
	}
	return 0, err
}

// retry aplica a mesma política da liquidação (tentativas com backoff linear) a outras escritas.
func (s *Service) retry(ctx context.Context, op string, fn func() (int64, error)) (int64, error) {
	var v int64
	err := s.retryErr(ctx, op, func() error {
		var err error
		v, err = fn()
		return err
	})
	return v, err
}

func (s *Service) retryErr(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= s.rules.SettleAttempts; attempt++ {
		if err = fn(); err == nil || isFinal(err) {
			return err
		}
		s.log.Warn("retrying", zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
		if attempt < s.rules.SettleAttempts {
			s.sleep(ctx, attempt)
		}
	}
	return err
}

// isFinal indica erros de domínio que não melhoram com nova tentativa.
func isFinal(err error) bool {
	return errors.Is(err, ledger.ErrReservationClosed) ||
		errors.Is(err, ledger.ErrReservationNotFound) ||
		errors.Is(err, ErrBetNotCreated) ||
		errors.Is(err, ErrBetNotFound) ||
		errors.Is(err, fairness.ErrRoundNotFound) ||
		errors.Is(err, fairness.ErrRoundNotBound)
}

func (s *Service) sleep(ctx context.Context, attempt int) {
	if s.rules.SettleBackoff <= 0 {
		return
	}
	t := time.NewTimer(s.rules.SettleBackoff * time.Duration(attempt))
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// reportExposure relê o caixa da casa no store e atualiza a visão local usada pelas métricas.
func (s *Service) reportExposure(ctx context.Context) {
	if _, err := s.Bankroll(ctx); err != nil {
		s.log.Debug("read house funds", zap.Error(err))
	}
}
