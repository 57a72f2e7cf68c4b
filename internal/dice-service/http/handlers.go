package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/radieske/fairdice-platform/internal/dice"
	"github.com/radieske/fairdice-platform/internal/dice-service/dto"
	"github.com/radieske/fairdice-platform/internal/fairness"
	"github.com/radieske/fairdice-platform/internal/payout"
	"github.com/radieske/fairdice-platform/internal/shared/money"
)

func (s *Server) format(units int64) string {
	return money.Format(units, s.svc.Rules().Decimals)
}

func (s *Server) units(field string, d decimal.Decimal) (int64, error) {
	u, err := money.ToUnits(d, s.svc.Rules().Decimals)
	if err != nil {
		return 0, &dice.ValidationError{Field: field, Reason: err.Error()}
	}
	return u, nil
}

func (s *Server) getConfig(w http.ResponseWriter, _ *http.Request) {
	rules := s.svc.Rules()
	writeJSON(w, http.StatusOK, dto.ConfigResponse{
		Enabled:      rules.Enabled,
		MinBet:       s.format(rules.MinBet),
		MaxBet:       s.format(rules.MaxBet),
		HouseEdgeBps: rules.HouseEdgeBps,
		MaxProfit:    s.format(rules.MaxProfit),
		Range:        fairness.Range,
	})
}

func (s *Server) getBalance(w http.ResponseWriter, r *http.Request) {
	b, err := s.svc.Balance(r.Context(), chi.URLParam(r, "wallet"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.BalanceResponse{Wallet: b.WalletID, Balance: s.format(b.Balance), Registered: b.Registered})
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req dto.RegisterRequest
	if err := decode(w, r, &req); err != nil {
		badRequest(w, "", "bad json")
		return
	}
	b, err := s.svc.Register(r.Context(), req.Wallet)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.BalanceResponse{Wallet: b.WalletID, Balance: s.format(b.Balance), Registered: true})
}

func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, dto.ErrorResponse{Error: "admin token required"})
		return
	}
	var req dto.DepositRequest
	if err := decode(w, r, &req); err != nil {
		badRequest(w, "", "bad json")
		return
	}
	amount, err := s.units("amount", req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := s.svc.Deposit(r.Context(), req.Wallet, amount, req.TxRef)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.BalanceResponse{Wallet: b.WalletID, Balance: s.format(b.Balance), Registered: true})
}

// authorized aceita "Authorization: Bearer <token>"; sem token configurado o depósito fica fechado.
func (s *Server) authorized(r *http.Request) bool {
	if s.adminToken == "" {
		return false
	}
	got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(got), []byte(s.adminToken)) == 1
}

func (s *Server) placeBet(w http.ResponseWriter, r *http.Request) {
	var req dto.PlaceBetRequest
	if err := decode(w, r, &req); err != nil {
		badRequest(w, "", "bad json")
		return
	}
	amount, err := s.units("amount", req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	dir, err := payout.ParseDirection(req.Direction)
	if err != nil {
		badRequest(w, "direction", err.Error())
		return
	}

	p, err := s.svc.PlaceBet(r.Context(), dice.PlaceBetInput{
		WalletID:   req.Wallet,
		Amount:     amount,
		Target:     req.Target,
		Direction:  dir,
		ClientSeed: req.ClientSeed,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.PlaceBetResponse{
		BetID:          p.Bet.ID,
		NewBalance:     s.format(p.NewBalance),
		Round:          p.Bet.Round,
		ServerSeedHash: p.Bet.ServerSeedHash,
		Nonce:          p.Bet.Nonce,
		Multiplier:     p.Quote.Multiplier.StringFixed(4),
		WinProbability: p.Quote.WinProbability.StringFixed(6),
		PotentialWin:   s.format(p.Quote.CappedProfit),
	})
}

func (s *Server) roll(w http.ResponseWriter, r *http.Request) {
	var req dto.RollRequest
	if err := decode(w, r, &req); err != nil {
		badRequest(w, "", "bad json")
		return
	}

	res, err := s.svc.ResolveBet(r.Context(), dice.RollInput{BetID: req.BetID, WalletID: req.Wallet, ClientSeed: req.ClientSeed})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	bet := res.Bet
	writeJSON(w, http.StatusOK, dto.RollResponse{
		BetID:          bet.ID,
		Result:         *bet.Outcome,
		Won:            *bet.Won,
		Profit:         s.format(*bet.Profit),
		NewBalance:     s.format(res.NewBalance),
		ClientSeed:     bet.ClientSeed,
		ServerSeed:     bet.ServerSeed,
		ServerSeedHash: bet.ServerSeedHash,
		Nonce:          bet.Nonce,
	})
}

func (s *Server) getBet(w http.ResponseWriter, r *http.Request) {
	bet, err := s.svc.GetBet(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.betResponse(bet))
}

func (s *Server) listBets(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			badRequest(w, "limit", "must be an integer")
			return
		}
		limit = n
	}
	bets, err := s.svc.ListBets(r.Context(), r.URL.Query().Get("wallet"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]dto.BetResponse, 0, len(bets))
	for _, b := range bets {
		out = append(out, s.betResponse(b))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) betResponse(b dice.Bet) dto.BetResponse {
	resp := dto.BetResponse{
		BetID:          b.ID,
		Wallet:         b.WalletID,
		Amount:         s.format(b.Amount),
		Target:         b.Target,
		Direction:      string(b.Direction),
		ClientSeed:     b.ClientSeed,
		Nonce:          b.Nonce,
		Round:          b.Round,
		ServerSeedHash: b.ServerSeedHash,
		Multiplier:     b.Multiplier.StringFixed(4),
		State:          string(b.State),
		Result:         b.Outcome,
		Won:            b.Won,
		ServerSeed:     b.ServerSeed,
		FailureReason:  b.FailureReason,
		CreatedAt:      b.CreatedAt,
		ResolvedAt:     b.ResolvedAt,
	}
	if b.Profit != nil {
		resp.Profit = s.format(*b.Profit)
	}
	return resp
}

func (s *Server) currentSeed(w http.ResponseWriter, r *http.Request) {
	c, err := s.svc.CurrentSeed(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.SeedResponse{Round: c.Round, ServerSeedHash: c.ServerSeedHash})
}

func (s *Server) revealSeed(w http.ResponseWriter, r *http.Request) {
	round, err := strconv.ParseInt(chi.URLParam(r, "round"), 10, 64)
	if err != nil || round <= 0 {
		badRequest(w, "round", "must be a positive integer")
		return
	}
	rd, err := s.svc.RevealSeed(r.Context(), round)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.SeedResponse{
		Round:          rd.Number,
		ServerSeedHash: rd.ServerSeedHash,
		ServerSeed:     rd.ServerSeed,
		BetID:          rd.BetID,
		RetiredAt:      rd.RetiredAt,
	})
}

func (s *Server) verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	nonce, err := strconv.ParseUint(q.Get("nonce"), 10, 64)
	if err != nil {
		badRequest(w, "nonce", "must be a non-negative integer")
		return
	}
	v, err := dice.Verify(q.Get("serverSeed"), q.Get("clientSeed"), nonce, q.Get("serverSeedHash"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := dto.VerifyResponse{Result: v.Outcome, ServerSeedHash: v.Hash}
	if q.Get("serverSeedHash") != "" {
		resp.HashMatch = &v.HashMatch
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) leaderboard(w http.ResponseWriter, r *http.Request) {
	var out []dto.LeaderboardEntry
	if s.board != nil {
		if ok, err := s.board.Get(r.Context(), leaderboardKey, &out); ok && err == nil {
			writeJSON(w, http.StatusOK, out)
			return
		}
	}

	entries, err := s.svc.Leaderboard(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out = make([]dto.LeaderboardEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, dto.LeaderboardEntry{
			Wallet:  e.WalletID,
			Bets:    e.Bets,
			Wins:    e.Wins,
			Wagered: s.format(e.Wagered),
			Profit:  s.format(e.Profit),
		})
	}

	if s.board != nil {
		_ = s.board.Set(r.Context(), leaderboardKey, out, s.boardTTL)
	}
	writeJSON(w, http.StatusOK, out)
}
