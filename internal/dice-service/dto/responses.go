package dto

import (
	"time"

	"github.com/radieske/fairdice-platform/internal/feed"
)

type ConfigResponse struct {
	Enabled      bool   `json:"enabled"`
	MinBet       string `json:"minBet"`
	MaxBet       string `json:"maxBet"`
	HouseEdgeBps int64  `json:"houseEdgeBps"`
	MaxProfit    string `json:"maxProfit"`
	Range        int    `json:"range"`
}

type BalanceResponse struct {
	Wallet     string `json:"wallet"`
	Balance    string `json:"balance"`
	Registered bool   `json:"registered"`
}

type PlaceBetResponse struct {
	BetID          string `json:"betId"`
	NewBalance     string `json:"newBalance"`
	Round          int64  `json:"round"`
	ServerSeedHash string `json:"serverSeedHash"`
	Nonce          uint64 `json:"nonce"`
	Multiplier     string `json:"multiplier"`
	WinProbability string `json:"winProbability"`
	PotentialWin   string `json:"potentialProfit"`
}

type RollResponse struct {
	BetID          string `json:"betId"`
	Result         int    `json:"result"`
	Won            bool   `json:"won"`
	Profit         string `json:"profit"`
	NewBalance     string `json:"newBalance"`
	ClientSeed     string `json:"clientSeed"`
	ServerSeed     string `json:"serverSeed"`
	ServerSeedHash string `json:"serverSeedHash"`
	Nonce          uint64 `json:"nonce"`
	TxSignature    string `json:"txSignature,omitempty"`
}

type BetResponse struct {
	BetID          string     `json:"betId"`
	Wallet         string     `json:"wallet"`
	Amount         string     `json:"amount"`
	Target         int        `json:"target"`
	Direction      string     `json:"direction"`
	ClientSeed     string     `json:"clientSeed"`
	Nonce          uint64     `json:"nonce"`
	Round          int64      `json:"round"`
	ServerSeedHash string     `json:"serverSeedHash"`
	Multiplier     string     `json:"multiplier"`
	State          string     `json:"state"`
	Result         *int       `json:"result,omitempty"`
	Won            *bool      `json:"won,omitempty"`
	Profit         string     `json:"profit,omitempty"`
	ServerSeed     string     `json:"serverSeed,omitempty"`
	FailureReason  string     `json:"failureReason,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	ResolvedAt     *time.Time `json:"resolvedAt,omitempty"`
}

type LeaderboardEntry struct {
	Wallet  string `json:"wallet"`
	Bets    int64  `json:"bets"`
	Wins    int64  `json:"wins"`
	Wagered string `json:"wagered"`
	Profit  string `json:"profit"`
}

type SeedResponse struct {
	Round          int64      `json:"round"`
	ServerSeedHash string     `json:"serverSeedHash"`
	ServerSeed     string     `json:"serverSeed,omitempty"`
	BetID          string     `json:"betId,omitempty"`
	RetiredAt      *time.Time `json:"retiredAt,omitempty"`
}

type VerifyResponse struct {
	Result         int    `json:"result"`
	ServerSeedHash string `json:"serverSeedHash"`
	HashMatch      *bool  `json:"hashMatch,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// LiveHistory é o primeiro frame do /live.
type LiveHistory struct {
	Type string       `json:"type"`
	Bets []feed.Event `json:"bets"`
}
