package dto

import "github.com/shopspring/decimal"

// PlaceBetRequest: amount em unidades de exibição (ex.: "12.5").
type PlaceBetRequest struct {
	Wallet     string          `json:"wallet"`
	Amount     decimal.Decimal `json:"amount"`
	Target     int             `json:"target"`
	Direction  string          `json:"direction"`
	ClientSeed string          `json:"clientSeed"`
}

type RollRequest struct {
	BetID      string `json:"betId"`
	Wallet     string `json:"wallet"`
	ClientSeed string `json:"clientSeed"`
}

type RegisterRequest struct {
	Wallet string `json:"wallet"`
}

// DepositRequest credita um depósito já confirmado; txRef é a chave de idempotência.
type DepositRequest struct {
	Wallet string          `json:"wallet"`
	Amount decimal.Decimal `json:"amount"`
	TxRef  string          `json:"txRef"`
}
