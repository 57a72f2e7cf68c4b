package events

// Evento emitido pelo dice-service quando uma aposta é criada (saldo já reservado).
type BetPlaced struct {
	BetID          string `json:"bet_id"`
	WalletID       string `json:"wallet_id"`
	AmountUnits    int64  `json:"amount_units"`
	Target         int    `json:"target"`
	Direction      string `json:"direction"` // "over" | "under"
	ClientSeed     string `json:"client_seed"`
	Nonce          uint64 `json:"nonce"`
	Round          int64  `json:"round"`
	ServerSeedHash string `json:"server_seed_hash"`
	Multiplier     string `json:"multiplier"`
	CappedProfit   int64  `json:"capped_profit_units"`
	ReservedRef    string `json:"reserved_ref"` // referência usada na reserva da carteira (betID)
	TsUnixMs       int64  `json:"ts_unix_ms"`
}
