package events

// Evento emitido quando uma aposta chega a um estado terminal.
// Carrega todo o material necessário para auditoria independente (seed revelada, nonce, hash).
type BetResolved struct {
	BetID          string `json:"bet_id"`
	WalletID       string `json:"wallet_id"`
	State          string `json:"state"` // "RESOLVED" | "FAILED"
	AmountUnits    int64  `json:"amount_units"`
	Target         int    `json:"target"`
	Direction      string `json:"direction"`
	ClientSeed     string `json:"client_seed"`
	Nonce          uint64 `json:"nonce"`
	Round          int64  `json:"round"`
	ServerSeedHash string `json:"server_seed_hash"`
	ServerSeed     string `json:"server_seed,omitempty"`
	Outcome        *int   `json:"outcome,omitempty"`
	Won            *bool  `json:"won,omitempty"`
	ProfitUnits    *int64 `json:"profit_units,omitempty"`
	CappedProfit   int64  `json:"capped_profit_units"`
	HouseEdgeBps   int64  `json:"house_edge_bps,omitempty"` // regras com que a aposta foi cotada
	MaxProfit      int64  `json:"max_profit_units,omitempty"`
	Reason         string `json:"reason,omitempty"`
	TsUnixMs       int64  `json:"ts_unix_ms"`
}
