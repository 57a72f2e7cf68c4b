package topics

const (
	// Apostas
	BetPlaced   = "dice_bet_placed"
	BetResolved = "dice_bet_resolved"

	// DLQs
	BetResolvedDLQ = "dice_bet_resolved_dlq"
)
