package ledger

// =============================================================================
// BALANCE - A pure fold over the transaction set
// =============================================================================

// Balance summarizes a customer's ledger.
type Balance struct {
	// Available is the spendable balance: the sum of every counted entry,
	// clamped at zero.
	Available int64 `json:"available"`

	Earned    int64 `json:"earned"`
	Spent     int64 `json:"spent"`
	Refunded  int64 `json:"refunded"`
	Cancelled int64 `json:"cancelled"`
	Voided    int64 `json:"voided"` // signed sum of VOID reversals

	// Pending is awaiting approval and not spendable.
	Pending int64 `json:"pending"`
	Entries int   `json:"entries"`
}

// Fold computes the balance of a transaction set. The result does not
// depend on the order of txs.
func Fold(txs []Transaction) Balance {
	var b Balance
	var sum int64
	for _, tx := range txs {
		b.Entries++
		if tx.Status == StatusPending {
			b.Pending += tx.Points
			continue
		}
		if !tx.Status.Counts() {
			continue
		}
		sum += tx.Points

		if tx.Status == StatusVoid {
			b.Voided += tx.Points
			continue
		}
		switch tx.Type {
		case TxEarned:
			b.Earned += tx.Points
		case TxSpent:
			b.Spent -= tx.Points
		case TxRefund:
			b.Refunded -= tx.Points
		case TxRedeemCancel:
			b.Cancelled += tx.Points
		}
	}
	if sum < 0 {
		sum = 0
	}
	b.Available = sum
	return b
}
