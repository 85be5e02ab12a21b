package domain

// MaxAmount bounds a single amount in minor units. Thousands of amounts at
// this ceiling still sum inside int64.
const MaxAmount int64 = 1_000_000_000_000_000

// Totals are the four running amounts tracked per obligation.
type Totals struct {
	Paid              int64 `json:"paid"`
	Discount          int64 `json:"discount"`
	Fine              int64 `json:"fine"`
	SupplementaryPaid int64 `json:"supplementary_paid"`
}

// Settled is what the family has covered: payments, discounts and supplementary payments.
func (t Totals) Settled() int64 {
	return t.Paid + t.Discount + t.SupplementaryPaid
}

func (t Totals) IsZero() bool {
	return t == Totals{}
}

func (t Totals) Add(other Totals) Totals {
	return Totals{
		Paid:              t.Paid + other.Paid,
		Discount:          t.Discount + other.Discount,
		Fine:              t.Fine + other.Fine,
		SupplementaryPaid: t.SupplementaryPaid + other.SupplementaryPaid,
	}
}

func (t Totals) Negate() Totals {
	return Totals{
		Paid:              -t.Paid,
		Discount:          -t.Discount,
		Fine:              -t.Fine,
		SupplementaryPaid: -t.SupplementaryPaid,
	}
}

// Fold replays records in order and returns the totals they produce.
func Fold(records []TransactionRecord) Totals {
	var totals Totals
	for _, record := range records {
		totals = totals.Add(record.Delta())
	}
	return totals
}

// FoldSinceReset sums collection records written after the last cancellation.
func FoldSinceReset(records []TransactionRecord) Totals {
	var totals Totals
	for _, record := range records {
		if record.PaymentChannel == ChannelCancelled {
			totals = Totals{}
			continue
		}
		totals = totals.Add(record.Delta())
	}
	return totals
}

// Reconciliation compares stored cumulative fields with the replayed log.
type Reconciliation struct {
	ObligationID string `json:"obligation_id"`
	Stored       Totals `json:"stored"`
	Folded       Totals `json:"folded"`
	RecordCount  int    `json:"record_count"`
	Consistent   bool   `json:"consistent"`
}

func Reconcile(obligation Obligation, records []TransactionRecord) Reconciliation {
	stored := obligation.Totals()
	folded := Fold(records)
	return Reconciliation{
		ObligationID: obligation.ID.String(),
		Stored:       stored,
		Folded:       folded,
		RecordCount:  len(records),
		Consistent:   stored == folded && stored == FoldSinceReset(records),
	}
}
