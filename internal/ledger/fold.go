package ledger

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/card-ledger-reconciler/internal/models"
)

type foldStats struct {
	Included   int
	CardLinked int
	Future     int
	Void       int
	Malformed  int
}

// fold accumulates a cash balance. Records dated after today, records
// belonging to a card, and failed or cancelled records contribute
// nothing. Malformed records are skipped with a warning.
type fold struct {
	today   civil.Date
	loc     *time.Location
	log     zerolog.Logger
	balance decimal.Decimal
	stats   foldStats
}

func newFold(today civil.Date, loc *time.Location, log zerolog.Logger) *fold {
	return &fold{today: today, loc: loc, log: log, balance: decimal.Zero}
}

func (f *fold) transactions(txs []models.Transaction) {
	for _, tx := range txs {
		if tx.Date.After(f.today) {
			f.stats.Future++
			continue
		}
		if err := tx.Validate(); err != nil {
			f.malformed(tx.ID, err)
			continue
		}
		cardID, err := tx.CardID()
		if err != nil {
			f.malformed(tx.ID, err)
			continue
		}
		if cardID != "" {
			f.stats.CardLinked++
			continue
		}
		if tx.Status.Void() {
			f.stats.Void++
			continue
		}
		if delta, ok := cashEffect(tx); ok {
			f.balance = f.balance.Add(delta)
			f.stats.Included++
		}
	}
}

// cashEffect is the signed contribution of a transaction to its
// account's cash balance. Transfer-typed transactions are mirrors of
// transfer log entries, which are folded separately.
func cashEffect(tx models.Transaction) (decimal.Decimal, bool) {
	switch tx.Type {
	case models.TypeIncome, models.TypeSalary:
		return tx.Amount, true
	case models.TypeExpense:
		return tx.Amount.Neg(), true
	case models.TypeTransfer:
		return decimal.Zero, false
	}
	return decimal.Zero, false
}

func (f *fold) transfers(ts []models.Transfer, dir models.Direction) {
	for _, t := range ts {
		if t.Status != models.StatusCompleted {
			f.stats.Void++
			continue
		}
		if civil.DateOf(t.CreatedAt.In(f.loc)).After(f.today) {
			f.stats.Future++
			continue
		}
		if t.Amount.IsNegative() {
			f.log.Warn().Str("transfer_id", t.ID).Str("amount", t.Amount.String()).Msg("skipping transfer with negative amount")
			f.stats.Malformed++
			continue
		}
		switch dir {
		case models.DirectionOut:
			f.balance = f.balance.Sub(t.Amount)
		case models.DirectionIn:
			f.balance = f.balance.Add(t.Amount)
		}
		f.stats.Included++
	}
}

func (f *fold) malformed(id string, err error) {
	f.log.Warn().Err(err).Str("transaction_id", id).Msg("skipping malformed transaction")
	f.stats.Malformed++
}
