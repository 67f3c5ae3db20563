// Package installments splits card purchases into monthly installments
// and records them on the card ledger.
package installments

import (
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/card-ledger-reconciler/internal/billing"
	"github.com/sheikh-saqib/card-ledger-reconciler/internal/models"
)

// MaxInstallments bounds the size of a single plan.
const MaxInstallments = 120

// Installment is one slice of a purchase, anchored to its own date.
type Installment struct {
	Index  int             `json:"index"`
	Count  int             `json:"count"`
	Amount decimal.Decimal `json:"amount"`
	Date   civil.Date      `json:"date"`
	Cycle  billing.Cycle   `json:"-"`
}

// Ref is the installment position carried on the transaction row.
func (i Installment) Ref() models.InstallmentRef {
	return models.InstallmentRef{Index: i.Index, Count: i.Count}
}

// Label renders "i/N".
func (i Installment) Label() string {
	return i.Ref().Label()
}

func validate(total decimal.Decimal, count int, purchase civil.Date) error {
	if count < 2 {
		return fmt.Errorf("%w: installment count must be at least 2, got %d", models.ErrValidation, count)
	}
	if count > MaxInstallments {
		return fmt.Errorf("%w: installment count must be at most %d, got %d", models.ErrValidation, MaxInstallments, count)
	}
	if !total.IsPositive() {
		return fmt.Errorf("%w: total must be positive, got %s", models.ErrValidation, total)
	}
	if !purchase.IsValid() {
		return fmt.Errorf("%w: invalid purchase date %s", models.ErrValidation, purchase)
	}
	return nil
}

// Split divides total into count installments. Every installment but the
// first gets total/count truncated to cents; the first absorbs the
// remainder so the amounts always add back to total exactly. Installment
// i is dated i-1 months after the purchase, clamped to month end, and is
// assigned the cycle of its own date.
func Split(total decimal.Decimal, count int, purchase civil.Date, closingDay int) ([]Installment, error) {
	if err := validate(total, count, purchase); err != nil {
		return nil, err
	}
	if closingDay < 1 || closingDay > 31 {
		return nil, fmt.Errorf("%w: closing day %d outside 1..31", models.ErrValidation, closingDay)
	}

	n := decimal.NewFromInt(int64(count))
	regular := total.Div(n).RoundFloor(2)
	first := total.Sub(regular.Mul(n.Sub(decimal.NewFromInt(1))))

	out := make([]Installment, count)
	for i := range out {
		amount := regular
		if i == 0 {
			amount = first
		}
		anchored := billing.AddMonths(purchase, i)
		out[i] = Installment{
			Index:  i + 1,
			Count:  count,
			Amount: amount,
			Date:   anchored,
			Cycle:  billing.AssignCycle(anchored, closingDay),
		}
	}
	return out, nil
}

// PlannedInstallment is an installment together with the bill it lands on.
type PlannedInstallment struct {
	Installment
	Bill billing.Bill `json:"-"`
}

// Plan splits a purchase and resolves each installment's bill on the
// given card schedule.
func Plan(total decimal.Decimal, count int, purchase civil.Date, schedule billing.Schedule) ([]PlannedInstallment, error) {
	if err := schedule.Validate(); err != nil {
		return nil, err
	}
	parts, err := Split(total, count, purchase, schedule.ClosingDay)
	if err != nil {
		return nil, err
	}
	out := make([]PlannedInstallment, len(parts))
	for i, p := range parts {
		out[i] = PlannedInstallment{Installment: p, Bill: schedule.BillOf(p.Cycle)}
	}
	return out, nil
}
