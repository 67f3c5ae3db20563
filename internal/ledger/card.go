package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/card-ledger-reconciler/internal/interfaces"
	"github.com/sheikh-saqib/card-ledger-reconciler/internal/models"
)

// RecomputeCardUsage rebuilds a card's used limit from its ledger.
// Future-dated installments count because they already hold limit.
func (r *Reconciler) RecomputeCardUsage(ctx context.Context, cardID string) (decimal.Decimal, error) {
	return r.cards.Do(ctx, cardID)
}

func (r *Reconciler) recomputeCardUsage(ctx context.Context, cardID string) (decimal.Decimal, error) {
	log := r.log.With().Str("credit_card_id", cardID).Logger()

	err := r.fetch.Do(ctx, "get card", func(ctx context.Context) error {
		_, err := r.stores.Cards.GetCard(ctx, cardID)
		return err
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("recompute card usage %s: %w", cardID, err)
	}

	txs, err := r.fetch.Transactions(ctx, r.stores.Transactions, interfaces.TransactionFilter{CreditCardID: cardID})
	if err != nil {
		return decimal.Zero, fmt.Errorf("recompute card usage %s: %w", cardID, err)
	}

	used := decimal.Zero
	for _, tx := range txs {
		if err := tx.Validate(); err != nil {
			log.Warn().Err(err).Str("transaction_id", tx.ID).Msg("skipping malformed card transaction")
			continue
		}
		if tx.Status.Void() {
			continue
		}
		switch tx.Type {
		case models.TypeExpense:
			used = used.Add(tx.Amount)
		case models.TypeIncome, models.TypeSalary:
			used = used.Sub(tx.Amount)
		case models.TypeTransfer:
		}
	}
	if used.IsNegative() {
		used = decimal.Zero
	}

	err = r.fetch.Do(ctx, "update used limit", func(ctx context.Context) error {
		return r.stores.Cards.UpdateUsedLimit(ctx, cardID, used)
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("recompute card usage %s: %w", cardID, err)
	}
	log.Info().Str("used_limit", used.StringFixed(2)).Int("transactions", len(txs)).Msg("card usage recomputed")
	return used, nil
}
