package installments

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/card-ledger-reconciler/internal/billing"
	"github.com/sheikh-saqib/card-ledger-reconciler/internal/clock"
	"github.com/sheikh-saqib/card-ledger-reconciler/internal/interfaces"
	"github.com/sheikh-saqib/card-ledger-reconciler/internal/models"
	"github.com/sheikh-saqib/card-ledger-reconciler/internal/models/events"
)

// Purchase is a multi-installment card purchase as entered by the user.
type Purchase struct {
	UserID      string
	Description string
	Total       decimal.Decimal
	Count       int
	Date        civil.Date
}

// UsageRecomputer refreshes a card's used limit after its ledger changes.
type UsageRecomputer interface {
	RecomputeCardUsage(ctx context.Context, cardID string) (decimal.Decimal, error)
}

// Planner records installment purchases on a card's ledger.
type Planner struct {
	cards     interfaces.CardStore
	writer    interfaces.TransactionWriter
	usage     UsageRecomputer
	publisher interfaces.EventPublisher
	clock     clock.Clock
	log       zerolog.Logger
}

func NewPlanner(cards interfaces.CardStore, writer interfaces.TransactionWriter, usage UsageRecomputer, publisher interfaces.EventPublisher, clk clock.Clock, log zerolog.Logger) *Planner {
	return &Planner{
		cards:     cards,
		writer:    writer,
		usage:     usage,
		publisher: publisher,
		clock:     clk,
		log:       log.With().Str("component", "installments").Logger(),
	}
}

// Record splits the purchase and writes one card-linked expense per
// installment in a single batch. The card's used limit is then
// recomputed; a failure there is logged since the purchase is already
// stored and the next recompute will catch up.
func (p *Planner) Record(ctx context.Context, cardID string, purchase Purchase) ([]models.Transaction, error) {
	card, err := p.cards.GetCard(ctx, cardID)
	if err != nil {
		return nil, fmt.Errorf("record purchase: loading card %s: %w", cardID, err)
	}
	if purchase.UserID == "" {
		purchase.UserID = card.OwnerID
	}

	txs, err := BuildTransactions(card, purchase)
	if err != nil {
		return nil, fmt.Errorf("record purchase: %w", err)
	}
	if err := p.writer.InsertTransactions(ctx, txs); err != nil {
		return nil, fmt.Errorf("record purchase: inserting %d installments: %w", len(txs), err)
	}

	log := p.log.With().Str("credit_card_id", cardID).Int("count", purchase.Count).Logger()
	log.Info().Str("total", purchase.Total.StringFixed(2)).Msg("installment purchase recorded")

	if p.usage != nil {
		if _, err := p.usage.RecomputeCardUsage(ctx, cardID); err != nil {
			log.Warn().Err(err).Msg("card usage recompute failed after purchase")
		}
	}
	p.publish(ctx, log, card, purchase, txs)
	return txs, nil
}

func (p *Planner) publish(ctx context.Context, log zerolog.Logger, card models.CreditCard, purchase Purchase, txs []models.Transaction) {
	if p.publisher == nil {
		return
	}
	ids := make([]string, len(txs))
	for i, tx := range txs {
		ids[i] = tx.ID
	}
	ev := events.InstallmentPurchaseRecorded{
		EventID:        uuid.NewString(),
		CreditCardID:   card.ID,
		Total:          purchase.Total,
		Count:          purchase.Count,
		TransactionIDs: ids,
		OccurredAt:     p.clock.Now().UTC().Truncate(time.Millisecond),
	}
	if err := p.publisher.Publish(ctx, events.TopicInstallmentsRecorded, ev); err != nil {
		log.Warn().Err(err).Msg("publishing installment event failed")
	}
}

// BuildTransactions turns a purchase into its installment transactions,
// one per installment, each dated on its anchored day and tagged with the
// bill it lands on.
func BuildTransactions(card models.CreditCard, purchase Purchase) ([]models.Transaction, error) {
	plan, err := Plan(purchase.Total, purchase.Count, purchase.Date, billing.ScheduleOf(card))
	if err != nil {
		return nil, err
	}

	desc := strings.TrimSpace(purchase.Description)
	out := make([]models.Transaction, len(plan))
	for i, inst := range plan {
		ref := inst.Ref()
		bill := inst.Bill.Ref()
		meta, err := json.Marshal(models.Metadata{InstallmentLabel: inst.Label(), Bill: &bill})
		if err != nil {
			return nil, fmt.Errorf("encoding installment metadata: %w", err)
		}
		out[i] = models.Transaction{
			ID:           uuid.NewString(),
			UserID:       purchase.UserID,
			AccountID:    card.AccountID,
			CreditCardID: card.ID,
			Amount:       inst.Amount,
			Type:         models.TypeExpense,
			Date:         inst.Date,
			Status:       models.StatusCompleted,
			Description:  strings.TrimSpace(fmt.Sprintf("%s (%s)", desc, inst.Label())),
			Installment:  &ref,
			Metadata:     meta,
		}
	}
	return out, nil
}
