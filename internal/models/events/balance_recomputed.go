package events

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

const (
	TopicBalanceRecomputed    = "balance_recomputed"
	TopicInstallmentsRecorded = "installment_purchase_recorded"
)

type BalanceRecomputed struct {
	EventID           string          `json:"event_id"`
	AccountID         string          `json:"account_id"`
	Balance           decimal.Decimal `json:"balance"`
	ReconciledThrough civil.Date      `json:"reconciled_through"`
	OccurredAt        time.Time       `json:"occurred_at"`
}

type InstallmentPurchaseRecorded struct {
	EventID        string          `json:"event_id"`
	CreditCardID   string          `json:"credit_card_id"`
	Total          decimal.Decimal `json:"total"`
	Count          int             `json:"count"`
	TransactionIDs []string        `json:"transaction_ids"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

func (e BalanceRecomputed) PartitionKey() string { return e.AccountID }

func (e InstallmentPurchaseRecorded) PartitionKey() string { return e.CreditCardID }
