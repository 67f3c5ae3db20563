package models

import (
	"encoding/json"
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Transaction is a single entry on either an account's cash ledger or a
// credit card's ledger, never both.
type Transaction struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	AccountID    string          `json:"account_id,omitempty"`
	CreditCardID string          `json:"credit_card_id,omitempty"`
	Amount       decimal.Decimal `json:"amount"` // magnitude, direction comes from Type
	Type         TransactionType `json:"type"`
	Date         civil.Date      `json:"date"`
	Status       Status          `json:"status"`
	Description  string          `json:"description,omitempty"`
	Installment  *InstallmentRef `json:"installment,omitempty"`
	Recurrence   *Recurrence     `json:"recurrence,omitempty"`

	// Metadata is the embedded JSON blob as persisted. Decode it with
	// DecodeMetadata; older rows carry the card reference only here.
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// InstallmentRef places a transaction inside an installment plan.
type InstallmentRef struct {
	Index int `json:"index"`
	Count int `json:"count"`
}

// Label renders the "i/N" form shown on statements.
func (r InstallmentRef) Label() string {
	return fmt.Sprintf("%d/%d", r.Index, r.Count)
}

// Recurrence describes a repeating transaction.
type Recurrence struct {
	Frequency string      `json:"frequency"` // monthly, weekly, yearly
	Until     *civil.Date `json:"until,omitempty"`
}

// Metadata is the typed form of a transaction's embedded metadata.
type Metadata struct {
	CreditCardID     string   `json:"creditCardId,omitempty"`
	InstallmentLabel string   `json:"installmentLabel,omitempty"`
	Bill             *BillRef `json:"bill,omitempty"`
}

// BillRef names the card bill a transaction was assigned to.
type BillRef struct {
	Month   int        `json:"month"`
	Year    int        `json:"year"`
	DueDate civil.Date `json:"dueDate"`
}

// DecodeMetadata parses the embedded metadata blob. An empty blob yields
// the zero Metadata.
func (t Transaction) DecodeMetadata() (Metadata, error) {
	var m Metadata
	if len(t.Metadata) == 0 || string(t.Metadata) == "null" {
		return m, nil
	}
	if err := json.Unmarshal(t.Metadata, &m); err != nil {
		return Metadata{}, fmt.Errorf("%w: transaction %s metadata: %v", ErrMalformedData, t.ID, err)
	}
	return m, nil
}

// CardID returns the credit card this transaction belongs to, looking at
// the dedicated column first and the embedded metadata second.
func (t Transaction) CardID() (string, error) {
	if t.CreditCardID != "" {
		return t.CreditCardID, nil
	}
	m, err := t.DecodeMetadata()
	if err != nil {
		return "", err
	}
	return m.CreditCardID, nil
}

// Validate checks the invariants a stored transaction must satisfy
// before it can be folded into any ledger.
func (t Transaction) Validate() error {
	if t.Amount.IsNegative() {
		return fmt.Errorf("%w: transaction %s has negative amount %s", ErrMalformedData, t.ID, t.Amount)
	}
	if _, ok := transactionTypeNames[t.Type]; !ok {
		return fmt.Errorf("%w: transaction %s has unknown type %d", ErrMalformedData, t.ID, uint8(t.Type))
	}
	if _, ok := statusNames[t.Status]; !ok {
		return fmt.Errorf("%w: transaction %s has unknown status %d", ErrMalformedData, t.ID, uint8(t.Status))
	}
	if !t.Date.IsValid() {
		return fmt.Errorf("%w: transaction %s has invalid date %s", ErrMalformedData, t.ID, t.Date)
	}
	return nil
}
