package models

import "fmt"

// TransactionType is the closed set of ledger transaction kinds.
type TransactionType uint8

const (
	TypeIncome TransactionType = iota + 1
	TypeExpense
	TypeSalary
	TypeTransfer
)

var transactionTypeNames = map[TransactionType]string{
	TypeIncome:   "income",
	TypeExpense:  "expense",
	TypeSalary:   "salary",
	TypeTransfer: "transfer",
}

func (t TransactionType) String() string {
	if name, ok := transactionTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TransactionType(%d)", uint8(t))
}

// ParseTransactionType maps the stored string form back to a TransactionType.
func ParseTransactionType(s string) (TransactionType, error) {
	for t, name := range transactionTypeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown transaction type %q", ErrMalformedData, s)
}

func (t TransactionType) MarshalText() ([]byte, error) {
	if _, ok := transactionTypeNames[t]; !ok {
		return nil, fmt.Errorf("%w: unknown transaction type %d", ErrMalformedData, uint8(t))
	}
	return []byte(t.String()), nil
}

func (t *TransactionType) UnmarshalText(b []byte) error {
	parsed, err := ParseTransactionType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Status is the lifecycle state of a transaction or transfer.
type Status uint8

const (
	StatusPending Status = iota + 1
	StatusCompleted
	StatusFailed
	StatusCancelled
)

var statusNames = map[Status]string{
	StatusPending:   "pending",
	StatusCompleted: "completed",
	StatusFailed:    "failed",
	StatusCancelled: "cancelled",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// ParseStatus maps the stored string form back to a Status.
func ParseStatus(s string) (Status, error) {
	for st, name := range statusNames {
		if name == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown status %q", ErrMalformedData, s)
}

// Void reports whether records in this state never touch a balance.
func (s Status) Void() bool {
	return s == StatusFailed || s == StatusCancelled
}

func (s Status) MarshalText() ([]byte, error) {
	if _, ok := statusNames[s]; !ok {
		return nil, fmt.Errorf("%w: unknown status %d", ErrMalformedData, uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
