package postgres

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"github.com/sheikh-saqib/card-ledger-reconciler/internal/models"
)

// Listings are keyset-paginated. A cursor is the sort key of the last
// row handed out, opaque to callers.

func encodeCursor(key, id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key + "|" + id))
}

func decodeCursor(cursor string) (key, id string, err error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return "", "", fmt.Errorf("%w: bad cursor", models.ErrValidation)
	}
	key, id, ok := strings.Cut(string(raw), "|")
	if !ok || key == "" {
		return "", "", fmt.Errorf("%w: bad cursor", models.ErrValidation)
	}
	return key, id, nil
}

func transactionCursor(tx models.Transaction) string {
	return encodeCursor(tx.Date.String(), tx.ID)
}

func decodeTransactionCursor(cursor string) (civil.Date, string, error) {
	key, id, err := decodeCursor(cursor)
	if err != nil {
		return civil.Date{}, "", err
	}
	d, err := civil.ParseDate(key)
	if err != nil {
		return civil.Date{}, "", fmt.Errorf("%w: bad cursor date", models.ErrValidation)
	}
	return d, id, nil
}

func transferCursor(t models.Transfer) string {
	return encodeCursor(t.CreatedAt.UTC().Format(time.RFC3339Nano), t.ID)
}

func decodeTransferCursor(cursor string) (time.Time, string, error) {
	key, id, err := decodeCursor(cursor)
	if err != nil {
		return time.Time{}, "", err
	}
	at, err := time.Parse(time.RFC3339Nano, key)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: bad cursor time", models.ErrValidation)
	}
	return at, id, nil
}

// where accumulates AND-ed conditions with numbered placeholders.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, args ...any) {
	for _, a := range args {
		cond = strings.Replace(cond, "?", w.arg(a), 1)
	}
	w.conds = append(w.conds, cond)
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// arg appends a trailing argument, such as a LIMIT, and returns its
// placeholder.
func (w *where) arg(v any) string {
	w.args = append(w.args, v)
	return fmt.Sprintf("$%d", len(w.args))
}
