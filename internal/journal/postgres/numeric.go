package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

type numericValue = pgtype.Numeric

func toNumeric(d decimal.Decimal) (pgtype.Numeric, error) {
	var n pgtype.Numeric
	if err := n.Scan(d.String()); err != nil {
		return n, err
	}
	return n, nil
}

func fromNumeric(n pgtype.Numeric) (decimal.Decimal, error) {
	if !n.Valid {
		return decimal.Zero, nil
	}
	value, err := n.Value()
	if err != nil {
		return decimal.Zero, err
	}
	text, ok := value.(string)
	if !ok {
		return decimal.Zero, fmt.Errorf("unexpected numeric driver value %T", value)
	}
	return decimal.NewFromString(text)
}
