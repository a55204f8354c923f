package main

import (
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/boutique-orders/internal/domain/discount"
)

// Column order of an import file. The header row is skipped.
const (
	colCode = iota
	colType
	colValue
	colMinAmount
	colMaxUses
	colStartsAt
	colExpiresAt
	numColumns
)

// parseRow converts one CSV record into a discount. Empty optional columns
// leave the field unset.
func parseRow(rec []string) (discount.Discount, error) {
	if len(rec) != numColumns {
		return discount.Discount{}, errors.Errorf("want %d columns, got %d", numColumns, len(rec))
	}
	for i := range rec {
		rec[i] = strings.TrimSpace(rec[i])
	}

	code := discount.NormalizeCode(rec[colCode])
	if code == "" {
		return discount.Discount{}, errors.New("empty code")
	}
	t := discount.Type(strings.ToUpper(rec[colType]))
	if !t.Valid() {
		return discount.Discount{}, errors.Errorf("unknown type %q", rec[colType])
	}
	value, err := decimal.NewFromString(rec[colValue])
	if err != nil {
		return discount.Discount{}, errors.Wrap(err, "value")
	}
	if value.IsNegative() {
		return discount.Discount{}, errors.New("negative value")
	}

	d := discount.Discount{
		ID:       "disc-" + code,
		Code:     code,
		Type:     t,
		Value:    value.Round(2),
		IsActive: true,
	}
	if s := rec[colMinAmount]; s != "" {
		v, err := decimal.NewFromString(s)
		if err != nil {
			return discount.Discount{}, errors.Wrap(err, "min amount")
		}
		d.MinAmount = decimal.NewNullDecimal(v.Round(2))
	}
	if s := rec[colMaxUses]; s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return discount.Discount{}, errors.Errorf("invalid max uses %q", s)
		}
		d.MaxUses = &n
	}
	if d.StartsAt, err = parseTime(rec[colStartsAt]); err != nil {
		return discount.Discount{}, errors.Wrap(err, "starts at")
	}
	if d.ExpiresAt, err = parseTime(rec[colExpiresAt]); err != nil {
		return discount.Discount{}, errors.Wrap(err, "expires at")
	}
	if d.StartsAt != nil && d.ExpiresAt != nil && d.ExpiresAt.Before(*d.StartsAt) {
		return discount.Discount{}, errors.New("expires before it starts")
	}
	return d, nil
}

func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
