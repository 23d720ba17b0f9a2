// Package money computes billing document totals with exact decimal
// arithmetic. All computations are pure; callers overwrite stored
// totals wholesale instead of patching them incrementally.
package money

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrNoLineItems      = errors.New("invalid_line_items")
	ErrEmptyDescription = errors.New("invalid_description")
	ErrInvalidQuantity  = errors.New("invalid_quantity")
	ErrInvalidUnitPrice = errors.New("invalid_unit_price")
	ErrInvalidTaxRate   = errors.New("invalid_tax_rate")
)

var oneHundred = decimal.NewFromInt(100)

// Line is one priced row of a billing document.
type Line struct {
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	// TaxRate is captured per line for display; totals apply the single
	// document-level rate.
	TaxRate decimal.Decimal
}

// Totals are the derived monetary values of a document.
type Totals struct {
	Subtotal  decimal.Decimal
	TaxAmount decimal.Decimal
	Total     decimal.Decimal
}

// LineTotal returns quantity * unit price without intermediate rounding.
func LineTotal(line Line) decimal.Decimal {
	return line.Quantity.Mul(line.UnitPrice)
}

// ValidateLine checks a single line against the document constraints.
func ValidateLine(line Line) error {
	if strings.TrimSpace(line.Description) == "" {
		return ErrEmptyDescription
	}
	if !line.Quantity.IsPositive() {
		return ErrInvalidQuantity
	}
	if line.UnitPrice.IsNegative() {
		return ErrInvalidUnitPrice
	}
	return validateRate(line.TaxRate)
}

// ValidateRate checks a document-level tax rate.
func ValidateRate(rate decimal.Decimal) error {
	return validateRate(rate)
}

func validateRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(oneHundred) {
		return ErrInvalidTaxRate
	}
	return nil
}

// ComputeTotals derives subtotal, tax and total from the line items and
// the document-level tax rate. The computation is deterministic: the
// same input always yields the same output.
func ComputeTotals(lines []Line, taxRate decimal.Decimal) (Totals, error) {
	if len(lines) == 0 {
		return Totals{}, ErrNoLineItems
	}
	if err := validateRate(taxRate); err != nil {
		return Totals{}, err
	}

	subtotal := decimal.Zero
	for _, line := range lines {
		if err := ValidateLine(line); err != nil {
			return Totals{}, err
		}
		subtotal = subtotal.Add(LineTotal(line))
	}

	tax := subtotal.Mul(taxRate).Div(oneHundred)
	return Totals{
		Subtotal:  subtotal,
		TaxAmount: tax,
		Total:     subtotal.Add(tax),
	}, nil
}
