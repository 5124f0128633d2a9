package money

import (
	"fmt"
	"math"
)

// Cents is an amount in minor units. All ledger math happens on this type;
// decimal strings appear only at the HTTP boundary.
type Cents int64

func (c Cents) Decimal() string {
	sign := ""
	v := int64(c)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// DefaultFeePercent is used whenever configuration is missing or out of range.
const DefaultFeePercent = 5.0

// Calculator splits an amount into platform fee and producer share.
type Calculator struct {
	feePercent float64
}

// NewCalculator validates feePercent to [0,100] and falls back to the
// default instead of failing.
func NewCalculator(feePercent float64) Calculator {
	if feePercent < 0 || feePercent > 100 || math.IsNaN(feePercent) {
		feePercent = DefaultFeePercent
	}
	return Calculator{feePercent: feePercent}
}

func (c Calculator) FeePercent() float64 { return c.feePercent }

// Fee rounds half away from zero to the nearest cent. math.Round implements
// exactly that tie-break.
func (c Calculator) Fee(amount Cents) Cents {
	return Cents(math.Round(float64(amount) * c.feePercent / 100))
}

// ProducerShare is the remainder after the platform fee is withheld.
// The buyer-facing order total is never increased by the fee.
func (c Calculator) ProducerShare(amount Cents) Cents {
	return amount - c.Fee(amount)
}
