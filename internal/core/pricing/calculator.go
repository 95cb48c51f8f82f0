package pricing

import (
	"fmt"
	"math"

	"github.com/rl1809/travel-booking/internal/core/domain"
)

const basisPointsPerUnit = 10000

// Policy holds the flat percentages applied to the pre-tax subtotal,
// expressed in basis points (800 = 8%).
type Policy struct {
	TaxBasisPoints        int64
	ServiceFeeBasisPoints int64
}

// PolicyFromPercent converts percentages such as 8 or 5.5 into a Policy.
func PolicyFromPercent(tax, serviceFee float64) (Policy, error) {
	if tax < 0 || serviceFee < 0 {
		return Policy{}, fmt.Errorf("negative percentage: tax=%v fee=%v", tax, serviceFee)
	}
	return Policy{
		TaxBasisPoints:        int64(math.Round(tax * 100)),
		ServiceFeeBasisPoints: int64(math.Round(serviceFee * 100)),
	}, nil
}

type Line struct {
	Category      string
	UnitPrice     int64
	DiscountPrice int64
	Quantity      int
}

type AddOnLine struct {
	Code     string
	Price    int64
	Quantity int
}

type Input struct {
	Lines  []Line
	AddOns []AddOnLine
	Nights int
}

type Calculator struct {
	policy Policy
}

func NewCalculator(policy Policy) *Calculator {
	return &Calculator{policy: policy}
}

// Calculate has no side effects: identical inputs always produce identical breakdowns.
func (c *Calculator) Calculate(in Input) (domain.PriceBreakdown, error) {
	if len(in.Lines) == 0 {
		return domain.PriceBreakdown{}, fmt.Errorf("%w: nothing to price", domain.ErrValidation)
	}

	multiplier := int64(1)
	if in.Nights > 1 {
		multiplier = int64(in.Nights)
	}

	var out domain.PriceBreakdown
	out.Nights = in.Nights

	for _, l := range in.Lines {
		if l.Quantity <= 0 || l.UnitPrice < 0 {
			return domain.PriceBreakdown{}, fmt.Errorf("%w: invalid line %q", domain.ErrValidation, l.Category)
		}
		price := EffectivePrice(l.UnitPrice, l.DiscountPrice)
		amount := price * int64(l.Quantity) * multiplier
		out.Lines = append(out.Lines, domain.LineCharge{
			Category:  l.Category,
			UnitPrice: price,
			Quantity:  l.Quantity,
			Amount:    amount,
		})
		out.Subtotal += amount
	}

	for _, a := range in.AddOns {
		if a.Price < 0 {
			return domain.PriceBreakdown{}, fmt.Errorf("%w: negative add-on price %q", domain.ErrValidation, a.Code)
		}
		qty := a.Quantity
		if qty < 1 {
			qty = 1
		}
		amount := a.Price * int64(qty)
		out.AddOns = append(out.AddOns, domain.AddOnCharge{
			Code:     a.Code,
			Price:    a.Price,
			Quantity: qty,
			Amount:   amount,
		})
		out.Subtotal += amount
	}

	// Each component is rounded on its own before summing.
	out.Tax = percentOf(out.Subtotal, c.policy.TaxBasisPoints)
	out.ServiceFee = percentOf(out.Subtotal, c.policy.ServiceFeeBasisPoints)
	out.Total = out.Subtotal + out.Tax + out.ServiceFee

	return out, nil
}

// EffectivePrice returns the discount price when it is a real discount.
func EffectivePrice(unit, discount int64) int64 {
	if discount > 0 && discount < unit {
		return discount
	}
	return unit
}

// percentOf rounds half up to the nearest whole unit.
func percentOf(amount, bp int64) int64 {
	return (amount*bp + basisPointsPerUnit/2) / basisPointsPerUnit
}
