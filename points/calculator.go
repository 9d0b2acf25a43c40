package points

import (
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Result describes how a purchase was scored.
type Result struct {
	Points int64 `json:"points"`

	// Amount is the purchase amount after the rounding rule was applied.
	Amount decimal.Decimal `json:"amount"`

	// TierIndex is the index of the tier used, -1 for the base rate.
	TierIndex  int             `json:"tierIndex"`
	Rate       decimal.Decimal `json:"rate"`
	Multiplier decimal.Decimal `json:"multiplier"`

	MatchedRules []string `json:"matchedRules"`
	BelowMinimum bool     `json:"belowMinimum,omitempty"`
	Capped       bool     `json:"capped,omitempty"`
}

// Calculate returns the points earned for a purchase of amount made at the
// given instant. It assumes cfg was validated on write and never fails;
// the result is never negative.
func Calculate(cfg Config, amount decimal.Decimal, at time.Time) Result {
	res := Result{
		Amount:       amount,
		TierIndex:    -1,
		Rate:         cfg.BasePointsPerUnit,
		Multiplier:   decimal.NewFromInt(1),
		MatchedRules: []string{},
	}
	if !amount.IsPositive() || amount.LessThan(cfg.MinimumSpend) {
		res.BelowMinimum = amount.IsPositive()
		return res
	}

	res.Amount = RoundAmount(amount, cfg.RoundingRule)
	res.TierIndex, res.Rate = selectRate(cfg, res.Amount)
	base := res.Amount.Mul(res.Rate)

	multipliers, names := matchingRules(cfg, res.Amount, at.In(cfg.Location()))
	res.MatchedRules = names
	res.Multiplier = Combine(cfg.CombinationMode, multipliers)

	raw := base.Mul(res.Multiplier)
	if cfg.RoundPointsUp {
		raw = raw.Ceil()
	} else {
		raw = raw.Floor()
	}
	res.Points = raw.IntPart()
	if res.Points < 0 {
		res.Points = 0
	}
	if cfg.MaxPointsPerTransaction != nil && res.Points > *cfg.MaxPointsPerTransaction {
		res.Points = *cfg.MaxPointsPerTransaction
		res.Capped = true
	}
	return res
}

// RoundAmount rounds a currency amount half-up to the rule's granularity.
func RoundAmount(amount decimal.Decimal, rule RoundingRule) decimal.Decimal {
	g := rule.Granularity()
	return amount.Div(g).Round(0).Mul(g)
}

// selectRate picks the first tier containing amount. With no tiers, or an
// amount no tier covers, the base rate applies.
func selectRate(cfg Config, amount decimal.Decimal) (int, decimal.Decimal) {
	for i, t := range cfg.Tiers {
		if t.Contains(amount) {
			return i, t.PointsPerUnit
		}
	}
	return -1, cfg.BasePointsPerUnit
}

func matchingRules(cfg Config, amount decimal.Decimal, local time.Time) ([]decimal.Decimal, []string) {
	day := local.Format(dateLayout)
	weekday := strings.ToUpper(local.Weekday().String())

	isBankHoliday := slices.Contains(cfg.BankHolidays, day)
	hasHolidayRule := false
	names := []string{}
	var multipliers []decimal.Decimal
	for _, r := range cfg.BonusRules {
		var ok bool
		switch r.Type {
		case BonusDayOfWeek:
			ok = slices.Contains(r.Days, weekday)
		case BonusDateRange:
			ok = r.StartDate <= day && day <= r.EndDate
		case BonusMinimumSpend:
			ok = r.MinAmount != nil && amount.GreaterThanOrEqual(*r.MinAmount)
		case BonusBankHoliday:
			hasHolidayRule = true
			ok = isBankHoliday
		}
		if ok {
			multipliers = append(multipliers, r.Multiplier)
			names = append(names, r.Label())
		}
	}

	// bankHolidayBonus is shorthand for a BANK_HOLIDAY rule.
	if !hasHolidayRule && isBankHoliday && cfg.BankHolidayBonus.IsPositive() {
		multipliers = append(multipliers, cfg.BankHolidayBonus)
		names = append(names, string(BonusBankHoliday))
	}
	return multipliers, names
}

// Combine folds matching multipliers per mode. No multipliers gives 1.
func Combine(mode CombinationMode, multipliers []decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if len(multipliers) == 0 {
		return one
	}
	switch mode {
	case CombineAdditive:
		sum := one
		for _, m := range multipliers {
			sum = sum.Add(m.Sub(one))
		}
		return sum
	case CombineHighestOnly:
		return decimal.Max(multipliers[0], multipliers[1:]...)
	default:
		product := one
		for _, m := range multipliers {
			product = product.Mul(m)
		}
		return product
	}
}
